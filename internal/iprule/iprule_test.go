package iprule

import (
	"net/netip"
	"testing"
)

func mustAddr(t *testing.T, s string) netip.Addr {
	t.Helper()
	a, err := netip.ParseAddr(s)
	if err != nil {
		t.Fatalf("ParseAddr(%q): %v", s, err)
	}
	return a
}

func i64(v int64) *int64 { return &v }

func TestParseIPOrCIDR(t *testing.T) {
	if p, ok := ParseIPOrCIDR("192.168.1.100"); !ok || p.String() != "192.168.1.100/32" {
		t.Errorf("single ipv4: got %v, %v", p, ok)
	}
	if p, ok := ParseIPOrCIDR("2001:db8::1"); !ok || p.String() != "2001:db8::1/128" {
		t.Errorf("single ipv6: got %v, %v", p, ok)
	}
	if p, ok := ParseIPOrCIDR("192.168.1.0/24"); !ok || p.String() != "192.168.1.0/24" {
		t.Errorf("cidr v4: got %v, %v", p, ok)
	}
	if _, ok := ParseIPOrCIDR("not-an-ip"); ok {
		t.Error("expected failure for garbage input")
	}
	if _, ok := ParseIPOrCIDR(""); ok {
		t.Error("expected failure for empty input")
	}
}

func TestCacheEmptyAllowsEverything(t *testing.T) {
	c := New()
	if !c.Allow(mustAddr(t, "192.168.1.100")) {
		t.Error("empty cache should allow all")
	}
	if !c.Allow(mustAddr(t, "2001:db8::1")) {
		t.Error("empty cache should allow all (v6)")
	}
}

func TestAddBanSingleIP(t *testing.T) {
	c := New()
	if !c.AddBan("192.168.1.100", nil) {
		t.Fatal("AddBan failed to parse valid IP")
	}
	if c.Allow(mustAddr(t, "192.168.1.100")) {
		t.Error("banned IP should not be allowed")
	}
	if !c.Allow(mustAddr(t, "192.168.1.101")) {
		t.Error("unrelated IP should be allowed")
	}
}

func TestAddBanCIDR(t *testing.T) {
	c := New()
	c.AddBan("192.168.1.0/24", nil)
	for _, ip := range []string{"192.168.1.0", "192.168.1.100", "192.168.1.255"} {
		if c.Allow(mustAddr(t, ip)) {
			t.Errorf("%s should be banned", ip)
		}
	}
	if !c.Allow(mustAddr(t, "192.168.2.1")) {
		t.Error("192.168.2.1 should be allowed")
	}
}

func TestTrustOverridesBan(t *testing.T) {
	c := New()
	c.AddBan("192.168.1.0/24", nil)
	c.AddTrust("192.168.1.100", nil)

	if c.Allow(mustAddr(t, "192.168.1.50")) {
		t.Error("192.168.1.50 should still be banned")
	}
	if !c.Allow(mustAddr(t, "192.168.1.100")) {
		t.Error("trusted IP should override the containing ban")
	}
}

func TestRemoveBan(t *testing.T) {
	c := New()
	c.AddBan("192.168.1.100", nil)
	c.AddBan("192.168.1.101", nil)

	if !c.RemoveBan("192.168.1.100") {
		t.Fatal("expected removal to succeed")
	}
	if !c.Allow(mustAddr(t, "192.168.1.100")) {
		t.Error("removed ban should no longer apply")
	}
	if c.Allow(mustAddr(t, "192.168.1.101")) {
		t.Error("remaining ban should still apply")
	}
	if c.RemoveBan("192.168.1.100") {
		t.Error("removing a non-existent entry should return false")
	}
}

func TestRemoveBansContainedBy(t *testing.T) {
	c := New()
	c.AddBan("192.168.1.100", nil)
	c.AddBan("192.168.1.101", nil)
	c.AddBan("192.168.1.0/25", nil)
	c.AddBan("192.168.2.50", nil)

	removed := c.RemoveBansContainedBy("192.168.1.0/24")
	if len(removed) != 3 {
		t.Fatalf("expected 3 removed, got %d: %v", len(removed), removed)
	}
	if c.Allow(mustAddr(t, "192.168.2.50")) {
		t.Error("192.168.2.50 should still be banned")
	}
	if !c.Allow(mustAddr(t, "192.168.1.100")) {
		t.Error("192.168.1.100 should no longer be banned")
	}
}

func TestExpiry(t *testing.T) {
	c := New()
	now := int64(1_700_000_000)
	c.now = func() int64 { return now }

	c.AddBan("192.168.1.100", nil)
	c.AddBan("192.168.1.101", i64(now+3600))
	c.AddBan("192.168.1.102", i64(now-1))

	if c.Allow(mustAddr(t, "192.168.1.101")) {
		t.Error("future-expiring ban should still be active")
	}
	if !c.Allow(mustAddr(t, "192.168.1.102")) {
		t.Error("already-expired ban should not be active")
	}
	if c.BanCount() != 2 {
		t.Errorf("ban count = %d, want 2", c.BanCount())
	}
}

func TestIPv4MappedIPv6Normalization(t *testing.T) {
	c := New()
	c.AddBan("192.168.1.100", nil)
	if c.Allow(mustAddr(t, "::ffff:192.168.1.100")) {
		t.Error("IPv4-mapped IPv6 address should match the IPv4 ban")
	}
	if !c.Allow(mustAddr(t, "::ffff:192.168.2.100")) {
		t.Error("unrelated mapped address should be allowed")
	}
}

func TestUpsertReplacesExpiry(t *testing.T) {
	c := New()
	now := int64(1_700_000_000)
	c.now = func() int64 { return now }

	c.AddBan("192.168.1.100", nil)
	if c.BanCount() != 1 {
		t.Fatalf("ban count = %d, want 1", c.BanCount())
	}
	c.AddBan("192.168.1.100", i64(now+3600))
	if c.BanCount() != 1 {
		t.Errorf("upsert should not duplicate entries, got count %d", c.BanCount())
	}
}
