// Package iprule implements the pre-TLS IP admission cache: two rule
// sets (bans, trusts) each holding IPv4 and IPv6 network entries with
// optional expiry, where a matching trust always overrides a matching
// ban.
package iprule

import (
	"net/netip"
	"sort"
	"sync"
	"time"
)

// entry is one cached ban or trust record.
type entry struct {
	raw       string // exact string as supplied, used for exact-match remove
	prefix    netip.Prefix
	expiresAt *int64 // unix seconds, nil means permanent
}

// Cache holds the current set of ban and trust rules and answers
// Allow(ip) in O(n) over the currently active rule count. Rebuild is
// lazy: expired entries are dropped the next time Allow notices the
// next known expiry has passed; mutators only recompute that expiry.
type Cache struct {
	mu sync.Mutex

	bans   []entry
	trusts []entry

	nextBanExpiry   *int64
	nextTrustExpiry *int64

	now func() int64 // overridable for tests
}

// New returns an empty cache.
func New() *Cache {
	return &Cache{now: defaultNow}
}

func defaultNow() int64 { return time.Now().Unix() }

// ParseIPOrCIDR parses s as a bare IP (normalized to a /32 or /128) or
// as CIDR notation.
func ParseIPOrCIDR(s string) (netip.Prefix, bool) {
	if p, err := netip.ParsePrefix(s); err == nil {
		return p, true
	}
	if addr, err := netip.ParseAddr(s); err == nil {
		bits := 32
		if addr.Is6() && !addr.Is4In6() {
			bits = 128
		}
		return netip.PrefixFrom(addr.Unmap(), bits), true
	}
	return netip.Prefix{}, false
}

// normalize unmaps an IPv4-mapped IPv6 address (::ffff:a.b.c.d) to its
// plain IPv4 form so a ban/trust on the IPv4 address also matches
// connections the OS presents as IPv4-in-IPv6.
func normalize(addr netip.Addr) netip.Addr {
	if addr.Is4In6() {
		return addr.Unmap()
	}
	return addr
}

// AddBan inserts or replaces (by exact raw string match) a ban entry.
// Returns false if ipOrCIDR does not parse.
func (c *Cache) AddBan(ipOrCIDR string, expiresAt *int64) bool {
	prefix, ok := ParseIPOrCIDR(ipOrCIDR)
	if !ok {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bans = upsert(c.bans, entry{raw: ipOrCIDR, prefix: prefix, expiresAt: expiresAt})
	c.recomputeBanExpiry()
	return true
}

// AddTrust inserts or replaces a trust entry.
func (c *Cache) AddTrust(ipOrCIDR string, expiresAt *int64) bool {
	prefix, ok := ParseIPOrCIDR(ipOrCIDR)
	if !ok {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.trusts = upsert(c.trusts, entry{raw: ipOrCIDR, prefix: prefix, expiresAt: expiresAt})
	c.recomputeTrustExpiry()
	return true
}

func upsert(entries []entry, e entry) []entry {
	out := entries[:0:0]
	for _, existing := range entries {
		if existing.raw != e.raw {
			out = append(out, existing)
		}
	}
	return append(out, e)
}

// RemoveBan removes the ban entry matching ipOrCIDR exactly, reporting
// whether an entry was removed.
func (c *Cache) RemoveBan(ipOrCIDR string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	before := len(c.bans)
	c.bans = removeExact(c.bans, ipOrCIDR)
	removed := len(c.bans) < before
	if removed {
		c.recomputeBanExpiry()
	}
	return removed
}

// RemoveTrust removes the trust entry matching ipOrCIDR exactly.
func (c *Cache) RemoveTrust(ipOrCIDR string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	before := len(c.trusts)
	c.trusts = removeExact(c.trusts, ipOrCIDR)
	removed := len(c.trusts) < before
	if removed {
		c.recomputeTrustExpiry()
	}
	return removed
}

func removeExact(entries []entry, raw string) []entry {
	out := entries[:0:0]
	for _, e := range entries {
		if e.raw != raw {
			out = append(out, e)
		}
	}
	return out
}

// RemoveBansContainedBy removes every ban entry whose network falls
// entirely within cidr, returning the raw strings removed. Used when
// unbanning a CIDR range to sweep up narrower bans nested inside it.
func (c *Cache) RemoveBansContainedBy(cidr string) []string {
	rangeNet, ok := ParseIPOrCIDR(cidr)
	if !ok {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	var removed []string
	kept := c.bans[:0:0]
	for _, e := range c.bans {
		if e.prefix.Addr().Is4() == rangeNet.Addr().Is4() &&
			rangeNet.Bits() <= e.prefix.Bits() &&
			rangeNet.Contains(e.prefix.Addr()) {
			removed = append(removed, e.raw)
			continue
		}
		kept = append(kept, e)
	}
	if len(removed) > 0 {
		c.bans = kept
		c.recomputeBanExpiry()
	}
	return removed
}

// Allow reports whether addr should be admitted: a non-expired trust
// match always wins, otherwise a non-expired ban match denies.
func (c *Cache) Allow(addr netip.Addr) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.expireIfDue(now)

	addr = normalize(addr)

	if matches(c.trusts, addr) {
		return true
	}
	return !matches(c.bans, addr)
}

func matches(entries []entry, addr netip.Addr) bool {
	for _, e := range entries {
		if e.prefix.Contains(addr) {
			return true
		}
	}
	return false
}

func (c *Cache) expireIfDue(now int64) {
	if c.nextBanExpiry != nil && now >= *c.nextBanExpiry {
		c.bans = dropExpired(c.bans, now)
		c.recomputeBanExpiry()
	}
	if c.nextTrustExpiry != nil && now >= *c.nextTrustExpiry {
		c.trusts = dropExpired(c.trusts, now)
		c.recomputeTrustExpiry()
	}
}

func dropExpired(entries []entry, now int64) []entry {
	out := entries[:0:0]
	for _, e := range entries {
		if e.expiresAt == nil || *e.expiresAt > now {
			out = append(out, e)
		}
	}
	return out
}

func (c *Cache) recomputeBanExpiry() {
	c.nextBanExpiry = earliestExpiry(c.bans)
}

func (c *Cache) recomputeTrustExpiry() {
	c.nextTrustExpiry = earliestExpiry(c.trusts)
}

func earliestExpiry(entries []entry) *int64 {
	var earliest *int64
	for _, e := range entries {
		if e.expiresAt == nil {
			continue
		}
		if earliest == nil || *e.expiresAt < *earliest {
			v := *e.expiresAt
			earliest = &v
		}
	}
	return earliest
}

// BanCount reports the number of ban entries currently held, for admin
// status reporting and tests. Expired entries stay counted until the
// next Allow call sweeps them.
func (c *Cache) BanCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.bans)
}

// TrustCount reports the number of active trust entries.
func (c *Cache) TrustCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.trusts)
}

// ListBans returns the raw ban strings in stable sorted order, for CLI
// and admin API listing.
func (c *Cache) ListBans() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return listRaw(c.bans)
}

// ListTrusts returns the raw trust strings in stable sorted order.
func (c *Cache) ListTrusts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return listRaw(c.trusts)
}

func listRaw(entries []entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.raw
	}
	sort.Strings(out)
	return out
}
