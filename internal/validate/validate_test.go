package validate

import "testing"

func wantKind(t *testing.T, err error, kind Kind) {
	t.Helper()
	ve, ok := As(err)
	if !ok {
		t.Fatalf("expected *Error, got %v (%T)", err, err)
	}
	if ve.Kind != kind {
		t.Errorf("kind = %v, want %v", ve.Kind, kind)
	}
}

func TestNicknameValid(t *testing.T) {
	if err := Nickname("alice"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestNicknameEmpty(t *testing.T) {
	wantKind(t, Nickname(""), KindEmpty)
}

func TestNicknameTooLong(t *testing.T) {
	long := make([]byte, MaxNicknameLen+1)
	for i := range long {
		long[i] = 'a'
	}
	wantKind(t, Nickname(string(long)), KindTooLong)
}

func TestNicknameRejectsSpaces(t *testing.T) {
	wantKind(t, Nickname("al ice"), KindInvalidCharacters)
}

func TestChannelNameMustStartWithHash(t *testing.T) {
	wantKind(t, ChannelName("general"), KindInvalidFormat)
}

func TestChannelNameValid(t *testing.T) {
	if err := ChannelName("#general"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestChannelNameRejectsBadCharacters(t *testing.T) {
	wantKind(t, ChannelName("#gen eral"), KindInvalidCharacters)
}

func TestMessageRejectsNewlines(t *testing.T) {
	wantKind(t, Message("hello\nworld"), KindContainsNewlines)
}

func TestMessageEmpty(t *testing.T) {
	wantKind(t, Message(""), KindEmpty)
}

func TestTopicEmptyIsAllowed(t *testing.T) {
	if err := Topic(""); err != nil {
		t.Errorf("empty topic should be allowed (clears topic): %v", err)
	}
}

func TestTargetAddressAcceptsIPAndCIDR(t *testing.T) {
	if err := TargetAddress("192.168.1.1"); err != nil {
		t.Errorf("unexpected error for IP: %v", err)
	}
	if err := TargetAddress("192.168.1.0/24"); err != nil {
		t.Errorf("unexpected error for CIDR: %v", err)
	}
	wantKind(t, TargetAddress("not-an-address"), KindInvalidFormat)
}

func TestChannelListParsesAndValidates(t *testing.T) {
	names, err := ChannelList("#general #random")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(names) != 2 || names[0] != "#general" || names[1] != "#random" {
		t.Errorf("got %v", names)
	}
}

func TestChannelListRejectsInvalidEntry(t *testing.T) {
	if _, err := ChannelList("#general notachannel"); err == nil {
		t.Fatal("expected error for entry missing '#'")
	}
}
