package identity

import (
	"strings"
	"testing"
)

func TestResolveDeterministic(t *testing.T) {
	a := Resolve("alice", "https://mail.example.com")
	b := Resolve("alice", "https://mail.example.com")
	if a == None {
		t.Fatal("Resolve returned None for valid inputs")
	}
	if a != b {
		t.Errorf("Resolve not deterministic: %q vs %q", a, b)
	}
}

func TestResolveDistinguishesUsers(t *testing.T) {
	alice := Resolve("alice", "https://mail.example.com")
	bob := Resolve("bob", "https://mail.example.com")
	if alice == bob {
		t.Errorf("different usernames resolved to the same id %q", alice)
	}

	aliceElsewhere := Resolve("alice", "https://mail.other.org")
	if alice == aliceElsewhere {
		t.Errorf("different hosts resolved to the same id %q", alice)
	}
}

func TestResolveNormalizesOrigin(t *testing.T) {
	cases := []struct {
		name   string
		origin string
	}{
		{"scheme and path", "https://mail.example.com/jmap/session"},
		{"explicit port", "https://mail.example.com:8443"},
		{"bare host", "mail.example.com"},
		{"uppercase host", "https://MAIL.EXAMPLE.COM"},
	}
	want := Resolve("alice", "https://mail.example.com")
	for _, tc := range cases {
		if got := Resolve("alice", tc.origin); got != want {
			t.Errorf("%s: Resolve(alice, %q) = %q, want %q", tc.name, tc.origin, got, want)
		}
	}
}

func TestResolveReturnsNone(t *testing.T) {
	cases := []struct {
		name     string
		username string
		origin   string
	}{
		{"empty username", "", "https://mail.example.com"},
		{"empty origin", "alice", ""},
		{"whitespace origin", "alice", "   "},
		{"unparseable origin", "alice", "https://bad host\x00"},
	}
	for _, tc := range cases {
		if got := Resolve(tc.username, tc.origin); got != None {
			t.Errorf("%s: Resolve(%q, %q) = %q, want None", tc.name, tc.username, tc.origin, got)
		}
	}
}

func TestResolvedIDsAreValid(t *testing.T) {
	id := Resolve("alice+folders", "https://mail.example.com")
	if !Valid(id) {
		t.Errorf("Resolve produced an invalid id %q", id)
	}
	if !strings.HasPrefix(id, tokenPrefix) {
		t.Errorf("id %q missing prefix %q", id, tokenPrefix)
	}
}

func TestValid(t *testing.T) {
	cases := []struct {
		id   string
		want bool
	}{
		{"user_0a1b2c3d", true},
		{"user-legacy-01", true},
		{"ABC123", true},
		{"", false},
		{"user 1", false},
		{"user/../../etc", false},
		{"user\x00", false},
		{strings.Repeat("a", MaxLength), true},
		{strings.Repeat("a", MaxLength+1), false},
	}
	for _, tc := range cases {
		if got := Valid(tc.id); got != tc.want {
			t.Errorf("Valid(%q) = %v, want %v", tc.id, got, tc.want)
		}
	}
}
