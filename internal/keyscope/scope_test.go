package keyscope

import "testing"

func TestParseRoundTrip(t *testing.T) {
	for _, s := range []Scope{Channel("42"), Channel("general:eu"), Community(), Team()} {
		got, err := Parse(s.String())
		if err != nil {
			t.Fatalf("Parse(%q): %v", s.String(), err)
		}
		if got != s {
			t.Fatalf("Parse(%q) = %+v, want %+v", s.String(), got, s)
		}
	}
}

func TestParseRejects(t *testing.T) {
	for _, raw := range []string{"", "channel:", "chan:1", "team:1"} {
		if _, err := Parse(raw); err == nil {
			t.Fatalf("Parse(%q) succeeded", raw)
		}
	}
}

func TestVersioned(t *testing.T) {
	if !Channel("1").Versioned() || Community().Versioned() || Team().Versioned() {
		t.Fatalf("only channel scopes are versioned")
	}
}
