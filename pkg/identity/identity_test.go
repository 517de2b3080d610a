package identity

import "testing"

func TestMatchAllowedNumericID(t *testing.T) {
	s := Sender{PlatformID: "123456"}
	if !MatchAllowed(s, "123456") {
		t.Fatal("expected numeric ID match")
	}
	if MatchAllowed(s, "654321") {
		t.Fatal("unexpected match for different ID")
	}
}

func TestMatchAllowedHandle(t *testing.T) {
	s := Sender{Handle: "alice"}
	if !MatchAllowed(s, "@alice") {
		t.Fatal("expected handle match with @ prefix entry")
	}
	if !MatchAllowed(s, "alice") {
		t.Fatal("expected handle match without @ prefix entry")
	}
}

func TestMatchAllowedCompoundEntry(t *testing.T) {
	s := Sender{PlatformID: "999", Handle: "bob"}
	if !MatchAllowed(s, "999|bob") {
		t.Fatal("expected compound entry to match by ID")
	}
	s2 := Sender{Handle: "bob"}
	if !MatchAllowed(s2, "999|bob") {
		t.Fatal("expected compound entry to match by handle when ID unknown")
	}
}

func TestMatchAllowedEmptyEntry(t *testing.T) {
	if MatchAllowed(Sender{PlatformID: "1"}, "") {
		t.Fatal("empty entry must never match")
	}
}
