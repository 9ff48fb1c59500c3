package opcuaproto

import "testing"

func TestParseNodeIDRoundTrip(t *testing.T) {
	cases := []string{
		"ns=2;s=Temperature",
		"ns=0;i=2258",
		"ns=5;g=72962B91-FA75-4AE6-8D28-B404DC7DAF63",
		"ns=3;b=deadbeef",
	}
	for _, s := range cases {
		id, err := ParseNodeID(s)
		if err != nil {
			t.Fatalf("ParseNodeID(%q) error: %v", s, err)
		}
		if got := id.String(); got != s {
			t.Errorf("round trip mismatch: parsed %q, rendered %q", s, got)
		}
	}
}

func TestParseNodeIDDefaultsNamespace(t *testing.T) {
	id, err := ParseNodeID("i=2258")
	if err != nil {
		t.Fatalf("ParseNodeID error: %v", err)
	}
	if id.Namespace != 0 {
		t.Errorf("expected default namespace 0, got %d", id.Namespace)
	}
	if id.Numeric != 2258 {
		t.Errorf("expected numeric id 2258, got %d", id.Numeric)
	}
}

func TestParseNodeIDRejectsMalformed(t *testing.T) {
	cases := []string{"", "ns=2", "ns=x;s=a", "ns=2;q=a"}
	for _, s := range cases {
		if _, err := ParseNodeID(s); err == nil {
			t.Errorf("ParseNodeID(%q) expected error, got none", s)
		}
	}
}

func TestNodeIDEqual(t *testing.T) {
	a := NewStringNodeID(2, "Temperature")
	b, err := ParseNodeID("ns=2;s=Temperature")
	if err != nil {
		t.Fatal(err)
	}
	if !a.Equal(b) {
		t.Errorf("expected %v == %v", a, b)
	}
}
