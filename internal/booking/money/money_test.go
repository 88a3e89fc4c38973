package money

import (
	"encoding/json"
	"testing"
)

func TestParseAndString(t *testing.T) {
	cases := map[string]string{
		"50":     "50.00",
		"50.5":   "50.50",
		"50.05":  "50.05",
		".75":    "0.75",
		"-12.30": "-12.30",
	}
	for in, want := range cases {
		m, err := Parse(in)
		if err != nil {
			t.Fatalf("Parse(%q): %v", in, err)
		}
		if got := m.String(); got != want {
			t.Fatalf("Parse(%q).String() = %s, want %s", in, got, want)
		}
	}
	for _, bad := range []string{"", "abc", "1.234", "1."} {
		if _, err := Parse(bad); err == nil {
			t.Fatalf("Parse(%q): expected error", bad)
		}
	}
}

func TestJSON(t *testing.T) {
	var payload struct {
		A Money `json:"a"`
		B Money `json:"b"`
	}
	if err := json.Unmarshal([]byte(`{"a": 60, "b": "12.5"}`), &payload); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if payload.A != 6000 || payload.B != 1250 {
		t.Fatalf("unexpected amounts %d %d", payload.A, payload.B)
	}
	out, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(out) != `{"a":60.00,"b":12.50}` {
		t.Fatalf("unexpected json %s", out)
	}
}
