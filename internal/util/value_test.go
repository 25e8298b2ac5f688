package util

import "testing"

func TestParseAmount(t *testing.T) {
	cases := []struct {
		in   string
		want float64
		ok   bool
	}{
		{"1250", 1250, true},
		{"1,250.00", 1250, true},
		{"1.250.000", 1250000, true},
		{"1250,5", 1250.5, true},
		{"$5,000", 5000, true},
		{"€ 1 250", 1250, true},
		{"(1,250.00)", -1250, true},
		{"-300", -300, true},
		{"abc", 0, false},
		{"12-34", 0, false},
		{"", 0, false},
	}
	for _, c := range cases {
		got, ok := ParseAmount(c.in)
		if ok != c.ok || (ok && got != c.want) {
			t.Errorf("ParseAmount(%q) = %v, %v; want %v, %v", c.in, got, ok, c.want, c.ok)
		}
	}
}

func TestSanitizeValue(t *testing.T) {
	if v := SanitizeValue("  "); !v.Empty() {
		t.Fatalf("blank should be empty: %+v", v)
	}
	for _, in := range []string{"null", "N/A", "-", "—"} {
		if v := SanitizeValue(in); !v.Empty() {
			t.Errorf("SanitizeValue(%q) should be empty", in)
		}
	}
	if v := SanitizeValue("yes"); v.Bool == nil || !*v.Bool {
		t.Fatalf("yes should be true: %+v", v)
	}
	if v := SanitizeValue("False"); v.Bool == nil || *v.Bool {
		t.Fatalf("False should be false: %+v", v)
	}
	if v := SanitizeValue("(2,500)"); v.Number == nil || *v.Number != -2500 {
		t.Fatalf("(2,500) should be -2500: %+v", v)
	}
	if v := SanitizeValue("audited"); v.Text == nil || *v.Text != "audited" {
		t.Fatalf("text should stay text: %+v", v)
	}
}

func TestNormalizeLabel(t *testing.T) {
	if got := NormalizeLabel("  Cash, & “Cash Equivalents”!  "); got != "CASH & CASH EQUIVALENTS" {
		t.Fatalf("got %q", got)
	}
}

func TestDiceCoefficient(t *testing.T) {
	if DiceCoefficient("TOTAL ASSETS", "TOTAL ASSETS") != 1 {
		t.Fatal("identical strings should score 1")
	}
	if DiceCoefficient("", "TOTAL") != 0 {
		t.Fatal("empty string should score 0")
	}
	sim := DiceCoefficient("TOTAL ASSETS", "TOTAL ASSET")
	if sim < 0.8 || sim >= 1 {
		t.Fatalf("near-identical strings should score high, got %v", sim)
	}
}
