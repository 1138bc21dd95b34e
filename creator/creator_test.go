package creator

import (
	"math/big"
	"testing"
)

func TestSlugify(t *testing.T) {
	cases := []struct {
		name string
		want string
	}{
		{"Alice Chen", "alice-chen"},
		{"  Bob   Johnson ", "bob-johnson"},
		{"D.J. Spin!", "dj-spin"},
		{"already-a-slug", "already-a-slug"},
		{"MiXeD CaSe", "mixed-case"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := Slugify(tc.name); got != tc.want {
			t.Fatalf("Slugify(%q) = %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestValidSlug(t *testing.T) {
	valid := []string{"alice-chen", "bob", "a1-b2"}
	for _, s := range valid {
		if !ValidSlug(s) {
			t.Fatalf("expected %q to be valid", s)
		}
	}
	invalid := []string{"", "Alice", "a b", "a_b", "café"}
	for _, s := range invalid {
		if ValidSlug(s) {
			t.Fatalf("expected %q to be invalid", s)
		}
	}
}

func TestHumanAmount(t *testing.T) {
	if got := HumanAmount(big.NewInt(1_000_000)); got != 1.0 {
		t.Fatalf("1_000_000 base units = %v, want 1.0", got)
	}
	if got := HumanAmount(big.NewInt(2_500_000)); got != 2.5 {
		t.Fatalf("2_500_000 base units = %v, want 2.5", got)
	}
	if got := HumanAmount(nil); got != 0 {
		t.Fatalf("nil amount = %v, want 0", got)
	}
}

func TestAmountRoundTrip(t *testing.T) {
	// Integer multiples of one whole unit round-trip exactly.
	for _, units := range []int64{0, 1, 7, 1000, 123456} {
		raw := new(big.Int).Mul(big.NewInt(units), big.NewInt(1_000_000))
		human := HumanAmount(raw)
		back := BaseAmount(human)
		if back.Cmp(raw) != 0 {
			t.Fatalf("round trip of %d units: got %s, want %s", units, back, raw)
		}
	}
}
