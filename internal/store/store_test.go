package store

import "testing"

func TestNormalizePairUsesByteOrder(t *testing.T) {
	cases := []struct {
		a, b         string
		wantA, wantB string
	}{
		{"a", "B", "B", "a"},
		{"p1", "p-10", "p-10", "p1"},
		{"p2", "p10", "p10", "p2"},
		{"x", "x", "x", "x"},
	}
	for _, tc := range cases {
		gotA, gotB := NormalizePair(tc.a, tc.b)
		if gotA != tc.wantA || gotB != tc.wantB {
			t.Fatalf("NormalizePair(%q, %q) = (%q, %q), want (%q, %q)", tc.a, tc.b, gotA, gotB, tc.wantA, tc.wantB)
		}
		gotA, gotB = NormalizePair(tc.b, tc.a)
		if gotA != tc.wantA || gotB != tc.wantB {
			t.Fatalf("NormalizePair(%q, %q) = (%q, %q), want (%q, %q)", tc.b, tc.a, gotA, gotB, tc.wantA, tc.wantB)
		}
	}
}
