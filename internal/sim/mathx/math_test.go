package mathx

import (
	"math"
	"testing"
)

func TestFloorDiv(t *testing.T) {
	cases := []struct{ a, b, want int }{
		{0, 512, 0},
		{511, 512, 0},
		{512, 512, 1},
		{-1, 512, -1},
		{-512, 512, -1},
		{-513, 512, -2},
	}
	for _, c := range cases {
		if got := FloorDiv(c.a, c.b); got != c.want {
			t.Fatalf("FloorDiv(%d,%d): got %d want %d", c.a, c.b, got, c.want)
		}
	}
}

func TestBiLerp_Corners(t *testing.T) {
	if got := BiLerp(1, 0, 1, 0, 0.5, 0.5); got != 0.5 {
		t.Fatalf("midpoint: got %v want 0.5", got)
	}
	if got := BiLerp(1, 2, 3, 4, 0, 0); got != 1 {
		t.Fatalf("x0z0: got %v", got)
	}
	if got := BiLerp(1, 2, 3, 4, 1, 0); got != 2 {
		t.Fatalf("x1z0: got %v", got)
	}
	if got := BiLerp(1, 2, 3, 4, 0, 1); got != 3 {
		t.Fatalf("x0z1: got %v", got)
	}
	if got := BiLerp(1, 2, 3, 4, 1, 1); got != 4 {
		t.Fatalf("x1z1: got %v", got)
	}
}

func TestUnit_Range(t *testing.T) {
	for i := 0; i < 1000; i++ {
		u := Unit(Hash3(42, i, i*7, -i))
		if u < 0 || u >= 1 {
			t.Fatalf("unit out of range: %v", u)
		}
	}
	if Unit(math.MaxUint64) >= 1 {
		t.Fatalf("max hash must stay below 1")
	}
}

func TestHash3_Deterministic(t *testing.T) {
	if Hash3(7, 3, 0, 7) != Hash3(7, 3, 0, 7) {
		t.Fatalf("hash not deterministic")
	}
	if Hash3(7, 3, 0, 7) == Hash3(7, 3, 1, 7) {
		t.Fatalf("epoch must change the hash")
	}
}
