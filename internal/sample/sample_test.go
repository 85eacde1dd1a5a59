// SPDX-License-Identifier: MIT

package sample

import "testing"

func TestPTSValid(t *testing.T) {
	cases := []struct {
		p    PTS
		want bool
	}{
		{PTS{1, 30}, true},
		{PTS{0, 30}, false},
		{PTS{1, 0}, false},
		{PTS{-1, 30}, false},
		{PTS{1, -30}, false},
	}
	for _, tc := range cases {
		if got := tc.p.Valid(); got != tc.want {
			t.Errorf("PTS%v.Valid() = %v, want %v", tc.p, got, tc.want)
		}
	}
}

func TestGreater(t *testing.T) {
	cases := []struct {
		a, b PTS
		want bool
	}{
		{PTS{2, 30}, PTS{1, 30}, true},
		{PTS{1, 30}, PTS{1, 30}, false},
		{PTS{1, 30}, PTS{2, 30}, false},
		// Equal PTS values are not "greater": the second sample is dropped as a duplicate.
		{PTS{1, 60}, PTS{1, 60}, false},
		// Cross-timescale comparison.
		{PTS{1, 30}, PTS{1, 60}, true}, // 1/30 > 1/60
		{PTS{1, 60}, PTS{1, 30}, false},
	}
	for _, tc := range cases {
		if got := Greater(tc.a, tc.b); got != tc.want {
			t.Errorf("Greater(%v, %v) = %v, want %v", tc.a, tc.b, got, tc.want)
		}
	}
}

func TestEvenDim(t *testing.T) {
	cases := map[int]int{
		1920: 1920,
		1921: 1922,
		1080: 1080,
		1081: 1082,
		0:    0,
	}
	for in, want := range cases {
		if got := EvenDim(in); got != want {
			t.Errorf("EvenDim(%d) = %d, want %d", in, got, want)
		}
	}
}
