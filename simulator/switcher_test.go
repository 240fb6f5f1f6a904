package simulator

import (
	"math"
	"testing"
)

func TestGreedyDropSwitcher(t *testing.T) {
	type link struct {
		src, dst int
		rate     float64
	}
	cases := []struct {
		name     string
		switcher *GreedyDropSwitcher
		links    []link
	}{
		{
			name:     "Incast",
			switcher: NewGreedyDropSwitcher(4, 2.0),
			links: []link{
				{1, 0, 2.0 / 3.0},
				{2, 0, 2.0 / 3.0},
				{3, 0, 2.0 / 3.0},
			},
		},
		{
			name:     "SharedDownload",
			switcher: NewGreedyDropSwitcher(3, 2.0),
			links: []link{
				{0, 1, 1.0},
				{0, 2, 2.0 / 3.0},
				{1, 2, 4.0 / 3.0},
			},
		},
		{
			name: "AsymmetricNICs",
			switcher: &GreedyDropSwitcher{
				UploadRates:   []float64{1.0, 4.0},
				DownloadRates: []float64{3.0, 1.0},
			},
			links: []link{
				{0, 1, 1.0},
				{1, 0, 3.0},
			},
		},
		{
			name:     "Loopback",
			switcher: NewGreedyDropSwitcher(2, 5.0),
			links: []link{
				{0, 0, 2.5},
				{0, 1, 2.5},
			},
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			mat := NewConnMat(c.switcher.NumEndpoints())
			for _, l := range c.links {
				mat.Set(l.src, l.dst, 1)
			}
			c.switcher.SwitchedRates(mat)
			for _, l := range c.links {
				if actual := mat.Get(l.src, l.dst); math.Abs(actual-l.rate) > 1e-8 {
					t.Errorf("link %d->%d: expected rate %f but got %f", l.src, l.dst,
						l.rate, actual)
				}
			}
			var total float64
			for src := 0; src < mat.NumEndpoints(); src++ {
				total += mat.SumSource(src)
			}
			var expected float64
			for _, l := range c.links {
				expected += l.rate
			}
			if math.Abs(total-expected) > 1e-8 {
				t.Errorf("idle links carry data: total %f, expected %f", total, expected)
			}
		})
	}
}

func TestGreedyDropSwitcherSize(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic for mismatched matrix")
		}
	}()
	NewGreedyDropSwitcher(3, 1.0).SwitchedRates(NewConnMat(2))
}
