package tap

import (
	"fmt"
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFanOuts(t *testing.T) {
	cfg := DefaultConfig(4)
	smallIdeal := cfg
	smallIdeal.IdealFanOut = 1

	cases := []struct {
		cfg      Config
		volumes  []int
		expected []int
	}{
		// Too many hosts for short messages to be split.
		{cfg, []int{40000, 16000, 9000, 600, 100}, []int{4, 2, 1, 1, 1}},
		{cfg, []int{2000, 1200, 100}, []int{4, 2, 1}},
		{cfg, []int{100, 50}, []int{1, 1}},
		{cfg, nil, []int{}},
		{smallIdeal, []int{9000, 3000}, []int{1, 1}},
	}
	for i, c := range cases {
		t.Run(fmt.Sprintf("Case%d", i), func(t *testing.T) {
			assert.Equal(t, c.expected, fanOuts(c.cfg, c.volumes))
		})
	}
}

func TestFanOutsMonotonic(t *testing.T) {
	gen := rand.New(rand.NewSource(1337))
	for trial := 0; trial < 200; trial++ {
		cfg := DefaultConfig(1 + gen.Intn(16))
		cfg.ShortThreshold = 1 + gen.Intn(1000)
		cfg.EagerThreshold = cfg.ShortThreshold + gen.Intn(10000)
		cfg.IdealFanOut = 1 + gen.Intn(8)

		volumes := make([]int, gen.Intn(10))
		for i := range volumes {
			volumes[i] = gen.Intn(100000)
		}
		sort.Sort(sort.Reverse(sort.IntSlice(volumes)))

		res := fanOuts(cfg, volumes)
		for i, n := range res {
			if !assert.True(t, n >= 1 && n <= cfg.PPN, "fan-out %d with PPN %d", n, cfg.PPN) {
				return
			}
			if i > 0 && !assert.LessOrEqual(t, n, res[i-1], "volumes %v gave %v", volumes, res) {
				return
			}
		}
	}
}
