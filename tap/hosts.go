package tap

import (
	"sort"

	"github.com/unixpickle/dist-spmv/collcomm"
	"github.com/unixpickle/essentials"
)

// A hostPlan lists the remote hosts that any process on
// the current host receives from, ordered by descending
// traffic, along with the number of local processes that
// receive from each host.
type hostPlan struct {
	hosts  []int
	fanOut []int

	// volumes is the number of bytes the current host
	// receives from each host.
	volumes []int
}

// discoverHosts finds the remote hosts the current host
// needs data from and balances them across the local
// processes.
func (b *builder) discoverHosts(split *columnSplit) hostPlan {
	numHosts := b.mapper.NumHosts()
	counts := split.hostVolumes(numHosts)

	bitmap := make([]uint64, (numHosts+63)/64)
	for host, count := range counts {
		if count > 0 {
			bitmap[host/64] |= 1 << uint(host%64)
		}
	}
	bitmap = b.bitmapReducer.Allreduce(b.host, bitmap, collcomm.BitOr[uint64])

	var hosts []int
	for host := 0; host < numHosts; host++ {
		if bitmap[host/64]&(1<<uint(host%64)) != 0 {
			hosts = append(hosts, host)
		}
	}

	volumes := make([]int, len(hosts))
	for i, host := range hosts {
		volumes[i] = counts[host] * b.cfg.ValueSize
	}
	if len(hosts) > 0 {
		volumes = b.countReducer.Allreduce(b.host, volumes, collcomm.Sum[int])
	}

	order := make([]int, len(hosts))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		return volumes[order[i]] > volumes[order[j]]
	})
	plan := hostPlan{
		hosts:   permute(hosts, order),
		volumes: permute(volumes, order),
	}
	plan.fanOut = fanOuts(b.cfg, plan.volumes)
	return plan
}

// fanOuts decides how many local processes receive from
// each host, given host volumes in descending order.
//
// Volumes above the eager threshold are split so that
// each piece avoids the rendezvous protocol.
// While the host talks to fewer hosts than it has
// processes, volumes above the short threshold are split
// as well.
// Once a host needs no splitting, neither do the smaller
// ones after it.
func fanOuts(cfg Config, volumes []int) []int {
	res := make([]int, len(volumes))
	for i := range res {
		res[i] = 1
	}
	limit := cfg.PPN
	for i, volume := range volumes {
		var n int
		if volume > cfg.EagerThreshold {
			n = essentials.MinInt(volume/cfg.EagerThreshold, cfg.IdealFanOut, cfg.PPN)
		} else if volume > cfg.ShortThreshold && len(volumes) < cfg.PPN {
			n = essentials.MinInt(volume/cfg.ShortThreshold, cfg.PPN)
		} else {
			break
		}
		n = essentials.MinInt(n, limit)
		res[i] = n
		limit = n
	}
	return res
}
