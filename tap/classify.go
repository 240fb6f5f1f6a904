package tap

import (
	"sort"

	"github.com/unixpickle/dist-spmv/spmat"
	"github.com/unixpickle/dist-spmv/topology"
)

// A columnSplit divides the off-process columns by
// whether their owner shares the current host.
//
// Each entry keeps its position in the off-process
// vector so that later stages can write into it.
type columnSplit struct {
	// On-host columns, stably sorted by the owner's local
	// rank.
	onHostCols  []int
	onHostOwner []int
	onHostPos   []int

	// Off-host columns, in their original order.
	offHostCols []int
	offHostHost []int
	offHostPos  []int
}

func classifyColumns(m topology.Mapper, rank int, cols spmat.Columns) *columnSplit {
	res := &columnSplit{}
	myHost := m.HostOf(rank)
	for i, col := range cols.OffProc {
		owner := cols.Owners[i]
		if host := m.HostOf(owner); host == myHost {
			res.onHostCols = append(res.onHostCols, col)
			res.onHostOwner = append(res.onHostOwner, m.LocalRankOf(owner))
			res.onHostPos = append(res.onHostPos, i)
		} else {
			res.offHostCols = append(res.offHostCols, col)
			res.offHostHost = append(res.offHostHost, host)
			res.offHostPos = append(res.offHostPos, i)
		}
	}

	perm := make([]int, len(res.onHostCols))
	for i := range perm {
		perm[i] = i
	}
	sort.SliceStable(perm, func(i, j int) bool {
		return res.onHostOwner[perm[i]] < res.onHostOwner[perm[j]]
	})
	res.onHostCols = permute(res.onHostCols, perm)
	res.onHostOwner = permute(res.onHostOwner, perm)
	res.onHostPos = permute(res.onHostPos, perm)

	return res
}

// hostVolumes counts the off-host columns needed from
// every host.
func (c *columnSplit) hostVolumes(numHosts int) []int {
	res := make([]int, numHosts)
	for _, host := range c.offHostHost {
		res[host]++
	}
	return res
}

func permute(values, perm []int) []int {
	res := make([]int, len(perm))
	for i, p := range perm {
		res[i] = values[p]
	}
	return res
}
