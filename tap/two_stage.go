package tap

import (
	"github.com/unixpickle/dist-spmv/collcomm"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// buildTwoStage builds a package without L and S stages.
//
// Every off-process column is fetched by the process on
// the current host whose local rank matches the owner's.
// That process receives it straight from the owner in the
// G stage and hands it on in the R stage.
func (b *builder) buildTwoStage() (g, r *stage) {
	ppn := b.mapper.PPN()
	r = newStage("R", b.host, tagRValues)

	byLocal := make([][]int, ppn)
	for i, owner := range b.cols.Owners {
		local := b.mapper.LocalRankOf(owner)
		byLocal[local] = append(byLocal[local], i)
	}
	indicators := make([]int, ppn)
	for local, positions := range byLocal {
		if len(positions) == 0 {
			continue
		}
		msg := make([]int, 2*len(positions))
		for j, pos := range positions {
			msg[j] = b.cols.OffProc[pos]
			msg[len(positions)+j] = b.cols.Owners[pos]
		}
		r.recv.Add(local, len(positions), positions)
		b.host.Isend(local, tagRRequest, msg)
		indicators[local] = 1
	}

	var owners []int
	for _, req := range receiveRequests(b.host, tagRRequest, b.numSenders(indicators)) {
		n := len(req.values) / 2
		r.send.Add(req.source, n, req.values[:n])
		owners = append(owners, req.values[n:]...)
	}
	r.finalize()
	r.scatter = r.recv.Indices()

	g = newStage("G", b.comm, tagGValues)
	byOwner := map[int][]int{}
	for i, col := range r.send.Indices() {
		byOwner[owners[i]] = append(byOwner[owners[i]], col)
	}
	dests := maps.Keys(byOwner)
	slices.Sort(dests)
	payloads := make([][]int, len(dests))
	for i, owner := range dests {
		needed := byOwner[owner]
		slices.Sort(needed)
		needed = slices.Compact(needed)
		g.recv.Add(owner, len(needed), needed)
		payloads[i] = needed
	}
	sources, requested := collcomm.ExchangeSparse(b.comm, tagGRequest, dests, payloads)
	for i, source := range sources {
		g.send.Add(source, len(requested[i]), b.localPositions(requested[i]))
	}
	g.finalize()

	rewriteIndices(nil, g, r)
	return g, r
}
