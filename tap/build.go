package tap

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/unixpickle/dist-spmv/collcomm"
	"github.com/unixpickle/dist-spmv/collcomm/allreduce"
	"github.com/unixpickle/dist-spmv/spmat"
	"github.com/unixpickle/dist-spmv/topology"
	"golang.org/x/exp/slices"
)

// A builder holds the state of one process while a
// Package is being discovered.
type builder struct {
	cfg    Config
	log    *slog.Logger
	mapper topology.Mapper
	cols   spmat.Columns

	// comm spans every process, and host spans the
	// processes on the current host, ordered by local rank.
	comm *collcomm.Comm
	host *collcomm.Comm

	rank      int
	myHost    int
	localRank int

	bitmapReducer allreduce.Allreducer[uint64]
	countReducer  allreduce.Allreducer[int]
}

// numSenders finds how many local processes flagged the
// current process in indicators.
func (b *builder) numSenders(indicators []int) int {
	return b.countReducer.Allreduce(b.host, indicators, collcomm.Sum[int])[b.localRank]
}

// localPositions converts owned global columns into
// indices of the local vector.
func (b *builder) localPositions(cols []int) []int {
	res := make([]int, len(cols))
	for i, col := range cols {
		res[i] = col - b.cols.FirstCol
		if res[i] < 0 || res[i] >= b.cols.LocalCols {
			panic(fmt.Sprintf("rank %d was asked for column %d, which it does not own", b.rank, col))
		}
	}
	return res
}

type request struct {
	source int
	values []int
}

// receiveRequests receives count messages from any source
// and orders them by source.
func receiveRequests(c *collcomm.Comm, tag, count int) []request {
	res := make([]request, count)
	for i := range res {
		vals, status := c.RecvInts(collcomm.AnySource, tag)
		res[i] = request{source: status.Source, values: vals}
	}
	sort.Slice(res, func(i, j int) bool {
		return res[i].source < res[j].source
	})
	return res
}

// buildR assigns every off-host column to the local
// process that receives it from the owning host.
//
// The columns for one host are dealt out to that host's
// fan-out slots in turn.
// It returns, for every entry of the send ledger, the host
// the column comes from.
func (b *builder) buildR(split *columnSplit, plan hostPlan) (r *stage, origHosts []int) {
	ppn := b.mapper.PPN()
	r = newStage("R", b.host, tagRValues)

	slotStart := map[int]int{}
	fanOut := map[int]int{}
	ctr := 0
	for i, host := range plan.hosts {
		slotStart[host] = ctr % ppn
		fanOut[host] = plan.fanOut[i]
		ctr += plan.fanOut[i]
	}

	nextSlot := map[int]int{}
	byLocal := make([][]int, ppn)
	for i, host := range split.offHostHost {
		local := (slotStart[host] + nextSlot[host]) % ppn
		nextSlot[host] = (nextSlot[host] + 1) % fanOut[host]
		byLocal[local] = append(byLocal[local], i)
	}

	indicators := make([]int, ppn)
	for local, entries := range byLocal {
		if len(entries) == 0 {
			continue
		}
		positions := make([]int, len(entries))
		msg := make([]int, 2*len(entries))
		for j, e := range entries {
			positions[j] = split.offHostPos[e]
			msg[j] = split.offHostCols[e]
			msg[len(entries)+j] = split.offHostHost[e]
		}
		r.recv.Add(local, len(entries), positions)
		b.host.Isend(local, tagRRequest, msg)
		indicators[local] = 1
	}

	for _, req := range receiveRequests(b.host, tagRRequest, b.numSenders(indicators)) {
		n := len(req.values) / 2
		r.send.Add(req.source, n, req.values[:n])
		origHosts = append(origHosts, req.values[n:]...)
	}
	r.finalize()
	r.scatter = r.recv.Indices()
	return r, origHosts
}

// buildGlobal sends every recv peer the unique columns
// the current process forwards from that peer's host.
func (b *builder) buildGlobal(r *stage, origHosts, sendPeers, recvPeers []int) *stage {
	g := newStage("G", b.comm, tagGValues)

	peerForHost := map[int]int{}
	for _, peer := range recvPeers {
		peerForHost[b.mapper.HostOf(peer)] = peer
	}
	byHost := map[int][]int{}
	for i, col := range r.send.Indices() {
		host := origHosts[i]
		if _, ok := peerForHost[host]; !ok {
			panic(fmt.Sprintf("rank %d forwards column %d but has no peer on host %d",
				b.rank, col, host))
		}
		byHost[host] = append(byHost[host], col)
	}

	// Empty lists are sent too, since every send peer waits
	// for exactly one list.
	for _, peer := range recvPeers {
		needed := byHost[b.mapper.HostOf(peer)]
		slices.Sort(needed)
		needed = slices.Compact(needed)
		b.comm.Isend(peer, tagGRequest, needed)
		if len(needed) > 0 {
			g.recv.Add(peer, len(needed), needed)
		}
	}
	for _, peer := range sendPeers {
		requested, _ := b.comm.RecvInts(peer, tagGRequest)
		if len(requested) > 0 {
			g.send.Add(peer, len(requested), requested)
		}
	}
	g.finalize()
	return g
}

// buildS asks the local owners of every column leaving
// the host to send it to the process that forwards it.
func (b *builder) buildS(g *stage) *stage {
	ppn := b.mapper.PPN()
	s := newStage("S", b.host, tagSValues)

	ranges := collcomm.Allgather(b.host, [2]int{b.cols.FirstCol, b.cols.LocalCols})
	byOwner := make([][]int, ppn)
	for _, col := range g.send.Indices() {
		owner := -1
		for local, r := range ranges {
			if col >= r[0] && col < r[0]+r[1] {
				owner = local
				break
			}
		}
		if owner < 0 {
			panic(fmt.Sprintf("column %d is not owned on host %d", col, b.myHost))
		}
		byOwner[owner] = append(byOwner[owner], col)
	}

	indicators := make([]int, ppn)
	for owner, cols := range byOwner {
		if len(cols) == 0 {
			continue
		}
		slices.Sort(cols)
		cols = slices.Compact(cols)
		s.recv.Add(owner, len(cols), cols)
		b.host.Isend(owner, tagSRequest, cols)
		indicators[owner] = 1
	}

	for _, req := range receiveRequests(b.host, tagSRequest, b.numSenders(indicators)) {
		s.send.Add(req.source, len(req.values), b.localPositions(req.values))
	}
	s.finalize()
	return s
}

// buildL fetches on-host columns directly from their
// owners.
//
// The columns are sorted by owner, so each run of one
// owner becomes one message.
func (b *builder) buildL(split *columnSplit) *stage {
	ppn := b.mapper.PPN()
	l := newStage("L", b.host, tagLValues)

	indicators := make([]int, ppn)
	for start := 0; start < len(split.onHostCols); {
		owner := split.onHostOwner[start]
		end := start + 1
		for end < len(split.onHostCols) && split.onHostOwner[end] == owner {
			end++
		}
		l.recv.Add(owner, end-start, nil)
		b.host.Isend(owner, tagLRequest, split.onHostCols[start:end])
		indicators[owner] = 1
		start = end
	}

	for _, req := range receiveRequests(b.host, tagLRequest, b.numSenders(indicators)) {
		l.send.Add(req.source, len(req.values), b.localPositions(req.values))
	}
	l.finalize()
	l.scatter = split.onHostPos
	return l
}

// rewriteIndices replaces the global columns in the send
// ledgers of G and R with slots of the buffer the previous
// stage receives into.
// The S stage may be nil.
func rewriteIndices(s, g, r *stage) {
	if s != nil {
		g.send.remap(slotLookup(s))
	}
	r.send.remap(slotLookup(g))
}

func slotLookup(s *stage) func(int) int {
	slots := map[int]int{}
	for i, col := range s.recv.Indices() {
		slots[col] = i
	}
	return func(col int) int {
		slot, ok := slots[col]
		if !ok {
			panic(fmt.Sprintf("stage %s does not receive column %d", s.name, col))
		}
		return slot
	}
}
