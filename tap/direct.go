package tap

import (
	"log/slog"

	"github.com/google/uuid"
	"github.com/unixpickle/dist-spmv/collcomm"
	"github.com/unixpickle/dist-spmv/spmat"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// NewDirectPackage builds a Package that sends every
// off-process column straight from its owner, in one
// message per pair of processes, ignoring hosts.
//
// It is collective over world.
// If logger is nil, slog.Default() is used.
func NewDirectPackage(world *collcomm.Comm, cols spmat.Columns,
	logger *slog.Logger) (*Package, error) {
	if err := cols.Validate(world.Rank(), world.Size()); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	comm := world.Sub(allRanks(world.Size()))

	direct := newStage("direct", comm, tagGValues)
	byOwner := map[int][]int{}
	for i, owner := range cols.Owners {
		byOwner[owner] = append(byOwner[owner], i)
	}
	dests := maps.Keys(byOwner)
	slices.Sort(dests)
	payloads := make([][]int, len(dests))
	for i, owner := range dests {
		positions := byOwner[owner]
		needed := make([]int, len(positions))
		for j, pos := range positions {
			needed[j] = cols.OffProc[pos]
		}
		direct.recv.Add(owner, len(needed), needed)
		direct.scatter = append(direct.scatter, positions...)
		payloads[i] = needed
	}
	sources, requested := collcomm.ExchangeSparse(comm, tagGRequest, dests, payloads)
	b := &builder{cols: cols, rank: comm.Rank()}
	for i, source := range sources {
		direct.send.Add(source, len(requested[i]), b.localPositions(requested[i]))
	}
	direct.finalize()

	p := &Package{
		id:       collcomm.Allgather(comm, uuid.New())[0],
		numLocal: cols.LocalCols,
		numOff:   len(cols.OffProc),
		global:   direct,
	}
	p.logStages(logger.With("package", p.id.String(), "rank", comm.Rank()))
	return p, nil
}
