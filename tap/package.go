package tap

import (
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/unixpickle/dist-spmv/collcomm"
	"github.com/unixpickle/dist-spmv/collcomm/allreduce"
	"github.com/unixpickle/dist-spmv/spmat"
	"github.com/unixpickle/dist-spmv/topology"
)

// A Package gathers the off-process vector entries of
// one process for repeated multiplies.
//
// A Package is built collectively by every process, and
// every process must call its multiply methods the same
// number of times in the same order.
type Package struct {
	id uuid.UUID

	numLocal int
	numOff   int

	// Stages in pipeline order.
	// Stages that a package does not use are nil.
	local  *stage
	send   *stage
	global *stage
	recv   *stage
}

// NewPackage discovers a topology-aware Package for the
// given columns.
//
// If twoStage is true, the package has no L or S stage,
// and on-host columns take the same route as off-host
// ones.
//
// NewPackage is collective over world.
// It either returns a complete Package or an error, and
// errors are returned before any process communicates.
func NewPackage(world *collcomm.Comm, cfg Config, cols spmat.Columns,
	twoStage bool) (*Package, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	mapper, err := topology.New(cfg.Policy, world.Size(), cfg.PPN)
	if err != nil {
		return nil, fmt.Errorf("build TAP package: %w", err)
	}
	if err := cols.Validate(world.Rank(), world.Size()); err != nil {
		return nil, fmt.Errorf("build TAP package: %w", err)
	}
	bitmapReducer, err := allreduce.New[uint64](cfg.Allreduce)
	if err != nil {
		return nil, err
	}
	countReducer, err := allreduce.New[int](cfg.Allreduce)
	if err != nil {
		return nil, err
	}

	comm := world.Sub(allRanks(world.Size()))
	rank := comm.Rank()
	myHost := mapper.HostOf(rank)
	b := &builder{
		cfg:           cfg,
		mapper:        mapper,
		cols:          cols,
		comm:          comm,
		host:          comm.Sub(mapper.HostRanks(myHost)),
		rank:          rank,
		myHost:        myHost,
		localRank:     mapper.LocalRankOf(rank),
		bitmapReducer: bitmapReducer,
		countReducer:  countReducer,
	}
	p := &Package{
		id:       collcomm.Allgather(comm, uuid.New())[0],
		numLocal: cols.LocalCols,
		numOff:   len(cols.OffProc),
	}
	b.log = cfg.logger().With("package", p.id.String(), "rank", rank, "host", myHost)

	if twoStage {
		p.global, p.recv = b.buildTwoStage()
	} else {
		split := classifyColumns(mapper, rank, cols)
		plan := b.discoverHosts(split)
		b.log.Debug("discovered hosts", "hosts", plan.hosts, "volumes", plan.volumes,
			"fan_out", plan.fanOut)
		sendPeers, recvPeers := b.discoverPeers(plan)
		b.log.Debug("discovered peers", "send_peers", sendPeers, "recv_peers", recvPeers)

		var origHosts []int
		p.recv, origHosts = b.buildR(split, plan)
		p.global = b.buildGlobal(p.recv, origHosts, sendPeers, recvPeers)
		p.send = b.buildS(p.global)
		p.local = b.buildL(split)
		rewriteIndices(p.send, p.global, p.recv)
	}
	p.logStages(b.log)
	return p, nil
}

func allRanks(n int) []int {
	res := make([]int, n)
	for i := range res {
		res[i] = i
	}
	return res
}

func (p *Package) stages() []*stage {
	var res []*stage
	for _, s := range []*stage{p.local, p.send, p.global, p.recv} {
		if s != nil {
			res = append(res, s)
		}
	}
	return res
}

func (p *Package) logStages(log *slog.Logger) {
	for _, s := range p.stages() {
		log.Debug("built stage", "stage", s.name,
			"send_msgs", s.send.NumMessages(), "send_size", s.send.Size(),
			"recv_msgs", s.recv.NumMessages(), "recv_size", s.recv.Size())
	}
}

// ID gets an identifier shared by every process's view
// of the Package.
func (p *Package) ID() uuid.UUID {
	return p.id
}

// Stats summarizes the stages the Package uses, in
// pipeline order.
func (p *Package) Stats() []StageStats {
	p.mustBeBuilt()
	var res []StageStats
	for _, s := range p.stages() {
		res = append(res, s.stats())
	}
	return res
}

// Mult computes y = A x.
func (p *Package) Mult(op Operator, x, y []float64) {
	p.MultBlock(op, x, y, 1)
}

// MultBlock computes y = A x for a block vector.
func (p *Package) MultBlock(op Operator, x, y []float64, width int) {
	p.checkLocal(x, width)
	for i := range y {
		y[i] = 0
	}
	p.multAppend(op, x, y, width)
}

// MultAppend computes y += A x.
func (p *Package) MultAppend(op Operator, x, y []float64) {
	p.MultAppendBlock(op, x, y, 1)
}

// MultAppendBlock computes y += A x for a block vector.
func (p *Package) MultAppendBlock(op Operator, x, y []float64, width int) {
	p.checkLocal(x, width)
	p.multAppend(op, x, y, width)
}

// Residual computes r = b - A x.
func (p *Package) Residual(op Operator, x, b, r []float64) {
	p.ResidualBlock(op, x, b, r, 1)
}

// ResidualBlock computes r = b - A x for block vectors.
func (p *Package) ResidualBlock(op Operator, x, b, r []float64, width int) {
	p.checkLocal(x, width)
	if len(r) != len(b) {
		panic(fmt.Sprintf("residual has length %d but b has length %d", len(r), len(b)))
	}
	product := make([]float64, len(b))
	p.multAppend(op, x, product, width)
	for i, bv := range b {
		r[i] = bv - product[i]
	}
}

// MultT computes x = A^T b.
func (p *Package) MultT(op Operator, b, x []float64) {
	p.MultTBlock(op, b, x, 1)
}

// MultTBlock computes x = A^T b for block vectors.
//
// Every stage runs in reverse, and values that several
// processes contribute to the same entry are summed.
func (p *Package) MultTBlock(op Operator, b, x []float64, width int) {
	p.checkLocal(x, width)
	for i := range x {
		x[i] = 0
	}

	xOff := make([]float64, p.numOff*width)
	op.OffProcMultT(b, xOff, width)
	p.local.postReverse(xOff, width)
	p.recv.postReverse(xOff, width)

	op.OnProcMultT(b, x, width)

	gBuf := xOff
	if p.recv != nil {
		gBuf = make([]float64, p.global.recvBufferSize()*width)
		p.recv.completeReverse(gBuf, width)
	}
	p.global.postReverse(gBuf, width)

	sBuf := x
	if p.send != nil {
		sBuf = make([]float64, p.send.recvBufferSize()*width)
	}
	p.global.completeReverse(sBuf, width)
	p.send.postReverse(sBuf, width)
	p.send.completeReverse(x, width)
	p.local.completeReverse(x, width)
}

// multAppend runs the stages in order, overlapping the
// on-process product with the inter-host exchange.
func (p *Package) multAppend(op Operator, x, y []float64, width int) {
	xOff := make([]float64, p.numOff*width)

	p.local.post(x, width)
	p.send.post(x, width)

	gSrc := x
	if p.send != nil {
		gSrc = make([]float64, p.send.recvBufferSize()*width)
		p.send.complete(gSrc, width)
	}
	p.global.post(gSrc, width)

	op.OnProcMult(x, y, width)

	gDst := xOff
	if p.recv != nil {
		gDst = make([]float64, p.global.recvBufferSize()*width)
	}
	p.global.complete(gDst, width)
	p.recv.post(gDst, width)

	p.local.complete(xOff, width)
	p.recv.complete(xOff, width)

	op.OffProcMult(xOff, y, width)
}

func (p *Package) checkLocal(x []float64, width int) {
	p.mustBeBuilt()
	if width <= 0 {
		panic(fmt.Sprintf("invalid block width %d", width))
	}
	if len(x) != p.numLocal*width {
		panic(fmt.Sprintf("local vector has length %d, expected %d", len(x), p.numLocal*width))
	}
}

func (p *Package) mustBeBuilt() {
	if p == nil || p.global == nil {
		panic("communication package was not built")
	}
}
