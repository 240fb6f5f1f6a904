// Package collcomm implements message passing between
// simulated processes.
//
// Every process gets a world Comm.
// Messages are matched by communicator, source and tag,
// and messages between one pair of processes are never
// reordered, even when the underlying network reorders
// them.
package collcomm

import "github.com/unixpickle/dist-spmv/simulator"

// AnySource matches a message from any process in a Comm.
const AnySource = -1

// Tags below zero are reserved for collective operations.
// Collectives in this package use tags in [-199, -1];
// other packages building collectives on top of a Comm
// should use tags below -199.
const (
	tagAllgather  = -1
	tagAllgatherv = -2
	tagBarrier    = -100
)

// A Comm is one process's view of a group of processes.
//
// All of the Comms a process belongs to share one Port,
// and the same Comm must not be used from more than one
// Goroutine.
type Comm struct {
	ep      *endpoint
	context int
	ranks   []int
	rank    int

	// Sparse exchanges run in their own matching epoch.
	exchanges int
	epoch     int
}

// SpawnComms creates a world Comm for every node in a
// network and calls f for each node in its own Goroutine.
//
// The rank of each Comm is the index of its node.
func SpawnComms(loop *simulator.EventLoop, network simulator.Network, nodes []*simulator.Node,
	f func(c *Comm)) {
	ports := make([]*simulator.Port, len(nodes))
	world := make([]int, len(nodes))
	for i, node := range nodes {
		ports[i] = node.Port(loop)
		world[i] = i
	}
	for i := range nodes {
		rank := i
		loop.Go(func(h *simulator.Handle) {
			f(&Comm{
				ep:    newEndpoint(h, rank, ports, network),
				ranks: world,
				rank:  rank,
			})
		})
	}
}

// Rank gets the current process's rank in the Comm.
func (c *Comm) Rank() int {
	return c.rank
}

// Size gets the number of processes in the Comm.
func (c *Comm) Size() int {
	return len(c.ranks)
}

// WorldRank converts a rank in c to a rank in the world
// Comm.
func (c *Comm) WorldRank(rank int) int {
	return c.ranks[rank]
}

// Handle gets the process's handle on the event loop.
func (c *Comm) Handle() *simulator.Handle {
	return c.ep.handle
}

// Node gets the node the process runs on.
func (c *Comm) Node() *simulator.Node {
	return c.ep.port.Node
}

// Sub creates a communicator for a subset of c's ranks.
// The current process must be in ranks, and the rank in
// the new Comm is the index into ranks.
//
// Sub is collective: every process in the new group must
// call it, and every process must create communicators in
// the same order, so that they agree on the context id.
func (c *Comm) Sub(ranks []int) *Comm {
	world := make([]int, len(ranks))
	self := -1
	for i, r := range ranks {
		world[i] = c.ranks[r]
		if r == c.rank {
			self = i
		}
	}
	if self < 0 {
		panic("current process is not a member of the sub-communicator")
	}
	c.ep.nextContext++
	return &Comm{
		ep:      c.ep,
		context: c.ep.nextContext,
		ranks:   world,
		rank:    self,
	}
}
