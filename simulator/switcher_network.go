package simulator

import (
	"math"
	"sync"
)

// A SwitcherNetwork is a network where data is passed
// through a Switcher. Messages that are in flight at the
// same time share bandwidth, so each new message may slow
// down the ones already being sent.
//
// The switch sees endpoints rather than nodes.
// An endpoint is either a single node, or an entire host
// whose processes share one NIC.
type SwitcherNetwork struct {
	lock sync.Mutex

	switcher     Switcher
	numEndpoints int
	endpoint     func(n *Node) int
	latency      float64

	// Deliveries planned for the messages in flight.
	segments []*segment
}

// NewSwitcherNetwork creates a new SwitcherNetwork where
// every node has its own link to the switch.
//
// The latency argument adds an extra constant-length
// timeout to every message delivery.
// Messages count against their links while they pay
// latency, so latency-heavy traffic looks more congested
// than it would on a real network.
func NewSwitcherNetwork(switcher Switcher, nodes []*Node, latency float64) *SwitcherNetwork {
	nodeToIndex := map[*Node]int{}
	for i, node := range nodes {
		nodeToIndex[node] = i
	}
	return &SwitcherNetwork{
		switcher:     switcher,
		numEndpoints: len(nodes),
		endpoint: func(n *Node) int {
			idx, ok := nodeToIndex[n]
			if !ok {
				panic("node is not attached to the switch")
			}
			return idx
		},
		latency: latency,
	}
}

// NewNICSwitcherNetwork creates a SwitcherNetwork where
// all of the nodes on a host share that host's link.
//
// The switcher must expect numHosts endpoints.
func NewNICSwitcherNetwork(switcher Switcher, numHosts int, latency float64) *SwitcherNetwork {
	return &SwitcherNetwork{
		switcher:     switcher,
		numEndpoints: numHosts,
		endpoint: func(n *Node) int {
			if n.Host < 0 || n.Host >= numHosts {
				panic("node host is out of range")
			}
			return n.Host
		},
		latency: latency,
	}
}

// Send sends the message over the network.
//
// Every message already in flight is re-planned.
func (s *SwitcherNetwork) Send(h *Handle, msgs ...*Message) {
	s.lock.Lock()
	defer s.lock.Unlock()

	flows := s.interrupt(h)
	for _, msg := range msgs {
		flows = append(flows, &flow{
			msg:       msg,
			latency:   s.latency + msg.Overhead,
			remaining: msg.Size,
		})
	}
	s.schedule(h, flows)
}

// interrupt cancels the pending deliveries and returns
// the state of every flow that has not yet arrived.
func (s *SwitcherNetwork) interrupt(h *Handle) []*flow {
	now := h.Time()
	var flows []*flow
	for _, seg := range s.segments {
		if now >= seg.end {
			// Its timers are due, so they stay.
			continue
		}
		if now >= seg.start {
			for _, f := range seg.flows {
				flows = append(flows, f.advance(now-seg.start))
			}
		}
		for _, timer := range seg.timers {
			h.Cancel(timer)
		}
	}
	return flows
}

// schedule plans the delivery of every flow, one segment
// per batch of arrivals.
func (s *SwitcherNetwork) schedule(h *Handle, flows []*flow) {
	s.segments = make([]*segment, 0, len(flows))
	start := h.Time()
	for len(flows) > 0 {
		s.assignRates(flows)

		done, rest, eta := earliest(flows)
		timers := make([]*Timer, len(done))
		for i, f := range done {
			timers[i] = h.Schedule(f.msg.Dest.Incoming, f.msg, start-h.Time()+eta)
		}
		end := timers[0].Time()
		s.segments = append(s.segments, &segment{
			start:  start,
			end:    end,
			timers: timers,
			flows:  flows,
		})

		for i, f := range rest {
			rest[i] = f.advance(end - start)
		}
		flows = rest
		start = end
	}
}

// assignRates asks the switcher how much bandwidth every
// flow gets.
// Flows between the same pair of endpoints split their
// link evenly.
//
// Links are considered busy while a flow pays latency,
// even though only the sender's NIC would be in use.
func (s *SwitcherNetwork) assignRates(flows []*flow) {
	links := NewConnMat(s.numEndpoints)
	counts := NewConnMat(s.numEndpoints)
	for _, f := range flows {
		src, dst := s.link(f)
		links.Set(src, dst, 1)
		counts.Add(src, dst, 1)
	}
	s.switcher.SwitchedRates(links)
	for _, f := range flows {
		src, dst := s.link(f)
		f.rate = links.Get(src, dst) / counts.Get(src, dst)
	}
}

func (s *SwitcherNetwork) link(f *flow) (src, dst int) {
	return s.endpoint(f.msg.Source.Node), s.endpoint(f.msg.Dest.Node)
}

// A flow is the progress of one message through the
// switch.
type flow struct {
	msg *Message

	// Latency left to pay before data moves.
	latency float64

	remaining float64
	rate      float64
}

// eta gets the time until the message arrives at the
// current rate.
func (f *flow) eta() float64 {
	return math.Max(0, f.latency+f.remaining/f.rate)
}

// advance returns a copy of the flow after elapsed units
// of time at the current rate.
func (f *flow) advance(elapsed float64) *flow {
	res := *f
	if elapsed < res.latency {
		res.latency -= elapsed
		return &res
	}
	elapsed -= res.latency
	res.latency = 0
	res.remaining -= res.rate * elapsed
	return &res
}

// A segment is a stretch of time during which every flow
// keeps its rate. It ends when at least one flow arrives.
type segment struct {
	start  float64
	end    float64
	timers []*Timer

	// Flows as of the start of the segment.
	flows []*flow
}

// earliest splits off the flows that will arrive first.
func earliest(flows []*flow) (done, rest []*flow, eta float64) {
	etas := make([]float64, len(flows))
	eta = math.Inf(1)
	for i, f := range flows {
		etas[i] = f.eta()
		eta = math.Min(eta, etas[i])
	}
	rest = make([]*flow, 0, len(flows)-1)
	for i, f := range flows {
		if etas[i] == eta {
			done = append(done, f)
		} else {
			rest = append(rest, f)
		}
	}
	return done, rest, eta
}
