package simulator

// A HostNetwork models a cluster of multi-process hosts.
//
// Messages between processes on the same host travel over
// the Intra network, and all other messages travel over
// the Inter network, typically a NIC-level
// SwitcherNetwork.
//
// Inter-host messages larger than EagerLimit bytes use a
// rendezvous protocol and pay an extra Handshake latency
// before any payload is transferred.
type HostNetwork struct {
	Intra Network
	Inter Network

	EagerLimit float64
	Handshake  float64
}

// NewHostNetwork creates a HostNetwork for numHosts hosts.
//
// Intra-host copies are ordered per destination and run
// at memRate bytes per unit time.
// Each host has a single NIC with rate nicRate and every
// inter-host message pays the given latency.
func NewHostNetwork(numHosts int, memRate, nicRate, latency float64) *HostNetwork {
	switcher := NewGreedyDropSwitcher(numHosts, nicRate)
	return &HostNetwork{
		Intra:      NewOrderedNetwork(memRate, 0),
		Inter:      NewNICSwitcherNetwork(switcher, numHosts, latency),
		EagerLimit: 8192,
		Handshake:  2 * latency,
	}
}

// Send routes each message to the intra-host or
// inter-host network.
func (h *HostNetwork) Send(handle *Handle, msgs ...*Message) {
	var intra, inter []*Message
	for _, msg := range msgs {
		if msg.Source.Node.Host == msg.Dest.Node.Host {
			intra = append(intra, msg)
			continue
		}
		if msg.Size > h.EagerLimit {
			msg.Overhead += h.Handshake
		}
		inter = append(inter, msg)
	}
	if len(intra) > 0 {
		h.Intra.Send(handle, intra...)
	}
	if len(inter) > 0 {
		h.Inter.Send(handle, inter...)
	}
}
