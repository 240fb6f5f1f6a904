package simulator

import (
	"math/rand"
	"sync"
)

// A Node represents a process on a virtual network.
type Node struct {
	// Host is the machine the process runs on.
	// Networks which model shared hosts use it to decide
	// which link a message travels over.
	Host int
}

// NewNode creates a new, unique Node.
func NewNode() *Node {
	return &Node{}
}

// NewHostNode creates a new Node which lives on the given
// host.
func NewHostNode(host int) *Node {
	return &Node{Host: host}
}

// Port creates a new Port connected to the Node.
func (n *Node) Port(loop *EventLoop) *Port {
	return &Port{Node: n, Incoming: loop.Stream()}
}

// A Port identifies a point of communication on a Node.
// Data is sent from Ports and received on Ports.
type Port struct {
	// The Node to which the Port is attached.
	Node *Node

	// A stream of *Message objects.
	Incoming *EventStream
}

// Recv receives the next message.
func (p *Port) Recv(h *Handle) *Message {
	return h.Poll(p.Incoming).Message.(*Message)
}

// TryRecv receives a message if one has already arrived.
func (p *Port) TryRecv(h *Handle) (*Message, bool) {
	event, ok := h.TryPoll(p.Incoming)
	if !ok {
		return nil, false
	}
	return event.Message.(*Message), true
}

// A Message is a chunk of data sent between nodes over a
// network.
type Message struct {
	Source  *Port
	Dest    *Port
	Message any
	Size    float64

	// Overhead is extra latency paid before any of the
	// payload moves, such as a rendezvous handshake.
	Overhead float64
}

// A Network represents an abstract way of communicating
// between nodes.
type Network interface {
	// Send message objects from one node to another.
	// The message will arrive on the receiving port's
	// incoming EventStream if the communication is
	// successful.
	//
	// This is a non-blocking operation.
	//
	// It is preferrable to pass multiple messages in at
	// once, if possible.
	// Otherwise, the Network may have to continually
	// re-plan the entire message delivery timeline.
	Send(h *Handle, msgs ...*Message)
}

// A RandomNetwork is a network that assigns random delays
// to every message.
//
// Messages between the same pair of ports may arrive in
// any order.
type RandomNetwork struct{}

// Send sends the messages with random delays.
func (r RandomNetwork) Send(h *Handle, msgs ...*Message) {
	for _, msg := range msgs {
		h.Schedule(msg.Dest.Incoming, msg, msg.Overhead+rand.Float64())
	}
}

// An OrderedNetwork delivers messages sent to each
// destination in order, one after another, at a fixed
// rate.
//
// It is a reasonable model for copies through shared
// memory, where a receiver drains one buffer at a time.
type OrderedNetwork struct {
	Rate             float64
	MaxRandomLatency float64

	lock      sync.Mutex
	nextTimes map[*Node]float64
}

// NewOrderedNetwork creates an OrderedNetwork.
func NewOrderedNetwork(rate float64, maxRandomLatency float64) *OrderedNetwork {
	return &OrderedNetwork{
		Rate:             rate,
		MaxRandomLatency: maxRandomLatency,
		nextTimes:        map[*Node]float64{},
	}
}

// Send sends the messages over the network in order.
func (o *OrderedNetwork) Send(h *Handle, msgs ...*Message) {
	o.lock.Lock()
	defer o.lock.Unlock()

	curTime := h.Time()

	for _, msg := range msgs {
		dest := msg.Dest.Node
		latency := rand.Float64() * o.MaxRandomLatency
		delay := msg.Overhead + latency + msg.Size/o.Rate

		if t, ok := o.nextTimes[dest]; ok && t > curTime {
			delay += t - curTime
		}
		h.Schedule(msg.Dest.Incoming, msg, delay)
		o.nextTimes[dest] = curTime + delay
	}
}
