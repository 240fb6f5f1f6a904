package collcomm

import (
	"reflect"

	"github.com/unixpickle/dist-spmv/simulator"
	"github.com/unixpickle/essentials"
)

// headerSize is the number of bytes every envelope costs
// on the wire in addition to its payload.
const headerSize = 16

// A Sizer is a payload that knows its size in bytes.
//
// Slice payloads do not need to implement Sizer.
type Sizer interface {
	Size() float64
}

type envelope struct {
	context int
	epoch   int
	source  int
	tag     int
	seq     int
	payload any

	// Synchronous sends are acknowledged when the receiver
	// matches them.
	sync bool
	id   int
	ack  bool
}

func (e *envelope) size() float64 {
	return headerSize + payloadSize(e.payload)
}

type matchKey struct {
	context int
	epoch   int
	source  int
	tag     int
}

func (m matchKey) matches(e *envelope) bool {
	return e.context == m.context && e.epoch == m.epoch && e.tag == m.tag &&
		(m.source == AnySource || e.source == m.source)
}

// An endpoint is a process's connection to the network.
type endpoint struct {
	handle  *simulator.Handle
	port    *simulator.Port
	ports   []*simulator.Port
	network simulator.Network
	rank    int

	sendSeq []int
	recvSeq []int
	early   []map[int]*envelope

	// Messages that arrived in order but have not been
	// received yet.
	unmatched []*envelope

	// Synchronous sends waiting for an acknowledgement.
	waiting map[int]*Request
	nextID  int

	nextContext int
}

func newEndpoint(h *simulator.Handle, rank int, ports []*simulator.Port,
	network simulator.Network) *endpoint {
	return &endpoint{
		handle:  h,
		port:    ports[rank],
		ports:   ports,
		network: network,
		rank:    rank,
		sendSeq: make([]int, len(ports)),
		recvSeq: make([]int, len(ports)),
		early:   make([]map[int]*envelope, len(ports)),
		waiting: map[int]*Request{},
	}
}

func (e *endpoint) transmit(dst int, env *envelope) {
	e.network.Send(e.handle, &simulator.Message{
		Source:  e.port,
		Dest:    e.ports[dst],
		Message: env,
		Size:    env.size(),
	})
}

// post sends an envelope as the next message in the
// ordered stream to dst.
func (e *endpoint) post(dst int, env *envelope) {
	env.source = e.rank
	env.seq = e.sendSeq[dst]
	e.sendSeq[dst]++
	e.transmit(dst, env)
}

// poll absorbs every message that has already arrived.
func (e *endpoint) poll() {
	for {
		msg, ok := e.port.TryRecv(e.handle)
		if !ok {
			return
		}
		e.ingest(msg.Message.(*envelope))
	}
}

// await makes progress until cond returns true, blocking
// on the network in between checks.
func (e *endpoint) await(cond func() bool) {
	e.poll()
	for !cond() {
		e.ingest(e.port.Recv(e.handle).Message.(*envelope))
		e.poll()
	}
}

func (e *endpoint) ingest(env *envelope) {
	if env.ack {
		req, ok := e.waiting[env.id]
		if !ok {
			panic("acknowledgement for unknown request")
		}
		delete(e.waiting, env.id)
		req.done = true
		return
	}
	src := env.source
	if env.seq != e.recvSeq[src] {
		if e.early[src] == nil {
			e.early[src] = map[int]*envelope{}
		}
		e.early[src][env.seq] = env
		return
	}
	for env != nil {
		e.unmatched = append(e.unmatched, env)
		e.recvSeq[src]++
		next, ok := e.early[src][e.recvSeq[src]]
		if !ok {
			break
		}
		delete(e.early[src], e.recvSeq[src])
		env = next
	}
}

// find looks for the oldest unmatched message for a key.
//
// If remove is true, the message is matched and removed,
// and synchronous senders are acknowledged.
func (e *endpoint) find(key matchKey, remove bool) *envelope {
	for i, env := range e.unmatched {
		if !key.matches(env) {
			continue
		}
		if remove {
			essentials.OrderedDelete(&e.unmatched, i)
			if env.sync {
				e.transmit(env.source, &envelope{source: e.rank, ack: true, id: env.id})
			}
		}
		return env
	}
	return nil
}

func payloadSize(payload any) float64 {
	if payload == nil {
		return 0
	}
	if s, ok := payload.(Sizer); ok {
		return s.Size()
	}
	val := reflect.ValueOf(payload)
	if val.Kind() == reflect.Slice {
		return float64(val.Len()) * float64(val.Type().Elem().Size())
	}
	return float64(val.Type().Size())
}

// payloadLen is the number of elements in a slice payload.
func payloadLen(payload any) int {
	if payload == nil {
		return 0
	}
	val := reflect.ValueOf(payload)
	if val.Kind() == reflect.Slice {
		return val.Len()
	}
	return 1
}

// clonePayload copies slice payloads so that senders may
// reuse their buffers as soon as a send is posted.
func clonePayload(payload any) any {
	if payload == nil {
		return nil
	}
	val := reflect.ValueOf(payload)
	if val.Kind() != reflect.Slice || val.IsNil() {
		return payload
	}
	res := reflect.MakeSlice(val.Type(), val.Len(), val.Len())
	reflect.Copy(res, val)
	return res.Interface()
}
