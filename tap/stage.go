package tap

import (
	"fmt"

	"github.com/unixpickle/dist-spmv/collcomm"
	"github.com/unixpickle/essentials"
)

// A stage is one hop of a Package.
//
// The send Ledger lists, per partner, the positions of
// the values to pack from a source buffer.
// The recv Ledger lists, per partner, one slot per
// received value; slot k lands at position scatter[k] of
// the destination buffer, or at k if scatter is nil.
//
// Every method is a no-op on a nil stage.
type stage struct {
	name    string
	comm    *collcomm.Comm
	tag     int
	send    *Ledger
	recv    *Ledger
	scatter []int
}

func newStage(name string, comm *collcomm.Comm, tag int) *stage {
	return &stage{
		name: name,
		comm: comm,
		tag:  tag,
		send: &Ledger{},
		recv: &Ledger{},
	}
}

// finalize seals both ledgers.
func (s *stage) finalize() {
	essentials.Must(s.send.Finalize())
	essentials.Must(s.recv.Finalize())
}

// recvPosition gets the destination position of recv slot
// k.
func (s *stage) recvPosition(k int) int {
	if s.scatter == nil {
		return k
	}
	return s.scatter[k]
}

// recvBufferSize gets the number of indices the stage
// writes into when its destination is a fresh buffer.
func (s *stage) recvBufferSize() int {
	if s == nil {
		return 0
	}
	return s.recv.Size()
}

// post packs and sends the values of every outgoing
// message.
func (s *stage) post(src []float64, width int) {
	if s == nil {
		return
	}
	indices := s.send.Indices()
	for i := 0; i < s.send.NumMessages(); i++ {
		start, end := s.send.Extent(i)
		buf := make([]float64, 0, (end-start)*width)
		for _, idx := range indices[start:end] {
			buf = append(buf, src[idx*width:(idx+1)*width]...)
		}
		s.send.requests[i] = s.comm.Isend(s.send.Partner(i), s.tag, buf)
	}
}

// complete receives every incoming message into dst and
// waits for the outgoing messages.
func (s *stage) complete(dst []float64, width int) {
	if s == nil {
		return
	}
	for i := 0; i < s.recv.NumMessages(); i++ {
		start, end := s.recv.Extent(i)
		vals := s.receive(s.recv.Partner(i), s.tag, (end-start)*width)
		for k := start; k < end; k++ {
			pos := s.recvPosition(k)
			copy(dst[pos*width:(pos+1)*width], vals[(k-start)*width:])
		}
	}
	s.comm.Wait(s.send.requests...)
}

// postReverse sends values back along the incoming
// messages, as the transpose of complete.
func (s *stage) postReverse(src []float64, width int) {
	if s == nil {
		return
	}
	for i := 0; i < s.recv.NumMessages(); i++ {
		start, end := s.recv.Extent(i)
		buf := make([]float64, 0, (end-start)*width)
		for k := start; k < end; k++ {
			pos := s.recvPosition(k)
			buf = append(buf, src[pos*width:(pos+1)*width]...)
		}
		s.recv.requests[i] = s.comm.Isend(s.recv.Partner(i), s.tag+reverseTagOffset, buf)
	}
}

// completeReverse receives the values sent by
// postReverse and adds them into dst.
func (s *stage) completeReverse(dst []float64, width int) {
	if s == nil {
		return
	}
	indices := s.send.Indices()
	for i := 0; i < s.send.NumMessages(); i++ {
		start, end := s.send.Extent(i)
		vals := s.receive(s.send.Partner(i), s.tag+reverseTagOffset, (end-start)*width)
		for j, idx := range indices[start:end] {
			for v := 0; v < width; v++ {
				dst[idx*width+v] += vals[j*width+v]
			}
		}
	}
	s.comm.Wait(s.recv.requests...)
}

func (s *stage) receive(source, tag, count int) []float64 {
	vals, _ := s.comm.RecvFloats(source, tag)
	if len(vals) != count {
		panic(fmt.Sprintf("stage %s: expected %d values from %d but got %d", s.name, count,
			source, len(vals)))
	}
	return vals
}

// StageStats summarizes one stage of a Package.
type StageStats struct {
	Name string

	// SendPartners and RecvPartners are ranks in the
	// stage's communicator, in message order.
	SendPartners []int
	RecvPartners []int

	// SendSize and RecvSize count vector entries.
	SendSize int
	RecvSize int
}

func (s *stage) stats() StageStats {
	return StageStats{
		Name:         s.name,
		SendPartners: s.send.Partners(),
		RecvPartners: s.recv.Partners(),
		SendSize:     s.send.Size(),
		RecvSize:     s.recv.Size(),
	}
}
