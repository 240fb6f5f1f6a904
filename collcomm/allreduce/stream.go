package allreduce

import (
	"reflect"

	"github.com/unixpickle/dist-spmv/collcomm"
	"github.com/unixpickle/essentials"
)

// A StreamAllreducer splits a vector up into smaller
// messages and streams the messages around a ring of
// processes.
//
// The reduction has two phases: Reduce and Broadcast.
// During Reduce, the fully reduced vector arrives at the
// first rank.
// During Broadcast, the reduced vector is streamed from
// the first rank to all the other ranks.
type StreamAllreducer[T collcomm.Number] struct {
	// Granularity determines how many chunks the data is
	// split up into.
	// The actual number of chunks is multiplied by the
	// number of ranks.
	//
	// If Granularity is 0, it is treated as 1.
	Granularity int
}

// Allreduce calls fn on chunks of data at a time and
// returns a vector resulting from the final reduction.
func (s StreamAllreducer[T]) Allreduce(c *collcomm.Comm, data []T,
	fn collcomm.ReduceFn[T]) []T {
	if len(data) == 0 || c.Size() == 1 {
		return append([]T{}, data...)
	}
	if c.Rank() == 0 {
		return s.allreduceRoot(c, data)
	}
	return s.allreduceOther(c, data, fn)
}

func (s StreamAllreducer[T]) allreduceRoot(c *collcomm.Comm, data []T) []T {
	chunksOut := s.chunkify(c, data)
	reduced := make([]T, 0, len(data))

	// Kick off the reduction cycle.
	(&streamPacket[T]{packetType: streamPacketReduce, payload: chunksOut[0]}).Send(c)
	chunksOut = chunksOut[1:]

	// Push the reduction through the ring.
	waitingReduceAck := true
	for len(reduced) < len(data) {
		packet := recvStreamPacket[T](c, collcomm.AnySource)
		switch packet.packetType {
		case streamPacketReduce:
			reduced = append(reduced, packet.payload...)
			(&streamPacket[T]{packetType: streamPacketReduceAck}).Send(c)
		case streamPacketReduceAck:
			if !waitingReduceAck {
				panic("unexpected ACK")
			}
			if len(chunksOut) > 0 {
				(&streamPacket[T]{packetType: streamPacketReduce, payload: chunksOut[0]}).Send(c)
				chunksOut = chunksOut[1:]
			} else {
				waitingReduceAck = false
			}
		default:
			panic("unexpected packet type")
		}
	}

	if len(chunksOut) > 0 {
		panic("unexpected reduction completion")
	} else if len(reduced) != len(data) {
		panic("excess data")
	}

	// Push the data through the bcast cycle.
	for _, chunk := range s.chunkify(c, reduced) {
		(&streamPacket[T]{packetType: streamPacketBcast, payload: chunk}).Send(c)
		for {
			packet := recvStreamPacket[T](c, collcomm.AnySource)
			if packet.packetType == streamPacketReduceAck {
				if !waitingReduceAck {
					panic("unexpected ACK")
				}
				waitingReduceAck = false
			} else if packet.packetType == streamPacketBcastAck {
				break
			} else {
				panic("unexpected packet type")
			}
		}
	}

	if waitingReduceAck {
		panic("missed expected ACK")
	}

	return reduced
}

func (s StreamAllreducer[T]) allreduceOther(c *collcomm.Comm, data []T, fn collcomm.ReduceFn[T]) []T {
	var reduced []T

	isLastNode := c.Rank()+1 == c.Size()
	nextRank := (c.Rank() + 1) % c.Size()

	// Reduce our data into the stream.
	var reduceBlocked bool
	var reduceBuf []*streamPacket[T]
	remainingData := data
	for len(reduced) == 0 {
		packet := recvStreamPacket[T](c, collcomm.AnySource)
		switch packet.packetType {
		case streamPacketReduce:
			(&streamPacket[T]{packetType: streamPacketReduceAck}).Send(c)
			chunk := fn(c.Handle(), packet.payload, remainingData[:len(packet.payload)])
			remainingData = remainingData[len(packet.payload):]
			outPacket := &streamPacket[T]{packetType: streamPacketReduce, payload: chunk}
			reduceBuf = append(reduceBuf, outPacket)
		case streamPacketReduceAck:
			if !reduceBlocked {
				panic("unexpected ACK")
			}
			reduceBlocked = false
		case streamPacketBcast:
			if len(reduceBuf) > 0 {
				panic("got bcast before reduce finished")
			}
			reduced = append(reduced, packet.payload...)
			(&streamPacket[T]{packetType: streamPacketBcastAck}).Send(c)
			if !isLastNode {
				// Otherwise, the packet would wrap around
				// to the root.
				packet.Send(c)
			}
		default:
			panic("unexpected packet type")
		}
		if !reduceBlocked && len(reduceBuf) > 0 {
			reduceBuf[0].Send(c)
			essentials.OrderedDelete(&reduceBuf, 0)
			reduceBlocked = true
		}
	}

	// Read the broadcasted reduction.
	bcastBlocked := true
	var bcastBuf []*streamPacket[T]
	for len(reduced) < len(data) || len(bcastBuf) > 0 {
		source := collcomm.AnySource
		if len(reduced) == len(data) {
			// The previous rank may already be starting the
			// next reduction, so only take ACKs.
			source = nextRank
		}
		packet := recvStreamPacket[T](c, source)
		switch packet.packetType {
		case streamPacketReduceAck:
			if !reduceBlocked {
				panic("unexpected ACK")
			}
			reduceBlocked = false
		case streamPacketBcast:
			reduced = append(reduced, packet.payload...)
			(&streamPacket[T]{packetType: streamPacketBcastAck}).Send(c)
			if !isLastNode {
				outPacket := &streamPacket[T]{packetType: streamPacketBcast, payload: packet.payload}
				bcastBuf = append(bcastBuf, outPacket)
			}
		case streamPacketBcastAck:
			if !bcastBlocked {
				panic("unexpected ACK")
			}
			bcastBlocked = false
		default:
			panic("unexpected packet type")
		}
		if !bcastBlocked && len(bcastBuf) > 0 {
			bcastBuf[0].Send(c)
			essentials.OrderedDelete(&bcastBuf, 0)
			bcastBlocked = true
		}
	}

	// Collect the outstanding ACKs so they cannot leak into
	// a later reduction on the same Comm.
	for reduceBlocked || (bcastBlocked && !isLastNode) {
		packet := recvStreamPacket[T](c, nextRank)
		switch packet.packetType {
		case streamPacketReduceAck:
			reduceBlocked = false
		case streamPacketBcastAck:
			bcastBlocked = false
		default:
			panic("unexpected packet type")
		}
	}

	return reduced
}

func (s StreamAllreducer[T]) chunkify(c *collcomm.Comm, data []T) [][]T {
	granularity := s.Granularity
	if granularity == 0 {
		granularity = 1
	}
	chunkSize := essentials.MaxInt(1, len(data)/(c.Size()*granularity))
	var res [][]T
	for i := 0; i < len(data); i += chunkSize {
		if i+chunkSize > len(data) {
			res = append(res, data[i:])
		} else {
			res = append(res, data[i:i+chunkSize])
		}
	}
	return res
}

type streamPacketType int

const (
	streamPacketReduce streamPacketType = iota
	streamPacketReduceAck
	streamPacketBcast
	streamPacketBcastAck
)

type streamPacket[T collcomm.Number] struct {
	packetType streamPacketType
	payload    []T
}

func recvStreamPacket[T collcomm.Number](c *collcomm.Comm, source int) *streamPacket[T] {
	msg, _ := c.Recv(source, tagStream)
	return msg.(*streamPacket[T])
}

// Size is the number of bytes the packet occupies on the
// wire.
func (s *streamPacket[T]) Size() float64 {
	var zero T
	return float64(len(s.payload))*float64(reflect.TypeOf(zero).Size()) + 1.0
}

// Send sends the packet to the appropriate rank.
// For ACKs, this is the previous rank.
// For other messages, this is the next rank.
func (s *streamPacket[T]) Send(c *collcomm.Comm) {
	idx := c.Rank()
	var dstIdx int
	if s.packetType == streamPacketReduceAck || s.packetType == streamPacketBcastAck {
		dstIdx = (idx + c.Size() - 1) % c.Size()
	} else {
		dstIdx = (idx + 1) % c.Size()
	}
	c.Isend(dstIdx, tagStream, s)
}
