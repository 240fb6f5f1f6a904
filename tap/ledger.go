package tap

import (
	"errors"
	"fmt"

	"github.com/unixpickle/dist-spmv/collcomm"
	"github.com/unixpickle/essentials"
)

// ErrFinalized is returned when a Ledger is finalized a
// second time.
var ErrFinalized = errors.New("ledger already finalized")

// A Ledger records the messages one side of a stage
// exchanges with its partners.
//
// Messages are appended with Add while the communication
// pattern is discovered.
// Finalize then packs the positions of every message into
// one index array, and the Ledger is read-only from then
// on.
type Ledger struct {
	partners  []int
	counts    []int
	positions [][]int

	finalized bool
	indices   []int
	offsets   []int
	requests  []*collcomm.Request
}

// Add records a message of count elements exchanged with
// partner.
//
// If positions is nil, the message content is implicit and
// its positions are the next count slots of the index
// array.
// Otherwise, positions must have count entries.
//
// A Ledger may only hold one message per partner.
func (l *Ledger) Add(partner, count int, positions []int) {
	if l.finalized {
		panic("cannot add a message to a finalized ledger")
	}
	if positions != nil && len(positions) != count {
		panic(fmt.Sprintf("message has %d positions but count %d", len(positions), count))
	}
	if essentials.Contains(l.partners, partner) {
		panic(fmt.Sprintf("duplicate message for partner %d", partner))
	}
	l.partners = append(l.partners, partner)
	l.counts = append(l.counts, count)
	if positions != nil {
		positions = append([]int{}, positions...)
	}
	l.positions = append(l.positions, positions)
}

// Finalize computes the offsets of every message and
// builds the index array.
func (l *Ledger) Finalize() error {
	if l.finalized {
		return ErrFinalized
	}
	l.finalized = true
	l.offsets = make([]int, len(l.counts)+1)
	for i, count := range l.counts {
		l.offsets[i+1] = l.offsets[i] + count
	}
	l.indices = make([]int, l.offsets[len(l.counts)])
	for i, positions := range l.positions {
		if positions == nil {
			for j := l.offsets[i]; j < l.offsets[i+1]; j++ {
				l.indices[j] = j
			}
		} else {
			copy(l.indices[l.offsets[i]:], positions)
		}
	}
	l.positions = nil
	l.requests = make([]*collcomm.Request, len(l.counts))
	return nil
}

// Finalized checks if Finalize has been called.
func (l *Ledger) Finalized() bool {
	return l.finalized
}

// NumMessages gets the number of messages.
func (l *Ledger) NumMessages() int {
	return len(l.partners)
}

// Size gets the total number of elements in all messages.
func (l *Ledger) Size() int {
	l.mustBeFinal()
	return l.offsets[len(l.offsets)-1]
}

// Partner gets the partner rank of message i.
func (l *Ledger) Partner(i int) int {
	return l.partners[i]
}

// Partners gets the partner of every message, in order.
func (l *Ledger) Partners() []int {
	return append([]int{}, l.partners...)
}

// Extent gets the slice of the index array that belongs
// to message i.
func (l *Ledger) Extent(i int) (start, end int) {
	l.mustBeFinal()
	return l.offsets[i], l.offsets[i+1]
}

// Offsets gets the prefix offsets of the messages.
// There is one more offset than there are messages.
func (l *Ledger) Offsets() []int {
	l.mustBeFinal()
	return l.offsets
}

// Indices gets the packed positions of every message.
func (l *Ledger) Indices() []int {
	l.mustBeFinal()
	return l.indices
}

// remap rewrites every index through f.
// It is only used while a Package is being assembled.
func (l *Ledger) remap(f func(int) int) {
	l.mustBeFinal()
	for i, idx := range l.indices {
		l.indices[i] = f(idx)
	}
}

func (l *Ledger) mustBeFinal() {
	if !l.finalized {
		panic("ledger has not been finalized")
	}
}
