// Package allreduce implements algorithms for summing or
// maxing vectors across every process in a Comm.
package allreduce

import (
	"fmt"

	"github.com/unixpickle/dist-spmv/collcomm"
)

// Tags used by the algorithms in this package.
const (
	tagNaive    = -200
	tagTreeUp   = -201
	tagTreeDown = -202
	tagStream   = -203
)

// Allreducer is an algorithm that can apply a ReduceFn to
// vectors that are distributed across processes.
//
// Every process in the Comm must call Allreduce with
// vectors of the same length, and every process gets an
// identical result.
// Consecutive calls on one Comm do not interfere.
type Allreducer[T collcomm.Number] interface {
	Allreduce(c *collcomm.Comm, data []T, fn collcomm.ReduceFn[T]) []T
}

// Names lists the algorithms accepted by New.
var Names = []string{"naive", "tree", "stream"}

// New creates an Allreducer by name.
func New[T collcomm.Number](name string) (Allreducer[T], error) {
	switch name {
	case "naive":
		return NaiveAllreducer[T]{}, nil
	case "tree":
		return TreeAllreducer[T]{}, nil
	case "stream":
		return StreamAllreducer[T]{}, nil
	default:
		return nil, fmt.Errorf("unknown allreduce algorithm: %q", name)
	}
}
