package allreduce

import "github.com/unixpickle/dist-spmv/collcomm"

// A NaiveAllreducer sends every vector from every process
// to every other process.
type NaiveAllreducer[T collcomm.Number] struct{}

// Allreduce runs fn() on all of the processes' vectors on
// every process.
func (n NaiveAllreducer[T]) Allreduce(c *collcomm.Comm, data []T,
	fn collcomm.ReduceFn[T]) []T {
	for i := 0; i < c.Size(); i++ {
		if i != c.Rank() {
			c.Isend(i, tagNaive, data)
		}
	}

	// Reducing in rank order makes the result identical
	// on every process.
	gatheredVecs := make([][]T, c.Size())
	for i := range gatheredVecs {
		if i == c.Rank() {
			gatheredVecs[i] = data
		} else {
			gatheredVecs[i], _ = collcomm.RecvSlice[T](c, i, tagNaive)
		}
	}

	return fn(c.Handle(), gatheredVecs...)
}
