package collcomm

import (
	"github.com/unixpickle/dist-spmv/simulator"
	"golang.org/x/exp/constraints"
)

// FlopTime is the amount of virtual time it takes to
// perform a single arithmetic operation.
const FlopTime = 1e-9

// Number is an element type that can be reduced.
type Number interface {
	constraints.Integer | constraints.Float
}

// A ReduceFn is an operation that reduces many vectors
// into a single vector.
type ReduceFn[T Number] func(h *simulator.Handle, vecs ...[]T) []T

// Sum is a ReduceFn that computes a vector sum.
func Sum[T Number](h *simulator.Handle, vecs ...[]T) []T {
	return elementwise(h, vecs, func(x, y T) T {
		return x + y
	})
}

// Max is a ReduceFn that computes an element-wise max.
func Max[T Number](h *simulator.Handle, vecs ...[]T) []T {
	return elementwise(h, vecs, func(x, y T) T {
		if y > x {
			return y
		}
		return x
	})
}

// BitOr is a ReduceFn that computes an element-wise
// bitwise OR, such as the union of several bitmaps.
func BitOr[T constraints.Integer](h *simulator.Handle, vecs ...[]T) []T {
	return elementwise(h, vecs, func(x, y T) T {
		return x | y
	})
}

func elementwise[T Number](h *simulator.Handle, vecs [][]T, f func(x, y T) T) []T {
	for _, v := range vecs[1:] {
		if len(v) != len(vecs[0]) {
			panic("mismatching lengths")
		}
	}
	res := append([]T{}, vecs[0]...)
	for _, v := range vecs[1:] {
		for i, x := range v {
			res[i] = f(res[i], x)
		}
	}

	// Simulate computation time.
	h.Sleep(FlopTime * float64(len(vecs)*len(vecs[0])))

	return res
}
