package allreduce

import "github.com/unixpickle/dist-spmv/collcomm"

// A TreeAllreducer arranges the ranks in a binary tree
// and performs a reduction by going up the tree to a
// root, and then back down the tree to the leaves.
type TreeAllreducer[T collcomm.Number] struct{}

// Allreduce calls fn on vectors along a tree and returns
// the resulting reduced vector.
func (t TreeAllreducer[T]) Allreduce(c *collcomm.Comm, data []T,
	fn collcomm.ReduceFn[T]) []T {
	parent, children := positionInTree(c.Rank(), c.Size())

	messages := [][]T{data}
	for _, child := range children {
		msg, _ := collcomm.RecvSlice[T](c, child, tagTreeUp)
		messages = append(messages, msg)
	}

	finalVector := fn(c.Handle(), messages...)
	if parent >= 0 {
		c.Isend(parent, tagTreeUp, finalVector)
		finalVector, _ = collcomm.RecvSlice[T](c, parent, tagTreeDown)
	}

	for _, child := range children {
		c.Isend(child, tagTreeDown, finalVector)
	}

	return finalVector
}

// positionInTree returns the child ranks and parent rank
// for a process in the reduction tree.
//
// There may be no children.
// The parent is -1 for the root.
func positionInTree(idx, size int) (parent int, children []int) {
	parent = -1
	for depth := uint(0); true; depth++ {
		rowSize := 1 << depth
		rowStart := rowSize - 1
		if idx >= rowStart+rowSize {
			continue
		}
		rowIdx := idx - rowStart
		if depth > 0 {
			parent = rowIdx/2 + (rowSize/2 - 1)
		}
		firstChild := rowIdx*2 + (rowSize*2 - 1)
		for i := 0; i < 2; i++ {
			if firstChild+i < size {
				children = append(children, firstChild+i)
			}
		}
		return
	}
	panic("unreachable")
}
