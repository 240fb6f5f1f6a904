// Package spmat stores a sparse matrix whose rows are
// distributed across the processes of a Comm.
package spmat

import (
	"errors"
	"fmt"
	"sort"

	"github.com/unixpickle/dist-spmv/collcomm"
)

// ErrBadColumns is returned for off-process columns that
// cannot be fetched from their owners.
var ErrBadColumns = errors.New("invalid off-process columns")

// A Partition describes which rows and columns of a
// global matrix the current process owns.
//
// Each process owns a contiguous range of rows and a
// contiguous range of columns, and ranges are ordered by
// rank.
type Partition struct {
	GlobalRows int
	GlobalCols int

	FirstRow  int
	LocalRows int
	FirstCol  int
	LocalCols int

	// ColStarts[i] is the first column owned by rank i.
	// The last entry is GlobalCols.
	ColStarts []int
}

// NewPartition creates a Partition from the current
// process's ranges.
//
// It is collective over c, which gathers every process's
// first column.
func NewPartition(c *collcomm.Comm, firstRow, localRows, firstCol, localCols int) *Partition {
	type extent struct {
		Rows int
		Cols int
	}
	extents := collcomm.Allgather(c, extent{Rows: localRows, Cols: localCols})
	res := &Partition{
		FirstRow:  firstRow,
		LocalRows: localRows,
		FirstCol:  firstCol,
		LocalCols: localCols,
		ColStarts: make([]int, len(extents)+1),
	}
	for i, e := range extents {
		res.GlobalRows += e.Rows
		res.ColStarts[i+1] = res.ColStarts[i] + e.Cols
	}
	res.GlobalCols = res.ColStarts[len(extents)]
	if res.ColStarts[c.Rank()] != firstCol {
		panic(fmt.Sprintf("rank %d: column range starts at %d, expected %d", c.Rank(), firstCol,
			res.ColStarts[c.Rank()]))
	}
	return res
}

// EvenPartition splits rows and columns of a square
// matrix as evenly as possible, giving lower ranks the
// extra rows.
func EvenPartition(c *collcomm.Comm, size int) *Partition {
	start, count := evenRange(size, c.Size(), c.Rank())
	return NewPartition(c, start, count, start, count)
}

func evenRange(size, parts, idx int) (start, count int) {
	count = size / parts
	extra := size % parts
	start = idx*count + min(idx, extra)
	if idx < extra {
		count++
	}
	return start, count
}

// OwnsCol checks if a global column is local.
func (p *Partition) OwnsCol(col int) bool {
	return col >= p.FirstCol && col < p.FirstCol+p.LocalCols
}

// ColOwner gets the rank that owns a global column.
func (p *Partition) ColOwner(col int) int {
	if col < 0 || col >= p.GlobalCols {
		panic(fmt.Sprintf("column %d out of range [0, %d)", col, p.GlobalCols))
	}
	// Ranks with no columns end where they start, so they
	// never match.
	return sort.Search(len(p.ColStarts)-1, func(i int) bool {
		return p.ColStarts[i+1] > col
	})
}

// Columns describes the vector entries a process owns
// and the remote entries its rows reference.
type Columns struct {
	FirstCol  int
	LocalCols int

	// OffProc lists the needed global columns owned by
	// other processes.
	// Values for OffProc[i] are stored at index i of the
	// off-process vector.
	OffProc []int

	// Owners[i] is the rank that owns OffProc[i].
	Owners []int
}

// Validate checks that the columns are consistent for a
// process with the given rank in a group of numProcs.
func (c Columns) Validate(rank, numProcs int) error {
	if len(c.OffProc) != len(c.Owners) {
		return fmt.Errorf("%w: %d columns but %d owners", ErrBadColumns, len(c.OffProc),
			len(c.Owners))
	}
	if c.FirstCol < 0 || c.LocalCols < 0 {
		return fmt.Errorf("%w: bad local range [%d, %d)", ErrBadColumns, c.FirstCol,
			c.FirstCol+c.LocalCols)
	}
	seen := map[int]bool{}
	for i, col := range c.OffProc {
		owner := c.Owners[i]
		switch {
		case owner < 0 || owner >= numProcs:
			return fmt.Errorf("%w: column %d has owner %d", ErrBadColumns, col, owner)
		case owner == rank:
			return fmt.Errorf("%w: column %d is owned locally", ErrBadColumns, col)
		case col >= c.FirstCol && col < c.FirstCol+c.LocalCols:
			return fmt.Errorf("%w: column %d is in the local range", ErrBadColumns, col)
		case seen[col]:
			return fmt.Errorf("%w: column %d is listed twice", ErrBadColumns, col)
		}
		seen[col] = true
	}
	return nil
}
