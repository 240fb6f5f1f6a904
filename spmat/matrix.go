package spmat

import (
	"fmt"
	"sort"

	"github.com/unixpickle/dist-spmv/collcomm"
	"github.com/unixpickle/dist-spmv/simulator"
	"golang.org/x/exp/slices"
)

// An Entry is a nonzero of a global matrix.
type Entry struct {
	Row   int
	Col   int
	Value float64
}

// csr is a compressed sparse row block.
type csr struct {
	rowPtr []int
	cols   []int
	vals   []float64
}

func (c *csr) nonzeros() int {
	return len(c.vals)
}

func (c *csr) mult(x, y []float64, width int) {
	for row := 0; row+1 < len(c.rowPtr); row++ {
		out := y[row*width : (row+1)*width]
		for k := c.rowPtr[row]; k < c.rowPtr[row+1]; k++ {
			in := x[c.cols[k]*width : (c.cols[k]+1)*width]
			for v, xv := range in {
				out[v] += c.vals[k] * xv
			}
		}
	}
}

func (c *csr) multT(b, x []float64, width int) {
	for row := 0; row+1 < len(c.rowPtr); row++ {
		in := b[row*width : (row+1)*width]
		for k := c.rowPtr[row]; k < c.rowPtr[row+1]; k++ {
			out := x[c.cols[k]*width : (c.cols[k]+1)*width]
			for v, bv := range in {
				out[v] += c.vals[k] * bv
			}
		}
	}
}

// A Matrix is the current process's rows of a distributed
// sparse matrix.
//
// Columns owned by the process form the on-process block,
// indexed by local column.
// The remaining columns form the off-process block,
// indexed by position in OffProcColumns.
type Matrix struct {
	Part *Partition

	// Handle, if set, is charged virtual time for every
	// multiply.
	Handle *simulator.Handle

	on      csr
	off     csr
	offCols []int
}

// NewMatrix creates a Matrix from the nonzeros of the
// current process's rows.
// Duplicate entries are summed.
func NewMatrix(part *Partition, entries []Entry) *Matrix {
	entries = append([]Entry{}, entries...)
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Row != entries[j].Row {
			return entries[i].Row < entries[j].Row
		}
		return entries[i].Col < entries[j].Col
	})

	var offCols []int
	for _, e := range entries {
		if e.Row < part.FirstRow || e.Row >= part.FirstRow+part.LocalRows {
			panic(fmt.Sprintf("row %d is not local", e.Row))
		}
		if !part.OwnsCol(e.Col) {
			offCols = append(offCols, e.Col)
		}
	}
	slices.Sort(offCols)
	offCols = slices.Compact(offCols)

	m := &Matrix{
		Part:    part,
		on:      csr{rowPtr: make([]int, part.LocalRows+1)},
		off:     csr{rowPtr: make([]int, part.LocalRows+1)},
		offCols: offCols,
	}
	for i, e := range entries {
		if i > 0 && entries[i-1].Row == e.Row && entries[i-1].Col == e.Col {
			block := &m.on
			if !part.OwnsCol(e.Col) {
				block = &m.off
			}
			block.vals[len(block.vals)-1] += e.Value
			continue
		}
		row := e.Row - part.FirstRow
		if part.OwnsCol(e.Col) {
			m.on.cols = append(m.on.cols, e.Col-part.FirstCol)
			m.on.vals = append(m.on.vals, e.Value)
			m.on.rowPtr[row+1]++
		} else {
			idx, _ := slices.BinarySearch(offCols, e.Col)
			m.off.cols = append(m.off.cols, idx)
			m.off.vals = append(m.off.vals, e.Value)
			m.off.rowPtr[row+1]++
		}
	}
	for i := 0; i < part.LocalRows; i++ {
		m.on.rowPtr[i+1] += m.on.rowPtr[i]
		m.off.rowPtr[i+1] += m.off.rowPtr[i]
	}
	return m
}

// OffProcColumns gets the sorted global indices of the
// off-process columns.
func (m *Matrix) OffProcColumns() []int {
	return m.offCols
}

// Columns gets the input for building a communication
// package for this matrix.
func (m *Matrix) Columns() Columns {
	owners := make([]int, len(m.offCols))
	for i, col := range m.offCols {
		owners[i] = m.Part.ColOwner(col)
	}
	return Columns{
		FirstCol:  m.Part.FirstCol,
		LocalCols: m.Part.LocalCols,
		OffProc:   append([]int{}, m.offCols...),
		Owners:    owners,
	}
}

// Nonzeros gets the number of stored entries in the
// on-process and off-process blocks.
func (m *Matrix) Nonzeros() (on, off int) {
	return m.on.nonzeros(), m.off.nonzeros()
}

// OnProcMult computes y += A_on x.
func (m *Matrix) OnProcMult(x, y []float64, width int) {
	m.on.mult(x, y, width)
	m.charge(m.on.nonzeros() * width)
}

// OffProcMult computes y += A_off xOff.
func (m *Matrix) OffProcMult(xOff, y []float64, width int) {
	m.off.mult(xOff, y, width)
	m.charge(m.off.nonzeros() * width)
}

// OnProcMultT computes x += A_on^T b.
func (m *Matrix) OnProcMultT(b, x []float64, width int) {
	m.on.multT(b, x, width)
	m.charge(m.on.nonzeros() * width)
}

// OffProcMultT computes xOff += A_off^T b.
func (m *Matrix) OffProcMultT(b, xOff []float64, width int) {
	m.off.multT(b, xOff, width)
	m.charge(m.off.nonzeros() * width)
}

func (m *Matrix) charge(products int) {
	if m.Handle != nil {
		m.Handle.Sleep(collcomm.FlopTime * 2 * float64(products))
	}
}
