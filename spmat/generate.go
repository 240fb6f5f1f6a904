package spmat

import (
	"fmt"
	"math/rand"

	"github.com/unixpickle/dist-spmv/collcomm"
)

// FixtureProcs is the number of processes the fixture
// matrix is distributed over.
const FixtureProcs = 8

var fixtureRows = [FixtureProcs]int{2, 3, 3, 1, 2, 1, 2, 2}
var fixtureCols = [FixtureProcs]int{0, 1, 1, 0, 1, 1, 1, 1}

// fixtureNonzeros lists (local row, global column) pairs
// for every rank.
var fixtureNonzeros = [FixtureProcs][][2]int{
	{{0, 4}, {0, 5}, {1, 5}},
	{{0, 5}, {1, 0}, {1, 2}, {2, 3}},
	{{0, 1}, {0, 5}, {1, 1}, {1, 3}, {2, 0}},
	{{0, 4}},
	{{0, 2}, {0, 5}, {1, 0}},
	{{0, 2}, {0, 3}},
	{{0, 1}, {0, 4}, {1, 2}, {1, 4}},
	{{0, 1}, {0, 3}, {1, 0}, {1, 3}, {1, 5}},
}

// FixtureEntries gets the nonzeros of the 16x6 fixture
// matrix that belong to a rank.
//
// Some ranks own no columns and every rank references
// columns owned by both nearby and distant ranks, which
// makes the matrix useful for checking communication
// packages.
func FixtureEntries(rank int) []Entry {
	firstRow := 0
	for _, n := range fixtureRows[:rank] {
		firstRow += n
	}
	var res []Entry
	for _, nz := range fixtureNonzeros[rank] {
		res = append(res, Entry{Row: firstRow + nz[0], Col: nz[1], Value: 1})
	}
	return res
}

// Fixture creates the current process's slice of the
// fixture matrix.
// The Comm must have FixtureProcs processes.
func Fixture(c *collcomm.Comm) *Matrix {
	if c.Size() != FixtureProcs {
		panic(fmt.Sprintf("fixture needs %d processes, got %d", FixtureProcs, c.Size()))
	}
	var firstRow, firstCol int
	for i := 0; i < c.Rank(); i++ {
		firstRow += fixtureRows[i]
		firstCol += fixtureCols[i]
	}
	part := NewPartition(c, firstRow, fixtureRows[c.Rank()], firstCol, fixtureCols[c.Rank()])
	return NewMatrix(part, FixtureEntries(c.Rank()))
}

// BandedRow generates a row of a size x size matrix that
// looks like a discretized Laplacian.
//
// The row has a diagonal entry, bandwidth neighbors on
// each side, and extra random entries that couple it to
// far away rows.
// The result only depends on the arguments, so every
// process can generate any row.
func BandedRow(size, bandwidth, extra int, seed int64, row int) []Entry {
	gen := rand.New(rand.NewSource(seed + int64(row)))
	res := []Entry{{Row: row, Col: row, Value: 2 * float64(bandwidth+extra)}}
	for k := 1; k <= bandwidth; k++ {
		for _, col := range []int{row - k, row + k} {
			if col >= 0 && col < size {
				res = append(res, Entry{Row: row, Col: col, Value: -1})
			}
		}
	}
	for i := 0; i < extra; i++ {
		col := gen.Intn(size)
		if col != row {
			res = append(res, Entry{Row: row, Col: col, Value: -gen.Float64()})
		}
	}
	return res
}

// Banded creates the current process's slice of a banded
// matrix, with rows and columns split evenly.
func Banded(c *collcomm.Comm, size, bandwidth, extra int, seed int64) *Matrix {
	part := EvenPartition(c, size)
	var entries []Entry
	for row := part.FirstRow; row < part.FirstRow+part.LocalRows; row++ {
		entries = append(entries, BandedRow(size, bandwidth, extra, seed, row)...)
	}
	return NewMatrix(part, entries)
}
