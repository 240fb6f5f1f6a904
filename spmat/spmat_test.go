package spmat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/unixpickle/dist-spmv/collcomm"
	"github.com/unixpickle/dist-spmv/simulator"
)

func runProcs(t *testing.T, numProcs int, f func(c *collcomm.Comm)) {
	loop := simulator.NewEventLoop()
	nodes := make([]*simulator.Node, numProcs)
	for i := range nodes {
		nodes[i] = simulator.NewNode()
	}
	collcomm.SpawnComms(loop, simulator.RandomNetwork{}, nodes, f)
	require.NoError(t, loop.Run())
}

func TestFixturePartition(t *testing.T) {
	runProcs(t, FixtureProcs, func(c *collcomm.Comm) {
		m := Fixture(c)
		part := m.Part
		assert.Equal(t, 16, part.GlobalRows)
		assert.Equal(t, 6, part.GlobalCols)
		assert.Equal(t, []int{0, 0, 1, 2, 2, 3, 4, 5, 6}, part.ColStarts)

		expectedOwners := []int{1, 2, 4, 5, 6, 7}
		for col, owner := range expectedOwners {
			assert.Equal(t, owner, part.ColOwner(col))
		}
		assert.Panics(t, func() { part.ColOwner(6) })

		cols := m.Columns()
		require.NoError(t, cols.Validate(c.Rank(), c.Size()))
		for i, col := range cols.OffProc {
			assert.Equal(t, expectedOwners[col], cols.Owners[i])
			assert.False(t, part.OwnsCol(col))
		}
		switch c.Rank() {
		case 0:
			assert.Equal(t, []int{4, 5}, cols.OffProc)
			assert.Equal(t, []int{6, 7}, cols.Owners)
		case 7:
			assert.Equal(t, []int{0, 1, 3}, cols.OffProc)
			on, off := m.Nonzeros()
			assert.Equal(t, 1, on)
			assert.Equal(t, 4, off)
		}
	})
}

func TestMatrixMult(t *testing.T) {
	runProcs(t, 1, func(c *collcomm.Comm) {
		// Pretend the process owns columns [1, 3) of a
		// larger matrix.
		part := &Partition{
			GlobalRows: 2,
			GlobalCols: 5,
			LocalRows:  2,
			FirstCol:   1,
			LocalCols:  2,
			ColStarts:  []int{0, 5},
		}
		m := NewMatrix(part, []Entry{
			{Row: 0, Col: 1, Value: 2},
			{Row: 0, Col: 4, Value: 3},
			{Row: 1, Col: 0, Value: -1},
			{Row: 1, Col: 2, Value: 1},
			{Row: 1, Col: 2, Value: 4},
		})
		m.Handle = c.Handle()
		assert.Equal(t, []int{0, 4}, m.OffProcColumns())

		x := []float64{1, 10, 2, 20}
		xOff := []float64{5, 50, 7, 70}
		y := make([]float64, 4)
		m.OnProcMult(x, y, 2)
		m.OffProcMult(xOff, y, 2)
		assert.Equal(t, []float64{2 + 21, 20 + 210, 10 - 5, 100 - 50}, y)

		b := []float64{1, 2, 3, 4}
		xT := make([]float64, 4)
		xOffT := make([]float64, 4)
		m.OnProcMultT(b, xT, 2)
		m.OffProcMultT(b, xOffT, 2)
		assert.Equal(t, []float64{2, 4, 15, 20}, xT)
		assert.Equal(t, []float64{-3, -4, 3, 6}, xOffT)

		assert.Greater(t, c.Handle().Time(), 0.0)
	})
}

func TestColumnsValidate(t *testing.T) {
	cases := map[string]Columns{
		"Lengths":  {OffProc: []int{1}},
		"Owner":    {OffProc: []int{1}, Owners: []int{9}},
		"Self":     {OffProc: []int{1}, Owners: []int{0}},
		"Local":    {FirstCol: 1, LocalCols: 1, OffProc: []int{1}, Owners: []int{2}},
		"Repeated": {OffProc: []int{1, 1}, Owners: []int{2, 2}},
	}
	for name, cols := range cases {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, cols.Validate(0, 4), ErrBadColumns)
		})
	}
	assert.NoError(t, Columns{OffProc: []int{1}, Owners: []int{2}}.Validate(0, 4))
}

func TestBanded(t *testing.T) {
	row := BandedRow(10, 2, 0, 1, 0)
	assert.Equal(t, []Entry{{0, 0, 4}, {0, 1, -1}, {0, 2, -1}}, row)
	assert.Equal(t, BandedRow(100, 3, 5, 7, 42), BandedRow(100, 3, 5, 7, 42))

	runProcs(t, 3, func(c *collcomm.Comm) {
		m := Banded(c, 10, 2, 1, 1)
		assert.Equal(t, 10, m.Part.GlobalRows)
		start, count := evenRange(10, 3, c.Rank())
		assert.Equal(t, start, m.Part.FirstRow)
		assert.Equal(t, count, m.Part.LocalRows)
		for _, col := range m.OffProcColumns() {
			assert.False(t, m.Part.OwnsCol(col))
		}
	})
	for _, c := range []struct{ idx, start, count int }{{0, 0, 4}, {1, 4, 3}, {2, 7, 3}} {
		start, count := evenRange(10, 3, c.idx)
		assert.Equal(t, c.start, start)
		assert.Equal(t, c.count, count)
	}
}
