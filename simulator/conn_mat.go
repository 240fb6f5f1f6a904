package simulator

// A ConnMat is a dense square matrix of transfer rates.
// Row i holds the rates out of endpoint i, and column j
// holds the rates into endpoint j.
//
// Endpoints are nodes or hosts, depending on the network.
type ConnMat struct {
	rows [][]float64
}

// NewConnMat creates an all-zero connection matrix.
func NewConnMat(numEndpoints int) *ConnMat {
	backing := make([]float64, numEndpoints*numEndpoints)
	rows := make([][]float64, numEndpoints)
	for i := range rows {
		rows[i] = backing[i*numEndpoints : (i+1)*numEndpoints]
	}
	return &ConnMat{rows: rows}
}

// NumEndpoints returns the number of endpoints.
func (c *ConnMat) NumEndpoints() int {
	return len(c.rows)
}

// Get an entry in the matrix.
func (c *ConnMat) Get(src, dst int) float64 {
	c.check(src, dst)
	return c.rows[src][dst]
}

// Set an entry in the matrix.
func (c *ConnMat) Set(src, dst int, value float64) {
	c.check(src, dst)
	c.rows[src][dst] = value
}

// Add adds to an entry in the matrix.
func (c *ConnMat) Add(src, dst int, value float64) {
	c.check(src, dst)
	c.rows[src][dst] += value
}

// SumDest computes the total rate into dst.
func (c *ConnMat) SumDest(dst int) float64 {
	c.check(0, dst)
	var sum float64
	for _, row := range c.rows {
		sum += row[dst]
	}
	return sum
}

// SumSource computes the total rate out of src.
func (c *ConnMat) SumSource(src int) float64 {
	c.check(src, 0)
	var sum float64
	for _, x := range c.rows[src] {
		sum += x
	}
	return sum
}

// ScaleDest scales every rate into dst.
func (c *ConnMat) ScaleDest(dst int, scale float64) {
	c.check(0, dst)
	for _, row := range c.rows {
		row[dst] *= scale
	}
}

// ScaleSource scales every rate out of src.
func (c *ConnMat) ScaleSource(src int, scale float64) {
	c.check(src, 0)
	row := c.rows[src]
	for i := range row {
		row[i] *= scale
	}
}

func (c *ConnMat) check(src, dst int) {
	n := len(c.rows)
	if src < 0 || dst < 0 || src >= n || dst >= n {
		panic("index out of bounds")
	}
}
