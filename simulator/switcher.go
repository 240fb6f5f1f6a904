package simulator

// A Switcher decides how rapidly data flows between
// endpoints that share a switch, including what happens
// when an endpoint is oversubscribed.
type Switcher interface {
	// SwitchedRates takes a matrix with a 1 wherever an
	// endpoint wants to send to another endpoint, and
	// overwrites it with the rate of every connection.
	SwitchedRates(mat *ConnMat)
}

// A GreedyDropSwitcher models endpoints with fixed upload
// and download capacities, like the NICs of a set of
// hosts.
//
// Each sender splits its upload capacity evenly across
// its destinations.
// A receiver whose incoming traffic exceeds its download
// capacity drops the excess uniformly, so every incoming
// connection is scaled down by the same factor.
type GreedyDropSwitcher struct {
	UploadRates   []float64
	DownloadRates []float64
}

// NewGreedyDropSwitcher creates a GreedyDropSwitcher in
// which every endpoint uploads and downloads at rate.
func NewGreedyDropSwitcher(numEndpoints int, rate float64) *GreedyDropSwitcher {
	rates := make([]float64, numEndpoints)
	for i := range rates {
		rates[i] = rate
	}
	return &GreedyDropSwitcher{
		UploadRates:   rates,
		DownloadRates: rates,
	}
}

// NumEndpoints gets the number of endpoints the switch
// connects.
func (g *GreedyDropSwitcher) NumEndpoints() int {
	return len(g.UploadRates)
}

// SwitchedRates performs the switching algorithm.
func (g *GreedyDropSwitcher) SwitchedRates(mat *ConnMat) {
	if mat.NumEndpoints() != g.NumEndpoints() {
		panic("unexpected number of endpoints")
	}
	for src, rate := range g.UploadRates {
		if fanOut := mat.SumSource(src); fanOut > 0 {
			mat.ScaleSource(src, rate/fanOut)
		}
	}
	for dst, rate := range g.DownloadRates {
		if incoming := mat.SumDest(dst); incoming > rate {
			mat.ScaleDest(dst, rate/incoming)
		}
	}
}
