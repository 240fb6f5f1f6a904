package tap

import (
	"bytes"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/unixpickle/dist-spmv/collcomm"
	"github.com/unixpickle/dist-spmv/simulator"
	"github.com/unixpickle/dist-spmv/spmat"
	"github.com/unixpickle/dist-spmv/topology"
)

const tolerance = 1e-6

type variant struct {
	name     string
	direct   bool
	twoStage bool
}

var variants = []variant{
	{name: "Direct", direct: true},
	{name: "TwoStage", twoStage: true},
	{name: "ThreeStage"},
}

func (v variant) build(c *collcomm.Comm, cfg Config, cols spmat.Columns) (*Package, error) {
	if v.direct {
		return NewDirectPackage(c, cols, cfg.Logger)
	}
	return NewPackage(c, cfg, cols, v.twoStage)
}

// splitConfig has thresholds small enough that the fixture
// spreads inter-host traffic over several processes.
func splitConfig(ppn int) Config {
	cfg := DefaultConfig(ppn)
	cfg.EagerThreshold = 16
	cfg.ShortThreshold = 8
	return cfg
}

func runCluster(t *testing.T, numProcs int, cfg Config, randomized bool, f func(c *collcomm.Comm)) {
	mapper, err := topology.New(cfg.Policy, numProcs, cfg.PPN)
	require.NoError(t, err)
	nodes := make([]*simulator.Node, numProcs)
	for i := range nodes {
		nodes[i] = simulator.NewHostNode(mapper.HostOf(i))
	}
	var network simulator.Network
	if randomized {
		network = simulator.RandomNetwork{}
	} else {
		network = simulator.NewHostNetwork(mapper.NumHosts(), 1000, 100, 0.1)
	}
	loop := simulator.NewEventLoop()
	collcomm.SpawnComms(loop, network, nodes, f)
	require.NoError(t, loop.Run())
}

// denseProduct multiplies a global matrix by a block
// vector given as a function of (index, column).
func denseProduct(entries []spmat.Entry, numRows, width int, x func(i, v int) float64) []float64 {
	res := make([]float64, numRows*width)
	for _, e := range entries {
		for v := 0; v < width; v++ {
			res[e.Row*width+v] += e.Value * x(e.Col, v)
		}
	}
	return res
}

func transposeEntries(entries []spmat.Entry) []spmat.Entry {
	res := make([]spmat.Entry, len(entries))
	for i, e := range entries {
		res[i] = spmat.Entry{Row: e.Col, Col: e.Row, Value: e.Value}
	}
	return res
}

func xValue(col, v int) float64 {
	return float64(col+1) + 10*float64(v)
}

func bValue(row, v int) float64 {
	return float64(row%5+1) - 0.5*float64(v)
}

// checkProducts runs every multiply entry point with a
// package and compares against serial products.
func checkProducts(t *testing.T, c *collcomm.Comm, pkg *Package, mat *spmat.Matrix,
	entries []spmat.Entry, width int) {
	part := mat.Part
	expected := denseProduct(entries, part.GlobalRows, width, xValue)
	expectedT := denseProduct(transposeEntries(entries), part.GlobalCols, width, bValue)

	x := make([]float64, part.LocalCols*width)
	for i := 0; i < part.LocalCols; i++ {
		for v := 0; v < width; v++ {
			x[i*width+v] = xValue(part.FirstCol+i, v)
		}
	}
	localExpected := expected[part.FirstRow*width : (part.FirstRow+part.LocalRows)*width]

	// Products are repeated to check that packages can be
	// reused.
	y := make([]float64, part.LocalRows*width)
	for i := 0; i < 2; i++ {
		for j := range y {
			y[j] = 1000
		}
		pkg.MultBlock(mat, x, y, width)
		assert.InDeltaSlice(t, localExpected, y, tolerance, "rank %d product", c.Rank())
	}

	for j := range y {
		y[j] = 1
	}
	pkg.MultAppendBlock(mat, x, y, width)
	for j, val := range localExpected {
		assert.InDelta(t, val+1, y[j], tolerance, "rank %d append", c.Rank())
	}

	b := make([]float64, len(localExpected))
	for j, val := range localExpected {
		b[j] = val + 2
	}
	r := make([]float64, len(b))
	pkg.ResidualBlock(mat, x, b, r, width)
	for _, val := range r {
		assert.InDelta(t, 2, val, tolerance, "rank %d residual", c.Rank())
	}

	bLocal := make([]float64, part.LocalRows*width)
	for i := 0; i < part.LocalRows; i++ {
		for v := 0; v < width; v++ {
			bLocal[i*width+v] = bValue(part.FirstRow+i, v)
		}
	}
	xT := make([]float64, len(x))
	for i := 0; i < 2; i++ {
		pkg.MultTBlock(mat, bLocal, xT, width)
		assert.InDeltaSlice(t, expectedT[part.FirstCol*width:(part.FirstCol+part.LocalCols)*width],
			xT, tolerance, "rank %d transpose", c.Rank())
	}
}

func fixtureEntries() []spmat.Entry {
	var res []spmat.Entry
	for rank := 0; rank < spmat.FixtureProcs; rank++ {
		res = append(res, spmat.FixtureEntries(rank)...)
	}
	return res
}

func TestPackageFixture(t *testing.T) {
	entries := fixtureEntries()
	configs := map[string]Config{
		"Default": DefaultConfig(4),
		"Split":   splitConfig(4),
	}
	for cfgName, baseCfg := range configs {
		for _, policy := range []topology.Policy{topology.BlockMajor, topology.RowMajor, topology.Snake} {
			cfg := baseCfg
			cfg.Policy = policy
			for _, v := range variants {
				for _, randomized := range []bool{false, true} {
					name := fmt.Sprintf("%s/%s/%s/Random=%v", cfgName, policy, v.name, randomized)
					t.Run(name, func(t *testing.T) {
						runCluster(t, spmat.FixtureProcs, cfg, randomized, func(c *collcomm.Comm) {
							mat := spmat.Fixture(c)
							pkg, err := v.build(c, cfg, mat.Columns())
							if !assert.NoError(t, err) {
								return
							}
							for _, width := range []int{1, 3} {
								checkProducts(t, c, pkg, mat, entries, width)
							}
						})
					})
				}
			}
		}
	}
}

func TestPackageBanded(t *testing.T) {
	const (
		size      = 90
		bandwidth = 3
		extra     = 2
		seed      = 42
	)
	var entries []spmat.Entry
	for row := 0; row < size; row++ {
		entries = append(entries, spmat.BandedRow(size, bandwidth, extra, seed, row)...)
	}
	for _, allreduceName := range []string{"naive", "tree", "stream"} {
		cfg := splitConfig(3)
		cfg.Policy = topology.Snake
		cfg.Allreduce = allreduceName
		for _, v := range variants {
			t.Run(allreduceName+"/"+v.name, func(t *testing.T) {
				runCluster(t, 12, cfg, true, func(c *collcomm.Comm) {
					mat := spmat.Banded(c, size, bandwidth, extra, seed)
					pkg, err := v.build(c, cfg, mat.Columns())
					if !assert.NoError(t, err) {
						return
					}
					checkProducts(t, c, pkg, mat, entries, 2)
				})
			})
		}
	}
}

// deliveredPositions lists the off-process vector
// positions written by the last stage of every route.
func deliveredPositions(p *Package) []int {
	var res []int
	if p.local != nil {
		for k := 0; k < p.local.recv.Size(); k++ {
			res = append(res, p.local.recvPosition(k))
		}
	}
	last := p.recv
	if last == nil {
		last = p.global
	}
	for k := 0; k < last.recv.Size(); k++ {
		res = append(res, last.recvPosition(k))
	}
	sort.Ints(res)
	return res
}

func TestPackageCoverage(t *testing.T) {
	for _, v := range variants {
		t.Run(v.name, func(t *testing.T) {
			cfg := splitConfig(4)
			runCluster(t, spmat.FixtureProcs, cfg, true, func(c *collcomm.Comm) {
				mat := spmat.Fixture(c)
				pkg, err := v.build(c, cfg, mat.Columns())
				if !assert.NoError(t, err) {
					return
				}
				expected := make([]int, len(mat.OffProcColumns()))
				for i := range expected {
					expected[i] = i
				}
				if len(expected) == 0 {
					expected = nil
				}
				assert.Equal(t, expected, deliveredPositions(pkg), "rank %d", c.Rank())
			})
		})
	}
}

func TestPackageAggregatesHosts(t *testing.T) {
	cfg := DefaultConfig(4)
	runCluster(t, spmat.FixtureProcs, cfg, false, func(c *collcomm.Comm) {
		mat := spmat.Fixture(c)
		pkg, err := NewPackage(c, cfg, mat.Columns(), false)
		if !assert.NoError(t, err) {
			return
		}
		mapper, _ := topology.New(cfg.Policy, c.Size(), cfg.PPN)
		stats := pkg.Stats()
		names := make([]string, len(stats))
		for i, s := range stats {
			names[i] = s.Name
		}
		assert.Equal(t, []string{"L", "S", "G", "R"}, names)

		// With default thresholds, one process per host
		// receives from each remote host.
		global := stats[2]
		hosts := map[int]bool{}
		for _, peer := range global.RecvPartners {
			host := mapper.HostOf(peer)
			assert.NotEqual(t, mapper.HostOf(c.Rank()), host)
			assert.False(t, hosts[host], "rank %d receives twice from host %d", c.Rank(), host)
			hosts[host] = true
		}
		for _, peer := range stats[0].RecvPartners {
			assert.Less(t, peer, cfg.PPN)
		}
	})
}

func TestPackageDeterministic(t *testing.T) {
	for _, v := range variants {
		t.Run(v.name, func(t *testing.T) {
			cfg := splitConfig(4)
			cfg.Policy = topology.RowMajor
			runCluster(t, spmat.FixtureProcs, cfg, true, func(c *collcomm.Comm) {
				mat := spmat.Fixture(c)
				first, err := v.build(c, cfg, mat.Columns())
				if !assert.NoError(t, err) {
					return
				}
				second, err := v.build(c, cfg, mat.Columns())
				if !assert.NoError(t, err) {
					return
				}
				stats1, stats2 := first.Stats(), second.Stats()
				if !assert.Equal(t, len(stats1), len(stats2)) {
					return
				}
				for i, s1 := range stats1 {
					s2 := stats2[i]
					assert.Equal(t, s1.Name, s2.Name)
					assert.ElementsMatch(t, s1.SendPartners, s2.SendPartners)
					assert.ElementsMatch(t, s1.RecvPartners, s2.RecvPartners)
					assert.Equal(t, s1.SendSize, s2.SendSize)
					assert.Equal(t, s1.RecvSize, s2.RecvSize)
				}
				assert.NotEqual(t, first.ID(), second.ID())
			})
		})
	}
}

func TestPackageSharedID(t *testing.T) {
	cfg := DefaultConfig(4)
	runCluster(t, spmat.FixtureProcs, cfg, true, func(c *collcomm.Comm) {
		mat := spmat.Fixture(c)
		pkg, err := NewPackage(c, cfg, mat.Columns(), false)
		if !assert.NoError(t, err) {
			return
		}
		ids := collcomm.Allgather(c, pkg.ID())
		for _, id := range ids {
			assert.Equal(t, ids[0], id)
		}
	})
}

func TestPackageLogging(t *testing.T) {
	var buf bytes.Buffer
	cfg := DefaultConfig(4)
	cfg.Logger = slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	runCluster(t, spmat.FixtureProcs, cfg, false, func(c *collcomm.Comm) {
		_, err := NewPackage(c, cfg, spmat.Fixture(c).Columns(), false)
		assert.NoError(t, err)
	})
	out := buf.String()
	for _, stage := range []string{"L", "S", "G", "R"} {
		assert.Contains(t, out, "stage="+stage)
	}
	assert.Contains(t, out, "discovered hosts")
	assert.Equal(t, spmat.FixtureProcs*4, strings.Count(out, "msg=\"built stage\""))
}

func TestPackageErrors(t *testing.T) {
	t.Run("Layout", func(t *testing.T) {
		cfg := DefaultConfig(4)
		runCluster(t, 8, cfg, true, func(c *collcomm.Comm) {
			bad := cfg
			bad.PPN = 3
			_, err := NewPackage(c, bad, spmat.Columns{}, false)
			assert.ErrorIs(t, err, topology.ErrBadLayout)
		})
	})
	t.Run("Config", func(t *testing.T) {
		cfg := DefaultConfig(4)
		runCluster(t, 8, cfg, true, func(c *collcomm.Comm) {
			bad := cfg
			bad.EagerThreshold = 0
			_, err := NewPackage(c, bad, spmat.Columns{}, false)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	})
	t.Run("Columns", func(t *testing.T) {
		cfg := DefaultConfig(4)
		runCluster(t, 8, cfg, true, func(c *collcomm.Comm) {
			cols := spmat.Columns{OffProc: []int{0}, Owners: []int{c.Rank()}}
			_, err := NewPackage(c, cfg, cols, false)
			assert.ErrorIs(t, err, spmat.ErrBadColumns)
			_, err = NewDirectPackage(c, cols, nil)
			assert.ErrorIs(t, err, spmat.ErrBadColumns)
		})
	})
	t.Run("Unbuilt", func(t *testing.T) {
		var p *Package
		assert.Panics(t, func() { p.Mult(nil, nil, nil) })
		assert.Panics(t, func() { p.Stats() })
	})
}
