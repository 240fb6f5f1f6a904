// Command bench_tap compares communication packages for
// distributed sparse matrix-vector products on simulated
// clusters, and prints the results as a markdown table.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/unixpickle/dist-spmv/collcomm"
	"github.com/unixpickle/dist-spmv/simulator"
	"github.com/unixpickle/dist-spmv/spmat"
	"github.com/unixpickle/dist-spmv/tap"
	"github.com/unixpickle/dist-spmv/topology"
	"github.com/unixpickle/essentials"
	"golang.org/x/sync/errgroup"
)

// Variant is a way of building a communication package.
type Variant struct {
	Name     string
	Direct   bool
	TwoStage bool
}

var Variants = []Variant{
	{Name: "Direct", Direct: true},
	{Name: "2-stage", TwoStage: true},
	{Name: "3-stage"},
}

// RunInfo describes a specific cluster and matrix.
type RunInfo struct {
	NumHosts int
	Latency  float64
	NICRate  float64
	MemRate  float64

	Size      int
	Bandwidth int
	Extra     int
	Width     int
	Iters     int
}

// Result is the virtual time spent building a package
// and running one multiply with it.
type Result struct {
	Build float64
	Mult  float64
}

// Run simulates every process in its own Goroutine,
// builds a package, and times repeated multiplies.
func (r *RunInfo) Run(cfg tap.Config, variant Variant) (*Result, error) {
	numProcs := r.NumHosts * cfg.PPN
	mapper, err := topology.New(cfg.Policy, numProcs, cfg.PPN)
	if err != nil {
		return nil, err
	}
	nodes := make([]*simulator.Node, numProcs)
	for i := range nodes {
		nodes[i] = simulator.NewHostNode(mapper.HostOf(i))
	}
	network := simulator.NewHostNetwork(r.NumHosts, r.MemRate, r.NICRate, r.Latency)
	network.EagerLimit = float64(cfg.EagerThreshold)

	loop := simulator.NewEventLoop()
	errs := make([]error, numProcs)
	var result Result
	collcomm.SpawnComms(loop, network, nodes, func(c *collcomm.Comm) {
		mat := spmat.Banded(c, r.Size, r.Bandwidth, r.Extra, 1337)
		mat.Handle = c.Handle()

		c.Barrier()
		start := c.Handle().Time()
		var pkg *tap.Package
		if variant.Direct {
			pkg, errs[c.Rank()] = tap.NewDirectPackage(c, mat.Columns(), cfg.Logger)
		} else {
			pkg, errs[c.Rank()] = tap.NewPackage(c, cfg, mat.Columns(), variant.TwoStage)
		}
		if errs[c.Rank()] != nil {
			return
		}
		c.Barrier()
		built := c.Handle().Time()

		x := make([]float64, mat.Part.LocalCols*r.Width)
		y := make([]float64, mat.Part.LocalRows*r.Width)
		for i := range x {
			x[i] = 1
		}
		for i := 0; i < r.Iters; i++ {
			pkg.MultBlock(mat, x, y, r.Width)
		}
		c.Barrier()
		if c.Rank() == 0 {
			result.Build = built - start
			result.Mult = (c.Handle().Time() - built) / float64(r.Iters)
		}
	})
	if err := loop.Run(); err != nil {
		return nil, err
	}
	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return &result, nil
}

type options struct {
	ConfigPath string
	PPN        int
	Hosts      []int
	Latencies  []float64
	NICRate    float64
	MemRate    float64
	Size       int
	Bandwidth  int
	Extra      int
	Width      int
	Iters      int
	LogLevel   string
}

func main() {
	var opts options
	cmd := &cobra.Command{
		Use:   "bench_tap",
		Short: "Compare direct and topology-aware SpMV communication",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.OutOrStdout(), &opts)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&opts.ConfigPath, "config", "", "TOML file with TAP settings")
	flags.IntVar(&opts.PPN, "ppn", 4, "processes per host")
	flags.IntSliceVar(&opts.Hosts, "hosts", []int{2, 4, 8}, "host counts to simulate")
	flags.Float64SliceVar(&opts.Latencies, "latency", []float64{1e-6, 1e-4}, "inter-host latencies")
	flags.Float64Var(&opts.NICRate, "nic-rate", 1e9, "NIC rate in bytes per unit time")
	flags.Float64Var(&opts.MemRate, "mem-rate", 1e10, "intra-host copy rate in bytes per unit time")
	flags.IntVar(&opts.Size, "size", 20000, "matrix dimension")
	flags.IntVar(&opts.Bandwidth, "bandwidth", 50, "neighbors on each side of the diagonal")
	flags.IntVar(&opts.Extra, "extra", 4, "random long-range entries per row")
	flags.IntVar(&opts.Width, "width", 1, "block vector width")
	flags.IntVar(&opts.Iters, "iters", 3, "multiplies per package")
	flags.StringVar(&opts.LogLevel, "log-level", "info", "log level (debug, info, warn, error)")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(w io.Writer, opts *options) error {
	var level slog.Level
	if err := level.UnmarshalText([]byte(opts.LogLevel)); err != nil {
		return essentials.AddCtx("parse log level", err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	cfg := tap.DefaultConfig(opts.PPN)
	if opts.ConfigPath != "" {
		var err error
		cfg, err = tap.LoadConfig(opts.ConfigPath, opts.PPN)
		if err != nil {
			return err
		}
	}
	cfg, err := tap.ConfigFromEnv(cfg)
	if err != nil {
		return err
	}
	cfg.Logger = logger

	var runs []RunInfo
	for _, numHosts := range opts.Hosts {
		for _, latency := range opts.Latencies {
			runs = append(runs, RunInfo{
				NumHosts:  numHosts,
				Latency:   latency,
				NICRate:   opts.NICRate,
				MemRate:   opts.MemRate,
				Size:      opts.Size,
				Bandwidth: opts.Bandwidth,
				Extra:     opts.Extra,
				Width:     opts.Width,
				Iters:     opts.Iters,
			})
		}
	}

	results := make([][]*Result, len(runs))
	var group errgroup.Group
	for i, runInfo := range runs {
		i, runInfo := i, runInfo
		results[i] = make([]*Result, len(Variants))
		for j, variant := range Variants {
			j, variant := j, variant
			group.Go(func() error {
				res, err := runInfo.Run(cfg, variant)
				if err != nil {
					return fmt.Errorf("%d hosts, %s: %w", runInfo.NumHosts, variant.Name, err)
				}
				logger.Debug("finished run", "hosts", runInfo.NumHosts, "latency", runInfo.Latency,
					"variant", variant.Name, "build", res.Build, "mult", res.Mult)
				results[i][j] = res
				return nil
			})
		}
	}
	if err := group.Wait(); err != nil {
		return err
	}

	// Markdown table header.
	fmt.Fprintf(w, "| Hosts | PPN | Latency ")
	for _, variant := range Variants {
		fmt.Fprintf(w, "| %s build | %s mult ", variant.Name, variant.Name)
	}
	fmt.Fprintln(w, "|")
	for i := 0; i < 3+2*len(Variants); i++ {
		fmt.Fprint(w, "|:--")
	}
	fmt.Fprintln(w, "|")

	// Markdown table body.
	for i, runInfo := range runs {
		fmt.Fprintf(w, "| %d | %d | %s ", runInfo.NumHosts, cfg.PPN,
			strconv.FormatFloat(runInfo.Latency, 'E', -1, 64))
		for _, res := range results[i] {
			fmt.Fprintf(w, "| %f | %f ", res.Build, res.Mult)
		}
		fmt.Fprintln(w, "|")
	}
	return nil
}
