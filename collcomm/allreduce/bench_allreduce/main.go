// Command bench_allreduce times the allreduce algorithms
// on the reductions a communication package runs while it
// is built, and prints a markdown table.
package main

import (
	"fmt"
	"strconv"

	"github.com/unixpickle/dist-spmv/collcomm"
	"github.com/unixpickle/dist-spmv/collcomm/allreduce"
	"github.com/unixpickle/dist-spmv/simulator"
	"github.com/unixpickle/essentials"
)

// RunInfo describes a specific network configuration.
type RunInfo struct {
	NumHosts int
	PPN      int
	Latency  float64
	Rate     float64
}

// Run creates a network and drops each process into its
// own Goroutine.
// Every process gets a Comm spanning its own host.
func (r *RunInfo) Run(loop *simulator.EventLoop, commFn func(c *collcomm.Comm)) {
	nodes := make([]*simulator.Node, r.NumHosts*r.PPN)
	for i := range nodes {
		nodes[i] = simulator.NewHostNode(i / r.PPN)
	}
	network := simulator.NewHostNetwork(r.NumHosts, r.Rate*10, r.Rate, r.Latency)
	collcomm.SpawnComms(loop, network, nodes, func(c *collcomm.Comm) {
		host := c.Rank() / r.PPN
		ranks := make([]int, r.PPN)
		for i := range ranks {
			ranks[i] = host*r.PPN + i
		}
		commFn(c.Sub(ranks))
	})
	essentials.Must(loop.Run())
}

func main() {
	runs := []RunInfo{
		{NumHosts: 2, PPN: 4, Latency: 0.1, Rate: 1e6},
		{NumHosts: 4, PPN: 16, Latency: 1e-3, Rate: 1e6},
		{NumHosts: 4, PPN: 32, Latency: 0.1, Rate: 1e9},
		{NumHosts: 4, PPN: 32, Latency: 1e-4, Rate: 1e9},
	}
	bitmapSizes := []int{1, 16, 1024}

	// Markdown table header.
	fmt.Print("| Hosts | PPN | Latency | Rate | Words ")
	for _, name := range allreduce.Names {
		fmt.Printf("| %s ", name)
	}
	fmt.Println("|")
	for i := 0; i < 5+len(allreduce.Names); i++ {
		fmt.Print("|:--")
	}
	fmt.Println("|")

	// Markdown table body.
	for _, runInfo := range runs {
		for _, size := range bitmapSizes {
			fmt.Printf(
				"| %d | %d | %s | %s | %d ",
				runInfo.NumHosts,
				runInfo.PPN,
				strconv.FormatFloat(runInfo.Latency, 'f', -1, 64),
				strconv.FormatFloat(runInfo.Rate, 'E', -1, 64),
				size,
			)
			for _, name := range allreduce.Names {
				reducer, err := allreduce.New[uint64](name)
				essentials.Must(err)
				loop := simulator.NewEventLoop()
				runInfo.Run(loop, func(c *collcomm.Comm) {
					bitmap := make([]uint64, size)
					bitmap[c.Rank()%size] = 1 << uint(c.Rank()%64)
					reducer.Allreduce(c, bitmap, collcomm.BitOr[uint64])
				})
				fmt.Printf("| %f ", loop.Time())
			}
			fmt.Println("|")
		}
	}
}
