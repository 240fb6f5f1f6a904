package tap

import (
	"github.com/unixpickle/dist-spmv/collcomm"
	"golang.org/x/exp/slices"
)

// discoverPeers finds the processes the current process
// exchanges with between hosts.
//
// The fan-out slots of every host in the plan are dealt
// out round-robin to local ranks.
// For each claimed slot, the process probes the process
// with the same local rank on the remote host.
// Each host then deals the probes it received out to its
// own local ranks, and every chosen sender notifies the
// process it will send to.
//
// Send peers are the processes this process sends to, and
// recv peers are the processes it receives from.
func (b *builder) discoverPeers(plan hostPlan) (sendPeers, recvPeers []int) {
	ppn := b.mapper.PPN()

	var targets, payloads []int
	ctr := 0
	for i, host := range plan.hosts {
		for j := 0; j < plan.fanOut[i]; j++ {
			if ctr%ppn == b.localRank {
				targets = append(targets, b.mapper.GlobalRankOf(host, b.localRank))
				payloads = append(payloads, b.myHost)
			}
			ctr++
		}
	}
	probers, _ := collcomm.ExchangeSparse(b.comm, tagProbe, targets, payloads)

	allProbers, _ := collcomm.Allgatherv(b.host, probers)
	for i := b.localRank; i < len(allProbers); i += ppn {
		sendPeers = append(sendPeers, allProbers[i])
	}
	for _, peer := range sendPeers {
		b.comm.Isend(peer, tagNotify, []int{b.rank})
	}

	// Every probe is answered by exactly one notification.
	for range targets {
		_, status := b.comm.RecvInts(collcomm.AnySource, tagNotify)
		recvPeers = append(recvPeers, status.Source)
	}

	slices.Sort(sendPeers)
	slices.Sort(recvPeers)
	return sendPeers, recvPeers
}
