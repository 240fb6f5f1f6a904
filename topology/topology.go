// Package topology maps process ranks onto hosts.
//
// A group of NumProcs processes is split into NumHosts
// hosts of PPN processes each.
// A Policy decides which ranks share a host, and a Mapper
// converts between a global rank and its (host, local
// rank) pair.
package topology

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnsupportedPolicy is returned for a Policy that
	// has no rank layout.
	ErrUnsupportedPolicy = errors.New("unsupported rank layout policy")

	// ErrBadLayout is returned when processes cannot be
	// split evenly into hosts.
	ErrBadLayout = errors.New("invalid host layout")
)

// A Policy determines how ranks are laid out on hosts.
type Policy int

const (
	// RowMajor deals ranks out to hosts one at a time, so
	// consecutive ranks land on consecutive hosts.
	RowMajor Policy = iota

	// BlockMajor gives each host a contiguous block of
	// PPN ranks.
	BlockMajor

	// Snake is like RowMajor, but every other row of
	// hosts is traversed backwards.
	Snake
)

// String gets the name of the policy, as accepted by
// ParsePolicy.
func (p Policy) String() string {
	switch p {
	case RowMajor:
		return "row-major"
	case BlockMajor:
		return "block-major"
	case Snake:
		return "snake"
	default:
		return fmt.Sprintf("Policy(%d)", int(p))
	}
}

// ParsePolicy parses a policy name.
// Besides the names from Policy.String, the numeric codes
// "0", "1" and "2" are accepted.
func ParsePolicy(name string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "row-major", "rowmajor", "0":
		return RowMajor, nil
	case "block-major", "blockmajor", "1":
		return BlockMajor, nil
	case "snake", "2":
		return Snake, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedPolicy, name)
	}
}

// MarshalText encodes the policy name.
func (p Policy) MarshalText() ([]byte, error) {
	if p < RowMajor || p > Snake {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedPolicy, p)
	}
	return []byte(p.String()), nil
}

// UnmarshalText decodes a policy with ParsePolicy, so
// that policies can be named in configuration files.
func (p *Policy) UnmarshalText(text []byte) error {
	parsed, err := ParsePolicy(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// A Mapper converts between global ranks and host
// coordinates.
//
// Every method panics if it is given a rank, host or
// local rank that is out of range.
type Mapper interface {
	Policy() Policy

	NumProcs() int
	NumHosts() int
	PPN() int

	// HostOf gets the host that a global rank runs on.
	HostOf(rank int) int

	// LocalRankOf gets a rank's index within its host.
	LocalRankOf(rank int) int

	// GlobalRankOf is the inverse of HostOf and
	// LocalRankOf.
	GlobalRankOf(host, localRank int) int

	// HostRanks gets the global ranks on a host, ordered
	// by local rank.
	HostRanks(host int) []int
}

// New creates a Mapper for numProcs processes with ppn
// processes per host.
func New(policy Policy, numProcs, ppn int) (Mapper, error) {
	if ppn <= 0 || numProcs <= 0 || numProcs%ppn != 0 {
		return nil, fmt.Errorf("%w: %d processes with %d per host", ErrBadLayout, numProcs, ppn)
	}
	l := layout{policy: policy, numProcs: numProcs, ppn: ppn, numHosts: numProcs / ppn}
	switch policy {
	case RowMajor:
		return rowMajor{l}, nil
	case BlockMajor:
		return blockMajor{l}, nil
	case Snake:
		return snake{l}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedPolicy, policy)
	}
}

type layout struct {
	policy   Policy
	numProcs int
	numHosts int
	ppn      int
}

func (l layout) Policy() Policy {
	return l.policy
}

func (l layout) NumProcs() int {
	return l.numProcs
}

func (l layout) NumHosts() int {
	return l.numHosts
}

func (l layout) PPN() int {
	return l.ppn
}

func (l layout) checkRank(rank int) {
	if rank < 0 || rank >= l.numProcs {
		panic(fmt.Sprintf("rank %d out of range [0, %d)", rank, l.numProcs))
	}
}

func (l layout) checkHost(host, localRank int) {
	if host < 0 || host >= l.numHosts {
		panic(fmt.Sprintf("host %d out of range [0, %d)", host, l.numHosts))
	}
	if localRank < 0 || localRank >= l.ppn {
		panic(fmt.Sprintf("local rank %d out of range [0, %d)", localRank, l.ppn))
	}
}

func hostRanks(m Mapper, host int) []int {
	res := make([]int, m.PPN())
	for i := range res {
		res[i] = m.GlobalRankOf(host, i)
	}
	return res
}

type rowMajor struct {
	layout
}

func (r rowMajor) HostOf(rank int) int {
	r.checkRank(rank)
	return rank % r.numHosts
}

func (r rowMajor) LocalRankOf(rank int) int {
	r.checkRank(rank)
	return rank / r.numHosts
}

func (r rowMajor) GlobalRankOf(host, localRank int) int {
	r.checkHost(host, localRank)
	return localRank*r.numHosts + host
}

func (r rowMajor) HostRanks(host int) []int {
	return hostRanks(r, host)
}

type blockMajor struct {
	layout
}

func (b blockMajor) HostOf(rank int) int {
	b.checkRank(rank)
	return rank / b.ppn
}

func (b blockMajor) LocalRankOf(rank int) int {
	b.checkRank(rank)
	return rank % b.ppn
}

func (b blockMajor) GlobalRankOf(host, localRank int) int {
	b.checkHost(host, localRank)
	return host*b.ppn + localRank
}

func (b blockMajor) HostRanks(host int) []int {
	return hostRanks(b, host)
}

type snake struct {
	layout
}

// fold maps a column within a row of hosts to a host,
// reversing odd rows.
// It is its own inverse.
func (s snake) fold(localRank, column int) int {
	if localRank%2 == 0 {
		return column
	}
	return s.numHosts - 1 - column
}

func (s snake) HostOf(rank int) int {
	s.checkRank(rank)
	return s.fold(rank/s.numHosts, rank%s.numHosts)
}

func (s snake) LocalRankOf(rank int) int {
	s.checkRank(rank)
	return rank / s.numHosts
}

func (s snake) GlobalRankOf(host, localRank int) int {
	s.checkHost(host, localRank)
	return localRank*s.numHosts + s.fold(localRank, host)
}

func (s snake) HostRanks(host int) []int {
	return hostRanks(s, host)
}
