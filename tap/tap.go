// Package tap builds topology-aware communication packages
// for distributed sparse matrix-vector products.
//
// A process multiplying its slice of a matrix needs the
// vector entries owned by other processes.
// Instead of sending one message per remote owner, a
// Package routes inter-host traffic through a few
// aggregated messages:
//
//   - L: on-host values go straight to the process that
//     needs them.
//   - S: values leaving the host are gathered by the local
//     process that talks to the destination host.
//   - G: aggregated values cross between hosts.
//   - R: values that arrived from another host are
//     scattered to the local processes that need them.
//
// The pattern is discovered once, when the Package is
// built, and every multiply afterwards only copies buffers.
package tap

// Tags used while building a Package.
const (
	tagProbe = iota + 1
	tagNotify
	tagRRequest
	tagGRequest
	tagSRequest
	tagLRequest
)

// Tags used to move values during a multiply.
// Transposed multiplies add reverseTagOffset.
const (
	tagLValues = 10 + iota
	tagSValues
	tagGValues
	tagRValues

	reverseTagOffset = 100
)

// An Operator is a process's slice of a distributed
// matrix.
//
// The columns are split into locally owned columns and
// off-process columns, whose values a Package gathers.
// Block vectors are index-major: entry v of index i is
// stored at i*width+v.
//
// Every method adds to its output.
type Operator interface {
	// OnProcMult computes y += A_on x.
	OnProcMult(x, y []float64, width int)

	// OffProcMult computes y += A_off xOff.
	OffProcMult(xOff, y []float64, width int)

	// OnProcMultT computes x += A_on^T b.
	OnProcMultT(b, x []float64, width int)

	// OffProcMultT computes xOff += A_off^T b.
	OffProcMultT(b, xOff []float64, width int)
}
