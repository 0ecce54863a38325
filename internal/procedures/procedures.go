// Package procedures ships the sample RPC methods (int_sort, echo, add,
// now) so internal/rpc.Registry has more than one argument shape under
// test and demo clients have something to call.
package procedures

import (
	"sort"
	"time"

	"github.com/B777B2056/jrNetWork/internal/rpc"
)

// Register adds every sample procedure to reg under the names the
// end-to-end scenarios and sample clients call them by.
func Register(reg *rpc.Registry) {
	reg.Register("int_sort", IntSort)
	reg.Register("echo", Echo)
	reg.Register("add", Add)
	reg.Register("now", Now)
}

// IntSort returns a sorted copy of vec.
func IntSort(vec []int) []int {
	out := make([]int, len(vec))
	copy(out, vec)
	sort.Ints(out)
	return out
}

// Echo returns s unchanged, the simplest possible RPC round trip.
func Echo(s string) string { return s }

// Add returns a+b.
func Add(a, b int) int { return a + b }

// Now returns the server's current time as an RFC 3339 string.
func Now() string { return time.Now().Format(time.RFC3339) }
