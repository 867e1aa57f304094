package common

import "fmt"

// Align8 rounds the given integer up to the nearest multiple of 8.
func Align8(n int) int {
	return (n + 7) &^ 7
}

// Assert checks a condition and panics if it is false.
//
// Use it for invariants of the builder (a negative bucket index, a scatter
// cursor running past its bucket). Conditions that depend on the data or on
// the environment, like a failed fragment fetch or a device allocation, are
// returned as errors instead.
func Assert(cond bool, format string, args ...any) {
	if !cond {
		panic(fmt.Sprintf(format, args...))
	}
}

// CeilDiv returns ceil(a / b) for positive b.
func CeilDiv(a, b int64) int64 {
	Assert(b > 0, "CeilDiv by non-positive %d", b)
	return (a + b - 1) / b
}
