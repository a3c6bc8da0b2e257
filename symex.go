// Package symex implements a bounded symbolic execution engine over method
// control flow graphs. It tracks constraints on symbolic values along each
// path, summarizes callee behavior as method yields and reconstructs flows
// explaining the facts that lead to a defect.
package symex

import (
	"errors"
	"fmt"
)

// Default exploration budgets.
const (
	DefaultMaxSteps          = 16000
	DefaultMaxStates         = 100000
	DefaultMaxVisitsPerNode  = 2
	DefaultMaxStartingStates = 1024
	DefaultMaxYields         = 128
	DefaultMaxNestingDepth   = 8
	DefaultMaxFlows          = 10
)

// DefaultNullPointerException is the exception type routed on null dereferences.
const DefaultNullPointerException = "java.lang.NullPointerException"

var (
	// ErrNoStateAvailable is returned by the walker when its worklist is drained.
	ErrNoStateAvailable = errors.New("no state available")

	// ErrBudgetExceeded is returned by the walker when a step or state budget is hit.
	ErrBudgetExceeded = errors.New("exploration budget exceeded")

	// ErrInvariant wraps a violated internal invariant recovered at a method boundary.
	ErrInvariant = errors.New("internal invariant violated")

	// ErrInvalidConfig is returned when configuration validation fails.
	ErrInvalidConfig = errors.New("invalid configuration")
)

// assert panics if condition is false.
func assert(condition bool, format string, args ...interface{}) {
	if !condition {
		panic(fmt.Sprintf("assert: "+format, args...))
	}
}
