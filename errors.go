package treemap

import (
	"errors"
	"fmt"
)

// Estimation errors
var (
	// ErrNotIntegrable indicates that a subtree contains a leaf without
	// CanBeIntegrated and therefore cannot be joined into a single leaf.
	ErrNotIntegrable = errors.New("treemap: subtree contains a leaf that cannot be integrated")

	// ErrEmpty indicates an operation that needs at least one leaf.
	ErrEmpty = errors.New("treemap: no leaves")

	// ErrOptimizing indicates that estimates were requested while the
	// optimizer has trial moves applied.
	ErrOptimizing = errors.New("treemap: optimizer run in progress")
)

// Invariant errors, reported by CheckInvariants.
var (
	// ErrBrokenStructure indicates inconsistent parent/child links.
	ErrBrokenStructure = errors.New("treemap: broken tree structure")

	// ErrBrokenFeatures indicates inconsistent feature bookkeeping.
	ErrBrokenFeatures = errors.New("treemap: broken feature table")

	// ErrBrokenFlags indicates validity flags that are not upward closed.
	ErrBrokenFlags = errors.New("treemap: validity flags not upward closed")

	// ErrDisconnected indicates a feature graph component below the
	// requested size.
	ErrDisconnected = errors.New("treemap: feature graph not connected")
)

// panicf reports a violated precondition. These are programmer errors and
// are never returned as values.
func panicf(format string, args ...any) {
	panic(fmt.Sprintf("treemap: "+format, args...))
}
