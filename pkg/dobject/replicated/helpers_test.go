package replicated_test

import "time"

// Shared polling bounds for assert.Eventually across this package's
// convergence tests.
const (
	twoSeconds = 2 * time.Second
	tenMillis  = 10 * time.Millisecond
)
