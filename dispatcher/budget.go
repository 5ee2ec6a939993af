package dispatcher

import (
	"time"

	"codetutor-exec/model"
)

// DefaultOverhead covers transport and container start around the runs.
const DefaultOverhead = 2 * time.Second

// Budget is a backend's worst case for one request: an optional build, the
// main run, one run per test case and transport overhead.
type Budget struct {
	Compile  time.Duration
	Run      time.Duration
	Overhead time.Duration
}

// For returns the time req may take on a backend with this budget. A zero
// Run means the backend has no known budget.
func (b Budget) For(req model.ExecutionRequest) time.Duration {
	if b.Run <= 0 {
		return 0
	}
	return b.Compile + time.Duration(1+len(req.TestCases))*b.Run + b.Overhead
}

// budgeted is implemented by backends whose worst case is known.
type budgeted interface {
	Budget() Budget
}
