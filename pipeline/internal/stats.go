package internal

import "sync/atomic"

// runCounters aggregates request bookkeeping across runs. Atomic so
// Stats() can snapshot without stopping the scheduler.
type runCounters struct {
	submitted atomic.Uint64
	completed atomic.Uint64
	failed    atomic.Uint64
	cancelled atomic.Uint64
}
