package threadly_internal

import "errors"

// Sentinel errors returned by the scheduler and key distributor, matching
// the three caller-visible error kinds from the surface contract: bad
// arguments, rejected submissions, and the (unreachable in practice)
// unsupported-priority case.
var (
	// ErrInvalidArgument is returned for caller-side violations: nil work,
	// nil key, negative delay, non-positive period, or out-of-range pool
	// sizes. State is never mutated before this is returned.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrRejectedExecution is returned for any submission attempted after
	// Shutdown or ShutdownNow.
	ErrRejectedExecution = errors.New("rejected execution: scheduler is shut down")

	// ErrUnsupportedPriority is returned for a Priority value outside
	// {High, Low}; reachable only through programmer error.
	ErrUnsupportedPriority = errors.New("unsupported priority")

	// errNotFound is an internal signal from DelayQueue.Reposition used to
	// detect the reschedule race: a recurring wrapper finishing after its
	// queue was torn down by shutdown.
	errNotFound = errors.New("delay queue: item not found")
)
