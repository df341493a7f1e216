// TaskWrapper: the sealed task envelope queued inside a DelayQueue.

package threadly_internal

import (
	"fmt"
	"math"
	"sync"
)

// Priority is one of the two coarse scheduling lanes. It is not a numeric
// priority: High always wins contention for a worker except under the
// low-priority starvation-prevention tolerance in PriorityScheduler.
type Priority int

const (
	High Priority = iota
	Low
)

func (p Priority) String() string {
	switch p {
	case High:
		return "High"
	case Low:
		return "Low"
	default:
		return "Unknown"
	}
}

func (p Priority) valid() bool {
	return p == High || p == Low
}

func (p Priority) MarshalYAML() (any, error) {
	return p.String(), nil
}

func (p *Priority) UnmarshalYAML(unmarshal func(any) error) error {
	var name string
	if err := unmarshal(&name); err != nil {
		return err
	}
	switch name {
	case "High", "high":
		*p = High
	case "Low", "low":
		*p = Low
	default:
		return fmt.Errorf("invalid priority: %q", name)
	}
	return nil
}

// Cancelable is returned by the recurring submission variants. Cancel
// flips a one-way flag; it does not interrupt a task already running.
type Cancelable interface {
	Cancel() bool
	IsCancelled() bool
}

type wrapperKind int

const (
	kindOneTime wrapperKind = iota
	kindRecurringDelay
	kindRecurringRate
)

// taskWrapper is a sealed task-wrapper type: one struct with a kind tag
// standing in for OneTime/RecurringDelay/RecurringRate variants, since Go
// has no sum types. Exactly one instance ever exists per
// submission, and it is in its queue at most once; while a recurring
// wrapper's body runs it stays in the queue as "executing" (DelayMs pinned
// to +Inf until the user body returns).
type taskWrapper struct {
	mu sync.Mutex

	kind      wrapperKind
	priority  Priority
	canceled  bool
	executing bool
	run       func()

	// OneTime:
	runTimeMs int64
	// RecurringDelay / RecurringRate:
	nextRunTimeMs int64
	restPeriodMs  int64
	periodMs      int64

	heapIdx int

	// enqueuedAtMs records when this wrapper first entered its queue, used
	// only for the low-priority fairness estimate in runHighPriorityTask /
	// runLowPriorityTask; it plays no part in queue ordering.
	enqueuedAtMs int64

	// marker identifies the internal shutdown sentinel task so ShutdownNow
	// can exclude it from the drained tasks it hands back to the caller.
	marker bool
}

func newOneTimeWrapper(priority Priority, runTimeMs int64, run func()) *taskWrapper {
	return &taskWrapper{
		kind:      kindOneTime,
		priority:  priority,
		run:       run,
		runTimeMs: runTimeMs,
		heapIdx:   -1,
	}
}

func newRecurringDelayWrapper(priority Priority, nextRunTimeMs, restPeriodMs int64, run func()) *taskWrapper {
	return &taskWrapper{
		kind:          kindRecurringDelay,
		priority:      priority,
		run:           run,
		nextRunTimeMs: nextRunTimeMs,
		restPeriodMs:  restPeriodMs,
		heapIdx:       -1,
	}
}

func newRecurringRateWrapper(priority Priority, nextRunTimeMs, periodMs int64, run func()) *taskWrapper {
	return &taskWrapper{
		kind:          kindRecurringRate,
		priority:      priority,
		run:           run,
		nextRunTimeMs: nextRunTimeMs,
		periodMs:      periodMs,
		heapIdx:       -1,
	}
}

func (w *taskWrapper) isRecurring() bool {
	return w.kind != kindOneTime
}

// DelayMs satisfies Delayed. While executing, a recurring wrapper reports
// +Inf so Take never hands it out twice.
func (w *taskWrapper) DelayMs(nowMs int64) int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.executing {
		return math.MaxInt64
	}
	if w.kind == kindOneTime {
		return w.runTimeMs - nowMs
	}
	return w.nextRunTimeMs - nowMs
}

func (w *taskWrapper) heapIndex() int     { return w.heapIdx }
func (w *taskWrapper) setHeapIndex(i int) { w.heapIdx = i }

func (w *taskWrapper) Cancel() bool {
	w.mu.Lock()
	was := w.canceled
	w.canceled = true
	w.mu.Unlock()
	return !was
}

func (w *taskWrapper) IsCancelled() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.canceled
}

// onDequeue is called by the TaskConsumer immediately after Take() returns
// this wrapper. For recurring wrappers, it flips the executing flag and
// re-arms the wrapper into its queue with delay ~= +Inf, so the wrapper
// stays "in exactly one place" (now: queued-but-unreachable) while its body
// is running, safe from a racing Remove.
func (w *taskWrapper) onDequeue(queue *DelayQueue[*taskWrapper]) {
	if !w.isRecurring() {
		return
	}
	w.mu.Lock()
	w.executing = true
	w.mu.Unlock()
	queue.AddLast(w)
}

func (w *taskWrapper) updateNextRunTime(nowMs int64) {
	switch w.kind {
	case kindRecurringDelay:
		w.nextRunTimeMs = nowMs + w.restPeriodMs
	case kindRecurringRate:
		w.nextRunTimeMs += w.periodMs
	}
}

// reschedule is invoked by PriorityScheduler.runWrapper after a recurring
// wrapper's body returns. If the wrapper was canceled meanwhile, it is silently
// dropped. Otherwise it is repositioned in its queue with an updated next
// run time; errNotFound from Reposition (the queue was drained by shutdown
// between body completion and this call) is itself swallowed only if the
// wrapper is canceled.
func (w *taskWrapper) reschedule(clock *Clock, queue *DelayQueue[*taskWrapper]) error {
	w.mu.Lock()
	canceled := w.canceled
	w.mu.Unlock()
	if canceled {
		return nil
	}

	err := queue.Reposition(w, func() {
		w.mu.Lock()
		w.executing = false
		w.updateNextRunTime(clock.NowMsAccurate())
		w.mu.Unlock()
	})
	if err == nil {
		return nil
	}

	w.mu.Lock()
	canceled = w.canceled
	w.mu.Unlock()
	if canceled {
		return nil
	}
	return err
}
