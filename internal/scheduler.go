// PriorityScheduler: an elastic worker pool with two priority queues, a
// starvation-prevention policy for the low-priority class, recurring-task
// re-insertion and graceful/immediate shutdown. Built from a delay heap
// plus a dispatcher plus a worker pool, split into two independently
// dispatched priority lanes, with a real worker-affinity hand-off per
// worker instead of one shared dispatch channel.

package threadly_internal

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// WORKER_CONTENTION_LEVEL is the idle-worker count below which the pool
	// is considered contended for the purpose of the low-priority fairness
	// check.
	WORKER_CONTENTION_LEVEL = 2
	// LOW_PRIORITY_TOLERANCE_MS is how much longer a low-priority task will
	// tolerate waiting behind older high-priority ones before proceeding
	// anyway.
	LOW_PRIORITY_TOLERANCE_MS int64 = 2

	SCHEDULER_CONFIG_CORE_POOL_SIZE_DEFAULT               = -1 // -1 => AvailableCPUCount
	SCHEDULER_CONFIG_MAX_POOL_SIZE_MULTIPLIER             = 4
	SCHEDULER_CONFIG_KEEP_ALIVE_TIME_IN_MS_DEFAULT        = 60_000
	SCHEDULER_CONFIG_MAX_WAIT_FOR_LOW_PRIORITY_MS_DEFAULT = 500
	SCHEDULER_CONFIG_ALLOW_CORE_THREAD_TIMEOUT_DEFAULT    = false
)

type SchedulerConfig struct {
	// -1 means "use AvailableCPUCount".
	CorePoolSize              int      `yaml:"core_pool_size"`
	MaxPoolSize               int      `yaml:"max_pool_size"`
	KeepAliveTimeInMs         int64    `yaml:"keep_alive_time_in_ms"`
	DefaultPriority           Priority `yaml:"default_priority"`
	MaxWaitForLowPriorityInMs int64    `yaml:"max_wait_for_low_priority_in_ms"`
	AllowCoreThreadTimeOut    bool     `yaml:"allow_core_thread_timeout"`
}

func DefaultSchedulerConfig() *SchedulerConfig {
	return &SchedulerConfig{
		CorePoolSize:              SCHEDULER_CONFIG_CORE_POOL_SIZE_DEFAULT,
		MaxPoolSize:               SCHEDULER_CONFIG_CORE_POOL_SIZE_DEFAULT,
		KeepAliveTimeInMs:         SCHEDULER_CONFIG_KEEP_ALIVE_TIME_IN_MS_DEFAULT,
		DefaultPriority:           High,
		MaxWaitForLowPriorityInMs: SCHEDULER_CONFIG_MAX_WAIT_FOR_LOW_PRIORITY_MS_DEFAULT,
		AllowCoreThreadTimeOut:    SCHEDULER_CONFIG_ALLOW_CORE_THREAD_TIMEOUT_DEFAULT,
	}
}

func (cfg *SchedulerConfig) resolve() (*SchedulerConfig, error) {
	resolved := *cfg
	if resolved.CorePoolSize <= 0 {
		resolved.CorePoolSize = AvailableCPUCount
	}
	if resolved.CorePoolSize < 1 {
		resolved.CorePoolSize = 1
	}
	if resolved.MaxPoolSize <= 0 {
		resolved.MaxPoolSize = resolved.CorePoolSize * SCHEDULER_CONFIG_MAX_POOL_SIZE_MULTIPLIER
	}
	if resolved.MaxPoolSize < resolved.CorePoolSize {
		return nil, fmt.Errorf("MaxPoolSize %d < CorePoolSize %d: %w", resolved.MaxPoolSize, resolved.CorePoolSize, ErrInvalidArgument)
	}
	if resolved.KeepAliveTimeInMs < 0 {
		return nil, fmt.Errorf("KeepAliveTimeInMs: %w", ErrInvalidArgument)
	}
	if resolved.MaxWaitForLowPriorityInMs < 0 {
		return nil, fmt.Errorf("MaxWaitForLowPriorityInMs: %w", ErrInvalidArgument)
	}
	if !resolved.DefaultPriority.valid() {
		return nil, fmt.Errorf("DefaultPriority: %w", ErrUnsupportedPriority)
	}
	return &resolved, nil
}

type idleWorker struct {
	w           *worker
	idleSinceMs int64
}

// SchedulerOption configures collaborators that are not config-serializable
// (they are Go values, not YAML-friendly data): the thread factory and the
// process-wide uncaught-task handler.
type SchedulerOption func(*PriorityScheduler)

func WithThreadFactory(tf ThreadFactory) SchedulerOption {
	return func(s *PriorityScheduler) { s.threadFactory = tf }
}

func WithUncaughtHandler(h UncaughtHandler) SchedulerOption {
	return func(s *PriorityScheduler) { s.uncaughtHandler = h }
}

// PriorityScheduler orchestrates two TaskConsumers, two DelayQueues and a
// shared worker pool, implementing the admission and dispatch policy
// described below.
type PriorityScheduler struct {
	cfg *SchedulerConfig

	clock        *Clock
	highQueue    *DelayQueue[*taskWrapper]
	lowQueue     *DelayQueue[*taskWrapper]
	highConsumer *taskConsumer
	lowConsumer  *taskConsumer

	threadFactory   ThreadFactory
	uncaughtHandler UncaughtHandler

	ctx      context.Context
	cancelFn context.CancelFunc

	// poolSizeChangeLock -> workersLock is the only permitted nesting
	// order; priority locks (owned by highQueue/lowQueue) never nest with
	// each other or with workersLock.
	poolSizeChangeMu sync.Mutex

	workersMu              sync.Mutex
	workersCond            *sync.Cond
	corePoolSize           int
	maxPoolSize            int
	keepAliveMs            int64
	allowCoreThreadTimeout bool
	currentPoolSize        int
	availableWorkers       []*idleWorker // front = newest, back = oldest
	waitingForWorkerCount  int
	lastHighDelayMs        int64
	nextWorkerID           int

	maxWaitForLowPriorityMs int64

	shutdownStarted   atomic.Bool
	shutdownFinishing atomic.Bool

	stats schedulerCounters
}

type schedulerCounters struct {
	submittedHigh, submittedLow atomic.Int64
	executedHigh, executedLow   atomic.Int64
	rejectedHigh, rejectedLow   atomic.Int64
	overrunHigh, overrunLow     atomic.Int64
}

// SchedulerStats is a point-in-time snapshot for the stats reporter.
type SchedulerStats struct {
	SubmittedHigh, SubmittedLow int64
	ExecutedHigh, ExecutedLow   int64
	RejectedHigh, RejectedLow   int64
	OverrunHigh, OverrunLow     int64
	CurrentPoolSize             int
	CorePoolSize                int
	MaxPoolSize                 int
	AvailableWorkers            int
	LastHighDelayMs             int64
}

func NewPriorityScheduler(cfg *SchedulerConfig, opts ...SchedulerOption) (*PriorityScheduler, error) {
	if cfg == nil {
		cfg = DefaultSchedulerConfig()
	}
	resolved, err := cfg.resolve()
	if err != nil {
		return nil, fmt.Errorf("NewPriorityScheduler: %w", err)
	}

	ctx, cancelFn := context.WithCancel(context.Background())
	clock := NewClock()
	s := &PriorityScheduler{
		cfg:                     resolved,
		clock:                   clock,
		highQueue:               NewDelayQueue[*taskWrapper](clock),
		lowQueue:                NewDelayQueue[*taskWrapper](clock),
		threadFactory:           NewDefaultThreadFactory(),
		ctx:                     ctx,
		cancelFn:                cancelFn,
		corePoolSize:            resolved.CorePoolSize,
		maxPoolSize:             resolved.MaxPoolSize,
		keepAliveMs:             resolved.KeepAliveTimeInMs,
		allowCoreThreadTimeout:  resolved.AllowCoreThreadTimeOut,
		maxWaitForLowPriorityMs: resolved.MaxWaitForLowPriorityInMs,
	}
	s.workersCond = sync.NewCond(&s.workersMu)
	s.highConsumer = newTaskConsumer(s.highQueue, s.runHighPriorityTask)
	s.lowConsumer = newTaskConsumer(s.lowQueue, s.runLowPriorityTask)

	for _, opt := range opts {
		opt(s)
	}

	schedulerLog.Infof(
		"core=%d max=%d keepAliveMs=%d maxWaitForLowPriorityMs=%d",
		s.corePoolSize, s.maxPoolSize, s.keepAliveMs, s.maxWaitForLowPriorityMs,
	)
	return s, nil
}

func (s *PriorityScheduler) queueFor(p Priority) *DelayQueue[*taskWrapper] {
	if p == Low {
		return s.lowQueue
	}
	return s.highQueue
}

func (s *PriorityScheduler) consumerFor(p Priority) *taskConsumer {
	if p == Low {
		return s.lowConsumer
	}
	return s.highConsumer
}

func (s *PriorityScheduler) enqueue(w *taskWrapper) {
	w.enqueuedAtMs = s.clock.NowMsAccurate()
	s.queueFor(w.priority).Add(w)
	s.consumerFor(w.priority).ensureStarted(s.ctx)
}

// Execute ≡ ExecuteWithPriority(task, cfg.DefaultPriority).
func (s *PriorityScheduler) Execute(task func()) error {
	return s.ExecuteWithPriority(task, s.cfg.DefaultPriority)
}

func (s *PriorityScheduler) ExecuteWithPriority(task func(), p Priority) error {
	return s.Schedule(task, 0, p)
}

// Schedule constructs a OneTime wrapper due after delay and inserts it into
// p's queue.
func (s *PriorityScheduler) Schedule(task func(), delay time.Duration, p Priority) error {
	if task == nil {
		return fmt.Errorf("Schedule: %w", ErrInvalidArgument)
	}
	if delay < 0 {
		return fmt.Errorf("Schedule: %w", ErrInvalidArgument)
	}
	if !p.valid() {
		return fmt.Errorf("Schedule: %w", ErrUnsupportedPriority)
	}
	if s.shutdownStarted.Load() {
		s.countRejected(p)
		return ErrRejectedExecution
	}
	nowMs := s.clock.NowMsAccurate()
	w := newOneTimeWrapper(p, nowMs+delay.Milliseconds(), task)
	s.countSubmitted(p)
	s.enqueue(w)
	return nil
}

// ScheduleWithFixedDelay runs task after initialDelay, then again `delay`
// after each completion.
func (s *PriorityScheduler) ScheduleWithFixedDelay(task func(), initialDelay, delay time.Duration, p Priority) (Cancelable, error) {
	if task == nil {
		return nil, fmt.Errorf("ScheduleWithFixedDelay: %w", ErrInvalidArgument)
	}
	if initialDelay < 0 || delay < 0 {
		return nil, fmt.Errorf("ScheduleWithFixedDelay: %w", ErrInvalidArgument)
	}
	if !p.valid() {
		return nil, fmt.Errorf("ScheduleWithFixedDelay: %w", ErrUnsupportedPriority)
	}
	if s.shutdownStarted.Load() {
		s.countRejected(p)
		return nil, ErrRejectedExecution
	}
	nowMs := s.clock.NowMsAccurate()
	w := newRecurringDelayWrapper(p, nowMs+initialDelay.Milliseconds(), delay.Milliseconds(), task)
	s.countSubmitted(p)
	s.enqueue(w)
	return w, nil
}

// ScheduleAtFixedRate runs task every period, drift-free: the next run time
// is prev + period regardless of how long the body took.
func (s *PriorityScheduler) ScheduleAtFixedRate(task func(), initialDelay, period time.Duration, p Priority) (Cancelable, error) {
	if task == nil {
		return nil, fmt.Errorf("ScheduleAtFixedRate: %w", ErrInvalidArgument)
	}
	if initialDelay < 0 || period <= 0 {
		return nil, fmt.Errorf("ScheduleAtFixedRate: %w", ErrInvalidArgument)
	}
	if !p.valid() {
		return nil, fmt.Errorf("ScheduleAtFixedRate: %w", ErrUnsupportedPriority)
	}
	if s.shutdownStarted.Load() {
		s.countRejected(p)
		return nil, ErrRejectedExecution
	}
	nowMs := s.clock.NowMsAccurate()
	w := newRecurringRateWrapper(p, nowMs+initialDelay.Milliseconds(), period.Milliseconds(), task)
	s.countSubmitted(p)
	s.enqueue(w)
	return w, nil
}

// Submit wraps task in a Future that completes when the body returns or
// fails. opts configures the returned Future, e.g.
// WithRethrowListenerPanics.
func (s *PriorityScheduler) Submit(task func() (any, error), p Priority, opts ...FutureOption) (Future[any], error) {
	if task == nil {
		return nil, fmt.Errorf("Submit: %w", ErrInvalidArgument)
	}
	if !p.valid() {
		return nil, fmt.Errorf("Submit: %w", ErrUnsupportedPriority)
	}
	if s.shutdownStarted.Load() {
		s.countRejected(p)
		return nil, ErrRejectedExecution
	}

	nowMs := s.clock.NowMsAccurate()
	w := newOneTimeWrapper(p, nowMs, nil)
	f := newFuture[any](w, opts...)
	w.run = func() {
		if w.IsCancelled() {
			return
		}
		defer func() {
			if r := recover(); r != nil {
				f.Fail(fmt.Errorf("Submit: task panicked: %v", r))
				panic(r)
			}
		}()
		value, err := task()
		if err != nil {
			f.Fail(err)
		} else {
			f.Complete(value)
		}
	}
	s.countSubmitted(p)
	s.enqueue(w)
	return f, nil
}

// Remove cancels c, so its body never starts, and removes its wrapper from
// its priority queue if the wrapper is still there; it returns whether the
// wrapper was removed from the queue. A c that is neither a wrapper nor a
// Future from this scheduler is left alone and false is returned.
func (s *PriorityScheduler) Remove(c Cancelable) bool {
	if c == nil {
		return false
	}
	var w *taskWrapper
	switch v := c.(type) {
	case *taskWrapper:
		w = v
	case interface{ ownerTask() *taskWrapper }:
		w = v.ownerTask()
	}
	if w == nil {
		return false
	}
	c.Cancel()
	return s.queueFor(w.priority).Remove(w)
}

func (s *PriorityScheduler) countSubmitted(p Priority) {
	if p == Low {
		s.stats.submittedLow.Add(1)
	} else {
		s.stats.submittedHigh.Add(1)
	}
}

func (s *PriorityScheduler) countRejected(p Priority) {
	if p == Low {
		s.stats.rejectedLow.Add(1)
	} else {
		s.stats.rejectedHigh.Add(1)
	}
}

func (s *PriorityScheduler) countExecuted(p Priority, overran bool) {
	if p == Low {
		s.stats.executedLow.Add(1)
		if overran {
			s.stats.overrunLow.Add(1)
		}
	} else {
		s.stats.executedHigh.Add(1)
		if overran {
			s.stats.overrunHigh.Add(1)
		}
	}
}

// Stats returns a point-in-time snapshot for the StatsReporter.
func (s *PriorityScheduler) Stats() SchedulerStats {
	s.workersMu.Lock()
	currentPoolSize := s.currentPoolSize
	corePoolSize := s.corePoolSize
	maxPoolSize := s.maxPoolSize
	available := len(s.availableWorkers)
	lastHighDelay := s.lastHighDelayMs
	s.workersMu.Unlock()

	return SchedulerStats{
		SubmittedHigh:    s.stats.submittedHigh.Load(),
		SubmittedLow:     s.stats.submittedLow.Load(),
		ExecutedHigh:     s.stats.executedHigh.Load(),
		ExecutedLow:      s.stats.executedLow.Load(),
		RejectedHigh:     s.stats.rejectedHigh.Load(),
		RejectedLow:      s.stats.rejectedLow.Load(),
		OverrunHigh:      s.stats.overrunHigh.Load(),
		OverrunLow:       s.stats.overrunLow.Load(),
		CurrentPoolSize:  currentPoolSize,
		CorePoolSize:     corePoolSize,
		MaxPoolSize:      maxPoolSize,
		AvailableWorkers: available,
		LastHighDelayMs:  lastHighDelay,
	}
}

func (s *PriorityScheduler) IsShutdown() bool   { return s.shutdownStarted.Load() }
func (s *PriorityScheduler) IsTerminated() bool { return s.shutdownFinishing.Load() }
func (s *PriorityScheduler) CurrentPoolSize() int {
	s.workersMu.Lock()
	defer s.workersMu.Unlock()
	return s.currentPoolSize
}

// ---- worker pool mechanics ----

func (s *PriorityScheduler) popFrontLocked() *worker {
	n := len(s.availableWorkers)
	iw := s.availableWorkers[0]
	s.availableWorkers = s.availableWorkers[1:n]
	return iw.w
}

func (s *PriorityScheduler) pushFrontLocked(w *worker) {
	iw := &idleWorker{w: w, idleSinceMs: s.clock.NowMsAccurate()}
	s.availableWorkers = append([]*idleWorker{iw}, s.availableWorkers...)
}

func (s *PriorityScheduler) createWorkerLocked() *worker {
	id := s.nextWorkerID
	s.nextWorkerID++
	s.currentPoolSize++
	return newWorker(id, s.threadFactory, s.uncaughtHandler, s.workerDone)
}

// expireOldWorkersLocked implements worker reclamation: while the pool is
// above corePoolSize (or AllowCoreThreadTimeOut), the oldest idle worker
// (back of the deque) is killed once it has been idle past keepAliveMs, or
// unconditionally once the pool is above maxPoolSize.
func (s *PriorityScheduler) expireOldWorkersLocked() {
	nowMs := s.clock.NowMsAccurate()
	for len(s.availableWorkers) > 0 {
		aboveCore := s.currentPoolSize > s.corePoolSize || s.allowCoreThreadTimeout
		if !aboveCore {
			return
		}
		n := len(s.availableWorkers)
		back := s.availableWorkers[n-1]
		aboveMax := s.currentPoolSize > s.maxPoolSize
		idleExpired := nowMs-back.idleSinceMs >= s.keepAliveMs
		if !aboveMax && !idleExpired {
			return
		}
		s.availableWorkers = s.availableWorkers[:n-1]
		back.w.killWorker()
		s.currentPoolSize--
	}
}

// workerDone is the pool's "return me" hook, invoked by a worker after its
// task body returns. A worker that finishes after ShutdownNow has already
// swept the idle pool is retired immediately instead of being parked in
// availableWorkers, since the consumers are gone and nothing will ever pop
// or kill it again.
func (s *PriorityScheduler) workerDone(w *worker) {
	s.workersMu.Lock()
	if s.shutdownFinishing.Load() {
		w.killWorker()
		s.currentPoolSize--
		s.workersCond.Broadcast()
		s.workersMu.Unlock()
		return
	}
	s.pushFrontLocked(w)
	s.expireOldWorkersLocked()
	s.workersCond.Broadcast()
	s.workersMu.Unlock()
}

// condWaitTimeout waits on workersCond for at most d, or until woken by a
// Signal/Broadcast, whichever comes first. Must be called with workersMu
// held; like sync.Cond.Wait, it releases the lock while blocked and
// reacquires it before returning.
func (s *PriorityScheduler) condWaitTimeout(d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.AfterFunc(d, func() {
		s.workersMu.Lock()
		s.workersCond.Broadcast()
		s.workersMu.Unlock()
	})
	defer timer.Stop()
	s.workersCond.Wait()
}

// runHighPriorityTask is the dispatch callback for the high-priority
// TaskConsumer.
func (s *PriorityScheduler) runHighPriorityTask(w *taskWrapper) {
	s.workersMu.Lock()
	for {
		if s.shutdownFinishing.Load() {
			s.workersMu.Unlock()
			return
		}
		if len(s.availableWorkers) > 0 || s.currentPoolSize < s.maxPoolSize {
			var wk *worker
			if len(s.availableWorkers) > 0 {
				wk = s.popFrontLocked()
			} else {
				wk = s.createWorkerLocked()
			}
			s.workersMu.Unlock()
			s.dispatch(wk, w, High)
			return
		}
		s.lastHighDelayMs = s.clock.NowMsAccurate() - w.enqueuedAtMs
		s.waitingForWorkerCount++
		s.workersCond.Wait()
		s.waitingForWorkerCount--
	}
}

// runLowPriorityTask is the dispatch callback for the low-priority
// TaskConsumer.
func (s *PriorityScheduler) runLowPriorityTask(w *taskWrapper) {
	s.workersMu.Lock()
	for {
		if s.shutdownFinishing.Load() {
			s.workersMu.Unlock()
			return
		}

		if s.highQueue.SizeAtomic() == 0 {
			s.lastHighDelayMs = 0
		}

		saturated := s.currentPoolSize >= s.maxPoolSize
		contended := len(s.availableWorkers) < WORKER_CONTENTION_LEVEL
		highNonEmpty := s.highQueue.SizeAtomic() > 0
		queueingDelay := s.clock.NowMsAccurate() - w.enqueuedAtMs
		tolerance := queueingDelay - s.lastHighDelayMs
		if saturated && contended && highNonEmpty && tolerance > LOW_PRIORITY_TOLERANCE_MS {
			s.condWaitTimeout(time.Duration(tolerance) * time.Millisecond)
			continue
		}

		if s.currentPoolSize == 0 {
			wk := s.createWorkerLocked()
			s.workersMu.Unlock()
			s.dispatch(wk, w, Low)
			return
		}
		if len(s.availableWorkers) > 0 {
			wk := s.popFrontLocked()
			s.workersMu.Unlock()
			s.dispatch(wk, w, Low)
			return
		}
		if saturated {
			s.workersCond.Wait()
			continue
		}

		s.condWaitTimeout(time.Duration(s.maxWaitForLowPriorityMs) * time.Millisecond)
		if len(s.availableWorkers) > 0 {
			continue
		}
		if s.currentPoolSize < s.maxPoolSize {
			wk := s.createWorkerLocked()
			s.workersMu.Unlock()
			s.dispatch(wk, w, Low)
			return
		}
		s.workersCond.Wait()
	}
}

func (s *PriorityScheduler) dispatch(wk *worker, w *taskWrapper, p Priority) {
	wk.nextTask(func() { s.runWrapper(w, p) })
}

func (s *PriorityScheduler) runWrapper(w *taskWrapper, p Priority) {
	if w.IsCancelled() {
		return
	}
	if w.run == nil {
		return
	}

	startMs := s.clock.NowMsAccurate()
	w.run()
	runtimeMs := s.clock.NowMsAccurate() - startMs

	overran := false
	if w.isRecurring() {
		w.mu.Lock()
		periodMs := w.periodMs
		if periodMs == 0 {
			periodMs = w.restPeriodMs
		}
		w.mu.Unlock()
		overran = periodMs > 0 && runtimeMs >= periodMs
	}
	s.countExecuted(p, overran)

	if !w.isRecurring() {
		return
	}
	if w.IsCancelled() {
		return
	}
	if err := w.reschedule(s.clock, s.queueFor(w.priority)); err != nil {
		schedulerLog.Warnf("reschedule: %v", err)
	}
}

// ---- pool size / prestart ----

func (s *PriorityScheduler) prestartLocked(target int) int {
	created := 0
	for s.currentPoolSize < target {
		wk := s.createWorkerLocked()
		s.pushFrontLocked(wk)
		created++
	}
	return created
}

// PrestartAllCoreThreads eagerly creates workers up to corePoolSize.
func (s *PriorityScheduler) PrestartAllCoreThreads() int {
	s.workersMu.Lock()
	defer s.workersMu.Unlock()
	return s.prestartLocked(s.corePoolSize)
}

func (s *PriorityScheduler) SetCorePoolSize(n int) error {
	if n < 1 {
		return fmt.Errorf("SetCorePoolSize: %w", ErrInvalidArgument)
	}
	s.poolSizeChangeMu.Lock()
	defer s.poolSizeChangeMu.Unlock()

	s.workersMu.Lock()
	if n > s.maxPoolSize {
		s.maxPoolSize = n
	}
	grow := n > s.corePoolSize
	s.corePoolSize = n
	if grow {
		s.prestartLocked(n)
	} else {
		s.expireOldWorkersLocked()
	}
	s.workersCond.Broadcast()
	s.workersMu.Unlock()
	return nil
}

func (s *PriorityScheduler) SetMaxPoolSize(n int) error {
	s.poolSizeChangeMu.Lock()
	defer s.poolSizeChangeMu.Unlock()

	s.workersMu.Lock()
	if n < s.corePoolSize {
		s.workersMu.Unlock()
		return fmt.Errorf("SetMaxPoolSize %d < CorePoolSize %d: %w", n, s.corePoolSize, ErrInvalidArgument)
	}
	s.maxPoolSize = n
	s.expireOldWorkersLocked()
	s.workersCond.Broadcast()
	s.workersMu.Unlock()
	return nil
}

// ---- shutdown ----

// Shutdown flips shutdownStarted and appends a marker task to the
// high-priority queue; when that marker runs, it calls ShutdownNow. Tasks
// already queued still drain; new submissions are rejected.
func (s *PriorityScheduler) Shutdown() {
	if !s.shutdownStarted.CompareAndSwap(false, true) {
		return
	}
	schedulerLog.Info("shutdown requested")
	marker := newOneTimeWrapper(High, s.clock.NowMsAccurate(), func() { s.ShutdownNow() })
	marker.marker = true
	s.enqueue(marker)
}

// ShutdownNow cancels and drains both queues, returning the user tasks that
// were still pending (the shutdown marker itself is excluded), kills all
// idle workers, and stops both consumers. Running tasks finish normally;
// their workers observe shutdownFinishing on return and retire.
func (s *PriorityScheduler) ShutdownNow() []func() {
	s.shutdownStarted.Store(true)
	alreadyFinishing := s.shutdownFinishing.Swap(true)
	if alreadyFinishing {
		return nil
	}

	schedulerLog.Info("shutdown now")
	s.cancelFn()

	var drained []func()
	for _, w := range s.highQueue.DrainAll() {
		w.Cancel()
		if !w.marker && w.run != nil {
			drained = append(drained, w.run)
		}
	}
	for _, w := range s.lowQueue.DrainAll() {
		w.Cancel()
		if !w.marker && w.run != nil {
			drained = append(drained, w.run)
		}
	}

	s.workersMu.Lock()
	for _, iw := range s.availableWorkers {
		iw.w.killWorker()
		s.currentPoolSize--
	}
	s.availableWorkers = nil
	s.workersCond.Broadcast()
	s.workersMu.Unlock()

	return drained
}
