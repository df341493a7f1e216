package threadly_internal

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func testSchedulerConfig(core, max int) *SchedulerConfig {
	cfg := DefaultSchedulerConfig()
	cfg.CorePoolSize = core
	cfg.MaxPoolSize = max
	cfg.KeepAliveTimeInMs = 50
	cfg.MaxWaitForLowPriorityInMs = 20
	return cfg
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return cond()
}

func TestSchedulerExecuteRunsTask(t *testing.T) {
	s, err := NewPriorityScheduler(testSchedulerConfig(2, 4))
	if err != nil {
		t.Fatalf("NewPriorityScheduler: %v", err)
	}
	defer s.ShutdownNow()

	var ran atomic.Bool
	if err := s.Execute(func() { ran.Store(true) }); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !waitUntil(t, time.Second, ran.Load) {
		t.Fatal("task did not run")
	}
}

func TestSchedulerExecuteWithPriorityRejectsInvalid(t *testing.T) {
	s, err := NewPriorityScheduler(testSchedulerConfig(1, 1))
	if err != nil {
		t.Fatalf("NewPriorityScheduler: %v", err)
	}
	defer s.ShutdownNow()

	err = s.ExecuteWithPriority(func() {}, Priority(99))
	if !errors.Is(err, ErrUnsupportedPriority) {
		t.Fatalf("want ErrUnsupportedPriority, got %v", err)
	}
}

func TestSchedulerScheduleRespectsDelay(t *testing.T) {
	s, err := NewPriorityScheduler(testSchedulerConfig(1, 1))
	if err != nil {
		t.Fatalf("NewPriorityScheduler: %v", err)
	}
	defer s.ShutdownNow()

	start := time.Now()
	doneCh := make(chan time.Duration, 1)
	err = s.Schedule(func() {
		doneCh <- time.Since(start)
	}, 30*time.Millisecond, High)
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}

	select {
	case elapsed := <-doneCh:
		if elapsed < 25*time.Millisecond {
			t.Fatalf("task ran too early: %v", elapsed)
		}
	case <-time.After(time.Second):
		t.Fatal("task never ran")
	}
}

func TestSchedulerScheduleAtFixedRateRepeats(t *testing.T) {
	s, err := NewPriorityScheduler(testSchedulerConfig(2, 2))
	if err != nil {
		t.Fatalf("NewPriorityScheduler: %v", err)
	}
	defer s.ShutdownNow()

	var count atomic.Int32
	c, err := s.ScheduleAtFixedRate(func() { count.Add(1) }, 0, 15*time.Millisecond, High)
	if err != nil {
		t.Fatalf("ScheduleAtFixedRate: %v", err)
	}
	if !waitUntil(t, time.Second, func() bool { return count.Load() >= 3 }) {
		t.Fatalf("expected at least 3 runs, got %d", count.Load())
	}
	c.Cancel()
}

func TestSchedulerScheduleWithFixedDelayStopsOnCancel(t *testing.T) {
	s, err := NewPriorityScheduler(testSchedulerConfig(2, 2))
	if err != nil {
		t.Fatalf("NewPriorityScheduler: %v", err)
	}
	defer s.ShutdownNow()

	var count atomic.Int32
	c, err := s.ScheduleWithFixedDelay(func() { count.Add(1) }, 0, 10*time.Millisecond, Low)
	if err != nil {
		t.Fatalf("ScheduleWithFixedDelay: %v", err)
	}
	if !waitUntil(t, time.Second, func() bool { return count.Load() >= 2 }) {
		t.Fatal("recurring task never ran twice")
	}
	c.Cancel()
	after := count.Load()
	time.Sleep(50 * time.Millisecond)
	if count.Load() > after+1 {
		t.Fatalf("task kept running after cancel: before=%d after=%d", after, count.Load())
	}
}

func TestSchedulerSubmitCompletesFuture(t *testing.T) {
	s, err := NewPriorityScheduler(testSchedulerConfig(1, 1))
	if err != nil {
		t.Fatalf("NewPriorityScheduler: %v", err)
	}
	defer s.ShutdownNow()

	f, err := s.Submit(func() (any, error) { return 42, nil }, High)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	v, err := f.Get(ctx)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if v != 42 {
		t.Fatalf("want 42, got %v", v)
	}
}

func TestSchedulerSubmitPropagatesError(t *testing.T) {
	s, err := NewPriorityScheduler(testSchedulerConfig(1, 1))
	if err != nil {
		t.Fatalf("NewPriorityScheduler: %v", err)
	}
	defer s.ShutdownNow()

	wantErr := errors.New("boom")
	f, err := s.Submit(func() (any, error) { return nil, wantErr }, High)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err = f.Get(ctx)
	if !errors.Is(err, wantErr) {
		t.Fatalf("want %v, got %v", wantErr, err)
	}
}

func TestSchedulerRemoveCancelsFutureTask(t *testing.T) {
	s, err := NewPriorityScheduler(testSchedulerConfig(1, 1))
	if err != nil {
		t.Fatalf("NewPriorityScheduler: %v", err)
	}
	defer s.ShutdownNow()

	// Occupy the only worker so the Submit below stays queued.
	block := make(chan struct{})
	_ = s.Execute(func() { <-block })

	var ran atomic.Bool
	f, err := s.Submit(func() (any, error) { ran.Store(true); return nil, nil }, High)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	// Remove always cancels f's wrapper; whether it also finds the wrapper
	// still sitting in the queue depends on whether the dispatch loop has
	// already pulled it out to wait for a free worker, so only the
	// cancellation effect (never runs) is asserted below.
	s.Remove(f)
	close(block)
	time.Sleep(30 * time.Millisecond)
	if ran.Load() {
		t.Fatal("removed task ran anyway")
	}
}

// TestSchedulerLowPriorityRunsAlongsideHighWithSpareWorkers is a smoke test
// that a low-priority submission alongside a high-priority one both
// eventually complete when the pool has enough room for both at once.
func TestSchedulerLowPriorityRunsAlongsideHighWithSpareWorkers(t *testing.T) {
	s, err := NewPriorityScheduler(testSchedulerConfig(2, 2))
	if err != nil {
		t.Fatalf("NewPriorityScheduler: %v", err)
	}
	defer s.ShutdownNow()

	var mu sync.Mutex
	var order []string

	var wg sync.WaitGroup
	wg.Add(2)
	_ = s.ExecuteWithPriority(func() {
		defer wg.Done()
		mu.Lock()
		order = append(order, "high")
		mu.Unlock()
	}, High)
	_ = s.ExecuteWithPriority(func() {
		defer wg.Done()
		mu.Lock()
		order = append(order, "low")
		mu.Unlock()
	}, Low)

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("low priority task never ran")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 2 {
		t.Fatalf("want 2 completions, got %v", order)
	}
}

// TestSchedulerLowPriorityWaitsBehindSoleBusyWorker covers a saturated
// single-worker pool: a low-priority submission cannot start until the one
// worker, held by a long-running high-priority task, frees up, and it
// starts promptly once it does, rather than being starved indefinitely.
func TestSchedulerLowPriorityWaitsBehindSoleBusyWorker(t *testing.T) {
	s, err := NewPriorityScheduler(testSchedulerConfig(1, 1))
	if err != nil {
		t.Fatalf("NewPriorityScheduler: %v", err)
	}
	defer s.ShutdownNow()

	highStarted := make(chan struct{})
	releaseHigh := make(chan struct{})
	var highDone atomic.Bool

	if err := s.ExecuteWithPriority(func() {
		close(highStarted)
		<-releaseHigh
		highDone.Store(true)
	}, High); err != nil {
		t.Fatalf("ExecuteWithPriority(high): %v", err)
	}

	if !waitUntil(t, time.Second, func() bool {
		select {
		case <-highStarted:
			return true
		default:
			return false
		}
	}) {
		t.Fatal("high priority task never started")
	}

	lowStarted := make(chan struct{})
	var lowSawHighDone atomic.Bool
	if err := s.ExecuteWithPriority(func() {
		lowSawHighDone.Store(highDone.Load())
		close(lowStarted)
	}, Low); err != nil {
		t.Fatalf("ExecuteWithPriority(low): %v", err)
	}

	// The sole worker is busy, so the low task must not start yet.
	select {
	case <-lowStarted:
		t.Fatal("low priority task started while the only worker was busy")
	case <-time.After(50 * time.Millisecond):
	}
	if s.CurrentPoolSize() != 1 {
		t.Fatalf("want pool size capped at maxPoolSize=1, got %d", s.CurrentPoolSize())
	}

	close(releaseHigh)

	if !waitUntil(t, time.Second, func() bool {
		select {
		case <-lowStarted:
			return true
		default:
			return false
		}
	}) {
		t.Fatal("low priority task never started after the worker freed up")
	}
	if !lowSawHighDone.Load() {
		t.Fatal("low priority task started before the high priority task finished")
	}
}

// TestSchedulerPoolGrowsToMaxUnderLoad covers concurrent load exceeding
// corePoolSize: the pool grows workers up to, but never past, maxPoolSize.
func TestSchedulerPoolGrowsToMaxUnderLoad(t *testing.T) {
	const maxPoolSize = 3
	s, err := NewPriorityScheduler(testSchedulerConfig(1, maxPoolSize))
	if err != nil {
		t.Fatalf("NewPriorityScheduler: %v", err)
	}
	defer s.ShutdownNow()

	release := make(chan struct{})
	var running atomic.Int32
	var wg sync.WaitGroup
	wg.Add(maxPoolSize + 2)
	for i := 0; i < maxPoolSize+2; i++ {
		if err := s.ExecuteWithPriority(func() {
			running.Add(1)
			<-release
			wg.Done()
		}, High); err != nil {
			t.Fatalf("ExecuteWithPriority: %v", err)
		}
	}

	if !waitUntil(t, time.Second, func() bool { return s.CurrentPoolSize() == maxPoolSize }) {
		t.Fatalf("pool never grew to maxPoolSize: got %d", s.CurrentPoolSize())
	}
	// Give any (incorrect) further growth a chance to show up before we
	// release the held tasks.
	time.Sleep(20 * time.Millisecond)
	if s.CurrentPoolSize() != maxPoolSize {
		t.Fatalf("pool grew past maxPoolSize=%d: got %d", maxPoolSize, s.CurrentPoolSize())
	}

	close(release)
	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("not all high priority tasks completed")
	}
}

// TestSchedulerLowPriorityRunsOnlyAfterQueuedHighTasksUnderContention drives
// the tolerance-based starvation guard in runLowPriorityTask directly: with
// core=1,max=1, a long-running high task occupies the only worker. A second
// high task is submitted next; the taskConsumer goroutine servicing the high
// queue dequeues it immediately (the pool is saturated, so it parks waiting
// for a worker rather than leaving it queued), which is what sets
// lastHighDelayMs. A third high task, submitted after a short settle, has no
// consumer left to dequeue it and so genuinely sits in the high queue,
// making it non-empty for the low task's admission check. A low task
// submitted last must not run before all three high tasks have, regardless
// of which branch of runLowPriorityTask's loop it takes to get there.
func TestSchedulerLowPriorityRunsOnlyAfterQueuedHighTasksUnderContention(t *testing.T) {
	s, err := NewPriorityScheduler(testSchedulerConfig(1, 1))
	if err != nil {
		t.Fatalf("NewPriorityScheduler: %v", err)
	}
	defer s.ShutdownNow()

	var mu sync.Mutex
	var order []string
	record := func(name string) {
		mu.Lock()
		order = append(order, name)
		mu.Unlock()
	}

	high1Started := make(chan struct{})
	releaseHigh1 := make(chan struct{})
	if err := s.ExecuteWithPriority(func() {
		close(high1Started)
		<-releaseHigh1
		record("high1")
	}, High); err != nil {
		t.Fatalf("ExecuteWithPriority(high1): %v", err)
	}
	if !waitUntil(t, time.Second, func() bool {
		select {
		case <-high1Started:
			return true
		default:
			return false
		}
	}) {
		t.Fatal("high1 never started")
	}

	var wg sync.WaitGroup
	wg.Add(2)
	if err := s.ExecuteWithPriority(func() {
		defer wg.Done()
		record("high2")
	}, High); err != nil {
		t.Fatalf("ExecuteWithPriority(high2): %v", err)
	}

	// Give the high consumer goroutine time to dequeue high2 and park on
	// the worker condition before high3 is submitted, so high3 is the one
	// left genuinely sitting in the high queue. SchedulerStats exposes no
	// "waiter parked" signal to poll instead, so this is a short real-time
	// settle, consistent with the rest of this file's reliance on wall
	// clock timing.
	time.Sleep(20 * time.Millisecond)

	if err := s.ExecuteWithPriority(func() {
		defer wg.Done()
		record("high3")
	}, High); err != nil {
		t.Fatalf("ExecuteWithPriority(high3): %v", err)
	}

	lowDone := make(chan struct{})
	if err := s.ExecuteWithPriority(func() {
		record("low")
		close(lowDone)
	}, Low); err != nil {
		t.Fatalf("ExecuteWithPriority(low): %v", err)
	}

	close(releaseHigh1)
	wg.Wait()
	select {
	case <-lowDone:
	case <-time.After(2 * time.Second):
		t.Fatal("low priority task never ran")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 4 || order[3] != "low" {
		t.Fatalf("want high tasks strictly before low, got %v", order)
	}
}

func TestSchedulerShutdownRejectsNewWork(t *testing.T) {
	s, err := NewPriorityScheduler(testSchedulerConfig(1, 1))
	if err != nil {
		t.Fatalf("NewPriorityScheduler: %v", err)
	}
	s.Shutdown()
	if !waitUntil(t, time.Second, s.IsTerminated) {
		t.Fatal("scheduler never finished shutting down")
	}
	if err := s.Execute(func() {}); !errors.Is(err, ErrRejectedExecution) {
		t.Fatalf("want ErrRejectedExecution, got %v", err)
	}
}

func TestSchedulerShutdownNowDrainsPendingTasks(t *testing.T) {
	s, err := NewPriorityScheduler(testSchedulerConfig(1, 1))
	if err != nil {
		t.Fatalf("NewPriorityScheduler: %v", err)
	}

	block := make(chan struct{})
	_ = s.Execute(func() { <-block })
	// This second task is pulled off the queue by the consumer goroutine and
	// parked there waiting for a free worker, so it will not appear in
	// ShutdownNow's drained slice; only tasks still sitting in the queue
	// itself are returned. The assertion below only checks that none of the
	// pending tasks ran.
	var queued atomic.Int32
	_ = s.Execute(func() { queued.Add(1) })
	_ = s.Execute(func() { queued.Add(1) })

	drained := s.ShutdownNow()
	close(block)
	time.Sleep(20 * time.Millisecond)
	if queued.Load() != 0 {
		t.Fatal("drained task ran anyway")
	}
	if len(drained) < 1 {
		t.Fatalf("want at least 1 drained task, got %d", len(drained))
	}
}

func TestSchedulerSetCorePoolSizeGrowsPool(t *testing.T) {
	s, err := NewPriorityScheduler(testSchedulerConfig(1, 4))
	if err != nil {
		t.Fatalf("NewPriorityScheduler: %v", err)
	}
	defer s.ShutdownNow()

	if err := s.SetCorePoolSize(3); err != nil {
		t.Fatalf("SetCorePoolSize: %v", err)
	}
	if !waitUntil(t, time.Second, func() bool { return s.CurrentPoolSize() >= 3 }) {
		t.Fatalf("pool did not grow, size=%d", s.CurrentPoolSize())
	}
}

func TestSchedulerStatsCountsSubmittedAndExecuted(t *testing.T) {
	s, err := NewPriorityScheduler(testSchedulerConfig(2, 2))
	if err != nil {
		t.Fatalf("NewPriorityScheduler: %v", err)
	}
	defer s.ShutdownNow()

	var wg sync.WaitGroup
	wg.Add(3)
	for i := 0; i < 3; i++ {
		_ = s.ExecuteWithPriority(func() { wg.Done() }, High)
	}
	wg.Wait()
	time.Sleep(10 * time.Millisecond)

	stats := s.Stats()
	if stats.SubmittedHigh != 3 {
		t.Fatalf("want SubmittedHigh=3, got %d", stats.SubmittedHigh)
	}
	if stats.ExecutedHigh != 3 {
		t.Fatalf("want ExecutedHigh=3, got %d", stats.ExecutedHigh)
	}
}
