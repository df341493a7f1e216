package threadly_internal

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func newTestKeyDistributor(t *testing.T, stripeCount int) (*PriorityScheduler, *KeyDistributor) {
	t.Helper()
	s, err := NewPriorityScheduler(testSchedulerConfig(4, 8))
	if err != nil {
		t.Fatalf("NewPriorityScheduler: %v", err)
	}
	cfg := DefaultKeyDistributorConfig()
	cfg.StripeCount = stripeCount
	kd, err := NewKeyDistributor(s, cfg)
	if err != nil {
		t.Fatalf("NewKeyDistributor: %v", err)
	}
	return s, kd
}

// TestKeyDistributorSameKeyIsStrictFIFO: interleaved submissions under two
// keys must each observe strict
// per-key ordering and never run concurrently with themselves.
func TestKeyDistributorSameKeyIsStrictFIFO(t *testing.T) {
	s, kd := newTestKeyDistributor(t, 4)
	defer s.ShutdownNow()

	const n = 100
	var muA, muB sync.Mutex
	var orderA, orderB []int
	var runningA, runningB atomic.Int32
	var concurrentViolation atomic.Bool

	var wg sync.WaitGroup
	wg.Add(2 * n)
	for i := 0; i < n; i++ {
		i := i
		_ = kd.Execute("A", func() {
			defer wg.Done()
			if runningA.Add(1) > 1 {
				concurrentViolation.Store(true)
			}
			muA.Lock()
			orderA = append(orderA, i)
			muA.Unlock()
			time.Sleep(time.Millisecond)
			runningA.Add(-1)
		}, High)
		_ = kd.Execute("B", func() {
			defer wg.Done()
			if runningB.Add(1) > 1 {
				concurrentViolation.Store(true)
			}
			muB.Lock()
			orderB = append(orderB, i)
			muB.Unlock()
			time.Sleep(time.Millisecond)
			runningB.Add(-1)
		}, Low)
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("tasks never completed")
	}

	if concurrentViolation.Load() {
		t.Fatal("same-key tasks ran concurrently")
	}
	for i := 0; i < n; i++ {
		if orderA[i] != i {
			t.Fatalf("key A out of order at %d: %v", i, orderA)
		}
		if orderB[i] != i {
			t.Fatalf("key B out of order at %d: %v", i, orderB)
		}
	}
}

func TestKeyDistributorDistinctKeysRunConcurrently(t *testing.T) {
	s, kd := newTestKeyDistributor(t, 4)
	defer s.ShutdownNow()

	start := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(2)
	var aRunning, bOverlapped atomic.Bool

	_ = kd.Execute("A", func() {
		defer wg.Done()
		aRunning.Store(true)
		<-start
		time.Sleep(30 * time.Millisecond)
		aRunning.Store(false)
	}, High)
	_ = kd.Execute("B", func() {
		defer wg.Done()
		<-start
		time.Sleep(5 * time.Millisecond)
		if aRunning.Load() {
			bOverlapped.Store(true)
		}
	}, High)

	time.Sleep(20 * time.Millisecond) // let both runners get elected
	close(start)
	wg.Wait()

	if !bOverlapped.Load() {
		t.Fatal("distinct keys did not run concurrently")
	}
}

func TestKeyDistributorScheduleHonorsDelay(t *testing.T) {
	s, kd := newTestKeyDistributor(t, 2)
	defer s.ShutdownNow()

	start := time.Now()
	doneCh := make(chan time.Duration, 1)
	err := kd.Schedule("A", func() { doneCh <- time.Since(start) }, 30*time.Millisecond, High)
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	select {
	case elapsed := <-doneCh:
		if elapsed < 25*time.Millisecond {
			t.Fatalf("ran too early: %v", elapsed)
		}
	case <-time.After(time.Second):
		t.Fatal("task never ran")
	}
}

func TestKeyDistributorScheduleWithFixedDelayStopsOnCancel(t *testing.T) {
	s, kd := newTestKeyDistributor(t, 2)
	defer s.ShutdownNow()

	var count atomic.Int32
	c, err := kd.ScheduleWithFixedDelay("A", func() { count.Add(1) }, 0, 10*time.Millisecond, High)
	if err != nil {
		t.Fatalf("ScheduleWithFixedDelay: %v", err)
	}
	if !waitUntil(t, time.Second, func() bool { return count.Load() >= 2 }) {
		t.Fatal("recurring key task never ran twice")
	}
	c.Cancel()
	after := count.Load()
	time.Sleep(50 * time.Millisecond)
	if count.Load() > after+1 {
		t.Fatalf("key task kept running after cancel: before=%d after=%d", after, count.Load())
	}
}

func TestKeyDistributorStatsTracksActiveKeys(t *testing.T) {
	s, kd := newTestKeyDistributor(t, 2)
	defer s.ShutdownNow()

	block := make(chan struct{})
	_ = kd.Execute("A", func() { <-block }, High)
	if !waitUntil(t, time.Second, func() bool { return kd.Stats().ActiveKeys >= 1 }) {
		t.Fatal("active key never observed")
	}
	close(block)
	if !waitUntil(t, time.Second, func() bool { return kd.Stats().ActiveKeys == 0 }) {
		t.Fatal("key entry was not cleaned up after draining")
	}
}

func TestKeySchedulerFacadeBindsKey(t *testing.T) {
	s, kd := newTestKeyDistributor(t, 2)
	defer s.ShutdownNow()

	ks := kd.GetSchedulerForKey("facade-key")
	var ran atomic.Bool
	if err := ks.Execute(func() { ran.Store(true) }, High); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !waitUntil(t, time.Second, ran.Load) {
		t.Fatal("facade task did not run")
	}
	if ks.IsShutdown() {
		t.Fatal("facade reports shut down prematurely")
	}
}
