// KeyDistributor: a sharded per-key FIFO layer on top of PriorityScheduler.
// Tasks sharing a key run strictly in submission order, never concurrently,
// on a single worker thread while that key's chain is active; distinct keys
// run fully in parallel, via a stripe-locked queue-with-self-electing-runner
// design dispatched onto PriorityScheduler.

package threadly_internal

import (
	"fmt"
	"sync"
	"time"
)

const (
	KEY_DISTRIBUTOR_CONFIG_STRIPE_COUNT_DEFAULT = 16
)

type KeyDistributorConfig struct {
	// StripeCount is the number of hash buckets keys are spread across.
	// 1 puts every key behind a single stripe lock; each key still has its
	// own chain, so distinct keys are not serialized with each other.
	StripeCount int `yaml:"stripe_count"`
}

func DefaultKeyDistributorConfig() *KeyDistributorConfig {
	return &KeyDistributorConfig{
		StripeCount: KEY_DISTRIBUTOR_CONFIG_STRIPE_COUNT_DEFAULT,
	}
}

// keyQueue is the per-key FIFO chain: pending holds the task the elected
// runner is currently running (at index 0, if any), followed by the tasks it
// has not started yet.
type keyQueue struct {
	pending []func()
}

type keyShard struct {
	mu     sync.Mutex
	queues map[string]*keyQueue
}

// KeyDistributor dispatches same-key work serially onto a PriorityScheduler.
type KeyDistributor struct {
	cfg       *KeyDistributorConfig
	scheduler *PriorityScheduler
	shards    []*keyShard
}

func NewKeyDistributor(scheduler *PriorityScheduler, cfg *KeyDistributorConfig) (*KeyDistributor, error) {
	if scheduler == nil {
		return nil, fmt.Errorf("NewKeyDistributor: %w", ErrInvalidArgument)
	}
	if cfg == nil {
		cfg = DefaultKeyDistributorConfig()
	}
	if cfg.StripeCount < 1 {
		return nil, fmt.Errorf("NewKeyDistributor: StripeCount: %w", ErrInvalidArgument)
	}

	kd := &KeyDistributor{
		cfg:       cfg,
		scheduler: scheduler,
		shards:    make([]*keyShard, cfg.StripeCount),
	}
	for i := range kd.shards {
		kd.shards[i] = &keyShard{queues: make(map[string]*keyQueue)}
	}
	return kd, nil
}

func (kd *KeyDistributor) shardFor(key string) *keyShard {
	return kd.shards[shardFor(key, len(kd.shards))]
}

// appendAndMaybeRun appends task to key's chain and, if no runner is
// currently draining that chain, dispatches one drain task to the
// scheduler and elects the caller as that runner.
func (kd *KeyDistributor) appendAndMaybeRun(key string, task func(), p Priority) error {
	shard := kd.shardFor(key)

	shard.mu.Lock()
	q, ok := shard.queues[key]
	if !ok {
		q = &keyQueue{}
		shard.queues[key] = q
	}
	q.pending = append(q.pending, task)
	elected := len(q.pending) == 1
	shard.mu.Unlock()

	if !elected {
		return nil
	}
	return kd.scheduler.ExecuteWithPriority(func() { kd.drain(shard, key) }, p)
}

// drain is the scheduler task body for one elected runner: it runs the items
// of key's chain one at a time, each outside the stripe lock, and removes an
// item from the chain only after it has run, so appendAndMaybeRun never sees
// an empty chain (and never elects a second runner) while one is running. It
// keeps going as long as the chain is non-empty by the time it reacquires
// the lock. This gives one active drainer per key without a second
// scheduling round-trip for tasks appended while draining is underway.
func (kd *KeyDistributor) drain(shard *keyShard, key string) {
	shard.mu.Lock()
	for {
		q := shard.queues[key]
		if q == nil || len(q.pending) == 0 {
			delete(shard.queues, key)
			shard.mu.Unlock()
			return
		}
		task := q.pending[0]
		shard.mu.Unlock()

		runKeyTask(task)

		shard.mu.Lock()
		q.pending = q.pending[1:]
	}
}

func runKeyTask(task func()) {
	defer func() {
		if r := recover(); r != nil {
			schedulerLog.Errorf("key task panic: %v", r)
		}
	}()
	task()
}

func (kd *KeyDistributor) Execute(key string, task func(), p Priority) error {
	if task == nil {
		return fmt.Errorf("Execute: %w", ErrInvalidArgument)
	}
	if !p.valid() {
		return fmt.Errorf("Execute: %w", ErrUnsupportedPriority)
	}
	return kd.Schedule(key, task, 0, p)
}

// Schedule relays delay to the underlying scheduler: the enqueue onto key's
// chain is delayed, not the execution once the chain's runner reaches it.
func (kd *KeyDistributor) Schedule(key string, task func(), delay time.Duration, p Priority) error {
	if task == nil {
		return fmt.Errorf("Schedule: %w", ErrInvalidArgument)
	}
	if !p.valid() {
		return fmt.Errorf("Schedule: %w", ErrUnsupportedPriority)
	}
	if delay <= 0 {
		return kd.appendAndMaybeRun(key, task, p)
	}
	return kd.scheduler.Schedule(func() {
		if err := kd.appendAndMaybeRun(key, task, p); err != nil {
			schedulerLog.Warnf("key %q: enqueue after delay: %v", key, err)
		}
	}, delay, p)
}

// ScheduleWithFixedDelay enqueues a new occurrence of task onto key's chain
// every restPeriod after the previous occurrence finished running (not
// merely being enqueued). Returns a Cancelable: once it is canceled, no
// occurrence that has not started yet runs, including one already appended
// to the chain; an occurrence already running finishes.
func (kd *KeyDistributor) ScheduleWithFixedDelay(key string, task func(), initialDelay, restPeriod time.Duration, p Priority) (Cancelable, error) {
	if task == nil {
		return nil, fmt.Errorf("ScheduleWithFixedDelay: %w", ErrInvalidArgument)
	}
	if !p.valid() {
		return nil, fmt.Errorf("ScheduleWithFixedDelay: %w", ErrUnsupportedPriority)
	}
	if initialDelay < 0 || restPeriod <= 0 {
		return nil, fmt.Errorf("ScheduleWithFixedDelay: %w", ErrInvalidArgument)
	}

	marker := newOneTimeWrapper(p, 0, nil)
	var again func()
	again = func() {
		if marker.IsCancelled() {
			return
		}
		task()
		if marker.IsCancelled() {
			return
		}
		_ = kd.scheduler.Schedule(func() {
			if err := kd.appendAndMaybeRun(key, again, p); err != nil {
				schedulerLog.Warnf("key %q: reschedule: %v", key, err)
			}
		}, restPeriod, p)
	}

	if err := kd.Schedule(key, again, initialDelay, p); err != nil {
		return nil, err
	}
	return marker, nil
}

// KeyDistributorStats is a point-in-time snapshot for the stats reporter.
type KeyDistributorStats struct {
	ActiveKeys       int
	PerShardKeyCount []int
}

func (kd *KeyDistributor) Stats() KeyDistributorStats {
	stats := KeyDistributorStats{PerShardKeyCount: make([]int, len(kd.shards))}
	for i, shard := range kd.shards {
		shard.mu.Lock()
		n := len(shard.queues)
		shard.mu.Unlock()
		stats.PerShardKeyCount[i] = n
		stats.ActiveKeys += n
	}
	return stats
}

// KeyScheduler is a façade returned by GetSchedulerForKey: its operations
// pre-bind key, so callers that only ever act on one key do not have to
// keep repeating it.
type KeyScheduler struct {
	kd  *KeyDistributor
	key string
}

func (kd *KeyDistributor) GetSchedulerForKey(key string) *KeyScheduler {
	return &KeyScheduler{kd: kd, key: key}
}

func (ks *KeyScheduler) Execute(task func(), p Priority) error {
	return ks.kd.Execute(ks.key, task, p)
}

func (ks *KeyScheduler) Schedule(task func(), delay time.Duration, p Priority) error {
	return ks.kd.Schedule(ks.key, task, delay, p)
}

func (ks *KeyScheduler) ScheduleWithFixedDelay(task func(), initialDelay, restPeriod time.Duration, p Priority) (Cancelable, error) {
	return ks.kd.ScheduleWithFixedDelay(ks.key, task, initialDelay, restPeriod, p)
}

func (ks *KeyScheduler) IsShutdown() bool {
	return ks.kd.scheduler.IsShutdown()
}
