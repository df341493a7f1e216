// The public face of this package: thin aliases and constructors over the
// internal scheduler, key distributor and stats reporter.

package threadly

import (
	"time"

	"github.com/sirupsen/logrus"

	threadly_internal "github.com/igool/threadly/internal"
)

type Priority = threadly_internal.Priority

const (
	High = threadly_internal.High
	Low  = threadly_internal.Low
)

type Cancelable = threadly_internal.Cancelable
type Future[T any] = threadly_internal.Future[T]
type ThreadFactory = threadly_internal.ThreadFactory
type UncaughtHandler = threadly_internal.UncaughtHandler
type SchedulerOption = threadly_internal.SchedulerOption
type FutureOption = threadly_internal.FutureOption

type Config = threadly_internal.Config
type SchedulerConfig = threadly_internal.SchedulerConfig
type KeyDistributorConfig = threadly_internal.KeyDistributorConfig
type LoggerConfig = threadly_internal.LoggerConfig
type StatsReporterConfig = threadly_internal.StatsReporterConfig

type SchedulerStats = threadly_internal.SchedulerStats
type KeyDistributorStats = threadly_internal.KeyDistributorStats

type StatsSink = threadly_internal.StatsSink
type StatsReporter = threadly_internal.StatsReporter

func DefaultConfig() *Config                   { return threadly_internal.DefaultConfig() }
func DefaultSchedulerConfig() *SchedulerConfig { return threadly_internal.DefaultSchedulerConfig() }
func DefaultKeyDistributorConfig() *KeyDistributorConfig {
	return threadly_internal.DefaultKeyDistributorConfig()
}
func DefaultStatsReporterConfig() *StatsReporterConfig {
	return threadly_internal.DefaultStatsReporterConfig()
}

func LoadConfig(cfgFile string, buf []byte) (*Config, error) {
	return threadly_internal.LoadConfig(cfgFile, buf)
}

func WithThreadFactory(tf ThreadFactory) SchedulerOption {
	return threadly_internal.WithThreadFactory(tf)
}

func WithUncaughtHandler(h UncaughtHandler) SchedulerOption {
	return threadly_internal.WithUncaughtHandler(h)
}

func WithRethrowListenerPanics() FutureOption {
	return threadly_internal.WithRethrowListenerPanics()
}

// PriorityScheduler is an elastic worker pool with two priority queues, a
// starvation-prevention policy for the low-priority class, recurring-task
// reinsertion and graceful/immediate shutdown.
type PriorityScheduler struct {
	s *threadly_internal.PriorityScheduler
}

func NewPriorityScheduler(cfg *SchedulerConfig, opts ...SchedulerOption) (*PriorityScheduler, error) {
	s, err := threadly_internal.NewPriorityScheduler(cfg, opts...)
	if err != nil {
		return nil, err
	}
	return &PriorityScheduler{s: s}, nil
}

func (p *PriorityScheduler) Execute(task func()) error { return p.s.Execute(task) }

func (p *PriorityScheduler) ExecuteWithPriority(task func(), priority Priority) error {
	return p.s.ExecuteWithPriority(task, priority)
}

func (p *PriorityScheduler) Schedule(task func(), delay time.Duration, priority Priority) error {
	return p.s.Schedule(task, delay, priority)
}

func (p *PriorityScheduler) ScheduleWithFixedDelay(task func(), initialDelay, delay time.Duration, priority Priority) (Cancelable, error) {
	return p.s.ScheduleWithFixedDelay(task, initialDelay, delay, priority)
}

func (p *PriorityScheduler) ScheduleAtFixedRate(task func(), initialDelay, period time.Duration, priority Priority) (Cancelable, error) {
	return p.s.ScheduleAtFixedRate(task, initialDelay, period, priority)
}

func (p *PriorityScheduler) Submit(task func() (any, error), priority Priority, opts ...FutureOption) (Future[any], error) {
	return p.s.Submit(task, priority, opts...)
}

func (p *PriorityScheduler) Remove(c Cancelable) bool { return p.s.Remove(c) }

func (p *PriorityScheduler) SetCorePoolSize(n int) error { return p.s.SetCorePoolSize(n) }
func (p *PriorityScheduler) SetMaxPoolSize(n int) error  { return p.s.SetMaxPoolSize(n) }

func (p *PriorityScheduler) PrestartAllCoreThreads() int { return p.s.PrestartAllCoreThreads() }
func (p *PriorityScheduler) CurrentPoolSize() int        { return p.s.CurrentPoolSize() }

func (p *PriorityScheduler) Stats() SchedulerStats { return p.s.Stats() }

func (p *PriorityScheduler) IsShutdown() bool   { return p.s.IsShutdown() }
func (p *PriorityScheduler) IsTerminated() bool { return p.s.IsTerminated() }

func (p *PriorityScheduler) Shutdown()             { p.s.Shutdown() }
func (p *PriorityScheduler) ShutdownNow() []func() { return p.s.ShutdownNow() }

// KeyDistributor gives same-key tasks strict FIFO, non-concurrent,
// thread-affine execution on top of a PriorityScheduler.
type KeyDistributor struct {
	kd *threadly_internal.KeyDistributor
}

func NewKeyDistributor(scheduler *PriorityScheduler, cfg *KeyDistributorConfig) (*KeyDistributor, error) {
	kd, err := threadly_internal.NewKeyDistributor(scheduler.s, cfg)
	if err != nil {
		return nil, err
	}
	return &KeyDistributor{kd: kd}, nil
}

func (k *KeyDistributor) Execute(key string, task func(), priority Priority) error {
	return k.kd.Execute(key, task, priority)
}

func (k *KeyDistributor) Schedule(key string, task func(), delay time.Duration, priority Priority) error {
	return k.kd.Schedule(key, task, delay, priority)
}

func (k *KeyDistributor) ScheduleWithFixedDelay(key string, task func(), initialDelay, restPeriod time.Duration, priority Priority) (Cancelable, error) {
	return k.kd.ScheduleWithFixedDelay(key, task, initialDelay, restPeriod, priority)
}

func (k *KeyDistributor) Stats() KeyDistributorStats { return k.kd.Stats() }

// KeyScheduler is a façade returned by GetSchedulerForKey: its operations
// pre-bind key.
type KeyScheduler struct {
	ks *threadly_internal.KeyScheduler
}

func (k *KeyDistributor) GetSchedulerForKey(key string) *KeyScheduler {
	return &KeyScheduler{ks: k.kd.GetSchedulerForKey(key)}
}

func (ks *KeyScheduler) Execute(task func(), priority Priority) error {
	return ks.ks.Execute(task, priority)
}

func (ks *KeyScheduler) Schedule(task func(), delay time.Duration, priority Priority) error {
	return ks.ks.Schedule(task, delay, priority)
}

func (ks *KeyScheduler) ScheduleWithFixedDelay(task func(), initialDelay, restPeriod time.Duration, priority Priority) (Cancelable, error) {
	return ks.ks.ScheduleWithFixedDelay(task, initialDelay, restPeriod, priority)
}

func (ks *KeyScheduler) IsShutdown() bool { return ks.ks.IsShutdown() }

func NewStatsReporter(scheduler *PriorityScheduler, keyDistributor *KeyDistributor, sink StatsSink, cfg *StatsReporterConfig) (*StatsReporter, error) {
	var kd *threadly_internal.KeyDistributor
	if keyDistributor != nil {
		kd = keyDistributor.kd
	}
	return threadly_internal.NewStatsReporter(scheduler.s, kd, sink, cfg)
}

func NewStdoutStatsSink() *threadly_internal.StdoutStatsSink {
	return threadly_internal.NewStdoutStatsSink()
}

// NewDefaultThreadFactory returns the library's default ThreadFactory,
// which locks each worker goroutine to its OS thread and lowers its
// scheduling priority to normal (unix only; a no-op elsewhere).
func NewDefaultThreadFactory() ThreadFactory {
	return threadly_internal.NewDefaultThreadFactory()
}

// NewCompLogger creates a component sub-logger tagged comp=compName,
// matching the rest of the module's logging convention.
func NewCompLogger(comp string) *logrus.Entry {
	return threadly_internal.NewCompLogger(comp)
}

// GetRootLogger exposes the root logger for tests that need to capture its
// output (see testutils.TestLogCollect).
func GetRootLogger() any { return threadly_internal.RootLogger }

// AddCallerSrcPathPrefixToLogger registers the caller's module path with
// the logger so that logged source locations are relative rather than
// absolute; typically called once from main.init().
func AddCallerSrcPathPrefixToLogger(upNDirs int) error {
	return threadly_internal.AddCallerSrcPathPrefixToLogger(upNDirs, 1)
}
