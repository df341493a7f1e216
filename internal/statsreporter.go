// StatsReporter: a periodic self-monitoring snapshot loop that renders a
// worker pool's and key distributor's vitals, plus Go runtime and
// process-health facts, as Prometheus-style exposition lines.

package threadly_internal

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/docker/go-units"
)

const (
	STATS_REPORTER_CONFIG_INTERVAL_MS_DEFAULT       = 10_000
	STATS_REPORTER_CONFIG_BATCH_TARGET_SIZE_DEFAULT = "4k"
	STATS_REPORTER_METRIC_PREFIX                    = "threadly_"
)

type StatsReporterConfig struct {
	// How often the reporter emits a snapshot.
	IntervalMs int64 `yaml:"interval_ms"`
	// Exposition buffer is flushed once it has grown to at least this size,
	// human-readable via docker/go-units.RAMInBytes: "4k", "1m", ...
	BatchTargetSize string `yaml:"batch_target_size"`
}

func DefaultStatsReporterConfig() *StatsReporterConfig {
	return &StatsReporterConfig{
		IntervalMs:      STATS_REPORTER_CONFIG_INTERVAL_MS_DEFAULT,
		BatchTargetSize: STATS_REPORTER_CONFIG_BATCH_TARGET_SIZE_DEFAULT,
	}
}

// StatsSink is where a StatsReporter flushes its exposition buffer. Any
// io.Writer plus an explicit Flush works, so embedders can wire in whatever
// they already use (a file, an HTTP push, a test double).
type StatsSink interface {
	io.Writer
	Flush() error
}

// StdoutStatsSink prints exposition lines to stdout, for convenience when
// no other sink is configured.
type StdoutStatsSink struct{}

func NewStdoutStatsSink() *StdoutStatsSink { return &StdoutStatsSink{} }

func (StdoutStatsSink) Write(p []byte) (int, error) { return os.Stdout.Write(p) }
func (StdoutStatsSink) Flush() error                { return nil }

// StatsReporter periodically renders PriorityScheduler and KeyDistributor
// stats, plus Go-runtime and process-health facts, as Prometheus-style
// exposition lines and flushes them to a StatsSink.
type StatsReporter struct {
	cfg             *StatsReporterConfig
	scheduler       *PriorityScheduler
	keyDistributor  *KeyDistributor
	sink            StatsSink
	batchTargetSize int
	bufPool         *ReadFileBufPool

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

func NewStatsReporter(scheduler *PriorityScheduler, keyDistributor *KeyDistributor, sink StatsSink, cfg *StatsReporterConfig) (*StatsReporter, error) {
	if scheduler == nil {
		return nil, fmt.Errorf("NewStatsReporter: %w", ErrInvalidArgument)
	}
	if cfg == nil {
		cfg = DefaultStatsReporterConfig()
	}
	if cfg.IntervalMs <= 0 {
		return nil, fmt.Errorf("NewStatsReporter: IntervalMs: %w", ErrInvalidArgument)
	}
	batchTargetSize, err := units.RAMInBytes(cfg.BatchTargetSize)
	if err != nil {
		return nil, fmt.Errorf("NewStatsReporter: invalid batch_target_size %q: %v", cfg.BatchTargetSize, err)
	}
	if sink == nil {
		sink = NewStdoutStatsSink()
	}

	return &StatsReporter{
		cfg:             cfg,
		scheduler:       scheduler,
		keyDistributor:  keyDistributor,
		sink:            sink,
		batchTargetSize: int(batchTargetSize),
		bufPool:         NewBufPool(4),
		stopCh:          make(chan struct{}),
		doneCh:          make(chan struct{}),
	}, nil
}

// Start launches the periodic reporting loop; safe to call at most once.
func (r *StatsReporter) Start() {
	go r.loop()
}

func (r *StatsReporter) loop() {
	defer close(r.doneCh)
	interval := time.Duration(r.cfg.IntervalMs) * time.Millisecond
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	buf := r.bufPool.GetBuf()
	for {
		select {
		case <-r.stopCh:
			if buf.Len() > 0 {
				r.flush(buf)
			} else {
				r.bufPool.ReturnBuf(buf)
			}
			return
		case <-ticker.C:
			r.render(buf)
			if buf.Len() >= r.batchTargetSize {
				buf = r.flush(buf)
			}
		}
	}
}

// flush writes buf's contents to the sink, returns buf to the pool and
// hands back a fresh one to keep accumulating into.
func (r *StatsReporter) flush(buf *bytes.Buffer) *bytes.Buffer {
	if _, err := r.sink.Write(buf.Bytes()); err != nil {
		schedulerLog.Warnf("stats sink write: %v", err)
	}
	if err := r.sink.Flush(); err != nil {
		schedulerLog.Warnf("stats sink flush: %v", err)
	}
	r.bufPool.ReturnBuf(buf)
	return r.bufPool.GetBuf()
}

func (r *StatsReporter) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
	<-r.doneCh
}

// render appends one snapshot's worth of exposition lines to buf.
func (r *StatsReporter) render(buf *bytes.Buffer) {
	nowMs := time.Now().UnixMilli()

	s := r.scheduler.Stats()
	writeMetric(buf, "scheduler_submitted_total", "high", s.SubmittedHigh, nowMs)
	writeMetric(buf, "scheduler_submitted_total", "low", s.SubmittedLow, nowMs)
	writeMetric(buf, "scheduler_executed_total", "high", s.ExecutedHigh, nowMs)
	writeMetric(buf, "scheduler_executed_total", "low", s.ExecutedLow, nowMs)
	writeMetric(buf, "scheduler_rejected_total", "high", s.RejectedHigh, nowMs)
	writeMetric(buf, "scheduler_rejected_total", "low", s.RejectedLow, nowMs)
	writeMetric(buf, "scheduler_overrun_total", "high", s.OverrunHigh, nowMs)
	writeMetric(buf, "scheduler_overrun_total", "low", s.OverrunLow, nowMs)
	writeGauge(buf, "scheduler_pool_size", "", int64(s.CurrentPoolSize), nowMs)
	writeGauge(buf, "scheduler_core_pool_size", "", int64(s.CorePoolSize), nowMs)
	writeGauge(buf, "scheduler_max_pool_size", "", int64(s.MaxPoolSize), nowMs)
	writeGauge(buf, "scheduler_available_workers", "", int64(s.AvailableWorkers), nowMs)
	writeGauge(buf, "scheduler_last_high_delay_ms", "", s.LastHighDelayMs, nowMs)

	if r.keyDistributor != nil {
		kds := r.keyDistributor.Stats()
		writeGauge(buf, "key_distributor_active_keys", "", int64(kds.ActiveKeys), nowMs)
		for shard, n := range kds.PerShardKeyCount {
			writeGauge(buf, "key_distributor_shard_keys", fmt.Sprintf("shard=\"%d\"", shard), int64(n), nowMs)
		}
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	writeGauge(buf, "go_goroutines", "", int64(runtime.NumGoroutine()), nowMs)
	writeGauge(buf, "go_heap_alloc_bytes", "", int64(mem.HeapAlloc), nowMs)

	writeGauge(buf, "process_uptime_seconds", "", int64(time.Since(ProcessStartTime).Seconds()), nowMs)
	if cpuTime, err := GetMyCpuTime(); err == nil {
		writeGauge(buf, "process_cpu_seconds_total", "", int64(cpuTime), nowMs)
	}

	writeGauge(buf, "os_uptime_seconds", "", int64(time.Since(OsBootTime).Seconds()), nowMs)
	osInfoLabels := fmt.Sprintf("name=%q,release=%q,version=%q,machine=%q",
		OsInfo["name"], OsInfo["release"], OsInfo["version"], OsInfo["machine"])
	writeGauge(buf, "os_info", osInfoLabels, 1, nowMs)
}

func writeMetric(buf *bytes.Buffer, name, priority string, value int64, nowMs int64) {
	if priority != "" {
		fmt.Fprintf(buf, "%s%s{priority=%q} %d %d\n", STATS_REPORTER_METRIC_PREFIX, name, priority, value, nowMs)
	} else {
		fmt.Fprintf(buf, "%s%s %d %d\n", STATS_REPORTER_METRIC_PREFIX, name, value, nowMs)
	}
}

func writeGauge(buf *bytes.Buffer, name, labels string, value int64, nowMs int64) {
	if labels != "" {
		fmt.Fprintf(buf, "%s%s{%s} %d %d\n", STATS_REPORTER_METRIC_PREFIX, name, labels, value, nowMs)
	} else {
		fmt.Fprintf(buf, "%s%s %d %d\n", STATS_REPORTER_METRIC_PREFIX, name, value, nowMs)
	}
}
