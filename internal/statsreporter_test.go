package threadly_internal

import (
	"strings"
	"testing"
	"time"

	threadly_testutils "github.com/igool/threadly/testutils"
)

func TestStatsReporterEmitsSchedulerMetrics(t *testing.T) {
	s, err := NewPriorityScheduler(testSchedulerConfig(1, 1))
	if err != nil {
		t.Fatalf("NewPriorityScheduler: %v", err)
	}
	defer s.ShutdownNow()

	kd, err := NewKeyDistributor(s, DefaultKeyDistributorConfig())
	if err != nil {
		t.Fatalf("NewKeyDistributor: %v", err)
	}

	sink := threadly_testutils.NewTestStatsSink()
	cfg := DefaultStatsReporterConfig()
	cfg.IntervalMs = 1
	cfg.BatchTargetSize = "1" // flush after every tick

	r, err := NewStatsReporter(s, kd, sink, cfg)
	if err != nil {
		t.Fatalf("NewStatsReporter: %v", err)
	}
	r.Start()
	defer r.Stop()

	if !waitUntil(t, time.Second, func() bool { return sink.FlushCount() > 0 }) {
		t.Fatal("stats reporter never flushed")
	}

	dump := sinkDump(t, sink)
	if !strings.Contains(dump, "threadly_scheduler_pool_size") {
		t.Fatal("missing scheduler_pool_size metric")
	}
	if !strings.Contains(dump, "threadly_os_uptime_seconds") {
		t.Fatal("missing os_uptime_seconds metric")
	}
	if !strings.Contains(dump, "threadly_os_info{") {
		t.Fatal("missing os_info metric")
	}
}

// sinkDump renders the lines TestStatsSink has collected as a single string
// for substring assertions, using Report's "unexpected" listing against an
// empty want-list (every collected line comes back as "unexpected: <line>").
func sinkDump(t *testing.T, sink *threadly_testutils.TestStatsSink) string {
	t.Helper()
	return sink.Report(nil, true).String()
}

func TestStatsReporterInvalidBatchTargetSizeRejected(t *testing.T) {
	s, err := NewPriorityScheduler(testSchedulerConfig(1, 1))
	if err != nil {
		t.Fatalf("NewPriorityScheduler: %v", err)
	}
	defer s.ShutdownNow()

	cfg := DefaultStatsReporterConfig()
	cfg.BatchTargetSize = "not-a-size"
	if _, err := NewStatsReporter(s, nil, nil, cfg); err == nil {
		t.Fatal("want error for invalid batch_target_size")
	}
}

func TestStatsReporterDefaultsToStdoutSink(t *testing.T) {
	s, err := NewPriorityScheduler(testSchedulerConfig(1, 1))
	if err != nil {
		t.Fatalf("NewPriorityScheduler: %v", err)
	}
	defer s.ShutdownNow()

	r, err := NewStatsReporter(s, nil, nil, nil)
	if err != nil {
		t.Fatalf("NewStatsReporter: %v", err)
	}
	if _, ok := r.sink.(*StdoutStatsSink); !ok {
		t.Fatalf("want *StdoutStatsSink, got %T", r.sink)
	}
}
