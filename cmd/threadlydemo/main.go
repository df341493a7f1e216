// threadlydemo exercises the library end to end: it loads a config file,
// builds a PriorityScheduler, a KeyDistributor and a StatsReporter, submits
// a handful of sample tasks, then waits for a signal and shuts down
// gracefully within a configurable grace period.

package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/igool/threadly"
	threadly_internal "github.com/igool/threadly/internal"
)

const demoConfigDefault = "threadly-config.yaml"

var (
	configFileArg = flag.String(
		"config",
		demoConfigDefault,
		threadly_internal.FormatFlagUsage(`Config file to load`),
	)

	instanceArg = flag.String(
		"instance",
		"",
		threadly_internal.FormatFlagUsage(`Override the "threadly_config.instance" config setting`),
	)

	shutdownMaxWaitArg = flag.Duration(
		"shutdown-max-wait",
		5*time.Second,
		threadly_internal.FormatFlagUsage(`How long to wait for pending tasks to drain after a shutdown signal before forcing exit`),
	)
)

var demoLog = threadly.NewCompLogger("demo")

func main() {
	os.Exit(run())
}

func run() int {
	flag.Parse()

	cfg, err := threadly.LoadConfig(*configFileArg, nil)
	if err != nil {
		if !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "error loading config file: %v\n", err)
			return 1
		}
		cfg = threadly.DefaultConfig()
	}
	if *instanceArg != "" {
		cfg.Instance = *instanceArg
	}

	scheduler, err := threadly.NewPriorityScheduler(cfg.SchedulerConfig)
	if err != nil {
		demoLog.Errorf("NewPriorityScheduler: %v", err)
		return 1
	}
	defer scheduler.ShutdownNow()

	keyDistributor, err := threadly.NewKeyDistributor(scheduler, cfg.KeyDistributorConfig)
	if err != nil {
		demoLog.Errorf("NewKeyDistributor: %v", err)
		return 1
	}

	statsReporter, err := threadly.NewStatsReporter(scheduler, keyDistributor, threadly.NewStdoutStatsSink(), cfg.StatsReporterConfig)
	if err != nil {
		demoLog.Errorf("NewStatsReporter: %v", err)
		return 1
	}
	statsReporter.Start()
	defer statsReporter.Stop()

	_, _ = scheduler.ScheduleAtFixedRate(func() {
		demoLog.Debug("high-priority heartbeat")
	}, 0, time.Second, threadly.High)

	_, _ = scheduler.ScheduleWithFixedDelay(func() {
		demoLog.Debug("low-priority housekeeping")
	}, 0, 3*time.Second, threadly.Low)

	for _, key := range []string{"order-1", "order-2"} {
		key := key
		_ = keyDistributor.Execute(key, func() {
			demoLog.Debugf("processing %s", key)
		}, threadly.High)
	}

	demoLog.Infof("instance=%s: running, press Ctrl+C to stop", cfg.Instance)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	sig := <-sigCh
	demoLog.Warnf("%s signal received, shutting down", sig)

	scheduler.Shutdown()
	done := make(chan struct{})
	go func() {
		for !scheduler.IsTerminated() {
			time.Sleep(20 * time.Millisecond)
		}
		close(done)
	}()

	select {
	case <-done:
		demoLog.Info("shutdown complete")
	case <-time.After(*shutdownMaxWaitArg):
		demoLog.Warnf("shutdown timed out after %s, forcing exit", *shutdownMaxWaitArg)
		scheduler.ShutdownNow()
	}

	return 0
}
