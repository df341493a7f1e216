// Worker: one goroutine locked to one OS thread, parked on a hand-off
// channel between assignments (tasks chan Task, stopCh chan struct{}),
// with an explicit per-worker hand-off channel rather than a plain
// fan-out dispatcher.

package threadly_internal

import (
	"runtime"
)

type workerState int

const (
	workerNew workerState = iota
	workerIdle
	workerAssigned
	workerStopped
)

// ThreadFactory mints the OS thread a worker goroutine runs on. The default
// implementation locks the goroutine to its OS thread and lowers its
// scheduling priority to "normal" on unix (see threadfactory_unix.go);
// Go exposes no direct equivalent of minting a daemon thread, so the
// closest faithful translation is a hook invoked once per worker start.
type ThreadFactory interface {
	OnWorkerStart(workerID int)
}

// UncaughtHandler receives a recovered panic value from a worker's task
// body. It never receives anything from the worker loop itself: task
// panics are the only kind recovered.
type UncaughtHandler func(workerID int, recovered any)

var schedulerLog = NewCompLogger("scheduler")

// worker is owned by exactly one PriorityScheduler. It runs one task to
// completion before returning itself to the pool via workerDone.
type worker struct {
	id     int
	tasks  chan func()
	stopCh chan struct{}

	threadFactory   ThreadFactory
	uncaughtHandler UncaughtHandler
	// workerDone is the pool's "return me" callback; the worker holds only
	// this narrow hook, not a reference to the whole scheduler.
	workerDone func(w *worker)

	state workerState
}

func newWorker(id int, threadFactory ThreadFactory, uncaughtHandler UncaughtHandler, workerDone func(w *worker)) *worker {
	w := &worker{
		id:              id,
		tasks:           make(chan func(), 1),
		stopCh:          make(chan struct{}),
		threadFactory:   threadFactory,
		uncaughtHandler: uncaughtHandler,
		workerDone:      workerDone,
		state:           workerNew,
	}
	go w.loop()
	return w
}

// nextTask hands a task to an idle worker. Only the owning pool calls this,
// holding workersLock, so there is no risk of two assignments racing.
func (w *worker) nextTask(task func()) {
	w.state = workerAssigned
	w.tasks <- task
}

// killWorker stops the worker; safe to call once. A worker currently
// running a task finishes it before observing the stop signal.
func (w *worker) killWorker() {
	close(w.stopCh)
}

func (w *worker) loop() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if w.threadFactory != nil {
		w.threadFactory.OnWorkerStart(w.id)
	}

	w.state = workerIdle
	schedulerLog.Debugf("worker %d: started", w.id)

	for {
		select {
		case <-w.stopCh:
			w.state = workerStopped
			schedulerLog.Debugf("worker %d: stopped", w.id)
			return
		case task := <-w.tasks:
			w.runTask(task)
			w.state = workerIdle
			w.workerDone(w)
		}
	}
}

func (w *worker) runTask(task func()) {
	defer func() {
		if r := recover(); r != nil {
			if w.uncaughtHandler != nil {
				w.uncaughtHandler(w.id, r)
			} else {
				schedulerLog.Errorf("worker %d: recovered panic: %v", w.id, r)
			}
		}
	}()
	task()
}
