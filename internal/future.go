// Future[T]: a listenable completion handle backed by a mutex-guarded state
// machine plus a done channel that is closed on the one terminal result, so
// callers can wait for it or be notified of it.

package threadly_internal

import (
	"context"
	"sync"
)

// Executor runs a listener callback, e.g. on a dedicated goroutine instead
// of inline on the completing goroutine.
type Executor func(func())

// futureOptions holds the creation-time settings applied by FutureOption.
type futureOptions struct {
	rethrowListenerPanics bool
}

// FutureOption configures a Future at creation time, via Submit.
type FutureOption func(*futureOptions)

// WithRethrowListenerPanics makes a panic raised inside a listener
// propagate out of the goroutine that fired it, instead of the default of
// being recovered and swallowed.
func WithRethrowListenerPanics() FutureOption {
	return func(o *futureOptions) { o.rethrowListenerPanics = true }
}

// Future is the listener-notification capability returned by Submit: a
// single-assignment promise. Listeners registered before completion fire on
// completion; listeners registered after fire immediately.
type Future[T any] interface {
	Cancelable
	IsDone() bool
	AddListener(run func(), executor Executor)
	ClearListeners()
	Get(ctx context.Context) (T, error)
}

type futureListener struct {
	run      func()
	executor func(func())
}

type futureImpl[T any] struct {
	mu        sync.Mutex
	done      chan struct{}
	completed bool
	canceled  bool
	value     T
	err       error
	listeners []futureListener

	// owner is the taskWrapper whose body, once run, completes this
	// future. Canceling the future must also cancel owner so the body
	// never runs; Remove uses it to find the wrapper to pull out of its
	// queue, since the queue holds wrappers, not futures.
	owner *taskWrapper

	rethrowListenerPanics bool
}

func newFuture[T any](owner *taskWrapper, opts ...FutureOption) *futureImpl[T] {
	var o futureOptions
	for _, opt := range opts {
		opt(&o)
	}
	return &futureImpl[T]{
		done:                  make(chan struct{}),
		owner:                 owner,
		rethrowListenerPanics: o.rethrowListenerPanics,
	}
}

func (f *futureImpl[T]) Complete(value T) {
	f.finish(value, nil, false)
}

func (f *futureImpl[T]) Fail(err error) {
	var zero T
	f.finish(zero, err, false)
}

// Cancel marks the future canceled if it has not already completed, and
// cancels the underlying task wrapper so its body never runs if it hasn't
// started yet. It does not interrupt a body already running.
func (f *futureImpl[T]) Cancel() bool {
	if f.owner != nil {
		f.owner.Cancel()
	}
	var zero T
	return f.finish(zero, nil, true)
}

func (f *futureImpl[T]) finish(value T, err error, canceled bool) bool {
	f.mu.Lock()
	if f.completed || f.canceled {
		f.mu.Unlock()
		return false
	}
	f.completed = true
	f.canceled = canceled
	f.value = value
	f.err = err
	listeners := f.listeners
	f.listeners = nil
	close(f.done)
	f.mu.Unlock()

	for _, l := range listeners {
		fireListener(l, f.rethrowListenerPanics)
	}
	return true
}

// fireListener runs l, recovering and swallowing a panic unless
// rethrow is set, in which case the panic is left to propagate out of the
// goroutine that runs it (the completing goroutine, or whatever the
// listener's Executor schedules it on).
func fireListener(l futureListener, rethrow bool) {
	run := func() {
		if !rethrow {
			defer func() { recover() }()
		}
		l.run()
	}
	if l.executor != nil {
		l.executor(run)
	} else {
		run()
	}
}

func (f *futureImpl[T]) AddListener(run func(), executor Executor) {
	l := futureListener{run: run, executor: executor}
	f.mu.Lock()
	if f.completed || f.canceled {
		rethrow := f.rethrowListenerPanics
		f.mu.Unlock()
		fireListener(l, rethrow)
		return
	}
	f.listeners = append(f.listeners, l)
	f.mu.Unlock()
}

func (f *futureImpl[T]) ClearListeners() {
	f.mu.Lock()
	f.listeners = nil
	f.mu.Unlock()
}

func (f *futureImpl[T]) IsDone() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.completed || f.canceled
}

// ownerTask lets PriorityScheduler.Remove find the queued wrapper behind a
// Future returned by Submit.
func (f *futureImpl[T]) ownerTask() *taskWrapper { return f.owner }

func (f *futureImpl[T]) IsCancelled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.canceled
}

func (f *futureImpl[T]) Get(ctx context.Context) (T, error) {
	select {
	case <-f.done:
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.canceled {
		var zero T
		return zero, context.Canceled
	}
	return f.value, f.err
}
