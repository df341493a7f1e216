package threadly_internal

// defaultThreadFactory is used when a scheduler is configured with no
// ThreadFactory: it locks the worker goroutine to its OS thread (done by
// the worker itself before calling OnWorkerStart) and lowers that thread's
// scheduling priority to "normal" on unix. See threadfactory_unix.go /
// threadfactory_others.go for the platform split.
type defaultThreadFactory struct{}

func NewDefaultThreadFactory() ThreadFactory {
	return &defaultThreadFactory{}
}

func (defaultThreadFactory) OnWorkerStart(workerID int) {
	setNormalPriority(workerID)
}
