//go:build unix

package threadly_internal

import (
	"golang.org/x/sys/unix"
)

// setNormalPriority nudges the calling OS thread (the worker must already
// have called runtime.LockOSThread) to niceness 0, i.e. "normal" priority,
// regardless of what the process's own niceness happens to be. Errors are
// logged, not propagated: a worker that cannot adjust its own priority
// should still run tasks.
func setNormalPriority(workerID int) {
	if err := unix.Setpriority(unix.PRIO_PROCESS, 0, 0); err != nil {
		schedulerLog.Debugf("worker %d: unix.Setpriority: %v", workerID, err)
	}
}
