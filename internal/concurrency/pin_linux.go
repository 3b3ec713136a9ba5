//go:build linux

// hioload-verbs/internal/concurrency/pin_linux.go
// Author: momentics <momentics@gmail.com>
//
// Linux CPU pinning through sched_setaffinity.

package concurrency

import (
	"fmt"
	"runtime"

	"golang.org/x/sys/unix"
)

// PinCurrentThread locks the calling goroutine to its OS thread and binds the
// thread to cpu. A negative cpu only locks the thread.
func PinCurrentThread(cpu int) error {
	runtime.LockOSThread()
	if cpu < 0 {
		return nil
	}
	var set unix.CPUSet
	set.Zero()
	set.Set(cpu)
	if err := unix.SchedSetaffinity(0, &set); err != nil {
		return fmt.Errorf("concurrency: pin to cpu %d: %w", cpu, err)
	}
	return nil
}

// UnpinCurrentThread releases the OS thread lock taken by PinCurrentThread.
func UnpinCurrentThread() {
	runtime.UnlockOSThread()
}
