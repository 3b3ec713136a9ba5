//go:build !linux

package concurrency

import "runtime"

// PinCurrentThread locks the calling goroutine to its OS thread. CPU binding
// is only implemented on Linux.
func PinCurrentThread(cpu int) error {
	runtime.LockOSThread()
	return nil
}

func UnpinCurrentThread() {
	runtime.UnlockOSThread()
}
