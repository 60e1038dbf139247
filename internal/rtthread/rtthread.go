// Package rtthread pins the calling goroutine to its own kernel thread and
// raises that thread's scheduling priority, so that a timing-sensitive
// goroutine (the transceiver worker) is not starved
// by the Go scheduler moving them between OS threads mid-wait.
package rtthread

import (
	"runtime"
	"syscall"
	"unsafe"
)

const (
	fifoPolicy = 1
	rrPolicy   = 2
)

type schedParam struct {
	Priority int
}

// Realtime locks the calling goroutine to its own kernel thread and sets
// that thread's scheduling policy to round-robin at priority 10.
func Realtime() error {
	runtime.LockOSThread()
	tid := syscall.Gettid()
	res, _, err := syscall.RawSyscall(syscall.SYS_SCHED_SETSCHEDULER, uintptr(tid),
		uintptr(rrPolicy), uintptr(unsafe.Pointer(&schedParam{10})))
	if res == 0 {
		return nil
	}
	return err
}
