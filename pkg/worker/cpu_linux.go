//go:build linux

package worker

import "syscall"

// threadID returns the OS thread the calling goroutine is locked to.
func threadID() int32 { return int32(syscall.Gettid()) }
