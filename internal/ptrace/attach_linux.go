// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build linux

package ptrace

import (
	"fmt"
	"runtime"
	"sync"

	"golang.org/x/sys/unix"
)

// Raw ptrace request numbers: golang.org/x/sys/unix has no typed
// wrapper for PTRACE_SEIZE or PTRACE_INTERRUPT, so they're issued
// through unix.Syscall6(unix.SYS_PTRACE, ...) directly.
const (
	ptraceSeize     = 0x4206
	ptraceInterrupt = 0x4207
)

// session runs every ptrace(2) call for one pid on a single, dedicated,
// locked OS thread: the kernel requires the tracer of a seized process
// to be the same thread for its whole lifetime. fc/ec must stay
// unbuffered so a caller's result always comes from its own request,
// not a later one.
type session struct {
	pid int
	fc  chan func() error
	ec  chan error

	once sync.Once
}

func attach(pid int) (Session, error) {
	s := &session{
		pid: pid,
		fc:  make(chan func() error),
		ec:  make(chan error),
	}
	go ptraceRun(s.fc, s.ec)

	if err := s.do(func() error {
		_, _, errno := unix.Syscall6(unix.SYS_PTRACE, ptraceSeize, uintptr(pid), 0, 0, 0, 0)
		if errno != 0 {
			return fmt.Errorf("PTRACE_SEIZE: %v", errno)
		}
		return nil
	}); err != nil {
		close(s.fc)
		return nil, err
	}

	if err := s.do(func() error {
		_, _, errno := unix.Syscall6(unix.SYS_PTRACE, ptraceInterrupt, uintptr(pid), 0, 0, 0, 0)
		if errno != 0 {
			return fmt.Errorf("PTRACE_INTERRUPT: %v", errno)
		}
		return nil
	}); err != nil {
		// Best effort: release what we seized before reporting failure.
		s.do(func() error { return unix.PtraceDetach(pid) })
		close(s.fc)
		return nil, err
	}

	return s, nil
}

func (s *session) do(f func() error) error {
	s.fc <- f
	return <-s.ec
}

// Detach releases pid, letting the kernel resume it normally. Safe to
// call more than once.
func (s *session) Detach() error {
	var err error
	s.once.Do(func() {
		err = s.do(func() error {
			return unix.PtraceDetach(s.pid)
		})
		close(s.fc)
	})
	return err
}

// ptraceRun runs every closure from fc on a dedicated, OS-thread-locked
// goroutine, the same pattern an interactive ptrace-based debugger uses
// to keep every ptrace(2) call for a pid on the thread that attached it.
func ptraceRun(fc chan func() error, ec chan error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	for f := range fc {
		ec <- f()
	}
}
