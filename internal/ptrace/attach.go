// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package ptrace implements the non-destructive attach/pause/detach
// protocol used to hold a target process still for the duration of one
// stack sample.
package ptrace

// Session represents one attach-to-detach span against a single target
// PID. Callers must always call Detach, even (especially) on an error
// path; Session.Detach is idempotent and safe to call more than once.
type Session interface {
	// Detach releases the target, letting it resume. Safe to call
	// more than once; the second and later calls are no-ops.
	Detach() error
}

// Attach seizes and then interrupts the target, leaving it stopped but
// eligible for ordinary resumption via Detach. Attach is synchronous on
// platforms that support it, but callers must not assume the target is
// stopped purely because Attach returned success — see the platform
// implementation notes.
//
// On platforms without ptrace support, Attach is a no-op that always
// succeeds; walkers on such platforms operate on a best-effort,
// possibly torn snapshot. This is documented behavior, not a bug:
// attach is not at feature parity outside Linux.
func Attach(pid int) (Session, error) {
	return attach(pid)
}
