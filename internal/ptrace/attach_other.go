// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build !linux

package ptrace

// noopSession is the Session used on platforms without ptrace support.
// Every operation trivially succeeds; the target is never actually
// paused, so samples taken here can observe torn state. This is
// intentional and documented, not a bug: attach is not at feature
// parity outside Linux.
type noopSession struct{}

func attach(pid int) (Session, error) {
	return noopSession{}, nil
}

func (noopSession) Detach() error { return nil }
