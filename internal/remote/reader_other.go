// Copyright 2017 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build !linux

package remote

import "errors"

// ProcessReader is unavailable outside Linux: there is no /proc/<pid>/mem
// equivalent plumbed in here, and attach is already a no-op on these
// platforms (see internal/ptrace). Every Read fails.
type ProcessReader struct{}

// NewProcessReader always fails on non-Linux hosts.
func NewProcessReader(pid int) (*ProcessReader, error) {
	return nil, errors.New("remote: cross-process memory reads are not supported on this platform")
}

func (p *ProcessReader) Close() error { return nil }

func (p *ProcessReader) Read(addr Address, length int) ([]byte, error) {
	return nil, errors.New("remote: cross-process memory reads are not supported on this platform")
}
