// Copyright 2017 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build linux

package remote

import (
	"fmt"
	"os"
)

// ProcessReader reads the virtual address space of a live process via
// its /proc/<pid>/mem file. Atomicity of a single Read relative to a
// paused target is provided by pread64 being a single syscall; it makes
// no guarantee against a target that is running concurrently.
type ProcessReader struct {
	pid int
	mem *os.File
}

// NewProcessReader opens /proc/<pid>/mem for reading. The target need
// not be paused yet; callers typically attach before the first Read.
func NewProcessReader(pid int) (*ProcessReader, error) {
	f, err := os.OpenFile(fmt.Sprintf("/proc/%d/mem", pid), os.O_RDONLY, 0)
	if err != nil {
		return nil, err
	}
	return &ProcessReader{pid: pid, mem: f}, nil
}

// Close releases the underlying /proc/<pid>/mem file descriptor.
func (p *ProcessReader) Close() error {
	return p.mem.Close()
}

// Read implements Reader.
func (p *ProcessReader) Read(addr Address, length int) ([]byte, error) {
	if err := checkLength(length); err != nil {
		return nil, err
	}
	buf := make([]byte, length)
	n, err := p.mem.ReadAt(buf, int64(addr))
	if err != nil {
		return nil, &ErrUnreadableRegion{Addr: addr, Length: length, Err: err}
	}
	if n != length {
		return nil, &ErrUnreadableRegion{Addr: addr, Length: length, Err: fmt.Errorf("short read: got %d of %d bytes", n, length)}
	}
	return buf, nil
}
