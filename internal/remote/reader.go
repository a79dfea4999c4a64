// Copyright 2017 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package remote reads another process's virtual address space and
// resolves the runtime address of a named global symbol in it.
package remote

import "fmt"

// Address is a virtual address in a remote process's address space.
type Address uint64

func (a Address) Add(n int64) Address { return Address(int64(a) + n) }

// MaxReadSize is the hard cap on a single Read, independent of the
// target's actual mapping sizes. It exists as a safety bound against
// corrupt size fields read out of the target, not as a throughput
// limit.
const MaxReadSize = 512 * 1024

// Reader reads bytes out of a single remote process. Implementations
// must guarantee atomicity of a Read relative to a target that is
// paused for the whole call, and need make no guarantee otherwise.
type Reader interface {
	Read(addr Address, length int) ([]byte, error)
}

// ErrUnreadableRegion is returned when any byte of a requested read
// falls outside a mapped page of the target.
type ErrUnreadableRegion struct {
	Addr   Address
	Length int
	Err    error
}

func (e *ErrUnreadableRegion) Error() string {
	return fmt.Sprintf("unreadable region at %#x (%d bytes): %v", uint64(e.Addr), e.Length, e.Err)
}

func (e *ErrUnreadableRegion) Unwrap() error { return e.Err }

// ErrTooLarge is returned when a requested read exceeds MaxReadSize.
// The target is never touched in this case.
type ErrTooLarge struct {
	Length int
}

func (e *ErrTooLarge) Error() string {
	return fmt.Sprintf("read of %d bytes exceeds the %d byte cap", e.Length, MaxReadSize)
}

// checkLength is the shared guard every Reader implementation applies
// before issuing a remote read.
func checkLength(length int) error {
	if length > MaxReadSize {
		return &ErrTooLarge{Length: length}
	}
	return nil
}
