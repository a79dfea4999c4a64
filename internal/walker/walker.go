// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package walker

import (
	"encoding/binary"
	"strings"
	"unicode/utf8"

	"phpsampler/internal/layout"
	"phpsampler/internal/remote"
)

const wordSize = 8

// Sample reads the target's current interpreter call stack through mem
// and decodes it into a StackTrace, using the offsets in desc: one copy
// of the executor globals, one copy of the VM stack header, one batched
// copy of the live VM stack range, then decoding the execute_data chain
// entirely out of the local copy. Only the per-frame fields that live
// outside the stack (the function's name and scope words, the class
// entry's name word, and the name strings) require further remote reads.
//
// mem is assumed already attached/paused for the duration of this call;
// Sample itself never attaches or detaches.
func Sample(mem remote.Reader, desc *layout.Descriptor) (StackTrace, error) {
	globals, err := mem.Read(remote.Address(desc.ExecutorGlobalsAddress), int(desc.EGByteSize))
	if err != nil {
		return nil, err
	}

	currentExecuteData := readWord(globals, desc.EGCurrentExecuteDataOff)
	vmStackTop := readWord(globals, desc.EGVMStackTopOff)
	vmStackHeader := readWord(globals, desc.EGVMStackOff)

	header, err := mem.Read(remote.Address(vmStackHeader), int(desc.VMStackByteSize))
	if err != nil {
		return nil, err
	}
	// The first word of the header is the chunk's current low bound.
	// desc.VMStackEndOff names the struct's `end` member but is not
	// consulted here; see the open-question notes in DESIGN.md.
	low := readWord(header, 0)
	high := vmStackTop

	if high < low {
		return nil, ErrNoLivestack{}
	}
	buf, err := mem.Read(remote.Address(low), int(high-low))
	if err != nil {
		return nil, err
	}

	offset := int64(currentExecuteData) - int64(low)
	if offset < 0 {
		return nil, ErrNoLivestack{}
	}

	var trace StackTrace

	maxFrames := len(buf) + 1
	if desc.EDByteSize > 0 {
		maxFrames = len(buf)/int(desc.EDByteSize) + 1
	}

	for i := 0; i < maxFrames; i++ {
		if offset < 0 || offset+desc.EDByteSize > int64(len(buf)) {
			break // prev pointed outside the captured range: end of trace
		}
		frameBuf := buf[offset : offset+desc.EDByteSize]

		funcAddr := readWord(frameBuf, desc.EDFuncOff)
		prevAddr := readWord(frameBuf, desc.EDPrevOff)
		_ = readWord(frameBuf, desc.EDThisOff) // This: read in-bounds but not consulted, see §4.6

		frame, err := decodeFrame(mem, desc, funcAddr)
		if err != nil {
			return nil, err
		}
		trace = append(trace, frame)

		if prevAddr == 0 {
			break
		}
		offset = int64(prevAddr) - int64(low)
	}

	return trace, nil
}

func decodeFrame(mem remote.Reader, desc *layout.Descriptor, funcAddr uint64) (Frame, error) {
	if funcAddr == 0 {
		return Frame{Name: "???"}, nil
	}

	nameAddr, err := readRemoteWord(mem, funcAddr, desc.FuncFunctionNameOff)
	if err != nil {
		return Frame{}, err
	}
	if nameAddr == 0 {
		return Frame{Name: "main"}, nil
	}
	name, err := readInternedString(mem, desc, nameAddr)
	if err != nil {
		return Frame{}, err
	}

	scopeAddr, err := readRemoteWord(mem, funcAddr, desc.FuncScopeOff)
	if err != nil {
		return Frame{}, err
	}
	if scopeAddr == 0 {
		return Frame{Name: name}, nil
	}

	classNameAddr, err := readRemoteWord(mem, scopeAddr, desc.ClassNameOff)
	if err != nil {
		return Frame{}, err
	}
	if classNameAddr == 0 {
		return Frame{Name: name}, nil
	}
	scope, err := readInternedString(mem, desc, classNameAddr)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Name: name, Scope: &scope}, nil
}

// readRemoteWord reads one 8-byte little-endian field at base+off
// directly out of the target, for the small number of per-frame fields
// (function name/scope/class-name addresses) that live outside the
// captured VM stack range.
func readRemoteWord(mem remote.Reader, base uint64, off int64) (uint64, error) {
	buf, err := mem.Read(remote.Address(base).Add(off), wordSize)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(buf), nil
}

// readInternedString implements the interned-string read protocol:
// length at addr+StringLenOff, then that many bytes at addr+StringValOff,
// interpreted as UTF-8 with invalid sequences replaced.
func readInternedString(mem remote.Reader, desc *layout.Descriptor, addr uint64) (string, error) {
	lenBuf, err := mem.Read(remote.Address(addr).Add(desc.StringLenOff), wordSize)
	if err != nil {
		return "", err
	}
	length := binary.LittleEndian.Uint64(lenBuf)
	if length > remote.MaxReadSize {
		return "", &remote.ErrTooLarge{Length: int(length)}
	}
	valBuf, err := mem.Read(remote.Address(addr).Add(desc.StringValOff), int(length))
	if err != nil {
		return "", err
	}
	return toValidUTF8(valBuf), nil
}

func toValidUTF8(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	return strings.ToValidUTF8(string(b), string(utf8.RuneError))
}

func readWord(buf []byte, off int64) uint64 {
	if off < 0 || off+wordSize > int64(len(buf)) {
		return 0
	}
	return binary.LittleEndian.Uint64(buf[off : off+wordSize])
}
