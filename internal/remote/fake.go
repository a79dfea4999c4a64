// Copyright 2017 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package remote

// FakeReader is a byte-buffer-backed Reader, the canonical stand-in for
// ProcessReader in tests: no live process required, and individual
// addresses can be marked unreadable to exercise error paths.
type FakeReader struct {
	regions    []fakeRegion
	unreadable map[Address]bool
}

type fakeRegion struct {
	base Address
	data []byte
}

// NewFakeReader returns an empty FakeReader with no mapped regions.
func NewFakeReader() *FakeReader {
	return &FakeReader{unreadable: make(map[Address]bool)}
}

// Map installs data so that Read(base, len(data)) (and any sub-range of
// it) succeeds.
func (f *FakeReader) Map(base Address, data []byte) {
	f.regions = append(f.regions, fakeRegion{base: base, data: data})
}

// Unmap makes every Read that starts at addr fail, regardless of any Map
// call covering it, to simulate a page that became inaccessible (e.g.
// S4's unreadable globals scenario). Reads that start at another address
// are not affected, even if their range includes addr.
func (f *FakeReader) Unmap(addr Address) {
	f.unreadable[addr] = true
}

// Read implements Reader by scanning the mapped regions for one that
// fully covers [addr, addr+length).
func (f *FakeReader) Read(addr Address, length int) ([]byte, error) {
	if err := checkLength(length); err != nil {
		return nil, err
	}
	if f.unreadable[addr] {
		return nil, &ErrUnreadableRegion{Addr: addr, Length: length, Err: errUnmapped}
	}
	for _, r := range f.regions {
		off := int64(addr) - int64(r.base)
		if off < 0 || off+int64(length) > int64(len(r.data)) {
			continue
		}
		out := make([]byte, length)
		copy(out, r.data[off:off+int64(length)])
		return out, nil
	}
	return nil, &ErrUnreadableRegion{Addr: addr, Length: length, Err: errUnmapped}
}

var errUnmapped = fakeError("no mapped region covers the requested range")

type fakeError string

func (e fakeError) Error() string { return string(e) }
