// Copyright 2017 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package remote

import (
	"bufio"
	"debug/elf"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// ErrSymbolNotFound is returned when the target binary has no
// executor_globals symbol at all, i.e. it is not a debug/profilable
// build.
type ErrSymbolNotFound struct {
	Symbol string
	Path   string
}

func (e *ErrSymbolNotFound) Error() string {
	return fmt.Sprintf("symbol %q not found in %s", e.Symbol, e.Path)
}

// ErrMappingNotFound is returned when /proc/<pid>/maps has no
// executable+private mapping backed by the target's executable.
type ErrMappingNotFound struct {
	Path string
}

func (e *ErrMappingNotFound) Error() string {
	return fmt.Sprintf("no executable mapping backed by %s", e.Path)
}

// ErrIO wraps an underlying I/O failure while resolving a symbol
// address (reading /proc/<pid>/exe, the executable, or /proc/<pid>/maps).
type ErrIO struct {
	Op  string
	Err error
}

func (e *ErrIO) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }
func (e *ErrIO) Unwrap() error { return e.Err }

const executorGlobalsSymbol = "executor_globals"

// ResolveExecutorGlobals returns the absolute runtime address of
// executor_globals in the process identified by pid, by combining its
// static (link-time) symbol value with the load base of its own
// executable mapping.
func ResolveExecutorGlobals(pid int) (Address, error) {
	exePath, err := os.Readlink(fmt.Sprintf("/proc/%d/exe", pid))
	if err != nil {
		return 0, &ErrIO{Op: "readlink /proc/<pid>/exe", Err: err}
	}

	static, err := staticSymbolAddress(exePath, executorGlobalsSymbol)
	if err != nil {
		return 0, err
	}

	base, err := executableLoadBase(pid, exePath)
	if err != nil {
		return 0, err
	}

	return Address(static + uint64(base)), nil
}

// staticSymbolAddress returns the link-time value of name in path's
// symbol table, requiring it be typed as uninitialised data (BSS),
// the way `nm -D` reports a `B` symbol.
func staticSymbolAddress(path, name string) (uint64, error) {
	f, err := elf.Open(path)
	if err != nil {
		return 0, &ErrIO{Op: "open executable", Err: err}
	}
	defer f.Close()

	syms, err := f.Symbols()
	if err != nil {
		syms, err = f.DynamicSymbols()
	}
	if err != nil {
		return 0, &ErrSymbolNotFound{Symbol: name, Path: path}
	}

	for _, s := range syms {
		if s.Name != name {
			continue
		}
		if int(s.Section) < 0 || int(s.Section) >= len(f.Sections) {
			continue
		}
		if f.Sections[s.Section].Type != elf.SHT_NOBITS {
			continue // not a BSS (uninitialised-data) symbol
		}
		return s.Value, nil
	}
	return 0, &ErrSymbolNotFound{Symbol: name, Path: path}
}

// executableLoadBase reads /proc/<pid>/maps and returns the start
// address of the first executable+private mapping backed by exePath.
// Ties (multiple matching mappings) are broken by lowest start address.
func executableLoadBase(pid int, exePath string) (Address, error) {
	f, err := os.Open(fmt.Sprintf("/proc/%d/maps", pid))
	if err != nil {
		return 0, &ErrIO{Op: "open /proc/<pid>/maps", Err: err}
	}
	defer f.Close()

	var best Address
	found := false

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		addr, perm, path, ok := parseMapsLine(sc.Text())
		if !ok {
			continue
		}
		if !strings.Contains(perm, "x") || !strings.Contains(perm, "p") {
			continue
		}
		if path != exePath {
			continue
		}
		if !found || addr < best {
			best = addr
			found = true
		}
	}
	if err := sc.Err(); err != nil {
		return 0, &ErrIO{Op: "read /proc/<pid>/maps", Err: err}
	}
	if !found {
		return 0, &ErrMappingNotFound{Path: exePath}
	}
	return best, nil
}

// parseMapsLine splits one /proc/<pid>/maps line into its start
// address, permission string, and backing path (empty for anonymous
// mappings).
func parseMapsLine(line string) (addr Address, perm, path string, ok bool) {
	fields := strings.Fields(line)
	if len(fields) < 5 {
		return 0, "", "", false
	}
	rng := strings.SplitN(fields[0], "-", 2)
	if len(rng) != 2 {
		return 0, "", "", false
	}
	start, err := strconv.ParseUint(rng[0], 16, 64)
	if err != nil {
		return 0, "", "", false
	}
	if len(fields) >= 6 {
		path = fields[5]
	}
	return Address(start), fields[1], path, true
}
