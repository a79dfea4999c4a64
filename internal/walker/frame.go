// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package walker decodes a live interpreter call stack, out of process,
// into an ordered list of frames.
package walker

import "strings"

// Frame is one decoded activation record.
type Frame struct {
	Name  string
	Scope *string // nil for an unscoped call
}

// String renders a Frame the way the command-line tool prints it:
// "ClassName->methodName()" when scoped, "functionName()" otherwise.
func (f Frame) String() string {
	if f.Scope != nil {
		return *f.Scope + "->" + f.Name + "()"
	}
	return f.Name + "()"
}

// StackTrace is an ordered sequence of frames, innermost first.
type StackTrace []Frame

func (t StackTrace) String() string {
	lines := make([]string, len(t))
	for i, f := range t {
		lines[i] = f.String()
	}
	return strings.Join(lines, "\n")
}
