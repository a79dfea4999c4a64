// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package layout

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Descriptor is the flat record of byte offsets and sizes the stack
// walker needs. It can be built from a DWARF Lookup, or loaded from a
// previously persisted copy; both paths produce the same record, modulo
// ExecutorGlobalsAddress, which is always resolved at run time.
type Descriptor struct {
	// executor globals (_zend_executor_globals)
	EGByteSize              int64
	EGCurrentExecuteDataOff int64
	EGVMStackTopOff         int64
	EGVMStackEndOff         int64
	EGVMStackOff            int64

	// execute-data frame (_zend_execute_data)
	EDByteSize int64
	EDThisOff  int64
	EDFuncOff  int64
	EDPrevOff  int64

	// function common prefix (_zend_function.common)
	FuncFunctionNameOff int64
	FuncScopeOff        int64

	// interned string (_zend_string)
	StringLenOff int64
	StringValOff int64

	// VM stack header (_zend_vm_stack)
	VMStackByteSize int64
	VMStackEndOff   int64

	// class entry (_zend_class_entry)
	ClassNameOff int64

	// ExecutorGlobalsAddress is the absolute runtime address of
	// executor_globals in the target. It is resolved fresh for every
	// attach via the symbol/map resolver and is never persisted.
	ExecutorGlobalsAddress uint64
}

// FromDWARF builds a Descriptor by reading the specific members the
// walker needs out of a DWARF Lookup. The executor_globals runtime
// address is left zero; the caller fills it in via the symbol resolver.
func FromDWARF(l *Lookup) (*Descriptor, error) {
	d := &Descriptor{}

	eg, ok := l.FindStruct("_zend_executor_globals")
	if !ok {
		return nil, &ErrUnknownType{Name: "_zend_executor_globals"}
	}
	d.EGByteSize = eg.Size
	var err error
	if d.EGCurrentExecuteDataOff, err = memberOff(eg, "current_execute_data"); err != nil {
		return nil, err
	}
	if d.EGVMStackTopOff, err = memberOff(eg, "vm_stack_top"); err != nil {
		return nil, err
	}
	if d.EGVMStackEndOff, err = memberOff(eg, "vm_stack_end"); err != nil {
		return nil, err
	}
	if d.EGVMStackOff, err = memberOff(eg, "vm_stack"); err != nil {
		return nil, err
	}

	ed, ok := l.FindStruct("_zend_execute_data")
	if !ok {
		return nil, &ErrUnknownType{Name: "_zend_execute_data"}
	}
	d.EDByteSize = ed.Size
	if d.EDFuncOff, err = memberOff(ed, "func"); err != nil {
		return nil, err
	}
	if d.EDThisOff, err = memberOff(ed, "This"); err != nil {
		return nil, err
	}
	if d.EDPrevOff, err = memberOff(ed, "prev_execute_data"); err != nil {
		return nil, err
	}

	fn, ok := l.FindUnion("_zend_function")
	if !ok {
		return nil, &ErrUnknownType{Name: "_zend_function"}
	}
	commonMember, ok := fn.FindMember("common")
	if !ok {
		return nil, &ErrUnknownType{Name: "_zend_function.common"}
	}
	common, ok := l.FindStructByID(commonMember.Type.ID)
	if !ok {
		return nil, &ErrUnknownType{Name: "_zend_function.common"}
	}
	if d.FuncFunctionNameOff, err = memberOff(common, "function_name"); err != nil {
		return nil, err
	}
	if d.FuncScopeOff, err = memberOff(common, "scope"); err != nil {
		return nil, err
	}

	zs, ok := l.FindStruct("_zend_string")
	if !ok {
		return nil, &ErrUnknownType{Name: "_zend_string"}
	}
	if d.StringLenOff, err = memberOff(zs, "len"); err != nil {
		return nil, err
	}
	if d.StringValOff, err = memberOff(zs, "val"); err != nil {
		return nil, err
	}

	vs, ok := l.FindStruct("_zend_vm_stack")
	if !ok {
		return nil, &ErrUnknownType{Name: "_zend_vm_stack"}
	}
	d.VMStackByteSize = vs.Size
	if d.VMStackEndOff, err = memberOff(vs, "end"); err != nil {
		return nil, err
	}

	ce, ok := l.FindStruct("_zend_class_entry")
	if !ok {
		return nil, &ErrUnknownType{Name: "_zend_class_entry"}
	}
	if d.ClassNameOff, err = memberOff(ce, "name"); err != nil {
		return nil, err
	}

	return d, nil
}

func memberOff(t *Type, name string) (int64, error) {
	m, ok := t.FindMember(name)
	if !ok {
		return 0, &ErrUnknownType{Name: t.Name + "." + name}
	}
	return m.Off, nil
}

// descriptorFields lists the Descriptor's persisted fields in a fixed
// order, as (key, pointer) pairs. ExecutorGlobalsAddress is deliberately
// excluded: it is resolved at run time, never persisted.
func (d *Descriptor) descriptorFields() []struct {
	key string
	val *int64
} {
	return []struct {
		key string
		val *int64
	}{
		{"eg_byte_size", &d.EGByteSize},
		{"eg_current_execute_data_off", &d.EGCurrentExecuteDataOff},
		{"eg_vm_stack_top_off", &d.EGVMStackTopOff},
		{"eg_vm_stack_end_off", &d.EGVMStackEndOff},
		{"eg_vm_stack_off", &d.EGVMStackOff},
		{"ed_byte_size", &d.EDByteSize},
		{"ed_this_off", &d.EDThisOff},
		{"ed_func_off", &d.EDFuncOff},
		{"ed_prev_off", &d.EDPrevOff},
		{"func_function_name_off", &d.FuncFunctionNameOff},
		{"func_scope_off", &d.FuncScopeOff},
		{"string_len_off", &d.StringLenOff},
		{"string_val_off", &d.StringValOff},
		{"vm_stack_byte_size", &d.VMStackByteSize},
		{"vm_stack_end_off", &d.VMStackEndOff},
		{"class_name_off", &d.ClassNameOff},
	}
}

// Save persists d as a key/value text record. ExecutorGlobalsAddress is
// not written; it is always re-resolved at run time.
func (d *Descriptor) Save(w io.Writer) error {
	bw := bufio.NewWriter(w)
	for _, f := range d.descriptorFields() {
		if _, err := fmt.Fprintf(bw, "%s: %d\n", f.key, *f.val); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// Load reads a Descriptor previously written by Save. Unknown keys are
// ignored, for forward compatibility with future fields.
func Load(r io.Reader) (*Descriptor, error) {
	d := &Descriptor{}
	byKey := make(map[string]*int64, len(d.descriptorFields()))
	for _, f := range d.descriptorFields() {
		byKey[f.key] = f.val
	}

	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		dst, ok := byKey[key]
		if !ok {
			continue // unknown field: ignore
		}
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("descriptor: bad value for %s: %v", key, err)
		}
		*dst = n
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return d, nil
}
