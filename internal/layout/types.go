// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package layout parses the DWARF type information in a debug-info file
// for the PHP interpreter and turns it into the small set of byte offsets
// and sizes that the stack walker needs (a "layout descriptor").
package layout

import "debug/dwarf"

// Kind classifies a Type the way the DWARF size-resolution walk needs to
// dispatch on it.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindBase
	KindStruct
	KindUnion
	KindTypedef
	KindPointer
	KindArray
	KindEnum
	KindConst
)

func (k Kind) String() string {
	switch k {
	case KindBase:
		return "base"
	case KindStruct:
		return "struct"
	case KindUnion:
		return "union"
	case KindTypedef:
		return "typedef"
	case KindPointer:
		return "pointer"
	case KindArray:
		return "array"
	case KindEnum:
		return "enum"
	case KindConst:
		return "const"
	default:
		return "invalid"
	}
}

// Type is a node in the type graph extracted from DWARF. Not every field
// is meaningful for every Kind; see the per-Kind notes below.
type Type struct {
	ID   dwarf.Offset // global id: the type's offset in .debug_info
	Name string
	Kind Kind

	// Size is the byte size of the type. For KindStruct/KindUnion/KindBase/
	// KindEnum it is read straight off the DIE. For KindPointer it is
	// usually the platform word size. It is meaningless for KindTypedef and
	// KindConst (see AliasOf) and for KindArray (see Count/Elem).
	Size int64

	// Declaration is true for a struct/union that is a forward
	// declaration only (no member layout). Declaration types are never
	// inserted into a Lookup's name maps or used as a member-attach
	// container, but are kept reachable by ID so that member type chains
	// that reference them still resolve (to size 0).
	Declaration bool

	// Elem is the pointee type (KindPointer) or element type (KindArray).
	// It is nil for unsafe/void pointers.
	Elem *Type

	// Count is the element count of a KindArray, derived from a child
	// subrange's upper_bound+1.
	Count int64

	// Members holds the fields of a KindStruct/KindUnion, keyed by name.
	Members map[string]*Member

	// AliasOf is the type a KindTypedef or KindConst transparently refers
	// to.
	AliasOf *Type
}

// Member is one field of a struct or union.
type Member struct {
	Name string
	// Off is the member's byte offset within its enclosing struct/union.
	Off int64
	// Size is the member's resolved byte size, filled in during the
	// extractor's fixup pass by walking Type's type-id chain.
	Size int64
	Type *Type
}

// FindMember looks up a field of a struct or union type by name.
func (t *Type) FindMember(name string) (*Member, bool) {
	if t == nil || t.Members == nil {
		return nil, false
	}
	m, ok := t.Members[name]
	return m, ok
}
