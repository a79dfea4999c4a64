// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package layout

import (
	"debug/dwarf"
	"debug/elf"
)

// maxIndirection bounds the number of typedef/const/array hops the
// member-size walk will follow before giving up. Guards against cyclic
// or malformed type graphs; see resolveSize.
const maxIndirection = 10

// Options controls extractor behavior that preserves an ambiguity
// present in the tool this package is derived from.
type Options struct {
	// CompatMemberOffset reproduces a long-standing quirk: a member's
	// byte_size/bit_size attribute (meant to describe a bitfield width)
	// is written into the member's *offset*, not its size, exactly as
	// data_member_location is. Real member sizes always come from the
	// fixup pass that walks the type-id chain, never from the member DIE
	// itself, so this only matters when the member DIE carries a
	// byte_size/bit_size attribute; the attributes' order on the DIE
	// plays no part, and bit_size wins over byte_size when both appear.
	// Defaults to true (current behavior). Set false to ignore
	// byte_size/bit_size as an offset source and trust only
	// data_member_location.
	CompatMemberOffset bool
}

// DefaultOptions returns the Options matching current (legacy) behavior.
func DefaultOptions() Options {
	return Options{CompatMemberOffset: true}
}

// Lookup is the result of extracting type layout information from a
// DWARF-bearing ELF file. It exposes name- and id-based lookup for
// structs and unions, the two entities the layout descriptor cares
// about.
type Lookup struct {
	structsByID map[dwarf.Offset]*Type
	unionsByID  map[dwarf.Offset]*Type
	structNames map[string]dwarf.Offset
	unionNames  map[string]dwarf.Offset
}

// FindStruct looks up a struct type by its DWARF name. Forward
// declarations never appear here.
func (l *Lookup) FindStruct(name string) (*Type, bool) {
	id, ok := l.structNames[name]
	if !ok {
		return nil, false
	}
	return l.structsByID[id], true
}

// FindUnion looks up a union type by its DWARF name. Forward
// declarations never appear here.
func (l *Lookup) FindUnion(name string) (*Type, bool) {
	id, ok := l.unionNames[name]
	if !ok {
		return nil, false
	}
	return l.unionsByID[id], true
}

// FindStructByID looks up a struct type by its global (debug-info
// offset) id.
func (l *Lookup) FindStructByID(id dwarf.Offset) (*Type, bool) {
	t, ok := l.structsByID[id]
	return t, ok
}

// FindUnionByID looks up a union type by its global (debug-info offset)
// id.
func (l *Lookup) FindUnionByID(id dwarf.Offset) (*Type, bool) {
	t, ok := l.unionsByID[id]
	return t, ok
}

// Extract reads the DWARF type information out of the ELF file at path
// using DefaultOptions.
func Extract(path string) (*Lookup, error) {
	return ExtractWithOptions(path, DefaultOptions())
}

// ExtractWithOptions is Extract with explicit compatibility options; see
// Options.
func ExtractWithOptions(path string, opts Options) (*Lookup, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, &ErrMalformedDebugInfo{Path: path, Err: err}
	}
	defer f.Close()

	d, err := f.DWARF()
	if err != nil {
		return nil, &ErrMalformedDebugInfo{Path: path, Err: err}
	}
	return extract(d, opts)
}

// containerKind identifies what the most recently opened container tag
// was, so that subsequent member/subrange entries know where to attach.
type containerKind uint8

const (
	containerNone containerKind = iota
	containerStruct
	containerUnion
	containerArray
)

// deferredRef is a DW_AT_type reference recorded during the single DFS
// pass but not yet resolvable: the DIE it points at (byID[off]) may not
// have been visited yet, since DWARF places no ordering constraint
// between a type and the other types it references (the PHP zend
// structs are mutually recursive, so a forward reference is the common
// case, not an edge case). Every such reference is recorded here by
// offset and resolved in one pass once byID is fully populated, the way
// the original implementation's get_type_size resolves purely by id
// against an already-complete map rather than a live pointer captured
// mid-walk.
type deferredRef struct {
	off dwarf.Offset
	set func(*Type)
}

func extract(d *dwarf.Data, opts Options) (*Lookup, error) {
	byID := make(map[dwarf.Offset]*Type)

	l := &Lookup{
		structsByID: make(map[dwarf.Offset]*Type),
		unionsByID:  make(map[dwarf.Offset]*Type),
		structNames: make(map[string]dwarf.Offset),
		unionNames:  make(map[string]dwarf.Offset),
	}

	var (
		container   containerKind
		containerID dwarf.Offset
		deferred    []deferredRef
	)

	r := d.Reader()
	for {
		e, err := r.Next()
		if err != nil {
			return nil, &ErrMalformedDebugInfo{Err: err}
		}
		if e == nil {
			break
		}

		switch e.Tag {
		case dwarf.TagTypedef:
			t := &Type{ID: e.Offset, Kind: KindTypedef}
			if n, ok := e.Val(dwarf.AttrName).(string); ok {
				t.Name = n
			}
			byID[e.Offset] = t
			if off, ok := typeRefOffset(e, dwarf.AttrType); ok {
				deferred = append(deferred, deferredRef{off: off, set: func(rt *Type) { t.AliasOf = rt }})
			}
			container = containerNone

		case dwarf.TagBaseType:
			t := &Type{ID: e.Offset, Kind: KindBase}
			if n, ok := e.Val(dwarf.AttrName).(string); ok {
				t.Name = n
			}
			t.Size = attrSize(e)
			byID[e.Offset] = t
			container = containerNone

		case dwarf.TagEnumerationType:
			t := &Type{ID: e.Offset, Kind: KindEnum}
			if n, ok := e.Val(dwarf.AttrName).(string); ok {
				t.Name = n
			}
			t.Size = attrSize(e)
			byID[e.Offset] = t
			container = containerNone

		case dwarf.TagPointerType:
			t := &Type{ID: e.Offset, Kind: KindPointer, Size: 8}
			if sz, ok := e.Val(dwarf.AttrByteSize).(int64); ok {
				t.Size = sz
			}
			byID[e.Offset] = t
			if off, ok := typeRefOffset(e, dwarf.AttrType); ok {
				deferred = append(deferred, deferredRef{off: off, set: func(rt *Type) { t.Elem = rt }})
			}
			container = containerNone

		case dwarf.TagConstType:
			t := &Type{ID: e.Offset, Kind: KindConst}
			byID[e.Offset] = t
			if off, ok := typeRefOffset(e, dwarf.AttrType); ok {
				deferred = append(deferred, deferredRef{off: off, set: func(rt *Type) { t.AliasOf = rt }})
			}
			container = containerNone

		case dwarf.TagArrayType:
			t := &Type{ID: e.Offset, Kind: KindArray}
			byID[e.Offset] = t
			if off, ok := typeRefOffset(e, dwarf.AttrType); ok {
				deferred = append(deferred, deferredRef{off: off, set: func(rt *Type) { t.Elem = rt }})
			}
			container = containerArray
			containerID = e.Offset

		case dwarf.TagSubrangeType:
			if container == containerArray {
				if at, ok := byID[containerID]; ok {
					if ub, ok := e.Val(dwarf.AttrUpperBound).(int64); ok {
						at.Count = ub + 1
					}
				}
			}
			container = containerNone

		case dwarf.TagStructType, dwarf.TagUnionType:
			kind := KindStruct
			if e.Tag == dwarf.TagUnionType {
				kind = KindUnion
			}
			decl, _ := e.Val(dwarf.AttrDeclaration).(bool)
			t := &Type{
				ID:          e.Offset,
				Kind:        kind,
				Declaration: decl,
				Members:     make(map[string]*Member),
			}
			if n, ok := e.Val(dwarf.AttrName).(string); ok {
				t.Name = n
			}
			t.Size = attrSize(e)
			byID[e.Offset] = t

			if !decl {
				if kind == KindStruct {
					l.structsByID[e.Offset] = t
					if t.Name != "" {
						l.structNames[t.Name] = e.Offset
					}
				} else {
					l.unionsByID[e.Offset] = t
					if t.Name != "" {
						l.unionNames[t.Name] = e.Offset
					}
				}
			}

			// A declaration is never a member-attach container: members
			// that follow must be discarded, not attached to the
			// forward-declared shell.
			if decl {
				container = containerNone
			} else {
				if kind == KindStruct {
					container = containerStruct
				} else {
					container = containerUnion
				}
				containerID = e.Offset
			}

		case dwarf.TagMember:
			if container != containerStruct && container != containerUnion {
				continue // no active container: discard
			}
			m := &Member{}
			if n, ok := e.Val(dwarf.AttrName).(string); ok {
				m.Name = n
			}
			if off, ok := memberOffset(e); ok {
				m.Off = off
			}
			if opts.CompatMemberOffset {
				if sz, ok := e.Val(dwarf.AttrByteSize).(int64); ok {
					m.Off = sz
				}
				if bits, ok := e.Val(dwarf.AttrBitSize).(int64); ok {
					m.Off = bits / 8
				}
			}
			if off, ok := typeRefOffset(e, dwarf.AttrType); ok {
				deferred = append(deferred, deferredRef{off: off, set: func(rt *Type) { m.Type = rt }})
			}
			ct, ok := byID[containerID]
			if ok && m.Name != "" {
				ct.Members[m.Name] = m
			}

		default:
			container = containerNone
		}
	}

	// Linking pass: resolve every deferred DW_AT_type reference now that
	// byID holds every DIE in the CU, regardless of the order the
	// referencing and referenced DIEs appeared in. A reference to an id
	// never seen (malformed input) is left nil, same as before.
	for _, dr := range deferred {
		if rt, ok := byID[dr.off]; ok {
			dr.set(rt)
		}
	}

	// Fixup pass: fill in every member's resolved size by walking the
	// type-id chain.
	for _, t := range l.structsByID {
		fixupMembers(t)
	}
	for _, t := range l.unionsByID {
		fixupMembers(t)
	}

	return l, nil
}

func fixupMembers(t *Type) {
	for _, m := range t.Members {
		if m.Size == 0 {
			m.Size = resolveSize(m.Type, 1, 0)
		}
	}
}

// resolveSize computes the byte size of typ, following typedef/const/
// array chains, bounded to maxIndirection hops. count multiplies the
// result (used while unwinding nested arrays).
func resolveSize(typ *Type, count int64, depth int) int64 {
	if typ == nil || depth >= maxIndirection {
		return 0
	}
	switch typ.Kind {
	case KindBase, KindEnum, KindPointer, KindStruct, KindUnion:
		return count * typ.Size
	case KindTypedef, KindConst:
		return resolveSize(typ.AliasOf, count, depth+1)
	case KindArray:
		return resolveSize(typ.Elem, count*typ.Count, depth+1)
	default:
		return 0
	}
}

// typeRefOffset extracts the raw DWARF offset a DW_AT_type-shaped
// attribute points at, without resolving it: the referenced DIE may not
// have been visited yet (see deferredRef).
func typeRefOffset(e *dwarf.Entry, attr dwarf.Attr) (dwarf.Offset, bool) {
	off, ok := e.Val(attr).(dwarf.Offset)
	return off, ok
}

func attrSize(e *dwarf.Entry) int64 {
	if sz, ok := e.Val(dwarf.AttrByteSize).(int64); ok {
		return sz
	}
	if bits, ok := e.Val(dwarf.AttrBitSize).(int64); ok {
		return bits / 8
	}
	return 0
}

// memberOffset extracts data_member_location, handling both the
// constant-form encoding most compilers emit and the single-operator
// DW_OP_plus_uconst exprloc form.
func memberOffset(e *dwarf.Entry) (int64, bool) {
	v := e.Val(dwarf.AttrDataMemberLoc)
	if v == nil {
		return 0, false
	}
	switch x := v.(type) {
	case int64:
		return x, true
	case []byte:
		return evalPlusUconst(x)
	default:
		return 0, false
	}
}

const dwOpPlusUconst = 0x23

func evalPlusUconst(expr []byte) (int64, bool) {
	if len(expr) < 1 || expr[0] != dwOpPlusUconst {
		return 0, false
	}
	v, _ := uleb128(expr[1:])
	return int64(v), true
}

func uleb128(b []byte) (uint64, int) {
	var result uint64
	var shift uint
	for i, x := range b {
		result |= uint64(x&0x7f) << shift
		if x&0x80 == 0 {
			return result, i + 1
		}
		shift += 7
	}
	return result, len(b)
}
