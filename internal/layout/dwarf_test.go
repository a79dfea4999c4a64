// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package layout

import (
	"bytes"
	"debug/dwarf"
	"encoding/binary"
	"testing"
)

// --- minimal hand-rolled DWARF encoder -------------------------------
//
// debug/dwarf.New accepts raw section bytes directly, so a fixture only
// needs a .debug_abbrev and a .debug_info blob for a single DWARF v4
// compilation unit. Inline DW_FORM_string avoids needing a .debug_str
// section. Every reference uses the fixed-width DW_FORM_ref4, so a
// node's encoded size never depends on what it points to: offsets are
// assigned in one layout pass, then a second pass fills in the
// now-known reference values.

const (
	tagCompileUnit   = 0x11
	tagArrayType     = 0x01
	tagMember        = 0x0d
	tagPointerType   = 0x0f
	tagStructureType = 0x13
	tagUnionType     = 0x17
	tagTypedef       = 0x16
	tagBaseType      = 0x24
	tagSubrangeType  = 0x21

	atName                = 0x03
	atByteSize            = 0x0b
	atBitSize             = 0x0d
	atUpperBound          = 0x2f
	atDataMemberLocation  = 0x38
	atType                = 0x49
	atDeclaration         = 0x3c

	formString      = 0x08
	formData4       = 0x06
	formUdata       = 0x0f
	formRef4        = 0x13
	formFlagPresent = 0x19
)

type dieAttr struct {
	attr byte
	form byte
	str  string
	u32  uint32
	uleb uint64
	ref  *dieNode
}

type dieNode struct {
	tag         byte
	hasChildren bool
	attrs       []dieAttr
	children    []*dieNode

	abbrevCode int
	offset     uint32
}

func attrName(v string) dieAttr      { return dieAttr{attr: atName, form: formString, str: v} }
func attrByteSize(v uint32) dieAttr  { return dieAttr{attr: atByteSize, form: formData4, u32: v} }
func attrBitSize(v uint32) dieAttr   { return dieAttr{attr: atBitSize, form: formData4, u32: v} }
func attrUpperBound(v uint64) dieAttr {
	return dieAttr{attr: atUpperBound, form: formUdata, uleb: v}
}
func attrMemberLoc(v uint64) dieAttr {
	return dieAttr{attr: atDataMemberLocation, form: formUdata, uleb: v}
}
func attrType(target *dieNode) dieAttr { return dieAttr{attr: atType, form: formRef4, ref: target} }
func attrDeclaration() dieAttr         { return dieAttr{attr: atDeclaration, form: formFlagPresent} }

func encodeULEB128(v uint64) []byte {
	var buf []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		buf = append(buf, b)
		if v == 0 {
			break
		}
	}
	return buf
}

func sizeOfAttr(a dieAttr) uint32 {
	switch a.form {
	case formString:
		return uint32(len(a.str)) + 1
	case formData4, formRef4:
		return 4
	case formUdata:
		return uint32(len(encodeULEB128(a.uleb)))
	case formFlagPresent:
		return 0
	default:
		panic("unhandled form in test fixture")
	}
}

func collect(n *dieNode, list *[]*dieNode) {
	*list = append(*list, n)
	for _, c := range n.children {
		collect(c, list)
	}
}

func layoutOffsets(n *dieNode, cur *uint32) {
	n.offset = *cur
	*cur += uint32(len(encodeULEB128(uint64(n.abbrevCode))))
	for _, a := range n.attrs {
		*cur += sizeOfAttr(a)
	}
	if n.hasChildren {
		for _, c := range n.children {
			layoutOffsets(c, cur)
		}
		*cur++ // null terminator
	}
}

func serializeDIE(n *dieNode, buf *bytes.Buffer) {
	buf.Write(encodeULEB128(uint64(n.abbrevCode)))
	for _, a := range n.attrs {
		switch a.form {
		case formString:
			buf.WriteString(a.str)
			buf.WriteByte(0)
		case formData4:
			var tmp [4]byte
			binary.LittleEndian.PutUint32(tmp[:], a.u32)
			buf.Write(tmp[:])
		case formRef4:
			var tmp [4]byte
			binary.LittleEndian.PutUint32(tmp[:], a.ref.offset)
			buf.Write(tmp[:])
		case formUdata:
			buf.Write(encodeULEB128(a.uleb))
		case formFlagPresent:
			// no value bytes
		}
	}
	if n.hasChildren {
		for _, c := range n.children {
			serializeDIE(c, buf)
		}
		buf.WriteByte(0)
	}
}

func serializeAbbrevEntry(n *dieNode, buf *bytes.Buffer) {
	buf.Write(encodeULEB128(uint64(n.abbrevCode)))
	buf.Write(encodeULEB128(uint64(n.tag)))
	if n.hasChildren {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
	for _, a := range n.attrs {
		buf.Write(encodeULEB128(uint64(a.attr)))
		buf.Write(encodeULEB128(uint64(a.form)))
	}
	buf.Write(encodeULEB128(0))
	buf.Write(encodeULEB128(0))
}

// buildCU serializes a single compile unit rooted at root (root itself
// must be the DW_TAG_compile_unit node) into .debug_abbrev/.debug_info
// byte slices suitable for dwarf.New.
func buildCU(root *dieNode) (abbrev, info []byte) {
	var nodes []*dieNode
	collect(root, &nodes)
	for i, n := range nodes {
		n.abbrevCode = i + 1
	}

	var abbrevBuf bytes.Buffer
	for _, n := range nodes {
		serializeAbbrevEntry(n, &abbrevBuf)
	}
	abbrevBuf.WriteByte(0) // table terminator

	const headerLen = 4 + 2 + 4 + 1 // unit_length + version + abbrev_offset + address_size
	cur := uint32(headerLen)
	layoutOffsets(root, &cur)

	var body bytes.Buffer
	serializeDIE(root, &body)

	var info4 bytes.Buffer
	unitLength := uint32(2+4+1) + uint32(body.Len())
	binary.Write(&info4, binary.LittleEndian, unitLength)
	binary.Write(&info4, binary.LittleEndian, uint16(4)) // DWARF version 4
	binary.Write(&info4, binary.LittleEndian, uint32(0)) // abbrev_offset
	info4.WriteByte(8)                                   // address_size
	info4.Write(body.Bytes())

	return abbrevBuf.Bytes(), info4.Bytes()
}

func mustData(t *testing.T, root *dieNode) *dwarf.Data {
	t.Helper()
	abbrev, info := buildCU(root)
	d, err := dwarf.New(abbrev, nil, nil, info, nil, nil, nil, nil)
	if err != nil {
		t.Fatalf("dwarf.New: %v", err)
	}
	return d
}

// --- tests ------------------------------------------------------------

func TestExtractSoundness(t *testing.T) {
	baseInt := &dieNode{tag: tagBaseType, attrs: []dieAttr{attrName("long"), attrByteSize(8)}}
	structPoint := &dieNode{
		tag: tagStructureType, hasChildren: true,
		attrs: []dieAttr{attrName("Point"), attrByteSize(16)},
		children: []*dieNode{
			{tag: tagMember, attrs: []dieAttr{attrName("x"), attrType(baseInt), attrMemberLoc(0)}},
			{tag: tagMember, attrs: []dieAttr{attrName("y"), attrType(baseInt), attrMemberLoc(8)}},
		},
	}
	root := &dieNode{tag: tagCompileUnit, hasChildren: true, children: []*dieNode{baseInt, structPoint}}

	l, err := extract(mustData(t, root), DefaultOptions())
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	pt, ok := l.FindStruct("Point")
	if !ok {
		t.Fatal("Point not found")
	}
	if pt.Size != 16 {
		t.Errorf("Point.Size = %d, want 16", pt.Size)
	}
	x, ok := pt.FindMember("x")
	if !ok || x.Off != 0 || x.Size != 8 {
		t.Errorf("member x = %+v, want off=0 size=8", x)
	}
	y, ok := pt.FindMember("y")
	if !ok || y.Off != 8 || y.Size != 8 {
		t.Errorf("member y = %+v, want off=8 size=8", y)
	}
}

// TestExtractForwardTypeReference covers a member whose DW_AT_type
// points at a DIE that appears *later* in the compile unit (the real
// zend structs are mutually recursive, so this is the common case, not
// an edge case). The struct is serialized before the base type it
// references, so resolving m.Type eagerly during the single DFS pass
// would see an empty byID and permanently leave the member's type nil.
func TestExtractForwardTypeReference(t *testing.T) {
	baseInt := &dieNode{tag: tagBaseType, attrs: []dieAttr{attrName("long"), attrByteSize(8)}}
	structPoint := &dieNode{
		tag: tagStructureType, hasChildren: true,
		attrs: []dieAttr{attrName("Point"), attrByteSize(16)},
		children: []*dieNode{
			{tag: tagMember, attrs: []dieAttr{attrName("x"), attrType(baseInt), attrMemberLoc(0)}},
			{tag: tagMember, attrs: []dieAttr{attrName("y"), attrType(baseInt), attrMemberLoc(8)}},
		},
	}
	// structPoint comes first here, so its DIE (and the member DIEs
	// referencing baseInt) are serialized and visited before baseInt's
	// own DIE.
	root := &dieNode{tag: tagCompileUnit, hasChildren: true, children: []*dieNode{structPoint, baseInt}}

	l, err := extract(mustData(t, root), DefaultOptions())
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	pt, ok := l.FindStruct("Point")
	if !ok {
		t.Fatal("Point not found")
	}
	x, ok := pt.FindMember("x")
	if !ok {
		t.Fatal("member x not found")
	}
	if x.Type == nil {
		t.Fatal("member x.Type is nil: forward type reference did not resolve")
	}
	if x.Size != 8 {
		t.Errorf("member x.Size = %d, want 8 (forward reference to baseInt must still resolve size)", x.Size)
	}
}

func TestExtractForwardDeclarationInvisible(t *testing.T) {
	opaque := &dieNode{tag: tagStructureType, attrs: []dieAttr{attrName("Opaque"), attrDeclaration()}}
	root := &dieNode{tag: tagCompileUnit, hasChildren: true, children: []*dieNode{opaque}}

	l, err := extract(mustData(t, root), DefaultOptions())
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if _, ok := l.FindStruct("Opaque"); ok {
		t.Error("Opaque: declaration-only struct must not be findable")
	}
}

func TestExtractMemberOffsetAmbiguity(t *testing.T) {
	baseInt := &dieNode{tag: tagBaseType, attrs: []dieAttr{attrName("int"), attrByteSize(4)}}
	ambig := &dieNode{
		tag: tagStructureType, hasChildren: true,
		attrs: []dieAttr{attrName("Ambig"), attrByteSize(8)},
		children: []*dieNode{
			{tag: tagMember, attrs: []dieAttr{
				attrName("f"), attrType(baseInt), attrMemberLoc(0), attrByteSize(4),
			}},
		},
	}
	root := &dieNode{tag: tagCompileUnit, hasChildren: true, children: []*dieNode{baseInt, ambig}}
	d := mustData(t, root)

	compat, err := extract(d, Options{CompatMemberOffset: true})
	if err != nil {
		t.Fatalf("extract (compat): %v", err)
	}
	s, _ := compat.FindStruct("Ambig")
	f, _ := s.FindMember("f")
	if f.Off != 4 {
		t.Errorf("compat mode: f.Off = %d, want 4 (byte_size overwrites offset)", f.Off)
	}

	strict, err := extract(d, Options{CompatMemberOffset: false})
	if err != nil {
		t.Fatalf("extract (strict): %v", err)
	}
	s2, _ := strict.FindStruct("Ambig")
	f2, _ := s2.FindMember("f")
	if f2.Off != 0 {
		t.Errorf("strict mode: f2.Off = %d, want 0 (data_member_location only)", f2.Off)
	}
}

func TestExtractArrayCount(t *testing.T) {
	baseChar := &dieNode{tag: tagBaseType, attrs: []dieAttr{attrName("char"), attrByteSize(1)}}
	arrayChar := &dieNode{
		tag: tagArrayType, hasChildren: true,
		attrs:    []dieAttr{attrType(baseChar)},
		children: []*dieNode{{tag: tagSubrangeType, attrs: []dieAttr{attrUpperBound(9)}}},
	}
	buf := &dieNode{
		tag: tagStructureType, hasChildren: true,
		attrs:    []dieAttr{attrName("Buf"), attrByteSize(10)},
		children: []*dieNode{{tag: tagMember, attrs: []dieAttr{attrName("data"), attrType(arrayChar), attrMemberLoc(0)}}},
	}
	root := &dieNode{tag: tagCompileUnit, hasChildren: true, children: []*dieNode{baseChar, arrayChar, buf}}

	l, err := extract(mustData(t, root), DefaultOptions())
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	s, ok := l.FindStruct("Buf")
	if !ok {
		t.Fatal("Buf not found")
	}
	data, ok := s.FindMember("data")
	if !ok {
		t.Fatal("data member not found")
	}
	if data.Size != 10 {
		t.Errorf("data.Size = %d, want 10 (upper_bound=9 -> count=10, elem size 1)", data.Size)
	}
}

func TestExtractIndirectionCapBreaksCycles(t *testing.T) {
	x := &dieNode{tag: tagTypedef}
	y := &dieNode{tag: tagTypedef, attrs: []dieAttr{attrName("Y"), attrType(x)}}
	x.attrs = []dieAttr{attrName("X"), attrType(y)}

	cyclic := &dieNode{
		tag: tagStructureType, hasChildren: true,
		attrs:    []dieAttr{attrName("Cyclic"), attrByteSize(8)},
		children: []*dieNode{{tag: tagMember, attrs: []dieAttr{attrName("m"), attrType(x), attrMemberLoc(0)}}},
	}
	root := &dieNode{tag: tagCompileUnit, hasChildren: true, children: []*dieNode{x, y, cyclic}}

	l, err := extract(mustData(t, root), DefaultOptions())
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	s, ok := l.FindStruct("Cyclic")
	if !ok {
		t.Fatal("Cyclic not found")
	}
	m, ok := s.FindMember("m")
	if !ok {
		t.Fatal("m not found")
	}
	if m.Size != 0 {
		t.Errorf("m.Size = %d, want 0 (cyclic typedef chain must be capped, not loop forever)", m.Size)
	}
}

func TestExtractUnion(t *testing.T) {
	baseInt := &dieNode{tag: tagBaseType, attrs: []dieAttr{attrName("int"), attrByteSize(4)}}
	tagged := &dieNode{
		tag: tagUnionType, hasChildren: true,
		attrs:    []dieAttr{attrName("Tagged"), attrByteSize(8)},
		children: []*dieNode{{tag: tagMember, attrs: []dieAttr{attrName("i"), attrType(baseInt), attrMemberLoc(0)}}},
	}
	root := &dieNode{tag: tagCompileUnit, hasChildren: true, children: []*dieNode{baseInt, tagged}}

	l, err := extract(mustData(t, root), DefaultOptions())
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	u, ok := l.FindUnion("Tagged")
	if !ok {
		t.Fatal("Tagged union not found")
	}
	i, ok := u.FindMember("i")
	if !ok || i.Size != 4 {
		t.Errorf("member i = %+v, want size=4", i)
	}
}
