package chocogen

import (
	"bytes"
	"encoding/binary"
)

// debugwriter_dwarf.go implements the Linux/macOS debug info variant (spec
// §4.2): DWARF4 .debug_info/.debug_abbrev/.debug_line/.debug_str, plus a
// minimal non-discardable .eh_frame. Encoding style follows the rest of the
// codebase's manual bytes.Buffer construction (elf_complete.go, macho.go);
// DWARF itself has no teacher precedent in the example pack, so the section
// layout is grounded directly in the DWARF4 standard and kept deliberately
// conservative — no location-list or line-program extensions beyond what
// spec §4.2's contract requires (self-consistent sections, cross-references
// as DebugChunkLink records).

type dwarfFlavor int

const (
	dwarfLinux dwarfFlavor = iota
	dwarfMacOS
)

const (
	dwTagCompileUnit   = 0x11
	dwTagBaseType      = 0x24
	dwTagStructureType = 0x13
	dwTagMember        = 0x0d
	dwTagVariable      = 0x34
	dwTagSubprogram    = 0x2e
	dwTagFormalParam   = 0x05
	dwTagArrayType     = 0x01

	dwChildrenNo  = 0x00
	dwChildrenYes = 0x01

	dwAtName             = 0x03
	dwAtByteSize         = 0x0b
	dwAtEncoding         = 0x3e
	dwAtType             = 0x49
	dwAtDataMemberLoc    = 0x38
	dwAtLocation         = 0x02
	dwAtLowPC            = 0x11
	dwAtHighPC           = 0x12
	dwAtProducer         = 0x25
	dwAtLanguage         = 0x13
	dwAtFrameBase        = 0x40
	dwAtDeclaration      = 0x3c

	dwFormAddr  = 0x01
	dwFormData1 = 0x0b
	dwFormData4 = 0x06
	dwFormData8 = 0x07
	dwFormStrp  = 0x0e
	dwFormRef4  = 0x13
	dwFormUdata = 0x0f
	dwFormExprloc = 0x18
	dwFormFlag  = 0x0c

	dwAteBoolean = 0x02
	dwAteSigned  = 0x05
	dwAteAddress = 0x01

	dwOpAddr       = 0x03
	dwOpPlusUconst = 0x23
	dwOpFbreg      = 0x91
	dwOpCallFrameCFA = 0x9c

	dwLnsCopy        = 0x01
	dwLnsAdvancePC   = 0x02
	dwLnsAdvanceLine = 0x03
	dwLneEndSequence = 0x01
	dwLneSetAddress  = 0x02

	dwLangPython = 0x0014 // DW_LANG_Python; closest standard enumerator to the source language
)

// abbrev codes, one per DIE shape this writer ever emits.
const (
	abbrevCompileUnit = iota + 1
	abbrevBaseType
	abbrevStructureType
	abbrevStructureDecl
	abbrevMember
	abbrevVariable
	abbrevSubprogram
	abbrevFormalParam
	abbrevArrayType
)

type dwarfWriter struct {
	flavor     dwarfFlavor
	sourcePath string

	types   []TypeDebugRepresentative
	classes []struct {
		name string
		c    ClassDebug
	}
	globals []VarDebug
	procs   []*Chunk

	str     bytes.Buffer
	strOff  map[string]uint32
	info    bytes.Buffer
	infoLinks []DebugChunkLink
	typeOff map[TypeDebug]uint32
}

func newDWARFWriter(sourcePath string, flavor dwarfFlavor) *dwarfWriter {
	w := &dwarfWriter{
		flavor:     flavor,
		sourcePath: sourcePath,
		strOff:     make(map[string]uint32),
		typeOff:    make(map[TypeDebug]uint32),
	}
	w.str.WriteByte(0)
	return w
}

func (w *dwarfWriter) internStr(s string) uint32 {
	if off, ok := w.strOff[s]; ok {
		return off
	}
	off := uint32(w.str.Len())
	w.str.WriteString(s)
	w.str.WriteByte(0)
	w.strOff[s] = off
	return off
}

func (w *dwarfWriter) AddType(rep TypeDebugRepresentative) {
	w.types = append(w.types, rep)
}

func (w *dwarfWriter) AddClass(className string, class ClassDebug) {
	w.classes = append(w.classes, struct {
		name string
		c    ClassDebug
	}{className, class})
}

func (w *dwarfWriter) AddGlobal(v VarDebug) {
	w.globals = append(w.globals, v)
}

func (w *dwarfWriter) AddChunk(chunk *Chunk) {
	if chunk.Extra.IsProcedure {
		w.procs = append(w.procs, chunk)
	}
}

func (w *dwarfWriter) abbrevSection() []byte {
	var b bytes.Buffer
	entry := func(code, tag, children int, attrs [][2]int) {
		appendULEB128(&b, uint64(code))
		appendULEB128(&b, uint64(tag))
		b.WriteByte(byte(children))
		for _, a := range attrs {
			appendULEB128(&b, uint64(a[0]))
			appendULEB128(&b, uint64(a[1]))
		}
		b.WriteByte(0)
		b.WriteByte(0)
	}
	entry(abbrevCompileUnit, dwTagCompileUnit, dwChildrenYes, [][2]int{
		{dwAtProducer, dwFormStrp}, {dwAtName, dwFormStrp}, {dwAtLanguage, dwFormData1},
	})
	entry(abbrevBaseType, dwTagBaseType, dwChildrenNo, [][2]int{
		{dwAtName, dwFormStrp}, {dwAtEncoding, dwFormData1}, {dwAtByteSize, dwFormData1},
	})
	entry(abbrevStructureType, dwTagStructureType, dwChildrenYes, [][2]int{
		{dwAtName, dwFormStrp}, {dwAtByteSize, dwFormData4},
	})
	entry(abbrevStructureDecl, dwTagStructureType, dwChildrenNo, [][2]int{
		{dwAtName, dwFormStrp}, {dwAtDeclaration, dwFormFlag},
	})
	entry(abbrevMember, dwTagMember, dwChildrenNo, [][2]int{
		{dwAtName, dwFormStrp}, {dwAtType, dwFormRef4}, {dwAtDataMemberLoc, dwFormUdata},
	})
	entry(abbrevVariable, dwTagVariable, dwChildrenNo, [][2]int{
		{dwAtName, dwFormStrp}, {dwAtType, dwFormRef4}, {dwAtLocation, dwFormExprloc},
	})
	entry(abbrevSubprogram, dwTagSubprogram, dwChildrenYes, [][2]int{
		{dwAtName, dwFormStrp}, {dwAtLowPC, dwFormAddr}, {dwAtHighPC, dwFormData8},
		{dwAtType, dwFormRef4}, {dwAtFrameBase, dwFormData1},
	})
	entry(abbrevFormalParam, dwTagFormalParam, dwChildrenNo, [][2]int{
		{dwAtName, dwFormStrp}, {dwAtType, dwFormRef4}, {dwAtLocation, dwFormExprloc},
	})
	entry(abbrevArrayType, dwTagArrayType, dwChildrenNo, [][2]int{
		{dwAtType, dwFormRef4},
	})
	b.WriteByte(0) // terminate abbrev table
	return b.Bytes()
}

// typeDIEOffset returns the .debug_info offset of the DIE for t, emitting
// one (and, for nested list levels, its whole chain of array wrappers) on
// first reference.
func (w *dwarfWriter) typeDIEOffset(t TypeDebug) uint32 {
	if off, ok := w.typeOff[t]; ok {
		return off
	}
	if t.ArrayLevel == 0 {
		off := uint32(w.info.Len())
		appendULEB128(&w.info, abbrevBaseType)
		binary.Write(&w.info, binary.LittleEndian, w.internStr(t.CoreName))
		enc := byte(dwAteSigned)
		size := byte(8)
		switch t.CoreName {
		case "bool":
			enc = dwAteBoolean
			size = 1
		case "object", "<None>":
			enc = dwAteAddress
			size = 8
		}
		w.info.WriteByte(enc)
		w.info.WriteByte(size)
		w.typeOff[t] = off
		return off
	}
	inner := TypeDebug{CoreName: t.CoreName, ArrayLevel: t.ArrayLevel - 1}
	innerOff := w.typeDIEOffset(inner)
	off := uint32(w.info.Len())
	appendULEB128(&w.info, abbrevArrayType)
	binary.Write(&w.info, binary.LittleEndian, innerOff)
	w.typeOff[t] = off
	return off
}

// writeVarLocation appends a DW_AT_location exprloc to .debug_info. A
// global's address is only known to the linker, so it is expressed as
// DW_OP_addr plus a DebugChunkLink the Assembler patches in; a local's or
// parameter's offset from the frame base needs no relocation at all.
func (w *dwarfWriter) writeVarLocation(v VarDebug, globalSymbol string) {
	var expr bytes.Buffer
	var addrPos = -1
	if globalSymbol != "" {
		expr.WriteByte(dwOpAddr)
		addrPos = expr.Len()
		expr.Write(make([]byte, 8))
		if v.Offset != 0 {
			expr.WriteByte(dwOpPlusUconst)
			appendULEB128(&expr, uint64(v.Offset))
		}
	} else {
		expr.WriteByte(dwOpFbreg)
		appendSLEB128(&expr, int64(v.Offset))
	}

	var lenPrefix bytes.Buffer
	appendULEB128(&lenPrefix, uint64(expr.Len()))
	if addrPos >= 0 {
		basePos := uint64(w.info.Len() + lenPrefix.Len() + addrPos)
		w.infoLinks = append(w.infoLinks, DebugChunkLink{
			LinkType: Absolute, Pos: basePos, To: globalSymbol, Size: 8,
		})
	}
	w.info.Write(lenPrefix.Bytes())
	w.info.Write(expr.Bytes())
}

func (w *dwarfWriter) Finalize() []DebugChunk {
	abbrev := w.abbrevSection()

	// CU header placeholder; patched once the body length is known.
	headerLen := w.info.Len()
	binary.Write(&w.info, binary.LittleEndian, uint32(0)) // unit_length, patched below
	binary.Write(&w.info, binary.LittleEndian, uint16(4)) // version
	binary.Write(&w.info, binary.LittleEndian, uint32(0)) // debug_abbrev_offset
	w.info.WriteByte(8)                                    // address_size

	appendULEB128(&w.info, abbrevCompileUnit)
	binary.Write(&w.info, binary.LittleEndian, w.internStr("chocogen"))
	binary.Write(&w.info, binary.LittleEndian, w.internStr(w.sourcePath))
	w.info.WriteByte(dwLangPython)

	isClassName := make(map[string]bool, len(w.classes))
	for _, cls := range w.classes {
		isClassName[cls.name] = true
	}

	// First pass: emit a minimal DW_AT_declaration structure_type stub per
	// class and record its .debug_info offset in typeOff before any member
	// is built. Unlike a type index, a DWARF DIE reference is a physical
	// byte offset, so the only way to let a self- or mutually-referential
	// attribute (a linked-list node naming its own class, or two classes
	// naming each other) resolve regardless of AddClass order is to give
	// every class a stable, final offset up front, per the DebugWriter
	// contract (debugwriter.go) and spec §9, rather than special-casing
	// only the class currently being built.
	for _, cls := range w.classes {
		off := uint32(w.info.Len())
		appendULEB128(&w.info, abbrevStructureDecl)
		binary.Write(&w.info, binary.LittleEndian, w.internStr(cls.name))
		w.info.WriteByte(1) // DW_AT_declaration: true
		w.typeOff[NewClassType(cls.name)] = off
	}

	for _, t := range w.types {
		if isClassName[t.CoreName] {
			// This core name's base offset is the forward-declaration stub
			// above; any array-of-class wrapper is built lazily, on first
			// real reference to it.
			continue
		}
		w.typeDIEOffset(TypeDebug{CoreName: t.CoreName, ArrayLevel: 0})
		for lvl := uint32(1); lvl <= t.MaxArrayLevel; lvl++ {
			w.typeDIEOffset(TypeDebug{CoreName: t.CoreName, ArrayLevel: lvl})
		}
	}

	// Second pass: every class name now resolves to its forward-declaration
	// offset, so member types (including other, not-yet-defined classes)
	// can be built freely; the full structure_type body is appended here,
	// at a new offset nothing references directly, but reached by a
	// debugger resolving the declaration by name.
	for _, cls := range w.classes {
		appendULEB128(&w.info, abbrevStructureType)
		binary.Write(&w.info, binary.LittleEndian, w.internStr(cls.name))
		binary.Write(&w.info, binary.LittleEndian, cls.c.Size)
		for _, attr := range cls.c.Attributes {
			appendULEB128(&w.info, abbrevMember)
			binary.Write(&w.info, binary.LittleEndian, w.internStr(attr.Name))
			binary.Write(&w.info, binary.LittleEndian, w.typeDIEOffset(attr.VarType))
			appendULEB128(&w.info, uint64(attr.Offset))
		}
		w.info.WriteByte(0) // end structure_type's children
	}

	for _, g := range w.globals {
		appendULEB128(&w.info, abbrevVariable)
		binary.Write(&w.info, binary.LittleEndian, w.internStr(g.Name))
		binary.Write(&w.info, binary.LittleEndian, w.typeDIEOffset(g.VarType))
		w.writeVarLocation(g, SymGlobal)
	}

	for _, chunk := range w.procs {
		p := &chunk.Extra.Procedure
		appendULEB128(&w.info, abbrevSubprogram)
		binary.Write(&w.info, binary.LittleEndian, w.internStr(chunk.Name))

		lowPCPos := uint64(w.info.Len())
		w.info.Write(make([]byte, 8))
		w.infoLinks = append(w.infoLinks, DebugChunkLink{
			LinkType: Absolute, Pos: lowPCPos, To: chunk.Name, Size: 8,
		})
		binary.Write(&w.info, binary.LittleEndian, uint64(len(chunk.Code)))
		binary.Write(&w.info, binary.LittleEndian, w.typeDIEOffset(p.ReturnType))
		w.info.WriteByte(dwOpCallFrameCFA)

		for _, param := range p.Params {
			appendULEB128(&w.info, abbrevFormalParam)
			binary.Write(&w.info, binary.LittleEndian, w.internStr(param.Name))
			binary.Write(&w.info, binary.LittleEndian, w.typeDIEOffset(param.VarType))
			w.writeVarLocation(param, "")
		}
		for _, local := range p.Locals {
			appendULEB128(&w.info, abbrevFormalParam)
			binary.Write(&w.info, binary.LittleEndian, w.internStr(local.Name))
			binary.Write(&w.info, binary.LittleEndian, w.typeDIEOffset(local.VarType))
			w.writeVarLocation(local, "")
		}
		w.info.WriteByte(0) // end subprogram's children
	}
	w.info.WriteByte(0) // end compile_unit's children

	unitLength := uint32(w.info.Len() - headerLen - 4)
	finalInfo := w.info.Bytes()
	binary.LittleEndian.PutUint32(finalInfo[headerLen:], unitLength)

	chunks := []DebugChunk{
		{Name: ".debug_abbrev", Code: abbrev, Discardable: true},
		{Name: ".debug_info", Code: finalInfo, Links: w.infoLinks, Discardable: true},
		{Name: ".debug_str", Code: w.str.Bytes(), Discardable: true},
		w.buildLineProgram(),
		w.buildEHFrame(),
	}
	return chunks
}

func (w *dwarfWriter) buildLineProgram() DebugChunk {
	var prog bytes.Buffer
	var links []DebugChunkLink

	var header bytes.Buffer
	header.WriteByte(1)   // minimum_instruction_length
	header.WriteByte(1)   // maximum_operations_per_instruction (DWARF4 VLIW field)
	header.WriteByte(1)   // default_is_stmt
	header.WriteByte(0xfb) // line_base (-5)
	header.WriteByte(14)  // line_range
	header.WriteByte(13)  // opcode_base
	for i := 0; i < 12; i++ {
		header.WriteByte(0) // standard_opcode_lengths, unused beyond copy/advance
	}
	header.WriteByte(0) // include_directories terminator
	header.WriteString(w.sourcePath)
	header.WriteByte(0)
	appendULEB128(&header, 0)
	appendULEB128(&header, 0)
	appendULEB128(&header, 0)
	header.WriteByte(0) // file_names terminator

	for _, chunk := range w.procs {
		p := &chunk.Extra.Procedure
		prog.WriteByte(0) // extended opcode marker
		appendULEB128(&prog, 9)
		prog.WriteByte(dwLneSetAddress)
		addrPos := uint64(prog.Len())
		prog.Write(make([]byte, 8))
		links = append(links, DebugChunkLink{LinkType: Absolute, Pos: addrPos, To: chunk.Name, Size: 8})

		lastLine := int64(p.DeclLine)
		lastPos := uint64(0)
		for _, le := range p.Lines {
			deltaPC := le.CodePos - lastPos
			deltaLine := int64(le.LineNumber) - lastLine
			if deltaPC > 0 {
				prog.WriteByte(dwLnsAdvancePC)
				appendULEB128(&prog, deltaPC)
			}
			if deltaLine != 0 {
				prog.WriteByte(dwLnsAdvanceLine)
				appendSLEB128(&prog, deltaLine)
			}
			prog.WriteByte(dwLnsCopy)
			lastPos = le.CodePos
			lastLine = int64(le.LineNumber)
		}
		prog.WriteByte(0)
		appendULEB128(&prog, 1)
		prog.WriteByte(dwLneEndSequence)
	}

	var full bytes.Buffer
	binary.Write(&full, binary.LittleEndian, uint32(0)) // unit_length, patched below
	binary.Write(&full, binary.LittleEndian, uint16(4)) // version
	binary.Write(&full, binary.LittleEndian, uint32(header.Len()))
	full.Write(header.Bytes())
	progStart := uint64(full.Len())
	full.Write(prog.Bytes())

	// Each link was recorded relative to the start of prog; shift by where
	// prog landed inside full.
	for i := range links {
		links[i].Pos += progStart
	}

	total := full.Len()
	binary.LittleEndian.PutUint32(full.Bytes()[0:4], uint32(total-4))

	return DebugChunk{Name: ".debug_line", Code: full.Bytes(), Links: links, Discardable: true}
}

// buildEHFrame emits one CIE and one FDE per procedure; .eh_frame is never
// discardable (spec §4.2) since the Unix unwinder consults it at runtime.
func (w *dwarfWriter) buildEHFrame() DebugChunk {
	var buf bytes.Buffer
	var links []DebugChunkLink

	cieStart := buf.Len()
	binary.Write(&buf, binary.LittleEndian, uint32(0)) // length, patched below
	binary.Write(&buf, binary.LittleEndian, uint32(0)) // CIE_id == 0
	buf.WriteByte(1)                                    // version
	buf.WriteByte(0)                                     // augmentation string: empty
	appendULEB128(&buf, 1)                               // code_alignment_factor
	appendSLEB128(&buf, -8)                              // data_alignment_factor
	appendULEB128(&buf, 16)                              // return_address_register (rip)
	buf.WriteByte(0x0c) // DW_CFA_def_cfa
	appendULEB128(&buf, 7) // rsp
	appendULEB128(&buf, 8)
	for buf.Len()%8 != 0 {
		buf.WriteByte(0) // DW_CFA_nop padding
	}
	cieLen := uint32(buf.Len() - cieStart - 4)
	cieBytes := buf.Bytes()
	binary.LittleEndian.PutUint32(cieBytes[cieStart:], cieLen)

	for _, chunk := range w.procs {
		fdeStart := buf.Len()
		binary.Write(&buf, binary.LittleEndian, uint32(0)) // length, patched below
		binary.Write(&buf, binary.LittleEndian, uint32(fdeStart-cieStart+4))
		addrPos := uint64(buf.Len())
		buf.Write(make([]byte, 8))
		links = append(links, DebugChunkLink{LinkType: Absolute, Pos: addrPos, To: chunk.Name, Size: 8})
		binary.Write(&buf, binary.LittleEndian, uint64(len(chunk.Code)))
		for buf.Len()%8 != 0 {
			buf.WriteByte(0)
		}
		fdeLen := uint32(buf.Len() - fdeStart - 4)
		b := buf.Bytes()
		binary.LittleEndian.PutUint32(b[fdeStart:], fdeLen)
	}

	return DebugChunk{Name: ".eh_frame", Code: buf.Bytes(), Links: links, Discardable: false}
}
