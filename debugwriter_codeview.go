package chocogen

import (
	"bytes"
	"encoding/binary"
)

// debugwriter_codeview.go implements the Windows debug info variant (spec
// §4.2): a `.debug$S` symbols stream and a `.debug$T` types stream, in the
// subsection-based CodeView C13 layout MSVC and link.exe expect. As with
// the DWARF variant, there is no teacher precedent for this byte format in
// the example pack; the subsection/record shapes below follow the public
// CodeView format documentation, kept to the subset spec §4.2's contract
// actually requires (self-consistent sections, cross-references expressed
// as DebugChunkLink records).

const cvSignatureC13 = 4

const (
	cvSubsectionSymbols        = 0xf1
	cvSubsectionLines          = 0xf2

	cvSObjname  = 0x1101
	cvSCompile3 = 0x113c
	cvSGData32  = 0x110d
	cvSGProc32  = 0x1110
	cvSRegrel32 = 0x1111
	cvSEnd      = 0x0006

	cvTInt8    = 0x0013
	cvTBool08  = 0x0030
	cvT64PVoid = 0x0603

	cvLFFieldList  = 0x1203
	cvLFStructure  = 0x1505
	cvLFMember     = 0x150d
	cvLFPointer    = 0x1002

	cvLeafImmediate = 0x8000 // below this, a numeric leaf is its own value

	cvAmd64Rbp = 334 // CV_AMD64_REGREL64 frame register used for S_REGREL32

	cvFirstUserTypeIndex = 0x1000

	cvPropForwardRef = 0x0080 // CV_PROP.fwdref: this LF_STRUCTURE is an incomplete forward reference
)

type codeViewWriter struct {
	sourcePath string
	workDir    string
	objPath    string

	types   []TypeDebugRepresentative
	classes []struct {
		name string
		c    ClassDebug
	}
	globals []VarDebug
	procs   []*Chunk

	nextTypeIndex uint32
	typeIndex     map[TypeDebug]uint32
	classIndex    map[string]uint32
}

func newCodeViewWriter(sourcePath, workDir, objPath string) *codeViewWriter {
	return &codeViewWriter{
		sourcePath:    sourcePath,
		workDir:       workDir,
		objPath:       objPath,
		nextTypeIndex: cvFirstUserTypeIndex,
		typeIndex:     make(map[TypeDebug]uint32),
		classIndex:    make(map[string]uint32),
	}
}

func (w *codeViewWriter) AddType(rep TypeDebugRepresentative) { w.types = append(w.types, rep) }

func (w *codeViewWriter) AddClass(className string, class ClassDebug) {
	w.classes = append(w.classes, struct {
		name string
		c    ClassDebug
	}{className, class})
}

func (w *codeViewWriter) AddGlobal(v VarDebug) { w.globals = append(w.globals, v) }

// AddChunk records procedure chunks for their S_GPROC32 and S_REGREL32
// records. Their line maps are not emitted: .debug$S carries only a
// symbols subsection, no lines subsection.
func (w *codeViewWriter) AddChunk(chunk *Chunk) {
	if chunk.Extra.IsProcedure {
		w.procs = append(w.procs, chunk)
	}
}

// cvPrimitiveIndex maps a core base type name to a predefined CodeView
// primitive type index (these are always < cvFirstUserTypeIndex and never
// appear in .debug$T itself).
func cvPrimitiveIndex(coreName string) uint32 {
	switch coreName {
	case "bool":
		return cvTBool08
	case "int":
		return cvTInt8
	default: // str, object, <None>, and any other reference type
		return cvT64PVoid
	}
}

// writeRecord appends one length-prefixed, 4-byte-padded CodeView record
// (either a symbol or a type leaf) to buf, returning its byte offset.
func writeRecord(buf *bytes.Buffer, kind uint16, body []byte) uint32 {
	off := uint32(buf.Len())
	total := 2 + len(body)
	for total%4 != 0 {
		body = append(body, 0)
		total++
	}
	binary.Write(buf, binary.LittleEndian, uint16(total))
	binary.Write(buf, binary.LittleEndian, kind)
	buf.Write(body)
	return off
}

func cvString(s string) []byte {
	return append([]byte(s), 0)
}

// buildTypes emits .debug$T: a predefined-type pass needs nothing (they are
// numeric constants), so this only walks classes and array-of-class/array
// levels, assigning each a fresh sequential type index.
func (w *codeViewWriter) buildTypes() []byte {
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, uint32(cvSignatureC13))

	isClassName := make(map[string]bool, len(w.classes))
	for _, cls := range w.classes {
		isClassName[cls.name] = true
	}

	// First pass: emit a minimal LF_STRUCTURE forward-reference stub per
	// class and record its type index in classIndex before any member is
	// built. This is what lets a self-referential class (a linked-list
	// node naming its own class) or two classes naming each other resolve
	// correctly regardless of AddClass order, per the DebugWriter
	// contract (debugwriter.go) and spec §9: every later lookup of
	// classIndex[name] returns this same, final index.
	for _, cls := range w.classes {
		var fwd bytes.Buffer
		binary.Write(&fwd, binary.LittleEndian, uint16(0))                // member count: unknown until defined
		binary.Write(&fwd, binary.LittleEndian, uint16(cvPropForwardRef)) // property: forward reference
		binary.Write(&fwd, binary.LittleEndian, uint32(0))                // field list: none yet
		binary.Write(&fwd, binary.LittleEndian, uint32(0))                // derived list: none
		binary.Write(&fwd, binary.LittleEndian, uint32(0))                // vtable shape: none
		binary.Write(&fwd, binary.LittleEndian, uint16(0))                // size: unknown until defined
		fwd.Write(cvString(cls.name))
		idx := w.nextTypeIndex
		w.nextTypeIndex++
		writeRecord(&buf, cvLFStructure, fwd.Bytes())
		w.classIndex[cls.name] = idx
	}

	// Second pass: every class name now resolves to a valid type index, so
	// field lists and complete structure records can freely reference any
	// class, including ones later in this slice.
	for _, cls := range w.classes {
		var fields bytes.Buffer
		for _, attr := range cls.c.Attributes {
			var member bytes.Buffer
			binary.Write(&member, binary.LittleEndian, w.resolveType(attr.VarType, isClassName, &buf))
			binary.Write(&member, binary.LittleEndian, uint16(attr.Offset))
			member.Write(cvString(attr.Name))
			writeRecord(&fields, cvLFMember, member.Bytes())
		}
		fieldListIdx := w.nextTypeIndex
		w.nextTypeIndex++
		writeRecord(&buf, cvLFFieldList, fields.Bytes())

		var structBody bytes.Buffer
		binary.Write(&structBody, binary.LittleEndian, uint16(len(cls.c.Attributes)))
		binary.Write(&structBody, binary.LittleEndian, uint16(0)) // property bits: none
		binary.Write(&structBody, binary.LittleEndian, fieldListIdx)
		binary.Write(&structBody, binary.LittleEndian, uint32(0)) // derived list: none
		binary.Write(&structBody, binary.LittleEndian, uint32(0)) // vtable shape: none
		binary.Write(&structBody, binary.LittleEndian, uint16(cls.c.Size))
		structBody.Write(cvString(cls.name))
		w.nextTypeIndex++
		writeRecord(&buf, cvLFStructure, structBody.Bytes())
	}

	for _, t := range w.types {
		w.resolveType(TypeDebug{CoreName: t.CoreName, ArrayLevel: t.MaxArrayLevel}, isClassName, &buf)
	}

	return buf.Bytes()
}

// resolveType returns the type index for t, emitting any LF_POINTER array
// wrapper levels it needs into buf (list nesting is modeled as a chain of
// pointer indirections over the core type, matching how list values are
// actually represented at runtime).
func (w *codeViewWriter) resolveType(t TypeDebug, isClassName map[string]bool, buf *bytes.Buffer) uint32 {
	if idx, ok := w.typeIndex[t]; ok {
		return idx
	}
	if t.ArrayLevel == 0 {
		var idx uint32
		if isClassName[t.CoreName] {
			idx = w.classIndex[t.CoreName]
		} else {
			idx = cvPrimitiveIndex(t.CoreName)
		}
		w.typeIndex[t] = idx
		return idx
	}
	inner := w.resolveType(TypeDebug{CoreName: t.CoreName, ArrayLevel: t.ArrayLevel - 1}, isClassName, buf)
	var body bytes.Buffer
	binary.Write(&body, binary.LittleEndian, inner)
	binary.Write(&body, binary.LittleEndian, uint32(0x1000c)) // attr: 64-bit near pointer
	idx := w.nextTypeIndex
	w.nextTypeIndex++
	writeRecord(buf, cvLFPointer, body.Bytes())
	w.typeIndex[t] = idx
	return idx
}

func (w *codeViewWriter) Finalize() []DebugChunk {
	isClassName := make(map[string]bool, len(w.classes))
	for _, cls := range w.classes {
		isClassName[cls.name] = true
	}

	debugT := w.buildTypes()

	var sym bytes.Buffer
	var links []DebugChunkLink

	var objname bytes.Buffer
	binary.Write(&objname, binary.LittleEndian, uint32(0))
	objname.Write(cvString(w.objPath))
	writeRecord(&sym, cvSObjname, objname.Bytes())

	var compile3 bytes.Buffer
	binary.Write(&compile3, binary.LittleEndian, uint32(0)) // flags
	binary.Write(&compile3, binary.LittleEndian, uint16(0xD0)) // CV_CFL_AMD64
	for i := 0; i < 6; i++ {
		binary.Write(&compile3, binary.LittleEndian, uint16(0)) // front/back-end version fields
	}
	compile3.Write(cvString("chocogen"))
	writeRecord(&sym, cvSCompile3, compile3.Bytes())

	for _, g := range w.globals {
		var body bytes.Buffer
		binary.Write(&body, binary.LittleEndian, w.resolveType(g.VarType, isClassName, &bytes.Buffer{}))
		offsetPos := body.Len()
		binary.Write(&body, binary.LittleEndian, uint32(0)) // offset, patched via relocation below
		segPos := body.Len()
		binary.Write(&body, binary.LittleEndian, uint16(0)) // segment, patched via relocation below
		body.Write(cvString(g.Name))
		recOff := writeRecord(&sym, cvSGData32, body.Bytes())
		bodyStart := recOff + 4 // length(2)+kind(2) prefix
		links = append(links,
			DebugChunkLink{LinkType: SectionRelative, Pos: uint64(bodyStart) + uint64(offsetPos), To: SymGlobal, Size: 4},
			DebugChunkLink{LinkType: SectionIDLink, Pos: uint64(bodyStart) + uint64(segPos), To: SymGlobal, Size: 2},
		)
	}

	for _, chunk := range w.procs {
		p := &chunk.Extra.Procedure
		var body bytes.Buffer
		binary.Write(&body, binary.LittleEndian, uint32(0)) // pParent
		binary.Write(&body, binary.LittleEndian, uint32(0)) // pEnd: left zero
		binary.Write(&body, binary.LittleEndian, uint32(0)) // pNext
		binary.Write(&body, binary.LittleEndian, uint32(len(chunk.Code)))
		binary.Write(&body, binary.LittleEndian, uint32(0)) // DbgStart
		binary.Write(&body, binary.LittleEndian, uint32(0)) // DbgEnd
		binary.Write(&body, binary.LittleEndian, w.resolveType(p.ReturnType, isClassName, &bytes.Buffer{}))
		offsetPos := body.Len()
		binary.Write(&body, binary.LittleEndian, uint32(0))
		segPos := body.Len()
		binary.Write(&body, binary.LittleEndian, uint16(0))
		body.WriteByte(0) // flags
		body.Write(cvString(chunk.Name))
		recOff := writeRecord(&sym, cvSGProc32, body.Bytes())
		bodyStart := recOff + 4
		links = append(links,
			DebugChunkLink{LinkType: SectionRelative, Pos: uint64(bodyStart) + uint64(offsetPos), To: chunk.Name, Size: 4},
			DebugChunkLink{LinkType: SectionIDLink, Pos: uint64(bodyStart) + uint64(segPos), To: chunk.Name, Size: 2},
		)

		for _, param := range p.Params {
			sym.Write(regrel32Record(param, w.resolveType(param.VarType, isClassName, &bytes.Buffer{})))
		}
		for _, local := range p.Locals {
			sym.Write(regrel32Record(local, w.resolveType(local.VarType, isClassName, &bytes.Buffer{})))
		}
		writeRecord(&sym, cvSEnd, nil)
	}

	debugS := buildDebugSSection(sym.Bytes())

	return []DebugChunk{
		{Name: ".debug$T", Code: debugT, Discardable: true},
		{Name: ".debug$S", Code: debugS, Links: links, Discardable: true},
	}
}

func regrel32Record(v VarDebug, typeIdx uint32) []byte {
	var rec bytes.Buffer
	var body bytes.Buffer
	binary.Write(&body, binary.LittleEndian, uint32(v.Offset))
	binary.Write(&body, binary.LittleEndian, typeIdx)
	binary.Write(&body, binary.LittleEndian, uint16(cvAmd64Rbp))
	body.Write(cvString(v.Name))
	writeRecord(&rec, cvSRegrel32, body.Bytes())
	return rec.Bytes()
}

// buildDebugSSection wraps the accumulated symbol records in the
// subsection framing .debug$S requires: a leading signature, then a
// (type, length)-tagged run of subsections.
func buildDebugSSection(symbols []byte) []byte {
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, uint32(cvSignatureC13))
	binary.Write(&buf, binary.LittleEndian, uint32(cvSubsectionSymbols))
	binary.Write(&buf, binary.LittleEndian, uint32(len(symbols)))
	buf.Write(symbols)
	for buf.Len()%4 != 0 {
		buf.WriteByte(0)
	}
	return buf.Bytes()
}
