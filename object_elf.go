package chocogen

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// object_elf.go writes an ELF64 ET_REL (relocatable) object for x86-64
// Linux, in the same spirit as the teacher's executable writer in
// elf_complete.go: manual struct layout with encoding/binary, built up in
// an in-memory bytes.Buffer rather than through a third-party object-file
// library. Unlike elf_complete.go this never builds a dynamic segment,
// PLT/GOT, or program headers — a relocatable object has none of those;
// it is purely a section table, a symbol table, and relocations, which
// the system linker (spec §4.5) consumes.

const (
	elfEhdrSize = 64
	elfShdrSize = 64
	elfSymSize  = 24
	elfRelaSize = 24

	elfETRel    = 1
	elfEMX8664  = 0x3e
	elfEVCurrent = 1

	elfSHTNull    = 0
	elfSHTProgbits = 1
	elfSHTSymtab  = 2
	elfSHTStrtab  = 3
	elfSHTRela    = 4
	elfSHTNobits  = 8

	elfSHFWrite     = 0x1
	elfSHFAlloc     = 0x2
	elfSHFExecinstr = 0x4
	elfSHFInfoLink  = 0x40

	elfSTBLocal  = 0
	elfSTBGlobal = 1
	elfSTTNotype  = 0
	elfSTTObject  = 1
	elfSTTFunc    = 2
	elfSTTSection = 3

	elfRX8664PC32 = 2
	elfRX866464   = 1
	elfRX866432   = 10
)

type elfSection struct {
	name  string
	shtyp uint32
	flags uint64
	data  []byte
	align uint64
	bss   bool
}

type elfSymbolRec struct {
	sym       Symbol
	isSection bool
	secFor    SectionID
}

type elfContainer struct {
	sections    []elfSection
	stdSection  map[StandardSection]SectionID
	symbols     []elfSymbolRec
	symByName   map[string]SymbolID
	sectionSyms map[SectionID]SymbolID
	relocs      map[SectionID][]Relocation
}

// NewELFObject creates an empty ELF64 ET_REL container targeting x86-64.
func NewELFObject() ObjectContainer {
	return &elfContainer{
		stdSection:  make(map[StandardSection]SectionID),
		symByName:   make(map[string]SymbolID),
		sectionSyms: make(map[SectionID]SymbolID),
		relocs:      make(map[SectionID][]Relocation),
	}
}

func (e *elfContainer) addSection(sec elfSection) SectionID {
	e.sections = append(e.sections, sec)
	return SectionID(len(e.sections) - 1)
}

func (e *elfContainer) SectionID(std StandardSection) SectionID {
	if id, ok := e.stdSection[std]; ok {
		return id
	}
	var sec elfSection
	switch std {
	case SecText:
		sec = elfSection{name: ".text", shtyp: elfSHTProgbits, flags: elfSHFAlloc | elfSHFExecinstr, align: 1}
	case SecData:
		sec = elfSection{name: ".data", shtyp: elfSHTProgbits, flags: elfSHFAlloc | elfSHFWrite, align: 8}
	case SecReadOnlyData:
		sec = elfSection{name: ".rodata", shtyp: elfSHTProgbits, flags: elfSHFAlloc, align: 8}
	case SecReadOnlyDataWithReloc:
		sec = elfSection{name: ".data.rel.ro", shtyp: elfSHTProgbits, flags: elfSHFAlloc | elfSHFWrite, align: 8}
	case SecUninitializedData:
		sec = elfSection{name: ".bss", shtyp: elfSHTNobits, flags: elfSHFAlloc | elfSHFWrite, align: 8, bss: true}
	}
	id := e.addSection(sec)
	e.stdSection[std] = id
	return id
}

func (e *elfContainer) AddSection(segment, name string, kind SectionKind) SectionID {
	flags := uint64(0)
	shtyp := uint32(elfSHTProgbits)
	if kind == KindReadOnlyData {
		flags = elfSHFAlloc
	}
	return e.addSection(elfSection{name: name, shtyp: shtyp, flags: flags, align: 8})
}

func (e *elfContainer) AppendSectionData(id SectionID, data []byte, align uint64) uint64 {
	sec := &e.sections[id]
	if align > sec.align {
		sec.align = align
	}
	if sec.bss {
		off := uint64(len(sec.data))
		pad := alignPad(off, align)
		sec.data = append(sec.data, make([]byte, pad+uint64(len(data)))...)
		return off + pad
	}
	off := alignUp(uint64(len(sec.data)), align)
	sec.data = append(sec.data, make([]byte, off-uint64(len(sec.data)))...)
	sec.data = append(sec.data, data...)
	return off
}

func (e *elfContainer) AddSymbol(sym Symbol) SymbolID {
	id := SymbolID(len(e.symbols))
	e.symbols = append(e.symbols, elfSymbolRec{sym: sym})
	if sym.Name != "" {
		e.symByName[sym.Name] = id
	}
	return id
}

func (e *elfContainer) AddSymbolBSS(id SymbolID, in SectionID, size, align uint64) error {
	off := e.AppendSectionData(in, make([]byte, size), align)
	rec := &e.symbols[id]
	rec.sym.Section = SectionDefined
	rec.sym.In = in
	rec.sym.Value = off
	rec.sym.Size = size
	return nil
}

func (e *elfContainer) SymbolID(name string) (SymbolID, bool) {
	id, ok := e.symByName[name]
	return id, ok
}

func (e *elfContainer) SectionByName(name string) (SectionID, bool) {
	for i, sec := range e.sections {
		if sec.name == name {
			return SectionID(i), true
		}
	}
	return 0, false
}

func (e *elfContainer) SectionSymbol(id SectionID) SymbolID {
	if sid, ok := e.sectionSyms[id]; ok {
		return sid
	}
	sid := SymbolID(len(e.symbols))
	e.symbols = append(e.symbols, elfSymbolRec{
		isSection: true,
		secFor:    id,
		sym:       Symbol{Scope: ScopeCompilation, Section: SectionDefined, In: id},
	})
	e.sectionSyms[id] = sid
	return sid
}

func (e *elfContainer) AddRelocation(id SectionID, reloc Relocation) error {
	if int(id) < 0 || int(id) >= len(e.sections) {
		return newRelocationError(fmt.Errorf("elf: relocation against unknown section %d", id))
	}
	e.relocs[id] = append(e.relocs[id], reloc)
	return nil
}

func (e *elfContainer) Write() ([]byte, error) {
	var strtab bytes.Buffer
	strtab.WriteByte(0)
	strOff := make(map[string]uint32)
	internStr := func(buf *bytes.Buffer, m map[string]uint32, s string) uint32 {
		if s == "" {
			return 0
		}
		if off, ok := m[s]; ok {
			return off
		}
		off := uint32(buf.Len())
		buf.WriteString(s)
		buf.WriteByte(0)
		m[s] = off
		return off
	}

	// Partition symbols: locals (including section symbols) first, then
	// globals, matching ELF's requirement that STB_LOCAL entries precede
	// STB_GLOBAL ones in .symtab.
	var order []SymbolID
	for i, rec := range e.symbols {
		if rec.isSection || rec.sym.Scope == ScopeCompilation {
			order = append(order, SymbolID(i))
		}
	}
	numLocal := len(order) + 1 // +1 for the mandatory null symbol at index 0
	for i, rec := range e.symbols {
		if !rec.isSection && rec.sym.Scope == ScopeLinkage {
			order = append(order, SymbolID(i))
		}
	}

	finalIdx := make(map[SymbolID]uint32, len(order))
	var symtab bytes.Buffer
	writeSym := func(name uint32, info, shndx uint16, value, size uint64) {
		binary.Write(&symtab, binary.LittleEndian, name)
		symtab.WriteByte(byte(info))
		symtab.WriteByte(0)
		binary.Write(&symtab, binary.LittleEndian, shndx)
		binary.Write(&symtab, binary.LittleEndian, value)
		binary.Write(&symtab, binary.LittleEndian, size)
	}
	writeSym(0, 0, 0, 0, 0) // null symbol

	shndxFor := func(id SectionID) uint16 { return uint16(id) + 1 } // +1: section 0 is SHN_UNDEF

	for i, id := range order {
		rec := e.symbols[id]
		finalIdx[id] = uint32(i + 1)
		bind := uint16(elfSTBLocal)
		if !rec.isSection && rec.sym.Scope == ScopeLinkage {
			bind = elfSTBGlobal
		}
		typ := uint16(elfSTTObject)
		name := uint32(0)
		shndx := uint16(0)
		value, size := uint64(0), uint64(0)
		if rec.isSection {
			typ = elfSTTSection
			shndx = shndxFor(rec.secFor)
		} else {
			if rec.sym.Kind == SymKindText {
				typ = elfSTTFunc
			}
			name = internStr(&strtab, strOff, rec.sym.Name)
			if rec.sym.Section == SectionDefined {
				shndx = shndxFor(rec.sym.In)
				value = rec.sym.Value
				size = rec.sym.Size
			}
		}
		info := (bind << 4) | typ
		writeSym(name, info, shndx, value, size)
	}

	var shstrtab bytes.Buffer
	shstrtab.WriteByte(0)
	shstrOff := make(map[string]uint32)

	type outSection struct {
		name     string
		shtyp    uint32
		flags    uint64
		data     []byte
		align    uint64
		bss      bool
		link     uint32
		info     uint32
		entsize  uint64
	}
	var out []outSection
	out = append(out, outSection{}) // SHN_UNDEF

	for i, sec := range e.sections {
		out = append(out, outSection{name: sec.name, shtyp: sec.shtyp, flags: sec.flags, data: sec.data, align: sec.align, bss: sec.bss})
		if relocs, ok := e.relocs[SectionID(i)]; ok && len(relocs) > 0 {
			var rela bytes.Buffer
			for _, r := range relocs {
				rtyp := elfRelocType(r)
				rinfo := (uint64(finalIdx[r.Symbol]) << 32) | uint64(rtyp)
				binary.Write(&rela, binary.LittleEndian, r.Offset)
				binary.Write(&rela, binary.LittleEndian, rinfo)
				binary.Write(&rela, binary.LittleEndian, r.Addend)
			}
			out = append(out, outSection{
				name: ".rela" + sec.name, shtyp: elfSHTRela, flags: elfSHFInfoLink,
				data: rela.Bytes(), align: 8, info: uint32(i + 1), entsize: elfRelaSize,
			})
		}
	}

	symtabIdx := len(out)
	out = append(out, outSection{name: ".symtab", shtyp: elfSHTSymtab, align: 8, data: symtab.Bytes(), entsize: elfSymSize})
	strtabIdx := len(out)
	out = append(out, outSection{name: ".strtab", shtyp: elfSHTStrtab, align: 1, data: strtab.Bytes()})
	out[symtabIdx].link = uint32(strtabIdx)
	out[symtabIdx].info = uint32(numLocal)

	shstrtabIdx := len(out)
	out = append(out, outSection{name: ".shstrtab", shtyp: elfSHTStrtab, align: 1})

	nameOff := make([]uint32, len(out))
	for i, s := range out {
		if i == 0 {
			continue
		}
		nameOff[i] = internStr(&shstrtab, shstrOff, s.name)
	}
	out[shstrtabIdx].data = shstrtab.Bytes()

	// Lay out file: header, then each non-null, non-BSS section's data
	// (aligned), then the section header table.
	var buf bytes.Buffer
	buf.Write(make([]byte, elfEhdrSize))

	offsets := make([]uint64, len(out))
	for i, s := range out {
		if i == 0 || s.bss || s.shtyp == elfSHTNull {
			continue
		}
		align := s.align
		if align == 0 {
			align = 1
		}
		pad := alignPad(uint64(buf.Len()), align)
		buf.Write(make([]byte, pad))
		offsets[i] = uint64(buf.Len())
		buf.Write(s.data)
	}

	shoff := alignUp(uint64(buf.Len()), 8)
	buf.Write(make([]byte, shoff-uint64(buf.Len())))

	for i, s := range out {
		var shOffset, shSize uint64
		if i != 0 {
			shSize = uint64(len(s.data))
			if !s.bss && s.shtyp != elfSHTNull {
				shOffset = offsets[i]
			}
		}
		binary.Write(&buf, binary.LittleEndian, nameOff[i])
		binary.Write(&buf, binary.LittleEndian, s.shtyp)
		binary.Write(&buf, binary.LittleEndian, s.flags)
		binary.Write(&buf, binary.LittleEndian, uint64(0)) // sh_addr
		binary.Write(&buf, binary.LittleEndian, shOffset)
		binary.Write(&buf, binary.LittleEndian, shSize)
		binary.Write(&buf, binary.LittleEndian, s.link)
		binary.Write(&buf, binary.LittleEndian, s.info)
		align := s.align
		if align == 0 {
			align = 1
		}
		binary.Write(&buf, binary.LittleEndian, align)
		binary.Write(&buf, binary.LittleEndian, s.entsize)
	}

	out1 := buf.Bytes()
	// Patch the ELF header now that shoff and shnum are known.
	copy(out1[0:4], []byte{0x7f, 'E', 'L', 'F'})
	out1[4] = 2 // ELFCLASS64
	out1[5] = 1 // little endian
	out1[6] = 1 // EI_VERSION
	out1[7] = 0 // ELFOSABI_SYSV
	binary.LittleEndian.PutUint16(out1[16:18], elfETRel)
	binary.LittleEndian.PutUint16(out1[18:20], elfEMX8664)
	binary.LittleEndian.PutUint32(out1[20:24], elfEVCurrent)
	binary.LittleEndian.PutUint64(out1[40:48], shoff)
	binary.LittleEndian.PutUint16(out1[52:54], elfEhdrSize)
	binary.LittleEndian.PutUint16(out1[58:60], elfShdrSize)
	binary.LittleEndian.PutUint16(out1[60:62], uint16(len(out)))
	binary.LittleEndian.PutUint16(out1[62:64], uint16(shstrtabIdx))

	return out1, nil
}

func elfRelocType(r Relocation) uint32 {
	switch {
	case r.Kind == RelRelative:
		return elfRX8664PC32
	case r.Kind == RelAbsolute && r.Size == 32:
		return elfRX866432
	default:
		return elfRX866464
	}
}

func alignUp(v, align uint64) uint64 {
	if align <= 1 {
		return v
	}
	return (v + align - 1) / align * align
}

func alignPad(v, align uint64) uint64 {
	return alignUp(v, align) - v
}
