package chocogen

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// object_coff.go writes a plain Microsoft COFF object file (the .obj a
// Windows compiler emits, not a PE executable) for x86-64, adapted from the
// teacher's PE writer in pe.go: the same manual header-by-header encoding
// style, stripped of everything that only makes sense for a loadable image
// (DOS stub, optional header, import/export directories, section
// virtual-address layout) since a relocatable object has none of that — a
// linker resolves it later.

const (
	coffMachineAMD64 = 0x8664

	coffFileHeaderSize = 20
	coffSectionSize    = 40
	coffRelocSize      = 10
	coffSymbolSize     = 18

	coffSCNCntCode             = 0x00000020
	coffSCNCntInitializedData  = 0x00000040
	coffSCNCntUninitializedData = 0x00000080
	coffSCNAlign16Bytes        = 0x00500000
	coffSCNMemExecute          = 0x20000000
	coffSCNMemRead             = 0x40000000
	coffSCNMemWrite            = 0x80000000
	coffSCNMemDiscardable      = 0x02000000

	imageRelAMD64Addr64 = 0x0001
	imageRelAMD64Addr32 = 0x0002
	imageRelAMD64Rel32  = 0x0004
	imageRelAMD64SectionRel = 0x000B
	imageRelAMD64Section    = 0x000A

	imageSymClassExternal = 2
	imageSymClassStatic   = 3
	imageSymUndefined     = 0
)

type coffSection struct {
	name  string
	data  []byte
	bss   bool
	flags uint32
}

type coffSymbolRec struct {
	sym       Symbol
	isSection bool
	secFor    SectionID
}

type coffContainer struct {
	sections   []coffSection
	stdSection map[StandardSection]SectionID
	symbols    []coffSymbolRec
	symByName  map[string]SymbolID
	sectionSym map[SectionID]SymbolID
	relocs     map[SectionID][]Relocation
}

// NewCOFFObject creates an empty Microsoft COFF object container targeting
// x86-64.
func NewCOFFObject() ObjectContainer {
	return &coffContainer{
		stdSection: make(map[StandardSection]SectionID),
		symByName:  make(map[string]SymbolID),
		sectionSym: make(map[SectionID]SymbolID),
		relocs:     make(map[SectionID][]Relocation),
	}
}

func (c *coffContainer) add(sec coffSection) SectionID {
	c.sections = append(c.sections, sec)
	return SectionID(len(c.sections) - 1)
}

func (c *coffContainer) SectionID(std StandardSection) SectionID {
	if id, ok := c.stdSection[std]; ok {
		return id
	}
	var sec coffSection
	switch std {
	case SecText:
		sec = coffSection{name: ".text", flags: coffSCNCntCode | coffSCNMemExecute | coffSCNMemRead}
	case SecData:
		sec = coffSection{name: ".data", flags: coffSCNCntInitializedData | coffSCNMemRead | coffSCNMemWrite}
	case SecReadOnlyData:
		sec = coffSection{name: ".rdata", flags: coffSCNCntInitializedData | coffSCNMemRead}
	case SecReadOnlyDataWithReloc:
		sec = coffSection{name: ".rdata$r", flags: coffSCNCntInitializedData | coffSCNMemRead}
	case SecUninitializedData:
		sec = coffSection{name: ".bss", bss: true, flags: coffSCNCntUninitializedData | coffSCNMemRead | coffSCNMemWrite}
	}
	id := c.add(sec)
	c.stdSection[std] = id
	return id
}

func (c *coffContainer) AddSection(segment, name string, kind SectionKind) SectionID {
	flags := uint32(coffSCNCntInitializedData | coffSCNMemRead)
	if kind == KindDebug {
		flags |= coffSCNMemDiscardable
	}
	return c.add(coffSection{name: name, flags: flags})
}

func (c *coffContainer) AppendSectionData(id SectionID, data []byte, align uint64) uint64 {
	sec := &c.sections[id]
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

func (c *coffContainer) AddSymbol(sym Symbol) SymbolID {
	id := SymbolID(len(c.symbols))
	c.symbols = append(c.symbols, coffSymbolRec{sym: sym})
	if sym.Name != "" {
		c.symByName[sym.Name] = id
	}
	return id
}

func (c *coffContainer) AddSymbolBSS(id SymbolID, in SectionID, size, align uint64) error {
	off := c.AppendSectionData(in, make([]byte, size), align)
	rec := &c.symbols[id]
	rec.sym.Section = SectionDefined
	rec.sym.In = in
	rec.sym.Value = off
	rec.sym.Size = size
	return nil
}

func (c *coffContainer) SymbolID(name string) (SymbolID, bool) {
	id, ok := c.symByName[name]
	return id, ok
}

func (c *coffContainer) SectionByName(name string) (SectionID, bool) {
	for i, sec := range c.sections {
		if sec.name == name {
			return SectionID(i), true
		}
	}
	return 0, false
}

func (c *coffContainer) SectionSymbol(id SectionID) SymbolID {
	if sid, ok := c.sectionSym[id]; ok {
		return sid
	}
	sid := SymbolID(len(c.symbols))
	c.symbols = append(c.symbols, coffSymbolRec{isSection: true, secFor: id})
	c.sectionSym[id] = sid
	return sid
}

// AddRelocation records the fixup. Like Mach-O, classic COFF relocations
// carry no explicit addend field, so the addend is baked into the section
// bytes at the fixup site, matching how link.exe expects IMAGE_REL_AMD64_REL32
// and IMAGE_REL_AMD64_ADDR32/64 fixups to already hold their bias in place.
func (c *coffContainer) AddRelocation(id SectionID, reloc Relocation) error {
	if int(id) < 0 || int(id) >= len(c.sections) {
		return newRelocationError(fmt.Errorf("coff: relocation against unknown section %d", id))
	}
	sec := &c.sections[id]
	width := int(reloc.Size / 8)
	if int(reloc.Offset)+width > len(sec.data) {
		return newRelocationError(fmt.Errorf("coff: relocation at %d overruns section of size %d", reloc.Offset, len(sec.data)))
	}
	switch width {
	case 4:
		binary.LittleEndian.PutUint32(sec.data[reloc.Offset:], uint32(reloc.Addend))
	case 8:
		binary.LittleEndian.PutUint64(sec.data[reloc.Offset:], uint64(reloc.Addend))
	}
	c.relocs[id] = append(c.relocs[id], reloc)
	return nil
}

func coffRelocType(r Relocation) uint16 {
	switch r.Kind {
	case RelRelative:
		return imageRelAMD64Rel32
	case RelSectionOffset:
		return imageRelAMD64SectionRel
	case RelSectionIndex:
		return imageRelAMD64Section
	default:
		if r.Size == 64 {
			return imageRelAMD64Addr64
		}
		return imageRelAMD64Addr32
	}
}

func (c *coffContainer) Write() ([]byte, error) {
	var strtab bytes.Buffer
	binary.Write(&strtab, binary.LittleEndian, uint32(0)) // patched below
	strOff := make(map[string]uint32)
	internLong := func(s string) uint32 {
		if off, ok := strOff[s]; ok {
			return off
		}
		off := uint32(strtab.Len())
		strtab.WriteString(s)
		strtab.WriteByte(0)
		strOff[s] = off
		return off
	}

	writeShortName := func(buf *bytes.Buffer, name string) {
		var raw [8]byte
		if len(name) <= 8 {
			copy(raw[:], name)
			buf.Write(raw[:])
			return
		}
		off := internLong(name)
		binary.LittleEndian.PutUint32(raw[0:4], 0)
		binary.LittleEndian.PutUint32(raw[4:8], off)
		buf.Write(raw[:])
	}

	finalIdx := make(map[SymbolID]uint32, len(c.symbols))
	var symtab bytes.Buffer
	idx := uint32(0)
	for i, rec := range c.symbols {
		finalIdx[SymbolID(i)] = idx
		idx++
		if rec.isSection {
			writeShortName(&symtab, c.sections[rec.secFor].name)
			binary.Write(&symtab, binary.LittleEndian, uint32(0))
			binary.Write(&symtab, binary.LittleEndian, uint16(rec.secFor)+1)
			binary.Write(&symtab, binary.LittleEndian, uint16(0))
			symtab.WriteByte(imageSymClassStatic)
			symtab.WriteByte(0)
			continue
		}
		writeShortName(&symtab, rec.sym.Name)
		value := uint32(0)
		sectionNum := uint16(imageSymUndefined)
		class := byte(imageSymClassStatic)
		if rec.sym.Section == SectionDefined {
			value = uint32(rec.sym.Value)
			sectionNum = uint16(rec.sym.In) + 1
		}
		if rec.sym.Scope == ScopeLinkage || rec.sym.Section == SectionUndefined {
			class = imageSymClassExternal
		}
		binary.Write(&symtab, binary.LittleEndian, value)
		binary.Write(&symtab, binary.LittleEndian, sectionNum)
		binary.Write(&symtab, binary.LittleEndian, uint16(0)) // type: not a function
		symtab.WriteByte(class)
		symtab.WriteByte(0) // no aux symbols
	}
	nsyms := idx
	binary.LittleEndian.PutUint32(strtab.Bytes()[0:4], uint32(strtab.Len()))

	type outSec struct {
		sec      coffSection
		relocOff uint64
		relocCnt uint16
	}
	secs := make([]outSec, len(c.sections))
	for i, s := range c.sections {
		secs[i] = outSec{sec: s}
	}

	var relocBuf bytes.Buffer
	for i := range c.sections {
		relocs := c.relocs[SectionID(i)]
		if len(relocs) == 0 {
			continue
		}
		secs[i].relocCnt = uint16(len(relocs))
		for _, r := range relocs {
			binary.Write(&relocBuf, binary.LittleEndian, uint32(r.Offset))
			binary.Write(&relocBuf, binary.LittleEndian, finalIdx[r.Symbol])
			binary.Write(&relocBuf, binary.LittleEndian, coffRelocType(r))
		}
	}

	headerSize := uint64(coffFileHeaderSize)
	sectionTableSize := uint64(len(secs)) * coffSectionSize
	dataOff := headerSize + sectionTableSize

	fileOffsets := make([]uint64, len(secs))
	for i, s := range secs {
		if s.sec.bss {
			continue
		}
		dataOff = alignUp(dataOff, 16)
		fileOffsets[i] = dataOff
		dataOff += uint64(len(s.sec.data))
	}
	relocOffsets := make([]uint64, len(secs))
	for i, s := range secs {
		if s.relocCnt == 0 {
			continue
		}
		relocOffsets[i] = dataOff
		dataOff += uint64(s.relocCnt) * coffRelocSize
	}
	symtabOff := dataOff

	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, uint16(coffMachineAMD64))
	binary.Write(&buf, binary.LittleEndian, uint16(len(secs)))
	binary.Write(&buf, binary.LittleEndian, uint32(0)) // TimeDateStamp
	binary.Write(&buf, binary.LittleEndian, uint32(symtabOff))
	binary.Write(&buf, binary.LittleEndian, nsyms)
	binary.Write(&buf, binary.LittleEndian, uint16(0)) // SizeOfOptionalHeader
	binary.Write(&buf, binary.LittleEndian, uint16(0)) // Characteristics

	for i, s := range secs {
		if len(s.sec.name) <= 8 {
			writeShortName(&buf, s.sec.name)
		} else {
			var raw [8]byte
			copy(raw[:], fmt.Sprintf("/%d", internLong(s.sec.name)))
			buf.Write(raw[:])
		}
		binary.Write(&buf, binary.LittleEndian, uint32(0)) // VirtualSize
		binary.Write(&buf, binary.LittleEndian, uint32(0)) // VirtualAddress
		binary.Write(&buf, binary.LittleEndian, uint32(len(s.sec.data)))
		if s.sec.bss {
			binary.Write(&buf, binary.LittleEndian, uint32(0))
		} else {
			binary.Write(&buf, binary.LittleEndian, uint32(fileOffsets[i]))
		}
		binary.Write(&buf, binary.LittleEndian, uint32(relocOffsets[i]))
		binary.Write(&buf, binary.LittleEndian, uint32(0)) // PointerToLinenumbers
		binary.Write(&buf, binary.LittleEndian, s.relocCnt)
		binary.Write(&buf, binary.LittleEndian, uint16(0)) // NumberOfLinenumbers
		binary.Write(&buf, binary.LittleEndian, s.sec.flags|coffSCNAlign16Bytes)
	}
	binary.LittleEndian.PutUint32(strtab.Bytes()[0:4], uint32(strtab.Len()))

	for i, s := range secs {
		if s.sec.bss {
			continue
		}
		pad := int(fileOffsets[i]) - buf.Len()
		if pad > 0 {
			buf.Write(make([]byte, pad))
		}
		buf.Write(s.sec.data)
	}
	buf.Write(relocBuf.Bytes())
	buf.Write(symtab.Bytes())
	buf.Write(strtab.Bytes())

	return buf.Bytes(), nil
}
