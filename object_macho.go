package chocogen

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// object_macho.go writes a Mach-O MH_OBJECT (relocatable) file for x86-64
// macOS, adapted from the teacher's executable writer in macho.go: same
// manual struct-by-struct encoding style, but a single anonymous
// LC_SEGMENT_64 holding every section (the convention real .o files use)
// instead of the teacher's __PAGEZERO/__TEXT/__DATA/__LINKEDIT segment
// quartet, which only makes sense for a loadable executable.

const (
	machoMagic64 = 0xfeedfacf
	machoMHObject = 0x1
	cpuTypeX8664  = 0x01000007
	cpuSubtypeX8664All = 3

	lcSegment64 = 0x19
	lcSymtab    = 0x2

	machoSegCmdSize = 72
	machoSecSize    = 80
	machoNlistSize  = 16
	machoRelocSize  = 8

	machoNSect  = 0xe
	machoNExt   = 0x1
	machoNUndef = 0x0

	x8664RelocUnsigned = 0
	x8664RelocSigned   = 1
)

type machoSection struct {
	name string
	data []byte
	bss  bool
	// align is stored as a power of two, matching section_64's align field.
	align uint32
}

type machoSymbolRec struct {
	sym       Symbol
	isSection bool
	secFor    SectionID
}

type machoReloc struct {
	sec Relocation
}

type machoContainer struct {
	sections   []machoSection
	stdSection map[StandardSection]SectionID
	symbols    []machoSymbolRec
	symByName  map[string]SymbolID
	sectionSym map[SectionID]SymbolID
	relocs     map[SectionID][]Relocation
}

// NewMachOObject creates an empty Mach-O MH_OBJECT container targeting
// x86-64.
func NewMachOObject() ObjectContainer {
	return &machoContainer{
		stdSection: make(map[StandardSection]SectionID),
		symByName:  make(map[string]SymbolID),
		sectionSym: make(map[SectionID]SymbolID),
		relocs:     make(map[SectionID][]Relocation),
	}
}

func (m *machoContainer) add(sec machoSection) SectionID {
	m.sections = append(m.sections, sec)
	return SectionID(len(m.sections) - 1)
}

func (m *machoContainer) SectionID(std StandardSection) SectionID {
	if id, ok := m.stdSection[std]; ok {
		return id
	}
	var sec machoSection
	switch std {
	case SecText:
		sec = machoSection{name: "__text", align: 0}
	case SecData:
		sec = machoSection{name: "__data", align: 3}
	case SecReadOnlyData:
		sec = machoSection{name: "__const", align: 3}
	case SecReadOnlyDataWithReloc:
		sec = machoSection{name: "__const_rel", align: 3}
	case SecUninitializedData:
		sec = machoSection{name: "__bss", align: 3, bss: true}
	}
	id := m.add(sec)
	m.stdSection[std] = id
	return id
}

func (m *machoContainer) AddSection(segment, name string, kind SectionKind) SectionID {
	return m.add(machoSection{name: name, align: 3})
}

func (m *machoContainer) AppendSectionData(id SectionID, data []byte, align uint64) uint64 {
	sec := &m.sections[id]
	log2 := log2Align(align)
	if log2 > sec.align {
		sec.align = log2
	}
	alignBytes := uint64(1) << sec.align
	if sec.bss {
		off := uint64(len(sec.data))
		pad := alignPad(off, alignBytes)
		sec.data = append(sec.data, make([]byte, pad+uint64(len(data)))...)
		return off + pad
	}
	off := alignUp(uint64(len(sec.data)), alignBytes)
	sec.data = append(sec.data, make([]byte, off-uint64(len(sec.data)))...)
	sec.data = append(sec.data, data...)
	return off
}

func (m *machoContainer) AddSymbol(sym Symbol) SymbolID {
	id := SymbolID(len(m.symbols))
	m.symbols = append(m.symbols, machoSymbolRec{sym: sym})
	if sym.Name != "" {
		m.symByName[sym.Name] = id
	}
	return id
}

func (m *machoContainer) AddSymbolBSS(id SymbolID, in SectionID, size, align uint64) error {
	off := m.AppendSectionData(in, make([]byte, size), align)
	rec := &m.symbols[id]
	rec.sym.Section = SectionDefined
	rec.sym.In = in
	rec.sym.Value = off
	rec.sym.Size = size
	return nil
}

func (m *machoContainer) SymbolID(name string) (SymbolID, bool) {
	id, ok := m.symByName[name]
	return id, ok
}

func (m *machoContainer) SectionByName(name string) (SectionID, bool) {
	for i, sec := range m.sections {
		if sec.name == name {
			return SectionID(i), true
		}
	}
	return 0, false
}

func (m *machoContainer) SectionSymbol(id SectionID) SymbolID {
	if sid, ok := m.sectionSym[id]; ok {
		return sid
	}
	sid := SymbolID(len(m.symbols))
	m.symbols = append(m.symbols, machoSymbolRec{isSection: true, secFor: id})
	m.sectionSym[id] = sid
	return sid
}

// AddRelocation records the fixup and, matching classic Mach-O relocations
// (which carry no explicit addend field), bakes reloc.Addend directly into
// the section bytes at the fixup site before the linker ever sees it.
func (m *machoContainer) AddRelocation(id SectionID, reloc Relocation) error {
	if int(id) < 0 || int(id) >= len(m.sections) {
		return newRelocationError(fmt.Errorf("macho: relocation against unknown section %d", id))
	}
	sec := &m.sections[id]
	width := int(reloc.Size / 8)
	if int(reloc.Offset)+width > len(sec.data) {
		return newRelocationError(fmt.Errorf("macho: relocation at %d overruns section of size %d", reloc.Offset, len(sec.data)))
	}
	switch width {
	case 4:
		binary.LittleEndian.PutUint32(sec.data[reloc.Offset:], uint32(reloc.Addend))
	case 8:
		binary.LittleEndian.PutUint64(sec.data[reloc.Offset:], uint64(reloc.Addend))
	}
	m.relocs[id] = append(m.relocs[id], reloc)
	return nil
}

func (m *machoContainer) Write() ([]byte, error) {
	var strtab bytes.Buffer
	strtab.WriteByte(0)
	strOff := make(map[string]uint32)
	intern := func(s string) uint32 {
		if s == "" {
			return 0
		}
		if off, ok := strOff[s]; ok {
			return off
		}
		off := uint32(strtab.Len())
		strtab.WriteString(s)
		strtab.WriteByte(0)
		strOff[s] = off
		return off
	}

	finalIdx := make(map[SymbolID]uint32, len(m.symbols))
	var nlist bytes.Buffer
	nsyms := uint32(0)
	writeNlist := func(strx uint32, typ, sect uint8, desc uint16, value uint64) {
		binary.Write(&nlist, binary.LittleEndian, strx)
		nlist.WriteByte(typ)
		nlist.WriteByte(sect)
		binary.Write(&nlist, binary.LittleEndian, desc)
		binary.Write(&nlist, binary.LittleEndian, value)
		nsyms++
	}

	for i, rec := range m.symbols {
		finalIdx[SymbolID(i)] = nsyms
		if rec.isSection {
			writeNlist(0, machoNSect, uint8(rec.secFor)+1, 0, 0)
			continue
		}
		typ := uint8(machoNUndef)
		ext := uint8(0)
		sectIdx := uint8(0)
		value := uint64(0)
		if rec.sym.Section == SectionDefined {
			typ = machoNSect
			sectIdx = uint8(rec.sym.In) + 1
			value = rec.sym.Value
		}
		if rec.sym.Scope == ScopeLinkage || rec.sym.Section == SectionUndefined {
			ext = machoNExt
		}
		writeNlist(intern(rec.sym.Name), typ|ext, sectIdx, 0, value)
	}

	type outSec struct {
		sec      machoSection
		relocOff uint64
		relocCnt uint32
	}
	secs := make([]outSec, len(m.sections))
	for i, s := range m.sections {
		secs[i] = outSec{sec: s}
	}

	var relocBuf bytes.Buffer
	for i := range m.sections {
		relocs := m.relocs[SectionID(i)]
		if len(relocs) == 0 {
			continue
		}
		secs[i].relocCnt = uint32(len(relocs))
		for _, r := range relocs {
			pcrel := uint32(0)
			length := uint32(3)
			typ := uint32(x8664RelocUnsigned)
			if r.Kind == RelRelative {
				pcrel = 1
				length = 2
				typ = x8664RelocSigned
			} else if r.Size == 32 {
				length = 2
			}
			word1 := uint32(r.Offset)
			word2 := (finalIdx[r.Symbol] & 0xFFFFFF) | (pcrel << 24) | (length << 25) | (1 << 27) | (typ << 28)
			binary.Write(&relocBuf, binary.LittleEndian, word1)
			binary.Write(&relocBuf, binary.LittleEndian, word2)
		}
	}

	// Lay out the file: header, one LC_SEGMENT_64 + its section_64 array,
	// one LC_SYMTAB, then section data, relocations, symbol table, string
	// table.
	headerSize := 32
	segCmdSize := machoSegCmdSize + len(secs)*machoSecSize
	symtabCmdSize := 24
	cmdsSize := segCmdSize + symtabCmdSize

	dataOff := uint64(headerSize + cmdsSize)
	vmsize := uint64(0)
	fileOffsets := make([]uint64, len(secs))
	for i, s := range secs {
		if s.sec.bss {
			vmsize += uint64(len(s.sec.data))
			continue
		}
		alignBytes := uint64(1) << s.sec.align
		dataOff = alignUp(dataOff, alignBytes)
		fileOffsets[i] = dataOff
		dataOff += uint64(len(s.sec.data))
		vmsize += uint64(len(s.sec.data))
	}

	relocOffsets := make([]uint64, len(secs))
	relocCursor := dataOff
	for i, s := range secs {
		if s.relocCnt == 0 {
			continue
		}
		relocOffsets[i] = relocCursor
		relocCursor += uint64(s.relocCnt) * machoRelocSize
	}

	symoff := relocCursor
	stroff := symoff + uint64(nlist.Len())

	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, uint32(machoMagic64))
	binary.Write(&buf, binary.LittleEndian, uint32(cpuTypeX8664))
	binary.Write(&buf, binary.LittleEndian, uint32(cpuSubtypeX8664All))
	binary.Write(&buf, binary.LittleEndian, uint32(machoMHObject))
	binary.Write(&buf, binary.LittleEndian, uint32(2)) // ncmds: LC_SEGMENT_64 + LC_SYMTAB
	binary.Write(&buf, binary.LittleEndian, uint32(cmdsSize))
	binary.Write(&buf, binary.LittleEndian, uint32(0)) // flags
	binary.Write(&buf, binary.LittleEndian, uint32(0)) // reserved

	// LC_SEGMENT_64 (unnamed segment covering every section, as real
	// .o files do). When every section is BSS (spec §8's empty-program
	// boundary case: no text chunks, only the zero-initialized global
	// arena), there is no file-backed data at all, so the segment must
	// claim fileoff=0, filesize=0 rather than a bogus non-zero filesize
	// against whatever fileOffsets[0]'s zero value happens to be.
	segFileOff, segFileSize := uint64(0), uint64(0)
	if idx, ok := firstNonBSS(secs); ok {
		segFileOff = fileOffsets[idx]
		segFileSize = dataOff - segFileOff
	}
	binary.Write(&buf, binary.LittleEndian, uint32(lcSegment64))
	binary.Write(&buf, binary.LittleEndian, uint32(segCmdSize))
	buf.Write(make([]byte, 16)) // segname: ""
	binary.Write(&buf, binary.LittleEndian, uint64(0)) // vmaddr
	binary.Write(&buf, binary.LittleEndian, vmsize)    // vmsize
	binary.Write(&buf, binary.LittleEndian, segFileOff)
	binary.Write(&buf, binary.LittleEndian, segFileSize)
	binary.Write(&buf, binary.LittleEndian, uint32(7)) // maxprot: rwx
	binary.Write(&buf, binary.LittleEndian, uint32(7)) // initprot
	binary.Write(&buf, binary.LittleEndian, uint32(len(secs)))
	binary.Write(&buf, binary.LittleEndian, uint32(0)) // flags

	for i, s := range secs {
		var name [16]byte
		copy(name[:], s.sec.name)
		buf.Write(name[:])
		buf.Write(make([]byte, 16)) // segname: ""
		binary.Write(&buf, binary.LittleEndian, uint64(0))
		binary.Write(&buf, binary.LittleEndian, uint64(len(s.sec.data)))
		if s.sec.bss {
			binary.Write(&buf, binary.LittleEndian, uint32(0))
		} else {
			binary.Write(&buf, binary.LittleEndian, uint32(fileOffsets[i]))
		}
		binary.Write(&buf, binary.LittleEndian, s.sec.align)
		binary.Write(&buf, binary.LittleEndian, uint32(relocOffsets[i]))
		binary.Write(&buf, binary.LittleEndian, s.relocCnt)
		flags := uint32(0)
		if s.sec.bss {
			flags = 1 // S_ZEROFILL
		}
		binary.Write(&buf, binary.LittleEndian, flags)
		binary.Write(&buf, binary.LittleEndian, uint32(0)) // reserved1
		binary.Write(&buf, binary.LittleEndian, uint32(0)) // reserved2
		binary.Write(&buf, binary.LittleEndian, uint32(0)) // reserved3
	}

	// LC_SYMTAB
	binary.Write(&buf, binary.LittleEndian, uint32(lcSymtab))
	binary.Write(&buf, binary.LittleEndian, uint32(symtabCmdSize))
	binary.Write(&buf, binary.LittleEndian, uint32(symoff))
	binary.Write(&buf, binary.LittleEndian, nsyms)
	binary.Write(&buf, binary.LittleEndian, uint32(stroff))
	binary.Write(&buf, binary.LittleEndian, uint32(strtab.Len()))

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
	buf.Write(nlist.Bytes())
	buf.Write(strtab.Bytes())

	return buf.Bytes(), nil
}

// firstNonBSS returns the index of the first file-backed (non-BSS) section
// in secs, and false if every section is BSS.
func firstNonBSS(secs []struct {
	sec      machoSection
	relocOff uint64
	relocCnt uint32
}) (int, bool) {
	for i, s := range secs {
		if !s.sec.bss {
			return i, true
		}
	}
	return 0, false
}

func log2Align(align uint64) uint32 {
	if align <= 1 {
		return 0
	}
	n := uint32(0)
	for (uint64(1) << n) < align {
		n++
	}
	return n
}
