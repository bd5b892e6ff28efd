package chocogen

import "fmt"

// assembler.go implements the Object Assembler (spec §4.3): it maps chunks
// to standard sections, assigns symbols, and resolves intra-module
// relocations into platform-appropriate relocation records, driving an
// ObjectContainer (object_elf.go / object_macho.go / object_coff.go)
// through the narrow surface object.go defines. This is the largest single
// component by design (spec §2's ~55% budget share) because it is where
// every other component's output — chunks from the Chunk Producer, debug
// sections from the DebugWriter — gets folded into one platform container,
// the same role the teacher's codegen_*_writer.go files play for their own
// executable output, adapted here to a relocatable object and split from
// byte encoding (now object_elf.go etc.) the way the teacher keeps codegen
// orchestration (codegen_elf_writer.go) separate from raw encoding
// (elf_complete.go).

// Assembler accumulates a CodeSet's chunks and a DebugWriter's finalized
// sections into one ObjectContainer and serializes the result.
type Assembler struct {
	obj ObjectContainer

	// chunkSym maps a chunk's name to its assigned symbol, populated during
	// the first pass (spec §5: define every chunk symbol before emitting
	// any relocation) so ChunkLink::Symbol targets that name a chunk
	// defined later in the sequence still resolve.
	chunkSym map[string]SymbolID

	strCounter int // next $str<N> suffix for synthesized anonymous data
}

// NewAssembler declares the fixed external runtime symbols (spec §4.3) and
// the $global BSS symbol on a fresh ObjectContainer for the given platform,
// and returns an Assembler ready to place chunks.
func NewAssembler(platform Platform, globalSize uint64) *Assembler {
	obj := newObjectContainer(platform)
	a := &Assembler{obj: obj, chunkSym: make(map[string]SymbolID)}

	for _, name := range externalRuntimeSymbols {
		obj.AddSymbol(Symbol{
			Name:    name,
			Kind:    SymKindText,
			Scope:   ScopeLinkage,
			Section: SectionUndefined,
		})
	}

	globalID := obj.AddSymbol(Symbol{
		Name:  SymGlobal,
		Kind:  SymKindData,
		Scope: ScopeCompilation,
	})
	bssSection := obj.SectionID(SecUninitializedData)
	if err := obj.AddSymbolBSS(globalID, bssSection, globalSize, 8); err != nil {
		// AddSymbolBSS only fails on malformed input from this package
		// itself; a panic here means a real bug in the container, not
		// something a caller can recover from.
		panic(fmt.Sprintf("chocogen: declaring $global: %v", err))
	}

	return a
}

// newObjectContainer picks the platform's concrete ObjectContainer.
func newObjectContainer(p Platform) ObjectContainer {
	switch {
	case p.IsELF():
		return NewELFObject()
	case p.IsMachO():
		return NewMachOObject()
	default:
		return NewCOFFObject()
	}
}

// chunkSectionAndSymbol decides the standard section, alignment and symbol
// kind for a chunk per spec §4.3's placement table.
func chunkSectionAndSymbol(c *Chunk) (std StandardSection, align uint64, kind SymbolKind) {
	if c.Extra.IsProcedure {
		return SecText, 1, SymKindText
	}
	if c.Extra.Writable {
		return SecData, 8, SymKindData
	}
	if len(c.Links) > 0 {
		return SecReadOnlyDataWithReloc, 8, SymKindData
	}
	return SecReadOnlyData, 8, SymKindData
}

// DefineChunks is the Assembler's first pass (spec §5): place every
// chunk's bytes into its section and declare its symbol, without touching
// relocations. Every other defined symbol besides $chocopy_main has
// compilation scope (spec §8).
func (a *Assembler) DefineChunks(chunks []Chunk) {
	for i := range chunks {
		c := &chunks[i]
		std, align, kind := chunkSectionAndSymbol(c)
		secID := a.obj.SectionID(std)
		off := a.obj.AppendSectionData(secID, c.Code, align)

		scope := ScopeCompilation
		if c.Name == SymMain {
			scope = ScopeLinkage
		}
		symID := a.obj.AddSymbol(Symbol{
			Name:    c.Name,
			Value:   off,
			Size:    uint64(len(c.Code)),
			Kind:    kind,
			Scope:   scope,
			Section: SectionDefined,
			In:      secID,
		})
		a.chunkSym[c.Name] = symID
	}
}

// EmitRelocations is the Assembler's second pass (spec §5): for each
// chunk's outgoing links, emit the platform relocation, synthesizing a
// fresh $str<N> read-only datum for inline-data targets as it goes (spec
// §4.3's relocation emission rules).
func (a *Assembler) EmitRelocations(chunks []Chunk) error {
	for i := range chunks {
		c := &chunks[i]
		std, _, _ := chunkSectionAndSymbol(c)
		secID := a.obj.SectionID(std)
		for _, link := range c.Links {
			reloc, err := a.resolveLink(c, link)
			if err != nil {
				return err
			}
			if err := a.obj.AddRelocation(secID, reloc); err != nil {
				return newRelocationError(err)
			}
		}
	}
	return nil
}

// resolveLink turns one ChunkLink into a Relocation, per spec §4.3: width
// 32 / PC-relative / RIP-relative with addend-4 for procedure chunks,
// width 64 / absolute / generic with addend unchanged for data chunks.
func (a *Assembler) resolveLink(c *Chunk, link ChunkLink) (Relocation, error) {
	var size uint8
	var kind RelocationKind
	var encoding RelocationEncoding
	var addend int64

	if c.Extra.IsProcedure {
		size, kind, encoding = 32, RelRelative, EncX86RipRelative
	} else {
		size, kind, encoding = 64, RelAbsolute, EncGeneric
	}

	symID, err := a.symbolForTarget(link.To)
	if err != nil {
		return Relocation{}, err
	}

	if c.Extra.IsProcedure {
		addend = int64(link.To.Addend) - 4
	} else {
		addend = int64(link.To.Addend)
	}

	return Relocation{
		Offset:   uint64(link.Pos),
		Size:     size,
		Kind:     kind,
		Encoding: encoding,
		Symbol:   symID,
		Addend:   addend,
	}, nil
}

// symbolForTarget resolves a ChunkLinkTarget to a symbol id, synthesizing
// a $str<N> anonymous datum for inline-data targets.
func (a *Assembler) symbolForTarget(t ChunkLinkTarget) (SymbolID, error) {
	if t.IsData {
		return a.internAnonData(t.Data), nil
	}
	if id, ok := a.chunkSym[t.Symbol]; ok {
		return id, nil
	}
	if id, ok := a.obj.SymbolID(t.Symbol); ok {
		return id, nil
	}
	return 0, newRelocationError(fmt.Errorf("chocogen: relocation target %q is neither a known chunk nor a declared external symbol", t.Symbol))
}

// internAnonData allocates the next $str<N> name, appends data to the
// read-only section at alignment 1, and declares a compilation-scope data
// symbol pointing at it (spec §4.3).
func (a *Assembler) internAnonData(data []byte) SymbolID {
	name := fmt.Sprintf("%s%d", anonDataPrefix, a.strCounter)
	a.strCounter++

	secID := a.obj.SectionID(SecReadOnlyData)
	off := a.obj.AppendSectionData(secID, data, 1)
	return a.obj.AddSymbol(Symbol{
		Name:    name,
		Value:   off,
		Size:    uint64(len(data)),
		Kind:    SymKindData,
		Scope:   ScopeCompilation,
		Section: SectionDefined,
		In:      secID,
	})
}

// debugSectionKindAndAlign maps a DebugChunk to the ObjectContainer section
// kind and alignment spec §4.3's debug section integration specifies.
func debugSectionKindAndAlign(dc *DebugChunk) (SectionKind, uint64) {
	if dc.Discardable {
		return KindDebug, 8
	}
	return KindReadOnlyData, 8
}

// debugRelocKind maps a DebugChunkLink's link type to the container's
// RelocationKind one-to-one (spec §4.3).
func debugRelocKind(t DebugChunkLinkType) RelocationKind {
	switch t {
	case SectionRelative:
		return RelSectionOffset
	case SectionIDLink:
		return RelSectionIndex
	case ImageRelative:
		return RelImageOffset
	default:
		return RelAbsolute
	}
}

// InstallDebugSections adds each finalized DebugChunk as a fresh section
// under the platform's debug segment and resolves its relocations (spec
// §4.3). A debug relocation's target is looked up as a symbol first; if
// none exists, it is interpreted as a section name and the section's
// implicit symbol is used instead. The relocation's byte size is scaled to
// bits (×8) as the spec requires.
func (a *Assembler) InstallDebugSections(chunks []DebugChunk) error {
	for i := range chunks {
		dc := &chunks[i]
		kind, align := debugSectionKindAndAlign(dc)
		secID := a.obj.AddSection("debug", dc.Name, kind)
		a.obj.AppendSectionData(secID, dc.Code, align)

		for _, link := range dc.Links {
			symID, ok := a.obj.SymbolID(link.To)
			if !ok {
				target, tok := a.obj.SectionByName(link.To)
				if !tok {
					return newRelocationError(fmt.Errorf("chocogen: debug relocation target %q is neither a known symbol nor a known section", link.To))
				}
				symID = a.obj.SectionSymbol(target)
			}
			reloc := Relocation{
				Offset:   link.Pos,
				Size:     link.Size * 8,
				Kind:     debugRelocKind(link.LinkType),
				Encoding: EncGeneric,
				Symbol:   symID,
			}
			if err := a.obj.AddRelocation(secID, reloc); err != nil {
				return newRelocationError(err)
			}
		}
	}
	return nil
}

// Write serializes the fully-assembled object to bytes.
func (a *Assembler) Write() ([]byte, error) {
	b, err := a.obj.Write()
	if err != nil {
		return nil, newRelocationError(err)
	}
	return b, nil
}
