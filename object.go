package chocogen

// This file defines the narrow surface the Object Assembler (assembler.go)
// drives to build a relocatable object file. Each platform's concrete
// container — object_elf.go, object_macho.go, object_coff.go — implements
// it by accumulating sections, symbols and relocations in memory and
// serializing them to bytes only once, in Write. The shape mirrors the
// orchestration in the ChocoPy codegen backend this module is derived
// from (gen_object in original_source/chocopy), which drives an external
// object-file-writing library through exactly these operations; here the
// three container implementations play that library's role directly,
// adapted from the teacher's manual ELF/Mach-O/COFF header encoding in
// elf_complete.go, macho.go and pe.go.

// SymbolID identifies a symbol already added to an ObjectContainer.
type SymbolID int

// SectionID identifies a section already added to an ObjectContainer.
type SectionID int

// SymbolKind distinguishes text (code) symbols from data symbols.
type SymbolKind int

const (
	SymKindText SymbolKind = iota
	SymKindData
)

// SymbolScope controls whether a defined symbol is visible to the linker
// at all (Compilation: local to this object) or exported for linking
// (Linkage: global).
type SymbolScope int

const (
	ScopeCompilation SymbolScope = iota
	ScopeLinkage
)

// SymbolSectionKind distinguishes an undefined (imported) symbol from one
// defined in a specific section of this object.
type SymbolSectionKind int

const (
	SectionUndefined SymbolSectionKind = iota
	SectionDefined
)

// Symbol is everything the Assembler needs to declare about a symbol: its
// name, value (section-relative offset), size, and visibility.
type Symbol struct {
	Name    string
	Value   uint64
	Size    uint64
	Kind    SymbolKind
	Scope   SymbolScope
	Section SymbolSectionKind
	// In lives in, valid when Section == SectionDefined.
	In SectionID
}

// StandardSection names one of the five section roles every platform
// provides, matching spec §4.3's placement table.
type StandardSection int

const (
	SecText StandardSection = iota
	SecData
	SecReadOnlyData
	SecReadOnlyDataWithReloc
	SecUninitializedData
)

// SectionKind distinguishes a debug section that may be stripped from one
// that must survive (treated as read-only data) — spec §4.3's debug
// section integration.
type SectionKind int

const (
	KindDebug SectionKind = iota
	KindReadOnlyData
)

// RelocationKind is the semantic flavor of a relocation: PC-relative or
// absolute, or (for debug sections) one of the section-scoped flavors.
type RelocationKind int

const (
	RelRelative RelocationKind = iota
	RelAbsolute
	RelSectionOffset
	RelSectionIndex
	RelImageOffset
)

// RelocationEncoding further refines how the linker should interpret a
// relative relocation.
type RelocationEncoding int

const (
	EncGeneric RelocationEncoding = iota
	EncX86RipRelative
)

// Relocation is one fixup site: the byte offset within its section, the
// bit width to patch, its kind/encoding, the symbol it resolves against,
// and a constant addend.
type Relocation struct {
	Offset   uint64
	Size     uint8 // bit width: 32 or 64 for code relocations, scaled from bytes for debug ones
	Kind     RelocationKind
	Encoding RelocationEncoding
	Symbol   SymbolID
	Addend   int64
}

// ObjectContainer accumulates sections, symbols and relocations for one
// platform's relocatable object format and serializes them on Write.
type ObjectContainer interface {
	// SectionID returns the id of one of the five standard sections,
	// creating it on first use.
	SectionID(std StandardSection) SectionID

	// AddSection creates a fresh, non-standard section (used for debug
	// info) under the given segment name, and returns its id.
	AddSection(segment, name string, kind SectionKind) SectionID

	// AppendSectionData appends data to a section, aligned to align
	// bytes, and returns the offset the data was written at.
	AppendSectionData(id SectionID, data []byte, align uint64) uint64

	// AddSymbol declares a new symbol and returns its id.
	AddSymbol(sym Symbol) SymbolID

	// AddSymbolBSS declares size bytes of zero-initialized storage for an
	// already-added symbol inside a (necessarily uninitialized-data)
	// section, aligned to align bytes.
	AddSymbolBSS(id SymbolID, in SectionID, size uint64, align uint64) error

	// SymbolID looks up a previously added symbol by name.
	SymbolID(name string) (SymbolID, bool)

	// SectionSymbol returns the implicit symbol naming a section itself,
	// used when a debug relocation's target names a section rather than a
	// real symbol.
	SectionSymbol(id SectionID) SymbolID

	// SectionByName looks up a previously added section (standard or
	// AddSection-created) by its name, for debug relocations whose target
	// names a section rather than a symbol.
	SectionByName(name string) (SectionID, bool)

	// AddRelocation attaches a relocation to a section's data.
	AddRelocation(id SectionID, reloc Relocation) error

	// Write serializes the accumulated object to bytes.
	Write() ([]byte, error)
}
