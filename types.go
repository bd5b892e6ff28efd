package chocogen

import "fmt"

// Platform is a code generation target. Architecture is always x86-64;
// Platform only selects the host binary format and debug info flavor.
type Platform int

const (
	Windows Platform = iota
	Linux
	Macos
)

func (p Platform) String() string {
	switch p {
	case Windows:
		return "windows"
	case Linux:
		return "linux"
	case Macos:
		return "macos"
	default:
		return "unknown"
	}
}

// ParsePlatform parses a platform string, accepting the same spellings a
// user would type on a command line.
func ParsePlatform(s string) (Platform, error) {
	switch s {
	case "windows", "win":
		return Windows, nil
	case "linux":
		return Linux, nil
	case "macos", "darwin", "mac":
		return Macos, nil
	default:
		return 0, fmt.Errorf("unsupported platform: %s (supported: windows, linux, macos)", s)
	}
}

// IsELF reports whether this platform's object files use the ELF container.
func (p Platform) IsELF() bool { return p == Linux }

// IsMachO reports whether this platform's object files use the Mach-O container.
func (p Platform) IsMachO() bool { return p == Macos }

// IsCOFF reports whether this platform's object files use the COFF container.
func (p Platform) IsCOFF() bool { return p == Windows }

// Special symbol names, fixed by the ABI this module shares with the
// upstream Chunk Producer and the runtime support library (spec §6).
const (
	SymAllocObj    = "$alloc_obj"
	SymDivZero     = "$div_zero"
	SymOutOfBound  = "$out_of_bound"
	SymNoneOp      = "$none_op"
	SymLen         = "$len"
	SymInput       = "$input"
	SymPrint       = "$print"
	SymInit        = "$init"
	SymMain        = "$chocopy_main"
	SymGlobal      = "$global"
	SymInitParam   = "$init_param"
	anonDataPrefix = "$str"
)

// externalRuntimeSymbols lists every symbol the Assembler declares as an
// undefined, text-kind, linkage-scope import before it sees a single chunk.
var externalRuntimeSymbols = []string{
	SymAllocObj,
	SymDivZero,
	SymOutOfBound,
	SymNoneOp,
	SymLen,
	SymInput,
	SymPrint,
	SymInit,
}

// TypeDebug identifies a (possibly list-nested) type for debug info.
// array_level = k means k levels of list nesting; k == 0 is the base type.
type TypeDebug struct {
	CoreName   string
	ArrayLevel uint32
}

// NewClassType builds a non-list TypeDebug for a class or base type name.
func NewClassType(name string) TypeDebug {
	return TypeDebug{CoreName: name, ArrayLevel: 0}
}

// String renders the display form: array_level opening brackets, the core
// name, array_level closing brackets. E.g. {"str", 3} -> "[[[str]]]".
func (t TypeDebug) String() string {
	s := ""
	for i := uint32(0); i < t.ArrayLevel; i++ {
		s += "["
	}
	s += t.CoreName
	for i := uint32(0); i < t.ArrayLevel; i++ {
		s += "]"
	}
	return s
}

// TypeDebugRepresentative summarizes every use of a core type name with the
// deepest array nesting observed for it anywhere in a CodeSet.
type TypeDebugRepresentative struct {
	CoreName       string
	MaxArrayLevel  uint32
}

// VarDebug describes one variable (global, local, parameter, or class
// attribute) for debug info. Offset is interpreted relative to a base that
// depends on scope: global section start, frame base pointer, or object
// payload start.
type VarDebug struct {
	Offset  int32
	Line    uint32
	Name    string
	VarType TypeDebug
}

// LineEntry maps one machine-code position to a source line. Lines within a
// ProcedureDebug are monotonically non-decreasing in CodePos.
type LineEntry struct {
	CodePos    uint64
	LineNumber uint32
}

// ProcedureDebug describes one procedure for debug info.
type ProcedureDebug struct {
	DeclLine   uint32
	Artificial bool
	Parent     string // empty means top-level (no lexically enclosing procedure)
	Lines      []LineEntry
	ReturnType TypeDebug
	Params     []VarDebug
	Locals     []VarDebug
	FrameSize  uint32
}

// HasParent reports whether this procedure is lexically nested.
func (p *ProcedureDebug) HasParent() bool { return p.Parent != "" }

// UsedTypes yields every TypeDebug appearing in this procedure's signature
// and body: its return type, each parameter's type, then each local's type.
func (p *ProcedureDebug) UsedTypes() []TypeDebug {
	types := make([]TypeDebug, 0, 1+len(p.Params)+len(p.Locals))
	types = append(types, p.ReturnType)
	for _, param := range p.Params {
		types = append(types, param.VarType)
	}
	for _, local := range p.Locals {
		types = append(types, local.VarType)
	}
	return types
}

// MethodDebug describes one class method's signature for debug info.
type MethodDebug struct {
	Params     []TypeDebug
	ReturnType TypeDebug
}

// ClassMethod pairs a vtable slot offset with the method defined there.
type ClassMethod struct {
	Offset uint32
	Name   string
	Method MethodDebug
}

// ClassDebug describes one user-defined class's layout for debug info.
type ClassDebug struct {
	Size       uint32
	Attributes []VarDebug
	// Methods is keyed by slot offset in the class prototype/vtable.
	Methods map[uint32]ClassMethod
}

// SortedMethods returns the class's methods in ascending slot-offset order,
// the iteration order required by spec §3.
func (c *ClassDebug) SortedMethods() []ClassMethod {
	out := make([]ClassMethod, 0, len(c.Methods))
	for _, m := range c.Methods {
		out = append(out, m)
	}
	sortClassMethods(out)
	return out
}

// UsedTypes yields every TypeDebug appearing in this class's attributes.
func (c *ClassDebug) UsedTypes() []TypeDebug {
	types := make([]TypeDebug, 0, len(c.Attributes))
	for _, attr := range c.Attributes {
		types = append(types, attr.VarType)
	}
	return types
}

// ChunkExtra is the tagged variant distinguishing procedure chunks (which
// carry debug info) from data chunks (which carry only a writability flag).
type ChunkExtra struct {
	IsProcedure bool
	Procedure   ProcedureDebug // valid when IsProcedure
	Writable    bool           // valid when !IsProcedure
}

// ProcedureExtra builds a ChunkExtra for a procedure chunk.
func ProcedureExtra(p ProcedureDebug) ChunkExtra {
	return ChunkExtra{IsProcedure: true, Procedure: p}
}

// DataExtra builds a ChunkExtra for a data chunk.
func DataExtra(writable bool) ChunkExtra {
	return ChunkExtra{IsProcedure: false, Writable: writable}
}

// ChunkLinkTarget is either a named symbol (with an addend) or inline bytes
// to be synthesized as a fresh anonymous read-only datum.
type ChunkLinkTarget struct {
	IsData bool
	Symbol string // valid when !IsData
	Addend int32  // valid when !IsData
	Data   []byte // valid when IsData
}

// SymbolTarget builds a ChunkLinkTarget referring to a named symbol.
func SymbolTarget(name string, addend int32) ChunkLinkTarget {
	return ChunkLinkTarget{IsData: false, Symbol: name, Addend: addend}
}

// DataTarget builds a ChunkLinkTarget carrying inline anonymous data.
func DataTarget(data []byte) ChunkLinkTarget {
	return ChunkLinkTarget{IsData: true, Data: data}
}

// ChunkLink is one outgoing relocation from a chunk: the byte position
// inside the chunk's code where the fixup applies, and its target.
type ChunkLink struct {
	Pos int
	To  ChunkLinkTarget
}

// Chunk is a named blob of code or data plus its outgoing relocations: the
// unit of placement in the object file.
type Chunk struct {
	Name  string
	Code  []byte
	Links []ChunkLink
	Extra ChunkExtra
}

// CodeSet is everything the Chunk Producer hands to the rest of the
// pipeline: a flat chunk list, the global arena size, and per-global and
// per-class debug descriptors.
type CodeSet struct {
	Chunks        []Chunk
	GlobalSize    uint64
	GlobalsDebug  []VarDebug
	ClassesDebug  map[string]ClassDebug
}

// DebugChunkLinkType selects the relocation flavor for a debug section
// fixup. SectionRelative, SectionId and ImageRelative are Windows/COFF
// flavors; Absolute is universal.
type DebugChunkLinkType int

const (
	Absolute DebugChunkLinkType = iota
	SectionRelative
	SectionIDLink
	ImageRelative
)

// DebugChunkLink is one outgoing relocation from a debug section. Size is in
// bytes (the Object Assembler multiplies it by 8 for the bit width).
type DebugChunkLink struct {
	LinkType DebugChunkLinkType
	Pos      uint64
	To       string // symbol name, or (if no such symbol exists) a section name
	Size     uint8
}

// DebugChunk is one debug-info section produced by a DebugWriter: a name,
// its bytes, its outgoing relocations, and whether it may be stripped.
type DebugChunk struct {
	Name        string
	Code        []byte
	Links       []DebugChunkLink
	Discardable bool
}
