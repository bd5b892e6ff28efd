package chocogen

import (
	"bytes"
	"debug/elf"
	"debug/macho"
	"debug/pe"
	"testing"
)

// singleProcCodeSet builds spec §8 scenario 1: one top-level function
// returning int, no globals, no user classes, named $chocopy_main.
func singleProcCodeSet() *CodeSet {
	code := []byte{0xB8, 0x00, 0x00, 0x00, 0x00, 0xC3} // mov eax, 0; ret
	return &CodeSet{
		Chunks: []Chunk{
			{
				Name: SymMain,
				Code: code,
				Extra: ProcedureExtra(ProcedureDebug{
					DeclLine:   1,
					Lines:      []LineEntry{{CodePos: 0, LineNumber: 1}},
					ReturnType: NewClassType("int"),
				}),
			},
		},
		ClassesDebug: map[string]ClassDebug{},
	}
}

func assembleCodeSet(t *testing.T, platform Platform, cs *CodeSet) []byte {
	t.Helper()
	asm := NewAssembler(platform, cs.GlobalSize)
	asm.DefineChunks(cs.Chunks)
	if err := asm.EmitRelocations(cs.Chunks); err != nil {
		t.Fatalf("EmitRelocations: %v", err)
	}
	out, err := asm.Write()
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	return out
}

func TestAssemblerELFRoundTrip(t *testing.T) {
	out := assembleCodeSet(t, Linux, singleProcCodeSet())

	f, err := elf.NewFile(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("elf.NewFile: %v", err)
	}
	defer f.Close()

	if f.Type != elf.ET_REL {
		t.Errorf("file type = %v, want ET_REL", f.Type)
	}
	if f.Machine != elf.EM_X86_64 {
		t.Errorf("machine = %v, want EM_X86_64", f.Machine)
	}

	syms, err := f.Symbols()
	if err != nil {
		t.Fatalf("Symbols: %v", err)
	}
	names := map[string]elf.Symbol{}
	for _, s := range syms {
		names[s.Name] = s
	}
	if _, ok := names[SymMain]; !ok {
		t.Errorf("symbol table missing %s", SymMain)
	}
	if _, ok := names[SymGlobal]; !ok {
		t.Errorf("symbol table missing %s", SymGlobal)
	}
	for _, ext := range externalRuntimeSymbols {
		if _, ok := names[ext]; !ok {
			t.Errorf("symbol table missing external runtime symbol %s", ext)
		}
	}

	sec := f.Section(".text")
	if sec == nil {
		t.Fatal(".text section not found")
	}
	if sec.Size != 6 {
		t.Errorf(".text size = %d, want 6", sec.Size)
	}
}

func TestAssemblerMachORoundTrip(t *testing.T) {
	out := assembleCodeSet(t, Macos, singleProcCodeSet())

	f, err := macho.NewFile(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("macho.NewFile: %v", err)
	}
	defer f.Close()

	if f.Type != macho.TypeObj {
		t.Errorf("file type = %v, want TypeObj", f.Type)
	}
	if f.Cpu != macho.CpuAmd64 {
		t.Errorf("cpu = %v, want CpuAmd64", f.Cpu)
	}

	found := false
	for _, s := range f.Symtab.Syms {
		if s.Name == SymMain {
			found = true
		}
	}
	if !found {
		t.Errorf("symbol table missing %s", SymMain)
	}
}

func TestAssemblerCOFFRoundTrip(t *testing.T) {
	out := assembleCodeSet(t, Windows, singleProcCodeSet())

	f, err := pe.NewFile(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("pe.NewFile: %v", err)
	}
	defer f.Close()

	if f.Machine != pe.IMAGE_FILE_MACHINE_AMD64 {
		t.Errorf("machine = %v, want IMAGE_FILE_MACHINE_AMD64", f.Machine)
	}

	found := false
	for _, s := range f.Symbols {
		if s.Name == SymMain {
			found = true
		}
	}
	if !found {
		t.Errorf("symbol table missing %s", SymMain)
	}
}

func TestAssemblerGlobalBSSSize(t *testing.T) {
	cs := singleProcCodeSet()
	cs.GlobalSize = 8
	out := assembleCodeSet(t, Linux, cs)

	f, err := elf.NewFile(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("elf.NewFile: %v", err)
	}
	defer f.Close()

	syms, err := f.Symbols()
	if err != nil {
		t.Fatalf("Symbols: %v", err)
	}
	for _, s := range syms {
		if s.Name == SymGlobal {
			if s.Size != 8 {
				t.Errorf("%s size = %d, want 8", SymGlobal, s.Size)
			}
			return
		}
	}
	t.Fatalf("symbol %s not found", SymGlobal)
}

func TestAssemblerAnonymousDataSynthesizesStrSymbol(t *testing.T) {
	// spec §8 scenario 3: a link targeting inline Data synthesizes $str0.
	cs := &CodeSet{
		Chunks: []Chunk{
			{
				Name: "f",
				Code: []byte{0x48, 0x8d, 0x05, 0, 0, 0, 0, 0xc3},
				Links: []ChunkLink{
					{Pos: 3, To: DataTarget([]byte{0x41, 0x42, 0x00})},
				},
				Extra: ProcedureExtra(ProcedureDebug{ReturnType: NewClassType("<None>")}),
			},
		},
		ClassesDebug: map[string]ClassDebug{},
	}

	asm := NewAssembler(Linux, 0)
	asm.DefineChunks(cs.Chunks)
	if err := asm.EmitRelocations(cs.Chunks); err != nil {
		t.Fatalf("EmitRelocations: %v", err)
	}
	out, err := asm.Write()
	if err != nil {
		t.Fatalf("Write: %v", err)
	}

	f, err := elf.NewFile(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("elf.NewFile: %v", err)
	}
	defer f.Close()

	syms, err := f.Symbols()
	if err != nil {
		t.Fatalf("Symbols: %v", err)
	}
	for _, s := range syms {
		if s.Name == "$str0" {
			return
		}
	}
	t.Fatalf("expected synthesized symbol $str0, got none")
}

func TestAssemblerRejectsUnknownRelocationTarget(t *testing.T) {
	cs := &CodeSet{
		Chunks: []Chunk{
			{
				Name:  "f",
				Code:  []byte{0, 0, 0, 0},
				Links: []ChunkLink{{Pos: 0, To: SymbolTarget("$does_not_exist", 0)}},
				Extra: ProcedureExtra(ProcedureDebug{ReturnType: NewClassType("<None>")}),
			},
		},
		ClassesDebug: map[string]ClassDebug{},
	}
	asm := NewAssembler(Linux, 0)
	asm.DefineChunks(cs.Chunks)
	if err := asm.EmitRelocations(cs.Chunks); err == nil {
		t.Fatal("expected an error for an unresolvable relocation target")
	}
}

func TestChunkSectionPlacement(t *testing.T) {
	tests := []struct {
		name string
		c    Chunk
		want StandardSection
	}{
		{"procedure", Chunk{Extra: ProcedureExtra(ProcedureDebug{})}, SecText},
		{"writable data", Chunk{Extra: DataExtra(true)}, SecData},
		{"readonly no links", Chunk{Extra: DataExtra(false)}, SecReadOnlyData},
		{"readonly with link", Chunk{Extra: DataExtra(false), Links: []ChunkLink{{Pos: 0, To: SymbolTarget("x", 0)}}}, SecReadOnlyDataWithReloc},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _, _ := chunkSectionAndSymbol(&tt.c)
			if got != tt.want {
				t.Errorf("chunkSectionAndSymbol() section = %v, want %v", got, tt.want)
			}
		})
	}
}
