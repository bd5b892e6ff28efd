package main

import "github.com/chocopy-tools/chocogen"

// demo.go stands in for the external Chunk Producer (spec §2 stage 1, out
// of scope for this module) with the smallest program spec §8's first
// concrete scenario names: a single top-level function returning int, no
// globals, no user classes, emitted directly as $chocopy_main. The code
// bytes are a literal `mov eax, 0; ret` (B8 00 00 00 00 C3) — this backend
// never selects or emits instructions itself (spec §1), so this is just
// enough real machine code to make `obj`/`build` produce something a
// linker or debugger can actually load.
type demoProducer struct{}

func (demoProducer) Produce(platform chocogen.Platform) (*chocogen.CodeSet, error) {
	code := []byte{0xB8, 0x00, 0x00, 0x00, 0x00, 0xC3}

	proc := chocogen.ProcedureDebug{
		DeclLine:   1,
		Artificial: false,
		Lines:      []chocogen.LineEntry{{CodePos: 0, LineNumber: 1}},
		ReturnType: chocogen.NewClassType("int"),
		FrameSize:  0,
	}

	return &chocogen.CodeSet{
		Chunks: []chocogen.Chunk{
			{
				Name:  chocogen.SymMain,
				Code:  code,
				Extra: chocogen.ProcedureExtra(proc),
			},
		},
		GlobalSize:   0,
		GlobalsDebug: nil,
		ClassesDebug: map[string]chocogen.ClassDebug{},
	}, nil
}
