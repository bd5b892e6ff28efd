package chocogen

import (
	"fmt"
	"io"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
)

// driver.go implements the Driver (spec §4.4): it glues the Type Usage
// Analyzer, Debug Writer, and Object Assembler together, invokes the
// external Chunk Producer, and serializes the result to disk. Ordering:
// create the Debug Writer, invoke the Chunk Producer, then declare
// externals and the global section (its size comes from the CodeSet, so
// this happens after the producer runs), register types/classes/globals/
// chunks with the Debug Writer in that order, assemble chunks in two
// passes, finalize and install debug sections, then write the object
// file. Verbose stage
// logging to stderr follows the teacher's own driving loop
// (codegen_elf_writer.go / default.go fmt.Fprintf(os.Stderr, "-> ...")
// idiom), gated the same way the teacher gates colorized/verbose output:
// checking isatty on the output stream before deciding to format anything
// beyond plain text, and reporting the global arena and object file sizes
// with go-humanize the way
// estevaofon-noxy's toolchain reports build artifact sizes.

// ChunkProducer is the external collaborator (spec §2 stage 1) that walks
// a type-checked program tree and emits a CodeSet for one platform. This
// module depends on nothing about the program tree's shape beyond what
// TypeAnnotation (annotation.go) already captures; everything else about
// how a ChunkProducer turns a program into chunks is out of scope here.
type ChunkProducer interface {
	Produce(platform Platform) (*CodeSet, error)
}

// Driver reports its progress on Log, one line per stage, matching the
// teacher's -> prefixed stderr narration. Log defaults to os.Stderr; set
// it to io.Discard to silence it entirely, independent of Verbose.
type Driver struct {
	Verbose bool
	Log     io.Writer
}

// NewDriver builds a Driver with CHOCOGEN_VERBOSE's value as the default
// for Verbose and os.Stderr as the default log sink.
func NewDriver() *Driver {
	return &Driver{Verbose: verboseFromEnv(), Log: os.Stderr}
}

func (d *Driver) logf(format string, args ...any) {
	if !d.Verbose || d.Log == nil {
		return
	}
	prefix := "->"
	if f, ok := d.Log.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
		prefix = "→" // teacher's default.go uses the same arrow on a tty
	}
	fmt.Fprintf(d.Log, "%s %s\n", prefix, fmt.Sprintf(format, args...))
}

// GenObject is the first of the two CLI-surface entry points (spec §6):
// generate a relocatable object file at objPath for platform, given a
// program (via producer) rooted at sourcePath.
func (d *Driver) GenObject(sourcePath string, producer ChunkProducer, objPath string, platform Platform) error {
	if err := validatePath(objPath); err != nil {
		return err
	}

	workDir, err := os.Getwd()
	if err != nil {
		return newIOError("", err)
	}

	d.logf("debug writer (%s)", platform)
	dw := NewDebugWriter(platform, sourcePath, workDir, objPath)

	d.logf("chunk producer")
	cs, err := producer.Produce(platform)
	if err != nil {
		return err
	}
	d.logf("code set: %d chunk(s), %s globals", len(cs.Chunks), humanize.Bytes(cs.GlobalSize))

	d.logf("object container")
	asm := NewAssembler(platform, cs.GlobalSize)

	d.logf("type usage analysis")
	for _, rep := range AnalyzeTypeUsage(cs) {
		dw.AddType(rep)
	}
	for name, class := range cs.ClassesDebug {
		dw.AddClass(name, class)
	}
	for _, g := range cs.GlobalsDebug {
		dw.AddGlobal(g)
	}
	for i := range cs.Chunks {
		dw.AddChunk(&cs.Chunks[i])
	}

	d.logf("chunk placement (%d chunk(s))", len(cs.Chunks))
	asm.DefineChunks(cs.Chunks)
	if err := asm.EmitRelocations(cs.Chunks); err != nil {
		return err
	}

	d.logf("debug info finalize")
	debugChunks := dw.Finalize()
	if err := asm.InstallDebugSections(debugChunks); err != nil {
		return err
	}

	out, err := asm.Write()
	if err != nil {
		return err
	}

	d.logf("write %s (%s)", objPath, humanize.Bytes(uint64(len(out))))
	if err := os.WriteFile(objPath, out, 0o644); err != nil {
		return newIOError(objPath, err)
	}
	return nil
}

// GenObjectOrExecutable is the second CLI-surface entry point (spec §6):
// like GenObject, but when noLink is false the object is written to a
// temporary path and a system linker is invoked to produce an executable
// at outPath (spec §4.5); staticLib selects the static vs dynamic CRT on
// Windows and appends -static on Unix.
func (d *Driver) GenObjectOrExecutable(sourcePath string, producer ChunkProducer, outPath string, noLink bool, staticLib bool, platform Platform) error {
	if noLink {
		return d.GenObject(sourcePath, producer, outPath, platform)
	}
	if err := validatePath(outPath); err != nil {
		return err
	}

	objPath, cleanup, err := tempObjectPath(platform)
	if err != nil {
		return err
	}

	if err := d.GenObject(sourcePath, producer, objPath, platform); err != nil {
		cleanup()
		return err
	}

	d.logf("link -> %s", outPath)
	if err := link(d, objPath, outPath, staticLib, platform); err != nil {
		// spec §7: a failed link leaves the temporary object on disk as a
		// diagnostic aid; only a successful link cleans it up.
		return err
	}
	cleanup()
	return nil
}
