package chocogen

// debugwriter.go defines the capability set shared by the three debug info
// backends (spec §4.2), mirroring the teacher's preference for small
// interfaces consumed by a single driver rather than an inheritance
// hierarchy — compare the Emitter shape in emit.go, which this package's
// Driver (driver.go) plays the same role against.

// DebugWriter accumulates type, class, global and chunk descriptors and,
// once finalized, yields the platform's native debug sections. Callers
// must register in the order types, then classes, then globals, then
// chunks — later registrations may reference names seen in earlier ones.
// A DebugWriter is single-use: after Finalize it must be discarded.
type DebugWriter interface {
	// AddType registers one core type and its deepest observed list
	// nesting.
	AddType(rep TypeDebugRepresentative)

	// AddClass registers a user-defined class's layout.
	AddClass(className string, class ClassDebug)

	// AddGlobal registers one global variable.
	AddGlobal(v VarDebug)

	// AddChunk inspects a chunk; if it is a procedure, its line map and
	// local descriptors are folded into the accumulated debug info.
	AddChunk(chunk *Chunk)

	// Finalize consumes the writer and returns the debug sections it
	// accumulated, each self-consistent with its own outgoing relocations.
	Finalize() []DebugChunk
}

// NewDebugWriter constructs the platform-appropriate DebugWriter (spec
// §4.2's "Polymorphism over Debug Writers"). The Windows/CodeView variant
// takes all three paths but emits only objPath (in its S_OBJNAME record);
// sourcePath and workDir are stored and not written. DWARF variants use
// only sourcePath.
func NewDebugWriter(p Platform, sourcePath, workDir, objPath string) DebugWriter {
	switch p {
	case Windows:
		return newCodeViewWriter(sourcePath, workDir, objPath)
	case Macos:
		return newDWARFWriter(sourcePath, dwarfMacOS)
	default:
		return newDWARFWriter(sourcePath, dwarfLinux)
	}
}
