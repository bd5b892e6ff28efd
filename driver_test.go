package chocogen

import (
	"debug/elf"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
)

type fakeProducer struct {
	cs  *CodeSet
	err error
}

func (f fakeProducer) Produce(platform Platform) (*CodeSet, error) {
	return f.cs, f.err
}

func TestGenObjectWritesFile(t *testing.T) {
	dir := t.TempDir()
	objPath := filepath.Join(dir, "a.o")

	d := &Driver{Log: io.Discard}
	err := d.GenObject("a.py", fakeProducer{cs: singleProcCodeSet()}, objPath, Linux)
	if err != nil {
		t.Fatalf("GenObject: %v", err)
	}

	f, err := elf.Open(objPath)
	if err != nil {
		t.Fatalf("elf.Open: %v", err)
	}
	defer f.Close()

	if f.Type != elf.ET_REL {
		t.Errorf("type = %v, want ET_REL", f.Type)
	}
}

// TestGenObjectRejectsInvalidPath exercises spec §8 scenario 4: an obj_path
// containing a disallowed character fails before the Chunk Producer or
// Debug Writer ever runs.
func TestGenObjectRejectsInvalidPath(t *testing.T) {
	called := false
	producer := fakeProducerFunc(func(Platform) (*CodeSet, error) {
		called = true
		return singleProcCodeSet(), nil
	})

	d := &Driver{Log: io.Discard}
	err := d.GenObject(`C:\work\a.py`, producer, `C:\work\a"b.obj`, Windows)
	if err == nil {
		t.Fatal("expected a PathError")
	}
	var perr *Error
	if !errors.As(err, &perr) || perr.Kind != KindPath {
		t.Errorf("err = %v, want a KindPath *Error", err)
	}
	if called {
		t.Error("Chunk Producer was invoked despite an invalid obj_path")
	}
	if _, statErr := os.Stat(`C:\work\a"b.obj`); statErr == nil {
		t.Error("object file was written despite a PathError")
	}
}

type fakeProducerFunc func(Platform) (*CodeSet, error)

func (f fakeProducerFunc) Produce(platform Platform) (*CodeSet, error) { return f(platform) }

func TestGenObjectPropagatesProducerError(t *testing.T) {
	wantErr := errors.New("boom")
	d := &Driver{Log: io.Discard}
	err := d.GenObject("a.py", fakeProducer{err: wantErr}, filepath.Join(t.TempDir(), "a.o"), Linux)
	if !errors.Is(err, wantErr) {
		t.Errorf("err = %v, want wrapping %v", err, wantErr)
	}
}

func TestGenObjectOrExecutableNoLinkSkipsLinker(t *testing.T) {
	dir := t.TempDir()
	objPath := filepath.Join(dir, "a.o")

	d := &Driver{Log: io.Discard}
	err := d.GenObjectOrExecutable("a.py", fakeProducer{cs: singleProcCodeSet()}, objPath, true, false, Linux)
	if err != nil {
		t.Fatalf("GenObjectOrExecutable: %v", err)
	}
	if _, err := os.Stat(objPath); err != nil {
		t.Errorf("object file not written: %v", err)
	}
}
