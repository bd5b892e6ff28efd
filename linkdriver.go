package chocogen

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/google/uuid"
)

// linkdriver.go implements the platform-independent half of spec §4.5: the
// temporary object path (named with a real UUID rather than hand-rolled
// randomness, following estevaofon-noxy's dependency on
// github.com/google/uuid for exactly this kind of scratch-file naming) and
// the Linux/macOS `cc` invocation. The Windows half (MSVC batch-file
// composition) lives in linkdriver_windows.go, gated by a build tag since
// it drives the registry through golang.org/x/sys/windows, which only
// builds on Windows; linkdriver_other.go supplies the non-Windows stub.

// tempObjectPath picks a fresh temporary object file path for platform and
// returns a cleanup func that removes it. Spec §5: this temporary must be
// deleted on success and left in place on linker failure (the caller
// decides when to call cleanup).
func tempObjectPath(platform Platform) (string, func(), error) {
	ext := ".o"
	if platform.IsCOFF() {
		ext = ".obj"
	}
	path := filepath.Join(tempDir(), fmt.Sprintf("chocogen-%s%s", uuid.NewString(), ext))
	cleanup := func() { os.Remove(path) }
	return path, cleanup, nil
}

// link dispatches to the platform-appropriate system linker invocation.
func link(d *Driver, objPath, outPath string, static bool, platform Platform) error {
	if platform.IsCOFF() {
		return linkWindows(d, objPath, outPath, static)
	}
	return linkUnix(d, objPath, outPath, static)
}

// linkUnix invokes `cc` per spec §4.5: -arch x86_64 -o <out> <obj>
// <libstdlib> -pthread -ldl, with -static appended when requested.
func linkUnix(d *Driver, objPath, outPath string, static bool) error {
	if err := validatePath(objPath); err != nil {
		return err
	}

	// Linux and Macos share the same bundled archive name (config.go); any
	// non-Windows Platform value resolves identically here.
	libPath, err := locateRuntimeLib(Linux)
	if err != nil {
		return err
	}

	args := []string{"-arch", "x86_64", "-o", outPath, objPath, libPath, "-pthread", "-ldl"}
	if static {
		args = append(args, "-static")
	}

	cmd := exec.Command("cc", args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		fmt.Fprint(os.Stderr, stdout.String())
		fmt.Fprint(os.Stderr, stderr.String())
		return newLinkError(err)
	}
	return nil
}
