package chocogen

import (
	"os"
	"path/filepath"

	env "github.com/xyproto/env/v2"
)

// Environment-variable names this backend consults. Each mirrors the
// pattern the teacher's dependencies.go uses for XDG_CACHE_HOME: read
// directly, with a sensible computed default when unset.
const (
	envRuntimeLibDir = "CHOCOGEN_RUNTIME_LIB_DIR"
	envTempDir       = "CHOCOGEN_TMPDIR"
	envVerbose       = "CHOCOGEN_VERBOSE"
)

// runtimeLibName returns the bundled static runtime archive's file name for
// a given platform (spec §4.5/§6).
func runtimeLibName(p Platform) string {
	if p == Windows {
		return "chocopy_stdlib.lib"
	}
	return "libchocopy_stdlib.a"
}

// locateRuntimeLib finds the bundled runtime support library archive. By
// default it looks alongside the running binary (spec §6: "consults the
// filesystem location of the running binary"); CHOCOGEN_RUNTIME_LIB_DIR
// overrides the directory to search.
func locateRuntimeLib(p Platform) (string, error) {
	name := runtimeLibName(p)
	if dir := env.Str(envRuntimeLibDir); dir != "" {
		return filepath.Join(dir, name), nil
	}
	exe, err := os.Executable()
	if err != nil {
		return "", newIOError("", err)
	}
	return filepath.Join(filepath.Dir(exe), name), nil
}

// tempDir returns the directory used for intermediate files (the object
// file and, on Windows, the batch file) when linking. CHOCOGEN_TMPDIR
// overrides the system default.
func tempDir() string {
	if dir := env.Str(envTempDir); dir != "" {
		return dir
	}
	return os.TempDir()
}

// verboseFromEnv reports whether CHOCOGEN_VERBOSE requests driver logging.
// NewDriver uses it as the default for Driver.Verbose, which is how callers
// (notably the cmd/chocogen CLI) get the env var as a default for their
// --verbose flag.
func verboseFromEnv() bool {
	return env.Bool(envVerbose)
}
