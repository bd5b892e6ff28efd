//go:build windows

package chocogen

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/edsrzf/mmap-go"
	"github.com/google/uuid"
	"golang.org/x/mod/semver"
	"golang.org/x/sys/windows/registry"
)

// linkdriver_windows.go implements spec §4.5's Windows half: locate the
// MSVC toolchain, compose a batch file that initializes the x64
// environment and then calls `link`, execute it, and clean up.

const vcvarsWalkUp = 7

// windowsSystemLibs is the fixed set of system import libraries spec §4.5
// names for every Windows link, matching the runtime's actual needs
// (WinSock, user-profile paths, and crypto/NT entry points) per
// original_source/chocopy/src/core/codegen/mod.rs.
var windowsSystemLibs = []string{"kernel32.lib", "advapi32.lib", "ws2_32.lib", "userenv.lib", "Bcrypt.lib", "ntdll.lib"}

var (
	staticCRTLibs  = []string{"libvcruntime.lib", "libucrt.lib", "libcmt.lib"}
	dynamicCRTLibs = []string{"vcruntime.lib", "ucrt.lib", "msvcrt.lib"}
)

// locateLinkExe finds link.exe on PATH.
func locateLinkExe() (string, error) {
	path, err := exec.LookPath("link.exe")
	if err != nil {
		return "", newToolChainError(fmt.Errorf("link.exe not found on PATH: %w", err))
	}
	return path, nil
}

// locateVCVars walks up vcvarsWalkUp ancestor directories from link.exe's
// directory looking for the MSVC environment initializer batch file
// (vcvarsall.bat), per spec §4.5. If the walk fails, it falls back to the
// Windows registry's Visual Studio instance list and, when more than one
// instance is installed side by side, picks the highest-versioned one with
// golang.org/x/mod/semver (saferwall-pe's declared golang.org/x/mod
// dependency), the way a real build script chooses among VS2019/VS2022
// installs rather than walking the filesystem blind.
func locateVCVars(linkExePath string) (string, error) {
	dir := filepath.Dir(linkExePath)
	for i := 0; i < vcvarsWalkUp; i++ {
		dir = filepath.Dir(dir)
		candidate := filepath.Join(dir, "Auxiliary", "Build", "vcvarsall.bat")
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}

	path, err := locateVCVarsFromRegistry()
	if err != nil {
		return "", newToolChainError(fmt.Errorf("no vcvarsall.bat found walking %d ancestors of %s, and registry fallback failed: %w", vcvarsWalkUp, linkExePath, err))
	}
	return path, nil
}

// locateVCVarsFromRegistry reads installed Visual Studio instances from
// the registry (HKLM\SOFTWARE\Microsoft\VisualStudio\SxS\VS7, one value
// per installed version keyed by version string) and, when more than one
// is present, picks the highest version with semver comparison.
func locateVCVarsFromRegistry() (string, error) {
	k, err := registry.OpenKey(registry.LOCAL_MACHINE, `SOFTWARE\Microsoft\VisualStudio\SxS\VS7`, registry.QUERY_VALUE)
	if err != nil {
		return "", fmt.Errorf("opening VS7 registry key: %w", err)
	}
	defer k.Close()

	names, err := k.ReadValueNames(0)
	if err != nil {
		return "", fmt.Errorf("reading VS7 registry values: %w", err)
	}
	if len(names) == 0 {
		return "", fmt.Errorf("no Visual Studio instances registered under VS7")
	}

	sort.Slice(names, func(i, j int) bool {
		return semver.Compare("v"+names[i], "v"+names[j]) > 0
	})

	for _, version := range names {
		installDir, _, err := k.GetStringValue(version)
		if err != nil {
			continue
		}
		candidate := filepath.Join(installDir, "VC", "Auxiliary", "Build", "vcvarsall.bat")
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("no vcvarsall.bat under any registered Visual Studio install")
}

// crtLibs picks the static or dynamic CRT library triple.
func crtLibs(static bool) []string {
	if static {
		return staticCRTLibs
	}
	return dynamicCRTLibs
}

// composeLinkBatch builds the batch file content spec §4.5 describes: the
// environment initializer for x64, then a `link` invocation.
func composeLinkBatch(vcvars, objPath, runtimeLib, outPath string, static bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "@echo off\r\n")
	fmt.Fprintf(&b, "call \"%s\" x64\r\n", vcvars)
	fmt.Fprintf(&b, "link /DEBUG /SUBSYSTEM:CONSOLE /OPT:REF,NOICF /OUT:\"%s\" \"%s\" \"%s\"", outPath, objPath, runtimeLib)
	for _, lib := range windowsSystemLibs {
		fmt.Fprintf(&b, " %s", lib)
	}
	for _, lib := range crtLibs(static) {
		fmt.Fprintf(&b, " %s", lib)
	}
	fmt.Fprintf(&b, "\r\n")
	return b.String()
}

// validateRuntimeArchive confirms the bundled static runtime archive
// exists and is non-empty by mmap'ing it read-only (saferwall-pe's
// edsrzf/mmap-go dependency, used there to inspect binaries without a
// full read; here to validate and size-check the archive the same way
// before ever invoking the linker against it).
func validateRuntimeArchive(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, newIOError(path, err)
	}
	defer f.Close()

	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		return 0, newIOError(path, err)
	}
	defer m.Unmap()
	return len(m), nil
}

// linkWindows implements the Windows half of spec §4.5: locate the
// toolchain, compose and run the batch file, clean it up on success.
func linkWindows(d *Driver, objPath, outPath string, static bool) error {
	for _, p := range []string{objPath, outPath} {
		if err := validatePath(p); err != nil {
			return err
		}
	}

	linkExe, err := locateLinkExe()
	if err != nil {
		return err
	}
	vcvars, err := locateVCVars(linkExe)
	if err != nil {
		return err
	}
	if err := validatePath(vcvars); err != nil {
		return err
	}

	runtimeLib, err := locateRuntimeLib(Windows)
	if err != nil {
		return err
	}
	size, err := validateRuntimeArchive(runtimeLib)
	if err != nil {
		return err
	}
	if d != nil {
		d.logf("runtime archive %s (%d bytes)", runtimeLib, size)
	}

	batchPath := filepath.Join(tempDir(), fmt.Sprintf("chocogen-link-%s.bat", uuid.NewString()))
	content := composeLinkBatch(vcvars, objPath, runtimeLib, outPath, static)
	if err := os.WriteFile(batchPath, []byte(content), 0o644); err != nil {
		return newIOError(batchPath, err)
	}

	cmd := exec.Command("cmd", "/c", batchPath)
	out, runErr := cmd.CombinedOutput()
	if runErr != nil {
		fmt.Fprint(os.Stderr, string(out))
		// The batch file stays on disk alongside the temporary object as
		// a diagnostic aid (spec §7); only success cleans it up.
		return newLinkError(runErr)
	}

	os.Remove(batchPath)
	return nil
}
