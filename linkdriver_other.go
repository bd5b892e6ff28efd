//go:build !windows

package chocogen

import "fmt"

// linkdriver_other.go stands in for linkdriver_windows.go on non-Windows
// hosts. Driving MSVC's `link.exe` through a generated batch file only
// makes sense from a Windows host with the toolchain actually installed;
// requesting a Windows link from elsewhere is always a toolchain error,
// never a code path this module can emulate by cross-invoking a linker
// that isn't there.
func linkWindows(d *Driver, objPath, outPath string, static bool) error {
	return newToolChainError(fmt.Errorf("windows linking requires running on a Windows host with the MSVC toolchain and link.exe installed"))
}
