package chocogen

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// validatePath is the coarse Windows command-line safety net from spec
// §4.6. Windows command lines for the linker are built by string
// concatenation into a batch file, so any path handed to it is vetted
// first: reject if it contains '"', '\'', '^', any control character, or
// ends in a backslash; reject if the path is not valid UTF-8. Accepted
// paths are used verbatim — this is not a full escaping implementation
// (see spec §9's open question on this).
func validatePath(path string) error {
	if !utf8.ValidString(path) {
		return newPathError(path, errInvalidUTF8)
	}
	if strings.ContainsAny(path, "\"'^") {
		return newPathError(path, errDisallowedChar)
	}
	for _, r := range path {
		if unicode.IsControl(r) {
			return newPathError(path, errDisallowedChar)
		}
	}
	if strings.HasSuffix(path, `\`) {
		return newPathError(path, errTrailingBackslash)
	}
	return nil
}

var (
	errInvalidUTF8       = pathErrString("path is not valid UTF-8")
	errDisallowedChar    = pathErrString(`path contains a disallowed character ("'^ or a control character)`)
	errTrailingBackslash = pathErrString("path ends in a backslash")
)

// pathErrString is a trivial string-backed error, avoiding a dependency on
// errors.New for three constant messages.
type pathErrString string

func (e pathErrString) Error() string { return string(e) }
