package wiki

import (
	"strings"
	"unicode/utf8"
)

// ValidName reports whether name may be used as a page or file name.
// Names are the percent-decoded UTF-8 identifiers taken from URLs and
// are used directly as file names, so a forward slash, a NUL, or a
// leading dot would escape the store layout and is rejected.
func ValidName(name string) bool {
	if name == "" {
		return false
	}
	if !utf8.ValidString(name) {
		return false
	}
	if strings.ContainsAny(name, "/\x00") {
		return false
	}
	if name[0] == '.' {
		return false
	}
	return true
}
