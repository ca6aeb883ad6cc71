package resolver

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

const audioExt = ".mp3"

// LinkFilename turns "{artist} - {title}" into a file name: path separators
// become '_' and control characters are dropped.
func LinkFilename(full string) string {
	full = norm.NFC.String(full)
	var b strings.Builder
	for _, r := range full {
		switch {
		case r == '/' || r == '\\':
			b.WriteRune('_')
		case unicode.IsControl(r):
		default:
			b.WriteRune(r)
		}
	}
	name := strings.TrimSpace(b.String())
	if name == "" || name == "." || name == ".." {
		name = "track"
	}
	return name + audioExt
}

// FreeTextFilename keeps only the letters and digits of a search phrase. An
// empty result falls back to "track".
func FreeTextFilename(raw string) string {
	raw = norm.NFC.String(raw)
	var b strings.Builder
	for _, r := range raw {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	name := b.String()
	if name == "" {
		name = "track"
	}
	return name + audioExt
}
