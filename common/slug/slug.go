// Package slug derives file-system friendly names from conversation titles.
package slug

import (
	"errors"
	"regexp"
	"strings"
)

// MaxLen bounds a slug in bytes. Slugs are ASCII, so this is also runes.
const MaxLen = 48

var (
	ErrEmpty     = errors.New("slug cannot be empty")
	nonSlugChars = regexp.MustCompile(`[^a-z0-9]+`)
)

// Make lower-cases input and collapses every run of other characters into
// a single hyphen. fallback is used when input has nothing usable.
func Make(input, fallback string) (string, error) {
	s := clean(input)
	if s == "" {
		s = clean(fallback)
	}
	if s == "" {
		return "", ErrEmpty
	}
	return s, nil
}

// FileName returns "<prefix>-<slug><ext>", or "<prefix><ext>" when name has
// no usable characters.
func FileName(prefix, name, ext string) string {
	s, err := Make(name, "")
	if err != nil {
		return prefix + ext
	}
	return prefix + "-" + s + ext
}

func clean(s string) string {
	s = nonSlugChars.ReplaceAllString(strings.ToLower(strings.TrimSpace(s)), "-")
	s = strings.Trim(s, "-")
	if len(s) > MaxLen {
		s = strings.TrimRight(s[:MaxLen], "-")
	}
	return s
}
