package utils

import (
	"strings"
	"unicode"
)

// NormalizePlate uppercases a plate and drops whitespace and hyphens so that
// "NBC 1234", "NBC-1234" and "nbc1234" compare equal.
func NormalizePlate(plate string) string {
	var b strings.Builder
	b.Grow(len(plate))
	for _, r := range plate {
		if unicode.IsSpace(r) || r == '-' {
			continue
		}
		b.WriteRune(unicode.ToUpper(r))
	}
	return b.String()
}
