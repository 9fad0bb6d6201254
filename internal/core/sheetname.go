package core

import (
	"fmt"
	"path/filepath"
	"strings"
	"unicode"
)

// MaxSheetNameLen is the workbook limit on sheet name length, in characters.
const MaxSheetNameLen = 31

// SheetName derives a sheet name from a file name.
//
// The extension is dropped, only letters, digits, space, '_' and '-' are
// kept and the result is cut to MaxSheetNameLen characters. A name that ends
// up empty becomes Sheet_<ordinal>, ordinal being the 1-based table position.
func SheetName(fileName string, ordinal int) string {
	if name := sanitizeSheetName(fileName); name != "" {
		return name
	}
	return fmt.Sprintf("Sheet_%d", ordinal)
}

func sanitizeSheetName(fileName string) string {
	base := filepath.Base(fileName)
	base = strings.TrimSuffix(base, filepath.Ext(base))

	var b strings.Builder
	n := 0
	for _, r := range base {
		if n == MaxSheetNameLen {
			break
		}
		if !allowedSheetRune(r) {
			continue
		}
		b.WriteRune(r)
		n++
	}

	return b.String()
}

func allowedSheetRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsNumber(r) || r == ' ' || r == '_' || r == '-'
}

// UniqueSheetNames derives one name per file and resolves collisions.
//
// Names are compared case-insensitively, as the workbook format does. A
// colliding name gets "_2", "_3", ... appended; the base is shortened so the
// result still fits in MaxSheetNameLen.
func UniqueSheetNames(fileNames []string) []string {
	names := make([]string, len(fileNames))
	seen := make(map[string]bool, len(fileNames))

	for i, fn := range fileNames {
		name := SheetName(fn, i+1)
		if seen[strings.ToLower(name)] {
			for n := 2; ; n++ {
				candidate := withSuffix(name, fmt.Sprintf("_%d", n))
				if !seen[strings.ToLower(candidate)] {
					name = candidate
					break
				}
			}
		}
		seen[strings.ToLower(name)] = true
		names[i] = name
	}

	return names
}

func withSuffix(name, suffix string) string {
	runes := []rune(name)
	if keep := MaxSheetNameLen - len(suffix); len(runes) > keep {
		runes = runes[:keep]
	}
	return string(runes) + suffix
}
