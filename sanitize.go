// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/mpk

package mpk

import (
	"fmt"
	"hash/fnv"
	"path"
	"strconv"
	"strings"
	"unicode"
)

// maxSanitizedNameLen limits one entry name to common filesystem-safe length.
const maxSanitizedNameLen = 200

// reservedDOSNames contains case-insensitive reserved DOS/Windows device names.
var reservedDOSNames = map[string]struct{}{
	"aux":  {},
	"com1": {}, "com2": {}, "com3": {}, "com4": {}, "com5": {},
	"com6": {}, "com7": {}, "com8": {}, "com9": {},
	"con": {},
	"lpt1": {}, "lpt2": {}, "lpt3": {}, "lpt4": {}, "lpt5": {},
	"lpt6": {}, "lpt7": {}, "lpt8": {}, "lpt9": {},
	"nul": {},
	"prn": {},
}

// SanitizeName rewrites one entry name to deterministic filesystem-safe form.
// Entry names are untrusted bytes from the archive table; separators, control
// runes, and reserved device names are neutralized.
func SanitizeName(name string) (string, error) {
	segment := strings.TrimSpace(name)
	if segment == "" {
		return "_", nil
	}

	rawReserved := isReservedDeviceName(segment)

	var b strings.Builder
	b.Grow(len(segment))
	for _, r := range segment {
		if isUnsafeNameRune(r) || strings.ContainsRune(`<>:"/\|?*`, r) {
			b.WriteRune('_')
			continue
		}

		b.WriteRune(r)
	}

	sanitized := strings.TrimRight(b.String(), ". ")
	if sanitized == "" || sanitized == ".." {
		sanitized = "_"
	}

	base := sanitized
	if dot := strings.IndexByte(base, '.'); dot >= 0 {
		base = base[:dot]
	}
	if rawReserved || isReservedDeviceName(base) {
		sanitized = "_" + sanitized
	}

	if len(sanitized) > maxSanitizedNameLen {
		sanitized = shortenNameDeterministic(sanitized, maxSanitizedNameLen)
	}
	if sanitized == "" {
		return "", ErrInvalidExtractPath
	}

	return sanitized, nil
}

// sanitizeEntryNames rewrites entry names to deterministic filesystem-safe
// collision-free names, keeping table order.
func sanitizeEntryNames(entries []EntryInfo) ([]EntryInfo, error) {
	out := make([]EntryInfo, len(entries))
	used := make(map[string]struct{}, len(entries))
	nextSuffix := make(map[string]int, len(entries))

	for i := range entries {
		sanitized, err := SanitizeName(entries[i].Name)
		if err != nil {
			return nil, fmt.Errorf("sanitize name %s: %w", entries[i].Name, err)
		}

		sanitized, err = makeSanitizedNameUnique(sanitized, used, nextSuffix)
		if err != nil {
			return nil, fmt.Errorf("sanitize name %s: %w", entries[i].Name, err)
		}

		out[i] = entries[i]
		out[i].Name = sanitized
	}

	return out, nil
}

// isUnsafeNameRune reports whether rune is unsafe for output names and should be replaced.
func isUnsafeNameRune(r rune) bool {
	if unicode.IsControl(r) || unicode.In(r, unicode.Cf) {
		return true
	}

	// U+FFFD often appears from invalid byte sequences in mangled names.
	return r == '�'
}

// isReservedDeviceName reports whether name matches reserved DOS/Windows device identifier.
func isReservedDeviceName(name string) bool {
	candidate := strings.TrimSpace(name)
	candidate = strings.TrimRight(candidate, ". :")
	candidate = strings.ToLower(candidate)
	if dot := strings.IndexByte(candidate, '.'); dot >= 0 {
		candidate = candidate[:dot]
	}
	candidate = strings.TrimRight(candidate, ". :")
	if candidate == "" {
		return false
	}

	_, ok := reservedDOSNames[candidate]
	return ok
}

// makeSanitizedNameUnique resolves collisions by adding deterministic numeric suffix.
func makeSanitizedNameUnique(name string, used map[string]struct{}, nextSuffix map[string]int) (string, error) {
	key := strings.ToLower(name)
	if _, exists := used[key]; !exists {
		used[key] = struct{}{}
		return name, nil
	}

	startIdx := 2
	if savedIdx, exists := nextSuffix[key]; exists && savedIdx > startIdx {
		startIdx = savedIdx
	}

	for idx := startIdx; idx < 1000000; idx++ {
		candidate := withNumericSuffix(name, idx)
		candidateKey := strings.ToLower(candidate)
		if _, exists := used[candidateKey]; exists {
			continue
		}

		used[candidateKey] = struct{}{}
		nextSuffix[key] = idx + 1
		return candidate, nil
	}

	return "", ErrInvalidExtractPath
}

// withNumericSuffix appends "~N" before extension and preserves max name length.
func withNumericSuffix(name string, n int) string {
	ext := path.Ext(name)
	base := strings.TrimSuffix(name, ext)
	suffix := "~" + strconv.Itoa(n)
	allowedBaseLen := max(maxSanitizedNameLen-len(ext)-len(suffix), 1)
	if len(base) > allowedBaseLen {
		base = shortenNameDeterministic(base, allowedBaseLen)
	}

	return base + suffix + ext
}

// shortenNameDeterministic shortens long name while preserving deterministic identity suffix.
func shortenNameDeterministic(value string, maxLen int) string {
	if len(value) <= maxLen {
		return value
	}
	if maxLen <= 10 {
		return value[:maxLen]
	}

	h := fnv.New32a()
	_, _ = h.Write([]byte(value))
	hashPart := fmt.Sprintf("~%08x", h.Sum32())
	prefixLen := max(maxLen-len(hashPart), 1)

	return value[:prefixLen] + hashPart
}
