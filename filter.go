// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/mpk

package mpk

import (
	"fmt"

	"github.com/woozymasta/pathrules"
)

// filterEntriesBySize keeps entries that satisfy the minimum decompressed size threshold.
func filterEntriesBySize(entries []EntryInfo, minOriginalSize uint64) []EntryInfo {
	if minOriginalSize == 0 {
		return entries
	}

	out := make([]EntryInfo, 0, len(entries))
	for _, entry := range entries {
		if entry.OriginalSize < minOriginalSize {
			continue
		}

		out = append(out, entry)
	}

	return out
}

// filterEntriesByRules keeps entries whose names are included by selection rules.
// Empty rule set keeps everything.
func filterEntriesByRules(entries []EntryInfo, rules []pathrules.Rule, opts pathrules.MatcherOptions) ([]EntryInfo, error) {
	rules = normalizeNameRules(rules)
	if len(rules) == 0 {
		return entries, nil
	}

	if opts == (pathrules.MatcherOptions{}) {
		opts = pathrules.MatcherOptions{
			CaseInsensitive: true,
			DefaultAction:   pathrules.ActionExclude,
		}
	}

	matcher, err := pathrules.NewMatcher(rules, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: compile rules: %w", ErrInvalidSelectPattern, err)
	}

	out := make([]EntryInfo, 0, len(entries))
	for _, entry := range entries {
		candidate := normalizeNameForMatching(entry.Name)
		if candidate == "" {
			continue
		}

		if matcher.Included(candidate, false) {
			out = append(out, entry)
		}
	}

	return out, nil
}
