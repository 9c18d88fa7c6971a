// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import "strings"

// SplitReasoning separates accumulated message text into its answer and
// reasoning parts, the inverse of the uniform marker encoding the
// interpreter produces. Reasoning can resume after answer text, so the
// text may carry several marked segments; all of them are extracted, in
// order, joined by blank lines. open reports whether the last reasoning
// segment is still unterminated (mid-stream).
func SplitReasoning(content string) (answer, reasoning string, open bool) {
	var ans, res strings.Builder
	rest := content
	for {
		start := -1
		var pair [2]string
		for _, p := range markerPairs {
			if idx := strings.Index(rest, p[0]); idx >= 0 && (start < 0 || idx < start) {
				start = idx
				pair = p
			}
		}
		if start < 0 {
			ans.WriteString(rest)
			return ans.String(), res.String(), false
		}

		ans.WriteString(rest[:start])
		rest = rest[start+len(pair[0]):]
		if res.Len() > 0 {
			res.WriteString("\n\n")
		}

		end := strings.Index(rest, pair[1])
		if end < 0 {
			res.WriteString(rest)
			return ans.String(), res.String(), true
		}
		res.WriteString(rest[:end])
		rest = rest[end+len(pair[1]):]
	}
}
