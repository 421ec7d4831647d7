package orchestrator

import "strings"

// dedupAppend folds fresh into existing, skipping blanks and values already
// present, preserving existing's order and appending fresh in order.
func dedupAppend(existing, fresh []string) []string {
	seen := make(map[string]bool, len(existing))
	out := append([]string(nil), existing...)
	for _, e := range existing {
		seen[e] = true
	}
	for _, f := range fresh {
		f = strings.TrimSpace(f)
		if f == "" || seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	return out
}
