// Package stringutil holds the string helpers shared by the task
// search paths.
package stringutil

import "strings"

// ContainsIgnoreCase reports whether substr occurs in s under simple
// Unicode case mapping. This is the match rule for the storage-scan
// search fallback; full case folding (straße == STRASSE) is not
// applied, matching the indexed analyzer's behavior.
func ContainsIgnoreCase(s, substr string) bool {
	if substr == "" {
		return true
	}
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
