package policy

import "path"

// globMatch reports whether name matches the shell-style glob pattern,
// using the standard library's path.Match semantics ("*" matches any
// sequence of non-separator runes; tool and server IDs never contain "/").
// No example repo in the retrieval pack vendors a dedicated glob library,
// so this stays on path.Match rather than inventing a hand-rolled matcher.
func globMatch(pattern, name string) bool {
	if pattern == "" || pattern == "*" {
		return true
	}
	ok, err := path.Match(pattern, name)
	return err == nil && ok
}

// specificity scores one glob, per spec §4.2 step 3: 1 if the glob is set
// and not the bare wildcard, 0 otherwise (an absent glob counts as "*",
// here and in globMatch). Rules are evaluated most-specific-first;
// ties fall through to stable sort order, preserving policy-then-rule
// ordering as the §4.2 tie-break.
func specificity(pattern string) int {
	if pattern == "" || pattern == "*" {
		return 0
	}
	return 1
}
