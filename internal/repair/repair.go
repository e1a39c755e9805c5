// Package repair heuristically fixes malformed search patterns before they
// are used as literal or regex patterns. LLM-generated patterns are often
// truncated or carry stray interpolation syntax; every fix here is
// best-effort and purely textual.
package repair

import (
	"fmt"
	"strings"
)

const regexMetaChars = `\.+*?()|[]{}^$`

// codeMarkers are tokens that mark a pattern as a literal code snippet
// rather than an intentional regex.
var codeMarkers = []string{"async (", "Promise<", "=>", "function"}

// Repairer applies the fix pipeline. MaxPatternChars bounds the pattern
// length after repair.
type Repairer struct {
	MaxPatternChars int
}

// New creates a Repairer with the given pattern length cap.
func New(maxPatternChars int) *Repairer {
	return &Repairer{MaxPatternChars: maxPatternChars}
}

// Repair runs all fixes in order and returns the fixed pattern along with a
// human-readable note per fix that triggered. It never fails: a pattern it
// cannot improve comes back unchanged.
func (r *Repairer) Repair(pattern string) (string, []string) {
	var notes []string
	fixed := pattern

	fixed, notes = r.balanceBrackets(fixed, notes)
	fixed, notes = r.closeTemplateLiterals(fixed, notes)
	fixed, notes = r.escapeCodeSnippet(fixed, notes)
	fixed, notes = r.escapeBareDollars(fixed, notes)
	fixed, notes = r.truncate(fixed, notes)

	return fixed, notes
}

// IsCodeSnippet reports whether the pattern contains code markers and should
// therefore be treated as literal text, never as a regex.
func IsCodeSnippet(pattern string) bool {
	for _, marker := range codeMarkers {
		if strings.Contains(pattern, marker) {
			return true
		}
	}
	return false
}

// balanceBrackets appends missing closers for unescaped (, { and [.
// Excess closers are left alone: under-closed patterns are a common LLM
// truncation artifact, over-closed ones are not auto-fixed.
func (r *Repairer) balanceBrackets(pattern string, notes []string) (string, []string) {
	pairs := []struct {
		open, close byte
		name        string
	}{
		{'(', ')', "parenthesis"},
		{'{', '}', "brace"},
		{'[', ']', "bracket"},
	}

	fixed := pattern
	for _, p := range pairs {
		missing := countUnescaped(pattern, p.open) - countUnescaped(pattern, p.close)
		if missing > 0 {
			fixed += strings.Repeat(string(p.close), missing)
			notes = append(notes, fmt.Sprintf("added %d missing closing %s(s)", missing, p.name))
		}
	}
	return fixed, notes
}

// closeTemplateLiterals closes a trailing unterminated ${...} sequence.
func (r *Repairer) closeTemplateLiterals(pattern string, notes []string) (string, []string) {
	idx := strings.LastIndex(pattern, "${")
	if idx == -1 {
		return pattern, notes
	}
	if strings.Contains(pattern[idx+2:], "}") {
		return pattern, notes
	}
	return pattern + "}", append(notes, "closed unterminated ${...} sequence")
}

// escapeCodeSnippet escapes all regex metacharacters when the pattern looks
// like a literal code snippet.
func (r *Repairer) escapeCodeSnippet(pattern string, notes []string) (string, []string) {
	if !IsCodeSnippet(pattern) {
		return pattern, notes
	}
	fixed := escapeMeta(pattern)
	if fixed != pattern {
		notes = append(notes, "pattern looks like a code snippet, escaped regex metacharacters")
	}
	return fixed, notes
}

// escapeBareDollars escapes $ signs that are neither part of ${ nor already
// escaped, to avoid incidental regex/interpolation ambiguity.
func (r *Repairer) escapeBareDollars(pattern string, notes []string) (string, []string) {
	var b strings.Builder
	b.Grow(len(pattern))
	changed := false

	for i := 0; i < len(pattern); i++ {
		c := pattern[i]
		if c == '\\' && i+1 < len(pattern) {
			b.WriteByte(c)
			b.WriteByte(pattern[i+1])
			i++
			continue
		}
		if c == '$' && (i+1 >= len(pattern) || pattern[i+1] != '{') {
			b.WriteString(`\$`)
			changed = true
			continue
		}
		b.WriteByte(c)
	}

	if !changed {
		return pattern, notes
	}
	return b.String(), append(notes, "escaped bare $ sign(s)")
}

// truncate caps pathological pattern lengths.
func (r *Repairer) truncate(pattern string, notes []string) (string, []string) {
	max := r.MaxPatternChars
	if max <= 0 || len(pattern) <= max {
		return pattern, notes
	}
	fixed := pattern[:max]
	// Never cut an escape pair in half.
	if strings.HasSuffix(fixed, `\`) && !strings.HasSuffix(fixed, `\\`) {
		fixed = fixed[:len(fixed)-1]
	}
	return fixed, append(notes, fmt.Sprintf("pattern truncated to %d characters", max))
}

// countUnescaped counts occurrences of ch not preceded by a backslash.
func countUnescaped(s string, ch byte) int {
	count := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' {
			i++
			continue
		}
		if s[i] == ch {
			count++
		}
	}
	return count
}

// escapeMeta escapes regex metacharacters while leaving existing escape
// pairs untouched, so running it twice is a no-op.
func escapeMeta(s string) string {
	var b strings.Builder
	b.Grow(len(s) * 2)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '\\' {
			if i+1 < len(s) {
				b.WriteByte(c)
				b.WriteByte(s[i+1])
				i++
			} else {
				b.WriteString(`\\`)
			}
			continue
		}
		if strings.IndexByte(regexMetaChars, c) >= 0 {
			b.WriteByte('\\')
		}
		b.WriteByte(c)
	}
	return b.String()
}
