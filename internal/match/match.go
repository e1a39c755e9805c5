// Package match finds occurrences of a search pattern in file content
// using an ordered cascade of strategies. Earlier strategies are strictly
// preferred because they are least surprising; the cascade short-circuits
// at the first method that finds at least one occurrence.
package match

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/sahilm/fuzzy"
	"github.com/sirupsen/logrus"

	"chapply/internal/config"
	"chapply/internal/repair"
	"chapply/model"
)

// regexHints are tokens whose presence marks a pattern as an intentional
// regex rather than literal text.
var regexHints = []string{`\d`, `\w`, `\s`, `\b`, `(?:`, `(?!`, `(?=`, `^`, `$`}

var charClassRegex = regexp.MustCompile(`\[[^\]]+\]`)

// slashForm matches /pattern/flags wrapping.
var slashForm = regexp.MustCompile(`^/(.+)/([a-z]*)$`)

// Result describes the outcome of one match or replace attempt.
type Result struct {
	Method  model.MatchMethod
	Count   int
	Samples []string
	// Suggestion is a best-effort hint at the closest near-match when no
	// strategy found anything.
	Suggestion string
	// RegexErr records a pattern that failed to compile during the regex
	// strategy. Recorded, never fatal.
	RegexErr string
}

// Engine runs the strategy cascade. Construct it once per run; it is
// stateless between calls.
type Engine struct {
	opts     config.Options
	repairer *repair.Repairer
	log      logrus.FieldLogger
}

// New creates an Engine with the given tuning options.
func New(opts config.Options, log logrus.FieldLogger) *Engine {
	return &Engine{
		opts:     opts,
		repairer: repair.New(opts.MaxPatternChars),
		log:      log,
	}
}

// Find runs the cascade without mutating anything and reports method,
// occurrence count and context samples. Used for preview and dry-run.
func (e *Engine) Find(content, search string) Result {
	_, res := e.run(content, search, "", false)
	return res
}

// Replace runs the cascade and performs the replacement with the first
// strategy that matches. The returned content is unchanged when no strategy
// found an occurrence.
func (e *Engine) Replace(content, search, replace string) (string, Result) {
	return e.run(content, search, replace, true)
}

func (e *Engine) run(content, search, replace string, doReplace bool) (string, Result) {
	if search == "" {
		return content, Result{Method: model.MatchNone}
	}

	if out, res, ok := e.exact(content, search, replace, doReplace); ok {
		return out, res
	}
	if out, res, ok := e.lineNormalized(content, search, replace, doReplace); ok {
		return out, res
	}
	if out, res, ok := e.whitespaceNormalized(content, search, replace, doReplace); ok {
		return out, res
	}
	var regexErr string
	if out, res, ok := e.regexFallback(content, search, replace, doReplace, &regexErr); ok {
		return out, res
	}
	// Last-resort plain replace. By construction this cannot succeed when
	// the exact strategy has already failed; it is kept so the observable
	// change log stays identical across all call sites.
	if out, res, ok := e.plain(content, search, replace, doReplace); ok {
		res.RegexErr = regexErr
		return out, res
	}

	return content, Result{
		Method:     model.MatchNone,
		Suggestion: e.suggest(content, search),
		RegexErr:   regexErr,
	}
}

func (e *Engine) exact(content, search, replace string, doReplace bool) (string, Result, bool) {
	count := strings.Count(content, search)
	if count == 0 {
		return content, Result{}, false
	}
	res := Result{
		Method:  model.MatchExact,
		Count:   count,
		Samples: e.samples(content, search),
	}
	e.log.WithFields(logrus.Fields{"method": res.Method, "count": count}).Debug("pattern matched")
	if doReplace {
		content = strings.ReplaceAll(content, search, replace)
	}
	return content, res, true
}

// lineNormalized retries the exact match with CRLF rewritten to LF on both
// sides. The replacement is performed on the normalized content, so CRLF
// files lose their original line endings for the matched region. Accepted
// trade-off.
func (e *Engine) lineNormalized(content, search, replace string, doReplace bool) (string, Result, bool) {
	normContent := strings.ReplaceAll(content, "\r\n", "\n")
	normSearch := strings.ReplaceAll(search, "\r\n", "\n")
	if normContent == content && normSearch == search {
		return content, Result{}, false
	}

	count := strings.Count(normContent, normSearch)
	if count == 0 {
		return content, Result{}, false
	}
	res := Result{
		Method:  model.MatchLineNorm,
		Count:   count,
		Samples: e.samples(normContent, normSearch),
	}
	e.log.WithFields(logrus.Fields{"method": res.Method, "count": count}).Debug("pattern matched")
	if doReplace {
		return strings.ReplaceAll(normContent, normSearch, replace), res, true
	}
	return content, res, true
}

// whitespaceNormalized scans line windows of the pattern's height,
// comparing with runs of whitespace collapsed to single spaces. On match
// the whole window is replaced with the replacement's lines. Multiple
// windows are replaced bottom-to-top so earlier indices stay valid.
func (e *Engine) whitespaceNormalized(content, search, replace string, doReplace bool) (string, Result, bool) {
	trimmed := strings.TrimSpace(search)
	if len(trimmed) < e.opts.WhitespaceMinChars || len(trimmed) > e.opts.WhitespaceMaxChars {
		return content, Result{}, false
	}

	searchLines := strings.Split(strings.ReplaceAll(trimmed, "\r\n", "\n"), "\n")
	normSearch := make([]string, len(searchLines))
	for i, line := range searchLines {
		normSearch[i] = normalizeLine(line)
	}

	contentLines := strings.Split(content, "\n")
	var starts []int
	for i := 0; i+len(normSearch) <= len(contentLines); i++ {
		matched := true
		for j, want := range normSearch {
			if normalizeLine(contentLines[i+j]) != want {
				matched = false
				break
			}
		}
		if matched {
			starts = append(starts, i)
			i += len(normSearch) - 1
		}
	}
	if len(starts) == 0 {
		return content, Result{}, false
	}

	res := Result{Method: model.MatchWhitespace, Count: len(starts)}
	for _, s := range starts {
		if len(res.Samples) >= e.opts.MaxSamples {
			break
		}
		res.Samples = append(res.Samples, strings.Join(contentLines[s:s+len(normSearch)], "\n"))
	}
	e.log.WithFields(logrus.Fields{"method": res.Method, "count": res.Count}).Debug("pattern matched")

	if doReplace {
		replaceLines := strings.Split(strings.ReplaceAll(replace, "\r\n", "\n"), "\n")
		for i := len(starts) - 1; i >= 0; i-- {
			s := starts[i]
			tail := append([]string{}, contentLines[s+len(normSearch):]...)
			contentLines = append(contentLines[:s], append(append([]string{}, replaceLines...), tail...)...)
		}
		content = strings.Join(contentLines, "\n")
	}
	return content, res, true
}

// regexFallback compiles the (repaired) pattern and replaces all matches.
// Only attempted when the pattern looks like a regex and is not judged a
// literal code snippet.
func (e *Engine) regexFallback(content, search, replace string, doReplace bool, regexErr *string) (string, Result, bool) {
	if !LooksLikeRegex(search) || repair.IsCodeSnippet(search) {
		return content, Result{}, false
	}

	pattern, flags := splitSlashForm(search)
	repaired, notes := e.repairer.Repair(pattern)
	for _, note := range notes {
		e.log.WithField("note", note).Debug("pattern repaired before regex compile")
	}

	re, err := regexp.Compile("(?" + flags + ")" + repaired)
	if err != nil {
		*regexErr = fmt.Sprintf("invalid regex %q: %v", pattern, err)
		e.log.WithField("error", err).Debug("regex compile failed, trying literal-escaped form")
		re, err = regexp.Compile("(?" + flags + ")" + regexp.QuoteMeta(pattern))
		if err != nil {
			return content, Result{}, false
		}
	}

	locs := re.FindAllStringIndex(content, -1)
	if len(locs) == 0 {
		return content, Result{}, false
	}
	res := Result{Method: model.MatchRegex, Count: len(locs), RegexErr: *regexErr}
	for _, loc := range locs {
		if len(res.Samples) >= e.opts.MaxSamples {
			break
		}
		res.Samples = append(res.Samples, e.contextSample(content, loc[0], loc[1]))
	}
	e.log.WithFields(logrus.Fields{"method": res.Method, "count": res.Count}).Debug("pattern matched")
	if doReplace {
		// Replacement text is literal: $ in LLM output is never a
		// capture-group reference.
		content = re.ReplaceAllLiteralString(content, replace)
	}
	return content, res, true
}

func (e *Engine) plain(content, search, replace string, doReplace bool) (string, Result, bool) {
	count := strings.Count(content, search)
	if count == 0 {
		return content, Result{}, false
	}
	res := Result{Method: model.MatchPlain, Count: count, Samples: e.samples(content, search)}
	if doReplace {
		content = strings.Join(strings.Split(content, search), replace)
	}
	return content, res, true
}

// suggest locates the line closest to the pattern's first meaningful line,
// for the no-match diagnostic.
func (e *Engine) suggest(content, search string) string {
	needle := ""
	for _, line := range strings.Split(search, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			needle = trimmed
			break
		}
	}
	if needle == "" {
		return ""
	}
	if len(needle) > 64 {
		needle = needle[:64]
	}

	lines := strings.Split(content, "\n")
	matches := fuzzy.Find(needle, lines)
	if len(matches) == 0 {
		return ""
	}
	best := matches[0]
	return fmt.Sprintf("closest line %d: %q", best.Index+1, strings.TrimSpace(lines[best.Index]))
}

func (e *Engine) samples(content, search string) []string {
	var out []string
	from := 0
	for len(out) < e.opts.MaxSamples {
		idx := strings.Index(content[from:], search)
		if idx < 0 {
			break
		}
		start := from + idx
		out = append(out, e.contextSample(content, start, start+len(search)))
		from = start + len(search)
	}
	return out
}

func (e *Engine) contextSample(content string, start, end int) string {
	ctx := e.opts.SampleContextChars
	lo := start - ctx
	if lo < 0 {
		lo = 0
	}
	hi := end + ctx
	if hi > len(content) {
		hi = len(content)
	}
	sample := content[lo:hi]
	if lo > 0 {
		sample = "..." + sample
	}
	if hi < len(content) {
		sample += "..."
	}
	return sample
}

// LooksLikeRegex reports whether the pattern carries regex-specific syntax
// or is wrapped in /pattern/flags form.
func LooksLikeRegex(pattern string) bool {
	for _, hint := range regexHints {
		if strings.Contains(pattern, hint) {
			return true
		}
	}
	if charClassRegex.MatchString(pattern) {
		return true
	}
	return slashForm.MatchString(pattern)
}

// splitSlashForm unwraps /pattern/flags input, defaulting to multiline
// dot-matches-newline flags. Flags other than m, s and i are dropped; g is
// implicit because every occurrence is always replaced.
func splitSlashForm(search string) (pattern, flags string) {
	if m := slashForm.FindStringSubmatch(search); m != nil {
		pattern = m[1]
		for _, f := range m[2] {
			switch f {
			case 'm', 's', 'i':
				flags += string(f)
			}
		}
		if flags == "" {
			flags = "ms"
		}
		return pattern, flags
	}
	return search, "ms"
}

// normalizeLine collapses runs of whitespace to single spaces for
// comparison.
func normalizeLine(line string) string {
	return strings.Join(strings.Fields(line), " ")
}
