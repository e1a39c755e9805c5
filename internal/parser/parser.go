// Package parser turns raw LLM output into a structured ChangeSet. Only
// document-structure problems are fatal; everything else becomes a warning
// on the result, because real model output is often close enough to apply.
package parser

import (
	"encoding/xml"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"chapply/internal/config"
	"chapply/internal/repair"
	"chapply/model"
)

// ParseError is fatal: the document has no usable structure. Returned
// before any file is touched.
type ParseError struct {
	Msg string
	Err error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *ParseError) Unwrap() error { return e.Err }

var cdataRegex = regexp.MustCompile(`(?s)<!\[CDATA\[(.*?)\]\]>`)

var entityUnescaper = strings.NewReplacer(
	"&lt;", "<",
	"&gt;", ">",
	"&quot;", `"`,
	"&apos;", "'",
	"&amp;", "&",
)

type xmlChanges struct {
	XMLName xml.Name  `xml:"changes"`
	Version string    `xml:"version,attr"`
	Files   []xmlFile `xml:"file"`
	Meta    string    `xml:"meta"`
}

type xmlFile struct {
	Path       string         `xml:"path,attr"`
	Action     string         `xml:"action,attr"`
	Operations []xmlOperation `xml:"operation"`
	Meta       string         `xml:"meta"`
}

type xmlOperation struct {
	Search  []xmlText `xml:"search"`
	Replace []xmlText `xml:"replace"`
}

// xmlText captures the raw inner XML of an element so CDATA sections can be
// told apart from plain text.
type xmlText struct {
	Inner string `xml:",innerxml"`
}

// Parser builds ChangeSets from raw text.
type Parser struct {
	repairer *repair.Repairer
	log      logrus.FieldLogger
}

// New creates a Parser.
func New(opts config.Options, log logrus.FieldLogger) *Parser {
	return &Parser{
		repairer: repair.New(opts.MaxPatternChars),
		log:      log,
	}
}

// Parse strips markdown wrapping, decodes the document and runs the
// non-blocking schema check. Schema deviations are collected on
// ChangeSet.Warnings; only a structurally unusable document fails.
func (p *Parser) Parse(raw string) (*model.ChangeSet, error) {
	payload := stripXMLDecl(StripFences(raw))
	if strings.TrimSpace(payload) == "" {
		return nil, &ParseError{Msg: "input is empty"}
	}

	var doc xmlChanges
	if err := xml.Unmarshal([]byte(payload), &doc); err != nil {
		return nil, &ParseError{Msg: "malformed change-set document", Err: err}
	}

	if doc.Version == "" {
		return nil, &ParseError{Msg: "root element is missing the version attribute"}
	}
	if _, err := strconv.ParseFloat(doc.Version, 64); err != nil {
		return nil, &ParseError{Msg: fmt.Sprintf("version attribute %q is not numeric", doc.Version)}
	}

	cs := &model.ChangeSet{
		Version: doc.Version,
		Meta:    strings.TrimSpace(doc.Meta),
	}

	for i, f := range doc.Files {
		fc, ok := p.parseFile(i, f, cs)
		if ok {
			cs.Files = append(cs.Files, fc)
		}
	}

	for _, w := range cs.Warnings {
		p.log.WithField("warning", w).Debug("schema check")
	}
	return cs, nil
}

func (p *Parser) parseFile(index int, f xmlFile, cs *model.ChangeSet) (model.FileChange, bool) {
	warn := func(format string, args ...interface{}) {
		cs.Warnings = append(cs.Warnings, fmt.Sprintf(format, args...))
	}

	path := normalizePath(f.Path)
	if path == "" {
		warn("file #%d has no path attribute, skipped", index+1)
		return model.FileChange{}, false
	}

	action := model.Action(strings.ToLower(strings.TrimSpace(f.Action)))
	switch action {
	case model.ActionCreate, model.ActionModify, model.ActionDelete:
	case "":
		warn("file %q has no action attribute, skipped", path)
		return model.FileChange{}, false
	default:
		warn("file %q has unknown action %q, skipped", path, f.Action)
		return model.FileChange{}, false
	}

	fc := model.FileChange{
		Path:   path,
		Action: action,
		Meta:   strings.TrimSpace(f.Meta),
	}

	if action == model.ActionDelete {
		if len(f.Operations) > 0 {
			warn("delete of %q carries %d operation(s), ignored", path, len(f.Operations))
		}
		return fc, true
	}

	if len(f.Operations) == 0 {
		warn("%s of %q has no operations, skipped", action, path)
		return model.FileChange{}, false
	}

	for j, op := range f.Operations {
		parsed, ok := p.parseOperation(path, j, op, warn)
		if ok {
			fc.Operations = append(fc.Operations, parsed)
		}
	}
	if len(fc.Operations) == 0 {
		warn("%s of %q has no usable operations, skipped", action, path)
		return model.FileChange{}, false
	}

	if action == model.ActionCreate && fc.Operations[0].Search != "" {
		warn("create of %q has a non-empty search pattern, content is taken from replace", path)
	}
	if action == model.ActionModify {
		for j, op := range fc.Operations {
			if op.Search == "" {
				warn("operation #%d of %q has an empty search pattern", j+1, path)
			}
		}
	}

	return fc, true
}

func (p *Parser) parseOperation(path string, index int, op xmlOperation, warn func(string, ...interface{})) (model.Operation, bool) {
	if len(op.Search) != 1 {
		warn("operation #%d of %q has %d search elements, expected exactly 1", index+1, path, len(op.Search))
	}
	if len(op.Replace) != 1 {
		warn("operation #%d of %q has %d replace elements, expected exactly 1", index+1, path, len(op.Replace))
	}
	if len(op.Search) == 0 || len(op.Replace) == 0 {
		return model.Operation{}, false
	}

	parsed := model.Operation{
		Search:  extractText(op.Search[0].Inner),
		Replace: extractText(op.Replace[0].Inner),
	}

	// Repair diagnostics only: the operation keeps its original search
	// text, repair is re-applied at match time where it is needed.
	fixed, notes := p.repairer.Repair(parsed.Search)
	for _, note := range notes {
		warn("operation #%d of %q: %s", index+1, path, note)
	}
	if _, err := regexp.Compile(fixed); err != nil {
		warn("operation #%d of %q: pattern does not compile as a regex (%v), literal strategies still apply", index+1, path, err)
	}

	return parsed, true
}

// extractText resolves an element's inner XML to its literal text. CDATA
// sections win over plain text when both are present.
func extractText(inner string) string {
	if m := cdataRegex.FindAllStringSubmatch(inner, -1); len(m) > 0 {
		var b strings.Builder
		for _, sub := range m {
			b.WriteString(sub[1])
		}
		return b.String()
	}
	return entityUnescaper.Replace(inner)
}

// stripXMLDecl drops a leading <?xml ...?> declaration. encoding/xml
// rejects any declared version other than 1.0, and models emit 1.1
// declarations; the declaration carries nothing the decoder needs.
func stripXMLDecl(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "<?xml") {
		return s
	}
	idx := strings.Index(trimmed, "?>")
	if idx < 0 {
		return s
	}
	return strings.TrimSpace(trimmed[idx+2:])
}

// normalizePath trims and normalizes separators to forward slashes.
func normalizePath(path string) string {
	path = strings.TrimSpace(path)
	path = strings.ReplaceAll(path, "\\", "/")
	return strings.TrimPrefix(path, "./")
}
