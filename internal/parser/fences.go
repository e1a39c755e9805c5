package parser

import (
	"bytes"
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// wholeFenceRegex matches input that is exactly one fenced code block.
var wholeFenceRegex = regexp.MustCompile("(?s)\\A```[a-zA-Z]*[ \t]*\n(.*?)\n?```\\s*\\z")

// StripFences extracts the change-set document from LLM output that may be
// wrapped in a markdown fence or surrounded by commentary. Preference
// order: a whole-string fence, then an embedded fenced block that looks
// like XML, then everything from the first XML declaration onward. Input
// without a fence passes through trimmed.
func StripFences(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if !strings.Contains(trimmed, "```") {
		return trimmed
	}

	if m := wholeFenceRegex.FindStringSubmatch(trimmed); m != nil {
		return strings.TrimSpace(m[1])
	}

	if block := firstXMLBlock([]byte(trimmed)); block != "" {
		return block
	}

	if idx := strings.Index(trimmed, "<?xml"); idx >= 0 {
		return strings.TrimSpace(trimmed[idx:])
	}
	return trimmed
}

// firstXMLBlock walks the markdown AST and returns the first fenced code
// block whose language is xml or whose body starts with an angle bracket.
func firstXMLBlock(source []byte) string {
	md := goldmark.DefaultParser()
	root := md.Parse(text.NewReader(source))

	found := ""
	walker := func(node ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering || found != "" {
			return ast.WalkContinue, nil
		}
		fenced, ok := node.(*ast.FencedCodeBlock)
		if !ok {
			return ast.WalkContinue, nil
		}

		lang := string(fenced.Language(source))

		var content bytes.Buffer
		lines := fenced.Lines()
		for i := 0; i < lines.Len(); i++ {
			line := lines.At(i)
			content.Write(line.Value(source))
		}
		body := strings.TrimSpace(content.String())

		if lang == "xml" || strings.HasPrefix(body, "<") {
			found = body
			return ast.WalkStop, nil
		}
		return ast.WalkSkipChildren, nil
	}

	if err := ast.Walk(root, walker); err != nil {
		return ""
	}
	return found
}
