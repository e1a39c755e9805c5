package chapply

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chapply/internal/parser"
	"chapply/model"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func readFile(t *testing.T, root, rel string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
	require.NoError(t, err)
	return string(data)
}

// snapshot maps every file under root to its content.
func snapshot(t *testing.T, root string) map[string]string {
	t.Helper()
	files := make(map[string]string)
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		files[rel] = string(data)
		return nil
	})
	require.NoError(t, err)
	return files
}

func TestApplyCreatesFile(t *testing.T) {
	root := t.TempDir()

	raw := `<changes version="1"><file path="a.txt" action="create">` +
		`<operation><search></search><replace>hello</replace></operation></file></changes>`

	result, err := Apply(raw, Config{Root: root})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "hello", readFile(t, root, "a.txt"))
}

func TestApplyModifiesExactly(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "src/main.go", "package main\n\nfunc main() {\n\told()\n}\n")

	raw := `<changes version="1"><file path="src/main.go" action="modify"><operation>` +
		`<search>old()</search><replace>current()</replace>` +
		`</operation></file></changes>`

	result, err := Apply(raw, Config{Root: root})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "package main\n\nfunc main() {\n\tcurrent()\n}\n", readFile(t, root, "src/main.go"))

	joined := strings.Join(result.Changes, "\n")
	assert.Contains(t, joined, string(model.MatchExact))
}

func TestApplyAbsentCodePatternWarnsButSucceeds(t *testing.T) {
	root := t.TempDir()
	original := "let total = 1\n"
	writeFile(t, root, "app.js", original)

	// Code-like pattern that is not in the file. It must not be promoted to
	// a regex; the run stays green with a warning.
	raw := `<changes version="1"><file path="app.js" action="modify"><operation>` +
		`<search>const f = async (x) => pay($total)</search><replace>n/a</replace>` +
		`</operation></file></changes>`

	result, err := Apply(raw, Config{Root: root})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, original, readFile(t, root, "app.js"))

	joined := strings.Join(result.Changes, "\n")
	assert.Contains(t, joined, "found no match")
}

func TestDryRunLeavesTreeUntouched(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "keep.txt", "keep me intact")
	writeFile(t, root, "mod.txt", "old value")

	raw := `<changes version="1">` +
		`<file path="mod.txt" action="modify"><operation><search>old value</search><replace>new value</replace></operation></file>` +
		`<file path="fresh.txt" action="create"><operation><search></search><replace>made</replace></operation></file>` +
		`<file path="keep.txt" action="delete"/>` +
		`</changes>`

	before := snapshot(t, root)
	result, err := Apply(raw, Config{Root: root, DryRun: true})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.True(t, strings.HasPrefix(result.Message, "[dry-run]"), result.Message)
	assert.Equal(t, before, snapshot(t, root))
}

func TestCreateThenDeleteRoundTrips(t *testing.T) {
	root := t.TempDir()
	before := snapshot(t, root)

	create := `<changes version="1"><file path="tmp/scratch.txt" action="create">` +
		`<operation><search></search><replace>transient</replace></operation></file></changes>`
	result, err := Apply(create, Config{Root: root})
	require.NoError(t, err)
	require.True(t, result.Success)
	assert.Equal(t, "transient", readFile(t, root, "tmp/scratch.txt"))

	del := `<changes version="1"><file path="tmp/scratch.txt" action="delete"/></changes>`
	result, err = Apply(del, Config{Root: root})
	require.NoError(t, err)
	require.True(t, result.Success)
	assert.Equal(t, before, snapshot(t, root))
}

func TestApplyRejectsEscapingPath(t *testing.T) {
	root := t.TempDir()
	outside := filepath.Join(root, "..", "escaped.txt")

	raw := `<changes version="1"><file path="../escaped.txt" action="create">` +
		`<operation><search></search><replace>nope</replace></operation></file></changes>`

	result, err := Apply(raw, Config{Root: root})
	require.NoError(t, err)
	assert.True(t, result.Success)
	_, statErr := os.Stat(outside)
	assert.True(t, os.IsNotExist(statErr))

	joined := strings.Join(result.Changes, "\n")
	assert.Contains(t, joined, "escapes the project root")
}

func TestApplyParseErrorSurfaces(t *testing.T) {
	root := t.TempDir()

	_, err := Apply("certainly not a change-set", Config{Root: root})
	var perr *parser.ParseError
	require.ErrorAs(t, err, &perr)
}

func TestPreviewReportsMatches(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "note.txt", "alpha beta alpha")

	raw := `<changes version="1">` +
		`<file path="note.txt" action="modify">` +
		`<operation><search>alpha</search><replace>omega</replace></operation>` +
		`<operation><search>missing needle here</search><replace>x</replace></operation>` +
		`</file>` +
		`<file path="other.txt" action="create"><operation><search></search><replace>y</replace></operation></file>` +
		`</changes>`

	previews, err := Preview(raw, Config{Root: root})
	require.NoError(t, err)
	require.Len(t, previews, 3)

	assert.True(t, previews[0].Success)
	assert.Equal(t, 2, previews[0].MatchCount)
	assert.Equal(t, model.MatchExact, previews[0].MatchMethod)
	assert.NotEmpty(t, previews[0].Samples)

	assert.False(t, previews[1].Success)
	assert.Equal(t, 0, previews[1].MatchCount)

	assert.True(t, previews[2].Success)

	// Preview never mutates.
	assert.Equal(t, "alpha beta alpha", readFile(t, root, "note.txt"))
}

func TestPreviewReportsMissingModifyTarget(t *testing.T) {
	root := t.TempDir()

	raw := `<changes version="1"><file path="ghost.txt" action="modify">` +
		`<operation><search>anything</search><replace>x</replace></operation></file></changes>`

	previews, err := Preview(raw, Config{Root: root})
	require.NoError(t, err)
	require.Len(t, previews, 1)
	assert.False(t, previews[0].Success)
	assert.Contains(t, previews[0].Error, "does not exist")
}

func TestExtensionFilterEndToEnd(t *testing.T) {
	root := t.TempDir()

	raw := `<changes version="1">` +
		`<file path="a.go" action="create"><operation><search></search><replace>package a</replace></operation></file>` +
		`<file path="b.md" action="create"><operation><search></search><replace># b</replace></operation></file>` +
		`</changes>`

	result, err := Apply(raw, Config{Root: root, Extensions: []string{".go"}})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "package a", readFile(t, root, "a.go"))
	_, statErr := os.Stat(filepath.Join(root, "b.md"))
	assert.True(t, os.IsNotExist(statErr))
}
