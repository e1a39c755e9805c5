package txn

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chapply/internal/apply"
	"chapply/internal/config"
	"chapply/internal/fs"
	"chapply/internal/match"
	"chapply/model"
)

// fakeFS is an in-memory Filesystem with per-path write fault injection.
type fakeFS struct {
	files      map[string]string
	dirs       map[string]bool
	failWrites map[string]error
}

func newFakeFS() *fakeFS {
	return &fakeFS{
		files:      make(map[string]string),
		dirs:       make(map[string]bool),
		failWrites: make(map[string]error),
	}
}

func (f *fakeFS) ReadFile(path string) (string, error) {
	content, ok := f.files[path]
	if !ok {
		return "", os.ErrNotExist
	}
	return content, nil
}

func (f *fakeFS) WriteFile(path string, content string) error {
	if err, ok := f.failWrites[path]; ok {
		return err
	}
	f.files[path] = content
	return nil
}

func (f *fakeFS) Remove(path string) error {
	if _, ok := f.files[path]; ok {
		delete(f.files, path)
		return nil
	}
	if f.dirs[path] {
		prefix := path + string(filepath.Separator)
		for p := range f.files {
			if strings.HasPrefix(p, prefix) {
				return fmt.Errorf("directory not empty: %s", path)
			}
		}
		for d := range f.dirs {
			if strings.HasPrefix(d, prefix) {
				return fmt.Errorf("directory not empty: %s", path)
			}
		}
		delete(f.dirs, path)
		return nil
	}
	return os.ErrNotExist
}

func (f *fakeFS) Exists(path string) bool {
	if _, ok := f.files[path]; ok {
		return true
	}
	return f.dirs[path]
}

func (f *fakeFS) MkdirAll(dir string) error {
	for cur := dir; cur != "/" && cur != "."; cur = filepath.Dir(cur) {
		f.dirs[cur] = true
	}
	return nil
}

const root = "/project"

func newManager(t *testing.T, fsys fs.Filesystem) *Manager {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)

	resolver, err := fs.NewPathResolver(root)
	require.NoError(t, err)

	engine := match.New(config.Default(), log)
	return NewManager(fsys, resolver, apply.New(engine, log), log)
}

func abs(rel string) string {
	return filepath.Join(root, filepath.FromSlash(rel))
}

func TestRunAppliesAllActions(t *testing.T) {
	fsys := newFakeFS()
	fsys.files[abs("mod.txt")] = "keep old text here"
	fsys.files[abs("gone.txt")] = "to be removed"

	m := newManager(t, fsys)
	cs := &model.ChangeSet{
		Version: "1",
		Files: []model.FileChange{
			{Path: "fresh.txt", Action: model.ActionCreate, Operations: []model.Operation{{Replace: "brand new"}}},
			{Path: "mod.txt", Action: model.ActionModify, Operations: []model.Operation{{Search: "old text", Replace: "new text"}}},
			{Path: "gone.txt", Action: model.ActionDelete},
		},
	}

	result, stats := m.Run(cs, Options{})
	assert.True(t, result.Success)
	assert.Equal(t, []string{"fresh.txt"}, stats.Created)
	assert.Equal(t, []string{"mod.txt"}, stats.Modified)
	assert.Equal(t, []string{"gone.txt"}, stats.Deleted)

	assert.Equal(t, "brand new", fsys.files[abs("fresh.txt")])
	assert.Equal(t, "keep new text here", fsys.files[abs("mod.txt")])
	_, exists := fsys.files[abs("gone.txt")]
	assert.False(t, exists)
}

func TestRunRollsBackOnWriteError(t *testing.T) {
	fsys := newFakeFS()
	fsys.files[abs("first.txt")] = "first original"
	fsys.files[abs("second.txt")] = "second original"
	fsys.failWrites[abs("second.txt")] = fmt.Errorf("disk full")

	m := newManager(t, fsys)
	cs := &model.ChangeSet{
		Version: "1",
		Files: []model.FileChange{
			{Path: "first.txt", Action: model.ActionModify, Operations: []model.Operation{{Search: "original", Replace: "changed"}}},
			{Path: "second.txt", Action: model.ActionModify, Operations: []model.Operation{{Search: "original", Replace: "changed"}}},
		},
	}

	result, stats := m.Run(cs, Options{})
	assert.False(t, result.Success)
	assert.Contains(t, result.Message, "rolled back")
	assert.Equal(t, []string{"second.txt"}, stats.Failed)
	assert.Empty(t, stats.Modified)

	// The first file, already written, is restored byte-for-byte.
	assert.Equal(t, "first original", fsys.files[abs("first.txt")])
	assert.Equal(t, "second original", fsys.files[abs("second.txt")])
}

func TestRunRollbackRemovesCreatedFiles(t *testing.T) {
	fsys := newFakeFS()
	fsys.files[abs("broken.txt")] = "content"
	fsys.failWrites[abs("broken.txt")] = fmt.Errorf("permission denied")

	m := newManager(t, fsys)
	cs := &model.ChangeSet{
		Version: "1",
		Files: []model.FileChange{
			{Path: "made.txt", Action: model.ActionCreate, Operations: []model.Operation{{Replace: "hello"}}},
			{Path: "broken.txt", Action: model.ActionModify, Operations: []model.Operation{{Search: "content", Replace: "changed"}}},
		},
	}

	result, _ := m.Run(cs, Options{})
	assert.False(t, result.Success)

	// Undoing a create means deleting the file again.
	_, exists := fsys.files[abs("made.txt")]
	assert.False(t, exists)
	assert.Equal(t, "content", fsys.files[abs("broken.txt")])
}

func TestRollbackRemovesCreatedDirectories(t *testing.T) {
	fsys := newFakeFS()
	fsys.files[abs("broken.txt")] = "content"
	fsys.failWrites[abs("broken.txt")] = fmt.Errorf("permission denied")

	m := newManager(t, fsys)
	cs := &model.ChangeSet{
		Version: "1",
		Files: []model.FileChange{
			{Path: "sub/deep/new.txt", Action: model.ActionCreate, Operations: []model.Operation{{Replace: "hello"}}},
			{Path: "broken.txt", Action: model.ActionModify, Operations: []model.Operation{{Search: "content", Replace: "changed"}}},
		},
	}

	result, _ := m.Run(cs, Options{})
	assert.False(t, result.Success)

	_, exists := fsys.files[abs("sub/deep/new.txt")]
	assert.False(t, exists)
	// The directories the run created are gone again with their file.
	assert.NotContains(t, fsys.dirs, abs("sub/deep"))
	assert.NotContains(t, fsys.dirs, abs("sub"))
}

func TestPreconditionFailuresSkipNotAbort(t *testing.T) {
	fsys := newFakeFS()
	fsys.files[abs("exists.txt")] = "already here"

	m := newManager(t, fsys)
	cs := &model.ChangeSet{
		Version: "1",
		Files: []model.FileChange{
			{Path: "exists.txt", Action: model.ActionCreate, Operations: []model.Operation{{Replace: "x"}}},
			{Path: "missing.txt", Action: model.ActionModify, Operations: []model.Operation{{Search: "a", Replace: "b"}}},
			{Path: "alsomissing.txt", Action: model.ActionDelete},
			{Path: "ok.txt", Action: model.ActionCreate, Operations: []model.Operation{{Replace: "made it"}}},
		},
	}

	result, stats := m.Run(cs, Options{})
	assert.True(t, result.Success)
	assert.Len(t, stats.Skipped, 3)
	assert.Equal(t, []string{"ok.txt"}, stats.Created)
	assert.Equal(t, "already here", fsys.files[abs("exists.txt")])
	assert.Equal(t, "made it", fsys.files[abs("ok.txt")])
}

func TestPathEscapeIsExcluded(t *testing.T) {
	fsys := newFakeFS()
	m := newManager(t, fsys)

	cs := &model.ChangeSet{
		Version: "1",
		Files: []model.FileChange{
			{Path: "../outside.txt", Action: model.ActionCreate, Operations: []model.Operation{{Replace: "nope"}}},
		},
	}

	result, stats := m.Run(cs, Options{})
	assert.True(t, result.Success)
	assert.Len(t, stats.Skipped, 1)
	assert.Empty(t, fsys.files)
}

func TestDryRunTouchesNothing(t *testing.T) {
	fsys := newFakeFS()
	fsys.files[abs("mod.txt")] = "old text"

	m := newManager(t, fsys)
	cs := &model.ChangeSet{
		Version: "1",
		Files: []model.FileChange{
			{Path: "mod.txt", Action: model.ActionModify, Operations: []model.Operation{{Search: "old", Replace: "new"}}},
			{Path: "fresh.txt", Action: model.ActionCreate, Operations: []model.Operation{{Replace: "content"}}},
		},
	}

	result, stats := m.Run(cs, Options{DryRun: true})
	assert.True(t, result.Success)
	assert.True(t, strings.HasPrefix(result.Message, "[dry-run]"), result.Message)
	assert.Equal(t, []string{"fresh.txt"}, stats.Created)
	assert.Equal(t, []string{"mod.txt"}, stats.Modified)

	assert.Equal(t, "old text", fsys.files[abs("mod.txt")])
	_, exists := fsys.files[abs("fresh.txt")]
	assert.False(t, exists)
}

func TestExtensionFilter(t *testing.T) {
	fsys := newFakeFS()
	m := newManager(t, fsys)

	cs := &model.ChangeSet{
		Version: "1",
		Files: []model.FileChange{
			{Path: "a.go", Action: model.ActionCreate, Operations: []model.Operation{{Replace: "package a"}}},
			{Path: "b.md", Action: model.ActionCreate, Operations: []model.Operation{{Replace: "# b"}}},
		},
	}

	result, stats := m.Run(cs, Options{Extensions: []string{".go"}})
	assert.True(t, result.Success)
	assert.Equal(t, []string{"a.go"}, stats.Created)
	assert.Equal(t, []string{"b.md"}, stats.Skipped)
}

func TestNoMatchOperationIsWarningNotFailure(t *testing.T) {
	fsys := newFakeFS()
	fsys.files[abs("code.txt")] = "nothing relevant in here"

	m := newManager(t, fsys)
	cs := &model.ChangeSet{
		Version: "1",
		Files: []model.FileChange{
			{Path: "code.txt", Action: model.ActionModify, Operations: []model.Operation{{Search: "function missingThing()", Replace: "x"}}},
		},
	}

	result, stats := m.Run(cs, Options{})
	assert.True(t, result.Success)
	assert.Empty(t, stats.Modified)
	assert.Equal(t, "nothing relevant in here", fsys.files[abs("code.txt")])

	joined := strings.Join(result.Changes, "\n")
	assert.Contains(t, joined, "found no match")
	assert.Contains(t, joined, "no changes applied")
}
