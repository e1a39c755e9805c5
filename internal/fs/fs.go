package fs

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Filesystem is the narrow surface the engine mutates through. The apply
// and transaction layers depend on this interface so fault injection in
// tests does not need a real disk error.
type Filesystem interface {
	ReadFile(path string) (string, error)
	WriteFile(path string, content string) error
	Remove(path string) error
	Exists(path string) bool
	MkdirAll(dir string) error
}

// OS is the real-disk Filesystem.
type OS struct{}

func (OS) ReadFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (OS) WriteFile(path string, content string) error {
	return os.WriteFile(path, []byte(content), 0644)
}

func (OS) Remove(path string) error {
	return os.Remove(path)
}

func (OS) Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func (OS) MkdirAll(dir string) error {
	return os.MkdirAll(dir, 0755)
}

// PathResolver maps project-relative paths to absolute paths confined to
// one project root.
type PathResolver struct {
	root string
}

// NewPathResolver creates a resolver for the given project root. An empty
// root means the current working directory.
func NewPathResolver(root string) (*PathResolver, error) {
	if root == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("could not get current working directory: %w", err)
		}
		root = wd
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("invalid project root %q: %w", root, err)
	}
	return &PathResolver{root: abs}, nil
}

// Root returns the absolute project root.
func (r *PathResolver) Root() string {
	return r.root
}

// Resolve turns a project-relative, forward-slash path into an absolute
// path under the root. Absolute inputs and paths escaping the root are
// rejected.
func (r *PathResolver) Resolve(relativePath string) (string, error) {
	cleaned := filepath.FromSlash(strings.TrimSpace(relativePath))
	if cleaned == "" {
		return "", fmt.Errorf("empty file path")
	}
	if filepath.IsAbs(cleaned) {
		return "", fmt.Errorf("absolute path %q not allowed, paths must be project-relative", relativePath)
	}

	abs := filepath.Join(r.root, cleaned)
	rel, err := filepath.Rel(r.root, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes the project root", relativePath)
	}
	return abs, nil
}

// DirsToCreate returns the missing parent directories for the given paths.
func DirsToCreate(fsys Filesystem, targetPaths []string) map[string]struct{} {
	dirs := make(map[string]struct{})
	for _, path := range targetPaths {
		dir := filepath.Dir(path)
		if dir != "." && dir != "/" && !fsys.Exists(dir) {
			dirs[dir] = struct{}{}
		}
	}
	return dirs
}

// Sha256 returns the hex digest of a string, used for change-log and debug
// output, not for security.
func Sha256(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}
