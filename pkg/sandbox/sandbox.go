// Package sandbox confines client-supplied paths to the service root.
//
// Every filesystem access triggered by a client path must go through Resolve
// first. Resolution is purely lexical plus symlink evaluation; it performs no
// other filesystem side effects.
package sandbox

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
)

// ErrOutsideRoot is returned when a path would resolve outside the sandbox
// root, whether via ".." segments or symlinks.
var ErrOutsideRoot = errors.New("path escapes the sandbox root")

// Resolve joins rel onto root and returns the fully resolved absolute path.
//
// The result is guaranteed to be root itself or a descendant of root. An
// empty rel resolves to root, which is how "list" addresses the root
// directory. Symlinks inside root that point outside it are rejected; a
// symlinked final component that does not exist yet (an upload target) is
// validated against its parent directory instead.
func Resolve(root, rel string) (string, error) {
	cleanRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		return "", err
	}
	cleanRoot, err = filepath.Abs(cleanRoot)
	if err != nil {
		return "", err
	}

	// Treat absolute client paths as root-relative rather than trusting them.
	rel = strings.TrimLeft(filepath.ToSlash(rel), "/")
	joined := filepath.Join(cleanRoot, filepath.FromSlash(rel))

	resolved, err := filepath.EvalSymlinks(joined)
	if errors.Is(err, os.ErrNotExist) {
		// The target may not exist yet (upload destinations). Resolve the
		// deepest existing ancestor and re-attach the remainder lexically.
		resolved, err = resolveNonExistent(joined)
	}
	if err != nil {
		return "", err
	}

	if !within(cleanRoot, resolved) {
		return "", ErrOutsideRoot
	}
	return resolved, nil
}

// Rel returns path relative to root with forward slashes, for display and
// search results. path must already be sandbox-resolved.
func Rel(root, path string) string {
	cleanRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		cleanRoot = root
	}
	rel, err := filepath.Rel(cleanRoot, path)
	if err != nil {
		return path
	}
	return filepath.ToSlash(rel)
}

func resolveNonExistent(path string) (string, error) {
	dir, base := filepath.Split(filepath.Clean(path))
	remainder := base
	for {
		resolved, err := filepath.EvalSymlinks(filepath.Clean(dir))
		if err == nil {
			return filepath.Join(resolved, remainder), nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", err
		}
		parent, elem := filepath.Split(filepath.Clean(dir))
		if parent == dir || elem == "" {
			return "", os.ErrNotExist
		}
		remainder = filepath.Join(elem, remainder)
		dir = parent
	}
}

func within(root, path string) bool {
	if path == root {
		return true
	}
	return strings.HasPrefix(path, root+string(filepath.Separator))
}
