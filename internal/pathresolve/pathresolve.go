// Package pathresolve safely resolves user-supplied relative paths
// within a file-area root, rejecting traversal attempts and symlink
// escapes, and answers the folder-tag based upload/download access
// rules.
package pathresolve

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Sentinel errors mirroring the three-layer defense's failure modes.
// Callers inspect these with errors.Is; CanonicalizeFailed wraps the
// underlying OS error so %w still unwraps to it.
var (
	ErrInvalidPath        = errors.New("pathresolve: invalid path")
	ErrAccessDenied       = errors.New("pathresolve: access denied")
	ErrNotFound           = errors.New("pathresolve: not found")
	ErrCanonicalizeFailed = errors.New("pathresolve: canonicalize failed")
	ErrInvalidAreaRoot    = errors.New("pathresolve: area root is not absolute")
)

// ResolvePath resolves relPath within areaRoot, which must already be
// an absolute, canonical directory (typically obtained once at server
// startup via filepath.EvalSymlinks). Three layers of defense apply in
// order: component validation (rejects "..", absolute paths, and
// Windows drive/UNC prefixes), symlink canonicalization, and a
// prefix check that the canonical result is still under areaRoot.
func ResolvePath(areaRoot, relPath string) (string, error) {
	if !filepath.IsAbs(areaRoot) {
		return "", ErrInvalidAreaRoot
	}
	if err := validateComponents(relPath); err != nil {
		return "", err
	}

	candidate := filepath.Join(areaRoot, relPath)

	canonical, err := filepath.EvalSymlinks(candidate)
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("%w: %v", ErrCanonicalizeFailed, err)
	}

	if !underRoot(canonical, areaRoot) {
		return "", ErrAccessDenied
	}
	return canonical, nil
}

// ResolveNewPath resolves the location of a not-yet-existing file or
// directory named by relPath under areaRoot. The parent directory must
// exist and canonicalize under areaRoot; the returned path is the
// (non-canonical) final component joined onto the canonical parent,
// since the target itself cannot be canonicalized before it exists.
func ResolveNewPath(areaRoot, relPath string) (string, error) {
	if !filepath.IsAbs(areaRoot) {
		return "", ErrInvalidAreaRoot
	}
	if relPath == "" {
		return "", ErrInvalidPath
	}
	if err := validateComponents(relPath); err != nil {
		return "", err
	}

	candidate := filepath.Join(areaRoot, relPath)
	parent := filepath.Dir(candidate)

	if parent == filepath.Clean(areaRoot) {
		return candidate, nil
	}

	canonicalParent, err := filepath.EvalSymlinks(parent)
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("%w: %v", ErrCanonicalizeFailed, err)
	}

	if !underRoot(canonicalParent, areaRoot) {
		return "", ErrAccessDenied
	}

	return filepath.Join(canonicalParent, filepath.Base(candidate)), nil
}

// validateComponents rejects ".." segments, absolute paths, and
// Windows drive/UNC prefixes without touching the filesystem. Empty
// paths and "." segments are allowed.
func validateComponents(relPath string) error {
	if relPath == "" {
		return nil
	}
	if filepath.IsAbs(relPath) {
		return ErrInvalidPath
	}
	if vol := filepath.VolumeName(relPath); vol != "" {
		return ErrInvalidPath
	}
	if strings.HasPrefix(relPath, "/") || strings.HasPrefix(relPath, `\`) {
		return ErrInvalidPath
	}

	for _, part := range strings.FieldsFunc(relPath, func(r rune) bool { return r == '/' || r == '\\' }) {
		if part == ".." {
			return ErrInvalidPath
		}
	}
	return nil
}

// underRoot reports whether candidate is areaRoot itself or a
// descendant of it.
func underRoot(candidate, areaRoot string) bool {
	root := filepath.Clean(areaRoot)
	candidate = filepath.Clean(candidate)
	if candidate == root {
		return true
	}
	return strings.HasPrefix(candidate, root+string(filepath.Separator))
}

// AllowsUpload walks path's ancestors up to (but not including)
// areaRoot, reporting whether any of them is tagged as an upload
// folder or drop box. Upload permission is inherited by subfolders.
// Callers must have already validated path via ResolvePath/ResolveNewPath.
func AllowsUpload(areaRoot, path string) bool {
	root := filepath.Clean(areaRoot)
	current := filepath.Clean(path)

	for current != root {
		kind, _ := ParseFolderType(filepath.Base(current))
		switch kind {
		case FolderUpload, FolderDropBox, FolderUserDropBox:
			return true
		}

		parent := filepath.Dir(current)
		if parent == current {
			break
		}
		current = parent
	}
	return false
}

// CanAccessForDownload walks path's ancestors the same way AllowsUpload
// does, but answers the listing/download question: admins may always
// access; a generic drop box denies non-admins entirely; a per-user
// drop box is restricted to its named owner; any other folder
// (including upload folders, which only restrict uploads, not reads)
// is accessible to all.
func CanAccessForDownload(areaRoot, path, username string, isAdmin bool) bool {
	if isAdmin {
		return true
	}

	root := filepath.Clean(areaRoot)
	current := filepath.Clean(path)

	for current != root {
		kind, owner := ParseFolderType(filepath.Base(current))
		switch kind {
		case FolderDropBox:
			return false
		case FolderUserDropBox:
			return strings.EqualFold(owner, username)
		}

		parent := filepath.Dir(current)
		if parent == current {
			break
		}
		current = parent
	}
	return true
}
