// Package util holds small path and permission helpers shared across the
// engine packages.
package util

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Permission constants for file and directory modes.
const (
	// PermUserRead is the user-read permission bit (0400).
	PermUserRead os.FileMode = 0400
	// PermUserWrite is the user-write permission bit (0200).
	PermUserWrite os.FileMode = 0200

	// DefaultDirPerms represents the standard permissions for newly created directories (rwxr-xr-x).
	DefaultDirPerms os.FileMode = 0755
	// DefaultFilePerms represents the standard permissions for newly created files (rw-r--r--).
	DefaultFilePerms os.FileMode = 0644
)

// WithUserWritePermission ensures that any directory/file permission has the
// owner-write bit (0200) set. This prevents the user from being locked out of
// a destination they just created when the source was read-only.
func WithUserWritePermission(basePerm os.FileMode) os.FileMode {
	return basePerm | PermUserWrite
}

// NormalizePath converts a relative path to the canonical forward-slash key
// form used throughout the engine for maps, sets and logging.
func NormalizePath(rel string) string {
	return filepath.ToSlash(rel)
}

// DenormalizePath converts a normalized key back to the OS-native separator
// form for filesystem access.
func DenormalizePath(key string) string {
	return filepath.FromSlash(key)
}

// NormalizedRelPath computes the normalized relative key of absPath under
// root.
func NormalizedRelPath(root, absPath string) (string, error) {
	rel, err := filepath.Rel(root, absPath)
	if err != nil {
		return "", fmt.Errorf("could not make %s relative to %s: %w", absPath, root, err)
	}
	return NormalizePath(rel), nil
}

// DenormalizedAbsPath joins a root with a normalized relative key and returns
// the OS-native absolute path.
func DenormalizedAbsPath(root, relKey string) string {
	return filepath.Join(root, DenormalizePath(relKey))
}

// ResolveTarget computes the final destination path for a copy/move of an
// entry named srcName. If dst is an existing directory (or is spelled with a
// trailing separator), the entry goes inside it under its own name,
// mirroring conventional shell-copy semantics. Otherwise dst is the final
// path verbatim.
func ResolveTarget(dst, srcName string) string {
	if strings.HasSuffix(dst, string(os.PathSeparator)) || strings.HasSuffix(dst, "/") {
		return filepath.Join(dst, srcName)
	}
	if info, err := os.Stat(dst); err == nil && info.IsDir() {
		return filepath.Join(dst, srcName)
	}
	return dst
}

// HasFilename reports whether the path carries a usable final component.
// Root paths and paths ending in a separator-only component do not.
func HasFilename(path string) bool {
	base := filepath.Base(filepath.Clean(path))
	return base != "." && base != string(os.PathSeparator) && base != "/"
}

// EnsureParentDir creates the parent directory of path (and any missing
// ancestors) with default permissions.
func EnsureParentDir(path string) error {
	parent := filepath.Dir(path)
	if parent == "" || parent == "." {
		return nil
	}
	return os.MkdirAll(parent, DefaultDirPerms)
}

// ExpandPath expands the tilde (~) prefix in a path to the user's home directory.
func ExpandPath(path string) (string, error) {
	if !strings.HasPrefix(path, "~") {
		return path, nil // No tilde, return as-is.
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not get user home directory: %w", err)
	}

	// Replace the tilde with the home directory.
	return filepath.Join(home, path[1:]), nil
}
