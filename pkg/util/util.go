package util

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Permission constants for file and directory modes.
const (
	// PrivateDirPerms is used for every directory that holds exported snapshot data (rwx------).
	PrivateDirPerms os.FileMode = 0700
	// PrivateFilePerms is used for chunk files and the full backup cache (rw-------).
	PrivateFilePerms os.FileMode = 0600
)

// ExpandPath expands the tilde (~) prefix in a path to the user's home directory.
func ExpandPath(path string) (string, error) {
	if !strings.HasPrefix(path, "~") {
		return path, nil // No tilde, return as-is.
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not get user home directory: %w", err)
	}

	return filepath.Join(home, path[1:]), nil
}

// ResolveRelativeTo turns a "./"-prefixed path into an absolute path inside
// the directory of anchorFile. Any other value is returned unchanged.
func ResolveRelativeTo(anchorFile, path string) (string, error) {
	if !strings.HasPrefix(path, "./") {
		return path, nil
	}
	absAnchor, err := filepath.Abs(anchorFile)
	if err != nil {
		return "", fmt.Errorf("could not resolve %s: %w", anchorFile, err)
	}
	return filepath.Join(filepath.Dir(absAnchor), path[2:]), nil
}

// IsFile reports whether path exists and is a regular file.
func IsFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// IsDir reports whether path exists and is a directory.
func IsDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// EnvOr returns the value of the environment variable key, or fallback if it is unset.
func EnvOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

// InvertMap takes a map[K]V and returns a map[V]K.
// It's a generic helper for creating reverse lookup maps for enums.
func InvertMap[K comparable, V comparable](m map[K]V) map[V]K {
	inv := make(map[V]K, len(m))
	for k, v := range m {
		inv[v] = k
	}
	return inv
}
