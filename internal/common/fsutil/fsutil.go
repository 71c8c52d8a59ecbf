package fsutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ExpandHome expands a leading '~' to the current user's home directory.
func ExpandHome(path string) (string, error) {
	if path == "" || path[0] != '~' {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("home dir: %w", err)
	}
	if path == "~" {
		return home, nil
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~/")), nil
}

// EnvExecutable returns <envDir>/bin/<name> when it exists and is executable.
// envDir may start with '~'. ok is false when the environment does not provide it.
func EnvExecutable(envDir, name string) (string, bool) {
	if envDir == "" || name == "" {
		return "", false
	}
	dir, err := ExpandHome(envDir)
	if err != nil {
		return "", false
	}
	p := filepath.Join(dir, "bin", name)
	fi, err := os.Stat(p)
	if err != nil || fi.IsDir() || fi.Mode().Perm()&0o111 == 0 {
		return "", false
	}
	return p, true
}
