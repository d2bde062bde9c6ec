package util

import (
	"fmt"
	"os"
	"path"

	"github.com/google/uuid"
)

func DirExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.IsDir()
}

// EnsureDir creates the directory (and parents) if it is not there yet.
func EnsureDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create dir %s: %w", dir, err)
	}
	return nil
}

// ScratchDir makes a fresh working directory under base, named by a random
// UUID so that two invocations sharing the same base never collide.
func ScratchDir(base string) (string, error) {
	dir := path.Join(base, uuid.NewString())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create scratch dir %s: %w", dir, err)
	}
	return dir, nil
}
