package store

import (
	"bytes"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
)

// discoverRepoRoot records the repository root via a single invocation
// of `git rev-parse --show-toplevel`. This path becomes the working
// directory for later diff validation; callers treat discovery failure
// as a well-defined condition, not a crash.
func discoverRepoRoot(projectPath string) (string, error) {
	cmd := exec.Command("git", "rev-parse", "--show-toplevel")
	cmd.Dir = projectPath

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if stderr.Len() > 0 {
			return "", fmt.Errorf("git rev-parse --show-toplevel failed: %s", strings.TrimSpace(stderr.String()))
		}
		return "", fmt.Errorf("git rev-parse --show-toplevel failed: %w", err)
	}

	root := strings.TrimSpace(string(out))
	if root == "" {
		return "", fmt.Errorf("git repo root is empty")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve repo root: %w", err)
	}
	return filepath.Clean(abs), nil
}
