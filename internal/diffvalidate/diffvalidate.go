// Package diffvalidate parses and applicability-checks unified diffs
// against a working tree by shelling out to git, piping the diff on
// stdin rather than passing it as argv.
package diffvalidate

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
)

// AffectedFile describes one file touched by a diff.
type AffectedFile struct {
	Path      string `json:"path"`
	Operation string `json:"operation"` // create, modify, delete
	Added     int    `json:"added"`
	Removed   int    `json:"removed"`
}

// Validate invokes `git apply --check` with the diff piped on stdin in
// cwd, returning whether it applies cleanly and, if not, the captured
// stderr verbatim.
func Validate(ctx context.Context, diff string, cwd string) (valid bool, detail string, err error) {
	if strings.TrimSpace(diff) == "" {
		return true, "", nil
	}
	if strings.TrimSpace(cwd) == "" {
		return false, "repo root is unknown; cannot validate diff", nil
	}

	cmd := exec.CommandContext(ctx, "git", "apply", "--check", "-")
	cmd.Dir = cwd
	cmd.Stdin = strings.NewReader(diff)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	runErr := cmd.Run()
	if runErr == nil {
		return true, "", nil
	}
	if _, ok := runErr.(*exec.ExitError); ok {
		return false, strings.TrimSpace(stderr.String()), nil
	}
	return false, "", fmt.Errorf("invoke git apply --check: %w", runErr)
}

// ExtractAffectedFiles parses unified-diff text into a JSON array of
// AffectedFile. On parse failure it returns "[]" rather than an error,
// so the caller observes an empty affected-files set instead of a hard
// failure.
func ExtractAffectedFiles(diff string) string {
	files, err := parseUnifiedDiff(diff)
	if err != nil {
		return "[]"
	}
	buf, err := json.Marshal(files)
	if err != nil {
		return "[]"
	}
	return string(buf)
}

func parseUnifiedDiff(diff string) ([]AffectedFile, error) {
	if strings.TrimSpace(diff) == "" {
		return []AffectedFile{}, nil
	}

	var files []AffectedFile
	var current *AffectedFile
	var sawOldDevNull, sawNewDevNull bool

	scanner := bufio.NewScanner(strings.NewReader(diff))
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)

	flush := func() {
		if current == nil {
			return
		}
		if current.Operation == "" {
			switch {
			case sawOldDevNull:
				current.Operation = "create"
			case sawNewDevNull:
				current.Operation = "delete"
			default:
				current.Operation = "modify"
			}
		}
		files = append(files, *current)
		current = nil
		sawOldDevNull = false
		sawNewDevNull = false
	}

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "diff --git "):
			flush()
			path := parseDiffGitPath(line)
			current = &AffectedFile{Path: path}
		case strings.HasPrefix(line, "--- "):
			if current == nil {
				continue
			}
			if strings.Contains(line, "/dev/null") {
				sawOldDevNull = true
			}
		case strings.HasPrefix(line, "+++ "):
			if current == nil {
				continue
			}
			if strings.Contains(line, "/dev/null") {
				sawNewDevNull = true
			} else if current.Path == "" {
				current.Path = parsePlusMinusPath(line)
			}
		case strings.HasPrefix(line, "@@"):
			// Hunk header carries no per-file metadata we need; the
			// +N/-N counts come from content line prefixes below.
		case current != nil && strings.HasPrefix(line, "+") && !strings.HasPrefix(line, "+++"):
			current.Added++
		case current != nil && strings.HasPrefix(line, "-") && !strings.HasPrefix(line, "---"):
			current.Removed++
		}
	}
	flush()

	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if files == nil {
		files = []AffectedFile{}
	}
	return files, nil
}

// parseDiffGitPath extracts the file path from a "diff --git a/x b/x"
// header, preferring the b/ side (the post-change path).
func parseDiffGitPath(line string) string {
	rest := strings.TrimPrefix(line, "diff --git ")
	parts := strings.SplitN(rest, " b/", 2)
	if len(parts) == 2 {
		return parts[1]
	}
	return ""
}

func parsePlusMinusPath(line string) string {
	rest := strings.TrimPrefix(line, "+++ ")
	rest = strings.TrimPrefix(rest, "b/")
	if idx := strings.IndexByte(rest, '\t'); idx >= 0 {
		rest = rest[:idx]
	}
	return strings.TrimSpace(rest)
}
