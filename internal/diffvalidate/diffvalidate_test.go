package diffvalidate

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
)

func TestValidateEmptyDiffIsValid(t *testing.T) {
	valid, detail, err := Validate(context.Background(), "", t.TempDir())
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !valid {
		t.Fatalf("empty diff should be valid, got detail %q", detail)
	}
}

func TestValidateUnknownRepoRoot(t *testing.T) {
	valid, detail, err := Validate(context.Background(), "diff --git a/x b/x\n", "")
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if valid {
		t.Fatalf("expected invalid with empty cwd")
	}
	if detail == "" {
		t.Fatalf("expected a detail message")
	}
}

func TestValidateAppliesCleanly(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}

	dir := t.TempDir()
	runGit(t, dir, "init")
	runGit(t, dir, "config", "user.email", "test@example.com")
	runGit(t, dir, "config", "user.name", "test")

	original := filepath.Join(dir, "hello.txt")
	if err := os.WriteFile(original, []byte("line one\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	runGit(t, dir, "add", "hello.txt")
	runGit(t, dir, "commit", "-m", "initial")

	diff := "" +
		"diff --git a/hello.txt b/hello.txt\n" +
		"index e69de29..4b825dc 100644\n" +
		"--- a/hello.txt\n" +
		"+++ b/hello.txt\n" +
		"@@ -1 +1,2 @@\n" +
		" line one\n" +
		"+line two\n"

	valid, detail, err := Validate(context.Background(), diff, dir)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !valid {
		t.Fatalf("expected diff to apply cleanly, got detail %q", detail)
	}
}

func TestValidateRejectsGarbage(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}

	dir := t.TempDir()
	runGit(t, dir, "init")

	valid, detail, err := Validate(context.Background(), "this is not a diff at all\n", dir)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if valid {
		t.Fatalf("expected garbage diff to be rejected")
	}
	if detail == "" {
		t.Fatalf("expected stderr detail on rejection")
	}
}

func TestExtractAffectedFilesSingleModify(t *testing.T) {
	diff := "" +
		"diff --git a/hello.txt b/hello.txt\n" +
		"--- a/hello.txt\n" +
		"+++ b/hello.txt\n" +
		"@@ -1 +1,2 @@\n" +
		" line one\n" +
		"+line two\n"

	out := ExtractAffectedFiles(diff)
	files, err := parseUnifiedDiff(diff)
	if err != nil {
		t.Fatalf("parseUnifiedDiff: %v", err)
	}
	if len(files) != 1 {
		t.Fatalf("expected 1 affected file, got %d (json=%s)", len(files), out)
	}
	f := files[0]
	if f.Path != "hello.txt" {
		t.Fatalf("path = %q, want hello.txt", f.Path)
	}
	if f.Operation != "modify" {
		t.Fatalf("operation = %q, want modify", f.Operation)
	}
	if f.Added != 1 || f.Removed != 0 {
		t.Fatalf("added=%d removed=%d, want 1/0", f.Added, f.Removed)
	}
}

func TestExtractAffectedFilesCreateAndDelete(t *testing.T) {
	diff := "" +
		"diff --git a/new.txt b/new.txt\n" +
		"new file mode 100644\n" +
		"--- /dev/null\n" +
		"+++ b/new.txt\n" +
		"@@ -0,0 +1 @@\n" +
		"+hello\n" +
		"diff --git a/old.txt b/old.txt\n" +
		"deleted file mode 100644\n" +
		"--- a/old.txt\n" +
		"+++ /dev/null\n" +
		"@@ -1 +0,0 @@\n" +
		"-bye\n"

	files, err := parseUnifiedDiff(diff)
	if err != nil {
		t.Fatalf("parseUnifiedDiff: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("expected 2 affected files, got %d", len(files))
	}
	if files[0].Path != "new.txt" || files[0].Operation != "create" {
		t.Fatalf("files[0] = %+v, want new.txt/create", files[0])
	}
	if files[1].Path != "old.txt" || files[1].Operation != "delete" {
		t.Fatalf("files[1] = %+v, want old.txt/delete", files[1])
	}
}

func TestExtractAffectedFilesEmptyDiffReturnsEmptyArray(t *testing.T) {
	if got := ExtractAffectedFiles(""); got != "[]" {
		t.Fatalf("ExtractAffectedFiles(empty) = %q, want []", got)
	}
}

func runGit(t *testing.T, dir string, args ...string) {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("git %v: %v\n%s", args, err, out)
	}
}
