package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type recordingFatal struct{ msg string }

func (r *recordingFatal) Fatalf(format string, args ...any) { r.msg = fmt.Sprintf(format, args...) }

func writeFile(t *testing.T, dir, name, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestDirectImportViolations(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.go", "package x\n\nimport (\n\t\"fmt\"\n\t\"mousedb/internal/core\"\n)\n")
	writeFile(t, dir, "a_test.go", "package x\n\nimport \"mousedb/internal/config\"\n")
	writeFile(t, dir, "notes.txt", "import \"mousedb/internal/x\"")

	viols, err := directImportViolations(dir, InternalImportForbidden)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(viols) != 1 || viols[0] != "mousedb/internal/core (in a.go)" {
		t.Fatalf("unexpected violations: %v", viols)
	}
}

func TestDirectImportViolationsParseError(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "bad.go", "package x\nimport (")
	if _, err := directImportViolations(dir, InternalImportForbidden); err == nil {
		t.Fatal("expected parse error")
	}
	if _, err := directImportViolations(filepath.Join(dir, "missing"), InternalImportForbidden); err == nil {
		t.Fatal("expected error for missing dir")
	}
}

func TestPredicates(t *testing.T) {
	cases := []struct {
		path     string
		internal bool
		infra    bool
	}{
		{"mousedb/internal/core", true, false},
		{"mousedb/internal/infra/blob/s3", true, true},
		{"mousedb/internal/persistence", true, true},
		{"mousedb/internal/blob/core", true, true},
		{"mousedb/pkg/domain", false, false},
		{"github.com/other/internal/x", false, false},
	}
	for _, tc := range cases {
		if got := InternalImportForbidden(tc.path); got != tc.internal {
			t.Errorf("InternalImportForbidden(%q) = %v", tc.path, got)
		}
		if got := InfraImportForbidden(tc.path); got != tc.infra {
			t.Errorf("InfraImportForbidden(%q) = %v", tc.path, got)
		}
	}
}

func TestFailIfViolations(t *testing.T) {
	var r recordingFatal
	failIfViolations(&r, "reason", nil)
	if r.msg != "" {
		t.Fatalf("unexpected failure: %s", r.msg)
	}
	failIfViolations(&r, "engine stays storage agnostic", []string{"a", "b"})
	if !strings.Contains(r.msg, "engine stays storage agnostic") || !strings.Contains(r.msg, "a\nb") {
		t.Fatalf("unexpected message: %s", r.msg)
	}
}
