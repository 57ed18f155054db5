package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

type recordingFatal struct{ msg string }

func (r *recordingFatal) Fatalf(format string, args ...any) { r.msg = fmt.Sprintf(format, args...) }

func TestDirectImportViolations(t *testing.T) {
	dir := t.TempDir()
	src := "package x\n\nimport (\n\t\"fmt\"\n\t\"casewizard/internal/infra/blob/s3\"\n)\n"
	if err := os.WriteFile(filepath.Join(dir, "x.go"), []byte(src), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "x_test.go"), []byte("package x\n\nimport _ \"casewizard/internal/infra/persistence/memory\"\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	viols, err := directImportViolations(dir, InfraImportForbidden)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(viols) != 1 || viols[0] != "casewizard/internal/infra/blob/s3 (in x.go)" {
		t.Fatalf("unexpected violations %v", viols)
	}
	rec := &recordingFatal{}
	failIfDirectViolations(rec, "drivers stay behind interfaces", viols)
	if rec.msg == "" {
		t.Fatalf("expected failure message")
	}
}

func TestNonStdlibImportForbidden(t *testing.T) {
	cases := map[string]bool{
		"fmt":                         false,
		"encoding/json":               false,
		"github.com/google/uuid":      true,
		"gopkg.in/yaml.v3":            true,
		"casewizard/internal/domain":  true,
	}
	for path, want := range cases {
		if got := NonStdlibImportForbidden(path); got != want {
			t.Fatalf("%s: got %v want %v", path, got, want)
		}
	}
}
