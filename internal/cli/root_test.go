package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"casewizard/internal/blob"
	"casewizard/internal/credits"
	"casewizard/internal/domain"
	"casewizard/internal/drafts"
)

func TestRootCommandHasSubcommands(t *testing.T) {
	cmd := NewRoot()
	if cmd.Use != "casewizard" {
		t.Fatalf("unexpected root %q", cmd.Use)
	}
	want := map[string]bool{"run": false, "draft": false, "config": false}
	for _, sub := range cmd.Commands() {
		if _, ok := want[sub.Name()]; ok {
			want[sub.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Fatalf("missing %s command", name)
		}
	}
}

func writeConfig(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "casewizard.yaml")
	body := "owner_id: dr-silva\nstorage:\n  driver: memory\nblob:\n  driver: fs\n  fs_root: " + filepath.Join(dir, "blobs") + "\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func execute(t *testing.T, args ...string) string {
	t.Helper()
	cmd := NewRoot()
	cmd.SetArgs(args)
	buf := bytes.NewBuffer(nil)
	cmd.SetOut(buf)
	cmd.SetErr(bytes.NewBuffer(nil))
	if err := cmd.Execute(); err != nil {
		t.Fatalf("execute %v: %v", args, err)
	}
	return buf.String()
}

func TestConfigPrintShowsEffectiveConfig(t *testing.T) {
	path := writeConfig(t, t.TempDir())
	t.Setenv("CASEWIZARD_OWNER_ID", "dr-costa")
	out := execute(t, "--config", path, "config", "print")
	if !strings.Contains(out, "owner_id: dr-costa") || !strings.Contains(out, "driver: memory") {
		t.Fatalf("unexpected output:\n%s", out)
	}
}

func TestDraftShowAndDiscard(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir)
	if out := execute(t, "--config", path, "draft", "show"); !strings.Contains(out, "no draft") {
		t.Fatalf("expected empty draft output, got %q", out)
	}

	blobs, err := blob.Open(t.Context(), blob.Options{Driver: blob.DriverFilesystem, FSRoot: filepath.Join(dir, "blobs")})
	if err != nil {
		t.Fatalf("open blobs: %v", err)
	}
	st := domain.NewWorkflowState()
	st.Step = domain.StepAnalyzing
	if err := drafts.New(blobs).Save(t.Context(), domain.Draft{OwnerID: "dr-silva", State: st, LastSavedAt: time.Now()}); err != nil {
		t.Fatalf("save draft: %v", err)
	}
	out := execute(t, "--config", path, "draft", "show")
	if !strings.Contains(out, "step\t3") || !strings.Contains(out, "analysis\tinterrupted") {
		t.Fatalf("unexpected draft output:\n%s", out)
	}
	if out := execute(t, "--config", path, "draft", "discard"); !strings.Contains(out, "draft discarded") {
		t.Fatalf("unexpected discard output %q", out)
	}
	if out := execute(t, "--config", path, "draft", "show"); !strings.Contains(out, "no draft") {
		t.Fatalf("draft still present: %q", out)
	}
}

func TestConfirmerReadsAnswer(t *testing.T) {
	var prompt bytes.Buffer
	c := confirmerFor(false, strings.NewReader("y\n"), &prompt)
	ok, err := c.Confirm(t.Context(), creditsConfirmation())
	if err != nil || !ok {
		t.Fatalf("expected acceptance: %v %v", ok, err)
	}
	if !strings.Contains(prompt.String(), "Photo analysis costs 1 credit(s)") {
		t.Fatalf("unexpected prompt %q", prompt.String())
	}
	c = confirmerFor(false, strings.NewReader(""), &prompt)
	if ok, _ := c.Confirm(t.Context(), creditsConfirmation()); ok {
		t.Fatalf("empty answer must decline")
	}
}

func creditsConfirmation() credits.Confirmation {
	return credits.Confirmation{OperationKey: credits.OpCaseAnalysis, Label: "Photo analysis", Cost: 1, RemainingBalance: 9}
}
