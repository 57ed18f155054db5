package workflow

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"casewizard/internal/domain"
)

func TestAutosaveRequiresImageAndDedupes(t *testing.T) {
	h := newHarness(t, 10)
	ctx := context.Background()
	if err := h.engine.UpdateField(domain.FieldClinicalNotes, "sensitivity"); err != nil {
		t.Fatalf("update: %v", err)
	}
	if _, ok, _ := h.drafts.Load(ctx, testOwner); ok {
		t.Fatalf("nothing is saved without a photo")
	}
	h.capture()
	if got := h.metrics.count("autosave", true); got != 1 {
		t.Fatalf("expected one save after capture, got %d", got)
	}
	h.setState(func(*domain.WorkflowState) {})
	if got := h.metrics.count("autosave", true); got != 1 {
		t.Fatalf("identical state must not be saved again, got %d", got)
	}
	if err := h.engine.UpdateField(domain.FieldClinicalNotes, "cold sensitivity"); err != nil {
		t.Fatalf("update: %v", err)
	}
	if got := h.metrics.count("autosave", true); got != 2 {
		t.Fatalf("changed state must be saved, got %d", got)
	}
	if err := h.engine.VisibilityHidden(ctx); err != nil {
		t.Fatalf("visibility hidden: %v", err)
	}
	if got := h.metrics.count("autosave", true); got != 3 {
		t.Fatalf("hidden save is forced, got %d", got)
	}
	d, ok, err := h.drafts.Load(ctx, testOwner)
	if err != nil || !ok {
		t.Fatalf("expected stored draft: %v", err)
	}
	if d.State.FormFields.ClinicalNotes != "cold sensitivity" || !d.LastSavedAt.Equal(testNow) || d.OwnerID != testOwner {
		t.Fatalf("unexpected draft %+v", d)
	}
}

// seedDraft stores a draft saved age ago with an uploaded photo.
func seedDraft(h *harness, age time.Duration, mutate func(*domain.WorkflowState)) string {
	h.t.Helper()
	ctx := context.Background()
	ref, err := h.assets.Upload(ctx, testOwner, []byte("stored-photo"))
	if err != nil {
		h.t.Fatalf("upload: %v", err)
	}
	st := domain.NewWorkflowState()
	st.UploadedAssetRef = ref
	st.FormFields.PatientName = "Ana Souza"
	if mutate != nil {
		mutate(&st)
	}
	if err := h.drafts.Save(ctx, domain.Draft{OwnerID: testOwner, State: st, LastSavedAt: testNow.Add(-age)}); err != nil {
		h.t.Fatalf("seed draft: %v", err)
	}
	return ref
}

func TestStartFindsPendingDraftAndSuspendsAutosave(t *testing.T) {
	h := newHarness(t, 10)
	seedDraft(h, time.Hour, nil)
	pending, err := h.engine.Start(context.Background())
	if err != nil || !pending {
		t.Fatalf("expected pending draft: pending=%v err=%v", pending, err)
	}
	if d, ok := h.engine.PendingDraft(); !ok || d.State.FormFields.PatientName != "Ana Souza" {
		t.Fatalf("pending draft not exposed: %+v", d)
	}
	h.capture()
	if got := h.metrics.count("autosave", true); got != 0 {
		t.Fatalf("autosave must wait for restore or discard, got %d saves", got)
	}
}

func TestDraftExpiryBoundary(t *testing.T) {
	h := newHarness(t, 10)
	seedDraft(h, domain.DraftExpiry, nil)
	if pending, _ := h.engine.Start(context.Background()); !pending {
		t.Fatalf("a draft exactly seven days old is still valid")
	}

	h = newHarness(t, 10)
	seedDraft(h, domain.DraftExpiry+time.Second, nil)
	pending, err := h.engine.Start(context.Background())
	if err != nil || pending {
		t.Fatalf("expired draft must not be offered: pending=%v err=%v", pending, err)
	}
	if _, ok, _ := h.drafts.Load(context.Background(), testOwner); ok {
		t.Fatalf("expired draft must be deleted")
	}
	if !h.logger.has("info: discarding expired draft") {
		t.Fatalf("expected expiry log, got %v", h.logger.entries)
	}
}

func TestRestoreAppliesSnapshot(t *testing.T) {
	h := newHarness(t, 10)
	ref := seedDraft(h, time.Hour, func(s *domain.WorkflowState) {
		s.Step = domain.StepResult
		s.Completed = true
		s.FormFields.Shade = "B1"
		s.DetectedItems = []domain.DetectedItem{{ItemID: "21", Region: domain.RegionUpperAnterior}}
		s.SelectedItemIDs = []string{"21"}
	})
	d, _, _ := h.drafts.Load(context.Background(), testOwner)
	d.ManualShadeOverride = true
	if err := h.drafts.Save(context.Background(), d); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := h.engine.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := h.engine.Restore(context.Background()); err != nil {
		t.Fatalf("restore: %v", err)
	}
	st := h.engine.State()
	if st.Step != domain.StepReview || st.Completed {
		t.Fatalf("a finished snapshot is restored onto review, got step %d", st.Step)
	}
	if !st.Signals.ShadeManuallySet || st.FormFields.Shade != "B1" {
		t.Fatalf("manual shade flag must be restored")
	}
	if !bytes.Equal(st.CapturedImage, []byte("stored-photo")) || st.UploadedAssetRef != ref {
		t.Fatalf("photo not restored")
	}
	if _, ok := h.engine.PendingDraft(); ok {
		t.Fatalf("pending draft must be consumed")
	}
	if !st.Signals.LowBalanceChecked {
		t.Fatalf("low balance latch must survive restore")
	}
	if err := h.engine.Restore(context.Background()); !errors.Is(err, errNoPendingDraft) {
		t.Fatalf("second restore must fail, got %v", err)
	}
}

func TestRestoreResumesInterruptedAnalysisOnce(t *testing.T) {
	h := newHarness(t, 10)
	seedDraft(h, time.Hour, func(s *domain.WorkflowState) {
		s.Step = domain.StepAnalyzing
		s.Signals.CreditsPreConfirmed = false
	})
	if _, err := h.engine.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := h.engine.Restore(context.Background()); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if got := h.analyzer.callCount(); got != 1 {
		t.Fatalf("expected one resumed analysis, got %d", got)
	}
	if h.confirm.count() != 0 {
		t.Fatalf("resumed analysis must not prompt for credits")
	}
	st := h.engine.State()
	if st.Step != domain.StepDesign || st.Signals.ReanalyzePending || len(st.DetectedItems) != 2 {
		t.Fatalf("unexpected state after resume: step=%d pending=%v", st.Step, st.Signals.ReanalyzePending)
	}
	h.capture()
	if got := h.analyzer.callCount(); got != 1 {
		t.Fatalf("resume is one-shot, got %d calls", got)
	}
}

func TestRestoreSurvivesDownloadFailure(t *testing.T) {
	h := newHarness(t, 10)
	seedDraft(h, time.Hour, func(s *domain.WorkflowState) { s.Step = domain.StepAnalyzing })
	h.assets.downloadErr = errors.New("object storage unavailable")
	if _, err := h.engine.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := h.engine.Restore(context.Background()); err != nil {
		t.Fatalf("restore must succeed without the photo: %v", err)
	}
	if !h.logger.has("warn: draft restore: photo download failed") {
		t.Fatalf("expected download warning")
	}
	st := h.engine.State()
	if len(st.CapturedImage) != 0 || !st.Signals.ReanalyzePending || h.analyzer.callCount() != 0 {
		t.Fatalf("analysis must wait for a new photo")
	}
	h.capture()
	if got := h.analyzer.callCount(); got != 1 {
		t.Fatalf("capturing a photo resumes the analysis, got %d calls", got)
	}
	if h.engine.State().Signals.ReanalyzePending {
		t.Fatalf("pending flag must be consumed")
	}
}

func TestDiscardResetsWorkflow(t *testing.T) {
	h := newHarness(t, 10)
	seedDraft(h, time.Hour, func(s *domain.WorkflowState) { s.Step = domain.StepReview })
	if _, err := h.engine.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := h.engine.Discard(context.Background()); err != nil {
		t.Fatalf("discard: %v", err)
	}
	if _, ok, _ := h.drafts.Load(context.Background(), testOwner); ok {
		t.Fatalf("draft must be deleted")
	}
	st := h.engine.State()
	if st.Step != domain.StepCapture || st.FormFields.PatientName != "" || !st.Signals.LowBalanceChecked {
		t.Fatalf("unexpected state after discard: %+v", st)
	}
	if _, ok := h.engine.PendingDraft(); ok {
		t.Fatalf("pending draft must be dropped")
	}
	h.capture()
	if got := h.metrics.count("autosave", true); got != 1 {
		t.Fatalf("autosave resumes after discard, got %d", got)
	}
}
