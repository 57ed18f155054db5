package drafts

import (
	"context"
	"testing"
	"time"

	"casewizard/internal/blob"
	"casewizard/internal/domain"
)

func TestSaveLoadClear(t *testing.T) {
	ctx := context.Background()
	store := New(blob.NewMemory())
	if _, ok, err := store.Load(ctx, "owner-1"); err != nil || ok {
		t.Fatalf("expected no draft, got ok=%v err=%v", ok, err)
	}
	state := domain.NewWorkflowState()
	state.Step = domain.StepReview
	state.UploadedAssetRef = "assets/owner-1/x"
	state.CapturedImage = []byte("not persisted")
	state.ItemTreatmentAssignments["11"] = domain.TreatmentPorcelain
	saved := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	if err := store.Save(ctx, domain.Draft{OwnerID: "owner-1", State: state, ManualShadeOverride: true, LastSavedAt: saved}); err != nil {
		t.Fatalf("save: %v", err)
	}
	state.Step = domain.StepDesign
	if err := store.Save(ctx, domain.Draft{OwnerID: "owner-1", State: state, LastSavedAt: saved.Add(time.Minute)}); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	got, ok, err := store.Load(ctx, "owner-1")
	if err != nil || !ok {
		t.Fatalf("load: ok=%v err=%v", ok, err)
	}
	if got.State.Step != domain.StepDesign || got.ManualShadeOverride {
		t.Fatalf("expected the second snapshot, got %+v", got)
	}
	if got.State.CapturedImage != nil {
		t.Fatalf("captured image must not be serialised")
	}
	if got.State.ItemTreatmentAssignments["11"] != domain.TreatmentPorcelain {
		t.Fatalf("assignments lost: %+v", got.State.ItemTreatmentAssignments)
	}
	if !got.LastSavedAt.Equal(saved.Add(time.Minute)) {
		t.Fatalf("unexpected saved at %s", got.LastSavedAt)
	}
	if err := store.Clear(ctx, "owner-1"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if err := store.Clear(ctx, "owner-1"); err != nil {
		t.Fatalf("clear missing: %v", err)
	}
	if _, ok, _ := store.Load(ctx, "owner-1"); ok {
		t.Fatalf("expected draft cleared")
	}
}

func TestOwnerRequired(t *testing.T) {
	store := New(blob.NewMemory())
	if err := store.Save(context.Background(), domain.Draft{}); err == nil {
		t.Fatalf("expected owner error")
	}
}
