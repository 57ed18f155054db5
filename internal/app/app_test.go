package app

import (
	"context"
	"path/filepath"
	"testing"

	"casewizard/internal/blob"
	"casewizard/internal/config"
	"casewizard/internal/credits"
	"casewizard/internal/domain"
	"casewizard/internal/persistence"
)

type stubAnalyzer struct{ calls int }

func (s *stubAnalyzer) Analyze(context.Context, []byte) (domain.AnalysisResult, error) {
	s.calls++
	return domain.AnalysisResult{
		DetectedItems:  []domain.DetectedItem{{ItemID: "21", TreatmentIndication: domain.TreatmentResin, Primary: true}},
		SuggestedColor: "A2",
	}, nil
}

type stubProtocols struct{}

func (stubProtocols) GenerateResinProtocol(context.Context, domain.ProtocolRequest) (domain.ProtocolContent, error) {
	return domain.ProtocolContent{Summary: "resin", Checklist: []string{"isolate"}}, nil
}

func (stubProtocols) GenerateCementationProtocol(context.Context, domain.ProtocolRequest) (domain.ProtocolContent, error) {
	return domain.ProtocolContent{Summary: "cementation"}, nil
}

func memoryConfig() *config.Config {
	cfg := config.Default()
	cfg.OwnerID = "dr-silva"
	cfg.Storage.Driver = persistence.DriverMemory
	cfg.Blob.Driver = blob.DriverMemory
	cfg.CompletionDelay = "0s"
	return cfg
}

func TestNewRunsACaseAndSpendsCredits(t *testing.T) {
	ctx := context.Background()
	analyzer := &stubAnalyzer{}
	a, err := New(ctx, memoryConfig(), Options{
		Confirmer: credits.AutoConfirm(true),
		Analyzer:  analyzer,
		Protocols: stubProtocols{},
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	defer func() { _ = a.Close() }()

	engine := a.Engine
	if _, err := engine.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := engine.SetCapturedImage(ctx, []byte("jpeg")); err != nil {
		t.Fatalf("capture: %v", err)
	}
	if ok, err := engine.GoToPreferences(ctx); !ok || err != nil {
		t.Fatalf("preferences: %v %v", ok, err)
	}
	if err := engine.Analyze(ctx); err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if !engine.Skip() {
		t.Fatalf("skip failed")
	}
	outcome, err := engine.Submit(ctx)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if outcome.Status() != domain.OutcomeSuccess {
		t.Fatalf("unexpected outcome %+v", outcome)
	}
	remaining, _ := a.Ledger.RemainingBalance(ctx)
	if remaining != 9 || analyzer.calls != 1 {
		t.Fatalf("expected one analysis debit, remaining=%d calls=%d", remaining, analyzer.calls)
	}
	evaluations, err := a.Records.ListEvaluations(ctx, outcome.SessionID)
	if err != nil || len(evaluations) != 1 || evaluations[0].Status != persistence.StatusCompleted {
		t.Fatalf("unexpected evaluations %+v (%v)", evaluations, err)
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := memoryConfig()
	cfg.Blob.Driver = "tape"
	if _, err := New(context.Background(), cfg, Options{}); err == nil {
		t.Fatalf("expected config error")
	}
}

func TestOpenRecordsSQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.db")
	store, closeFn, err := OpenRecords(context.Background(), config.StorageConfig{Driver: persistence.DriverSQLite, SQLitePath: path})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	defer func() { _ = closeFn() }()
	if _, err := store.CreatePatient(context.Background(), persistence.Patient{OwnerID: "dr-silva", Name: "Ana"}); err != nil {
		t.Fatalf("create patient: %v", err)
	}
	if _, _, err := OpenRecords(context.Background(), config.StorageConfig{Driver: "mongo"}); err == nil {
		t.Fatalf("expected unknown driver error")
	}
}
