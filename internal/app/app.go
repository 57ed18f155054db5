// Package app wires configured storage, remote services and credits into a
// workflow engine.
package app

import (
	"context"
	"errors"
	"fmt"

	"casewizard/internal/assets"
	"casewizard/internal/blob"
	"casewizard/internal/config"
	"casewizard/internal/credits"
	"casewizard/internal/domain"
	"casewizard/internal/drafts"
	"casewizard/internal/infra/persistence/memory"
	"casewizard/internal/infra/persistence/postgres"
	"casewizard/internal/infra/persistence/sqlite"
	"casewizard/internal/persistence"
	"casewizard/internal/remote"
	"casewizard/internal/retry"
	"casewizard/internal/workflow"
)

// Options carries the host-side collaborators. Analyzer and Protocols
// replace the remote client when set.
type Options struct {
	Logger     workflow.Logger
	Confirmer  credits.Confirmer
	Notifier   workflow.Notifier
	Navigation workflow.Navigation
	Metrics    workflow.MetricsRecorder
	Tracer     workflow.Tracer
	Analyzer   workflow.Analyzer
	Protocols  workflow.ProtocolGenerator
}

// App is a wired engine plus the resources it owns.
type App struct {
	Config  *config.Config
	Engine  *workflow.Engine
	Ledger  *credits.Ledger
	Records persistence.Store
	Blobs   blob.Store
	Drafts  *drafts.Store

	closers []func() error
}

// OpenRecords selects the records backend.
func OpenRecords(ctx context.Context, cfg config.StorageConfig) (persistence.Store, func() error, error) {
	switch cfg.Driver {
	case persistence.DriverMemory:
		return memory.NewStore(), func() error { return nil }, nil
	case persistence.DriverSQLite, "":
		s, err := sqlite.NewStore(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	case persistence.DriverPostgres:
		s, err := postgres.NewStore(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage driver %s", cfg.Driver)
	}
}

// New opens every backend named by cfg and builds the engine.
func New(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = discardLogger{}
	}
	blobs, err := blob.Open(ctx, blob.Options{Driver: cfg.Blob.Driver, FSRoot: cfg.Blob.FSRoot, S3: cfg.Blob.S3})
	if err != nil {
		return nil, fmt.Errorf("open blob store: %w", err)
	}
	records, closeRecords, err := OpenRecords(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("open records store: %w", err)
	}
	a := &App{
		Config:  cfg,
		Ledger:  credits.NewLedger(cfg.Credits.StartingBalance, cfg.Credits.Costs),
		Records: records,
		Blobs:   blobs,
		Drafts:  drafts.New(blobs),
		closers: []func() error{closeRecords},
	}

	client := remote.NewClient(cfg.Remote.BaseURL,
		remote.WithAPIKey(cfg.Remote.APIKey),
		remote.WithTimeout(cfg.RemoteTimeout()))
	var analyzer workflow.Analyzer = client
	if opts.Analyzer != nil {
		analyzer = opts.Analyzer
	}
	var protocols workflow.ProtocolGenerator = client
	if opts.Protocols != nil {
		protocols = opts.Protocols
	}
	confirmer := opts.Confirmer
	if confirmer == nil {
		confirmer = credits.AutoConfirm(false)
	}

	engineOpts := []workflow.Option{
		workflow.WithLogger(logger),
		workflow.WithAnalysisRetry(retry.Policy{
			MaxRetries: cfg.Retry.AnalysisRetries,
			Backoff:    retry.NewExponential(cfg.AnalysisBackoff(), 0),
		}),
		workflow.WithProtocolRetry(retry.Policy{
			MaxRetries: cfg.Retry.ProtocolRetries,
			Backoff:    retry.NewExponential(cfg.ProtocolBackoff(), 0),
		}),
		workflow.WithCompletionDelay(cfg.CompletionDelayDuration()),
		workflow.WithDraftExpiry(cfg.DraftExpiry()),
	}
	if opts.Notifier != nil {
		engineOpts = append(engineOpts, workflow.WithNotifier(opts.Notifier))
	}
	if opts.Navigation != nil {
		engineOpts = append(engineOpts, workflow.WithNavigation(opts.Navigation))
	}
	if opts.Metrics != nil {
		engineOpts = append(engineOpts, workflow.WithMetricsRecorder(opts.Metrics))
	}
	if opts.Tracer != nil {
		engineOpts = append(engineOpts, workflow.WithTracer(opts.Tracer))
	}

	engine, err := workflow.New(workflow.Dependencies{
		OwnerID:   cfg.OwnerID,
		Assets:    assets.New(blobs),
		Analyzer:  &spendingAnalyzer{next: analyzer, ledger: a.Ledger, logger: logger},
		Protocols: protocols,
		Records:   records,
		Drafts:    a.Drafts,
		Credits:   credits.NewGate(a.Ledger, confirmer),
	}, engineOpts...)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.Engine = engine
	return a, nil
}

// Close releases the records backend.
func (a *App) Close() error {
	var errs []error
	for _, c := range a.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// spendingAnalyzer debits the local ledger for each successful analysis,
// standing in for the server-side debit of the hosted service.
type spendingAnalyzer struct {
	next   workflow.Analyzer
	ledger *credits.Ledger
	logger workflow.Logger
}

func (s *spendingAnalyzer) Analyze(ctx context.Context, image []byte) (domain.AnalysisResult, error) {
	result, err := s.next.Analyze(ctx, image)
	if err != nil {
		return result, err
	}
	if err := s.ledger.Spend(credits.OpCaseAnalysis); err != nil {
		s.logger.Warn("credit debit failed", "operation", credits.OpCaseAnalysis, "error", err)
	}
	return result, nil
}

type discardLogger struct{}

func (discardLogger) Debug(string, ...any) {}
func (discardLogger) Info(string, ...any)  {}
func (discardLogger) Warn(string, ...any)  {}
func (discardLogger) Error(string, ...any) {}
