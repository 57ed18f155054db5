package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"casewizard/internal/assets"
	"casewizard/internal/blob"
	"casewizard/internal/credits"
	"casewizard/internal/domain"
	"casewizard/internal/drafts"
	"casewizard/internal/infra/persistence/memory"
)

var testNow = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

func noSleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

type captureLogger struct {
	mu      sync.Mutex
	entries []string
}

func (l *captureLogger) record(level, msg string) {
	l.mu.Lock()
	l.entries = append(l.entries, level+": "+msg)
	l.mu.Unlock()
}

func (l *captureLogger) Debug(msg string, _ ...any) { l.record("debug", msg) }
func (l *captureLogger) Info(msg string, _ ...any)  { l.record("info", msg) }
func (l *captureLogger) Warn(msg string, _ ...any)  { l.record("warn", msg) }
func (l *captureLogger) Error(msg string, _ ...any) { l.record("error", msg) }

func (l *captureLogger) has(entry string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.entries {
		if e == entry {
			return true
		}
	}
	return false
}

type metricCall struct {
	operation string
	success   bool
}

type captureMetricsRecorder struct {
	mu    sync.Mutex
	calls []metricCall
}

func (r *captureMetricsRecorder) Observe(_ context.Context, operation string, success bool, _ time.Duration) {
	r.mu.Lock()
	r.calls = append(r.calls, metricCall{operation: operation, success: success})
	r.mu.Unlock()
}

func (r *captureMetricsRecorder) count(operation string, success bool) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.calls {
		if c.operation == operation && c.success == success {
			n++
		}
	}
	return n
}

// fakeAnalyzer returns result unless fn is set.
type fakeAnalyzer struct {
	mu     sync.Mutex
	calls  int
	result domain.AnalysisResult
	fn     func(ctx context.Context, call int) (domain.AnalysisResult, error)
}

func (a *fakeAnalyzer) Analyze(ctx context.Context, _ []byte) (domain.AnalysisResult, error) {
	a.mu.Lock()
	a.calls++
	call := a.calls
	fn := a.fn
	result := a.result
	a.mu.Unlock()
	if fn != nil {
		return fn(ctx, call)
	}
	return result, nil
}

func (a *fakeAnalyzer) callCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

// fakeProtocols fails every call for the item ids in fail.
type fakeProtocols struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]error
	block chan struct{}
}

func (p *fakeProtocols) generate(ctx context.Context, kind string, req domain.ProtocolRequest) (domain.ProtocolContent, error) {
	p.mu.Lock()
	p.calls = append(p.calls, req.ItemID)
	err := p.fail[req.ItemID]
	block := p.block
	p.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return domain.ProtocolContent{}, ctx.Err()
		}
	}
	if err != nil {
		return domain.ProtocolContent{}, err
	}
	return domain.ProtocolContent{
		Summary:   fmt.Sprintf("%s protocol for %s", kind, req.ItemID),
		Checklist: []string{"isolate", "etch", "bond"},
	}, nil
}

func (p *fakeProtocols) GenerateResinProtocol(ctx context.Context, req domain.ProtocolRequest) (domain.ProtocolContent, error) {
	return p.generate(ctx, "resin", req)
}

func (p *fakeProtocols) GenerateCementationProtocol(ctx context.Context, req domain.ProtocolRequest) (domain.ProtocolContent, error) {
	return p.generate(ctx, "cementation", req)
}

func (p *fakeProtocols) callIDs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

type confirmRecorder struct {
	mu      sync.Mutex
	accept  bool
	prompts []credits.Confirmation
}

func (c *confirmRecorder) Confirm(_ context.Context, conf credits.Confirmation) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prompts = append(c.prompts, conf)
	return c.accept, nil
}

func (c *confirmRecorder) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.prompts)
}

// flakyAssets wraps an asset store with injectable download failures.
type flakyAssets struct {
	*assets.Store
	downloadErr error
	downloads   int
}

func (f *flakyAssets) Download(ctx context.Context, ref string) ([]byte, error) {
	f.downloads++
	if f.downloadErr != nil {
		return nil, f.downloadErr
	}
	return f.Store.Download(ctx, ref)
}

type harness struct {
	t         *testing.T
	engine    *Engine
	analyzer  *fakeAnalyzer
	protocols *fakeProtocols
	records   *memory.Store
	drafts    *drafts.Store
	assets    *flakyAssets
	ledger    *credits.Ledger
	confirm   *confirmRecorder
	notices   *NoticeLog
	logger    *captureLogger
	metrics   *captureMetricsRecorder
	clock     *testClock
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

const testOwner = "dr-silva"

func newHarness(t *testing.T, balance int, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		t:         t,
		analyzer:  &fakeAnalyzer{result: sampleResult()},
		protocols: &fakeProtocols{fail: map[string]error{}},
		ledger:    credits.NewLedger(balance, credits.DefaultCosts()),
		confirm:   &confirmRecorder{accept: true},
		notices:   &NoticeLog{},
		logger:    &captureLogger{},
		metrics:   &captureMetricsRecorder{},
		clock:     &testClock{now: testNow},
	}
	seq := 0
	h.records = memory.NewStore(
		memory.WithClock(h.clock.Now),
		memory.WithIDGenerator(func() string { seq++; return fmt.Sprintf("rec-%03d", seq) }),
	)
	h.drafts = drafts.New(blob.NewMemory())
	h.assets = &flakyAssets{Store: assets.New(blob.NewMemory())}
	sessions := 0
	base := []Option{
		WithLogger(h.logger),
		WithClock(h.clock),
		WithMetricsRecorder(h.metrics),
		WithNotifier(h.notices),
		WithSleeper(noSleep),
		WithCompletionDelay(0),
		WithSessionIDs(func() string { sessions++; return fmt.Sprintf("session-%d", sessions) }),
	}
	engine, err := New(Dependencies{
		OwnerID:   testOwner,
		Assets:    h.assets,
		Analyzer:  h.analyzer,
		Protocols: h.protocols,
		Records:   h.records,
		Drafts:    h.drafts,
		Credits:   credits.NewGate(h.ledger, h.confirm),
	}, append(base, opts...)...)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	h.engine = engine
	return h
}

// sampleResult detects 21 (primary, resin) and 11 (porcelain).
func sampleResult() domain.AnalysisResult {
	return domain.AnalysisResult{
		DetectedItems: []domain.DetectedItem{
			{ItemID: "21", Priority: domain.PriorityHigh, TreatmentIndication: "Resin", CavityClass: "IV", Depth: "medium", Primary: true},
			{ItemID: "11", Priority: domain.PriorityLow, TreatmentIndication: "porcelain veneer", IndicationReason: "diastema"},
		},
		PrimaryItemID:  "21",
		SuggestedColor: "A2",
	}
}

func (h *harness) capture() {
	h.t.Helper()
	if err := h.engine.SetCapturedImage(context.Background(), []byte("jpeg-bytes")); err != nil {
		h.t.Fatalf("capture: %v", err)
	}
}

// toReview drives a full case to the review step.
func (h *harness) toReview() {
	h.t.Helper()
	ctx := context.Background()
	h.capture()
	ok, err := h.engine.GoToPreferences(ctx)
	if err != nil || !ok {
		h.t.Fatalf("go to preferences: ok=%v err=%v", ok, err)
	}
	if err := h.engine.Analyze(ctx); err != nil {
		h.t.Fatalf("analyze: %v", err)
	}
	if !h.engine.Skip() {
		h.t.Fatalf("skip design failed at step %d", h.engine.State().Step)
	}
}

func (h *harness) setState(fn func(s *domain.WorkflowState)) {
	h.engine.update(fn)
}

var errConnReset = errors.New("connection reset by peer")
