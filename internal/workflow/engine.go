// Package workflow is the case orchestration engine: step navigation,
// credit-gated analysis, design integration, review, the submission pipeline
// and draft autosave/restore, exposed as one state/action surface.
package workflow

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"casewizard/internal/credits"
	"casewizard/internal/domain"
	"casewizard/internal/drafts"
	"casewizard/internal/persistence"
	"casewizard/internal/retry"
)

// Analyzer is the remote photo analyzer.
type Analyzer interface {
	Analyze(ctx context.Context, image []byte) (domain.AnalysisResult, error)
}

// ProtocolGenerator is the remote protocol generation service.
type ProtocolGenerator interface {
	GenerateResinProtocol(ctx context.Context, req domain.ProtocolRequest) (domain.ProtocolContent, error)
	GenerateCementationProtocol(ctx context.Context, req domain.ProtocolRequest) (domain.ProtocolContent, error)
}

// AssetStore uploads and downloads captured photos.
type AssetStore interface {
	Upload(ctx context.Context, ownerID string, data []byte) (string, error)
	Download(ctx context.Context, ref string) ([]byte, error)
}

// Dependencies are the collaborators an Engine drives.
type Dependencies struct {
	OwnerID   string
	Assets    AssetStore
	Analyzer  Analyzer
	Protocols ProtocolGenerator
	Records   persistence.Store
	Drafts    drafts.Repository
	Credits   *credits.Gate
}

func (d Dependencies) validate() error {
	var missing []error
	if d.OwnerID == "" {
		missing = append(missing, errors.New("owner id"))
	}
	if d.Assets == nil {
		missing = append(missing, errors.New("asset store"))
	}
	if d.Analyzer == nil {
		missing = append(missing, errors.New("analyzer"))
	}
	if d.Protocols == nil {
		missing = append(missing, errors.New("protocol generator"))
	}
	if d.Records == nil {
		missing = append(missing, errors.New("records store"))
	}
	if d.Drafts == nil {
		missing = append(missing, errors.New("draft store"))
	}
	if d.Credits == nil {
		missing = append(missing, errors.New("credit gate"))
	}
	if len(missing) > 0 {
		return errors.Join(append([]error{errors.New("workflow: missing dependencies")}, missing...)...)
	}
	return nil
}

// deferredAction is a late-bound call. The navigator is built holding one
// before the analysis stage exists; the stage binds itself afterward.
type deferredAction struct {
	mu sync.RWMutex
	fn func(ctx context.Context) error
}

var errUnbound = errors.New("workflow: action not bound")

var (
	errNothingDetected = errors.New("no items detected")
	errNoPendingDraft  = errors.New("workflow: no draft to restore")
)

func (d *deferredAction) bind(fn func(ctx context.Context) error) {
	d.mu.Lock()
	d.fn = fn
	d.mu.Unlock()
}

func (d *deferredAction) call(ctx context.Context) error {
	d.mu.RLock()
	fn := d.fn
	d.mu.RUnlock()
	if fn == nil {
		return errUnbound
	}
	return fn(ctx)
}

// Engine owns the WorkflowState and every action over it. Remote calls run
// without the state lock held; their results are applied only if still current.
type Engine struct {
	deps Dependencies

	logger          Logger
	clock           Clock
	metrics         MetricsRecorder
	tracer          Tracer
	notifier        Notifier
	navigation      Navigation
	sleep           retry.Sleeper
	analysisPolicy  retry.Policy
	protocolPolicy  retry.Policy
	completionDelay time.Duration
	newSessionID    func() string
	draftExpiry     time.Duration

	mu             sync.Mutex
	state          domain.WorkflowState
	analysisGen    uint64
	cancelAnalysis context.CancelFunc
	outcome        *domain.SubmissionOutcome
	pendingDraft   *domain.Draft
	subscribers    map[int]func(domain.WorkflowState)
	nextSub        int

	nav       *navigator
	analysis  *analysisStage
	autosave  *autosaver
	checklist *ChecklistEditor
}

// DefaultCompletionDelay is the pause before a finished submission is signalled.
const DefaultCompletionDelay = 1500 * time.Millisecond

// New wires an engine at pristine step 1.
func New(deps Dependencies, opts ...Option) (*Engine, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		deps:            deps,
		logger:          noopLogger{},
		clock:           ClockFunc(func() time.Time { return time.Now().UTC() }),
		metrics:         noopMetrics{},
		tracer:          noopTracer{},
		notifier:        noopNotifier{},
		sleep:           retry.SleepContext,
		analysisPolicy:  retry.AnalysisPolicy(),
		protocolPolicy:  retry.ProtocolPolicy(),
		completionDelay: DefaultCompletionDelay,
		newSessionID:    uuid.NewString,
		draftExpiry:     domain.DraftExpiry,
		state:           domain.NewWorkflowState(),
		subscribers:     make(map[int]func(domain.WorkflowState)),
	}
	for _, opt := range opts {
		opt(e)
	}
	trigger := &deferredAction{}
	e.nav = &navigator{e: e, analyze: trigger}
	e.analysis = &analysisStage{e: e}
	trigger.bind(e.analysis.analyze)
	e.autosave = &autosaver{e: e}
	e.Subscribe(e.autosave.observe)
	e.checklist = NewChecklistEditor(deps.Records, e.logger)
	return e, nil
}

// State returns a copy of the current workflow state.
func (e *Engine) State() domain.WorkflowState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Clone()
}

// Outcome returns the last finalized submission outcome.
func (e *Engine) Outcome() (domain.SubmissionOutcome, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.outcome == nil {
		return domain.SubmissionOutcome{}, false
	}
	return e.outcome.Clone(), true
}

// Subscribe registers fn to receive a copy of the state after every change.
// The returned func unregisters it.
func (e *Engine) Subscribe(fn func(domain.WorkflowState)) func() {
	e.mu.Lock()
	id := e.nextSub
	e.nextSub++
	e.subscribers[id] = fn
	e.mu.Unlock()
	return func() {
		e.mu.Lock()
		delete(e.subscribers, id)
		e.mu.Unlock()
	}
}

// update applies fn under the lock, recomputes the step direction and then
// publishes the new state to subscribers outside the lock.
func (e *Engine) update(fn func(s *domain.WorkflowState)) {
	e.updateIf(func(s *domain.WorkflowState) bool {
		fn(s)
		return true
	})
}

// updateIf is update for conditional changes: fn runs under the lock and
// reports whether it changed anything. Nothing is published when it did not.
// fn must leave the state untouched when it returns false.
func (e *Engine) updateIf(fn func(s *domain.WorkflowState) bool) bool {
	e.mu.Lock()
	prev := e.state.Step
	if !fn(&e.state) {
		e.mu.Unlock()
		return false
	}
	if e.state.Step != prev {
		e.state.Direction = directionFor(prev, e.state.Step)
	}
	snapshot, subs := e.snapshotLocked()
	e.mu.Unlock()
	publish(snapshot, subs)
	return true
}

func (e *Engine) snapshotLocked() (domain.WorkflowState, []func(domain.WorkflowState)) {
	ids := make([]int, 0, len(e.subscribers))
	for id := range e.subscribers {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	subs := make([]func(domain.WorkflowState), 0, len(ids))
	for _, id := range ids {
		subs = append(subs, e.subscribers[id])
	}
	return e.state.Clone(), subs
}

func publish(snapshot domain.WorkflowState, subs []func(domain.WorkflowState)) {
	for _, fn := range subs {
		fn(snapshot.Clone())
	}
}

func directionFor(prev, next domain.Step) domain.Direction {
	if next < prev {
		return domain.DirectionBackward
	}
	return domain.DirectionForward
}

func (e *Engine) notify(n Notice) { e.notifier.Notify(n) }

// Start runs the once-per-session checks: the low-balance warning and the
// lookup of a restorable draft. It reports whether a draft is pending.
func (e *Engine) Start(ctx context.Context) (bool, error) {
	e.checkLowBalance(ctx)
	return e.loadPendingDraft(ctx)
}

// checkLowBalance warns once per engine lifetime when the balance does not
// cover the full workflow.
func (e *Engine) checkLowBalance(ctx context.Context) {
	if !e.updateIf(func(s *domain.WorkflowState) bool {
		if s.Signals.LowBalanceChecked {
			return false
		}
		s.Signals.LowBalanceChecked = true
		return true
	}) {
		return
	}
	gate := e.deps.Credits
	needed, err := gate.CombinedCost(ctx, credits.OpCaseAnalysis, credits.OpDSDSimulation)
	if err != nil {
		e.logger.Warn("low balance check: price lookup failed", "error", err)
		return
	}
	remaining, err := gate.Balance().RemainingBalance(ctx)
	if err != nil {
		e.logger.Warn("low balance check: balance lookup failed", "error", err)
		return
	}
	if w, ok := credits.LowBalanceWarning(remaining, needed); ok {
		e.notify(creditNotice(NoticeLowBalance, w))
	}
}

// SetCapturedImage replaces the working photo. A new photo needs a new
// upload, so any previous asset reference is dropped.
func (e *Engine) SetCapturedImage(ctx context.Context, image []byte) error {
	if len(image) == 0 {
		return domain.ErrNoImage
	}
	data := append([]byte(nil), image...)
	if !e.updateIf(func(s *domain.WorkflowState) bool {
		if s.Step >= domain.StepResult || s.Analyzing {
			return false
		}
		s.CapturedImage = data
		s.UploadedAssetRef = ""
		return true
	}) {
		return domain.Validationf("the photo cannot be replaced right now")
	}
	return e.resumeInterruptedAnalysis(ctx)
}
