package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"time"

	"casewizard/internal/domain"
)

// autosaver persists the case whenever the state changes while it is
// restorable. Identical payloads are written once.
type autosaver struct {
	e *Engine

	mu   sync.Mutex
	last []byte
}

func restorable(s domain.WorkflowState) bool {
	return s.Step >= domain.StepCapture && s.Step < domain.StepResult && len(s.CapturedImage) > 0
}

func (a *autosaver) observe(s domain.WorkflowState) {
	if !restorable(s) || a.e.hasPendingDraft() {
		return
	}
	_ = a.save(context.Background(), s, false)
}

func (a *autosaver) save(ctx context.Context, s domain.WorkflowState, force bool) error {
	payload, err := json.Marshal(s)
	if err != nil {
		a.e.logger.Warn("autosave: encode failed", "error", err)
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if !force && bytes.Equal(payload, a.last) {
		return nil
	}
	e := a.e
	draft := domain.Draft{
		OwnerID:             e.deps.OwnerID,
		State:               s,
		ManualShadeOverride: s.Signals.ShadeManuallySet,
		LastSavedAt:         e.clock.Now(),
	}
	if err := e.observe(ctx, "autosave", func(ctx context.Context) error {
		return e.deps.Drafts.Save(ctx, draft)
	}); err != nil {
		e.logger.Warn("autosave failed", "step", int(s.Step), "error", err)
		return err
	}
	a.last = payload
	return nil
}

func (a *autosaver) reset() {
	a.mu.Lock()
	a.last = nil
	a.mu.Unlock()
}

// VisibilityHidden saves the case immediately, for hosts that are about to
// be backgrounded.
func (e *Engine) VisibilityHidden(ctx context.Context) error {
	s := e.State()
	if !restorable(s) || e.hasPendingDraft() {
		return nil
	}
	return e.autosave.save(ctx, s, true)
}

func (e *Engine) hasPendingDraft() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pendingDraft != nil
}

// PendingDraft returns the draft found by Start that awaits restore or discard.
func (e *Engine) PendingDraft() (domain.Draft, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pendingDraft == nil {
		return domain.Draft{}, false
	}
	d := *e.pendingDraft
	d.State = d.State.Clone()
	return d, true
}

func (e *Engine) draftExpired(d domain.Draft) bool {
	return e.clock.Now().Sub(d.LastSavedAt) > e.draftExpiry
}

func (e *Engine) loadPendingDraft(ctx context.Context) (bool, error) {
	d, ok, err := e.deps.Drafts.Load(ctx, e.deps.OwnerID)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	if e.draftExpired(d) {
		e.logger.Info("discarding expired draft", "saved_at", d.LastSavedAt.Format(time.RFC3339))
		if err := e.deps.Drafts.Clear(ctx, e.deps.OwnerID); err != nil {
			e.logger.Warn("clearing expired draft failed", "error", err)
		}
		return false, nil
	}
	e.mu.Lock()
	e.pendingDraft = &d
	e.mu.Unlock()
	return true, nil
}

// Restore applies the pending draft. The photo is downloaded again; if that
// fails the rest of the case is still restored. A draft interrupted during
// analysis resumes the analysis once, without prompting for credits again.
func (e *Engine) Restore(ctx context.Context) error {
	return e.observe(ctx, "restore_draft", func(ctx context.Context) error {
		e.mu.Lock()
		pending := e.pendingDraft
		e.mu.Unlock()
		if pending == nil {
			return errNoPendingDraft
		}
		d := *pending
		restored := d.State.Clone()
		var blocked bool
		e.updateIf(func(s *domain.WorkflowState) bool {
			if s.Signals.SubmissionInFlight || s.Analyzing {
				blocked = true
				return false
			}
			manual := s.Signals.ShadeManuallySet || d.ManualShadeOverride || restored.Signals.ShadeManuallySet
			lowChecked := s.Signals.LowBalanceChecked
			*s = restored
			ensureMaps(s)
			s.CapturedImage = nil
			s.Analyzing = false
			s.AnalysisError = ""
			s.AnalysisKind = domain.KindNone
			s.Submitting = false
			s.Completed = false
			s.CompletedID = ""
			s.SubmitError = ""
			s.SubmissionProgress = domain.SubmissionProgress{}
			s.Signals.ShadeManuallySet = manual
			s.Signals.LowBalanceChecked = lowChecked
			s.Signals.AnalysisAborted = false
			s.Signals.SubmissionInFlight = false
			if !s.Step.Valid() {
				s.Step = domain.StepCapture
			}
			if s.Step == domain.StepResult {
				s.Step = domain.StepReview
			}
			if s.Mode == "" {
				s.Mode = domain.ModeFull
			}
			s.Signals.ReanalyzePending = d.InterruptedMidAnalysis()
			return true
		})
		if blocked {
			return domain.Validationf("a draft cannot be restored while work is in progress")
		}

		var image []byte
		if ref := restored.UploadedAssetRef; ref != "" {
			data, err := e.deps.Assets.Download(ctx, ref)
			if err != nil {
				e.logger.Warn("draft restore: photo download failed", "asset_ref", ref, "error", err)
			} else {
				image = data
			}
		}
		e.update(func(s *domain.WorkflowState) {
			if len(image) > 0 {
				s.CapturedImage = image
			}
			e.pendingDraft = nil
		})
		if err := e.resumeInterruptedAnalysis(ctx); err != nil {
			e.logger.Warn("resumed analysis failed", "error", err)
		}
		return nil
	})
}

// resumeInterruptedAnalysis fires the pending re-analysis once the photo is
// present and nothing is analyzing.
func (e *Engine) resumeInterruptedAnalysis(ctx context.Context) error {
	if !e.updateIf(func(s *domain.WorkflowState) bool {
		if !s.Signals.ReanalyzePending || len(s.CapturedImage) == 0 || s.Analyzing {
			return false
		}
		s.Signals.ReanalyzePending = false
		s.Signals.CreditsPreConfirmed = true
		return true
	}) {
		return nil
	}
	e.logger.Info("resuming interrupted analysis")
	return e.nav.analyze.call(ctx)
}

// Discard deletes the stored draft and returns the workflow to a pristine
// first step.
func (e *Engine) Discard(ctx context.Context) error {
	if err := e.deps.Drafts.Clear(ctx, e.deps.OwnerID); err != nil {
		return err
	}
	e.autosave.reset()
	var blocked bool
	e.updateIf(func(s *domain.WorkflowState) bool {
		if s.Signals.SubmissionInFlight {
			blocked = true
			return false
		}
		if s.Analyzing {
			e.abortAnalysisLocked(s)
		}
		lowChecked := s.Signals.LowBalanceChecked
		e.pendingDraft = nil
		e.outcome = nil
		*s = domain.NewWorkflowState()
		s.Signals.LowBalanceChecked = lowChecked
		return true
	})
	if blocked {
		return domain.Validationf("the case cannot be discarded during submission")
	}
	return nil
}
