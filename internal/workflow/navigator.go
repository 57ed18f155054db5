package workflow

import (
	"context"

	"casewizard/internal/credits"
	"casewizard/internal/domain"
)

const fullCaseLabel = "Full case: analysis and smile design"

// navigator owns step transitions. It reaches the analysis stage only
// through the deferred analyze action.
type navigator struct {
	e       *Engine
	analyze *deferredAction
}

// backTarget resolves a back-navigation request against s. Only strictly
// earlier steps are reachable, the result step may only return to review,
// the transient analysis step redirects to its entry step and quick mode
// has no preferences or design steps.
func backTarget(s domain.WorkflowState, target domain.Step) (domain.Step, bool) {
	if target < domain.StepCapture || target >= s.Step {
		return 0, false
	}
	if s.Step == domain.StepResult && target != domain.StepReview {
		return 0, false
	}
	quick := s.Mode == domain.ModeQuick
	if target == domain.StepAnalyzing {
		if quick {
			return domain.StepCapture, true
		}
		return domain.StepPreferences, true
	}
	if quick && (target == domain.StepPreferences || target == domain.StepDesign) {
		return 0, false
	}
	return target, true
}

// GoToStep navigates back to target. It reports whether the step changed.
func (e *Engine) GoToStep(target domain.Step) bool {
	return e.updateIf(func(s *domain.WorkflowState) bool {
		dest, ok := backTarget(*s, target)
		if !ok {
			return false
		}
		if s.Step == domain.StepResult {
			if s.Signals.SubmissionInFlight {
				return false
			}
			e.resetSubmissionLocked(s)
		}
		if s.Step == domain.StepAnalyzing && s.Analyzing {
			s.Signals.AnalysisAborted = true
			e.abortAnalysisLocked(s)
		}
		if dest < domain.StepPreferences {
			returnToCapture(s)
			return true
		}
		s.Step = dest
		return true
	})
}

// HandleBack performs the step-specific reverse transition.
func (e *Engine) HandleBack() bool {
	return e.updateIf(func(s *domain.WorkflowState) bool {
		quick := s.Mode == domain.ModeQuick
		switch s.Step {
		case domain.StepPreferences:
			returnToCapture(s)
		case domain.StepAnalyzing:
			if s.Analyzing {
				s.Signals.AnalysisAborted = true
			}
			e.abortAnalysisLocked(s)
			if quick {
				returnToCapture(s)
			} else {
				s.Step = domain.StepPreferences
			}
		case domain.StepDesign:
			s.Step = domain.StepPreferences
		case domain.StepReview:
			if quick {
				returnToCapture(s)
			} else {
				s.Step = domain.StepDesign
			}
		case domain.StepResult:
			if s.Signals.SubmissionInFlight {
				return false
			}
			e.resetSubmissionLocked(s)
			s.Step = domain.StepReview
		default:
			return false
		}
		return true
	})
}

// GoToPreferences enters the full workflow. The combined price of analysis
// and design is confirmed up front so the analysis does not prompt again.
// It reports whether the workflow advanced.
func (e *Engine) GoToPreferences(ctx context.Context) (bool, error) {
	st := e.State()
	if st.Step != domain.StepCapture {
		return false, nil
	}
	if len(st.CapturedImage) == 0 {
		return false, domain.NewError(domain.KindValidation, "go_to_preferences", domain.ErrNoImage)
	}
	gate := e.deps.Credits
	combined, err := gate.CombinedCost(ctx, credits.OpCaseAnalysis, credits.OpDSDSimulation)
	if err != nil {
		return false, err
	}
	ok, remaining, err := gate.CanAfford(ctx, combined)
	if err != nil {
		return false, err
	}
	if !ok {
		e.logger.Info("full case blocked by balance", "remaining", remaining, "needed", combined)
		e.notify(creditNotice(NoticeInsufficientCredits, credits.InsufficientWarning(remaining, combined)))
		return false, nil
	}
	accepted, err := gate.ConfirmUse(ctx, credits.OpFullCase, fullCaseLabel, &combined)
	if err != nil {
		if domain.IsCancellation(err) {
			return false, nil
		}
		return false, err
	}
	if !accepted {
		return false, nil
	}
	return e.updateIf(func(s *domain.WorkflowState) bool {
		if s.Step != domain.StepCapture {
			return false
		}
		s.Mode = domain.ModeFull
		s.Signals.CreditsPreConfirmed = true
		s.Step = domain.StepPreferences
		return true
	}), nil
}

// GoToQuickCase enters the abbreviated workflow and starts the analysis at
// once. The analysis stage runs its own single-operation credit check.
func (e *Engine) GoToQuickCase(ctx context.Context) error {
	var noImage bool
	entered := e.updateIf(func(s *domain.WorkflowState) bool {
		if s.Step != domain.StepCapture {
			return false
		}
		if len(s.CapturedImage) == 0 {
			noImage = true
			return false
		}
		s.Mode = domain.ModeQuick
		s.Signals.CreditsPreConfirmed = false
		applyWhitening(s, domain.WhiteningNatural)
		return true
	})
	if noImage {
		return domain.NewError(domain.KindValidation, "go_to_quick_case", domain.ErrNoImage)
	}
	if !entered {
		return nil
	}
	return e.nav.analyze.call(ctx)
}

// CancelAnalysis aborts the in-flight analysis. Its eventual result is
// discarded and the workflow returns to the step analysis was entered from.
func (e *Engine) CancelAnalysis() bool {
	return e.updateIf(func(s *domain.WorkflowState) bool {
		if !s.Analyzing && s.Step != domain.StepAnalyzing {
			return false
		}
		s.Signals.AnalysisAborted = true
		e.abortAnalysisLocked(s)
		if s.Step == domain.StepAnalyzing {
			if s.Mode == domain.ModeQuick {
				returnToCapture(s)
			} else {
				s.Step = domain.StepPreferences
			}
		}
		return true
	})
}

// returnToCapture lands on the first step in full mode and drops any credit
// pre-confirmation.
func returnToCapture(s *domain.WorkflowState) {
	s.Step = domain.StepCapture
	s.Mode = domain.ModeFull
	s.Signals.CreditsPreConfirmed = false
}

// abortAnalysisLocked cancels the running call and invalidates its
// generation so a late result is dropped. Callers hold e.mu.
func (e *Engine) abortAnalysisLocked(s *domain.WorkflowState) {
	if e.cancelAnalysis != nil {
		e.cancelAnalysis()
		e.cancelAnalysis = nil
	}
	e.analysisGen++
	s.Analyzing = false
	s.AnalysisError = ""
	s.AnalysisKind = domain.KindNone
}
