package workflow

import (
	"context"
	"strings"
	"time"

	"casewizard/internal/credits"
	"casewizard/internal/domain"
	"casewizard/internal/retry"
)

const analysisLabel = "Photo analysis"

type analysisStage struct {
	e *Engine
}

// Analyze runs the credit-gated photo analysis and advances to design (full
// mode) or review (quick mode). It is a no-op without a photo or while an
// analysis is already running.
func (e *Engine) Analyze(ctx context.Context) error {
	return e.analysis.analyze(ctx)
}

// Reanalyze repeats the remote analysis for an already reviewed case without
// prompting or changing step.
func (e *Engine) Reanalyze(ctx context.Context) error {
	st := e.State()
	if len(st.CapturedImage) == 0 || st.Analyzing {
		return nil
	}
	return e.observe(ctx, "reanalyze", func(ctx context.Context) error {
		return e.analysis.run(ctx, false)
	})
}

func (a *analysisStage) analyze(ctx context.Context) error {
	e := a.e
	st := e.State()
	if len(st.CapturedImage) == 0 || st.Analyzing {
		return nil
	}
	if !st.Signals.CreditsPreConfirmed {
		proceed, err := a.confirm(ctx)
		if err != nil {
			if domain.IsCancellation(err) {
				return nil
			}
			return err
		}
		if !proceed {
			return nil
		}
	}
	return e.observe(ctx, "analyze", func(ctx context.Context) error {
		return a.run(ctx, true)
	})
}

func (a *analysisStage) confirm(ctx context.Context) (bool, error) {
	e := a.e
	gate := e.deps.Credits
	cost, err := gate.Cost(ctx, credits.OpCaseAnalysis)
	if err != nil {
		return false, err
	}
	ok, remaining, err := gate.CanAfford(ctx, cost)
	if err != nil {
		return false, err
	}
	if !ok {
		e.logger.Info("analysis blocked by balance", "remaining", remaining, "needed", cost)
		e.notify(creditNotice(NoticeInsufficientCredits, credits.InsufficientWarning(remaining, cost)))
		return false, nil
	}
	return gate.ConfirmUse(ctx, credits.OpCaseAnalysis, analysisLabel, nil)
}

// run performs one analysis generation. With advance it drives the step
// choreography; without it only the result is merged.
func (a *analysisStage) run(ctx context.Context, advance bool) error {
	e := a.e
	callCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		gen      uint64
		entry    domain.Step
		image    []byte
		assetRef string
	)
	started := e.updateIf(func(s *domain.WorkflowState) bool {
		if s.Analyzing || len(s.CapturedImage) == 0 {
			return false
		}
		e.analysisGen++
		gen = e.analysisGen
		e.cancelAnalysis = cancel
		entry = entryStep(*s)
		image = s.CapturedImage
		assetRef = s.UploadedAssetRef
		s.Analyzing = true
		s.AnalysisError = ""
		s.AnalysisKind = domain.KindNone
		s.Signals.AnalysisAborted = false
		if advance {
			s.Step = domain.StepAnalyzing
		}
		return true
	})
	if !started {
		return nil
	}

	if assetRef == "" {
		ref, err := raceCall(callCtx, func(ctx context.Context) (string, error) {
			return e.deps.Assets.Upload(ctx, e.deps.OwnerID, image)
		})
		if err != nil {
			return a.fail(gen, entry, advance, "upload_asset", err)
		}
		if !e.updateIf(func(s *domain.WorkflowState) bool {
			if gen != e.analysisGen {
				return false
			}
			s.UploadedAssetRef = ref
			return true
		}) {
			return nil
		}
	}

	var result domain.AnalysisResult
	err := retry.Do(callCtx, e.analysisPolicy, e.sleep, e.reconnecting("analyze"), func(ctx context.Context) error {
		r, err := raceCall(ctx, func(ctx context.Context) (domain.AnalysisResult, error) {
			return e.deps.Analyzer.Analyze(ctx, image)
		})
		if err != nil {
			return err
		}
		if len(r.DetectedItems) == 0 {
			return domain.NewError(domain.KindNoData, "analyze", errNothingDetected)
		}
		result = r
		return nil
	})
	if err != nil {
		return a.fail(gen, entry, advance, "analyze", err)
	}
	if !a.apply(gen, result, advance) {
		e.logger.Debug("discarding stale analysis result", "generation", gen)
		return nil
	}
	if err := e.deps.Credits.Balance().Refresh(ctx); err != nil {
		e.logger.Warn("balance refresh failed", "error", err)
	}
	return nil
}

// entryStep is where a cancelled analysis returns to.
func entryStep(s domain.WorkflowState) domain.Step {
	if s.Step != domain.StepAnalyzing {
		return s.Step
	}
	if s.Mode == domain.ModeQuick {
		return domain.StepCapture
	}
	return domain.StepPreferences
}

func (a *analysisStage) fail(gen uint64, entry domain.Step, advance bool, op string, err error) error {
	e := a.e
	cancelled := domain.IsCancellation(err)
	kind := domain.Classify(err)
	current := e.updateIf(func(s *domain.WorkflowState) bool {
		if gen != e.analysisGen || s.Signals.AnalysisAborted {
			return false
		}
		e.cancelAnalysis = nil
		s.Analyzing = false
		if cancelled {
			if advance {
				if entry == domain.StepCapture {
					returnToCapture(s)
				} else {
					s.Step = entry
				}
			}
			return true
		}
		s.AnalysisKind = kind
		s.AnalysisError = domain.UserMessage(err)
		return true
	})
	if !current || cancelled {
		e.logger.Debug("analysis cancelled", "operation", op)
		return nil
	}
	e.logger.Warn("analysis failed", "operation", op, "kind", kind, "error", err)
	return domain.NewError(kind, op, err)
}

// apply merges a result if gen is still current. A fresh analysis selects
// every detected item and resets overrides; a re-analysis keeps the
// selections and overrides that still refer to something.
func (a *analysisStage) apply(gen uint64, result domain.AnalysisResult, advance bool) bool {
	e := a.e
	ordered := normalizeItems(result.DetectedItems)
	primary, ok := domain.PrimaryItem(ordered, domain.CanonicalItemID(result.PrimaryItemID))
	items := append([]domain.DetectedItem(nil), ordered...)
	domain.SortItems(items)
	stored := result
	stored.DetectedItems = append([]domain.DetectedItem(nil), items...)
	stored.TreatmentIndication = domain.NormalizeTreatment(string(result.TreatmentIndication))

	return e.updateIf(func(s *domain.WorkflowState) bool {
		if gen != e.analysisGen || s.Signals.AnalysisAborted {
			return false
		}
		e.cancelAnalysis = nil
		present := make(map[string]bool, len(items))
		for _, it := range items {
			present[it.ItemID] = true
		}
		keep := func(id string) bool { return present[id] || domain.IsVirtualItem(id) }

		prevOriginals := s.OriginalItemTreatmentAssignments
		originals := make(map[string]domain.TreatmentType, len(items))
		for _, it := range items {
			if it.TreatmentIndication != "" {
				originals[it.ItemID] = it.TreatmentIndication
			}
		}
		if advance {
			s.SelectedItemIDs = itemIDs(items)
			s.ItemTreatmentAssignments = map[string]domain.TreatmentType{}
		} else {
			var selected []string
			for _, id := range s.SelectedItemIDs {
				if keep(id) {
					selected = append(selected, id)
				}
			}
			s.SelectedItemIDs = selected
			assignments := make(map[string]domain.TreatmentType, len(s.ItemTreatmentAssignments))
			for id, t := range s.ItemTreatmentAssignments {
				if keep(id) {
					assignments[id] = t
				}
			}
			s.ItemTreatmentAssignments = assignments
			for id, t := range prevOriginals {
				if domain.IsVirtualItem(id) {
					originals[id] = t
				}
			}
		}
		s.OriginalItemTreatmentAssignments = originals
		s.AnalysisResult = &stored
		s.DetectedItems = items
		mergePrimary(s, primary, ok, stored)
		s.Analyzing = false
		s.Signals.CreditsPreConfirmed = false
		if advance {
			if s.Mode == domain.ModeQuick {
				s.Step = domain.StepReview
			} else {
				s.Step = domain.StepDesign
			}
		}
		return true
	})
}

// mergePrimary copies the primary item's descriptors into the form. The
// suggested shade lands only when the user never set one and the whitening
// preference leaves the shade to the analysis.
func mergePrimary(s *domain.WorkflowState, primary domain.DetectedItem, ok bool, result domain.AnalysisResult) {
	f := &s.FormFields
	if ok {
		f.Tooth = primary.ItemID
		f.Region = primary.Region
		setIfPresent(&f.CavityClass, primary.CavityClass)
		setIfPresent(&f.RestorationSize, primary.RestorationSize)
		setIfPresent(&f.Substrate, primary.Substrate)
		setIfPresent(&f.SubstrateCondition, primary.SubstrateCondition)
		setIfPresent(&f.EnamelCondition, primary.EnamelCondition)
		setIfPresent(&f.Depth, primary.Depth)
		if t := domain.FirstTreatment(primary.TreatmentIndication, result.TreatmentIndication); t != "" {
			f.TreatmentType = t
		}
	}
	if result.SuggestedColor != "" && !s.Signals.ShadeManuallySet && f.WhiteningPreference.Neutral() {
		f.Shade = result.SuggestedColor
	}
}

func setIfPresent(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}

// normalizeItems canonicalizes ids and drops duplicates, keeping the
// analyzer's order.
func normalizeItems(in []domain.DetectedItem) []domain.DetectedItem {
	out := make([]domain.DetectedItem, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, it := range in {
		it.ItemID = domain.CanonicalItemID(it.ItemID)
		if it.ItemID == "" || seen[it.ItemID] {
			continue
		}
		seen[it.ItemID] = true
		it.TreatmentIndication = domain.NormalizeTreatment(string(it.TreatmentIndication))
		if it.Region == "" {
			it.Region = domain.RegionForTooth(it.ItemID)
		}
		if it.Priority == "" {
			it.Priority = domain.PriorityMedium
		}
		out = append(out, it)
	}
	return out
}

func itemIDs(items []domain.DetectedItem) []string {
	ids := make([]string, 0, len(items))
	for _, it := range items {
		ids = append(ids, it.ItemID)
	}
	return ids
}

// raceCall runs fn and returns as soon as either it finishes or ctx is done.
// A call abandoned this way keeps running; its result is dropped.
func raceCall[T any](ctx context.Context, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	type outcome struct {
		v   T
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		v, err := fn(ctx)
		done <- outcome{v: v, err: err}
	}()
	select {
	case o := <-done:
		return o.v, o.err
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// reconnecting reports each retry as a user-visible notice.
func (e *Engine) reconnecting(op string) retry.Notify {
	return func(attempt int, delay time.Duration, err error) {
		e.logger.Warn("retrying remote call", "operation", op, "attempt", attempt, "delay", delay, "error", err)
		e.notify(Notice{
			Kind:    NoticeReconnecting,
			Level:   LevelWarning,
			Message: "Connection unstable. Reconnecting...",
			Attempt: attempt,
			Delay:   delay,
		})
	}
}
