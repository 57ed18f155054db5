package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"casewizard/internal/domain"
	"casewizard/internal/persistence"
)

// ErrSubmissionInFlight is returned when Submit is called while a
// submission is already running.
var ErrSubmissionInFlight = errors.New("workflow: submission already in flight")

var errNothingSubmitted = errors.New("no item could be submitted")

// PlaceholderAge is used when the patient's birth date is unknown.
const PlaceholderAge = 30

// Submission phases reported through SubmissionProgress.Phase.
const (
	PhaseValidate = iota + 1
	PhasePatient
	PhaseItems
	PhaseSync
	PhasePending
	PhaseFinalize
)

type submissionItem struct {
	id        string
	treatment domain.TreatmentType
	item      domain.DetectedItem
}

type submission struct {
	sessionID string
	state     domain.WorkflowState
	age       int
	patientID string
	items     []submissionItem
	plan      *bucketPlan

	succeeded     []string
	evaluationIDs []string
	failed        []domain.FailedItem
	counts        map[domain.TreatmentType]int
}

// Submit turns the reviewed case into evaluation records with protocols.
// Items are processed one at a time; a failing item is recorded and the
// rest continue. The workflow returns to review only when nothing was
// submitted or the failure happened before any item was processed.
func (e *Engine) Submit(ctx context.Context) (domain.SubmissionOutcome, error) {
	var (
		st       domain.WorkflowState
		blockErr error
	)
	if !e.updateIf(func(s *domain.WorkflowState) bool {
		if s.Signals.SubmissionInFlight {
			blockErr = ErrSubmissionInFlight
			return false
		}
		if !submittable(*s) {
			blockErr = domain.Validationf("the case is not ready for submission")
			return false
		}
		s.Signals.SubmissionInFlight = true
		s.SubmitError = ""
		st = s.Clone()
		return true
	}) {
		return domain.SubmissionOutcome{}, blockErr
	}
	defer e.update(func(s *domain.WorkflowState) {
		s.Signals.SubmissionInFlight = false
		s.Submitting = false
	})

	var outcome domain.SubmissionOutcome
	err := e.observe(ctx, "submit", func(ctx context.Context) error {
		var err error
		outcome, err = e.runSubmission(ctx, st)
		return err
	})
	return outcome, err
}

func (e *Engine) runSubmission(ctx context.Context, st domain.WorkflowState) (domain.SubmissionOutcome, error) {
	items, err := planItems(st)
	if err != nil {
		e.update(func(s *domain.WorkflowState) { s.SubmitError = domain.UserMessage(err) })
		return domain.SubmissionOutcome{}, err
	}
	sub := &submission{
		sessionID: e.newSessionID(),
		state:     st,
		age:       st.FormFields.PatientAge,
		items:     items,
		plan:      newBucketPlan(items),
		counts:    map[domain.TreatmentType]int{},
	}
	if st.PatientIdentity.BirthDate == nil && sub.age <= 0 {
		sub.age = PlaceholderAge
		e.notify(Notice{
			Kind:    NoticeAgePlaceholder,
			Level:   LevelWarning,
			Message: fmt.Sprintf("No birth date given. Age %d is used for the protocol.", PlaceholderAge),
		})
	}
	e.update(func(s *domain.WorkflowState) {
		e.outcome = nil
		s.Step = domain.StepResult
		s.Submitting = true
		s.Completed = false
		s.CompletedID = ""
		s.SubmissionProgress = domain.SubmissionProgress{Phase: PhaseValidate, ItemTotal: len(items)}
	})
	e.logger.Info("submission started", "session_id", sub.sessionID, "items", len(items))

	e.progress(PhasePatient, 0, len(items), "")
	patientID, err := e.resolvePatient(ctx, st)
	if err != nil {
		return domain.SubmissionOutcome{}, e.abortSubmission(sub, err)
	}
	sub.patientID = patientID

	for i, it := range sub.items {
		e.progress(PhaseItems, i+1, len(items), it.id)
		e.submitItem(ctx, sub, it)
	}

	e.progress(PhaseSync, len(items), len(items), "")
	if len(sub.succeeded) >= 2 {
		n, err := e.deps.Records.SyncGroupProtocols(ctx, sub.sessionID, sub.evaluationIDs)
		if err != nil {
			e.logger.Warn("protocol sync failed", "session_id", sub.sessionID, "error", err)
		} else {
			e.logger.Debug("protocols synced", "session_id", sub.sessionID, "updated", n)
		}
	}

	e.progress(PhasePending, len(items), len(items), "")
	e.savePendingItems(ctx, sub)

	e.progress(PhaseFinalize, len(items), len(items), "")
	return e.finalize(ctx, sub)
}

// submittable reports whether Submit may start from s: on review, or on the
// result step after an attempt was aborted in place.
func submittable(s domain.WorkflowState) bool {
	if s.Step == domain.StepReview {
		return true
	}
	return s.Step == domain.StepResult && !s.Completed && !s.Submitting && s.SubmitError != ""
}

// planItems resolves what to submit: the selection, else the single tooth
// of the form.
func planItems(st domain.WorkflowState) ([]submissionItem, error) {
	ids := append([]string(nil), st.SelectedItemIDs...)
	if len(ids) == 0 && strings.TrimSpace(st.FormFields.Tooth) != "" {
		ids = []string{strings.TrimSpace(st.FormFields.Tooth)}
	}
	if len(ids) == 0 {
		return nil, domain.Validationf("select at least one item to submit")
	}
	items := make([]submissionItem, 0, len(ids))
	for _, id := range ids {
		item, ok := domain.FindItem(st.DetectedItems, id)
		if !ok {
			item = domain.DetectedItem{ItemID: id, Region: domain.RegionForTooth(id), Priority: domain.PriorityMedium}
			if id == st.FormFields.Tooth && st.FormFields.Region != "" {
				item.Region = st.FormFields.Region
			}
		}
		items = append(items, submissionItem{id: id, treatment: st.EffectiveTreatment(id), item: item})
	}
	return items, nil
}

func (e *Engine) progress(phase, index, total int, itemID string) {
	e.update(func(s *domain.WorkflowState) {
		s.SubmissionProgress = domain.SubmissionProgress{
			Phase:         phase,
			ItemIndex:     index,
			ItemTotal:     total,
			CurrentItemID: itemID,
		}
	})
}

// resolvePatient finds or creates the patient. A name conflict adopts the
// existing record; a newly known birth date is written back.
func (e *Engine) resolvePatient(ctx context.Context, st domain.WorkflowState) (string, error) {
	records := e.deps.Records
	identity := st.PatientIdentity
	if identity.ExistingID != "" {
		if identity.BirthDate != nil && !identity.ExistingHadBirthDate {
			if err := records.UpdatePatientBirthDate(ctx, identity.ExistingID, *identity.BirthDate); err != nil {
				return "", err
			}
		}
		return identity.ExistingID, nil
	}
	name := strings.TrimSpace(identity.Name)
	if name == "" {
		name = strings.TrimSpace(st.FormFields.PatientName)
	}
	if name == "" {
		return "", nil
	}
	created, err := records.CreatePatient(ctx, persistence.Patient{
		OwnerID:   e.deps.OwnerID,
		Name:      name,
		BirthDate: identity.BirthDate,
	})
	if err == nil {
		return created.ID, nil
	}
	if !errors.Is(err, persistence.ErrDuplicate) {
		return "", err
	}
	existing, found, ferr := records.FindPatientByName(ctx, e.deps.OwnerID, name)
	if ferr != nil {
		return "", ferr
	}
	if !found {
		return "", err
	}
	e.logger.Info("adopting existing patient", "patient_id", existing.ID)
	if identity.BirthDate != nil && existing.BirthDate == nil {
		if err := records.UpdatePatientBirthDate(ctx, existing.ID, *identity.BirthDate); err != nil {
			return "", err
		}
	}
	return existing.ID, nil
}

// abortSubmission handles a failure before any item was processed. Rate
// limiting keeps the result step so the user can retry in place.
func (e *Engine) abortSubmission(sub *submission, err error) error {
	kind := domain.Classify(err)
	e.logger.Error("submission aborted", "session_id", sub.sessionID, "kind", kind, "error", err)
	e.update(func(s *domain.WorkflowState) {
		s.Submitting = false
		s.SubmitError = submitMessage(kind, err)
		s.SubmissionProgress = domain.SubmissionProgress{}
		if kind != domain.KindRateLimited {
			s.Step = domain.StepReview
		}
	})
	return domain.NewError(kind, "submit", err)
}

func submitMessage(kind domain.ErrorKind, err error) string {
	if kind == domain.KindIntegrityConflict {
		if errors.Is(err, persistence.ErrDuplicate) {
			return "A patient with this name already exists."
		}
		return "The patient record could not be linked. Reload and try again."
	}
	return domain.UserMessage(err)
}

func (e *Engine) submitItem(ctx context.Context, sub *submission, it submissionItem) {
	records := e.deps.Records
	evaluation, err := records.CreateEvaluation(ctx, e.evaluationFor(sub, it))
	if err != nil {
		sub.plan.failed(it)
		e.recordFailure(sub, it, err)
		return
	}
	if sub.plan.shouldCall(it) {
		protocol, err := e.generateProtocol(ctx, e.protocolRequest(sub, it, evaluation))
		if err == nil {
			err = records.UpdateEvaluationProtocol(ctx, evaluation.ID, protocol)
		}
		if err != nil {
			sub.plan.failed(it)
			if uerr := records.UpdateEvaluationStatus(ctx, evaluation.ID, persistence.StatusError); uerr != nil {
				e.logger.Warn("marking evaluation as errored failed", "evaluation_id", evaluation.ID, "error", uerr)
			}
			e.recordFailure(sub, it, err)
			return
		}
		sub.plan.succeeded(it)
	}
	sub.succeeded = append(sub.succeeded, it.id)
	sub.evaluationIDs = append(sub.evaluationIDs, evaluation.ID)
	sub.counts[it.treatment]++
}

func (e *Engine) recordFailure(sub *submission, it submissionItem, err error) {
	kind := domain.Classify(err)
	e.logger.Warn("item submission failed", "session_id", sub.sessionID, "item_id", it.id, "kind", kind, "error", err)
	sub.failed = append(sub.failed, domain.FailedItem{ItemID: it.id, Kind: kind, Error: domain.UserMessage(err)})
}

func (e *Engine) evaluationFor(sub *submission, it submissionItem) persistence.Evaluation {
	f := sub.state.FormFields
	return persistence.Evaluation{
		OwnerID:       e.deps.OwnerID,
		SessionID:     sub.sessionID,
		PatientID:     sub.patientID,
		PatientName:   f.PatientName,
		PatientAge:    sub.age,
		ItemID:        it.id,
		Region:        it.item.Region,
		TreatmentType: it.treatment,
		Shade:         f.Shade,
		Descriptors:   descriptors(it.item),
		AssetRef:      sub.state.UploadedAssetRef,
		Status:        persistence.StatusProcessing,
	}
}

func (e *Engine) protocolRequest(sub *submission, it submissionItem, evaluation persistence.Evaluation) domain.ProtocolRequest {
	f := sub.state.FormFields
	return domain.ProtocolRequest{
		EvaluationID:    evaluation.ID,
		SessionID:       sub.sessionID,
		ItemID:          it.id,
		Region:          it.item.Region,
		TreatmentType:   it.treatment,
		Shade:           f.Shade,
		PatientAge:      sub.age,
		Whitening:       string(f.WhiteningPreference),
		ClinicalNotes:   f.ClinicalNotes,
		AssetRef:        sub.state.UploadedAssetRef,
		Descriptors:     descriptors(it.item),
		IndicationNotes: it.item.IndicationReason,
	}
}

func descriptors(item domain.DetectedItem) map[string]string {
	out := map[string]string{}
	add := func(k, v string) {
		if v != "" {
			out[k] = v
		}
	}
	add(domain.FieldCavityClass, item.CavityClass)
	add(domain.FieldRestorationSize, item.RestorationSize)
	add(domain.FieldSubstrate, item.Substrate)
	add(domain.FieldSubstrateCondition, item.SubstrateCondition)
	add(domain.FieldEnamelCondition, item.EnamelCondition)
	add(domain.FieldDepth, item.Depth)
	if len(out) == 0 {
		return nil
	}
	return out
}

// savePendingItems keeps detected but unselected items for later.
func (e *Engine) savePendingItems(ctx context.Context, sub *submission) {
	processed := make(map[string]bool, len(sub.items))
	for _, it := range sub.items {
		processed[it.id] = true
	}
	now := e.clock.Now()
	var pending []persistence.PendingItem
	for _, item := range sub.state.DetectedItems {
		if processed[item.ItemID] {
			continue
		}
		pending = append(pending, persistence.PendingItem{
			OwnerID:             e.deps.OwnerID,
			SessionID:           sub.sessionID,
			PatientID:           sub.patientID,
			ItemID:              item.ItemID,
			Region:              item.Region,
			Priority:            item.Priority,
			TreatmentIndication: item.TreatmentIndication,
			IndicationReason:    item.IndicationReason,
			CreatedAt:           now,
		})
	}
	if len(pending) == 0 {
		return
	}
	if err := e.deps.Records.SavePendingItems(ctx, pending); err != nil {
		e.logger.Warn("saving pending items failed", "session_id", sub.sessionID, "count", len(pending), "error", err)
	}
}

func (e *Engine) finalize(ctx context.Context, sub *submission) (domain.SubmissionOutcome, error) {
	outcome := domain.SubmissionOutcome{
		SessionID:        sub.sessionID,
		SucceededItemIDs: append([]string(nil), sub.succeeded...),
		FailedItems:      append([]domain.FailedItem(nil), sub.failed...),
		TreatmentCounts:  sub.counts,
		FinalizedAt:      e.clock.Now(),
	}

	if len(sub.succeeded) == 0 {
		outcome.SessionID = ""
		kind := domain.KindGeneric
		if len(sub.failed) > 0 {
			kind = sub.failed[0].Kind
		}
		e.logger.Error("submission failed for every item", "session_id", sub.sessionID, "items", len(sub.items))
		e.update(func(s *domain.WorkflowState) {
			final := outcome.Clone()
			e.outcome = &final
			s.Submitting = false
			s.SubmitError = "No item could be submitted. Review the case and try again."
			s.SubmissionProgress = domain.SubmissionProgress{}
			s.Step = domain.StepReview
		})
		e.notify(Notice{
			Kind:    NoticeSubmissionFailed,
			Level:   LevelError,
			Message: "The case could not be submitted.",
			ItemIDs: outcome.FailedItemIDs(),
		})
		return outcome, domain.NewError(kind, "submit", errNothingSubmitted)
	}

	if err := e.deps.Records.BulkUpdateStatus(ctx, sub.evaluationIDs, persistence.StatusCompleted); err != nil {
		e.logger.Warn("completing evaluations failed", "session_id", sub.sessionID, "error", err)
	}
	if err := e.deps.Drafts.Clear(ctx, e.deps.OwnerID); err != nil {
		e.logger.Warn("clearing draft failed", "error", err)
	}
	e.autosave.reset()

	if len(sub.failed) == 0 {
		e.notify(Notice{
			Kind:    NoticeSubmissionSuccess,
			Level:   LevelInfo,
			Message: fmt.Sprintf("%d item(s) submitted.", len(sub.succeeded)),
			ItemIDs: outcome.SucceededItemIDs,
		})
	} else {
		failedIDs := outcome.FailedItemIDs()
		e.notify(Notice{
			Kind:    NoticePartialSuccess,
			Level:   LevelWarning,
			Message: fmt.Sprintf("Submitted %d of %d items. Failed: %s.", len(sub.succeeded), len(sub.items), strings.Join(failedIDs, ", ")),
			ItemIDs: failedIDs,
		})
	}
	e.logger.Info("submission finished", "session_id", sub.sessionID, "status", outcome.Status(),
		"succeeded", len(sub.succeeded), "failed", len(sub.failed))

	if e.completionDelay > 0 {
		if err := e.sleep(ctx, e.completionDelay); err != nil {
			e.logger.Debug("completion delay interrupted", "error", err)
		}
	}
	e.update(func(s *domain.WorkflowState) {
		final := outcome.Clone()
		e.outcome = &final
		s.Submitting = false
		s.Completed = true
		s.CompletedID = outcome.SessionID
	})
	return outcome, nil
}

// ResetSubmission clears the completion state so the case can be submitted
// again. It is a no-op while a submission runs.
func (e *Engine) ResetSubmission() bool {
	return e.updateIf(func(s *domain.WorkflowState) bool {
		if s.Signals.SubmissionInFlight {
			return false
		}
		e.resetSubmissionLocked(s)
		return true
	})
}

func (e *Engine) resetSubmissionLocked(s *domain.WorkflowState) {
	e.outcome = nil
	s.Submitting = false
	s.Completed = false
	s.CompletedID = ""
	s.SubmitError = ""
	s.SubmissionProgress = domain.SubmissionProgress{}
}
