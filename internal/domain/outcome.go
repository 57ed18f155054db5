package domain

import "time"

// OutcomeStatus summarises a finalized submission.
type OutcomeStatus string

const (
	OutcomeSuccess OutcomeStatus = "success"
	OutcomePartial OutcomeStatus = "partial"
	OutcomeFailed  OutcomeStatus = "failed"
)

// FailedItem records why one item could not be submitted.
type FailedItem struct {
	ItemID string    `json:"item_id"`
	Kind   ErrorKind `json:"kind"`
	Error  string    `json:"error"`
}

// SubmissionOutcome is the finalized result of one submission attempt.
type SubmissionOutcome struct {
	SessionID        string                `json:"session_id"`
	SucceededItemIDs []string              `json:"succeeded_item_ids"`
	FailedItems      []FailedItem          `json:"failed_items,omitempty"`
	TreatmentCounts  map[TreatmentType]int `json:"treatment_counts"`
	FinalizedAt      time.Time             `json:"finalized_at"`
}

// Status derives success, partial or failed from the item counts.
func (o SubmissionOutcome) Status() OutcomeStatus {
	switch {
	case len(o.SucceededItemIDs) == 0:
		return OutcomeFailed
	case len(o.FailedItems) == 0:
		return OutcomeSuccess
	default:
		return OutcomePartial
	}
}

// FailedItemIDs lists the ids of failed items in submission order.
func (o SubmissionOutcome) FailedItemIDs() []string {
	out := make([]string, 0, len(o.FailedItems))
	for _, f := range o.FailedItems {
		out = append(out, f.ItemID)
	}
	return out
}

// Clone returns a deep copy.
func (o SubmissionOutcome) Clone() SubmissionOutcome {
	out := o
	out.SucceededItemIDs = append([]string(nil), o.SucceededItemIDs...)
	out.FailedItems = append([]FailedItem(nil), o.FailedItems...)
	out.TreatmentCounts = make(map[TreatmentType]int, len(o.TreatmentCounts))
	for k, v := range o.TreatmentCounts {
		out.TreatmentCounts[k] = v
	}
	return out
}
