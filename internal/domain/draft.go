package domain

import "time"

// DraftExpiry is how long a saved draft stays restorable.
const DraftExpiry = 7 * 24 * time.Hour

// Draft is the persisted snapshot of an in-progress case.
type Draft struct {
	OwnerID             string        `json:"owner_id"`
	State               WorkflowState `json:"state"`
	ManualShadeOverride bool          `json:"manual_shade_override,omitempty"`
	LastSavedAt         time.Time     `json:"last_saved_at"`
}

// IsExpired reports whether more than DraftExpiry elapsed since savedAt.
// Exactly DraftExpiry is still valid.
func IsExpired(savedAt, now time.Time) bool {
	return now.Sub(savedAt) > DraftExpiry
}

// Expired reports whether d is past its expiry at now.
func (d Draft) Expired(now time.Time) bool { return IsExpired(d.LastSavedAt, now) }

// InterruptedMidAnalysis reports whether the draft was saved on the transient
// analysis step before any result arrived.
func (d Draft) InterruptedMidAnalysis() bool {
	return d.State.Step == StepAnalyzing && d.State.AnalysisResult == nil
}
