package domain

// ProtocolRequest carries the clinical parameters a protocol generator needs
// for one evaluation.
type ProtocolRequest struct {
	EvaluationID    string            `json:"evaluation_id"`
	SessionID       string            `json:"session_id"`
	ItemID          string            `json:"item_id"`
	Region          Region            `json:"region,omitempty"`
	TreatmentType   TreatmentType     `json:"treatment_type"`
	Shade           string            `json:"shade,omitempty"`
	PatientAge      int               `json:"patient_age,omitempty"`
	Whitening       string            `json:"whitening_preference,omitempty"`
	ClinicalNotes   string            `json:"clinical_notes,omitempty"`
	AssetRef        string            `json:"asset_ref,omitempty"`
	Descriptors     map[string]string `json:"descriptors,omitempty"`
	IndicationNotes string            `json:"indication_notes,omitempty"`
}

// ProtocolContent is what a generator returns for one evaluation.
type ProtocolContent struct {
	Summary   string   `json:"summary"`
	Checklist []string `json:"checklist"`
}

// Empty reports whether c has nothing usable.
func (c ProtocolContent) Empty() bool {
	return c.Summary == "" && len(c.Checklist) == 0
}
