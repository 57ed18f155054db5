// Package domain holds the data model shared by the case workflow engine and
// its collaborators.
package domain

import "time"

// Step is a position in the case workflow.
type Step int

const (
	StepCapture     Step = 1
	StepPreferences Step = 2
	StepAnalyzing   Step = 3
	StepDesign      Step = 4
	StepReview      Step = 5
	StepResult      Step = 6
)

// Valid reports whether s is inside the workflow range.
func (s Step) Valid() bool { return s >= StepCapture && s <= StepResult }

// Mode selects the workflow path.
type Mode string

const (
	ModeFull  Mode = "full"
	ModeQuick Mode = "quick"
)

// Direction records whether the last step change moved forward or back.
type Direction string

const (
	DirectionForward  Direction = "forward"
	DirectionBackward Direction = "backward"
)

// WhiteningPreference is the patient's aesthetic preference.
type WhiteningPreference string

const (
	WhiteningNatural   WhiteningPreference = "natural"
	WhiteningWhite     WhiteningPreference = "white"
	WhiteningHollywood WhiteningPreference = "hollywood"
)

// ImpliedShade returns the shade a preference implies, or "" for neutral.
func (p WhiteningPreference) ImpliedShade() string {
	switch p {
	case WhiteningWhite:
		return "A1"
	case WhiteningHollywood:
		return "BL1"
	default:
		return ""
	}
}

// Neutral reports whether p leaves the AI-suggested shade alone.
func (p WhiteningPreference) Neutral() bool {
	return p == "" || p == WhiteningNatural
}

// FormFields are the patient and clinical attributes edited across steps.
type FormFields struct {
	PatientName         string              `json:"patient_name,omitempty"`
	PatientAge          int                 `json:"patient_age,omitempty"`
	Tooth               string              `json:"tooth,omitempty"`
	Region              Region              `json:"region,omitempty"`
	CavityClass         string              `json:"cavity_class,omitempty"`
	RestorationSize     string              `json:"restoration_size,omitempty"`
	Substrate           string              `json:"substrate,omitempty"`
	SubstrateCondition  string              `json:"substrate_condition,omitempty"`
	EnamelCondition     string              `json:"enamel_condition,omitempty"`
	Depth               string              `json:"depth,omitempty"`
	Shade               string              `json:"shade,omitempty"`
	WhiteningPreference WhiteningPreference `json:"whitening_preference,omitempty"`
	TreatmentType       TreatmentType       `json:"treatment_type,omitempty"`
	ClinicalNotes       string              `json:"clinical_notes,omitempty"`
}

// Form field names accepted by review updates.
const (
	FieldPatientName        = "patient_name"
	FieldPatientAge         = "patient_age"
	FieldTooth              = "tooth"
	FieldRegion             = "region"
	FieldCavityClass        = "cavity_class"
	FieldRestorationSize    = "restoration_size"
	FieldSubstrate          = "substrate"
	FieldSubstrateCondition = "substrate_condition"
	FieldEnamelCondition    = "enamel_condition"
	FieldDepth              = "depth"
	FieldShade              = "shade"
	FieldWhitening          = "whitening_preference"
	FieldTreatmentType      = "treatment_type"
	FieldClinicalNotes      = "clinical_notes"
)

// PatientIdentity is either a selected existing patient or new-patient input.
type PatientIdentity struct {
	ExistingID           string     `json:"existing_id,omitempty"`
	Name                 string     `json:"name,omitempty"`
	BirthDate            *time.Time `json:"birth_date,omitempty"`
	ExistingHadBirthDate bool       `json:"existing_had_birth_date,omitempty"`
}

// AnalysisResult is the remote analyzer output.
type AnalysisResult struct {
	DetectedItems       []DetectedItem `json:"detected_items"`
	PrimaryItemID       string         `json:"primary_item_id,omitempty"`
	SuggestedColor      string         `json:"suggested_color,omitempty"`
	TreatmentIndication TreatmentType  `json:"treatment_indication,omitempty"`
}

// DesignSuggestion is one per-tooth change proposed by the aesthetic design pass.
type DesignSuggestion struct {
	ItemID              string        `json:"item_id"`
	CurrentState        string        `json:"current_state,omitempty"`
	ProposedChange      string        `json:"proposed_change"`
	TreatmentIndication TreatmentType `json:"treatment_indication,omitempty"`
}

// DesignLayer is auxiliary metadata attached to a design result.
type DesignLayer struct {
	Type               string `json:"type"`
	IncludesGingivo    bool   `json:"includes_gingivoplasty,omitempty"`
	GingivoplastyNotes string `json:"gingivoplasty_notes,omitempty"`
}

// DesignResult is the aesthetic design output consumed by integration.
type DesignResult struct {
	Suggestions []DesignSuggestion `json:"suggestions,omitempty"`
	Layers      []DesignLayer      `json:"layers,omitempty"`
	Rendering   string             `json:"rendering,omitempty"`
}

// SubmissionProgress drives the submission progress indicator.
type SubmissionProgress struct {
	Phase         int    `json:"phase"`
	ItemIndex     int    `json:"item_index"`
	ItemTotal     int    `json:"item_total"`
	CurrentItemID string `json:"current_item_id,omitempty"`
}

// Signals are cross-stage flags. Each has a single write owner:
//
//	CreditsPreConfirmed  navigator (set on accepted combined confirm, cleared on back from preferences); restore safety net sets it; analysis reads it
//	AnalysisAborted      navigator CancelAnalysis; analysis clears it on the next dispatch
//	ShadeManuallySet     review UpdateField; draft restore may set it, never clears it; discard clears it
//	SoftTissueDeclined   review RemoveSoftTissueProcedure; design integration reads it
//	ReanalyzePending     draft restore; orchestrator consumes it once
//	LowBalanceChecked    credit warning latch
//	SubmissionInFlight   submission guard
type Signals struct {
	CreditsPreConfirmed bool `json:"credits_pre_confirmed,omitempty"`
	AnalysisAborted     bool `json:"-"`
	ShadeManuallySet    bool `json:"shade_manually_set,omitempty"`
	SoftTissueDeclined  bool `json:"soft_tissue_declined,omitempty"`
	ReanalyzePending    bool `json:"-"`
	LowBalanceChecked   bool `json:"-"`
	SubmissionInFlight  bool `json:"-"`
}

// WorkflowState is the shared record every stage reads and writes.
type WorkflowState struct {
	Step                             Step                     `json:"step"`
	Direction                        Direction                `json:"direction"`
	Mode                             Mode                     `json:"mode"`
	CapturedImage                    []byte                   `json:"-"`
	FormFields                       FormFields               `json:"form_fields"`
	DetectedItems                    []DetectedItem           `json:"detected_items,omitempty"`
	SelectedItemIDs                  []string                 `json:"selected_item_ids,omitempty"`
	ItemTreatmentAssignments         map[string]TreatmentType `json:"item_treatment_assignments,omitempty"`
	OriginalItemTreatmentAssignments map[string]TreatmentType `json:"original_item_treatment_assignments,omitempty"`
	AnalysisResult                   *AnalysisResult          `json:"analysis_result,omitempty"`
	DesignResult                     *DesignResult            `json:"design_result,omitempty"`
	UploadedAssetRef                 string                   `json:"uploaded_asset_ref,omitempty"`
	PatientIdentity                  PatientIdentity          `json:"patient_identity"`
	SubmissionProgress               SubmissionProgress       `json:"submission_progress"`

	Analyzing     bool      `json:"-"`
	AnalysisError string    `json:"-"`
	AnalysisKind  ErrorKind `json:"-"`
	Submitting    bool      `json:"-"`
	Completed     bool      `json:"-"`
	CompletedID   string    `json:"-"`
	SubmitError   string    `json:"-"`

	Signals Signals `json:"signals"`
}

// NewWorkflowState returns the pristine state at step 1.
func NewWorkflowState() WorkflowState {
	return WorkflowState{
		Step:      StepCapture,
		Direction: DirectionForward,
		Mode:      ModeFull,
		FormFields: FormFields{
			WhiteningPreference: WhiteningNatural,
			TreatmentType:       DefaultTreatment,
		},
		ItemTreatmentAssignments:         map[string]TreatmentType{},
		OriginalItemTreatmentAssignments: map[string]TreatmentType{},
	}
}

// EffectiveTreatment resolves the treatment for an item as
// override, then the item's AI indication, then the form default, then resina.
func (s WorkflowState) EffectiveTreatment(itemID string) TreatmentType {
	var indication TreatmentType
	if item, ok := FindItem(s.DetectedItems, itemID); ok {
		indication = item.TreatmentIndication
	}
	return FirstTreatment(s.ItemTreatmentAssignments[itemID], indication, s.FormFields.TreatmentType, DefaultTreatment)
}

// Clone returns a deep copy safe to hand to observers.
func (s WorkflowState) Clone() WorkflowState {
	out := s
	if s.CapturedImage != nil {
		out.CapturedImage = append([]byte(nil), s.CapturedImage...)
	}
	out.DetectedItems = cloneItems(s.DetectedItems)
	if s.SelectedItemIDs != nil {
		out.SelectedItemIDs = append([]string(nil), s.SelectedItemIDs...)
	}
	out.ItemTreatmentAssignments = cloneAssignments(s.ItemTreatmentAssignments)
	out.OriginalItemTreatmentAssignments = cloneAssignments(s.OriginalItemTreatmentAssignments)
	if s.AnalysisResult != nil {
		ar := *s.AnalysisResult
		ar.DetectedItems = cloneItems(ar.DetectedItems)
		out.AnalysisResult = &ar
	}
	if s.DesignResult != nil {
		dr := *s.DesignResult
		dr.Suggestions = append([]DesignSuggestion(nil), dr.Suggestions...)
		dr.Layers = append([]DesignLayer(nil), dr.Layers...)
		out.DesignResult = &dr
	}
	if s.PatientIdentity.BirthDate != nil {
		bd := *s.PatientIdentity.BirthDate
		out.PatientIdentity.BirthDate = &bd
	}
	return out
}

// IsSelected reports whether id is in the selection set.
func (s WorkflowState) IsSelected(id string) bool {
	for _, sel := range s.SelectedItemIDs {
		if sel == id {
			return true
		}
	}
	return false
}

func cloneAssignments(in map[string]TreatmentType) map[string]TreatmentType {
	out := make(map[string]TreatmentType, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// AgeAt returns the whole years between birth and now, counting a year only
// once its anniversary has been reached.
func AgeAt(birth, now time.Time) int {
	years := now.Year() - birth.Year()
	if now.Month() < birth.Month() || (now.Month() == birth.Month() && now.Day() < birth.Day()) {
		years--
	}
	if years < 0 {
		return 0
	}
	return years
}
