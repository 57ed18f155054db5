package workflow

import (
	"strconv"
	"strings"

	"casewizard/internal/domain"
)

// UpdateField sets one form field by name. Touching the shade records a
// manual override that later analyses respect.
func (e *Engine) UpdateField(name, value string) error {
	var verr error
	e.updateIf(func(s *domain.WorkflowState) bool {
		f := &s.FormFields
		switch name {
		case domain.FieldPatientName:
			f.PatientName = strings.TrimSpace(value)
		case domain.FieldPatientAge:
			v := strings.TrimSpace(value)
			if v == "" {
				f.PatientAge = 0
				break
			}
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				verr = domain.Validationf("invalid patient age %q", value)
				return false
			}
			f.PatientAge = n
		case domain.FieldTooth:
			f.Tooth = domain.CanonicalItemID(value)
		case domain.FieldRegion:
			f.Region = domain.Region(strings.TrimSpace(value))
		case domain.FieldCavityClass:
			f.CavityClass = value
		case domain.FieldRestorationSize:
			f.RestorationSize = value
		case domain.FieldSubstrate:
			f.Substrate = value
		case domain.FieldSubstrateCondition:
			f.SubstrateCondition = value
		case domain.FieldEnamelCondition:
			f.EnamelCondition = value
		case domain.FieldDepth:
			f.Depth = value
		case domain.FieldShade:
			f.Shade = strings.TrimSpace(value)
			s.Signals.ShadeManuallySet = true
		case domain.FieldWhitening:
			p, ok := parseWhitening(value)
			if !ok {
				verr = domain.Validationf("unknown whitening preference %q", value)
				return false
			}
			applyWhitening(s, p)
		case domain.FieldTreatmentType:
			t := domain.NormalizeTreatment(value)
			if t == "" {
				t = domain.DefaultTreatment
			}
			f.TreatmentType = t
		case domain.FieldClinicalNotes:
			f.ClinicalNotes = value
		default:
			verr = domain.Validationf("unknown field %q", name)
			return false
		}
		return true
	})
	return verr
}

// SetWhiteningPreference records the patient's aesthetic preference and
// applies the shade it implies unless the shade was set by hand.
func (e *Engine) SetWhiteningPreference(p domain.WhiteningPreference) error {
	parsed, ok := parseWhitening(string(p))
	if !ok {
		return domain.Validationf("unknown whitening preference %q", p)
	}
	e.update(func(s *domain.WorkflowState) { applyWhitening(s, parsed) })
	return nil
}

func parseWhitening(raw string) (domain.WhiteningPreference, bool) {
	p := domain.WhiteningPreference(strings.ToLower(strings.TrimSpace(raw)))
	switch p {
	case domain.WhiteningNatural, domain.WhiteningWhite, domain.WhiteningHollywood:
		return p, true
	case "":
		return domain.WhiteningNatural, true
	}
	return "", false
}

// applyWhitening switches preference. A neutral preference hands the shade
// back to the analysis suggestion, or clears a shade the old preference
// implied.
func applyWhitening(s *domain.WorkflowState, p domain.WhiteningPreference) {
	prev := s.FormFields.WhiteningPreference
	s.FormFields.WhiteningPreference = p
	if s.Signals.ShadeManuallySet {
		return
	}
	if shade := p.ImpliedShade(); shade != "" {
		s.FormFields.Shade = shade
		return
	}
	switch {
	case s.AnalysisResult != nil && s.AnalysisResult.SuggestedColor != "":
		s.FormFields.Shade = s.AnalysisResult.SuggestedColor
	case prev.ImpliedShade() != "" && s.FormFields.Shade == prev.ImpliedShade():
		s.FormFields.Shade = ""
	}
}

func knownItem(s *domain.WorkflowState, id string) bool {
	if _, ok := domain.FindItem(s.DetectedItems, id); ok {
		return true
	}
	return id == domain.SoftTissueItemID && s.IsSelected(id)
}

// SetItemTreatment overrides the treatment of one item. An empty treatment
// removes the override.
func (e *Engine) SetItemTreatment(itemID string, t domain.TreatmentType) error {
	var verr error
	e.updateIf(func(s *domain.WorkflowState) bool {
		if !knownItem(s, itemID) {
			verr = domain.Validationf("unknown item %q", itemID)
			return false
		}
		ensureMaps(s)
		normalized := domain.NormalizeTreatment(string(t))
		if normalized == "" {
			delete(s.ItemTreatmentAssignments, itemID)
			return true
		}
		s.ItemTreatmentAssignments[itemID] = normalized
		return true
	})
	return verr
}

// RestoreSuggestion resets one item to its suggested treatment. It reports
// false when no suggestion was recorded for the item.
func (e *Engine) RestoreSuggestion(itemID string) bool {
	return e.updateIf(func(s *domain.WorkflowState) bool {
		orig, ok := s.OriginalItemTreatmentAssignments[itemID]
		if !ok {
			return false
		}
		ensureMaps(s)
		s.ItemTreatmentAssignments[itemID] = orig
		return true
	})
}

// RestoreAllSuggestions resets every override to the recorded suggestions.
func (e *Engine) RestoreAllSuggestions() {
	e.update(func(s *domain.WorkflowState) {
		assignments := make(map[string]domain.TreatmentType, len(s.OriginalItemTreatmentAssignments))
		for id, t := range s.OriginalItemTreatmentAssignments {
			if knownItem(s, id) {
				assignments[id] = t
			}
		}
		s.ItemTreatmentAssignments = assignments
	})
}

// ToggleItemSelection adds or removes a detected item from the selection.
func (e *Engine) ToggleItemSelection(itemID string) error {
	var verr error
	e.updateIf(func(s *domain.WorkflowState) bool {
		if _, ok := domain.FindItem(s.DetectedItems, itemID); !ok && !s.IsSelected(itemID) {
			verr = domain.Validationf("unknown item %q", itemID)
			return false
		}
		if s.IsSelected(itemID) {
			s.SelectedItemIDs = without(s.SelectedItemIDs, itemID)
			return true
		}
		s.SelectedItemIDs = append(s.SelectedItemIDs, itemID)
		domain.SortItemIDs(s.SelectedItemIDs)
		return true
	})
	return verr
}

// RemoveSoftTissueProcedure drops the virtual gingivoplasty and records
// that the user declined it, so later design passes do not re-add it.
func (e *Engine) RemoveSoftTissueProcedure() {
	e.update(func(s *domain.WorkflowState) {
		s.SelectedItemIDs = without(s.SelectedItemIDs, domain.SoftTissueItemID)
		delete(s.ItemTreatmentAssignments, domain.SoftTissueItemID)
		s.Signals.SoftTissueDeclined = true
	})
}

// SelectPatient sets the patient identity and derives the age from the
// birth date, clearing it when none is known.
func (e *Engine) SelectPatient(identity domain.PatientIdentity) {
	now := e.clock.Now()
	if identity.BirthDate != nil {
		bd := *identity.BirthDate
		identity.BirthDate = &bd
	}
	e.update(func(s *domain.WorkflowState) {
		s.PatientIdentity = identity
		s.FormFields.PatientName = strings.TrimSpace(identity.Name)
		if identity.BirthDate != nil {
			s.FormFields.PatientAge = domain.AgeAt(*identity.BirthDate, now)
		} else {
			s.FormFields.PatientAge = 0
		}
	})
}

func without(ids []string, id string) []string {
	out := make([]string, 0, len(ids))
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
