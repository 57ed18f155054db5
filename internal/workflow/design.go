package workflow

import (
	"context"

	"casewizard/internal/domain"
)

// Integrate merges an aesthetic design result into the case and moves to
// review. New teeth named by suggestions become detected items; a
// suggested soft-tissue procedure becomes the virtual GENGIVO selection.
func (e *Engine) Integrate(ctx context.Context, dr domain.DesignResult) error {
	return e.observe(ctx, "integrate_design", func(context.Context) error {
		var softTissueAdded, applied bool
		stored := cloneDesign(dr)
		applied = e.updateIf(func(s *domain.WorkflowState) bool {
			if s.Step == domain.StepResult {
				return false
			}
			s.DesignResult = &stored
			if len(dr.Suggestions) > 0 && len(s.DetectedItems) > 0 {
				softTissueAdded = mergeSuggestions(s, dr)
			}
			s.Step = domain.StepReview
			return true
		})
		if !applied {
			return domain.Validationf("design cannot be integrated after submission started")
		}
		if softTissueAdded {
			e.notify(Notice{
				Kind:    NoticeSoftTissueAdded,
				Level:   LevelInfo,
				Message: "A gingivoplasty procedure was added to the case.",
				ItemIDs: []string{domain.SoftTissueItemID},
			})
		}
		return nil
	})
}

// Skip leaves the design step without a design result.
func (e *Engine) Skip() bool {
	return e.updateIf(func(s *domain.WorkflowState) bool {
		if s.Step != domain.StepDesign {
			return false
		}
		s.DesignResult = nil
		s.Step = domain.StepReview
		return true
	})
}

// mergeSuggestions applies suggestions to s and reports whether the
// soft-tissue procedure was newly selected.
func mergeSuggestions(s *domain.WorkflowState, dr domain.DesignResult) bool {
	ensureMaps(s)
	present := make(map[string]bool, len(s.DetectedItems))
	for _, it := range s.DetectedItems {
		present[domain.CanonicalItemID(it.ItemID)] = true
	}

	var added []domain.DetectedItem
	softTissue := false
	for _, sg := range dr.Suggestions {
		treatment := domain.NormalizeTreatment(string(sg.TreatmentIndication))
		if domain.IsSoftTissueChange(sg.ProposedChange) || treatment == domain.TreatmentGingivoplasty {
			softTissue = true
			continue
		}
		id := domain.CanonicalItemID(sg.ItemID)
		if id == "" || domain.IsVirtualItem(id) {
			continue
		}
		if !present[id] {
			present[id] = true
			added = append(added, domain.DetectedItem{
				ItemID:              id,
				Region:              domain.RegionForTooth(id),
				Priority:            domain.PriorityMedium,
				TreatmentIndication: treatment,
				IndicationReason:    sg.ProposedChange,
			})
			if !s.IsSelected(id) {
				s.SelectedItemIDs = append(s.SelectedItemIDs, id)
			}
			if treatment != "" {
				s.OriginalItemTreatmentAssignments[id] = treatment
			}
		}
		if treatment != "" && treatment != domain.DefaultTreatment {
			if cur := s.ItemTreatmentAssignments[id]; cur == "" || cur == domain.DefaultTreatment {
				s.ItemTreatmentAssignments[id] = treatment
			}
		}
	}
	if len(added) > 0 {
		merged := make([]domain.DetectedItem, 0, len(s.DetectedItems)+len(added))
		merged = append(merged, s.DetectedItems...)
		merged = append(merged, added...)
		domain.SortItems(merged)
		s.DetectedItems = merged
	}

	for _, layer := range dr.Layers {
		if layer.IncludesGingivo {
			softTissue = true
		}
	}
	newlySelected := false
	if softTissue && !s.Signals.SoftTissueDeclined {
		if !s.IsSelected(domain.SoftTissueItemID) {
			s.SelectedItemIDs = append(s.SelectedItemIDs, domain.SoftTissueItemID)
			newlySelected = true
		}
		s.ItemTreatmentAssignments[domain.SoftTissueItemID] = domain.TreatmentGingivoplasty
		s.OriginalItemTreatmentAssignments[domain.SoftTissueItemID] = domain.TreatmentGingivoplasty
	}
	domain.SortItemIDs(s.SelectedItemIDs)
	return newlySelected
}

func cloneDesign(dr domain.DesignResult) domain.DesignResult {
	out := dr
	out.Suggestions = append([]domain.DesignSuggestion(nil), dr.Suggestions...)
	out.Layers = append([]domain.DesignLayer(nil), dr.Layers...)
	return out
}

func ensureMaps(s *domain.WorkflowState) {
	if s.ItemTreatmentAssignments == nil {
		s.ItemTreatmentAssignments = map[string]domain.TreatmentType{}
	}
	if s.OriginalItemTreatmentAssignments == nil {
		s.OriginalItemTreatmentAssignments = map[string]domain.TreatmentType{}
	}
}
