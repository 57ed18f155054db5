package workflow

import (
	"testing"
	"time"

	"casewizard/internal/domain"
)

func TestUpdateFieldTracksManualShade(t *testing.T) {
	h := newHarness(t, 10)
	if err := h.engine.UpdateField(domain.FieldShade, " B2 "); err != nil {
		t.Fatalf("update shade: %v", err)
	}
	st := h.engine.State()
	if st.FormFields.Shade != "B2" || !st.Signals.ShadeManuallySet {
		t.Fatalf("expected manual shade B2, got %q manual=%v", st.FormFields.Shade, st.Signals.ShadeManuallySet)
	}
	if err := h.engine.SetWhiteningPreference(domain.WhiteningHollywood); err != nil {
		t.Fatalf("set whitening: %v", err)
	}
	if got := h.engine.State().FormFields.Shade; got != "B2" {
		t.Fatalf("manual shade overwritten by preference: %q", got)
	}
}

func TestUpdateFieldValidation(t *testing.T) {
	h := newHarness(t, 10)
	cases := []struct {
		name, value string
	}{
		{"favourite_colour", "blue"},
		{domain.FieldPatientAge, "forty"},
		{domain.FieldPatientAge, "-3"},
		{domain.FieldWhitening, "glow"},
	}
	for _, tc := range cases {
		err := h.engine.UpdateField(tc.name, tc.value)
		if domain.Classify(err) != domain.KindValidation {
			t.Fatalf("%s=%q: expected validation error, got %v", tc.name, tc.value, err)
		}
	}
}

func TestUpdateFieldNormalizesTreatmentAndAge(t *testing.T) {
	h := newHarness(t, 10)
	if err := h.engine.UpdateField(domain.FieldTreatmentType, "Porcelain Veneer"); err != nil {
		t.Fatalf("update treatment: %v", err)
	}
	if err := h.engine.UpdateField(domain.FieldPatientAge, "42"); err != nil {
		t.Fatalf("update age: %v", err)
	}
	f := h.engine.State().FormFields
	if f.TreatmentType != domain.TreatmentPorcelain || f.PatientAge != 42 {
		t.Fatalf("unexpected form %+v", f)
	}
}

func TestWhiteningPreferenceImpliedShade(t *testing.T) {
	h := newHarness(t, 10)
	h.setState(func(s *domain.WorkflowState) {
		s.AnalysisResult = &domain.AnalysisResult{SuggestedColor: "A3"}
		s.FormFields.Shade = "A3"
	})
	steps := []struct {
		pref domain.WhiteningPreference
		want string
	}{
		{domain.WhiteningWhite, "A1"},
		{domain.WhiteningHollywood, "BL1"},
		{domain.WhiteningNatural, "A3"},
	}
	for _, step := range steps {
		if err := h.engine.SetWhiteningPreference(step.pref); err != nil {
			t.Fatalf("set %s: %v", step.pref, err)
		}
		if got := h.engine.State().FormFields.Shade; got != step.want {
			t.Fatalf("%s: shade %q, want %q", step.pref, got, step.want)
		}
	}
}

func TestItemTreatmentOverrideAndRestore(t *testing.T) {
	h := newHarness(t, 10)
	h.setState(func(s *domain.WorkflowState) {
		*s = reviewedState()
		s.Step = domain.StepReview
		s.OriginalItemTreatmentAssignments["11"] = domain.TreatmentResin
	})
	if err := h.engine.SetItemTreatment("11", "implant"); err != nil {
		t.Fatalf("set treatment: %v", err)
	}
	if err := h.engine.SetItemTreatment("21", domain.TreatmentCrown); err != nil {
		t.Fatalf("set treatment: %v", err)
	}
	if got := h.engine.State().EffectiveTreatment("11"); got != domain.TreatmentImplant {
		t.Fatalf("override not effective: %s", got)
	}
	if !h.engine.RestoreSuggestion("11") {
		t.Fatalf("expected restore")
	}
	if h.engine.RestoreSuggestion("21") {
		t.Fatalf("restore without snapshot must be a no-op")
	}
	st := h.engine.State()
	if st.ItemTreatmentAssignments["11"] != domain.TreatmentResin || st.ItemTreatmentAssignments["21"] != domain.TreatmentCrown {
		t.Fatalf("unexpected assignments %v", st.ItemTreatmentAssignments)
	}
	h.engine.RestoreAllSuggestions()
	st = h.engine.State()
	if _, ok := st.ItemTreatmentAssignments["21"]; ok || st.ItemTreatmentAssignments["11"] != domain.TreatmentResin {
		t.Fatalf("restore all left %v", st.ItemTreatmentAssignments)
	}
	if err := h.engine.SetItemTreatment("48", domain.TreatmentCrown); domain.Classify(err) != domain.KindValidation {
		t.Fatalf("unknown item must be rejected, got %v", err)
	}
}

func TestToggleAndRemoveSoftTissue(t *testing.T) {
	h := newHarness(t, 10)
	h.setState(func(s *domain.WorkflowState) {
		*s = reviewedState()
		s.SelectedItemIDs = append(s.SelectedItemIDs, domain.SoftTissueItemID)
		s.ItemTreatmentAssignments[domain.SoftTissueItemID] = domain.TreatmentGingivoplasty
	})
	if err := h.engine.ToggleItemSelection("11"); err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if h.engine.State().IsSelected("11") {
		t.Fatalf("expected 11 deselected")
	}
	if err := h.engine.ToggleItemSelection("11"); err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if ids := h.engine.State().SelectedItemIDs; ids[0] != "11" {
		t.Fatalf("selection must stay ordered: %v", ids)
	}
	h.engine.RemoveSoftTissueProcedure()
	st := h.engine.State()
	if st.IsSelected(domain.SoftTissueItemID) || !st.Signals.SoftTissueDeclined {
		t.Fatalf("soft tissue not removed: %v %+v", st.SelectedItemIDs, st.Signals)
	}
	if _, ok := st.ItemTreatmentAssignments[domain.SoftTissueItemID]; ok {
		t.Fatalf("soft tissue assignment left behind")
	}
	if err := h.engine.ToggleItemSelection("99"); err == nil {
		t.Fatalf("expected unknown item error")
	}
}

func TestSelectPatientDerivesCalendarAge(t *testing.T) {
	h := newHarness(t, 10)
	birth := time.Date(1990, 3, 11, 0, 0, 0, 0, time.UTC)
	h.engine.SelectPatient(domain.PatientIdentity{ExistingID: "p-1", Name: "Ana Souza", BirthDate: &birth, ExistingHadBirthDate: true})
	st := h.engine.State()
	if st.FormFields.PatientAge != 35 || st.FormFields.PatientName != "Ana Souza" {
		t.Fatalf("expected age 35 the day before the birthday, got %d", st.FormFields.PatientAge)
	}
	h.engine.SelectPatient(domain.PatientIdentity{Name: "Ana Souza"})
	if got := h.engine.State().FormFields.PatientAge; got != 0 {
		t.Fatalf("age must clear without birth date, got %d", got)
	}
}
