package workflow

import (
	"context"
	"testing"

	"casewizard/internal/domain"
)

func reviewedState() domain.WorkflowState {
	s := domain.NewWorkflowState()
	s.Step = domain.StepDesign
	s.DetectedItems = []domain.DetectedItem{
		{ItemID: "11", Region: domain.RegionUpperAnterior, TreatmentIndication: domain.TreatmentResin},
		{ItemID: "21", Region: domain.RegionUpperAnterior, TreatmentIndication: domain.TreatmentResin},
	}
	s.SelectedItemIDs = []string{"11", "21"}
	return s
}

func TestMergeSuggestionsAddsSortedItems(t *testing.T) {
	s := reviewedState()
	mergeSuggestions(&s, domain.DesignResult{Suggestions: []domain.DesignSuggestion{
		{ItemID: "22", ProposedChange: "close the diastema", TreatmentIndication: "veneer"},
		{ItemID: "12", ProposedChange: "lengthen incisal edge"},
		{ItemID: "11", ProposedChange: "reshape", TreatmentIndication: "porcelain"},
	}})
	ids := itemIDs(s.DetectedItems)
	want := []string{"11", "12", "21", "22"}
	if len(ids) != len(want) {
		t.Fatalf("got %v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("got %v, want %v", ids, want)
		}
	}
	added, _ := domain.FindItem(s.DetectedItems, "22")
	if added.Priority != domain.PriorityMedium || added.Region != domain.RegionUpperAnterior || added.IndicationReason != "close the diastema" {
		t.Fatalf("unexpected synthesized item %+v", added)
	}
	if !s.IsSelected("22") || !s.IsSelected("12") {
		t.Fatalf("new items must be selected: %v", s.SelectedItemIDs)
	}
	if s.ItemTreatmentAssignments["11"] != domain.TreatmentPorcelain || s.ItemTreatmentAssignments["22"] != domain.TreatmentPorcelain {
		t.Fatalf("expected upgrades to porcelain, got %v", s.ItemTreatmentAssignments)
	}
	if _, ok := s.ItemTreatmentAssignments["12"]; ok {
		t.Fatalf("suggestion without treatment must not assign")
	}
}

func TestMergeSuggestionsNeverDowngradesExplicitChoice(t *testing.T) {
	s := reviewedState()
	s.ItemTreatmentAssignments["11"] = domain.TreatmentCrown
	mergeSuggestions(&s, domain.DesignResult{Suggestions: []domain.DesignSuggestion{
		{ItemID: "11", ProposedChange: "veneer", TreatmentIndication: domain.TreatmentPorcelain},
	}})
	if got := s.ItemTreatmentAssignments["11"]; got != domain.TreatmentCrown {
		t.Fatalf("explicit choice overwritten: %s", got)
	}
}

func TestMergeSuggestionsForExistingItemKeepsList(t *testing.T) {
	s := reviewedState()
	before := &s.DetectedItems[0]
	mergeSuggestions(&s, domain.DesignResult{Suggestions: []domain.DesignSuggestion{
		{ItemID: "21", ProposedChange: "polish"},
	}})
	if &s.DetectedItems[0] != before || len(s.DetectedItems) != 2 {
		t.Fatalf("detected item list replaced without new items")
	}
}

func TestMergeSuggestionsMatchesToothIDsCanonically(t *testing.T) {
	s := reviewedState()
	mergeSuggestions(&s, domain.DesignResult{Suggestions: []domain.DesignSuggestion{
		{ItemID: "011", ProposedChange: "reshape"},
		{ItemID: "022", ProposedChange: "close the diastema"},
		{ItemID: "22", ProposedChange: "add volume"},
	}})
	got := itemIDs(s.DetectedItems)
	want := []string{"11", "21", "22"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
	if len(s.SelectedItemIDs) != 3 {
		t.Fatalf("duplicate selection: %v", s.SelectedItemIDs)
	}
}

func TestMergeSuggestionsSoftTissueIsVirtual(t *testing.T) {
	s := reviewedState()
	dr := domain.DesignResult{Suggestions: []domain.DesignSuggestion{
		{ItemID: "13", ProposedChange: "Gengivoplastia para nivelar zênites"},
		{ItemID: "21", ProposedChange: "polish"},
	}}
	if !mergeSuggestions(&s, dr) {
		t.Fatalf("expected soft tissue newly selected")
	}
	if _, ok := domain.FindItem(s.DetectedItems, "13"); ok {
		t.Fatalf("soft tissue suggestion must not create a tooth item")
	}
	if mergeSuggestions(&s, dr) {
		t.Fatalf("second merge must not report a new selection")
	}
	count := 0
	for _, id := range s.SelectedItemIDs {
		if id == domain.SoftTissueItemID {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected exactly one soft tissue entry, got %v", s.SelectedItemIDs)
	}
	if last := s.SelectedItemIDs[len(s.SelectedItemIDs)-1]; last != domain.SoftTissueItemID {
		t.Fatalf("virtual item must sort last, got %v", s.SelectedItemIDs)
	}
	if s.ItemTreatmentAssignments[domain.SoftTissueItemID] != domain.TreatmentGingivoplasty {
		t.Fatalf("expected gingivoplasty assignment")
	}
}

func TestMergeSuggestionsRespectsDecline(t *testing.T) {
	s := reviewedState()
	s.Signals.SoftTissueDeclined = true
	mergeSuggestions(&s, domain.DesignResult{
		Suggestions: []domain.DesignSuggestion{{ItemID: "11", ProposedChange: "polish"}},
		Layers:      []domain.DesignLayer{{Type: "gingival", IncludesGingivo: true}},
	})
	if s.IsSelected(domain.SoftTissueItemID) {
		t.Fatalf("declined soft tissue re-added")
	}
}

func TestIntegrateNotifiesOnceAndAdvances(t *testing.T) {
	h := newHarness(t, 10)
	h.setState(func(s *domain.WorkflowState) { *s = reviewedState() })
	dr := domain.DesignResult{
		Suggestions: []domain.DesignSuggestion{{ItemID: "11", ProposedChange: "polish"}},
		Layers:      []domain.DesignLayer{{Type: "gingival", IncludesGingivo: true}},
	}
	if err := h.engine.Integrate(context.Background(), dr); err != nil {
		t.Fatalf("integrate: %v", err)
	}
	st := h.engine.State()
	if st.Step != domain.StepReview || st.DesignResult == nil {
		t.Fatalf("expected review with stored design, got step=%d", st.Step)
	}
	h.setState(func(s *domain.WorkflowState) { s.Step = domain.StepDesign })
	if err := h.engine.Integrate(context.Background(), dr); err != nil {
		t.Fatalf("integrate: %v", err)
	}
	if n := h.notices.Count(NoticeSoftTissueAdded); n != 1 {
		t.Fatalf("expected one soft tissue notice, got %d", n)
	}
	if h.metrics.count("integrate_design", true) != 2 {
		t.Fatalf("expected integrate metrics")
	}
}

func TestIntegrateWithoutItemsOnlyStores(t *testing.T) {
	h := newHarness(t, 10)
	h.setState(func(s *domain.WorkflowState) { s.Step = domain.StepDesign })
	err := h.engine.Integrate(context.Background(), domain.DesignResult{
		Suggestions: []domain.DesignSuggestion{{ItemID: "11", ProposedChange: "veneer"}},
	})
	if err != nil {
		t.Fatalf("integrate: %v", err)
	}
	st := h.engine.State()
	if len(st.DetectedItems) != 0 || st.Step != domain.StepReview || st.DesignResult == nil {
		t.Fatalf("expected stored result only, got items=%v step=%d", st.DetectedItems, st.Step)
	}
}

func TestSkipClearsDesign(t *testing.T) {
	h := newHarness(t, 10)
	h.setState(func(s *domain.WorkflowState) {
		s.Step = domain.StepDesign
		s.DesignResult = &domain.DesignResult{Rendering: "x"}
	})
	if !h.engine.Skip() {
		t.Fatalf("expected skip")
	}
	if st := h.engine.State(); st.DesignResult != nil || st.Step != domain.StepReview {
		t.Fatalf("unexpected state after skip")
	}
	if h.engine.Skip() {
		t.Fatalf("skip only applies on the design step")
	}
}
