package workflow

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/cucumber/godog"

	"casewizard/internal/domain"
	"casewizard/internal/persistence"
)

func TestFeatures(t *testing.T) {
	suite := godog.TestSuite{
		ScenarioInitializer: func(sc *godog.ScenarioContext) { initializeScenario(t, sc) },
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"testdata/features"},
			TestingT: t,
		},
	}
	if suite.Run() != 0 {
		t.Fatal("non-zero status returned, failed to run feature tests")
	}
}

// scenarioContext holds state for a single scenario.
type scenarioContext struct {
	t         *testing.T
	h         *harness
	submitErr error
	outcome   domain.SubmissionOutcome
}

func initializeScenario(t *testing.T, sc *godog.ScenarioContext) {
	s := &scenarioContext{t: t}

	sc.Before(func(ctx context.Context, _ *godog.Scenario) (context.Context, error) {
		s.h = nil
		s.submitErr = nil
		s.outcome = domain.SubmissionOutcome{}
		return ctx, nil
	})

	sc.Step(`^a dentist with (\d+) credits$`, s.aDentistWithCredits)
	sc.Step(`^a captured photo$`, s.aCapturedPhoto)
	sc.Step(`^the analyzer suggests shade "([^"]*)" for the primary tooth$`, s.theAnalyzerSuggestsShade)
	sc.Step(`^they continue to preferences$`, s.theyContinueToPreferences)
	sc.Step(`^they choose the "([^"]*)" whitening preference$`, s.theyChooseWhitening)
	sc.Step(`^the photo is analyzed$`, s.thePhotoIsAnalyzed)
	sc.Step(`^the workflow is on step (\d+)$`, s.theWorkflowIsOnStep)
	sc.Step(`^no credit confirmation was requested$`, s.noCreditConfirmation)
	sc.Step(`^a "([^"]*)" credit warning pointing to "([^"]*)" was shown$`, s.aCreditWarningWasShown)
	sc.Step(`^the shade field is "([^"]*)"$`, s.theShadeFieldIs)
	sc.Step(`^a reviewed case with resin teeth "([^"]*)"$`, s.aReviewedCaseWithResinTeeth)
	sc.Step(`^the protocol generator fails for tooth "([^"]*)"$`, s.theProtocolGeneratorFails)
	sc.Step(`^the case is submitted$`, s.theCaseIsSubmitted)
	sc.Step(`^remote protocols were requested for teeth "([^"]*)"$`, s.remoteProtocolsWereRequested)
	sc.Step(`^tooth "([^"]*)" received a synced protocol$`, s.toothReceivedSyncedProtocol)
	sc.Step(`^the submission outcome is "([^"]*)"$`, s.theSubmissionOutcomeIs)
	sc.Step(`^a draft saved while the photo was being analyzed$`, s.aDraftSavedMidAnalysis)
	sc.Step(`^the app starts and the draft is restored$`, s.theAppStartsAndRestores)
	sc.Step(`^the workflow state is published (\d+) more times$`, s.theStateIsPublished)
	sc.Step(`^the analyzer ran (\d+) times?$`, s.theAnalyzerRan)
}

func (s *scenarioContext) aDentistWithCredits(balance int) error {
	s.h = newHarness(s.t, balance)
	return nil
}

func (s *scenarioContext) aCapturedPhoto() error {
	return s.h.engine.SetCapturedImage(context.Background(), []byte("jpeg-bytes"))
}

func (s *scenarioContext) theAnalyzerSuggestsShade(shade string) error {
	result := sampleResult()
	result.SuggestedColor = shade
	s.h.analyzer.mu.Lock()
	s.h.analyzer.result = result
	s.h.analyzer.mu.Unlock()
	return nil
}

func (s *scenarioContext) theyContinueToPreferences() error {
	_, err := s.h.engine.GoToPreferences(context.Background())
	return err
}

func (s *scenarioContext) theyChooseWhitening(p string) error {
	return s.h.engine.SetWhiteningPreference(domain.WhiteningPreference(p))
}

func (s *scenarioContext) thePhotoIsAnalyzed() error {
	return s.h.engine.Analyze(context.Background())
}

func (s *scenarioContext) theWorkflowIsOnStep(step int) error {
	if got := s.h.engine.State().Step; got != domain.Step(step) {
		return fmt.Errorf("workflow is on step %d, want %d", got, step)
	}
	return nil
}

func (s *scenarioContext) noCreditConfirmation() error {
	if n := s.h.confirm.count(); n != 0 {
		return fmt.Errorf("%d credit confirmations were requested", n)
	}
	return nil
}

func (s *scenarioContext) aCreditWarningWasShown(level, path string) error {
	n, ok := s.h.notices.Last(NoticeInsufficientCredits)
	if !ok || n.Credits == nil {
		return fmt.Errorf("no credit warning was shown")
	}
	if string(n.Credits.Level) != level || n.ActionPath != path {
		return fmt.Errorf("warning is %s to %q, want %s to %q", n.Credits.Level, n.ActionPath, level, path)
	}
	return nil
}

func (s *scenarioContext) theShadeFieldIs(shade string) error {
	if got := s.h.engine.State().FormFields.Shade; got != shade {
		return fmt.Errorf("shade is %q, want %q", got, shade)
	}
	return nil
}

func (s *scenarioContext) aReviewedCaseWithResinTeeth(list string) error {
	ids := strings.Split(list, ",")
	if err := s.aCapturedPhoto(); err != nil {
		return err
	}
	s.h.setState(func(st *domain.WorkflowState) {
		st.Step = domain.StepReview
		st.DetectedItems = nil
		for _, id := range ids {
			st.DetectedItems = append(st.DetectedItems, domain.DetectedItem{
				ItemID:              id,
				Region:              domain.RegionForTooth(id),
				TreatmentIndication: domain.TreatmentResin,
			})
		}
		st.SelectedItemIDs = ids
		st.FormFields.PatientName = "Ana Souza"
		st.FormFields.PatientAge = 41
	})
	return nil
}

func (s *scenarioContext) theProtocolGeneratorFails(id string) error {
	s.h.protocols.mu.Lock()
	s.h.protocols.fail[id] = fmt.Errorf("service unavailable")
	s.h.protocols.mu.Unlock()
	return nil
}

func (s *scenarioContext) theCaseIsSubmitted() error {
	s.outcome, s.submitErr = s.h.engine.Submit(context.Background())
	return nil
}

// remoteProtocolsWereRequested compares distinct items in call order, so
// retries of one item count once.
func (s *scenarioContext) remoteProtocolsWereRequested(list string) error {
	var distinct []string
	for _, id := range s.h.protocols.callIDs() {
		if len(distinct) == 0 || distinct[len(distinct)-1] != id {
			distinct = append(distinct, id)
		}
	}
	if got := strings.Join(distinct, ","); got != list {
		return fmt.Errorf("remote protocols requested for %q, want %q", got, list)
	}
	return nil
}

func (s *scenarioContext) toothReceivedSyncedProtocol(id string) error {
	evaluations, err := s.h.records.ListEvaluations(context.Background(), s.outcome.SessionID)
	if err != nil {
		return err
	}
	for _, ev := range evaluations {
		if ev.ItemID != id {
			continue
		}
		if ev.Protocol == nil || ev.Protocol.Source != persistence.SourceSynced {
			return fmt.Errorf("tooth %s protocol is %+v", id, ev.Protocol)
		}
		return nil
	}
	return fmt.Errorf("no evaluation for tooth %s", id)
}

func (s *scenarioContext) theSubmissionOutcomeIs(status string) error {
	if s.submitErr != nil {
		return fmt.Errorf("submit: %w", s.submitErr)
	}
	if got := s.outcome.Status(); string(got) != status {
		return fmt.Errorf("outcome is %s, want %s", got, status)
	}
	return nil
}

func (s *scenarioContext) aDraftSavedMidAnalysis() error {
	ctx := context.Background()
	ref, err := s.h.assets.Upload(ctx, testOwner, []byte("stored-photo"))
	if err != nil {
		return err
	}
	st := domain.NewWorkflowState()
	st.Step = domain.StepAnalyzing
	st.UploadedAssetRef = ref
	return s.h.drafts.Save(ctx, domain.Draft{OwnerID: testOwner, State: st, LastSavedAt: testNow.Add(-10 * time.Minute)})
}

func (s *scenarioContext) theAppStartsAndRestores() error {
	ctx := context.Background()
	pending, err := s.h.engine.Start(ctx)
	if err != nil {
		return err
	}
	if !pending {
		return fmt.Errorf("no pending draft found")
	}
	return s.h.engine.Restore(ctx)
}

func (s *scenarioContext) theStateIsPublished(times int) error {
	for i := 0; i < times; i++ {
		s.h.setState(func(*domain.WorkflowState) {})
		if err := s.h.engine.resumeInterruptedAnalysis(context.Background()); err != nil {
			return err
		}
	}
	return nil
}

func (s *scenarioContext) theAnalyzerRan(times int) error {
	if got := s.h.analyzer.callCount(); got != times {
		return fmt.Errorf("analyzer ran %d times, want %d", got, times)
	}
	return nil
}
