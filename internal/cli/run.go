package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"casewizard/internal/app"
	"casewizard/internal/credits"
	"casewizard/internal/domain"
	"casewizard/internal/workflow"
)

type runFlags struct {
	photo        string
	quick        bool
	yes          bool
	patient      string
	whitening    string
	designFile   string
	restore      bool
	discardDraft bool
	traceFile    string
	metrics      bool
}

var errDraftPending = errors.New("a saved draft exists; pass --restore or --discard-draft")

func runCmd(g *globalFlags) *cobra.Command {
	f := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one case from photo to submitted protocols",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCase(cmd, g, f)
		},
	}
	cmd.Flags().StringVar(&f.photo, "photo", "", "Path to the intraoral photo")
	cmd.Flags().BoolVar(&f.quick, "quick", false, "Quick case: skip preferences and smile design")
	cmd.Flags().BoolVarP(&f.yes, "yes", "y", false, "Accept credit confirmations without asking")
	cmd.Flags().StringVar(&f.patient, "patient", "", "Patient name")
	cmd.Flags().StringVar(&f.whitening, "whitening", string(domain.WhiteningNatural), "Whitening preference: natural, white or hollywood")
	cmd.Flags().StringVar(&f.designFile, "design", "", "JSON smile design result to integrate")
	cmd.Flags().BoolVar(&f.restore, "restore", false, "Restore the saved draft")
	cmd.Flags().BoolVar(&f.discardDraft, "discard-draft", false, "Discard the saved draft and start over")
	cmd.Flags().StringVar(&f.traceFile, "trace-file", "", "Write operation spans as JSON lines")
	cmd.Flags().BoolVar(&f.metrics, "metrics", false, "Print operation metrics when done")
	return cmd
}

func runCase(cmd *cobra.Command, g *globalFlags, f *runFlags) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := g.load()
	if err != nil {
		return err
	}
	stderr := cmd.ErrOrStderr()
	out := cmd.OutOrStdout()

	reg := prometheus.NewRegistry()
	prom, err := workflow.NewPrometheusMetricsRecorder(reg)
	if err != nil {
		return err
	}
	opts := app.Options{
		Logger:    g.logger(stderr),
		Confirmer: confirmerFor(f.yes, cmd.InOrStdin(), stderr),
		Notifier: workflow.NotifierFunc(func(n workflow.Notice) {
			fmt.Fprintf(stderr, "[%s] %s\n", n.Level, n.Message)
		}),
		Metrics: workflow.MultiMetricsRecorder(workflow.NewExpvarMetricsRecorder(""), prom),
	}
	if f.traceFile != "" {
		file, err := os.Create(f.traceFile)
		if err != nil {
			return fmt.Errorf("open trace file: %w", err)
		}
		defer func() { _ = file.Close() }()
		opts.Tracer = workflow.NewJSONTracer(file)
	}
	a, err := app.New(ctx, cfg, opts)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()
	engine := a.Engine

	if err := resolveDraft(ctx, engine, f, out); err != nil {
		return err
	}
	if f.photo != "" {
		image, err := os.ReadFile(f.photo)
		if err != nil {
			return fmt.Errorf("read photo: %w", err)
		}
		if err := engine.SetCapturedImage(ctx, image); err != nil {
			return err
		}
	}
	if err := driveToReview(ctx, engine, f); err != nil {
		return err
	}
	if f.patient != "" {
		if err := engine.UpdateField(domain.FieldPatientName, f.patient); err != nil {
			return err
		}
	}
	outcome, err := engine.Submit(ctx)
	printOutcome(out, outcome)
	if f.metrics {
		printMetrics(out, reg)
	}
	return err
}

func resolveDraft(ctx context.Context, engine *workflow.Engine, f *runFlags, out io.Writer) error {
	pending, err := engine.Start(ctx)
	if err != nil {
		return err
	}
	if !pending {
		return nil
	}
	d, _ := engine.PendingDraft()
	switch {
	case f.restore:
		fmt.Fprintf(out, "restoring draft %s\n", draftSummary(d))
		return engine.Restore(ctx)
	case f.discardDraft:
		return engine.Discard(ctx)
	default:
		fmt.Fprintf(out, "draft %s\n", draftSummary(d))
		return errDraftPending
	}
}

// driveToReview advances from wherever the case is to the review step.
func driveToReview(ctx context.Context, engine *workflow.Engine, f *runFlags) error {
	if engine.State().Step == domain.StepCapture {
		if f.quick {
			return engine.GoToQuickCase(ctx)
		}
		ok, err := engine.GoToPreferences(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return errors.New("the case was not started")
		}
	}
	if engine.State().Step == domain.StepPreferences {
		if err := engine.SetWhiteningPreference(domain.WhiteningPreference(f.whitening)); err != nil {
			return err
		}
		if err := engine.Analyze(ctx); err != nil {
			return err
		}
	}
	if engine.State().Step == domain.StepAnalyzing {
		if err := engine.Analyze(ctx); err != nil {
			return err
		}
	}
	if engine.State().Step == domain.StepDesign {
		if f.designFile == "" {
			engine.Skip()
			return nil
		}
		raw, err := os.ReadFile(f.designFile)
		if err != nil {
			return fmt.Errorf("read design: %w", err)
		}
		var dr domain.DesignResult
		if err := json.Unmarshal(raw, &dr); err != nil {
			return fmt.Errorf("decode design: %w", err)
		}
		return engine.Integrate(ctx, dr)
	}
	return nil
}

func confirmerFor(yes bool, in io.Reader, prompt io.Writer) credits.Confirmer {
	if yes {
		return credits.AutoConfirm(true)
	}
	reader := bufio.NewReader(in)
	return credits.ConfirmerFunc(func(_ context.Context, c credits.Confirmation) (bool, error) {
		fmt.Fprintf(prompt, "%s costs %d credit(s), %d remaining. Continue? [y/N] ", c.Label, c.Cost, c.RemainingBalance)
		line, err := reader.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return false, err
		}
		answer := strings.ToLower(strings.TrimSpace(line))
		return answer == "y" || answer == "yes", nil
	})
}

func printOutcome(out io.Writer, o domain.SubmissionOutcome) {
	if len(o.SucceededItemIDs)+len(o.FailedItems) == 0 {
		return
	}
	fmt.Fprintf(out, "status\t%s\n", o.Status())
	if o.SessionID != "" {
		fmt.Fprintf(out, "session\t%s\n", o.SessionID)
	}
	for _, id := range o.SucceededItemIDs {
		fmt.Fprintf(out, "ok\t%s\n", id)
	}
	for _, item := range o.FailedItems {
		fmt.Fprintf(out, "failed\t%s\t%s\t%s\n", item.ItemID, item.Kind, item.Error)
	}
}

func printMetrics(out io.Writer, g prometheus.Gatherer) {
	families, err := g.Gather()
	if err != nil {
		fmt.Fprintf(out, "metrics unavailable: %v\n", err)
		return
	}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			var labels []string
			for _, lp := range m.GetLabel() {
				labels = append(labels, lp.GetName()+"="+lp.GetValue())
			}
			switch {
			case m.GetCounter() != nil:
				fmt.Fprintf(out, "%s{%s} %v\n", mf.GetName(), strings.Join(labels, ","), m.GetCounter().GetValue())
			case m.GetHistogram() != nil:
				fmt.Fprintf(out, "%s_count{%s} %d\n", mf.GetName(), strings.Join(labels, ","), m.GetHistogram().GetSampleCount())
			}
		}
	}
}
