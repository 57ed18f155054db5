package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"casewizard/internal/blob"
	"casewizard/internal/domain"
	"casewizard/internal/drafts"
)

func draftCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "draft",
		Short: "Inspect or discard the saved case draft",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Show the saved draft",
			RunE: func(cmd *cobra.Command, args []string) error {
				store, owner, err := g.openDrafts(cmd.Context())
				if err != nil {
					return err
				}
				d, ok, err := store.Load(cmd.Context(), owner)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if !ok {
					fmt.Fprintln(out, "no draft")
					return nil
				}
				st := d.State
				fmt.Fprintf(out, "owner\t%s\n", d.OwnerID)
				fmt.Fprintf(out, "saved\t%s\n", d.LastSavedAt.Format(time.RFC3339))
				fmt.Fprintf(out, "expired\t%t\n", d.Expired(time.Now()))
				fmt.Fprintf(out, "step\t%d\n", st.Step)
				fmt.Fprintf(out, "mode\t%s\n", st.Mode)
				fmt.Fprintf(out, "items\t%d\n", len(st.DetectedItems))
				fmt.Fprintf(out, "selected\t%d\n", len(st.SelectedItemIDs))
				if d.InterruptedMidAnalysis() {
					fmt.Fprintln(out, "analysis\tinterrupted")
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "discard",
			Short: "Delete the saved draft",
			RunE: func(cmd *cobra.Command, args []string) error {
				store, owner, err := g.openDrafts(cmd.Context())
				if err != nil {
					return err
				}
				if err := store.Clear(cmd.Context(), owner); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "draft discarded")
				return nil
			},
		},
	)
	return cmd
}

func (g *globalFlags) openDrafts(ctx context.Context) (*drafts.Store, string, error) {
	cfg, err := g.load()
	if err != nil {
		return nil, "", err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	blobs, err := blob.Open(ctx, blob.Options{Driver: cfg.Blob.Driver, FSRoot: cfg.Blob.FSRoot, S3: cfg.Blob.S3})
	if err != nil {
		return nil, "", err
	}
	return drafts.New(blobs), cfg.OwnerID, nil
}

// draftSummary is one line describing a pending draft.
func draftSummary(d domain.Draft) string {
	return fmt.Sprintf("saved %s at step %d (%d items)", d.LastSavedAt.Format(time.RFC3339), d.State.Step, len(d.State.DetectedItems))
}
