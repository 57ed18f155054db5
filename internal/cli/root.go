// Package cli implements the casewizard command line.
package cli

import (
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"casewizard/internal/config"
)

// Execute runs the root command.
func Execute() error {
	return NewRoot().Execute()
}

type globalFlags struct {
	configPath string
	verbose    bool
}

// NewRoot builds the command tree.
func NewRoot() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:           "casewizard",
		Short:         "Dental case capture, analysis and protocol submission",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&g.configPath, "config", "casewizard.yaml", "Path to the YAML config file")
	root.PersistentFlags().BoolVarP(&g.verbose, "verbose", "v", false, "Log debug output")
	root.AddCommand(
		runCmd(g),
		draftCmd(g),
		configCmd(g),
	)
	return root
}

func (g *globalFlags) load() (*config.Config, error) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (g *globalFlags) logger(w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	if g.verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}
