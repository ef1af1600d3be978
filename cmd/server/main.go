package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"queuewatch/internal/app"
	"queuewatch/internal/config"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configFile string

	root := &cobra.Command{
		Use:          "queuewatch",
		Short:        "Object detection dashboard backend",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configFile, "config", "", "optional YAML config file")

	withApp := func(fn func(ctx context.Context, a *app.App, args []string) error, opts ...func(*config.Config)) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configFile)
			if err != nil {
				return err
			}
			for _, opt := range opts {
				opt(cfg)
			}
			a, err := app.NewApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return fn(ctx, a, args)
		}
	}

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the HTTP dashboard server",
			Args:  cobra.NoArgs,
			RunE: withApp(func(ctx context.Context, a *app.App, _ []string) error {
				return a.Run(ctx)
			}),
		},
		&cobra.Command{
			Use:   "detect <file>",
			Short: "Detect objects in one image or video and print the summary",
			Args:  cobra.ExactArgs(1),
			RunE: withApp(func(ctx context.Context, a *app.App, args []string) error {
				outcome, err := a.DetectFile(ctx, args[0])
				if err != nil {
					return err
				}
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(outcome)
			}, logToStderr),
		},
		&cobra.Command{
			Use:   "reindex",
			Short: "Record output files missing from the results database",
			Args:  cobra.NoArgs,
			RunE: withApp(func(_ context.Context, a *app.App, _ []string) error {
				added, skipped, err := a.Reindex()
				if err != nil {
					return err
				}
				fmt.Printf("Indexed %d outputs, skipped %d\n", added, skipped)
				return nil
			}),
		},
	)
	return root
}

// logToStderr keeps stdout free for the command's JSON output.
func logToStderr(cfg *config.Config) {
	cfg.LogToStderr = true
}
