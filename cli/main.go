package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"labledger/config"
)

// Run executes the command line and reports whether it succeeded.
func Run(args []string) bool {
	root := newRoot()
	root.SetArgs(args[1:])
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return false
	}
	return true
}

func newRoot() *cobra.Command {
	var cfgPath string

	root := &cobra.Command{
		Use:           "labledger",
		Short:         "Escrow settlement ledger for the lab-testing marketplace",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "path to the YAML config file")

	load := func() (*config.Config, error) {
		return config.Load(cfgPath)
	}

	root.AddCommand(
		&cobra.Command{
			Use:   "run",
			Short: "Run the ledger daemon",
			RunE: func(cmd *cobra.Command, _ []string) error {
				cfg, err := load()
				if err != nil {
					return err
				}
				ctx, stop := signalContext()
				defer stop()
				return runLedger(ctx, cfg)
			},
		},
		&cobra.Command{
			Use:   "index",
			Short: "Project ledger notifications into Postgres",
			RunE: func(cmd *cobra.Command, _ []string) error {
				cfg, err := load()
				if err != nil {
					return err
				}
				ctx, stop := signalContext()
				defer stop()
				return runIndexer(ctx, cfg)
			},
		},
		&cobra.Command{
			Use:   "inspect",
			Short: "Replay local state offline and print record counts",
			RunE: func(cmd *cobra.Command, _ []string) error {
				cfg, err := load()
				if err != nil {
					return err
				}
				return inspect(cmd.OutOrStdout(), cfg)
			},
		},
	)
	return root
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
