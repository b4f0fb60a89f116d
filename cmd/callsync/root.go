package main

import (
	"log/slog"

	"callsync/internal/config"
	"callsync/pkg/logger"

	"github.com/spf13/cobra"
)

// rootOptions is shared by every subcommand.
type rootOptions struct {
	cfg config.Config
	log *slog.Logger
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "callsync",
		Short: "Reconcile telephony call logs into CRM call activities",
		Long: `callsync fetches recent calls from the telephony provider, attributes each
call to a CRM contact or lead and an owner, and records one call activity per
call. Configuration is read from the environment (and .env when present).`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			opts.cfg = cfg
			opts.log = logger.New(cfg.App.Env)
			slog.SetDefault(opts.log)
			return nil
		},
	}

	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newSyncCommand(opts))
	cmd.AddCommand(newPreviewCommand(opts))
	cmd.AddCommand(newTokenCommand(opts))
	cmd.AddCommand(newAuthCheckCommand(opts))

	return cmd
}
