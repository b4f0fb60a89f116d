package main

import (
	"encoding/json"
	"fmt"
	"time"

	"callsync/internal/audit"
	"callsync/internal/auth"
	"callsync/internal/reconcile"

	"github.com/spf13/cobra"
)

func newSyncCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run one reconciliation pass and print its summary",
		Long: `Run one reconciliation pass and print the summary as JSON.

Exits 1 when the pass failed fatally and 2 when another pass was already
running (redis backend only).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), opts.cfg, opts.log)
			if err != nil {
				return err
			}
			defer a.Close()

			sum := a.engine.Run(cmd.Context(), audit.TriggerCLI)
			if err := writeJSON(cmd, sum); err != nil {
				return err
			}
			switch sum.Outcome {
			case reconcile.OutcomeFailed:
				return exitError{code: 1}
			case reconcile.OutcomeDropped:
				return exitError{code: 2}
			}
			return nil
		},
	}
}

func newPreviewCommand(opts *rootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "preview",
		Short: "Show how the most recent calls would be attributed",
		Long: `Fetch the most recent calls from the last 24 hours and print the acting
party, extension and owner each would be assigned. Nothing is written.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), opts.cfg, opts.log)
			if err != nil {
				return err
			}
			defer a.Close()

			items, err := a.engine.Preview(cmd.Context(), limit)
			if err != nil {
				return fmt.Errorf("preview (%s): %w", reconcile.Kind(err), err)
			}
			return writeJSON(cmd, items)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", reconcile.DefaultPreviewLimit, "number of calls to show")
	return cmd
}

func newTokenCommand(opts *rootOptions) *cobra.Command {
	var (
		operator string
		scope    string
		ttl      time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an operator bearer token for the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			switch scope {
			case auth.ScopeRead, auth.ScopeSync, auth.ScopeAdmin:
			default:
				return fmt.Errorf("invalid scope %q: must be one of read, sync, admin", scope)
			}
			m, err := auth.NewManager(opts.cfg.Auth)
			if err != nil {
				return err
			}
			tok, err := m.Issue(time.Now(), operator, scope, ttl)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), tok)
			return err
		},
	}
	cmd.Flags().StringVar(&operator, "operator", "", "operator name recorded in logs (required)")
	cmd.Flags().StringVar(&scope, "scope", auth.ScopeSync, "token scope (read|sync|admin)")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("operator")
	return cmd
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
