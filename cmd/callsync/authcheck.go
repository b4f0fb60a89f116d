package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"callsync/internal/auth"
	"callsync/internal/config"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// credentialCheck is one backend's result. Tokens are never printed.
type credentialCheck struct {
	OK          bool      `json:"ok"`
	Error       string    `json:"error,omitempty"`
	InstanceURL string    `json:"instance_url,omitempty"`
	UserID      string    `json:"user_id,omitempty"`
	ExpiresAt   time.Time `json:"expires_at,omitzero"`
}

type authReport struct {
	CRM       credentialCheck `json:"crm"`
	Telephony credentialCheck `json:"telephony"`
}

func (r authReport) ok() bool { return r.CRM.OK && r.Telephony.OK }

func newAuthCheckCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "auth-check",
		Short: "Exchange both backend credentials and report the result",
		Long: `Perform the CRM JWT bearer exchange and the telephony JWT grant, then print
the CRM instance URL, the integration user id and the telephony token expiry.
Exits 1 when either exchange fails. Nothing is synced.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := authCheck(cmd.Context(), opts.cfg)
			if err != nil {
				return err
			}
			if err := writeJSON(cmd, report); err != nil {
				return err
			}
			if !report.ok() {
				return exitError{code: 1}
			}
			return nil
		},
	}
}

// authCheck runs both exchanges concurrently. It only errors on local
// misconfiguration such as an unparsable private key.
func authCheck(ctx context.Context, cfg config.Config) (authReport, error) {
	crmTokens, err := auth.NewCRMTokenSource(cfg.CRM, &http.Client{Timeout: cfg.CRM.Timeout})
	if err != nil {
		return authReport{}, err
	}
	telTokens := auth.NewTelephonyTokenSource(cfg.Telephony, &http.Client{Timeout: cfg.Telephony.Timeout})

	var (
		report authReport
		g      errgroup.Group
	)
	g.Go(func() error {
		tok, err := crmTokens.Token(ctx)
		if err == nil && auth.UserIDFromIdentityURL(tok.IdentityURL) == "" {
			err = errors.New("token response has no identity url")
		}
		if err != nil {
			report.CRM.Error = err.Error()
			return nil
		}
		report.CRM = credentialCheck{
			OK:          true,
			InstanceURL: tok.InstanceURL,
			UserID:      auth.UserIDFromIdentityURL(tok.IdentityURL),
			ExpiresAt:   tok.ExpiresAt.UTC(),
		}
		return nil
	})
	g.Go(func() error {
		tok, err := telTokens.Token(ctx)
		if err != nil {
			report.Telephony.Error = err.Error()
			return nil
		}
		report.Telephony = credentialCheck{OK: true, ExpiresAt: tok.ExpiresAt.UTC()}
		return nil
	})
	return report, g.Wait()
}
