package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"replydraft/internal/credentials"
	"replydraft/internal/store"
)

func newAuthCmd(a *app) *cobra.Command {
	var (
		email string
		wait  time.Duration
		watch bool
	)
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Authorize an account and store its refresh token",
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.cfg.Gmail.TokenFile == "" {
				return errors.New("gmail.token_file is not configured")
			}
			oc, err := a.credentials().OAuthConfig()
			if err != nil {
				return err
			}
			if oc == nil {
				return fmt.Errorf("missing %s: set gmail.client_secret_file or GMAIL_CLIENT_ID/GMAIL_CLIENT_SECRET", credentials.MissingClient)
			}
			tok, err := credentials.Authorize(cmd.Context(), oc, os.Stdin, cmd.OutOrStdout(), wait)
			if err != nil {
				return err
			}
			if tok.RefreshToken == "" {
				return errors.New("no refresh token returned; revoke the app's access and try again")
			}
			if err := credentials.NewTokenFile(a.cfg.Gmail.TokenFile).Put(email, tok.RefreshToken); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Stored refresh token for %s in %s\n", email, a.cfg.Gmail.TokenFile)
			if !watch {
				return nil
			}
			ledger, err := store.Open(a.cfg.LedgerDSN)
			if err != nil {
				return err
			}
			defer ledger.Close()
			reg := a.registrar(ledger)
			if reg == nil {
				return errors.New("no notification topic: set watch.topic or project_id")
			}
			r, err := reg.Register(cmd.Context(), email)
			if err != nil {
				return fmt.Errorf("register watch: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Registered watch for %s: history id %d\n", email, r.HistoryID)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account to authorize")
	cmd.Flags().BoolVar(&watch, "watch", false, "register push notifications once authorized")
	cmd.Flags().DurationVar(&wait, "wait", 2*time.Minute, "how long to wait for the browser redirect before asking for the code")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}
