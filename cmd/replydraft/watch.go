package main

import (
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"replydraft/internal/store"
)

func newWatchCmd(a *app) *cobra.Command {
	var (
		emails []string
		topic  string
		stop   bool
		renew  bool
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Register, renew or stop Gmail push notifications for accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			if topic != "" {
				a.cfg.Watch.Topic = topic
			}
			ledger, err := store.Open(a.cfg.LedgerDSN)
			if err != nil {
				a.log.Warn().Err(err).Msg("run ledger unavailable; cursor will not be seeded")
				ledger = nil
			} else {
				defer ledger.Close()
			}
			reg := a.registrar(ledger)
			if reg == nil {
				return errors.New("no notification topic: set watch.topic, project_id or --topic")
			}

			if stop {
				for _, e := range emails {
					if err := reg.Stop(cmd.Context(), e); err != nil {
						return fmt.Errorf("stop %s: %w", e, err)
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Stopped watch for %s\n", e)
				}
				return nil
			}
			if renew {
				ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
				defer cancel()
				a.log.Info().Strs("accounts", emails).Dur("every", a.cfg.Watch.RenewEvery).Msg("renewing watches")
				reg.Renew(ctx, emails, a.cfg.Watch.RenewEvery)
				return nil
			}
			for _, e := range emails {
				r, err := reg.Register(cmd.Context(), e)
				if err != nil {
					return fmt.Errorf("register %s: %w", e, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Registered watch for %s on %s: history id %d", r.Account, r.Topic, r.HistoryID)
				if !r.Expiration.IsZero() {
					fmt.Fprintf(cmd.OutOrStdout(), ", expires %s", r.Expiration.Format("2006-01-02 15:04 MST"))
				}
				fmt.Fprintln(cmd.OutOrStdout())
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&emails, "email", nil, "account to watch, repeatable")
	cmd.Flags().StringVar(&topic, "topic", "", "Pub/Sub topic (default from config)")
	cmd.Flags().BoolVar(&stop, "stop", false, "stop notifications instead of registering")
	cmd.Flags().BoolVar(&renew, "renew", false, "keep running and re-register every watch.renew_every")
	cmd.MarkFlagsMutuallyExclusive("stop", "renew")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}
