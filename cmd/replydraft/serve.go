package main

import (
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"google.golang.org/api/idtoken"

	"replydraft/internal/api"
)

func newServeCmd(a *app) *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the push receiver and manual trigger HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if listen == "" {
				listen = a.cfg.Listen
			}
			orch, ledger, cl := a.orchestrator()
			defer cl.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			var runs api.RunLister
			if ledger != nil {
				runs = ledger
			}
			var opts []api.Option
			if reg := a.registrar(ledger); reg != nil {
				opts = append(opts, api.WithWatch(reg))
			}
			if aud := a.cfg.Push.Audience; aud != "" {
				v, err := idtoken.NewValidator(ctx)
				if err != nil {
					return fmt.Errorf("push token validator: %w", err)
				}
				opts = append(opts, api.WithPushAuth(api.PushAuthConfig{
					Verifier:       v,
					Audience:       aud,
					ServiceAccount: a.cfg.Push.ServiceAccount,
				}))
			} else {
				a.log.Warn().Msg("push.audience not set; push endpoint accepts unauthenticated requests")
			}

			gin.SetMode(gin.ReleaseMode)
			srv := &http.Server{
				Addr:              listen,
				Handler:           api.NewRouter(orch, runs, a.log, opts...),
				ReadHeaderTimeout: 10 * time.Second,
			}

			errc := make(chan error, 1)
			go func() {
				a.log.Info().Str("addr", listen).Bool("retrieval", a.cfg.RetrievalEnabled()).Msg("listening")
				errc <- srv.ListenAndServe()
			}()

			select {
			case err := <-errc:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			case <-ctx.Done():
				a.log.Info().Msg("shutting down")
				return shutdown(srv, a.cfg.Pipeline.RunTimeout+5*time.Second)
			}
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "listen address (default from config, :8080)")
	return cmd
}
