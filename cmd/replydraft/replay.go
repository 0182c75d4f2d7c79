package main

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"replydraft/internal/api"
)

func newReplayCmd(a *app) *cobra.Command {
	var (
		endpoint string
		payload  string
		timeout  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "POST a stored push payload to a receiver endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(payload)
			if err != nil {
				return err
			}
			status, body, err := api.Replay(cmd.Context(), &http.Client{Timeout: timeout}, endpoint, raw)
			if len(body) > 0 {
				fmt.Fprintln(cmd.OutOrStdout(), string(body))
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Replay successful: %d\n", status)
			return nil
		},
	}
	cmd.Flags().StringVar(&endpoint, "endpoint", "", "receiver push endpoint URL")
	cmd.Flags().StringVar(&payload, "payload", "", "JSON file: a full push envelope or just the decoded data object")
	cmd.Flags().DurationVar(&timeout, "timeout", 90*time.Second, "request timeout")
	_ = cmd.MarkFlagRequired("endpoint")
	_ = cmd.MarkFlagRequired("payload")
	return cmd
}
