package main

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"replydraft/internal/apperr"
	"replydraft/internal/credentials"
	"replydraft/internal/pipeline"
)

func newProcessUnreadCmd(a *app) *cobra.Command {
	var (
		email      string
		maxEmails  int
		labels     []string
		skipDrafts bool
	)
	cmd := &cobra.Command{
		Use:   "process-unread",
		Short: "Draft replies for a batch of unread messages",
		RunE: func(cmd *cobra.Command, args []string) error {
			orch, _, cl := a.orchestrator()
			defer cl.Close()

			res, err := orch.ProcessUnread(cmd.Context(), pipeline.BatchRequest{
				Account:            email,
				MaxEmails:          maxEmails,
				LabelFilter:        labels,
				SkipExistingDrafts: skipDrafts,
			})
			var credErr *apperr.CredentialError
			if errors.As(err, &credErr) {
				fmt.Fprintf(os.Stderr, "Missing credentials for %s: %v\n", email, credErr.Missing)
				fmt.Fprintf(os.Stderr, "Run `replydraft auth --email %s` or set %s\n", email, credentials.EnvName(email))
			}
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "MESSAGE\tRESULT\tSUBJECT")
			for _, it := range res.Results {
				result := "draft " + it.DraftID
				switch {
				case it.Skipped != "":
					result = "skipped: " + it.Skipped
				case !it.Success:
					result = "failed: " + it.Error
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", it.MessageID, result, it.Subject)
			}
			w.Flush()
			fmt.Fprintf(cmd.OutOrStdout(), "\nfound %d, processed %d, succeeded %d, skipped %d, failed %d\n",
				res.TotalFound, res.Processed, res.Succeeded, res.Skipped, res.Failed)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account to process")
	cmd.Flags().IntVar(&maxEmails, "max", pipeline.DefaultBatch, fmt.Sprintf("messages to process (%d-%d)", pipeline.MinBatch, pipeline.MaxBatch))
	cmd.Flags().StringSliceVar(&labels, "label", pipeline.DefaultLabelFilter, "label filter, repeatable")
	cmd.Flags().BoolVar(&skipDrafts, "skip-existing-drafts", true, "skip threads that already have a draft")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}
