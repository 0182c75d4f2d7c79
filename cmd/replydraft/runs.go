package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"replydraft/internal/store"
)

func newRunsCmd(a *app) *cobra.Command {
	var (
		account string
		limit   int
	)
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recent pipeline runs from the ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			ledger, err := store.Open(a.cfg.LedgerDSN)
			if err != nil {
				return err
			}
			defer ledger.Close()

			outs, err := ledger.ListOutcomes(cmd.Context(), account, limit)
			if err != nil {
				return err
			}
			if account != "" {
				if cursor, err := ledger.GetCursor(cmd.Context(), account); err == nil && cursor > 0 {
					fmt.Fprintf(cmd.OutOrStdout(), "last history id for %s: %d\n\n", account, cursor)
				}
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "STARTED\tACCOUNT\tMESSAGE\tSTATE\tDETAIL")
			for _, o := range outs {
				detail := o.Reason
				switch {
				case o.DraftID != "":
					detail = "draft " + o.DraftID
				case o.Err != nil:
					detail = o.ErrString()
				}
				if o.Warning != "" {
					detail += " (" + o.Warning + ")"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					o.StartedAt.Local().Format(time.DateTime), o.AccountID, o.MessageID, o.State, detail)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&account, "account", "", "only this account")
	cmd.Flags().IntVar(&limit, "limit", 20, "number of runs")
	return cmd
}
