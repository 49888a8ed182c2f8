package main

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/warp/fee-tracker/billing"
	"github.com/warp/fee-tracker/store/sqlite"
)

func statusCmd() *cobra.Command {
	var (
		dbPath   string
		asOf     string
		lookback int
	)
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print every client's payment status",
		Long: `Evaluate each client with an active contract as of a date and print
a table of status, last paid period and missing periods.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if lookback < 0 || lookback > billing.MaxNeverPaidLookback {
				return fmt.Errorf("--never-paid-lookback must be between 0 and %d", billing.MaxNeverPaidLookback)
			}
			today := billing.DateOf(time.Now())
			if asOf != "" {
				d, err := billing.ParseDate(asOf)
				if err != nil {
					return fmt.Errorf("--as-of must be YYYY-MM-DD: %w", err)
				}
				today = d
			}

			store, err := sqlite.New(dbPath)
			if err != nil {
				return fmt.Errorf("failed to open database: %w", err)
			}
			defer store.Close()

			summaries, err := store.ClientSummaries(cmd.Context())
			if err != nil {
				return err
			}

			engine := billing.StatusEngine{NeverPaidLookback: lookback}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintf(w, "Payment status as of %s\n\n", billing.FormatDate(today))
			fmt.Fprintln(w, "CLIENT\tSCHEDULE\tSTATUS\tLAST PAID\tMISSING")
			for _, s := range summaries {
				if s.Contract == nil {
					fmt.Fprintf(w, "%s\t-\tno contract\t-\t-\n", s.Client.DisplayName)
					continue
				}
				report, err := engine.Evaluate(billing.StatusInput{
					Schedule: s.Contract.Schedule,
					LastPaid: s.Metrics.LastPaid,
				}, today)
				if err != nil {
					fmt.Fprintf(w, "%s\t%s\terror: %v\t-\t-\n", s.Client.DisplayName, s.Contract.Schedule, err)
					continue
				}
				lastPaid := "never"
				if report.LastPaid != nil {
					lastPaid = report.LastPaid.String()
				}
				missing := strings.Join(report.MissingPeriods, ", ")
				if missing == "" {
					missing = "-"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					s.Client.DisplayName, s.Contract.Schedule, report.Status, lastPaid, missing)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", "fees.db", "SQLite database path")
	cmd.Flags().StringVar(&asOf, "as-of", "", "Evaluation date (YYYY-MM-DD, default today)")
	cmd.Flags().IntVar(&lookback, "never-paid-lookback", 0, "Periods listed as missing for clients that never paid")
	return cmd
}
