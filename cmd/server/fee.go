package main

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/warp/fee-tracker/billing"
)

func feeCmd() *cobra.Command {
	var (
		feeType string
		rate    string
		assets  string
		periods int
	)
	cmd := &cobra.Command{
		Use:   "fee",
		Short: "Calculate an expected fee",
		Example: `  fee-tracker fee --type percentage --rate 0.0075 --assets 1000000 --periods 3
  fee-tracker fee --type flat --rate 2500`,
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := billing.ParseFeeType(feeType)
			if err != nil {
				return err
			}
			r, err := decimal.NewFromString(rate)
			if err != nil {
				return fmt.Errorf("invalid --rate %q: %w", rate, err)
			}
			var total decimal.NullDecimal
			if assets != "" {
				a, err := decimal.NewFromString(assets)
				if err != nil {
					return fmt.Errorf("invalid --assets %q: %w", assets, err)
				}
				total = decimal.NewNullDecimal(a)
			}

			fee := billing.CalculateFee(billing.FeeSpec{Type: t, Rate: decimal.NewNullDecimal(r)}, total, periods)
			if err := fee.Err(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), billing.FormatCurrency(fee.Amount))
			return nil
		},
	}
	cmd.Flags().StringVar(&feeType, "type", "", "Fee type: percentage or flat")
	cmd.Flags().StringVar(&rate, "rate", "", "Rate as a fraction (percentage) or amount per period (flat)")
	cmd.Flags().StringVar(&assets, "assets", "", "Total assets under management")
	cmd.Flags().IntVar(&periods, "periods", 1, "Number of periods covered")
	cmd.MarkFlagRequired("type")
	cmd.MarkFlagRequired("rate")
	return cmd
}
