package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/user/gopherpaint/internal/state"
)

var usageTail int

func init() {
	rootCmd.AddCommand(usageCmd)
	usageCmd.Flags().IntVarP(&usageTail, "tail", "n", 0, "also print the last N jobs")
}

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Show generation counts and spend by mode",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		usage := state.NewUsageStore(cfg.DataDir)
		ctx := context.Background()

		records, err := usage.Tail(ctx, 0)
		if err != nil {
			return err
		}
		if len(records) == 0 {
			fmt.Println("No generations recorded.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "MODE\tJOBS\tFAILED\tCOST")
		var total float64
		for _, t := range state.SummarizeUsage(records) {
			fmt.Fprintf(w, "%s\t%d\t%d\t$%.2f\n", t.Mode, t.Jobs, t.Failures, t.Cost)
			total += t.Cost
		}
		fmt.Fprintf(w, "total\t%d\t\t$%.2f\n", len(records), total)
		if err := w.Flush(); err != nil {
			return err
		}

		if usageTail > 0 {
			if len(records) > usageTail {
				records = records[len(records)-usageTail:]
			}
			fmt.Println()
			w = tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "AT\tCONVERSATION\tMODE\tOUTCOME\tCOST\tSECONDS")
			for _, r := range records {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t$%.2f\t%.1f\n",
					r.At, r.ConversationID, r.Mode, r.Outcome, r.Cost, float64(r.DurationMS)/1000)
			}
			return w.Flush()
		}
		return nil
	},
}
