package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/kilianp07/villadispatch/core/dispatch"
	"github.com/kilianp07/villadispatch/core/model"
)

var (
	dispatchPriority string
	dispatchPayout   string
	dispatchCurrency string
	dispatchNotes    string
	dispatchActor    string
)

var dispatchCmd = &cobra.Command{
	Use:   "dispatch <job-id>",
	Short: "Open a first-attempt offer for a job",
	Args:  cobra.ExactArgs(1),
	RunE:  dispatchJob,
}

func init() {
	dispatchCmd.Flags().StringVar(&dispatchPriority, "priority", string(model.PriorityNormal), "offer priority")
	dispatchCmd.Flags().StringVar(&dispatchPayout, "payout", "", "offer payout, e.g. 45.50")
	dispatchCmd.Flags().StringVar(&dispatchCurrency, "currency", "EUR", "payout currency")
	dispatchCmd.Flags().StringVar(&dispatchNotes, "notes", "", "notes shown to staff")
	dispatchCmd.Flags().StringVar(&dispatchActor, "actor", "cli", "recorded as the offer creator")
	rootCmd.AddCommand(dispatchCmd)
}

func dispatchJob(cmd *cobra.Command, args []string) error {
	meta := model.OfferMeta{
		Priority: model.Priority(dispatchPriority),
		Currency: dispatchCurrency,
		Notes:    dispatchNotes,
	}
	if dispatchPayout != "" {
		p, err := decimal.NewFromString(dispatchPayout)
		if err != nil {
			return fmt.Errorf("invalid payout %q: %w", dispatchPayout, err)
		}
		meta.Payout = p
	}

	ctx := cmd.Context()
	svc, err := loadService(ctx)
	if err != nil {
		return err
	}
	defer closeService(svc)

	offer, err := svc.Manager.DispatchJob(ctx, args[0], dispatchActor, meta)
	if err != nil {
		if kind, ok := dispatch.KindOf(err); ok {
			return fmt.Errorf("%s: %s", kind, dispatch.Hint(err))
		}
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(offer)
}
