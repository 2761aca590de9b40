package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Expire overdue offers and escalate once, then exit",
	RunE:  runSweep,
}

func init() {
	rootCmd.AddCommand(sweepCmd)
}

func runSweep(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	svc, err := loadService(ctx)
	if err != nil {
		return err
	}
	defer closeService(svc)

	rep, err := svc.Sweeper.SweepOnce(ctx)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(cmd.OutOrStdout(), "scanned=%d expired=%d redispatched=%d manual=%d skipped=%d failed=%d\n",
		rep.Scanned, rep.Expired, rep.Redispatched, rep.Manual, rep.Skipped, rep.Failed)
	return err
}
