package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func reapCommand(c *ctl) *cobra.Command {
	return &cobra.Command{
		Use:   "reap",
		Short: "Finalize stale jobs once and refund their unfinished units",
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := c.services(cmd.Context())
			if err != nil {
				return err
			}
			rp, err := svc.Reaper()
			if err != nil {
				return err
			}
			report, err := rp.Run(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "scanned=%d finalized=%d skipped=%d failed=%d refunded=%d\n",
				report.Scanned, report.Finalized, report.Skipped, report.Failed, report.Refunded)
			return nil
		},
	}
}

func sweepCommand(c *ctl) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep-retries",
		Short: "Re-enqueue tasks whose retry delay has elapsed",
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := c.services(cmd.Context())
			if err != nil {
				return err
			}
			sweeper, err := svc.RetrySweeper()
			if err != nil {
				return err
			}
			report, err := sweeper.Run(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "due=%d dispatched=%d failed=%d\n",
				report.Due, report.Dispatched, report.Failed)
			return nil
		},
	}
}
