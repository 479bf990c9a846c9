package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/JohanCodinha/jtime/internal/views"
)

func newStatusCmd(a *app) *cobra.Command {
	var (
		watch    bool
		interval time.Duration
	)
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the active account and running timer",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			acct, err := a.requireAccount(ctx)
			if err != nil {
				return err
			}

			if watch {
				fmt.Fprintln(a.out, accountLabel(acct))
				for state := range views.LiveTimer(ctx, a.db, interval, time.Now) {
					fmt.Fprintf(a.out, "\r\033[K%s", timerLine(state))
				}
				fmt.Fprintln(a.out)
				return nil
			}

			running, err := a.engine.ActiveWorklog(ctx)
			if err != nil {
				return err
			}
			pending, err := a.db.PendingWorklogs(ctx, acct.ID)
			if err != nil {
				return err
			}

			state := views.TimerState{Running: running}
			if running != nil {
				state.Elapsed = time.Since(running.From)
			}
			status := struct {
				Account any   `json:"account" yaml:"account"`
				Running any   `json:"running" yaml:"running"`
				Elapsed int64 `json:"elapsed_seconds" yaml:"elapsed_seconds"`
				Pending int   `json:"pending" yaml:"pending"`
			}{acct, running, int64(state.Elapsed / time.Second), len(pending)}

			return a.printer().print(status, func() string {
				return fmt.Sprintf("%s\n%s\n%d pending worklogs", accountLabel(acct), timerLine(state), len(pending))
			})
		},
	}
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "keep the elapsed time ticking")
	cmd.Flags().DurationVar(&interval, "interval", time.Second, "refresh interval with --watch")
	return cmd
}
