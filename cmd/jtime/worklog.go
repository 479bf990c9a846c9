package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/JohanCodinha/jtime/internal/cache"
	"github.com/JohanCodinha/jtime/internal/capture"
	"github.com/JohanCodinha/jtime/internal/views"
)

func newWorklogCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "worklog",
		Aliases: []string{"wl", "worklogs"},
		Short:   "Track and submit time",
	}

	cmd.AddCommand(
		newStartCmd(a),
		newStopCmd(a),
		newWorklogListCmd(a),
		newShowCmd(a),
		newPendingCmd(a),
		newEditCmd(a),
		newDeleteCmd(a),
		newSplitCmd(a),
		newSubmitCmd(a),
		newTodayCmd(a),
		newPullCmd(a),
	)
	return cmd
}

func newStartCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "start <key>",
		Short: "Start a timer on an issue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if _, err := a.requireAccount(ctx); err != nil {
				return err
			}
			running, err := a.engine.ActiveWorklog(ctx)
			if err != nil {
				return err
			}
			if running != nil {
				return fmt.Errorf("a timer is already running on %s since %s: stop it first",
					running.IssueID, running.From.Local().Format(displayLayout))
			}

			w, err := a.engine.StartTimer(ctx, args[0])
			if err != nil {
				return err
			}
			p := a.printer()
			p.message("started timer %d on %s at %s", w.WorkID, w.IssueID, w.From.Local().Format("15:04"))
			if p.format != formatTable {
				return p.print(w, nil)
			}
			return nil
		},
	}
}

func newStopCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stop [summary...]",
		Short: "Stop the running timer",
		Long: `Stop the running timer and keep it as a pending worklog.

The summary is taken from the arguments, or read as one line from stdin
when none are given. The timer keeps running if no summary is captured.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if _, err := a.requireAccount(ctx); err != nil {
				return err
			}
			running, err := a.engine.ActiveWorklog(ctx)
			if err != nil {
				return err
			}
			if running == nil {
				a.printer().message("no timer running")
				return nil
			}

			var src capture.Source = capture.Static(strings.Join(args, " "))
			if len(args) == 0 {
				src = capture.NewLineReader(a.in, a.errOut, "Summary: ")
			}
			w, err := a.engine.StopTimerFromCapture(ctx, src)
			if errors.Is(err, capture.ErrNothingCaptured) {
				return fmt.Errorf("no summary given, timer on %s keeps running", running.IssueID)
			}
			if err != nil {
				return err
			}
			if w == nil {
				a.printer().message("no timer running")
				return nil
			}
			p := a.printer()
			p.message("stopped %s after %s", w.IssueID, views.FormatDuration(w.Duration()))
			if p.format != formatTable {
				return p.print(w, nil)
			}
			return nil
		},
	}
}

func newWorklogListCmd(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list <key>",
		Short: "List the worklogs of an issue, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			acct, err := a.requireAccount(ctx)
			if err != nil {
				return err
			}
			if limit <= 0 {
				limit = a.cfg.Worklogs.Limit
			}
			worklogs, err := a.db.WorklogsForIssue(ctx, acct.ID, args[0], limit)
			if err != nil {
				return err
			}
			return a.printWorklogs(worklogs, "no worklogs for "+args[0])
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "maximum number of worklogs (default from config)")
	return cmd
}

func newShowCmd(a *app) *cobra.Command {
	var watch bool
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show one worklog",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			acct, err := a.requireAccount(ctx)
			if err != nil {
				return err
			}
			id, err := parseWorkID(args[0])
			if err != nil {
				return err
			}
			if watch {
				for w := range views.Worklog(ctx, a.db, id) {
					if w == nil {
						a.printer().message("worklog %d is gone", id)
						continue
					}
					if err := a.printWorklogs([]cache.Worklog{*w}, ""); err != nil {
						return err
					}
				}
				return nil
			}

			w, err := a.db.GetWorklog(ctx, acct.ID, id)
			if err != nil {
				return err
			}
			if w == nil {
				return fmt.Errorf("worklog %d: %w", id, cache.ErrNotFound)
			}
			return a.printWorklogs([]cache.Worklog{*w}, "")
		},
	}
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "keep printing the worklog as it changes")
	return cmd
}

func newPendingCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "pending",
		Short: "List stopped worklogs not yet submitted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			acct, err := a.requireAccount(ctx)
			if err != nil {
				return err
			}
			worklogs, err := a.db.PendingWorklogs(ctx, acct.ID)
			if err != nil {
				return err
			}
			return a.printWorklogs(worklogs, "nothing pending")
		},
	}
}

func newEditCmd(a *app) *cobra.Command {
	var from, to, summary string
	cmd := &cobra.Command{
		Use:   "edit <id>",
		Short: "Change the interval or summary of a worklog",
		Long: `Change the interval or summary of a worklog. Unset flags keep their value.

Times accept "15:04" (today), "2006-01-02 15:04", RFC 3339, or a
duration relative to now such as "-15m".`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			acct, err := a.requireAccount(ctx)
			if err != nil {
				return err
			}
			id, err := parseWorkID(args[0])
			if err != nil {
				return err
			}
			w, err := a.db.GetWorklog(ctx, acct.ID, id)
			if err != nil {
				return err
			}
			if w == nil {
				return fmt.Errorf("worklog %d: %w", id, cache.ErrNotFound)
			}

			now := time.Now()
			newFrom, newTo, newSummary := w.From, w.To, w.Summary
			if cmd.Flags().Changed("from") {
				if newFrom, err = parseWhen(from, now); err != nil {
					return err
				}
			}
			if cmd.Flags().Changed("to") {
				if newTo, err = parseWhen(to, now); err != nil {
					return err
				}
			}
			if cmd.Flags().Changed("summary") {
				newSummary = summary
			}

			updated, err := a.engine.UpdateWorklog(ctx, id, newFrom, newTo, newSummary)
			if err != nil {
				return err
			}
			return a.printWorklogs([]cache.Worklog{*updated}, "")
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "new start time")
	cmd.Flags().StringVar(&to, "to", "", "new end time")
	cmd.Flags().StringVarP(&summary, "summary", "m", "", "new summary")
	return cmd
}

func newDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "delete <id>",
		Aliases: []string{"rm"},
		Short:   "Delete a local worklog",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if _, err := a.requireAccount(ctx); err != nil {
				return err
			}
			id, err := parseWorkID(args[0])
			if err != nil {
				return err
			}
			if err := a.engine.DeleteWorklog(ctx, id); err != nil {
				return err
			}
			a.printer().message("deleted worklog %d", id)
			return nil
		},
	}
}

func newSplitCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "split <id> <key> <at>",
		Short: "Move the tail of a pending worklog to another issue",
		Long: `Split a stopped pending worklog at a point in time. The worklog keeps
the time before <at>; a new pending worklog on <key> gets the rest.`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if _, err := a.requireAccount(ctx); err != nil {
				return err
			}
			id, err := parseWorkID(args[0])
			if err != nil {
				return err
			}
			at, err := parseWhen(args[2], time.Now())
			if err != nil {
				return err
			}
			created, err := a.engine.SplitWorklog(ctx, id, args[1], at)
			if err != nil {
				return err
			}
			return a.printWorklogs([]cache.Worklog{*created}, "")
		},
	}
}

func newSubmitCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "submit",
		Short: "Submit every pending worklog to Jira",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if _, err := a.requireAccount(ctx); err != nil {
				return err
			}
			results, err := a.engine.PostPendingWorklogs(ctx)
			if err != nil {
				return err
			}
			if len(results) == 0 {
				a.printer().message("nothing pending")
				return nil
			}
			if err := a.printWorklogs(results, ""); err != nil {
				return err
			}
			failed := 0
			for _, w := range results {
				if w.Pending {
					failed++
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d worklogs failed to submit and stay pending", failed, len(results))
			}
			return nil
		},
	}
}

func newTodayCmd(a *app) *cobra.Command {
	var watch bool
	cmd := &cobra.Command{
		Use:   "today",
		Short: "List worklogs touching the current day",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			acct, err := a.requireAccount(ctx)
			if err != nil {
				return err
			}
			if watch {
				for worklogs := range views.Today(ctx, a.db, time.Now()) {
					if err := a.printWorklogs(worklogs, "nothing logged today"); err != nil {
						return err
					}
				}
				return nil
			}
			start, end := views.DayWindow(time.Now())
			worklogs, err := a.db.WorklogsInWindow(ctx, acct.ID, start, end)
			if err != nil {
				return err
			}
			if err := a.printWorklogs(worklogs, "nothing logged today"); err != nil {
				return err
			}
			if len(worklogs) > 0 {
				a.printer().message("total %s", views.FormatDuration(views.TotalDuration(worklogs)))
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "keep printing as worklogs change")
	return cmd
}

func newPullCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "pull <key>...",
		Short: "Fetch the worklogs of issues from Jira",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if _, err := a.requireAccount(ctx); err != nil {
				return err
			}
			for _, key := range args {
				if err := a.pullWorklogs(ctx, key); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func (a *app) pullWorklogs(ctx context.Context, key string) error {
	res, err := a.engine.RefreshWorklogsFor(ctx, key)
	if err != nil {
		return err
	}
	if res.Failed {
		return fmt.Errorf("failed to fetch worklogs of %s, local worklogs left unchanged", key)
	}
	a.printer().message("pulled %d worklogs for %s", res.Fetched, key)
	return nil
}

func (a *app) printWorklogs(worklogs []cache.Worklog, empty string) error {
	p := a.printer()
	if len(worklogs) == 0 && p.format == formatTable {
		if empty != "" {
			p.message("%s", empty)
		}
		return nil
	}
	return p.print(worklogs, func() string { return worklogsTable(worklogs, time.Now()) })
}

func parseWorkID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid worklog id %q", s)
	}
	return id, nil
}

// parseWhen reads a user supplied instant in local time. Bare clock times
// refer to now's day; durations are relative to now.
func parseWhen(s string, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	if d, err := time.ParseDuration(s); err == nil {
		return now.Add(d), nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation(displayLayout, s, time.Local); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation("15:04", s, time.Local); err == nil {
		local := now.In(time.Local)
		return time.Date(local.Year(), local.Month(), local.Day(), t.Hour(), t.Minute(), 0, 0, time.Local), nil
	}
	return time.Time{}, fmt.Errorf("invalid time %q: use 15:04, %q, RFC 3339 or a duration like -15m", s, displayLayout)
}
