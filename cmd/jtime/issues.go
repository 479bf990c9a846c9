package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/JohanCodinha/jtime/internal/cache"
	"github.com/JohanCodinha/jtime/internal/views"
)

func newIssuesCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "issues",
		Aliases: []string{"issue"},
		Short:   "Browse cached Jira issues",
	}

	refreshCmd := &cobra.Command{
		Use:   "refresh",
		Short: "Fetch recently viewed, worked on and assigned issues",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if _, err := a.requireAccount(ctx); err != nil {
				return err
			}
			res, err := a.engine.RefreshIssues(ctx)
			if err != nil {
				return err
			}
			p := a.printer()
			for _, q := range res.FailedQueries {
				fmt.Fprintf(a.errOut, "warning: query failed: %s\n", q)
			}
			if len(res.FailedQueries) == len(a.cfg.Issues.Queries) {
				return fmt.Errorf("every issue query failed, cached issues left unchanged")
			}
			p.message("refreshed %d issues", res.Issues)
			return nil
		},
	}

	var (
		filter string
		limit  int
		watch  bool
	)
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List cached issues, pinned first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			acct, err := a.requireAccount(ctx)
			if err != nil {
				return err
			}
			if limit <= 0 {
				limit = a.cfg.Issues.Limit
			}
			if watch {
				return a.watchIssues(ctx, limit, filter)
			}

			issues, err := a.db.ListIssues(ctx, acct.ID, limit)
			if err != nil {
				return err
			}
			issues = views.FilterIssues(issues, filter)
			running, err := a.runningIssue(ctx)
			if err != nil {
				return err
			}
			p := a.printer()
			if len(issues) == 0 && p.format == formatTable {
				p.message("no issues: run 'jtime issues refresh'")
				return nil
			}
			return p.print(issues, func() string { return issuesTable(issues, running) })
		},
	}
	listCmd.Flags().StringVarP(&filter, "filter", "f", "", "only issues whose key or title contains this text")
	listCmd.Flags().IntVarP(&limit, "limit", "n", 0, "maximum number of issues (default from config)")
	listCmd.Flags().BoolVarP(&watch, "watch", "w", false, "keep printing the list as it changes")

	pinCmd := &cobra.Command{
		Use:   "pin <key>",
		Short: "Pin or unpin an issue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if _, err := a.requireAccount(ctx); err != nil {
				return err
			}
			pinned, err := a.engine.ToggleIssuePin(ctx, args[0])
			if err != nil {
				return err
			}
			if pinned {
				a.printer().message("pinned %s", args[0])
			} else {
				a.printer().message("unpinned %s", args[0])
			}
			return nil
		},
	}

	var pull bool
	showCmd := &cobra.Command{
		Use:   "show <key>",
		Short: "Show an issue and its worklogs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			acct, err := a.requireAccount(ctx)
			if err != nil {
				return err
			}
			key := args[0]
			if pull {
				if err := a.pullWorklogs(ctx, key); err != nil {
					return err
				}
			}

			issue, err := a.db.FindIssue(ctx, acct.ID, key)
			if err != nil {
				return err
			}
			if issue == nil {
				issue = &cache.Issue{ID: key, AccountID: acct.ID}
			}
			worklogs, err := a.db.WorklogsForIssue(ctx, acct.ID, key, a.cfg.Worklogs.Limit)
			if err != nil {
				return err
			}

			detail := struct {
				Issue    cache.Issue     `json:"issue" yaml:"issue"`
				Worklogs []cache.Worklog `json:"worklogs" yaml:"worklogs"`
			}{*issue, worklogs}
			return a.printer().print(detail, func() string {
				head := fmt.Sprintf("%s  %s", issue.ID, issue.Title)
				if issue.Pinned {
					head += "  ★"
				}
				return fmt.Sprintf("%s\ntotal %s\n%s", headerStyle.UnsetPadding().Render(head),
					views.FormatDuration(views.TotalDuration(worklogs)), worklogsTable(worklogs, time.Now()))
			})
		},
	}
	showCmd.Flags().BoolVar(&pull, "pull", false, "fetch the issue's worklogs from Jira first")

	cmd.AddCommand(refreshCmd, listCmd, pinCmd, showCmd)
	return cmd
}

// runningIssue returns the key of the issue with a running timer, or "".
func (a *app) runningIssue(ctx context.Context) (string, error) {
	aw, err := a.engine.ActiveWorklog(ctx)
	if err != nil || aw == nil {
		return "", err
	}
	return aw.IssueID, nil
}

func (a *app) watchIssues(ctx context.Context, limit int, filter string) error {
	p := a.printer()
	for issues := range views.FilteredIssues(ctx, a.db, limit, filter) {
		running, err := a.runningIssue(ctx)
		if err != nil {
			return err
		}
		if err := p.print(issues, func() string { return issuesTable(issues, running) }); err != nil {
			return err
		}
	}
	return nil
}
