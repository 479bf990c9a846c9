package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/JohanCodinha/jtime/internal/cache"
	"github.com/JohanCodinha/jtime/internal/capture"
)

func newAccountCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "account",
		Aliases: []string{"accounts"},
		Short:   "Manage Jira accounts",
	}

	var token string
	addCmd := &cobra.Command{
		Use:   "add <instance-url> <username>",
		Short: "Add an account and make it active",
		Long: `Add a Jira account and make it the active one.

The API token is read from --token, then the JTIME_TOKEN environment
variable, and is otherwise prompted for on stdin. The credentials are
verified against the instance before anything is stored.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if token == "" {
				token = os.Getenv("JTIME_TOKEN")
			}
			if token == "" {
				t, err := capture.NewLineReader(a.in, a.errOut, "API token: ").Capture(ctx)
				if err != nil {
					return fmt.Errorf("failed to read token: %w", err)
				}
				token = t
			}

			acct, err := a.accounts.Add(ctx, args[0], args[1], token)
			if err != nil {
				return err
			}
			p := a.printer()
			p.message("added %s on %s (%s)", acct.Username, acct.InstanceURL, acct.ID)
			if p.format != formatTable {
				return p.print(acct, nil)
			}
			return nil
		},
	}
	addCmd.Flags().StringVar(&token, "token", "", "API token")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List accounts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			accounts, err := a.accounts.List(cmd.Context())
			if err != nil {
				return err
			}
			p := a.printer()
			if len(accounts) == 0 && p.format == formatTable {
				p.message("no accounts: run 'jtime account add'")
				return nil
			}
			return p.print(accounts, func() string { return accountsTable(accounts) })
		},
	}

	useCmd := &cobra.Command{
		Use:   "use <id|username>",
		Short: "Make an account the active one",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			acct, err := a.accounts.Select(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			a.printer().message("now using %s on %s", acct.Username, acct.InstanceURL)
			return nil
		},
	}

	removeCmd := &cobra.Command{
		Use:     "remove <id|username>",
		Aliases: []string{"rm"},
		Short:   "Remove an account with its cached issues and worklogs",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			acct, err := a.accounts.Remove(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			a.printer().message("removed %s on %s", acct.Username, acct.InstanceURL)
			return nil
		},
	}

	logoutCmd := &cobra.Command{
		Use:   "logout",
		Short: "Deselect the active account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.accounts.Logout(cmd.Context()); err != nil {
				return err
			}
			a.printer().message("logged out")
			return nil
		},
	}

	cmd.AddCommand(addCmd, listCmd, useCmd, removeCmd, logoutCmd)
	return cmd
}

// accountLabel names an account for messages.
func accountLabel(acct *cache.Account) string {
	return fmt.Sprintf("%s@%s", acct.Username, acct.InstanceURL)
}
