// Package main provides the CLI entrypoint for jtime.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/JohanCodinha/jtime/internal/account"
	"github.com/JohanCodinha/jtime/internal/cache"
	"github.com/JohanCodinha/jtime/internal/config"
	"github.com/JohanCodinha/jtime/internal/jira"
	"github.com/JohanCodinha/jtime/internal/logger"
	"github.com/JohanCodinha/jtime/internal/sync"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

// run executes the command line and returns the process exit code.
func run(args []string, in io.Reader, out, errOut io.Writer) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	a := &app{in: in, out: out, errOut: errOut}
	defer a.close()

	root := newRootCmd(a)
	root.SetArgs(args)
	root.SetIn(in)
	root.SetOut(out)
	root.SetErr(errOut)

	if err := root.ExecuteContext(ctx); err != nil {
		return 1
	}
	return 0
}

// app holds everything a command needs once configuration is loaded.
type app struct {
	in     io.Reader
	out    io.Writer
	errOut io.Writer

	configPath string
	format     string

	cfg      *config.Config
	db       *cache.DB
	client   *jira.Client
	engine   *sync.Engine
	accounts *account.Manager
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "jtime",
		Short: "Track time against Jira issues",
		Long: `jtime keeps a local log of the time you spend on Jira issues.

Start a timer on an issue, stop it with a summary, and submit the
pending worklogs to Jira whenever you are online. Issues and worklogs
are cached locally, so everything except refresh and submit works offline.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "config file (default $XDG_CONFIG_HOME/jtime/config.yaml)")
	flags.String("database", "", "path of the local database")
	flags.String("log-level", "", "log level: debug, info, warn, error")
	flags.String("log-file", "", "also write logs to this file")
	flags.StringVarP(&a.format, "output", "o", "table", "output format: table, json, yaml")

	root.AddCommand(newAccountCmd(a))
	root.AddCommand(newIssuesCmd(a))
	root.AddCommand(newWorklogCmd(a))
	root.AddCommand(newStatusCmd(a))
	return root
}

// setup loads configuration and opens the local store.
func (a *app) setup(cmd *cobra.Command) error {
	switch a.format {
	case formatTable, formatJSON, formatYAML:
	default:
		return fmt.Errorf("invalid output format %q: must be table, json or yaml", a.format)
	}

	cfg, err := config.Load(a.configPath, cmd.Flags())
	if err != nil {
		return err
	}
	a.cfg = cfg

	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logger.SetLevel(level)
	if cfg.LogFile != "" {
		if err := logger.SetLogFile(cfg.LogFile); err != nil {
			return err
		}
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Database), 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	db, err := cache.InitDB(cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	a.db = db
	logger.Debug("cache: opened", "path", cfg.Database)

	client, err := jira.New(cfg.HTTP.Timeout)
	if err != nil {
		return err
	}
	client.SetSearchLimit(cfg.Issues.Limit)
	a.client = client

	a.engine = sync.NewEngine(db, client, sync.Options{
		Queries:     cfg.Issues.Queries,
		Concurrency: cfg.Submit.Concurrency,
	})
	a.accounts = account.NewManager(db, client)
	return nil
}

func (a *app) close() {
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			fmt.Fprintf(a.errOut, "warning: failed to close database: %v\n", err)
		}
		a.db = nil
	}
	logger.Close()
}

// requireAccount returns the active account or an error telling the user how to add one.
func (a *app) requireAccount(ctx context.Context) (*cache.Account, error) {
	acct, err := a.accounts.Active(ctx)
	if err != nil {
		return nil, err
	}
	if acct == nil {
		return nil, fmt.Errorf("no active account: run 'jtime account add' or 'jtime account use'")
	}
	return acct, nil
}

func (a *app) printer() *printer {
	return &printer{w: a.out, format: a.format}
}
