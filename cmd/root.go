// Package cmd defines the CLI commands for the archiver executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/wayback-news-archiver/internal/app"
	"github.com/JakeFAU/wayback-news-archiver/internal/config"
)

type appKeyType struct{}

var appKey appKeyType

// appHolder lets the post-run hook and the error path share one Close.
type appHolder struct {
	app    *app.App
	closed bool
}

// newApp is the application factory; tests replace it to inject fakes.
var newApp = func(ctx context.Context, cfg config.Config) (*app.App, error) {
	return app.New(ctx, cfg)
}

// rootFlags are the config overrides accepted by every subcommand.
type rootFlags struct {
	configFile      string
	dailyLimit      int
	keywords        []string
	keywordList     string
	searchContent   bool
	caseSensitive   bool
	enableKeywords  bool
	disableKeywords bool
	dryRun          bool
}

func newRootCmd() *cobra.Command {
	var flags rootFlags
	cmd := &cobra.Command{
		Use:   "archiver",
		Short: "Archive Ming Pao HK-GA articles to the Wayback Machine.",
		Long: `archiver discovers Ming Pao Canada HK-GA article URLs for each
publication date, optionally filters them by keyword, and submits the ones not
yet archived to the Internet Archive's save endpoint under a global rate limit.
Outcomes are recorded in a local SQLite (or Postgres) store so reruns skip
articles already captured.`,
		SilenceUsage:  true,
		SilenceErrors: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(flags.configFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := flags.apply(cmd, &cfg); err != nil {
				return err
			}
			appInstance, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, &appHolder{app: appInstance}))
			return nil
		},

		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			return closeApp(cmd.Context())
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&flags.configFile, "config", "", "config file (YAML, JSON or TOML)")
	pf.IntVar(&flags.dailyLimit, "daily-limit", 0, "maximum URLs archived per date (overrides archiving.daily_limit)")
	pf.StringArrayVar(&flags.keywords, "keyword", nil, "keyword term; repeatable, enables filtering")
	pf.StringVar(&flags.keywordList, "keywords", "", "comma separated keyword terms; enables filtering")
	pf.BoolVar(&flags.searchContent, "search-content", false, "match keywords against article bodies, not only titles")
	pf.BoolVar(&flags.caseSensitive, "case-sensitive", false, "match keywords case sensitively")
	pf.BoolVar(&flags.enableKeywords, "enable-keywords", false, "enable keyword filtering")
	pf.BoolVar(&flags.disableKeywords, "disable-keywords", false, "disable keyword filtering")
	pf.BoolVar(&flags.dryRun, "dry-run", false, "use an in-memory store; nothing is persisted")
	cmd.MarkFlagsMutuallyExclusive("enable-keywords", "disable-keywords")

	cmd.AddCommand(
		newArchiveCmd(),
		newDiscoverCmd(),
		newCheckCmd(),
		newReportCmd(),
		newExportCmd(),
	)
	return cmd
}

// apply folds explicitly set flags into cfg and revalidates it.
func (f rootFlags) apply(cmd *cobra.Command, cfg *config.Config) error {
	changed := cmd.Flags().Changed
	if changed("daily-limit") {
		cfg.Archiving.DailyLimit = f.dailyLimit
	}

	terms := append([]string(nil), f.keywords...)
	for _, t := range strings.Split(f.keywordList, ",") {
		if t = strings.TrimSpace(t); t != "" {
			terms = append(terms, t)
		}
	}
	if len(terms) > 0 {
		cfg.Keywords.Terms = terms
	}
	if f.enableKeywords || len(terms) > 0 {
		cfg.Keywords.Enabled = true
	}
	if f.disableKeywords {
		cfg.Keywords.Enabled = false
	}
	if f.searchContent {
		cfg.Keywords.SearchContent = true
	}
	if f.caseSensitive {
		cfg.Keywords.CaseSensitive = true
	}
	if f.dryRun {
		cfg.Store.Driver = config.DriverMemory
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}
	return nil
}

func appFrom(ctx context.Context) (*app.App, error) {
	holder, ok := ctx.Value(appKey).(*appHolder)
	if !ok || holder.app == nil {
		return nil, errors.New("application services not initialized")
	}
	return holder.app, nil
}

func closeApp(ctx context.Context) error {
	holder, ok := ctx.Value(appKey).(*appHolder)
	if !ok || holder.app == nil || holder.closed {
		return nil
	}
	holder.closed = true
	if err := holder.app.Close(context.WithoutCancel(ctx)); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// run executes the CLI with args, writing command output to out. Services
// built in PersistentPreRunE are released even when the command fails.
func run(ctx context.Context, args []string, out io.Writer) error {
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(out)
	executed, err := root.ExecuteContextC(ctx)
	if err != nil && executed != nil && executed.Context() != nil {
		// RunE failures skip PersistentPostRunE.
		err = errors.Join(err, closeApp(executed.Context()))
	}
	return err
}

// Execute runs the root command with SIGINT/SIGTERM canceling the context.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdout)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
