package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"text/tabwriter"

	feedrefresh "github.com/goliatone/go-feed-refresh"
	"github.com/goliatone/go-feed-refresh/adapters/gocommand"
	"github.com/goliatone/go-feed-refresh/adapters/gologger"
	"github.com/goliatone/go-feed-refresh/command"
	"github.com/goliatone/go-feed-refresh/core"
	"github.com/goliatone/go-feed-refresh/query"
)

const (
	exitOK      = 0
	exitFailed  = 1
	exitUsage   = 2
	exitStartup = 3
)

type cliFlags struct {
	configPath    string
	workDir       string
	recordPattern string
	dryRun        bool
	strict        bool
	abortOnMap    bool
	journalDSN    string
	history       int
	runID         string
	enrollmentID  string
	logLevel      string
}

func parseFlags(args []string, stderr io.Writer) (cliFlags, error) {
	var f cliFlags
	fs := flag.NewFlagSet("feed-refresh", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&f.configPath, "config", "", "path to a YAML or JSON config file")
	fs.StringVar(&f.workDir, "work-dir", "", "directory holding the enrollment records")
	fs.StringVar(&f.recordPattern, "pattern", "", "record file glob inside the work dir")
	fs.BoolVar(&f.dryRun, "dry-run", false, "probe tokens and report without starting a callback session or writing the registry")
	fs.BoolVar(&f.strict, "strict", false, "exit 1 when any record or the merge failed")
	fs.BoolVar(&f.abortOnMap, "abort-on-unmapped", false, "stop the batch on the first account without a feed mapping")
	fs.StringVar(&f.journalDSN, "journal", "", "run journal dsn (sqlite3 unless journal.driver says otherwise)")
	fs.IntVar(&f.history, "history", 0, "print the last N journal entries and exit")
	fs.StringVar(&f.enrollmentID, "enrollment", "", "narrow -history to one enrollment id")
	fs.StringVar(&f.runID, "run", "", "print the journaled outcomes of one run and exit")
	fs.StringVar(&f.logLevel, "log-level", "info", "debug, info, warn or error")
	if err := fs.Parse(args); err != nil {
		return f, err
	}
	if fs.NArg() > 0 {
		return f, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	if f.history < 0 {
		return f, fmt.Errorf("-history must be >= 0")
	}
	if f.history > 0 && f.runID != "" {
		return f, fmt.Errorf("-history and -run are mutually exclusive")
	}
	return f, nil
}

// journalOnly reports whether the invocation only reads the run journal.
func (f cliFlags) journalOnly() bool {
	return f.history > 0 || f.runID != ""
}

func (f cliFlags) runtimeConfig() core.Config {
	return core.Config{
		WorkDir:                f.workDir,
		RecordPattern:          f.recordPattern,
		DryRun:                 f.dryRun,
		StrictExit:             f.strict,
		AbortOnProjectionError: f.abortOnMap,
		Journal:                core.JournalConfig{DSN: f.journalDSN},
	}
}

func run(ctx context.Context, args []string, stdout io.Writer, stderr io.Writer) int {
	flags, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		fmt.Fprintln(stderr, err)
		return exitUsage
	}

	logger := gologger.NewTextLogger(stderr, flags.logLevel)
	provider := gologger.NewProvider(logger)

	cfg, err := feedrefresh.LoadConfig(ctx, flags.configPath, flags.runtimeConfig())
	if err != nil {
		logger.Error("load config failed", "error", err.Error())
		return exitStartup
	}
	if flags.journalOnly() && cfg.Journal.DSN == "" {
		logger.Error("-history and -run require a journal dsn")
		return exitUsage
	}

	opts := []feedrefresh.Option{feedrefresh.WithLoggerProvider(provider)}
	if flags.journalOnly() {
		opts = append(opts, feedrefresh.WithJournalOnly())
	}
	svc, err := feedrefresh.NewService(ctx, cfg, opts...)
	if err != nil {
		logger.Error("build refresh service failed", "error", err.Error())
		return exitStartup
	}
	defer func() {
		if err := svc.Close(); err != nil {
			logger.Warn("close refresh service", "error", err.Error())
		}
	}()

	facade, err := feedrefresh.NewFacade(svc)
	if err != nil {
		logger.Error("build facade failed", "error", err.Error())
		return exitStartup
	}
	queries := facade.Queries()
	bus, err := gocommand.NewBus(facade.Commands().Refresh, queries.RunHistory, queries.RunOutcomes)
	if err != nil {
		logger.Error("register commands failed", "error", err.Error())
		return exitStartup
	}
	defer bus.Close()

	if flags.history > 0 {
		entries, err := bus.History(ctx, query.RunHistoryMessage{EnrollmentID: flags.enrollmentID, Limit: flags.history})
		if err != nil {
			logger.Error("query history failed", "error", err.Error())
			return exitFailed
		}
		printHistory(stdout, entries)
		return exitOK
	}
	if flags.runID != "" {
		entries, err := bus.RunOutcomes(ctx, query.RunOutcomesMessage{RunID: flags.runID})
		if err != nil {
			logger.Error("query run outcomes failed", "error", err.Error())
			return exitFailed
		}
		printHistory(stdout, entries)
		return exitOK
	}

	report, err := bus.Refresh(ctx, command.RefreshMessage{DryRun: flags.dryRun, RecordPattern: flags.recordPattern})
	printReport(stdout, report)
	if err != nil {
		logger.Error("refresh run stopped", "error", err.Error())
		return exitFailed
	}
	if svc.Config().StrictExit && report.Failed() {
		return exitFailed
	}
	return exitOK
}

func printReport(w io.Writer, report core.BatchReport) {
	if report.RunID == "" {
		return
	}
	fmt.Fprintf(w, "run %s: %d records, %d feed entries\n", report.RunID, len(report.Outcomes), len(report.Entries))
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, outcome := range report.Outcomes {
		detail := ""
		if outcome.Err != nil {
			detail = outcome.Err.Error()
		}
		fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\n", outcome.Path, outcome.EnrollmentID, outcome.State, detail)
	}
	_ = tw.Flush()

	counts := report.CountByState()
	states := make([]string, 0, len(counts))
	for state := range counts {
		states = append(states, string(state))
	}
	sort.Strings(states)
	for _, state := range states {
		fmt.Fprintf(w, "  %s=%d", state, counts[core.RecordState(state)])
	}
	if len(states) > 0 {
		fmt.Fprintln(w)
	}

	switch {
	case report.MergeErr != nil:
		fmt.Fprintf(w, "merge failed: %v\n", report.MergeErr)
	case report.Merged && report.BackupPath != "":
		fmt.Fprintf(w, "registry merged, previous version saved to %s\n", report.BackupPath)
	case report.Merged:
		fmt.Fprintln(w, "registry created")
	}
	if report.Aborted {
		fmt.Fprintln(w, "batch aborted on unmapped account")
	}
}

func printHistory(w io.Writer, entries []core.JournalEntry) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tRUN\tRECORD\tENROLLMENT\tSTATE\tENTRIES\tERROR")
	for _, entry := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
			entry.CreatedAt.Format("2006-01-02 15:04:05"),
			entry.RunID,
			filepath.Base(entry.RecordPath),
			entry.EnrollmentID,
			entry.State,
			entry.Entries,
			entry.ErrorCode,
		)
	}
	_ = tw.Flush()
}
