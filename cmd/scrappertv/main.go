// ScrapperTV CLI
// Command-line interface for fetching historical market data series over the
// TradingView websocket protocol, storing them, reading them back, and
// running recurring collection jobs.
//
// Usage:
//
//	scrappertv fetch --symbol BINANCE:BTCUSDT --timeframe 60 --amount 300
//	scrappertv query --symbol BINANCE:BTCUSDT --timeframe 60 --limit 20
//	scrappertv schedule --now
//	scrappertv config init
//
// For detailed help on any command, use: scrappertv <command> --help
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/TavaresBugs/ScrapperTV/internal/clienterr"
	"github.com/TavaresBugs/ScrapperTV/internal/config"
	"github.com/TavaresBugs/ScrapperTV/internal/export"
	"github.com/TavaresBugs/ScrapperTV/internal/gaps"
	"github.com/TavaresBugs/ScrapperTV/internal/logger"
	"github.com/TavaresBugs/ScrapperTV/internal/metrics"
	"github.com/TavaresBugs/ScrapperTV/internal/models"
	"github.com/TavaresBugs/ScrapperTV/internal/schedule"
	"github.com/TavaresBugs/ScrapperTV/internal/series"
	"github.com/TavaresBugs/ScrapperTV/internal/session"
	"github.com/TavaresBugs/ScrapperTV/internal/storage"
	"github.com/TavaresBugs/ScrapperTV/internal/validator"
)

// CLI version information
const (
	Version    = "1.0.0"
	AppName    = "scrappertv"
	ConfigFile = "scrappertv.json"
)

// Exit codes following standard conventions
const (
	ExitSuccess       = 0
	ExitUsageError    = 1
	ExitConfigError   = 2
	ExitConnectionErr = 3
	ExitDataError     = 4
	ExitInterrupt     = 130
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(ExitUsageError)
	}

	// Signal handling for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	command := os.Args[1]
	args := os.Args[2:]

	var err error
	switch command {
	case "fetch":
		err = runFetch(ctx, args)
	case "query":
		err = runQuery(ctx, args)
	case "gaps":
		err = runGaps(ctx, args)
	case "schedule":
		err = runSchedule(ctx, args)
	case "config":
		err = runConfig(ctx, args)
	case "version", "--version", "-v":
		fmt.Printf("%s version %s\n", AppName, Version)
	case "help", "--help", "-h":
		if len(args) > 0 {
			printCommandHelp(args[0])
		} else {
			printUsage()
		}
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown command %q\n\n", command)
		printUsage()
		os.Exit(ExitUsageError)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCode(err))
	}
}

// exitCode maps an error to a process exit code using its classification.
func exitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	if errors.Is(err, context.Canceled) {
		return ExitInterrupt
	}
	switch clienterr.GetErrorType(err) {
	case clienterr.ErrorTypeConnection, clienterr.ErrorTypeNetwork:
		return ExitConnectionErr
	case clienterr.ErrorTypeValidation:
		return ExitUsageError
	case clienterr.ErrorTypeConfiguration:
		return ExitConfigError
	default:
		return ExitDataError
	}
}

// app bundles the pieces every command needs: loaded configuration, the
// logging stack, and the metrics registry shared by all components.
type app struct {
	cfg      *config.AppConfig
	logs     *logger.Manager
	logger   *slog.Logger
	registry *metrics.Registry
}

func loadApp(ctx context.Context, configPath string) (*app, error) {
	// Config loading logs through a quiet bootstrap logger; the real stack
	// only exists after the config is read.
	boot := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	manager := config.NewManager(configPath, boot)
	cfg, err := manager.Load(ctx)
	if err != nil {
		return nil, clienterr.New(clienterr.ErrorTypeConfiguration, "cli", "load_config", err)
	}

	logs, err := logger.NewManager(cfg.Logging)
	if err != nil {
		return nil, clienterr.New(clienterr.ErrorTypeConfiguration, "cli", "setup_logging", err)
	}

	return &app{
		cfg:      cfg,
		logs:     logs,
		logger:   logs.GetComponentLogger("cli").Logger,
		registry: metrics.NewRegistry(),
	}, nil
}

func (a *app) Close() {
	_ = a.logs.Close()
}

// openStorage builds and initializes the configured storage backend.
func (a *app) openStorage(ctx context.Context) (storage.FullStorage, error) {
	store, err := storage.New(a.cfg.Storage.Type, a.cfg.Storage.DatabasePath, a.logs.GetComponentLogger("storage").Logger)
	if err != nil {
		return nil, clienterr.New(clienterr.ErrorTypeConfiguration, "cli", "open_storage", err)
	}
	if err := store.Initialize(ctx); err != nil {
		return nil, clienterr.New(clienterr.ErrorTypeStorage, "cli", "init_storage", err)
	}
	return store, nil
}

// openEngine connects a session and binds a series engine to it. The returned
// cleanup closes both.
func (a *app) openEngine(ctx context.Context) (*series.Engine, func(), error) {
	opts := session.OptionsFromConfig(a.cfg.Connection)
	opts.Logger = a.logs.GetComponentLogger("session").Logger
	opts.Metrics = a.registry

	sess := session.NewManager(opts)
	if err := sess.Connect(ctx); err != nil {
		return nil, nil, clienterr.NewConnectionError("cli", "connect", err)
	}

	engine := series.NewEngine(sess, series.Options{
		FetchTimeout: config.Duration(a.cfg.Fetch.Timeout, series.DefaultFetchTimeout),
		Logger:       a.logs.GetComponentLogger("series").Logger,
		Metrics:      a.registry,
	})

	cleanup := func() {
		engine.Close()
		_ = sess.Close()
	}
	return engine, cleanup, nil
}

// runFetch handles the 'fetch' command: one series fetch from the live feed.
func runFetch(ctx context.Context, args []string) error {
	flags, err := parseFetchFlags(args)
	if err != nil {
		return err
	}
	if flags.Help {
		printCommandHelp("fetch")
		return nil
	}
	if flags.Symbol == "" {
		return fmt.Errorf("--symbol is required")
	}

	from, err := parseTimeFlag(flags.From)
	if err != nil {
		return err
	}
	to, err := parseTimeFlag(flags.To)
	if err != nil {
		return err
	}

	a, err := loadApp(ctx, flags.ConfigPath)
	if err != nil {
		return err
	}
	defer a.Close()

	amount := flags.Amount
	if amount == 0 && from == 0 {
		amount = a.cfg.Fetch.DefaultTargetAmount
	}

	req := models.SeriesRequest{
		Symbol:        flags.Symbol,
		Timeframe:     flags.Timeframe,
		TargetAmount:  amount,
		FromTimestamp: from,
		ToTimestamp:   to,
	}

	engine, cleanup, err := a.openEngine(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	a.logger.Info("fetching series",
		"symbol", req.Symbol,
		"timeframe", req.Timeframe,
		"target", req.TargetAmount,
		"from", req.FromTimestamp,
		"to", req.ToTimestamp)

	start := time.Now()
	bars, err := engine.Fetch(ctx, req)
	if err != nil {
		return err
	}
	elapsed := time.Since(start)

	if flags.Validate {
		report := validator.New(validator.Thresholds{}, a.logs.GetComponentLogger("validator").Logger).Check(bars)
		printValidationReport(report)
	}

	if flags.Store {
		store, err := a.openStorage(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		if err := store.Store(ctx, req.Symbol, req.Timeframe, bars); err != nil {
			return clienterr.New(clienterr.ErrorTypeStorage, "cli", "store", err)
		}
		a.registry.BarsStored.Add(int64(len(bars)))
		fmt.Printf("Stored %d bars in %s storage\n", len(bars), a.cfg.Storage.Type)
	}

	ser := export.Series{Symbol: req.Symbol, Timeframe: req.Timeframe, Bars: bars}
	if err := writeSeries(ser, flags.Format, flags.Output, a.cfg.Export); err != nil {
		return err
	}

	if flags.Format == "table" {
		fmt.Printf("\nFetched %d bars of %s %s in %v\n", len(bars), req.Symbol, req.Timeframe, elapsed.Round(time.Millisecond))
	}
	if a.cfg.Metrics.Enabled {
		a.registry.LogTo(a.logger)
	}
	return nil
}

// runQuery handles the 'query' command: read stored bars back out.
func runQuery(ctx context.Context, args []string) error {
	flags, err := parseQueryFlags(args)
	if err != nil {
		return err
	}
	if flags.Help {
		printCommandHelp("query")
		return nil
	}
	if flags.Symbol == "" {
		return fmt.Errorf("--symbol is required")
	}

	from, err := parseTimeFlag(flags.From)
	if err != nil {
		return err
	}
	to, err := parseTimeFlag(flags.To)
	if err != nil {
		return err
	}

	orderBy := "timestamp_asc"
	if flags.Order == "desc" {
		orderBy = "timestamp_desc"
	}

	a, err := loadApp(ctx, flags.ConfigPath)
	if err != nil {
		return err
	}
	defer a.Close()

	store, err := a.openStorage(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	resp, err := store.Query(ctx, storage.QueryRequest{
		Symbol:    flags.Symbol,
		Timeframe: flags.Timeframe,
		From:      from,
		To:        to,
		Limit:     flags.Limit,
		Offset:    flags.Offset,
		OrderBy:   orderBy,
	})
	if err != nil {
		return err
	}

	if len(resp.Bars) == 0 {
		fmt.Println("No bars found for the specified criteria.")
		return nil
	}

	ser := export.Series{Symbol: flags.Symbol, Timeframe: flags.Timeframe, Bars: resp.Bars}
	if err := writeSeries(ser, flags.Format, flags.Output, a.cfg.Export); err != nil {
		return err
	}

	if flags.Format == "table" {
		fmt.Printf("\nShowing %d of %d bars (query took %v)\n", len(resp.Bars), resp.Total, resp.QueryTime.Round(time.Microsecond))
		if resp.HasMore {
			fmt.Printf("More available: rerun with --offset %d\n", resp.NextOffset)
		}
	}
	return nil
}

// runGaps handles the 'gaps' command: continuity scan of a stored series
// with optional refill of the holes.
func runGaps(ctx context.Context, args []string) error {
	flags, err := parseGapsFlags(args)
	if err != nil {
		return err
	}
	if flags.Help {
		printCommandHelp("gaps")
		return nil
	}
	if flags.Symbol == "" {
		return fmt.Errorf("--symbol is required")
	}

	from, err := parseTimeFlag(flags.From)
	if err != nil {
		return err
	}
	to, err := parseTimeFlag(flags.To)
	if err != nil {
		return err
	}

	a, err := loadApp(ctx, flags.ConfigPath)
	if err != nil {
		return err
	}
	defer a.Close()

	store, err := a.openStorage(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	detector := gaps.NewDetector(store, a.logs.GetComponentLogger("gaps").Logger)
	report, err := detector.Detect(ctx, flags.Symbol, flags.Timeframe, from, to)
	if err != nil {
		return err
	}

	printGapReport(report, flags.All)

	if !flags.Fill {
		return nil
	}
	holes := report.Unexpected()
	if len(holes) == 0 {
		fmt.Println("Nothing to fill.")
		return nil
	}

	engine, cleanup, err := a.openEngine(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	filler := gaps.NewFiller(engine, store, a.logs.GetComponentLogger("gaps").Logger)
	stored, err := filler.Fill(ctx, flags.Symbol, flags.Timeframe, holes)
	fmt.Printf("Filled %d bars across %d gaps\n", stored, len(holes))
	return err
}

// printValidationReport lists what the quality scan found.
func printValidationReport(report *validator.Report) {
	if report.Clean() {
		fmt.Printf("Validation: no anomalies in %d bars\n", report.Bars)
		return
	}
	fmt.Printf("Validation: %d anomalies in %d bars\n", len(report.Anomalies), report.Bars)
	for _, a := range report.Anomalies {
		fmt.Printf("  %s  %-16s %s\n", time.Unix(a.Timestamp, 0).UTC().Format(time.RFC3339), a.Kind, a.Detail)
	}
}

// printGapReport renders the continuity report. Closures are hidden unless
// showAll is set.
func printGapReport(report *gaps.Report, showAll bool) {
	if report.Present < 2 {
		fmt.Printf("%s %s: %d bars stored, nothing to scan\n", report.Symbol, report.Timeframe, report.Present)
		return
	}

	shown := report.Gaps
	if !showAll {
		shown = report.Unexpected()
	}

	if len(shown) > 0 {
		tw := table.NewWriter()
		tw.SetOutputMirror(os.Stdout)
		tw.SetStyle(table.StyleLight)
		tw.SetTitle("%s %s gaps", report.Symbol, report.Timeframe)
		tw.AppendHeader(table.Row{"#", "From", "To", "Bars", "Kind"})
		for i, g := range shown {
			kind := "missing"
			if g.Expected {
				kind = "closure"
			}
			tw.AppendRow(table.Row{
				i + 1,
				time.Unix(g.From, 0).UTC().Format(time.RFC3339),
				time.Unix(g.To, 0).UTC().Format(time.RFC3339),
				g.Bars,
				kind,
			})
		}
		tw.Render()
	}

	fmt.Printf("\n%d bars present, %d missing, %d outside trading hours (coverage %.1f%%)\n",
		report.Present, report.Missing, report.Closed, report.Coverage()*100)
}

// runSchedule handles the 'schedule' command: recurring collection until
// interrupted.
func runSchedule(ctx context.Context, args []string) error {
	flags, err := parseScheduleFlags(args)
	if err != nil {
		return err
	}
	if flags.Help {
		printCommandHelp("schedule")
		return nil
	}

	a, err := loadApp(ctx, flags.ConfigPath)
	if err != nil {
		return err
	}
	defer a.Close()

	if !a.cfg.Schedule.Enabled {
		return clienterr.New(clienterr.ErrorTypeConfiguration, "cli", "schedule",
			fmt.Errorf("scheduling is disabled, set schedule.enabled in %s", ConfigFile))
	}

	store, err := a.openStorage(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	engine, cleanup, err := a.openEngine(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	scheduler, err := schedule.New(schedule.Config{
		Cron:          a.cfg.Schedule.Cron,
		Symbols:       a.cfg.Schedule.Symbols,
		Timeframes:    a.cfg.Schedule.Timeframes,
		TargetAmount:  a.cfg.Schedule.TargetAmount,
		JobTimeout:    config.Duration(a.cfg.Schedule.JobTimeout, 10*time.Minute),
		MaxConcurrent: a.cfg.Schedule.MaxConcurrent,
	}, engine, store, a.registry, a.logs.GetComponentLogger("scheduler").Logger)
	if err != nil {
		return clienterr.New(clienterr.ErrorTypeConfiguration, "cli", "schedule", err)
	}

	if a.cfg.Metrics.Enabled {
		a.registry.StartPeriodicLogging(ctx, a.logger, config.Duration(a.cfg.Metrics.LogInterval, time.Minute))
	}

	if err := scheduler.Start(); err != nil {
		return err
	}

	fmt.Printf("Scheduler running: %d symbols x %d timeframes, cron %q\n",
		len(a.cfg.Schedule.Symbols), len(a.cfg.Schedule.Timeframes), a.cfg.Schedule.Cron)
	fmt.Printf("Next run at %s. Press Ctrl+C to stop.\n", scheduler.NextRun().Format(time.RFC3339))

	if flags.Now {
		if err := scheduler.RunOnce(ctx); err != nil {
			a.logger.Error("immediate run failed", "error", err)
		}
	}

	<-ctx.Done()
	fmt.Println("\nShutting down...")

	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := scheduler.Stop(stopCtx); err != nil {
		a.logger.Warn("scheduler did not stop cleanly", "error", err)
	}

	a.registry.LogTo(a.logger)
	return nil
}

// runConfig handles 'config init' and 'config show'.
func runConfig(ctx context.Context, args []string) error {
	if len(args) == 0 || args[0] == "--help" || args[0] == "-h" {
		printCommandHelp("config")
		return nil
	}

	sub := args[0]
	flags, err := parseConfigFlags(args[1:])
	if err != nil {
		return err
	}
	if flags.Help {
		printCommandHelp("config")
		return nil
	}

	switch sub {
	case "init":
		path := flags.ConfigPath
		if _, err := os.Stat(path); err == nil && !flags.Force {
			return fmt.Errorf("%s already exists, use --force to overwrite", path)
		}

		quiet := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
		if err := config.NewManager(path, quiet).WriteDefault(ctx); err != nil {
			return clienterr.New(clienterr.ErrorTypeConfiguration, "cli", "config_init", err)
		}
		fmt.Printf("Wrote default configuration to %s\n", path)
		return nil

	case "show":
		quiet := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
		cfg, err := config.NewManager(flags.ConfigPath, quiet).Load(ctx)
		if err != nil {
			return clienterr.New(clienterr.ErrorTypeConfiguration, "cli", "config_show", err)
		}
		fmt.Println(cfg.String())
		return nil

	default:
		return fmt.Errorf("unknown config subcommand %q, expected init or show", sub)
	}
}

// writeSeries routes formatted output to stdout or a file. When the output
// path is an existing directory the filename is derived from the series.
func writeSeries(ser export.Series, format, output string, exportCfg config.ExportConfig) error {
	if format == "table" {
		renderBarsTable(ser)
		return nil
	}

	opts := export.Options{ChartTheme: exportCfg.ChartTheme}
	if output == "" {
		return export.Write(os.Stdout, format, ser, opts)
	}

	if info, err := os.Stat(output); err == nil && info.IsDir() {
		output = filepath.Join(output, export.DefaultFilename(ser.Symbol, ser.Timeframe, format, time.Now()))
	}
	if err := export.WriteFile(output, format, ser, opts); err != nil {
		return err
	}
	fmt.Printf("Wrote %s\n", output)
	return nil
}

// renderBarsTable prints bars in a readable table.
func renderBarsTable(ser export.Series) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.SetStyle(table.StyleLight)
	tw.SetTitle("%s %s", ser.Symbol, ser.Timeframe)
	tw.AppendHeader(table.Row{"#", "Time", "Open", "High", "Low", "Close", "Volume"})
	for i := range ser.Bars {
		bar := &ser.Bars[i]
		tw.AppendRow(table.Row{
			i + 1,
			bar.Datetime,
			bar.Open.String(),
			bar.High.String(),
			bar.Low.String(),
			bar.Close.String(),
			bar.Volume.String(),
		})
	}
	tw.Render()
}

// parseTimeFlag accepts epoch seconds or a calendar date.
func parseTimeFlag(value string) (int64, error) {
	if value == "" {
		return 0, nil
	}
	if ts, err := strconv.ParseInt(value, 10, 64); err == nil {
		return ts, nil
	}
	for _, layout := range []string{"2006-01-02", "2006-01-02T15:04:05", time.RFC3339} {
		if t, err := time.Parse(layout, value); err == nil {
			return t.Unix(), nil
		}
	}
	return 0, fmt.Errorf("invalid time %q, use epoch seconds or YYYY-MM-DD", value)
}

// Flag structures and hand-rolled parsers

// FetchFlags represents flags for the fetch command
type FetchFlags struct {
	ConfigPath string
	Symbol     string
	Timeframe  string
	Amount     int
	From       string
	To         string
	Format     string
	Output     string
	Store      bool
	Validate   bool
	Help       bool
}

// QueryFlags represents flags for the query command
type QueryFlags struct {
	ConfigPath string
	Symbol     string
	Timeframe  string
	From       string
	To         string
	Limit      int
	Offset     int
	Order      string
	Format     string
	Output     string
	Help       bool
}

// GapsFlags represents flags for the gaps command
type GapsFlags struct {
	ConfigPath string
	Symbol     string
	Timeframe  string
	From       string
	To         string
	Fill       bool
	All        bool
	Help       bool
}

// ScheduleFlags represents flags for the schedule command
type ScheduleFlags struct {
	ConfigPath string
	Now        bool
	Help       bool
}

// ConfigFlags represents flags for the config subcommands
type ConfigFlags struct {
	ConfigPath string
	Force      bool
	Help       bool
}

func parseFetchFlags(args []string) (*FetchFlags, error) {
	flags := &FetchFlags{
		ConfigPath: ConfigFile,
		Timeframe:  "60",
		Format:     "table",
	}

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--config", "-c":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--config requires a value")
			}
			flags.ConfigPath = args[i+1]
			i++
		case "--symbol", "-s":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--symbol requires a value")
			}
			flags.Symbol = args[i+1]
			i++
		case "--timeframe", "-t":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--timeframe requires a value")
			}
			flags.Timeframe = args[i+1]
			i++
		case "--amount", "-a":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--amount requires a value")
			}
			amount, err := strconv.Atoi(args[i+1])
			if err != nil {
				return nil, fmt.Errorf("invalid amount value: %w", err)
			}
			flags.Amount = amount
			i++
		case "--from":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--from requires a value")
			}
			flags.From = args[i+1]
			i++
		case "--to":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--to requires a value")
			}
			flags.To = args[i+1]
			i++
		case "--format", "-f":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--format requires a value")
			}
			format := args[i+1]
			if format != "table" && format != export.FormatJSON && format != export.FormatCSV && format != export.FormatChart {
				return nil, fmt.Errorf("invalid format, must be: table, json, csv, or chart")
			}
			flags.Format = format
			i++
		case "--output", "-o":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--output requires a value")
			}
			flags.Output = args[i+1]
			i++
		case "--store":
			flags.Store = true
		case "--validate":
			flags.Validate = true
		case "--help", "-h":
			flags.Help = true
		default:
			return nil, fmt.Errorf("unknown flag: %s", args[i])
		}
	}

	return flags, nil
}

func parseQueryFlags(args []string) (*QueryFlags, error) {
	flags := &QueryFlags{
		ConfigPath: ConfigFile,
		Timeframe:  "60",
		Limit:      50,
		Order:      "asc",
		Format:     "table",
	}

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--config", "-c":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--config requires a value")
			}
			flags.ConfigPath = args[i+1]
			i++
		case "--symbol", "-s":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--symbol requires a value")
			}
			flags.Symbol = args[i+1]
			i++
		case "--timeframe", "-t":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--timeframe requires a value")
			}
			flags.Timeframe = args[i+1]
			i++
		case "--from":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--from requires a value")
			}
			flags.From = args[i+1]
			i++
		case "--to":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--to requires a value")
			}
			flags.To = args[i+1]
			i++
		case "--limit", "-l":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--limit requires a value")
			}
			limit, err := strconv.Atoi(args[i+1])
			if err != nil {
				return nil, fmt.Errorf("invalid limit value: %w", err)
			}
			flags.Limit = limit
			i++
		case "--offset":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--offset requires a value")
			}
			offset, err := strconv.Atoi(args[i+1])
			if err != nil {
				return nil, fmt.Errorf("invalid offset value: %w", err)
			}
			flags.Offset = offset
			i++
		case "--order":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--order requires a value")
			}
			order := args[i+1]
			if order != "asc" && order != "desc" {
				return nil, fmt.Errorf("invalid order, must be: asc or desc")
			}
			flags.Order = order
			i++
		case "--format", "-f":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--format requires a value")
			}
			format := args[i+1]
			if format != "table" && format != export.FormatJSON && format != export.FormatCSV && format != export.FormatChart {
				return nil, fmt.Errorf("invalid format, must be: table, json, csv, or chart")
			}
			flags.Format = format
			i++
		case "--output", "-o":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--output requires a value")
			}
			flags.Output = args[i+1]
			i++
		case "--help", "-h":
			flags.Help = true
		default:
			return nil, fmt.Errorf("unknown flag: %s", args[i])
		}
	}

	return flags, nil
}

func parseGapsFlags(args []string) (*GapsFlags, error) {
	flags := &GapsFlags{
		ConfigPath: ConfigFile,
		Timeframe:  "60",
	}

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--config", "-c":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--config requires a value")
			}
			flags.ConfigPath = args[i+1]
			i++
		case "--symbol", "-s":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--symbol requires a value")
			}
			flags.Symbol = args[i+1]
			i++
		case "--timeframe", "-t":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--timeframe requires a value")
			}
			flags.Timeframe = args[i+1]
			i++
		case "--from":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--from requires a value")
			}
			flags.From = args[i+1]
			i++
		case "--to":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--to requires a value")
			}
			flags.To = args[i+1]
			i++
		case "--fill":
			flags.Fill = true
		case "--all":
			flags.All = true
		case "--help", "-h":
			flags.Help = true
		default:
			return nil, fmt.Errorf("unknown flag: %s", args[i])
		}
	}

	return flags, nil
}

func parseScheduleFlags(args []string) (*ScheduleFlags, error) {
	flags := &ScheduleFlags{
		ConfigPath: ConfigFile,
	}

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--config", "-c":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--config requires a value")
			}
			flags.ConfigPath = args[i+1]
			i++
		case "--now", "-n":
			flags.Now = true
		case "--help", "-h":
			flags.Help = true
		default:
			return nil, fmt.Errorf("unknown flag: %s", args[i])
		}
	}

	return flags, nil
}

func parseConfigFlags(args []string) (*ConfigFlags, error) {
	flags := &ConfigFlags{
		ConfigPath: ConfigFile,
	}

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--config", "-c", "--path", "-p":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("%s requires a value", args[i])
			}
			flags.ConfigPath = args[i+1]
			i++
		case "--force":
			flags.Force = true
		case "--help", "-h":
			flags.Help = true
		default:
			return nil, fmt.Errorf("unknown flag: %s", args[i])
		}
	}

	return flags, nil
}

// Help and usage functions

func printUsage() {
	fmt.Printf(`%s - TradingView market data client v%s

USAGE:
    %s <command> [options]

COMMANDS:
    fetch       Fetch one historical series over the live websocket feed
    query       Read stored bars back out of the database
    gaps        Scan a stored series for missing bars, optionally refill them
    schedule    Run recurring collection jobs until interrupted
    config      Manage configuration (init, show)
    version     Show version information

GLOBAL OPTIONS:
    --help, -h     Show help information
    --version, -v  Show version information

EXAMPLES:
    # Fetch the most recent 300 hourly bars and print them as a table
    %s fetch --symbol BINANCE:BTCUSDT --timeframe 60 --amount 300

    # Fetch a daily window and render an HTML candlestick chart
    %s fetch --symbol NASDAQ:AAPL --timeframe D --from 2026-01-01 --format chart --output charts/

    # Persist a fetch, then read it back newest-first
    %s fetch --symbol BINANCE:BTCUSDT --timeframe 60 --amount 1000 --store
    %s query --symbol BINANCE:BTCUSDT --timeframe 60 --limit 20 --order desc

    # Run the scheduler from the config file, with an immediate first pass
    %s schedule --now

CONFIGURATION:
    Configuration is read from %s (or --config <path>; .yaml and .json
    are both understood), then overridden by SCRAPPERTV_* environment
    variables such as SCRAPPERTV_STORAGE_TYPE, SCRAPPERTV_AUTH_COOKIE and
    SCRAPPERTV_LOG_LEVEL.

    Create a starting point with: %s config init

For detailed help on any command, use: %s <command> --help
`, AppName, Version, AppName, AppName, AppName, AppName, AppName, AppName, ConfigFile, AppName, AppName)
}

func printCommandHelp(command string) {
	switch command {
	case "fetch":
		fmt.Printf(`%s fetch - Fetch one historical series

USAGE:
    %s fetch [options]

OPTIONS:
    --symbol, -s <symbol>     Symbol to fetch (required)
                              Examples: BINANCE:BTCUSDT, NASDAQ:AAPL
    --timeframe, -t <tf>      Bucket size (default: 60)
                              Minutes as a number (1, 60, 240) or D, W, M
    --amount, -a <n>          Number of most-recent bars to fetch
    --from <time>             Inclusive lower bound, epoch seconds or YYYY-MM-DD
    --to <time>               Inclusive upper bound, epoch seconds or YYYY-MM-DD
    --format, -f <format>     Output format: table, json, csv, chart (default: table)
    --output, -o <path>       Write output to a file or into a directory
    --store                   Also persist the bars into the configured storage
    --validate                Run quality checks over the fetched series
    --config, -c <path>       Config file (default: %s)
    --help, -h                Show this help message

EXAMPLES:
    # Most recent 500 four-hour bars as JSON on stdout
    %s fetch --symbol BINANCE:BTCUSDT --timeframe 240 --amount 500 --format json

    # Everything since new year, stored and charted
    %s fetch --symbol FX_IDC:EURUSD --timeframe D --from 2026-01-01 --store --format chart --output charts/

NOTES:
    - When both --from and --amount are given, --from wins and --amount is ignored
    - Without --amount or --from the configured default amount is fetched
    - Pagination against the feed happens automatically for deep windows
`, AppName, AppName, ConfigFile, AppName, AppName)

	case "query":
		fmt.Printf(`%s query - Read stored bars

USAGE:
    %s query [options]

OPTIONS:
    --symbol, -s <symbol>     Symbol to query (required)
    --timeframe, -t <tf>      Bucket size (default: 60)
    --from <time>             Inclusive lower bound, epoch seconds or YYYY-MM-DD
    --to <time>               Inclusive upper bound, epoch seconds or YYYY-MM-DD
    --limit, -l <n>           Maximum rows to return (default: 50, 0 = all)
    --offset <n>              Rows to skip, for paging
    --order <dir>             asc or desc by timestamp (default: asc)
    --format, -f <format>     Output format: table, json, csv, chart (default: table)
    --output, -o <path>       Write output to a file or into a directory
    --config, -c <path>       Config file (default: %s)
    --help, -h                Show this help message

EXAMPLES:
    # Latest 20 stored hourly bars
    %s query --symbol BINANCE:BTCUSDT --timeframe 60 --limit 20 --order desc

    # January as CSV into a file
    %s query --symbol BINANCE:BTCUSDT --timeframe 60 --from 2026-01-01 --to 2026-01-31 --format csv --output jan.csv
`, AppName, AppName, ConfigFile, AppName, AppName)

	case "gaps":
		fmt.Printf(`%s gaps - Scan a stored series for missing bars

USAGE:
    %s gaps [options]

OPTIONS:
    --symbol, -s <symbol>     Symbol to scan (required)
    --timeframe, -t <tf>      Bucket size (default: 60)
    --from <time>             Inclusive lower bound, epoch seconds or YYYY-MM-DD
    --to <time>               Inclusive upper bound, epoch seconds or YYYY-MM-DD
    --fill                    Refetch the missing windows and store the results
    --all                     Also list market closures, not just data gaps
    --config, -c <path>       Config file (default: %s)
    --help, -h                Show this help message

EXAMPLES:
    # Continuity check of stored hourly bars
    %s gaps --symbol BINANCE:BTCUSDT --timeframe 60

    # Repair January
    %s gaps --symbol BINANCE:BTCUSDT --timeframe 60 --from 2026-01-01 --to 2026-01-31 --fill

NOTES:
    - Weekends and holidays of exchange-listed symbols count as closures,
      not gaps; venues without a known trading calendar are treated as 24/7
    - Detection walks stored bars, so it needs at least two bars in range
`, AppName, AppName, ConfigFile, AppName, AppName)

	case "schedule":
		fmt.Printf(`%s schedule - Run recurring collection

USAGE:
    %s schedule [options]

OPTIONS:
    --now, -n                 Run one collection pass immediately on start
    --config, -c <path>       Config file (default: %s)
    --help, -h                Show this help message

CONFIGURATION:
    The schedule section of the config file drives this command:

    "schedule": {
        "enabled": true,
        "cron": "0 * * * *",
        "symbols": ["BINANCE:BTCUSDT", "BINANCE:ETHUSDT"],
        "timeframes": ["60", "240"],
        "target_amount": 500,
        "job_timeout": "10m",
        "max_concurrent": 2
    }

NOTES:
    - Series with stored history are caught up incrementally; new series
      get target_amount bars
    - Repeatedly failing runs open a circuit breaker and are skipped until
      it recovers
    - Press Ctrl+C to stop gracefully
`, AppName, AppName, ConfigFile)

	case "config":
		fmt.Printf(`%s config - Manage configuration

USAGE:
    %s config init [--path <path>] [--force]
    %s config show [--config <path>]

SUBCOMMANDS:
    init    Write a default configuration file
    show    Print the effective configuration (file + environment)

EXAMPLES:
    %s config init
    %s config init --path etc/scrappertv.yaml
    SCRAPPERTV_STORAGE_TYPE=duckdb %s config show
`, AppName, AppName, AppName, AppName, AppName, AppName)

	default:
		fmt.Fprintf(os.Stderr, "No help available for command: %s\n", command)
		printUsage()
	}
}
