package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jobscan/jobscan/pkg/config"
	applog "github.com/jobscan/jobscan/pkg/log"
	"github.com/jobscan/jobscan/pkg/models"
	"github.com/jobscan/jobscan/pkg/orchestrate"
	"github.com/jobscan/jobscan/pkg/storage"
	"github.com/jobscan/jobscan/pkg/utils"
	"github.com/jobscan/jobscan/pkg/watch"
)

const version = "1.0.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "scan":
		runScan(os.Args[2:])
	case "watch":
		runWatch(os.Args[2:])
	case "validate":
		runValidate(os.Args[2:])
	case "list-sources":
		runListSources(os.Args[2:])
	case "export":
		runExport(os.Args[2:])
	case "mcp-server":
		runMcpServer(os.Args[2:])
	case "version":
		fmt.Printf("jobscan %s\n", version)
	case "-h", "--help", "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	printUsageTo(os.Stdout)
}

// printUsageTo writes usage information to the provided writer.
func printUsageTo(w io.Writer) {
	fmt.Fprintln(w, `jobscan - Job listing crawler

Usage:
  jobscan <command> [options]

Commands:
  scan          Run one scan cycle over all or selected sources
  watch         Scan all sources on a schedule
  validate      Validate configuration file
  list-sources  List configured sources and their last successful scan
  export        Export stored job records as JSON lines
  mcp-server    Start MCP server for AI tool integration
  version       Show version info

Run 'jobscan <command> -h' for command-specific help.`)
}

// loadConfig loads and parses the config file
func loadConfig(path string) (*config.AppConfig, error) {
	return config.Load(path)
}

// loadAndValidateConfig loads the config file, validates it, and logs warnings.
func loadAndValidateConfig(configFile string, log *logrus.Logger) (*config.AppConfig, error) {
	log.Infof("Loading configuration from %s", configFile)
	appCfg, err := loadConfig(configFile)
	if err != nil {
		return nil, err
	}

	appWarnings, err := appCfg.Validate()
	for _, w := range appWarnings {
		log.Warn(w)
	}
	if err != nil {
		return nil, err
	}
	return appCfg, nil
}

// splitIDs parses a comma-separated list of source ids
func splitIDs(s string) []string {
	var ids []string
	for _, id := range strings.Split(s, ",") {
		id = strings.TrimSpace(id)
		if id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

// signalContext returns a context cancelled on SIGINT or SIGTERM. A second
// signal, or a stuck shutdown, forces the process to exit.
func signalContext(log *logrus.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Errorf("PANIC in signal handler: %v", r)
			}
		}()
		select {
		case sig := <-sigChan:
			log.Warnf("Received signal: %v. Initiating graceful shutdown...", sig)
			cancel()
		case <-ctx.Done():
			return
		}

		select {
		case sig := <-sigChan:
			log.Warnf("Received second signal: %v. Forcing exit.", sig)
			os.Exit(1)
		case <-time.After(30 * time.Second):
			log.Warn("Graceful shutdown period exceeded after signal. Forcing exit.")
			os.Exit(1)
		}
	}()

	return ctx, func() {
		signal.Stop(sigChan)
		cancel()
	}
}

// startPprof starts the pprof HTTP server if addr is non-empty.
func startPprof(addr string, log *logrus.Logger) {
	if addr != "" {
		go func() {
			log.Infof("Starting pprof server at http://%s/debug/pprof/", addr)
			if err := http.ListenAndServe(addr, nil); err != nil {
				log.Errorf("pprof server error: %v", err)
			}
		}()
	}
}

// openEngine builds the scan engine with watch state attached. The returned
// state manager is saved by the caller after scanning.
func openEngine(ctx context.Context, appCfg *config.AppConfig, log *logrus.Logger) (*orchestrate.Engine, *watch.StateManager, error) {
	stateMgr := watch.NewStateManager(appCfg.StateDir, nil)
	if err := stateMgr.Load(); err != nil {
		log.Warnf("Could not load scan state, starting fresh: %v", err)
	}

	engine, err := orchestrate.NewEngine(ctx, appCfg, orchestrate.Options{State: stateMgr}, log.WithField("component", "engine"))
	if err != nil {
		return nil, nil, err
	}
	return engine, stateMgr, nil
}

// logAppConfig logs the effective global configuration
func logAppConfig(appCfg *config.AppConfig, log *logrus.Logger) {
	log.Infof("Global Config: Concurrency:%d, CycleDeadline:%v, FetchTimeout:%v, MaxReqPerHost:%d",
		appCfg.Concurrency, appCfg.CycleDeadline, appCfg.FetchTimeout, appCfg.MaxRequestsPerHost)
	log.Infof("Global Config Retries: Max:%d, InitialDelay:%v, MaxDelay:%v",
		appCfg.RetryBudget(), appCfg.InitialRetryDelay, appCfg.MaxRetryDelay)
	log.Infof("Global Config Politeness: DefaultDelay:%v, RespectRobots:%t, BlockPrivateNetworks:%t",
		appCfg.DefaultDelayPerHost, appCfg.RespectRobots, appCfg.BlockPrivateNetworks)
	log.Infof("Global Config Storage: Driver:%s, StateDir:%s, Lock:%s",
		appCfg.Storage.Driver, appCfg.StateDir, lockMode(appCfg.Lock))
	if appCfg.LLM.Enabled {
		log.Infof("Global Config LLM: Provider:%s, Model:%s, MaxPromptTokens:%d",
			appCfg.LLM.Provider, appCfg.LLM.Model, appCfg.LLM.MaxPromptTokens)
	}
}

func lockMode(cfg config.LockConfig) string {
	if cfg.RedisURL != "" {
		return "redis"
	}
	return "in-process"
}

// runScan handles the scan subcommand
func runScan(args []string) {
	fs := flag.NewFlagSet("scan", flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file")
	sources := fs.String("source", "", "Comma-separated source ids (default: all enabled sources)")
	jsonOut := fs.Bool("json", false, "Print the scan report as JSON")
	dryRun := fs.Bool("dry-run", false, "Fetch, extract and reconcile one source without writing")
	logLevel := fs.String("loglevel", "info", "Log level (debug, info, warn, error, fatal)")
	pprofAddr := fs.String("pprof", "", "pprof address, e.g. localhost:6060 (disabled by default)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: jobscan scan [options]\n\nOptions:\n")
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  jobscan scan\n")
		fmt.Fprintf(os.Stderr, "  jobscan scan -source ssc_notices,upsc_exams -json\n")
		fmt.Fprintf(os.Stderr, "  jobscan scan -source ssc_notices -dry-run\n")
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	log := applog.NewLogger(*logLevel, os.Stderr)
	startPprof(*pprofAddr, log)

	ctx, cancel := signalContext(log)
	defer cancel()

	opts := scanOptions{sourceIDs: splitIDs(*sources), json: *jsonOut, dryRun: *dryRun}
	os.Exit(doScan(ctx, *configFile, opts, os.Stdout, log))
}

type scanOptions struct {
	sourceIDs []string
	json      bool
	dryRun    bool
}

// doScan runs one scan and prints the report. Returns the exit code:
// 1 when configuration is broken or any source failed.
func doScan(ctx context.Context, configFile string, opts scanOptions, stdout io.Writer, log *logrus.Logger) int {
	appCfg, err := loadAndValidateConfig(configFile, log)
	if err != nil {
		log.Errorf("Config error: %v", err)
		return 1
	}
	logAppConfig(appCfg, log)

	if err := orchestrate.ValidateSourceIDs(appCfg, opts.sourceIDs); err != nil {
		log.Errorf("Invalid sources: %v", err)
		return 1
	}
	if opts.dryRun && len(opts.sourceIDs) != 1 {
		log.Error("-dry-run needs exactly one -source")
		return 1
	}

	engine, stateMgr, err := openEngine(ctx, appCfg, log)
	if err != nil {
		log.Errorf("Failed to initialize scan engine: %v", err)
		return 1
	}
	defer engine.Close()

	if opts.dryRun {
		return doPreview(ctx, engine, opts.sourceIDs[0], opts.json, stdout, log)
	}

	var report *models.ScanReport
	if len(opts.sourceIDs) == 0 {
		report, err = engine.ScanAll(ctx)
	} else {
		report, err = scanSelected(ctx, engine, opts.sourceIDs)
	}
	if err != nil {
		log.Errorf("Scan failed: %v", err)
		return 1
	}

	if err := stateMgr.Save(); err != nil {
		log.Errorf("Failed to save scan state: %v", err)
	}

	if opts.json {
		if err := writeJSON(stdout, report); err != nil {
			log.Errorf("Failed to write report: %v", err)
			return 1
		}
	} else {
		printReport(stdout, report)
	}

	if ctx.Err() != nil {
		log.Warn("Scan cancelled.")
		return 0
	}
	if report.Totals().FailedSources > 0 {
		return 1
	}
	return 0
}

// scanSelected visits each source in turn and collects a report
func scanSelected(ctx context.Context, engine *orchestrate.Engine, ids []string) (*models.ScanReport, error) {
	started := time.Now()
	report := models.NewScanReport(started)
	for _, id := range ids {
		outcome, err := engine.ScanOne(ctx, id)
		if err != nil {
			return nil, err
		}
		report.Outcomes[id] = outcome
	}
	report.Duration = time.Since(started)
	return report, nil
}

func doPreview(ctx context.Context, engine *orchestrate.Engine, sourceID string, jsonOut bool, stdout io.Writer, log *logrus.Logger) int {
	items, err := engine.Preview(ctx, sourceID)
	if err != nil {
		log.Errorf("Preview of %q failed [%s]: %v", sourceID, utils.CategorizeError(err), err)
		return 1
	}
	if jsonOut {
		if err := writeJSON(stdout, items); err != nil {
			log.Errorf("Failed to write preview: %v", err)
			return 1
		}
		return 0
	}

	fmt.Fprintf(stdout, "Preview of %s: %d candidates\n\n", sourceID, len(items))
	for _, item := range items {
		c := item.Candidate
		if item.Error != "" {
			fmt.Fprintf(stdout, "  [error] %s: %s\n", c.Title, item.Error)
			continue
		}
		fmt.Fprintf(stdout, "  [%s] %s\n", item.Decision.Kind, c.Title)
		if len(c.Degraded) > 0 {
			fmt.Fprintf(stdout, "      degraded: %s\n", strings.Join(c.Degraded, ", "))
		}
		for _, w := range item.Decision.Warnings {
			fmt.Fprintf(stdout, "      warning: %s\n", w)
		}
	}
	return 0
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printReport writes a human-readable report, one line per source
func printReport(w io.Writer, report *models.ScanReport) {
	fmt.Fprintf(w, "Scan report (%s, %v)\n\n", report.StartedAt.Format(time.RFC3339), report.Duration.Round(time.Millisecond))
	for _, id := range report.SortedSourceIDs() {
		o := report.Outcomes[id]
		switch o.Status {
		case models.OutcomeSkipped:
			fmt.Fprintf(w, "  %-24s skipped: %s\n", id, o.SkipReason)
		default:
			fmt.Fprintf(w, "  %-24s %-9s extracted=%d created=%d updated=%d duplicate=%d failed=%d\n",
				id, o.Status, o.Extracted, o.Created, o.Updated, o.SkippedDuplicate, o.Failed)
		}
		for _, f := range o.Failures {
			fmt.Fprintf(w, "      error [%s/%s] %s\n", f.Stage, f.Category, f.Cause)
		}
		if o.NoPostings && o.Status == models.OutcomeCompleted {
			fmt.Fprintln(w, "      warning: no postings found")
		}
	}
	t := report.Totals()
	fmt.Fprintf(w, "\nSources: %d (completed %d, failed %d, skipped %d)\n", t.Sources, t.Completed, t.FailedSources, t.SkippedSources)
	fmt.Fprintf(w, "Postings: extracted %d, created %d, updated %d, duplicates %d, failures %d\n",
		t.Extracted, t.Created, t.Updated, t.SkippedDuplicate, t.Failures)
}

// runValidate handles the validate subcommand
func runValidate(args []string) {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file")
	sourceID := fs.String("source", "", "Source id to validate (optional, validates all if empty)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: jobscan validate [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	os.Exit(doValidate(*configFile, *sourceID, os.Stdout, os.Stderr))
}

// doValidate performs validation and writes output to provided writers.
// Returns exit code (0 = success, 1 = error).
func doValidate(configPath, sourceID string, stdout, stderr io.Writer) int {
	appCfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	if sourceID != "" {
		srcCfg, ok := appCfg.FindSource(sourceID)
		if !ok {
			fmt.Fprintf(stderr, "Error: source '%s' not found in config\n", sourceID)
			return 1
		}
		srcWarnings, err := srcCfg.Validate()
		if err != nil {
			fmt.Fprintf(stderr, "ERROR: [%s] %v\n", sourceID, err)
			return 1
		}
		for _, w := range srcWarnings {
			fmt.Fprintf(stdout, "WARN: [%s] %s\n", sourceID, w)
		}
		fmt.Fprintf(stdout, "OK: Source '%s' configuration is valid\n", sourceID)
		return 0
	}

	warnings, err := appCfg.Validate()
	for _, w := range warnings {
		fmt.Fprintf(stdout, "WARN: %s\n", w)
	}
	if err != nil {
		fmt.Fprintf(stderr, "ERROR: %v\n", err)
		return 1
	}
	for _, src := range appCfg.Sources {
		state := "enabled"
		if !src.IsEnabled() {
			state = "disabled"
		}
		fmt.Fprintf(stdout, "OK: [%s] %s\n", src.ID, state)
	}

	fmt.Fprintln(stdout, "\nConfiguration valid.")
	return 0
}

// runWatch handles the watch subcommand
func runWatch(args []string) {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file")
	schedule := fs.String("schedule", "", "Cron expression or interval, overrides the config (e.g. '0 */6 * * *', @daily, 6h, 1d)")
	logLevel := fs.String("loglevel", "info", "Log level (debug, info, warn, error, fatal)")
	pprofAddr := fs.String("pprof", "", "pprof address, e.g. localhost:6060 (disabled by default)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: jobscan watch [options]\n\nOptions:\n")
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  jobscan watch\n")
		fmt.Fprintf(os.Stderr, "  jobscan watch -schedule 12h\n")
		fmt.Fprintf(os.Stderr, "  jobscan watch -schedule '30 7 * * *'\n")
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	log := applog.NewLogger(*logLevel, os.Stderr)
	startPprof(*pprofAddr, log)

	ctx, cancel := signalContext(log)
	defer cancel()

	os.Exit(doWatch(ctx, *configFile, *schedule, log))
}

// doWatch runs the watch scheduler until ctx is cancelled
func doWatch(ctx context.Context, configFile, schedule string, log *logrus.Logger) int {
	appCfg, err := loadAndValidateConfig(configFile, log)
	if err != nil {
		log.Errorf("Config error: %v", err)
		return 1
	}
	logAppConfig(appCfg, log)
	if schedule == "" {
		schedule = appCfg.Schedule
	}

	engine, stateMgr, err := openEngine(ctx, appCfg, log)
	if err != nil {
		log.Errorf("Failed to initialize scan engine: %v", err)
		return 1
	}
	defer engine.Close()

	scheduler, err := watch.NewScheduler(engine, stateMgr, schedule, nil, log.WithField("component", "watch"))
	if err != nil {
		log.Errorf("Invalid schedule: %v", err)
		return 1
	}

	if err := scheduler.Run(ctx); err != nil {
		log.Errorf("Watch scheduler error: %v", err)
		return 1
	}

	log.Info("Watch mode stopped")
	return 0
}

// runListSources handles the list-sources subcommand
func runListSources(args []string) {
	fs := flag.NewFlagSet("list-sources", flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: jobscan list-sources [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	os.Exit(doListSources(*configFile, os.Stdout, os.Stderr))
}

// doListSources lists sources and writes output to provided writers.
// Returns exit code (0 = success, 1 = error).
func doListSources(configPath string, stdout, stderr io.Writer) int {
	appCfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if _, err := appCfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	stateMgr := watch.NewStateManager(appCfg.StateDir, nil)
	if err := stateMgr.Load(); err != nil {
		fmt.Fprintf(stderr, "Warning: %v\n", err)
	}

	fmt.Fprintf(stdout, "Sources in %s:\n\n", configPath)
	for _, srcCfg := range appCfg.Sources {
		src := config.BuildSource(srcCfg, *appCfg)
		fmt.Fprintf(stdout, "  %s\n", src.ID)
		fmt.Fprintf(stdout, "    Seed URL: %s\n", src.SeedURL)
		fmt.Fprintf(stdout, "    Strategy: %s\n", src.Strategy)
		if !src.Enabled {
			fmt.Fprintln(stdout, "    Disabled")
		}
		if last, ok := stateMgr.LastSuccess(src.ID); ok {
			fmt.Fprintf(stdout, "    Last scan: %s\n", last.Format(time.RFC3339))
		} else {
			fmt.Fprintln(stdout, "    Last scan: never")
		}
		fmt.Fprintln(stdout)
	}

	var stale []string
	for id := range stateMgr.GetAllSourceStates() {
		if _, ok := appCfg.FindSource(id); !ok {
			stale = append(stale, id)
		}
	}
	if len(stale) > 0 {
		sort.Strings(stale)
		fmt.Fprintf(stdout, "State recorded for sources no longer configured: %s\n", strings.Join(stale, ", "))
	}
	return 0
}

// runExport handles the export subcommand
func runExport(args []string) {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file")
	output := fs.String("output", "", "Output file, '-' for stdout (default: a timestamped file in state_dir)")
	logLevel := fs.String("loglevel", "info", "Log level (debug, info, warn, error, fatal)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: jobscan export [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	log := applog.NewLogger(*logLevel, os.Stderr)
	ctx, cancel := signalContext(log)
	defer cancel()

	os.Exit(doExport(ctx, *configFile, *output, os.Stdout, log))
}

// exportFilename names a default export file after the export time
func exportFilename(now time.Time) string {
	return utils.SanitizeFilename("records-"+now.UTC().Format(time.RFC3339)) + ".jsonl"
}

// doExport writes every stored record as JSON lines
func doExport(ctx context.Context, configFile, output string, stdout io.Writer, log *logrus.Logger) int {
	appCfg, err := loadAndValidateConfig(configFile, log)
	if err != nil {
		log.Errorf("Config error: %v", err)
		return 1
	}

	store, err := storage.Open(ctx, appCfg.Storage, log.WithField("component", "export"))
	if err != nil {
		log.Errorf("Failed to open store: %v", err)
		return 1
	}
	defer store.Close()

	admin, ok := store.(storage.StoreAdmin)
	if !ok {
		log.Errorf("Storage driver %q does not support export", appCfg.Storage.Driver)
		return 1
	}

	var w io.Writer = stdout
	if output != "-" {
		if output == "" {
			if err := os.MkdirAll(appCfg.StateDir, 0755); err != nil {
				log.Errorf("Failed to create state directory: %v", err)
				return 1
			}
			output = filepath.Join(appCfg.StateDir, exportFilename(time.Now()))
		}
		f, err := os.Create(output)
		if err != nil {
			log.Errorf("Failed to create export file: %v", err)
			return 1
		}
		defer f.Close()
		w = f
	}

	n, err := admin.ExportRecords(ctx, w)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			log.Warnf("Export cancelled after %d records", n)
			return 0
		}
		log.Errorf("Export failed after %d records: %v", n, err)
		return 1
	}
	if output != "-" {
		if err := w.(*os.File).Sync(); err != nil {
			log.Errorf("Failed to flush export file: %v", err)
			return 1
		}
		sum, err := utils.CalculateFileSHA256(output)
		if err != nil {
			log.Warnf("Could not checksum %s: %v", output, err)
		}
		log.WithField("sha256", sum).Infof("Exported %d records to %s", n, output)
	}
	return 0
}
