// -----------------------------------------------------------------------
// workbot - automation for analysis of sequencing data held in an archive
// -----------------------------------------------------------------------

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/workbot/internal/app"
	"github.com/ternarybob/workbot/internal/common"
	"github.com/ternarybob/workbot/internal/models"
)

func main() {
	common.InstallCrashHandler("")
	defer common.RecoverWithCrashFile()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(2)
	}

	cmd, args := os.Args[1], os.Args[2:]

	switch cmd {
	case "init":
		os.Exit(cmdInit(args))
	case "add":
		os.Exit(cmdAdd(args))
	case "run":
		os.Exit(cmdRun(args))
	case "watch":
		os.Exit(cmdWatch(args))
	case "cancel":
		os.Exit(cmdCancel(args))
	case "status":
		os.Exit(cmdStatus(args))
	case "version", "-version", "--version":
		fmt.Printf("workbot %s\n", common.GetFullVersion())
	case "help", "-help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "workbot: unknown command %q\n\n", cmd)
		printUsage()
		os.Exit(2)
	}
}

func printUsage() {
	fmt.Fprint(os.Stderr, `workbot automates analysis pipelines for sequencing data held in a data
archive, from discovery of new runs through staging, analysis, archival
and annotation of the results.

Usage:

  workbot <command> [flags]

Commands:

  init     create the job database schema and staging root
  add      queue one job for an archive path
  run      perform one discovery and processing pass
  watch    run passes continuously on the configured schedule
  cancel   cancel a job and remove its staged data
  status   list jobs and their states
  version  print version information

Use "workbot <command> -h" for details of a command's flags.
`)
}

// startApp loads configuration, sets up logging and wires the application
// components. Long-running commands print the banner; query commands keep
// the console clear of routine logs.
func startApp(configPath string, banner, quiet bool) (*app.App, error) {
	cfg, err := common.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	if quiet {
		cfg.Logging.Level = "warn"
	}

	logger := common.InitLogger(cfg)

	if banner {
		common.PrintBanner(common.GetVersion())
		logger.Info().
			Str("version", common.GetFullVersion()).
			Str("environment", cfg.Environment).
			Msg("Starting workbot")
	}

	return app.New(cfg, logger)
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext(logger arbor.ILogger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		logger.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	return ctx, cancel
}

func cmdInit(args []string) int {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	configPath := fs.String("config", "", "path to workbot.toml")
	fs.Parse(args)

	application, err := startApp(*configPath, false, false)
	if err != nil {
		fmt.Fprintf(os.Stderr, "workbot init: %v\n", err)
		return 1
	}
	defer application.Close()

	if err := application.Init(context.Background()); err != nil {
		application.Logger.Error().Err(err).Msg("Initialization failed")
		return 1
	}
	return 0
}

func cmdAdd(args []string) int {
	fs := flag.NewFlagSet("add", flag.ExitOnError)
	configPath := fs.String("config", "", "path to workbot.toml")
	path := fs.String("path", "", "archive collection holding the input data (required)")
	kindName := fs.String("kind", "", "work kind, e.g. ONTRunData or ONTRunMetadataUpdate (required)")
	experiment := fs.String("experiment", "", "experiment name to record against the job")
	slot := fs.Int("slot", 0, "instrument slot to record against the job")
	fs.Parse(args)

	if *path == "" || *kindName == "" {
		fmt.Fprintln(os.Stderr, "workbot add: -path and -kind are required")
		return 2
	}
	kind, err := models.ParseWorkKind(*kindName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "workbot add: %v\n", err)
		return 2
	}
	if (*experiment == "") != (*slot == 0) {
		fmt.Fprintln(os.Stderr, "workbot add: -experiment and -slot must be given together")
		return 2
	}

	application, err := startApp(*configPath, false, false)
	if err != nil {
		fmt.Fprintf(os.Stderr, "workbot add: %v\n", err)
		return 1
	}
	defer application.Close()

	if _, err := application.Add(context.Background(), *path, kind, *experiment, *slot); err != nil {
		application.Logger.Error().Err(err).Str("path", *path).Msg("Failed to add job")
		return 1
	}
	return 0
}

func cmdRun(args []string) int {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "", "path to workbot.toml")
	startDate := fs.String("start-date", "", "discover runs changed at or after this time, RFC3339 or YYYY-MM-DD (default: the configured start window)")
	kindName := fs.String("kind", "", "restrict the pass to one work kind")
	fs.Parse(args)

	var kind models.WorkKind
	if *kindName != "" {
		var err error
		if kind, err = models.ParseWorkKind(*kindName); err != nil {
			fmt.Fprintf(os.Stderr, "workbot run: %v\n", err)
			return 2
		}
	}

	application, err := startApp(*configPath, true, false)
	if err != nil {
		fmt.Fprintf(os.Stderr, "workbot run: %v\n", err)
		return 1
	}
	defer application.Close()

	window := time.Duration(application.Config.Scheduler.StartWindowDays) * 24 * time.Hour
	since := time.Now().Add(-window)
	if *startDate != "" {
		if since, err = parseStartDate(*startDate); err != nil {
			fmt.Fprintf(os.Stderr, "workbot run: %v\n", err)
			return 2
		}
	}

	ctx, cancel := signalContext(application.Logger)
	defer cancel()

	if err := application.RunOnce(ctx, since, kind); err != nil {
		application.Logger.Error().Err(err).Msg("Pass finished with errors")
		return 1
	}
	return 0
}

func cmdWatch(args []string) int {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	configPath := fs.String("config", "", "path to workbot.toml")
	fs.Parse(args)

	application, err := startApp(*configPath, true, false)
	if err != nil {
		fmt.Fprintf(os.Stderr, "workbot watch: %v\n", err)
		return 1
	}
	defer application.Close()

	ctx, cancel := signalContext(application.Logger)
	defer cancel()

	if err := application.Watch(ctx); err != nil {
		application.Logger.Error().Err(err).Msg("Watch failed")
		return 1
	}
	return 0
}

func cmdCancel(args []string) int {
	fs := flag.NewFlagSet("cancel", flag.ExitOnError)
	configPath := fs.String("config", "", "path to workbot.toml")
	jobID := fs.Int64("job", 0, "identifier of the job to cancel (required)")
	fs.Parse(args)

	if *jobID <= 0 {
		fmt.Fprintln(os.Stderr, "workbot cancel: -job is required")
		return 2
	}

	application, err := startApp(*configPath, false, false)
	if err != nil {
		fmt.Fprintf(os.Stderr, "workbot cancel: %v\n", err)
		return 1
	}
	defer application.Close()

	if err := application.Cancel(context.Background(), *jobID); err != nil {
		application.Logger.Error().Err(err).Int64("job_id", *jobID).Msg("Failed to cancel job")
		return 1
	}
	return 0
}

func cmdStatus(args []string) int {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", "", "path to workbot.toml")
	path := fs.String("path", "", "show all jobs for this archive path")
	kindName := fs.String("kind", "", "restrict the listing to one work kind")
	fs.Parse(args)

	var kind models.WorkKind
	if *kindName != "" {
		var err error
		if kind, err = models.ParseWorkKind(*kindName); err != nil {
			fmt.Fprintf(os.Stderr, "workbot status: %v\n", err)
			return 2
		}
	}

	application, err := startApp(*configPath, false, true)
	if err != nil {
		fmt.Fprintf(os.Stderr, "workbot status: %v\n", err)
		return 1
	}
	defer application.Close()

	jobs, err := application.Status(context.Background(), *path, kind)
	if err != nil {
		fmt.Fprintf(os.Stderr, "workbot status: %v\n", err)
		return 1
	}

	if len(jobs) == 0 {
		fmt.Println("No jobs found")
		return 0
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tKIND\tSTATE\tUPDATED\tPATH")
	for _, job := range jobs {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n",
			job.ID,
			job.WorkKind,
			job.State,
			job.LastUpdated.Local().Format("2006-01-02 15:04:05"),
			job.InputPath)
	}
	w.Flush()
	return 0
}

// parseStartDate accepts a full RFC3339 timestamp or a bare date.
func parseStartDate(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid start date %q (want RFC3339 or YYYY-MM-DD)", s)
}
