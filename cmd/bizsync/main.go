package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/johndauphine/bizsync/internal/config"
	"github.com/johndauphine/bizsync/internal/exitcodes"
	"github.com/johndauphine/bizsync/internal/logging"
	"github.com/johndauphine/bizsync/internal/model"
	"github.com/johndauphine/bizsync/internal/notify"
	"github.com/johndauphine/bizsync/internal/orchestrator"
	"github.com/johndauphine/bizsync/internal/progress"
	"github.com/johndauphine/bizsync/internal/provider"
	"github.com/johndauphine/bizsync/internal/store"
	"github.com/johndauphine/bizsync/internal/tui"
)

var version = "dev"

func main() {
	app := &cli.App{
		Name:    "bizsync",
		Usage:   "Sync business-profile data (reviews, posts, insights, keywords) into a local store",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   "config.yaml",
				Usage:   "Path to configuration file",
			},
			&cli.BoolFlag{
				Name:  "output-json",
				Usage: "Output JSON result to stdout on completion (logs go to stderr)",
			},
			&cli.StringFlag{
				Name:  "output-file",
				Usage: "Write JSON result to file on completion",
			},
			&cli.StringFlag{
				Name:  "log-format",
				Value: "text",
				Usage: "Log format: text or json",
			},
			&cli.StringFlag{
				Name:  "verbosity",
				Value: "info",
				Usage: "Log verbosity level (debug, info, warn, error)",
			},
		},
		Before: func(c *cli.Context) error {
			level, err := logging.ParseLevel(c.String("verbosity"))
			if err != nil {
				return err
			}
			logging.SetLevel(level)

			if c.String("log-format") == "json" {
				logging.SetFormat("json")
			}

			// Redirect logs to stderr when JSON output is enabled
			if c.Bool("output-json") || c.String("output-file") != "" {
				logging.SetOutput(os.Stderr)
			}

			return nil
		},
		Action: func(c *cli.Context) error {
			if c.NArg() == 0 {
				// No command provided, launch TUI
				return startTUI(c)
			}
			return cli.ShowAppHelp(c)
		},
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "Start a new sync run",
				Action: runSync,
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "concurrency",
						Usage: "Max in-flight remote calls per data type",
					},
					&cli.StringSliceFlag{
						Name:  "only",
						Usage: "Sync only these data types (reviews, posts, insights, searchkeywords)",
					},
					&cli.BoolFlag{
						Name:  "no-progress",
						Usage: "Disable the terminal progress bar",
					},
				},
			},
			{
				Name:   "resume",
				Usage:  "Resume an interrupted sync run",
				Action: resumeSync,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "run",
						Usage: "Run ID to resume (default: most recent resumable run)",
					},
					&cli.BoolFlag{
						Name:  "no-progress",
						Usage: "Disable the terminal progress bar",
					},
				},
			},
			{
				Name:   "status",
				Usage:  "Show status of the current or last run",
				Action: showStatus,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "run",
						Usage: "Run ID to inspect (default: most recent run)",
					},
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Output status as JSON",
					},
				},
			},
			{
				Name:   "history",
				Usage:  "List recent sync runs",
				Action: showHistory,
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "limit",
						Value: 20,
						Usage: "Number of runs to show",
					},
				},
			},
			{
				Name:   "cleanup",
				Usage:  "Delete finished runs older than a retention window",
				Action: cleanupRuns,
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "older-than-days",
						Value: 30,
						Usage: "Delete completed/failed runs started before this many days ago",
					},
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitcodes.FromError(err))
	}
}

func startTUI(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	st, err := store.Open(context.Background(), cfg.Store)
	if err != nil {
		return err
	}
	defer st.Close()
	return tui.Run(st)
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	configPath := c.String("config")
	if _, err := os.Stat(configPath); os.IsNotExist(err) && !c.IsSet("config") {
		return nil, fmt.Errorf("configuration file not found: %s", configPath)
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// buildOrchestrator wires the provider client, store, notifier, and progress
// rendering.
func buildOrchestrator(c *cli.Context, cfg *config.Config, notifier notify.Provider) (*orchestrator.Orchestrator, store.Store, func(), error) {
	creds, err := provider.CredentialsFromConfig(&cfg.Provider)
	if err != nil {
		return nil, nil, nil, err
	}
	token, err := creds.Token(context.Background())
	if err != nil {
		return nil, nil, nil, err
	}
	client := provider.NewHTTPClient(&cfg.Provider, token)

	st, err := store.Open(context.Background(), cfg.Store)
	if err != nil {
		return nil, nil, nil, err
	}

	var tracker *progress.Tracker
	var reporter progress.Reporter = &progress.NullReporter{}
	if !c.Bool("no-progress") && !c.Bool("output-json") {
		tracker = progress.New()
	}
	if c.Bool("output-json") || c.String("output-file") != "" {
		reporter = progress.NewJSONReporter(os.Stderr, 2*time.Second)
	}

	onProgress := func(ev orchestrator.ProgressEvent) {
		if tracker != nil {
			switch ev.Step {
			case model.StepDiscovery:
				// Total is known after discovery; the first location event
				// sizes the bar.
			case model.StepLocation:
				if tracker.Current() == 0 && ev.Total > 0 {
					tracker.SetTotal(int64(ev.Total))
					tracker.SetCurrent(int64(ev.Completed - 1))
				}
				tracker.Add(1)
			case model.StepFinalize:
				tracker.Finish()
			}
		}
		pct := 0.0
		if ev.Total > 0 {
			pct = float64(ev.Completed) / float64(ev.Total) * 100
		}
		reporter.Report(progress.SyncUpdate{
			Step:              ev.Step,
			LocationsComplete: ev.Completed,
			LocationsTotal:    ev.Total,
			ProgressPct:       pct,
			CurrentLocation:   ev.LocationID,
			CurrentDataType:   string(ev.DataType),
		})
	}

	orch := orchestrator.New(cfg, client, st,
		orchestrator.WithNotifier(notifier),
		orchestrator.WithProgress(onProgress))

	cleanup := func() {
		reporter.Close()
		st.Close()
	}
	return orch, st, cleanup, nil
}

// withSignalHandling pauses the run on the first SIGINT/SIGTERM and cancels
// hard on the second.
func withSignalHandling(orch *orchestrator.Orchestrator) (context.Context, func()) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nInterrupted. Pausing at the next checkpoint (interrupt again to abort)...")
		orch.Pause()
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nAborting.")
		cancel()
	}()

	return ctx, func() {
		signal.Stop(sigCh)
		cancel()
	}
}

func runSync(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if c.IsSet("concurrency") {
		cfg.Sync.MaxConcurrent = c.Int("concurrency")
	}
	if only := c.StringSlice("only"); len(only) > 0 {
		cfg.Sync.IncludeTypes = only
	}

	notifier := notify.New(&cfg.Slack)
	orch, _, cleanup, err := buildOrchestrator(c, cfg, notifier)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, stop := withSignalHandling(orch)
	defer stop()

	started := time.Now()

	result, runErr := orch.StartSync(ctx)
	finishRun(c, notifier, result, runErr, started)
	return runErr
}

func resumeSync(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	notifier := notify.New(&cfg.Slack)
	orch, _, cleanup, err := buildOrchestrator(c, cfg, notifier)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, stop := withSignalHandling(orch)
	defer stop()

	started := time.Now()

	result, runErr := orch.ResumeSync(ctx, c.String("run"))
	finishRun(c, notifier, result, runErr, started)
	return runErr
}

// finishRun emits notifications and the optional JSON result.
func finishRun(c *cli.Context, notifier *notify.Notifier, result *orchestrator.SyncResult, runErr error, started time.Time) {
	duration := time.Since(started)

	if result != nil {
		switch {
		case runErr != nil:
			notifier.SyncFailed(result.State.ID, runErr, duration)
		case len(result.Errors) > 0:
			failed := result.Stats.TotalLocations - result.Stats.ProcessedLocations
			notifier.SyncCompletedWithErrors(result.State.ID, result.State.StartedAt, duration,
				result.Stats.ProcessedLocations, failed, totalRecords(result.Stats), result.Errors)
		default:
			notifier.SyncCompleted(result.State.ID, result.State.StartedAt, duration,
				result.Stats.ProcessedLocations, totalRecords(result.Stats))
		}
	}

	if result != nil && (c.Bool("output-json") || c.String("output-file") != "") {
		if err := outputJSON(c, result); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to output JSON: %v\n", err)
		}
	}
}

func totalRecords(s orchestrator.Stats) int {
	return s.TotalReviews + s.TotalPosts + s.TotalInsights + s.TotalSearchKeywords
}

func showStatus(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	st, err := store.Open(context.Background(), cfg.Store)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := context.Background()
	var state *model.SyncState
	if runID := c.String("run"); runID != "" {
		state, err = st.GetSyncState(ctx, runID)
	} else {
		var states []*model.SyncState
		states, err = st.ListSyncStates(ctx, 1)
		if len(states) > 0 {
			state = states[0]
		}
	}
	if err != nil {
		return err
	}
	if state == nil {
		if c.Bool("json") {
			fmt.Println(`{"status": "no_runs"}`)
			return nil
		}
		fmt.Println("No sync runs found")
		return nil
	}

	if c.Bool("json") {
		data, err := json.MarshalIndent(state, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	fmt.Printf("Run:       %s\n", state.ID)
	fmt.Printf("Status:    %s\n", state.Status)
	fmt.Printf("Step:      %s\n", state.CurrentStep)
	fmt.Printf("Progress:  %d/%d locations (%.0f%%)\n",
		state.Progress.Completed, state.Progress.Total, state.Progress.Percent)
	fmt.Printf("Started:   %s\n", state.StartedAt.Local().Format(time.RFC1123))
	if state.CompletedAt != nil {
		fmt.Printf("Finished:  %s\n", state.CompletedAt.Local().Format(time.RFC1123))
	}
	if len(state.Errors) > 0 {
		fmt.Printf("Errors:    %d\n", len(state.Errors))
		for _, e := range tail(state.Errors, 5) {
			fmt.Printf("  - %s", e.Message)
			if e.LocationID != "" {
				fmt.Printf(" (%s)", e.LocationID)
			}
			fmt.Println()
		}
	}
	return nil
}

func showHistory(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	st, err := store.Open(context.Background(), cfg.Store)
	if err != nil {
		return err
	}
	defer st.Close()

	states, err := st.ListSyncStates(context.Background(), c.Int("limit"))
	if err != nil {
		return err
	}
	if len(states) == 0 {
		fmt.Println("No sync runs found")
		return nil
	}

	fmt.Printf("%-38s %-12s %-10s %-10s %s\n", "Run ID", "Status", "Progress", "Errors", "Started")
	for _, s := range states {
		fmt.Printf("%-38s %-12s %3d/%-6d %-10d %s\n",
			s.ID, s.Status, s.Progress.Completed, s.Progress.Total,
			len(s.Errors), s.StartedAt.Local().Format("2006-01-02 15:04:05"))
	}
	return nil
}

func cleanupRuns(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	st, err := store.Open(context.Background(), cfg.Store)
	if err != nil {
		return err
	}
	defer st.Close()

	cutoff := time.Now().AddDate(0, 0, -c.Int("older-than-days"))
	deleted, err := st.DeleteSyncStatesBefore(context.Background(), cutoff)
	if err != nil {
		return err
	}
	fmt.Printf("Deleted %d finished runs older than %s\n", deleted, cutoff.Format("2006-01-02"))
	return nil
}

// tail returns the last n elements.
func tail(errs []model.SyncError, n int) []model.SyncError {
	if len(errs) <= n {
		return errs
	}
	return errs[len(errs)-n:]
}

// outputJSON writes the sync result as JSON to stdout and/or a file
func outputJSON(c *cli.Context, result *orchestrator.SyncResult) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	if c.Bool("output-json") {
		fmt.Println(string(data))
	}

	if outputFile := c.String("output-file"); outputFile != "" {
		if err := os.WriteFile(outputFile, data, 0600); err != nil {
			return fmt.Errorf("failed to write output file: %w", err)
		}
	}

	return nil
}
