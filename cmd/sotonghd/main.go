// Command sotonghd is the CLI entrypoint for the SotongHD batch upscaler.
//
// It parses flags, validates configuration and paths, and either runs
// system diagnostics (--check), lists run history (--history), or drives
// the upscale batch.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/sotonghd/sotonghd/internal/batch"
	"github.com/sotonghd/sotonghd/internal/check"
	"github.com/sotonghd/sotonghd/internal/config"
	"github.com/sotonghd/sotonghd/internal/display"
	"github.com/sotonghd/sotonghd/internal/history"
	"github.com/sotonghd/sotonghd/internal/logging"
	"github.com/sotonghd/sotonghd/internal/session"
)

// version and commit are injected at build time via -ldflags.
// When built with plain "go build" (no make), these retain their defaults.
var (
	version = "1.0.0"
	commit  = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	// Phase 1: Bootstrap — the logger doesn't exist yet, so errors go
	// directly to stderr via fmt. Once NewLogger succeeds, all output
	// goes through the logger for consistent formatting and log-file capture.
	cfg := config.DefaultConfig()
	if err := config.ParseFlags(&cfg, version); err != nil {
		fmt.Fprintf(os.Stderr, "sotonghd: %v\n", err)
		return 1
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "sotonghd: %v\n", err)
		return 1
	}

	log, err := logging.NewLogger(&cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sotonghd: %v\n", err)
		return 1
	}
	defer log.Close()

	// Phase 2: Logger available — all output goes through log from here on.
	display.PrintBanner()

	if cfg.CheckOnly {
		check.RunCheck(&cfg, log)
		return 0
	}
	if cfg.HistoryLimit > 0 {
		return listHistory(&cfg, log)
	}

	// Resolve and validate paths: inputs must exist, the output directory
	// is created if needed and must not sit inside an input directory
	// (prevents the batch from re-discovering its own results).
	inputAbs := make([]string, 0, len(cfg.Inputs))
	for _, in := range cfg.Inputs {
		abs, err := absPath(in)
		if err != nil {
			log.Error("Input not found: %s", in)
			return 1
		}
		inputAbs = append(inputAbs, abs)
	}
	if cfg.OutputDir != "" {
		if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
			log.Error("Cannot create output directory: %s", cfg.OutputDir)
			return 1
		}
		outputAbs, err := absPath(cfg.OutputDir)
		if err != nil {
			log.Error("Cannot resolve output path: %s", cfg.OutputDir)
			return 1
		}
		if err := config.ValidateOutputDir(outputAbs, inputAbs); err != nil {
			log.Error("%v", err)
			return 1
		}
	}

	log.Info("=== SotongHD v%s (%s) ===", version, commit)
	log.Info("")

	// Fail fast if the browser (and, in video mode, ffmpeg) is unavailable.
	if err := check.CheckDeps(&cfg); err != nil {
		log.Error("%v", err)
		return 1
	}

	// Phase 3: Signal handling — cancel context on SIGINT/SIGTERM so the
	// batch can settle the in-flight job and report a summary.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Warn("Received interrupt, stopping…")
		cancel()
	}()

	var store *history.Store
	if cfg.KeepHistory {
		store, err = history.NewStore(cfg.HistoryDB)
		if err != nil {
			log.Warn("History disabled: %v", err)
		} else {
			defer store.Close()
		}
	}

	// Phase 4: Run the batch (resolve → session → per-file jobs → summary).
	sess := session.NewManager(&cfg, log)
	stats, err := batch.New(&cfg, log, sess, store).Run(ctx)
	if err != nil {
		log.Error("%v", err)
		return 1
	}

	if stats.Failed > 0 || stats.VideosFailed > 0 {
		return 1
	}
	return 0
}

// listHistory prints the most recent runs from the history database.
func listHistory(cfg *config.Config, log *logging.Logger) int {
	store, err := history.NewStore(cfg.HistoryDB)
	if err != nil {
		log.Error("Cannot open history: %v", err)
		return 1
	}
	defer store.Close()

	runs, err := store.ListRuns(context.Background(), cfg.HistoryLimit)
	if err != nil {
		log.Error("%v", err)
		return 1
	}
	if len(runs) == 0 {
		log.Info("No recorded runs")
		return 0
	}
	for _, r := range runs {
		elapsed := "running"
		if r.FinishedAt != nil {
			elapsed = display.FormatDuration(r.FinishedAt.Sub(r.StartedAt))
		}
		log.Info("%s  %s  total %d, done %d, failed %d, resets %d (%s)",
			r.StartedAt.Local().Format("2006-01-02 15:04"),
			r.ID[:8], r.Total, r.Completed, r.Failed, r.Resets, elapsed)
	}
	return 0
}

// absPath returns the absolute, symlink-resolved path for safe comparison
// of input vs output directory hierarchies.
func absPath(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	return filepath.EvalSymlinks(abs)
}
