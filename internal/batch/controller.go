// Package batch orchestrates a run: resolve inputs, open the browser
// session, drive each job through the upscaling service, and report a
// summary.
package batch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/sotonghd/sotonghd/internal/config"
	"github.com/sotonghd/sotonghd/internal/display"
	"github.com/sotonghd/sotonghd/internal/driver"
	"github.com/sotonghd/sotonghd/internal/history"
	"github.com/sotonghd/sotonghd/internal/job"
	"github.com/sotonghd/sotonghd/internal/logging"
	"github.com/sotonghd/sotonghd/internal/output"
	"github.com/sotonghd/sotonghd/internal/probe"
	"github.com/sotonghd/sotonghd/internal/resolver"
	"github.com/sotonghd/sotonghd/internal/session"
)

// staleAge is how old a work-directory entry must be before the pre-run
// sweep removes it.
const staleAge = 24 * time.Hour

// ErrResetLimit is returned when the session died more times than the
// configured reset budget allows.
var ErrResetLimit = errors.New("session reset limit reached")

// Session is the slice of the browser session the controller manages. It
// includes the driver's service operations so one fake can stand in for the
// whole browser in tests. *session.Manager satisfies it.
type Session interface {
	driver.Service
	Open(ctx context.Context) error
	IsHealthy(ctx context.Context) bool
	Reset(ctx context.Context) error
	ReturnToUpload() error
	Resets() int
	Close()
}

// Controller owns the run. All queue access happens on the caller's
// goroutine; only one job is in flight at a time.
type Controller struct {
	cfg   *config.Config
	log   *logging.Logger
	sess  Session
	mat   *output.Materializer
	drv   *driver.Driver
	store *history.Store // nil when history is disabled
}

func New(cfg *config.Config, log *logging.Logger, sess Session, store *history.Store) *Controller {
	mat := output.NewMaterializer(cfg, log)
	return &Controller{
		cfg:   cfg,
		log:   log,
		sess:  sess,
		mat:   mat,
		drv:   driver.New(cfg, log, sess, mat),
		store: store,
	}
}

// Run is the top-level batch entry point. It returns an error only for
// failures that prevent the batch from running at all; per-file failures are
// reported through the stats and the exit summary.
func (c *Controller) Run(ctx context.Context) (RunStats, error) {
	var stats RunStats
	start := time.Now()

	if removed, err := output.SweepStale(c.cfg.WorkDir, staleAge); err != nil {
		c.log.Warn("Work directory sweep failed: %v", err)
	} else if removed > 0 {
		c.log.Debug(c.cfg.Verbose, "Swept %d stale work files", removed)
	}
	if err := os.MkdirAll(c.cfg.WorkDir, 0o755); err != nil {
		return stats, fmt.Errorf("create work dir: %w", err)
	}

	res, err := resolver.Resolve(c.cfg.Inputs, c.cfg.Recursive, c.cfg.VideoMode)
	if err != nil {
		return stats, err
	}
	stats.Total = len(res.Images)
	stats.VideosTotal = len(res.Videos)

	q := job.NewQueue()
	q.EnqueueAll(res.Images, c.cfg.OutputFormat)

	c.logBatchHeader(&stats)

	if err := c.sess.Open(ctx); err != nil {
		return stats, err
	}
	defer c.sess.Close()

	runID := uuid.NewString()
	if c.store != nil {
		if err := c.store.BeginRun(ctx, runID, start, q.Len()); err != nil {
			c.log.Warn("History disabled for this run: %v", err)
			c.store = nil
		}
	}

	fatal := c.runQueue(ctx, q, c.drv, c.mat, &stats)
	c.collectImageStats(q, &stats)

	if fatal == nil {
		for _, v := range res.Videos {
			if ctx.Err() != nil {
				break
			}
			if err := c.processVideo(ctx, v, &stats); err != nil {
				c.log.Error("Video failed: %s: %v", filepath.Base(v), err)
				stats.VideosFailed++
				stats.Failures = append(stats.Failures, Failure{SourcePath: v, Reason: err.Error()})
				if errors.Is(err, ErrResetLimit) || errors.Is(err, session.ErrDriverUnavailable) {
					fatal = err
					break
				}
			} else {
				stats.VideosCompleted++
			}
		}
	}

	stats.Resets = c.sess.Resets()

	if c.store != nil {
		for _, j := range q.Jobs() {
			if err := c.store.RecordJob(ctx, runID, j); err != nil {
				c.log.Warn("History record failed: %v", err)
				break
			}
		}
		if err := c.store.FinishRun(ctx, runID, stats.Completed, stats.Failed, stats.Resets, time.Now()); err != nil {
			c.log.Warn("History finish failed: %v", err)
		}
	}

	if fatal != nil {
		return stats, fatal
	}
	c.logSummary(&stats, time.Since(start))
	return stats, nil
}

// runQueue drives jobs until the queue settles or the session is gone for
// good. It is shared between the image phase and the per-video frame phase.
// A non-nil return means the session could not be brought back; unattempted
// jobs are left pending and the batch must abort.
func (c *Controller) runQueue(ctx context.Context, q *job.Queue, drv *driver.Driver, mat *output.Materializer, stats *RunStats) error {
	total := q.Len()
	for {
		if ctx.Err() != nil {
			c.cancelRemaining(q)
			return nil
		}
		j := q.NextPending()
		if j == nil {
			return nil
		}
		base := filepath.Base(j.SourcePath)

		c.log.Info("[%d/%d] %s", q.Position(j.ID), total, base)

		if dest, skip := mat.ShouldSkip(j); skip {
			c.log.Warn("Skip (exists): %s", filepath.Base(dest))
			if err := q.Complete(j.ID, dest); err == nil {
				stats.Skipped++
			}
			continue
		}

		if c.cfg.ShowFileStats {
			c.logFileStats(j.SourcePath)
		}

		if !c.sess.IsHealthy(ctx) {
			if err := c.resetSession(ctx); err != nil {
				return c.abort(q, err)
			}
		}

		err := drv.ProcessJob(ctx, q, j)
		switch {
		case err == nil:
			// Job settled or went back to pending with one retry consumed.
		case ctx.Err() != nil:
			c.cancelRemaining(q)
			return nil
		case session.IsSessionScoped(err):
			if rerr := c.resetSession(ctx); rerr != nil {
				return c.abort(q, rerr)
			}
			continue
		default:
			c.log.Error("Internal error on %s: %v", base, err)
			if !j.State.IsTerminal() {
				_ = q.Fail(j.ID, err.Error())
			}
		}

		if q.NextPending() == nil {
			return nil
		}
		if err := c.sess.ReturnToUpload(); err != nil {
			if rerr := c.resetSession(ctx); rerr != nil {
				return c.abort(q, rerr)
			}
		}
	}
}

// resetSession tears the browser session down and brings it back up, within
// the configured reset budget.
func (c *Controller) resetSession(ctx context.Context) error {
	if c.sess.Resets() >= c.cfg.SessionResetLimit {
		return ErrResetLimit
	}
	c.log.Warn("Resetting browser session (%d/%d)", c.sess.Resets()+1, c.cfg.SessionResetLimit)
	if err := c.sess.Reset(ctx); err != nil {
		return err
	}
	return nil
}

// cancelRemaining fails every unsettled job with the cancellation reason.
// The in-flight job, if any, was already settled by the driver.
func (c *Controller) cancelRemaining(q *job.Queue) {
	for _, j := range q.Jobs() {
		if !j.State.IsTerminal() {
			_ = q.Fail(j.ID, job.ReasonCancelled)
		}
	}
	c.log.Warn("Interrupted")
}

// abort surfaces a dead session as a batch-fatal error. Unattempted jobs
// stay pending rather than being mass-failed, so a failed job always carries
// either an exhausted retry budget or the cancellation reason.
func (c *Controller) abort(q *job.Queue, cause error) error {
	remaining := 0
	for _, j := range q.Jobs() {
		if !j.State.IsTerminal() {
			remaining++
		}
	}
	c.log.Error("Aborting run, %d jobs not attempted: %v", remaining, cause)
	return cause
}

// collectImageStats folds the settled image queue into the run totals.
func (c *Controller) collectImageStats(q *job.Queue, stats *RunStats) {
	for _, j := range q.Jobs() {
		switch j.State {
		case job.StateCompleted:
			if j.ResultPath != "" {
				if info, err := os.Stat(j.ResultPath); err == nil {
					stats.TotalOutputBytes += info.Size()
				}
			}
			if info, err := os.Stat(j.SourcePath); err == nil {
				stats.TotalInputBytes += info.Size()
			}
		case job.StateFailed:
			stats.Failed++
			stats.Failures = append(stats.Failures, Failure{SourcePath: j.SourcePath, Reason: j.Err})
		}
	}
	completed, _, _ := q.Counts()
	stats.Completed = completed - stats.Skipped
}

// --- Logging helpers ---

func (c *Controller) logBatchHeader(stats *RunStats) {
	c.log.Info("Found %d images, %d videos", stats.Total, stats.VideosTotal)
	c.log.Info("Service: %s", c.cfg.ServiceURL)
	c.log.Info("Output: %s, on-exists: %s", c.cfg.OutputFormat, c.cfg.DestPolicy)
	if c.cfg.OutputDir != "" {
		c.log.Info("Destination: %s", c.cfg.OutputDir)
	} else {
		c.log.Info("Destination: %s folder beside each source", output.UpscaleDirName)
	}
	mode := "headless"
	if !c.cfg.Headless {
		mode = "windowed"
	}
	c.log.Info("Browser: %s, retries per file: %d", mode, c.cfg.MaxRetries)
}

func (c *Controller) logFileStats(path string) {
	pr, err := probe.Probe(path)
	if err != nil {
		c.log.Debug(c.cfg.Verbose, "  probe failed: %v", err)
		return
	}
	c.log.Info("  %s %s, %s", pr.Format, pr.Resolution(), display.FormatBytes(pr.Bytes))
}

func (c *Controller) logSummary(stats *RunStats, elapsed time.Duration) {
	c.log.Info("==============================")
	c.log.Info("Done: %d upscaled, %d skipped, %d failed in %s",
		stats.Completed, stats.Skipped, stats.Failed, display.FormatDuration(elapsed))
	if stats.VideosTotal > 0 {
		c.log.Info("Videos: %d merged, %d failed", stats.VideosCompleted, stats.VideosFailed)
	}
	if len(stats.Failures) > 0 {
		c.log.Error("Failures:")
		for _, f := range stats.Failures {
			c.log.Error("  %s: %s", filepath.Base(f.SourcePath), f.Reason)
		}
	}
	if stats.Resets > 0 {
		c.log.Warn("Session resets: %d", stats.Resets)
	}
	if stats.Completed > 0 {
		c.log.Success("  Size change: %s (input %s -> output %s)",
			display.FormatBytesWithSign(stats.SizeDelta()),
			display.FormatBytes(stats.TotalInputBytes),
			display.FormatBytes(stats.TotalOutputBytes))
	}
}
