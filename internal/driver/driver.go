// Package driver runs a single job through the upscaling service: upload the
// source image, wait for the enhanced result to appear, download the
// artifact, and hand it to the materializer.
package driver

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/sotonghd/sotonghd/internal/config"
	"github.com/sotonghd/sotonghd/internal/job"
	"github.com/sotonghd/sotonghd/internal/logging"
	"github.com/sotonghd/sotonghd/internal/session"
)

// Service is the slice of the browser session the driver depends on.
// *session.Manager satisfies it.
type Service interface {
	SubmitUpload(ctx context.Context, path string) error
	PollStatus(ctx context.Context) (string, error)
	FetchResult(ctx context.Context, url, dest string) error
}

// Materializer places a downloaded artifact at its final destination and
// returns the path it landed at.
type Materializer interface {
	Materialize(j *job.Job, artifact string) (string, error)
}

// Driver advances one job at a time through its state machine.
type Driver struct {
	cfg *config.Config
	log *logging.Logger
	svc Service
	mat Materializer
}

func New(cfg *config.Config, log *logging.Logger, svc Service, mat Materializer) *Driver {
	return &Driver{cfg: cfg, log: log, svc: svc, mat: mat}
}

// ProcessJob takes a pending job through upload, processing, download, and
// materialization. Job-scoped failures are consumed into the queue (retry or
// fail) and return nil; a non-nil return means either the session died and
// must be reset before the next job, or the run was cancelled.
func (d *Driver) ProcessJob(ctx context.Context, q *job.Queue, j *job.Job) error {
	base := filepath.Base(j.SourcePath)

	if err := q.Update(j.ID, job.StateUploading); err != nil {
		return err
	}
	if err := d.svc.SubmitUpload(ctx, j.SourcePath); err != nil {
		return d.dispatch(ctx, q, j, fmt.Errorf("upload: %w", err))
	}
	d.log.Debug(d.cfg.Verbose, "uploaded %s", base)

	if err := q.Update(j.ID, job.StateProcessing); err != nil {
		return err
	}
	url, err := d.awaitResult(ctx)
	if err != nil {
		return d.dispatch(ctx, q, j, err)
	}
	d.log.Debug(d.cfg.Verbose, "result ready for %s", base)

	if err := q.Update(j.ID, job.StateDownloading); err != nil {
		return err
	}
	artifact := filepath.Join(d.cfg.WorkDir, j.ID+".png")
	if err := d.svc.FetchResult(ctx, url, artifact); err != nil {
		return d.dispatch(ctx, q, j, fmt.Errorf("download: %w", err))
	}

	dest, err := d.mat.Materialize(j, artifact)
	if err != nil {
		return d.dispatch(ctx, q, j, err)
	}
	return q.Complete(j.ID, dest)
}

// awaitResult polls the service until the enhanced image URL appears or the
// processing budget runs out.
func (d *Driver) awaitResult(ctx context.Context) (string, error) {
	deadline := time.Now().Add(d.cfg.ProcessingTimeout)
	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()
	for {
		url, err := d.svc.PollStatus(ctx)
		if err != nil {
			return "", fmt.Errorf("poll: %w", err)
		}
		if url != "" {
			return url, nil
		}
		if time.Now().After(deadline) {
			return "", fmt.Errorf("processing timed out after %s", d.cfg.ProcessingTimeout)
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}
	}
}

// dispatch routes a mid-job error. Cancellation fails the job outright.
// Session-scoped errors requeue it with its budget intact and bubble up so
// the caller can reset the session. Everything else consumes one retry.
func (d *Driver) dispatch(ctx context.Context, q *job.Queue, j *job.Job, err error) error {
	switch {
	case ctx.Err() != nil:
		if ferr := q.Fail(j.ID, job.ReasonCancelled); ferr != nil {
			return ferr
		}
		return ctx.Err()
	case session.IsSessionScoped(err):
		d.log.Warn("session lost during %s of %s: %v", j.State, filepath.Base(j.SourcePath), err)
		if rerr := q.Requeue(j.ID); rerr != nil {
			return rerr
		}
		return err
	default:
		d.log.Warn("%s attempt %d failed: %v", filepath.Base(j.SourcePath), j.Attempts+1, err)
		return q.Retry(j.ID, err.Error(), d.cfg.MaxRetries)
	}
}
