package batch

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sotonghd/sotonghd/internal/config"
	"github.com/sotonghd/sotonghd/internal/history"
	"github.com/sotonghd/sotonghd/internal/job"
	"github.com/sotonghd/sotonghd/internal/logging"
	"github.com/sotonghd/sotonghd/internal/output"
)

// fakeSession scripts the browser's behavior. Upload outcomes are keyed by
// call number so individual attempts can fail.
type fakeSession struct {
	openErr    error
	uploadErrs map[int]error
	pollErr    error
	noResult   bool

	uploads int
	resets  int
	closed  bool
}

func (f *fakeSession) Open(ctx context.Context) error { return f.openErr }
func (f *fakeSession) IsHealthy(ctx context.Context) bool {
	return true
}
func (f *fakeSession) Reset(ctx context.Context) error {
	f.resets++
	return nil
}
func (f *fakeSession) ReturnToUpload() error { return nil }
func (f *fakeSession) Resets() int           { return f.resets }
func (f *fakeSession) Close()                { f.closed = true }

func (f *fakeSession) SubmitUpload(ctx context.Context, path string) error {
	f.uploads++
	return f.uploadErrs[f.uploads]
}

func (f *fakeSession) PollStatus(ctx context.Context) (string, error) {
	if f.pollErr != nil {
		return "", f.pollErr
	}
	if f.noResult {
		return "", nil
	}
	return "https://cdn.example/enhanced.png", nil
}

// enhancedPNG is the deterministic artifact every fake fetch returns.
var enhancedPNG = func() []byte {
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		panic(err)
	}
	return buf.Bytes()
}()

func (f *fakeSession) FetchResult(ctx context.Context, url, dest string) error {
	return os.WriteFile(dest, enhancedPNG, 0o644)
}

func testConfig(t *testing.T, inputs ...string) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Inputs = inputs
	cfg.WorkDir = t.TempDir()
	cfg.PollInterval = time.Millisecond
	cfg.ProcessingTimeout = 50 * time.Millisecond
	cfg.KeepHistory = false
	return &cfg
}

func newTestController(t *testing.T, cfg *config.Config, sess Session, store *history.Store) *Controller {
	t.Helper()
	log, err := logging.NewLogger(cfg)
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	t.Cleanup(func() { log.Close() })
	return New(cfg, log, sess, store)
}

func writeSources(t *testing.T, dir string, names ...string) []string {
	t.Helper()
	paths := make([]string, 0, len(names))
	for _, n := range names {
		p := filepath.Join(dir, n)
		if err := os.WriteFile(p, []byte("source"), 0o644); err != nil {
			t.Fatal(err)
		}
		paths = append(paths, p)
	}
	return paths
}

func TestRun_AllCompleted(t *testing.T) {
	dir := t.TempDir()
	srcs := writeSources(t, dir, "a.png", "b.jpg")
	cfg := testConfig(t, srcs...)
	sess := &fakeSession{}
	c := newTestController(t, cfg, sess, nil)

	stats, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.Completed != 2 || stats.Failed != 0 {
		t.Errorf("stats = %+v", stats)
	}
	for _, name := range []string{"a_upscaled.png", "b_upscaled.png"} {
		p := filepath.Join(dir, output.UpscaleDirName, name)
		if _, err := os.Stat(p); err != nil {
			t.Errorf("missing output %s: %v", name, err)
		}
	}
	if !sess.closed {
		t.Error("session not closed")
	}
}

func TestRun_OpenFailureIsFatal(t *testing.T) {
	dir := t.TempDir()
	srcs := writeSources(t, dir, "a.png")
	cfg := testConfig(t, srcs...)
	sess := &fakeSession{openErr: errors.New("could not start browser")}
	c := newTestController(t, cfg, sess, nil)

	if _, err := c.Run(context.Background()); err == nil {
		t.Fatal("expected open failure to be fatal")
	}
}

func TestRun_SessionLossResetsWithoutConsumingBudget(t *testing.T) {
	dir := t.TempDir()
	srcs := writeSources(t, dir, "a.png")
	cfg := testConfig(t, srcs...)
	// First upload dies with the session; the job retries after a reset.
	sess := &fakeSession{uploadErrs: map[int]error{
		1: errors.New("target crashed"),
	}}
	c := newTestController(t, cfg, sess, nil)

	stats, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.Completed != 1 {
		t.Errorf("Completed = %d, want 1", stats.Completed)
	}
	if stats.Resets != 1 {
		t.Errorf("Resets = %d, want 1", stats.Resets)
	}
	if sess.uploads != 2 {
		t.Errorf("uploads = %d, want 2", sess.uploads)
	}
}

func TestRun_ResetLimitAbortsRun(t *testing.T) {
	dir := t.TempDir()
	srcs := writeSources(t, dir, "a.png", "b.png")
	cfg := testConfig(t, srcs...)
	cfg.SessionResetLimit = 1
	// Every upload kills the session.
	sess := &fakeSession{uploadErrs: map[int]error{
		1: errors.New("target crashed"),
		2: errors.New("target crashed"),
		3: errors.New("target crashed"),
	}}
	c := newTestController(t, cfg, sess, nil)

	stats, err := c.Run(context.Background())
	if !errors.Is(err, ErrResetLimit) {
		t.Fatalf("Run error = %v, want ErrResetLimit", err)
	}
	// Unattempted jobs are abandoned, not failed: a failed job must carry an
	// exhausted retry budget or the cancellation reason.
	if stats.Failed != 0 || stats.Completed != 0 {
		t.Errorf("stats = %+v, want nothing settled", stats)
	}
	if stats.Resets != 1 {
		t.Errorf("Resets = %d, want 1 (limit)", stats.Resets)
	}
	if sess.uploads != 2 {
		t.Errorf("uploads = %d, want 2 (one before and one after the reset)", sess.uploads)
	}
	if !sess.closed {
		t.Error("session not closed on abort")
	}
}

func TestRun_JobRetriesExhaustBudget(t *testing.T) {
	dir := t.TempDir()
	srcs := writeSources(t, dir, "a.png")
	cfg := testConfig(t, srcs...)
	cfg.MaxRetries = 2
	sess := &fakeSession{uploadErrs: map[int]error{
		1: errors.New("server returned 503"),
		2: errors.New("server returned 503"),
	}}
	c := newTestController(t, cfg, sess, nil)

	stats, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.Failed != 1 || stats.Completed != 0 {
		t.Errorf("stats = %+v", stats)
	}
	if stats.Resets != 0 {
		t.Errorf("Resets = %d, want 0", stats.Resets)
	}
	if sess.uploads != 2 {
		t.Errorf("uploads = %d, want 2", sess.uploads)
	}
}

func TestRun_SummaryListsFailures(t *testing.T) {
	dir := t.TempDir()
	srcs := writeSources(t, dir, "a.png", "b.png")
	cfg := testConfig(t, srcs...)
	cfg.MaxRetries = 1
	sess := &fakeSession{uploadErrs: map[int]error{
		1: errors.New("server returned 503"),
	}}
	c := newTestController(t, cfg, sess, nil)

	stats, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.Failed != 1 || stats.Completed != 1 {
		t.Fatalf("stats = %+v", stats)
	}
	if len(stats.Failures) != 1 {
		t.Fatalf("Failures = %+v, want one entry", stats.Failures)
	}
	f := stats.Failures[0]
	if f.SourcePath != srcs[0] {
		t.Errorf("failure path = %q, want %q", f.SourcePath, srcs[0])
	}
	if !strings.Contains(f.Reason, "server returned 503") {
		t.Errorf("failure reason = %q, want the upload error", f.Reason)
	}
}

func TestRun_OverwriteRerunIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	srcs := writeSources(t, dir, "a.png")
	cfg := testConfig(t, srcs...)
	cfg.DestPolicy = config.PolicyOverwrite

	out := filepath.Join(dir, output.UpscaleDirName, "a_upscaled.png")
	runOnce := func() []byte {
		c := newTestController(t, cfg, &fakeSession{}, nil)
		stats, err := c.Run(context.Background())
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		if stats.Completed != 1 {
			t.Fatalf("stats = %+v", stats)
		}
		data, err := os.ReadFile(out)
		if err != nil {
			t.Fatalf("read output: %v", err)
		}
		return data
	}

	first := runOnce()
	second := runOnce()
	if !bytes.Equal(first, second) {
		t.Error("re-run under overwrite produced different output bytes")
	}
}

func TestRun_CancellationFailsRemaining(t *testing.T) {
	dir := t.TempDir()
	srcs := writeSources(t, dir, "a.png", "b.png", "c.png")
	cfg := testConfig(t, srcs...)
	sess := &fakeSession{noResult: true} // first job hangs in processing
	c := newTestController(t, cfg, sess, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()
	stats, err := c.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.Failed != 3 || stats.Completed != 0 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestRun_SkipExisting(t *testing.T) {
	dir := t.TempDir()
	srcs := writeSources(t, dir, "a.png")
	cfg := testConfig(t, srcs...)
	cfg.DestPolicy = config.PolicySkip

	existing := filepath.Join(dir, output.UpscaleDirName, "a_upscaled.png")
	if err := os.MkdirAll(filepath.Dir(existing), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(existing, []byte("old"), 0o644); err != nil {
		t.Fatal(err)
	}

	sess := &fakeSession{}
	c := newTestController(t, cfg, sess, nil)

	stats, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.Skipped != 1 || stats.Completed != 0 {
		t.Errorf("stats = %+v", stats)
	}
	if sess.uploads != 0 {
		t.Errorf("uploads = %d, want 0", sess.uploads)
	}
}

func TestRun_RecordsHistory(t *testing.T) {
	dir := t.TempDir()
	srcs := writeSources(t, dir, "a.png")
	cfg := testConfig(t, srcs...)
	store, err := history.NewStore(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	defer store.Close()

	c := newTestController(t, cfg, &fakeSession{}, store)
	if _, err := c.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	runs, err := store.ListRuns(context.Background(), 5)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("len(runs) = %d, want 1", len(runs))
	}
	if runs[0].Total != 1 || runs[0].Completed != 1 {
		t.Errorf("run = %+v", runs[0])
	}
	jobs, err := store.RunJobs(context.Background(), runs[0].ID)
	if err != nil {
		t.Fatalf("RunJobs: %v", err)
	}
	if len(jobs) != 1 || jobs[0].State != job.StateCompleted {
		t.Errorf("jobs = %+v", jobs)
	}
}
