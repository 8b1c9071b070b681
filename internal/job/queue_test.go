package job

import (
	"errors"
	"testing"

	"github.com/sotonghd/sotonghd/internal/config"
)

func newTestQueue(paths ...string) *Queue {
	q := NewQueue()
	q.EnqueueAll(paths, config.FormatPNG)
	return q
}

func TestEnqueueAll_PreservesOrder(t *testing.T) {
	q := newTestQueue("/p/c.png", "/p/a.png", "/p/b.png")
	want := []string{"/p/c.png", "/p/a.png", "/p/b.png"}
	for i, j := range q.Jobs() {
		if j.SourcePath != want[i] {
			t.Errorf("job[%d] = %s, want %s", i, j.SourcePath, want[i])
		}
	}
}

func TestNextPending_InOrder(t *testing.T) {
	q := newTestQueue("/p/a.png", "/p/b.png")

	first := q.NextPending()
	if first == nil || first.SourcePath != "/p/a.png" {
		t.Fatalf("NextPending() = %v, want a.png", first)
	}

	// Completing the first job moves the cursor to the second.
	mustUpdate(t, q, first.ID, StateUploading)
	mustUpdate(t, q, first.ID, StateProcessing)
	mustUpdate(t, q, first.ID, StateDownloading)
	if err := q.Complete(first.ID, "/p/UPSCALE/a_upscaled.png"); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	second := q.NextPending()
	if second == nil || second.SourcePath != "/p/b.png" {
		t.Fatalf("NextPending() = %v, want b.png", second)
	}
}

func TestNextPending_Exhausted(t *testing.T) {
	q := newTestQueue("/p/a.png")
	j := q.NextPending()
	if err := q.Fail(j.ID, "boom"); err != nil {
		t.Fatalf("Fail: %v", err)
	}
	if q.NextPending() != nil {
		t.Error("NextPending() should be nil once all jobs are terminal")
	}
}

func TestUpdate_InvalidTransition(t *testing.T) {
	q := newTestQueue("/p/a.png")
	j := q.Jobs()[0]

	err := q.Update(j.ID, StateDownloading)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Update(pending -> downloading) error = %v, want ErrInvalidTransition", err)
	}

	mustUpdate(t, q, j.ID, StateUploading)
	mustUpdate(t, q, j.ID, StateProcessing)
	mustUpdate(t, q, j.ID, StateDownloading)
	if err := q.Complete(j.ID, "/out/a.png"); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	err = q.Update(j.ID, StateUploading)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Update on completed job error = %v, want ErrInvalidTransition", err)
	}
}

func TestRetry_ConsumesBudgetThenFails(t *testing.T) {
	const maxRetries = 3
	q := newTestQueue("/p/bad.png")
	j := q.Jobs()[0]

	for i := 1; i < maxRetries; i++ {
		mustUpdate(t, q, j.ID, StateUploading)
		if err := q.Retry(j.ID, "upload rejected", maxRetries); err != nil {
			t.Fatalf("Retry %d: %v", i, err)
		}
		if j.State != StatePending {
			t.Fatalf("after retry %d state = %s, want pending", i, j.State)
		}
		if j.Attempts != i {
			t.Fatalf("after retry %d attempts = %d, want %d", i, j.Attempts, i)
		}
	}

	// Final attempt exhausts the budget.
	mustUpdate(t, q, j.ID, StateUploading)
	if err := q.Retry(j.ID, "upload rejected", maxRetries); err != nil {
		t.Fatalf("final Retry: %v", err)
	}
	if j.State != StateFailed {
		t.Errorf("state = %s, want failed", j.State)
	}
	if j.Attempts != maxRetries {
		t.Errorf("attempts = %d, want %d", j.Attempts, maxRetries)
	}
	if j.Err != "upload rejected" {
		t.Errorf("err = %q, want last cause", j.Err)
	}
}

func TestRetry_OnlyFromActiveState(t *testing.T) {
	q := newTestQueue("/p/a.png")
	j := q.Jobs()[0]
	err := q.Retry(j.ID, "x", 3)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Retry from pending error = %v, want ErrInvalidTransition", err)
	}
}

func TestRequeue_KeepsAttempts(t *testing.T) {
	q := NewQueue()
	q.EnqueueAll([]string{"a.png"}, config.FormatPNG)
	j := q.NextPending()
	mustUpdate(t, q, j.ID, StateUploading)

	if err := q.Requeue(j.ID); err != nil {
		t.Fatalf("Requeue: %v", err)
	}
	if j.State != StatePending {
		t.Errorf("state = %s, want %s", j.State, StatePending)
	}
	if j.Attempts != 0 {
		t.Errorf("Attempts = %d, want 0", j.Attempts)
	}

	// Requeue is only valid while the job is active.
	if err := q.Requeue(j.ID); err == nil {
		t.Error("expected error requeueing a pending job")
	}
}

func TestPosition_StableAcrossRetry(t *testing.T) {
	q := newTestQueue("/p/a.png", "/p/b.png")
	j := q.Jobs()[1]

	if got := q.Position(j.ID); got != 2 {
		t.Errorf("Position = %d, want 2", got)
	}

	// Going back to pending does not move the job.
	mustUpdate(t, q, j.ID, StateUploading)
	if err := q.Retry(j.ID, "upload rejected", 3); err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if got := q.Position(j.ID); got != 2 {
		t.Errorf("Position after retry = %d, want 2", got)
	}

	if got := q.Position("nope"); got != 0 {
		t.Errorf("Position(unknown) = %d, want 0", got)
	}
}

func TestCounts_AccountingLaw(t *testing.T) {
	q := newTestQueue("/p/a.png", "/p/b.png", "/p/c.png")
	jobs := q.Jobs()

	mustUpdate(t, q, jobs[0].ID, StateUploading)
	mustUpdate(t, q, jobs[0].ID, StateProcessing)
	mustUpdate(t, q, jobs[0].ID, StateDownloading)
	q.Complete(jobs[0].ID, "/out/a.png")

	q.Fail(jobs[1].ID, ReasonCancelled)
	q.Fail(jobs[2].ID, ReasonCancelled)

	completed, failed, total := q.Counts()
	if completed+failed != total {
		t.Errorf("accounting law violated: %d + %d != %d", completed, failed, total)
	}
	if !q.Settled() {
		t.Error("queue with all-terminal jobs should be settled")
	}
}

func mustUpdate(t *testing.T, q *Queue, id string, to State) {
	t.Helper()
	if err := q.Update(id, to); err != nil {
		t.Fatalf("Update(%s): %v", to, err)
	}
}
