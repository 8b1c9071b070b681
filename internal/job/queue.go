package job

import (
	"fmt"
	"time"

	"github.com/sotonghd/sotonghd/internal/config"
)

// Queue holds the batch's jobs in resolver order. It is owned by the batch
// controller's single-job-in-flight loop; exclusive ownership replaces
// locking (one goroutine reads and writes it for the whole run).
type Queue struct {
	jobs []*Job
	byID map[string]*Job
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{byID: make(map[string]*Job)}
}

// EnqueueAll creates one pending job per path, preserving order.
func (q *Queue) EnqueueAll(paths []string, format config.Format) {
	for _, p := range paths {
		j := New(p, format)
		q.jobs = append(q.jobs, j)
		q.byID[j.ID] = j
	}
}

// Jobs returns the jobs in insertion order. Callers must treat the slice as
// read-only.
func (q *Queue) Jobs() []*Job {
	return q.jobs
}

// Len returns the total number of jobs.
func (q *Queue) Len() int { return len(q.jobs) }

// Get returns the job with the given ID, or nil.
func (q *Queue) Get(id string) *Job { return q.byID[id] }

// Position returns the job's 1-based place in insertion order, used for
// progress reporting. It is stable across retries. Unknown IDs return 0.
func (q *Queue) Position(id string) int {
	for i, j := range q.jobs {
		if j.ID == id {
			return i + 1
		}
	}
	return 0
}

// NextPending returns the first job still in the pending state, in original
// order, or nil when none remain.
func (q *Queue) NextPending() *Job {
	for _, j := range q.jobs {
		if j.State == StatePending {
			return j
		}
	}
	return nil
}

// Update moves a job forward through the state machine. It returns
// ErrInvalidTransition when the edge is not in the allowed table.
func (q *Queue) Update(id string, to State) error {
	j := q.byID[id]
	if j == nil {
		return fmt.Errorf("unknown job %s", id)
	}
	if !transitionAllowed(j.State, to) {
		return fmt.Errorf("%w: %s -> %s (%s)", ErrInvalidTransition, j.State, to, j.SourcePath)
	}
	j.State = to
	if to.IsTerminal() {
		j.CompletedAt = time.Now().UTC()
	}
	return nil
}

// Retry is the one backward edge: an active job returns to pending with its
// attempt count incremented, as long as budget remains. When the budget is
// exhausted the job fails with the given cause instead.
func (q *Queue) Retry(id string, cause string, maxRetries int) error {
	j := q.byID[id]
	if j == nil {
		return fmt.Errorf("unknown job %s", id)
	}
	if !j.State.IsActive() {
		return fmt.Errorf("%w: retry from %s (%s)", ErrInvalidTransition, j.State, j.SourcePath)
	}
	j.Attempts++
	if j.Attempts >= maxRetries {
		return q.Fail(id, cause)
	}
	j.State = StatePending
	j.Err = cause
	return nil
}

// Requeue returns an active job to pending without touching its attempt
// count. Used when the session died under the job: the failure was not the
// job's fault, so it keeps its retry budget.
func (q *Queue) Requeue(id string) error {
	j := q.byID[id]
	if j == nil {
		return fmt.Errorf("unknown job %s", id)
	}
	if !j.State.IsActive() {
		return fmt.Errorf("%w: requeue from %s (%s)", ErrInvalidTransition, j.State, j.SourcePath)
	}
	j.State = StatePending
	return nil
}

// Complete marks a job completed and records where the result landed.
func (q *Queue) Complete(id, resultPath string) error {
	if err := q.Update(id, StateCompleted); err != nil {
		return err
	}
	j := q.byID[id]
	j.ResultPath = resultPath
	j.Err = ""
	return nil
}

// Fail marks a job failed with its last error.
func (q *Queue) Fail(id, cause string) error {
	if err := q.Update(id, StateFailed); err != nil {
		return err
	}
	q.byID[id].Err = cause
	return nil
}

// Counts returns the number of completed, failed, and total jobs.
func (q *Queue) Counts() (completed, failed, total int) {
	for _, j := range q.jobs {
		switch j.State {
		case StateCompleted:
			completed++
		case StateFailed:
			failed++
		}
	}
	return completed, failed, len(q.jobs)
}

// Settled reports whether every job has reached a terminal state.
func (q *Queue) Settled() bool {
	for _, j := range q.jobs {
		if !j.State.IsTerminal() {
			return false
		}
	}
	return true
}
