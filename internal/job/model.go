// Package job defines the per-image work unit, its state machine, and the
// insertion-ordered queue the batch controller drains.
package job

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sotonghd/sotonghd/internal/config"
)

// State is the lifecycle state of a single upscale job.
type State string

const (
	StatePending     State = "pending"
	StateUploading   State = "uploading"
	StateProcessing  State = "processing"
	StateDownloading State = "downloading"
	StateCompleted   State = "completed"
	StateFailed      State = "failed"
)

// IsTerminal returns true for states that represent a final outcome.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed
}

// IsActive returns true while a job holds the browser session.
func (s State) IsActive() bool {
	return s == StateUploading || s == StateProcessing || s == StateDownloading
}

// ReasonCancelled is the failure reason recorded when the user stops the run.
const ReasonCancelled = "cancelled by user"

// ErrInvalidTransition is returned by Queue.Update for a state change not in
// the allowed-transition table.
var ErrInvalidTransition = errors.New("invalid job state transition")

// allowedTransitions is the forward edge table. The one backward edge
// (active state -> pending) is the retry path and is handled by
// [Queue.Retry], which also enforces the attempt budget.
//
// pending -> completed covers the skip-existing destination policy;
// pending -> failed covers an unreadable source and cancellation.
var allowedTransitions = map[State][]State{
	StatePending:     {StateUploading, StateCompleted, StateFailed},
	StateUploading:   {StateProcessing, StateFailed},
	StateProcessing:  {StateDownloading, StateFailed},
	StateDownloading: {StateCompleted, StateFailed},
	StateCompleted:   {},
	StateFailed:      {},
}

func transitionAllowed(from, to State) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Job is one image's end-to-end upscale task.
type Job struct {
	ID           string
	SourcePath   string // Absolute path to the original file; immutable.
	State        State
	Attempts     int // Retry cycles consumed so far.
	OutputFormat config.Format
	ResultPath   string // Set only on completion.
	Err          string // Last failure reason; set only on failure.
	CreatedAt    time.Time
	CompletedAt  time.Time
}

// New creates a pending job for one source image.
func New(sourcePath string, format config.Format) *Job {
	return &Job{
		ID:           uuid.NewString(),
		SourcePath:   sourcePath,
		State:        StatePending,
		OutputFormat: format,
		CreatedAt:    time.Now().UTC(),
	}
}

// Cancelled reports whether the job failed because the user stopped the run.
func (j *Job) Cancelled() bool {
	return j.State == StateFailed && j.Err == ReasonCancelled
}

func (j *Job) String() string {
	return fmt.Sprintf("%s [%s]", j.SourcePath, j.State)
}
