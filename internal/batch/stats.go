package batch

// Failure records one input that ended in the failed state and why.
type Failure struct {
	SourcePath string
	Reason     string
}

// RunStats tracks aggregate counters and byte totals across a batch run.
type RunStats struct {
	Total     int
	Completed int
	Skipped   int
	Failed    int

	VideosTotal     int
	VideosCompleted int
	VideosFailed    int

	Resets int

	TotalInputBytes  int64
	TotalOutputBytes int64

	Failures []Failure
}

// SizeDelta returns the aggregate byte difference between outputs and
// inputs. Upscaled images are normally larger, so this is usually positive.
func (s *RunStats) SizeDelta() int64 {
	return s.TotalOutputBytes - s.TotalInputBytes
}
