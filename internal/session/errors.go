package session

import (
	"errors"
	"fmt"
	"regexp"
)

// ErrDriverUnavailable is returned when the browser session cannot be opened
// at all (missing binary, allocator failure, upload surface never appears).
// It is fatal to the whole batch.
var ErrDriverUnavailable = errors.New("browser session unavailable")

// Error marks a failure of the session itself (tab crash, devtools transport
// gone) as opposed to a failure of one job. The batch controller responds
// with a session reset that does not consume the job's retry budget.
type Error struct {
	Op  string // The session operation that failed.
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("session %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Pre-compiled regexes for classifying chromedp/devtools errors into
// session-scoped categories. A match means the browser tab or its transport
// is gone and the session must be reset; anything else is treated as a
// failure of the current job only.
var (
	reTargetGone = regexp.MustCompile(
		`(?i)target crashed|target closed|target detached|` +
			`session closed|context canceled by crash|inspected target navigated or closed`)

	reTransportGone = regexp.MustCompile(
		`(?i)websocket.*(closed|broken|failure)|` +
			`connection reset by peer|broken pipe|unexpected EOF|` +
			`could not dial|devtools.*unreachable`)
)

// MatchTargetGone reports whether err text indicates the tab/page is gone.
func MatchTargetGone(text string) bool {
	return reTargetGone.MatchString(text)
}

// MatchTransportGone reports whether err text indicates the devtools
// connection to the browser process is gone.
func MatchTransportGone(text string) bool {
	return reTransportGone.MatchString(text)
}

// IsSessionScoped reports whether err should trigger a session reset rather
// than consume the in-flight job's retry budget.
func IsSessionScoped(err error) bool {
	if err == nil {
		return false
	}
	var se *Error
	if errors.As(err, &se) {
		return true
	}
	text := err.Error()
	return MatchTargetGone(text) || MatchTransportGone(text)
}
