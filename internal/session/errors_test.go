package session

import (
	"errors"
	"fmt"
	"testing"
)

func TestMatchTargetGone(t *testing.T) {
	tests := []struct {
		name string
		text string
		want bool
	}{
		{"tab crash", "chrome failed: target crashed", true},
		{"target closed", "Target closed", true},
		{"detached", "page error: target detached during navigation", true},
		{"session closed", "rpc error: session closed", true},
		{"plain timeout", "context deadline exceeded", false},
		{"upload rejected", "element not found: input[type=file]", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MatchTargetGone(tt.text); got != tt.want {
				t.Errorf("MatchTargetGone(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}

func TestMatchTransportGone(t *testing.T) {
	tests := []struct {
		name string
		text string
		want bool
	}{
		{"websocket closed", "websocket: close 1006 (abnormal closure)", true},
		{"reset by peer", "read tcp: connection reset by peer", true},
		{"broken pipe", "write: broken pipe", true},
		{"eof", "decode response: unexpected EOF", true},
		{"dial failure", "could not dial \"ws://127.0.0.1:9222\"", true},
		{"http 500", "fetch result: status 500", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MatchTransportGone(tt.text); got != tt.want {
				t.Errorf("MatchTransportGone(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}

func TestIsSessionScoped(t *testing.T) {
	if IsSessionScoped(nil) {
		t.Error("nil error is not session-scoped")
	}
	if !IsSessionScoped(&Error{Op: "reset", Err: errors.New("boom")}) {
		t.Error("*Error values are always session-scoped")
	}
	wrapped := fmt.Errorf("job a.png: %w", &Error{Op: "poll", Err: errors.New("gone")})
	if !IsSessionScoped(wrapped) {
		t.Error("wrapped *Error should be detected through the chain")
	}
	if !IsSessionScoped(errors.New("run: target crashed")) {
		t.Error("crash text should classify as session-scoped")
	}
	if IsSessionScoped(errors.New("fetch result: status 503")) {
		t.Error("remote rejection is job-scoped")
	}
}
