// Package session owns the single automation-driven browser instance and the
// capability operations (upload, status poll, result fetch) the driver issues
// against the remote upscaling page. There is never more than one live
// session; access is serialized by the batch controller's one-job-in-flight
// loop.
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/chromedp"

	"github.com/sotonghd/sotonghd/internal/config"
	"github.com/sotonghd/sotonghd/internal/logging"
)

// uploadInputSelector finds the page's file input. The control is usually
// hidden by CSS, so waits use node readiness, not visibility.
const uploadInputSelector = `input[type="file"]`

// openWait bounds how long Open waits for the upload surface after navigation.
const openWait = 45 * time.Second

// healthWait bounds the per-job liveness probe.
const healthWait = 5 * time.Second

// Manager owns at most one live browser session at a time.
type Manager struct {
	cfg *config.Config
	log *logging.Logger

	allocCtx    context.Context
	allocCancel context.CancelFunc
	tabCtx      context.Context
	tabCancel   context.CancelFunc

	resets int
}

// NewManager creates a manager; no browser is launched until Open.
func NewManager(cfg *config.Config, log *logging.Logger) *Manager {
	return &Manager{cfg: cfg, log: log}
}

// Open launches the browser and navigates to the service's upload surface,
// waiting (bounded) until the page is interaction-ready. Open failures are
// retried cfg.SessionOpenRetries times; after that the error wraps
// ErrDriverUnavailable and the batch must abort.
func (m *Manager) Open(ctx context.Context) error {
	var lastErr error
	for attempt := 1; attempt <= m.cfg.SessionOpenRetries; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := m.openOnce(ctx); err != nil {
			lastErr = err
			m.log.Warn("Session open attempt %d/%d failed: %v", attempt, m.cfg.SessionOpenRetries, err)
			m.teardown()
			continue
		}
		return nil
	}
	return fmt.Errorf("%w: %v", ErrDriverUnavailable, lastErr)
}

func (m *Manager) openOnce(ctx context.Context) error {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.WindowSize(1920, 1080),
		chromedp.Flag("disable-gpu", true),
	)
	if !m.cfg.Headless {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	if m.cfg.Incognito {
		opts = append(opts, chromedp.Flag("incognito", true))
	}
	if m.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(m.cfg.ExecPath))
	}

	m.allocCtx, m.allocCancel = chromedp.NewExecAllocator(ctx, opts...)
	m.tabCtx, m.tabCancel = chromedp.NewContext(m.allocCtx)

	return m.navigate()
}

// navigate loads the service page in the current tab and waits for the
// upload control. Download behavior is pinned to the work dir so a
// click-triggered download (the fallback retrieval path) lands somewhere
// known instead of the user's Downloads folder.
func (m *Manager) navigate() error {
	openCtx, cancel := context.WithTimeout(m.tabCtx, openWait)
	defer cancel()

	err := chromedp.Run(openCtx,
		browser.SetDownloadBehavior(browser.SetDownloadBehaviorBehaviorAllow).
			WithDownloadPath(m.cfg.WorkDir),
		chromedp.Navigate(m.cfg.ServiceURL),
		chromedp.WaitReady(uploadInputSelector, chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("open %s: %w", m.cfg.ServiceURL, err)
	}
	return nil
}

// IsHealthy is a cheap liveness probe run before each job: the upload
// control must still exist in the live DOM.
func (m *Manager) IsHealthy(ctx context.Context) bool {
	if m.tabCtx == nil {
		return false
	}
	probeCtx, cancel := context.WithTimeout(m.tabCtx, healthWait)
	defer cancel()

	var ok bool
	err := chromedp.Run(probeCtx,
		chromedp.Evaluate(`document.querySelector('input[type="file"]') !== null`, &ok))
	return err == nil && ok
}

// Reset closes and reopens the session. Called when IsHealthy fails or a
// session-scoped error surfaced during a job. The reset count is reported to
// the batch controller, which enforces the per-batch limit.
func (m *Manager) Reset(ctx context.Context) error {
	m.resets++
	m.log.Debug(m.cfg.Verbose, "reopening browser (reset %d)", m.resets)
	m.teardown()
	if err := m.openOnce(ctx); err != nil {
		m.teardown()
		return &Error{Op: "reset", Err: err}
	}
	return nil
}

// Resets returns how many resets this session has been through.
func (m *Manager) Resets() int { return m.resets }

// ReturnToUpload brings the page back to a fresh upload surface between
// jobs. The remote UI shows the previous result pane until reloaded.
func (m *Manager) ReturnToUpload() error {
	if m.tabCtx == nil {
		return &Error{Op: "navigate", Err: fmt.Errorf("session not open")}
	}
	return m.navigate()
}

// Close releases the browser process. Safe to call multiple times; always
// invoked via defer so it runs on every exit path.
func (m *Manager) Close() {
	m.teardown()
}

func (m *Manager) teardown() {
	if m.tabCancel != nil {
		m.tabCancel()
		m.tabCancel = nil
		m.tabCtx = nil
	}
	if m.allocCancel != nil {
		m.allocCancel()
		m.allocCancel = nil
		m.allocCtx = nil
	}
}
