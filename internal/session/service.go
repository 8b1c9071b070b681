package session

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
)

// resultProbeJS checks the candidate selectors the remote page has used for
// the enhanced-image pane and returns the first http(s) src found, or "".
// The selector list is ordered most-specific first; the page's markup is an
// unstable external surface and changes without notice.
const resultProbeJS = `(function() {
	const selectors = [
		'div[data-testid="EnhancedImage"] img',
		'img[alt*="enhanced"]',
		'div[data-testid="EnhancedImage"] *[src]',
	];
	for (const sel of selectors) {
		for (const el of document.querySelectorAll(sel)) {
			const src = el.getAttribute('src') || '';
			if (src.startsWith('http')) {
				return src;
			}
		}
	}
	return '';
})()`

// stabilityInterval is the gap between the two size checks that decide a
// downloaded artifact is fully written.
const stabilityInterval = 250 * time.Millisecond

// SubmitUpload selects the job's image through the page's file input. The
// control accepts the path directly; no click-through is needed.
func (m *Manager) SubmitUpload(ctx context.Context, path string) error {
	if m.tabCtx == nil {
		return &Error{Op: "upload", Err: fmt.Errorf("session not open")}
	}
	upCtx, cancel := context.WithTimeout(m.tabCtx, m.cfg.UploadTimeout)
	defer cancel()
	// The tab context does not inherit from the caller's context; propagate
	// batch cancellation by hand.
	defer context.AfterFunc(ctx, cancel)()

	err := chromedp.Run(upCtx,
		chromedp.WaitReady(uploadInputSelector, chromedp.ByQuery),
		chromedp.SetUploadFiles(uploadInputSelector, []string{path}, chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("submit upload of %s: %w", path, err)
	}
	return nil
}

// PollStatus performs one poll of the remote status indicator. It returns
// the result URL when the service signals completion, or "" while the image
// is still being processed.
func (m *Manager) PollStatus(ctx context.Context) (string, error) {
	if m.tabCtx == nil {
		return "", &Error{Op: "poll", Err: fmt.Errorf("session not open")}
	}
	pollCtx, cancel := context.WithTimeout(m.tabCtx, healthWait)
	defer cancel()
	defer context.AfterFunc(ctx, cancel)()

	var src string
	if err := chromedp.Run(pollCtx, chromedp.Evaluate(resultProbeJS, &src)); err != nil {
		return "", fmt.Errorf("poll result pane: %w", err)
	}
	return strings.TrimSpace(src), nil
}

// FetchResult retrieves the processed artifact by direct resource fetch of
// its URL and writes it to dest. The write is verified by file-size
// stability (size unchanged across two checks) so a partially written file
// is never handed to the materializer.
func (m *Manager) FetchResult(ctx context.Context, url, dest string) error {
	fetchCtx, cancel := context.WithTimeout(ctx, m.cfg.DownloadTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(fetchCtx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build result request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("fetch result: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch result: status %d", resp.StatusCode)
	}

	f, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("create artifact file: %w", err)
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		os.Remove(dest)
		return fmt.Errorf("write artifact: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(dest)
		return fmt.Errorf("close artifact: %w", err)
	}

	return WaitForStableSize(fetchCtx, dest, stabilityInterval)
}

// WaitForStableSize blocks until the file's size is non-zero and unchanged
// across two consecutive checks, or the context expires.
func WaitForStableSize(ctx context.Context, path string, interval time.Duration) error {
	var last int64 = -1
	for {
		fi, err := os.Stat(path)
		if err != nil {
			return fmt.Errorf("stat artifact: %w", err)
		}
		size := fi.Size()
		if size > 0 && size == last {
			return nil
		}
		last = size

		select {
		case <-ctx.Done():
			return fmt.Errorf("artifact never stabilized: %w", ctx.Err())
		case <-time.After(interval):
		}
	}
}
