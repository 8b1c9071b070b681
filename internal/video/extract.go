package video

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// ExtractFrames decodes every frame of the video into a fresh per-video work
// directory under root and writes meta.json beside them. An existing
// directory from an earlier run is replaced.
func ExtractFrames(ctx context.Context, root, videoPath string) (string, *Meta, error) {
	total, fps, err := ProbeStats(ctx, videoPath)
	if err != nil {
		return "", nil, err
	}

	dir, err := WorkDirFor(root, videoPath)
	if err != nil {
		return "", nil, err
	}
	if err := os.RemoveAll(dir); err != nil {
		return "", nil, fmt.Errorf("clear frame dir: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", nil, fmt.Errorf("create frame dir: %w", err)
	}

	abs, err := filepath.Abs(videoPath)
	if err != nil {
		return "", nil, err
	}
	meta := &Meta{SourceVideo: abs, FPS: fps, TotalFrames: total}
	if err := WriteMeta(dir, meta); err != nil {
		return "", nil, fmt.Errorf("write meta: %w", err)
	}

	err = runFfmpeg(ctx,
		"-hide_banner", "-nostdin",
		"-i", videoPath,
		"-vsync", "0",
		filepath.Join(dir, FramePattern),
	)
	if err != nil {
		return "", nil, fmt.Errorf("extract frames from %s: %w", filepath.Base(videoPath), err)
	}
	return dir, meta, nil
}

// runFfmpeg executes ffmpeg with the given arguments, capturing stderr so a
// failure carries ffmpeg's own diagnostics.
func runFfmpeg(ctx context.Context, args ...string) error {
	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg: %w: %s", err, lastLine(stderr.String()))
	}
	return nil
}

// lastLine returns the final non-empty line of ffmpeg's stderr, which is
// where it reports the actual failure.
func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return ""
}
