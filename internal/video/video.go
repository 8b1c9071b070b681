// Package video splits videos into frames, lets the batch upscale each frame
// like a still image, and merges the results back at the source frame rate.
package video

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// FramePattern is the printf pattern frames are extracted under.
const FramePattern = "frame_%08d.png"

// Meta describes an extracted video, written as meta.json alongside the
// frames so a merge can run without re-probing the source.
type Meta struct {
	SourceVideo string  `json:"source_video"`
	FPS         float64 `json:"fps"`
	TotalFrames int     `json:"total_frames"`
}

// WorkDirFor returns the per-video frame directory under root. The name is a
// digest of the source's path, size, and mtime so re-runs of an unchanged
// video land in the same place.
func WorkDirFor(root, videoPath string) (string, error) {
	abs, err := filepath.Abs(videoPath)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", videoPath, err)
	}
	h := sha256.New()
	fmt.Fprintf(h, "%s%d%d", abs, info.Size(), info.ModTime().Unix())
	return filepath.Join(root, fmt.Sprintf("%x", h.Sum(nil))), nil
}

// ProbeStats returns the total frame count and frame rate of the first video
// stream, computed from ffprobe's duration and r_frame_rate.
func ProbeStats(ctx context.Context, videoPath string) (int, float64, error) {
	cmd := exec.CommandContext(ctx, "ffprobe",
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=duration,r_frame_rate",
		"-of", "default=noprint_wrappers=1:nokey=1",
		videoPath,
	)
	out, err := cmd.Output()
	if err != nil {
		return 0, 0, fmt.Errorf("ffprobe %q: %w", videoPath, err)
	}
	return parseStats(string(out))
}

// parseStats extracts duration and frame rate from ffprobe's two-line
// output. The line order is not guaranteed: the frame rate is the line
// containing a slash.
func parseStats(out string) (int, float64, error) {
	var durationStr, rateStr string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || line == "N/A" {
			continue
		}
		if strings.Contains(line, "/") && rateStr == "" {
			rateStr = line
		} else if durationStr == "" {
			durationStr = line
		}
	}
	if durationStr == "" || rateStr == "" {
		return 0, 0, fmt.Errorf("ffprobe output missing duration or frame rate: %q", out)
	}

	duration, err := strconv.ParseFloat(durationStr, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid duration %q: %w", durationStr, err)
	}
	fps, err := parseRate(rateStr)
	if err != nil {
		return 0, 0, err
	}

	total := int(duration*fps + 0.5)
	if total <= 0 {
		return 0, 0, fmt.Errorf("video has no frames (duration=%s, rate=%s)", durationStr, rateStr)
	}
	return total, fps, nil
}

// parseRate converts an ffprobe rational like "30000/1001" to frames per
// second.
func parseRate(s string) (float64, error) {
	num, den, ok := strings.Cut(s, "/")
	if !ok {
		return 0, fmt.Errorf("invalid frame rate %q", s)
	}
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid frame rate %q: %w", s, err)
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil || d == 0 {
		return 0, fmt.Errorf("invalid frame rate %q", s)
	}
	return n / d, nil
}

// WriteMeta persists the extraction metadata into dir.
func WriteMeta(dir string, meta *Meta) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "meta.json"), data, 0o644)
}

// ReadMeta loads the extraction metadata from dir.
func ReadMeta(dir string) (*Meta, error) {
	data, err := os.ReadFile(filepath.Join(dir, "meta.json"))
	if err != nil {
		return nil, fmt.Errorf("read meta: %w", err)
	}
	meta := &Meta{}
	if err := json.Unmarshal(data, meta); err != nil {
		return nil, fmt.Errorf("parse meta: %w", err)
	}
	return meta, nil
}

// Frames lists the extracted frame files in dir in frame order.
func Frames(dir string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "frame_*.png"))
	if err != nil {
		return nil, err
	}
	// Zero-padded names sort correctly lexicographically.
	return matches, nil
}
