package video

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

// OutputName returns the merged video's filename for a source video:
// "<stem>_upscaled.mp4".
func OutputName(videoPath string) string {
	base := filepath.Base(videoPath)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	return stem + "_upscaled.mp4"
}

// Merge re-encodes the upscaled frames in frameDir into dest at the source
// frame rate. H.264 with yuv420p keeps the output playable everywhere.
func Merge(ctx context.Context, frameDir string, meta *Meta, dest string) error {
	fps := strconv.FormatFloat(meta.FPS, 'f', -1, 64)
	err := runFfmpeg(ctx,
		"-hide_banner", "-nostdin", "-y",
		"-framerate", fps,
		"-i", filepath.Join(frameDir, FramePattern),
		"-c:v", "libx264",
		"-pix_fmt", "yuv420p",
		dest,
	)
	if err != nil {
		return fmt.Errorf("merge %s: %w", filepath.Base(dest), err)
	}
	return nil
}
