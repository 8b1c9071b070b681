package batch

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sotonghd/sotonghd/internal/config"
	"github.com/sotonghd/sotonghd/internal/driver"
	"github.com/sotonghd/sotonghd/internal/job"
	"github.com/sotonghd/sotonghd/internal/output"
	"github.com/sotonghd/sotonghd/internal/video"
)

// processVideo upscales one video: extract frames, run each frame through
// the service like a still image, and merge the results at the source frame
// rate. Frame work directories are removed on success and kept on failure.
func (c *Controller) processVideo(ctx context.Context, videoPath string, stats *RunStats) error {
	base := filepath.Base(videoPath)
	c.log.Info("Video: %s", base)

	frameDir, meta, err := video.ExtractFrames(ctx, c.cfg.WorkDir, videoPath)
	if err != nil {
		return err
	}
	frames, err := video.Frames(frameDir)
	if err != nil {
		return err
	}
	if len(frames) == 0 {
		return fmt.Errorf("no frames extracted from %s", base)
	}
	c.log.Info("Extracted %d frames at %.3f fps", len(frames), meta.FPS)

	// Frames are always materialized as PNG into a sibling directory, with
	// overwrite semantics so an interrupted video can be re-run cleanly.
	upDir := frameDir + "_up"
	fcfg := *c.cfg
	fcfg.OutputDir = upDir
	fcfg.OutputFormat = config.FormatPNG
	fcfg.DestPolicy = config.PolicyOverwrite
	fmat := output.NewMaterializer(&fcfg, c.log)
	fdrv := driver.New(&fcfg, c.log, c.sess, fmat)

	fq := job.NewQueue()
	fq.EnqueueAll(frames, config.FormatPNG)
	if err := c.runQueue(ctx, fq, fdrv, fmat, stats); err != nil {
		return err
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}
	if _, failed, _ := fq.Counts(); failed > 0 {
		return fmt.Errorf("%d of %d frames failed to upscale", failed, fq.Len())
	}

	dest, err := c.mergeVideo(ctx, videoPath, fq, meta, frameDir)
	if err != nil {
		return err
	}

	os.RemoveAll(frameDir)
	os.RemoveAll(upDir)
	c.log.Success("Merged: %s", filepath.Base(dest))
	return nil
}

// mergeVideo renames the upscaled frames back into sequential order and
// re-encodes them into the destination video.
func (c *Controller) mergeVideo(ctx context.Context, videoPath string, fq *job.Queue, meta *video.Meta, frameDir string) (string, error) {
	mergeDir := frameDir + "_merge"
	if err := os.MkdirAll(mergeDir, 0o755); err != nil {
		return "", fmt.Errorf("create merge dir: %w", err)
	}
	defer os.RemoveAll(mergeDir)

	for i, j := range fq.Jobs() {
		name := fmt.Sprintf(video.FramePattern, i+1)
		if err := copyFile(j.ResultPath, filepath.Join(mergeDir, name)); err != nil {
			return "", fmt.Errorf("stage frame %d: %w", i+1, err)
		}
	}

	destDir := c.cfg.OutputDir
	if destDir == "" {
		destDir = filepath.Join(filepath.Dir(videoPath), output.UpscaleDirName)
	}
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	dest := filepath.Join(destDir, video.OutputName(videoPath))

	if err := video.Merge(ctx, mergeDir, meta, dest); err != nil {
		return "", err
	}
	return dest, nil
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
