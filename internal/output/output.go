// Package output places downloaded artifacts at their final destinations,
// converting formats and resolving name collisions along the way.
package output

import (
	"errors"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sotonghd/sotonghd/internal/config"
	"github.com/sotonghd/sotonghd/internal/job"
	"github.com/sotonghd/sotonghd/internal/logging"
)

// UpscaleDirName is the per-source folder created next to inputs when no
// explicit output directory is configured.
const UpscaleDirName = "UPSCALE"

// Materializer converts and writes artifacts according to the configured
// format and destination policy.
type Materializer struct {
	cfg *config.Config
	log *logging.Logger
}

func NewMaterializer(cfg *config.Config, log *logging.Logger) *Materializer {
	return &Materializer{cfg: cfg, log: log}
}

// DestPath returns the destination a job's result will be written to, before
// any collision handling.
func (m *Materializer) DestPath(j *job.Job) string {
	dir := m.cfg.OutputDir
	if dir == "" {
		dir = filepath.Join(filepath.Dir(j.SourcePath), UpscaleDirName)
	}
	stem := strings.TrimSuffix(filepath.Base(j.SourcePath), filepath.Ext(j.SourcePath))
	return filepath.Join(dir, stem+"_upscaled"+j.OutputFormat.Ext())
}

// ShouldSkip reports whether the skip policy applies to this job: the
// destination already exists from an earlier run.
func (m *Materializer) ShouldSkip(j *job.Job) (string, bool) {
	if m.cfg.DestPolicy != config.PolicySkip {
		return "", false
	}
	dest := m.DestPath(j)
	if _, err := os.Stat(dest); err == nil {
		return dest, true
	}
	return "", false
}

// Materialize converts the downloaded artifact to the job's output format and
// moves it into place. It returns the final path. The artifact file is
// consumed on success and left behind on failure for inspection.
func (m *Materializer) Materialize(j *job.Job, artifact string) (string, error) {
	dest := m.DestPath(j)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}

	dest, err := m.resolveCollision(dest)
	if err != nil {
		return "", err
	}

	// The service normally hands back PNG, but the artifact's real encoding
	// decides whether a convert is needed, not its name.
	native, err := sniffFormat(artifact)
	if err != nil {
		return "", err
	}
	want := "png"
	if j.OutputFormat == config.FormatJPG {
		want = "jpeg"
	}

	if native == want {
		if err := moveFile(artifact, dest); err != nil {
			return "", err
		}
	} else {
		convert := convertToPNG
		if want == "jpeg" {
			convert = convertToJPEG
		}
		if err := convert(artifact, dest); err != nil {
			return "", err
		}
		os.Remove(artifact)
	}
	m.log.Debug(m.cfg.Verbose, "materialized %s", dest)
	return dest, nil
}

// sniffFormat reports the artifact's encoded image format ("png", "jpeg").
func sniffFormat(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open artifact: %w", err)
	}
	defer f.Close()
	_, format, err := image.DecodeConfig(f)
	if errors.Is(err, io.ErrUnexpectedEOF) {
		// Keep "unexpected EOF" out of the error text: it reads like a dead
		// devtools transport and this failure belongs to the job.
		return "", fmt.Errorf("decode artifact: truncated image data")
	}
	if err != nil {
		return "", fmt.Errorf("decode artifact: %w", err)
	}
	return format, nil
}

// resolveCollision applies the destination policy when the target already
// exists: overwrite replaces it, suffix picks the next free _2/_3/... name,
// and skip reports an error because the batch controller should have settled
// the job before any artifact was downloaded.
func (m *Materializer) resolveCollision(dest string) (string, error) {
	if _, err := os.Stat(dest); err != nil {
		return dest, nil
	}
	switch m.cfg.DestPolicy {
	case config.PolicyOverwrite:
		return dest, nil
	case config.PolicySuffix:
		ext := filepath.Ext(dest)
		stem := strings.TrimSuffix(dest, ext)
		for n := 2; ; n++ {
			candidate := fmt.Sprintf("%s_%d%s", stem, n, ext)
			if _, err := os.Stat(candidate); err != nil {
				return candidate, nil
			}
		}
	default:
		return "", fmt.Errorf("destination exists: %s", dest)
	}
}

// convertToPNG re-encodes the artifact as PNG.
func convertToPNG(artifact, dest string) error {
	src, err := os.Open(artifact)
	if err != nil {
		return fmt.Errorf("open artifact: %w", err)
	}
	defer src.Close()

	img, _, err := image.Decode(src)
	if err != nil {
		return fmt.Errorf("decode artifact: %w", err)
	}

	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("create %s: %w", filepath.Base(dest), err)
	}
	if err := png.Encode(out, img); err != nil {
		out.Close()
		os.Remove(dest)
		return fmt.Errorf("encode png: %w", err)
	}
	return out.Close()
}

// convertToJPEG decodes the PNG artifact, flattens any transparency onto a
// white background, and encodes the result as JPEG.
func convertToJPEG(artifact, dest string) error {
	src, err := os.Open(artifact)
	if err != nil {
		return fmt.Errorf("open artifact: %w", err)
	}
	defer src.Close()

	img, _, err := image.Decode(src)
	if err != nil {
		return fmt.Errorf("decode artifact: %w", err)
	}

	flat := image.NewRGBA(img.Bounds())
	draw.Draw(flat, flat.Bounds(), image.White, image.Point{}, draw.Src)
	draw.Draw(flat, flat.Bounds(), img, img.Bounds().Min, draw.Over)

	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("create %s: %w", filepath.Base(dest), err)
	}
	if err := jpeg.Encode(out, flat, &jpeg.Options{Quality: config.JPEGQuality}); err != nil {
		out.Close()
		os.Remove(dest)
		return fmt.Errorf("encode jpeg: %w", err)
	}
	return out.Close()
}

// moveFile renames src to dest, falling back to a copy when they sit on
// different filesystems.
func moveFile(src, dest string) error {
	if err := os.Rename(src, dest); err == nil {
		return nil
	}
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open artifact: %w", err)
	}
	defer in.Close()
	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("create %s: %w", filepath.Base(dest), err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dest)
		return fmt.Errorf("copy artifact: %w", err)
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(src)
}

// SweepStale removes files in dir older than maxAge. It is used to clean the
// work directory of artifacts left behind by interrupted runs.
func SweepStale(dir string, maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(dir, e.Name())
		if err := os.RemoveAll(path); err == nil {
			removed++
		}
	}
	return removed, nil
}
