// Package probe inspects image files and reports their basic properties.
package probe

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
)

// Result holds the properties of a probed image file.
type Result struct {
	Path   string
	Format string // "png" or "jpeg"
	Width  int
	Height int
	Bytes  int64
}

// Resolution returns the dimensions formatted as "WxH".
func (r *Result) Resolution() string {
	return fmt.Sprintf("%dx%d", r.Width, r.Height)
}

// Probe reads the header of the image at path and returns its format,
// dimensions, and size on disk. The full pixel data is not decoded.
func Probe(path string) (*Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("probe %s: %w", filepath.Base(path), err)
	}
	defer f.Close()

	cfg, format, err := image.DecodeConfig(f)
	if err != nil {
		return nil, fmt.Errorf("probe %s: %w", filepath.Base(path), err)
	}

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("probe %s: %w", filepath.Base(path), err)
	}

	return &Result{
		Path:   path,
		Format: format,
		Width:  cfg.Width,
		Height: cfg.Height,
		Bytes:  info.Size(),
	}, nil
}
