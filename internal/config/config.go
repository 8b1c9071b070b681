// Package config holds runtime configuration: defaults, CLI flag parsing, and
// validation. Defaults match the behavior of the legacy SotongHD desktop app.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// --- Enum types for validated string fields ---

// Format is the requested output image format.
type Format string

const (
	FormatPNG Format = "png" // Lossless PNG (default).
	FormatJPG Format = "jpg" // JPEG at the fixed quality setting.
)

// Ext returns the file extension for the format, with leading dot.
func (f Format) Ext() string {
	return "." + string(f)
}

// Policy decides what happens when a destination file already exists.
type Policy string

const (
	PolicyOverwrite Policy = "overwrite" // Replace the existing file (default).
	PolicySkip      Policy = "skip"      // Leave the existing file, mark the job done.
	PolicySuffix    Policy = "suffix"    // Write under an incremented _N suffix.
)

// ColorMode controls ANSI color output.
type ColorMode string

const (
	ColorAuto   ColorMode = "auto"   // Enable colors when stdout is a TTY (default).
	ColorAlways ColorMode = "always" // Force colors on.
	ColorNever  ColorMode = "never"  // Disable colors entirely.
)

// JPEGQuality is the fixed quality used for JPG output. Not user-configurable;
// a single documented value keeps re-runs byte-identical.
const JPEGQuality = 95

// Config holds all runtime settings. It is populated by [DefaultConfig] and
// then mutated by [ParseFlags] before being passed (by pointer) to packages
// that need it.
type Config struct {
	// Inputs (set from positional args): files and/or directories.
	Inputs []string

	// Output settings.
	OutputFormat Format
	DestPolicy   Policy
	OutputDir    string // Empty: an UPSCALE folder beside each source file.

	// Remote service.
	ServiceURL string // Default: the public AI image enhancer upload page.

	// Browser session.
	Headless           bool   // Default: true. Cleared by --no-headless.
	Incognito          bool   // Default: true. Cleared by --no-incognito.
	ExecPath           string // Optional Chrome/Chromium binary override.
	SessionOpenRetries int    // Default: 2. Open attempts before the batch aborts.
	SessionResetLimit  int    // Default: 3. Recoverable resets before the batch aborts.

	// Driver budgets.
	MaxRetries        int           // Default: 3. Shared per-job retry budget.
	UploadTimeout     time.Duration // Default: 30s.
	ProcessingTimeout time.Duration // Default: 120s.
	DownloadTimeout   time.Duration // Default: 60s.
	PollInterval      time.Duration // Default: 1s.

	// Input expansion.
	Recursive bool // Default: true. Cleared by --no-recursive.
	VideoMode bool // Also accept video files (frame extract -> upscale -> merge).

	// Work area and run history.
	WorkDir      string // Temp root for downloaded artifacts and frame dirs.
	HistoryDB    string // SQLite path; derived from WorkDir unless --db is given.
	KeepHistory  bool   // Default: true. Cleared by --no-history.
	HistoryLimit int    // --history N: list N recent runs and exit.

	// Display and logging.
	Verbose       bool
	ShowFileStats bool      // Default: true. Per-file dimensions/format line.
	ColorMode     ColorMode // Default: "auto".
	LogFile       string    // Optional log file path.
	CheckOnly     bool      // Run --check diagnostics and exit.
}

// DefaultConfig returns a Config with defaults matching the legacy SotongHD
// behavior. Used as the base before [ParseFlags] applies CLI overrides.
func DefaultConfig() Config {
	return Config{
		OutputFormat:       FormatPNG,
		DestPolicy:         PolicyOverwrite,
		ServiceURL:         "https://picsart.com/ai-image-enhancer/",
		Headless:           true,
		Incognito:          true,
		SessionOpenRetries: 2,
		SessionResetLimit:  3,
		MaxRetries:         3,
		UploadTimeout:      30 * time.Second,
		ProcessingTimeout:  120 * time.Second,
		DownloadTimeout:    60 * time.Second,
		PollInterval:       time.Second,
		Recursive:          true,
		WorkDir:            filepath.Join(os.TempDir(), "sotonghd"),
		KeepHistory:        true,
		ShowFileStats:      true,
		ColorMode:          ColorAuto,
	}
}

// NormalizeDirArg strips trailing slashes from a directory path.
// The filesystem root "/" is returned unchanged so we don't produce an empty string.
func NormalizeDirArg(path string) string {
	if path == "/" {
		return "/"
	}
	return strings.TrimRight(path, "/")
}

// Validate checks enum fields and numeric budgets. When not in CheckOnly or
// history-listing mode it also requires at least one input path.
func (c *Config) Validate() error {
	switch c.OutputFormat {
	case FormatPNG, FormatJPG:
		// valid
	default:
		return errors.New("invalid format (use 'png' or 'jpg')")
	}

	switch c.DestPolicy {
	case PolicyOverwrite, PolicySkip, PolicySuffix:
		// valid
	default:
		return errors.New("invalid on-exists policy (use 'overwrite', 'skip' or 'suffix')")
	}

	if c.MaxRetries < 1 {
		return errors.New("retries must be at least 1")
	}
	if c.SessionOpenRetries < 1 || c.SessionResetLimit < 1 {
		return errors.New("session retry counts must be at least 1")
	}
	for name, d := range map[string]time.Duration{
		"upload-timeout":     c.UploadTimeout,
		"processing-timeout": c.ProcessingTimeout,
		"download-timeout":   c.DownloadTimeout,
		"poll-interval":      c.PollInterval,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	if !strings.HasPrefix(c.ServiceURL, "http://") && !strings.HasPrefix(c.ServiceURL, "https://") {
		return fmt.Errorf("invalid service URL %q", c.ServiceURL)
	}

	if c.HistoryDB == "" {
		c.HistoryDB = filepath.Join(c.WorkDir, "history.db")
	}

	if c.CheckOnly || c.HistoryLimit > 0 {
		return nil
	}
	if len(c.Inputs) == 0 {
		return errors.New("need at least one image file or folder")
	}
	return nil
}

// ValidateOutputDir ensures an explicit output directory is not one of the
// selected input directories (or nested inside one). This prevents the
// resolver from discovering the pipeline's own output files on re-runs.
// Both arguments must be absolute, symlink-resolved paths.
func ValidateOutputDir(outputAbs string, inputAbs []string) error {
	sep := string(filepath.Separator)
	for _, in := range inputAbs {
		if outputAbs == in || strings.HasPrefix(outputAbs+sep, in+sep) {
			return fmt.Errorf("output directory must not be inside input %s", in)
		}
	}
	return nil
}
