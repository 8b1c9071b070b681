// Package check provides system diagnostics (--check mode) and pre-batch
// dependency validation (CheckDeps) for the browser binary and, in video
// mode, ffmpeg and ffprobe.
package check

import (
	"errors"
	"os"
	"os/exec"
	"strings"

	"github.com/sotonghd/sotonghd/internal/config"
)

// Sentinel errors returned by CheckDeps when a required tool is missing.
var (
	ErrBrowserNotFound = errors.New("no Chrome or Chromium binary found on PATH")
	ErrExecPathInvalid = errors.New("configured browser binary does not exist")
	ErrFfmpegNotFound  = errors.New("ffmpeg not found on PATH (required for video mode)")
	ErrFfprobeNotFound = errors.New("ffprobe not found on PATH (required for video mode)")
)

// browserCandidates are the binary names probed on PATH, in preference order.
var browserCandidates = []string{
	"google-chrome",
	"google-chrome-stable",
	"chromium",
	"chromium-browser",
	"chrome",
}

// Logger is the minimal logging interface needed by RunCheck.
// Defined here (rather than importing the logging package) so that check
// remains dependency-light and testable with a mock logger.
type Logger interface {
	Info(string, ...interface{})
	Success(string, ...interface{})
	Warn(string, ...interface{})
	Error(string, ...interface{})
	Debug(bool, string, ...interface{})
}

// RunCheck runs the interactive --check flow: prints availability of the
// browser binary and of ffmpeg/ffprobe. Informational only, it does not stop
// on failure.
func RunCheck(cfg *config.Config, log Logger) {
	log.Info("=== System Check ===")

	checkBrowser(cfg, log)
	checkTool("ffmpeg", log)
	checkTool("ffprobe", log)
}

// checkBrowser reports which browser binary would be used and its version.
func checkBrowser(cfg *config.Config, log Logger) {
	path, err := FindBrowser(cfg)
	if err != nil {
		log.Error("browser: %v", err)
		return
	}
	cmd := exec.Command(path, "--version")
	out, cmdErr := cmd.Output()
	if cmdErr != nil {
		log.Warn("browser found at %s but --version failed: %v", path, cmdErr)
		return
	}
	log.Success("browser: %s (%s)", strings.TrimSpace(string(out)), path)
}

// checkTool verifies the named tool is on PATH and logs its version string.
func checkTool(name string, log Logger) {
	if _, err := exec.LookPath(name); err != nil {
		log.Warn("%s not found (only needed for video mode)", name)
		return
	}
	cmd := exec.Command(name, "-version")
	out, err := cmd.Output()
	if err != nil {
		log.Warn("%s found but -version failed: %v", name, err)
		return
	}
	firstLine := strings.TrimSpace(string(out))
	if idx := strings.Index(firstLine, "\n"); idx > 0 {
		firstLine = firstLine[:idx]
	}
	log.Success("%s: %s", name, firstLine)
}

// CheckDeps is the pre-batch validation: a usable browser binary must exist,
// and in video mode ffmpeg and ffprobe must be on PATH. Returns a sentinel
// error on failure.
func CheckDeps(cfg *config.Config) error {
	if _, err := FindBrowser(cfg); err != nil {
		return err
	}
	if cfg.VideoMode {
		if _, err := exec.LookPath("ffmpeg"); err != nil {
			return ErrFfmpegNotFound
		}
		if _, err := exec.LookPath("ffprobe"); err != nil {
			return ErrFfprobeNotFound
		}
	}
	return nil
}

// FindBrowser returns the browser binary the session will launch: the
// configured path when set, otherwise the first candidate found on PATH.
func FindBrowser(cfg *config.Config) (string, error) {
	if cfg.ExecPath != "" {
		if _, err := os.Stat(cfg.ExecPath); err != nil {
			return "", ErrExecPathInvalid
		}
		return cfg.ExecPath, nil
	}
	for _, name := range browserCandidates {
		if path, err := exec.LookPath(name); err == nil {
			return path, nil
		}
	}
	return "", ErrBrowserNotFound
}
