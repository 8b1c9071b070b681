package config

// This file implements CLI flag parsing and help text.
// Flags are grouped into output, service/session, retry, input, history, display, and utility.
// Negated flags (e.g. --no-headless) are applied after Parse so Config defaults hold unless set.

import (
	"flag"
	"fmt"
	"os"
	"strings"
)

// ParseFlags parses os.Args into cfg. On --help or --version it prints and exits.
// On error it returns non-nil (e.g. unknown flag, missing positional args).
func ParseFlags(cfg *Config, version string) error {
	fs := flag.NewFlagSet("sotonghd", flag.ContinueOnError)
	fs.Usage = func() { printUsage(fs, version) }

	// Negated flags: we capture bools then apply to cfg after Parse,
	// so that defaults from DefaultConfig() hold unless the user passes the flag.
	var negated negatedFlags

	defineOutputFlags(fs, cfg)
	defineSessionFlags(fs, cfg, &negated)
	defineRetryFlags(fs, cfg)
	defineInputFlags(fs, cfg, &negated)
	defineHistoryFlags(fs, cfg, &negated)
	defineDisplayFlags(fs, cfg, &negated)
	defineUtilityFlags(fs, cfg, &negated)

	if err := fs.Parse(os.Args[1:]); err != nil {
		return err
	}

	applyNegatedFlags(cfg, &negated)

	if negated.showHelp {
		printUsage(fs, version)
		os.Exit(0)
	}
	if negated.showVersion {
		fmt.Fprintln(os.Stdout, "sotonghd v"+version)
		os.Exit(0)
	}

	return parsePositionalArgs(fs, cfg)
}

// negatedFlags holds boolean flags that are applied after Parse.
// These either invert a default (e.g. noHeadless -> Headless=false) or trigger exit (showHelp, showVersion).
type negatedFlags struct {
	noHeadless  bool
	noIncognito bool
	noRecursive bool
	noHistory   bool
	noStats     bool
	forceColor  bool
	noColor     bool
	showVersion bool
	showHelp    bool
}

// defineOutputFlags registers -F/--format, --on-exists, -o/--out.
func defineOutputFlags(fs *flag.FlagSet, cfg *Config) {
	fs.Var(&formatValue{&cfg.OutputFormat}, "format", "Output format: png | jpg")
	fs.Var(&formatValue{&cfg.OutputFormat}, "F", "Same as --format")
	fs.Var(&policyValue{&cfg.DestPolicy}, "on-exists", "Existing destination: overwrite | skip | suffix")
	fs.StringVar(&cfg.OutputDir, "out", "", "Write all results here instead of UPSCALE folders beside sources")
	fs.StringVar(&cfg.OutputDir, "o", "", "Same as --out")
}

// defineSessionFlags registers --url, --exec-path, --no-headless, --no-incognito.
func defineSessionFlags(fs *flag.FlagSet, cfg *Config, n *negatedFlags) {
	fs.StringVar(&cfg.ServiceURL, "url", cfg.ServiceURL, "Upscaling service upload page URL")
	fs.StringVar(&cfg.ExecPath, "exec-path", "", "Path to Chrome/Chromium binary (default: found on PATH)")
	fs.BoolVar(&n.noHeadless, "no-headless", false, "Show the browser window")
	fs.BoolVar(&n.noIncognito, "no-incognito", false, "Use the default browser profile")
	fs.IntVar(&cfg.SessionOpenRetries, "open-retries", cfg.SessionOpenRetries, "Session open attempts before aborting")
	fs.IntVar(&cfg.SessionResetLimit, "reset-limit", cfg.SessionResetLimit, "Session resets tolerated per batch")
}

// defineRetryFlags registers -r/--retries and the per-stage timeout flags.
func defineRetryFlags(fs *flag.FlagSet, cfg *Config) {
	fs.IntVar(&cfg.MaxRetries, "retries", cfg.MaxRetries, "Per-image retry budget")
	fs.IntVar(&cfg.MaxRetries, "r", cfg.MaxRetries, "Same as --retries")
	fs.DurationVar(&cfg.UploadTimeout, "upload-timeout", cfg.UploadTimeout, "Budget for the upload stage")
	fs.DurationVar(&cfg.ProcessingTimeout, "processing-timeout", cfg.ProcessingTimeout, "Budget for remote processing")
	fs.DurationVar(&cfg.DownloadTimeout, "download-timeout", cfg.DownloadTimeout, "Budget for result retrieval")
	fs.DurationVar(&cfg.PollInterval, "poll-interval", cfg.PollInterval, "Remote status poll interval")
}

// defineInputFlags registers --no-recursive and --video.
func defineInputFlags(fs *flag.FlagSet, cfg *Config, n *negatedFlags) {
	fs.BoolVar(&n.noRecursive, "no-recursive", false, "Expand selected folders one level only")
	fs.BoolVar(&cfg.VideoMode, "video", false, "Also accept video files (needs ffmpeg/ffprobe)")
}

// defineHistoryFlags registers --db, --history, --no-history, --work-dir.
func defineHistoryFlags(fs *flag.FlagSet, cfg *Config, n *negatedFlags) {
	fs.StringVar(&cfg.HistoryDB, "db", "", "Run history database path (default: <work-dir>/history.db)")
	fs.IntVar(&cfg.HistoryLimit, "history", 0, "List the N most recent runs and exit")
	fs.BoolVar(&n.noHistory, "no-history", false, "Do not record this run in the history database")
	fs.StringVar(&cfg.WorkDir, "work-dir", cfg.WorkDir, "Temp root for downloaded artifacts")
}

// defineDisplayFlags registers --color, --no-color, verbose, --check, --log.
func defineDisplayFlags(fs *flag.FlagSet, cfg *Config, n *negatedFlags) {
	fs.BoolVar(&n.forceColor, "color", false, "Force colored logs")
	fs.BoolVar(&n.noColor, "no-color", false, "Disable colored logs")
	fs.BoolVar(&n.noStats, "no-stats", false, "Hide per-file image stats")
	fs.BoolVar(&cfg.Verbose, "verbose", false, "Verbose output")
	fs.BoolVar(&cfg.Verbose, "v", false, "Same as --verbose")
	fs.BoolVar(&cfg.CheckOnly, "check", false, "Run system diagnostics and exit")
	fs.BoolVar(&cfg.CheckOnly, "c", false, "Same as --check")
	fs.StringVar(&cfg.LogFile, "log", "", "Append logs to file")
	fs.StringVar(&cfg.LogFile, "l", "", "Same as --log")
}

// defineUtilityFlags registers --version and --help (exit after printing).
func defineUtilityFlags(fs *flag.FlagSet, cfg *Config, n *negatedFlags) {
	fs.BoolVar(&n.showVersion, "version", false, "Print version and exit")
	fs.BoolVar(&n.showVersion, "V", false, "Same as --version")
	fs.BoolVar(&n.showHelp, "help", false, "Show this help and exit")
	fs.BoolVar(&n.showHelp, "h", false, "Same as --help")
}

// applyNegatedFlags copies negated flag values into cfg (e.g. noHeadless -> Headless=false).
func applyNegatedFlags(cfg *Config, n *negatedFlags) {
	if n.noHeadless {
		cfg.Headless = false
	}
	if n.noIncognito {
		cfg.Incognito = false
	}
	if n.noRecursive {
		cfg.Recursive = false
	}
	if n.noHistory {
		cfg.KeepHistory = false
	}
	if n.noStats {
		cfg.ShowFileStats = false
	}
	if n.noColor {
		cfg.ColorMode = ColorNever
	} else if n.forceColor {
		cfg.ColorMode = ColorAlways
	}
}

// parsePositionalArgs collects the input file/folder paths when not in
// CheckOnly or history-listing mode.
func parsePositionalArgs(fs *flag.FlagSet, cfg *Config) error {
	args := fs.Args()
	if cfg.CheckOnly || cfg.HistoryLimit > 0 {
		return nil
	}
	if len(args) == 0 {
		return fmt.Errorf("need at least one image file or folder")
	}
	for _, a := range args {
		cfg.Inputs = append(cfg.Inputs, NormalizeDirArg(a))
	}
	return nil
}

// printUsage writes the help text to stderr. Column-aligned for readability.
func printUsage(fs *flag.FlagSet, version string) {
	const col1 = 30 // width of "  -x, --long-name <arg>  "
	lines := []struct {
		flags string
		desc  string
	}{
		{"", "SotongHD v" + version + " — batch AI image upscaler"},
		{"", ""},
		{"  sotonghd [OPTIONS] <image-or-folder>...", ""},
		{"", ""},
		{"Output", ""},
		{"  -F, --format <png|jpg>", "Output format (default: png)"},
		{"  --on-exists <policy>", "overwrite | skip | suffix (default: overwrite)"},
		{"  -o, --out <dir>", "Write results here (default: UPSCALE beside sources)"},
		{"", ""},
		{"Service & session", ""},
		{"  --url <url>", "Upscaling service upload page"},
		{"  --exec-path <path>", "Chrome/Chromium binary to use"},
		{"  --no-headless", "Show the browser window"},
		{"  --no-incognito", "Use the default browser profile"},
		{"  --open-retries <n>", "Session open attempts before abort (default: 2)"},
		{"  --reset-limit <n>", "Session resets tolerated per batch (default: 3)"},
		{"", ""},
		{"Retry & timing", ""},
		{"  -r, --retries <n>", "Per-image retry budget (default: 3)"},
		{"  --upload-timeout <dur>", "Upload stage budget (default: 30s)"},
		{"  --processing-timeout <dur>", "Remote processing budget (default: 2m)"},
		{"  --download-timeout <dur>", "Result retrieval budget (default: 1m)"},
		{"  --poll-interval <dur>", "Status poll interval (default: 1s)"},
		{"", ""},
		{"Input", ""},
		{"  --no-recursive", "Expand folders one level only"},
		{"  --video", "Also accept videos (needs ffmpeg/ffprobe)"},
		{"", ""},
		{"History", ""},
		{"  --db <path>", "Run history database (default: <work-dir>/history.db)"},
		{"  --history <n>", "List the N most recent runs and exit"},
		{"  --no-history", "Do not record this run"},
		{"  --work-dir <dir>", "Temp root for downloaded artifacts"},
		{"", ""},
		{"Display", ""},
		{"  --color", "Force colored logs"},
		{"  --no-color", "Disable colored logs"},
		{"  --no-stats", "Hide per-file image stats"},
		{"  -v, --verbose", "Verbose output"},
		{"", ""},
		{"Utility", ""},
		{"  -l, --log <path>", "Append logs to file"},
		{"  -c, --check", "System diagnostics (browser, ffmpeg)"},
		{"  -V, --version", "Print version and exit"},
		{"  -h, --help", "Show this help and exit"},
	}

	for _, l := range lines {
		if l.flags == "" && l.desc == "" {
			fmt.Fprintln(os.Stderr)
			continue
		}
		if l.desc == "" {
			fmt.Fprintln(os.Stderr, l.flags)
			continue
		}
		if l.flags == "" {
			fmt.Fprintln(os.Stderr, l.desc)
			continue
		}
		padding := col1 - len(l.flags)
		if padding < 1 {
			padding = 1
		}
		fmt.Fprintf(os.Stderr, "%s%*s%s\n", l.flags, padding, "", l.desc)
	}
}

// flag.Value adapters so we can use enum types (Format, Policy) with flag.Var.

type formatValue struct{ p *Format }

func (f *formatValue) String() string { return string(*f.p) }
func (f *formatValue) Set(s string) error {
	switch strings.ToLower(s) {
	case "png":
		*f.p = FormatPNG
	case "jpg", "jpeg":
		*f.p = FormatJPG
	default:
		return fmt.Errorf("invalid format %q (use 'png' or 'jpg')", s)
	}
	return nil
}

type policyValue struct{ p *Policy }

func (p *policyValue) String() string { return string(*p.p) }
func (p *policyValue) Set(s string) error {
	switch strings.ToLower(s) {
	case "overwrite":
		*p.p = PolicyOverwrite
	case "skip":
		*p.p = PolicySkip
	case "suffix":
		*p.p = PolicySuffix
	default:
		return fmt.Errorf("invalid on-exists policy %q (use 'overwrite', 'skip' or 'suffix')", s)
	}
	return nil
}
