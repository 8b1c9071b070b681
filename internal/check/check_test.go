package check

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/sotonghd/sotonghd/internal/config"
)

func TestFindBrowser_ExecPath(t *testing.T) {
	dir := t.TempDir()
	bin := filepath.Join(dir, "chrome")
	if err := os.WriteFile(bin, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatal(err)
	}

	cfg := config.DefaultConfig()
	cfg.ExecPath = bin
	got, err := FindBrowser(&cfg)
	if err != nil {
		t.Fatalf("FindBrowser: %v", err)
	}
	if got != bin {
		t.Errorf("path = %q, want %q", got, bin)
	}
}

func TestFindBrowser_ExecPathMissing(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.ExecPath = filepath.Join(t.TempDir(), "nope")
	if _, err := FindBrowser(&cfg); !errors.Is(err, ErrExecPathInvalid) {
		t.Errorf("err = %v, want ErrExecPathInvalid", err)
	}
}

func TestCheckDeps_ExecPathOverridesLookup(t *testing.T) {
	dir := t.TempDir()
	bin := filepath.Join(dir, "chromium")
	if err := os.WriteFile(bin, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatal(err)
	}

	cfg := config.DefaultConfig()
	cfg.ExecPath = bin
	if err := CheckDeps(&cfg); err != nil {
		t.Errorf("CheckDeps: %v", err)
	}
}
