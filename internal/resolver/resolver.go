// Package resolver expands the user's selected files and folders into the
// flat, deduplicated, ordered list of inputs the batch will process.
package resolver

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ErrNoInputs is returned when the selection contains no usable files.
// It is fatal to the batch before any browser session is opened.
var ErrNoInputs = errors.New("no usable image files in selection")

// Supported image extensions (lowercase, with leading dot).
var imageExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
}

// Video extensions accepted only in --video mode.
var videoExtensions = map[string]bool{
	".mp4": true,
	".mkv": true,
	".avi": true,
	".mov": true,
}

// upscaleDirName is the output folder written beside sources; pruned during
// discovery so re-runs do not pick up previous results.
const upscaleDirName = "UPSCALE"

// Result is the resolved selection, split by pipeline.
type Result struct {
	Images []string
	Videos []string
}

// Total returns the number of resolved inputs across both pipelines.
func (r Result) Total() int { return len(r.Images) + len(r.Videos) }

// Resolve expands inputs (files and/or directories) into absolute paths.
// Directories are walked recursively, or one level only when recursive is
// false. Duplicate resolved paths collapse to the first occurrence; order is
// first-seen. Video files are collected only when video is true, otherwise
// silently ignored. Returns ErrNoInputs when nothing usable remains.
func Resolve(inputs []string, recursive, video bool) (Result, error) {
	var res Result
	seen := make(map[string]bool)

	add := func(path string) {
		abs, err := filepath.Abs(path)
		if err != nil {
			return
		}
		if seen[abs] {
			return
		}
		ext := strings.ToLower(filepath.Ext(abs))
		switch {
		case imageExtensions[ext]:
			seen[abs] = true
			res.Images = append(res.Images, abs)
		case video && videoExtensions[ext]:
			seen[abs] = true
			res.Videos = append(res.Videos, abs)
		}
	}

	for _, input := range inputs {
		fi, err := os.Stat(input)
		if err != nil {
			return Result{}, fmt.Errorf("input not found: %s", input)
		}
		if !fi.IsDir() {
			add(input)
			continue
		}
		if err := expandDir(input, recursive, add); err != nil {
			return Result{}, err
		}
	}

	if res.Total() == 0 {
		return Result{}, ErrNoInputs
	}
	return res, nil
}

// expandDir feeds every candidate file under dir to add, in lexical order
// for deterministic processing. UPSCALE folders are pruned.
func expandDir(dir string, recursive bool, add func(string)) error {
	if !recursive {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return err
		}
		sort.Slice(entries, func(i, k int) bool { return entries[i].Name() < entries[k].Name() })
		for _, e := range entries {
			if !e.IsDir() {
				add(filepath.Join(dir, e.Name()))
			}
		}
		return nil
	}

	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if strings.EqualFold(d.Name(), upscaleDirName) {
				return filepath.SkipDir
			}
			return nil
		}
		add(path)
		return nil
	})
}
