// Package command assembles the downloader argument vector.
package command

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/Sube3494/bilidownloader/internal/common/config"
	"github.com/Sube3494/bilidownloader/internal/cookie"
	"github.com/Sube3494/bilidownloader/internal/naming"
	"github.com/Sube3494/bilidownloader/internal/resolver"
	"github.com/Sube3494/bilidownloader/internal/selection"
)

// Options is the per-request view of the downloader settings.
type Options struct {
	ExecutablePath   string
	DownloadPath     string
	Cookie           string
	Quality          string
	DownloadDanmaku  bool
	DownloadSubtitle bool
	SinglePattern    string
	MultiPattern     string
	ClassifyByOwner  bool
}

// OptionsFromConfig snapshots the downloader section.
func OptionsFromConfig(cfg *config.DownloaderConfig) Options {
	return Options{
		ExecutablePath:   cfg.ExecutablePath,
		DownloadPath:     cfg.DownloadPath,
		Cookie:           cfg.Cookie,
		Quality:          cfg.Options.Quality,
		DownloadDanmaku:  cfg.Options.DownloadDanmaku,
		DownloadSubtitle: cfg.Options.DownloadSubtitle,
		SinglePattern:    cfg.Naming.SinglePattern,
		MultiPattern:     cfg.Naming.MultiPattern,
		ClassifyByOwner:  cfg.ClassifyByOwner,
	}
}

// Builder turns a reference, options and selection into argv. The only side
// effect is creating the work directory.
type Builder struct {
	mkdir func(string) error
}

func NewBuilder() *Builder {
	return &Builder{mkdir: func(dir string) error { return os.MkdirAll(dir, 0o755) }}
}

// WorkDir returns the absolute download directory.
func WorkDir(opts Options) (string, error) {
	dir := opts.DownloadPath
	if dir == "" {
		dir = "./downloads"
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve download path %q: %w", dir, err)
	}
	return abs, nil
}

// Build returns the argument vector. Element 0 is the executable.
func (b *Builder) Build(ref resolver.Reference, opts Options, sel selection.Selection) ([]string, error) {
	exe := opts.ExecutablePath
	if exe == "" {
		exe = "BBDown"
	}

	args := []string{exe, ref.Target()}

	if c := cookie.Normalize(opts.Cookie); c != "" {
		args = append(args, "-c", c)
	}
	if opts.Quality != "" {
		args = append(args, "-q", opts.Quality)
	}
	if opts.DownloadDanmaku {
		args = append(args, "--download-danmaku")
	}
	if opts.DownloadSubtitle {
		args = append(args, "--download-subtitle")
	}
	if !sel.IsAll() {
		args = append(args, "-p", sel.Spec())
	}

	args = append(args,
		"--file-pattern", naming.Resolve(opts.SinglePattern, opts.ClassifyByOwner, false),
		"--multi-file-pattern", naming.Resolve(opts.MultiPattern, opts.ClassifyByOwner, true),
	)

	workDir, err := WorkDir(opts)
	if err != nil {
		return nil, err
	}
	if err := b.mkdir(workDir); err != nil {
		return nil, fmt.Errorf("failed to create download directory: %w", err)
	}
	args = append(args, "--work-dir", workDir)

	return args, nil
}
