package linker

import (
	"context"
	"os"
	"path/filepath"

	"github.com/Sube3494/bilidownloader/internal/common/config"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// ResolvedFile is a matched file with its links. It lives for one request.
type ResolvedFile struct {
	Name       string
	LocalPath  string
	RemotePath string
	DirectLink string
	ShortLink  string
}

// Link is the URL to show: the short link when shortening succeeded.
func (f ResolvedFile) Link() string {
	if f.ShortLink != "" {
		return f.ShortLink
	}
	return f.DirectLink
}

// Resolver runs stage 7: wait for writes to settle, match files, fetch direct
// links and shorten them.
type Resolver struct {
	root        string
	storagePath string
	files       DirectLinker
	shortener   Shortener
	stabilizer  Stabilizer
	log         *logrus.Logger
}

// NewResolver wires the stage. shortener may be nil.
func NewResolver(root, storagePath string, files DirectLinker, shortener Shortener, stabilizer Stabilizer, log *logrus.Logger) *Resolver {
	if stabilizer == nil {
		stabilizer = NoWait{}
	}
	return &Resolver{
		root:        root,
		storagePath: storagePath,
		files:       files,
		shortener:   shortener,
		stabilizer:  stabilizer,
		log:         log,
	}
}

// FromConfig builds a Resolver for the configured file server, or returns nil
// when link resolution is disabled.
func FromConfig(cfg *config.Config, log *logrus.Logger) *Resolver {
	alist := cfg.Alist
	if !alist.Enabled || alist.BaseURL == "" {
		return nil
	}

	root, err := filepath.Abs(cfg.Downloader.DownloadPath)
	if err != nil {
		root = cfg.Downloader.DownloadPath
	}

	var shortener Shortener
	if alist.Shortener.Enabled && alist.Shortener.APIURL != "" {
		shortener = NewHTTPShortener(alist.Shortener)
	}

	return NewResolver(
		root,
		alist.StoragePath,
		NewFileInfoClient(alist.BaseURL, alist.Password, alist.Timeout),
		shortener,
		DefaultStabilizer(),
		log,
	)
}

// RemotePath maps a scan-relative path onto the storage root.
func (r *Resolver) RemotePath(rel string) string {
	return r.storagePath + "/" + rel
}

// Resolve returns the files that received a direct link, in scan order.
// Per-file failures are logged and drop only that file.
func (r *Resolver) Resolve(ctx context.Context, title string, partTitles []string) []ResolvedFile {
	entry := r.log.WithFields(logrus.Fields{
		"component": "linker",
		"root":      r.root,
	})

	if !r.stabilizer.Wait(ctx, r.root) {
		entry.Warn("Files may still be written, resolving links anyway")
	}

	keywords := Keywords(title, partTitles)
	entry.WithField("keywords", keywords).Info("Matching downloaded files")

	matched, err := Scan(r.root, keywords)
	if err != nil {
		entry.WithError(err).Warn("Failed to scan download directory")
	}
	if len(matched) == 0 {
		entry.Warn("No matching files found")
		return nil
	}

	var candidates []ResolvedFile
	for _, m := range matched {
		info, err := os.Stat(m.LocalPath)
		if err != nil || info.Size() == 0 {
			entry.WithField("file", m.Name).Warn("File missing or still empty, skipping")
			continue
		}
		candidates = append(candidates, ResolvedFile{
			Name:       m.Name,
			LocalPath:  m.LocalPath,
			RemotePath: r.RemotePath(m.RelPath),
		})
	}

	r.fetchDirectLinks(ctx, candidates)

	var linked []ResolvedFile
	for _, f := range candidates {
		if f.DirectLink != "" {
			linked = append(linked, f)
		}
	}

	if r.shortener != nil {
		r.shorten(ctx, linked)
	}

	entry.WithFields(logrus.Fields{
		"matched": len(matched),
		"linked":  len(linked),
	}).Info("Resolved download links")
	return linked
}

func (r *Resolver) fetchDirectLinks(ctx context.Context, files []ResolvedFile) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(MaxFiles)
	for i := range files {
		i := i
		g.Go(func() error {
			link, err := r.files.DirectLink(gctx, files[i].RemotePath)
			if err != nil {
				r.log.WithFields(logrus.Fields{
					"component": "linker",
					"path":      files[i].RemotePath,
				}).WithError(err).Warn("Failed to get direct link")
				return nil
			}
			files[i].DirectLink = link
			return nil
		})
	}
	_ = g.Wait()
}

func (r *Resolver) shorten(ctx context.Context, files []ResolvedFile) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(MaxFiles)
	for i := range files {
		i := i
		g.Go(func() error {
			short, err := r.shortener.Shorten(gctx, files[i].DirectLink)
			if err != nil {
				r.log.WithFields(logrus.Fields{
					"component": "linker",
					"file":      files[i].Name,
				}).WithError(err).Warn("Failed to shorten link, keeping direct link")
				return nil
			}
			files[i].ShortLink = short
			return nil
		})
	}
	_ = g.Wait()
}
