// Package linker maps freshly downloaded media files to direct links served by
// an OpenList/Alist instance, optionally shortened.
package linker

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// MaxFiles caps how many matched files are resolved per request.
const MaxFiles = 10

// MediaExtensions are the file types the downloader produces.
var MediaExtensions = []string{".mp4", ".flv", ".m4s", ".mkv"}

var cleaner = strings.NewReplacer(" ", "", "-", "", "_", "")

func clean(s string) string {
	return cleaner.Replace(s)
}

func prefix(s string, n int) string {
	r := []rune(s)
	if len(r) > n {
		return string(r[:n])
	}
	return s
}

// Keywords builds the file name match set: a cleaned prefix of the title and
// of each part title.
func Keywords(title string, partTitles []string) []string {
	var out []string
	if t := clean(strings.TrimSpace(title)); t != "" {
		if len([]rune(t)) > 10 {
			t = prefix(t, 20)
		}
		out = append(out, t)
	}
	for _, p := range partTitles {
		if c := clean(strings.TrimSpace(p)); c != "" {
			out = append(out, prefix(c, 15))
		}
	}
	return out
}

// MediaFile is a matched file on disk.
type MediaFile struct {
	Name      string
	LocalPath string
	// RelPath is relative to the scan root, with forward slashes.
	RelPath string
}

func isMedia(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, m := range MediaExtensions {
		if ext == m {
			return true
		}
	}
	return false
}

func matches(name string, keywords []string) bool {
	if len(keywords) == 0 {
		return true
	}
	cleaned := strings.ToLower(clean(name))
	for _, k := range keywords {
		if k != "" && strings.Contains(cleaned, strings.ToLower(k)) {
			return true
		}
	}
	return false
}

// Scan walks root in lexical order and returns up to MaxFiles media files
// whose cleaned name contains a keyword. With no keywords every media file
// matches. Unreadable subdirectories are skipped.
func Scan(root string, keywords []string) ([]MediaFile, error) {
	if _, err := os.Stat(root); err != nil {
		return nil, err
	}

	var found []MediaFile
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if d != nil && d.IsDir() && path != root {
				return fs.SkipDir
			}
			return err
		}
		if d.IsDir() || !isMedia(d.Name()) || !matches(d.Name(), keywords) {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}
		found = append(found, MediaFile{
			Name:      d.Name(),
			LocalPath: path,
			RelPath:   filepath.ToSlash(rel),
		})
		if len(found) >= MaxFiles {
			return fs.SkipAll
		}
		return nil
	})
	if err != nil {
		return found, err
	}
	return found, nil
}

// mediaSizes returns the size of every non-empty media file under root.
func mediaSizes(root string) map[string]int64 {
	sizes := make(map[string]int64)
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !isMedia(d.Name()) {
			return nil
		}
		info, err := d.Info()
		if err != nil || info.Size() == 0 {
			return nil
		}
		sizes[path] = info.Size()
		return nil
	})
	return sizes
}
