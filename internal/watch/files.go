// Package watch discovers video clips dropped into watch folders and enqueues them for
// processing, either continuously through a polling monitor or with a one-shot scan.
package watch

import (
	"io/fs"
	"path/filepath"
	"slices"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// SupportedExtensions lists the video extensions picked up from watch folders.
var SupportedExtensions = []string{
	".mp4", ".avi", ".mov", ".mkv", ".wmv", ".flv", ".webm",
	".m4v", ".mpg", ".mpeg", ".3gp", ".3g2", ".mxf",
}

// IsVideoFile reports whether name has a supported video extension, ignoring case.
func IsVideoFile(name string) bool {
	return slices.Contains(SupportedExtensions, strings.ToLower(filepath.Ext(name)))
}

// NormalizeFilename returns the NFC form of a filename. Files copied from macOS volumes
// often carry decomposed characters, so "Jiří.mp4" may arrive in two byte forms.
func NormalizeFilename(name string) string {
	return norm.NFC.String(name)
}

// FindVideoFiles walks root recursively and returns the absolute paths of all supported
// video files, sorted.
func FindVideoFiles(root string) ([]string, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}

	var files []string
	err = filepath.WalkDir(abs, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() && IsVideoFile(d.Name()) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.Sort(files)
	return files, nil
}
