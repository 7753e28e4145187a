package facematch

import (
	"image"
	"path/filepath"
	"strings"

	"github.com/kozaktomas/consent-audit/internal/database"
)

// ClampBox converts an x/y/w/h box to a rectangle clipped to bounds.
// The result is empty when the box lies entirely outside the image.
func ClampBox(box database.Box, bounds image.Rectangle) image.Rectangle {
	r := image.Rect(box.X, box.Y, box.X+box.W, box.Y+box.H)
	return r.Intersect(bounds)
}

// ProcessedPath returns where the annotated copy of rawPath is written:
// <dir>/processed/<name>_processed<ext>.
func ProcessedPath(rawPath string) string {
	dir, file := filepath.Split(rawPath)
	ext := filepath.Ext(file)
	name := strings.TrimSuffix(file, ext)
	return filepath.Join(dir, "processed", name+"_processed"+ext)
}
