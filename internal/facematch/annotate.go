package facematch

import (
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/kozaktomas/consent-audit/internal/database"
)

const boxThickness = 2

var (
	matchedColor   = color.RGBA{R: 0, G: 255, B: 0, A: 255}
	unmatchedColor = color.RGBA{R: 255, G: 0, B: 0, A: 255}
)

// AnnotatedBox is one detection to draw onto a frame.
type AnnotatedBox struct {
	Box        database.Box
	Confidence float64
	Matched    bool
}

// Annotate draws boxes onto the image at rawPath and writes the result to
// ProcessedPath(rawPath). Green marks a matched detection, red an unmatched one.
// The detection confidence is written above each box and the match state below it.
func Annotate(rawPath string, boxes []AnnotatedBox) (string, error) {
	f, err := os.Open(rawPath)
	if err != nil {
		return "", fmt.Errorf("failed to open frame: %w", err)
	}
	src, _, err := image.Decode(f)
	f.Close()
	if err != nil {
		return "", fmt.Errorf("failed to decode frame: %w", err)
	}

	bounds := src.Bounds()
	canvas := image.NewRGBA(bounds)
	draw.Draw(canvas, bounds, src, bounds.Min, draw.Src)

	for _, b := range boxes {
		c := unmatchedColor
		label := "Unmatched"
		if b.Matched {
			c = matchedColor
			label = "Matched"
		}
		r := ClampBox(b.Box, bounds)
		if r.Empty() {
			continue
		}
		drawRect(canvas, r, c, boxThickness)
		drawLabel(canvas, fmt.Sprintf("%.2f", b.Confidence), r.Min.X, r.Min.Y-10, c)
		drawLabel(canvas, label, r.Min.X, r.Max.Y+15, c)
	}

	out := ProcessedPath(rawPath)
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return "", fmt.Errorf("failed to create processed directory: %w", err)
	}
	if err := writeImage(out, canvas); err != nil {
		return "", err
	}
	return out, nil
}

func drawRect(img *image.RGBA, r image.Rectangle, c color.Color, thickness int) {
	u := image.NewUniform(c)
	edges := []image.Rectangle{
		image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+thickness),
		image.Rect(r.Min.X, r.Max.Y-thickness, r.Max.X, r.Max.Y),
		image.Rect(r.Min.X, r.Min.Y, r.Min.X+thickness, r.Max.Y),
		image.Rect(r.Max.X-thickness, r.Min.Y, r.Max.X, r.Max.Y),
	}
	for _, e := range edges {
		draw.Draw(img, e.Intersect(img.Bounds()), u, image.Point{}, draw.Src)
	}
}

// drawLabel writes text with its baseline at (x, y), moved inside the image if needed.
func drawLabel(img *image.RGBA, text string, x, y int, c color.Color) {
	face := basicfont.Face7x13
	b := img.Bounds()
	y = max(y, b.Min.Y+face.Ascent)
	y = min(y, b.Max.Y-face.Descent)
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: face,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(text)
}

// writeImage encodes img by the extension of path. A file that could not be
// written completely is removed.
func writeImage(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := encodeImage(f, path, img); err != nil {
		_ = os.Remove(path)
		return err
	}
	return nil
}

// encodeImage writes img to w and closes it. The close error is reported since
// buffered data may only reach the disk on close.
func encodeImage(w io.WriteCloser, path string, img image.Image) error {
	var err error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		err = jpeg.Encode(w, img, &jpeg.Options{Quality: 95})
	default:
		err = png.Encode(w, img)
	}
	if err != nil {
		_ = w.Close()
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
