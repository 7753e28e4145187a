package extractor

import (
	"fmt"
	"path/filepath"
	"strconv"
)

const (
	sceneStream    = "scene"
	fallbackStream = "fallback"

	eqFilter = "eq=contrast=1.5:saturation=1.5,"
)

// Settings controls frame selection and colour preprocessing for one clip.
type Settings struct {
	// SceneSensitivity is the scene score above which a frame is emitted
	SceneSensitivity float64
	// FallbackInterval is the fixed sampling period in seconds
	FallbackInterval float64
	// UseEQ applies contrast/saturation equalization before selection
	UseEQ bool
	// LUTFile names a .cube file under the LUT directory; only used when UseEQ is false
	LUTFile string
}

// FilterGraph builds the two-branch filter_complex. The scene branch keeps frames whose
// scene score exceeds the sensitivity, the fallback branch samples one frame every
// interval seconds. Both branches end in a named showinfo instance so their trace lines
// can be told apart. lutPath, when non-empty, takes precedence over equalization.
func FilterGraph(s Settings, lutPath string) string {
	pre := ""
	switch {
	case lutPath != "":
		pre = fmt.Sprintf("lut3d='%s',", lutPath)
	case s.UseEQ:
		pre = eqFilter
	}

	scene := strconv.FormatFloat(s.SceneSensitivity, 'f', -1, 64)
	interval := strconv.FormatFloat(s.FallbackInterval, 'f', -1, 64)

	return fmt.Sprintf(
		"[0:v]split[v1][v2];"+
			"[v1]%sselect='gt(scene,%s)',showinfo@%s[vout1];"+
			"[v2]%sfps=1/%s,showinfo@%s[vout2]",
		pre, scene, sceneStream,
		pre, interval, fallbackStream,
	)
}

// BuildArgs returns the ffmpeg arguments that write both branches as PNG sequences
// into outDir, overwriting existing files without prompting.
func BuildArgs(clipPath, graph, outDir string) []string {
	return []string{
		"-hide_banner",
		"-nostdin",
		"-y",
		"-i", clipPath,
		"-filter_complex", graph,
		"-map", "[vout1]", "-vsync", "vfr", "-q:v", "2", filepath.Join(outDir, sceneStream+"_%04d.png"),
		"-map", "[vout2]", "-vsync", "vfr", "-q:v", "2", filepath.Join(outDir, fallbackStream+"_%04d.png"),
	}
}
