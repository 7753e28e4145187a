package extractor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/kozaktomas/consent-audit/internal/constants"
)

// fakeFFmpeg stands in for the ffmpeg binary: it writes the requested number of frames
// to the output patterns and returns a showinfo log.
type fakeFFmpeg struct {
	versionErr error
	runErr     error
	scene      []float64 // pts_time of each scene frame
	fallback   []float64
	noTrace    bool

	calls [][]string
}

func (f *fakeFFmpeg) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	f.calls = append(f.calls, args)
	if len(args) == 1 && args[0] == "-version" {
		return nil, f.versionErr
	}
	if f.runErr != nil {
		return []byte("line1\nInvalid data found when processing input\n"), f.runErr
	}

	var patterns []string
	for _, a := range args {
		if strings.HasSuffix(a, "_%04d.png") {
			patterns = append(patterns, a)
		}
	}
	if len(patterns) != 2 {
		return nil, fmt.Errorf("unexpected args %v", args)
	}

	overwrite := slices.Contains(args, "-y")

	var log strings.Builder
	write := func(pattern, stream string, times []float64) error {
		for i, ts := range times {
			name := fmt.Sprintf(pattern, i+1)
			if _, err := os.Stat(name); err == nil && !overwrite {
				return fmt.Errorf("file '%s' already exists. Overwrite? Not overwriting - exiting", name)
			}
			if err := os.WriteFile(name, []byte("png"), 0o644); err != nil {
				return err
			}
			if !f.noTrace {
				fmt.Fprintf(&log, "[Parsed_showinfo@%s_1 @ 0x1] n:%4d pts:%7d pts_time:%g\n", stream, i, int(ts*12800), ts)
			}
		}
		return nil
	}
	if err := write(patterns[0], sceneStream, f.scene); err != nil {
		return nil, err
	}
	if err := write(patterns[1], fallbackStream, f.fallback); err != nil {
		return nil, err
	}
	return []byte(log.String()), nil
}

func (f *fakeFFmpeg) filterGraph() string {
	last := f.calls[len(f.calls)-1]
	for i, a := range last {
		if a == "-filter_complex" && i+1 < len(last) {
			return last[i+1]
		}
	}
	return ""
}

func newTestExtractor(t *testing.T, runner Runner) (*Extractor, string, string) {
	t.Helper()
	framesDir := t.TempDir()
	lutDir := t.TempDir()
	return New("ffmpeg", framesDir, lutDir, runner, zap.NewNop()), framesDir, lutDir
}

func TestExtract(t *testing.T) {
	ff := &fakeFFmpeg{scene: []float64{3.2, 9.5}, fallback: []float64{0, 5, 10}}
	e, framesDir, _ := newTestExtractor(t, ff)

	frames, err := e.Extract(context.Background(), "clip-1", "/clips/a.mp4", Settings{SceneSensitivity: 0.3, FallbackInterval: 5, UseEQ: true})
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}

	if len(frames) != 5 {
		t.Fatalf("expected 5 frames, got %d", len(frames))
	}
	expectedOrder := []struct {
		seconds float64
		scene   bool
	}{{0, false}, {3.2, true}, {5, false}, {9.5, true}, {10, false}}
	for i, want := range expectedOrder {
		if frames[i].Seconds != want.seconds || frames[i].SceneChange != want.scene {
			t.Errorf("frame %d = %+v, want seconds=%v scene=%v", i, frames[i], want.seconds, want.scene)
		}
		if !filepath.IsAbs(frames[i].Path) {
			t.Errorf("frame %d path %q is not absolute", i, frames[i].Path)
		}
	}
	if frames[1].Timecode != "00:00:03:05" {
		t.Errorf("unexpected timecode %q", frames[1].Timecode)
	}
	if !strings.HasSuffix(frames[1].Path, "scene_0001.png") {
		t.Errorf("scene frame paired with wrong file: %s", frames[1].Path)
	}

	if _, err := os.Stat(filepath.Join(framesDir, "clip-1", constants.FFmpegLogName)); err != nil {
		t.Errorf("ffmpeg log not archived: %v", err)
	}
	if !strings.Contains(ff.filterGraph(), eqFilter) {
		t.Errorf("expected eq filter, got %s", ff.filterGraph())
	}
}

func TestExtract_RerunReplacesEarlierOutput(t *testing.T) {
	ff := &fakeFFmpeg{scene: []float64{1}, fallback: []float64{0, 5}}
	e, framesDir, _ := newTestExtractor(t, ff)

	// Leftovers of an interrupted run that produced more frames than this one.
	outDir := filepath.Join(framesDir, "clip-1")
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"scene_0001.png", "scene_0002.png", "fallback_0001.png", "fallback_0003.png"} {
		if err := os.WriteFile(filepath.Join(outDir, name), []byte("old"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	frames, err := e.Extract(context.Background(), "clip-1", "/clips/a.mp4", Settings{SceneSensitivity: 0.3, FallbackInterval: 5, UseEQ: true})
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if len(frames) != 3 {
		t.Fatalf("expected 3 frames, got %d: %+v", len(frames), frames)
	}
	for _, name := range []string{"scene_0002.png", "fallback_0003.png"} {
		if _, err := os.Stat(filepath.Join(outDir, name)); !os.IsNotExist(err) {
			t.Errorf("stale frame %s was kept", name)
		}
	}
	data, err := os.ReadFile(filepath.Join(outDir, "scene_0001.png"))
	if err != nil || string(data) != "png" {
		t.Errorf("scene_0001.png not rewritten: %q, %v", data, err)
	}
}

func TestExtract_RejectsUnsafeClipID(t *testing.T) {
	e, framesDir, _ := newTestExtractor(t, &fakeFFmpeg{scene: []float64{1}})
	keep := filepath.Join(framesDir, "other-clip")
	if err := os.MkdirAll(keep, 0o755); err != nil {
		t.Fatal(err)
	}

	for _, id := range []string{"", ".", "..", "a/b"} {
		if _, err := e.Extract(context.Background(), id, "/clips/a.mp4", Settings{UseEQ: true}); err == nil {
			t.Errorf("expected error for clip id %q", id)
		}
	}
	if _, err := os.Stat(keep); err != nil {
		t.Errorf("frames of other clips must survive: %v", err)
	}
}

func TestExtract_MissingLUTFallsBackToEQ(t *testing.T) {
	ff := &fakeFFmpeg{fallback: []float64{0}}
	e, _, _ := newTestExtractor(t, ff)

	frames, err := e.Extract(context.Background(), "clip-1", "/clips/a.mp4",
		Settings{SceneSensitivity: 0.3, FallbackInterval: 5, UseEQ: false, LUTFile: "missing.cube"})
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if len(frames) != 1 {
		t.Errorf("expected 1 frame, got %d", len(frames))
	}

	graph := ff.filterGraph()
	if strings.Contains(graph, "lut3d") {
		t.Errorf("missing LUT must not be referenced: %s", graph)
	}
	if !strings.Contains(graph, eqFilter) {
		t.Errorf("expected eq fallback, got %s", graph)
	}
}

func TestExtract_UsesExistingLUT(t *testing.T) {
	ff := &fakeFFmpeg{fallback: []float64{0}}
	e, _, lutDir := newTestExtractor(t, ff)
	if err := os.WriteFile(filepath.Join(lutDir, "look.cube"), []byte("LUT_3D_SIZE 2"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := e.Extract(context.Background(), "clip-1", "/clips/a.mp4",
		Settings{SceneSensitivity: 0.3, FallbackInterval: 5, LUTFile: "look.cube"}); err != nil {
		t.Fatalf("Extract failed: %v", err)
	}

	graph := ff.filterGraph()
	if !strings.Contains(graph, "lut3d='") || !strings.Contains(graph, "look.cube") {
		t.Errorf("expected lut3d filter, got %s", graph)
	}
	if strings.Contains(graph, eqFilter) {
		t.Errorf("eq must not be combined with LUT: %s", graph)
	}
}

func TestExtract_FFmpegNotFound(t *testing.T) {
	ff := &fakeFFmpeg{versionErr: errors.New("executable file not found in $PATH")}
	e, _, _ := newTestExtractor(t, ff)

	_, err := e.Extract(context.Background(), "clip-1", "/clips/a.mp4", Settings{FallbackInterval: 5})
	if !errors.Is(err, ErrFFmpegNotFound) {
		t.Fatalf("expected ErrFFmpegNotFound, got %v", err)
	}
	if len(ff.calls) != 1 {
		t.Errorf("expected only the version check, got %d calls", len(ff.calls))
	}
}

func TestExtract_FFmpegFails(t *testing.T) {
	ff := &fakeFFmpeg{runErr: errors.New("exit status 1")}
	e, framesDir, _ := newTestExtractor(t, ff)

	_, err := e.Extract(context.Background(), "clip-1", "/clips/broken.mp4", Settings{FallbackInterval: 5})
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "Invalid data found") {
		t.Errorf("error should carry stderr tail: %v", err)
	}
	if _, err := os.Stat(filepath.Join(framesDir, "clip-1", constants.FFmpegLogName)); err != nil {
		t.Errorf("ffmpeg log should be archived on failure: %v", err)
	}
}

func TestExtract_NoFrames(t *testing.T) {
	e, _, _ := newTestExtractor(t, &fakeFFmpeg{})

	_, err := e.Extract(context.Background(), "clip-1", "/clips/black.mp4", Settings{FallbackInterval: 5})
	if !errors.Is(err, ErrNoFrames) {
		t.Fatalf("expected ErrNoFrames, got %v", err)
	}
}

func TestExtract_MissingTraceUsesDefaultTimecode(t *testing.T) {
	ff := &fakeFFmpeg{scene: []float64{2}, fallback: []float64{0, 5}, noTrace: true}
	e, _, _ := newTestExtractor(t, ff)

	frames, err := e.Extract(context.Background(), "clip-1", "/clips/a.mp4", Settings{FallbackInterval: 5})
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if len(frames) != 3 {
		t.Fatalf("expected 3 frames, got %d", len(frames))
	}
	for _, f := range frames {
		if f.Timecode != constants.DefaultTimecode {
			t.Errorf("expected default timecode, got %q", f.Timecode)
		}
	}
}

func TestSequenceNumber(t *testing.T) {
	tests := []struct {
		path   string
		stream string
		want   int
		ok     bool
	}{
		{"/x/scene_0001.png", sceneStream, 1, true},
		{"/x/fallback_0120.png", fallbackStream, 120, true},
		{"/x/scene_0000.png", sceneStream, 0, false},
		{"/x/scene_abcd.png", sceneStream, 0, false},
		{"/x/fallback_0001.png", sceneStream, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, ok := sequenceNumber(tt.path, tt.stream)
			if got != tt.want || ok != tt.ok {
				t.Errorf("sequenceNumber(%q) = %d,%v want %d,%v", tt.path, got, ok, tt.want, tt.ok)
			}
		})
	}
}
