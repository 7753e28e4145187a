// Package extractor turns a video clip into candidate still frames using ffmpeg.
package extractor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/kozaktomas/consent-audit/internal/constants"
)

var (
	// ErrFFmpegNotFound is returned when the ffmpeg binary cannot be executed.
	ErrFFmpegNotFound = errors.New("ffmpeg not installed")

	// ErrNoFrames is returned when ffmpeg succeeded but wrote no frames.
	ErrNoFrames = errors.New("no frames were extracted from the video")
)

const stderrTailLines = 20

// Runner executes an external command and returns what it wrote to stderr.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stderr.Bytes(), err
}

// ExtractedFrame is one frame image written by ffmpeg.
type ExtractedFrame struct {
	Path        string
	Seconds     float64
	Timecode    string
	SceneChange bool
}

// Extractor runs ffmpeg for clips and collects the resulting frames.
type Extractor struct {
	ffmpeg    string
	framesDir string
	lutDir    string
	runner    Runner
	logger    *zap.Logger
}

// New creates an extractor writing under framesDir. A nil runner uses ExecRunner.
func New(ffmpegPath, framesDir, lutDir string, runner Runner, logger *zap.Logger) *Extractor {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if runner == nil {
		runner = ExecRunner{}
	}
	return &Extractor{
		ffmpeg:    ffmpegPath,
		framesDir: framesDir,
		lutDir:    lutDir,
		runner:    runner,
		logger:    logger.Named("extractor"),
	}
}

// CheckFFmpeg verifies that the ffmpeg binary runs.
func (e *Extractor) CheckFFmpeg(ctx context.Context) error {
	if _, err := e.runner.Run(ctx, e.ffmpeg, "-version"); err != nil {
		return fmt.Errorf("%w: %v", ErrFFmpegNotFound, err)
	}
	return nil
}

// resolveLUT returns the absolute path of the configured LUT, or "" when the LUT is not
// used or does not exist.
func (e *Extractor) resolveLUT(s Settings) string {
	if s.UseEQ || s.LUTFile == "" {
		return ""
	}
	path, err := filepath.Abs(filepath.Join(e.lutDir, s.LUTFile))
	if err == nil {
		if _, err = os.Stat(path); err == nil {
			return path
		}
	}
	e.logger.Warn("LUT file not found, falling back to equalization",
		zap.String("lut", s.LUTFile), zap.Error(err))
	return ""
}

// Extract writes the frames of clipPath into <framesDir>/<clipID> and returns them
// ordered by timestamp. The ffmpeg diagnostic output is kept next to the frames.
// Output of an earlier, interrupted extraction of the same clip is discarded first.
func (e *Extractor) Extract(ctx context.Context, clipID, clipPath string, s Settings) ([]ExtractedFrame, error) {
	if err := e.CheckFFmpeg(ctx); err != nil {
		return nil, err
	}

	outDir, err := e.prepareOutputDir(clipID)
	if err != nil {
		return nil, err
	}

	lut := e.resolveLUT(s)
	if s.LUTFile != "" && !s.UseEQ && lut == "" {
		s.UseEQ = true
	}
	args := BuildArgs(clipPath, FilterGraph(s, lut), outDir)

	e.logger.Info("extracting frames",
		zap.String("clip_id", clipID),
		zap.String("path", clipPath),
		zap.Float64("scene_sensitivity", s.SceneSensitivity),
		zap.Float64("fallback_interval", s.FallbackInterval),
		zap.Bool("use_eq", s.UseEQ),
		zap.String("lut", lut))
	e.logger.Debug("ffmpeg command", zap.String("cmd", e.ffmpeg+" "+strings.Join(args, " ")))

	stderr, runErr := e.runner.Run(ctx, e.ffmpeg, args...)
	if err := os.WriteFile(filepath.Join(outDir, constants.FFmpegLogName), stderr, 0o644); err != nil {
		e.logger.Warn("failed to archive ffmpeg output", zap.String("clip_id", clipID), zap.Error(err))
	}
	if runErr != nil {
		return nil, fmt.Errorf("ffmpeg failed: %w: %s", runErr, tail(stderr, stderrTailLines))
	}

	frames, err := e.collect(outDir, ParseShowinfo(stderr))
	if err != nil {
		return nil, err
	}
	e.logger.Info("extracted frames", zap.String("clip_id", clipID), zap.Int("count", len(frames)))
	return frames, nil
}

// prepareOutputDir returns an empty <framesDir>/<clipID> directory.
func (e *Extractor) prepareOutputDir(clipID string) (string, error) {
	if clipID == "" || clipID != filepath.Base(clipID) || clipID == "." || clipID == ".." {
		return "", fmt.Errorf("invalid clip id %q", clipID)
	}
	outDir := filepath.Join(e.framesDir, clipID)
	if err := os.RemoveAll(outDir); err != nil {
		return "", fmt.Errorf("failed to clear output directory: %w", err)
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}
	return outDir, nil
}

// collect pairs the files in outDir with the showinfo trace. Output file number k of a
// stream was produced by the frame with showinfo index n = k-1.
func (e *Extractor) collect(outDir string, trace Trace) ([]ExtractedFrame, error) {
	var frames []ExtractedFrame
	missing := 0

	for _, stream := range []string{sceneStream, fallbackStream} {
		files, err := filepath.Glob(filepath.Join(outDir, stream+"_*.png"))
		if err != nil {
			return nil, fmt.Errorf("failed to list frames: %w", err)
		}
		sort.Strings(files)

		for _, f := range files {
			abs, err := filepath.Abs(f)
			if err != nil {
				abs = f
			}
			frame := ExtractedFrame{
				Path:        abs,
				Timecode:    constants.DefaultTimecode,
				SceneChange: stream == sceneStream,
			}
			if k, ok := sequenceNumber(f, stream); ok {
				if ts, ok := trace.Lookup(stream, k-1); ok {
					frame.Seconds = ts
					frame.Timecode = FormatTimecode(ts)
				} else {
					missing++
				}
			} else {
				missing++
			}
			frames = append(frames, frame)
		}
	}

	if len(frames) == 0 {
		return nil, ErrNoFrames
	}
	if missing > 0 {
		e.logger.Warn("frames without timestamp, using default timecode",
			zap.Int("missing", missing), zap.Int("total", len(frames)))
	}

	sort.SliceStable(frames, func(i, j int) bool { return frames[i].Seconds < frames[j].Seconds })
	return frames, nil
}

// sequenceNumber extracts k from "<stream>_%04d.png".
func sequenceNumber(path, stream string) (int, bool) {
	name := strings.TrimSuffix(filepath.Base(path), ".png")
	num, ok := strings.CutPrefix(name, stream+"_")
	if !ok {
		return 0, false
	}
	k, err := strconv.Atoi(num)
	if err != nil || k < 1 {
		return 0, false
	}
	return k, true
}

func tail(b []byte, n int) string {
	lines := strings.Split(strings.TrimRight(string(b), "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
