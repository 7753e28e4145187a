// Package constants provides shared constants used across the codebase.
// Centralizing these values ensures consistency and makes them easier to modify.
package constants

import "time"

// Discovery loop constants
const (
	// MaxIterations caps the number of discovery iterations in a single run
	MaxIterations = 20

	// IdleBackoff is how long the orchestrator waits when an iteration did no work
	// but pending items are still reported
	IdleBackoff = time.Second
)

// Cancellation cadence: the task status is re-read every N units of work
const (
	ClipCancelEvery      = 3
	FrameCancelEvery     = 5
	FaceCancelEvery      = 10
	AnnotateCancelEvery  = 10
	EmbeddingCancelEvery = 10
)

// Frame extraction defaults
const (
	// DefaultSceneSensitivity is the scene change score above which a frame is emitted
	DefaultSceneSensitivity = 0.3

	// DefaultFallbackInterval is the fixed sampling interval in seconds
	DefaultFallbackInterval = 5.0

	// StartSceneSensitivity and StartFallbackInterval are applied when a run is
	// started without these keys in the stored card config
	StartSceneSensitivity = 0.2
	StartFallbackInterval = 6.0

	// TimecodeFPS is the frame rate used to render HH:MM:SS:FF timecodes
	TimecodeFPS = 25

	// DefaultTimecode is stored when a frame's timestamp could not be recovered
	DefaultTimecode = "00:00:00:00"

	// FFmpegLogName is the per-clip archive of the ffmpeg diagnostic output
	FFmpegLogName = "ffmpeg_output.log"
)

// Face detection and matching defaults
const (
	DefaultModelName           = "Facenet512"
	DefaultDetectorBackend     = "retinaface"
	DefaultNormalization       = "base"
	DefaultDistanceMetric      = "euclidean_l2"
	DefaultDetectionConfidence = 0.5

	// FallbackMatchThreshold is used when neither the config nor the model table
	// provides a threshold
	FallbackMatchThreshold = 0.4
)

// Watch folder constants
const (
	// WatchPollInterval is the interval between folder rescans
	WatchPollInterval = 5 * time.Second

	// WatchErrorBackoff is the wait after a failed rescan
	WatchErrorBackoff = 15 * time.Second

	// WatchInactivityTimeout stops a monitor after this long without new files
	WatchInactivityTimeout = 30 * time.Minute
)

// Web constants
const (
	// TaskEventsPollInterval is how often the SSE stream re-reads a task record
	TaskEventsPollInterval = time.Second

	// ShutdownTimeout bounds graceful shutdown of the server and background runs
	ShutdownTimeout = 30 * time.Second
)
