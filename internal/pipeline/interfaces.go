// Package pipeline runs the multi-stage consent audit of a card: frame extraction,
// face detection, matching against the consent reference set and frame annotation.
package pipeline

import (
	"context"

	"github.com/kozaktomas/consent-audit/internal/extractor"
	"github.com/kozaktomas/consent-audit/internal/facematch"
	"github.com/kozaktomas/consent-audit/internal/inference"
)

// Engine detects faces and computes face embeddings.
type Engine interface {
	Detect(ctx context.Context, imagePath string, opts inference.DetectOptions) ([]inference.Detection, error)
	Embed(ctx context.Context, imagePath string, opts inference.EmbedOptions) ([]float32, error)
}

// FrameExtractor turns a clip into still frames.
type FrameExtractor interface {
	Extract(ctx context.Context, clipID, clipPath string, s extractor.Settings) ([]extractor.ExtractedFrame, error)
}

// Annotator renders detections onto a frame and returns the path of the result.
type Annotator interface {
	Annotate(rawPath string, boxes []facematch.AnnotatedBox) (string, error)
}

// AnnotatorFunc adapts a function to the Annotator interface.
type AnnotatorFunc func(rawPath string, boxes []facematch.AnnotatedBox) (string, error)

func (f AnnotatorFunc) Annotate(rawPath string, boxes []facematch.AnnotatedBox) (string, error) {
	return f(rawPath, boxes)
}

// Outcome is how a run ended.
type Outcome string

const (
	OutcomeComplete   Outcome = "complete"
	OutcomeIncomplete Outcome = "incomplete"
	OutcomeCancelled  Outcome = "cancelled"
	OutcomeFailed     Outcome = "failed"
)
