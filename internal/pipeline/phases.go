package pipeline

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/kozaktomas/consent-audit/internal/constants"
	"github.com/kozaktomas/consent-audit/internal/database"
	"github.com/kozaktomas/consent-audit/internal/extractor"
	"github.com/kozaktomas/consent-audit/internal/facematch"
	"github.com/kozaktomas/consent-audit/internal/metrics"
)

// processClips extracts frames from every pending clip of the card.
func (o *Orchestrator) processClips(ctx context.Context, r *run) (int, error) {
	clips, err := o.store.ListClips(ctx, r.cardID, database.PendingClipStatuses...)
	if err != nil {
		return 0, fmt.Errorf("list pending clips: %w", err)
	}
	if len(clips) == 0 {
		return 0, nil
	}

	o.startStage(ctx, r, "Extracting Frames", fmt.Sprintf("Processing %d queued clips", len(clips)))

	failed := 0
	for i, clip := range clips {
		if shouldCheck(i, constants.ClipCancelEvery) {
			if err := o.checkpoint(ctx, r); err != nil {
				return i, err
			}
		}

		err := o.processClip(ctx, r, clip)
		if err != nil && ctx.Err() != nil {
			return i, ctx.Err()
		}
		// Without ffmpeg every remaining clip would fail the same way.
		if errors.Is(err, extractor.ErrFFmpegNotFound) {
			return i, err
		}
		metrics.IncUnit("clip", err == nil)
		if err != nil {
			failed++
			r.logger.Warn("clip failed", zap.String("clip_id", clip.ID), zap.String("filename", clip.Filename), zap.Error(err))
		}

		o.reportProgress(ctx, r, i+1, len(clips),
			fmt.Sprintf("Processed %d/%d clips. %d failures.", i+1, len(clips), failed))
	}

	r.logger.Info("clips processed", zap.Int("total", len(clips)), zap.Int("failed", failed))
	return len(clips), nil
}

func (o *Orchestrator) processClip(ctx context.Context, r *run, clip database.Clip) error {
	if err := o.store.UpdateClipStatus(ctx, clip.ID, database.ClipExtractingFrames, ""); err != nil {
		return fmt.Errorf("mark clip extracting: %w", err)
	}

	// Frames persisted by an interrupted earlier run are kept rather than extracted twice.
	existing, err := o.store.FrameStatusCounts(ctx, clip.ID)
	if err != nil {
		return o.failClip(ctx, clip, fmt.Errorf("count existing frames: %w", err))
	}
	if sumCounts(existing) == 0 {
		extracted, err := o.extractor.Extract(ctx, clip.ID, clip.Path, r.cfg.ExtractSettings())
		if errors.Is(err, extractor.ErrFFmpegNotFound) {
			// The clip stays in extracting_frames and is retried by the next run.
			return err
		}
		if err != nil {
			return o.failClip(ctx, clip, err)
		}

		frames := make([]database.Frame, len(extracted))
		for i, ef := range extracted {
			frames[i] = database.Frame{
				ClipID:       clip.ID,
				Timestamp:    ef.Timecode,
				RawImagePath: ef.Path,
				Status:       database.FrameQueued,
				SceneChange:  ef.SceneChange,
			}
		}
		if err := o.store.CreateFrames(ctx, frames); err != nil {
			return o.failClip(ctx, clip, fmt.Errorf("store frames: %w", err))
		}
	}

	if err := o.store.UpdateClipStatus(ctx, clip.ID, database.ClipExtractionComplete, ""); err != nil {
		return fmt.Errorf("mark clip extracted: %w", err)
	}
	return nil
}

func (o *Orchestrator) failClip(ctx context.Context, clip database.Clip, cause error) error {
	if ctx.Err() != nil {
		return cause
	}
	if err := o.store.UpdateClipStatus(ctx, clip.ID, database.ClipError, cause.Error()); err != nil {
		return errors.Join(cause, fmt.Errorf("mark clip failed: %w", err))
	}
	return cause
}

// detectFrames runs face detection on every pending frame of the card.
func (o *Orchestrator) detectFrames(ctx context.Context, r *run) (int, error) {
	frames, err := o.store.ListFrames(ctx, r.cardID, database.PendingFrameStatuses...)
	if err != nil {
		return 0, fmt.Errorf("list pending frames: %w", err)
	}
	if len(frames) == 0 {
		return 0, nil
	}

	o.startStage(ctx, r, "Detecting Faces", fmt.Sprintf("Processing %d unprocessed frames", len(frames)))

	failed := 0
	for i, frame := range frames {
		if shouldCheck(i, constants.FrameCancelEvery) {
			if err := o.checkpoint(ctx, r); err != nil {
				return i, err
			}
		}

		err := o.detectFrame(ctx, r, frame)
		if err != nil && ctx.Err() != nil {
			return i, ctx.Err()
		}
		metrics.IncUnit("frame", err == nil)
		if err != nil {
			failed++
			r.logger.Warn("face detection failed", zap.String("frame_id", frame.ID), zap.Error(err))
		}

		o.reportProgress(ctx, r, i+1, len(frames),
			fmt.Sprintf("Processed %d/%d frames. %d failures.", i+1, len(frames), failed))
	}

	r.logger.Info("frames processed", zap.Int("total", len(frames)), zap.Int("failed", failed))
	return len(frames), nil
}

func (o *Orchestrator) detectFrame(ctx context.Context, r *run, frame database.Frame) error {
	if err := o.store.UpdateFrameStatus(ctx, frame.ID, database.FrameDetectingFaces); err != nil {
		return fmt.Errorf("mark frame detecting: %w", err)
	}

	// Detections stored before an interruption are kept.
	existing, err := o.store.ListFacesForFrame(ctx, frame.ID)
	if err != nil {
		return o.failFrame(ctx, frame, fmt.Errorf("list existing faces: %w", err))
	}
	if len(existing) == 0 {
		detections, err := o.engine.Detect(ctx, frame.RawImagePath, r.cfg.DetectOptions())
		if err != nil {
			return o.failFrame(ctx, frame, fmt.Errorf("detect faces: %w", err))
		}

		minConfidence := r.cfg.DetectionConfidence()
		kept := 0
		for _, d := range detections {
			if d.Confidence < minConfidence {
				continue
			}
			face := database.DetectedFace{
				FrameID:    frame.ID,
				Area:       d.Area,
				Confidence: d.Confidence,
				Embedding:  d.Embedding,
			}
			if _, err := o.store.CreateDetectedFace(ctx, face); err != nil {
				return o.failFrame(ctx, frame, fmt.Errorf("store detected face: %w", err))
			}
			kept++
		}
		r.logger.Debug("faces detected",
			zap.String("frame_id", frame.ID), zap.Int("detected", len(detections)), zap.Int("kept", kept))
	}

	if err := o.store.UpdateFrameStatus(ctx, frame.ID, database.FrameDetectionComplete); err != nil {
		return fmt.Errorf("mark frame detected: %w", err)
	}
	return nil
}

func (o *Orchestrator) failFrame(ctx context.Context, frame database.Frame, cause error) error {
	if ctx.Err() != nil {
		return cause
	}
	if err := o.store.UpdateFrameStatus(ctx, frame.ID, database.FrameError); err != nil {
		return errors.Join(cause, fmt.Errorf("mark frame failed: %w", err))
	}
	return cause
}

// matchFaces matches every pending detection of the card against the consent set.
func (o *Orchestrator) matchFaces(ctx context.Context, r *run) (int, error) {
	faces, err := o.store.ListFaces(ctx, r.cardID, database.PendingFaceStatuses...)
	if err != nil {
		return 0, fmt.Errorf("list pending faces: %w", err)
	}
	if len(faces) == 0 {
		return 0, nil
	}

	o.startStage(ctx, r, "Matching Faces", fmt.Sprintf("Matching %d unmatched faces", len(faces)))

	consent, err := o.store.ListConsentFaces(ctx, r.projectID)
	if err != nil {
		return 0, fmt.Errorf("load consent embeddings: %w", err)
	}
	cache := facematch.EmbeddingsCache(consent)
	metric := r.cfg.Metric()
	threshold := r.cfg.MatchThreshold(o.thresholds)
	r.logger.Info("matching faces",
		zap.Int("faces", len(faces)),
		zap.Int("references", len(cache)),
		zap.String("metric", string(metric)),
		zap.Float64("threshold", threshold))

	failed, matched := 0, 0
	for i, face := range faces {
		if shouldCheck(i, constants.FaceCancelEvery) {
			if err := o.checkpoint(ctx, r); err != nil {
				return i, err
			}
		}

		ok, err := o.matchFace(ctx, face, cache, metric, threshold)
		if err != nil && ctx.Err() != nil {
			return i, ctx.Err()
		}
		metrics.IncUnit("face", err == nil)
		if err != nil {
			failed++
			r.logger.Warn("face matching failed", zap.String("detection_id", face.ID), zap.Error(err))
		} else if ok {
			matched++
		}

		o.reportProgress(ctx, r, i+1, len(faces),
			fmt.Sprintf("Matched %d/%d faces. %d failures.", i+1, len(faces), failed))
	}

	r.logger.Info("faces matched", zap.Int("total", len(faces)), zap.Int("matched", matched), zap.Int("failed", failed))
	return len(faces), nil
}

func (o *Orchestrator) matchFace(ctx context.Context, face database.DetectedFace, cache []database.ConsentFace, metric facematch.Metric, threshold float64) (bool, error) {
	if err := o.store.UpdateFaceStatus(ctx, face.ID, database.FaceMatchingFaces); err != nil {
		return false, fmt.Errorf("mark face matching: %w", err)
	}

	candidate, ok := facematch.BestMatch(face.Embedding, cache, metric, threshold)
	if ok {
		box := face.Area.Box()
		_, err := o.store.CreateFaceMatch(ctx, database.FaceMatch{
			DetectionID:   face.ID,
			ConsentFaceID: candidate.ConsentFaceID,
			Distance:      candidate.Distance,
			Threshold:     threshold,
			Source:        box,
			Target:        box,
		})
		// A match stored before an interruption is kept.
		if err != nil && !errors.Is(err, database.ErrDuplicate) {
			if ctx.Err() == nil {
				if uerr := o.store.UpdateFaceStatus(ctx, face.ID, database.FaceError); uerr != nil {
					err = errors.Join(err, uerr)
				}
			}
			return false, fmt.Errorf("store face match: %w", err)
		}
	}

	if err := o.store.UpdateFaceStatus(ctx, face.ID, database.FaceMatchingComplete); err != nil {
		return false, fmt.Errorf("mark face matched: %w", err)
	}
	return ok, nil
}

// annotateFrames renders the detections of every frame that finished detection and
// completes the frame. Frames without detections keep their raw image.
func (o *Orchestrator) annotateFrames(ctx context.Context, r *run) (int, error) {
	frames, err := o.store.ListFrames(ctx, r.cardID, database.FrameDetectionComplete)
	if err != nil {
		return 0, fmt.Errorf("list frames awaiting annotation: %w", err)
	}
	if len(frames) == 0 {
		return 0, nil
	}

	o.startStage(ctx, r, "Annotating Frames", fmt.Sprintf("Annotating %d frames", len(frames)))

	done, failed := 0, 0
	for i, frame := range frames {
		if shouldCheck(i, constants.AnnotateCancelEvery) {
			if err := o.checkpoint(ctx, r); err != nil {
				return done, err
			}
		}

		moved, err := o.annotateFrame(ctx, frame)
		if err != nil && ctx.Err() != nil {
			return done, ctx.Err()
		}
		if moved || err != nil {
			metrics.IncUnit("annotate", err == nil)
			done++
		}
		if err != nil {
			failed++
			r.logger.Warn("frame annotation failed", zap.String("frame_id", frame.ID), zap.Error(err))
		}

		o.reportProgress(ctx, r, i+1, len(frames),
			fmt.Sprintf("Annotated %d/%d frames. %d failures.", i+1, len(frames), failed))
	}
	return done, nil
}

// annotateFrame returns false without error when the frame still has detections
// waiting to be matched.
func (o *Orchestrator) annotateFrame(ctx context.Context, frame database.Frame) (bool, error) {
	faces, err := o.store.ListFacesForFrame(ctx, frame.ID)
	if err != nil {
		return false, fmt.Errorf("list frame faces: %w", err)
	}
	for _, f := range faces {
		if f.Status == database.FaceQueued || f.Status == database.FaceMatchingFaces {
			return false, nil
		}
	}

	if len(faces) == 0 {
		if err := o.store.CompleteFrame(ctx, frame.ID, frame.RawImagePath, database.FrameRecognitionComplete); err != nil {
			return false, fmt.Errorf("complete frame: %w", err)
		}
		return true, nil
	}

	matches, err := o.store.ListMatchesForFrame(ctx, frame.ID)
	if err != nil {
		return false, fmt.Errorf("list frame matches: %w", err)
	}
	matched := make(map[string]bool, len(matches))
	for _, m := range matches {
		matched[m.DetectionID] = true
	}

	boxes := make([]facematch.AnnotatedBox, len(faces))
	for i, f := range faces {
		boxes[i] = facematch.AnnotatedBox{
			Box:        f.Area.Box(),
			Confidence: f.Confidence,
			Matched:    matched[f.ID],
		}
	}

	processed, err := o.annotator.Annotate(frame.RawImagePath, boxes)
	if err != nil {
		if uerr := o.store.UpdateFrameStatus(ctx, frame.ID, database.FrameError); uerr != nil {
			err = errors.Join(err, uerr)
		}
		return false, fmt.Errorf("annotate frame: %w", err)
	}
	if err := o.store.CompleteFrame(ctx, frame.ID, processed, database.FrameRecognitionComplete); err != nil {
		return false, fmt.Errorf("complete frame: %w", err)
	}
	return true, nil
}

// completeClips moves extracted clips whose frames are all recognized to processing_complete.
func (o *Orchestrator) completeClips(ctx context.Context, r *run) error {
	clips, err := o.store.ListClips(ctx, r.cardID, database.ClipExtractionComplete)
	if err != nil {
		return fmt.Errorf("list extracted clips: %w", err)
	}

	for _, clip := range clips {
		counts, err := o.store.FrameStatusCounts(ctx, clip.ID)
		if err != nil {
			return fmt.Errorf("count frames of clip %s: %w", clip.ID, err)
		}
		total := sumCounts(counts)
		if total == 0 || counts[database.FrameRecognitionComplete] != total {
			continue
		}
		if err := o.store.UpdateClipStatus(ctx, clip.ID, database.ClipProcessingComplete, ""); err != nil {
			r.logger.Warn("failed to complete clip", zap.String("clip_id", clip.ID), zap.Error(err))
			continue
		}
		r.logger.Info("clip complete", zap.String("clip_id", clip.ID), zap.Int("frames", total))
	}
	return nil
}

func sumCounts[K comparable](m map[K]int) int {
	n := 0
	for _, v := range m {
		n += v
	}
	return n
}
