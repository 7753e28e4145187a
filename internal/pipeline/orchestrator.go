package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kozaktomas/consent-audit/internal/constants"
	"github.com/kozaktomas/consent-audit/internal/database"
	"github.com/kozaktomas/consent-audit/internal/facematch"
	"github.com/kozaktomas/consent-audit/internal/metrics"
)

// errCancelRequested is returned from a checkpoint when the task was asked to stop.
var errCancelRequested = errors.New("cancellation requested")

// Options configures an Orchestrator. Zero values select the package defaults.
type Options struct {
	MaxIterations int
	IdleBackoff   time.Duration
	Thresholds    facematch.ThresholdTable
}

// Orchestrator advances the clips, frames and faces of one card until no work is left.
type Orchestrator struct {
	store      database.Store
	engine     Engine
	extractor  FrameExtractor
	annotator  Annotator
	thresholds facematch.ThresholdTable
	logger     *zap.Logger

	maxIterations int
	idleBackoff   time.Duration
}

// NewOrchestrator creates an orchestrator. A nil annotator uses facematch.Annotate.
func NewOrchestrator(store database.Store, engine Engine, ex FrameExtractor, annotator Annotator, logger *zap.Logger, opts Options) *Orchestrator {
	if annotator == nil {
		annotator = AnnotatorFunc(facematch.Annotate)
	}
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = constants.MaxIterations
	}
	if opts.IdleBackoff <= 0 {
		opts.IdleBackoff = constants.IdleBackoff
	}
	return &Orchestrator{
		store:         store,
		engine:        engine,
		extractor:     ex,
		annotator:     annotator,
		thresholds:    opts.Thresholds,
		logger:        logger.Named("pipeline"),
		maxIterations: opts.MaxIterations,
		idleBackoff:   opts.IdleBackoff,
	}
}

// PendingCounts is the amount of outstanding work of a card.
type PendingCounts struct {
	Clips       int
	Frames      int
	Faces       int
	Annotations int // frames in detection_complete awaiting the visualization pass
}

func (p PendingCounts) Total() int {
	return p.Clips + p.Frames + p.Faces + p.Annotations
}

// PendingCounts counts the outstanding work of a card. A failed query is returned as an
// error and never reported as zero.
func (o *Orchestrator) PendingCounts(ctx context.Context, cardID string) (PendingCounts, error) {
	return countPending(ctx, o.store, cardID)
}

func countPending(ctx context.Context, store database.Store, cardID string) (PendingCounts, error) {
	var p PendingCounts
	var err error
	if p.Clips, err = store.CountClips(ctx, cardID, database.PendingClipStatuses...); err != nil {
		return p, fmt.Errorf("count pending clips: %w", err)
	}
	if p.Frames, err = store.CountFrames(ctx, cardID, database.PendingFrameStatuses...); err != nil {
		return p, fmt.Errorf("count pending frames: %w", err)
	}
	if p.Faces, err = store.CountFaces(ctx, cardID, database.PendingFaceStatuses...); err != nil {
		return p, fmt.Errorf("count pending faces: %w", err)
	}
	if p.Annotations, err = store.CountFrames(ctx, cardID, database.FrameDetectionComplete); err != nil {
		return p, fmt.Errorf("count frames awaiting annotation: %w", err)
	}
	return p, nil
}

// run carries the state of one Run call.
type run struct {
	taskID    string
	cardID    string
	projectID string
	cfg       RunConfig
	iteration int
	logger    *zap.Logger
}

// Run executes the full pipeline for a card under taskID and records the outcome on the
// task and the card. The returned error is non-nil only for OutcomeFailed.
func (o *Orchestrator) Run(ctx context.Context, taskID, cardID string, cfg RunConfig) (Outcome, error) {
	metrics.RunStarted()
	r := &run{
		taskID: taskID,
		cardID: cardID,
		cfg:    cfg,
		logger: o.logger.With(zap.String("task_id", taskID), zap.String("card_id", cardID)),
	}
	r.logger.Info("starting run")

	outcome, msg, err := o.execute(ctx, r)

	// The final status is recorded even when ctx was cancelled by shutdown.
	fctx := context.WithoutCancel(ctx)
	switch outcome {
	case OutcomeComplete:
		o.updateTask(fctx, r, database.TaskUpdate{}.
			WithStatus(database.TaskComplete).
			WithStage("Complete").
			WithProgress(1).
			WithMessage(msg))
		o.updateCard(fctx, r, database.CardComplete)
	case OutcomeIncomplete:
		o.updateTask(fctx, r, database.TaskUpdate{}.
			WithStatus(database.TaskIncomplete).
			WithStage("Incomplete").
			WithMessage(msg))
		o.updateCard(fctx, r, database.CardPaused)
	case OutcomeCancelled:
		o.updateTask(fctx, r, database.TaskUpdate{}.
			WithStatus(database.TaskCancelled).
			WithMessage(msg))
		o.updateCard(fctx, r, database.CardPaused)
	case OutcomeFailed:
		o.updateTask(fctx, r, database.TaskUpdate{}.
			WithStatus(database.TaskError).
			WithStage("Error").
			WithMessage(msg))
		o.updateCard(fctx, r, database.CardError)
	}

	metrics.RunFinished(string(outcome))
	if err != nil {
		r.logger.Error("run failed", zap.Int("iterations", r.iteration), zap.Error(err))
	} else {
		r.logger.Info("run finished", zap.String("outcome", string(outcome)), zap.Int("iterations", r.iteration), zap.String("message", msg))
	}
	return outcome, err
}

// execute runs the stages and returns the outcome with its final task message.
func (o *Orchestrator) execute(ctx context.Context, r *run) (Outcome, string, error) {
	if err := o.generateConsentEmbeddings(ctx, r); err != nil {
		return o.classify(ctx, err, fmt.Sprintf("Embedding generation failed: %v", err))
	}
	if err := o.checkpoint(ctx, r); err != nil {
		return o.classify(ctx, err, "")
	}

	initial, err := o.PendingCounts(ctx, r.cardID)
	if err != nil {
		return OutcomeFailed, fmt.Sprintf("Critical processing error: %v", err), err
	}
	if initial.Total() == 0 {
		return OutcomeComplete, "No work to process.", nil
	}

	o.updateCard(ctx, r, database.CardProcessing)

	for r.iteration < o.maxIterations {
		r.iteration++
		r.logger.Info("starting iteration", zap.Int("iteration", r.iteration))

		if err := o.checkpoint(ctx, r); err != nil {
			return o.classify(ctx, err, "")
		}

		counts, err := o.PendingCounts(ctx, r.cardID)
		if err != nil {
			return OutcomeFailed, fmt.Sprintf("Critical processing error: %v", err), err
		}
		r.logger.Info("pending work",
			zap.Int("clips", counts.Clips),
			zap.Int("frames", counts.Frames),
			zap.Int("faces", counts.Faces),
			zap.Int("annotations", counts.Annotations))

		done, err := o.iterate(ctx, r)
		if err != nil {
			return o.classify(ctx, err, fmt.Sprintf("Critical processing error: %v", err))
		}

		if done > 0 {
			continue
		}

		remaining, err := o.PendingCounts(ctx, r.cardID)
		if err != nil {
			return OutcomeFailed, fmt.Sprintf("Critical processing error: %v", err), err
		}
		if remaining.Total() == 0 {
			return OutcomeComplete, fmt.Sprintf("Processing complete after %d iterations.", r.iteration), nil
		}
		r.logger.Info("no work done but items remain, backing off",
			zap.Int("pending", remaining.Total()), zap.Duration("backoff", o.idleBackoff))
		select {
		case <-ctx.Done():
			return o.classify(ctx, ctx.Err(), "")
		case <-time.After(o.idleBackoff):
		}
	}

	remaining, err := o.PendingCounts(ctx, r.cardID)
	if err != nil {
		return OutcomeFailed, fmt.Sprintf("Critical processing error: %v", err), err
	}
	if remaining.Total() > 0 {
		r.logger.Warn("iteration cap reached with pending work",
			zap.Int("max_iterations", o.maxIterations), zap.Int("pending", remaining.Total()))
		return OutcomeIncomplete, fmt.Sprintf("Processing stopped after %d iterations with %d items still pending.", r.iteration, remaining.Total()), nil
	}
	return OutcomeComplete, fmt.Sprintf("Processing complete after %d iterations.", r.iteration), nil
}

// iterate runs one pass of every stage and returns how many units it moved.
func (o *Orchestrator) iterate(ctx context.Context, r *run) (int, error) {
	total := 0

	n, err := o.processClips(ctx, r)
	total += n
	if err != nil {
		return total, err
	}

	n, err = o.detectFrames(ctx, r)
	total += n
	if err != nil {
		return total, err
	}

	if err := o.checkpoint(ctx, r); err != nil {
		return total, err
	}

	n, err = o.matchFaces(ctx, r)
	total += n
	if err != nil {
		return total, err
	}

	n, err = o.annotateFrames(ctx, r)
	total += n
	if err != nil {
		return total, err
	}

	if err := o.completeClips(ctx, r); err != nil {
		return total, err
	}
	return total, nil
}

// classify maps a stage error to an outcome. Cancellation by the user and by process
// shutdown both end the run as cancelled, leaving units resumable.
func (o *Orchestrator) classify(ctx context.Context, err error, failMsg string) (Outcome, string, error) {
	switch {
	case errors.Is(err, errCancelRequested):
		return OutcomeCancelled, "Processing cancelled by user request.", nil
	case ctx.Err() != nil:
		return OutcomeCancelled, "Processing interrupted by shutdown.", nil
	default:
		if failMsg == "" {
			failMsg = fmt.Sprintf("Critical processing error: %v", err)
		}
		return OutcomeFailed, failMsg, err
	}
}

// checkpoint reports whether the run must stop. A store error while reading the task
// status is logged and ignored; the next checkpoint tries again.
func (o *Orchestrator) checkpoint(ctx context.Context, r *run) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	status, err := o.store.GetTaskStatus(ctx, r.taskID)
	if err != nil {
		r.logger.Warn("failed to check task status for cancellation", zap.Error(err))
		return nil
	}
	if status.IsCancelRequested() {
		r.logger.Info("cancellation requested")
		return errCancelRequested
	}
	return nil
}

// shouldCheck reports whether unit i of a batch is a cancellation checkpoint.
func shouldCheck(i, every int) bool {
	return i%every == 0
}

func (o *Orchestrator) updateTask(ctx context.Context, r *run, upd database.TaskUpdate) {
	if err := o.store.UpdateTask(ctx, r.taskID, upd); err != nil {
		r.logger.Warn("failed to update task", zap.Error(err))
	}
}

func (o *Orchestrator) updateCard(ctx context.Context, r *run, status database.CardStatus) {
	if err := o.store.UpdateCardStatus(ctx, r.cardID, status); err != nil {
		r.logger.Warn("failed to update card status", zap.String("status", string(status)), zap.Error(err))
	}
}

func (o *Orchestrator) startStage(ctx context.Context, r *run, stage, msg string) {
	o.updateTask(ctx, r, database.TaskUpdate{}.
		WithStatus(database.TaskProcessingClips).
		WithStage(fmt.Sprintf("%s (Iteration %d)", stage, r.iteration)).
		WithProgress(0).
		WithMessage(msg))
}

func (o *Orchestrator) reportProgress(ctx context.Context, r *run, done, total int, msg string) {
	upd := database.TaskUpdate{}.WithProgress(float64(done) / float64(total))
	if msg != "" {
		upd = upd.WithMessage(msg)
	}
	o.updateTask(ctx, r, upd)
}
