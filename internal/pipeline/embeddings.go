package pipeline

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/kozaktomas/consent-audit/internal/constants"
	"github.com/kozaktomas/consent-audit/internal/database"
	"github.com/kozaktomas/consent-audit/internal/metrics"
)

// generateConsentEmbeddings resolves the card's project and embeds every consent face
// that has no embedding. Reference images changed since their embedding was stored are
// invalidated first. Individual failures are counted; only store and lookup errors abort.
func (o *Orchestrator) generateConsentEmbeddings(ctx context.Context, r *run) error {
	card, err := o.store.GetCard(ctx, r.cardID)
	if err != nil {
		return fmt.Errorf("could not find project ID for card %s: %w", r.cardID, err)
	}
	if card.ProjectID == "" {
		return fmt.Errorf("could not find project ID for card %s", r.cardID)
	}
	r.projectID = card.ProjectID

	faces, err := o.store.ListConsentFaces(ctx, r.projectID)
	if err != nil {
		return fmt.Errorf("list consent faces: %w", err)
	}

	var todo []database.ConsentFace
	stale := 0
	for _, f := range faces {
		if f.HasEmbedding() && o.isStale(f) {
			if err := o.store.ClearConsentEmbedding(ctx, f.ID); err != nil {
				return fmt.Errorf("invalidate embedding of consent face %s: %w", f.ID, err)
			}
			f.Embedding = nil
			stale++
		}
		if !f.HasEmbedding() {
			todo = append(todo, f)
		}
	}
	if stale > 0 {
		r.logger.Info("invalidated stale consent embeddings", zap.Int("count", stale))
	}

	o.updateTask(ctx, r, database.TaskUpdate{}.
		WithStatus(database.TaskGeneratingEmbeddings).
		WithStage("Generating Consent Embeddings"))
	o.updateCard(ctx, r, database.CardGeneratingEmbeddings)

	if len(todo) == 0 {
		r.logger.Info("all consent faces have embeddings", zap.String("project_id", r.projectID))
		return nil
	}

	r.logger.Info("generating consent embeddings",
		zap.Int("faces", len(todo)), zap.String("model", r.cfg.ModelName()))

	opts := r.cfg.EmbedOptions()
	updated, failed := 0, 0
	for i, f := range todo {
		if shouldCheck(i, constants.EmbeddingCancelEvery) {
			if err := o.checkpoint(ctx, r); err != nil {
				return err
			}
		}

		ok := false
		embedding, err := o.engine.Embed(ctx, f.ImagePath, opts)
		switch {
		case err != nil && ctx.Err() != nil:
			return ctx.Err()
		case err != nil:
			failed++
			r.logger.Warn("failed to generate embedding",
				zap.String("consent_face_id", f.ID), zap.String("path", f.ImagePath), zap.Error(err))
		case embedding == nil:
			failed++
			r.logger.Warn("no face found in consent image",
				zap.String("consent_face_id", f.ID), zap.String("path", f.ImagePath))
		default:
			if err := o.store.UpdateConsentEmbedding(ctx, f.ID, embedding); err != nil {
				failed++
				r.logger.Warn("failed to store embedding", zap.String("consent_face_id", f.ID), zap.Error(err))
			} else {
				updated++
				ok = true
			}
		}
		metrics.IncUnit("embedding", ok)

		o.reportProgress(ctx, r, i+1, len(todo), "")
	}

	r.logger.Info("consent embeddings generated", zap.Int("updated", updated), zap.Int("failed", failed))
	if failed > 0 {
		o.updateTask(ctx, r, database.TaskUpdate{}.
			WithMessage(fmt.Sprintf("Completed embedding generation with %d failures.", failed)))
	}
	return nil
}

// isStale reports whether the reference image was modified after its embedding was stored.
// Unreadable files are not treated as stale.
func (o *Orchestrator) isStale(f database.ConsentFace) bool {
	info, err := os.Stat(f.ImagePath)
	if err != nil {
		return false
	}
	return info.ModTime().After(f.LastUpdated)
}
