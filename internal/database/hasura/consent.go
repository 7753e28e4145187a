package hasura

import (
	"context"
	"time"

	"github.com/kozaktomas/consent-audit/internal/database"
)

type consentRow struct {
	ID          string     `json:"consent_face_id"`
	ProfileID   string     `json:"profile_id"`
	ImagePath   string     `json:"face_image_path"`
	Embedding   vectorText `json:"face_embedding"`
	LastUpdated time.Time  `json:"last_updated"`
	Profile     struct {
		PersonName string `json:"person_name"`
	} `json:"profile"`
}

// ListConsentFaces returns the consent faces of all profiles of a project.
func (s *Store) ListConsentFaces(ctx context.Context, projectID string) ([]database.ConsentFace, error) {
	if !validID(projectID) {
		return nil, nil
	}
	rows, err := list[consentRow](ctx, s, "consent_faces",
		"consent_face_id profile_id face_image_path face_embedding last_updated profile { person_name }",
		map[string]any{"profile": map[string]any{"project_id": eq(projectID)}},
		listOptions{order: []orderBy{{"consent_face_id": "asc"}}})
	if err != nil {
		return nil, err
	}

	var faces []database.ConsentFace
	for _, r := range rows {
		faces = append(faces, database.ConsentFace{
			ID:          r.ID,
			ProfileID:   r.ProfileID,
			PersonName:  r.Profile.PersonName,
			ImagePath:   r.ImagePath,
			Embedding:   r.Embedding,
			LastUpdated: r.LastUpdated,
		})
	}
	return faces, nil
}

// UpdateConsentEmbedding stores an embedding and bumps last_updated.
func (s *Store) UpdateConsentEmbedding(ctx context.Context, faceID string, embedding []float32) error {
	return s.setConsentEmbedding(ctx, faceID, map[string]any{
		"face_embedding": vectorText(embedding),
		"last_updated":   s.now().UTC(),
	})
}

// ClearConsentEmbedding sets the embedding to null so it is generated again.
func (s *Store) ClearConsentEmbedding(ctx context.Context, faceID string) error {
	return s.setConsentEmbedding(ctx, faceID, map[string]any{"face_embedding": nil})
}

func (s *Store) setConsentEmbedding(ctx context.Context, faceID string, set map[string]any) error {
	if !validID(faceID) {
		return database.ErrNotFound
	}
	n, err := s.update(ctx, "consent_faces", map[string]any{"consent_face_id": eq(faceID)}, set)
	if err != nil {
		return err
	}
	if n == 0 {
		return database.ErrNotFound
	}
	return nil
}
