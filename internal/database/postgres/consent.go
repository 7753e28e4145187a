package postgres

import (
	"context"
	"fmt"

	"github.com/pgvector/pgvector-go"

	"github.com/kozaktomas/consent-audit/internal/database"
)

// ListConsentFaces returns the consent faces of all profiles of a project.
func (s *Store) ListConsentFaces(ctx context.Context, projectID string) ([]database.ConsentFace, error) {
	if !validID(projectID) {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT cf.consent_face_id, cf.profile_id, p.person_name, cf.face_image_path, cf.face_embedding, cf.last_updated
		FROM consent_faces cf
		JOIN profiles p ON p.profile_id = cf.profile_id
		WHERE p.project_id = $1
		ORDER BY cf.consent_face_id`, projectID)
	if err != nil {
		return nil, fmt.Errorf("query consent faces: %w", err)
	}
	defer rows.Close()

	var faces []database.ConsentFace
	for rows.Next() {
		var (
			f   database.ConsentFace
			vec *pgvector.Vector
		)
		if err := rows.Scan(&f.ID, &f.ProfileID, &f.PersonName, &f.ImagePath, &vec, &f.LastUpdated); err != nil {
			return nil, fmt.Errorf("scan consent face: %w", err)
		}
		if vec != nil {
			f.Embedding = vec.Slice()
		}
		faces = append(faces, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate consent faces: %w", err)
	}
	return faces, nil
}

// UpdateConsentEmbedding stores an embedding and bumps last_updated.
func (s *Store) UpdateConsentEmbedding(ctx context.Context, faceID string, embedding []float32) error {
	if !validID(faceID) {
		return database.ErrNotFound
	}
	res, err := s.pool.Exec(ctx,
		"UPDATE consent_faces SET face_embedding = $2, last_updated = NOW() WHERE consent_face_id = $1",
		faceID, pgvector.NewVector(embedding),
	)
	if err != nil {
		return fmt.Errorf("update consent embedding: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return database.ErrNotFound
	}
	return nil
}

// ClearConsentEmbedding sets the embedding to null so it is generated again.
func (s *Store) ClearConsentEmbedding(ctx context.Context, faceID string) error {
	if !validID(faceID) {
		return database.ErrNotFound
	}
	res, err := s.pool.Exec(ctx, "UPDATE consent_faces SET face_embedding = NULL WHERE consent_face_id = $1", faceID)
	if err != nil {
		return fmt.Errorf("clear consent embedding: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return database.ErrNotFound
	}
	return nil
}

// CreateConsentFace adds a reference image for a person of a project, creating the
// profile when the project has none with that name. It returns the consent face id.
func (s *Store) CreateConsentFace(ctx context.Context, projectID, personName, imagePath string) (string, error) {
	tx, err := s.pool.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	var profileID string
	err = tx.QueryRowContext(ctx,
		"SELECT profile_id FROM profiles WHERE project_id = $1 AND person_name = $2 LIMIT 1",
		projectID, personName,
	).Scan(&profileID)
	if err != nil {
		profileID = newID()
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO profiles (profile_id, project_id, person_name) VALUES ($1, $2, $3)",
			profileID, projectID, personName,
		); err != nil {
			return "", fmt.Errorf("insert profile: %w", err)
		}
	}

	id := newID()
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO consent_faces (consent_face_id, profile_id, face_image_path) VALUES ($1, $2, $3)",
		id, profileID, imagePath,
	); err != nil {
		return "", fmt.Errorf("insert consent face: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit consent face: %w", err)
	}
	return id, nil
}
