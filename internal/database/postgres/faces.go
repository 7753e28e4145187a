package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pgvector/pgvector-go"

	"github.com/kozaktomas/consent-audit/internal/database"
)

const faceColumns = `d.detection_id, d.frame_id, d.facial_area, d.confidence, d.face_embeddings, d.status`

func scanFace(row interface{ Scan(...any) error }) (*database.DetectedFace, error) {
	var (
		f    database.DetectedFace
		area []byte
		vec  *pgvector.Vector
	)
	if err := row.Scan(&f.ID, &f.FrameID, &area, &f.Confidence, &vec, &f.Status); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(area, &f.Area); err != nil {
		return nil, fmt.Errorf("decode facial area: %w", err)
	}
	if vec != nil {
		f.Embedding = vec.Slice()
	}
	return &f, nil
}

func scanFaces(rows interface {
	Next() bool
	Scan(...any) error
	Err() error
}) ([]database.DetectedFace, error) {
	var faces []database.DetectedFace
	for rows.Next() {
		f, err := scanFace(rows)
		if err != nil {
			return nil, fmt.Errorf("scan face: %w", err)
		}
		faces = append(faces, *f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate faces: %w", err)
	}
	return faces, nil
}

// embeddingParam returns a vector parameter, or nil for a missing embedding.
func embeddingParam(embedding []float32) any {
	if len(embedding) == 0 {
		return nil
	}
	return pgvector.NewVector(embedding)
}

// CreateDetectedFace inserts a queued detection.
func (s *Store) CreateDetectedFace(ctx context.Context, face database.DetectedFace) (*database.DetectedFace, error) {
	area, err := json.Marshal(face.Area)
	if err != nil {
		return nil, fmt.Errorf("encode facial area: %w", err)
	}
	face.ID = newID()
	face.Status = database.FaceQueued
	_, err = s.pool.Exec(ctx, `
		INSERT INTO detected_faces (detection_id, frame_id, facial_area, confidence, face_embeddings, status)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		face.ID, face.FrameID, string(area), face.Confidence, embeddingParam(face.Embedding), face.Status,
	)
	if err != nil {
		return nil, fmt.Errorf("insert detected face: %w", err)
	}
	return &face, nil
}

// ListFaces returns the detections of a card in any of the given statuses, oldest first.
func (s *Store) ListFaces(ctx context.Context, cardID string, statuses ...database.FaceStatus) ([]database.DetectedFace, error) {
	if !validID(cardID) {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+faceColumns+`
		FROM detected_faces d
		JOIN frames f ON f.frame_id = d.frame_id
		JOIN clips c ON c.clip_id = f.clip_id
		WHERE c.card_id = $1 AND ($2::text[] IS NULL OR d.status = ANY($2))
		ORDER BY d.created_at, d.detection_id`,
		cardID, statusArray(statuses),
	)
	if err != nil {
		return nil, fmt.Errorf("query faces: %w", err)
	}
	defer rows.Close()
	return scanFaces(rows)
}

// CountFaces counts the detections of a card in any of the given statuses.
func (s *Store) CountFaces(ctx context.Context, cardID string, statuses ...database.FaceStatus) (int, error) {
	if !validID(cardID) {
		return 0, nil
	}
	var n int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM detected_faces d
		JOIN frames f ON f.frame_id = d.frame_id
		JOIN clips c ON c.clip_id = f.clip_id
		WHERE c.card_id = $1 AND ($2::text[] IS NULL OR d.status = ANY($2))`,
		cardID, statusArray(statuses),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count faces: %w", err)
	}
	return n, nil
}

// ListFacesForFrame returns all detections of one frame.
func (s *Store) ListFacesForFrame(ctx context.Context, frameID string) ([]database.DetectedFace, error) {
	if !validID(frameID) {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+faceColumns+`
		FROM detected_faces d
		WHERE d.frame_id = $1
		ORDER BY d.created_at, d.detection_id`, frameID)
	if err != nil {
		return nil, fmt.Errorf("query frame faces: %w", err)
	}
	defer rows.Close()
	return scanFaces(rows)
}

// UpdateFaceStatus moves a detection forward.
func (s *Store) UpdateFaceStatus(ctx context.Context, faceID string, status database.FaceStatus) error {
	if !validID(faceID) {
		return database.ErrNotFound
	}
	res, err := s.pool.Exec(ctx,
		"UPDATE detected_faces SET status = $2 WHERE detection_id = $1 AND status = ANY($3)",
		faceID, status, statusArray(database.FaceStatusesInto(status)),
	)
	if err != nil {
		return fmt.Errorf("update face status: %w", err)
	}
	return s.checkTransition(ctx, res, "detected_faces", "detection_id", faceID)
}

// CreateFaceMatch inserts the match of a detection. A detection has at most one match;
// a second insert returns ErrDuplicate.
func (s *Store) CreateFaceMatch(ctx context.Context, match database.FaceMatch) (*database.FaceMatch, error) {
	source, err := json.Marshal(match.Source)
	if err != nil {
		return nil, fmt.Errorf("encode source box: %w", err)
	}
	target, err := json.Marshal(match.Target)
	if err != nil {
		return nil, fmt.Errorf("encode target box: %w", err)
	}
	match.ID = newID()
	_, err = s.pool.Exec(ctx, `
		INSERT INTO face_matches (match_id, detection_id, consent_face_id, distance, threshold, source_box, target_box)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		match.ID, match.DetectionID, match.ConsentFaceID, match.Distance, match.Threshold, string(source), string(target),
	)
	if isUniqueViolation(err) {
		return nil, fmt.Errorf("match for detection %s: %w", match.DetectionID, database.ErrDuplicate)
	}
	if err != nil {
		return nil, fmt.Errorf("insert face match: %w", err)
	}
	return &match, nil
}

// ListMatchesForFrame returns the matches of the detections of one frame.
func (s *Store) ListMatchesForFrame(ctx context.Context, frameID string) ([]database.FaceMatch, error) {
	if !validID(frameID) {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT m.match_id, m.detection_id, m.consent_face_id, m.distance, m.threshold, m.source_box, m.target_box
		FROM face_matches m
		JOIN detected_faces d ON d.detection_id = m.detection_id
		WHERE d.frame_id = $1
		ORDER BY m.created_at, m.match_id`, frameID)
	if err != nil {
		return nil, fmt.Errorf("query frame matches: %w", err)
	}
	defer rows.Close()

	var matches []database.FaceMatch
	for rows.Next() {
		var (
			m              database.FaceMatch
			source, target []byte
		)
		if err := rows.Scan(&m.ID, &m.DetectionID, &m.ConsentFaceID, &m.Distance, &m.Threshold, &source, &target); err != nil {
			return nil, fmt.Errorf("scan match: %w", err)
		}
		if err := json.Unmarshal(source, &m.Source); err != nil {
			return nil, fmt.Errorf("decode source box: %w", err)
		}
		if err := json.Unmarshal(target, &m.Target); err != nil {
			return nil, fmt.Errorf("decode target box: %w", err)
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate matches: %w", err)
	}
	return matches, nil
}
