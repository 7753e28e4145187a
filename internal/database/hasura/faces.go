package hasura

import (
	"context"
	"errors"
	"fmt"

	"github.com/kozaktomas/consent-audit/internal/database"
)

const (
	faceFields  = "detection_id frame_id facial_area confidence face_embeddings status"
	matchFields = "match_id detection_id consent_face_id distance threshold source_box target_box"
)

var faceOrder = []orderBy{{"created_at": "asc"}, {"detection_id": "asc"}}

type faceRow struct {
	ID         string              `json:"detection_id"`
	FrameID    string              `json:"frame_id"`
	Area       database.FacialArea `json:"facial_area"`
	Confidence float64             `json:"confidence"`
	Embedding  vectorText          `json:"face_embeddings"`
	Status     database.FaceStatus `json:"status"`
}

func (r faceRow) face() database.DetectedFace {
	return database.DetectedFace{
		ID:         r.ID,
		FrameID:    r.FrameID,
		Area:       r.Area,
		Confidence: r.Confidence,
		Embedding:  r.Embedding,
		Status:     r.Status,
	}
}

func toFaces(rows []faceRow) []database.DetectedFace {
	if rows == nil {
		return nil
	}
	out := make([]database.DetectedFace, len(rows))
	for i, r := range rows {
		out[i] = r.face()
	}
	return out
}

type matchRow struct {
	ID            string       `json:"match_id"`
	DetectionID   string       `json:"detection_id"`
	ConsentFaceID string       `json:"consent_face_id"`
	Distance      float64      `json:"distance"`
	Threshold     float64      `json:"threshold"`
	Source        database.Box `json:"source_box"`
	Target        database.Box `json:"target_box"`
}

func cardFaces(cardID string) map[string]any {
	return map[string]any{"frame": cardFrames(cardID)}
}

// CreateDetectedFace inserts a queued detection.
func (s *Store) CreateDetectedFace(ctx context.Context, face database.DetectedFace) (*database.DetectedFace, error) {
	row, err := insertOne[faceRow](ctx, s, "detected_faces", map[string]any{
		"detection_id":    newID(),
		"frame_id":        face.FrameID,
		"facial_area":     face.Area,
		"confidence":      face.Confidence,
		"face_embeddings": vectorText(face.Embedding),
		"status":          database.FaceQueued,
	}, faceFields)
	if err != nil {
		return nil, fmt.Errorf("insert detected face: %w", err)
	}
	f := row.face()
	return &f, nil
}

// ListFaces returns the detections of a card in any of the given statuses, oldest first.
func (s *Store) ListFaces(ctx context.Context, cardID string, statuses ...database.FaceStatus) ([]database.DetectedFace, error) {
	if !validID(cardID) {
		return nil, nil
	}
	rows, err := list[faceRow](ctx, s, "detected_faces", faceFields, statusIn(cardFaces(cardID), statuses), listOptions{order: faceOrder})
	if err != nil {
		return nil, err
	}
	return toFaces(rows), nil
}

// CountFaces counts the detections of a card in any of the given statuses.
func (s *Store) CountFaces(ctx context.Context, cardID string, statuses ...database.FaceStatus) (int, error) {
	if !validID(cardID) {
		return 0, nil
	}
	return s.count(ctx, "detected_faces", statusIn(cardFaces(cardID), statuses))
}

// ListFacesForFrame returns all detections of one frame.
func (s *Store) ListFacesForFrame(ctx context.Context, frameID string) ([]database.DetectedFace, error) {
	if !validID(frameID) {
		return nil, nil
	}
	rows, err := list[faceRow](ctx, s, "detected_faces", faceFields, map[string]any{"frame_id": eq(frameID)}, listOptions{order: faceOrder})
	if err != nil {
		return nil, err
	}
	return toFaces(rows), nil
}

// UpdateFaceStatus moves a detection forward.
func (s *Store) UpdateFaceStatus(ctx context.Context, faceID string, status database.FaceStatus) error {
	return updateStatus(ctx, s, "detected_faces", "detection_id", faceID, database.FaceStatusesInto(status),
		map[string]any{"status": status})
}

// CreateFaceMatch inserts the match of a detection; a second match for the same
// detection returns ErrDuplicate.
func (s *Store) CreateFaceMatch(ctx context.Context, match database.FaceMatch) (*database.FaceMatch, error) {
	match.ID = newID()
	_, err := insertOne[matchRow](ctx, s, "face_matches", map[string]any{
		"match_id":        match.ID,
		"detection_id":    match.DetectionID,
		"consent_face_id": match.ConsentFaceID,
		"distance":        match.Distance,
		"threshold":       match.Threshold,
		"source_box":      match.Source,
		"target_box":      match.Target,
	}, "match_id")
	if errors.Is(err, database.ErrDuplicate) {
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
	rows, err := list[matchRow](ctx, s, "face_matches", matchFields,
		map[string]any{"detection": map[string]any{"frame_id": eq(frameID)}},
		listOptions{order: []orderBy{{"created_at": "asc"}, {"match_id": "asc"}}})
	if err != nil {
		return nil, err
	}
	var matches []database.FaceMatch
	for _, r := range rows {
		matches = append(matches, database.FaceMatch(r))
	}
	return matches, nil
}
