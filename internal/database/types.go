package database

import (
	"time"
)

// Task is the persisted record of one processing run for a card.
type Task struct {
	ID        string     `json:"task_id"`
	CardID    string     `json:"card_id"`
	Status    TaskStatus `json:"status"`
	Stage     string     `json:"stage"`
	Progress  float64    `json:"progress"`
	Message   string     `json:"message"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// TaskUpdate carries the optional fields of an update; nil fields are left unchanged.
type TaskUpdate struct {
	Status   *TaskStatus
	Stage    *string
	Progress *float64
	Message  *string
}

// WithStatus returns a copy of the update with Status set.
func (u TaskUpdate) WithStatus(s TaskStatus) TaskUpdate {
	u.Status = &s
	return u
}

// WithStage returns a copy of the update with Stage set.
func (u TaskUpdate) WithStage(stage string) TaskUpdate {
	u.Stage = &stage
	return u
}

// WithProgress returns a copy of the update with Progress set, clamped to [0, 1].
func (u TaskUpdate) WithProgress(p float64) TaskUpdate {
	p = min(max(p, 0), 1)
	u.Progress = &p
	return u
}

// WithMessage returns a copy of the update with Message set.
func (u TaskUpdate) WithMessage(msg string) TaskUpdate {
	u.Message = &msg
	return u
}

// Card is the subject a processing run is scoped to.
type Card struct {
	ID        string     `json:"card_id"`
	ProjectID string     `json:"project_id"`
	Name      string     `json:"name"`
	Status    CardStatus `json:"status"`
}

// Clip is one source video file belonging to a card.
type Clip struct {
	ID            string     `json:"clip_id"`
	CardID        string     `json:"card_id"`
	WatchFolderID string     `json:"watch_folder_id,omitempty"`
	Filename      string     `json:"filename"`
	Path          string     `json:"path"`
	Status        ClipStatus `json:"status"`
	ErrorMessage  string     `json:"error_message,omitempty"`
}

// Frame is one extracted still image of a clip.
type Frame struct {
	ID                 string      `json:"frame_id"`
	ClipID             string      `json:"clip_id"`
	Timestamp          string      `json:"timestamp"` // HH:MM:SS:FF
	RawImagePath       string      `json:"raw_frame_image_path"`
	ProcessedImagePath string      `json:"processed_frame_image_path,omitempty"`
	Status             FrameStatus `json:"status"`
	SceneChange        bool        `json:"scene_change"`
}

// Point is an (x, y) pixel coordinate.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// FacialArea is a bounding box in pixel coordinates with optional eye landmarks.
type FacialArea struct {
	X        int    `json:"x"`
	Y        int    `json:"y"`
	W        int    `json:"w"`
	H        int    `json:"h"`
	LeftEye  *Point `json:"left_eye,omitempty"`
	RightEye *Point `json:"right_eye,omitempty"`
}

// Box is a plain x/y/w/h rectangle.
type Box struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// Box returns the rectangle part of the area.
func (a FacialArea) Box() Box {
	return Box{X: a.X, Y: a.Y, W: a.W, H: a.H}
}

// DetectedFace is one face found in one frame.
type DetectedFace struct {
	ID         string     `json:"detection_id"`
	FrameID    string     `json:"frame_id"`
	Area       FacialArea `json:"facial_area"`
	Confidence float64    `json:"confidence"`
	Embedding  []float32  `json:"face_embeddings"`
	Status     FaceStatus `json:"status"`
}

// FaceMatch links a detection to the consent face it matched best.
type FaceMatch struct {
	ID            string  `json:"match_id"`
	DetectionID   string  `json:"detection_id"`
	ConsentFaceID string  `json:"consent_face_id"`
	Distance      float64 `json:"distance"`
	Threshold     float64 `json:"threshold"`
	Source        Box     `json:"source"`
	Target        Box     `json:"target"`
}

// ConsentFace is one reference image of a consenting person.
// Embedding is nil until generated, and reset to nil when the image changes.
type ConsentFace struct {
	ID          string    `json:"consent_face_id"`
	ProfileID   string    `json:"profile_id"`
	PersonName  string    `json:"person_name"`
	ImagePath   string    `json:"face_image_path"`
	Embedding   []float32 `json:"face_embedding"`
	LastUpdated time.Time `json:"last_updated"`
}

// HasEmbedding reports whether the face has a usable embedding.
func (f ConsentFace) HasEmbedding() bool {
	return len(f.Embedding) > 0
}

// WatchFolder is a directory monitored for new clips of a card.
type WatchFolder struct {
	ID          string            `json:"watch_folder_id"`
	CardID      string            `json:"card_id"`
	FolderPath  string            `json:"folder_path"`
	Status      WatchFolderStatus `json:"status"`
	LastScanned *time.Time        `json:"last_scanned,omitempty"`
}
