package database

import "slices"

// TaskStatus is the lifecycle state of a processing task.
type TaskStatus string

const (
	TaskPending              TaskStatus = "pending"
	TaskGeneratingEmbeddings TaskStatus = "generating_embeddings"
	TaskProcessingClips      TaskStatus = "processing_clips"
	TaskCancelling           TaskStatus = "cancelling"
	TaskComplete             TaskStatus = "complete"
	TaskIncomplete           TaskStatus = "incomplete"
	TaskCancelled            TaskStatus = "cancelled"
	TaskError                TaskStatus = "error"
)

// IsTerminal reports whether no further transitions are expected.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskComplete, TaskIncomplete, TaskCancelled, TaskError:
		return true
	}
	return false
}

// IsCancelRequested reports whether a stop was requested for the task.
func (s TaskStatus) IsCancelRequested() bool {
	return s == TaskCancelling || s == TaskCancelled
}

// CardStatus is the processing state shown for a card.
type CardStatus string

const (
	CardProcessing           CardStatus = "processing"
	CardGeneratingEmbeddings CardStatus = "generating_embeddings"
	CardPaused               CardStatus = "paused"
	CardComplete             CardStatus = "complete"
	CardError                CardStatus = "error"
)

// ClipStatus is the lifecycle state of a clip.
type ClipStatus string

const (
	ClipQueued             ClipStatus = "queued"
	ClipExtractingFrames   ClipStatus = "extracting_frames"
	ClipExtractionComplete ClipStatus = "extraction_complete"
	ClipProcessingComplete ClipStatus = "processing_complete"
	ClipError              ClipStatus = "error"
)

// FrameStatus is the lifecycle state of a frame.
type FrameStatus string

const (
	FrameQueued              FrameStatus = "queued"
	FrameDetectingFaces      FrameStatus = "detecting_faces"
	FrameDetectionComplete   FrameStatus = "detection_complete"
	FrameRecognitionComplete FrameStatus = "recognition_complete"
	FrameError               FrameStatus = "error"
)

// FaceStatus is the lifecycle state of a detected face.
type FaceStatus string

const (
	FaceQueued           FaceStatus = "queued"
	FaceMatchingFaces    FaceStatus = "matching_faces"
	FaceMatchingComplete FaceStatus = "matching_complete"
	FaceError            FaceStatus = "error"
)

// WatchFolderStatus is the monitoring state of a watch folder.
type WatchFolderStatus string

const (
	WatchFolderActive  WatchFolderStatus = "active"
	WatchFolderIdle    WatchFolderStatus = "idle"
	WatchFolderError   WatchFolderStatus = "error"
	WatchFolderScanned WatchFolderStatus = "scanned"
)

// Pending status sets: units in these states still need work. In-progress states are
// included so that a run interrupted mid-unit picks the unit up again.
var (
	PendingClipStatuses  = []ClipStatus{ClipQueued, ClipExtractingFrames}
	PendingFrameStatuses = []FrameStatus{FrameQueued, FrameDetectingFaces}
	PendingFaceStatuses  = []FaceStatus{FaceQueued, FaceMatchingFaces}
)

var (
	clipSequence  = []ClipStatus{ClipQueued, ClipExtractingFrames, ClipExtractionComplete, ClipProcessingComplete}
	frameSequence = []FrameStatus{FrameQueued, FrameDetectingFaces, FrameDetectionComplete, FrameRecognitionComplete}
	faceSequence  = []FaceStatus{FaceQueued, FaceMatchingFaces, FaceMatchingComplete}
)

// canAdvance implements the shared rule: a unit moves forward along its sequence or to
// errStatus, may re-enter its current state, and never leaves a terminal state.
func canAdvance[S comparable](seq []S, errStatus, from, to S) bool {
	if from == to {
		return !isLast(seq, from) && from != errStatus
	}
	if from == errStatus || isLast(seq, from) {
		return false
	}
	if to == errStatus {
		return true
	}
	fi, ti := slices.Index(seq, from), slices.Index(seq, to)
	return fi >= 0 && ti > fi
}

func isLast[S comparable](seq []S, s S) bool {
	return len(seq) > 0 && seq[len(seq)-1] == s
}

// CanTransitionClip reports whether a clip may move from one status to another.
func CanTransitionClip(from, to ClipStatus) bool {
	return canAdvance(clipSequence, ClipError, from, to)
}

// CanTransitionFrame reports whether a frame may move from one status to another.
func CanTransitionFrame(from, to FrameStatus) bool {
	return canAdvance(frameSequence, FrameError, from, to)
}

// CanTransitionFace reports whether a detected face may move from one status to another.
func CanTransitionFace(from, to FaceStatus) bool {
	return canAdvance(faceSequence, FaceError, from, to)
}

// CanTransitionTask reports whether a task may move between statuses.
// Terminal tasks are frozen. A cancelling task only accepts terminal statuses, so a
// progress update racing a stop request cannot clear the request.
func CanTransitionTask(from, to TaskStatus) bool {
	if from.IsTerminal() {
		return false
	}
	if from == TaskCancelling {
		return to == TaskCancelling || to.IsTerminal()
	}
	return true
}

// ResolveTaskStatus returns the status a task ends up in when an update requests "to"
// while the task is in "from". Disallowed requests keep the current status.
func ResolveTaskStatus(from, to TaskStatus) TaskStatus {
	if CanTransitionTask(from, to) {
		return to
	}
	return from
}

// Statuses from which a unit may move into the given status. Stores use these to make
// status updates conditional on the current row state.

func ClipStatusesInto(to ClipStatus) []ClipStatus {
	return statusesInto(append(slices.Clone(clipSequence), ClipError), to, CanTransitionClip)
}

func FrameStatusesInto(to FrameStatus) []FrameStatus {
	return statusesInto(append(slices.Clone(frameSequence), FrameError), to, CanTransitionFrame)
}

func FaceStatusesInto(to FaceStatus) []FaceStatus {
	return statusesInto(append(slices.Clone(faceSequence), FaceError), to, CanTransitionFace)
}

func statusesInto[S comparable](all []S, to S, can func(S, S) bool) []S {
	var out []S
	for _, from := range all {
		if can(from, to) {
			out = append(out, from)
		}
	}
	return out
}
