package database

import (
	"slices"
	"testing"
)

func TestCanTransitionClip(t *testing.T) {
	tests := []struct {
		from, to ClipStatus
		want     bool
	}{
		{ClipQueued, ClipExtractingFrames, true},
		{ClipExtractingFrames, ClipExtractionComplete, true},
		{ClipExtractionComplete, ClipProcessingComplete, true},
		{ClipQueued, ClipProcessingComplete, true},
		{ClipExtractingFrames, ClipExtractingFrames, true}, // resume after restart
		{ClipExtractingFrames, ClipError, true},
		{ClipExtractionComplete, ClipQueued, false},
		{ClipProcessingComplete, ClipError, false},
		{ClipProcessingComplete, ClipProcessingComplete, false},
		{ClipError, ClipQueued, false},
		{ClipError, ClipError, false},
	}

	for _, tc := range tests {
		t.Run(string(tc.from)+"->"+string(tc.to), func(t *testing.T) {
			if got := CanTransitionClip(tc.from, tc.to); got != tc.want {
				t.Errorf("CanTransitionClip(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
			}
		})
	}
}

func TestCanTransitionFrame(t *testing.T) {
	tests := []struct {
		from, to FrameStatus
		want     bool
	}{
		{FrameQueued, FrameDetectingFaces, true},
		{FrameDetectingFaces, FrameDetectionComplete, true},
		{FrameDetectionComplete, FrameRecognitionComplete, true},
		{FrameDetectingFaces, FrameError, true},
		{FrameDetectionComplete, FrameDetectingFaces, false},
		{FrameRecognitionComplete, FrameQueued, false},
		{FrameError, FrameDetectionComplete, false},
	}

	for _, tc := range tests {
		t.Run(string(tc.from)+"->"+string(tc.to), func(t *testing.T) {
			if got := CanTransitionFrame(tc.from, tc.to); got != tc.want {
				t.Errorf("CanTransitionFrame(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
			}
		})
	}
}

func TestCanTransitionFace(t *testing.T) {
	tests := []struct {
		from, to FaceStatus
		want     bool
	}{
		{FaceQueued, FaceMatchingFaces, true},
		{FaceMatchingFaces, FaceMatchingComplete, true},
		{FaceMatchingFaces, FaceMatchingFaces, true},
		{FaceQueued, FaceError, true},
		{FaceMatchingComplete, FaceQueued, false},
		{FaceMatchingComplete, FaceError, false},
	}

	for _, tc := range tests {
		t.Run(string(tc.from)+"->"+string(tc.to), func(t *testing.T) {
			if got := CanTransitionFace(tc.from, tc.to); got != tc.want {
				t.Errorf("CanTransitionFace(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
			}
		})
	}
}

func TestResolveTaskStatus(t *testing.T) {
	tests := []struct {
		name     string
		from, to TaskStatus
		want     TaskStatus
	}{
		{"pending to embeddings", TaskPending, TaskGeneratingEmbeddings, TaskGeneratingEmbeddings},
		{"processing to complete", TaskProcessingClips, TaskComplete, TaskComplete},
		{"stop request", TaskProcessingClips, TaskCancelling, TaskCancelling},
		{"progress update keeps cancelling", TaskCancelling, TaskProcessingClips, TaskCancelling},
		{"cancelling resolves to cancelled", TaskCancelling, TaskCancelled, TaskCancelled},
		{"cancelling may still finish", TaskCancelling, TaskComplete, TaskComplete},
		{"complete is frozen", TaskComplete, TaskError, TaskComplete},
		{"cancelled is frozen", TaskCancelled, TaskProcessingClips, TaskCancelled},
		{"incomplete is frozen", TaskIncomplete, TaskComplete, TaskIncomplete},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := ResolveTaskStatus(tc.from, tc.to); got != tc.want {
				t.Errorf("ResolveTaskStatus(%s, %s) = %s, want %s", tc.from, tc.to, got, tc.want)
			}
		})
	}
}

func TestTaskStatus_IsTerminal(t *testing.T) {
	terminal := []TaskStatus{TaskComplete, TaskIncomplete, TaskCancelled, TaskError}
	active := []TaskStatus{TaskPending, TaskGeneratingEmbeddings, TaskProcessingClips, TaskCancelling}

	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Errorf("expected %s to be terminal", s)
		}
	}
	for _, s := range active {
		if s.IsTerminal() {
			t.Errorf("expected %s to be active", s)
		}
	}
}

func TestStatusesInto(t *testing.T) {
	got := ClipStatusesInto(ClipExtractionComplete)
	want := []ClipStatus{ClipQueued, ClipExtractingFrames, ClipExtractionComplete}
	if !slices.Equal(got, want) {
		t.Errorf("ClipStatusesInto(extraction_complete) = %v, want %v", got, want)
	}

	got = ClipStatusesInto(ClipError)
	want = []ClipStatus{ClipQueued, ClipExtractingFrames, ClipExtractionComplete}
	if !slices.Equal(got, want) {
		t.Errorf("ClipStatusesInto(error) = %v, want %v", got, want)
	}

	frames := FrameStatusesInto(FrameRecognitionComplete)
	if slices.Contains(frames, FrameRecognitionComplete) || slices.Contains(frames, FrameError) {
		t.Errorf("FrameStatusesInto(recognition_complete) must exclude terminal states, got %v", frames)
	}
}

func TestTaskUpdate_WithProgressClamps(t *testing.T) {
	u := TaskUpdate{}.WithProgress(1.7)
	if *u.Progress != 1 {
		t.Errorf("expected progress clamped to 1, got %v", *u.Progress)
	}
	u = TaskUpdate{}.WithProgress(-0.2)
	if *u.Progress != 0 {
		t.Errorf("expected progress clamped to 0, got %v", *u.Progress)
	}
}
