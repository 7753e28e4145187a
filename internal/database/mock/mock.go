// Package mock provides an in-memory implementation of database.Store for testing.
package mock

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/kozaktomas/consent-audit/internal/database"
)

var _ database.Store = (*Store)(nil)

// Store is an in-memory database.Store. Status updates follow the same transition
// rules as the SQL backends, so tests observe invalid moves as errors.
type Store struct {
	mu sync.RWMutex

	tasks        map[string]*database.Task
	cards        map[string]*database.Card
	cardConfigs  map[string]map[string]any
	clips        map[string]*database.Clip
	frames       map[string]*database.Frame
	faces        map[string]*database.DetectedFace
	matches      map[string]*database.FaceMatch
	consentFaces map[string]*consentRow
	watchFolders map[string]*database.WatchFolder

	seq             int
	entityMutations int
	now             func() time.Time

	// Error injection
	CreateTaskError       error
	UpdateTaskError       error
	GetTaskStatusError    error
	GetCardError          error
	GetCardConfigError    error
	CountClipsError       error
	CountFramesError      error
	CountFacesError       error
	ListClipsError        error
	CreateFramesError     error
	ListConsentFacesError error
	CreateFaceMatchError  error
}

type consentRow struct {
	face      database.ConsentFace
	projectID string
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		tasks:        make(map[string]*database.Task),
		cards:        make(map[string]*database.Card),
		cardConfigs:  make(map[string]map[string]any),
		clips:        make(map[string]*database.Clip),
		frames:       make(map[string]*database.Frame),
		faces:        make(map[string]*database.DetectedFace),
		matches:      make(map[string]*database.FaceMatch),
		consentFaces: make(map[string]*consentRow),
		watchFolders: make(map[string]*database.WatchFolder),
		now:          time.Now,
	}
}

// nextID returns a zero-padded sequential id so that id order equals insertion order.
func (s *Store) nextID(prefix string) string {
	s.seq++
	return fmt.Sprintf("%s-%06d", prefix, s.seq)
}

// EntityMutations returns the number of writes to clips, frames, faces, matches and
// consent faces. Task and card updates are not counted.
func (s *Store) EntityMutations() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entityMutations
}

// Seeding helpers

// AddCard adds a card with its stored config.
func (s *Store) AddCard(card database.Card, cfg map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cards[card.ID] = &card
	if cfg != nil {
		s.cardConfigs[card.ID] = cfg
	}
}

// AddClip adds a clip as-is and returns its id.
func (s *Store) AddClip(clip database.Clip) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if clip.ID == "" {
		clip.ID = s.nextID("clip")
	}
	if clip.Status == "" {
		clip.Status = database.ClipQueued
	}
	s.clips[clip.ID] = &clip
	return clip.ID
}

// AddConsentFace adds a consent face for a project and returns its id.
func (s *Store) AddConsentFace(projectID string, face database.ConsentFace) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if face.ID == "" {
		face.ID = s.nextID("consent")
	}
	s.consentFaces[face.ID] = &consentRow{face: face, projectID: projectID}
	return face.ID
}

// AddWatchFolder adds a watch folder.
func (s *Store) AddWatchFolder(folder database.WatchFolder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watchFolders[folder.ID] = &folder
}

// SetTaskStatus overwrites a task status without transition checks, simulating an
// external writer such as a stop request from another process.
func (s *Store) SetTaskStatus(taskID string, status database.TaskStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tasks[taskID]; ok {
		t.Status = status
		t.UpdatedAt = s.now()
	}
}

// Inspection helpers

// Clips returns all clips ordered by id.
func (s *Store) Clips() []database.Clip {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedValues(s.clips, func(c *database.Clip) string { return c.ID })
}

// Frames returns all frames ordered by id.
func (s *Store) Frames() []database.Frame {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedValues(s.frames, func(f *database.Frame) string { return f.ID })
}

// Faces returns all detected faces ordered by id.
func (s *Store) Faces() []database.DetectedFace {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedValues(s.faces, func(f *database.DetectedFace) string { return f.ID })
}

// Matches returns all face matches ordered by id.
func (s *Store) Matches() []database.FaceMatch {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedValues(s.matches, func(m *database.FaceMatch) string { return m.ID })
}

// ConsentFaces returns all consent faces ordered by id.
func (s *Store) ConsentFaces() []database.ConsentFace {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows := sortedValues(s.consentFaces, func(r *consentRow) string { return r.face.ID })
	out := make([]database.ConsentFace, len(rows))
	for i, r := range rows {
		out[i] = r.face
	}
	return out
}

// Card returns a copy of a card, or nil.
func (s *Store) Card(cardID string) *database.Card {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.cards[cardID]
	if !ok {
		return nil
	}
	cp := *c
	return &cp
}

// WatchFolder returns a copy of a watch folder, or nil.
func (s *Store) WatchFolder(folderID string) *database.WatchFolder {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.watchFolders[folderID]
	if !ok {
		return nil
	}
	cp := *f
	return &cp
}

func sortedValues[T any](m map[string]*T, key func(*T) string) []T {
	out := make([]T, 0, len(m))
	for _, v := range m {
		out = append(out, *v)
	}
	sort.Slice(out, func(i, j int) bool { return key(&out[i]) < key(&out[j]) })
	return out
}

// TaskStore

func (s *Store) CreateTask(ctx context.Context, cardID string) (*database.Task, error) {
	if s.CreateTaskError != nil {
		return nil, s.CreateTaskError
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	t := &database.Task{
		ID:        s.nextID("task"),
		CardID:    cardID,
		Status:    database.TaskPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.tasks[t.ID] = t
	cp := *t
	return &cp, nil
}

func (s *Store) UpdateTask(ctx context.Context, taskID string, upd database.TaskUpdate) error {
	if s.UpdateTaskError != nil {
		return s.UpdateTaskError
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return database.ErrNotFound
	}
	if upd.Status != nil {
		t.Status = database.ResolveTaskStatus(t.Status, *upd.Status)
	}
	if upd.Stage != nil {
		t.Stage = *upd.Stage
	}
	if upd.Progress != nil {
		t.Progress = *upd.Progress
	}
	if upd.Message != nil {
		t.Message = *upd.Message
	}
	t.UpdatedAt = s.now()
	return nil
}

func (s *Store) GetTaskStatus(ctx context.Context, taskID string) (database.TaskStatus, error) {
	if s.GetTaskStatusError != nil {
		return "", s.GetTaskStatusError
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return "", database.ErrNotFound
	}
	return t.Status, nil
}

func (s *Store) GetTask(ctx context.Context, taskID string) (*database.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return nil, database.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *Store) GetActiveTaskFor(ctx context.Context, cardID string) (*database.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var newest *database.Task
	for _, t := range s.tasks {
		if t.CardID != cardID || t.Status.IsTerminal() {
			continue
		}
		if newest == nil || t.ID > newest.ID {
			newest = t
		}
	}
	if newest == nil {
		return nil, nil
	}
	cp := *newest
	return &cp, nil
}

func (s *Store) ListTasks(ctx context.Context) ([]database.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tasks := sortedValues(s.tasks, func(t *database.Task) string { return t.ID })
	slices.Reverse(tasks)
	return tasks, nil
}

// CardStore

func (s *Store) GetCard(ctx context.Context, cardID string) (*database.Card, error) {
	if s.GetCardError != nil {
		return nil, s.GetCardError
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.cards[cardID]
	if !ok {
		return nil, database.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *Store) UpdateCardStatus(ctx context.Context, cardID string, status database.CardStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cards[cardID]
	if !ok {
		return database.ErrNotFound
	}
	c.Status = status
	return nil
}

func (s *Store) GetCardConfig(ctx context.Context, cardID string) (map[string]any, error) {
	if s.GetCardConfigError != nil {
		return nil, s.GetCardConfigError
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg, ok := s.cardConfigs[cardID]
	if !ok {
		return nil, database.ErrNotFound
	}
	out := make(map[string]any, len(cfg))
	for k, v := range cfg {
		out[k] = v
	}
	return out, nil
}

// ClipStore

func (s *Store) CreateClip(ctx context.Context, clip database.Clip) (*database.Clip, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.clips {
		if c.CardID == clip.CardID && c.Filename == clip.Filename {
			return nil, database.ErrDuplicate
		}
	}
	clip.ID = s.nextID("clip")
	if clip.Status == "" {
		clip.Status = database.ClipQueued
	}
	s.clips[clip.ID] = &clip
	s.entityMutations++
	cp := clip
	return &cp, nil
}

func (s *Store) GetClip(ctx context.Context, clipID string) (*database.Clip, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.clips[clipID]
	if !ok {
		return nil, database.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *Store) ListClips(ctx context.Context, cardID string, statuses ...database.ClipStatus) ([]database.Clip, error) {
	if s.ListClipsError != nil {
		return nil, s.ListClipsError
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []database.Clip
	for _, c := range sortedValues(s.clips, func(c *database.Clip) string { return c.ID }) {
		if c.CardID == cardID && matchStatus(c.Status, statuses) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *Store) CountClips(ctx context.Context, cardID string, statuses ...database.ClipStatus) (int, error) {
	if s.CountClipsError != nil {
		return 0, s.CountClipsError
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, c := range s.clips {
		if c.CardID == cardID && matchStatus(c.Status, statuses) {
			n++
		}
	}
	return n, nil
}

func (s *Store) UpdateClipStatus(ctx context.Context, clipID string, status database.ClipStatus, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.clips[clipID]
	if !ok {
		return database.ErrNotFound
	}
	if !database.CanTransitionClip(c.Status, status) {
		return fmt.Errorf("clip %s %s -> %s: %w", clipID, c.Status, status, database.ErrInvalidTransition)
	}
	c.Status = status
	c.ErrorMessage = errMsg
	s.entityMutations++
	return nil
}

// FrameStore

func (s *Store) CreateFrames(ctx context.Context, frames []database.Frame) error {
	if s.CreateFramesError != nil {
		return s.CreateFramesError
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range frames {
		if _, ok := s.clips[f.ClipID]; !ok {
			return fmt.Errorf("insert frame for clip %s: %w", f.ClipID, database.ErrNotFound)
		}
	}
	for _, f := range frames {
		f.ID = s.nextID("frame")
		if f.Status == "" {
			f.Status = database.FrameQueued
		}
		s.frames[f.ID] = &f
		s.entityMutations++
	}
	return nil
}

func (s *Store) frameCard(f *database.Frame) string {
	if c, ok := s.clips[f.ClipID]; ok {
		return c.CardID
	}
	return ""
}

func (s *Store) ListFrames(ctx context.Context, cardID string, statuses ...database.FrameStatus) ([]database.Frame, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []database.Frame
	for _, f := range sortedValues(s.frames, func(f *database.Frame) string { return f.ID }) {
		if s.frameCard(&f) == cardID && matchStatus(f.Status, statuses) {
			out = append(out, f)
		}
	}
	return out, nil
}

func (s *Store) CountFrames(ctx context.Context, cardID string, statuses ...database.FrameStatus) (int, error) {
	if s.CountFramesError != nil {
		return 0, s.CountFramesError
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, f := range s.frames {
		if s.frameCard(f) == cardID && matchStatus(f.Status, statuses) {
			n++
		}
	}
	return n, nil
}

func (s *Store) FrameStatusCounts(ctx context.Context, clipID string) (map[database.FrameStatus]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[database.FrameStatus]int)
	for _, f := range s.frames {
		if f.ClipID == clipID {
			counts[f.Status]++
		}
	}
	return counts, nil
}

func (s *Store) UpdateFrameStatus(ctx context.Context, frameID string, status database.FrameStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setFrameStatus(frameID, status)
}

func (s *Store) setFrameStatus(frameID string, status database.FrameStatus) error {
	f, ok := s.frames[frameID]
	if !ok {
		return database.ErrNotFound
	}
	if !database.CanTransitionFrame(f.Status, status) {
		return fmt.Errorf("frame %s %s -> %s: %w", frameID, f.Status, status, database.ErrInvalidTransition)
	}
	f.Status = status
	s.entityMutations++
	return nil
}

func (s *Store) CompleteFrame(ctx context.Context, frameID, processedPath string, status database.FrameStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.setFrameStatus(frameID, status); err != nil {
		return err
	}
	s.frames[frameID].ProcessedImagePath = processedPath
	return nil
}

// FaceStore

func (s *Store) CreateDetectedFace(ctx context.Context, face database.DetectedFace) (*database.DetectedFace, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.frames[face.FrameID]; !ok {
		return nil, fmt.Errorf("insert detected face for frame %s: %w", face.FrameID, database.ErrNotFound)
	}
	face.ID = s.nextID("face")
	face.Status = database.FaceQueued
	s.faces[face.ID] = &face
	s.entityMutations++
	cp := face
	return &cp, nil
}

func (s *Store) faceCard(f *database.DetectedFace) string {
	if fr, ok := s.frames[f.FrameID]; ok {
		return s.frameCard(fr)
	}
	return ""
}

func (s *Store) ListFaces(ctx context.Context, cardID string, statuses ...database.FaceStatus) ([]database.DetectedFace, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []database.DetectedFace
	for _, f := range sortedValues(s.faces, func(f *database.DetectedFace) string { return f.ID }) {
		if s.faceCard(&f) == cardID && matchStatus(f.Status, statuses) {
			out = append(out, f)
		}
	}
	return out, nil
}

func (s *Store) CountFaces(ctx context.Context, cardID string, statuses ...database.FaceStatus) (int, error) {
	if s.CountFacesError != nil {
		return 0, s.CountFacesError
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, f := range s.faces {
		if s.faceCard(f) == cardID && matchStatus(f.Status, statuses) {
			n++
		}
	}
	return n, nil
}

func (s *Store) ListFacesForFrame(ctx context.Context, frameID string) ([]database.DetectedFace, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []database.DetectedFace
	for _, f := range sortedValues(s.faces, func(f *database.DetectedFace) string { return f.ID }) {
		if f.FrameID == frameID {
			out = append(out, f)
		}
	}
	return out, nil
}

func (s *Store) UpdateFaceStatus(ctx context.Context, faceID string, status database.FaceStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.faces[faceID]
	if !ok {
		return database.ErrNotFound
	}
	if !database.CanTransitionFace(f.Status, status) {
		return fmt.Errorf("face %s %s -> %s: %w", faceID, f.Status, status, database.ErrInvalidTransition)
	}
	f.Status = status
	s.entityMutations++
	return nil
}

func (s *Store) CreateFaceMatch(ctx context.Context, match database.FaceMatch) (*database.FaceMatch, error) {
	if s.CreateFaceMatchError != nil {
		return nil, s.CreateFaceMatchError
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.faces[match.DetectionID]; !ok {
		return nil, fmt.Errorf("insert match for detection %s: %w", match.DetectionID, database.ErrNotFound)
	}
	for _, m := range s.matches {
		if m.DetectionID == match.DetectionID {
			return nil, database.ErrDuplicate
		}
	}
	match.ID = s.nextID("match")
	s.matches[match.ID] = &match
	s.entityMutations++
	cp := match
	return &cp, nil
}

func (s *Store) ListMatchesForFrame(ctx context.Context, frameID string) ([]database.FaceMatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []database.FaceMatch
	for _, m := range sortedValues(s.matches, func(m *database.FaceMatch) string { return m.ID }) {
		if f, ok := s.faces[m.DetectionID]; ok && f.FrameID == frameID {
			out = append(out, m)
		}
	}
	return out, nil
}

// ConsentStore

func (s *Store) ListConsentFaces(ctx context.Context, projectID string) ([]database.ConsentFace, error) {
	if s.ListConsentFacesError != nil {
		return nil, s.ListConsentFacesError
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []database.ConsentFace
	for _, r := range sortedValues(s.consentFaces, func(r *consentRow) string { return r.face.ID }) {
		if r.projectID == projectID {
			out = append(out, r.face)
		}
	}
	return out, nil
}

func (s *Store) UpdateConsentEmbedding(ctx context.Context, faceID string, embedding []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.consentFaces[faceID]
	if !ok {
		return database.ErrNotFound
	}
	r.face.Embedding = slices.Clone(embedding)
	r.face.LastUpdated = s.now()
	s.entityMutations++
	return nil
}

func (s *Store) ClearConsentEmbedding(ctx context.Context, faceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.consentFaces[faceID]
	if !ok {
		return database.ErrNotFound
	}
	r.face.Embedding = nil
	s.entityMutations++
	return nil
}

// WatchFolderStore

func (s *Store) GetWatchFolder(ctx context.Context, folderID string) (*database.WatchFolder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.watchFolders[folderID]
	if !ok {
		return nil, database.ErrNotFound
	}
	cp := *f
	return &cp, nil
}

func (s *Store) UpdateWatchFolderStatus(ctx context.Context, folderID string, status database.WatchFolderStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.watchFolders[folderID]
	if !ok {
		return database.ErrNotFound
	}
	f.Status = status
	if status == database.WatchFolderScanned {
		now := s.now()
		f.LastScanned = &now
	}
	return nil
}

func (s *Store) ListClipPaths(ctx context.Context, cardID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for _, c := range s.clips {
		if c.CardID == cardID {
			out = append(out, c.Path)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *Store) ListClipFilenames(ctx context.Context, cardID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for _, c := range s.clips {
		if c.CardID == cardID {
			out = append(out, c.Filename)
		}
	}
	sort.Strings(out)
	return out, nil
}

func matchStatus[S comparable](s S, statuses []S) bool {
	return len(statuses) == 0 || slices.Contains(statuses, s)
}
