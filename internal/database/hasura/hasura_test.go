package hasura

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/kozaktomas/consent-audit/internal/config"
	"github.com/kozaktomas/consent-audit/internal/database"
)

const (
	testCard   = "8d1f0f5e-6c1c-4d8a-9a55-0c6f3c1d2a01"
	testClip   = "0b3c52a4-83e2-4a4e-8f44-7d2a1b9c6e02"
	testTask   = "5f9e1a77-2b0d-4c1e-9d3a-6e4b8c2f1a03"
	testFace   = "c2a8e6d4-1f3b-4e5a-8c7d-9b0a1e2f3c04"
	testFolder = "e4d3c2b1-a0f9-4e8d-b7c6-a5f4e3d2c105"
)

type recordedRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
	secret    string
}

// fakeHasura answers each request with the first reply whose key is contained in the
// query; replies registered with the same key are consumed in order.
type fakeHasura struct {
	mu       sync.Mutex
	replies  []reply
	requests []recordedRequest
}

type reply struct {
	key  string
	body string
}

func (f *fakeHasura) on(key, body string) *fakeHasura {
	f.replies = append(f.replies, reply{key: key, body: body})
	return f
}

func (f *fakeHasura) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req recordedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	req.secret = r.Header.Get("x-hasura-admin-secret")

	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	for i, rep := range f.replies {
		if strings.Contains(req.Query, rep.key) {
			f.replies = append(f.replies[:i], f.replies[i+1:]...)
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(rep.body))
			return
		}
	}
	http.Error(w, "no reply for query", http.StatusInternalServerError)
}

func newTestStore(t *testing.T, fake *fakeHasura) *Store {
	t.Helper()
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)

	client, err := NewClient(&config.HasuraConfig{URL: server.URL, AdminSecret: "s3cret"})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	return NewStore(client)
}

func TestNewClient_RequiresURL(t *testing.T) {
	if _, err := NewClient(&config.HasuraConfig{}); err == nil {
		t.Fatal("expected error for empty URL")
	}
}

func TestGetTask(t *testing.T) {
	fake := (&fakeHasura{}).on("processing_tasks_by_pk", `{"data":{"row":{
		"task_id":"`+testTask+`","card_id":"`+testCard+`","status":"processing_clips",
		"stage":"Processing clips","progress":0.5,"message":"",
		"created_at":"2026-01-02T10:00:00.123456+00:00","updated_at":"2026-01-02T10:00:05+00:00"}}}`)
	store := newTestStore(t, fake)

	task, err := store.GetTask(context.Background(), testTask)
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if task.Status != database.TaskProcessingClips || task.Progress != 0.5 {
		t.Errorf("unexpected task %+v", task)
	}
	if task.CreatedAt.IsZero() {
		t.Error("expected created_at to be decoded")
	}

	if len(fake.requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(fake.requests))
	}
	if fake.requests[0].secret != "s3cret" {
		t.Errorf("expected admin secret header, got %q", fake.requests[0].secret)
	}
	if fake.requests[0].Variables["id"] != testTask {
		t.Errorf("unexpected variables %v", fake.requests[0].Variables)
	}
}

func TestGetTask_NotFound(t *testing.T) {
	fake := (&fakeHasura{}).on("processing_tasks_by_pk", `{"data":{"row":null}}`)
	store := newTestStore(t, fake)

	if _, err := store.GetTask(context.Background(), testTask); !errors.Is(err, database.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := store.GetTask(context.Background(), "not-a-uuid"); !errors.Is(err, database.ErrNotFound) {
		t.Errorf("expected ErrNotFound for malformed id, got %v", err)
	}
	if len(fake.requests) != 1 {
		t.Errorf("malformed id should not reach the server, got %d requests", len(fake.requests))
	}
}

func TestExecute_Errors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantDup bool
	}{
		{name: "http status", status: http.StatusBadGateway, body: "upstream down"},
		{name: "graphql error", status: http.StatusOK, body: `{"errors":[{"message":"field not found","extensions":{"code":"validation-failed"}}]}`},
		{name: "no data", status: http.StatusOK, body: `{}`},
		{
			name:    "unique violation",
			status:  http.StatusOK,
			body:    `{"errors":[{"message":"Uniqueness violation. duplicate key value violates unique constraint \"unique_card_filename\"","extensions":{"code":"constraint-violation"}}]}`,
			wantDup: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				w.Write([]byte(tc.body))
			}))
			defer server.Close()

			client, _ := NewClient(&config.HasuraConfig{URL: server.URL})
			store := NewStore(client)

			_, err := store.CreateClip(context.Background(), database.Clip{CardID: testCard, Filename: "a.mp4", Path: "/v/a.mp4"})
			if err == nil {
				t.Fatal("expected error")
			}
			if got := errors.Is(err, database.ErrDuplicate); got != tc.wantDup {
				t.Errorf("errors.Is(ErrDuplicate) = %v, want %v (err: %v)", got, tc.wantDup, err)
			}
		})
	}
}

func TestCreateClip(t *testing.T) {
	fake := (&fakeHasura{}).on("insert_clips_one", `{"data":{"row":{
		"clip_id":"`+testClip+`","card_id":"`+testCard+`","watch_folder_id":null,
		"filename":"a.mp4","path":"/v/a.mp4","status":"queued","error_message":null}}}`)
	store := newTestStore(t, fake)

	clip, err := store.CreateClip(context.Background(), database.Clip{CardID: testCard, Filename: "a.mp4", Path: "/v/a.mp4"})
	if err != nil {
		t.Fatalf("CreateClip failed: %v", err)
	}
	if clip.ID != testClip || clip.Status != database.ClipQueued || clip.WatchFolderID != "" {
		t.Errorf("unexpected clip %+v", clip)
	}

	obj := fake.requests[0].Variables["object"].(map[string]any)
	if obj["status"] != "queued" {
		t.Errorf("expected queued status, got %v", obj["status"])
	}
	if v, ok := obj["watch_folder_id"]; !ok || v != nil {
		t.Errorf("expected null watch_folder_id, got %v", v)
	}
}

func TestListClips_StatusFilter(t *testing.T) {
	fake := (&fakeHasura{}).
		on("clips(", `{"data":{"rows":[]}}`).
		on("clips(", `{"data":{"rows":[]}}`)
	store := newTestStore(t, fake)

	if _, err := store.ListClips(context.Background(), testCard); err != nil {
		t.Fatalf("ListClips failed: %v", err)
	}
	if _, err := store.ListClips(context.Background(), testCard, database.PendingClipStatuses...); err != nil {
		t.Fatalf("ListClips failed: %v", err)
	}

	unfiltered := fake.requests[0].Variables["where"].(map[string]any)
	if _, ok := unfiltered["status"]; ok {
		t.Errorf("expected no status filter, got %v", unfiltered)
	}
	filtered := fake.requests[1].Variables["where"].(map[string]any)
	in := filtered["status"].(map[string]any)["_in"].([]any)
	if len(in) != 2 || in[0] != "queued" || in[1] != "extracting_frames" {
		t.Errorf("unexpected status filter %v", in)
	}
}

func TestCountFrames(t *testing.T) {
	fake := (&fakeHasura{}).on("frames_aggregate", `{"data":{"agg":{"aggregate":{"count":7}}}}`)
	store := newTestStore(t, fake)

	n, err := store.CountFrames(context.Background(), testCard, database.FrameQueued)
	if err != nil {
		t.Fatalf("CountFrames failed: %v", err)
	}
	if n != 7 {
		t.Errorf("expected 7, got %d", n)
	}
	where := fake.requests[0].Variables["where"].(map[string]any)
	if _, ok := where["clip"]; !ok {
		t.Errorf("expected frames to be scoped through their clip, got %v", where)
	}

	if n, err := store.CountFrames(context.Background(), "bad-id"); err != nil || n != 0 {
		t.Errorf("expected 0 for malformed card id, got %d, %v", n, err)
	}
}

func TestUpdateClipStatus(t *testing.T) {
	tests := []struct {
		name    string
		replies [][2]string
		wantErr error
	}{
		{
			name:    "applied",
			replies: [][2]string{{"update_clips", `{"data":{"result":{"affected_rows":1}}}`}},
		},
		{
			name: "backwards move",
			replies: [][2]string{
				{"update_clips", `{"data":{"result":{"affected_rows":0}}}`},
				{"clips_by_pk", `{"data":{"row":{"status":"processing_complete"}}}`},
			},
			wantErr: database.ErrInvalidTransition,
		},
		{
			name: "missing clip",
			replies: [][2]string{
				{"update_clips", `{"data":{"result":{"affected_rows":0}}}`},
				{"clips_by_pk", `{"data":{"row":null}}`},
			},
			wantErr: database.ErrNotFound,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			fake := &fakeHasura{}
			for _, r := range tc.replies {
				fake.on(r[0], r[1])
			}
			store := newTestStore(t, fake)

			err := store.UpdateClipStatus(context.Background(), testClip, database.ClipExtractingFrames, "")
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v, got %v", tc.wantErr, err)
			}

			where := fake.requests[0].Variables["where"].(map[string]any)
			in := where["status"].(map[string]any)["_in"].([]any)
			if len(in) != 2 || in[0] != "queued" || in[1] != "extracting_frames" {
				t.Errorf("unexpected allowed source statuses %v", in)
			}
		})
	}
}

func TestUpdateTask_KeepsConcurrentCancel(t *testing.T) {
	fake := (&fakeHasura{}).
		on("processing_tasks_by_pk", `{"data":{"row":{"status":"processing_clips"}}}`).
		on("update_processing_tasks", `{"data":{"result":{"affected_rows":0}}}`).
		on("processing_tasks_by_pk", `{"data":{"row":{"status":"cancelling"}}}`).
		on("update_processing_tasks", `{"data":{"result":{"affected_rows":1}}}`)
	store := newTestStore(t, fake)

	upd := database.TaskUpdate{}.WithStatus(database.TaskProcessingClips).WithProgress(0.4)
	if err := store.UpdateTask(context.Background(), testTask, upd); err != nil {
		t.Fatalf("UpdateTask failed: %v", err)
	}
	if len(fake.requests) != 4 {
		t.Fatalf("expected 4 requests, got %d", len(fake.requests))
	}

	last := fake.requests[3].Variables
	set := last["set"].(map[string]any)
	if set["status"] != "cancelling" {
		t.Errorf("expected cancelling to be kept, got %v", set["status"])
	}
	if set["progress"] != 0.4 {
		t.Errorf("expected progress 0.4, got %v", set["progress"])
	}
	if _, ok := set["stage"]; ok {
		t.Error("unset stage must not be written")
	}
	cond := last["where"].(map[string]any)["status"].(map[string]any)
	if cond["_eq"] != "cancelling" {
		t.Errorf("expected update conditional on cancelling, got %v", cond)
	}
}

func TestUpdateTask_GivesUp(t *testing.T) {
	fake := &fakeHasura{}
	for range maxTaskUpdateAttempts {
		fake.on("processing_tasks_by_pk", `{"data":{"row":{"status":"pending"}}}`)
		fake.on("update_processing_tasks", `{"data":{"result":{"affected_rows":0}}}`)
	}
	store := newTestStore(t, fake)

	if err := store.UpdateTask(context.Background(), testTask, database.TaskUpdate{}.WithStage("x")); err == nil {
		t.Fatal("expected error after repeated conflicts")
	}
}

func TestGetCardConfig(t *testing.T) {
	fake := (&fakeHasura{}).
		on("card_configs", `{"data":{"rows":[{"config":{"model_name":"ArcFace","threshold":null,"use_eq":true}}]}}`).
		on("card_configs", `{"data":{"rows":[]}}`)
	store := newTestStore(t, fake)

	cfg, err := store.GetCardConfig(context.Background(), testCard)
	if err != nil {
		t.Fatalf("GetCardConfig failed: %v", err)
	}
	if cfg["model_name"] != "ArcFace" || cfg["use_eq"] != true {
		t.Errorf("unexpected config %v", cfg)
	}
	if _, ok := cfg["threshold"]; ok {
		t.Error("expected null threshold to be dropped")
	}

	if _, err := store.GetCardConfig(context.Background(), testCard); !errors.Is(err, database.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestListConsentFaces(t *testing.T) {
	fake := (&fakeHasura{}).on("consent_faces", `{"data":{"rows":[
		{"consent_face_id":"a","profile_id":"p1","face_image_path":"/c/alice.jpg","face_embedding":"[0.5,-1,2]",
		 "last_updated":"2026-01-02T10:00:00+00:00","profile":{"person_name":"Alice"}},
		{"consent_face_id":"b","profile_id":"p2","face_image_path":"/c/bob.jpg","face_embedding":null,
		 "last_updated":"2026-01-02T10:00:00+00:00","profile":{"person_name":"Bob"}}]}}`)
	store := newTestStore(t, fake)

	faces, err := store.ListConsentFaces(context.Background(), testCard)
	if err != nil {
		t.Fatalf("ListConsentFaces failed: %v", err)
	}
	if len(faces) != 2 {
		t.Fatalf("expected 2 faces, got %d", len(faces))
	}
	if faces[0].PersonName != "Alice" || !faces[0].HasEmbedding() {
		t.Errorf("unexpected first face %+v", faces[0])
	}
	if got := faces[0].Embedding; len(got) != 3 || got[0] != 0.5 || got[1] != -1 || got[2] != 2 {
		t.Errorf("unexpected embedding %v", got)
	}
	if faces[1].HasEmbedding() {
		t.Error("expected second face to have no embedding")
	}
}

func TestConsentEmbeddingUpdates(t *testing.T) {
	fake := (&fakeHasura{}).
		on("update_consent_faces", `{"data":{"result":{"affected_rows":1}}}`).
		on("update_consent_faces", `{"data":{"result":{"affected_rows":1}}}`).
		on("update_consent_faces", `{"data":{"result":{"affected_rows":0}}}`)
	store := newTestStore(t, fake)
	ctx := context.Background()

	if err := store.UpdateConsentEmbedding(ctx, testFace, []float32{1, 0.25}); err != nil {
		t.Fatalf("UpdateConsentEmbedding failed: %v", err)
	}
	set := fake.requests[0].Variables["set"].(map[string]any)
	if set["face_embedding"] != "[1,0.25]" {
		t.Errorf("expected vector text, got %v", set["face_embedding"])
	}
	if _, ok := set["last_updated"]; !ok {
		t.Error("expected last_updated to be bumped")
	}

	if err := store.ClearConsentEmbedding(ctx, testFace); err != nil {
		t.Fatalf("ClearConsentEmbedding failed: %v", err)
	}
	set = fake.requests[1].Variables["set"].(map[string]any)
	if v, ok := set["face_embedding"]; !ok || v != nil {
		t.Errorf("expected null embedding, got %v", v)
	}

	if err := store.ClearConsentEmbedding(ctx, testFace); !errors.Is(err, database.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestCreateDetectedFace(t *testing.T) {
	fake := (&fakeHasura{}).on("insert_detected_faces_one", `{"data":{"row":{
		"detection_id":"d1","frame_id":"f1","facial_area":{"x":1,"y":2,"w":30,"h":40,"left_eye":{"x":5,"y":6}},
		"confidence":0.97,"face_embeddings":"[0.5,0.25]","status":"queued"}}}`)
	store := newTestStore(t, fake)

	face, err := store.CreateDetectedFace(context.Background(), database.DetectedFace{
		FrameID:    "f1",
		Area:       database.FacialArea{X: 1, Y: 2, W: 30, H: 40},
		Confidence: 0.97,
		Embedding:  []float32{0.5, 0.25},
	})
	if err != nil {
		t.Fatalf("CreateDetectedFace failed: %v", err)
	}
	if face.Status != database.FaceQueued || face.Area.LeftEye == nil || len(face.Embedding) != 2 {
		t.Errorf("unexpected face %+v", face)
	}
	obj := fake.requests[0].Variables["object"].(map[string]any)
	if obj["face_embeddings"] != "[0.5,0.25]" {
		t.Errorf("expected vector text, got %v", obj["face_embeddings"])
	}
}

func TestFrameStatusCounts(t *testing.T) {
	fake := (&fakeHasura{}).on("frames(", `{"data":{"rows":[
		{"status":"queued"},{"status":"recognition_complete"},{"status":"queued"}]}}`)
	store := newTestStore(t, fake)

	counts, err := store.FrameStatusCounts(context.Background(), testClip)
	if err != nil {
		t.Fatalf("FrameStatusCounts failed: %v", err)
	}
	if counts[database.FrameQueued] != 2 || counts[database.FrameRecognitionComplete] != 1 {
		t.Errorf("unexpected counts %v", counts)
	}
}

func TestUpdateWatchFolderStatus(t *testing.T) {
	fake := (&fakeHasura{}).
		on("update_watch_folders", `{"data":{"result":{"affected_rows":1}}}`).
		on("update_watch_folders", `{"data":{"result":{"affected_rows":1}}}`)
	store := newTestStore(t, fake)
	ctx := context.Background()

	if err := store.UpdateWatchFolderStatus(ctx, testFolder, database.WatchFolderActive); err != nil {
		t.Fatalf("UpdateWatchFolderStatus failed: %v", err)
	}
	if err := store.UpdateWatchFolderStatus(ctx, testFolder, database.WatchFolderScanned); err != nil {
		t.Fatalf("UpdateWatchFolderStatus failed: %v", err)
	}

	if _, ok := fake.requests[0].Variables["set"].(map[string]any)["last_scanned"]; ok {
		t.Error("active must not stamp last_scanned")
	}
	if _, ok := fake.requests[1].Variables["set"].(map[string]any)["last_scanned"]; !ok {
		t.Error("scanned must stamp last_scanned")
	}
}
