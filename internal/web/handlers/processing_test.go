package handlers

import (
	"bufio"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kozaktomas/consent-audit/internal/database"
	"github.com/kozaktomas/consent-audit/internal/pipeline"
)

func newProcessingHandler(svc *fakeProcessing) *ProcessingHandler {
	return NewProcessingHandler(svc, zap.NewNop(), time.Millisecond)
}

func TestProcessingStart(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		result     *pipeline.StartResult
		err        error
		wantStatus int
		wantError  string
	}{
		{
			name:       "started",
			body:       `{"card_id":"card-1","config":{"model_name":"ArcFace"}}`,
			result:     &pipeline.StartResult{TaskID: "task-1", Status: "pending", ClipsCount: 3},
			wantStatus: http.StatusOK,
		},
		{
			name:       "no clips",
			body:       `{"card_id":"card-1"}`,
			result:     &pipeline.StartResult{TaskID: "none", Status: pipeline.StatusNoClips},
			wantStatus: http.StatusOK,
		},
		{name: "missing card", body: `{}`, wantStatus: http.StatusBadRequest, wantError: "card_id is required"},
		{name: "malformed body", body: `{"card_id":`, wantStatus: http.StatusBadRequest, wantError: errInvalidRequestBody},
		{
			name:       "config missing",
			body:       `{"card_id":"card-1"}`,
			err:        errors.Join(errors.New("configuration not found"), database.ErrNotFound),
			wantStatus: http.StatusNotFound,
			wantError:  "Configuration not found for card card-1",
		},
		{
			name:       "store failure",
			body:       `{"card_id":"card-1"}`,
			err:        errors.New("connection refused"),
			wantStatus: http.StatusInternalServerError,
			wantError:  "Internal server error: connection refused",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			svc := &fakeProcessing{startResult: tc.result, startErr: tc.err}
			h := newProcessingHandler(svc)

			req := httptest.NewRequest(http.MethodPost, "/api/v1/processing/start", strings.NewReader(tc.body))
			rec := httptest.NewRecorder()
			h.Start(rec, req)

			if rec.Code != tc.wantStatus {
				t.Fatalf("expected status %d, got %d: %s", tc.wantStatus, rec.Code, rec.Body.String())
			}
			var body map[string]any
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("failed to unmarshal response: %v", err)
			}
			if tc.wantError != "" {
				if body["error"] != tc.wantError {
					t.Errorf("expected error %q, got %v", tc.wantError, body["error"])
				}
				return
			}
			if body["task_id"] != tc.result.TaskID || body["status"] != tc.result.Status {
				t.Errorf("unexpected response %v", body)
			}
		})
	}
}

func TestProcessingStart_PassesOverrides(t *testing.T) {
	svc := &fakeProcessing{startResult: &pipeline.StartResult{TaskID: "task-1"}}
	h := newProcessingHandler(svc)

	body := `{"card_id":"card-9","config":{"threshold":0.3,"use_eq":false}}`
	h.Start(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body)))

	if svc.startCard != "card-9" {
		t.Errorf("expected card-9, got %q", svc.startCard)
	}
	if svc.startOverrides["threshold"] != 0.3 || svc.startOverrides["use_eq"] != false {
		t.Errorf("unexpected overrides %v", svc.startOverrides)
	}
}

func TestProcessingStop(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		result     *pipeline.StopResult
		err        error
		wantStatus int
		wantTask   string
	}{
		{
			name:       "cancelling",
			body:       `{"task_id":"task-1"}`,
			result:     &pipeline.StopResult{Status: database.TaskCancelling, Message: "Cancellation requested"},
			wantStatus: http.StatusOK,
			wantTask:   "task-1",
		},
		{
			name:       "already complete",
			body:       `{"task_id":"task-2"}`,
			result:     &pipeline.StopResult{Status: database.TaskComplete, Message: "Task task-2 is already complete."},
			wantStatus: http.StatusOK,
			wantTask:   "task-2",
		},
		{name: "missing task id", body: `{}`, wantStatus: http.StatusBadRequest},
		{name: "unknown task", body: `{"task_id":"nope"}`, err: database.ErrNotFound, wantStatus: http.StatusNotFound, wantTask: "nope"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			svc := &fakeProcessing{stopResult: tc.result, stopErr: tc.err}
			h := newProcessingHandler(svc)

			rec := httptest.NewRecorder()
			h.Stop(rec, httptest.NewRequest(http.MethodPost, "/api/v1/processing/stop", strings.NewReader(tc.body)))

			if rec.Code != tc.wantStatus {
				t.Fatalf("expected status %d, got %d: %s", tc.wantStatus, rec.Code, rec.Body.String())
			}
			if svc.stopTask != tc.wantTask {
				t.Errorf("expected stop for %q, got %q", tc.wantTask, svc.stopTask)
			}
			if tc.result == nil {
				return
			}
			var body map[string]string
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("failed to unmarshal response: %v", err)
			}
			if body["status"] != string(tc.result.Status) || body["task_id"] != tc.wantTask {
				t.Errorf("unexpected response %v", body)
			}
		})
	}
}

func TestListTasks(t *testing.T) {
	t.Run("empty list encodes as array", func(t *testing.T) {
		h := newProcessingHandler(&fakeProcessing{})
		rec := httptest.NewRecorder()
		h.ListTasks(rec, httptest.NewRequest(http.MethodGet, "/api/v1/tasks", nil))

		if rec.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rec.Code)
		}
		if got := strings.TrimSpace(rec.Body.String()); got != "[]" {
			t.Errorf("expected [], got %s", got)
		}
	})

	t.Run("tasks", func(t *testing.T) {
		h := newProcessingHandler(&fakeProcessing{tasks: []database.Task{
			{ID: "t2", Status: database.TaskProcessingClips},
			{ID: "t1", Status: database.TaskComplete},
		}})
		rec := httptest.NewRecorder()
		h.ListTasks(rec, httptest.NewRequest(http.MethodGet, "/api/v1/tasks", nil))

		var tasks []database.Task
		if err := json.Unmarshal(rec.Body.Bytes(), &tasks); err != nil {
			t.Fatalf("failed to unmarshal response: %v", err)
		}
		if len(tasks) != 2 || tasks[0].ID != "t2" {
			t.Errorf("unexpected tasks %+v", tasks)
		}
	})

	t.Run("store failure", func(t *testing.T) {
		h := newProcessingHandler(&fakeProcessing{tasksErr: errors.New("boom")})
		rec := httptest.NewRecorder()
		h.ListTasks(rec, httptest.NewRequest(http.MethodGet, "/api/v1/tasks", nil))
		if rec.Code != http.StatusInternalServerError {
			t.Errorf("expected status 500, got %d", rec.Code)
		}
	})
}

func TestGetTask(t *testing.T) {
	svc := &fakeProcessing{snapshots: []database.Task{{ID: "task-1", Status: database.TaskIncomplete, Message: "stopped"}}}
	h := newProcessingHandler(svc)

	rec := httptest.NewRecorder()
	req := requestWithChiParams(httptest.NewRequest(http.MethodGet, "/api/v1/tasks/task-1", nil), map[string]string{"taskId": "task-1"})
	h.GetTask(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	var task database.Task
	if err := json.Unmarshal(rec.Body.Bytes(), &task); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if task.Status != database.TaskIncomplete {
		t.Errorf("expected incomplete, got %s", task.Status)
	}

	rec = httptest.NewRecorder()
	req = requestWithChiParams(httptest.NewRequest(http.MethodGet, "/api/v1/tasks/x", nil), map[string]string{"taskId": "x"})
	newProcessingHandler(&fakeProcessing{}).GetTask(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", rec.Code)
	}
}

type sseEvent struct {
	name string
	data string
}

func readEvents(t *testing.T, body string) []sseEvent {
	t.Helper()
	var events []sseEvent
	var cur sseEvent
	sc := bufio.NewScanner(strings.NewReader(body))
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			cur.name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			cur.data = strings.TrimPrefix(line, "data: ")
		case line == "" && cur.name != "":
			events = append(events, cur)
			cur = sseEvent{}
		}
	}
	return events
}

func TestTaskEvents_StreamsUntilTerminal(t *testing.T) {
	running := database.Task{ID: "task-1", Status: database.TaskProcessingClips, Progress: 0.2}
	svc := &fakeProcessing{snapshots: []database.Task{
		running,
		running, // unchanged poll, no event
		{ID: "task-1", Status: database.TaskProcessingClips, Progress: 0.6},
		{ID: "task-1", Status: database.TaskComplete, Progress: 1, Message: "Processing complete after 1 iterations."},
	}}
	h := newProcessingHandler(svc)

	rec := httptest.NewRecorder()
	req := requestWithChiParams(httptest.NewRequest(http.MethodGet, "/api/v1/tasks/task-1/events", nil), map[string]string{"taskId": "task-1"})
	h.TaskEvents(rec, req)

	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("expected event stream, got %q", ct)
	}

	events := readEvents(t, rec.Body.String())
	var names []string
	for _, e := range events {
		names = append(names, e.name)
	}
	want := []string{"status", "status", "status", "done"}
	if strings.Join(names, ",") != strings.Join(want, ",") {
		t.Fatalf("expected events %v, got %v", want, names)
	}

	var final database.Task
	if err := json.Unmarshal([]byte(events[3].data), &final); err != nil {
		t.Fatalf("failed to decode final event: %v", err)
	}
	if final.Status != database.TaskComplete || final.Progress != 1 {
		t.Errorf("unexpected final task %+v", final)
	}
}

func TestTaskEvents_UnknownTask(t *testing.T) {
	h := newProcessingHandler(&fakeProcessing{})
	rec := httptest.NewRecorder()
	req := requestWithChiParams(httptest.NewRequest(http.MethodGet, "/api/v1/tasks/x/events", nil), map[string]string{"taskId": "x"})
	h.TaskEvents(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", rec.Code)
	}
}
