package handlers

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/consent-audit/internal/database"
	"github.com/kozaktomas/consent-audit/internal/pipeline"
	"github.com/kozaktomas/consent-audit/internal/watch"
)

// requestWithChiParams creates a request with chi URL parameters
func requestWithChiParams(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for key, value := range params {
		rctx.URLParams.Add(key, value)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// fakeProcessing records calls and serves task snapshots in order; the last snapshot
// repeats once the list is exhausted.
type fakeProcessing struct {
	mu sync.Mutex

	startResult *pipeline.StartResult
	startErr    error
	stopResult  *pipeline.StopResult
	stopErr     error
	tasks       []database.Task
	tasksErr    error
	snapshots   []database.Task
	taskErr     error

	startCard      string
	startOverrides map[string]any
	stopTask       string
	taskCalls      int
}

func (f *fakeProcessing) Start(_ context.Context, cardID string, overrides map[string]any) (*pipeline.StartResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startCard = cardID
	f.startOverrides = overrides
	return f.startResult, f.startErr
}

func (f *fakeProcessing) Stop(_ context.Context, taskID string) (*pipeline.StopResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopTask = taskID
	return f.stopResult, f.stopErr
}

func (f *fakeProcessing) Task(_ context.Context, taskID string) (*database.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.taskErr != nil {
		return nil, f.taskErr
	}
	if len(f.snapshots) == 0 {
		return nil, fmt.Errorf("task %s: %w", taskID, database.ErrNotFound)
	}
	i := min(f.taskCalls, len(f.snapshots)-1)
	f.taskCalls++
	t := f.snapshots[i]
	return &t, nil
}

func (f *fakeProcessing) Tasks(context.Context) ([]database.Task, error) {
	return f.tasks, f.tasksErr
}

type fakeWatcher struct {
	startErr   error
	stopErr    error
	scanResult *watch.ScanResult
	scanErr    error

	started []string
	opts    watch.Options
	stopped []string
}

func (f *fakeWatcher) Start(_ context.Context, folderID string, opts watch.Options) error {
	f.started = append(f.started, folderID)
	f.opts = opts
	return f.startErr
}

func (f *fakeWatcher) Stop(_ context.Context, folderID string) error {
	f.stopped = append(f.stopped, folderID)
	return f.stopErr
}

func (f *fakeWatcher) Scan(context.Context, string) (*watch.ScanResult, error) {
	return f.scanResult, f.scanErr
}
