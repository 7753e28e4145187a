package watch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kozaktomas/consent-audit/internal/constants"
	"github.com/kozaktomas/consent-audit/internal/database"
	"github.com/kozaktomas/consent-audit/internal/metrics"
)

// ErrAlreadyMonitored is returned when a folder already has a running monitor.
var ErrAlreadyMonitored = errors.New("watch folder is already being monitored")

// Options configures a monitor. Zero values select the defaults.
type Options struct {
	PollInterval      time.Duration
	ErrorBackoff      time.Duration
	InactivityTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.PollInterval <= 0 {
		o.PollInterval = constants.WatchPollInterval
	}
	if o.ErrorBackoff <= 0 {
		o.ErrorBackoff = constants.WatchErrorBackoff
	}
	if o.InactivityTimeout <= 0 {
		o.InactivityTimeout = constants.WatchInactivityTimeout
	}
	return o
}

// Registry tracks the running monitors of the process. Monitors run on their own
// goroutines and outlive the request that started them.
type Registry struct {
	store  Store
	logger *zap.Logger

	mu       sync.Mutex
	monitors map[string]*monitor
}

// NewRegistry creates an empty registry.
func NewRegistry(store Store, logger *zap.Logger) *Registry {
	return &Registry{
		store:    store,
		logger:   logger.Named("watch"),
		monitors: make(map[string]*monitor),
	}
}

type monitor struct {
	folder *database.WatchFolder
	opts   Options
	logger *zap.Logger
	known  map[string]bool

	cancel context.CancelFunc
	done   chan struct{}
}

// Start begins monitoring a folder. Files present at start are treated as known and are
// not enqueued; use Scan for those.
func (r *Registry) Start(ctx context.Context, folderID string, opts Options) error {
	r.mu.Lock()
	if _, ok := r.monitors[folderID]; ok {
		r.mu.Unlock()
		return ErrAlreadyMonitored
	}
	// Reserve the slot so concurrent Start calls for the same folder fail fast.
	r.monitors[folderID] = nil
	r.mu.Unlock()

	m, err := r.newMonitor(ctx, folderID, opts.withDefaults())
	if err != nil {
		r.mu.Lock()
		delete(r.monitors, folderID)
		r.mu.Unlock()
		r.setStatus(context.WithoutCancel(ctx), folderID, database.WatchFolderError)
		return err
	}

	mctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel

	r.mu.Lock()
	r.monitors[folderID] = m
	metrics.SetActiveMonitors(r.countLocked())
	r.mu.Unlock()

	go r.loop(mctx, m)

	m.logger.Info("started monitoring", zap.String("path", m.folder.FolderPath),
		zap.Int("existing_files", len(m.known)))
	return nil
}

func (r *Registry) newMonitor(ctx context.Context, folderID string, opts Options) (*monitor, error) {
	folder, err := r.store.GetWatchFolder(ctx, folderID)
	if err != nil {
		return nil, fmt.Errorf("get watch folder %s: %w", folderID, err)
	}
	if folder.CardID == "" {
		return nil, fmt.Errorf("could not find card ID for watch folder %s", folderID)
	}
	if err := r.store.UpdateWatchFolderStatus(ctx, folderID, database.WatchFolderActive); err != nil {
		return nil, fmt.Errorf("mark folder active: %w", err)
	}

	existing, err := FindVideoFiles(folder.FolderPath)
	if err != nil {
		return nil, fmt.Errorf("snapshot %s: %w", folder.FolderPath, err)
	}
	known := make(map[string]bool, len(existing))
	for _, f := range existing {
		known[f] = true
	}

	return &monitor{
		folder: folder,
		opts:   opts,
		logger: r.logger.With(zap.String("watch_folder_id", folderID)),
		known:  known,
		done:   make(chan struct{}),
	}, nil
}

// Stop stops the folder's monitor and marks the folder idle. A folder without a monitor
// is only marked idle.
func (r *Registry) Stop(ctx context.Context, folderID string) error {
	r.mu.Lock()
	m := r.monitors[folderID]
	if m != nil {
		delete(r.monitors, folderID)
		metrics.SetActiveMonitors(r.countLocked())
	}
	r.mu.Unlock()

	if m != nil {
		m.cancel()
		select {
		case <-m.done:
		case <-ctx.Done():
			return ctx.Err()
		}
		m.logger.Info("stopped monitoring")
	}

	if err := r.store.UpdateWatchFolderStatus(ctx, folderID, database.WatchFolderIdle); err != nil {
		return fmt.Errorf("mark folder idle: %w", err)
	}
	return nil
}

// Active returns the ids of the monitored folders, sorted.
func (r *Registry) Active() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.monitors))
	for id, m := range r.monitors {
		if m != nil {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}

// Shutdown stops every monitor.
func (r *Registry) Shutdown(ctx context.Context) error {
	var errs []error
	for _, id := range r.Active() {
		if err := r.Stop(ctx, id); err != nil {
			errs = append(errs, fmt.Errorf("stop monitor %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

func (r *Registry) countLocked() int {
	n := 0
	for _, m := range r.monitors {
		if m != nil {
			n++
		}
	}
	return n
}

// loop rescans the folder until the monitor is cancelled or stays inactive too long.
func (r *Registry) loop(ctx context.Context, m *monitor) {
	defer close(m.done)

	lastActivity := time.Now()
	failing := false
	for {
		wait := m.opts.PollInterval

		n, err := r.check(ctx, m)
		if err == nil && failing {
			m.logger.Info("monitoring recovered")
			r.setStatus(ctx, m.folder.ID, database.WatchFolderActive)
			failing = false
		}
		switch {
		case err != nil && ctx.Err() != nil:
			return
		case err != nil:
			m.logger.Error("error during monitoring", zap.Error(err))
			if !failing {
				r.setStatus(ctx, m.folder.ID, database.WatchFolderError)
				failing = true
			}
			wait = m.opts.ErrorBackoff
		case n > 0:
			lastActivity = time.Now()
		case time.Since(lastActivity) >= m.opts.InactivityTimeout:
			m.logger.Info("stopping monitor after inactivity", zap.Duration("inactive", time.Since(lastActivity)))
			r.expire(m)
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// check enqueues files that appeared since the last check and returns how many were new.
func (r *Registry) check(ctx context.Context, m *monitor) (int, error) {
	if _, err := os.Stat(m.folder.FolderPath); err != nil {
		return 0, fmt.Errorf("watch folder path unavailable: %w", err)
	}
	files, err := FindVideoFiles(m.folder.FolderPath)
	if err != nil {
		return 0, fmt.Errorf("scan %s: %w", m.folder.FolderPath, err)
	}

	var fresh []string
	for _, f := range files {
		if !m.known[f] {
			fresh = append(fresh, f)
		}
	}
	if len(fresh) == 0 {
		return 0, nil
	}

	res, err := enqueue(ctx, r.store, m.folder, fresh, m.logger)
	if err != nil {
		return 0, err
	}
	for _, f := range fresh {
		m.known[f] = true
	}
	m.logger.Info("found new video files",
		zap.Int("new", len(fresh)),
		zap.Int("created", res.Created),
		zap.Int("duplicates", len(res.Duplicates)))
	return len(fresh), nil
}

// expire deregisters a monitor that stopped on its own and marks its folder idle.
func (r *Registry) expire(m *monitor) {
	r.mu.Lock()
	if r.monitors[m.folder.ID] == m {
		delete(r.monitors, m.folder.ID)
		metrics.SetActiveMonitors(r.countLocked())
	}
	r.mu.Unlock()
	r.setStatus(context.Background(), m.folder.ID, database.WatchFolderIdle)
}

func (r *Registry) setStatus(ctx context.Context, folderID string, status database.WatchFolderStatus) {
	if err := r.store.UpdateWatchFolderStatus(ctx, folderID, status); err != nil {
		r.logger.Warn("failed to update watch folder status",
			zap.String("watch_folder_id", folderID), zap.String("status", string(status)), zap.Error(err))
	}
}
