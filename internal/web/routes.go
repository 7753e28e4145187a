package web

import (
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/kozaktomas/consent-audit/internal/config"
	"github.com/kozaktomas/consent-audit/internal/metrics"
	"github.com/kozaktomas/consent-audit/internal/watch"
	"github.com/kozaktomas/consent-audit/internal/web/handlers"
)

const requestTimeout = 2 * time.Minute

func (s *Server) setupRoutes() {
	s.router.Handle("/metrics", metrics.Handler())

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", handlers.HealthCheck)

		// Event streams run for as long as the task does.
		r.Get("/tasks/{taskId}/events", s.processing.TaskEvents)

		r.Group(func(r chi.Router) {
			r.Use(chiMiddleware.Timeout(requestTimeout))

			r.Post("/processing/start", s.processing.Start)
			r.Post("/processing/stop", s.processing.Stop)

			r.Get("/tasks", s.processing.ListTasks)
			r.Get("/tasks/{taskId}", s.processing.GetTask)

			r.Post("/watch-folders/{id}/monitor", s.watchFolders.StartMonitoring)
			r.Delete("/watch-folders/{id}/monitor", s.watchFolders.StopMonitoring)
			r.Post("/watch-folders/{id}/scan", s.watchFolders.Scan)
		})
	})
}

// watchOptions converts the watch settings into monitor options.
func watchOptions(cfg *config.Config) watch.Options {
	return watch.Options{
		PollInterval:      time.Duration(cfg.Watch.PollSeconds) * time.Second,
		InactivityTimeout: time.Duration(cfg.Watch.InactivityMinutes) * time.Minute,
	}
}
