package scheduler

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/strefethen/hotel-hub-go/internal/api"
	"github.com/strefethen/hotel-hub-go/internal/apperrors"
	"github.com/strefethen/hotel-hub-go/internal/db"
)

// RegisterRoutes wires scheduler admin routes to the router.
func RegisterRoutes(router chi.Router, service *Service) {
	router.Method(http.MethodGet, "/v1/scheduler/jobs", api.Handler(listJobs(service)))
	router.Method(http.MethodPost, "/v1/scheduler/jobs/{name}/run", api.Handler(runJob(service)))
}

// listJobs handles GET /v1/scheduler/jobs
func listJobs(service *Service) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		jobs := service.Jobs()
		data := make([]map[string]any, 0, len(jobs))
		for _, job := range jobs {
			data = append(data, formatJob(job))
		}
		return api.WriteList(w, "/v1/scheduler/jobs", data, false)
	}
}

// runJob handles POST /v1/scheduler/jobs/{name}/run. The invocation outlives
// the request; a task failure is reported in the stats, not as an HTTP error.
func runJob(service *Service) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		name := chi.URLParam(r, "name")

		stats, err := service.RunNow(context.WithoutCancel(r.Context()), name)
		var notFound *TaskNotFoundError
		if errors.As(err, &notFound) {
			return apperrors.NewNotFoundError(apperrors.ErrorCodeTaskNotFound, "Task not found", map[string]any{"name": name})
		}

		result := formatJob(stats)
		result["success"] = err == nil
		return api.WriteAction(w, http.StatusOK, result)
	}
}

func formatJob(stats TaskStats) map[string]any {
	return map[string]any{
		"object":           "scheduler_job",
		"name":             stats.Name,
		"interval_ms":      stats.IntervalMs,
		"running":          stats.Running,
		"last_run_at":      db.NullableTime(stats.LastRunAt),
		"last_duration_ms": stats.LastDurationMs,
		"last_error":       stats.LastError,
		"last_trigger":     stats.LastTrigger,
		"run_count":        stats.RunCount,
		"failure_count":    stats.FailureCount,
		"next_run_at":      db.NullableTime(stats.NextRunAt),
	}
}
