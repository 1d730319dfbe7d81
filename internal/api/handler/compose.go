package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"runtime"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/kiranshivaraju/mediaforge/internal/api/response"
	"github.com/kiranshivaraju/mediaforge/internal/compose"
	"github.com/kiranshivaraju/mediaforge/internal/jobs"
	"github.com/kiranshivaraju/mediaforge/internal/worker"
	"github.com/kiranshivaraju/mediaforge/pkg/models"
)

const (
	maxPromptBytes  = 4 << 20
	queueRetryAfter = 5
	outputFileType  = "output"
)

// Composer defines the interface the compose handlers depend on.
type Composer interface {
	Submit(ctx context.Context, prompt json.RawMessage, clientID string) (jobs.Job, error)
	Report(id string) (compose.Report, error)
	Interrupt(ctx context.Context, id string) error
	Queue() compose.Queue
	Stats() worker.Stats
}

// NewPromptHandler returns an http.HandlerFunc for POST /prompt.
func NewPromptHandler(svc Composer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req models.PromptRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxPromptBytes)).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "invalid request", "body must be a JSON object")
			return
		}

		job, err := svc.Submit(r.Context(), req.Prompt, req.ClientID)
		if err != nil {
			switch {
			case errors.Is(err, compose.ErrInvalidPrompt):
				response.Error(w, http.StatusBadRequest, "invalid prompt", err.Error())
			case errors.Is(err, worker.ErrQueueFull), errors.Is(err, worker.ErrPoolClosed):
				w.Header().Set("Retry-After", strconv.Itoa(queueRetryAfter))
				response.Error(w, http.StatusServiceUnavailable, "queue unavailable", err.Error())
			default:
				slog.Error("submitting prompt", "error", err)
				response.Error(w, http.StatusInternalServerError, "internal error", "an unexpected error occurred")
			}
			return
		}

		response.OK(w, models.PromptResponse{PromptID: job.ID, Number: 1})
	}
}

// NewHistoryHandler returns an http.HandlerFunc for GET /history/{promptID}.
// An unknown id yields 404 with an empty object so that polling clients see
// the same shape either way.
func NewHistoryHandler(svc Composer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "promptID")

		rep, err := svc.Report(id)
		if err != nil {
			if errors.Is(err, jobs.ErrNotFound) {
				response.Empty(w, http.StatusNotFound)
				return
			}
			slog.Error("reporting job", "prompt_id", id, "error", err)
			response.Error(w, http.StatusInternalServerError, "internal error", "an unexpected error occurred")
			return
		}

		response.OK(w, models.History{rep.Job.ID: historyEntry(rep)})
	}
}

func historyEntry(rep compose.Report) models.HistoryEntry {
	messages := rep.Messages
	if messages == nil {
		messages = []string{}
	}
	entry := models.HistoryEntry{
		Prompt: rep.Job.Input,
		Status: models.HistoryStatus{
			StatusStr: rep.StatusStr,
			Completed: rep.Completed,
			Messages:  messages,
		},
	}
	if !rep.Completed {
		return entry
	}

	entry.Outputs = make(map[string]models.NodeOutput, len(rep.Job.Outputs))
	for _, out := range rep.Job.Outputs {
		node := entry.Outputs[out.Node]
		node.Videos = append(node.Videos, models.FileRef{
			Filename: out.Filename,
			Type:     outputFileType,
		})
		entry.Outputs[out.Node] = node
	}
	return entry
}

// NewQueueHandler returns an http.HandlerFunc for GET /queue.
func NewQueueHandler(svc Composer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := svc.Queue()
		response.OK(w, models.QueueResponse{
			QueueRunning: jobIDs(q.Running),
			QueuePending: jobIDs(q.Pending),
		})
	}
}

func jobIDs(list []jobs.Job) []string {
	ids := make([]string, 0, len(list))
	for _, j := range list {
		ids = append(ids, j.ID)
	}
	return ids
}

// NewInterruptHandler returns an http.HandlerFunc for POST /interrupt.
func NewInterruptHandler(svc Composer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req models.InterruptRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PromptID == "" {
			response.Error(w, http.StatusBadRequest, "invalid request", "prompt_id is required")
			return
		}

		if err := svc.Interrupt(r.Context(), req.PromptID); err != nil {
			switch {
			case errors.Is(err, jobs.ErrNotFound):
				response.Error(w, http.StatusNotFound, "not found", "no such prompt")
			case errors.Is(err, worker.ErrNotCancellable):
				response.Error(w, http.StatusNotFound, "not found", "prompt already finished")
			default:
				slog.Error("interrupting job", "prompt_id", req.PromptID, "error", err)
				response.Error(w, http.StatusInternalServerError, "internal error", "an unexpected error occurred")
			}
			return
		}

		response.OK(w, models.InterruptResponse{PromptID: req.PromptID})
	}
}

// NewSystemStatsHandler returns an http.HandlerFunc for GET /system_stats.
func NewSystemStatsHandler(svc Composer, producerName, version string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var mem runtime.MemStats
		runtime.ReadMemStats(&mem)

		stats := svc.Stats()
		response.OK(w, models.SystemStats{
			Status:  "ready",
			Mode:    producerName,
			Version: version,
			Queue: models.QueueStats{
				Workers:   stats.Workers,
				QueueSize: stats.QueueSize,
				Queued:    stats.Queued,
				Running:   stats.Running,
			},
			System: models.SystemUsage{
				RAM: models.MemoryUsage{Used: mem.HeapAlloc, Total: mem.Sys},
			},
		})
	}
}
