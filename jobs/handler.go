package jobs

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"

	"github.com/lodgeledger/lodgeledger/internal/platform/httpx"
	"github.com/lodgeledger/lodgeledger/internal/shared"
)

// QueueInspector is the slice of asynq.Inspector the handler reads.
type QueueInspector interface {
	GetQueueInfo(queue string) (*asynq.QueueInfo, error)
}

// Handler exposes queue health over HTTP.
type Handler struct {
	inspector QueueInspector
	logger    *slog.Logger
}

// NewHandler accepts a nil inspector when Redis is not configured.
func NewHandler(inspector QueueInspector, logger *slog.Logger) *Handler {
	return &Handler{inspector: inspector, logger: logger}
}

func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/health", h.health)
}

// QueueHealth counts tasks per state in one queue.
type QueueHealth struct {
	Queue     string `json:"queue"`
	Enabled   bool   `json:"enabled"`
	Paused    bool   `json:"paused"`
	Pending   int    `json:"pending"`
	Active    int    `json:"active"`
	Scheduled int    `json:"scheduled"`
	Retry     int    `json:"retry"`
	Failed    int    `json:"failed"`
	Archived  int    `json:"archived"`
	Completed int    `json:"completed"`
}

// HealthOf summarises an inspector snapshot.
func HealthOf(info *asynq.QueueInfo) QueueHealth {
	return QueueHealth{
		Queue:     info.Queue,
		Enabled:   true,
		Paused:    info.Paused,
		Pending:   info.Pending,
		Active:    info.Active,
		Scheduled: info.Scheduled,
		Retry:     info.Retry,
		Failed:    info.Failed,
		Archived:  info.Archived,
		Completed: info.Completed,
	}
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if h.inspector == nil {
		httpx.OK(w, http.StatusOK, QueueHealth{Queue: QueueDefault})
		return
	}
	info, err := h.inspector.GetQueueInfo(QueueDefault)
	if err != nil {
		h.logger.Warn("jobs health", slog.Any("error", err))
		httpx.JSON(w, http.StatusServiceUnavailable, httpx.Envelope{
			Status: httpx.StatusError,
			Error:  &httpx.ErrorBody{Kind: shared.KindInternal, Code: "jobs.queue_unavailable", Message: "job queue unavailable"},
		})
		return
	}
	httpx.OK(w, http.StatusOK, HealthOf(info))
}
