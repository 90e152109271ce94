package http

import (
	"context"
	"net/http"
	"strconv"

	"github.com/fedutinova/retinascan/internal/common"
	"github.com/fedutinova/retinascan/internal/queue"
	"github.com/go-chi/chi/v5"
)

// deadLetterQueue is implemented by queues that keep entries they gave up on.
type deadLetterQueue interface {
	DeadLetters(ctx context.Context, limit int64) ([]queue.DeadLetter, error)
	Requeue(ctx context.Context, id string) error
}

func (h *Handlers) queueStats(w http.ResponseWriter, r *http.Request) {
	st, err := h.Q.Stats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *Handlers) deadLetterQueue(w http.ResponseWriter) (deadLetterQueue, bool) {
	dq, ok := h.Q.(deadLetterQueue)
	if !ok {
		writeJSON(w, http.StatusNotImplemented, map[string]string{
			"error": "the " + h.Config.QueueMode + " queue keeps no dead letters",
		})
	}
	return dq, ok
}

func (h *Handlers) listDeadLetters(w http.ResponseWriter, r *http.Request) {
	dq, ok := h.deadLetterQueue(w)
	if !ok {
		return
	}
	var limit int64 = 50
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil || n < 1 || n > 500 {
			writeError(w, common.ValidationError{Field: "limit", Message: "must be between 1 and 500"})
			return
		}
		limit = n
	}
	dead, err := dq.DeadLetters(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"dead_letters": dead})
}

func (h *Handlers) requeueDeadLetter(w http.ResponseWriter, r *http.Request) {
	dq, ok := h.deadLetterQueue(w)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	if err := dq.Requeue(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"requeued": id})
}
