package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"airsenal-control/internal/hub"
	"airsenal-control/internal/models"
	"airsenal-control/internal/secrets"
	"airsenal-control/internal/service"
)

// Server exposes the job queue and secret store over HTTP.
type Server struct {
	Queue    *service.QueueService
	Secrets  *secrets.Store
	Gatherer prometheus.Gatherer
	Logger   *slog.Logger
}

func (s Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.Gatherer, promhttp.HandlerOpts{}))

	r.Route("/v1", func(r chi.Router) {
		r.Post("/jobs", s.handleSubmitJob)
		r.Get("/jobs", s.handleListJobs)
		r.Delete("/jobs/logs", s.handleClearAllLogs)
		r.Get("/jobs/{id}", s.handleGetJob)
		r.Post("/jobs/{id}/cancel", s.handleCancelJob)
		r.Get("/jobs/{id}/output", s.handleGetOutput)
		r.Get("/jobs/{id}/events", s.handleJobEvents)
		r.Delete("/jobs/{id}/logs", s.handleClearLogs)

		r.Get("/secrets", s.handleListSecrets)
		r.Put("/secrets/{key}", s.handlePutSecret)
		r.Delete("/secrets/{key}", s.handleDeleteSecret)
	})

	return r
}

func (s Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	var req models.CreateJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}

	job, err := s.Queue.Submit(r.Context(), &req)
	if err != nil {
		s.writeServiceErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, job)
}

func (s Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", raw))
			return
		}
		limit = parsed
	}

	jobs, err := s.Queue.ListRecent(r.Context(), limit)
	if err != nil {
		s.writeServiceErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs, "count": len(jobs)})
}

func (s Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.Queue.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeServiceErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.Queue.Cancel(r.Context(), id); err != nil {
		s.writeServiceErr(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"id": id, "cancelling": true})
}

// handleGetOutput returns only the parsed output of a completed job, 404
// until there is one.
func (s Server) handleGetOutput(w http.ResponseWriter, r *http.Request) {
	job, err := s.Queue.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeServiceErr(w, err)
		return
	}
	if job.Output == nil {
		writeErr(w, http.StatusNotFound, errors.New("job has no output"))
		return
	}
	writeJSON(w, http.StatusOK, job.Output)
}

func (s Server) handleClearLogs(w http.ResponseWriter, r *http.Request) {
	if err := s.Queue.ClearLogs(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeServiceErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s Server) handleClearAllLogs(w http.ResponseWriter, r *http.Request) {
	n, err := s.Queue.ClearAllLogs(r.Context())
	if err != nil {
		s.writeServiceErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cleared": n})
}

// handleJobEvents streams job events as server-sent events. The first event
// is a snapshot of the persisted job, so a client attaching after the job
// finished still receives the terminal state and log tail. A log line can
// appear both in the snapshot and as a live event; clients should dedupe
// against the snapshot's log tail.
func (s Server) handleJobEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeErr(w, http.StatusInternalServerError, errors.New("streaming unsupported"))
		return
	}

	job, sub, err := s.Queue.Subscribe(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeServiceErr(w, err)
		return
	}
	defer sub.Unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	writeEvent(w, "snapshot", job)
	flusher.Flush()
	if job.Status.Terminal() {
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, open := <-sub.C:
			if !open {
				return
			}
			writeEvent(w, string(ev.Type), ev)
			flusher.Flush()
			if ev.Type == hub.EventStatus && ev.Status.Terminal() {
				return
			}
		}
	}
}

type putSecretRequest struct {
	Value string `json:"value"`
}

func (s Server) handlePutSecret(w http.ResponseWriter, r *http.Request) {
	var req putSecretRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}

	key := chi.URLParam(r, "key")
	if err := s.Secrets.Put(r.Context(), key, req.Value); err != nil {
		if errors.Is(err, secrets.ErrKeyNotAllowed) {
			writeErr(w, http.StatusBadRequest, err)
			return
		}
		s.writeInternalErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"key": key, "stored": true})
}

// handleListSecrets returns stored key names only, never values.
func (s Server) handleListSecrets(w http.ResponseWriter, r *http.Request) {
	keys, err := s.Secrets.Keys(r.Context())
	if err != nil {
		s.writeInternalErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"keys": keys})
}

func (s Server) handleDeleteSecret(w http.ResponseWriter, r *http.Request) {
	if err := s.Secrets.Delete(r.Context(), chi.URLParam(r, "key")); err != nil {
		s.writeInternalErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s Server) writeServiceErr(w http.ResponseWriter, err error) {
	var vErr *models.ValidationError
	switch {
	case errors.As(err, &vErr):
		writeErr(w, http.StatusBadRequest, err)
	case errors.Is(err, service.ErrJobNotFound):
		writeErr(w, http.StatusNotFound, err)
	case errors.Is(err, service.ErrInvalidState):
		writeErr(w, http.StatusConflict, err)
	default:
		s.writeInternalErr(w, err)
	}
}

func (s Server) writeInternalErr(w http.ResponseWriter, err error) {
	if s.Logger != nil {
		s.Logger.Error("request failed", "error", err)
	}
	writeErr(w, http.StatusInternalServerError, errors.New("internal error"))
}

func writeEvent(w io.Writer, event string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]any{"error": err.Error()})
}
