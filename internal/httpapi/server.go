// Package httpapi exposes the operational control surface: monitor
// lifecycle endpoints, the live-update event stream, and delivery
// history lookups.
package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"yt_monitor/internal/events"
	"yt_monitor/internal/model"
)

// Controller is the monitor lifecycle surface the API drives.
type Controller interface {
	Start()
	Stop()
	Restart()
	Running() bool
	RunImmediateCheck()
}

// HistoryStore reads the delivery audit trail.
type HistoryStore interface {
	ListDeliveries(ctx context.Context, webhookID int64, limit int) ([]model.DeliveryRecord, error)
}

// Server serves the operational HTTP API.
type Server struct {
	controller Controller
	bus        events.Bus
	history    HistoryStore
	log        *slog.Logger
}

// New creates a Server.
func New(controller Controller, bus events.Bus, history HistoryStore, log *slog.Logger) *Server {
	return &Server{controller: controller, bus: bus, history: history, log: log}
}

// Router builds the chi router for the API.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Post("/monitor/start", s.handleStart)
		r.Post("/monitor/stop", s.handleStop)
		r.Post("/monitor/restart", s.handleRestart)
		r.Post("/monitor/check", s.handleCheck)
		r.Get("/monitor/status", s.handleStatus)
		r.Get("/events", s.handleEvents)
		r.Get("/webhooks/{id}/deliveries", s.handleDeliveries)
	})
	return r
}

func (s *Server) handleStart(w http.ResponseWriter, _ *http.Request) {
	s.controller.Start()
	s.writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "running": s.controller.Running()})
}

func (s *Server) handleStop(w http.ResponseWriter, _ *http.Request) {
	s.controller.Stop()
	s.writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "running": s.controller.Running()})
}

func (s *Server) handleRestart(w http.ResponseWriter, _ *http.Request) {
	s.controller.Restart()
	s.writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "running": s.controller.Running()})
}

func (s *Server) handleCheck(w http.ResponseWriter, _ *http.Request) {
	s.controller.RunImmediateCheck()
	s.writeJSON(w, http.StatusAccepted, map[string]any{"status": "check started"})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{"running": s.controller.Running()})
}

// handleEvents bridges the live-update bus onto a server-sent event
// stream. Events the client is too slow to read are dropped by the
// bus, matching the channel's best-effort contract.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch, unsubscribe := s.bus.Subscribe(16)
	defer unsubscribe()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(struct {
				Type string `json:"type"`
				Data any    `json:"data"`
			}{Type: ev.Type, Data: ev.Data})
			if err != nil {
				s.log.Error("encode event", "type", ev.Type, "error", err)
				continue
			}
			if _, err := w.Write(append(append([]byte("data: "), data...), '\n', '\n')); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (s *Server) handleDeliveries(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid webhook id"})
		return
	}

	limit := 10
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 && v <= 100 {
			limit = v
		}
	}

	recs, err := s.history.ListDeliveries(r.Context(), id, limit)
	if err != nil {
		s.log.Error("list deliveries", "webhook_id", id, "error", err)
		s.writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "query failed"})
		return
	}

	type delivery struct {
		VideoID      string    `json:"video_id"`
		Timestamp    time.Time `json:"timestamp"`
		Success      bool      `json:"success"`
		ResponseCode int       `json:"response_code"`
		Message      string    `json:"message"`
		IsTest       bool      `json:"is_test"`
		IsManual     bool      `json:"is_manual"`
	}
	out := make([]delivery, 0, len(recs))
	for _, rec := range recs {
		out = append(out, delivery{
			VideoID:      rec.VideoID,
			Timestamp:    rec.Timestamp,
			Success:      rec.Success,
			ResponseCode: rec.ResponseCode,
			Message:      rec.ResponseMessage,
			IsTest:       rec.IsTest,
			IsManual:     rec.IsManual,
		})
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"deliveries": out})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.log.Error("encode response", "error", err)
	}
}
