package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/trafficlens/trafficlens/internal/database"
	"github.com/trafficlens/trafficlens/internal/event"
	"github.com/trafficlens/trafficlens/internal/ingest"
	"github.com/trafficlens/trafficlens/internal/pipeline"
)

// Server exposes the HTTP API: event queries, stats, the live frame, the
// passage event WebSocket stream and Prometheus metrics.
type Server struct {
	router       *chi.Mux
	events       *event.Service
	hub          *Hub
	pipe         *pipeline.Pipeline
	db           *database.DB
	snapshotsDir string
	logger       *slog.Logger
}

// NewServer creates the API server and mounts all routes.
func NewServer(events *event.Service, hub *Hub, pipe *pipeline.Pipeline, db *database.DB, snapshotsDir string) *Server {
	s := &Server{
		events:       events,
		hub:          hub,
		pipe:         pipe,
		db:           db,
		snapshotsDir: snapshotsDir,
		logger:       slog.Default().With("component", "api"),
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:*", "http://127.0.0.1:*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"Link", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/events", s.handleListEvents)
		r.Get("/events/{id}", s.handleGetEvent)
		r.Get("/stats", s.handleStats)
		r.Get("/frame.jpeg", s.handleFrame)
	})

	if snapshotsDir != "" {
		fs := http.StripPrefix("/snapshots/", http.FileServer(http.Dir(snapshotsDir)))
		r.Get("/snapshots/*", fs.ServeHTTP)
	}

	if hub != nil {
		r.Get("/ws/events", hub.HandleWebSocket)
	}

	s.router = r
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	checks := map[string]string{"database": "ok"}

	if err := s.db.Health(r.Context()); err != nil {
		status = "degraded"
		checks["database"] = "error"
	}

	if s.pipe != nil && s.pipe.Latest() != nil {
		checks["pipeline"] = "ok"
	} else {
		checks["pipeline"] = "no frames yet"
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"status": status,
		"checks": checks,
	})
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := event.ListOptions{
		Side:        q.Get("side"),
		VehicleType: q.Get("type"),
	}
	if v := q.Get("lane"); v != "" {
		lane, err := strconv.Atoi(v)
		if err != nil {
			BadRequest(w, "invalid lane")
			return
		}
		opts.Lane = lane
	}
	if v := q.Get("start"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			BadRequest(w, "invalid start time, want RFC3339")
			return
		}
		opts.StartTime = ts
	}
	if v := q.Get("end"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			BadRequest(w, "invalid end time, want RFC3339")
			return
		}
		opts.EndTime = ts
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil {
			BadRequest(w, "invalid limit")
			return
		}
		opts.Limit = limit
	}
	if v := q.Get("offset"); v != "" {
		offset, err := strconv.Atoi(v)
		if err != nil {
			BadRequest(w, "invalid offset")
			return
		}
		opts.Offset = offset
	}

	events, total, err := s.events.List(r.Context(), opts)
	if err != nil {
		s.logger.Error("Failed to list events", "error", err)
		InternalError(w, "failed to list events")
		return
	}
	if events == nil {
		events = []*event.PassageEvent{}
	}

	JSONWithMeta(w, http.StatusOK, events, &Meta{
		Total:  total,
		Limit:  opts.Limit,
		Offset: opts.Offset,
	})
}

func (s *Server) handleGetEvent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	ev, err := s.events.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, event.ErrNotFound) {
			NotFound(w, "passage event not found")
			return
		}
		s.logger.Error("Failed to load passage event", "id", id, "error", err)
		InternalError(w, "failed to load passage event")
		return
	}
	JSON(w, http.StatusOK, ev)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	hours := 24
	if v := r.URL.Query().Get("hours"); v != "" {
		h, err := strconv.Atoi(v)
		if err != nil || h <= 0 {
			BadRequest(w, "invalid hours")
			return
		}
		hours = h
	}

	stats, err := s.events.Stats(r.Context(), time.Now().Add(-time.Duration(hours)*time.Hour))
	if err != nil {
		s.logger.Error("Failed to compute stats", "error", err)
		InternalError(w, "failed to compute stats")
		return
	}
	JSON(w, http.StatusOK, stats)
}

// handleFrame serves the most recently processed frame as JPEG, with
// detections and counting lines drawn on. The raw frame is a fallback
// for the rare state without an annotated image.
func (s *Server) handleFrame(w http.ResponseWriter, r *http.Request) {
	if s.pipe == nil {
		NotFound(w, "pipeline not running")
		return
	}
	state := s.pipe.Latest()
	if state == nil || state.Frame == nil {
		NotFound(w, "no frame available yet")
		return
	}

	var data []byte
	if state.Annotated != nil {
		encoded, err := ingest.EncodeJPEG(state.Annotated, 85)
		if err != nil {
			InternalError(w, "failed to encode frame")
			return
		}
		data = encoded
	} else if data = state.Frame.Data; data == nil {
		encoded, err := ingest.EncodeJPEG(state.Frame.Image, 85)
		if err != nil {
			InternalError(w, "failed to encode frame")
			return
		}
		data = encoded
	}

	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(data)
}
