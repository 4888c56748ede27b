// Package httpapi exposes interactions over HTTP: a server streaming events as SSE and the
// matching client used by the CLI.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bnema/arena-relay/internal/domain"
	arenalog "github.com/bnema/arena-relay/internal/log"
	"github.com/bnema/arena-relay/internal/metrics"
	"github.com/bnema/arena-relay/internal/ports"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const maxBodyBytes = 4 << 20

// Interactions is the orchestration surface the server drives.
type Interactions interface {
	Run(ctx context.Context, req domain.InteractionRequest, sink ports.EventSink) error
	Cancel(requestID string) bool
	Resume(requestID string) bool
}

type StatusSource interface {
	Snapshot() domain.PoolSnapshot
}

// PendingSource lists requests parked on a human resume.
type PendingSource interface {
	Pending() []string
}

type Config struct {
	// RatePerMinute bounds interaction submissions per client IP. Zero disables the limit.
	RatePerMinute int
}

type Server struct {
	cfg          Config
	interactions Interactions
	status       StatusSource
	pending      PendingSource
	logger       zerolog.Logger
}

func NewServer(cfg Config, interactions Interactions, status StatusSource, pending PendingSource) *Server {
	return &Server{
		cfg:          cfg,
		interactions: interactions,
		status:       status,
		pending:      pending,
		logger:       arenalog.WithComponent("http"),
	}
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(chimw.RequestID)
	r.Use(s.observe)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Route("/interactions", func(r chi.Router) {
			r.With(s.rateLimit()).Post("/", s.handleInteraction)
			r.Post("/{id}/resume", s.handleResume)
			r.Delete("/{id}", s.handleCancel)
		})
	})

	return r
}

func (s *Server) rateLimit() func(http.Handler) http.Handler {
	if s.cfg.RatePerMinute <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return httprate.Limit(
		s.cfg.RatePerMinute,
		time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Retry-After", "60")
			writeJSON(w, http.StatusTooManyRequests, errorBody{Error: "rate_limit_exceeded", Detail: "too many interactions, try again later"})
		}),
	)
}

// observe logs each request and records its latency by route pattern.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		elapsed := time.Since(start)
		metrics.HTTPRequestDuration.WithLabelValues(r.Method, route, strconv.Itoa(status)).Observe(elapsed.Seconds())

		s.logger.Debug().
			Str("method", r.Method).
			Str("route", route).
			Int(arenalog.FieldStatus, status).
			Dur("elapsed", elapsed).
			Str("http_request_id", chimw.GetReqID(r.Context())).
			Msg("http request")
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	snap := s.status.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"host_connected": snap.Host.Connected,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	var pending []string
	if s.pending != nil {
		pending = s.pending.Pending()
	}
	writeJSON(w, http.StatusOK, NewStatusBody(s.status.Snapshot(), pending))
}

func (s *Server) handleInteraction(w http.ResponseWriter, r *http.Request) {
	var body InteractionBody
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_body", Detail: err.Error()})
		return
	}

	req := body.toDomain()
	if strings.TrimSpace(req.RequestID) == "" {
		req.RequestID = uuid.NewString()
	}
	if strings.TrimSpace(req.ConversationID) == "" {
		req.ConversationID = uuid.NewString()
	}
	if err := req.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_request", Detail: err.Error()})
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "streaming_unsupported"})
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Request-ID", req.RequestID)
	w.Header().Set("X-Conversation-ID", req.ConversationID)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sink := &sseSink{w: w, flusher: flusher}
	ctx := arenalog.ContextWithRequestID(r.Context(), req.RequestID)
	if err := s.interactions.Run(ctx, req, sink); err != nil {
		arenalog.WithContext(ctx, s.logger).Debug().Err(err).Msg("interaction ended with error")
	}
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !s.interactions.Resume(id) {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "not_found", Detail: fmt.Sprintf("no request %s is waiting for a resume", id)})
		return
	}
	writeJSON(w, http.StatusOK, actionBody{RequestID: id, Resumed: true})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !s.interactions.Cancel(id) {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "not_found", Detail: fmt.Sprintf("no running request %s", id)})
		return
	}
	writeJSON(w, http.StatusOK, actionBody{RequestID: id, Cancelled: true})
}

// sseSink writes one SSE frame per event. Writes after a failed write are dropped.
type sseSink struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
	failed  bool
}

func (s *sseSink) Emit(event domain.StreamEvent) {
	data, err := json.Marshal(EncodeEvent(event))
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failed {
		return
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event.Kind(), data); err != nil {
		s.failed = true
		return
	}
	s.flusher.Flush()
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// IsNotFound reports whether err is a 404 from the relay API.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}
