package api

import (
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"kafka-stream-replay/internal/config"
	"kafka-stream-replay/internal/models"
	"kafka-stream-replay/internal/ratelimit"
	"kafka-stream-replay/internal/replay"
	"kafka-stream-replay/internal/store"
	"kafka-stream-replay/internal/telemetry"
)

const maxBodyBytes = 10 << 20

// Server wires HTTP handlers for stream definitions and replay jobs.
type Server struct {
	cfg      config.Config
	store    store.Store
	registry *replay.Registry
	limiter  *ratelimit.Limiter
	log      zerolog.Logger
}

// New constructs the API server. A nil limiter disables rate limiting.
func New(cfg config.Config, st store.Store, reg *replay.Registry, limiter *ratelimit.Limiter, log zerolog.Logger) *Server {
	return &Server{
		cfg:      cfg,
		store:    st,
		registry: reg,
		limiter:  limiter,
		log:      log,
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Mount("/metrics", telemetry.Handler())

	r.Route("/api/streams", func(r chi.Router) {
		r.Post("/save", s.handleSave)
		r.Post("/produce", s.handleProduce)
		r.Get("/state/{id}", s.handleState)
		r.Get("/{name}", s.handleGetStream)
		r.Post("/{name}/produce", s.handleProduceStored)
	})

	if fi, err := os.Stat(s.cfg.WebDir); err == nil && fi.IsDir() {
		r.Handle("/*", http.FileServer(http.Dir(s.cfg.WebDir)))
	}
	return r
}

type produceResponse struct {
	ID    string       `json:"id"`
	State models.State `json:"state"`
}

func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	stream, err := models.ParseStream(body)
	if err != nil {
		writeParseError(w, err)
		return
	}
	if err := s.store.Save(r.Context(), stream); err != nil {
		var vErr *models.ValidationError
		if errors.As(err, &vErr) {
			http.Error(w, vErr.Msg, http.StatusBadRequest)
			return
		}
		s.log.Error().Err(err).Str("stream", stream.Name).Msg("save stream failed")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	telemetry.StreamsSaved.Inc()
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleGetStream(w http.ResponseWriter, r *http.Request) {
	stream, ok := s.loadStream(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, stream)
}

func (s *Server) handleProduce(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r) {
		return
	}
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	def, err := models.ParseDefinition(body)
	if err != nil {
		writeParseError(w, err)
		return
	}
	s.submit(w, def)
}

func (s *Server) handleProduceStored(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r) {
		return
	}
	stream, ok := s.loadStream(w, r)
	if !ok {
		return
	}
	s.submit(w, stream.QueueDefinition)
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	job, err := s.registry.Get(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, job.State())
}

func (s *Server) submit(w http.ResponseWriter, def models.QueueDefinition) {
	id, state, err := s.registry.Submit(def)
	if err != nil {
		writeParseError(w, err)
		return
	}
	s.log.Info().Str("job_id", id).Str("topic", def.Topic).Msg("replay submitted")
	writeJSON(w, http.StatusOK, produceResponse{ID: id, State: state})
}

func (s *Server) loadStream(w http.ResponseWriter, r *http.Request) (models.Stream, bool) {
	name := chi.URLParam(r, "name")
	stream, err := s.store.Get(r.Context(), name)
	if errors.Is(err, models.ErrNotFound) {
		http.Error(w, "not found", http.StatusNotFound)
		return models.Stream{}, false
	}
	if err != nil {
		s.log.Error().Err(err).Str("stream", name).Msg("load stream failed")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return models.Stream{}, false
	}
	return stream, true
}

// allow applies the per-client submission budget. Redis failures let the
// request through.
func (s *Server) allow(w http.ResponseWriter, r *http.Request) bool {
	if s.limiter == nil {
		return true
	}
	allowed, _, err := s.limiter.Allow(r.Context(), clientFromRequest(r))
	if err != nil {
		s.log.Warn().Err(err).Msg("rate limiter unavailable")
		return true
	}
	if !allowed {
		telemetry.RateLimitRejects.Inc()
		http.Error(w, "rate limited", http.StatusTooManyRequests)
		return false
	}
	return true
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("took", time.Since(start)).
			Msg("http request")
	})
}

func clientFromRequest(r *http.Request) string {
	if v := r.Header.Get("X-Client-ID"); v != "" {
		return v
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
		return nil, false
	}
	return body, true
}

func writeParseError(w http.ResponseWriter, err error) {
	var vErr *models.ValidationError
	var synErr *json.SyntaxError
	switch {
	case errors.As(err, &vErr):
		http.Error(w, vErr.Msg, http.StatusBadRequest)
	case errors.As(err, &synErr):
		http.Error(w, "invalid json", http.StatusBadRequest)
	default:
		http.Error(w, err.Error(), http.StatusBadRequest)
	}
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
