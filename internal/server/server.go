// Package server exposes fetching and provider health over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/ingest-cli/internal/fallback"
	"github.com/sells-group/ingest-cli/internal/model"
	"github.com/sells-group/ingest-cli/internal/resilience"
)

// Service is the subset of the orchestrator the API serves.
type Service interface {
	Fetch(ctx context.Context, req model.FetchRequest, order ...string) (*model.FetchOutcome, error)
	InvalidateCache(ctx context.Context, fingerprint string) (int, error)
	InspectHealth(ctx context.Context) ([]model.ProviderHealth, error)
	ResetProvider(ctx context.Context, name string) error
	History(ctx context.Context, provider string, limit int) ([]model.AttemptRecord, error)
}

// Options configures the HTTP API.
type Options struct {
	// CORSOrigins defaults to all origins.
	CORSOrigins []string
	// FetchTimeout bounds a single fetch request. Zero means no bound beyond
	// the client's own connection.
	FetchTimeout time.Duration
}

// Server is the HTTP API.
type Server struct {
	svc    Service
	opts   Options
	router chi.Router
}

// New builds the router.
func New(svc Service, opts Options) *Server {
	if len(opts.CORSOrigins) == 0 {
		opts.CORSOrigins = []string{"*"}
	}
	s := &Server{svc: svc, opts: opts}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: opts.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Post("/fetch", s.handleFetch)
		r.Get("/providers/health", s.handleHealth)
		r.Get("/providers/{name}/history", s.handleHistory)
		r.Post("/providers/{name}/reset", s.handleReset)
		r.Delete("/cache", s.handleInvalidate)
		r.Delete("/cache/{fingerprint}", s.handleInvalidate)
	})

	s.router = r
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// within shutdownTimeout.
func (s *Server) ListenAndServe(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		zap.L().Info("starting server", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server listen")
		}
		return nil
	case <-ctx.Done():
	}

	zap.L().Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return eris.Wrap(err, "server shutdown")
	}
	return nil
}

type fetchRequest struct {
	SourceType string            `json:"source_type"`
	Identifier string            `json:"identifier"`
	Order      []string          `json:"order,omitempty"`
	Options    map[string]string `json:"options,omitempty"`
}

type errorResponse struct {
	Error    string          `json:"error"`
	Verdict  string          `json:"verdict,omitempty"`
	Kind     string          `json:"kind,omitempty"`
	Attempts []model.Attempt `json:"attempts,omitempty"`
}

func (s *Server) handleFetch(w http.ResponseWriter, r *http.Request) {
	var body fetchRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.Identifier == "" {
		writeError(w, http.StatusBadRequest, "identifier is required")
		return
	}

	req := model.FetchRequest{Identifier: body.Identifier, Options: body.Options}
	if body.SourceType != "" {
		st, ok := model.ParseSourceType(body.SourceType)
		if !ok {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown source_type %q", body.SourceType))
			return
		}
		req.SourceType = st
	}

	ctx := r.Context()
	if s.opts.FetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.FetchTimeout)
		defer cancel()
	}

	out, err := s.svc.Fetch(ctx, req, body.Order...)
	if err != nil {
		writeFetchError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// writeFetchError maps a fetch failure to a status: bad input is 4xx, a
// chain that found nothing permanent is 502.
func writeFetchError(w http.ResponseWriter, err error) {
	var exhausted *fallback.AllProvidersExhaustedError
	switch {
	case fallback.IsConfigError(err), errors.Is(err, fallback.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &exhausted):
		status := http.StatusBadGateway
		verdict := exhausted.Verdict()
		kind := exhausted.Kind()
		if verdict == fallback.VerdictInvalidIdentifier {
			status = http.StatusUnprocessableEntity
			if kind == resilience.KindNotFound {
				status = http.StatusNotFound
			}
		}
		writeJSON(w, status, errorResponse{
			Error:    err.Error(),
			Verdict:  string(verdict),
			Kind:     string(kind),
			Attempts: exhausted.Attempts,
		})
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, err.Error())
	case errors.Is(err, context.Canceled):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		zap.L().Error("server: fetch failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health, err := s.svc.InspectHealth(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"providers": health})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	recs, err := s.svc.History(r.Context(), chi.URLParam(r, "name"), limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"attempts": recs})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := s.svc.ResetProvider(r.Context(), name); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset", "provider": name})
}

func (s *Server) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	n, err := s.svc.InvalidateCache(r.Context(), chi.URLParam(r, "fingerprint"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"removed": n})
}

// writeServiceError reports unknown providers as 404.
func writeServiceError(w http.ResponseWriter, err error) {
	if fallback.IsConfigError(err) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Debug("server: write response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
