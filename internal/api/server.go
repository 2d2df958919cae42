package api

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/JakeFAU/lexcrawl/internal/config"
	"github.com/JakeFAU/lexcrawl/internal/crawler"
	"github.com/JakeFAU/lexcrawl/internal/ingest"
	"github.com/JakeFAU/lexcrawl/internal/metrics"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	requestTimeout = 60 * time.Second
	enqueueTimeout = 5 * time.Second
)

// Service is the slice of the application the handlers drive.
type Service interface {
	HasSource(name string) bool
	Running(source string) bool
	ScrapeOne(ctx context.Context, source, locator string) (crawler.ScrapeResult, ingest.Result, error)
	Ready(ctx context.Context) error
}

// Deps bundles the collaborators of a Server.
type Deps struct {
	Service Service
	Runs    crawler.RunTracker
	Ledger  crawler.LedgerStore
	Queue   crawler.Queue
	IDs     crawler.IDGenerator
	Clock   crawler.Clock
}

// Server wires HTTP handlers to the crawl queue and stores.
type Server struct {
	Deps
	router chi.Router
	cfg    config.Config
	logger *zap.Logger
	runs   *RunsHandler
}

// NewServer constructs a Server with middleware and routes.
func NewServer(deps Deps, cfg config.Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		Deps:   deps,
		cfg:    cfg,
		logger: logger.Named("api"),
	}
	s.runs = NewRunsHandler(deps.Runs, deps.Ledger, deps.Service, cfg, s.logger)

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))
	r.Use(recoverMiddleware(s.logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(requestTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Get("/sources", s.runs.ListSources)
		r.Get("/runs", s.runs.ListRuns)
		r.Get("/runs/{run_id}", s.runs.GetRun)
		r.Get("/ledger", s.runs.GetLedger)
		r.Route("/sources/{source}", func(r chi.Router) {
			r.Post("/crawl", s.triggerCrawl)
			r.Post("/scrape", s.scrapeOne)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.Service != nil {
		if err := s.Service.Ready(r.Context()); err != nil {
			s.logger.Warn("readiness check failed", zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, "not ready")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// triggerCrawl handles POST /v1/sources/{source}/crawl?max_pages=. The crawl
// runs asynchronously; the response carries the queued request id.
func (s *Server) triggerCrawl(w http.ResponseWriter, r *http.Request) {
	source := chi.URLParam(r, "source")
	if !s.Service.HasSource(source) {
		writeError(w, http.StatusNotFound, "unknown source")
		return
	}
	if s.Service.Running(source) {
		writeError(w, http.StatusConflict, "crawl already running")
		return
	}
	maxPages := 0
	if raw := r.URL.Query().Get("max_pages"); raw != "" {
		val, err := strconv.Atoi(raw)
		if err != nil || val < 0 {
			writeError(w, http.StatusBadRequest, "invalid max_pages")
			return
		}
		maxPages = val
	}

	id, err := s.IDs.NewID()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to generate request id")
		return
	}
	request := crawler.CrawlRequest{
		ID:          id,
		Source:      source,
		MaxPages:    maxPages,
		RequestedAt: s.Clock.Now(),
		Trigger:     "api",
	}

	ctx, cancel := context.WithTimeout(r.Context(), enqueueTimeout)
	defer cancel()
	if err := s.Queue.Enqueue(ctx, request); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, crawler.ErrQueueFull) || errors.Is(err, crawler.ErrQueueClosed) {
			status = http.StatusServiceUnavailable
		}
		s.logger.Warn("enqueue crawl failed", zap.String("source", source), zap.Error(err))
		writeError(w, status, "crawl queue unavailable")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"request_id": id, "source": source})
}

// scrapeOne handles POST /v1/sources/{source}/scrape?url=.
func (s *Server) scrapeOne(w http.ResponseWriter, r *http.Request) {
	source := chi.URLParam(r, "source")
	if !s.Service.HasSource(source) {
		writeError(w, http.StatusNotFound, "unknown source")
		return
	}
	locator := strings.TrimSpace(r.URL.Query().Get("url"))
	if locator == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}

	scrape, res, err := s.Service.ScrapeOne(r.Context(), source, locator)
	if err != nil {
		s.logger.Error("scrape failed", zap.String("source", source), zap.String("url", locator), zap.Error(err))
		status := http.StatusInternalServerError
		if errors.Is(err, crawler.ErrStoreUnavailable) {
			status = http.StatusServiceUnavailable
		}
		writeError(w, status, "scrape failed")
		return
	}

	resp := scrapeResponse{
		URL:     locator,
		Outcome: string(scrape.Outcome),
		Reason:  scrape.Reason,
		Ingest:  string(res.Outcome),
		ID:      res.RecordID,
	}
	if scrape.Record != nil {
		resp.NaturalKey = scrape.Record.NaturalKey
		resp.Title = scrape.Record.Title
	}
	writeJSON(w, http.StatusOK, resp)
}

type scrapeResponse struct {
	URL        string `json:"url"`
	Outcome    string `json:"outcome"`
	Reason     string `json:"reason,omitempty"`
	Ingest     string `json:"ingest,omitempty"`
	ID         string `json:"record_id,omitempty"`
	NaturalKey string `json:"natural_key,omitempty"`
	Title      string `json:"title,omitempty"`
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			reqID, _ := r.Context().Value(requestIDKey{}).(string)
			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.String("request_id", reqID),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("error", rec), zap.String("path", r.URL.Path))
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
