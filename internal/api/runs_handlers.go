package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/lexcrawl/internal/config"
	"github.com/JakeFAU/lexcrawl/internal/crawler"
	"github.com/JakeFAU/lexcrawl/internal/id/uuid"
)

const (
	defaultRunLimit = 50
	maxRunLimit     = 500
	lookupTimeout   = 3 * time.Second
)

// RunsHandler exposes read-only run history and ledger endpoints.
type RunsHandler struct {
	runs    crawler.RunTracker
	ledger  crawler.LedgerStore
	service Service
	cfg     config.Config
	timeout time.Duration
	logger  *zap.Logger
}

// NewRunsHandler wires the stores and logger. Any store may be nil; its
// routes then answer 503.
func NewRunsHandler(runs crawler.RunTracker, ledger crawler.LedgerStore, service Service, cfg config.Config, logger *zap.Logger) *RunsHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RunsHandler{
		runs:    runs,
		ledger:  ledger,
		service: service,
		cfg:     cfg,
		timeout: lookupTimeout,
		logger:  logger,
	}
}

// ListSources handles GET /v1/sources. Each entry carries the source's job
// name, record table and whether a crawl is running.
func (h *RunsHandler) ListSources(w http.ResponseWriter, _ *http.Request) {
	out := make([]sourceDTO, 0, len(h.cfg.Sources))
	for _, name := range h.cfg.SourceNames() {
		src := h.cfg.Sources[name]
		dto := sourceDTO{Name: name, JobName: src.JobName, Table: src.Table, Schedule: src.Schedule}
		if h.service != nil {
			dto.Running = h.service.Running(name)
		}
		out = append(out, dto)
	}
	writeJSON(w, http.StatusOK, map[string]any{"sources": out})
}

// ListRuns handles GET /v1/runs?source=&job_name=&limit=&offset=. It returns
// {"runs": [...]} newest first, 400 for invalid filters, 503 when no run
// store is configured, or 500 if the store fails.
func (h *RunsHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	if h.runs == nil {
		writeError(w, http.StatusServiceUnavailable, "run store unavailable")
		return
	}
	limit, offset, err := parseLimitOffset(r, defaultRunLimit, maxRunLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	jobName := strings.TrimSpace(r.URL.Query().Get("job_name"))
	if source := strings.TrimSpace(r.URL.Query().Get("source")); source != "" {
		src, err := h.cfg.Source(source)
		if err != nil {
			writeError(w, http.StatusBadRequest, "unknown source")
			return
		}
		jobName = src.JobName
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()
	runs, err := h.runs.ListRuns(ctx, jobName, limit, offset)
	if err != nil {
		h.logger.Error("list runs failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	if runs == nil {
		runs = []crawler.JobRun{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

// GetRun handles GET /v1/runs/{run_id}: 400 for malformed ids, 404 when the
// run does not exist.
func (h *RunsHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	if h.runs == nil {
		writeError(w, http.StatusServiceUnavailable, "run store unavailable")
		return
	}
	runID := chi.URLParam(r, "run_id")
	if !uuid.Valid(runID) {
		writeError(w, http.StatusBadRequest, "invalid run_id")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	run, err := h.runs.GetRun(ctx, runID)
	if err != nil {
		if errors.Is(err, crawler.ErrNotFound) {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}
		h.logger.Error("get run failed", zap.String("run_id", runID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load run")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"run": run})
}

// GetLedger handles GET /v1/ledger?url=.
func (h *RunsHandler) GetLedger(w http.ResponseWriter, r *http.Request) {
	if h.ledger == nil {
		writeError(w, http.StatusServiceUnavailable, "ledger unavailable")
		return
	}
	locator := strings.TrimSpace(r.URL.Query().Get("url"))
	if locator == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	entry, err := h.ledger.GetLedger(ctx, locator)
	if err != nil {
		if errors.Is(err, crawler.ErrNotFound) {
			writeError(w, http.StatusNotFound, "url never attempted")
			return
		}
		h.logger.Error("get ledger failed", zap.String("url", locator), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load ledger entry")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entry": entry})
}

func parseLimitOffset(r *http.Request, def, maxLimit int) (int, int, error) {
	q := r.URL.Query()
	limit := def
	if limStr := q.Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		limit = min(val, maxLimit)
	}
	offset := 0
	if offStr := q.Get("offset"); offStr != "" {
		val, err := strconv.Atoi(offStr)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = val
	}
	return limit, offset, nil
}

type sourceDTO struct {
	Name     string `json:"name"`
	JobName  string `json:"job_name"`
	Table    string `json:"table"`
	Schedule string `json:"schedule,omitempty"`
	Running  bool   `json:"running"`
}
