package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/harvester/internal/clock/system"
	"github.com/JakeFAU/harvester/internal/harvest"
	"github.com/JakeFAU/harvester/internal/output"
	"github.com/JakeFAU/harvester/internal/progress"
)

const (
	defaultResultLimit = 20
	maxResultLimit     = 500
	loadTimeout        = 3 * time.Second
)

// Snapshotter reports the live progress of a run.
type Snapshotter interface {
	Snapshot() progress.Snapshot
}

// ProgressHandler serves read-only progress endpoints.
type ProgressHandler struct {
	source  string
	tracker Snapshotter
	store   harvest.Store
	clock   harvest.Clock
	timeout time.Duration
	logger  *zap.Logger
}

// NewProgressHandler wires the tracker and checkpoint store. Either may be nil; a nil clock means the wall clock.
func NewProgressHandler(
	source string,
	tracker Snapshotter,
	store harvest.Store,
	clock harvest.Clock,
	logger *zap.Logger,
) *ProgressHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = system.New()
	}
	return &ProgressHandler{
		source:  source,
		tracker: tracker,
		store:   store,
		clock:   clock,
		timeout: loadTimeout,
		logger:  logger,
	}
}

// Progress handles GET /v1/progress with the live tracker snapshot, or 503 without a tracker.
func (h *ProgressHandler) Progress(w http.ResponseWriter, _ *http.Request) {
	if h.tracker == nil {
		writeError(w, http.StatusServiceUnavailable, "progress tracker unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"progress": h.tracker.Snapshot()})
}

// Checkpoint handles GET /v1/checkpoint?limit=&offset=. It loads the stored record and
// returns its summary plus a page of the most recent results, newest first.
func (h *ProgressHandler) Checkpoint(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(w, http.StatusServiceUnavailable, "checkpoint store unavailable")
		return
	}
	limit, offset, err := parseLimitOffset(r, defaultResultLimit, maxResultLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	record, err := h.store.Load(ctx)
	if err != nil {
		h.logger.Error("Load checkpoint failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load checkpoint")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"summary": output.Summarize(h.source, record, h.clock.Now()),
		"results": recentResults(record.Results, limit, offset),
	})
}

func recentResults(results []harvest.Result, limit, offset int) []harvest.Result {
	out := make([]harvest.Result, 0, limit)
	for i := len(results) - 1 - offset; i >= 0 && len(out) < limit; i-- {
		out = append(out, results[i])
	}
	return out
}

func parseLimitOffset(r *http.Request, def, maxLimit int) (int, int, error) {
	q := r.URL.Query()
	limit := def
	if raw := q.Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			return 0, 0, errors.New("limit must be a positive integer")
		}
		limit = min(v, maxLimit)
	}
	offset := 0
	if raw := q.Get("offset"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			return 0, 0, errors.New("offset must be a non-negative integer")
		}
		offset = v
	}
	return limit, offset, nil
}
