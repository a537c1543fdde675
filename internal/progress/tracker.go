package progress

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/harvester/internal/harvest"
)

// Snapshot is the live view of a run.
type Snapshot struct {
	RunID     string    `json:"run_id,omitempty"`
	Source    string    `json:"source,omitempty"`
	Running   bool      `json:"running"`
	Total     int       `json:"total"`
	Done      int       `json:"done"`
	Remaining int       `json:"remaining"`
	Succeeded int       `json:"succeeded"`
	NotFound  int       `json:"not_found"`
	Failed    int       `json:"failed"`
	Retries   int       `json:"retries"`
	Pauses    int       `json:"pauses"`
	StartedAt time.Time `json:"started_at,omitzero"`
	UpdatedAt time.Time `json:"updated_at,omitzero"`
	// RatePerMinute counts items completed during this run only.
	RatePerMinute float64       `json:"rate_per_minute"`
	ETA           time.Duration `json:"eta_ns"`
}

// Tracker is a Sink that aggregates events into a Snapshot and logs progress lines
// every N completed items.
type Tracker struct {
	logEvery int
	logger   *zap.Logger

	mu       sync.RWMutex
	snap     Snapshot
	thisRun  int
	lastLine int
}

// NewTracker builds a Tracker. logEvery <= 0 disables periodic progress lines.
func NewTracker(logEvery int, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{logEvery: logEvery, logger: logger}
}

// Consume folds batch into the snapshot.
func (t *Tracker) Consume(_ context.Context, batch []Event) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, evt := range batch {
		t.apply(evt)
	}
	return nil
}

// Close implements Sink.
func (t *Tracker) Close(context.Context) error {
	return nil
}

// Snapshot returns the current view.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.snap
}

func (t *Tracker) apply(evt Event) {
	s := &t.snap
	switch evt.Stage {
	case StageRunStart:
		*s = Snapshot{
			RunID:     evt.RunID,
			Source:    evt.Source,
			Running:   true,
			Total:     evt.Total,
			Done:      evt.Done,
			StartedAt: evt.TS,
		}
		t.thisRun = 0
		t.lastLine = 0
	case StageItemDone:
		s.Done++
		t.thisRun++
		switch evt.Status {
		case harvest.StatusSuccess:
			s.Succeeded++
		case harvest.StatusNotFound:
			s.NotFound++
		default:
			s.Failed++
		}
	case StageItemRetry:
		s.Retries++
	case StagePause:
		s.Pauses++
	case StageRunDone:
		s.Running = false
	}
	s.UpdatedAt = evt.TS
	s.Remaining = max(s.Total-s.Done, 0)
	s.RatePerMinute, s.ETA = rate(t.thisRun, s.Remaining, s.UpdatedAt.Sub(s.StartedAt))

	if evt.Stage == StageItemDone && t.logEvery > 0 && t.thisRun-t.lastLine >= t.logEvery {
		t.lastLine = t.thisRun
		t.logger.Info("Harvest progress",
			zap.String("source", s.Source),
			zap.Int("done", s.Done),
			zap.Int("total", s.Total),
			zap.Int("remaining", s.Remaining),
			zap.Int("succeeded", s.Succeeded),
			zap.Int("not_found", s.NotFound),
			zap.Int("failed", s.Failed),
			zap.Int("retries", s.Retries),
			zap.Float64("rate_per_minute", s.RatePerMinute),
			zap.Duration("eta", s.ETA),
		)
	}
}

func rate(done, remaining int, elapsed time.Duration) (float64, time.Duration) {
	if done == 0 || elapsed <= 0 {
		return 0, 0
	}
	perItem := elapsed / time.Duration(done)
	return float64(done) / elapsed.Minutes(), perItem * time.Duration(remaining)
}
