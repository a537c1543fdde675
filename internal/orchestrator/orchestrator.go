// Package orchestrator drives a work set through the pacer, fetcher and retry policy,
// recording terminal outcomes into a checkpoint record that is saved on a bounded cadence.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/harvester/internal/harvest"
	"github.com/JakeFAU/harvester/internal/metrics"
	"github.com/JakeFAU/harvester/internal/pacer"
	"github.com/JakeFAU/harvester/internal/progress"
	"github.com/JakeFAU/harvester/internal/retry"
)

// Save triggers, used as metric labels and log fields.
const (
	triggerInterval = "interval"
	triggerPause    = "pause"
	triggerFault    = "fault"
	triggerFinal    = "final"
)

// errFault marks a panic recovered from inside one attempt.
var errFault = errors.New("orchestration fault")

// Config holds the per-run knobs.
type Config struct {
	Source string
	// Resume loads the stored checkpoint before starting; otherwise the run starts from an empty record.
	Resume bool
	// Limit caps how many remaining items this run processes. Zero means no cap.
	Limit  int
	DryRun bool
	// Concurrency is the number of workers. Values below 1 mean 1.
	Concurrency int
	SaveEveryN  int
	PauseEveryN int
	// AttemptTimeout bounds one fetch attempt on top of the fetcher's own timeout. Zero disables it.
	AttemptTimeout     time.Duration
	FaultDelay         time.Duration
	MaterializeOnPause bool
	ClearOnComplete    bool
	RunID              string
}

// Deps are the collaborators of a run. Materializer and Emitter are optional.
type Deps struct {
	Fetcher      harvest.Fetcher
	Classifier   harvest.Classifier
	Policy       *retry.Policy
	Pacer        *pacer.Pacer
	Store        harvest.Store
	Materializer harvest.Materializer
	Emitter      progress.Emitter
	Clock        harvest.Clock
	Sleeper      harvest.Sleeper
	Logger       *zap.Logger
}

// Summary reports one run. The per-status counts cover this run; Record covers the checkpoint.
type Summary struct {
	Source      string
	RunID       string
	Total       int
	Remaining   int
	Planned     []harvest.WorkItem
	Processed   int
	Succeeded   int
	NotFound    int
	Failed      int
	Retries     int
	Faults      int
	Pauses      int
	Elapsed     time.Duration
	Complete    bool
	Interrupted bool
	Artifacts   []harvest.Artifact
	Record      harvest.Stats
}

// Orchestrator runs harvests. It is not safe to call Run concurrently on one instance.
type Orchestrator struct {
	cfg  Config
	deps Deps
}

// New validates deps and builds an Orchestrator.
func New(cfg Config, deps Deps) (*Orchestrator, error) {
	switch {
	case deps.Fetcher == nil:
		return nil, fmt.Errorf("fetcher is required")
	case deps.Classifier == nil:
		return nil, fmt.Errorf("classifier is required")
	case deps.Policy == nil:
		return nil, fmt.Errorf("retry policy is required")
	case deps.Pacer == nil:
		return nil, fmt.Errorf("pacer is required")
	case deps.Store == nil:
		return nil, fmt.Errorf("checkpoint store is required")
	case deps.Clock == nil || deps.Sleeper == nil:
		return nil, fmt.Errorf("clock and sleeper are required")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.Limit < 0 {
		cfg.Limit = 0
	}
	if cfg.FaultDelay <= 0 {
		cfg.FaultDelay = deps.Policy.Config().BaseDelay
	}
	return &Orchestrator{cfg: cfg, deps: deps}, nil
}

// Run harvests items. It returns an error only when the checkpoint cannot be loaded; every
// later failure is retried, recorded or logged. Cancellation ends the run with Interrupted set
// after a final save.
func (o *Orchestrator) Run(ctx context.Context, items []harvest.WorkItem) (Summary, error) {
	logger := o.deps.Logger.With(zap.String("source", o.cfg.Source))
	started := o.deps.Clock.Now()

	record := harvest.NewRecord()
	if o.cfg.Resume {
		loaded, err := o.deps.Store.Load(ctx)
		if err != nil {
			return Summary{Source: o.cfg.Source}, fmt.Errorf("load checkpoint: %w", err)
		}
		record = loaded
	}
	if record.RunID == "" {
		record.RunID = o.cfg.RunID
	}
	record.Stats.Total = len(items)

	remaining := Remaining(items, record)
	planned := remaining
	if o.cfg.Limit > 0 && len(planned) > o.cfg.Limit {
		planned = planned[:o.cfg.Limit]
	}

	sum := Summary{
		Source:    o.cfg.Source,
		RunID:     record.RunID,
		Total:     len(items),
		Remaining: len(remaining),
		Planned:   planned,
	}
	logger.Info("Work set computed",
		zap.String("run_id", record.RunID),
		zap.Int("total", len(items)),
		zap.Int("already_processed", record.Len()),
		zap.Int("remaining", len(remaining)),
		zap.Int("planned", len(planned)),
		zap.Bool("resume", o.cfg.Resume),
	)
	if o.cfg.DryRun {
		sum.Record = record.Stats
		sum.Complete = len(remaining) == 0
		sum.Elapsed = o.deps.Clock.Now().Sub(started)
		return sum, nil
	}

	r := &run{
		cfg:     o.cfg,
		deps:    o.deps,
		logger:  logger,
		record:  record,
		planned: len(planned),
		sum:     &sum,
	}
	metrics.SetRemaining(o.cfg.Source, record.Stats.Remaining())
	r.emit(progress.Event{Stage: progress.StageRunStart, Total: len(items), Done: record.Len()})

	g, gctx := errgroup.WithContext(ctx)
	queue := make(chan harvest.WorkItem)
	g.Go(func() error {
		defer close(queue)
		for _, item := range planned {
			select {
			case queue <- item:
			case <-gctx.Done():
				return nil
			}
		}
		return nil
	})
	for range o.cfg.Concurrency {
		g.Go(func() error {
			for item := range queue {
				if err := r.process(gctx, item); err != nil {
					return err
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		sum.Interrupted = true
		logger.Warn("Run interrupted; saving progress", zap.Error(err))
	}
	if ctx.Err() != nil {
		sum.Interrupted = true
	}

	finalCtx := context.WithoutCancel(ctx)
	r.mu.Lock()
	r.saveLocked(finalCtx, triggerFinal)
	exhausted := len(Remaining(items, r.record)) == 0
	var snapshot *harvest.Record
	if exhausted {
		snapshot = r.record.Clone()
	}
	sum.Record = r.record.Stats
	r.mu.Unlock()

	if exhausted && !sum.Interrupted {
		sum.Complete = true
		sum.Artifacts = r.materialize(finalCtx, snapshot, "complete")
		if o.cfg.ClearOnComplete {
			if err := guard(func() error { return o.deps.Store.Clear(finalCtx) }); err != nil {
				logger.Error("Failed to clear checkpoint after completion", zap.Error(err))
			} else {
				logger.Info("Checkpoint cleared after completion")
			}
		}
	}

	sum.Elapsed = o.deps.Clock.Now().Sub(started)
	r.emit(progress.Event{Stage: progress.StageRunDone, Dur: sum.Elapsed, Note: outcomeNote(sum)})
	logger.Info("Harvest summary",
		zap.String("run_id", sum.RunID),
		zap.Int("processed", sum.Processed),
		zap.Int("succeeded", sum.Succeeded),
		zap.Int("not_found", sum.NotFound),
		zap.Int("failed", sum.Failed),
		zap.Int("retries", sum.Retries),
		zap.Int("checkpoint_total", sum.Record.Processed()),
		zap.Int("remaining", sum.Record.Remaining()),
		zap.Duration("elapsed", sum.Elapsed),
		zap.Bool("complete", sum.Complete),
		zap.Bool("interrupted", sum.Interrupted),
	)
	return sum, nil
}

// Remaining returns the items of items not yet in record, in input order.
func Remaining(items []harvest.WorkItem, record *harvest.Record) []harvest.WorkItem {
	out := make([]harvest.WorkItem, 0, len(items))
	for _, item := range items {
		if !record.Has(item.ID) {
			out = append(out, item)
		}
	}
	return out
}

func outcomeNote(sum Summary) string {
	switch {
	case sum.Interrupted:
		return "interrupted"
	case sum.Complete:
		return "complete"
	default:
		return "partial"
	}
}

// run is the mutable state of one Run call. mu guards record, the counters and every store write.
type run struct {
	cfg     Config
	deps    Deps
	logger  *zap.Logger
	planned int

	mu       sync.Mutex
	record   *harvest.Record
	sum      *Summary
	terminal int
	unsaved  int
}

// process drives one item to a terminal result. A panic that escapes the narrower guards
// abandons the item for this run; it stays in the work set for the next one.
func (r *run) process(ctx context.Context, item harvest.WorkItem) (err error) {
	logger := r.logger.With(zap.String("item_id", item.ID))
	defer func() {
		if rec := recover(); rec != nil {
			r.fault(ctx, logger, "Orchestration fault; abandoning item for this run", fmt.Errorf("%w: %v", errFault, rec))
			err = nil
		}
	}()

	st := &retry.State{}
	attempts := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if r.processed(item.ID) {
			logger.Warn("Item already processed; skipping")
			return nil
		}

		dec, attemptErr := r.attempt(ctx, item, st)
		if attemptErr != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			if err := r.faultAndWait(ctx, logger, attemptErr); err != nil {
				return err
			}
			continue
		}
		attempts++

		if dec.Action != retry.ActionRetry {
			if dec.Action == retry.ActionGiveUp {
				logger.Warn("Giving up on item", zap.Int("attempts", attempts), zap.String("reason", dec.Outcome.Reason))
			}
			completeErr := r.complete(ctx, item, dec.Outcome, attempts)
			if !errors.Is(completeErr, errFault) {
				return completeErr
			}
			if err := r.faultAndWait(ctx, logger, completeErr); err != nil {
				return err
			}
			if r.processed(item.ID) {
				return nil
			}
			continue
		}

		logger.Warn("Retrying item",
			zap.Int("attempt", st.Attempt),
			zap.Int("status_code", dec.Outcome.StatusCode),
			zap.String("reason", dec.Outcome.Reason),
			zap.Duration("delay", dec.Delay),
		)
		metrics.ObserveRetry(r.cfg.Source, dec.Outcome.StatusCode, dec.Delay)
		r.mu.Lock()
		r.sum.Retries++
		r.mu.Unlock()
		r.emit(progress.Event{
			Stage:      progress.StageItemRetry,
			ItemID:     item.ID,
			StatusCode: dec.Outcome.StatusCode,
			Attempt:    st.Attempt,
			Dur:        dec.Delay,
			Note:       dec.Outcome.Reason,
		})
		if err := r.deps.Sleeper.Sleep(ctx, dec.Delay); err != nil {
			return err
		}
	}
}

// attempt performs one paced fetch and asks the policy what to do with it. Panics from the
// fetcher, classifier or policy come back as errFault.
func (r *run) attempt(ctx context.Context, item harvest.WorkItem, st *retry.State) (dec retry.Decision, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%w: %v", errFault, rec)
		}
	}()

	if err := r.deps.Pacer.Wait(ctx); err != nil {
		return dec, err
	}
	fetchCtx, cancel := ctx, context.CancelFunc(func() {})
	if r.cfg.AttemptTimeout > 0 {
		fetchCtx, cancel = context.WithTimeout(ctx, r.cfg.AttemptTimeout)
	}
	began := r.deps.Clock.Now()
	resp, fetchErr := r.deps.Fetcher.Fetch(fetchCtx, item)
	cancel()
	if err := ctx.Err(); err != nil {
		return dec, err
	}
	metrics.ObserveFetch(r.cfg.Source, r.deps.Clock.Now().Sub(began))

	outcome := r.deps.Classifier(resp, fetchErr)
	return r.deps.Policy.Decide(outcome, st), nil
}

func (r *run) faultAndWait(ctx context.Context, logger *zap.Logger, err error) error {
	r.fault(ctx, logger, "Orchestration fault; retrying item after delay", err)
	return r.deps.Sleeper.Sleep(ctx, r.cfg.FaultDelay)
}

// fault counts a recovered failure and forces a save.
func (r *run) fault(ctx context.Context, logger *zap.Logger, msg string, err error) {
	metrics.ObserveOrchestrationFault()
	logger.Error(msg, zap.Error(err), zap.Duration("delay", r.cfg.FaultDelay))
	r.mu.Lock()
	r.sum.Faults++
	r.saveLocked(ctx, triggerFault)
	r.mu.Unlock()
}

// completion is what complete needs after releasing r.mu.
type completion struct {
	terminal  int
	remaining int
	pauseDue  bool
	snapshot  *harvest.Record
}

// complete records a terminal result. A panic comes back as errFault; the item may or may not
// have been recorded by then.
func (r *run) complete(ctx context.Context, item harvest.WorkItem, outcome harvest.Outcome, attempts int) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%w: completing %s: %v", errFault, item.ID, rec)
		}
	}()

	res := harvest.ResultFromOutcome(item.ID, outcome, attempts, r.deps.Clock.Now())
	c, err := r.recordResult(ctx, res)
	if err != nil {
		r.logger.Warn("Dropping result", zap.String("item_id", item.ID), zap.Error(err))
		return nil
	}

	r.logger.Debug("Item complete",
		zap.String("item_id", item.ID),
		zap.String("status", string(res.Status)),
		zap.Int("attempts", attempts),
	)
	metrics.ObserveItem(r.cfg.Source, string(res.Status))
	metrics.SetRemaining(r.cfg.Source, c.remaining)
	r.emit(progress.Event{
		Stage:      progress.StageItemDone,
		ItemID:     item.ID,
		Status:     res.Status,
		StatusCode: outcome.StatusCode,
		Attempt:    attempts,
	})

	if !c.pauseDue {
		return nil
	}
	if c.snapshot != nil {
		r.materialize(ctx, c.snapshot, triggerPause)
	}
	pause := r.deps.Pacer.PauseDuration()
	r.logger.Info("Batch pause", zap.Int("completed", c.terminal), zap.Duration("duration", pause))
	r.emit(progress.Event{Stage: progress.StagePause, Dur: pause})
	return r.deps.Pacer.AwaitPause(ctx)
}

// recordResult appends res under r.mu and runs the save and pause bookkeeping it triggers. A due
// pause starts here so no other worker is admitted between this result and the pause.
func (r *run) recordResult(ctx context.Context, res harvest.Result) (completion, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.record.Append(res); err != nil {
		return completion{}, err
	}
	r.terminal++
	r.unsaved++
	r.sum.Processed++
	switch res.Status {
	case harvest.StatusSuccess:
		r.sum.Succeeded++
	case harvest.StatusNotFound:
		r.sum.NotFound++
	default:
		r.sum.Failed++
	}

	c := completion{terminal: r.terminal}
	c.pauseDue = r.cfg.PauseEveryN > 0 && c.terminal%r.cfg.PauseEveryN == 0 && c.terminal < r.planned
	switch {
	case c.pauseDue:
		r.saveLocked(ctx, triggerPause)
		r.deps.Pacer.BeginPause()
		r.sum.Pauses++
		if r.cfg.MaterializeOnPause {
			c.snapshot = r.record.Clone()
		}
	case r.cfg.SaveEveryN > 0 && r.unsaved >= r.cfg.SaveEveryN:
		r.saveLocked(ctx, triggerInterval)
	}
	c.remaining = r.record.Stats.Remaining()
	return c, nil
}

func (r *run) processed(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.record.Has(id)
}

// saveLocked persists the record even when ctx is canceled; callers hold r.mu. A failed save is
// logged and the run goes on.
func (r *run) saveLocked(ctx context.Context, trigger string) {
	err := guard(func() error { return r.deps.Store.Save(context.WithoutCancel(ctx), r.record) })
	metrics.ObserveCheckpointSave(trigger, err)
	if errors.Is(err, errFault) {
		metrics.ObserveOrchestrationFault()
		r.sum.Faults++
	}
	if err != nil {
		r.logger.Error("Checkpoint save failed", zap.String("trigger", trigger), zap.Error(err))
		return
	}
	r.unsaved = 0
	r.logger.Debug("Checkpoint saved", zap.String("trigger", trigger), zap.Int("processed", r.record.Len()))
}

func (r *run) materialize(ctx context.Context, record *harvest.Record, reason string) []harvest.Artifact {
	if r.deps.Materializer == nil {
		return nil
	}
	var artifacts []harvest.Artifact
	err := guard(func() (err error) {
		artifacts, err = r.deps.Materializer.Render(ctx, record)
		return err
	})
	if errors.Is(err, errFault) {
		r.countFault()
	}
	if err != nil {
		r.logger.Error("Materialization failed", zap.String("reason", reason), zap.Error(err))
		return nil
	}
	for _, a := range artifacts {
		r.logger.Info("Artifact written", zap.String("reason", reason), zap.String("name", a.Name), zap.String("uri", a.URI))
	}
	return artifacts
}

func (r *run) emit(evt progress.Event) {
	if r.deps.Emitter == nil {
		return
	}
	evt.RunID = r.record.RunID
	evt.Source = r.cfg.Source
	evt.TS = r.deps.Clock.Now()
	if err := guard(func() error { r.deps.Emitter.Emit(evt); return nil }); err != nil {
		r.countFault()
		r.logger.Warn("Progress emitter failed", zap.String("stage", string(evt.Stage)), zap.Error(err))
	}
}

func (r *run) countFault() {
	metrics.ObserveOrchestrationFault()
	r.mu.Lock()
	r.sum.Faults++
	r.mu.Unlock()
}

// guard runs fn and turns a panic into an errFault error.
func guard(fn func() error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%w: %v", errFault, rec)
		}
	}()
	return fn()
}
