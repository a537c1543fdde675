// Package app builds the long-lived services of a harvest from configuration and owns their shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/harvester/internal/api"
	"github.com/JakeFAU/harvester/internal/checkpoint"
	"github.com/JakeFAU/harvester/internal/clock/system"
	"github.com/JakeFAU/harvester/internal/config"
	collyfetcher "github.com/JakeFAU/harvester/internal/fetcher/colly"
	"github.com/JakeFAU/harvester/internal/fetcher/gemini"
	"github.com/JakeFAU/harvester/internal/fetcher/headless"
	"github.com/JakeFAU/harvester/internal/harvest"
	"github.com/JakeFAU/harvester/internal/id/uuid"
	"github.com/JakeFAU/harvester/internal/orchestrator"
	"github.com/JakeFAU/harvester/internal/output"
	"github.com/JakeFAU/harvester/internal/pacer"
	"github.com/JakeFAU/harvester/internal/progress"
	"github.com/JakeFAU/harvester/internal/progress/sinks"
	"github.com/JakeFAU/harvester/internal/publisher/pubsub"
	"github.com/JakeFAU/harvester/internal/retry"
	"github.com/JakeFAU/harvester/internal/source"
	gcsblob "github.com/JakeFAU/harvester/internal/storage/gcs"
	"github.com/JakeFAU/harvester/internal/storage/local"
	memblob "github.com/JakeFAU/harvester/internal/storage/memory"
)

const closeTimeout = 10 * time.Second

// App holds the configuration, logger and lazily created shared clients.
type App struct {
	cfg    config.Config
	logger *zap.Logger
	clock  *system.Clock

	mu        sync.Mutex
	gcs       *storage.Client
	publisher harvest.Publisher
	closers   []closer
}

type closer struct {
	name string
	fn   func(ctx context.Context) error
}

// New creates an App. Nothing is dialed until a service is requested.
func New(cfg config.Config, logger *zap.Logger) *App {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &App{cfg: cfg, logger: logger, clock: system.New()}
}

// Config returns the loaded configuration.
func (a *App) Config() config.Config {
	return a.cfg
}

// Logger returns the shared logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Close releases every service in reverse creation order. Errors are logged.
func (a *App) Close() {
	a.mu.Lock()
	closers := a.closers
	a.closers = nil
	a.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i].fn(ctx); err != nil {
			a.logger.Warn("Error closing service", zap.String("service", closers[i].name), zap.Error(err))
		}
	}
}

func (a *App) onClose(name string, fn func(ctx context.Context) error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closers = append(a.closers, closer{name: name, fn: fn})
}

func (a *App) storageClient(ctx context.Context) (*storage.Client, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.gcs != nil {
		return a.gcs, nil
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create gcs client: %w", err)
	}
	a.gcs = client
	a.closers = append(a.closers, closer{name: "gcs", fn: func(context.Context) error { return client.Close() }})
	return client, nil
}

// CheckpointStore opens the configured checkpoint backend for one source.
func (a *App) CheckpointStore(ctx context.Context, name string) (harvest.Store, error) {
	cp := a.cfg.Checkpoint
	switch cp.Backend {
	case config.BackendFile:
		return checkpoint.NewFileStore(filepath.Join(cp.Dir, name+".json"), a.logger)
	case config.BackendMemory:
		return checkpoint.NewMemoryStore(), nil
	case config.BackendPostgres:
		store, err := checkpoint.NewPostgresStore(ctx, checkpoint.PostgresConfig{
			DSN:      cp.Postgres.DSN,
			Table:    cp.Postgres.Table,
			Name:     name,
			MaxConns: cp.Postgres.MaxConns,
		}, a.logger)
		if err != nil {
			return nil, err
		}
		a.onClose("postgres", func(context.Context) error { store.Close(); return nil })
		return store, nil
	case config.BackendRedis:
		store, err := checkpoint.NewRedisStore(ctx, checkpoint.RedisConfig{
			URL:      cp.Redis.URL,
			Password: cp.Redis.Password,
			Key:      cp.Redis.KeyPrefix + name,
		}, a.logger)
		if err != nil {
			return nil, err
		}
		a.onClose("redis", func(context.Context) error { return store.Close() })
		return store, nil
	case config.BackendGCS:
		client, err := a.storageClient(ctx)
		if err != nil {
			return nil, err
		}
		return checkpoint.NewGCSStore(client, checkpoint.GCSConfig{
			Bucket: cp.GCS.Bucket,
			Object: path.Join(cp.GCS.Prefix, name+".json"),
		}, a.logger)
	default:
		return nil, fmt.Errorf("%w: checkpoint backend %q", config.ErrInvalid, cp.Backend)
	}
}

// Fetcher builds the fetcher for a source kind.
func (a *App) Fetcher(ctx context.Context, src source.Config) (harvest.Fetcher, error) {
	build, err := source.NewRequestBuilder(src)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", config.ErrInvalid, err)
	}
	switch src.Kind {
	case source.KindHTTP:
		return collyfetcher.New(collyfetcher.Config{
			UserAgent:     a.cfg.HTTP.UserAgent,
			RespectRobots: a.cfg.HTTP.RespectRobots,
			Timeout:       src.EffectiveTimeout(),
		}, build, a.logger), nil
	case source.KindHeadless:
		nav := a.cfg.Headless.NavigationTimeout
		if src.Timeout > 0 {
			nav = src.Timeout
		}
		f, err := headless.NewChromedp(headless.Config{
			MaxParallel:       a.cfg.Headless.MaxParallel,
			UserAgent:         a.cfg.HTTP.UserAgent,
			NavigationTimeout: nav,
			WaitSelector:      src.WaitSelector,
		}, build)
		if err != nil {
			return nil, fmt.Errorf("create headless fetcher: %w", err)
		}
		a.onClose("headless", func(context.Context) error { f.Close(); return nil })
		return f, nil
	case source.KindGemini:
		f, err := gemini.New(ctx, gemini.Config{
			APIKey:  a.cfg.Gemini.APIKey,
			Model:   a.cfg.Gemini.Model,
			BaseURL: a.cfg.Gemini.BaseURL,
			Search:  a.cfg.Gemini.Search,
		}, build)
		if err != nil {
			return nil, fmt.Errorf("create gemini fetcher: %w", err)
		}
		return f, nil
	default:
		return nil, fmt.Errorf("%w: source kind %q", config.ErrInvalid, src.Kind)
	}
}

// Classifier returns the standard HTTP classifier using the source's payload decoder.
func (a *App) Classifier(src source.Config) harvest.Classifier {
	return harvest.NewHTTPClassifier(source.NewDecoder(src), a.clock)
}

// BlobStore opens the configured artifact store.
func (a *App) BlobStore(ctx context.Context) (harvest.BlobStore, error) {
	out := a.cfg.Output
	switch out.Backend {
	case config.OutputLocal:
		return local.New(local.Config{BaseDir: out.Dir})
	case config.OutputGCS:
		client, err := a.storageClient(ctx)
		if err != nil {
			return nil, err
		}
		return gcsblob.New(client, gcsblob.Config{Bucket: out.GCSBucket, Prefix: out.Prefix})
	case config.OutputMemory:
		return memblob.NewBlobStore(), nil
	default:
		return nil, fmt.Errorf("%w: output backend %q", config.ErrInvalid, out.Backend)
	}
}

// Publisher returns the shared Pub/Sub publisher, or nil when no project is configured.
func (a *App) Publisher(ctx context.Context) (harvest.Publisher, error) {
	if a.cfg.PubSub.ProjectID == "" {
		return nil, nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.publisher != nil {
		return a.publisher, nil
	}
	pub, err := pubsub.New(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("create publisher: %w", err)
	}
	a.publisher = pub
	a.closers = append(a.closers, closer{name: "pubsub", fn: func(context.Context) error { return pub.Close() }})
	return pub, nil
}

// Materializer builds the JSON artifact renderer for a source.
func (a *App) Materializer(ctx context.Context, name string) (harvest.Materializer, error) {
	blobs, err := a.BlobStore(ctx)
	if err != nil {
		return nil, err
	}
	var pub harvest.Publisher
	if a.cfg.Output.Topic != "" {
		if pub, err = a.Publisher(ctx); err != nil {
			return nil, err
		}
	}
	return output.NewJSONMaterializer(output.Config{Source: name, Topic: a.cfg.Output.Topic}, blobs, pub, a.clock, a.logger)
}

// Status loads the checkpoint of a source and summarizes it.
func (a *App) Status(ctx context.Context, name string) (output.Summary, error) {
	name = strings.ToLower(name)
	if _, err := a.cfg.Source(name); err != nil {
		return output.Summary{}, err
	}
	store, err := a.CheckpointStore(ctx, name)
	if err != nil {
		return output.Summary{}, err
	}
	record, err := store.Load(ctx)
	if err != nil {
		return output.Summary{}, fmt.Errorf("load checkpoint: %w", err)
	}
	return output.Summarize(name, record, a.clock.Now()), nil
}

// Reset deletes the checkpoint of a source.
func (a *App) Reset(ctx context.Context, name string) error {
	name = strings.ToLower(name)
	if _, err := a.cfg.Source(name); err != nil {
		return err
	}
	store, err := a.CheckpointStore(ctx, name)
	if err != nil {
		return err
	}
	if err := store.Clear(ctx); err != nil {
		return fmt.Errorf("clear checkpoint: %w", err)
	}
	return nil
}

// RunOptions are the per-invocation overrides from the command line.
type RunOptions struct {
	Source string
	// Input overrides the source's configured work-set file.
	Input string
	Limit int
	// Delay overrides pipeline.request_delay when non-nil.
	Delay  *time.Duration
	Resume bool
	DryRun bool
	RunID  string
}

// Run is a prepared harvest.
type Run struct {
	Orchestrator *orchestrator.Orchestrator
	WorkSet      source.WorkSet
	Store        harvest.Store
	Tracker      *progress.Tracker
	Hub          *progress.Hub
	// Server is nil unless metrics are enabled.
	Server *api.Server
}

// Execute runs the orchestrator over the work set.
func (r *Run) Execute(ctx context.Context) (orchestrator.Summary, error) {
	return r.Orchestrator.Run(ctx, r.WorkSet.Items)
}

// PrepareRun resolves the source, loads its work set and wires every collaborator. Failures
// here are configuration faults: nothing has been fetched yet.
func (a *App) PrepareRun(ctx context.Context, opts RunOptions) (*Run, error) {
	// Source names are case-insensitive; the lowercase form keys checkpoints and artifacts.
	opts.Source = strings.ToLower(opts.Source)
	src, err := a.cfg.Source(opts.Source)
	if err != nil {
		return nil, err
	}
	input := opts.Input
	if input == "" {
		input = src.Input
	}
	ws, err := source.LoadWorkSet(input, src.IDFields)
	if err != nil {
		return nil, err
	}
	if len(ws.Items) == 0 {
		return nil, fmt.Errorf("%w: %s has no usable rows", source.ErrInputMissing, input)
	}
	a.logger.Info("Work set loaded",
		zap.String("source", opts.Source),
		zap.String("input", input),
		zap.Int("items", len(ws.Items)),
		zap.Int("duplicates", ws.Duplicates),
		zap.Int("skipped", ws.Skipped),
	)

	pipeline := a.cfg.Pipeline
	if opts.Delay != nil {
		pipeline.RequestDelay = *opts.Delay
	}

	store, err := a.CheckpointStore(ctx, opts.Source)
	if err != nil {
		return nil, err
	}

	var (
		fetcher harvest.Fetcher = dryRunFetcher{}
		mat     harvest.Materializer
	)
	if !opts.DryRun {
		if fetcher, err = a.Fetcher(ctx, src); err != nil {
			return nil, err
		}
		if mat, err = a.Materializer(ctx, opts.Source); err != nil {
			return nil, err
		}
	}

	tracker := progress.NewTracker(pipeline.ProgressEveryN, a.logger)
	progressSinks := []progress.Sink{tracker, sinks.NewLogSink(a.logger)}
	if topic := a.cfg.PubSub.RunTopic; topic != "" && !opts.DryRun {
		pub, err := a.Publisher(ctx)
		if err != nil {
			return nil, err
		}
		sink, err := sinks.NewPublishSink(pub, topic)
		if err != nil {
			return nil, err
		}
		progressSinks = append(progressSinks, sink)
	}
	hub := progress.NewHub(progress.Config{Logger: a.logger}, progressSinks...)
	a.onClose("progress", hub.Close)

	runID := opts.RunID
	if runID == "" {
		if runID, err = uuid.New().NewID(); err != nil {
			return nil, err
		}
	}

	orch, err := orchestrator.New(orchestrator.Config{
		Source:             opts.Source,
		Resume:             opts.Resume,
		Limit:              opts.Limit,
		DryRun:             opts.DryRun,
		Concurrency:        pipeline.Concurrency,
		SaveEveryN:         pipeline.SaveEveryN,
		PauseEveryN:        pipeline.PauseEveryN,
		AttemptTimeout:     pipeline.AttemptTimeout,
		FaultDelay:         pipeline.BaseDelay,
		MaterializeOnPause: pipeline.MaterializeOnPause,
		ClearOnComplete:    pipeline.ClearOnComplete,
		RunID:              runID,
	}, orchestrator.Deps{
		Fetcher:      fetcher,
		Classifier:   a.Classifier(src),
		Policy:       retry.New(pipeline.Retry()),
		Pacer:        pacer.New(pipeline.Pacer(), a.clock, a.clock),
		Store:        store,
		Materializer: mat,
		Emitter:      hub,
		Clock:        a.clock,
		Sleeper:      a.clock,
		Logger:       a.logger,
	})
	if err != nil {
		return nil, err
	}

	run := &Run{
		Orchestrator: orch,
		WorkSet:      ws,
		Store:        store,
		Tracker:      tracker,
		Hub:          hub,
	}
	if a.cfg.Metrics.Enabled {
		handler := api.NewProgressHandler(opts.Source, tracker, store, a.clock, a.logger)
		run.Server = api.NewServer(handler, nil, a.logger)
	}
	return run, nil
}

var errDryRun = errors.New("dry run does not fetch")

type dryRunFetcher struct{}

func (dryRunFetcher) Fetch(context.Context, harvest.WorkItem) (harvest.RawResponse, error) {
	return harvest.RawResponse{}, errDryRun
}
