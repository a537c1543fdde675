package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/harvester/internal/checkpoint"
	"github.com/JakeFAU/harvester/internal/clock/fake"
	"github.com/JakeFAU/harvester/internal/harvest"
	"github.com/JakeFAU/harvester/internal/pacer"
	"github.com/JakeFAU/harvester/internal/progress"
	"github.com/JakeFAU/harvester/internal/retry"
)

// scriptFetcher answers each item with a scripted status sequence; the last status repeats.
// Unscripted items get 200.
type scriptFetcher struct {
	mu     sync.Mutex
	script map[string][]int
	calls  map[string]int
	order  []string
	hook   func(item harvest.WorkItem, call int)
}

func newScriptFetcher(script map[string][]int) *scriptFetcher {
	if script == nil {
		script = map[string][]int{}
	}
	return &scriptFetcher{script: script, calls: map[string]int{}}
}

func (f *scriptFetcher) Fetch(_ context.Context, item harvest.WorkItem) (harvest.RawResponse, error) {
	f.mu.Lock()
	n := f.calls[item.ID]
	f.calls[item.ID]++
	f.order = append(f.order, item.ID)
	code := 200
	if codes := f.script[item.ID]; len(codes) > 0 {
		code = codes[min(n, len(codes)-1)]
	}
	hook := f.hook
	f.mu.Unlock()

	if hook != nil {
		hook(item, n)
	}
	return harvest.RawResponse{StatusCode: code, Body: []byte(fmt.Sprintf(`{"id":%q}`, item.ID))}, nil
}

func (f *scriptFetcher) Calls(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[id]
}

func (f *scriptFetcher) Order() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.order...)
}

type journal struct {
	mu      sync.Mutex
	entries []string
}

func (j *journal) add(entry string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, entry)
}

func (j *journal) list() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.entries...)
}

type journalStore struct {
	harvest.Store
	j *journal
}

func (s journalStore) Save(ctx context.Context, record *harvest.Record) error {
	s.j.add(fmt.Sprintf("save:%d", record.Len()))
	return s.Store.Save(ctx, record)
}

type journalSleeper struct {
	clock *fake.Clock
	j     *journal
}

func (s journalSleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.j.add("sleep:" + d.String())
	return s.clock.Sleep(ctx, d)
}

type stubMaterializer struct {
	mu      sync.Mutex
	renders []int
}

func (m *stubMaterializer) Render(_ context.Context, record *harvest.Record) ([]harvest.Artifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.renders = append(m.renders, record.Len())
	return []harvest.Artifact{{Name: "results.json", URI: "memory://s/results.json"}}, nil
}

// panicOnceMaterializer panics on its first render and delegates afterwards.
type panicOnceMaterializer struct {
	stubMaterializer
	once sync.Once
}

func (m *panicOnceMaterializer) Render(ctx context.Context, record *harvest.Record) ([]harvest.Artifact, error) {
	first := false
	m.once.Do(func() { first = true })
	if first {
		panic("template: nil pointer evaluating .Payload")
	}
	return m.stubMaterializer.Render(ctx, record)
}

// panicSaveStore panics when asked to save a record of exactly panicAt results.
type panicSaveStore struct {
	harvest.Store
	panicAt int
}

func (s panicSaveStore) Save(ctx context.Context, record *harvest.Record) error {
	if record.Len() == s.panicAt {
		panic("connection pool closed")
	}
	return s.Store.Save(ctx, record)
}

// armedClock panics on the n-th Now call after arm(n).
type armedClock struct {
	*fake.Clock
	mu        sync.Mutex
	countdown int
}

func (c *armedClock) arm(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.countdown = n
}

func (c *armedClock) Now() time.Time {
	c.mu.Lock()
	fire := false
	if c.countdown > 0 {
		c.countdown--
		fire = c.countdown == 0
	}
	c.mu.Unlock()
	if fire {
		panic("clock source unavailable")
	}
	return c.Clock.Now()
}

type failingLoadStore struct {
	harvest.Store
}

func (failingLoadStore) Load(context.Context) (*harvest.Record, error) {
	return nil, errors.New("connection refused")
}

type harness struct {
	clock   *fake.Clock
	now     harvest.Clock
	sleeper harvest.Sleeper
	store   harvest.Store
	mem     *checkpoint.MemoryStore
	fetcher *scriptFetcher
	pacer   *pacer.Pacer
	logs    *observer.ObservedLogs
	logger  *zap.Logger
	retry   retry.Config
	mat     harvest.Materializer
	emitter progress.Emitter
}

func newHarness(script map[string][]int) *harness {
	core, logs := observer.New(zap.DebugLevel)
	clock := fake.New(time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC))
	mem := checkpoint.NewMemoryStore()
	return &harness{
		clock:   clock,
		sleeper: clock,
		store:   mem,
		mem:     mem,
		fetcher: newScriptFetcher(script),
		logs:    logs,
		logger:  zap.New(core),
		retry: retry.Config{
			BaseDelay:      time.Second,
			MaxDelay:       30 * time.Second,
			Multiplier:     2,
			ForbiddenFloor: time.Minute,
		},
	}
}

func (h *harness) build(t *testing.T, cfg Config) *Orchestrator {
	t.Helper()
	if cfg.Source == "" {
		cfg.Source = "directory"
	}
	if h.pacer == nil {
		h.pacer = pacer.New(pacer.Config{PauseDuration: time.Minute}, h.clock, h.sleeper)
	}
	var clock harvest.Clock = h.clock
	if h.now != nil {
		clock = h.now
	}
	o, err := New(cfg, Deps{
		Fetcher:      h.fetcher,
		Classifier:   harvest.NewHTTPClassifier(nil, nil),
		Policy:       retry.New(h.retry),
		Pacer:        h.pacer,
		Store:        h.store,
		Materializer: h.mat,
		Emitter:      h.emitter,
		Clock:        clock,
		Sleeper:      h.sleeper,
		Logger:       h.logger,
	})
	require.NoError(t, err)
	return o
}

func workItems(n int) []harvest.WorkItem {
	out := make([]harvest.WorkItem, n)
	for i := range out {
		out[i] = harvest.WorkItem{ID: fmt.Sprintf("item-%d", i+1)}
	}
	return out
}

func loadRecord(t *testing.T, store harvest.Store) *harvest.Record {
	t.Helper()
	rec, err := store.Load(context.Background())
	require.NoError(t, err)
	require.NoError(t, rec.Validate())
	return rec
}

func TestRateLimitedItemRetriesThenSucceeds(t *testing.T) {
	h := newHarness(map[string][]int{"item-3": {429, 429, 200}})
	var (
		mu     sync.Mutex
		stages []progress.Stage
	)
	h.emitter = progress.EmitterFunc(func(evt progress.Event) {
		mu.Lock()
		defer mu.Unlock()
		stages = append(stages, evt.Stage)
	})

	sum, err := h.build(t, Config{}).Run(context.Background(), workItems(5))
	require.NoError(t, err)

	assert.Equal(t, 5, sum.Processed)
	assert.Equal(t, 5, sum.Succeeded)
	assert.Equal(t, 2, sum.Retries)
	assert.True(t, sum.Complete)
	assert.False(t, sum.Interrupted)
	assert.Equal(t, 3, h.fetcher.Calls("item-3"))

	retries := h.logs.FilterMessage("Retrying item")
	assert.Equal(t, 2, retries.FilterField(zap.String("item_id", "item-3")).Len())
	assert.Equal(t, 2, retries.Len())
	assert.Equal(t, 1, h.clock.Count(time.Second))
	assert.Equal(t, 1, h.clock.Count(2*time.Second))

	rec := loadRecord(t, h.store)
	require.Equal(t, 5, rec.Len())
	assert.Equal(t, 5, rec.Stats.Succeeded)
	assert.Equal(t, 3, rec.Results[2].Attempts)
	assert.Equal(t, harvest.StatusSuccess, rec.Results[2].Status)
	assert.Equal(t, 1, h.logs.FilterMessage("Harvest summary").Len())

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, stages)
	assert.Equal(t, progress.StageRunStart, stages[0])
	assert.Equal(t, progress.StageRunDone, stages[len(stages)-1])
}

func TestNotFoundIsRecordedWithoutRetry(t *testing.T) {
	h := newHarness(map[string][]int{"item-2": {404}})

	sum, err := h.build(t, Config{}).Run(context.Background(), workItems(3))
	require.NoError(t, err)

	assert.Equal(t, 1, h.fetcher.Calls("item-2"))
	assert.Equal(t, []string{"item-1", "item-2", "item-3"}, h.fetcher.Order())
	assert.Equal(t, 1, sum.NotFound)
	assert.Equal(t, 2, sum.Succeeded)
	assert.Zero(t, sum.Retries)
	assert.Zero(t, h.logs.FilterMessage("Retrying item").Len())
	assert.Empty(t, h.clock.Sleeps())

	rec := loadRecord(t, h.store)
	assert.Equal(t, harvest.StatusNotFound, rec.Results[1].Status)
	assert.Equal(t, 1, rec.Results[1].Attempts)
}

func TestBatchPauseFollowsForcedSave(t *testing.T) {
	h := newHarness(nil)
	j := &journal{}
	h.store = journalStore{Store: h.mem, j: j}
	h.sleeper = journalSleeper{clock: h.clock, j: j}

	sum, err := h.build(t, Config{PauseEveryN: 2}).Run(context.Background(), workItems(5))
	require.NoError(t, err)

	assert.Equal(t, 2, h.pacer.Pauses())
	assert.Equal(t, 2, sum.Pauses)
	assert.Equal(t, []string{"save:2", "sleep:1m0s", "save:4", "sleep:1m0s", "save:5"}, j.list())
}

func TestNoPauseAfterLastItem(t *testing.T) {
	h := newHarness(nil)
	sum, err := h.build(t, Config{PauseEveryN: 2}).Run(context.Background(), workItems(4))
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Pauses)
	assert.Equal(t, 1, h.clock.Count(time.Minute))
}

func TestSaveEveryN(t *testing.T) {
	h := newHarness(nil)
	j := &journal{}
	h.store = journalStore{Store: h.mem, j: j}

	_, err := h.build(t, Config{SaveEveryN: 3}).Run(context.Background(), workItems(7))
	require.NoError(t, err)
	assert.Equal(t, []string{"save:3", "save:6", "save:7"}, j.list())
}

// firstSaveStore keeps a copy of the first snapshot so a test can roll back to it, as if the
// process had been killed before any later save reached durable storage.
type firstSaveStore struct {
	*checkpoint.MemoryStore
	mu    sync.Mutex
	first []byte
}

func (s *firstSaveStore) Save(ctx context.Context, record *harvest.Record) error {
	if err := s.MemoryStore.Save(ctx, record); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.first == nil {
		s.first = s.MemoryStore.Raw()
	}
	return nil
}

func TestResumeAfterKillNeverDuplicates(t *testing.T) {
	items := workItems(10)

	h := newHarness(nil)
	store := &firstSaveStore{MemoryStore: h.mem}
	h.store = store
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.fetcher.hook = func(item harvest.WorkItem, _ int) {
		if item.ID == "item-7" {
			cancel()
		}
	}

	sum, err := h.build(t, Config{SaveEveryN: 5}).Run(ctx, items)
	require.NoError(t, err)
	assert.True(t, sum.Interrupted)
	assert.False(t, sum.Complete)
	assert.Equal(t, 6, sum.Processed)
	assert.Equal(t, 6, loadRecord(t, store).Len())

	// Hard kill: only the interval snapshot with five items survived.
	snapshot, _, err := checkpoint.Decode(store.first)
	require.NoError(t, err)
	require.Equal(t, 5, snapshot.Len())

	killed := newHarness(nil)
	require.NoError(t, killed.mem.Save(context.Background(), snapshot))
	sum, err = killed.build(t, Config{Resume: true, SaveEveryN: 5}).Run(context.Background(), items)
	require.NoError(t, err)
	assert.True(t, sum.Complete)
	assert.Equal(t, 5, sum.Processed)
	for i, item := range items {
		want := 0
		if i >= 5 {
			want = 1
		}
		assert.Equal(t, want, killed.fetcher.Calls(item.ID), item.ID)
	}
	final := loadRecord(t, killed.mem)
	require.Equal(t, 10, final.Len())
	for i, item := range items {
		assert.Equal(t, item.ID, final.ProcessedIDs[i])
	}

	// Graceful interruption: the final save kept six items, so only four are fetched.
	resumed := newHarness(nil)
	resumed.store = h.mem
	resumed.mem = h.mem
	sum, err = resumed.build(t, Config{Resume: true}).Run(context.Background(), items)
	require.NoError(t, err)
	assert.Equal(t, 4, sum.Processed)
	assert.Equal(t, []string{"item-7", "item-8", "item-9", "item-10"}, resumed.fetcher.Order())
	assert.Equal(t, 10, loadRecord(t, h.mem).Len())
}

func TestPanicIsCaughtAndSameItemReattempted(t *testing.T) {
	h := newHarness(nil)
	j := &journal{}
	h.store = journalStore{Store: h.mem, j: j}
	h.fetcher.hook = func(item harvest.WorkItem, call int) {
		if item.ID == "item-2" && call == 0 {
			panic("nil map write")
		}
	}

	sum, err := h.build(t, Config{}).Run(context.Background(), workItems(3))
	require.NoError(t, err)

	assert.Equal(t, 1, sum.Faults)
	assert.Equal(t, 3, sum.Succeeded)
	assert.Equal(t, 2, h.fetcher.Calls("item-2"))
	assert.Equal(t, []string{"item-1", "item-2", "item-2", "item-3"}, h.fetcher.Order())
	assert.Equal(t, 1, h.logs.FilterMessage("Orchestration fault; retrying item after delay").Len())
	assert.Equal(t, 1, h.clock.Count(time.Second))
	assert.Equal(t, []string{"save:1", "save:3"}, j.list())

	rec := loadRecord(t, h.mem)
	assert.Equal(t, 1, rec.Results[1].Attempts)
}

func TestPanickingMaterializerAtPauseDoesNotStopRun(t *testing.T) {
	h := newHarness(nil)
	mat := &panicOnceMaterializer{}
	h.mat = mat

	sum, err := h.build(t, Config{Concurrency: 2, PauseEveryN: 2, MaterializeOnPause: true}).Run(context.Background(), workItems(5))
	require.NoError(t, err)

	assert.True(t, sum.Complete)
	assert.Equal(t, 5, sum.Succeeded)
	assert.Equal(t, 2, sum.Pauses)
	assert.Equal(t, 1, sum.Faults)
	assert.Equal(t, []int{4, 5}, mat.renders)
	require.Len(t, sum.Artifacts, 1)
	assert.Equal(t, 1, h.logs.FilterMessage("Materialization failed").Len())
	assert.Equal(t, 5, loadRecord(t, h.mem).Len())
}

func TestPanickingStoreSaveIsLoggedAndRunContinues(t *testing.T) {
	h := newHarness(nil)
	h.store = panicSaveStore{Store: h.mem, panicAt: 2}

	sum, err := h.build(t, Config{SaveEveryN: 1}).Run(context.Background(), workItems(3))
	require.NoError(t, err)

	assert.True(t, sum.Complete)
	assert.Equal(t, 3, sum.Succeeded)
	assert.Equal(t, 1, sum.Faults)
	assert.Equal(t, 1, h.logs.FilterMessage("Checkpoint save failed").Len())
	assert.Equal(t, 3, loadRecord(t, h.mem).Len())
}

func TestPanickingFinalSaveStillReturnsSummary(t *testing.T) {
	h := newHarness(nil)
	h.store = panicSaveStore{Store: h.mem, panicAt: 2}

	sum, err := h.build(t, Config{}).Run(context.Background(), workItems(2))
	require.NoError(t, err)

	assert.Equal(t, 2, sum.Processed)
	assert.Equal(t, 1, sum.Faults)
	assert.Zero(t, h.mem.Saves())
}

func TestPanicWhileCompletingItemReattemptsIt(t *testing.T) {
	h := newHarness(nil)
	clock := &armedClock{Clock: h.clock}
	h.now = clock
	h.fetcher.hook = func(item harvest.WorkItem, call int) {
		if item.ID == "item-2" && call == 0 {
			// The first Now after the fetch times it; the second stamps the result.
			clock.arm(2)
		}
	}

	sum, err := h.build(t, Config{}).Run(context.Background(), workItems(3))
	require.NoError(t, err)

	assert.Equal(t, 1, sum.Faults)
	assert.Equal(t, 3, sum.Succeeded)
	assert.Equal(t, 2, h.fetcher.Calls("item-2"))
	assert.Equal(t, 1, h.logs.FilterMessage("Orchestration fault; retrying item after delay").Len())
	assert.Equal(t, 1, h.clock.Count(time.Second))

	rec := loadRecord(t, h.mem)
	require.Equal(t, 3, rec.Len())
	assert.Equal(t, "item-2", rec.ProcessedIDs[1])
}

func TestPanickingEmitterIsContained(t *testing.T) {
	h := newHarness(nil)
	h.emitter = progress.EmitterFunc(func(evt progress.Event) {
		if evt.Stage == progress.StageItemDone && evt.ItemID == "item-1" {
			panic("send on closed channel")
		}
	})

	sum, err := h.build(t, Config{}).Run(context.Background(), workItems(2))
	require.NoError(t, err)

	assert.True(t, sum.Complete)
	assert.Equal(t, 2, sum.Succeeded)
	assert.Equal(t, 1, sum.Faults)
	assert.Equal(t, 1, h.fetcher.Calls("item-1"))
	assert.Equal(t, 1, h.logs.FilterMessage("Progress emitter failed").Len())
}

func TestPauseHoldsBackOtherWorkers(t *testing.T) {
	h := newHarness(nil)
	started := h.clock.Now()
	var (
		mu     sync.Mutex
		starts []time.Time
	)
	h.fetcher.hook = func(harvest.WorkItem, int) {
		mu.Lock()
		defer mu.Unlock()
		starts = append(starts, h.clock.Now())
	}

	sum, err := h.build(t, Config{Concurrency: 2, PauseEveryN: 2}).Run(context.Background(), workItems(6))
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Pauses)

	// Before the first pause only the two completed items and at most one in-flight item may start.
	mu.Lock()
	defer mu.Unlock()
	beforePause := 0
	for _, ts := range starts {
		if ts.Equal(started) {
			beforePause++
		}
	}
	assert.LessOrEqual(t, beforePause, 3)
	assert.Len(t, starts, 6)
}

func TestMaxRetriesRecordsFailure(t *testing.T) {
	h := newHarness(map[string][]int{"item-1": {503}})
	h.retry.MaxRetries = 2

	sum, err := h.build(t, Config{}).Run(context.Background(), workItems(2))
	require.NoError(t, err)

	assert.Equal(t, 3, h.fetcher.Calls("item-1"))
	assert.Equal(t, 2, sum.Retries)
	assert.Equal(t, 1, sum.Failed)
	rec := loadRecord(t, h.mem)
	assert.Equal(t, harvest.StatusFailed, rec.Results[0].Status)
	assert.True(t, strings.HasPrefix(rec.Results[0].Reason, "retries exhausted"), rec.Results[0].Reason)
	assert.Equal(t, 1, h.logs.FilterMessage("Giving up on item").Len())
}

func TestConcurrentWorkersFetchEachItemOnce(t *testing.T) {
	script := map[string][]int{}
	items := workItems(40)
	for i, item := range items {
		if i%5 == 0 {
			script[item.ID] = []int{500, 200}
		}
	}
	h := newHarness(script)
	h.pacer = pacer.New(pacer.Config{MinInterval: 100 * time.Millisecond, PauseDuration: time.Minute}, h.clock, h.clock)

	sum, err := h.build(t, Config{Concurrency: 4, SaveEveryN: 7, PauseEveryN: 10}).Run(context.Background(), items)
	require.NoError(t, err)

	assert.Equal(t, 40, sum.Succeeded)
	assert.Equal(t, 8, sum.Retries)
	assert.Equal(t, 3, sum.Pauses)
	rec := loadRecord(t, h.mem)
	require.Equal(t, 40, rec.Len())
	for _, res := range rec.Results {
		assert.Equal(t, res.Attempts, h.fetcher.Calls(res.ID), res.ID)
	}
}

func TestDryRunComputesWorkSetOnly(t *testing.T) {
	h := newHarness(nil)
	seed := harvest.NewRecord()
	require.NoError(t, seed.Append(harvest.Result{ID: "item-1", Status: harvest.StatusSuccess}))
	require.NoError(t, h.mem.Save(context.Background(), seed))

	sum, err := h.build(t, Config{Resume: true, DryRun: true, Limit: 1}).Run(context.Background(), workItems(3))
	require.NoError(t, err)

	assert.Equal(t, 2, sum.Remaining)
	require.Len(t, sum.Planned, 1)
	assert.Equal(t, "item-2", sum.Planned[0].ID)
	assert.Empty(t, h.fetcher.Order())
	assert.Equal(t, 1, h.mem.Saves())
}

func TestLimitThenResumeMaterializesAndClears(t *testing.T) {
	h := newHarness(nil)
	mat := &stubMaterializer{}
	h.mat = mat
	items := workItems(3)

	sum, err := h.build(t, Config{Limit: 2, ClearOnComplete: true}).Run(context.Background(), items)
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Processed)
	assert.False(t, sum.Complete)
	assert.Empty(t, mat.renders)
	assert.NotEmpty(t, h.mem.Raw())

	sum, err = h.build(t, Config{Resume: true, Limit: 2, ClearOnComplete: true}).Run(context.Background(), items)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Processed)
	assert.True(t, sum.Complete)
	assert.Equal(t, []int{3}, mat.renders)
	require.Len(t, sum.Artifacts, 1)
	assert.Empty(t, h.mem.Raw())
}

func TestMaterializeOnPause(t *testing.T) {
	h := newHarness(nil)
	mat := &stubMaterializer{}
	h.mat = mat

	_, err := h.build(t, Config{PauseEveryN: 2, MaterializeOnPause: true}).Run(context.Background(), workItems(3))
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3}, mat.renders)
}

func TestFreshRunIgnoresExistingCheckpoint(t *testing.T) {
	h := newHarness(nil)
	seed := harvest.NewRecord()
	require.NoError(t, seed.Append(harvest.Result{ID: "item-1", Status: harvest.StatusSuccess}))
	require.NoError(t, h.mem.Save(context.Background(), seed))

	sum, err := h.build(t, Config{RunID: "fresh"}).Run(context.Background(), workItems(2))
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Processed)
	assert.Equal(t, "fresh", loadRecord(t, h.mem).RunID)
}

func TestLoadFailureStopsBeforeWork(t *testing.T) {
	h := newHarness(nil)
	h.store = failingLoadStore{Store: h.mem}

	_, err := h.build(t, Config{Resume: true}).Run(context.Background(), workItems(2))
	require.Error(t, err)
	assert.Empty(t, h.fetcher.Order())
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Config{}, Deps{})
	require.Error(t, err)
}

func TestRemaining(t *testing.T) {
	rec := harvest.NewRecord()
	require.NoError(t, rec.Append(harvest.Result{ID: "item-2", Status: harvest.StatusFailed}))
	got := Remaining(workItems(3), rec)
	require.Len(t, got, 2)
	assert.Equal(t, "item-1", got[0].ID)
	assert.Equal(t, "item-3", got[1].ID)
}
