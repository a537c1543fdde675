package pacer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/harvester/internal/clock/fake"
)

func TestWaitEnforcesMinimumGap(t *testing.T) {
	t.Parallel()
	clk := fake.New(time.Unix(1700000000, 0))
	p := New(Config{MinInterval: 500 * time.Millisecond}, clk, clk)
	ctx := context.Background()

	starts := make([]time.Time, 0, 4)
	for i := 0; i < 4; i++ {
		require.NoError(t, p.Wait(ctx))
		starts = append(starts, clk.Now())
	}
	for i := 1; i < len(starts); i++ {
		assert.GreaterOrEqual(t, starts[i].Sub(starts[i-1]), 500*time.Millisecond)
	}
}

func TestWaitDoesNotSleepWhenGapAlreadyElapsed(t *testing.T) {
	t.Parallel()
	clk := fake.New(time.Unix(1700000000, 0))
	p := New(Config{MinInterval: time.Second}, clk, clk)
	ctx := context.Background()

	require.NoError(t, p.Wait(ctx))
	clk.Advance(3 * time.Second)
	require.NoError(t, p.Wait(ctx))
	assert.Empty(t, clk.Sleeps())
}

func TestWaitWithoutIntervalIsImmediate(t *testing.T) {
	t.Parallel()
	clk := fake.New(time.Unix(0, 0))
	p := New(Config{}, clk, clk)
	for i := 0; i < 10; i++ {
		require.NoError(t, p.Wait(context.Background()))
	}
	assert.Empty(t, clk.Sleeps())
}

func TestPauseBlocksAdmission(t *testing.T) {
	t.Parallel()
	clk := fake.New(time.Unix(1700000000, 0))
	p := New(Config{PauseDuration: time.Minute}, clk, clk)

	// A pause taken elsewhere must hold back admission until it has elapsed.
	require.True(t, p.BeginPause())

	require.NoError(t, p.Wait(context.Background()))
	assert.Equal(t, []time.Duration{time.Minute}, clk.Sleeps())
	assert.Equal(t, 1, p.Pauses())
}

func TestBeginPauseDoesNotWaitForPendingAdmission(t *testing.T) {
	t.Parallel()
	clk := fake.New(time.Unix(1700000000, 0))
	p := New(Config{PauseDuration: time.Minute}, clk, clk)

	// An admission parked inside Wait holds the admission lock; a pause must still begin at once.
	p.mu.Lock()
	begun := make(chan bool, 1)
	go func() { begun <- p.BeginPause() }()
	select {
	case ok := <-begun:
		assert.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("BeginPause blocked on the admission lock")
	}
	p.mu.Unlock()

	began := clk.Now()
	require.NoError(t, p.Wait(context.Background()))
	assert.GreaterOrEqual(t, clk.Now().Sub(began), time.Minute)
}

type sleeperFunc func(context.Context, time.Duration) error

func (f sleeperFunc) Sleep(ctx context.Context, d time.Duration) error { return f(ctx, d) }

func TestWaitHonoursPauseBegunDuringGap(t *testing.T) {
	t.Parallel()
	clk := fake.New(time.Unix(1700000000, 0))
	var p *Pacer
	// A batch pause begins on another worker while this admission sleeps out the gap.
	sleeper := sleeperFunc(func(ctx context.Context, d time.Duration) error {
		if d == time.Second {
			p.BeginPause()
		}
		return clk.Sleep(ctx, d)
	})
	p = New(Config{MinInterval: time.Second, PauseDuration: time.Minute}, clk, sleeper)
	ctx := context.Background()

	require.NoError(t, p.Wait(ctx))
	began := clk.Now()
	require.NoError(t, p.Wait(ctx))
	assert.Equal(t, time.Minute, clk.Now().Sub(began))
	assert.Equal(t, []time.Duration{time.Second, 59 * time.Second}, clk.Sleeps())
}

func TestPauseSleepsAndCounts(t *testing.T) {
	t.Parallel()
	clk := fake.New(time.Unix(1700000000, 0))
	p := New(Config{PauseDuration: 30 * time.Second}, clk, clk)

	require.NoError(t, p.Pause(context.Background()))
	require.NoError(t, p.Pause(context.Background()))
	assert.Equal(t, 2, p.Pauses())
	assert.Equal(t, 2, clk.Count(30*time.Second))
	assert.Equal(t, 30*time.Second, p.PauseDuration())

	// resumeAt is already in the past after the fake sleep advanced the clock.
	require.NoError(t, p.Wait(context.Background()))
	assert.Len(t, clk.Sleeps(), 2)
}

func TestPauseDisabled(t *testing.T) {
	t.Parallel()
	clk := fake.New(time.Unix(0, 0))
	p := New(Config{}, clk, clk)
	require.NoError(t, p.Pause(context.Background()))
	assert.Zero(t, p.Pauses())
}

func TestWaitCanceled(t *testing.T) {
	t.Parallel()
	clk := fake.New(time.Unix(0, 0))
	p := New(Config{MinInterval: time.Second}, clk, clk)
	require.NoError(t, p.Wait(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, p.Wait(ctx), context.Canceled)
}

func TestWaitSerializesConcurrentCallers(t *testing.T) {
	t.Parallel()
	clk := fake.New(time.Unix(1700000000, 0))
	p := New(Config{MinInterval: 100 * time.Millisecond}, clk, clk)

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		starts []time.Time
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, p.Wait(context.Background()))
			mu.Lock()
			starts = append(starts, clk.Now())
			mu.Unlock()
		}()
	}
	wg.Wait()
	// Eight admissions at 100ms spacing need at least 700ms of fake time.
	assert.GreaterOrEqual(t, clk.Now().Sub(time.Unix(1700000000, 0)), 700*time.Millisecond)
	assert.Len(t, starts, 8)
}
