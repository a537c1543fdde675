// Package pacer enforces request-rate discipline independent of retry handling: a minimum gap
// between the starts of consecutive fetch attempts, and extended batch pauses.
package pacer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/harvester/internal/harvest"
	"github.com/JakeFAU/harvester/internal/metrics"
)

// Config controls pacing.
type Config struct {
	// MinInterval is the minimum gap between attempt starts. Zero disables the gap.
	MinInterval time.Duration
	// PauseDuration is how long a batch pause suspends admission.
	PauseDuration time.Duration
}

// Pacer gates admission of fetch attempts. It is safe for concurrent use; admission is serialized.
type Pacer struct {
	cfg     Config
	clock   harvest.Clock
	sleeper harvest.Sleeper

	// mu serializes admission and guards limiter.
	mu      sync.Mutex
	limiter *rate.Limiter

	// pauseMu is never held across a sleep, so a pause can begin while an admission is waiting.
	pauseMu  sync.Mutex
	resumeAt time.Time
	pauses   int
}

// New builds a Pacer. clock and sleeper must be non-nil.
func New(cfg Config, clock harvest.Clock, sleeper harvest.Sleeper) *Pacer {
	limit := rate.Inf
	if cfg.MinInterval > 0 {
		limit = rate.Every(cfg.MinInterval)
	}
	return &Pacer{
		cfg:     cfg,
		clock:   clock,
		sleeper: sleeper,
		limiter: rate.NewLimiter(limit, 1),
	}
}

// Wait blocks until the next attempt may start: any active batch pause has elapsed and
// at least MinInterval has passed since the previous admitted attempt.
func (p *Pacer) Wait(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	start := p.clock.Now()
	if err := p.awaitResume(ctx); err != nil {
		return fmt.Errorf("pacer pause wait: %w", err)
	}

	now := p.clock.Now()
	reservation := p.limiter.ReserveN(now, 1)
	if !reservation.OK() {
		return fmt.Errorf("pacer reservation refused")
	}
	if delay := reservation.DelayFrom(now); delay > 0 {
		if err := p.sleeper.Sleep(ctx, delay); err != nil {
			reservation.CancelAt(p.clock.Now())
			return fmt.Errorf("pacer gap wait: %w", err)
		}
		// A pause begun during the gap still holds this attempt back.
		if err := p.awaitResume(ctx); err != nil {
			return fmt.Errorf("pacer pause wait: %w", err)
		}
	}
	if waited := p.clock.Now().Sub(start); waited > 0 {
		metrics.ObservePacerWait(waited)
	}
	return nil
}

// BeginPause blocks admission for PauseDuration starting now and counts the pause. It returns
// false when pauses are disabled. It never sleeps, so it may be called while holding other locks.
func (p *Pacer) BeginPause() bool {
	if p.cfg.PauseDuration <= 0 {
		return false
	}
	p.pauseMu.Lock()
	until := p.clock.Now().Add(p.cfg.PauseDuration)
	if until.After(p.resumeAt) {
		p.resumeAt = until
	}
	p.pauses++
	p.pauseMu.Unlock()
	metrics.ObservePause()
	return true
}

// AwaitPause blocks until the current batch pause, if any, has ended.
func (p *Pacer) AwaitPause(ctx context.Context) error {
	if err := p.awaitResume(ctx); err != nil {
		return fmt.Errorf("batch pause: %w", err)
	}
	return nil
}

// Pause suspends the caller for PauseDuration and blocks admission for everyone else until it ends.
func (p *Pacer) Pause(ctx context.Context) error {
	if !p.BeginPause() {
		return nil
	}
	return p.AwaitPause(ctx)
}

// awaitResume sleeps until resumeAt, re-reading it after each sleep since a pause may be extended.
func (p *Pacer) awaitResume(ctx context.Context) error {
	for {
		p.pauseMu.Lock()
		wait := p.resumeAt.Sub(p.clock.Now())
		p.pauseMu.Unlock()
		if wait <= 0 {
			return nil
		}
		if err := p.sleeper.Sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// Pauses returns how many batch pauses have been taken.
func (p *Pacer) Pauses() int {
	p.pauseMu.Lock()
	defer p.pauseMu.Unlock()
	return p.pauses
}

// PauseDuration returns the configured batch pause length.
func (p *Pacer) PauseDuration() time.Duration {
	return p.cfg.PauseDuration
}
