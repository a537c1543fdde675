// Package retry decides, per attempt, whether an item is accepted, retried after a backoff, or given up.
package retry

import (
	"fmt"
	"math"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/JakeFAU/harvester/internal/harvest"
)

// Config parameterizes the policy. MaxRetries and ForbiddenMaxAttempts of 0 mean unbounded.
type Config struct {
	BaseDelay            time.Duration
	MaxDelay             time.Duration
	Multiplier           float64
	JitterFraction       float64
	CapExponent          int
	MaxRetries           int
	ForbiddenFloor       time.Duration
	ForbiddenMaxAttempts int
}

// DefaultConfig returns the defaults used for unattended overnight runs.
func DefaultConfig() Config {
	return Config{
		BaseDelay:      2 * time.Second,
		MaxDelay:       5 * time.Minute,
		Multiplier:     2,
		JitterFraction: 0.2,
		CapExponent:    6,
		ForbiddenFloor: 60 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.BaseDelay <= 0 {
		c.BaseDelay = def.BaseDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = def.MaxDelay
	}
	if c.MaxDelay < c.BaseDelay {
		c.MaxDelay = c.BaseDelay
	}
	if c.Multiplier < 1 {
		c.Multiplier = def.Multiplier
	}
	if c.JitterFraction < 0 {
		c.JitterFraction = 0
	}
	if c.JitterFraction > 1 {
		c.JitterFraction = 1
	}
	if c.CapExponent <= 0 {
		c.CapExponent = def.CapExponent
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.ForbiddenFloor < 0 {
		c.ForbiddenFloor = 0
	}
	if c.ForbiddenMaxAttempts < 0 {
		c.ForbiddenMaxAttempts = 0
	}
	return c
}

// Action is the policy's verdict for one outcome.
type Action int

// Policy actions.
const (
	// ActionAccept records the outcome as terminal.
	ActionAccept Action = iota
	// ActionRetry waits Decision.Delay then resubmits the same item.
	ActionRetry
	// ActionGiveUp records the item as failed after a retry ceiling was reached.
	ActionGiveUp
)

func (a Action) String() string {
	switch a {
	case ActionAccept:
		return "accept"
	case ActionRetry:
		return "retry"
	case ActionGiveUp:
		return "give_up"
	default:
		return "unknown"
	}
}

// State is the per-item retry counter. It lives only while the item is in flight.
type State struct {
	// Attempt counts retryable failures seen so far.
	Attempt int
	// Forbidden counts consecutive 403 responses.
	Forbidden int
	// NextDelay is the wait chosen by the most recent retry decision.
	NextDelay time.Duration
	// Backoff is the jittered exponential part of NextDelay, before the 403 floor and
	// Retry-After. It never decreases across consecutive failures.
	Backoff time.Duration
}

// Decision is returned by Policy.Decide. Outcome is the terminal outcome to record for
// ActionAccept and ActionGiveUp.
type Decision struct {
	Action  Action
	Delay   time.Duration
	Outcome harvest.Outcome
}

// Policy implements exponential backoff with optional jitter and per-status floors.
type Policy struct {
	cfg    Config
	jitter func() float64
}

// New builds a Policy from cfg, filling unset fields with defaults.
func New(cfg Config) *Policy {
	return &Policy{
		cfg:    cfg.withDefaults(),
		jitter: rand.Float64,
	}
}

// Config returns the effective configuration.
func (p *Policy) Config() Config {
	return p.cfg
}

// Decide inspects an outcome and advances st.
func (p *Policy) Decide(o harvest.Outcome, st *State) Decision {
	if st == nil {
		st = &State{}
	}
	if o.Kind.Terminal() {
		return Decision{Action: ActionAccept, Outcome: o}
	}

	if o.StatusCode == http.StatusForbidden {
		st.Forbidden++
		if p.cfg.ForbiddenMaxAttempts > 0 && st.Forbidden >= p.cfg.ForbiddenMaxAttempts {
			return Decision{Action: ActionGiveUp, Outcome: giveUp(o, fmt.Sprintf(
				"quota exhausted after %d forbidden responses", st.Forbidden))}
		}
	} else {
		st.Forbidden = 0
	}

	if p.cfg.MaxRetries > 0 && st.Attempt >= p.cfg.MaxRetries {
		return Decision{Action: ActionGiveUp, Outcome: giveUp(o, fmt.Sprintf(
			"retries exhausted after %d attempts: %s", st.Attempt+1, o.Reason))}
	}

	// Re-drawn jitter around a capped base must not undercut the previous wait.
	backoff := max(p.jittered(p.Backoff(st.Attempt)), st.Backoff)
	backoff = min(backoff, p.cfg.MaxDelay)
	st.Backoff = backoff
	delay := backoff
	if o.StatusCode == http.StatusForbidden && delay < p.cfg.ForbiddenFloor {
		delay = p.cfg.ForbiddenFloor
	}
	if o.RetryAfter > delay {
		delay = o.RetryAfter
	}
	st.Attempt++
	st.NextDelay = delay
	return Decision{Action: ActionRetry, Delay: delay, Outcome: o}
}

// Backoff returns min(base * multiplier^min(attempt, cap), max) without jitter.
func (p *Policy) Backoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	exp := min(attempt, p.cfg.CapExponent)
	delay := float64(p.cfg.BaseDelay) * math.Pow(p.cfg.Multiplier, float64(exp))
	if delay > float64(p.cfg.MaxDelay) || math.IsInf(delay, 1) {
		return p.cfg.MaxDelay
	}
	return time.Duration(delay)
}

func (p *Policy) jittered(d time.Duration) time.Duration {
	if p.cfg.JitterFraction == 0 || d <= 0 {
		return d
	}
	factor := 1 + (p.jitter()*2-1)*p.cfg.JitterFraction
	out := time.Duration(float64(d) * factor)
	if out > p.cfg.MaxDelay {
		out = p.cfg.MaxDelay
	}
	if out < 0 {
		out = 0
	}
	return out
}

func giveUp(o harvest.Outcome, reason string) harvest.Outcome {
	o.Kind = harvest.OutcomePermanentFailure
	o.Reason = reason
	o.Payload = nil
	return o
}
