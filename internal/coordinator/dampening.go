package coordinator

import (
	"log/slog"
	"math"
	"sync"
	"time"
)

// -------------------------------------------------------------------------
// Flap dampening for lifecycle notifications
// -------------------------------------------------------------------------
//
// Wireless accessories flap: a radio-noise-induced disassociate/reassociate
// cycle would otherwise spam the external power/telemetry system on every
// blip. This applies the same classic route-flap-dampening model (RFC 2439)
// the teacher used for RFC 5882 Section 3.2 BFD->BGP dampening, retargeted
// from "withdraw BGP routes" to "don't thrash the coordinator".
//
// Each disassociation-class event accumulates a penalty that decays
// exponentially. When the penalty reaches or exceeds the suppress threshold,
// subsequent notifications are suppressed until the penalty decays below
// the reuse threshold.

// DampeningConfig configures the flap dampening parameters.
type DampeningConfig struct {
	// Enabled controls whether flap dampening is active. When false, all
	// notifications are passed through immediately.
	Enabled bool

	// SuppressThreshold is the penalty value at or above which events are
	// suppressed.
	SuppressThreshold float64

	// ReuseThreshold is the penalty value below which suppressed events
	// are allowed again. Must be less than SuppressThreshold.
	ReuseThreshold float64

	// HalfLife is the time for the penalty to decay by half.
	HalfLife time.Duration
}

// Dampener tracks flap penalties per entity key (typically
// "<adapter_id>:<client_id>") and decides whether a notification should be
// suppressed. Thread-safe for concurrent access from the handler goroutine.
type Dampener struct {
	cfg     DampeningConfig
	entries map[string]*penalty
	mu      sync.Mutex
	logger  *slog.Logger
	now     func() time.Time // injectable clock for testing
}

type penalty struct {
	value           float64
	lastUpdate      time.Time
	suppressed      bool
	suppressedSince time.Time
}

// DampenerOption configures optional Dampener parameters.
type DampenerOption func(*Dampener)

// WithClock sets a custom time function for the dampener. Used in tests to
// control time progression without sleeping.
func WithClock(now func() time.Time) DampenerOption {
	return func(d *Dampener) {
		d.now = now
	}
}

// NewDampener creates a new flap dampener with the given configuration.
func NewDampener(cfg DampeningConfig, logger *slog.Logger, opts ...DampenerOption) *Dampener {
	d := &Dampener{
		cfg:     cfg,
		entries: make(map[string]*penalty),
		logger:  logger.With(slog.String("component", "coordinator.dampener")),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// ShouldSuppress records a disassociation-class event for key and returns
// true if it should be suppressed due to excessive flapping.
func (d *Dampener) ShouldSuppress(key string) bool {
	if !d.cfg.Enabled {
		return false
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()

	p := d.getOrCreate(key, now)
	d.decay(p, now)

	p.value += 1.0
	p.lastUpdate = now

	if !p.suppressed && p.value >= d.cfg.SuppressThreshold {
		p.suppressed = true
		p.suppressedSince = now
		d.logger.Warn("entity suppressed due to flap dampening",
			slog.String("key", key),
			slog.Float64("penalty", p.value),
			slog.Float64("threshold", d.cfg.SuppressThreshold),
		)
	}

	return p.suppressed
}

// ShouldSuppressAssociate returns true if an association-class event for
// key should be suppressed because the entity is still flapping.
func (d *Dampener) ShouldSuppressAssociate(key string) bool {
	if !d.cfg.Enabled {
		return false
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()

	p, exists := d.entries[key]
	if !exists {
		return false
	}

	d.decay(p, now)

	if p.suppressed && p.value < d.cfg.ReuseThreshold {
		d.unsuppress(p, key)
		return false
	}

	return p.suppressed
}

// Reset removes the penalty tracking for key.
func (d *Dampener) Reset(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	delete(d.entries, key)
}

func (d *Dampener) getOrCreate(key string, now time.Time) *penalty {
	p, exists := d.entries[key]
	if !exists {
		p = &penalty{lastUpdate: now}
		d.entries[key] = p
	}
	return p
}

// decay applies exponential decay to the penalty based on elapsed time.
// Caller must hold d.mu.
func (d *Dampener) decay(p *penalty, now time.Time) {
	if d.cfg.HalfLife <= 0 || p.value == 0 {
		return
	}

	elapsed := now.Sub(p.lastUpdate)
	if elapsed <= 0 {
		return
	}

	halfLives := float64(elapsed) / float64(d.cfg.HalfLife)
	p.value *= math.Pow(0.5, halfLives)
	p.lastUpdate = now

	if p.value < 0.001 {
		p.value = 0
	}
}

func (d *Dampener) unsuppress(p *penalty, key string) {
	p.suppressed = false
	p.suppressedSince = time.Time{}
	p.value = 0

	d.logger.Info("entity unsuppressed, flap dampening cleared", slog.String("key", key))
}
