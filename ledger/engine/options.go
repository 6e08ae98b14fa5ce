package engine

import (
	"errors"
	"time"

	"github.com/AntonStoeckl/lending-ledger-go/ledger"
)

// ShrinkPolicy decides how AdjustItemTotal treats a new total below the number of open loans.
type ShrinkPolicy int

const (
	// ShrinkClamp accepts the new total and clamps available copies at zero.
	// Open loans stay untouched; returns are clamped at the new total until the books balance again.
	ShrinkClamp ShrinkPolicy = iota

	// ShrinkRejectStranding rejects the adjustment with ledger.ErrShrinkStrandsOpenLoan.
	ShrinkRejectStranding
)

// String returns the name of the policy.
func (p ShrinkPolicy) String() string {
	switch p {
	case ShrinkClamp:
		return "clamp"
	case ShrinkRejectStranding:
		return "reject_stranding"
	default:
		return "unknown"
	}
}

var (
	// ErrInvalidUnitTimeout is returned by WithUnitTimeout for negative durations.
	ErrInvalidUnitTimeout = errors.New("unit timeout must not be negative")

	// ErrInvalidShrinkPolicy is returned by WithShrinkPolicy for unknown policies.
	ErrInvalidShrinkPolicy = errors.New("unknown shrink policy")

	// ErrNilClock is returned by WithClock for a nil clock.
	ErrNilClock = errors.New("clock must not be nil")
)

// Option defines a functional option for configuring the Engine.
type Option func(*Engine) error

// WithUnitTimeout bounds every atomic unit. On timeout the unit aborts and nothing is written.
// Zero means no timeout beyond what the store enforces.
func WithUnitTimeout(timeout time.Duration) Option {
	return func(e *Engine) error {
		if timeout < 0 {
			return ErrInvalidUnitTimeout
		}

		e.unitTimeout = timeout

		return nil
	}
}

// WithShrinkPolicy sets the policy for total adjustments below the number of open loans.
func WithShrinkPolicy(policy ShrinkPolicy) Option {
	return func(e *Engine) error {
		switch policy {
		case ShrinkClamp, ShrinkRejectStranding:
			e.shrinkPolicy = policy
			return nil
		default:
			return ErrInvalidShrinkPolicy
		}
	}
}

// WithClock sets the clock used for creation timestamps and for defaulting issue and return dates.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) error {
		if clock == nil {
			return ErrNilClock
		}

		e.clock = clock

		return nil
	}
}

// WithLogger sets the logger for the Engine.
// The logger will receive messages at different levels based on the logger's configured level:
//
// Info level: operation outcomes with ids, counters, and durations (production-safe)
// Warn level: clamped returns and clamped shrinks
// Error level: store failures that aborted a unit.
func WithLogger(logger ledger.Logger) Option {
	return func(e *Engine) error {
		e.logger = logger
		return nil
	}
}

// WithContextualLogger sets the contextual logger for the Engine.
// When set, it is preferred over the plain logger so that log records carry trace correlation.
func WithContextualLogger(logger ledger.ContextualLogger) Option {
	return func(e *Engine) error {
		e.contextualLogger = logger
		return nil
	}
}

// WithMetrics sets the metrics collector for the Engine.
func WithMetrics(collector ledger.MetricsCollector) Option {
	return func(e *Engine) error {
		e.metricsCollector = collector
		return nil
	}
}

// WithTracing sets the tracing collector for the Engine.
// Every operation runs in its own span; the span context is passed on to the store.
func WithTracing(collector ledger.TracingCollector) Option {
	return func(e *Engine) error {
		e.tracingCollector = collector
		return nil
	}
}
