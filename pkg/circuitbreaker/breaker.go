// Package circuitbreaker wraps sony/gobreaker for calls to external clinical
// knowledge sources and notification endpoints.
package circuitbreaker

import (
	"context"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// State represents the circuit breaker state
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half-open"
)

// Config holds circuit breaker configuration
type Config struct {
	// Name identifies the circuit breaker
	Name string
	// MaxRequests is max requests allowed in half-open state
	MaxRequests uint32
	// Interval is the cyclic period for clearing counts in closed state
	Interval time.Duration
	// Timeout is how long to wait before transitioning from open to half-open
	Timeout time.Duration
	// FailureThreshold is consecutive failures before opening below MinRequests
	FailureThreshold uint32
	// FailureRatio is the failure ratio threshold once MinRequests is reached
	FailureRatio float64
	// MinRequests is minimum requests before the ratio is considered
	MinRequests uint32
}

// DefaultConfig returns defaults tuned for knowledge-source lookups. Safety
// checks degrade rather than fail when a source is down, so the breaker opens
// quickly and probes often.
func DefaultConfig(name string) Config {
	return Config{
		Name:             name,
		MaxRequests:      2,
		Interval:         30 * time.Second,
		Timeout:          15 * time.Second,
		FailureThreshold: 3,
		FailureRatio:     0.5,
		MinRequests:      5,
	}
}

// CircuitBreaker wraps gobreaker with tracing and state logging
type CircuitBreaker struct {
	cb     *gobreaker.CircuitBreaker
	name   string
	logger *zap.Logger
	tracer trace.Tracer

	currentState State
	stateMu      sync.RWMutex
}

// New creates a new circuit breaker
func New(cfg Config, logger *zap.Logger) *CircuitBreaker {
	if logger == nil {
		logger = zap.NewNop()
	}

	cb := &CircuitBreaker{
		name:         cfg.Name,
		logger:       logger,
		tracer:       otel.Tracer("circuit-breaker"),
		currentState: StateClosed,
	}

	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return counts.ConsecutiveFailures >= cfg.FailureThreshold
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= cfg.FailureRatio
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			cb.onStateChange(from, to)
		},
	}

	cb.cb = gobreaker.NewCircuitBreaker(settings)
	return cb
}

// Execute runs a function through the circuit breaker
func (c *CircuitBreaker) Execute(ctx context.Context, fn func() (interface{}, error)) (interface{}, error) {
	_, span := c.tracer.Start(ctx, "circuit_breaker_execute",
		trace.WithAttributes(
			attribute.String("breaker_name", c.name),
			attribute.String("state", string(c.GetState())),
		))
	defer span.End()

	result, err := c.cb.Execute(fn)
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			span.SetAttributes(attribute.Bool("circuit_open", true))
		}
		span.RecordError(err)
		return nil, err
	}
	return result, nil
}

// ExecuteWithFallback runs a function with a fallback when the circuit is open
func (c *CircuitBreaker) ExecuteWithFallback(ctx context.Context, fn func() (interface{}, error), fallback func(error) (interface{}, error)) (interface{}, error) {
	result, err := c.Execute(ctx, fn)
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			c.logger.Warn("circuit open, using fallback",
				zap.String("breaker", c.name),
				zap.Error(err))
			return fallback(err)
		}
		return nil, err
	}
	return result, nil
}

// GetState returns the current circuit breaker state
func (c *CircuitBreaker) GetState() State {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.currentState
}

// IsOpen returns true if the circuit is open
func (c *CircuitBreaker) IsOpen() bool {
	return c.GetState() == StateOpen
}

// Counts returns the current counts from the circuit breaker
func (c *CircuitBreaker) Counts() gobreaker.Counts {
	return c.cb.Counts()
}

func (c *CircuitBreaker) onStateChange(from, to gobreaker.State) {
	fromState := mapState(from)
	toState := mapState(to)

	c.stateMu.Lock()
	c.currentState = toState
	c.stateMu.Unlock()

	c.logger.Warn("circuit breaker state changed",
		zap.String("breaker", c.name),
		zap.String("from", string(fromState)),
		zap.String("to", string(toState)))
}

func mapState(s gobreaker.State) State {
	switch s {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}

// Manager manages the breakers for all external endpoints
type Manager struct {
	breakers map[string]*CircuitBreaker
	mu       sync.RWMutex
	logger   *zap.Logger
}

// NewManager creates a circuit breaker manager
func NewManager(logger *zap.Logger) *Manager {
	return &Manager{
		breakers: make(map[string]*CircuitBreaker),
		logger:   logger,
	}
}

// GetOrCreate returns an existing breaker or creates a new one
func (m *Manager) GetOrCreate(name string, cfg Config) *CircuitBreaker {
	m.mu.RLock()
	if cb, ok := m.breakers[name]; ok {
		m.mu.RUnlock()
		return cb
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if cb, ok := m.breakers[name]; ok {
		return cb
	}

	cfg.Name = name
	cb := New(cfg, m.logger)
	m.breakers[name] = cb
	return cb
}

// Get returns a circuit breaker by name
func (m *Manager) Get(name string) (*CircuitBreaker, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cb, ok := m.breakers[name]
	return cb, ok
}

// All returns all circuit breakers
func (m *Manager) All() map[string]*CircuitBreaker {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make(map[string]*CircuitBreaker, len(m.breakers))
	for k, v := range m.breakers {
		result[k] = v
	}
	return result
}
