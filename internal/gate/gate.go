// Package gate wraps every outbound call to a downstream dependency with
// bounded retries and a per-dependency circuit breaker, so callers only
// ever see a success, a rejection, or a DependencyUnavailableError.
package gate

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/iliyamo/parking-orchestrator/internal/config"
	"github.com/iliyamo/parking-orchestrator/internal/metrics"
)

// State is the breaker state of a dependency.
type State string

const (
	StateClosed   State = "closed"
	StateHalfOpen State = "half-open"
	StateOpen     State = "open"
)

func fromBreaker(s gobreaker.State) State {
	switch s {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}

func (s State) gauge() float64 {
	switch s {
	case StateHalfOpen:
		return 1
	case StateOpen:
		return 2
	}
	return 0
}

// Gate guards one dependency.  It is safe for concurrent use and is meant
// to live as long as the process.
type Gate struct {
	name   string
	policy config.GatePolicy
	cb     *gobreaker.CircuitBreaker[any]
	log    *zap.Logger

	mu          sync.Mutex
	lastChanged time.Time
}

// New builds a gate for the named dependency.  The breaker starts closed.
func New(name string, policy config.GatePolicy, log *zap.Logger) *Gate {
	if log == nil {
		log = zap.NewNop()
	}
	g := &Gate{
		name:        name,
		policy:      policy,
		log:         log.Named("gate").With(zap.String("dependency", name)),
		lastChanged: time.Now(),
	}
	threshold := uint32(policy.FailureThreshold)
	g.cb = gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1, // half-open admits exactly one trial call
		Interval:    policy.FailureWindow,
		Timeout:     policy.Cooldown,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= threshold
		},
		OnStateChange: g.onStateChange,
		IsSuccessful: func(err error) bool {
			var gone *callerGoneError
			return err == nil || IsRejected(err) || errors.As(err, &gone)
		},
	})
	metrics.BreakerState.WithLabelValues(name).Set(StateClosed.gauge())
	return g
}

func (g *Gate) onStateChange(_ string, from, to gobreaker.State) {
	g.mu.Lock()
	g.lastChanged = time.Now()
	g.mu.Unlock()
	metrics.BreakerState.WithLabelValues(g.name).Set(fromBreaker(to).gauge())
	g.log.Warn("circuit state changed",
		zap.String("from", string(fromBreaker(from))),
		zap.String("to", string(fromBreaker(to))))
}

// Name returns the dependency name.
func (g *Gate) Name() string { return g.name }

// State returns the current breaker state.  An open breaker whose
// cooldown has elapsed reports half-open.
func (g *Gate) State() State { return fromBreaker(g.cb.State()) }

// Snapshot describes a gate for operators.
type Snapshot struct {
	Name                string    `json:"name"`
	State               State     `json:"state"`
	Requests            uint32    `json:"requests"`
	ConsecutiveFailures uint32    `json:"consecutive_failures"`
	TotalFailures       uint32    `json:"total_failures"`
	LastTransition      time.Time `json:"last_transition"`
}

// Snapshot returns the breaker state and counters.
func (g *Gate) Snapshot() Snapshot {
	state := g.State()
	counts := g.cb.Counts()
	g.mu.Lock()
	last := g.lastChanged
	g.mu.Unlock()
	return Snapshot{
		Name:                g.name,
		State:               state,
		Requests:            counts.Requests,
		ConsecutiveFailures: counts.ConsecutiveFailures,
		TotalFailures:       counts.TotalFailures,
		LastTransition:      last,
	}
}

type callOptions struct {
	attempts   int
	persistent bool
}

// CallOption adjusts a single call.
type CallOption func(*callOptions)

// Attempts overrides the policy's attempt budget for one call.
func Attempts(n int) CallOption {
	return func(o *callOptions) {
		if n > 0 {
			o.attempts = n
		}
	}
}

// Persistent makes a call back off exponentially, capped at the breaker
// cooldown, and keep trying while the circuit is open instead of failing
// fast.  It is meant for steps that must be driven to completion.
func Persistent() CallOption {
	return func(o *callOptions) { o.persistent = true }
}

func (g *Gate) backOff(o callOptions) backoff.BackOff {
	retries := uint64(o.attempts - 1)
	if !o.persistent {
		return backoff.WithMaxRetries(backoff.NewConstantBackOff(g.policy.RetryDelay), retries)
	}
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = g.policy.RetryDelay
	eb.MaxInterval = g.policy.Cooldown
	eb.RandomizationFactor = 0
	eb.MaxElapsedTime = 0
	eb.Reset()
	return backoff.WithMaxRetries(eb, retries)
}

// Call runs op through the gate.  Each attempt gets its own timeout and
// passes through the breaker.  Transient failures are retried with at
// least the policy's RetryDelay between attempts; rejections are returned
// unchanged; everything else ends as a *DependencyUnavailableError.
func Call[T any](ctx context.Context, g *Gate, op func(ctx context.Context) (T, error), opts ...CallOption) (T, error) {
	o := callOptions{attempts: g.policy.MaxAttempts}
	for _, opt := range opts {
		opt(&o)
	}
	if o.attempts < 1 {
		o.attempts = 1
	}

	var (
		zero    T
		result  T
		attempt int
	)
	operation := func() error {
		attempt++
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		v, err := g.cb.Execute(func() (any, error) {
			actx, cancel := context.WithTimeout(ctx, g.policy.AttemptTimeout)
			defer cancel()
			out, err := op(actx)
			if err != nil && ctx.Err() != nil {
				return nil, &callerGoneError{err: ctx.Err()}
			}
			return out, err
		})
		switch {
		case err == nil:
			metrics.GateAttempts.WithLabelValues(g.name, "success").Inc()
			if typed, ok := v.(T); ok {
				result = typed
			}
			return nil
		case IsRejected(err):
			metrics.GateAttempts.WithLabelValues(g.name, "rejected").Inc()
			return backoff.Permanent(err)
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			metrics.GateAttempts.WithLabelValues(g.name, "circuit_open").Inc()
			if o.persistent {
				return ErrCircuitOpen
			}
			return backoff.Permanent(ErrCircuitOpen)
		default:
			metrics.GateAttempts.WithLabelValues(g.name, "transient").Inc()
			var gone *callerGoneError
			if errors.As(err, &gone) {
				return backoff.Permanent(gone.err)
			}
			return err
		}
	}
	notify := func(err error, wait time.Duration) {
		g.log.Warn("call failed, retrying",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", o.attempts),
			zap.Duration("wait", wait),
			zap.Error(err))
	}

	err := backoff.RetryNotify(operation, backoff.WithContext(g.backOff(o), ctx), notify)
	if err == nil {
		return result, nil
	}
	if IsRejected(err) {
		return zero, err
	}
	g.log.Warn("dependency unavailable", zap.Int("attempts", attempt), zap.Error(err))
	return zero, &DependencyUnavailableError{Name: g.name, Cause: err}
}

// Registry holds the process-wide gate of every dependency.
type Registry struct {
	gates map[string]*Gate
	order []string
}

// NewRegistry builds one gate per policy entry.
func NewRegistry(policies map[string]config.GatePolicy, log *zap.Logger) *Registry {
	r := &Registry{gates: make(map[string]*Gate, len(policies))}
	for _, name := range config.Dependencies {
		if p, ok := policies[name]; ok {
			r.gates[name] = New(name, p, log)
			r.order = append(r.order, name)
		}
	}
	for name, p := range policies {
		if _, ok := r.gates[name]; !ok {
			r.gates[name] = New(name, p, log)
			r.order = append(r.order, name)
		}
	}
	return r
}

// Get returns the gate for name.  It panics for unknown names: the set of
// dependencies is fixed at startup.
func (r *Registry) Get(name string) *Gate {
	g, ok := r.gates[name]
	if !ok {
		panic("gate: unknown dependency " + name)
	}
	return g
}

// Snapshots returns every gate's state in registration order.
func (r *Registry) Snapshots() []Snapshot {
	out := make([]Snapshot, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.gates[name].Snapshot())
	}
	return out
}
