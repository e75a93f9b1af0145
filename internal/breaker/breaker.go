package breaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/tesseract-hub/translation-engine/internal/clients"
)

// ErrCircuitOpen is returned without invoking the provider when its circuit
// is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State mirrors the three circuit states for API consumers.
type State string

const (
	StateClosed   State = "CLOSED"
	StateOpen     State = "OPEN"
	StateHalfOpen State = "HALF_OPEN"
)

// Config holds the per-provider breaker thresholds.
type Config struct {
	// FailureThreshold consecutive transient failures trip the circuit open.
	FailureThreshold int
	// SuccessThreshold consecutive half-open successes close it again.
	SuccessThreshold int
	// ResetTimeout is how long an open circuit rejects calls before allowing
	// trial traffic.
	ResetTimeout time.Duration
	// CallTimeout bounds each provider call; a timeout counts as a
	// transient failure.
	CallTimeout time.Duration
}

// Snapshot is a read-only view of one provider's circuit state.
type Snapshot struct {
	Provider      clients.ProviderName `json:"provider"`
	State         State                `json:"state"`
	FailureCount  uint32               `json:"failure_count"`
	SuccessCount  uint32               `json:"success_count"`
	LastFailureAt time.Time            `json:"last_failure_at,omitempty"`
	NextAttemptAt time.Time            `json:"next_attempt_at,omitempty"`
}

// Breaker guards a single provider. Fatal provider errors (bad credentials,
// malformed requests) pass through without counting against the circuit;
// they indicate configuration problems, not unavailability.
type Breaker struct {
	provider clients.ProviderName
	cb       *gobreaker.CircuitBreaker
	config   Config
	logger   *logrus.Entry

	mu            sync.Mutex
	lastFailureAt time.Time
	openedAt      time.Time
}

// New creates a breaker for one provider.
func New(provider clients.ProviderName, config Config, logger *logrus.Entry) *Breaker {
	b := &Breaker{
		provider: provider,
		config:   config,
		logger:   logger,
	}

	b.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        string(provider),
		MaxRequests: uint32(config.SuccessThreshold),
		Timeout:     config.ResetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(config.FailureThreshold)
		},
		IsSuccessful: func(err error) bool {
			// Caller cancellation says nothing about provider health, so it
			// is neutral alongside fatal configuration errors.
			return err == nil || clients.IsFatal(err) ||
				errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if to == gobreaker.StateOpen {
				b.mu.Lock()
				b.openedAt = time.Now()
				b.mu.Unlock()
			}
			logger.WithFields(logrus.Fields{
				"provider": name,
				"from":     from.String(),
				"to":       to.String(),
			}).Info("Circuit breaker state changed")
		},
	})

	return b
}

// Execute runs fn under the circuit breaker with the per-call timeout
// applied. When the circuit is open the call is rejected immediately with
// ErrCircuitOpen and fn is never invoked.
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) (*clients.Result, error)) (*clients.Result, error) {
	out, err := b.cb.Execute(func() (interface{}, error) {
		callCtx, cancel := context.WithTimeout(ctx, b.config.CallTimeout)
		defer cancel()

		result, callErr := fn(callCtx)
		if callErr != nil && ctx.Err() != nil {
			// The caller's context expired, not the per-call timeout. That is
			// not evidence about the provider, so surface the raw context
			// error and leave the failure counters alone.
			return result, ctx.Err()
		}
		if callErr != nil && errors.Is(callErr, context.DeadlineExceeded) {
			callErr = clients.TransientError(b.provider,
				fmt.Errorf("call timed out after %s", b.config.CallTimeout))
		}
		if callErr != nil && !clients.IsFatal(callErr) {
			b.mu.Lock()
			b.lastFailureAt = time.Now()
			b.mu.Unlock()
		}
		return result, callErr
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, ErrCircuitOpen
		}
		return nil, err
	}
	return out.(*clients.Result), nil
}

// Open reports whether calls would currently be rejected.
func (b *Breaker) Open() bool {
	return b.cb.State() == gobreaker.StateOpen
}

// Snapshot returns the current circuit state for health reporting.
func (b *Breaker) Snapshot() Snapshot {
	counts := b.cb.Counts()
	snap := Snapshot{
		Provider:     b.provider,
		FailureCount: counts.ConsecutiveFailures,
		SuccessCount: counts.ConsecutiveSuccesses,
	}

	switch b.cb.State() {
	case gobreaker.StateOpen:
		snap.State = StateOpen
	case gobreaker.StateHalfOpen:
		snap.State = StateHalfOpen
	default:
		snap.State = StateClosed
	}

	b.mu.Lock()
	snap.LastFailureAt = b.lastFailureAt
	if snap.State == StateOpen && !b.openedAt.IsZero() {
		snap.NextAttemptAt = b.openedAt.Add(b.config.ResetTimeout)
	}
	b.mu.Unlock()

	return snap
}

// Registry holds one breaker per registered provider.
type Registry struct {
	mu       sync.RWMutex
	breakers map[clients.ProviderName]*Breaker
	config   Config
	logger   *logrus.Entry
}

// NewRegistry creates an empty breaker registry.
func NewRegistry(config Config, logger *logrus.Entry) *Registry {
	return &Registry{
		breakers: make(map[clients.ProviderName]*Breaker),
		config:   config,
		logger:   logger,
	}
}

// Get returns the breaker for a provider, creating it on first use.
func (r *Registry) Get(provider clients.ProviderName) *Breaker {
	r.mu.RLock()
	b, ok := r.breakers[provider]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[provider]; ok {
		return b
	}
	b = New(provider, r.config, r.logger)
	r.breakers[provider] = b
	return b
}

// Snapshots returns circuit state for every registered provider.
func (r *Registry) Snapshots() []Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snaps := make([]Snapshot, 0, len(r.breakers))
	for _, b := range r.breakers {
		snaps = append(snaps, b.Snapshot())
	}
	return snaps
}
