package risk

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// ═══════════════════════════════════════════════════════════════════════════════
// CIRCUIT BREAKER - Fail fast after consecutive venue failures
// ═══════════════════════════════════════════════════════════════════════════════

// ErrCircuitOpen is returned while the breaker is tripped
var ErrCircuitOpen = errors.New("circuit breaker open")

type CircuitBreaker struct {
	mu sync.Mutex

	// Configuration
	maxFailures int
	cooldown    time.Duration

	// State
	consecutiveFailures int
	tripped             bool
	trippedAt           time.Time
	reason              string

	now func() time.Time
}

// NewCircuitBreaker creates a breaker that trips after maxFailures
// consecutive failures and stays open for cooldown. maxFailures <= 0
// disables it.
func NewCircuitBreaker(maxFailures int, cooldown time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		maxFailures: maxFailures,
		cooldown:    cooldown,
		now:         time.Now,
	}
}

// Allow returns ErrCircuitOpen while tripped. Once the cooldown has passed
// the breaker resets and the call is allowed.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if !cb.tripped {
		return nil
	}
	if cb.now().Sub(cb.trippedAt) >= cb.cooldown {
		cb.reset()
		log.Info().Msg("✅ Circuit breaker reset after cooldown")
		return nil
	}
	remaining := cb.cooldown - cb.now().Sub(cb.trippedAt)
	return fmt.Errorf("%w: %s (retry in %s)", ErrCircuitOpen, cb.reason, remaining.Round(time.Second))
}

// RecordFailure counts a failed venue call
func (cb *CircuitBreaker) RecordFailure(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFailures++
	if cb.maxFailures > 0 && !cb.tripped && cb.consecutiveFailures >= cb.maxFailures {
		cb.trip(err)
	}
}

// RecordSuccess clears the failure streak
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.consecutiveFailures = 0
}

func (cb *CircuitBreaker) trip(err error) {
	cb.tripped = true
	cb.trippedAt = cb.now()
	cb.reason = "max consecutive failures"
	if err != nil {
		cb.reason = err.Error()
	}
	log.Warn().
		Str("reason", cb.reason).
		Int("consecutive_failures", cb.consecutiveFailures).
		Dur("cooldown", cb.cooldown).
		Msg("🚨 CIRCUIT BREAKER TRIPPED")
}

func (cb *CircuitBreaker) reset() {
	cb.consecutiveFailures = 0
	cb.tripped = false
	cb.reason = ""
}

// IsTripped returns current trip state
func (cb *CircuitBreaker) IsTripped() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.tripped
}

// GetStats returns circuit breaker statistics
func (cb *CircuitBreaker) GetStats() (consecutiveFailures int, tripped bool, reason string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.consecutiveFailures, cb.tripped, cb.reason
}

// ForceReset manually resets the circuit breaker
func (cb *CircuitBreaker) ForceReset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.reset()
	log.Info().Msg("Circuit breaker manually reset")
}
