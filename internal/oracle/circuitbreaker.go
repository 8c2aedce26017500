package oracle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"shde/internal/logx"
)

// CircuitState is one of the three circuit breaker states.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "CLOSED"
	case CircuitOpen:
		return "OPEN"
	case CircuitHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// CircuitBreakerConfig configures failure/success thresholds and the
// cooldown before a half-open probe.
type CircuitBreakerConfig struct {
	FailureThreshold int
	SuccessThreshold int
	Timeout          time.Duration
}

// DefaultCircuitBreakerConfig mirrors the reference module's defaults,
// scaled down for a lower-volume oracle workload.
var DefaultCircuitBreakerConfig = CircuitBreakerConfig{
	FailureThreshold: 3,
	SuccessThreshold: 2,
	Timeout:          30 * time.Second,
}

// CircuitBreakerError is returned when a call is rejected by an open circuit.
type CircuitBreakerError struct {
	Provider string
	State    CircuitState
}

func (e *CircuitBreakerError) Error() string {
	return fmt.Sprintf("oracle provider %s: circuit breaker is %s", e.Provider, e.State)
}

type circuitBreakerClient struct {
	next   Client
	config CircuitBreakerConfig
	log    *logx.Logger

	mu              sync.Mutex
	state           CircuitState
	failureCount    int
	successCount    int
	lastFailureTime time.Time
}

// WithCircuitBreaker wraps next with the circuit breaker pattern:
// closed -> open after FailureThreshold consecutive failures, half-open
// after Timeout elapses, closed again after SuccessThreshold consecutive
// successes in half-open.
func WithCircuitBreaker(config CircuitBreakerConfig) Middleware {
	return func(next Client) Client {
		return &circuitBreakerClient{
			next:   next,
			config: config,
			log:    logx.NewLogger("oracle.circuitbreaker"),
			state:  CircuitClosed,
		}
	}
}

func (cb *circuitBreakerClient) Name() string { return cb.next.Name() }

func (cb *circuitBreakerClient) SuggestPatch(ctx context.Context, req Request) (Response, error) {
	if err := cb.allow(); err != nil {
		return Response{}, err
	}

	resp, err := cb.next.SuggestPatch(ctx, req)
	cb.record(err == nil)
	return resp, err
}

func (cb *circuitBreakerClient) allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitOpen:
		if time.Since(cb.lastFailureTime) < cb.config.Timeout {
			return &CircuitBreakerError{Provider: cb.next.Name(), State: cb.state}
		}
		cb.state = CircuitHalfOpen
		cb.successCount = 0
		cb.log.Info("provider %s circuit half-open, probing", cb.next.Name())
	}
	return nil
}

func (cb *circuitBreakerClient) record(success bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if success {
		cb.failureCount = 0
		switch cb.state {
		case CircuitHalfOpen:
			cb.successCount++
			if cb.successCount >= cb.config.SuccessThreshold {
				cb.state = CircuitClosed
				cb.log.Info("provider %s circuit closed", cb.next.Name())
			}
		}
		return
	}

	cb.lastFailureTime = time.Now()
	switch cb.state {
	case CircuitHalfOpen:
		cb.state = CircuitOpen
		cb.log.Warn("provider %s circuit reopened after half-open failure", cb.next.Name())
	default:
		cb.failureCount++
		if cb.failureCount >= cb.config.FailureThreshold {
			cb.state = CircuitOpen
			cb.log.Warn("provider %s circuit opened after %d failures", cb.next.Name(), cb.failureCount)
		}
	}
}
