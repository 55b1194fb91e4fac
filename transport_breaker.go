package mqttcore

import (
	"context"
	"time"

	"github.com/sony/gobreaker"
)

// BreakerConfig tunes the circuit breaker around a Dialer.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive dial failures that
	// open the breaker.
	FailureThreshold uint32 `yaml:"failure_threshold"`

	// ResetTimeout is how long the breaker stays open before a trial dial.
	ResetTimeout time.Duration `yaml:"reset_timeout"`
}

// DefaultBreakerConfig returns the default breaker tuning.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		ResetTimeout:     30 * time.Second,
	}
}

// BreakerDialer stops dialing a broker that keeps failing. While the
// breaker is open, Dial fails fast with gobreaker.ErrOpenState.
type BreakerDialer struct {
	dialer  Dialer
	breaker *gobreaker.CircuitBreaker
}

// NewBreakerDialer wraps d with a circuit breaker named name.
func NewBreakerDialer(name string, d Dialer, cfg BreakerConfig, logger Logger) *BreakerDialer {
	if logger == nil {
		logger = NewNoOpLogger()
	}
	threshold := cfg.FailureThreshold
	if threshold == 0 {
		threshold = DefaultBreakerConfig().FailureThreshold
	}

	return &BreakerDialer{
		dialer: d,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        name,
			MaxRequests: 1,
			Timeout:     cfg.ResetTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= threshold
			},
			OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
				logger.Warn("dial circuit breaker state changed", LogFields{
					LogFieldRemoteAddr: name,
					"from":             from.String(),
					"to":               to.String(),
				})
			},
		}),
	}
}

// Dial dials through the wrapped Dialer unless the breaker is open.
func (b *BreakerDialer) Dial(ctx context.Context, address string) (Socket, error) {
	res, err := b.breaker.Execute(func() (interface{}, error) {
		return b.dialer.Dial(ctx, address)
	})
	if err != nil {
		return nil, err
	}
	return res.(Socket), nil
}

// State returns the breaker state.
func (b *BreakerDialer) State() gobreaker.State {
	return b.breaker.State()
}
