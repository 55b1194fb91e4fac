package mqttcore

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// ThrottleConfig tunes the publish throttle.
type ThrottleConfig struct {
	// Min is the smallest step added on a backpressure signal.
	Min time.Duration `yaml:"min"`

	// Max caps the delay.
	Max time.Duration `yaml:"max"`

	// DecayPercent is the fraction of the current delay removed per second.
	DecayPercent float64 `yaml:"decay_percent"`

	// DecayFixed is removed from the delay per second on top of DecayPercent.
	DecayFixed time.Duration `yaml:"decay_fixed"`
}

// DefaultThrottleConfig returns the default throttle tuning.
func DefaultThrottleConfig() ThrottleConfig {
	return ThrottleConfig{
		Min:          100 * time.Millisecond,
		Max:          30 * time.Second,
		DecayPercent: 0.1,
		DecayFixed:   10 * time.Millisecond,
	}
}

// throttle tracks the self-imposed delay before each publish. It is
// guarded by the client lock.
type throttle struct {
	cfg   ThrottleConfig
	delay time.Duration
	last  time.Time
}

func newThrottle(cfg ThrottleConfig) *throttle {
	return &throttle{cfg: cfg}
}

// signal records a broker backpressure signal and returns the new delay.
func (t *throttle) signal() time.Duration {
	next := max(2*t.delay, t.delay+t.cfg.Min)
	t.delay = min(t.cfg.Max, next)
	return t.delay
}

// next decays the delay by the time elapsed since the previous publish
// and returns the delay to apply to this one.
func (t *throttle) next(now time.Time) time.Duration {
	if !t.last.IsZero() && t.delay > 0 {
		elapsed := now.Sub(t.last).Seconds()
		if elapsed > 0 {
			perSecond := float64(t.delay)*t.cfg.DecayPercent + float64(t.cfg.DecayFixed)
			reduced := float64(t.delay) - elapsed*perSecond
			t.delay = time.Duration(max(reduced, 0))
		}
	}
	t.last = now
	return t.delay
}

// current returns the delay without decaying it.
func (t *throttle) current() time.Duration {
	return t.delay
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// newPublishLimiter returns a token bucket for WithPublishRate, or nil
// when no limit is configured.
func newPublishLimiter(perSecond float64, burst int) *rate.Limiter {
	if perSecond <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(perSecond), burst)
}
