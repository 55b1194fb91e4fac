package mqttcore

import (
	"fmt"
	"time"
)

// Defaults for a Client.
const (
	DefaultKeepAlive      = 60 * time.Second
	DefaultIdleTimeout    = 90 * time.Second
	DefaultRetryTimeout   = 10 * time.Second
	DefaultWriteTimeout   = 5 * time.Second
	DefaultDrainTimeout   = 2 * time.Second
	DefaultMaxQueue       = 256
	DefaultMaxInflight    = 32
	MaxMessageSizeDefault = 128 * 1024
)

// clientOptions holds configuration for a Client.
type clientOptions struct {
	// Connection settings
	username  string
	password  []byte
	keepAlive time.Duration
	timeout   time.Duration

	// Will message
	will *willMessage

	// Timeouts
	retryTimeout time.Duration
	writeTimeout time.Duration
	drainTimeout time.Duration

	// Limits
	maxMessageSize uint32
	maxQueue       int
	maxInflight    uint16

	// Publish pacing
	throttle     ThrottleConfig
	publishRate  float64
	publishBurst int

	logger  Logger
	metrics Metrics
}

// willMessage is the message the broker publishes on an unclean disconnect.
type willMessage struct {
	topic   string
	payload []byte
	qos     byte
	retain  bool
}

// validate checks the will against the CONNECT field rules.
func (w *willMessage) validate() error {
	if err := ValidateTopicName(w.topic); err != nil {
		return fmt.Errorf("%w: will: %w", ErrInvalidTopic, err)
	}
	if w.qos > 2 {
		return ErrInvalidQoS
	}
	if len(w.payload) > maxUint16 {
		return ErrFieldTooLong
	}
	return nil
}

// defaultOptions returns options with sensible defaults.
func defaultOptions() *clientOptions {
	return &clientOptions{
		keepAlive:      DefaultKeepAlive,
		timeout:        DefaultIdleTimeout,
		retryTimeout:   DefaultRetryTimeout,
		writeTimeout:   DefaultWriteTimeout,
		drainTimeout:   DefaultDrainTimeout,
		maxMessageSize: MaxMessageSizeDefault,
		maxQueue:       DefaultMaxQueue,
		maxInflight:    DefaultMaxInflight,
		throttle:       DefaultThrottleConfig(),
		logger:         NewNoOpLogger(),
		metrics:        &NoOpMetrics{},
	}
}

// Option configures a Client.
type Option func(*clientOptions)

// WithCredentials sets the username and password for authentication.
// A nil password sends no password.
func WithCredentials(username string, password []byte) Option {
	return func(o *clientOptions) {
		o.username = username
		o.password = password
	}
}

// WithKeepAlive sets the keep-alive interval. Zero disables keep-alive pings.
func WithKeepAlive(d time.Duration) Option {
	return func(o *clientOptions) {
		o.keepAlive = d
	}
}

// WithIdleTimeout sets how long the connection may go without receiving
// anything before it is closed. Zero disables the check.
func WithIdleTimeout(d time.Duration) Option {
	return func(o *clientOptions) {
		o.timeout = d
	}
}

// WithRetryTimeout sets how long an unacknowledged publish waits before it
// is retransmitted.
func WithRetryTimeout(d time.Duration) Option {
	return func(o *clientOptions) {
		o.retryTimeout = d
	}
}

// WithWriteTimeout sets the deadline for a single socket write when the
// socket supports write deadlines.
func WithWriteTimeout(d time.Duration) Option {
	return func(o *clientOptions) {
		o.writeTimeout = d
	}
}

// WithDrainTimeout bounds how long Destroy waits for spawned handlers.
func WithDrainTimeout(d time.Duration) Option {
	return func(o *clientOptions) {
		o.drainTimeout = d
	}
}

// WithWill sets the Will message that will be published if the client disconnects unexpectedly.
func WithWill(topic string, payload []byte, qos byte, retain bool) Option {
	return func(o *clientOptions) {
		o.will = &willMessage{
			topic:   topic,
			payload: payload,
			qos:     qos,
			retain:  retain,
		}
	}
}

// WithMaxMessageSize sets the largest remaining length accepted in either
// direction.
func WithMaxMessageSize(size uint32) Option {
	return func(o *clientOptions) {
		o.maxMessageSize = size
	}
}

// WithMaxQueue limits the number of in-flight messages. Zero means unlimited.
func WithMaxQueue(n int) Option {
	return func(o *clientOptions) {
		o.maxQueue = n
	}
}

// WithMaxInflight limits unacknowledged QoS 1 and QoS 2 publishes.
func WithMaxInflight(n uint16) Option {
	return func(o *clientOptions) {
		o.maxInflight = n
	}
}

// WithThrottle overrides the publish throttle tuning.
func WithThrottle(cfg ThrottleConfig) Option {
	return func(o *clientOptions) {
		o.throttle = cfg
	}
}

// WithPublishRate caps publishes to perSecond with the given burst.
func WithPublishRate(perSecond float64, burst int) Option {
	return func(o *clientOptions) {
		o.publishRate = perSecond
		o.publishBurst = burst
	}
}

// WithLogger sets the logger for the client.
func WithLogger(logger Logger) Option {
	return func(o *clientOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics sets the metrics collector for the client.
func WithMetrics(m Metrics) Option {
	return func(o *clientOptions) {
		if m != nil {
			o.metrics = m
		}
	}
}

// validate rejects option values the client cannot use.
func (o *clientOptions) validate() error {
	if len(o.username) > maxUint16 || len(o.password) > maxUint16 {
		return ErrFieldTooLong
	}
	if o.password != nil && o.username == "" {
		return ErrPasswordWithoutUser
	}
	if o.will != nil {
		if err := o.will.validate(); err != nil {
			return err
		}
	}
	if o.keepAlive < 0 || o.keepAlive > maxKeepAlive {
		return fmt.Errorf("%w: keep-alive %s", ErrInvalidOption, o.keepAlive)
	}
	if o.maxMessageSize > maxVarint {
		return ErrPacketTooLarge
	}
	if o.maxQueue < 0 {
		return fmt.Errorf("%w: negative queue limit", ErrInvalidOption)
	}
	return nil
}

// applyOptions applies all options to the default options.
func applyOptions(opts ...Option) *clientOptions {
	options := defaultOptions()
	for _, opt := range opts {
		opt(options)
	}
	return options
}
