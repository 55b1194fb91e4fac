package mqttcore

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// maxPortableClientID is the longest client identifier every v3.1.1
// broker must accept.
const maxPortableClientID = 23

// Config holds the MQTT settings of a device agent, usually loaded from a
// YAML file with LoadConfig.
type Config struct {
	Broker       string `yaml:"broker"`
	ClientID     string `yaml:"client_id"`
	CleanSession bool   `yaml:"clean_session"`
	Username     string `yaml:"username"`
	Password     string `yaml:"password"`

	KeepAlive    time.Duration `yaml:"keep_alive"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
	RetryTimeout time.Duration `yaml:"retry_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	DrainTimeout time.Duration `yaml:"drain_timeout"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`

	MaxMessageSize uint32 `yaml:"max_message_size"`
	MaxQueue       int    `yaml:"max_queue"`
	MaxInflight    uint16 `yaml:"max_inflight"`

	Throttle     ThrottleConfig `yaml:"throttle"`
	PublishRate  float64        `yaml:"publish_rate"`
	PublishBurst int            `yaml:"publish_burst"`

	Will    *WillConfig   `yaml:"will"`
	TLS     TLSConfig     `yaml:"tls"`
	Proxy   *ProxyConfig  `yaml:"proxy"`
	Breaker BreakerConfig `yaml:"breaker"`
	Log     LogConfig     `yaml:"log"`

	// ProxyFromEnv consults HTTP_PROXY, HTTPS_PROXY and NO_PROXY when no
	// proxy is configured.
	ProxyFromEnv bool `yaml:"proxy_from_env"`
}

// WillConfig is the will message section.
type WillConfig struct {
	Topic   string `yaml:"topic"`
	Payload string `yaml:"payload"`
	QoS     byte   `yaml:"qos"`
	Retain  bool   `yaml:"retain"`
}

// TLSConfig points at PEM files for broker verification and client
// certificates.
type TLSConfig struct {
	CAFile             string `yaml:"ca_file"`
	CertFile           string `yaml:"cert_file"`
	KeyFile            string `yaml:"key_file"`
	ServerName         string `yaml:"server_name"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
}

// LogConfig selects the log level and format.
type LogConfig struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level"`
	// Format is json or text.
	Format string `yaml:"format"`
}

// LoadConfig reads and validates a YAML config file. Environment variables
// MQTTCORE_BROKER, MQTTCORE_CLIENT_ID, MQTTCORE_USERNAME, MQTTCORE_PASSWORD
// and MQTTCORE_LOG_LEVEL override the file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig parses and validates YAML config data. Unset fields keep
// their defaults.
func ParseConfig(data []byte) (*Config, error) {
	cfg := DefaultConfig()

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if cfg.ClientID == "" {
		cfg.ClientID = NewClientID("mqttcore")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// DefaultConfig returns a Config with the client defaults.
func DefaultConfig() *Config {
	return &Config{
		CleanSession:   true,
		KeepAlive:      DefaultKeepAlive,
		IdleTimeout:    DefaultIdleTimeout,
		RetryTimeout:   DefaultRetryTimeout,
		WriteTimeout:   DefaultWriteTimeout,
		DrainTimeout:   DefaultDrainTimeout,
		DialTimeout:    DefaultAttachTimeout,
		MaxMessageSize: MaxMessageSizeDefault,
		MaxQueue:       DefaultMaxQueue,
		MaxInflight:    DefaultMaxInflight,
		Throttle:       DefaultThrottleConfig(),
		Breaker:        DefaultBreakerConfig(),
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MQTTCORE_BROKER"); v != "" {
		cfg.Broker = v
	}
	if v := os.Getenv("MQTTCORE_CLIENT_ID"); v != "" {
		cfg.ClientID = v
	}
	if v := os.Getenv("MQTTCORE_USERNAME"); v != "" {
		cfg.Username = v
	}
	if v := os.Getenv("MQTTCORE_PASSWORD"); v != "" {
		cfg.Password = v
	}
	if v := os.Getenv("MQTTCORE_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
}

// Validate checks the configuration and reports every problem at once.
func (c *Config) Validate() error {
	var errs []string

	if c.Broker == "" {
		errs = append(errs, "broker is required")
	} else if u, err := url.Parse(c.Broker); err != nil {
		errs = append(errs, fmt.Sprintf("broker: %v", err))
	} else {
		switch u.Scheme {
		case "tcp", "mqtt", "ssl", "tls", "mqtts", "ws", "wss", "unix", "quic":
		default:
			errs = append(errs, fmt.Sprintf("broker: unsupported scheme %q", u.Scheme))
		}
	}

	if err := validateClientID(c.ClientID); err != nil {
		errs = append(errs, "client_id must be valid UTF-8 of at most 65535 bytes")
	}
	if c.Password != "" && c.Username == "" {
		errs = append(errs, "password requires username")
	}

	if c.KeepAlive < 0 || c.KeepAlive > maxKeepAlive {
		errs = append(errs, "keep_alive must be between 0 and 65535s")
	}
	if c.IdleTimeout < 0 {
		errs = append(errs, "idle_timeout must not be negative")
	}
	if c.IdleTimeout > 0 && c.KeepAlive > 0 && c.IdleTimeout <= c.KeepAlive {
		errs = append(errs, "idle_timeout must be longer than keep_alive")
	}
	if c.RetryTimeout <= 0 {
		errs = append(errs, "retry_timeout must be positive")
	}
	if c.MaxMessageSize > maxVarint {
		errs = append(errs, fmt.Sprintf("max_message_size must be at most %d", maxVarint))
	}
	if c.MaxQueue < 0 {
		errs = append(errs, "max_queue must not be negative")
	}
	if c.PublishRate < 0 {
		errs = append(errs, "publish_rate must not be negative")
	}

	if c.Throttle.Min < 0 || c.Throttle.Max < c.Throttle.Min {
		errs = append(errs, "throttle.max must not be below throttle.min")
	}
	if c.Throttle.DecayPercent < 0 || c.Throttle.DecayPercent > 1 {
		errs = append(errs, "throttle.decay_percent must be between 0 and 1")
	}

	if c.Will != nil && c.Will.Topic != "" {
		w := willMessage{topic: c.Will.Topic, payload: []byte(c.Will.Payload), qos: c.Will.QoS, retain: c.Will.Retain}
		if err := w.validate(); err != nil {
			errs = append(errs, fmt.Sprintf("will: %v", err))
		}
	}

	if (c.TLS.CertFile == "") != (c.TLS.KeyFile == "") {
		errs = append(errs, "tls.cert_file and tls.key_file must be set together")
	}

	if c.Proxy != nil && c.Proxy.URL != "" {
		if _, err := NewProxyDialer(c.Proxy.URL, c.Proxy.Username, c.Proxy.Password); err != nil {
			errs = append(errs, fmt.Sprintf("proxy: %v", err))
		}
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error", "none", "off":
	default:
		errs = append(errs, fmt.Sprintf("log.level %q is not one of debug, info, warn, error", c.Log.Level))
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		errs = append(errs, fmt.Sprintf("log.format %q is not json or text", c.Log.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// Options returns the client options described by the config. Logger and
// metrics may be nil.
func (c *Config) Options(logger Logger, metrics Metrics) []Option {
	opts := []Option{
		WithKeepAlive(c.KeepAlive),
		WithIdleTimeout(c.IdleTimeout),
		WithRetryTimeout(c.RetryTimeout),
		WithWriteTimeout(c.WriteTimeout),
		WithDrainTimeout(c.DrainTimeout),
		WithMaxMessageSize(c.MaxMessageSize),
		WithMaxQueue(c.MaxQueue),
		WithMaxInflight(c.MaxInflight),
		WithThrottle(c.Throttle),
		WithLogger(logger),
		WithMetrics(metrics),
	}

	if c.Username != "" {
		var password []byte
		if c.Password != "" {
			password = []byte(c.Password)
		}
		opts = append(opts, WithCredentials(c.Username, password))
	}
	if c.Will != nil && c.Will.Topic != "" {
		opts = append(opts, WithWill(c.Will.Topic, []byte(c.Will.Payload), c.Will.QoS, c.Will.Retain))
	}
	if c.PublishRate > 0 {
		opts = append(opts, WithPublishRate(c.PublishRate, c.PublishBurst))
	}

	return opts
}

// ConnectFlags returns the CONNECT flags described by the config.
func (c *Config) ConnectFlags() ConnectFlags {
	var flags ConnectFlags
	if c.CleanSession {
		flags |= ConnectCleanSession
	}
	return flags
}

// DialOptions returns the dial settings, loading TLS material from disk.
func (c *Config) DialOptions() (DialOptions, error) {
	tlsConfig, err := c.TLS.load()
	if err != nil {
		return DialOptions{}, err
	}

	return DialOptions{
		TLSConfig:    tlsConfig,
		Proxy:        c.Proxy,
		ProxyFromEnv: c.ProxyFromEnv,
		Timeout:      c.DialTimeout,
	}, nil
}

// AutoAttach returns an event handler that dials the configured broker
// whenever the client needs a socket.
func (c *Config) AutoAttach(logger Logger) (*AutoAttach, error) {
	opts, err := c.DialOptions()
	if err != nil {
		return nil, err
	}

	a := NewAutoAttach(c.Broker, NewURLDialer(opts), c.ConnectFlags(), c.Breaker, logger)
	a.Timeout = c.DialTimeout
	return a, nil
}

// NewLogger builds a slog-backed Logger writing to w in the configured
// format and level.
func (c *Config) NewLogger(w io.Writer) *SlogLogger {
	level := ParseLogLevel(c.Log.Level)

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: slog.LevelDebug}
	if c.Log.Format == "text" {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}

	return NewSlogLogger(slog.New(handler), level)
}

// load builds a tls.Config from the PEM files. It returns nil when nothing
// is configured so dialers use their defaults.
func (t TLSConfig) load() (*tls.Config, error) {
	if t == (TLSConfig{}) {
		return nil, nil
	}

	cfg := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		ServerName:         t.ServerName,
		InsecureSkipVerify: t.InsecureSkipVerify, //nolint:gosec // opt-in for lab brokers
	}

	if t.CAFile != "" {
		pem, err := os.ReadFile(t.CAFile)
		if err != nil {
			return nil, fmt.Errorf("reading CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, errors.New("no certificates found in CA file")
		}
		cfg.RootCAs = pool
	}

	if t.CertFile != "" {
		cert, err := tls.LoadX509KeyPair(t.CertFile, t.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("loading client certificate: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}

	return cfg, nil
}

// NewClientID returns a random client identifier starting with prefix. The
// result fits the 23 byte limit every broker must accept; a long prefix
// is shortened to keep 12 random characters.
func NewClientID(prefix string) string {
	random := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	if prefix == "" {
		return random
	}

	if limit := maxPortableClientID - len(random) - 1; len(prefix) > limit {
		prefix = prefix[:limit]
	}
	return prefix + "-" + random
}
