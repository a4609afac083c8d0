package smax

import (
	"crypto/tls"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Defaults for the enumerated configuration options (spec.md §6).
const (
	DefaultSentinelService      = "SMA-X"
	DefaultPipelineEnabled      = true
	DefaultMaxPendingPulls      = 1024
	DefaultPipeReadTimeout      = 3000 * time.Millisecond
	DefaultReconnectRetry       = 3 * time.Second
	DefaultResilientExitOnDrain = true
)

// TLSConfig carries the pass-through TLS options named in spec.md §6. The
// driver (go-redis) consumes the resulting *tls.Config directly; smax does
// not implement TLS itself.
type TLSConfig struct {
	CAPath         string
	CAFile         string
	Verify         bool
	CertFile       string // mutual-TLS client cert
	KeyFile        string // mutual-TLS client key
	ServerName     string // SNI hostname
	Ciphers        []string
	CipherSuites   []uint16
	DHParamsFile   string
}

// SentinelConfig carries Redis Sentinel addressing.
type SentinelConfig struct {
	Addrs       []string
	ServiceName string // defaults to DefaultSentinelService
}

// Config holds every configuration option enumerated in spec.md §6. Build
// one with NewConfig, passing Options, or by hand.
type Config struct {
	mu sync.Mutex // guards the fields below while Library may be reading them

	Host string
	Port int

	Sentinel *SentinelConfig

	Username string
	Password string
	DB       int

	// TCPBufSize is accepted for API completeness with spec.md §6; go-redis
	// has no direct socket-buffer-size knob, so this is not wired into
	// redisOptions and is purely informational for callers that also tune
	// their OS-level socket defaults.
	TCPBufSize int

	PipelineEnabled bool
	MaxPendingPulls int
	PipeReadTimeout time.Duration

	ReconnectRetry time.Duration

	ResilientMode      bool
	ResilientExitOnDrain bool

	Verbose bool

	TLS *TLSConfig

	Logger *zerolog.Logger

	isDisabled bool // set by the Supervisor while reconnecting; guarded by mu
}

// Option mutates a Config during construction.
type Option func(*Config)

// NewConfig builds a Config with spec.md §6 defaults applied, then applies
// opts in order.
func NewConfig(opts ...Option) *Config {
	c := &Config{
		Host:                 DefaultSMAXHostname,
		Port:                 6379,
		PipelineEnabled:      DefaultPipelineEnabled,
		MaxPendingPulls:      DefaultMaxPendingPulls,
		PipeReadTimeout:      DefaultPipeReadTimeout,
		ReconnectRetry:       DefaultReconnectRetry,
		ResilientExitOnDrain: DefaultResilientExitOnDrain,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// DefaultSMAXHostname is the conventional hostname of the Redis server
// backing an SMA-X deployment, used only as Config's zero-value default.
const DefaultSMAXHostname = "smax"

func WithServer(host string, port int) Option {
	return func(c *Config) { c.Host = host; c.Port = port }
}

func WithSentinel(serviceName string, addrs ...string) Option {
	return func(c *Config) {
		if serviceName == "" {
			serviceName = DefaultSentinelService
		}
		c.Sentinel = &SentinelConfig{Addrs: addrs, ServiceName: serviceName}
	}
}

func WithAuth(username, password string) Option {
	return func(c *Config) { c.Username = username; c.Password = password }
}

func WithDB(idx int) Option {
	return func(c *Config) { c.DB = idx }
}

func WithTCPBufSize(n int) Option {
	return func(c *Config) { c.TCPBufSize = n }
}

func WithPipelineEnabled(enabled bool) Option {
	return func(c *Config) { c.PipelineEnabled = enabled }
}

func WithMaxPendingPulls(n int) Option {
	return func(c *Config) { c.MaxPendingPulls = n }
}

func WithPipeReadTimeout(d time.Duration) Option {
	return func(c *Config) { c.PipeReadTimeout = d }
}

func WithReconnectRetry(d time.Duration) Option {
	return func(c *Config) { c.ReconnectRetry = d }
}

func WithResilientMode(enabled bool) Option {
	return func(c *Config) { c.ResilientMode = enabled }
}

func WithResilientExitOnDrain(enabled bool) Option {
	return func(c *Config) { c.ResilientExitOnDrain = enabled }
}

func WithVerbose(enabled bool) Option {
	return func(c *Config) { c.Verbose = enabled }
}

func WithTLS(t *TLSConfig) Option {
	return func(c *Config) { c.TLS = t }
}

func WithLogger(l zerolog.Logger) Option {
	return func(c *Config) { c.Logger = &l }
}

func (c *Config) setDisabled(v bool) {
	c.mu.Lock()
	c.isDisabled = v
	c.mu.Unlock()
}

func (c *Config) disabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isDisabled
}

// tlsConfig renders TLSConfig into a *tls.Config for go-redis, or nil if TLS
// is not configured. ServerName, Verify, CipherSuites and the client
// cert/key pair are applied (a pair that fails to load is skipped). Ciphers
// (cipher names), DHParamsFile, CAPath and CAFile are accepted for interface
// completeness (per spec.md §6) but are not applied to the tls.Config.
func (t *TLSConfig) tlsConfig() *tls.Config {
	if t == nil {
		return nil
	}
	cfg := &tls.Config{
		ServerName:         t.ServerName,
		InsecureSkipVerify: !t.Verify,
	}
	if len(t.CipherSuites) > 0 {
		cfg.CipherSuites = t.CipherSuites
	}
	if t.CertFile != "" && t.KeyFile != "" {
		if cert, err := tls.LoadX509KeyPair(t.CertFile, t.KeyFile); err == nil {
			cfg.Certificates = []tls.Certificate{cert}
		}
	}
	return cfg
}

// redisOptions renders Config into go-redis UniversalOptions, the shape
// that lets go-redis transparently pick a plain client or a Sentinel
// failover client.
func (c *Config) redisOptions() *redis.UniversalOptions {
	opts := &redis.UniversalOptions{
		Username: c.Username,
		Password: c.Password,
		DB:       c.DB,
	}
	if c.TLS != nil {
		opts.TLSConfig = c.TLS.tlsConfig()
	}
	if c.Sentinel != nil {
		opts.Addrs = c.Sentinel.Addrs
		opts.MasterName = c.Sentinel.ServiceName
	} else {
		opts.Addrs = []string{redisAddr(c.Host, c.Port)}
	}
	return opts
}

func redisAddr(host string, port int) string {
	if port == 0 {
		port = 6379
	}
	return host + ":" + strconv.Itoa(port)
}
