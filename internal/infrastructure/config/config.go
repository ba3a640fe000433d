// Package config loads the YAML configuration shared by the server and the
// listen client.
//
// Configuration comes from a single file named by the --config flag or the
// REALTIME_CONFIG environment variable. Every field has a default, so running
// without a file is valid. Environment sections (development, staging,
// production) override base values when the environment matches.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"go-realtime-bus/internal/infrastructure/logger"
)

// EnvVar names the environment variable consulted when no --config flag is
// given.
const EnvVar = "REALTIME_CONFIG"

// Environment represents the deployment environment.
type Environment string

const (
	Development Environment = "development"
	Staging     Environment = "staging"
	Production  Environment = "production"
)

// Config is the root configuration document.
type Config struct {
	Environment Environment    `yaml:"environment"`
	Server      ServerConfig   `yaml:"server"`
	Hub         HubConfig      `yaml:"hub"`
	Auth        AuthConfig     `yaml:"auth"`
	Client      ClientConfig   `yaml:"client"`
	Logger      *logger.Config `yaml:"logger"`

	Development *Overrides `yaml:"development,omitempty"`
	Staging     *Overrides `yaml:"staging,omitempty"`
	Production  *Overrides `yaml:"production,omitempty"`
}

// Overrides contains the sections that may be replaced per environment.
type Overrides struct {
	Server *ServerConfig  `yaml:"server,omitempty"`
	Hub    *HubConfig     `yaml:"hub,omitempty"`
	Auth   *AuthConfig    `yaml:"auth,omitempty"`
	Client *ClientConfig  `yaml:"client,omitempty"`
	Logger *logger.Config `yaml:"logger,omitempty"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	// WriteTimeout bounds whole responses, SSE streams included. Keep it
	// zero unless every client uses WebSocket.
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// AllowedOrigins limits WebSocket upgrades. Empty allows any origin.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// HubConfig configures the server-side connection hub.
type HubConfig struct {
	SendBuffer      int           `yaml:"send_buffer"`
	EnqueueTimeout  time.Duration `yaml:"enqueue_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	PongTimeout     time.Duration `yaml:"pong_timeout"`
	PingInterval    time.Duration `yaml:"ping_interval"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
	MaxMessageSize  int64         `yaml:"max_message_size"`

	// InboundRate is the number of client-originated frames per second a
	// single connection may send before frames are dropped.
	InboundRate  float64 `yaml:"inbound_rate"`
	InboundBurst int     `yaml:"inbound_burst"`
}

// AuthConfig configures session tokens.
type AuthConfig struct {
	Secret   string        `yaml:"secret"`
	Issuer   string        `yaml:"issuer"`
	TokenTTL time.Duration `yaml:"token_ttl"`

	// Required rejects unauthenticated /ws upgrades and REST writes.
	Required bool `yaml:"required"`

	// IssueEndpoint mounts POST /api/sessions. Development only.
	IssueEndpoint bool `yaml:"issue_endpoint"`
}

// ClientConfig configures the realtime bus used by the listen command.
type ClientConfig struct {
	Origin           string        `yaml:"origin"`
	Token            string        `yaml:"token"`
	UserID           int64         `yaml:"user_id"`
	Role             string        `yaml:"role"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`

	Reconnect ReconnectConfig `yaml:"reconnect"`
	Cache     CacheConfig     `yaml:"cache"`
}

// ReconnectConfig configures the opt-in reconnect policy. Disabled by
// default: a closed channel stays closed.
type ReconnectConfig struct {
	Enabled         bool          `yaml:"enabled"`
	InitialInterval time.Duration `yaml:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval"`
	Multiplier      float64       `yaml:"multiplier"`
	Jitter          float64       `yaml:"jitter"`

	// MaxElapsed stops retrying after this long without a successful
	// connection. Zero retries forever.
	MaxElapsed time.Duration `yaml:"max_elapsed"`
}

// CacheConfig configures the client query cache.
type CacheConfig struct {
	TTL                 time.Duration `yaml:"ttl"`
	Capacity            uint64        `yaml:"capacity"`
	RefetchOnInvalidate bool          `yaml:"refetch_on_invalidate"`
	FetchTimeout        time.Duration `yaml:"fetch_timeout"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Environment: Development,
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 5 * time.Second,
		},
		Hub: HubConfig{
			SendBuffer:      256,
			EnqueueTimeout:  100 * time.Millisecond,
			WriteTimeout:    10 * time.Second,
			PongTimeout:     60 * time.Second,
			PingInterval:    54 * time.Second,
			CleanupInterval: 30 * time.Second,
			MaxMessageSize:  64 << 10,
			InboundRate:     20,
			InboundBurst:    40,
		},
		Auth: AuthConfig{
			Issuer:   "go-realtime-bus",
			TokenTTL: 24 * time.Hour,
		},
		Client: ClientConfig{
			Origin:           "http://localhost:8080",
			HandshakeTimeout: 10 * time.Second,
			ReadTimeout:      60 * time.Second,
			WriteTimeout:     10 * time.Second,
			Reconnect: ReconnectConfig{
				InitialInterval: 500 * time.Millisecond,
				MaxInterval:     30 * time.Second,
				Multiplier:      2,
				Jitter:          0.5,
			},
			Cache: CacheConfig{
				TTL:          5 * time.Minute,
				Capacity:     1024,
				FetchTimeout: 10 * time.Second,
			},
		},
		Logger: logger.NewDefaultConfig(),
	}
}

// Load reads path over the defaults. An empty path falls back to
// REALTIME_CONFIG; if that is empty too, the defaults are returned.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(EnvVar)
	}

	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	if err := Parse(data, cfg); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes data onto cfg, applies the environment overrides and
// validates the result.
func Parse(data []byte, cfg *Config) error {
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing yaml: %w", err)
	}

	cfg.applyOverrides()

	return cfg.Validate()
}

func (c *Config) applyOverrides() {
	var o *Overrides
	switch c.Environment {
	case Development:
		o = c.Development
	case Staging:
		o = c.Staging
	case Production:
		o = c.Production
	}
	if o == nil {
		return
	}

	if o.Server != nil {
		c.Server = *o.Server
	}
	if o.Hub != nil {
		c.Hub = *o.Hub
	}
	if o.Auth != nil {
		c.Auth = *o.Auth
	}
	if o.Client != nil {
		c.Client = *o.Client
	}
	if o.Logger != nil {
		c.Logger = o.Logger
	}
}

// Validate checks the values the rest of the program relies on.
func (c *Config) Validate() error {
	var errs []error

	switch c.Environment {
	case Development, Staging, Production:
	default:
		errs = append(errs, fmt.Errorf("unknown environment %q", c.Environment))
	}

	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	if c.Hub.SendBuffer <= 0 {
		errs = append(errs, errors.New("hub.send_buffer must be positive"))
	}
	if c.Hub.EnqueueTimeout <= 0 {
		errs = append(errs, errors.New("hub.enqueue_timeout must be positive"))
	}
	if c.Hub.PingInterval >= c.Hub.PongTimeout {
		errs = append(errs, errors.New("hub.ping_interval must be shorter than hub.pong_timeout"))
	}
	if c.Auth.Required && c.Auth.Secret == "" {
		errs = append(errs, errors.New("auth.secret is required when auth.required is set"))
	}
	if c.Environment == Production && c.Auth.IssueEndpoint {
		errs = append(errs, errors.New("auth.issue_endpoint must not be enabled in production"))
	}
	if c.Client.Reconnect.Enabled && c.Client.Reconnect.InitialInterval <= 0 {
		errs = append(errs, errors.New("client.reconnect.initial_interval must be positive"))
	}
	if c.Logger == nil {
		c.Logger = logger.NewDefaultConfig()
	} else if err := c.Logger.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("logger: %w", err))
	}

	return errors.Join(errs...)
}
