// Package config defines the teamboard daemon configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Store drivers.
const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
)

// Relay drivers.
const (
	RelayMemory = "memory"
	RelayKafka  = "kafka"
)

// Config is the top-level teamboard configuration.
type Config struct {
	Server   ServerConfig    `json:"server" yaml:"server"`
	Auth     AuthConfig      `json:"auth" yaml:"auth"`
	Store    StoreConfig     `json:"store" yaml:"store"`
	Relay    RelayConfig     `json:"relay" yaml:"relay"`
	Projects []ProjectConfig `json:"projects,omitempty" yaml:"projects"`
	DataDir  string          `json:"data_dir" yaml:"data_dir"`
	LogLevel string          `json:"log_level" yaml:"log_level"`
}

// ServerConfig controls the HTTP/websocket listener.
type ServerConfig struct {
	Addr           string   `json:"addr" yaml:"addr" split_words:"true"` // e.g. ":9090"
	AllowedOrigins []string `json:"allowed_origins,omitempty" yaml:"allowed_origins" split_words:"true"`
	SendBuffer     int      `json:"send_buffer" yaml:"send_buffer" split_words:"true"` // per-connection outbound queue
	ReadLimit      int64    `json:"read_limit" yaml:"read_limit" split_words:"true"`    // max inbound frame bytes
}

// AuthConfig controls token issuance and admin login.
type AuthConfig struct {
	JWTSecret string        `json:"jwt_secret" yaml:"jwt_secret" split_words:"true"`
	AdminUser string        `json:"admin_user" yaml:"admin_user" split_words:"true"`
	AdminPass string        `json:"admin_pass" yaml:"admin_pass" split_words:"true"` // bcrypt hash
	TokenTTL  time.Duration `json:"token_ttl" yaml:"token_ttl" split_words:"true"`
}

// StoreConfig selects the task store backend.
type StoreConfig struct {
	Driver string `json:"driver" yaml:"driver" split_words:"true"` // "memory" or "sqlite"
	Path   string `json:"path" yaml:"path" split_words:"true"`
}

// RelayConfig selects how room broadcasts travel between daemon instances.
type RelayConfig struct {
	Driver  string   `json:"driver" yaml:"driver" split_words:"true"` // "memory" or "kafka"
	Brokers []string `json:"brokers,omitempty" yaml:"brokers" split_words:"true"`
	Topic   string   `json:"topic" yaml:"topic" split_words:"true"`
	GroupID string   `json:"group_id" yaml:"group_id" split_words:"true"`
}

// ProjectConfig seeds a project and its collaborators at startup.
type ProjectConfig struct {
	ID      string   `json:"id" yaml:"id"`
	Name    string   `json:"name" yaml:"name"`
	Owner   string   `json:"owner" yaml:"owner"`
	Members []string `json:"members,omitempty" yaml:"members"` // identities holding an accepted agreement
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:       ":9090",
			SendBuffer: 256,
			ReadLimit:  1 << 20,
		},
		Auth: AuthConfig{
			AdminUser: "admin",
			TokenTTL:  24 * time.Hour,
		},
		Store: StoreConfig{
			Driver: StoreSQLite,
			Path:   "./data/teamboard.db",
		},
		Relay: RelayConfig{
			Driver:  RelayMemory,
			Topic:   "teamboard.events",
			GroupID: "teamboard",
		},
		DataDir:  "./data",
		LogLevel: "info",
	}
}

// Load reads a YAML config file, applies TEAMBOARD_* environment overrides
// and validates the result. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case os.IsNotExist(err):
	default:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides cfg with TEAMBOARD_<SECTION>_<KEY> environment variables.
// Keys come from split_words rather than envconfig tags so that a bare tag
// never falls back to an unprefixed variable such as PATH.
func ApplyEnv(cfg *Config) error {
	sections := []struct {
		prefix string
		spec   any
	}{
		{"TEAMBOARD_SERVER", &cfg.Server},
		{"TEAMBOARD_AUTH", &cfg.Auth},
		{"TEAMBOARD_STORE", &cfg.Store},
		{"TEAMBOARD_RELAY", &cfg.Relay},
	}
	for _, s := range sections {
		if err := envconfig.Process(s.prefix, s.spec); err != nil {
			return fmt.Errorf("env %s: %w", s.prefix, err)
		}
	}
	if v, ok := os.LookupEnv("TEAMBOARD_LOG_LEVEL"); ok {
		cfg.LogLevel = v
	}
	if v, ok := os.LookupEnv("TEAMBOARD_DATA_DIR"); ok {
		cfg.DataDir = v
	}
	return nil
}

// Validate rejects configurations the daemon cannot start with.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case StoreMemory:
	case StoreSQLite:
		if c.Store.Path == "" {
			return fmt.Errorf("store: sqlite driver requires a path")
		}
	default:
		return fmt.Errorf("store: unknown driver %q", c.Store.Driver)
	}
	switch c.Relay.Driver {
	case RelayMemory:
	case RelayKafka:
		if len(c.Relay.Brokers) == 0 {
			return fmt.Errorf("relay: kafka driver requires brokers")
		}
		if c.Relay.Topic == "" {
			return fmt.Errorf("relay: kafka driver requires a topic")
		}
	default:
		return fmt.Errorf("relay: unknown driver %q", c.Relay.Driver)
	}
	seen := make(map[string]struct{}, len(c.Projects))
	for i, p := range c.Projects {
		if p.ID == "" {
			return fmt.Errorf("projects[%d]: id is required", i)
		}
		if _, dup := seen[p.ID]; dup {
			return fmt.Errorf("projects[%d]: duplicate id %q", i, p.ID)
		}
		seen[p.ID] = struct{}{}
		if p.Owner == "" {
			return fmt.Errorf("project %s: owner is required", p.ID)
		}
	}
	return nil
}
