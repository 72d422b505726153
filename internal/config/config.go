// Package config loads mailroom configuration from YAML with environment
// variable overrides and hot reload of the forwarding rule set.
package config

import (
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/mailroom-io/mailroom/internal/blobstore"
	"github.com/mailroom-io/mailroom/internal/cache"
	"github.com/mailroom-io/mailroom/internal/forward"
	"github.com/mailroom-io/mailroom/internal/index"
)

// Config is the application configuration.
type Config struct {
	App        AppConfig         `mapstructure:"app"`
	Server     ServerConfig      `mapstructure:"server"`
	Blob       blobstore.Config  `mapstructure:"blob"`
	Index      index.Config      `mapstructure:"index"`
	Redis      cache.RedisConfig `mapstructure:"redis"`
	Pipeline   PipelineConfig    `mapstructure:"pipeline"`
	Forwarding ForwardingConfig  `mapstructure:"forwarding"`
	Sweeper    SweeperConfig     `mapstructure:"sweeper"`
}

type AppConfig struct {
	Name   string `mapstructure:"name"`
	Env    string `mapstructure:"env"`
	Domain string `mapstructure:"domain"`
	Debug  bool   `mapstructure:"debug"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type PipelineConfig struct {
	DedupTTL         time.Duration `mapstructure:"dedup_ttl"`
	ManifestCacheTTL time.Duration `mapstructure:"manifest_cache_ttl"`
}

// ForwardingConfig carries the ordered rule list and the transport used to
// deliver matches.
type ForwardingConfig struct {
	Transport string             `mapstructure:"transport"` // "ses", "smtp", "none"
	Region    string             `mapstructure:"region"`
	Endpoint  string             `mapstructure:"endpoint"`
	SMTP      forward.SMTPConfig `mapstructure:"smtp"`
	Rules     []RuleConfig       `mapstructure:"rules"`
}

type RuleConfig struct {
	Pattern   string `mapstructure:"pattern"`
	ForwardTo string `mapstructure:"forward_to"`
}

type SweeperConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Schedule string `mapstructure:"schedule"`
}

// CompiledRules validates and compiles the forwarding rule list.
func (f ForwardingConfig) CompiledRules() ([]forward.Rule, error) {
	rules := make([]forward.Rule, 0, len(f.Rules))
	for _, r := range f.Rules {
		rules = append(rules, forward.Rule{Pattern: r.Pattern, ForwardTo: r.ForwardTo})
	}
	return forward.CompileRules(rules)
}

// Addr returns the server listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Loader owns the viper instance so rule reloads can re-unmarshal.
type Loader struct {
	v      *viper.Viper
	logger *log.Logger

	mu  sync.RWMutex
	cfg *Config
}

// Load reads configuration from configPath (optional, "" means defaults plus
// environment only) and applies MAILROOM_ environment overrides.
func Load(configPath string, logger *log.Logger) (*Loader, error) {
	if logger == nil {
		logger = log.Default()
	}
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", configPath, err)
		}
	}

	v.SetEnvPrefix("MAILROOM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return &Loader{v: v, logger: logger, cfg: cfg}, nil
}

// Get returns the current configuration snapshot.
func (l *Loader) Get() *Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cfg
}

// WatchForwarding reloads the forwarding rule set when the config file
// changes and hands the compiled rules to onReload. Other sections are
// fixed for the process lifetime: stores and servers are built once.
func (l *Loader) WatchForwarding(onReload func([]forward.Rule)) {
	l.v.OnConfigChange(func(e fsnotify.Event) {
		l.logger.Printf("config: %s changed, reloading forwarding rules", e.Name)

		newCfg := &Config{}
		if err := l.v.Unmarshal(newCfg); err != nil {
			l.logger.Printf("config: reload failed, keeping previous rules: %v", err)
			return
		}
		rules, err := newCfg.Forwarding.CompiledRules()
		if err != nil {
			l.logger.Printf("config: reload rejected, keeping previous rules: %v", err)
			return
		}

		l.mu.Lock()
		l.cfg.Forwarding = newCfg.Forwarding
		l.mu.Unlock()

		onReload(rules)
		l.logger.Printf("config: forwarding rules reloaded (%d rules)", len(rules))
	})
	l.v.WatchConfig()
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "mailroom")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.domain", "")
	v.SetDefault("app.debug", false)

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("blob.backend", "filesystem")
	v.SetDefault("blob.base_path", "./data/blobs")

	v.SetDefault("index.backend", "memory")
	v.SetDefault("index.table", "mailroom_messages")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.key_prefix", "mailroom:")
	v.SetDefault("redis.timeout", 2*time.Second)

	v.SetDefault("pipeline.dedup_ttl", 24*time.Hour)
	v.SetDefault("pipeline.manifest_cache_ttl", time.Minute)

	v.SetDefault("forwarding.transport", "none")

	v.SetDefault("sweeper.enabled", false)
	v.SetDefault("sweeper.schedule", "30 3 * * *")
}

func validate(cfg *Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("config: invalid server port %d", cfg.Server.Port)
	}
	switch cfg.Forwarding.Transport {
	case "", "none", "ses", "smtp":
	default:
		return fmt.Errorf("config: unknown forwarding transport %q", cfg.Forwarding.Transport)
	}
	if _, err := cfg.Forwarding.CompiledRules(); err != nil {
		return err
	}
	return nil
}
