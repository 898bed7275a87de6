package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/noflyroute/internal/db"
	"github.com/sells-group/noflyroute/internal/pipeline"
	"github.com/sells-group/noflyroute/internal/provider"
	"github.com/sells-group/noflyroute/internal/resilience"
)

// Config holds the full application configuration.
type Config struct {
	Provider ProviderConfig  `yaml:"provider" mapstructure:"provider"`
	Region   provider.Region `yaml:"region" mapstructure:"region"`
	Planner  PlannerConfig   `yaml:"planner" mapstructure:"planner"`
	Export   pipeline.Output `yaml:"export" mapstructure:"export"`
	Store    StoreConfig     `yaml:"store" mapstructure:"store"`
	Server   ServerConfig    `yaml:"server" mapstructure:"server"`
	Log      LogConfig       `yaml:"log" mapstructure:"log"`
}

// ProviderConfig selects where map data comes from.
type ProviderConfig struct {
	// Kind is "overpass" or "file".
	Kind     string                  `yaml:"kind" mapstructure:"kind"`
	Overpass provider.OverpassConfig `yaml:"overpass" mapstructure:"overpass"`
	// NetworkPath and ZonesPath are read by the file provider. An empty
	// ZonesPath plans without zones.
	NetworkPath string `yaml:"network_path" mapstructure:"network_path"`
	ZonesPath   string `yaml:"zones_path" mapstructure:"zones_path"`
	// CacheTTL keeps fetched maps in the store. Zero disables caching.
	CacheTTL time.Duration `yaml:"cache_ttl" mapstructure:"cache_ttl"`
}

// PlannerConfig holds planning defaults that flags and requests may override.
type PlannerConfig struct {
	Policy      string   `yaml:"policy" mapstructure:"policy"`
	Multiplier  float64  `yaml:"multiplier" mapstructure:"multiplier"`
	Categories  []string `yaml:"categories" mapstructure:"categories"`
	Origin      string   `yaml:"origin" mapstructure:"origin"`
	Destination string   `yaml:"destination" mapstructure:"destination"`
	// NoHeuristic forces plain Dijkstra.
	NoHeuristic bool `yaml:"no_heuristic" mapstructure:"no_heuristic"`
}

// StoreConfig configures run history and the map cache.
type StoreConfig struct {
	// Driver is "sqlite", "postgres", or "none".
	Driver      string        `yaml:"driver" mapstructure:"driver"`
	DSN         string        `yaml:"dsn" mapstructure:"dsn"`
	DatabaseURL string        `yaml:"database_url" mapstructure:"database_url"`
	Pool        db.PoolConfig `yaml:"pool" mapstructure:"pool"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port           int           `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string      `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	RequestTimeout time.Duration `yaml:"request_timeout" mapstructure:"request_timeout"`
	Metrics        bool          `yaml:"metrics" mapstructure:"metrics"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("NOFLY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	out := pipeline.DefaultOutput()
	retry := resilience.DefaultBackoff()
	v.SetDefault("provider.kind", "overpass")
	v.SetDefault("provider.overpass.url", provider.DefaultOverpassURL)
	v.SetDefault("provider.overpass.timeout", 3*time.Minute)
	v.SetDefault("provider.overpass.rate", 1.0)
	v.SetDefault("provider.overpass.user_agent", "noflyroute/1.0")
	v.SetDefault("provider.overpass.retry.attempts", retry.Attempts)
	v.SetDefault("provider.overpass.retry.initial", retry.Initial)
	v.SetDefault("provider.overpass.retry.max", retry.Max)
	v.SetDefault("provider.overpass.retry.factor", retry.Factor)
	v.SetDefault("provider.overpass.retry.jitter", retry.Jitter)
	v.SetDefault("provider.cache_ttl", provider.DefaultCacheTTL)
	v.SetDefault("region.name", provider.DefaultRegion)
	v.SetDefault("planner.policy", "exclude")
	v.SetDefault("planner.multiplier", 10.0)
	v.SetDefault("export.dir", out.Dir)
	v.SetDefault("export.zones_name", out.ZonesName)
	v.SetDefault("export.route_name", out.RouteName)
	v.SetDefault("export.format", string(out.Format))
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.dsn", "noflyroute.db")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout", 30*time.Second)
	v.SetDefault("server.metrics", true)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks enumerated settings before any command runs.
func (c *Config) Validate() error {
	switch c.Provider.Kind {
	case "overpass":
	case "file":
		if c.Provider.NetworkPath == "" {
			return eris.New("config: file provider needs provider.network_path")
		}
	default:
		return eris.Errorf("config: unknown provider.kind %q (valid: overpass, file)", c.Provider.Kind)
	}
	switch c.Store.Driver {
	case "sqlite", "none":
	case "postgres":
		if c.Store.DatabaseURL == "" {
			return eris.New("config: postgres store needs store.database_url")
		}
	default:
		return eris.Errorf("config: unknown store.driver %q (valid: sqlite, postgres, none)", c.Store.Driver)
	}
	if _, err := pipeline.ParseFormat(string(c.Export.Format)); err != nil {
		return eris.Wrap(err, "config: export.format")
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}

	zap.ReplaceGlobals(logger)
	return nil
}
