// Package config loads dropmail-reaper settings from flags, the environment
// and an optional .env file.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable, e.g. DROPMAIL_STORE_DRIVER.
const EnvPrefix = "DROPMAIL"

// Supported store drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMongo    = "mongo"
)

var drivers = []string{DriverMemory, DriverSQLite, DriverPostgres, DriverMongo}

// StoreConfig selects and configures the storage backend.
type StoreConfig struct {
	Driver   string        // memory, sqlite, postgres or mongo
	DSN      string        // file path (sqlite) or connection URI
	Database string        // MongoDB database name
	Timeout  time.Duration // per-call backend timeout
}

// RedisConfig configures the optional Redis connection shared by the read
// cache and the event transport.
type RedisConfig struct {
	Addr     string // host:port; empty disables Redis
	Password string
	DB       int
}

// CacheConfig configures the Redis read cache.
type CacheConfig struct {
	Enabled bool
	TTL     time.Duration
}

// MailConfig holds the expiry policy.
type MailConfig struct {
	Retention     time.Duration
	SweepInterval time.Duration
}

// LogConfig configures the slog handler.
type LogConfig struct {
	Level  string // debug, info, warn or error
	Format string // json or text
}

// Config is the root configuration.
type Config struct {
	Store           StoreConfig
	Redis           RedisConfig
	Cache           CacheConfig
	Mail            MailConfig
	Log             LogConfig
	ServiceName     string
	EventsToRedis   bool // publish service events to Redis Streams
	ConnectAttempts int  // attempts to connect the backend at startup
	Once            bool // run one sweep and exit
}

// Load parses args (without the program name) and builds the configuration.
//
// Precedence from highest to lowest: command-line flags, environment
// variables, the .env file named by --env-file, built-in defaults.
func Load(args []string) (*Config, error) {
	flags := pflag.NewFlagSet("dropmail-reaper", pflag.ContinueOnError)
	flags.SetOutput(io.Discard)
	envFile := flags.String("env-file", ".env", "optional dotenv file")
	registerFlags(flags)
	if err := flags.Parse(args); err != nil {
		return nil, fmt.Errorf("parse flags: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(flags); err != nil {
		return nil, fmt.Errorf("bind flags: %w", err)
	}

	if err := loadEnvFile(v, *envFile); err != nil {
		return nil, err
	}

	cfg := &Config{
		Store: StoreConfig{
			Driver:   strings.ToLower(strings.TrimSpace(v.GetString("store.driver"))),
			DSN:      v.GetString("store.dsn"),
			Database: v.GetString("store.database"),
			Timeout:  v.GetDuration("store.timeout"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Cache: CacheConfig{
			Enabled: v.GetBool("cache.enabled"),
			TTL:     v.GetDuration("cache.ttl"),
		},
		Mail: MailConfig{
			Retention:     v.GetDuration("mail.retention"),
			SweepInterval: v.GetDuration("mail.sweep_interval"),
		},
		Log: LogConfig{
			Level:  strings.ToLower(v.GetString("log.level")),
			Format: strings.ToLower(v.GetString("log.format")),
		},
		ServiceName:     v.GetString("service_name"),
		EventsToRedis:   v.GetBool("events.redis"),
		ConnectAttempts: v.GetInt("connect_attempts"),
		Once:            v.GetBool("once"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// registerFlags declares every setting. Flag defaults are the built-in defaults.
func registerFlags(flags *pflag.FlagSet) {
	flags.String("store.driver", DriverSQLite, "storage backend: memory, sqlite, postgres or mongo")
	flags.String("store.dsn", "dropmail.db", "sqlite file path or backend connection URI")
	flags.String("store.database", "dropmail", "MongoDB database name")
	flags.Duration("store.timeout", 10*time.Second, "per-call backend timeout")

	flags.String("redis.addr", "", "Redis address (host:port); empty disables Redis")
	flags.String("redis.password", "", "Redis password")
	flags.Int("redis.db", 0, "Redis database number")

	flags.Bool("cache.enabled", false, "cache inbox details in Redis")
	flags.Duration("cache.ttl", 10*time.Minute, "upper bound for cached entries")

	flags.Duration("mail.retention", 72*time.Hour, "how long emails stay visible")
	flags.Duration("mail.sweep_interval", 2*time.Hour, "time between sweeps")

	flags.String("log.level", "info", "log level: debug, info, warn or error")
	flags.String("log.format", "json", "log format: json or text")

	flags.String("service_name", "dropmail", "name used for telemetry and the event bus")
	flags.Bool("events.redis", false, "publish service events to Redis Streams")
	flags.Int("connect_attempts", 5, "attempts to connect the backend at startup")
	flags.Bool("once", false, "run a single sweep and exit")
}

// loadEnvFile reads a dotenv file without touching the process environment.
// Values become viper defaults, so real environment variables and flags win.
// A missing file is not an error.
func loadEnvFile(v *viper.Viper, path string) error {
	if path == "" {
		return nil
	}
	values, err := godotenv.Read(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read env file %s: %w", path, err)
	}
	for _, key := range v.AllKeys() {
		if val, ok := values[EnvName(key)]; ok {
			v.SetDefault(key, val)
		}
	}
	return nil
}

// EnvName returns the environment variable for a config key,
// e.g. "store.driver" becomes DROPMAIL_STORE_DRIVER.
func EnvName(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.NewReplacer(".", "_", "-", "_").Replace(key))
}

// Validate checks the configuration for unusable values.
func (c *Config) Validate() error {
	var errs []error
	if !slices.Contains(drivers, c.Store.Driver) {
		errs = append(errs, fmt.Errorf("store.driver %q: must be one of %s", c.Store.Driver, strings.Join(drivers, ", ")))
	}
	if c.Store.Driver != DriverMemory && c.Store.DSN == "" {
		errs = append(errs, errors.New("store.dsn is required"))
	}
	if c.Store.Timeout <= 0 {
		errs = append(errs, errors.New("store.timeout must be positive"))
	}
	if c.Mail.Retention <= 0 {
		errs = append(errs, errors.New("mail.retention must be positive"))
	}
	if !c.Once && c.Mail.SweepInterval <= 0 {
		errs = append(errs, errors.New("mail.sweep_interval must be positive"))
	}
	if (c.Cache.Enabled || c.EventsToRedis) && c.Redis.Addr == "" {
		errs = append(errs, errors.New("redis.addr is required for the cache and Redis events"))
	}
	if c.ConnectAttempts < 1 {
		errs = append(errs, errors.New("connect_attempts must be at least 1"))
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		errs = append(errs, fmt.Errorf("log.format %q: must be json or text", c.Log.Format))
	}
	return errors.Join(errs...)
}

// SlogLevel parses the configured level.
func (l LogConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("log.level %q: %w", l.Level, err)
	}
	return level, nil
}

// Logger builds a slog logger writing to w.
func (l LogConfig) Logger(w io.Writer) *slog.Logger {
	level, err := l.SlogLevel()
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if l.Format == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}
