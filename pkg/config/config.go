// Package config loads NestHome configuration from a YAML file and the
// environment.
//
// Values are layered: built-in defaults, then the optional YAML file, then
// environment variables prefixed with NESTHOME_. Each layer only overrides
// what it sets.
//
// Example Usage:
//
//	cfg, err := config.Load("nesthome.yaml")
//	if err != nil {
//		log.Fatalf("Invalid config: %v", err)
//	}
//	logger, closeLog, err := cfg.Logging.NewLogger()
//
// Environment Variables:
//   - NESTHOME_DATABASE_DATA_DIR="./data"
//   - NESTHOME_DATABASE_IN_MEMORY=false
//   - NESTHOME_SERVER_ADDRESS="127.0.0.1"
//   - NESTHOME_SERVER_PORT=8088
//   - NESTHOME_AUTH_ENABLED=true
//   - NESTHOME_AUTH_JWT_SECRET="..."
//   - NESTHOME_HOUSEHOLD_TIME_ZONE="Europe/Berlin"
//   - NESTHOME_NOTIFY_KAFKA_BROKERS="kafka-1:9092,kafka-2:9092"
//   - NESTHOME_LOG_LEVEL=debug
//
// For a complete list, see the struct tags below.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/captian-latiao/NestStupidHome-sub000/pkg/cycle"
	"github.com/captian-latiao/NestStupidHome-sub000/pkg/household"
)

// EnvPrefix prefixes every environment variable read by ApplyEnv.
const EnvPrefix = "NESTHOME_"

// Config holds all NestHome configuration.
//
// Configuration is organized into sections:
//   - Database: storage engine settings
//   - Server: HTTP API settings
//   - Auth: passphrases and tokens
//   - Household: defaults for new households and the learning engine
//   - Notify: alert sinks
//   - Audit: the activity journal
//   - Logging: log level, format and destination
type Config struct {
	Database  DatabaseConfig  `yaml:"database" envPrefix:"DATABASE_"`
	Server    ServerConfig    `yaml:"server" envPrefix:"SERVER_"`
	Auth      AuthConfig      `yaml:"auth" envPrefix:"AUTH_"`
	Household HouseholdConfig `yaml:"household" envPrefix:"HOUSEHOLD_"`
	Notify    NotifyConfig    `yaml:"notify" envPrefix:"NOTIFY_"`
	Audit     AuditConfig     `yaml:"audit" envPrefix:"AUDIT_"`
	Logging   LoggingConfig   `yaml:"logging" envPrefix:"LOG_"`
}

// DatabaseConfig holds storage settings.
type DatabaseConfig struct {
	// DataDir is the badger directory. Ignored when InMemory is set.
	DataDir string `yaml:"data_dir" env:"DATA_DIR"`
	// InMemory keeps everything in RAM. Data is lost on exit.
	InMemory bool `yaml:"in_memory" env:"IN_MEMORY"`
	// SyncWrites fsyncs every write.
	SyncWrites bool `yaml:"sync_writes" env:"SYNC_WRITES"`
	// LowMemory shrinks badger's caches and memtables.
	LowMemory bool `yaml:"low_memory" env:"LOW_MEMORY"`
	// GCInterval is how often the server reclaims value log space. 0 = never.
	GCInterval time.Duration `yaml:"gc_interval" env:"GC_INTERVAL"`
}

// ServerConfig holds HTTP API settings.
type ServerConfig struct {
	Address         string        `yaml:"address" env:"ADDRESS"`
	Port            int           `yaml:"port" env:"PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	MaxRequestSize  int64         `yaml:"max_request_size" env:"MAX_REQUEST_SIZE"`

	// CORS
	EnableCORS  bool     `yaml:"enable_cors" env:"ENABLE_CORS"`
	CORSOrigins []string `yaml:"cors_origins" env:"CORS_ORIGINS" envSeparator:","`

	EnableMetrics bool `yaml:"enable_metrics" env:"ENABLE_METRICS"`
	// AllowClockControl exposes POST /admin/clock/advance.
	AllowClockControl bool `yaml:"allow_clock_control" env:"ALLOW_CLOCK_CONTROL"`
}

// AuthConfig holds authentication settings.
type AuthConfig struct {
	// Enabled=false resolves every request to DefaultHousehold.
	Enabled           bool          `yaml:"enabled" env:"ENABLED"`
	JWTSecret         string        `yaml:"jwt_secret" env:"JWT_SECRET"`
	TokenExpiry       time.Duration `yaml:"token_expiry" env:"TOKEN_EXPIRY"`
	MinPasswordLength int           `yaml:"min_password_length" env:"MIN_PASSWORD_LENGTH"`
	MaxFailedLogins   int           `yaml:"max_failed_logins" env:"MAX_FAILED_LOGINS"`
	LockoutDuration   time.Duration `yaml:"lockout_duration" env:"LOCKOUT_DURATION"`
	DefaultHousehold  string        `yaml:"default_household" env:"DEFAULT_HOUSEHOLD"`
}

// HouseholdConfig holds defaults for new households and the learning
// engine.
type HouseholdConfig struct {
	DefaultName string  `yaml:"default_name" env:"DEFAULT_NAME"`
	TimeZone    string  `yaml:"time_zone" env:"TIME_ZONE"`
	Capacity    float64 `yaml:"capacity" env:"CAPACITY"`
	Rate        float64 `yaml:"rate" env:"RATE"`

	// Learning band and smoothing. See cycle.Config.
	LowerBand       float64 `yaml:"lower_band" env:"LOWER_BAND"`
	UpperBand       float64 `yaml:"upper_band" env:"UPPER_BAND"`
	SmoothingWeight float64 `yaml:"smoothing_weight" env:"SMOOTHING_WEIGHT"`
	HistoryDays     int     `yaml:"history_days" env:"HISTORY_DAYS"`
	TrendDays       int     `yaml:"trend_days" env:"TREND_DAYS"`

	// ClockOffset starts the virtual clock shifted from wall time.
	ClockOffset time.Duration `yaml:"clock_offset" env:"CLOCK_OFFSET"`
}

// NotifyConfig holds alert sink settings.
type NotifyConfig struct {
	// RepeatInterval suppresses repeats of the same alert. 0 = alert once.
	RepeatInterval time.Duration `yaml:"repeat_interval" env:"REPEAT_INTERVAL"`
	// Timeout bounds one delivery across all sinks.
	Timeout      time.Duration `yaml:"timeout" env:"TIMEOUT"`
	Log          bool          `yaml:"log" env:"LOG"`
	Desktop      bool          `yaml:"desktop" env:"DESKTOP"`
	AppIcon      string        `yaml:"app_icon" env:"APP_ICON"`
	KafkaBrokers []string      `yaml:"kafka_brokers" env:"KAFKA_BROKERS" envSeparator:","`
	KafkaTopic   string        `yaml:"kafka_topic" env:"KAFKA_TOPIC"`
}

// AuditConfig holds activity journal settings.
type AuditConfig struct {
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// LogPath defaults to activity.log inside the data directory.
	LogPath    string `yaml:"log_path" env:"LOG_PATH"`
	SyncWrites bool   `yaml:"sync_writes" env:"SYNC_WRITES"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`   // debug, info, warn, error
	Format string `yaml:"format" env:"FORMAT"` // json, text
	Output string `yaml:"output" env:"OUTPUT"` // stdout, stderr, file path
}

// Default returns the built-in configuration.
func Default() *Config {
	cycleDefaults := cycle.DefaultConfig()
	return &Config{
		Database: DatabaseConfig{
			DataDir:    "./data",
			LowMemory:  true,
			GCInterval: 10 * time.Minute,
		},
		Server: ServerConfig{
			Address:         "127.0.0.1",
			Port:            8088,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			MaxRequestSize:  1 << 20,
			EnableCORS:      false,
			CORSOrigins:     []string{"*"},
			EnableMetrics:   true,
		},
		Auth: AuthConfig{
			Enabled:           true,
			TokenExpiry:       30 * 24 * time.Hour,
			MinPasswordLength: 8,
			MaxFailedLogins:   5,
			LockoutDuration:   15 * time.Minute,
			DefaultHousehold:  "home",
		},
		Household: HouseholdConfig{
			DefaultName:     "Home",
			TimeZone:        household.DefaultTimeZone,
			Capacity:        household.DefaultCapacity,
			Rate:            household.DefaultRate,
			LowerBand:       cycleDefaults.LowerBand,
			UpperBand:       cycleDefaults.UpperBand,
			SmoothingWeight: cycleDefaults.SmoothingWeight,
			HistoryDays:     cycleDefaults.HistoryDays,
			TrendDays:       7,
		},
		Notify: NotifyConfig{
			RepeatInterval: 6 * time.Hour,
			Timeout:        5 * time.Second,
			Log:            true,
			KafkaTopic:     "nesthome.alerts",
		},
		Audit: AuditConfig{
			Enabled: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
	}
}

// LoadFile reads a YAML file over the defaults.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv overrides fields from NESTHOME_* environment variables.
func (c *Config) ApplyEnv() error {
	if err := env.ParseWithOptions(c, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Load builds the effective configuration: defaults, then the file at path
// if path is not empty, then the environment. The result is validated.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		var err error
		if cfg, err = LoadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if !c.Database.InMemory && c.Database.DataDir == "" {
		return errors.New("data directory required unless in_memory is set")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Auth.Enabled && len(c.Auth.JWTSecret) < 32 {
		return errors.New("auth enabled but jwt_secret is shorter than 32 characters")
	}
	if !c.Auth.Enabled && c.Auth.DefaultHousehold == "" {
		return errors.New("auth disabled but no default_household provided")
	}
	if c.Household.Capacity <= 0 {
		return fmt.Errorf("invalid tank capacity: %g", c.Household.Capacity)
	}
	if c.Household.Rate <= 0 {
		return fmt.Errorf("invalid default rate: %g", c.Household.Rate)
	}
	if c.Household.LowerBand <= 0 || c.Household.LowerBand >= 1 || c.Household.UpperBand <= 1 {
		return fmt.Errorf("invalid learning band: %g-%g", c.Household.LowerBand, c.Household.UpperBand)
	}
	if c.Household.SmoothingWeight <= 0 || c.Household.SmoothingWeight > 1 {
		return fmt.Errorf("invalid smoothing weight: %g", c.Household.SmoothingWeight)
	}
	if _, err := time.LoadLocation(c.Household.TimeZone); err != nil {
		return fmt.Errorf("invalid time zone %q: %w", c.Household.TimeZone, err)
	}
	if len(c.Notify.KafkaBrokers) > 0 && c.Notify.KafkaTopic == "" {
		return errors.New("kafka brokers set but no kafka_topic provided")
	}
	if _, err := ParseLevel(c.Logging.Level); err != nil {
		return err
	}
	switch c.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("invalid log format: %q", c.Logging.Format)
	}
	return nil
}

// AuditPath returns the journal location, or "" when there is none.
// In-memory databases keep no journal unless a path is given.
func (c *Config) AuditPath() string {
	if !c.Audit.Enabled {
		return ""
	}
	if c.Audit.LogPath != "" {
		return c.Audit.LogPath
	}
	if c.Database.InMemory || c.Database.DataDir == "" {
		return ""
	}
	return filepath.Join(c.Database.DataDir, "activity.log")
}

// Cycle returns the learning engine configuration.
func (c *Config) Cycle() *cycle.Config {
	cc := cycle.DefaultConfig()
	cc.LowerBand = c.Household.LowerBand
	cc.UpperBand = c.Household.UpperBand
	cc.SmoothingWeight = c.Household.SmoothingWeight
	if c.Household.HistoryDays > 0 {
		cc.HistoryDays = c.Household.HistoryDays
	}
	cc.DefaultRate = c.Household.Rate
	return cc
}

// String returns a representation of the Config that is safe to log.
// The JWT secret is never included.
func (c *Config) String() string {
	db := c.Database.DataDir
	if c.Database.InMemory {
		db = "memory"
	}
	return fmt.Sprintf(
		"Config{Auth: %v, HTTP: %s:%d, Data: %s, TZ: %s, Kafka: %d brokers}",
		c.Auth.Enabled,
		c.Server.Address, c.Server.Port,
		db,
		c.Household.TimeZone,
		len(c.Notify.KafkaBrokers),
	)
}
