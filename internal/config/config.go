// Package config provides Viper-based configuration loading for the session server.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	Level string `mapstructure:"level"`
	// Format is the log output format: "json" or "console".
	Format string `mapstructure:"format"`
}

// ListenerConfig holds line-protocol TCP listener settings.
type ListenerConfig struct {
	// Host is the bind address for the listener.
	Host string `mapstructure:"host"`
	// Port is the TCP port for the listener.
	Port int `mapstructure:"port"`
	// ReadTimeout is the per-line read timeout for client connections.
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	// WriteTimeout is the per-line write timeout for client connections.
	// It bounds a hung recipient; the dispatcher never waits on it.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// OutboxSize is the number of encoded lines buffered per session.
	OutboxSize int `mapstructure:"outbox_size"`
}

// Addr returns the "host:port" listen address.
//
// Postcondition: Returns a non-empty string in "host:port" format.
func (l ListenerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", l.Host, l.Port)
}

// BroadcastConfig holds dispatcher settings.
type BroadcastConfig struct {
	// Workers bounds the number of concurrent sends within one broadcast.
	Workers int `mapstructure:"workers"`
	// RangeRadius is the Chebyshev radius used for range-scoped delivery.
	RangeRadius int `mapstructure:"range_radius"`
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// DSN returns the PostgreSQL connection string.
//
// Precondition: Host, Port, User, and Name must be non-empty.
// Postcondition: Returns a valid PostgreSQL DSN string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode,
	)
}

// RedisConfig holds settings for the cross-node broadcast relay.
type RedisConfig struct {
	// Enabled turns the relay on. A single-node server leaves it off.
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	// Channel is the pub/sub channel shared by every node of one world.
	Channel string `mapstructure:"channel"`
}

// AdminConfig holds the health and metrics endpoints.
type AdminConfig struct {
	GRPCHost    string `mapstructure:"grpc_host"`
	GRPCPort    int    `mapstructure:"grpc_port"`
	MetricsHost string `mapstructure:"metrics_host"`
	MetricsPort int    `mapstructure:"metrics_port"`
}

// GRPCAddr returns the "host:port" address of the gRPC health service.
func (a AdminConfig) GRPCAddr() string {
	return fmt.Sprintf("%s:%d", a.GRPCHost, a.GRPCPort)
}

// MetricsAddr returns the "host:port" address of the Prometheus endpoint.
func (a AdminConfig) MetricsAddr() string {
	return fmt.Sprintf("%s:%d", a.MetricsHost, a.MetricsPort)
}

// Config is the top-level application configuration.
type Config struct {
	Logging   LoggingConfig   `mapstructure:"logging"`
	Listener  ListenerConfig  `mapstructure:"listener"`
	Broadcast BroadcastConfig `mapstructure:"broadcast"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Admin     AdminConfig     `mapstructure:"admin"`
}

// Validate checks all configuration invariants.
//
// Postcondition: Returns nil if configuration is valid, or an error describing all violations.
func (c Config) Validate() error {
	var errs []string

	validators := []func() error{
		func() error { return validateLogging(c.Logging) },
		func() error { return validateListener(c.Listener) },
		func() error { return validateBroadcast(c.Broadcast) },
		func() error { return validateDatabase(c.Database) },
		func() error { return validateRedis(c.Redis) },
		func() error { return validateAdmin(c.Admin) },
	}
	for _, v := range validators {
		if err := v(); err != nil {
			errs = append(errs, err.Error())
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func validateLogging(l LoggingConfig) error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[l.Level] {
		return fmt.Errorf("logging.level must be one of [debug, info, warn, error], got %q", l.Level)
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("logging.format must be one of [json, console], got %q", l.Format)
	}
	return nil
}

func validateListener(l ListenerConfig) error {
	var errs []string
	if !validPort(l.Port) {
		errs = append(errs, fmt.Sprintf("listener.port must be 1-65535, got %d", l.Port))
	}
	if l.ReadTimeout < 0 {
		errs = append(errs, "listener.read_timeout must not be negative")
	}
	if l.WriteTimeout < 0 {
		errs = append(errs, "listener.write_timeout must not be negative")
	}
	if l.OutboxSize < 1 {
		errs = append(errs, fmt.Sprintf("listener.outbox_size must be >= 1, got %d", l.OutboxSize))
	}
	return joinErrs(errs)
}

func validateBroadcast(b BroadcastConfig) error {
	var errs []string
	if b.Workers < 1 {
		errs = append(errs, fmt.Sprintf("broadcast.workers must be >= 1, got %d", b.Workers))
	}
	if b.RangeRadius < 0 {
		errs = append(errs, fmt.Sprintf("broadcast.range_radius must be >= 0, got %d", b.RangeRadius))
	}
	return joinErrs(errs)
}

func validateDatabase(d DatabaseConfig) error {
	var errs []string
	if d.Host == "" {
		errs = append(errs, "database.host must not be empty")
	}
	if !validPort(d.Port) {
		errs = append(errs, fmt.Sprintf("database.port must be 1-65535, got %d", d.Port))
	}
	if d.User == "" {
		errs = append(errs, "database.user must not be empty")
	}
	if d.Name == "" {
		errs = append(errs, "database.name must not be empty")
	}
	validSSL := map[string]bool{"disable": true, "require": true, "verify-ca": true, "verify-full": true}
	if !validSSL[d.SSLMode] {
		errs = append(errs, fmt.Sprintf("database.sslmode must be one of [disable, require, verify-ca, verify-full], got %q", d.SSLMode))
	}
	if d.MaxConns < 1 {
		errs = append(errs, fmt.Sprintf("database.max_conns must be >= 1, got %d", d.MaxConns))
	}
	if d.MinConns < 0 {
		errs = append(errs, fmt.Sprintf("database.min_conns must be >= 0, got %d", d.MinConns))
	}
	if d.MinConns > d.MaxConns {
		errs = append(errs, "database.min_conns must not exceed database.max_conns")
	}
	return joinErrs(errs)
}

func validateRedis(r RedisConfig) error {
	if !r.Enabled {
		return nil
	}
	var errs []string
	if r.Addr == "" {
		errs = append(errs, "redis.addr must not be empty when redis.enabled is set")
	}
	if r.Channel == "" {
		errs = append(errs, "redis.channel must not be empty when redis.enabled is set")
	}
	if r.DB < 0 {
		errs = append(errs, fmt.Sprintf("redis.db must be >= 0, got %d", r.DB))
	}
	return joinErrs(errs)
}

func validateAdmin(a AdminConfig) error {
	var errs []string
	if a.GRPCHost == "" {
		errs = append(errs, "admin.grpc_host must not be empty")
	}
	if !validPort(a.GRPCPort) {
		errs = append(errs, fmt.Sprintf("admin.grpc_port must be 1-65535, got %d", a.GRPCPort))
	}
	if !validPort(a.MetricsPort) {
		errs = append(errs, fmt.Sprintf("admin.metrics_port must be 1-65535, got %d", a.MetricsPort))
	}
	return joinErrs(errs)
}

func validPort(p int) bool {
	return p >= 1 && p <= 65535
}

func joinErrs(errs []string) error {
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%s", strings.Join(errs, "; "))
}

// Load reads configuration from the given file path, applies environment variable
// overrides, and validates the result.
//
// Precondition: path must be a valid file path to a YAML configuration file.
// Postcondition: Returns a valid Config or a non-nil error.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	// Environment variable overrides with MUD_ prefix
	v.SetEnvPrefix("MUD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}
	return LoadFromViper(v)
}

// LoadFromViper builds a Config from an already-configured Viper instance.
//
// Precondition: v must be non-nil and have configuration values set.
// Postcondition: Returns a valid Config or a non-nil error.
func LoadFromViper(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshalling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Defaults returns a Viper instance holding only the built-in defaults.
func Defaults() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	return v
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("listener.host", "0.0.0.0")
	v.SetDefault("listener.port", 4000)
	v.SetDefault("listener.read_timeout", "5m")
	v.SetDefault("listener.write_timeout", "10s")
	v.SetDefault("listener.outbox_size", 256)

	v.SetDefault("broadcast.workers", 32)
	v.SetDefault("broadcast.range_radius", 50)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "mud")
	v.SetDefault("database.password", "mud")
	v.SetDefault("database.name", "mud")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.max_conn_lifetime", "1h")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.channel", "mud:broadcast")

	v.SetDefault("admin.grpc_host", "127.0.0.1")
	v.SetDefault("admin.grpc_port", 50051)
	v.SetDefault("admin.metrics_host", "0.0.0.0")
	v.SetDefault("admin.metrics_port", 9100)
}
