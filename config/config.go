// Package config loads process configuration from the environment,
// an optional .env file, and an optional YAML file.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverMongo    = "mongo"
	DriverPostgres = "postgres"
)

var (
	ErrUnknownDriver      = errors.New("config: unknown store driver")
	ErrMissingMongoURL    = errors.New("config: MONGODB_URL is required for the mongo driver")
	ErrMissingDatabaseURL = errors.New("config: DATABASE_URL is required for the postgres driver")
)

// Config holds application configuration.
type Config struct {
	ListenAddr     string        `yaml:"listen_addr" env:"LISTEN_ADDR" envDefault:":8080"`
	StoreDriver    string        `yaml:"store_driver" env:"STORE_DRIVER" envDefault:"memory"`
	MongoURL       string        `yaml:"mongodb_url" env:"MONGODB_URL"`
	MongoDatabase  string        `yaml:"mongodb_database" env:"MONGODB_DATABASE" envDefault:"videogallery"`
	DatabaseURL    string        `yaml:"database_url" env:"DATABASE_URL"`
	RedisURL       string        `yaml:"redis_url" env:"REDIS_URL"`
	CacheTTL       time.Duration `yaml:"cache_ttl" env:"CACHE_TTL" envDefault:"30s"`
	AWSRegion      string        `yaml:"aws_region" env:"AWS_REGION" envDefault:"us-east-1"`
	ProbeEnabled   bool          `yaml:"probe_enabled" env:"PROBE_ENABLED" envDefault:"false"`
	ProbeInterval  time.Duration `yaml:"probe_interval" env:"PROBE_INTERVAL" envDefault:"1m"`
	ProbeTimeout   time.Duration `yaml:"probe_timeout" env:"PROBE_TIMEOUT" envDefault:"10s"`
	LogLevel       string        `yaml:"log_level" env:"LOG_LEVEL" envDefault:"info"`
	LogFormat      string        `yaml:"log_format" env:"LOG_FORMAT" envDefault:"text"`
	AllowedOrigins []string      `yaml:"allowed_origins" env:"ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost:3000,http://localhost:5173"`
	SendBuffer     int           `yaml:"send_buffer" env:"WS_SEND_BUFFER" envDefault:"64"`
	DefaultChannel string        `yaml:"default_channel" env:"DEFAULT_CHANNEL" envDefault:"default"`
}

// Load builds config from the environment, reading .env first when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	c := &Config{}
	if err := env.Parse(c); err != nil {
		return nil, fmt.Errorf("config: parse env: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// LoadFromFile parses the environment and then overlays the YAML file at path.
// Keys present in the file win over the environment.
func LoadFromFile(path string) (*Config, error) {
	_ = godotenv.Load()

	c := &Config{}
	if err := env.Parse(c); err != nil {
		return nil, fmt.Errorf("config: parse env: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks that the selected driver has what it needs.
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case DriverMemory:
	case DriverMongo:
		if c.MongoURL == "" {
			return ErrMissingMongoURL
		}
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return ErrMissingDatabaseURL
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownDriver, c.StoreDriver)
	}
	if c.SendBuffer < 1 {
		c.SendBuffer = 1
	}
	return nil
}
