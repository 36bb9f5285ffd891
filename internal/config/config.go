package config

import (
	"bytes"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes environment overrides, e.g. TSCORE_SERVER_PORT.
const EnvPrefix = "TSCORE"

// Config holds all configuration for our application
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Database  DatabaseConfig  `mapstructure:"database"`
	S3        S3Config        `mapstructure:"s3"`
	Events    EventsConfig    `mapstructure:"events"`
	Ingest    IngestConfig    `mapstructure:"ingest"`
	Retention RetentionConfig `mapstructure:"retention"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	Host           string        `mapstructure:"host"`
	MetricsPort    int           `mapstructure:"metrics_port"`
	CacheSize      int           `mapstructure:"cache_size"`
	RateLimit      float64       `mapstructure:"rate_limit"`
	RateLimitBurst int           `mapstructure:"rate_limit_burst"`
	MaxTimeRange   time.Duration `mapstructure:"max_time_range"`
}

// StorageConfig selects the backend: memory, postgres, badger or s3.
type StorageConfig struct {
	Driver      string `mapstructure:"driver"`
	Compression string `mapstructure:"compression"`
	Path        string `mapstructure:"path"`
}

type DatabaseConfig struct {
	Host              string `mapstructure:"host"`
	Port              int    `mapstructure:"port"`
	Name              string `mapstructure:"name"`
	User              string `mapstructure:"user"`
	Password          string `mapstructure:"password"`
	SSLMode           string `mapstructure:"ssl_mode"`
	MaxConnections    int    `mapstructure:"max_connections"`
	ConnectionTimeout int    `mapstructure:"connection_timeout"`
	Migrate           bool   `mapstructure:"migrate"`
}

// ConnectionString renders the settings as a postgres URL.
func (d DatabaseConfig) ConnectionString() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   "/" + d.Name,
	}
	q := url.Values{}
	q.Set("sslmode", d.SSLMode)
	if d.ConnectionTimeout > 0 {
		q.Set("connect_timeout", fmt.Sprint(d.ConnectionTimeout))
	}
	u.RawQuery = q.Encode()
	return u.String()
}

type S3Config struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	Bucket          string `mapstructure:"bucket"`
	Region          string `mapstructure:"region"`
	Prefix          string `mapstructure:"prefix"`
}

// EventsConfig selects the change publisher: none, nats or mqtt.
type EventsConfig struct {
	Driver   string        `mapstructure:"driver"`
	URL      string        `mapstructure:"url"`
	Prefix   string        `mapstructure:"prefix"`
	ClientID string        `mapstructure:"client_id"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

type IngestConfig struct {
	URL       string        `mapstructure:"url"`
	Series    []string      `mapstructure:"series"`
	Schedule  string        `mapstructure:"schedule"`
	Window    time.Duration `mapstructure:"window"`
	Bootstrap time.Duration `mapstructure:"bootstrap"`
}

// RetentionConfig drops values older than Period; zero keeps everything.
type RetentionConfig struct {
	Period              time.Duration `mapstructure:"period"`
	Schedule            string        `mapstructure:"schedule"`
	MaintenanceSchedule string        `mapstructure:"maintenance_schedule"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from file and environment variables.
//
// ${VAR} references in the file are expanded first; TSCORE_<SECTION>_<KEY>
// variables then override individual settings.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// First unmarshal into a map to handle type conversions
	var rawConfig map[string]interface{}
	if err := yaml.Unmarshal(data, &rawConfig); err != nil {
		return nil, fmt.Errorf("failed to unmarshal raw config: %w", err)
	}

	// Convert the map to YAML again
	data, err = yaml.Marshal(rawConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal raw config: %w", err)
	}

	// Expand environment variables
	expandedData := os.ExpandEnv(string(data))

	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadConfig(bytes.NewReader([]byte(expandedData))); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 50051)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.metrics_port", 9090)
	v.SetDefault("server.cache_size", 1000)
	v.SetDefault("server.rate_limit", 5.0)
	v.SetDefault("server.rate_limit_burst", 10)
	v.SetDefault("server.max_time_range", 2*365*24*time.Hour)

	v.SetDefault("storage.driver", "memory")
	v.SetDefault("storage.compression", "zstd")
	v.SetDefault("storage.path", "data")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "tscore")
	v.SetDefault("database.user", "")
	v.SetDefault("database.password", "")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_connections", 10)
	v.SetDefault("database.connection_timeout", 5)
	v.SetDefault("database.migrate", true)

	v.SetDefault("s3.endpoint", "")
	v.SetDefault("s3.access_key_id", "")
	v.SetDefault("s3.secret_access_key", "")
	v.SetDefault("s3.bucket", "")
	v.SetDefault("s3.region", "us-east-1")
	v.SetDefault("s3.prefix", "series/")

	v.SetDefault("events.driver", "none")
	v.SetDefault("events.url", "")
	v.SetDefault("events.prefix", "tscore")
	v.SetDefault("events.client_id", "tscore")
	v.SetDefault("events.timeout", 5*time.Second)

	v.SetDefault("ingest.url", "")
	v.SetDefault("ingest.series", []string{})
	v.SetDefault("ingest.schedule", "*/5 * * * *")
	v.SetDefault("ingest.window", 5*time.Minute)
	v.SetDefault("ingest.bootstrap", time.Duration(0))

	v.SetDefault("retention.period", time.Duration(0))
	v.SetDefault("retention.schedule", "0 * * * *")
	v.SetDefault("retention.maintenance_schedule", "30 3 * * *")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate checks the settings that cannot be defaulted.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.CacheSize < 0 {
		return fmt.Errorf("invalid cache size: %d", c.Server.CacheSize)
	}
	if c.Server.RateLimit < 0 || c.Server.RateLimitBurst < 0 {
		return fmt.Errorf("rate limit must not be negative")
	}

	switch c.Storage.Driver {
	case "memory":
	case "postgres":
		if c.Database.Host == "" || c.Database.Name == "" {
			return fmt.Errorf("postgres storage requires database.host and database.name")
		}
	case "badger":
		if c.Storage.Path == "" {
			return fmt.Errorf("badger storage requires storage.path")
		}
	case "s3":
		if c.S3.Endpoint == "" || c.S3.Bucket == "" {
			return fmt.Errorf("s3 storage requires s3.endpoint and s3.bucket")
		}
	default:
		return fmt.Errorf("unknown storage driver: %s", c.Storage.Driver)
	}

	switch c.Events.Driver {
	case "none", "":
	case "nats", "mqtt":
		if c.Events.URL == "" {
			return fmt.Errorf("%s events require events.url", c.Events.Driver)
		}
	default:
		return fmt.Errorf("unknown events driver: %s", c.Events.Driver)
	}

	if len(c.Ingest.Series) > 0 && c.Ingest.URL == "" {
		return fmt.Errorf("ingest.series requires ingest.url")
	}
	if c.Retention.Period < 0 {
		return fmt.Errorf("invalid retention period: %s", c.Retention.Period)
	}

	switch strings.ToLower(c.Logging.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("unknown logging format: %s", c.Logging.Format)
	}
	return nil
}
