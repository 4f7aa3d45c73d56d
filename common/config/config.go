// Package config provides centralized configuration for the LeadPulse CDC service and CLI.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Source modes for the CDC consumer.
const (
	ModeJetStream = "jetstream"
	ModeKafka     = "kafka"
	ModePoll      = "poll"
)

// DefaultChannels are the Salesforce CDC channels consumed when none are configured.
var DefaultChannels = []string{
	"/data/LeadChangeEvent",
	"/data/TaskChangeEvent",
	"/data/EmailMessageChangeEvent",
}

// Config is the master configuration struct.
type Config struct {
	Service    ServiceConfig    `mapstructure:"service"`
	Server     ServerConfig     `mapstructure:"server"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Salesforce SalesforceConfig `mapstructure:"salesforce"`
	CDC        CDCConfig        `mapstructure:"cdc"`
	Replay     ReplayConfig     `mapstructure:"replay"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Postgres   PostgresConfig   `mapstructure:"postgres"`
	NATS       NATSConfig       `mapstructure:"nats"`
	Kafka      KafkaConfig      `mapstructure:"kafka"`
	DLQ        DLQConfig        `mapstructure:"dlq"`
	Flywheel   FlywheelConfig   `mapstructure:"flywheel"`
	OpenSearch OpenSearchConfig `mapstructure:"opensearch"`
	Routing    RoutingConfig    `mapstructure:"routing"`
	KPI        KPIConfig        `mapstructure:"kpi"`
}

// ServiceConfig identifies the running service.
type ServiceConfig struct {
	Name    string `mapstructure:"name"`
	Version string `mapstructure:"version"`
}

// ServerConfig holds the ops HTTP server configuration
type ServerConfig struct {
	Addr         string        `mapstructure:"addr"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// SalesforceConfig holds Salesforce API and JWT bearer settings.
// Backend "memory" swaps the REST client for an in-process record store.
type SalesforceConfig struct {
	Backend        string        `mapstructure:"backend"`
	LoginURL       string        `mapstructure:"login_url"`
	InstanceURL    string        `mapstructure:"instance_url"`
	ClientID       string        `mapstructure:"client_id"`
	Username       string        `mapstructure:"username"`
	PrivateKeyPath string        `mapstructure:"private_key_path"`
	APIVersion     string        `mapstructure:"api_version"`
	Timeout        time.Duration `mapstructure:"timeout"`
	FixturesPath   string        `mapstructure:"fixtures_path"`
}

// CDCConfig controls how change events are sourced.
type CDCConfig struct {
	Mode            string        `mapstructure:"mode"`
	Channels        []string      `mapstructure:"channels"`
	PollingInterval time.Duration `mapstructure:"polling_interval"`
	PollBatchSize   int           `mapstructure:"poll_batch_size"`
	LongPollWait    time.Duration `mapstructure:"long_poll_wait"`
	ReconnectMin    time.Duration `mapstructure:"reconnect_min"`
	ReconnectMax    time.Duration `mapstructure:"reconnect_max"`
}

// ReplayConfig selects the cursor store backend.
type ReplayConfig struct {
	Backend  string `mapstructure:"backend"` // "file" (default), "redis" or "postgres"
	Path     string `mapstructure:"path"`
	RedisKey string `mapstructure:"redis_key"`
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	URL        string `mapstructure:"url"`
	MaxRetries int    `mapstructure:"max_retries"`
	PoolSize   int    `mapstructure:"pool_size"`
}

// PostgresConfig holds PostgreSQL connection settings
type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	SSLMode  string `mapstructure:"sslmode"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// DSN returns a postgres:// connection URL.
func (p PostgresConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(p.User, p.Password),
		Host:   fmt.Sprintf("%s:%d", p.Host, p.Port),
		Path:   "/" + p.Database,
	}
	q := u.Query()
	if p.SSLMode != "" {
		q.Set("sslmode", p.SSLMode)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// NATSConfig holds NATS message broker configuration
type NATSConfig struct {
	URL           string        `mapstructure:"url"`
	Name          string        `mapstructure:"name"`
	MaxReconnects int           `mapstructure:"max_reconnects"`
	ReconnectWait time.Duration `mapstructure:"reconnect_wait"`
	Stream        string        `mapstructure:"stream"`
}

// KafkaConfig holds Kafka consumer settings.
type KafkaConfig struct {
	Brokers     []string `mapstructure:"brokers"`
	ClientID    string   `mapstructure:"client_id"`
	TopicPrefix string   `mapstructure:"topic_prefix"`
}

// DLQConfig holds dead letter queue configuration
type DLQConfig struct {
	Backend  string `mapstructure:"backend"`   // "file" (default), "jetstream" or "none"
	BasePath string `mapstructure:"base_path"` // Only used for file backend
}

// FlywheelConfig controls the JSONL decision log.
type FlywheelConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	LogDir   string `mapstructure:"log_dir"`
	ClientID string `mapstructure:"client_id"`
}

// OpenSearchConfig holds OpenSearch connection settings
type OpenSearchConfig struct {
	URL         string `mapstructure:"url"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	Insecure    bool   `mapstructure:"insecure"`
	IndexPrefix string `mapstructure:"index_prefix"`
}

// RoutingConfig locates the routing policy.
type RoutingConfig struct {
	PolicyPath     string        `mapstructure:"policy_path"`
	ReloadInterval time.Duration `mapstructure:"reload_interval"`
}

// KPIConfig tunes the response-time and routing reports.
type KPIConfig struct {
	SLA        time.Duration `mapstructure:"sla"`
	PeriodDays int           `mapstructure:"period_days"`
	ReportDir  string        `mapstructure:"report_dir"`
}

// Load reads configuration from configPath (or config.yaml in the working
// directory and /etc/leadpulse) and LEADPULSE_* environment variables.
// A missing default config file is not an error; a missing explicit one is.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/leadpulse")
	}

	v.SetEnvPrefix("LEADPULSE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if len(cfg.CDC.Channels) == 0 {
		cfg.CDC.Channels = append([]string(nil), DefaultChannels...)
	}

	return &cfg, nil
}

// Validate enforces what must hold before the service can start.
func (c *Config) Validate() error {
	var errs []error

	switch c.CDC.Mode {
	case ModeJetStream:
		if c.NATS.URL == "" {
			errs = append(errs, errors.New("nats.url is required for jetstream mode"))
		}
	case ModeKafka:
		if len(c.Kafka.Brokers) == 0 {
			errs = append(errs, errors.New("kafka.brokers is required for kafka mode"))
		}
	case ModePoll:
		if c.CDC.PollingInterval <= 0 {
			errs = append(errs, errors.New("cdc.polling_interval must be positive"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown cdc.mode %q", c.CDC.Mode))
	}

	switch c.Salesforce.Backend {
	case "rest":
		if c.Salesforce.ClientID == "" {
			errs = append(errs, errors.New("salesforce.client_id is required"))
		}
		if c.Salesforce.Username == "" {
			errs = append(errs, errors.New("salesforce.username is required"))
		}
		if c.Salesforce.PrivateKeyPath == "" {
			errs = append(errs, errors.New("salesforce.private_key_path is required"))
		}
	case "memory":
	default:
		errs = append(errs, fmt.Errorf("unknown salesforce.backend %q", c.Salesforce.Backend))
	}

	switch c.Replay.Backend {
	case "file":
		if c.Replay.Path == "" {
			errs = append(errs, errors.New("replay.path is required for file backend"))
		}
	case "redis":
		if c.Redis.URL == "" {
			errs = append(errs, errors.New("redis.url is required for redis backend"))
		}
	case "postgres":
		if c.Postgres.Host == "" {
			errs = append(errs, errors.New("postgres.host is required for postgres backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown replay.backend %q", c.Replay.Backend))
	}

	switch c.DLQ.Backend {
	case "file", "jetstream", "none":
	default:
		errs = append(errs, fmt.Errorf("unknown dlq.backend %q", c.DLQ.Backend))
	}

	if c.KPI.SLA <= 0 {
		errs = append(errs, errors.New("kpi.sla must be positive"))
	}

	if len(c.CDC.Channels) == 0 {
		errs = append(errs, errors.New("cdc.channels must not be empty"))
	}

	return errors.Join(errs...)
}

// setDefaults sets all default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("service.name", "leadpulse-cdc")
	v.SetDefault("service.version", "dev")

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.idle_timeout", "60s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("salesforce.backend", "rest")
	v.SetDefault("salesforce.login_url", "https://login.salesforce.com")
	v.SetDefault("salesforce.api_version", "59.0")
	v.SetDefault("salesforce.timeout", "30s")
	v.SetDefault("salesforce.fixtures_path", "")

	v.SetDefault("cdc.mode", ModeJetStream)
	v.SetDefault("cdc.polling_interval", "30s")
	v.SetDefault("cdc.poll_batch_size", 100)
	v.SetDefault("cdc.long_poll_wait", "5s")
	v.SetDefault("cdc.reconnect_min", "1s")
	v.SetDefault("cdc.reconnect_max", "30s")

	v.SetDefault("replay.backend", "file")
	v.SetDefault("replay.path", "./data/replay_ids.json")
	v.SetDefault("replay.redis_key", "leadpulse:replay")

	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("redis.max_retries", 3)
	v.SetDefault("redis.pool_size", 10)

	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.database", "leadpulse")
	v.SetDefault("postgres.user", "leadpulse")
	v.SetDefault("postgres.password", "")
	v.SetDefault("postgres.sslmode", "disable")
	v.SetDefault("postgres.max_conns", 4)

	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.name", "leadpulse-cdc")
	v.SetDefault("nats.max_reconnects", -1)
	v.SetDefault("nats.reconnect_wait", "2s")
	v.SetDefault("nats.stream", "CDC_EVENTS")

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.client_id", "leadpulse-cdc")
	v.SetDefault("kafka.topic_prefix", "salesforce")

	v.SetDefault("dlq.backend", "file")
	v.SetDefault("dlq.base_path", "./data/dlq")

	v.SetDefault("flywheel.enabled", true)
	v.SetDefault("flywheel.log_dir", "./data/flywheel")
	v.SetDefault("flywheel.client_id", "leadpulse")

	v.SetDefault("opensearch.url", "https://localhost:9200")
	v.SetDefault("opensearch.username", "admin")
	v.SetDefault("opensearch.password", "admin")
	v.SetDefault("opensearch.insecure", true)
	v.SetDefault("opensearch.index_prefix", "leadpulse-flywheel")

	v.SetDefault("routing.policy_path", "./config/routing_policy.yaml")
	v.SetDefault("routing.reload_interval", "0s")

	v.SetDefault("kpi.sla", "60m")
	v.SetDefault("kpi.period_days", 30)
	v.SetDefault("kpi.report_dir", "./reports")
}
