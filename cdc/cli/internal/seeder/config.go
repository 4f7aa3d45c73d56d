package seeder

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete seeder configuration
type Config struct {
	Version  string         `mapstructure:"version" yaml:"version"`
	Defaults DefaultsConfig `mapstructure:"defaults" yaml:"defaults"`
}

// DefaultsConfig holds default seeder settings
type DefaultsConfig struct {
	NATSURL    string        `mapstructure:"nats_url" yaml:"nats_url"`
	Stream     string        `mapstructure:"stream" yaml:"stream"`
	Leads      int           `mapstructure:"leads" yaml:"leads"`
	TimeSpread time.Duration `mapstructure:"time_spread" yaml:"time_spread"`
	BatchSize  int           `mapstructure:"batch_size" yaml:"batch_size"`
	Interval   time.Duration `mapstructure:"interval" yaml:"interval"`

	// ResponseRate is the share of leads that get at least one response.
	ResponseRate float64 `mapstructure:"response_rate" yaml:"response_rate"`
	// EmailShare is the share of responses sent as emails rather than tasks.
	EmailShare float64 `mapstructure:"email_share" yaml:"email_share"`
	// MaxResponseDelay bounds the time from lead creation to a response.
	MaxResponseDelay time.Duration `mapstructure:"max_response_delay" yaml:"max_response_delay"`

	// FixturesPath, when set, receives the generated records in the format
	// the in-memory Salesforce backend loads.
	FixturesPath string `mapstructure:"fixtures_path" yaml:"fixtures_path"`
	Seed         int64  `mapstructure:"seed" yaml:"seed"`
}

// LoadConfig loads configuration with cascade: flags > ./seeder.yaml > ~/.lpctl/seeder.yaml > defaults
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName("seeder")
	v.SetConfigType("yaml")
	v.SetEnvPrefix("SEEDER")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".lpctl"))
		}
	}

	// Config file is optional
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("version", "1.0")

	v.SetDefault("defaults.nats_url", "nats://localhost:4222")
	v.SetDefault("defaults.stream", "CDC_EVENTS")
	v.SetDefault("defaults.leads", 500)
	v.SetDefault("defaults.time_spread", 7*24*time.Hour)
	v.SetDefault("defaults.batch_size", 50)
	v.SetDefault("defaults.interval", 0)
	v.SetDefault("defaults.response_rate", 0.8)
	v.SetDefault("defaults.email_share", 0.4)
	v.SetDefault("defaults.max_response_delay", 8*time.Hour)
	v.SetDefault("defaults.fixtures_path", "")
	v.SetDefault("defaults.seed", 0)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	d := c.Defaults
	var errs []error
	if d.Leads <= 0 {
		errs = append(errs, errors.New("leads must be positive"))
	}
	if d.BatchSize <= 0 {
		errs = append(errs, errors.New("batch_size must be positive"))
	}
	if d.ResponseRate < 0 || d.ResponseRate > 1 {
		errs = append(errs, fmt.Errorf("response_rate %.2f outside [0,1]", d.ResponseRate))
	}
	if d.EmailShare < 0 || d.EmailShare > 1 {
		errs = append(errs, fmt.Errorf("email_share %.2f outside [0,1]", d.EmailShare))
	}
	if d.MaxResponseDelay <= 0 {
		errs = append(errs, errors.New("max_response_delay must be positive"))
	}
	if d.TimeSpread < 0 {
		errs = append(errs, errors.New("time_spread must not be negative"))
	}
	return errors.Join(errs...)
}
