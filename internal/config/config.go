// Package config provides configuration management for reference ingestion.
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of every environment variable read by Load.
const EnvPrefix = "REFINGEST"

// anonymousRateLimit is the request rate NCBI allows without an API key.
const anonymousRateLimit = 3.0

// Config holds all configuration for reference ingestion.
type Config struct {
	// Server contains HTTP import API settings.
	Server ServerConfig `mapstructure:"server"`
	// Logging contains structured logging settings.
	Logging LoggingConfig `mapstructure:"logging"`
	// Metrics contains Prometheus metrics exposure settings.
	Metrics MetricsConfig `mapstructure:"metrics"`
	// PubMed contains E-utilities client settings.
	PubMed PubMedConfig `mapstructure:"pubmed"`
	// RIS contains RIS parser settings.
	RIS RISConfig `mapstructure:"ris"`
}

// ServerConfig holds HTTP import API configuration.
type ServerConfig struct {
	// Address is the listen address of the import API.
	Address string `mapstructure:"address" validate:"hostname_port"`
	// ReadTimeout bounds reading a request, including an RIS upload.
	ReadTimeout time.Duration `mapstructure:"read_timeout" validate:"gt=0"`
	// WriteTimeout bounds a whole import, from the end of the request
	// headers to the last byte of the response.
	WriteTimeout time.Duration `mapstructure:"write_timeout" validate:"gt=0"`
	// IdleTimeout is the keep-alive timeout.
	IdleTimeout time.Duration `mapstructure:"idle_timeout" validate:"gt=0"`
	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
	// MaxUploadBytes bounds the size of an RIS upload.
	MaxUploadBytes int64 `mapstructure:"max_upload_bytes" validate:"gt=0"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the log level (trace, debug, info, warn, error, fatal, panic).
	Level string `mapstructure:"level" validate:"oneof=trace debug info warn warning error fatal panic"`
	// Format is the log format (json, console, pretty).
	Format string `mapstructure:"format" validate:"oneof=json console pretty"`
	// Output is the log output destination (stdout, stderr).
	Output string `mapstructure:"output" validate:"oneof=stdout stderr"`
	// AddSource adds source file and line to log output.
	AddSource bool `mapstructure:"add_source"`
	// TimeFormat is the timestamp format.
	TimeFormat string `mapstructure:"time_format"`
}

// MetricsConfig holds metrics configuration.
type MetricsConfig struct {
	// Enabled enables metrics collection.
	Enabled bool `mapstructure:"enabled"`
	// Namespace prefixes every metric name.
	Namespace string `mapstructure:"namespace" validate:"required_if=Enabled true"`
	// Address is the listen address of the metrics endpoint. Empty disables
	// the endpoint while keeping collection on.
	Address string `mapstructure:"address" validate:"omitempty,hostname_port"`
	// Path is the HTTP path for metrics endpoint.
	Path string `mapstructure:"path" validate:"startswith=/"`
}

// PubMedConfig holds E-utilities client configuration.
type PubMedConfig struct {
	// APIKey is the NCBI API key (loaded from REFINGEST_PUBMED_API_KEY env var).
	APIKey string `mapstructure:"-"`
	// BaseURL is the E-utilities base URL.
	BaseURL string `mapstructure:"base_url" validate:"required,url"`
	// Database is the Entrez database to query.
	Database string `mapstructure:"database" validate:"required"`
	// Timeout bounds each request.
	Timeout time.Duration `mapstructure:"timeout" validate:"gt=0"`
	// RateLimit is the maximum requests per second. Zero selects the NCBI
	// limit for the presence or absence of an API key.
	RateLimit float64 `mapstructure:"rate_limit" validate:"gte=0,lte=10"`
	// BurstSize is the rate limiter burst. Zero derives it from RateLimit.
	BurstSize int `mapstructure:"burst_size" validate:"gte=0"`
	// PageSize is the number of ids requested per esearch page.
	PageSize int `mapstructure:"page_size" validate:"min=1,max=10000"`
	// BatchSize is the number of ids per efetch request.
	BatchSize int `mapstructure:"batch_size" validate:"min=1,max=10000"`
	// MaxRetries is the number of retries after a 429, a 5xx or a network
	// error. Zero makes the first failure fatal.
	MaxRetries int `mapstructure:"max_retries" validate:"gte=0,lte=5"`
	// RetryDelay is the base delay between retries.
	RetryDelay time.Duration `mapstructure:"retry_delay" validate:"gt=0"`
	// Workers is the number of efetch chunks fetched concurrently.
	Workers int `mapstructure:"workers" validate:"min=1,max=10"`
	// Offline replaces fetches with placeholder references and disables search.
	Offline bool `mapstructure:"offline"`
	// AllowPartial returns gathered results when an operation is cancelled.
	AllowPartial bool `mapstructure:"allow_partial"`
	// UserAgent is sent with every request.
	UserAgent string `mapstructure:"user_agent"`
}

// RISConfig holds RIS parser configuration.
type RISConfig struct {
	// TagMapFile is an optional YAML tag map overlay.
	TagMapFile string `mapstructure:"tag_map_file" validate:"omitempty,file"`
	// ExtraTags maps additional RIS tags to field names.
	ExtraTags map[string]string `mapstructure:"extra_tags" validate:"dive,keys,len=2,alphanum,uppercase,endkeys,required"`
	// PubMedTags adds the PubMed export tags (AT, PM, N2, SV) to the mapping.
	PubMedTags bool `mapstructure:"pubmed_tags"`
}

// Load loads configuration from environment variables and config files.
func Load() (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Read from environment variables
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file if present
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/reference-ingestion")

	if err := v.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is OK, we'll use env vars and defaults
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Load secrets exclusively from environment variables.
	// These fields use mapstructure:"-" to prevent loading from config files.
	loadSecrets(&cfg)
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// loadSecrets populates secret fields exclusively from environment variables.
func loadSecrets(cfg *Config) {
	cfg.PubMed.APIKey = strings.TrimSpace(os.Getenv(EnvPrefix + "_PUBMED_API_KEY"))
}

// normalize undoes viper's key lower-casing for RIS tags and canonicalizes
// enumerated values.
func (c *Config) normalize() {
	c.Logging.Level = strings.ToLower(c.Logging.Level)
	c.Logging.Format = strings.ToLower(c.Logging.Format)
	c.Logging.Output = strings.ToLower(c.Logging.Output)

	if len(c.RIS.ExtraTags) > 0 {
		tags := make(map[string]string, len(c.RIS.ExtraTags))
		for tag, field := range c.RIS.ExtraTags {
			tags[strings.ToUpper(tag)] = field
		}
		c.RIS.ExtraTags = tags
	}
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.read_timeout", "1m")
	v.SetDefault("server.write_timeout", "15m")
	v.SetDefault("server.idle_timeout", "2m")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.max_upload_bytes", 32<<20)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stderr")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.namespace", "refingest")
	v.SetDefault("metrics.address", "")
	v.SetDefault("metrics.path", "/metrics")

	// PubMed defaults
	// The API key is loaded exclusively from the environment (see loadSecrets).
	v.SetDefault("pubmed.base_url", "https://eutils.ncbi.nlm.nih.gov/entrez/eutils")
	v.SetDefault("pubmed.database", "pubmed")
	v.SetDefault("pubmed.timeout", "15s")
	v.SetDefault("pubmed.rate_limit", 0.0)
	v.SetDefault("pubmed.burst_size", 0)
	v.SetDefault("pubmed.page_size", 5000)
	v.SetDefault("pubmed.batch_size", 1000)
	v.SetDefault("pubmed.max_retries", 0)
	v.SetDefault("pubmed.retry_delay", "1s")
	v.SetDefault("pubmed.workers", 1)
	v.SetDefault("pubmed.offline", false)
	v.SetDefault("pubmed.allow_partial", false)
	v.SetDefault("pubmed.user_agent", "")

	// RIS defaults
	v.SetDefault("ris.tag_map_file", "")
	v.SetDefault("ris.extra_tags", map[string]string{})
	v.SetDefault("ris.pubmed_tags", true)
}

// newValidator returns a validator that reports fields by their config key.
func newValidator() *validator.Validate {
	validate := validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("mapstructure"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return validate
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := newValidator().Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return err
		}
		msgs := make([]string, 0, len(fieldErrs))
		for _, fe := range fieldErrs {
			key := strings.TrimPrefix(fe.Namespace(), "Config.")
			if fe.Param() != "" {
				msgs = append(msgs, fmt.Sprintf("%s: failed %s=%s", key, fe.Tag(), fe.Param()))
			} else {
				msgs = append(msgs, fmt.Sprintf("%s: failed %s", key, fe.Tag()))
			}
		}
		return errors.New(strings.Join(msgs, "; "))
	}

	// Cross-field rules
	if c.PubMed.APIKey == "" && c.PubMed.RateLimit > anonymousRateLimit {
		return fmt.Errorf("pubmed rate_limit %.1f exceeds %.0f requests per second allowed without %s_PUBMED_API_KEY",
			c.PubMed.RateLimit, anonymousRateLimit, EnvPrefix)
	}
	return nil
}
