// Package config loads mobsync settings from mobsync.yaml, MOBSYNC_*
// environment variables and built-in defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/eunmann/mobility-sync/pkg/archive"
	"github.com/eunmann/mobility-sync/pkg/dataset"
	"github.com/eunmann/mobility-sync/pkg/retry"
)

// Config holds the full application configuration.
type Config struct {
	AWS       AWSConfig                `yaml:"aws" mapstructure:"aws"`
	Sync      SyncConfig               `yaml:"sync" mapstructure:"sync"`
	Datasets  map[string]DatasetConfig `yaml:"datasets" mapstructure:"datasets"`
	Metrics   MetricsConfig            `yaml:"metrics" mapstructure:"metrics"`
	Analytics AnalyticsConfig          `yaml:"analytics" mapstructure:"analytics"`
	Fetch     FetchConfig              `yaml:"fetch" mapstructure:"fetch"`
	Pricing   PricingConfig            `yaml:"pricing" mapstructure:"pricing"`
	Log       LogConfig                `yaml:"log" mapstructure:"log"`
}

// AWSConfig selects the region, archive bucket and an optional endpoint
// override for local stacks. Bucket may be a plain name, an S3 bucket ARN
// or an s3://bucket URI; Validate reduces it to the name.
type AWSConfig struct {
	Region   string `yaml:"region" mapstructure:"region"`
	Bucket   string `yaml:"bucket" mapstructure:"bucket"`
	Endpoint string `yaml:"endpoint" mapstructure:"endpoint"`
}

// SyncConfig tunes the sync driver and batch writer.
type SyncConfig struct {
	Concurrency       int     `yaml:"concurrency" mapstructure:"concurrency"`
	BatchSize         int     `yaml:"batch_size" mapstructure:"batch_size"`
	RetryAttempts     int     `yaml:"retry_attempts" mapstructure:"retry_attempts"`
	WriteCapacity     float64 `yaml:"write_capacity" mapstructure:"write_capacity"`
	SkipOpenPartition bool    `yaml:"skip_open_partition" mapstructure:"skip_open_partition"`
	PageSize          int32   `yaml:"page_size" mapstructure:"page_size"`
}

// DatasetConfig overrides a dataset's archive prefix or table.
type DatasetConfig struct {
	Prefix string `yaml:"prefix" mapstructure:"prefix"`
	Table  string `yaml:"table" mapstructure:"table"`
}

// MetricsConfig configures the Pushgateway push. An empty URL disables it.
type MetricsConfig struct {
	PushURL string `yaml:"push_url" mapstructure:"push_url"`
}

// AnalyticsConfig configures the daily report.
type AnalyticsConfig struct {
	Table  string `yaml:"table" mapstructure:"table"`
	Export bool   `yaml:"export" mapstructure:"export"`
}

// FetchConfig configures the source pollers.
type FetchConfig struct {
	RequestsPerSecond float64       `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	Timeout           time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// PricingConfig points at an optional price table JSON file.
type PricingConfig struct {
	File string `yaml:"file" mapstructure:"file"`
}

// LogConfig selects verbosity and output format.
type LogConfig struct {
	Debug bool `yaml:"debug" mapstructure:"debug"`
	Human bool `yaml:"human" mapstructure:"human"`
}

// Load reads configuration. With an empty path mobsync.yaml is looked up in
// the working directory and is optional; an explicit path must exist.
func Load(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("mobsync")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("MOBSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: read file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("aws.region", "eu-west-3")
	v.SetDefault("aws.bucket", "lyon-s3-raw-dev")
	v.SetDefault("aws.endpoint", "")
	v.SetDefault("sync.concurrency", 4)
	v.SetDefault("sync.batch_size", 25)
	v.SetDefault("sync.retry_attempts", 3)
	v.SetDefault("sync.write_capacity", 100.0)
	v.SetDefault("sync.skip_open_partition", true)
	v.SetDefault("sync.page_size", 0)
	for name, ds := range dataset.Defaults() {
		v.SetDefault("datasets."+name+".prefix", ds.Prefix)
		v.SetDefault("datasets."+name+".table", ds.Table)
	}
	v.SetDefault("metrics.push_url", "")
	v.SetDefault("analytics.table", "AnalyticsDailyReports")
	v.SetDefault("analytics.export", true)
	v.SetDefault("fetch.requests_per_second", 1.0)
	v.SetDefault("fetch.timeout", 30*time.Second)
	v.SetDefault("pricing.file", "")
	v.SetDefault("log.debug", false)
	v.SetDefault("log.human", false)
}

// Validate rejects settings the sync cannot run with and normalizes
// aws.bucket to a bare bucket name.
func (c *Config) Validate() error {
	var errs []error
	if c.AWS.Bucket == "" {
		errs = append(errs, errors.New("aws.bucket is required"))
	} else if name, err := bucketName(c.AWS.Bucket); err != nil {
		errs = append(errs, fmt.Errorf("aws.bucket: %w", err))
	} else {
		c.AWS.Bucket = name
	}
	if c.Sync.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("sync.concurrency must be positive, got %d", c.Sync.Concurrency))
	}
	if c.Sync.BatchSize < 1 || c.Sync.BatchSize > 25 {
		errs = append(errs, fmt.Errorf("sync.batch_size must be in [1, 25], got %d", c.Sync.BatchSize))
	}
	if c.Sync.RetryAttempts < 1 {
		errs = append(errs, fmt.Errorf("sync.retry_attempts must be positive, got %d", c.Sync.RetryAttempts))
	}
	if c.Analytics.Table == "" {
		errs = append(errs, errors.New("analytics.table is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

func bucketName(raw string) (string, error) {
	if !strings.HasPrefix(raw, "s3://") {
		return archive.ParseBucket(raw)
	}
	bucket, key, err := archive.ParseS3URI(raw)
	if err != nil {
		return "", err
	}
	if strings.Trim(key, "/") != "" {
		return "", fmt.Errorf("%q has a key; set datasets.<name>.prefix instead", raw)
	}
	return bucket, nil
}

// Registry returns the default datasets with configured overrides applied.
func (c *Config) Registry() (dataset.Registry, error) {
	reg := dataset.Defaults()
	for name, dc := range c.Datasets {
		if err := reg.Override(name, dc.Prefix, dc.Table); err != nil {
			return nil, fmt.Errorf("config: datasets.%s: %w", name, err)
		}
	}
	return reg, nil
}

// Retry returns the retry policy for remote calls.
func (c *Config) Retry() retry.Config {
	r := retry.DefaultConfig()
	r.MaxAttempts = c.Sync.RetryAttempts
	return r
}
