// Package config loads the pipeline configuration from defaults, an optional
// config.yaml, a .env file and MANGARANK_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable, e.g.
// MANGARANK_DATABASE_DSN for database.dsn.
const EnvPrefix = "MANGARANK"

// Config represents the application configuration.
type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Crawler  CrawlerConfig  `mapstructure:"crawler"`
	Catalog  CatalogConfig  `mapstructure:"catalog"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Export   ExportConfig   `mapstructure:"export"`
	Build    BuildConfig    `mapstructure:"build"`
	Log      LogConfig      `mapstructure:"log"`
	Schedule ScheduleConfig `mapstructure:"schedule"`
}

// DatabaseConfig selects the SQL driver and data source.
type DatabaseConfig struct {
	// Driver is "sqlite3" or "postgres".
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

// CrawlerConfig tunes the blog crawling stages.
type CrawlerConfig struct {
	// GroupURL is the blog group directory that seeds site discovery.
	GroupURL  string        `mapstructure:"group_url"`
	Delay     time.Duration `mapstructure:"delay"`
	Timeout   time.Duration `mapstructure:"timeout"`
	UserAgent string        `mapstructure:"user_agent"`
	BatchSize int           `mapstructure:"batch_size"`
}

// CatalogConfig holds the Product Advertising API credentials and pacing.
type CatalogConfig struct {
	AccessKey   string `mapstructure:"access_key"`
	SecretKey   string `mapstructure:"secret_key"`
	PartnerTag  string `mapstructure:"partner_tag"`
	Host        string `mapstructure:"host"`
	Region      string `mapstructure:"region"`
	Marketplace string `mapstructure:"marketplace"`
	// Rate is the number of lookups allowed per second.
	Rate       float64       `mapstructure:"rate"`
	RetryDelay time.Duration `mapstructure:"retry_delay"`
	MaxRetries int           `mapstructure:"max_retries"`
}

// StorageConfig points at the S3-compatible object store.
type StorageConfig struct {
	Endpoint        string        `mapstructure:"endpoint"`
	AccessKey       string        `mapstructure:"access_key"`
	SecretKey       string        `mapstructure:"secret_key"`
	UseSSL          bool          `mapstructure:"use_ssl"`
	DataBucket      string        `mapstructure:"data_bucket"`
	BackupBucket    string        `mapstructure:"backup_bucket"`
	BackupRetention time.Duration `mapstructure:"backup_retention"`
}

// ExportConfig controls the JSON export.
type ExportConfig struct {
	Dir      string `mapstructure:"dir"`
	MaxItems int    `mapstructure:"max_items"`
}

// BuildConfig holds the static site build hook.
type BuildConfig struct {
	WebhookURL string `mapstructure:"webhook_url"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level    string `mapstructure:"level"`
	Encoding string `mapstructure:"encoding"`
}

// ScheduleConfig holds the cron expression used by the schedule command.
type ScheduleConfig struct {
	Cron string `mapstructure:"cron"`
}

// Default values.
const (
	DefaultGroupURL        = "http://hatenablog.com/g/11696248318754550860/blogs"
	DefaultUserAgent       = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	DefaultDelay           = time.Second
	DefaultTimeout         = 30 * time.Second
	DefaultBatchSize       = 100
	DefaultCatalogHost     = "webservices.amazon.co.jp"
	DefaultCatalogRegion   = "us-west-2"
	DefaultMarketplace     = "www.amazon.co.jp"
	DefaultCatalogRate     = 1.0
	DefaultRetryDelay      = 200 * time.Millisecond
	DefaultMaxRetries      = 3
	DefaultBackupRetention = 7 * 24 * time.Hour
	DefaultMaxItems        = 1000
	DefaultCron            = "0 3 * * *"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

func setDefaults(v *viper.Viper) {
	v.SetDefault("database", map[string]any{
		"driver": "sqlite3",
		"dsn":    "mangarank.db?_foreign_keys=on",
	})
	v.SetDefault("crawler", map[string]any{
		"group_url":  DefaultGroupURL,
		"delay":      DefaultDelay.String(),
		"timeout":    DefaultTimeout.String(),
		"user_agent": DefaultUserAgent,
		"batch_size": DefaultBatchSize,
	})
	v.SetDefault("catalog", map[string]any{
		"access_key":  "",
		"secret_key":  "",
		"partner_tag": "",
		"host":        DefaultCatalogHost,
		"region":      DefaultCatalogRegion,
		"marketplace": DefaultMarketplace,
		"rate":        DefaultCatalogRate,
		"retry_delay": DefaultRetryDelay.String(),
		"max_retries": DefaultMaxRetries,
	})
	v.SetDefault("storage", map[string]any{
		"endpoint":         "",
		"access_key":       "",
		"secret_key":       "",
		"use_ssl":          true,
		"data_bucket":      "mangarank-data",
		"backup_bucket":    "mangarank-backup",
		"backup_retention": DefaultBackupRetention.String(),
	})
	v.SetDefault("export", map[string]any{
		"dir":       "dist",
		"max_items": DefaultMaxItems,
	})
	v.SetDefault("build", map[string]any{
		"webhook_url": "",
	})
	v.SetDefault("log", map[string]any{
		"level":    "info",
		"encoding": "console",
	})
	v.SetDefault("schedule", map[string]any{
		"cron": DefaultCron,
	})
}

// Load reads configuration. When path is empty, config.yaml is looked up in
// the working directory and ./config; a missing file is not an error.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

// Validate checks the settings every command needs.
func (c *Config) Validate() error {
	var errs []error
	switch c.Database.Driver {
	case "sqlite3", "postgres":
	default:
		errs = append(errs, fmt.Errorf("database.driver %q is not supported", c.Database.Driver))
	}
	if c.Database.DSN == "" {
		errs = append(errs, errors.New("database.dsn is required"))
	}
	if c.Crawler.BatchSize <= 0 {
		errs = append(errs, errors.New("crawler.batch_size must be positive"))
	}
	if c.Crawler.Delay < 0 {
		errs = append(errs, errors.New("crawler.delay must not be negative"))
	}
	return join(errs)
}

// ValidateCatalog checks the settings of the catalog stage.
func (c *Config) ValidateCatalog() error {
	var errs []error
	if c.Catalog.AccessKey == "" || c.Catalog.SecretKey == "" {
		errs = append(errs, errors.New("catalog.access_key and catalog.secret_key are required"))
	}
	if c.Catalog.PartnerTag == "" {
		errs = append(errs, errors.New("catalog.partner_tag is required"))
	}
	if c.Catalog.Rate <= 0 {
		errs = append(errs, errors.New("catalog.rate must be positive"))
	}
	if c.Catalog.MaxRetries < 0 {
		errs = append(errs, errors.New("catalog.max_retries must not be negative"))
	}
	return join(errs)
}

// ValidateStorage checks the settings of the upload and backup commands.
func (c *Config) ValidateStorage() error {
	var errs []error
	if c.Storage.Endpoint == "" {
		errs = append(errs, errors.New("storage.endpoint is required"))
	}
	if c.Storage.DataBucket == "" || c.Storage.BackupBucket == "" {
		errs = append(errs, errors.New("storage.data_bucket and storage.backup_bucket are required"))
	}
	if c.Storage.BackupRetention <= 0 {
		errs = append(errs, errors.New("storage.backup_retention must be positive"))
	}
	return join(errs)
}

// ValidateBuild checks the build hook.
func (c *Config) ValidateBuild() error {
	if c.Build.WebhookURL == "" {
		return fmt.Errorf("%w: build.webhook_url is required", ErrInvalid)
	}
	return nil
}

func join(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
}
