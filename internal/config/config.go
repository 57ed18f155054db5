// Package config loads casewizard settings from a YAML file and CASEWIZARD_*
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"casewizard/internal/blob"
	"casewizard/internal/credits"
	"casewizard/internal/persistence"
)

// Config is the full application configuration.
type Config struct {
	OwnerID         string        `yaml:"owner_id"`
	Storage         StorageConfig `yaml:"storage"`
	Blob            BlobConfig    `yaml:"blob"`
	Remote          RemoteConfig  `yaml:"remote"`
	Credits         CreditsConfig `yaml:"credits"`
	Retry           RetryConfig   `yaml:"retry,omitempty"`
	DraftExpiryDays int           `yaml:"draft_expiry_days,omitempty"`
	CompletionDelay string        `yaml:"completion_delay,omitempty"` // e.g. "1500ms"
}

// StorageConfig selects the records backend.
type StorageConfig struct {
	Driver      persistence.Driver `yaml:"driver"`
	SQLitePath  string             `yaml:"sqlite_path,omitempty"`
	PostgresDSN string             `yaml:"postgres_dsn,omitempty"`
}

// BlobConfig selects the backend for photos and drafts.
type BlobConfig struct {
	Driver blob.Driver   `yaml:"driver"`
	FSRoot string        `yaml:"fs_root,omitempty"`
	S3     blob.S3Config `yaml:"s3,omitempty"`
}

// RemoteConfig points at the analysis and protocol services.
type RemoteConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key,omitempty"`
	Timeout string `yaml:"timeout,omitempty"` // e.g. "60s"
}

// CreditsConfig seeds the local ledger.
type CreditsConfig struct {
	StartingBalance int            `yaml:"starting_balance"`
	Costs           map[string]int `yaml:"costs,omitempty"`
}

// RetryConfig tunes retry of remote calls.
type RetryConfig struct {
	AnalysisRetries int    `yaml:"analysis_retries,omitempty"`
	AnalysisBackoff string `yaml:"analysis_backoff,omitempty"` // initial delay, doubled per retry
	ProtocolRetries int    `yaml:"protocol_retries,omitempty"`
	ProtocolBackoff string `yaml:"protocol_backoff,omitempty"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		OwnerID: "local",
		Storage: StorageConfig{Driver: persistence.DriverSQLite, SQLitePath: "casewizard.db"},
		Blob:    BlobConfig{Driver: blob.DriverFilesystem, FSRoot: "casewizard-blobs"},
		Remote:  RemoteConfig{Timeout: "60s"},
		Credits: CreditsConfig{StartingBalance: 10, Costs: credits.DefaultCosts()},
		Retry: RetryConfig{
			AnalysisRetries: 2,
			AnalysisBackoff: "3s",
			ProtocolRetries: 2,
			ProtocolBackoff: "2s",
		},
		DraftExpiryDays: 7,
		CompletionDelay: "1500ms",
	}
}

// Load reads path over the defaults. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv overrides fields from the environment. getenv is usually
// os.Getenv.
//
//	CASEWIZARD_OWNER_ID
//	CASEWIZARD_STORAGE_DRIVER: memory|sqlite|postgres
//	CASEWIZARD_SQLITE_PATH
//	CASEWIZARD_POSTGRES_DSN
//	CASEWIZARD_BLOB_DRIVER: fs|s3|memory
//	CASEWIZARD_BLOB_FS_ROOT
//	CASEWIZARD_BLOB_S3_BUCKET, _REGION, _ENDPOINT, _PATH_STYLE
//	CASEWIZARD_REMOTE_BASE_URL, CASEWIZARD_REMOTE_API_KEY
func (c *Config) ApplyEnv(getenv func(string) string) error {
	set := func(key string, dst *string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	set("CASEWIZARD_OWNER_ID", &c.OwnerID)
	if v := strings.TrimSpace(getenv("CASEWIZARD_STORAGE_DRIVER")); v != "" {
		c.Storage.Driver = persistence.Driver(v)
	}
	set("CASEWIZARD_SQLITE_PATH", &c.Storage.SQLitePath)
	set("CASEWIZARD_POSTGRES_DSN", &c.Storage.PostgresDSN)
	if v := strings.TrimSpace(getenv("CASEWIZARD_BLOB_DRIVER")); v != "" {
		c.Blob.Driver = blob.Driver(v)
	}
	set("CASEWIZARD_BLOB_FS_ROOT", &c.Blob.FSRoot)
	set("CASEWIZARD_BLOB_S3_BUCKET", &c.Blob.S3.Bucket)
	set("CASEWIZARD_BLOB_S3_REGION", &c.Blob.S3.Region)
	set("CASEWIZARD_BLOB_S3_ENDPOINT", &c.Blob.S3.Endpoint)
	if v := strings.TrimSpace(getenv("CASEWIZARD_BLOB_S3_PATH_STYLE")); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("CASEWIZARD_BLOB_S3_PATH_STYLE: %w", err)
		}
		c.Blob.S3.PathStyle = b
	}
	set("CASEWIZARD_REMOTE_BASE_URL", &c.Remote.BaseURL)
	set("CASEWIZARD_REMOTE_API_KEY", &c.Remote.APIKey)
	return nil
}

// Validate checks driver names and duration strings.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.OwnerID) == "" {
		errs = append(errs, errors.New("owner_id is required"))
	}
	switch c.Storage.Driver {
	case persistence.DriverMemory, persistence.DriverSQLite:
	case persistence.DriverPostgres:
		if c.Storage.PostgresDSN == "" {
			errs = append(errs, errors.New("storage.postgres_dsn is required for postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage driver %q", c.Storage.Driver))
	}
	switch c.Blob.Driver {
	case blob.DriverFilesystem, blob.DriverMemory:
	case blob.DriverS3:
		if c.Blob.S3.Bucket == "" {
			errs = append(errs, errors.New("blob.s3.bucket is required for s3"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown blob driver %q", c.Blob.Driver))
	}
	if c.Credits.StartingBalance < 0 {
		errs = append(errs, errors.New("credits.starting_balance must not be negative"))
	}
	if c.DraftExpiryDays < 0 {
		errs = append(errs, errors.New("draft_expiry_days must not be negative"))
	}
	for name, value := range map[string]string{
		"remote.timeout":         c.Remote.Timeout,
		"retry.analysis_backoff": c.Retry.AnalysisBackoff,
		"retry.protocol_backoff": c.Retry.ProtocolBackoff,
		"completion_delay":       c.CompletionDelay,
	} {
		if _, err := parseDuration(value); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// Marshal renders c as YAML.
func (c *Config) Marshal() ([]byte, error) { return yaml.Marshal(c) }

// RemoteTimeout returns the per-request timeout, zero for the client default.
func (c *Config) RemoteTimeout() time.Duration { return mustDuration(c.Remote.Timeout) }

// AnalysisBackoff returns the initial analysis retry delay.
func (c *Config) AnalysisBackoff() time.Duration { return mustDuration(c.Retry.AnalysisBackoff) }

// ProtocolBackoff returns the initial protocol retry delay.
func (c *Config) ProtocolBackoff() time.Duration { return mustDuration(c.Retry.ProtocolBackoff) }

// CompletionDelayDuration returns the pause before a submission is marked
// complete.
func (c *Config) CompletionDelayDuration() time.Duration { return mustDuration(c.CompletionDelay) }

// DraftExpiry returns how long drafts stay restorable.
func (c *Config) DraftExpiry() time.Duration {
	return time.Duration(c.DraftExpiryDays) * 24 * time.Hour
}

func parseDuration(s string) (time.Duration, error) {
	if strings.TrimSpace(s) == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %s", s)
	}
	return d, nil
}

// mustDuration is only used after Validate.
func mustDuration(s string) time.Duration {
	d, _ := parseDuration(s)
	return d
}
