package config

import (
	"fmt"
	"time"

	"github.com/docker/go-units"
)

// GitHubConfig contains settings for the source repository host.
type GitHubConfig struct {
	// Token is the system token used when a request carries none.
	Token string `yaml:"token,omitempty" mapstructure:"token"`
	// BaseURL overrides the API endpoint (GitHub Enterprise or tests).
	BaseURL           string  `yaml:"base_url,omitempty" mapstructure:"base_url"`
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
}

// AnalyzerConfig contains settings for the remote analysis engine.
type AnalyzerConfig struct {
	URL     string `yaml:"url" mapstructure:"url"`
	Secret  string `yaml:"secret,omitempty" mapstructure:"secret"`
	Timeout string `yaml:"timeout" mapstructure:"timeout"`
}

// TimeoutDuration returns the parsed analyzer call timeout.
func (c *AnalyzerConfig) TimeoutDuration() time.Duration {
	return parseDuration(c.Timeout, DefaultAnalyzerTimeout)
}

// AnalysisConfig tunes the run pipeline.
type AnalysisConfig struct {
	MaxFiles                int      `yaml:"max_files" mapstructure:"max_files"`
	MaxFileSize             string   `yaml:"max_file_size" mapstructure:"max_file_size"`
	Extensions              []string `yaml:"extensions,omitempty" mapstructure:"extensions"`
	ExcludePaths            []string `yaml:"exclude_paths,omitempty" mapstructure:"exclude_paths"`
	QueueSize               int      `yaml:"queue_size" mapstructure:"queue_size"`
	CacheTTL                string   `yaml:"cache_ttl" mapstructure:"cache_ttl"`
	CacheSize               int      `yaml:"cache_size" mapstructure:"cache_size"`
	StaleRunTimeout         string   `yaml:"stale_run_timeout" mapstructure:"stale_run_timeout"`
	ReapInterval            string   `yaml:"reap_interval" mapstructure:"reap_interval"`
	ContentFetchConcurrency int      `yaml:"content_fetch_concurrency" mapstructure:"content_fetch_concurrency"`
}

// MaxFileSizeBytes returns the parsed per-file size ceiling.
func (c *AnalysisConfig) MaxFileSizeBytes() int64 {
	size, err := units.RAMInBytes(c.MaxFileSize)
	if err != nil {
		size, _ = units.RAMInBytes(DefaultMaxFileSize)
	}

	return size
}

// CacheTTLDuration returns the parsed result cache TTL.
func (c *AnalysisConfig) CacheTTLDuration() time.Duration {
	return parseDuration(c.CacheTTL, DefaultCacheTTL)
}

// StaleRunTimeoutDuration returns the parsed staleness timeout. Zero
// disables the reaper.
func (c *AnalysisConfig) StaleRunTimeoutDuration() time.Duration {
	return parseDuration(c.StaleRunTimeout, DefaultStaleRunTimeout)
}

// ReapIntervalDuration returns how often the reaper runs.
func (c *AnalysisConfig) ReapIntervalDuration() time.Duration {
	return parseDuration(c.ReapInterval, DefaultReapInterval)
}

// ArchiveConfig selects where raw analyzer output is archived.
// Only one backend (S3 or local) may be enabled at a time.
type ArchiveConfig struct {
	S3    *S3ArchiveConfig    `yaml:"s3,omitempty" mapstructure:"s3"`
	Local *LocalArchiveConfig `yaml:"local,omitempty" mapstructure:"local"`
}

// S3ArchiveConfig contains S3 settings for the archive.
type S3ArchiveConfig struct {
	Enabled         bool   `yaml:"enabled" mapstructure:"enabled"`
	EndpointURL     string `yaml:"endpoint_url,omitempty" mapstructure:"endpoint_url"`
	Region          string `yaml:"region,omitempty" mapstructure:"region"`
	Bucket          string `yaml:"bucket" mapstructure:"bucket"`
	Prefix          string `yaml:"prefix,omitempty" mapstructure:"prefix"`
	AccessKeyID     string `yaml:"access_key_id,omitempty" mapstructure:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key,omitempty" mapstructure:"secret_access_key"`
	ForcePathStyle  bool   `yaml:"force_path_style" mapstructure:"force_path_style"`
}

// LocalArchiveConfig archives to a directory on disk.
type LocalArchiveConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Dir     string `yaml:"dir" mapstructure:"dir"`
}

func (c *ArchiveConfig) validate() error {
	s3Enabled := c.S3 != nil && c.S3.Enabled
	localEnabled := c.Local != nil && c.Local.Enabled

	if s3Enabled && localEnabled {
		return fmt.Errorf("archive: only one of s3 or local may be enabled")
	}

	if s3Enabled && c.S3.Bucket == "" {
		return fmt.Errorf("archive.s3.bucket is required")
	}

	if localEnabled && c.Local.Dir == "" {
		return fmt.Errorf("archive.local.dir is required")
	}

	return nil
}
