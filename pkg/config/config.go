package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/docker/go-units"
	"github.com/spf13/viper"
)

const (
	// EnvPrefix is the prefix for environment variable overrides.
	EnvPrefix = "REVIEWOOR"

	// DefaultLogLevel is the default logging level.
	DefaultLogLevel = "info"

	// DefaultListen is the default API listen address.
	DefaultListen = ":8080"

	// DefaultSessionTTL is the default session lifetime.
	DefaultSessionTTL = "24h"

	// DefaultMaxFiles is the per-run file ceiling.
	DefaultMaxFiles = 50

	// DefaultMaxFileSize is the largest file forwarded to the analyzer.
	DefaultMaxFileSize = "500KB"

	// DefaultQueueSize is the capacity of the job queue.
	DefaultQueueSize = 100

	// DefaultCacheTTL is how long terminal run details stay cached.
	DefaultCacheTTL = "15m"

	// DefaultCacheSize is the maximum number of cached run details.
	DefaultCacheSize = 1024

	// DefaultStaleRunTimeout is how long a run may stay active before the
	// reaper fails it.
	DefaultStaleRunTimeout = "1h"

	// DefaultReapInterval is how often the reaper looks for stale runs.
	DefaultReapInterval = "5m"

	// DefaultContentFetchConcurrency bounds parallel file-content fetches
	// when building a run detail.
	DefaultContentFetchConcurrency = 8

	// DefaultAnalyzerTimeout bounds a single analyzer call.
	DefaultAnalyzerTimeout = "120s"

	// DefaultGitHubRequestsPerSecond throttles outbound GitHub calls.
	DefaultGitHubRequestsPerSecond = 10.0
)

// DefaultExtensions is the allow-list of analyzable file extensions.
var DefaultExtensions = []string{
	".php", ".js", ".jsx", ".ts", ".tsx", ".py", ".java", ".c", ".cpp",
	".cs", ".rb", ".go", ".rs", ".swift", ".kt", ".scala", ".html", ".css",
	".vue",
}

// DefaultExcludePaths are path segments never sent for analysis.
var DefaultExcludePaths = []string{
	"node_modules", "vendor", ".git", "dist", "build", "coverage", ".next",
	"out",
}

// Config is the root configuration for reviewoor.
type Config struct {
	Global   GlobalConfig   `yaml:"global" mapstructure:"global"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Auth     AuthConfig     `yaml:"auth" mapstructure:"auth"`
	Database DatabaseConfig `yaml:"database" mapstructure:"database"`
	GitHub   GitHubConfig   `yaml:"github" mapstructure:"github"`
	Analyzer AnalyzerConfig `yaml:"analyzer" mapstructure:"analyzer"`
	Analysis AnalysisConfig `yaml:"analysis" mapstructure:"analysis"`
	Archive  ArchiveConfig  `yaml:"archive,omitempty" mapstructure:"archive"`
	Metrics  MetricsConfig  `yaml:"metrics,omitempty" mapstructure:"metrics"`
}

// GlobalConfig contains global application settings.
type GlobalConfig struct {
	LogLevel string `yaml:"log_level" mapstructure:"log_level"`
}

// Load reads one or more configuration files, merging them in order, and
// applies REVIEWOOR_* environment overrides on top.
func Load(paths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	for i, path := range paths {
		v.SetConfigFile(path)

		var err error
		if i == 0 {
			err = v.ReadInConfig()
		} else {
			err = v.MergeInConfig()
		}

		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.applyDefaults()

	return &cfg, nil
}

// setDefaults registers every key with viper so that AutomaticEnv can
// override keys that are absent from the config files.
func setDefaults(v *viper.Viper) {
	v.SetDefault("global.log_level", DefaultLogLevel)

	v.SetDefault("server.listen", DefaultListen)
	v.SetDefault("server.cors_origins", []string{})
	v.SetDefault("server.rate_limit.enabled", false)
	v.SetDefault("server.rate_limit.auth.requests_per_minute", 10)
	v.SetDefault("server.rate_limit.analyze.requests_per_minute", 30)
	v.SetDefault("server.rate_limit.authenticated.requests_per_minute", 300)

	v.SetDefault("auth.session_ttl", DefaultSessionTTL)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.sqlite.path", "reviewoor.db")
	v.SetDefault("database.postgres.host", "")
	v.SetDefault("database.postgres.port", 5432)
	v.SetDefault("database.postgres.user", "")
	v.SetDefault("database.postgres.password", "")
	v.SetDefault("database.postgres.database", "")
	v.SetDefault("database.postgres.ssl_mode", "disable")

	v.SetDefault("github.token", "")
	v.SetDefault("github.base_url", "")
	v.SetDefault("github.requests_per_second", DefaultGitHubRequestsPerSecond)

	v.SetDefault("analyzer.url", "")
	v.SetDefault("analyzer.secret", "")
	v.SetDefault("analyzer.timeout", DefaultAnalyzerTimeout)

	v.SetDefault("analysis.max_files", DefaultMaxFiles)
	v.SetDefault("analysis.max_file_size", DefaultMaxFileSize)
	v.SetDefault("analysis.extensions", DefaultExtensions)
	v.SetDefault("analysis.exclude_paths", DefaultExcludePaths)
	v.SetDefault("analysis.queue_size", DefaultQueueSize)
	v.SetDefault("analysis.cache_ttl", DefaultCacheTTL)
	v.SetDefault("analysis.cache_size", DefaultCacheSize)
	v.SetDefault("analysis.stale_run_timeout", DefaultStaleRunTimeout)
	v.SetDefault("analysis.reap_interval", DefaultReapInterval)
	v.SetDefault(
		"analysis.content_fetch_concurrency", DefaultContentFetchConcurrency,
	)

	v.SetDefault("metrics.enabled", true)
}

// applyDefaults sets default values for options that cannot be expressed
// as viper defaults.
func (c *Config) applyDefaults() {
	if c.Global.LogLevel == "" {
		c.Global.LogLevel = DefaultLogLevel
	}

	if len(c.Analysis.Extensions) == 0 {
		c.Analysis.Extensions = append([]string(nil), DefaultExtensions...)
	}

	if len(c.Analysis.ExcludePaths) == 0 {
		c.Analysis.ExcludePaths = append([]string(nil), DefaultExcludePaths...)
	}

	if c.Database.Postgres.SSLMode == "" {
		c.Database.Postgres.SSLMode = "disable"
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.Listen == "" {
		return fmt.Errorf("server.listen is required")
	}

	switch c.Database.Driver {
	case "sqlite":
		if c.Database.SQLite.Path == "" {
			return fmt.Errorf("database.sqlite.path is required")
		}
	case "postgres":
		if c.Database.Postgres.Host == "" {
			return fmt.Errorf("database.postgres.host is required")
		}

		if c.Database.Postgres.Database == "" {
			return fmt.Errorf("database.postgres.database is required")
		}
	default:
		return fmt.Errorf(
			"database.driver must be sqlite or postgres, got %q",
			c.Database.Driver,
		)
	}

	if c.Analyzer.URL == "" {
		return fmt.Errorf("analyzer.url is required")
	}

	if _, err := url.ParseRequestURI(c.Analyzer.URL); err != nil {
		return fmt.Errorf("analyzer.url: %w", err)
	}

	if c.GitHub.BaseURL != "" {
		if _, err := url.ParseRequestURI(c.GitHub.BaseURL); err != nil {
			return fmt.Errorf("github.base_url: %w", err)
		}
	}

	if c.GitHub.RequestsPerSecond < 0 {
		return fmt.Errorf("github.requests_per_second must not be negative")
	}

	durations := map[string]string{
		"auth.session_ttl":           c.Auth.SessionTTL,
		"analyzer.timeout":           c.Analyzer.Timeout,
		"analysis.cache_ttl":         c.Analysis.CacheTTL,
		"analysis.stale_run_timeout": c.Analysis.StaleRunTimeout,
		"analysis.reap_interval":     c.Analysis.ReapInterval,
	}

	for key, value := range durations {
		if value == "" {
			continue
		}

		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("%s: invalid duration %q: %w", key, value, err)
		}
	}

	if _, err := units.RAMInBytes(c.Analysis.MaxFileSize); err != nil {
		return fmt.Errorf(
			"analysis.max_file_size: invalid size %q: %w",
			c.Analysis.MaxFileSize, err,
		)
	}

	if c.Analysis.MaxFiles < 0 {
		return fmt.Errorf("analysis.max_files must not be negative")
	}

	if c.Analysis.QueueSize <= 0 {
		return fmt.Errorf("analysis.queue_size must be positive")
	}

	for i, ext := range c.Analysis.Extensions {
		if !strings.HasPrefix(ext, ".") {
			return fmt.Errorf(
				"analysis.extensions[%d]: %q must start with a dot", i, ext,
			)
		}
	}

	if err := c.Archive.validate(); err != nil {
		return err
	}

	for i, u := range c.Auth.Users {
		if u.Username == "" || u.Password == "" {
			return fmt.Errorf(
				"auth.users[%d]: username and password are required", i,
			)
		}
	}

	return nil
}

// Redacted returns a copy of the config with secrets masked, suitable for
// printing.
func (c *Config) Redacted() *Config {
	out := *c

	out.GitHub.Token = mask(c.GitHub.Token)
	out.Analyzer.Secret = mask(c.Analyzer.Secret)
	out.Database.Postgres.Password = mask(c.Database.Postgres.Password)

	if c.Archive.S3 != nil {
		s3 := *c.Archive.S3
		s3.SecretAccessKey = mask(s3.SecretAccessKey)
		out.Archive.S3 = &s3
	}

	out.Auth.Users = make([]AuthUser, len(c.Auth.Users))
	for i, u := range c.Auth.Users {
		u.Password = mask(u.Password)
		out.Auth.Users[i] = u
	}

	return &out
}

func mask(s string) string {
	if s == "" {
		return ""
	}

	return "********"
}

// parseDuration parses a duration string, falling back to def when the
// value is empty or invalid. Validate rejects invalid values up front.
func parseDuration(value, def string) time.Duration {
	if value == "" {
		value = def
	}

	d, err := time.ParseDuration(value)
	if err != nil {
		d, _ = time.ParseDuration(def)
	}

	return d
}
