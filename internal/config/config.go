package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	Database   DatabaseConfig   `yaml:"database"`
	Reddit     RedditConfig     `yaml:"reddit"`
	Stream     StreamConfig     `yaml:"stream"`
	Ingest     IngestConfig     `yaml:"ingest"`
	Moderation ModerationConfig `yaml:"moderation"`
	Log        LogConfig        `yaml:"log"`
	Server     ServerConfig     `yaml:"server"`
}

// DatabaseConfig selects the storage backend. Path is used by sqlite, DSN by
// postgres.
type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
	DSN    string `yaml:"dsn"`
}

// IsPostgres reports whether the postgres backend is selected.
func (d DatabaseConfig) IsPostgres() bool {
	switch strings.ToLower(d.Driver) {
	case "postgres", "postgresql", "pgx":
		return true
	}
	return false
}

// Source returns the value handed to the store driver.
func (d DatabaseConfig) Source() string {
	if d.IsPostgres() {
		return d.DSN
	}
	return d.Path
}

// RedditConfig holds upstream API credentials. Without a client id the public
// endpoints are used.
type RedditConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	UserAgent    string `yaml:"user_agent"`
	BaseURL      string `yaml:"base_url"`
}

// StreamConfig configures the watched communities and polling behavior.
type StreamConfig struct {
	Communities  []string `yaml:"communities"`
	SkipExisting bool     `yaml:"skip_existing"`
	MinWait      string   `yaml:"min_wait"`
	MaxWait      string   `yaml:"max_wait"`
	PageLimit    int      `yaml:"page_limit"`
}

// ParseMinWait returns the delay after the first empty poll.
func (s StreamConfig) ParseMinWait() time.Duration {
	d, err := time.ParseDuration(s.MinWait)
	if err != nil {
		return time.Second
	}
	return d
}

// ParseMaxWait returns the cap on the delay between empty polls.
func (s StreamConfig) ParseMaxWait() time.Duration {
	d, err := time.ParseDuration(s.MaxWait)
	if err != nil {
		return 16 * time.Second
	}
	return d
}

// IngestConfig tunes the ingestion pipeline.
type IngestConfig struct {
	// DoNotScanUsers keep their identity rows but are never snapshotted.
	DoNotScanUsers []string `yaml:"do_not_scan_users"`
}

// ModerationConfig lists communities and profile description fragments that
// would prompt moderator action. The lists are loaded and validated only;
// nothing acts on them.
type ModerationConfig struct {
	ReportSubs []string `yaml:"report_subs"`
	FilterSubs []string `yaml:"filter_subs"` // report and remove
	RemoveSubs []string `yaml:"remove_subs"`
	ReportDesc []string `yaml:"report_desc"`
	FilterDesc []string `yaml:"filter_desc"`
	RemoveDesc []string `yaml:"remove_desc"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "console"
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{
			Driver: "sqlite",
			Path:   "./subledger.db",
		},
		Reddit: RedditConfig{
			UserAgent: "subledger/1.0",
		},
		Stream: StreamConfig{
			SkipExisting: true,
			MinWait:      "1s",
			MaxWait:      "16s",
			PageLimit:    100,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Server: ServerConfig{Port: 8080},
	}
}

// Load reads configuration from a YAML file, applies env var overrides and
// validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides overrides config values with environment variables.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SUBLEDGER_DB_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv("SUBLEDGER_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("SUBLEDGER_DB_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("REDDIT_CLIENT_ID"); v != "" {
		cfg.Reddit.ClientID = v
	}
	if v := os.Getenv("REDDIT_CLIENT_SECRET"); v != "" {
		cfg.Reddit.ClientSecret = v
	}
	if v := os.Getenv("REDDIT_USER_AGENT"); v != "" {
		cfg.Reddit.UserAgent = v
	}
	if v := os.Getenv("SUBLEDGER_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
}

// Validate reports every problem found in cfg.
func (c *Config) Validate() error {
	var errs []error

	switch {
	case c.Database.IsPostgres():
		if c.Database.DSN == "" {
			errs = append(errs, errors.New("database.dsn is required for postgres"))
		}
	case c.Database.Driver == "" || strings.EqualFold(c.Database.Driver, "sqlite") || strings.EqualFold(c.Database.Driver, "sqlite3"):
		if c.Database.Path == "" {
			errs = append(errs, errors.New("database.path is required for sqlite"))
		}
	default:
		errs = append(errs, fmt.Errorf("database.driver %q: want sqlite or postgres", c.Database.Driver))
	}

	if len(c.Stream.Communities) == 0 {
		errs = append(errs, errors.New("stream.communities must name at least one community"))
	}
	for _, name := range c.Stream.Communities {
		if strings.TrimSpace(name) == "" || strings.ContainsAny(name, "+/ ") {
			errs = append(errs, fmt.Errorf("stream.communities: invalid name %q", name))
		}
	}
	if c.Stream.PageLimit < 1 || c.Stream.PageLimit > 100 {
		errs = append(errs, fmt.Errorf("stream.page_limit %d: want 1..100", c.Stream.PageLimit))
	}
	if c.Stream.ParseMaxWait() < c.Stream.ParseMinWait() {
		errs = append(errs, errors.New("stream.max_wait must not be shorter than stream.min_wait"))
	}

	if err := c.Moderation.validate(); err != nil {
		errs = append(errs, err)
	}

	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("log.format %q: want json or console", c.Log.Format))
	}

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// A community may appear in at most one of the action lists.
func (m ModerationConfig) validate() error {
	var errs []error
	owner := map[string]string{}
	lists := []struct {
		name  string
		items []string
	}{
		{"report_subs", m.ReportSubs},
		{"filter_subs", m.FilterSubs},
		{"remove_subs", m.RemoveSubs},
	}
	for _, l := range lists {
		for _, sub := range l.items {
			key := strings.ToLower(strings.TrimSpace(sub))
			if key == "" {
				errs = append(errs, fmt.Errorf("moderation.%s: empty entry", l.name))
				continue
			}
			if prev, ok := owner[key]; ok && prev != l.name {
				errs = append(errs, fmt.Errorf("moderation: %q listed in both %s and %s", sub, prev, l.name))
				continue
			}
			owner[key] = l.name
		}
	}

	for name, descs := range map[string][]string{
		"report_desc": m.ReportDesc,
		"filter_desc": m.FilterDesc,
		"remove_desc": m.RemoveDesc,
	} {
		for _, d := range descs {
			if strings.TrimSpace(d) == "" {
				errs = append(errs, fmt.Errorf("moderation.%s: empty entry", name))
			}
		}
	}
	return errors.Join(errs...)
}

var dsnCredentials = regexp.MustCompile(`://([^:/@\s]+):[^@\s]+@`)
var dsnPassword = regexp.MustCompile(`(?i)(password|pwd|pass)=[^;&\s]+`)

// RedactDSN masks passwords in a connection string so it can be logged.
func RedactDSN(dsn string) string {
	out := dsnCredentials.ReplaceAllString(dsn, "://${1}:xxxxx@")
	return dsnPassword.ReplaceAllString(out, "${1}=xxxxx")
}
