package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_YAMLOverDefaults(t *testing.T) {
	path := writeConfig(t, `
stream:
  communities: [golang, rust]
  skip_existing: true
  max_wait: 30s
ingest:
  do_not_scan_users: [AutoModerator]
moderation:
  report_subs: [badsub]
  filter_desc: ["onlyfans"]
log:
  format: console
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"golang", "rust"}, cfg.Stream.Communities)
	assert.True(t, cfg.Stream.SkipExisting)
	assert.Equal(t, time.Second, cfg.Stream.ParseMinWait())
	assert.Equal(t, 30*time.Second, cfg.Stream.ParseMaxWait())
	assert.Equal(t, 100, cfg.Stream.PageLimit)
	assert.Equal(t, []string{"AutoModerator"}, cfg.Ingest.DoNotScanUsers)
	assert.Equal(t, []string{"badsub"}, cfg.Moderation.ReportSubs)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "./subledger.db", cfg.Database.Source())
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	path := writeConfig(t, `
database:
  path: from-yaml.db
stream:
  communities: [golang]
`)
	t.Setenv("SUBLEDGER_DB_PATH", "from-env.db")
	t.Setenv("REDDIT_CLIENT_ID", "id")
	t.Setenv("REDDIT_CLIENT_SECRET", "secret")
	t.Setenv("SUBLEDGER_LOG_LEVEL", "debug")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env.db", cfg.Database.Path)
	assert.Equal(t, "id", cfg.Reddit.ClientID)
	assert.Equal(t, "secret", cfg.Reddit.ClientSecret)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_PostgresFromEnv(t *testing.T) {
	path := writeConfig(t, "stream:\n  communities: [golang]\n")
	t.Setenv("SUBLEDGER_DB_DRIVER", "postgres")
	t.Setenv("SUBLEDGER_DB_DSN", "postgres://u:p@localhost/db")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.True(t, cfg.Database.IsPostgres())
	assert.Equal(t, "postgres://u:p@localhost/db", cfg.Database.Source())
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestLoad_BadYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "stream: [unterminated"))
	require.Error(t, err)
}

func TestParseWait_Fallbacks(t *testing.T) {
	s := StreamConfig{MinWait: "soon", MaxWait: ""}
	assert.Equal(t, time.Second, s.ParseMinWait())
	assert.Equal(t, 16*time.Second, s.ParseMaxWait())
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := Default()
		cfg.Stream.Communities = []string{"golang"}
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"ok", func(*Config) {}, ""},
		{"no communities", func(c *Config) { c.Stream.Communities = nil }, "stream.communities"},
		{"joined community name", func(c *Config) { c.Stream.Communities = []string{"a+b"} }, "invalid name"},
		{"postgres without dsn", func(c *Config) { c.Database.Driver = "postgres" }, "database.dsn"},
		{"unknown driver", func(c *Config) { c.Database.Driver = "mysql" }, "database.driver"},
		{"sqlite without path", func(c *Config) { c.Database.Path = "" }, "database.path"},
		{"page limit", func(c *Config) { c.Stream.PageLimit = 500 }, "page_limit"},
		{"wait order", func(c *Config) { c.Stream.MinWait, c.Stream.MaxWait = "10s", "1s" }, "max_wait"},
		{"log level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
		{"log format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
		{"bad port", func(c *Config) { c.Server.Port = 70000 }, "server.port"},
		{"sub in two lists", func(c *Config) {
			c.Moderation.ReportSubs = []string{"Spam"}
			c.Moderation.RemoveSubs = []string{"spam"}
		}, "both report_subs and remove_subs"},
		{"empty desc", func(c *Config) { c.Moderation.RemoveDesc = []string{" "} }, "remove_desc"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestRedactDSN(t *testing.T) {
	assert.Equal(t, "postgres://app:xxxxx@db:5432/ledger?sslmode=disable",
		RedactDSN("postgres://app:hunter2@db:5432/ledger?sslmode=disable"))
	assert.Equal(t, "host=db user=app password=xxxxx dbname=ledger",
		RedactDSN("host=db user=app password=hunter2 dbname=ledger"))
	assert.Equal(t, "./subledger.db", RedactDSN("./subledger.db"))
}
