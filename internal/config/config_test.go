package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JohanCodinha/jtime/internal/sync"
)

func testFlags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.String("database", "", "")
	fs.String("log-level", "", "")
	fs.String("log-file", "", "")
	return fs
}

func TestLoad_CreatesDefaults(t *testing.T) {
	dataHome := t.TempDir()
	t.Setenv("XDG_DATA_HOME", dataHome)
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg, err := Load(path, testFlags())
	require.NoError(t, err)

	assert.Equal(t, path, cfg.Path)
	assert.Equal(t, filepath.Join(dataHome, "jtime", "jtime.db"), cfg.Database)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 50, cfg.Issues.Limit)
	assert.Equal(t, sync.DefaultQueries, cfg.Issues.Queries)
	assert.Equal(t, 50, cfg.Worklogs.Limit)
	assert.Equal(t, 4, cfg.Submit.Concurrency)
	assert.Equal(t, 30*time.Second, cfg.HTTP.Timeout)

	_, err = os.Stat(path)
	assert.NoError(t, err, "default config file should be written")
}

func TestLoad_FileValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `database: /tmp/work.db
log_level: debug
issues:
  limit: 10
  queries:
    - project = OPS
submit:
  concurrency: 2
http:
  timeout: 5s
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/work.db", cfg.Database)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 10, cfg.Issues.Limit)
	assert.Equal(t, []string{"project = OPS"}, cfg.Issues.Queries)
	assert.Equal(t, 2, cfg.Submit.Concurrency)
	assert.Equal(t, 5*time.Second, cfg.HTTP.Timeout)
	assert.Equal(t, 50, cfg.Worklogs.Limit)
}

func TestLoad_Precedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log_level: warn\ndatabase: /from/file.db\n"), 0644))

	t.Setenv("JTIME_LOG_LEVEL", "error")
	t.Setenv("JTIME_ISSUES_LIMIT", "7")

	flags := testFlags()
	require.NoError(t, flags.Parse([]string{"--database", "/from/flag.db"}))

	cfg, err := Load(path, flags)
	require.NoError(t, err)
	assert.Equal(t, "error", cfg.LogLevel, "env beats file")
	assert.Equal(t, "/from/flag.db", cfg.Database, "flag beats file")
	assert.Equal(t, 7, cfg.Issues.Limit)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"bad level", "log_level: loud\n", "unknown log level"},
		{"zero limit", "issues:\n  limit: 0\n", "issues.limit"},
		{"negative concurrency", "submit:\n  concurrency: -1\n", "submit.concurrency"},
		{"broken yaml", "issues: [\n", "failed to read config"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0644))

			_, err := Load(path, nil)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
