package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dmarceye/internal/faults"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "data/dmarceye.db", cfg.Database.Path)
	assert.Equal(t, 100, cfg.Jobs.QueueSize)
	assert.Equal(t, 5*time.Minute, cfg.Jobs.MaxExecutionTime)
	assert.Equal(t, 90, cfg.Retention.ForensicDays)
	assert.Equal(t, "INBOX", cfg.IMAP.Mailbox)
}

func TestLoadConfigFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	yaml := `
database:
  driver: postgres
  dsn: "host=localhost user=dmarc dbname=dmarc"
jobs:
  queue_size: 25
  max_execution_time: 90s
email:
  smtp_host: smtp.example.org
  from: reports@example.org
  receivers:
    - postmaster@example.org
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))
	t.Setenv("DMARCEYE_RETENTION_TLS_DAYS", "30")

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, 25, cfg.Jobs.QueueSize)
	assert.Equal(t, 90*time.Second, cfg.Jobs.MaxExecutionTime)
	assert.Equal(t, []string{"postmaster@example.org"}, cfg.Email.Receivers)
	assert.Equal(t, 30, cfg.Retention.TLSDays)
	assert.NoError(t, cfg.Validate("hourly"))
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			Database: DatabaseConfig{Driver: "sqlite", Path: "x.db"},
			Jobs:     JobsConfig{QueueSize: 10, MaxExecutionTime: 5 * time.Minute, ClaimLease: 15 * time.Minute},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		job     string
		wantErr bool
	}{
		{name: "daily ok", job: "daily"},
		{name: "unknown driver", job: "daily", mutate: func(c *Config) { c.Database.Driver = "oracle" }, wantErr: true},
		{name: "postgres without dsn", job: "daily", mutate: func(c *Config) { c.Database.Driver = "postgres" }, wantErr: true},
		{name: "imap without host", job: "imap", wantErr: true},
		{name: "imap ok", job: "imap", mutate: func(c *Config) { c.IMAP = IMAPConfig{Host: "imap.example.org", Username: "dmarc"} }},
		{name: "hourly without smtp", job: "hourly", wantErr: true},
		{name: "zero queue", job: "daily", mutate: func(c *Config) { c.Jobs.QueueSize = 0 }, wantErr: true},
		{name: "unbounded run", job: "daily", mutate: func(c *Config) { c.Jobs.MaxExecutionTime = 0 }, wantErr: true},
		{name: "lease equal to run", job: "daily", mutate: func(c *Config) { c.Jobs.ClaimLease = 5 * time.Minute }, wantErr: true},
		{name: "lease shorter than run", job: "daily", mutate: func(c *Config) { c.Jobs.MaxExecutionTime = 20 * time.Minute }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			if tt.mutate != nil {
				tt.mutate(cfg)
			}
			err := cfg.Validate(tt.job)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, faults.Is(err, faults.FatalConfig))
				return
			}
			assert.NoError(t, err)
		})
	}
}
