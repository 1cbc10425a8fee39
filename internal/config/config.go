package config

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/dmarceye/internal/faults"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const envPrefix = "DMARCEYE"

type Config struct {
	Database  DatabaseConfig  `mapstructure:"database"`
	IMAP      IMAPConfig      `mapstructure:"imap"`
	Email     EmailConfig     `mapstructure:"email"`
	Slack     SlackConfig     `mapstructure:"slack"`
	Jobs      JobsConfig      `mapstructure:"jobs"`
	Retention RetentionConfig `mapstructure:"retention"`
	Reports   ReportsConfig   `mapstructure:"reports"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Log       LogConfig       `mapstructure:"log"`
}

type DatabaseConfig struct {
	Driver string `mapstructure:"driver"` // sqlite or postgres
	Path   string `mapstructure:"path"`   // SQLite database file path
	DSN    string `mapstructure:"dsn"`
}

type IMAPConfig struct {
	Host             string `mapstructure:"host"`
	Port             int    `mapstructure:"port"`
	Username         string `mapstructure:"username"`
	Password         string `mapstructure:"password"`
	TLS              bool   `mapstructure:"tls"`
	Mailbox          string `mapstructure:"mailbox"`
	ProcessedMailbox string `mapstructure:"processed_mailbox"`
	ErrorMailbox     string `mapstructure:"error_mailbox"`
}

type EmailConfig struct {
	SMTPHost string `mapstructure:"smtp_host"`
	SMTPPort int    `mapstructure:"smtp_port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`

	// Receivers get alert notifications for rules without their own recipients.
	Receivers []string `mapstructure:"receivers"`
}

type SlackConfig struct {
	Token   string `mapstructure:"token"`
	Channel string `mapstructure:"channel"`
}

type JobsConfig struct {
	MaxExecutionTime time.Duration `mapstructure:"max_execution_time"`
	MemoryLimit      int64         `mapstructure:"memory_limit"` // bytes, 0 = runtime default
	QueueSize        int           `mapstructure:"queue_size"`
	ClaimLease       time.Duration `mapstructure:"claim_lease"`
}

// RetentionConfig holds per report type ages in days. Zero keeps rows forever.
type RetentionConfig struct {
	AggregateDays int `mapstructure:"aggregate_days"`
	ForensicDays  int `mapstructure:"forensic_days"`
	TLSDays       int `mapstructure:"tls_days"`
}

type ReportsConfig struct {
	OutputDir string `mapstructure:"output_dir"`
}

type MetricsConfig struct {
	PushgatewayURL string `mapstructure:"pushgateway_url"`
	Job            string `mapstructure:"job"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "data/dmarceye.db")
	v.SetDefault("imap.port", 993)
	v.SetDefault("imap.tls", true)
	v.SetDefault("imap.mailbox", "INBOX")
	v.SetDefault("email.smtp_port", 587)
	v.SetDefault("jobs.max_execution_time", 5*time.Minute)
	v.SetDefault("jobs.memory_limit", 0)
	v.SetDefault("jobs.queue_size", 100)
	v.SetDefault("jobs.claim_lease", 15*time.Minute)
	v.SetDefault("retention.aggregate_days", 365)
	v.SetDefault("retention.forensic_days", 90)
	v.SetDefault("retention.tls_days", 365)
	v.SetDefault("reports.output_dir", "data/reports")
	v.SetDefault("metrics.job", "dmarceye")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// LoadConfig reads config.yaml from path, then applies DMARCEYE_* environment
// overrides. A missing config file is not an error; defaults and environment
// still apply.
func LoadConfig(path string) (*Config, error) {
	// .env is optional
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, faults.Config("load .env", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(path)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, faults.Config("read config file", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, faults.Config("unmarshal config", err)
	}
	return &cfg, nil
}

// Validate checks the settings the given job type cannot run without.
func (c *Config) Validate(job string) error {
	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			return faults.Configf("database.path is required for the sqlite driver")
		}
	case "postgres":
		if c.Database.DSN == "" {
			return faults.Configf("database.dsn is required for the postgres driver")
		}
	default:
		return faults.Configf("database.driver %q is not supported", c.Database.Driver)
	}

	if c.Jobs.QueueSize <= 0 {
		return faults.Configf("jobs.queue_size must be positive")
	}
	// A claim must outlive the run holding it, or the next tick takes over
	// an item that is still being sent.
	if c.Jobs.MaxExecutionTime <= 0 {
		return faults.Configf("jobs.max_execution_time must be positive")
	}
	if c.Jobs.ClaimLease <= c.Jobs.MaxExecutionTime {
		return faults.Configf("jobs.claim_lease (%s) must be longer than jobs.max_execution_time (%s)",
			c.Jobs.ClaimLease, c.Jobs.MaxExecutionTime)
	}

	switch job {
	case "imap":
		if c.IMAP.Host == "" || c.IMAP.Username == "" {
			return faults.Configf("imap.host and imap.username are required for the imap job")
		}
	case "hourly":
		if c.Email.SMTPHost == "" || c.Email.From == "" {
			return faults.Configf("email.smtp_host and email.from are required for the hourly job")
		}
	}
	return nil
}
