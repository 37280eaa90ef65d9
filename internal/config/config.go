// Package config loads snapbridge configuration from defaults, an optional
// YAML file, SNAPBRIDGE_ environment variables and runtime overrides.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/3leaps/snapbridge/internal/observability"
	"github.com/3leaps/snapbridge/pkg/builder"
	"github.com/3leaps/snapbridge/pkg/history"
	"github.com/3leaps/snapbridge/pkg/notify"
	"github.com/3leaps/snapbridge/pkg/preflight"
	"github.com/3leaps/snapbridge/pkg/recordstore"
)

// Config is the complete service configuration. It is not modified after
// Load returns it.
type Config struct {
	Server       ServerConfig         `mapstructure:"server"`
	Logging      LoggingConfig        `mapstructure:"logging"`
	Content      ContentConfig        `mapstructure:"content"`
	Restoration  RestorationConfig    `mapstructure:"restoration"`
	Orchestrator OrchestratorConfig   `mapstructure:"orchestrator"`
	Transfer     TransferConfig       `mapstructure:"transfer"`
	History      HistoryConfig        `mapstructure:"history"`
	Store        StoreConfig          `mapstructure:"store"`
	Online       builder.OnlineConfig `mapstructure:"online"`
	Preflight    string               `mapstructure:"preflight"`
	Notify       NotifyConfig         `mapstructure:"notify"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ContentConfig locates snapshot content and per-run item logs.
type ContentConfig struct {
	RootDir string `mapstructure:"root_dir"`
	WorkDir string `mapstructure:"work_dir"`
}

type RestorationConfig struct {
	RootDir string `mapstructure:"root_dir"`
}

type OrchestratorConfig struct {
	Workers   int `mapstructure:"workers"`
	QueueSize int `mapstructure:"queue_size"`
}

type TransferConfig struct {
	CommitInterval            int           `mapstructure:"commit_interval"`
	ThrottleLimit             int           `mapstructure:"throttle_limit"`
	MaxRetries                int           `mapstructure:"max_retries"`
	RetryBackoff              time.Duration `mapstructure:"retry_backoff"`
	ItemsPerSecond            float64       `mapstructure:"items_per_second"`
	RetryBufferMaxMemoryBytes int64         `mapstructure:"retry_buffer_max_memory_bytes"`
}

// HistoryConfig selects the job-run history backend.
type HistoryConfig struct {
	Backend   string `mapstructure:"backend"`
	Path      string `mapstructure:"path"`
	URL       string `mapstructure:"url"`
	AuthToken string `mapstructure:"auth_token"`
	RedisURL  string `mapstructure:"redis_url"`
	PageSize  int    `mapstructure:"page_size"`
}

// StoreConfig selects the record store backend.
type StoreConfig struct {
	Backend     string `mapstructure:"backend"`
	Path        string `mapstructure:"path"`
	DatabaseURL string `mapstructure:"database_url"`
	MaxConns    int    `mapstructure:"max_conns"`
	Migrate     bool   `mapstructure:"migrate"`
}

type NotifyConfig struct {
	Backend               string     `mapstructure:"backend"`
	SMTP                  SMTPConfig `mapstructure:"smtp"`
	OperatorAddresses     []string   `mapstructure:"operator_addresses"`
	PreservationAddresses []string   `mapstructure:"preservation_addresses"`
}

type SMTPConfig struct {
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	From     string        `mapstructure:"from"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// Notify backend names.
const (
	NotifyBackendLog  = "log"
	NotifyBackendSMTP = "smtp"
)

// Validate reports every configuration problem at once.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		add("server.port %d is out of range", c.Server.Port)
	}
	if _, err := observability.ParseLevel(c.Logging.Level); err != nil {
		add("logging.level: %v", err)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "json", "console":
	default:
		add("logging.format %q must be json or console", c.Logging.Format)
	}
	if strings.TrimSpace(c.Content.RootDir) == "" {
		add("content.root_dir is required")
	}
	if strings.TrimSpace(c.Restoration.RootDir) == "" {
		add("restoration.root_dir is required")
	}
	if c.Orchestrator.Workers < 1 {
		add("orchestrator.workers must be at least 1")
	}
	if c.Orchestrator.QueueSize < 0 {
		add("orchestrator.queue_size must not be negative")
	}
	if c.Transfer.ThrottleLimit < 0 || c.Transfer.CommitInterval < 0 || c.Transfer.MaxRetries < 0 {
		add("transfer limits must not be negative")
	}

	switch strings.ToLower(c.History.Backend) {
	case "", history.BackendFile, history.BackendSQLite:
		if c.History.Path == "" && c.History.URL == "" {
			add("history.path is required for the %s backend", c.historyBackend())
		}
	case history.BackendRedis:
		if c.History.RedisURL == "" {
			add("history.redis_url is required for the redis backend")
		}
	default:
		add("unknown history.backend %q", c.History.Backend)
	}

	switch strings.ToLower(c.Store.Backend) {
	case "", recordstore.BackendFile:
		if c.Store.Path == "" {
			add("store.path is required for the file backend")
		}
	case recordstore.BackendPostgres:
		if c.Store.DatabaseURL == "" {
			add("store.database_url is required for the postgres backend")
		}
	default:
		add("unknown store.backend %q", c.Store.Backend)
	}

	switch strings.ToLower(c.Online.Scheme) {
	case "", "http", "https":
	default:
		add("online.scheme %q must be http or https", c.Online.Scheme)
	}
	if _, err := preflight.ParseMode(c.Preflight); err != nil {
		add("preflight: %v", err)
	}

	switch strings.ToLower(c.Notify.Backend) {
	case "", NotifyBackendLog:
	case NotifyBackendSMTP:
		if err := c.SMTP().Validate(); err != nil {
			add("notify.smtp: %v", err)
		}
	default:
		add("unknown notify.backend %q", c.Notify.Backend)
	}

	return errors.Join(errs...)
}

func (c *Config) historyBackend() string {
	if c.History.Backend == "" {
		return history.BackendFile
	}
	return strings.ToLower(c.History.Backend)
}

// HistoryOptions converts the history section into backend options.
func (c *Config) HistoryOptions() history.Config {
	hc := history.Config{Backend: c.historyBackend(), Path: c.History.Path, URL: c.History.URL, AuthToken: c.History.AuthToken}
	if hc.Backend == history.BackendRedis {
		hc.URL = c.History.RedisURL
	}
	return hc
}

// StoreOptions converts the store section into backend options.
func (c *Config) StoreOptions() recordstore.Config {
	return recordstore.Config{
		Backend:     c.Store.Backend,
		Path:        c.Store.Path,
		DatabaseURL: c.Store.DatabaseURL,
		MaxConns:    c.Store.MaxConns,
		Migrate:     c.Store.Migrate,
	}
}

// SMTP converts the notify.smtp section.
func (c *Config) SMTP() notify.SMTPConfig {
	s := c.Notify.SMTP
	return notify.SMTPConfig{Host: s.Host, Port: s.Port, Username: s.Username, Password: s.Password, From: s.From, Timeout: s.Timeout}
}

// PreflightMode returns the parsed preflight mode. Validate has already
// rejected unknown values.
func (c *Config) PreflightMode() preflight.Mode {
	m, err := preflight.ParseMode(c.Preflight)
	if err != nil {
		return preflight.ModeReadSafe
	}
	return m
}
