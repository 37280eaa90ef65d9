package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	gfconfig "github.com/fulmenhq/gofulmen/config"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/3leaps/snapbridge/pkg/notify"
)

const (
	// EnvPrefix prefixes every environment override.
	EnvPrefix = "SNAPBRIDGE"

	// ConfigName is the config file base name searched for.
	ConfigName = "snapbridge"

	// ConfigFileEnv names an explicit config file.
	ConfigFileEnv = EnvPrefix + "_CONFIG"
)

var (
	current   *Config
	currentMu sync.RWMutex
)

// Load reads configuration from the default locations. Later override maps
// win over earlier ones, and all of them win over files and environment.
func Load(ctx context.Context, overrides ...map[string]any) (*Config, error) {
	return LoadFile(ctx, "", overrides...)
}

// LoadFile is Load with an explicit config file. An empty path searches
// $SNAPBRIDGE_CONFIG, $XDG_CONFIG_HOME/snapbridge and /etc/snapbridge; a
// missing file there is not an error.
func LoadFile(ctx context.Context, path string, overrides ...map[string]any) (*Config, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		path = os.Getenv(ConfigFileEnv)
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName(ConfigName)
		v.SetConfigType("yaml")
		v.AddConfigPath(gfconfig.GetAppConfigDir(ConfigName))
		v.AddConfigPath(filepath.Join("/etc", ConfigName))
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	for _, o := range overrides {
		for k, val := range o {
			v.Set(k, val)
		}
	}

	cfg := &Config{}
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(cfg, hook); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	currentMu.Lock()
	current = cfg
	currentMu.Unlock()
	return cfg, nil
}

// GetConfig returns the most recently loaded configuration, or nil.
func GetConfig() *Config {
	currentMu.RLock()
	defer currentMu.RUnlock()
	return current
}

// SetDefaults registers every key with its default so environment
// overrides resolve.
func SetDefaults(v *viper.Viper) {
	data := gfconfig.GetAppDataDir(ConfigName)

	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("content.root_dir", filepath.Join(data, "content"))
	v.SetDefault("content.work_dir", filepath.Join(data, "work"))
	v.SetDefault("restoration.root_dir", filepath.Join(data, "restorations"))

	v.SetDefault("orchestrator.workers", 10)
	v.SetDefault("orchestrator.queue_size", 100)

	v.SetDefault("transfer.commit_interval", 1)
	v.SetDefault("transfer.throttle_limit", 20)
	v.SetDefault("transfer.max_retries", 3)
	v.SetDefault("transfer.retry_backoff", "500ms")
	v.SetDefault("transfer.items_per_second", 0)
	v.SetDefault("transfer.retry_buffer_max_memory_bytes", 64<<20)

	v.SetDefault("history.backend", "file")
	v.SetDefault("history.path", filepath.Join(data, "history"))
	v.SetDefault("history.url", "")
	v.SetDefault("history.auth_token", "")
	v.SetDefault("history.redis_url", "")
	v.SetDefault("history.page_size", 100)

	v.SetDefault("store.backend", "file")
	v.SetDefault("store.path", filepath.Join(data, "records"))
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.max_conns", 0)
	v.SetDefault("store.migrate", true)

	v.SetDefault("online.scheme", "https")
	v.SetDefault("online.force_path_style", false)

	v.SetDefault("preflight", "read-safe")

	v.SetDefault("notify.backend", NotifyBackendLog)
	v.SetDefault("notify.smtp.host", "")
	v.SetDefault("notify.smtp.port", 25)
	v.SetDefault("notify.smtp.username", "")
	v.SetDefault("notify.smtp.password", "")
	v.SetDefault("notify.smtp.from", "")
	v.SetDefault("notify.smtp.timeout", notify.DefaultSMTPTimeout)
	v.SetDefault("notify.operator_addresses", []string{})
	v.SetDefault("notify.preservation_addresses", []string{})
}

func (c *Config) normalize() {
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	c.History.Backend = strings.ToLower(strings.TrimSpace(c.History.Backend))
	c.Store.Backend = strings.ToLower(strings.TrimSpace(c.Store.Backend))
	c.Notify.Backend = strings.ToLower(strings.TrimSpace(c.Notify.Backend))
	c.Notify.OperatorAddresses = trimAll(c.Notify.OperatorAddresses)
	c.Notify.PreservationAddresses = trimAll(c.Notify.PreservationAddresses)
}

func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
