package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/spf13/viper"

	errs "github.com/eddielth/msghub-e2e/errors"
	"github.com/eddielth/msghub-e2e/logger"
)

// EnvPrefix prefixes every environment override, e.g. E2E_API_TOKEN
const EnvPrefix = "E2E"

// DefaultDeviceUUID identifies the device under test unless overridden
const DefaultDeviceUUID = "acc78dae-194c-4942-8f33-9f719629e316"

// Config represents the configuration of one conformance run
type Config struct {
	Device     DeviceConfig     `mapstructure:"device"`
	Hub        HubConfig        `mapstructure:"hub"`
	MQTT       MQTTConfig       `mapstructure:"mqtt"`
	API        APIConfig        `mapstructure:"api"`
	Store      StoreConfig      `mapstructure:"store"`
	Retry      RetryConfig      `mapstructure:"retry"`
	Interfaces InterfacesConfig `mapstructure:"interfaces"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Logger     LoggerConfig     `mapstructure:"logger"`
}

// DeviceConfig identifies the device under test
type DeviceConfig struct {
	Realm string `mapstructure:"realm"`
	UUID  string `mapstructure:"uuid"`
}

// HubConfig configures the in-process message hub
type HubConfig struct {
	Listen   string `mapstructure:"listen"`
	StoreDir string `mapstructure:"store_dir"`
}

// MQTTConfig represents the configuration of the broker connection
type MQTTConfig struct {
	Broker             string `mapstructure:"broker"`
	ClientID           string `mapstructure:"client_id"`
	Username           string `mapstructure:"username"`
	Password           string `mapstructure:"password"`
	CAFile             string `mapstructure:"ca_file"`
	CertFile           string `mapstructure:"cert_file"`
	KeyFile            string `mapstructure:"key_file"`
	InsecureSkipVerify bool   `mapstructure:"insecure_skip_verify"`
}

// APIConfig configures the inspection API client
type APIConfig struct {
	URL     string        `mapstructure:"url"`
	Token   string        `mapstructure:"token"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// StoreConfig selects the hub property store backend
type StoreConfig struct {
	Type string `mapstructure:"type"`
	DSN  string `mapstructure:"dsn"`
}

// RetryConfig holds the retry budgets of the eventually consistent checks
type RetryConfig struct {
	Discovery int `mapstructure:"discovery"`
	Check     int `mapstructure:"check"`
}

// InterfacesConfig points to descriptor overrides
type InterfacesConfig struct {
	Dir string `mapstructure:"dir"`
}

// MetricsConfig configures the metrics export
type MetricsConfig struct {
	Textfile string `mapstructure:"textfile"`
}

// LoggerConfig represents the logger configuration
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	Console    bool   `mapstructure:"console"`
}

// ConfigChangeCallback is called when the configuration file changes
type ConfigChangeCallback func(cfg *Config) error

func setDefaults(v *viper.Viper) {
	v.SetDefault("device.realm", "test")
	v.SetDefault("device.uuid", DefaultDeviceUUID)
	v.SetDefault("hub.listen", "127.0.0.1:50051")
	v.SetDefault("hub.store_dir", "")
	v.SetDefault("mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("mqtt.client_id", "")
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.ca_file", "")
	v.SetDefault("mqtt.cert_file", "")
	v.SetDefault("mqtt.key_file", "")
	v.SetDefault("mqtt.insecure_skip_verify", false)
	v.SetDefault("api.url", "http://localhost:4000")
	v.SetDefault("api.token", "")
	v.SetDefault("api.timeout", 10*time.Second)
	v.SetDefault("store.type", "file")
	v.SetDefault("store.dsn", "")
	v.SetDefault("retry.discovery", 20)
	v.SetDefault("retry.check", 10)
	v.SetDefault("interfaces.dir", "")
	v.SetDefault("metrics.textfile", "")
	v.SetDefault("logger.level", "debug")
	v.SetDefault("logger.file_path", "")
	v.SetDefault("logger.max_size", 10)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.console", true)
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// LoadConfig loads the configuration from the YAML file at configPath, if
// any, with defaults and E2E_* environment overrides applied.
func LoadConfig(configPath string) (*Config, error) {
	v := newViper()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, errs.Wrap(errs.KindConfiguration, err, "read %s", configPath)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, errs.Wrap(errs.KindConfiguration, err, "decode configuration")
	}

	return &config, nil
}

// Validate reports every unusable setting at once
func (c *Config) Validate() error {
	var problems []error
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Errorf(format, args...))
	}

	if c.Device.Realm == "" {
		add("device.realm is empty")
	}
	if _, err := uuid.Parse(c.Device.UUID); err != nil {
		add("device.uuid: %v", err)
	}
	if c.Hub.Listen == "" {
		add("hub.listen is empty")
	}
	if c.MQTT.Broker == "" {
		add("mqtt.broker is empty")
	}
	if (c.MQTT.CertFile == "") != (c.MQTT.KeyFile == "") {
		add("mqtt.cert_file and mqtt.key_file must be set together")
	}
	if u, err := url.Parse(c.API.URL); err != nil || u.Scheme == "" || u.Host == "" {
		add("api.url %q is not an absolute URL", c.API.URL)
	}
	if c.API.Timeout < 0 {
		add("api.timeout is negative")
	}
	switch c.Store.Type {
	case "file":
	case "mysql", "postgresql":
		if c.Store.DSN == "" {
			add("store.dsn is required for %s", c.Store.Type)
		}
	default:
		add("unsupported store.type: %q", c.Store.Type)
	}
	if c.Retry.Discovery < 1 {
		add("retry.discovery must be at least 1")
	}
	if c.Retry.Check < 1 {
		add("retry.check must be at least 1")
	}
	if _, err := logger.ParseLogLevel(c.Logger.Level); err != nil {
		add("logger.level: %v", err)
	}

	if len(problems) == 0 {
		return nil
	}
	return errs.Wrap(errs.KindConfiguration, errors.Join(problems...), "invalid configuration")
}

// DeviceID derives the device identifier: the unpadded base64url encoding
// of the device UUID.
func (d DeviceConfig) DeviceID() (string, error) {
	u, err := uuid.Parse(d.UUID)
	if err != nil {
		return "", errs.Wrap(errs.KindConfiguration, err, "device.uuid")
	}
	return base64.RawURLEncoding.EncodeToString(u[:]), nil
}

// WatchConfig reloads the configuration file on writes and hands the new
// configuration to callback.
func WatchConfig(configPath string, callback ConfigChangeCallback) error {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return err
	}

	v := newViper()
	v.SetConfigFile(absPath)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return errs.Wrap(errs.KindConfiguration, err, "read %s", absPath)
	}

	// Editors emit several events per save
	var mu sync.Mutex
	var lastChangeTime time.Time
	debounceInterval := 2 * time.Second

	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}

		mu.Lock()
		now := time.Now()
		if now.Sub(lastChangeTime) < debounceInterval {
			mu.Unlock()
			return
		}
		lastChangeTime = now
		mu.Unlock()

		logger.Info("configuration file changed: %s", e.Name)

		var newConfig Config
		if err := v.Unmarshal(&newConfig); err != nil {
			logger.Error("failed to decode updated configuration: %v", err)
			return
		}

		if err := callback(&newConfig); err != nil {
			logger.Error("failed to apply updated configuration: %v", err)
			return
		}

		logger.Info("configuration reloaded")
	})
	v.WatchConfig()

	return nil
}
