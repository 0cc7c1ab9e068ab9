package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v2"

	"github.com/jackzampolin/pagecam/internal/export"
	"github.com/jackzampolin/pagecam/internal/notify"
	"github.com/jackzampolin/pagecam/internal/ocr"
	"github.com/jackzampolin/pagecam/internal/session"
)

// EnvPrefix prefixes environment overrides (PAGECAM_SERVER_PORT=9000).
const EnvPrefix = "PAGECAM"

// Manager handles loading and hot-reloading configuration.
type Manager struct {
	v         *viper.Viper
	mu        sync.RWMutex
	config    *Config
	callbacks []func(*Config)
	logger    *slog.Logger
}

// NewManager creates a new config manager and loads initial config.
// homeDir is searched for config.yaml after the working directory.
func NewManager(cfgFile, homeDir string) (*Manager, error) {
	cm := &Manager{
		v:         viper.New(),
		callbacks: make([]func(*Config), 0),
		logger:    slog.Default(),
	}

	if err := cm.initViper(cfgFile, homeDir); err != nil {
		return nil, err
	}

	cfg, err := cm.load()
	if err != nil {
		return nil, err
	}
	cm.config = cfg

	return cm, nil
}

// initViper sets up viper with defaults and config file.
func (cm *Manager) initViper(cfgFile, homeDir string) error {
	setDefaults(cm.v)

	cm.v.SetEnvPrefix(EnvPrefix)
	cm.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	cm.v.AutomaticEnv()

	if cfgFile != "" {
		cm.v.SetConfigFile(cfgFile)
	} else {
		cm.v.SetConfigName("config")
		cm.v.SetConfigType("yaml")
		cm.v.AddConfigPath(".")
		if homeDir != "" {
			cm.v.AddConfigPath(homeDir)
		}
	}

	// Try to read config file (not required)
	if err := cm.v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	return nil
}

// load parses the current viper state into a Config struct.
func (cm *Manager) load() (*Config, error) {
	var cfg Config
	if err := cm.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ConfigFile returns the file in use, or "" when running on defaults.
func (cm *Manager) ConfigFile() string {
	return cm.v.ConfigFileUsed()
}

// Get returns the current configuration (thread-safe).
func (cm *Manager) Get() *Config {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.config
}

// OnChange registers a callback for config changes.
func (cm *Manager) OnChange(fn func(*Config)) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.callbacks = append(cm.callbacks, fn)
}

// WatchConfig enables hot-reloading of configuration. Running sessions keep
// the settings they started with; new sessions pick up the reloaded values.
func (cm *Manager) WatchConfig() {
	cm.v.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := cm.load()
		if err != nil {
			cm.logger.Warn("config reload rejected", "file", e.Name, "error", err)
			return
		}

		cm.mu.Lock()
		cm.config = cfg
		callbacks := make([]func(*Config), len(cm.callbacks))
		copy(callbacks, cm.callbacks)
		cm.mu.Unlock()

		cm.logger.Info("config reloaded", "file", e.Name)
		for _, fn := range callbacks {
			fn(cfg)
		}
	})
	if cm.v.ConfigFileUsed() == "" {
		return
	}
	cm.v.WatchConfig()
}

// Validate checks values that would otherwise fail deep inside an actor.
func (c *Config) Validate() error {
	if err := c.Detection.WithDefaults().Validate(); err != nil {
		return fmt.Errorf("detection: %w", err)
	}
	if c.Capture.SampleInterval <= 0 {
		return fmt.Errorf("capture.sample_interval must be positive")
	}
	if c.Capture.JPEGQuality < 1 || c.Capture.JPEGQuality > 100 {
		return fmt.Errorf("capture.jpeg_quality must be in [1,100], got %d", c.Capture.JPEGQuality)
	}
	return nil
}

// ResolveEnvVars expands ${ENV_VAR} references in a string.
func ResolveEnvVars(value string) string {
	if value == "" {
		return value
	}
	pattern := regexp.MustCompile(`\$\{([^}]+)\}`)
	return pattern.ReplaceAllStringFunc(value, func(match string) string {
		varName := match[2 : len(match)-1]
		return os.Getenv(varName)
	})
}

// SessionSettings converts the capture, detection and pipeline sections
// into defaults for new sessions.
func (c *Config) SessionSettings() session.Settings {
	attempts := c.Capture.OpenAttempts
	if attempts < 1 {
		attempts = 1
	}
	return session.Settings{
		Detection:      c.Detection.WithDefaults(),
		SampleInterval: c.Capture.SampleInterval,
		RetryDelay:     c.Capture.RetryDelay,
		OpenAttempts:   uint(attempts),
		JPEGQuality:    c.Capture.JPEGQuality,
		Contrast:       c.Pipeline.Contrast,
		Brightness:     c.Pipeline.Brightness,
		RescanInterval: c.Pipeline.RescanInterval,
		OCR:            c.OCRConfig(),
	}
}

// OCRConfig converts the pipeline OCR section, resolving API keys.
func (c *Config) OCRConfig() ocr.Config {
	o := c.Pipeline.OCR
	return ocr.Config{
		Engine:            o.Engine,
		Language:          o.Language,
		TesseractPath:     o.TesseractPath,
		RequestsPerMinute: o.RequestsPerMinute,
		OpenAI: ocr.OpenAIConfig{
			APIKey:  ResolveEnvVars(o.OpenAI.APIKey),
			Model:   o.OpenAI.Model,
			BaseURL: o.OpenAI.BaseURL,
		},
		Mistral: ocr.MistralConfig{
			APIKey:  ResolveEnvVars(o.Mistral.APIKey),
			Model:   o.Mistral.Model,
			BaseURL: o.Mistral.BaseURL,
		},
	}
}

// MQTTConfig converts the notify section.
func (c *Config) MQTTConfig(logger *slog.Logger) notify.MQTTConfig {
	m := c.Notify.MQTT
	return notify.MQTTConfig{
		Broker:    m.Broker,
		ClientID:  m.ClientID,
		Username:  ResolveEnvVars(m.Username),
		Password:  ResolveEnvVars(m.Password),
		BaseTopic: m.BaseTopic,
		QoS:       byte(m.QoS),
		Logger:    logger,
	}
}

// MinioConfig converts the export section.
func (c *Config) MinioConfig(logger *slog.Logger) export.MinioConfig {
	m := c.Export.Minio
	return export.MinioConfig{
		Endpoint:      m.Endpoint,
		AccessKey:     ResolveEnvVars(m.AccessKey),
		SecretKey:     ResolveEnvVars(m.SecretKey),
		Bucket:        m.Bucket,
		UseSSL:        m.UseSSL,
		PublicBaseURL: m.PublicBaseURL,
		Logger:        logger,
	}
}

// WriteDefault writes the default configuration to the specified path.
func WriteDefault(path string) error {
	data, err := yaml.Marshal(defaultDocument())
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte(`# pagecam configuration
# Secrets use ${ENV_VAR} syntax to reference environment variables.
# Any key can be overridden with PAGECAM_<SECTION>_<KEY>, e.g. PAGECAM_SERVER_PORT=9000.
# Detection thresholds left at 0 use the selected strategy's defaults.

`)
	return os.WriteFile(path, append(header, data...), 0o644)
}
