package config

import (
	"time"

	"github.com/jackzampolin/pagecam/internal/detect"
)

// Config holds pagecam configuration.
// Stored at: ./config.yaml or ~/.pagecam/config.yaml
type Config struct {
	Server    ServerCfg     `mapstructure:"server" yaml:"server"`
	Capture   CaptureCfg    `mapstructure:"capture" yaml:"capture"`
	Detection detect.Config `mapstructure:"detection" yaml:"detection"`
	Pipeline  PipelineCfg   `mapstructure:"pipeline" yaml:"pipeline"`
	Notify    NotifyCfg     `mapstructure:"notify" yaml:"notify"`
	Export    ExportCfg     `mapstructure:"export" yaml:"export"`
}

// ServerCfg configures the HTTP collaborator.
type ServerCfg struct {
	Host string `mapstructure:"host" yaml:"host"`
	Port int    `mapstructure:"port" yaml:"port"`
}

// CaptureCfg configures the capture actor.
type CaptureCfg struct {
	SampleInterval time.Duration `mapstructure:"sample_interval" yaml:"sample_interval"`
	RetryDelay     time.Duration `mapstructure:"retry_delay" yaml:"retry_delay"`     // pause after a failed read
	OpenAttempts   int           `mapstructure:"open_attempts" yaml:"open_attempts"` // source open attempts before giving up
	JPEGQuality    int           `mapstructure:"jpeg_quality" yaml:"jpeg_quality"`
}

// PipelineCfg configures post-processing.
type PipelineCfg struct {
	Contrast       float64       `mapstructure:"contrast" yaml:"contrast"`
	Brightness     float64       `mapstructure:"brightness" yaml:"brightness"`
	RescanInterval time.Duration `mapstructure:"rescan_interval" yaml:"rescan_interval"`
	OCR            OCRCfg        `mapstructure:"ocr" yaml:"ocr"`
}

// OCRCfg selects the text-extraction engine.
type OCRCfg struct {
	Engine        string `mapstructure:"engine" yaml:"engine"` // "tesseract", "openai", "mistral", "none"
	Language      string `mapstructure:"language" yaml:"language"`
	TesseractPath string `mapstructure:"tesseract_path" yaml:"tesseract_path"`
	// RequestsPerMinute throttles the openai and mistral engines (0 = unlimited).
	RequestsPerMinute int        `mapstructure:"requests_per_minute" yaml:"requests_per_minute"`
	OpenAI            OpenAICfg  `mapstructure:"openai" yaml:"openai"`
	Mistral           MistralCfg `mapstructure:"mistral" yaml:"mistral"`
}

// OpenAICfg configures the OpenAI vision engine.
type OpenAICfg struct {
	Model   string `mapstructure:"model" yaml:"model"`
	APIKey  string `mapstructure:"api_key" yaml:"api_key"` // supports ${ENV_VAR} syntax
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`
}

// MistralCfg configures the Mistral OCR engine.
type MistralCfg struct {
	Model   string `mapstructure:"model" yaml:"model"`
	APIKey  string `mapstructure:"api_key" yaml:"api_key"` // supports ${ENV_VAR} syntax
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`
}

// NotifyCfg configures event publishing.
type NotifyCfg struct {
	MQTT MQTTCfg `mapstructure:"mqtt" yaml:"mqtt"`
}

// MQTTCfg configures the MQTT notifier.
type MQTTCfg struct {
	Enabled   bool   `mapstructure:"enabled" yaml:"enabled"`
	Broker    string `mapstructure:"broker" yaml:"broker"`
	ClientID  string `mapstructure:"client_id" yaml:"client_id"`
	Username  string `mapstructure:"username" yaml:"username"`
	Password  string `mapstructure:"password" yaml:"password"`
	BaseTopic string `mapstructure:"base_topic" yaml:"base_topic"`
	QoS       int    `mapstructure:"qos" yaml:"qos"`
}

// ExportCfg configures document upload.
type ExportCfg struct {
	Minio MinioCfg `mapstructure:"minio" yaml:"minio"`
}

// MinioCfg configures the MinIO/S3 exporter.
type MinioCfg struct {
	Enabled       bool   `mapstructure:"enabled" yaml:"enabled"`
	Endpoint      string `mapstructure:"endpoint" yaml:"endpoint"`
	AccessKey     string `mapstructure:"access_key" yaml:"access_key"`
	SecretKey     string `mapstructure:"secret_key" yaml:"secret_key"`
	Bucket        string `mapstructure:"bucket" yaml:"bucket"`
	UseSSL        bool   `mapstructure:"use_ssl" yaml:"use_ssl"`
	PublicBaseURL string `mapstructure:"public_base_url" yaml:"public_base_url"`
}
