package config

import (
	"time"

	"github.com/spf13/viper"

	"github.com/jackzampolin/pagecam/internal/detect"
)

// DefaultConfig returns configuration with sensible defaults. Detection
// thresholds left at zero take the chosen strategy's own defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerCfg{
			Host: "127.0.0.1",
			Port: 8080,
		},
		Capture: CaptureCfg{
			SampleInterval: 100 * time.Millisecond,
			RetryDelay:     100 * time.Millisecond,
			OpenAttempts:   1,
			JPEGQuality:    95,
		},
		Detection: detect.Config{
			Strategy: detect.KindContour,
		},
		Pipeline: PipelineCfg{
			Contrast:       1.2,
			Brightness:     1.1,
			RescanInterval: 2 * time.Second,
			OCR: OCRCfg{
				Engine:            "tesseract",
				Language:          "eng",
				TesseractPath:     "tesseract",
				RequestsPerMinute: 60,
				OpenAI: OpenAICfg{
					Model:  "gpt-4o-mini",
					APIKey: "${OPENAI_API_KEY}",
				},
				Mistral: MistralCfg{
					Model:  "mistral-ocr-latest",
					APIKey: "${MISTRAL_API_KEY}",
				},
			},
		},
		Notify: NotifyCfg{
			MQTT: MQTTCfg{
				Broker:    "localhost:1883",
				BaseTopic: "pagecam",
				Password:  "${MQTT_PASSWORD}",
			},
		},
		Export: ExportCfg{
			Minio: MinioCfg{
				Endpoint:  "localhost:9000",
				AccessKey: "${MINIO_ACCESS_KEY}",
				SecretKey: "${MINIO_SECRET_KEY}",
				Bucket:    "pagecam",
			},
		},
	}
}

// setDefaults registers every leaf of DefaultConfig with v so environment
// variables (PAGECAM_CAPTURE_SAMPLE_INTERVAL, ...) can override keys that
// are absent from the config file.
func setDefaults(v *viper.Viper) {
	d := DefaultConfig()
	defaults := map[string]any{
		"server.host": d.Server.Host,
		"server.port": d.Server.Port,

		"capture.sample_interval": d.Capture.SampleInterval,
		"capture.retry_delay":     d.Capture.RetryDelay,
		"capture.open_attempts":   d.Capture.OpenAttempts,
		"capture.jpeg_quality":    d.Capture.JPEGQuality,

		"detection.strategy":              string(d.Detection.Strategy),
		"detection.min_area_ratio":        d.Detection.MinAreaRatio,
		"detection.max_area_ratio":        d.Detection.MaxAreaRatio,
		"detection.min_aspect":            d.Detection.MinAspect,
		"detection.max_aspect":            d.Detection.MaxAspect,
		"detection.similarity_threshold":  d.Detection.SimilarityThreshold,
		"detection.correlation_threshold": d.Detection.CorrelationThreshold,
		"detection.motion_threshold":      d.Detection.MotionThreshold,
		"detection.cooldown":              d.Detection.Cooldown,

		"pipeline.contrast":                d.Pipeline.Contrast,
		"pipeline.brightness":              d.Pipeline.Brightness,
		"pipeline.rescan_interval":         d.Pipeline.RescanInterval,
		"pipeline.ocr.engine":              d.Pipeline.OCR.Engine,
		"pipeline.ocr.language":            d.Pipeline.OCR.Language,
		"pipeline.ocr.tesseract_path":      d.Pipeline.OCR.TesseractPath,
		"pipeline.ocr.requests_per_minute": d.Pipeline.OCR.RequestsPerMinute,
		"pipeline.ocr.openai.model":        d.Pipeline.OCR.OpenAI.Model,
		"pipeline.ocr.openai.api_key":      d.Pipeline.OCR.OpenAI.APIKey,
		"pipeline.ocr.openai.base_url":     d.Pipeline.OCR.OpenAI.BaseURL,
		"pipeline.ocr.mistral.model":       d.Pipeline.OCR.Mistral.Model,
		"pipeline.ocr.mistral.api_key":     d.Pipeline.OCR.Mistral.APIKey,
		"pipeline.ocr.mistral.base_url":    d.Pipeline.OCR.Mistral.BaseURL,

		"notify.mqtt.enabled":    d.Notify.MQTT.Enabled,
		"notify.mqtt.broker":     d.Notify.MQTT.Broker,
		"notify.mqtt.client_id":  d.Notify.MQTT.ClientID,
		"notify.mqtt.username":   d.Notify.MQTT.Username,
		"notify.mqtt.password":   d.Notify.MQTT.Password,
		"notify.mqtt.base_topic": d.Notify.MQTT.BaseTopic,
		"notify.mqtt.qos":        d.Notify.MQTT.QoS,

		"export.minio.enabled":         d.Export.Minio.Enabled,
		"export.minio.endpoint":        d.Export.Minio.Endpoint,
		"export.minio.access_key":      d.Export.Minio.AccessKey,
		"export.minio.secret_key":      d.Export.Minio.SecretKey,
		"export.minio.bucket":          d.Export.Minio.Bucket,
		"export.minio.use_ssl":         d.Export.Minio.UseSSL,
		"export.minio.public_base_url": d.Export.Minio.PublicBaseURL,
	}
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
}

// defaultDocument renders the defaults as nested maps with durations in
// Go syntax ("100ms") rather than nanoseconds.
func defaultDocument() map[string]any {
	v := viper.New()
	setDefaults(v)
	return humanize(v.AllSettings()).(map[string]any)
}

func humanize(value any) any {
	switch t := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, v := range t {
			out[k] = humanize(v)
		}
		return out
	case time.Duration:
		return t.String()
	default:
		return value
	}
}
