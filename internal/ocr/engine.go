// Package ocr extracts text from page images.
package ocr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ErrEngineUnavailable means the engine cannot run in this environment
// (binary missing, no API key, disabled). Callers skip OCR quietly.
var ErrEngineUnavailable = errors.New("ocr engine unavailable")

// Engine names.
const (
	EngineNone      = "none"
	EngineTesseract = "tesseract"
	EngineOpenAI    = "openai"
	EngineMistral   = "mistral"
)

// Engine turns an encoded image into text.
type Engine interface {
	// Name returns the engine identifier.
	Name() string

	// Recognize extracts text from a JPEG or PNG image.
	Recognize(ctx context.Context, image []byte) (*Result, error)
}

// Result is the text extracted from one image.
type Result struct {
	Text          string         `json:"text"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	ExecutionTime time.Duration  `json:"execution_time"`
}

// Config selects and configures an engine.
type Config struct {
	Engine        string
	Language      string
	TesseractPath string
	OpenAI        OpenAIConfig
	Mistral       MistralConfig
	// RequestsPerMinute throttles the cloud engines. Zero is unlimited.
	RequestsPerMinute int
}

// New builds the engine named by cfg.Engine. Unknown names are an error;
// "none" yields an engine that always reports ErrEngineUnavailable.
func New(cfg Config) (Engine, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Engine)) {
	case "", EngineTesseract:
		return NewTesseract(TesseractConfig{Path: cfg.TesseractPath, Language: cfg.Language}), nil
	case EngineOpenAI:
		return Limit(NewOpenAI(cfg.OpenAI), cfg.RequestsPerMinute), nil
	case EngineMistral:
		return Limit(NewMistral(cfg.Mistral), cfg.RequestsPerMinute), nil
	case EngineNone:
		return Disabled{}, nil
	default:
		return nil, fmt.Errorf("unknown ocr engine %q", cfg.Engine)
	}
}

// Disabled is an Engine that never runs.
type Disabled struct{}

func (Disabled) Name() string { return EngineNone }

func (Disabled) Recognize(context.Context, []byte) (*Result, error) {
	return nil, fmt.Errorf("%w: disabled", ErrEngineUnavailable)
}

// dataURL encodes image as a data: URL with a sniffed content type.
func dataURL(image []byte, b64 string) string {
	mime := http.DetectContentType(image)
	if !strings.HasPrefix(mime, "image/") {
		mime = "image/jpeg"
	}
	return "data:" + mime + ";base64," + b64
}
