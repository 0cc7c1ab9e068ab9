package ocr

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

const (
	openAIDefaultModel = "gpt-4o-mini"
	openAIOCRPrompt    = "Transcribe all text on this scanned page exactly as written. " +
		"Preserve paragraph breaks. Output only the transcription."
)

// OpenAIConfig configures the vision-model OCR engine.
type OpenAIConfig struct {
	APIKey     string
	Model      string        // default gpt-4o-mini
	BaseURL    string        // optional (tests, compatible gateways)
	MaxRetries int           // SDK transport retries
	Timeout    time.Duration // HTTP timeout
	HTTPClient *http.Client  // optional (tests)
}

// OpenAI transcribes pages with a chat completion over an image input.
type OpenAI struct {
	apiKey string
	model  string
	client openai.Client
}

// NewOpenAI creates the engine. Without an API key every call reports
// ErrEngineUnavailable.
func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	if cfg.Model == "" {
		cfg.Model = openAIDefaultModel
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 2
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(httpClient),
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &OpenAI{
		apiKey: cfg.APIKey,
		model:  cfg.Model,
		client: openai.NewClient(opts...),
	}
}

func (o *OpenAI) Name() string { return EngineOpenAI }

// Recognize sends the image as a data URL and returns the model's transcription.
func (o *OpenAI) Recognize(ctx context.Context, image []byte) (*Result, error) {
	if strings.TrimSpace(o.apiKey) == "" {
		return nil, fmt.Errorf("%w: openai api key not set", ErrEngineUnavailable)
	}
	start := time.Now()

	url := dataURL(image, base64.StdEncoding.EncodeToString(image))
	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(o.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage([]openai.ChatCompletionContentPartUnionParam{
				openai.TextContentPart(openAIOCRPrompt),
				openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{URL: url}),
			}),
		},
	}

	resp, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, mapOpenAIError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai returned no choices")
	}

	return &Result{
		Text: strings.TrimSpace(resp.Choices[0].Message.Content),
		Metadata: map[string]any{
			"model_used":    resp.Model,
			"prompt_tokens": resp.Usage.PromptTokens,
		},
		ExecutionTime: time.Since(start),
	}, nil
}

func mapOpenAIError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		if apiErr.Message != "" {
			return fmt.Errorf("OpenAI OCR error (status %d): %s", apiErr.StatusCode, apiErr.Message)
		}
		return fmt.Errorf("OpenAI OCR error (status %d): %w", apiErr.StatusCode, err)
	}
	return err
}
