package ocr

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	MistralBaseURL = "https://api.mistral.ai/v1"
	MistralModel   = "mistral-ocr-latest"
)

// MistralConfig configures the Mistral OCR engine.
type MistralConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// Mistral calls the Mistral /ocr endpoint with a single image.
type Mistral struct {
	apiKey  string
	baseURL string
	model   string
	client  *http.Client
}

// NewMistral creates the engine.
func NewMistral(cfg MistralConfig) *Mistral {
	if cfg.BaseURL == "" {
		cfg.BaseURL = MistralBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = MistralModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}
	return &Mistral{
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		model:   cfg.Model,
		client:  &http.Client{Timeout: cfg.Timeout},
	}
}

func (m *Mistral) Name() string { return EngineMistral }

// Recognize returns the markdown of the first (only) page.
func (m *Mistral) Recognize(ctx context.Context, image []byte) (*Result, error) {
	if strings.TrimSpace(m.apiKey) == "" {
		return nil, fmt.Errorf("%w: mistral api key not set", ErrEngineUnavailable)
	}
	start := time.Now()

	reqBody := mistralRequest{
		Model: m.model,
		Document: mistralDocument{
			Type:     "image_url",
			ImageURL: &mistralImageURL{URL: dataURL(image, base64.StdEncoding.EncodeToString(image))},
		},
	}

	resp, err := m.do(ctx, "/ocr", reqBody)
	if err != nil {
		return nil, err
	}
	if len(resp.Pages) == 0 {
		return nil, fmt.Errorf("no pages in OCR response")
	}

	page := resp.Pages[0]
	return &Result{
		Text: strings.TrimSpace(page.Markdown),
		Metadata: map[string]any{
			"model_used": resp.Model,
			"width":      page.Dimensions.Width,
			"height":     page.Dimensions.Height,
		},
		ExecutionTime: time.Since(start),
	}, nil
}

func (m *Mistral) do(ctx context.Context, path string, body any) (*mistralResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+m.apiKey)

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var errResp mistralErrorResponse
		if json.Unmarshal(raw, &errResp) == nil && errResp.Error.Message != "" {
			return nil, fmt.Errorf("Mistral OCR error (status %d): %s", resp.StatusCode, errResp.Error.Message)
		}
		return nil, fmt.Errorf("Mistral OCR error (status %d): %s", resp.StatusCode, string(raw))
	}

	var out mistralResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return &out, nil
}

type mistralRequest struct {
	Model    string          `json:"model"`
	Document mistralDocument `json:"document"`
}

type mistralDocument struct {
	Type     string           `json:"type"`
	ImageURL *mistralImageURL `json:"image_url,omitempty"`
}

type mistralImageURL struct {
	URL string `json:"url"`
}

type mistralResponse struct {
	Model string        `json:"model"`
	Pages []mistralPage `json:"pages"`
}

type mistralPage struct {
	Index      int    `json:"index"`
	Markdown   string `json:"markdown"`
	Dimensions struct {
		Width  int `json:"width"`
		Height int `json:"height"`
	} `json:"dimensions"`
}

type mistralErrorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

var _ Engine = (*Mistral)(nil)
