package ocr

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// TesseractConfig configures the local tesseract engine.
type TesseractConfig struct {
	Path     string // binary name or path (default "tesseract")
	Language string // traineddata language (default "eng")
}

// Tesseract runs the tesseract CLI, feeding the image on stdin.
type Tesseract struct {
	path     string
	language string
}

// NewTesseract creates the engine. The binary is looked up on each call so
// installing it does not require a restart.
func NewTesseract(cfg TesseractConfig) *Tesseract {
	if cfg.Path == "" {
		cfg.Path = "tesseract"
	}
	if cfg.Language == "" {
		cfg.Language = "eng"
	}
	return &Tesseract{path: cfg.Path, language: cfg.Language}
}

func (t *Tesseract) Name() string { return EngineTesseract }

// Recognize runs `tesseract stdin stdout -l <lang>`.
func (t *Tesseract) Recognize(ctx context.Context, image []byte) (*Result, error) {
	start := time.Now()

	bin, err := exec.LookPath(t.path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrEngineUnavailable, t.path, err)
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, bin, "stdin", "stdout", "-l", t.language)
	cmd.Stdin = bytes.NewReader(image)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return nil, fmt.Errorf("tesseract failed: %s", msg)
	}

	return &Result{
		Text:          strings.TrimSpace(stdout.String()),
		Metadata:      map[string]any{"language": t.language},
		ExecutionTime: time.Since(start),
	}, nil
}
