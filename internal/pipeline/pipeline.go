// Package pipeline turns raw page captures into processed page images.
//
// A Pipeline runs a fixed, dependency-ordered list of stages over one raw
// file and publishes the result in the processed directory under the same
// name. The Actor drives a Pipeline from a directory watcher.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/jackzampolin/pagecam/internal/ocr"
)

// WorkDirName is the scratch subdirectory of the processed directory.
const WorkDirName = ".work"

// Config configures a Pipeline.
type Config struct {
	ProcessedDir string

	// Registry overrides the default stage set (tests).
	Registry *Registry

	// OCR installs the OCR stage with this engine when non-nil.
	OCR ocr.Engine

	Contrast   float64
	Brightness float64
	Logger     *slog.Logger
}

// DefaultRegistry registers crop, deskew and color, plus OCR when engine is
// non-nil.
func DefaultRegistry(processedDir string, contrast, brightness float64, engine ocr.Engine) *Registry {
	r := NewRegistry()
	r.Register(Crop{})
	r.Register(Deskew{})
	r.Register(NewColor(contrast, brightness))
	if engine != nil {
		r.Register(OCR{Engine: engine, ProcessedDir: processedDir})
	}
	return r
}

// StageError records a stage that failed or was skipped.
type StageError struct {
	Stage   string `json:"stage"`
	Skipped bool   `json:"skipped"`
	Err     error  `json:"-"`
}

// Result describes one pipeline run.
type Result struct {
	Name string
	// Path is the published processed file.
	Path string
	// AlreadyProcessed means the output existed and the raw duplicate was dropped.
	AlreadyProcessed bool
	StageErrors      []StageError
	Duration         time.Duration
}

// Pipeline runs stages over raw files.
type Pipeline struct {
	processedDir string
	workDir      string
	stages       []Stage
	logger       *slog.Logger
}

// New validates the stage set and prepares the output directories.
func New(cfg Config) (*Pipeline, error) {
	if cfg.ProcessedDir == "" {
		return nil, fmt.Errorf("pipeline: processed dir is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	reg := cfg.Registry
	if reg == nil {
		reg = DefaultRegistry(cfg.ProcessedDir, cfg.Contrast, cfg.Brightness, cfg.OCR)
	}
	stages, err := reg.Ordered()
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}

	workDir := filepath.Join(cfg.ProcessedDir, WorkDirName)
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return nil, fmt.Errorf("pipeline: create %s: %w", workDir, err)
	}

	return &Pipeline{
		processedDir: cfg.ProcessedDir,
		workDir:      workDir,
		stages:       stages,
		logger:       logger,
	}, nil
}

// StageNames returns the stages in execution order.
func (p *Pipeline) StageNames() []string {
	names := make([]string, len(p.stages))
	for i, s := range p.stages {
		names[i] = s.Name()
	}
	return names
}

// OutputPath is where a raw file's processed image is published.
func (p *Pipeline) OutputPath(rawPath string) string {
	return filepath.Join(p.processedDir, filepath.Base(rawPath))
}

// Run processes one raw file. Stage failures are recorded and the artifact
// continues unchanged; only failing to publish the result is an error. The
// raw file is removed once the processed file exists.
func (p *Pipeline) Run(ctx context.Context, rawPath string) (*Result, error) {
	start := time.Now()
	name := filepath.Base(rawPath)
	out := p.OutputPath(rawPath)
	res := &Result{Name: name, Path: out}

	if _, err := os.Stat(out); err == nil {
		if err := os.Remove(rawPath); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("remove duplicate raw %s: %w", name, err)
		}
		res.AlreadyProcessed = true
		p.logger.Debug("already processed, dropped raw duplicate", "name", name)
		return res, nil
	}

	art := Artifact{Name: name, Path: rawPath, WorkDir: p.workDir}
	for _, stage := range p.stages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		next, err := stage.Process(ctx, art)
		if err != nil {
			skipped := errors.Is(err, ErrStageUnavailable)
			res.StageErrors = append(res.StageErrors, StageError{Stage: stage.Name(), Skipped: skipped, Err: err})
			if skipped {
				p.logger.Debug("stage skipped", "stage", stage.Name(), "name", name, "reason", err)
			} else {
				p.logger.Warn("stage failed, passing artifact through", "stage", stage.Name(), "name", name, "error", err)
			}
			continue
		}
		art = next
	}

	if err := publish(art.Path, out, rawPath); err != nil {
		return nil, err
	}

	res.Duration = time.Since(start)
	p.logger.Info("page processed", "name", name, "duration", res.Duration, "stage_errors", len(res.StageErrors))
	return res, nil
}

// publish moves the final artifact into place and drops the raw input.
func publish(from, to, rawPath string) error {
	if err := os.Rename(from, to); err != nil {
		return fmt.Errorf("publish %s: %w", filepath.Base(to), err)
	}
	if from != rawPath {
		if err := os.Remove(rawPath); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove raw %s: %w", filepath.Base(rawPath), err)
		}
	}
	return nil
}
