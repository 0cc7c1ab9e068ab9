package pipeline

import (
	"context"
	"errors"
	"path/filepath"
)

// ErrStageUnavailable is returned by a stage that cannot run in this
// environment. The pipeline skips it without treating the run as failed.
var ErrStageUnavailable = errors.New("stage unavailable")

// Artifact is one page image moving through the pipeline.
type Artifact struct {
	// Name is the final file name, e.g. "000001.jpg".
	Name string
	// Path is where the current version of the image lives.
	Path string
	// WorkDir is the scratch directory stages write into.
	WorkDir string
}

// WorkPath is the scratch location for this artifact.
func (a Artifact) WorkPath() string {
	return filepath.Join(a.WorkDir, a.Name)
}

// Stage is one image transformation.
type Stage interface {
	// Name identifies the stage, e.g. "crop".
	Name() string

	// Dependencies lists stages that must run first.
	Dependencies() []string

	// Process transforms the artifact and returns its (possibly relocated)
	// successor. On error the input artifact continues unchanged.
	Process(ctx context.Context, a Artifact) (Artifact, error)
}
