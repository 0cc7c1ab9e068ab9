package session

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/jackzampolin/pagecam/internal/detect"
)

// Meta is the persisted description of a session (meta.json).
type Meta struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Source      string        `json:"source"`
	OCR         bool          `json:"ocr"`
	Strategy    detect.Kind   `json:"strategy"`
	Detection   detect.Config `json:"detection"`
	CreatedAt   time.Time     `json:"created_at"`
}

const metaSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["id", "name", "source", "ocr", "strategy", "created_at"],
  "properties": {
    "id": {"type": "string", "minLength": 1},
    "name": {"type": "string", "minLength": 1},
    "description": {"type": "string"},
    "source": {"type": "string", "minLength": 1},
    "ocr": {"type": "boolean"},
    "strategy": {"enum": ["contour", "motion", "roi", "histogram"]},
    "detection": {"type": "object"},
    "created_at": {"type": "string", "minLength": 1}
  }
}`

var compileMetaSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("meta.json", bytes.NewReader([]byte(metaSchema))); err != nil {
		return nil, fmt.Errorf("failed to load meta schema: %w", err)
	}
	schema, err := compiler.Compile("meta.json")
	if err != nil {
		return nil, fmt.Errorf("failed to compile meta schema: %w", err)
	}
	return schema, nil
})

// validateMeta checks raw meta.json content against the schema.
func validateMeta(data []byte) error {
	schema, err := compileMetaSchema()
	if err != nil {
		return err
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to decode meta: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("meta does not match schema: %w", err)
	}
	return nil
}

// WriteMeta validates m and writes it atomically to path.
func WriteMeta(path string, m Meta) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode meta: %w", err)
	}
	if err := validateMeta(data); err != nil {
		return err
	}

	tmp := filepath.Join(filepath.Dir(path), "."+uuid.NewString()+".tmp")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write meta: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to write meta: %w", err)
	}
	return nil
}

// ReadMeta loads and validates a meta.json file.
func ReadMeta(path string) (Meta, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Meta{}, err
	}
	if err := validateMeta(data); err != nil {
		return Meta{}, fmt.Errorf("%s: %w", path, err)
	}
	var m Meta
	if err := json.Unmarshal(data, &m); err != nil {
		return Meta{}, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}
