package home

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	// DefaultDirName is the default name for the pagecam home directory.
	DefaultDirName = ".pagecam"

	// SessionsDirName holds one directory per scanning session.
	SessionsDirName = "sessions"

	// ConfigFileName is the default config file name.
	ConfigFileName = "config.yaml"

	RawDirName       = "raw"
	ProcessedDirName = "processed"
	FinalDirName     = "final"
	MetaFileName     = "meta.json"
)

// Dir represents the pagecam home directory structure.
type Dir struct {
	path string
}

// New creates a new Dir with the given path.
// If path is empty, uses the default (~/.pagecam).
func New(path string) (*Dir, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		path = filepath.Join(home, DefaultDirName)
	}

	return &Dir{path: path}, nil
}

// Path returns the root path of the home directory.
func (d *Dir) Path() string {
	return d.path
}

// SessionsPath returns the directory holding all sessions.
func (d *Dir) SessionsPath() string {
	return filepath.Join(d.path, SessionsDirName)
}

// ConfigPath returns the path to the default config file.
func (d *Dir) ConfigPath() string {
	return filepath.Join(d.path, ConfigFileName)
}

// EnsureExists creates the home directory and the sessions directory.
func (d *Dir) EnsureExists() error {
	if err := os.MkdirAll(d.SessionsPath(), 0o755); err != nil {
		return fmt.Errorf("failed to create sessions directory: %w", err)
	}
	return nil
}

// Exists returns true if the home directory exists.
func (d *Dir) Exists() bool {
	_, err := os.Stat(d.path)
	return err == nil
}

// ConfigExists returns true if the config file exists in the home directory.
func (d *Dir) ConfigExists() bool {
	_, err := os.Stat(d.ConfigPath())
	return err == nil
}

// Session returns the storage layout of one session.
func (d *Dir) Session(id string) SessionDir {
	return SessionDir(filepath.Join(d.SessionsPath(), id))
}

// SessionDir is the root of a session's storage.
type SessionDir string

func (s SessionDir) Path() string     { return string(s) }
func (s SessionDir) RawDir() string   { return filepath.Join(string(s), RawDirName) }
func (s SessionDir) FinalDir() string { return filepath.Join(string(s), FinalDirName) }
func (s SessionDir) MetaPath() string { return filepath.Join(string(s), MetaFileName) }
func (s SessionDir) ProcessedDir() string {
	return filepath.Join(string(s), ProcessedDirName)
}

// FinalPath returns the path of the assembled document.
func (s SessionDir) FinalPath(name string) string {
	return filepath.Join(s.FinalDir(), name)
}

// Ensure creates raw/, processed/ and final/.
func (s SessionDir) Ensure() error {
	for _, dir := range []string{s.RawDir(), s.ProcessedDir(), s.FinalDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return nil
}

// Exists reports whether the session directory is present.
func (s SessionDir) Exists() bool {
	info, err := os.Stat(string(s))
	return err == nil && info.IsDir()
}
