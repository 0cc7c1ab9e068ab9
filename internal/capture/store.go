package capture

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/jackzampolin/pagecam/internal/frame"
)

// RawNameFormat is the file name of the Nth raw capture.
const RawNameFormat = "%06d.jpg"

// Store persists accepted frames.
type Store interface {
	// Save writes f and returns the final path.
	Save(f frame.Frame) (string, error)
}

// FileStore writes JPEGs into a raw directory with monotonically increasing
// zero-padded names. Each file appears atomically (temp file + rename).
type FileStore struct {
	dir     string
	quality int

	mu  sync.Mutex
	seq int
}

// NewFileStore creates a store writing into rawDir. Numbering continues after
// the highest sequence found in rawDir or any of the resumeDirs.
func NewFileStore(rawDir string, quality int, resumeDirs ...string) (*FileStore, error) {
	if err := os.MkdirAll(rawDir, 0o755); err != nil {
		return nil, fmt.Errorf("create raw dir: %w", err)
	}
	if quality <= 0 || quality > 100 {
		quality = 95
	}

	seq := 0
	for _, dir := range append([]string{rawDir}, resumeDirs...) {
		n, err := HighestSequence(dir)
		if err != nil {
			return nil, err
		}
		if n > seq {
			seq = n
		}
	}

	return &FileStore{dir: rawDir, quality: quality, seq: seq}, nil
}

// Save encodes f as JPEG and publishes it as the next sequence number.
func (s *FileStore) Save(f frame.Frame) (string, error) {
	data, err := f.EncodeJPEG(s.quality)
	if err != nil {
		return "", fmt.Errorf("encode frame %d: %w", f.Seq(), err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tmp := filepath.Join(s.dir, "."+uuid.NewString()+".tmp")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("write temp capture: %w", err)
	}

	next := s.seq + 1
	path := filepath.Join(s.dir, fmt.Sprintf(RawNameFormat, next))
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("publish capture: %w", err)
	}
	s.seq = next
	return path, nil
}

// Last returns the last sequence number written (or resumed from).
func (s *FileStore) Last() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq
}

// HighestSequence returns the largest numeric file stem in dir, or 0.
// A missing directory is not an error.
func HighestSequence(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("scan %s: %w", dir, err)
	}

	highest := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		stem := strings.TrimSuffix(name, filepath.Ext(name))
		n, err := strconv.Atoi(stem)
		if err != nil || n < 0 {
			continue
		}
		if n > highest {
			highest = n
		}
	}
	return highest, nil
}
