package home

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNew(t *testing.T) {
	t.Run("with explicit path", func(t *testing.T) {
		dir, err := New("/tmp/test-pagecam")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if dir.Path() != "/tmp/test-pagecam" {
			t.Errorf("expected path /tmp/test-pagecam, got %s", dir.Path())
		}
	})

	t.Run("with empty path uses default", func(t *testing.T) {
		dir, err := New("")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		home, _ := os.UserHomeDir()
		expected := filepath.Join(home, DefaultDirName)
		if dir.Path() != expected {
			t.Errorf("expected path %s, got %s", expected, dir.Path())
		}
	})
}

func TestDir_Paths(t *testing.T) {
	dir, _ := New("/tmp/test-pagecam")

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"SessionsPath", dir.SessionsPath(), "/tmp/test-pagecam/sessions"},
		{"ConfigPath", dir.ConfigPath(), "/tmp/test-pagecam/config.yaml"},
		{"RawDir", dir.Session("book_1").RawDir(), "/tmp/test-pagecam/sessions/book_1/raw"},
		{"ProcessedDir", dir.Session("book_1").ProcessedDir(), "/tmp/test-pagecam/sessions/book_1/processed"},
		{"FinalPath", dir.Session("book_1").FinalPath("scan.pdf"), "/tmp/test-pagecam/sessions/book_1/final/scan.pdf"},
		{"MetaPath", dir.Session("book_1").MetaPath(), "/tmp/test-pagecam/sessions/book_1/meta.json"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %s, want %s", tt.got, tt.want)
			}
		})
	}
}

func TestDir_EnsureExists(t *testing.T) {
	dir, err := New(filepath.Join(t.TempDir(), "pagecam-test"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if dir.Exists() {
		t.Error("directory should not exist before EnsureExists")
	}
	if err := dir.EnsureExists(); err != nil {
		t.Fatalf("EnsureExists failed: %v", err)
	}
	if !dir.Exists() {
		t.Error("directory should exist after EnsureExists")
	}
	if _, err := os.Stat(dir.SessionsPath()); os.IsNotExist(err) {
		t.Error("sessions directory should exist after EnsureExists")
	}
}

func TestSessionDir_Ensure(t *testing.T) {
	dir, _ := New(t.TempDir())
	s := dir.Session("notes_1")
	if s.Exists() {
		t.Fatal("session should not exist yet")
	}
	if err := s.Ensure(); err != nil {
		t.Fatalf("Ensure() error = %v", err)
	}
	for _, p := range []string{s.RawDir(), s.ProcessedDir(), s.FinalDir()} {
		if info, err := os.Stat(p); err != nil || !info.IsDir() {
			t.Errorf("%s not created", p)
		}
	}
}

func TestDir_ConfigExists(t *testing.T) {
	dir, _ := New(t.TempDir())

	if dir.ConfigExists() {
		t.Error("config should not exist initially")
	}
	if err := os.WriteFile(dir.ConfigPath(), []byte("test: true\n"), 0o644); err != nil {
		t.Fatalf("failed to create test config: %v", err)
	}
	if !dir.ConfigExists() {
		t.Error("config should exist after creation")
	}
}
