package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/spf13/cobra"
)

func TestClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/ok":
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"status":"ok"}`))
		case r.Method == http.MethodPost && r.URL.Path == "/echo":
			var body map[string]string
			json.NewDecoder(r.Body).Decode(&body)
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(body)
		case r.URL.Path == "/image":
			w.Header().Set("Content-Type", "image/jpeg")
			w.Write([]byte{0xff, 0xd8, 0xff})
		default:
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"error":"session not found"}`))
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	ctx := context.Background()

	t.Run("get", func(t *testing.T) {
		var resp struct{ Status string }
		if err := c.Get(ctx, "/ok", &resp); err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if resp.Status != "ok" {
			t.Errorf("status = %q, want ok", resp.Status)
		}
	})

	t.Run("post", func(t *testing.T) {
		var resp map[string]string
		if err := c.Post(ctx, "/echo", map[string]string{"name": "book"}, &resp); err != nil {
			t.Fatalf("Post() error = %v", err)
		}
		if resp["name"] != "book" {
			t.Errorf("echo = %v", resp)
		}
	})

	t.Run("bytes", func(t *testing.T) {
		body, ct, err := c.GetBytes(ctx, "/image")
		if err != nil {
			t.Fatalf("GetBytes() error = %v", err)
		}
		if ct != "image/jpeg" || len(body) != 3 {
			t.Errorf("GetBytes() = %d bytes, %q", len(body), ct)
		}
	})

	t.Run("server error", func(t *testing.T) {
		err := c.Get(ctx, "/missing", nil)
		if err == nil || !strings.Contains(err.Error(), "session not found") {
			t.Errorf("Get() error = %v, want server error message", err)
		}
		if _, _, err := c.GetBytes(ctx, "/missing"); err == nil {
			t.Error("GetBytes() error = nil, want 404")
		}
	})
}

func TestOutputTo(t *testing.T) {
	data := map[string]any{"id": "book_1", "pages": 2}

	var js bytes.Buffer
	if err := OutputTo(&js, OutputFormatJSON, data); err != nil {
		t.Fatalf("json output error = %v", err)
	}
	if !strings.Contains(js.String(), `"id": "book_1"`) {
		t.Errorf("json output = %s", js.String())
	}

	var ym bytes.Buffer
	if err := OutputTo(&ym, OutputFormatYAML, data); err != nil {
		t.Fatalf("yaml output error = %v", err)
	}
	if !strings.Contains(ym.String(), "id: book_1") {
		t.Errorf("yaml output = %s", ym.String())
	}

	// Non-tabular data falls back to yaml.
	var fallback bytes.Buffer
	if err := OutputTo(&fallback, OutputFormatTable, data); err != nil {
		t.Fatalf("table fallback error = %v", err)
	}
	if fallback.String() != ym.String() {
		t.Errorf("table fallback = %q, want yaml", fallback.String())
	}

	if err := OutputTo(&ym, "xml", data); err == nil {
		t.Error("expected error for unknown format")
	}
}

type fakeTable struct{}

func (fakeTable) Table() ([]string, [][]string) {
	return []string{"ID", "PAGES"}, [][]string{{"book_1", "2"}, {"notes_10", "14"}}
}

func TestOutputTo_Table(t *testing.T) {
	var buf bytes.Buffer
	if err := OutputTo(&buf, OutputFormatTable, fakeTable{}); err != nil {
		t.Fatalf("table output error = %v", err)
	}
	want := "ID        PAGES\nbook_1    2\nnotes_10  14\n"
	if buf.String() != want {
		t.Errorf("table output = %q, want %q", buf.String(), want)
	}
}

func TestSetOutputFormat(t *testing.T) {
	defer SetOutputFormat("yaml")
	for in, want := range map[string]OutputFormat{
		"json":  OutputFormatJSON,
		"TABLE": OutputFormatTable,
		"xml":   OutputFormatYAML,
	} {
		SetOutputFormat(in)
		if got := GetOutputFormat(); got != want {
			t.Errorf("SetOutputFormat(%q) -> %q, want %q", in, got, want)
		}
	}
}

type fakeEndpoint struct {
	use, group string
}

func (e fakeEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/" + e.use, func(w http.ResponseWriter, r *http.Request) {}
}
func (e fakeEndpoint) RequiresInit() bool { return false }
func (e fakeEndpoint) Group() string      { return e.group }
func (e fakeEndpoint) Command(func() string) *cobra.Command {
	return &cobra.Command{Use: e.use}
}

func TestRegistry_BuildCommands(t *testing.T) {
	r := NewRegistry()
	r.Register(fakeEndpoint{use: "health"})
	r.Register(fakeEndpoint{use: "list", group: "sessions"})
	r.Register(fakeEndpoint{use: "get", group: "sessions"})

	root := r.BuildCommands(func() string { return "http://localhost" })
	names := map[string]int{}
	for _, c := range root.Commands() {
		names[c.Name()] = len(c.Commands())
	}
	if _, ok := names["health"]; !ok {
		t.Error("health command missing")
	}
	if names["sessions"] != 2 {
		t.Errorf("sessions group has %d commands, want 2", names["sessions"])
	}
}
