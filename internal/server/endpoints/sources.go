package endpoints

import (
	"net/http"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/pagecam/internal/api"
)

// Source describes a selectable video input.
type Source struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Kind  string `json:"kind"` // "camera" or "stream"
}

// SourcesResponse lists available inputs.
type SourcesResponse struct {
	Sources []Source `json:"sources"`
}

// Table implements api.Tabular.
func (r SourcesResponse) Table() ([]string, [][]string) {
	rows := make([][]string, 0, len(r.Sources))
	for _, s := range r.Sources {
		rows = append(rows, []string{s.ID, s.Kind, s.Label})
	}
	return []string{"ID", "KIND", "LABEL"}, rows
}

// SourcesEndpoint handles GET /api/sources.
type SourcesEndpoint struct {
	// DeviceGlob matches local capture devices (default /dev/video*).
	DeviceGlob string
}

func (e *SourcesEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/sources", e.handler
}

func (e *SourcesEndpoint) RequiresInit() bool { return false }

// handler godoc
//
//	@Summary		List video sources
//	@Description	Local capture devices plus a stream placeholder
//	@Tags			sources
//	@Produce		json
//	@Success		200	{object}	SourcesResponse
//	@Router			/api/sources [get]
func (e *SourcesEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, SourcesResponse{Sources: listSources(e.DeviceGlob)})
}

// listSources enumerates local video devices and appends a stream
// placeholder. The id of a device is its numeric index.
func listSources(pattern string) []Source {
	if pattern == "" {
		pattern = "/dev/video*"
	}
	devices, _ := filepath.Glob(pattern)
	sort.Strings(devices)

	sources := make([]Source, 0, len(devices)+1)
	for _, dev := range devices {
		base := filepath.Base(dev)
		idx := strings.TrimLeft(base, "abcdefghijklmnopqrstuvwxyz")
		if _, err := strconv.Atoi(idx); err != nil {
			continue
		}
		sources = append(sources, Source{ID: idx, Label: dev, Kind: "camera"})
	}
	sources = append(sources, Source{
		ID:    "rtsp://",
		Label: "RTSP stream (enter URL)",
		Kind:  "stream",
	})
	return sources
}

func (e *SourcesEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "sources",
		Short: "List available cameras",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp SourcesResponse
			if err := client.Get(cmd.Context(), "/api/sources", &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}
