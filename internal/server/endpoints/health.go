package endpoints

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/pagecam/internal/api"
	"github.com/jackzampolin/pagecam/internal/session"
	"github.com/jackzampolin/pagecam/internal/svcctx"
	"github.com/jackzampolin/pagecam/version"
)

// HealthResponse is the response for health check endpoints.
type HealthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	Sessions int    `json:"sessions"`
}

// HealthEndpoint handles GET /health.
type HealthEndpoint struct{}

func (e *HealthEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/health", e.handler
}

func (e *HealthEndpoint) RequiresInit() bool { return false }

func (e *HealthEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok", Version: version.GitRelease}
	if mgr := svcctx.SessionsFrom(r.Context()); mgr != nil {
		if list, err := mgr.List(); err == nil {
			for _, st := range list {
				if st.State != session.StateInactive {
					resp.Sessions++
				}
			}
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (e *HealthEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check server health",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp HealthResponse
			if err := client.Get(cmd.Context(), "/health", &resp); err != nil {
				return err
			}
			fmt.Printf("Status:   %s\n", resp.Status)
			fmt.Printf("Version:  %s\n", resp.Version)
			fmt.Printf("Sessions: %d\n", resp.Sessions)
			return nil
		},
	}
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// ErrorResponse is a standard error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// writeSessionError maps session errors onto HTTP statuses.
func writeSessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrNotFound), errors.Is(err, session.ErrNoDocument):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, session.ErrInactive):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, session.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// sessionsOrError returns the session manager or writes 503.
func sessionsOrError(w http.ResponseWriter, r *http.Request) *session.Manager {
	mgr := svcctx.SessionsFrom(r.Context())
	if mgr == nil {
		writeError(w, http.StatusServiceUnavailable, "session manager not initialized")
	}
	return mgr
}
