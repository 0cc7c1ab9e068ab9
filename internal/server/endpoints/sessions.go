package endpoints

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/pagecam/internal/api"
	"github.com/jackzampolin/pagecam/internal/detect"
	"github.com/jackzampolin/pagecam/internal/session"
)

// sessionsGroup is the parent command for session operations.
const sessionsGroup = "sessions"

// StartSessionEndpoint handles POST /api/sessions.
type StartSessionEndpoint struct{}

func (e *StartSessionEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/sessions", e.handler
}

func (e *StartSessionEndpoint) RequiresInit() bool { return true }
func (e *StartSessionEndpoint) Group() string      { return sessionsGroup }

// handler godoc
//
//	@Summary		Start a scanning session
//	@Description	Create the session directory and start its capture, processing and finalize actors
//	@Tags			sessions
//	@Accept			json
//	@Produce		json
//	@Param			body	body		session.StartRequest	true	"Session parameters"
//	@Success		201	{object}	session.Status
//	@Failure		400	{object}	ErrorResponse
//	@Failure		500	{object}	ErrorResponse
//	@Failure		503	{object}	ErrorResponse
//	@Router			/api/sessions [post]
func (e *StartSessionEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	var req session.StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	mgr := sessionsOrError(w, r)
	if mgr == nil {
		return
	}

	st, err := mgr.Start(r.Context(), req)
	if err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, st)
}

func (e *StartSessionEndpoint) Command(getServerURL func() string) *cobra.Command {
	var req session.StartRequest
	var strategy string
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start a scanning session",
		Long: `Start a scanning session on a camera index or stream URL.

Strategies: contour (default), motion, roi, histogram.
The roi strategy captures nothing until a region is set with 'sessions roi'.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Strategy = detect.Kind(strategy)
			client := api.NewClient(getServerURL())
			var st session.Status
			if err := client.Post(cmd.Context(), "/api/sessions", req, &st); err != nil {
				return err
			}
			return api.Output(st)
		},
	}
	cmd.Flags().StringVar(&req.Name, "name", "", "Session name (required)")
	cmd.Flags().StringVar(&req.Description, "description", "", "Free-form description")
	cmd.Flags().StringVar(&req.Source, "source", "0", "Camera index or stream URL")
	cmd.Flags().BoolVar(&req.OCR, "ocr", false, "Extract text from each page")
	cmd.Flags().StringVar(&strategy, "strategy", "", "Detection strategy (default from config)")
	cmd.MarkFlagRequired("name")
	return cmd
}

// ListSessionsEndpoint handles GET /api/sessions.
type ListSessionsEndpoint struct{}

func (e *ListSessionsEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/sessions", e.handler
}

func (e *ListSessionsEndpoint) RequiresInit() bool { return true }
func (e *ListSessionsEndpoint) Group() string      { return sessionsGroup }

// ListSessionsResponse wraps the session list.
type ListSessionsResponse struct {
	Sessions []session.Status `json:"sessions"`
}

// Table implements api.Tabular.
func (r ListSessionsResponse) Table() ([]string, [][]string) {
	rows := make([][]string, 0, len(r.Sessions))
	for _, st := range r.Sessions {
		rows = append(rows, []string{
			st.ID,
			st.State,
			string(st.Strategy),
			strconv.Itoa(st.Captured),
			strconv.Itoa(st.Processed),
			strconv.Itoa(st.Pages),
			st.CreatedAt.Format(time.DateTime),
		})
	}
	return []string{"ID", "STATE", "STRATEGY", "CAPTURED", "PROCESSED", "PAGES", "CREATED"}, rows
}

// handler godoc
//
//	@Summary		List sessions
//	@Description	List running sessions, then stored ones, newest first
//	@Tags			sessions
//	@Produce		json
//	@Success		200	{object}	ListSessionsResponse
//	@Failure		500	{object}	ErrorResponse
//	@Failure		503	{object}	ErrorResponse
//	@Router			/api/sessions [get]
func (e *ListSessionsEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	mgr := sessionsOrError(w, r)
	if mgr == nil {
		return
	}
	list, err := mgr.List()
	if err != nil {
		writeSessionError(w, err)
		return
	}
	if list == nil {
		list = []session.Status{}
	}
	writeJSON(w, http.StatusOK, ListSessionsResponse{Sessions: list})
}

func (e *ListSessionsEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List running and stored sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp ListSessionsResponse
			if err := client.Get(cmd.Context(), "/api/sessions", &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}

// GetSessionEndpoint handles GET /api/sessions/{id}.
type GetSessionEndpoint struct{}

func (e *GetSessionEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/sessions/{id}", e.handler
}

func (e *GetSessionEndpoint) RequiresInit() bool { return true }
func (e *GetSessionEndpoint) Group() string      { return sessionsGroup }

// handler godoc
//
//	@Summary		Get session status
//	@Tags			sessions
//	@Produce		json
//	@Param			id	path		string	true	"Session ID"
//	@Success		200	{object}	session.Status
//	@Failure		404	{object}	ErrorResponse
//	@Failure		503	{object}	ErrorResponse
//	@Router			/api/sessions/{id} [get]
func (e *GetSessionEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	mgr := sessionsOrError(w, r)
	if mgr == nil {
		return
	}
	st, err := mgr.Get(r.PathValue("id"))
	if err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (e *GetSessionEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Get session status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var st session.Status
			if err := client.Get(cmd.Context(), "/api/sessions/"+args[0], &st); err != nil {
				return err
			}
			return api.Output(st)
		},
	}
}

// StopSessionEndpoint handles POST /api/sessions/{id}/stop.
type StopSessionEndpoint struct{}

func (e *StopSessionEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/sessions/{id}/stop", e.handler
}

func (e *StopSessionEndpoint) RequiresInit() bool { return true }
func (e *StopSessionEndpoint) Group() string      { return sessionsGroup }

// ActionResponse acknowledges a signal.
type ActionResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// handler godoc
//
//	@Summary		Stop capturing
//	@Description	Stop the capture actor; processing and finalize keep running
//	@Tags			sessions
//	@Produce		json
//	@Param			id	path		string	true	"Session ID"
//	@Success		200	{object}	ActionResponse
//	@Failure		404	{object}	ErrorResponse
//	@Failure		409	{object}	ErrorResponse
//	@Failure		503	{object}	ErrorResponse
//	@Router			/api/sessions/{id}/stop [post]
func (e *StopSessionEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	mgr := sessionsOrError(w, r)
	if mgr == nil {
		return
	}
	id := r.PathValue("id")
	if err := mgr.Stop(id); err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ActionResponse{ID: id, Status: "stopping"})
}

func (e *StopSessionEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "stop <id>",
		Short: "Stop capturing (processing and finalize keep working)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp ActionResponse
			if err := client.Post(cmd.Context(), "/api/sessions/"+args[0]+"/stop", nil, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}

// CloseSessionEndpoint handles DELETE /api/sessions/{id}. Files are kept.
type CloseSessionEndpoint struct{}

func (e *CloseSessionEndpoint) Route() (string, string, http.HandlerFunc) {
	return "DELETE", "/api/sessions/{id}", e.handler
}

func (e *CloseSessionEndpoint) RequiresInit() bool { return true }
func (e *CloseSessionEndpoint) Group() string      { return sessionsGroup }

// handler godoc
//
//	@Summary		Close a session
//	@Description	Stop all actors of a session; its files remain on disk
//	@Tags			sessions
//	@Produce		json
//	@Param			id	path		string	true	"Session ID"
//	@Success		200	{object}	ActionResponse
//	@Failure		404	{object}	ErrorResponse
//	@Failure		503	{object}	ErrorResponse
//	@Router			/api/sessions/{id} [delete]
func (e *CloseSessionEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	mgr := sessionsOrError(w, r)
	if mgr == nil {
		return
	}
	id := r.PathValue("id")
	if err := mgr.Close(id); err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ActionResponse{ID: id, Status: "closed"})
}

func (e *CloseSessionEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "close <id>",
		Short: "Shut down a session's actors (files are kept)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			if err := client.Delete(cmd.Context(), "/api/sessions/"+args[0]); err != nil {
				return err
			}
			fmt.Printf("Session %s closed\n", args[0])
			return nil
		},
	}
}

// SetROIEndpoint handles PUT /api/sessions/{id}/roi.
type SetROIEndpoint struct{}

func (e *SetROIEndpoint) Route() (string, string, http.HandlerFunc) {
	return "PUT", "/api/sessions/{id}/roi", e.handler
}

func (e *SetROIEndpoint) RequiresInit() bool { return true }
func (e *SetROIEndpoint) Group() string      { return sessionsGroup }

// handler godoc
//
//	@Summary		Set the region of interest
//	@Tags			sessions
//	@Accept			json
//	@Produce		json
//	@Param			id	path		string	true	"Session ID"
//	@Param			body	body		detect.Rect	true	"Rectangle in frame pixels"
//	@Success		200	{object}	detect.Rect
//	@Failure		400	{object}	ErrorResponse
//	@Failure		404	{object}	ErrorResponse
//	@Failure		409	{object}	ErrorResponse
//	@Failure		503	{object}	ErrorResponse
//	@Router			/api/sessions/{id}/roi [put]
func (e *SetROIEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	var rect detect.Rect
	if err := json.NewDecoder(r.Body).Decode(&rect); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	mgr := sessionsOrError(w, r)
	if mgr == nil {
		return
	}
	id := r.PathValue("id")
	if err := mgr.SetROI(id, rect); err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rect)
}

func (e *SetROIEndpoint) Command(getServerURL func() string) *cobra.Command {
	var rect detect.Rect
	cmd := &cobra.Command{
		Use:   "roi <id>",
		Short: "Set the region of interest for the roi strategy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp detect.Rect
			if err := client.Put(cmd.Context(), "/api/sessions/"+args[0]+"/roi", rect, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().IntVar(&rect.X, "x", 0, "Left edge in pixels")
	cmd.Flags().IntVar(&rect.Y, "y", 0, "Top edge in pixels")
	cmd.Flags().IntVar(&rect.Width, "width", 0, "Width in pixels")
	cmd.Flags().IntVar(&rect.Height, "height", 0, "Height in pixels")
	return cmd
}
