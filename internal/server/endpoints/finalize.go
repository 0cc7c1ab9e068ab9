package endpoints

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/pagecam/internal/api"
)

// FinalizeEndpoint handles POST /api/sessions/{id}/finalize.
// With ?wait=true the response is sent after the document is written.
type FinalizeEndpoint struct{}

func (e *FinalizeEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/sessions/{id}/finalize", e.handler
}

func (e *FinalizeEndpoint) RequiresInit() bool { return true }
func (e *FinalizeEndpoint) Group() string      { return sessionsGroup }

// FinalizeResponse reports a finalize signal or its outcome.
type FinalizeResponse struct {
	ID       string    `json:"id"`
	Status   string    `json:"status"`
	Document string    `json:"document,omitempty"`
	Pages    int       `json:"pages,omitempty"`
	At       time.Time `json:"at,omitempty"`
}

// handler godoc
//
//	@Summary		Finalize the session document
//	@Description	Assemble processed pages into final/scan.pdf. With wait=true the response reports the written document
//	@Tags			sessions
//	@Produce		json
//	@Param			id	path		string	true	"Session ID"
//	@Param			wait	query		bool	false	"Wait for the document"
//	@Success		200	{object}	FinalizeResponse
//	@Success		202	{object}	FinalizeResponse
//	@Failure		404	{object}	ErrorResponse
//	@Failure		409	{object}	ErrorResponse
//	@Failure		500	{object}	ErrorResponse
//	@Failure		503	{object}	ErrorResponse
//	@Router			/api/sessions/{id}/finalize [post]
func (e *FinalizeEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	mgr := sessionsOrError(w, r)
	if mgr == nil {
		return
	}
	id := r.PathValue("id")

	if r.URL.Query().Get("wait") != "true" {
		if err := mgr.TriggerFinalize(id); err != nil {
			writeSessionError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, FinalizeResponse{ID: id, Status: "finalizing"})
		return
	}

	out, err := mgr.Finalize(r.Context(), id)
	if err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, FinalizeResponse{
		ID:       id,
		Status:   "finalized",
		Document: out.Path,
		Pages:    out.Pages,
		At:       out.At,
	})
}

func (e *FinalizeEndpoint) Command(getServerURL func() string) *cobra.Command {
	var wait bool
	cmd := &cobra.Command{
		Use:   "finalize <id>",
		Short: "Assemble processed pages into the session PDF",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			path := "/api/sessions/" + args[0] + "/finalize"
			if wait {
				path += "?wait=true"
			}
			var resp FinalizeResponse
			if err := client.Post(cmd.Context(), path, nil, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().BoolVar(&wait, "wait", false, "Wait for the document to be written")
	return cmd
}

// DocumentEndpoint handles GET /api/sessions/{id}/document.
type DocumentEndpoint struct{}

func (e *DocumentEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/sessions/{id}/document", e.handler
}

func (e *DocumentEndpoint) RequiresInit() bool { return true }
func (e *DocumentEndpoint) Group() string      { return sessionsGroup }

// handler godoc
//
//	@Summary		Download the session PDF
//	@Tags			sessions
//	@Produce		pdf
//	@Param			id	path		string	true	"Session ID"
//	@Success		200	{file}	binary
//	@Failure		404	{object}	ErrorResponse
//	@Failure		503	{object}	ErrorResponse
//	@Router			/api/sessions/{id}/document [get]
func (e *DocumentEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	mgr := sessionsOrError(w, r)
	if mgr == nil {
		return
	}
	id := r.PathValue("id")
	path, err := mgr.FinalDocument(id)
	if err != nil {
		writeSessionError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", id+".pdf"))
	http.ServeFile(w, r, path)
}

func (e *DocumentEndpoint) Command(getServerURL func() string) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "document <id>",
		Short: "Download the session PDF",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			data, _, err := client.GetBytes(cmd.Context(), "/api/sessions/"+args[0]+"/document")
			if err != nil {
				return err
			}
			if out == "" {
				out = args[0] + ".pdf"
			}
			if err := os.WriteFile(out, data, 0o644); err != nil {
				return err
			}
			fmt.Printf("Document written to %s (%d bytes)\n", out, len(data))
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "file", "f", "", "Output file (default <id>.pdf)")
	return cmd
}
