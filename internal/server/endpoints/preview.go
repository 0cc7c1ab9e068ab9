package endpoints

import (
	"fmt"
	"image/color"
	"net/http"
	"os"

	"github.com/spf13/cobra"
	"gocv.io/x/gocv"

	"github.com/jackzampolin/pagecam/internal/api"
	"github.com/jackzampolin/pagecam/internal/detect"
	"github.com/jackzampolin/pagecam/internal/frame"
)

// previewQuality is the JPEG quality of preview images.
const previewQuality = 80

var overlayColor = color.RGBA{G: 255}

// renderPreview encodes f as JPEG with the region outline drawn on a copy.
func renderPreview(f frame.Frame, region detect.Region) ([]byte, error) {
	img, err := f.Mat()
	if err != nil {
		img.Close()
		return nil, err
	}
	defer img.Close()

	poly := region.Polygon
	if len(poly) >= 2 {
		for i := range poly {
			gocv.Line(&img, poly[i], poly[(i+1)%len(poly)], overlayColor, 3)
		}
	}
	return frame.EncodeJPEG(img, previewQuality)
}

// PreviewEndpoint handles GET /api/sessions/{id}/preview.
type PreviewEndpoint struct{}

func (e *PreviewEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/sessions/{id}/preview", e.handler
}

func (e *PreviewEndpoint) RequiresInit() bool { return true }
func (e *PreviewEndpoint) Group() string      { return sessionsGroup }

// handler godoc
//
//	@Summary		Preview the latest frame
//	@Description	JPEG of the most recent frame with the detected page outlined in green
//	@Tags			sessions
//	@Produce		jpeg
//	@Param			id	path		string	true	"Session ID"
//	@Success		200	{file}	binary
//	@Failure		404	{object}	ErrorResponse
//	@Failure		409	{object}	ErrorResponse
//	@Failure		500	{object}	ErrorResponse
//	@Failure		503	{object}	ErrorResponse
//	@Router			/api/sessions/{id}/preview [get]
func (e *PreviewEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	mgr := sessionsOrError(w, r)
	if mgr == nil {
		return
	}
	id := r.PathValue("id")
	f, ok, err := mgr.PreviewFrame(id)
	if err != nil {
		writeSessionError(w, err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "no frame captured yet")
		return
	}
	region, _, _ := mgr.PreviewRegion(id)

	data, err := renderPreview(f, region)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (e *PreviewEndpoint) Command(getServerURL func() string) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "preview <id>",
		Short: "Save the latest frame with the detected region drawn on it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			data, _, err := client.GetBytes(cmd.Context(), "/api/sessions/"+args[0]+"/preview")
			if err != nil {
				return err
			}
			if out == "" {
				out = args[0] + "-preview.jpg"
			}
			if err := os.WriteFile(out, data, 0o644); err != nil {
				return err
			}
			fmt.Printf("Preview written to %s\n", out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "file", "f", "", "Output file (default <id>-preview.jpg)")
	return cmd
}

// RegionEndpoint handles GET /api/sessions/{id}/region.
type RegionEndpoint struct{}

func (e *RegionEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/sessions/{id}/region", e.handler
}

func (e *RegionEndpoint) RequiresInit() bool { return true }
func (e *RegionEndpoint) Group() string      { return sessionsGroup }

// RegionResponse reports the latest detected region.
type RegionResponse struct {
	Detected bool          `json:"detected"`
	Region   detect.Region `json:"region"`
}

// handler godoc
//
//	@Summary		Get the latest detected region
//	@Tags			sessions
//	@Produce		json
//	@Param			id	path		string	true	"Session ID"
//	@Success		200	{object}	RegionResponse
//	@Failure		404	{object}	ErrorResponse
//	@Failure		409	{object}	ErrorResponse
//	@Failure		503	{object}	ErrorResponse
//	@Router			/api/sessions/{id}/region [get]
func (e *RegionEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	mgr := sessionsOrError(w, r)
	if mgr == nil {
		return
	}
	region, ok, err := mgr.PreviewRegion(r.PathValue("id"))
	if err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, RegionResponse{Detected: ok && !region.Empty(), Region: region})
}

func (e *RegionEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "region <id>",
		Short: "Show the latest detected page region",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp RegionResponse
			if err := client.Get(cmd.Context(), "/api/sessions/"+args[0]+"/region", &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}
