package insight

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/nicktill/corridorpulse/pkg/config"
	"github.com/nicktill/corridorpulse/pkg/derive"
	"github.com/nicktill/corridorpulse/pkg/httpx"
	"github.com/nicktill/corridorpulse/pkg/scheduler"
	"github.com/nicktill/corridorpulse/pkg/traffic"
)

// maxRequestBytes bounds the small JSON bodies of detect and select
const maxRequestBytes = 4 << 10

// ErrCameraRequired is returned when a request does not name a camera
var ErrCameraRequired = errors.New("camera is required")

// Handler serves the insight HTTP endpoints
type Handler struct {
	service *Service
}

// NewHandler creates a new insight handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// CameraRequest is the body of POST /v1/detect and POST /v1/select
type CameraRequest struct {
	Camera traffic.CameraID `json:"camera"`
}

// HandleSnapshot handles GET /v1/snapshot?camera=
func (h *Handler) HandleSnapshot(w http.ResponseWriter, r *http.Request) {
	camera := traffic.CameraID(r.URL.Query().Get("camera"))
	if camera == "" {
		httpx.RespondError(w, http.StatusBadRequest, ErrCameraRequired)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, h.service.GetSnapshot(camera, h.service.now()))
}

// HandleDetect handles POST /v1/detect. A failed run is still a 200 with
// status "failed" and zero frames.
func (h *Handler) HandleDetect(w http.ResponseWriter, r *http.Request) {
	camera, ok := decodeCamera(w, r)
	if !ok {
		return
	}
	httpx.RespondJSON(w, http.StatusOK, h.service.TriggerDetection(r.Context(), camera))
}

// HandleSelect handles POST /v1/select
func (h *Handler) HandleSelect(w http.ResponseWriter, r *http.Request) {
	camera, ok := decodeCamera(w, r)
	if !ok {
		return
	}
	httpx.RespondJSON(w, http.StatusAccepted, h.service.Select(camera))
}

// CurrentResponse is the body of GET /v1/current
type CurrentResponse struct {
	Selection scheduler.Selection `json:"selection"`
	Snapshot  *derive.Snapshot    `json:"snapshot"`
}

// HandleCurrent handles GET /v1/current
func (h *Handler) HandleCurrent(w http.ResponseWriter, r *http.Request) {
	sel, snap := h.service.Current()
	if sel.Generation == 0 {
		httpx.RespondErrorString(w, http.StatusNotFound, "no camera selected")
		return
	}
	httpx.RespondJSON(w, http.StatusOK, CurrentResponse{Selection: sel, Snapshot: snap})
}

// HandleCorridors handles GET /v1/corridors
func (h *Handler) HandleCorridors(w http.ResponseWriter, r *http.Request) {
	httpx.RespondJSON(w, http.StatusOK, map[string]interface{}{
		"corridors": h.service.Corridors(),
	})
}

// HandleCameras handles GET /v1/cameras
func (h *Handler) HandleCameras(w http.ResponseWriter, r *http.Request) {
	httpx.RespondJSON(w, http.StatusOK, map[string]interface{}{
		"cameras": h.service.Cameras(),
	})
}

// HandleWindow handles GET /v1/window/{corridor}?n=
func (h *Handler) HandleWindow(w http.ResponseWriter, r *http.Request) {
	corridor := traffic.CorridorID(mux.Vars(r)["corridor"])
	if !h.service.HasCorridor(corridor) {
		httpx.RespondErrorString(w, http.StatusNotFound, "unknown corridor: "+string(corridor))
		return
	}

	n, err := httpx.QueryInt(r, "n", 0)
	if err != nil || n < 0 || n > config.MaxWindowSize {
		httpx.RespondErrorString(w, http.StatusBadRequest, fmt.Sprintf("n must be between 0 and %d", config.MaxWindowSize))
		return
	}
	httpx.RespondJSON(w, http.StatusOK, h.service.Window(corridor, n))
}

func decodeCamera(w http.ResponseWriter, r *http.Request) (traffic.CameraID, bool) {
	var req CameraRequest
	if err := httpx.DecodeJSON(w, r, maxRequestBytes, &req); err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return "", false
	}
	if req.Camera == "" {
		httpx.RespondError(w, http.StatusBadRequest, ErrCameraRequired)
		return "", false
	}
	return req.Camera, true
}
