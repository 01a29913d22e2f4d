package ingest

import (
	"errors"
	"net/http"

	"github.com/nicktill/corridorpulse/pkg/httpx"
	"github.com/nicktill/corridorpulse/pkg/insight"
	"github.com/nicktill/corridorpulse/pkg/telemetry"
	"github.com/nicktill/corridorpulse/pkg/traffic"
)

// StorageChecker reports whether the mirror has room for more samples.
type StorageChecker interface {
	CheckLimit() error
}

// Handler handles sample ingestion
type Handler struct {
	ingester Ingester
	checker  StorageChecker
}

// NewHandler creates a new ingest handler
func NewHandler(ingester Ingester) *Handler {
	return &Handler{ingester: ingester}
}

// SetStorageChecker makes the handler refuse pushes once storage is full
func (h *Handler) SetStorageChecker(checker StorageChecker) {
	h.checker = checker
}

// IngestResponse represents the response payload
type IngestResponse struct {
	Status   string             `json:"status"`
	Camera   traffic.CameraID   `json:"camera"`
	Corridor traffic.CorridorID `json:"corridor"`
	Count    int                `json:"count"`
}

// HandleSamples handles POST /v1/samples
func (h *Handler) HandleSamples(w http.ResponseWriter, r *http.Request) {
	var req SamplesRequest
	if err := httpx.DecodeJSON(w, r, MaxPayloadBytes, &req); err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}
	if err := req.Validate(); err != nil {
		telemetry.SamplesRejected.WithLabelValues("http").Add(float64(len(req.Samples)))
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}

	if h.checker != nil {
		if err := h.checker.CheckLimit(); err != nil {
			telemetry.SamplesRejected.WithLabelValues("http").Add(float64(len(req.Samples)))
			httpx.RespondError(w, http.StatusInsufficientStorage, err)
			return
		}
	}

	corridor, err := h.ingester.Ingest(r.Context(), req.Camera, req.Samples)
	if err != nil {
		telemetry.SamplesRejected.WithLabelValues("http").Add(float64(len(req.Samples)))
		status := http.StatusBadRequest
		if errors.Is(err, insight.ErrUnknownCamera) {
			status = http.StatusNotFound
		}
		httpx.RespondError(w, status, err)
		return
	}

	telemetry.SamplesReceived.WithLabelValues("http").Add(float64(len(req.Samples)))
	httpx.RespondJSON(w, http.StatusAccepted, IngestResponse{
		Status:   "success",
		Camera:   req.Camera,
		Corridor: corridor,
		Count:    len(req.Samples),
	})
}
