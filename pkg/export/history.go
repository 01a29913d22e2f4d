package export

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/nicktill/corridorpulse/pkg/httpx"
	"github.com/nicktill/corridorpulse/pkg/storage"
	"github.com/nicktill/corridorpulse/pkg/traffic"
)

const (
	historyTimeout = 10 * time.Second

	// Query defaults and limits
	defaultHistoryWindow = 1 * time.Hour
	defaultMaxPoints     = 500
	maxPointsLimit       = 5000
	maxHistoryWindow     = 30 * 24 * time.Hour
)

// HistoryResponse returns corridor counts optimized for charting
type HistoryResponse struct {
	Corridor   traffic.CorridorID `json:"corridor"`
	Resolution string             `json:"resolution"`
	Points     []Point            `json:"points"`
}

// Point is one chart point. Counts are averages when downsampled.
type Point struct {
	Timestamp int64   `json:"t"` // Unix timestamp in milliseconds
	Cars      float64 `json:"cars"`
	Buses     float64 `json:"buses"`
	Trucks    float64 `json:"trucks"`
	Total     float64 `json:"total"`
}

// HandleHistory handles GET /v1/history/{corridor}
// Query params:
//   - start: RFC3339 timestamp (default: 1h before end)
//   - end: RFC3339 timestamp (default: now)
//   - max_points: 1..5000 (default: 500)
func (h *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		httpx.RespondErrorString(w, http.StatusNotImplemented, "no history backend configured")
		return
	}

	corridor := traffic.CorridorID(mux.Vars(r)["corridor"])
	if corridor == "" {
		httpx.RespondErrorString(w, http.StatusBadRequest, "corridor is required")
		return
	}

	query := r.URL.Query()
	end := parseTimeParam(query.Get("end"), time.Now())
	start := parseTimeParam(query.Get("start"), end.Add(-defaultHistoryWindow))

	if end.Before(start) {
		httpx.RespondErrorString(w, http.StatusBadRequest, "end must be after start")
		return
	}
	if end.Sub(start) > maxHistoryWindow {
		httpx.RespondErrorString(w, http.StatusBadRequest, fmt.Sprintf("query window too large (max %v)", maxHistoryWindow))
		return
	}

	maxPoints := defaultMaxPoints
	if mp := query.Get("max_points"); mp != "" {
		parsed, err := strconv.Atoi(mp)
		if err != nil {
			httpx.RespondError(w, http.StatusBadRequest, fmt.Errorf("invalid max_points: %q is not an integer", mp))
			return
		}
		if parsed <= 0 || parsed > maxPointsLimit {
			httpx.RespondErrorString(w, http.StatusBadRequest, fmt.Sprintf("max_points must be between 1 and %d", maxPointsLimit))
			return
		}
		maxPoints = parsed
	}

	ctx, cancel := context.WithTimeout(r.Context(), historyTimeout)
	defer cancel()

	samples, err := h.history.Query(ctx, storage.QueryRequest{Corridor: corridor, Start: start, End: end})
	if err != nil {
		httpx.RespondError(w, http.StatusInternalServerError, fmt.Errorf("query failed: %w", err))
		return
	}

	points := make([]Point, len(samples))
	for i, s := range samples {
		points[i] = Point{
			Timestamp: s.Timestamp.UnixMilli(),
			Cars:      float64(s.Cars),
			Buses:     float64(s.Buses),
			Trucks:    float64(s.Trucks),
			Total:     float64(s.Total()),
		}
	}

	response := HistoryResponse{Corridor: corridor, Resolution: "raw", Points: points}
	if len(points) > maxPoints {
		response.Points = downsamplePoints(points, maxPoints)
		response.Resolution = "downsampled"
	}

	w.Header().Set("Cache-Control", "no-cache")
	httpx.RespondJSON(w, http.StatusOK, response)
}

// downsamplePoints averages consecutive points into at most maxPoints buckets.
// Each bucket keeps its first timestamp.
func downsamplePoints(points []Point, maxPoints int) []Point {
	if len(points) <= maxPoints || maxPoints <= 0 {
		return points
	}

	bucketSize := (len(points) + maxPoints - 1) / maxPoints
	downsampled := make([]Point, 0, maxPoints)

	for i := 0; i < len(points); i += bucketSize {
		end := min(i+bucketSize, len(points))

		bucket := Point{Timestamp: points[i].Timestamp}
		for _, p := range points[i:end] {
			bucket.Cars += p.Cars
			bucket.Buses += p.Buses
			bucket.Trucks += p.Trucks
			bucket.Total += p.Total
		}
		n := float64(end - i)
		bucket.Cars /= n
		bucket.Buses /= n
		bucket.Trucks /= n
		bucket.Total /= n

		downsampled = append(downsampled, bucket)
	}

	return downsampled
}
