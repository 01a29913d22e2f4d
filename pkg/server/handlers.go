package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nicktill/corridorpulse/pkg/httpx"
	"github.com/nicktill/corridorpulse/pkg/server/monitor"
	"github.com/nicktill/corridorpulse/pkg/storage"
)

// Version is reported by /v1/health.
const Version = "1.0.0"

const statsTimeout = 5 * time.Second

var startTime = time.Now()

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status    string              `json:"status"`
	Version   string              `json:"version"`
	Uptime    string              `json:"uptime"`
	Backend   string              `json:"backend"`
	Selected  bool                `json:"selected"`
	Refresh   monitor.TaskStatus  `json:"refresh"`
	Retention *monitor.TaskStatus `json:"retention,omitempty"`
}

// StorageResponse combines disk usage with the mirror's own stats.
type StorageResponse struct {
	monitor.StorageUsage
	Mirror *storage.Stats `json:"mirror,omitempty"`
}

// handleHealth returns service health. Refresh health only counts once a camera
// is selected, since an idle scheduler never records a run.
func handleHealth(c *Components) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		selected := c.Scheduler.Selection().Generation > 0

		healthy := true
		if selected && !c.RefreshMonitor.IsHealthy() {
			healthy = false
		}

		response := HealthResponse{
			Status:   "healthy",
			Version:  Version,
			Uptime:   time.Since(startTime).Round(time.Second).String(),
			Backend:  c.Backend,
			Refresh:  c.RefreshMonitor.Status(),
			Selected: selected,
		}
		if c.retentionEnabled() {
			status := c.RetainMonitor.Status()
			response.Retention = &status
			if !status.Healthy && status.Runs > 0 {
				healthy = false
			}
		}

		statusCode := http.StatusOK
		if !healthy {
			response.Status = "degraded"
			statusCode = http.StatusServiceUnavailable
		}
		httpx.RespondJSON(w, statusCode, response)
	}
}

// handleStorageUsage returns disk usage against the limit plus mirror stats.
func handleStorageUsage(c *Components) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		usage, err := c.StorageMonitor.Usage()
		if err != nil {
			httpx.RespondError(w, http.StatusInternalServerError, err)
			return
		}

		response := StorageResponse{StorageUsage: usage}
		if c.Mirror != nil {
			ctx, cancel := context.WithTimeout(r.Context(), statsTimeout)
			defer cancel()
			// Stats are best effort; usage alone is still useful
			if stats, err := c.Mirror.Stats(ctx); err == nil {
				response.Mirror = stats
			}
		}
		httpx.RespondJSON(w, http.StatusOK, response)
	}
}

// retentionEnabled reports whether the mirror keeps history that retention prunes.
func (c *Components) retentionEnabled() bool {
	return c.Mirror != nil && c.Backend != BackendCSV && c.Backend != ""
}

// SetupRoutes configures all HTTP routes for the server and returns the
// router wrapped in CORS handling, so preflight requests are answered before
// route method matching.
func SetupRoutes(router *mux.Router, c *Components, port string) http.Handler {
	router.Use(metricsMiddleware)

	api := router.PathPrefix("/v1").Subrouter()

	// Snapshots and detection
	api.HandleFunc("/snapshot", c.InsightHandler.HandleSnapshot).Methods("GET")
	api.HandleFunc("/detect", c.InsightHandler.HandleDetect).Methods("POST")
	api.HandleFunc("/select", c.InsightHandler.HandleSelect).Methods("POST")
	api.HandleFunc("/current", c.InsightHandler.HandleCurrent).Methods("GET")

	// Catalog and windows
	api.HandleFunc("/corridors", c.InsightHandler.HandleCorridors).Methods("GET")
	api.HandleFunc("/cameras", c.InsightHandler.HandleCameras).Methods("GET")
	api.HandleFunc("/window/{corridor}", c.InsightHandler.HandleWindow).Methods("GET")

	// Push ingest
	api.HandleFunc("/samples", c.IngestHandler.HandleSamples).Methods("POST")

	// Export/import and history
	api.HandleFunc("/export", c.ExportHandler.HandleExport).Methods("GET")
	api.HandleFunc("/import", c.ExportHandler.HandleImport).Methods("POST")
	api.HandleFunc("/history/{corridor}", c.ExportHandler.HandleHistory).Methods("GET")

	// Operations
	api.HandleFunc("/health", handleHealth(c)).Methods("GET")
	api.HandleFunc("/storage", handleStorageUsage(c)).Methods("GET")

	// WebSocket for snapshot updates
	api.HandleFunc("/ws", c.Hub.HandleWebSocket).Methods("GET")

	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	return corsMiddleware(port)(router)
}

// corsMiddleware creates CORS middleware that restricts to localhost origins only.
func corsMiddleware(port string) func(http.Handler) http.Handler {
	allowedOrigins := map[string]bool{
		"http://localhost:" + port: true,
		"http://127.0.0.1:" + port: true,
		"http://localhost:3000":    true,
		"http://127.0.0.1:3000":    true,
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if allowedOrigins[origin] {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
				w.Header().Set("Access-Control-Allow-Credentials", "true")
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
