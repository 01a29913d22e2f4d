package export

import (
	"errors"
	"fmt"
	"log"
	"mime"
	"net/http"
	"time"

	"github.com/nicktill/corridorpulse/pkg/config"
	"github.com/nicktill/corridorpulse/pkg/httpx"
	"github.com/nicktill/corridorpulse/pkg/storage"
	"github.com/nicktill/corridorpulse/pkg/traffic"
)

// MaxExportWindow is the maximum allowed history export range (30 days)
const MaxExportWindow = 30 * 24 * time.Hour

// CorridorChecker reports whether a corridor is catalogued.
type CorridorChecker interface {
	HasCorridor(corridor traffic.CorridorID) bool
}

// Handler handles export/import HTTP endpoints
type Handler struct {
	exporter *Exporter
	importer *Importer
	catalog  CorridorChecker
	history  storage.Storage
}

// NewHandler creates a new export/import handler. history may be nil.
func NewHandler(windows WindowSource, history storage.Storage, sink Ingester, catalog CorridorChecker) *Handler {
	return &Handler{
		exporter: NewExporter(windows, history),
		importer: NewImporter(sink),
		catalog:  catalog,
		history:  history,
	}
}

// HandleExport handles GET /v1/export
// Query params:
//   - corridor: corridor id (required)
//   - format: "json" or "csv" (default: json)
//   - source: "window" or "history" (default: window)
//   - start, end: RFC3339 timestamps bounding a history export
func (h *Handler) HandleExport(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	corridor := traffic.CorridorID(query.Get("corridor"))
	if corridor == "" {
		httpx.RespondErrorString(w, http.StatusBadRequest, "corridor parameter required")
		return
	}
	if !h.catalog.HasCorridor(corridor) {
		httpx.RespondErrorString(w, http.StatusNotFound, "unknown corridor: "+string(corridor))
		return
	}

	format := query.Get("format")
	if format == "" {
		format = config.DefaultExportFormat
	}
	if format != "json" && format != "csv" {
		httpx.RespondErrorString(w, http.StatusBadRequest, "Invalid format. Must be 'json' or 'csv'")
		return
	}

	source := query.Get("source")
	if source == "" {
		source = SourceWindow
	}
	if source != SourceWindow && source != SourceHistory {
		httpx.RespondErrorString(w, http.StatusBadRequest, "Invalid source. Must be 'window' or 'history'")
		return
	}
	if source == SourceHistory && h.history == nil {
		httpx.RespondErrorString(w, http.StatusNotImplemented, "no history backend configured")
		return
	}

	opts := ExportOptions{Corridor: corridor, Source: source, Format: format}
	if source == SourceHistory {
		opts.End = parseTimeParam(query.Get("end"), time.Now())
		opts.Start = parseTimeParam(query.Get("start"), opts.End.Add(-config.DefaultRetention))
		if !opts.Start.Before(opts.End) {
			httpx.RespondErrorString(w, http.StatusBadRequest, "start must be before end")
			return
		}
		if opts.End.Sub(opts.Start) > MaxExportWindow {
			httpx.RespondErrorString(w, http.StatusBadRequest, fmt.Sprintf("Time range too large. Maximum is %v", MaxExportWindow))
			return
		}
	}

	timestamp := time.Now().Format("20060102-150405")
	filename := fmt.Sprintf("corridorpulse-%s-%s.%s", corridor, timestamp, format)
	if format == "json" {
		w.Header().Set("Content-Type", "application/json")
	} else {
		w.Header().Set("Content-Type", "text/csv")
	}
	w.Header().Set("Content-Disposition", "attachment; filename="+filename)

	var (
		result *ExportResult
		err    error
	)
	if format == "json" {
		result, err = h.exporter.ExportToJSON(r.Context(), w, opts)
	} else {
		result, err = h.exporter.ExportToCSV(r.Context(), w, opts)
	}
	if err != nil {
		// Headers may already be sent; the status is best effort
		log.Printf("Export failed for %s: %v", corridor, err)
		httpx.RespondError(w, http.StatusInternalServerError, fmt.Errorf("export failed: %w", err))
		return
	}

	log.Printf("Exported %d samples (%s, %s) for %s", result.SamplesExported, format, result.Source, corridor)
}

// HandleImport handles POST /v1/import?camera=
// Accepts a CSV body (text/csv) or a JSON export (application/json).
func (h *Handler) HandleImport(w http.ResponseWriter, r *http.Request) {
	camera := traffic.CameraID(r.URL.Query().Get("camera"))
	r.Body = http.MaxBytesReader(w, r.Body, config.MaxImportBytes)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	var (
		result *ImportResult
		err    error
	)
	switch mediaType {
	case "text/csv", "":
		result, err = h.importer.ImportFromCSV(r.Context(), camera, r.Body)
	case "application/json":
		result, err = h.importer.ImportFromJSON(r.Context(), camera, r.Body)
	default:
		httpx.RespondErrorString(w, http.StatusUnsupportedMediaType, "Content-Type must be text/csv or application/json")
		return
	}
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httpx.RespondError(w, http.StatusRequestEntityTooLarge, err)
			return
		}
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}

	if len(result.Errors) > 0 {
		log.Printf("Import completed with %d errors", len(result.Errors))
		for i, msg := range result.Errors {
			if i == 10 {
				log.Printf("   ... and %d more errors", len(result.Errors)-10)
				break
			}
			log.Printf("   - %s", msg)
		}
	}
	log.Printf("Imported %d samples in %d batches from %s", result.SamplesImported, result.BatchesWritten, result.TimeRange)

	httpx.RespondJSON(w, http.StatusOK, result)
}

// parseTimeParam parses a time parameter or returns default
func parseTimeParam(param string, defaultTime time.Time) time.Time {
	if param == "" {
		return defaultTime
	}

	if t, err := time.Parse(time.RFC3339, param); err == nil {
		return t
	}

	if t, err := time.Parse("2006-01-02T15:04:05", param); err == nil {
		return t
	}

	return defaultTime
}
