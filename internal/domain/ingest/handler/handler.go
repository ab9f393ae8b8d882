// Package handler exposes the ingestion service over HTTP. Handlers stay
// thin: decode, call the service, map sentinel errors to status codes.
package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/stocktally/stocktally/internal/domain/common"
	"github.com/stocktally/stocktally/internal/domain/ingest/exporter"
	"github.com/stocktally/stocktally/internal/domain/ingest/grid"
	"github.com/stocktally/stocktally/internal/domain/ingest/mapping"
	"github.com/stocktally/stocktally/internal/domain/ingest/repository"
	"github.com/stocktally/stocktally/internal/domain/ingest/service"
)

const maxUploadBytes int64 = 32 << 20 // 32 MiB

// IngestHandler serves the ingestion HTTP API.
type IngestHandler struct {
	service *service.IngestService
	logger  *slog.Logger
}

// NewIngestHandler constructs a new handler.
func NewIngestHandler(svc *service.IngestService, logger *slog.Logger) *IngestHandler {
	return &IngestHandler{service: svc, logger: logger}
}

// Register mounts every route on the mux.
func (h *IngestHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/files", h.UploadFile)
	mux.HandleFunc("GET /v1/files", h.ListFiles)
	mux.HandleFunc("DELETE /v1/files/{id}", h.DeleteFile)

	mux.HandleFunc("POST /v1/detect", h.DetectColumns)

	mux.HandleFunc("POST /v1/entries", h.AddManualEntry)

	mux.HandleFunc("GET /v1/aggregates", h.ListAggregates)
	mux.HandleFunc("PATCH /v1/aggregates/{id}", h.EditAggregate)
	mux.HandleFunc("DELETE /v1/aggregates/{id}", h.DeleteAggregate)

	mux.HandleFunc("GET /v1/export/raw", h.ExportRaw)
	mux.HandleFunc("GET /v1/export/aggregated", h.ExportAggregated)

	mux.HandleFunc("POST /v1/mappings", h.CreateMapping)
	mux.HandleFunc("GET /v1/mappings", h.ListMappings)
	mux.HandleFunc("GET /v1/mappings/{id}", h.GetMapping)
	mux.HandleFunc("PUT /v1/mappings/{id}", h.UpdateMapping)
	mux.HandleFunc("DELETE /v1/mappings/{id}", h.DeleteMapping)
}

// UploadFile accepts a multipart upload. The mapping is resolved in order:
// an explicit "roleMap" form field, a stored mapping matching the header
// fingerprint, then automatic detection. A detection failure returns 422
// with the suggestion set so a client can fall back to manual mapping.
func (h *IngestHandler) UploadFile(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		h.writeError(w, fmt.Errorf("parse upload: %v: %w", err, common.ErrValidationFailed))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		h.writeError(w, fmt.Errorf("missing file field: %w", common.ErrValidationFailed))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		h.writeError(w, fmt.Errorf("read upload: %w", err))
		return
	}

	cells, err := grid.Parse(header.Filename, data)
	if err != nil {
		h.writeError(w, err)
		return
	}

	headerRow := 0
	if v := r.FormValue("headerRow"); v != "" {
		headerRow, err = strconv.Atoi(v)
		if err != nil || headerRow < 0 {
			h.writeError(w, fmt.Errorf("invalid headerRow %q: %w", v, common.ErrValidationFailed))
			return
		}
	}
	if headerRow >= len(cells) {
		h.writeError(w, fmt.Errorf("headerRow %d beyond file end: %w", headerRow, common.ErrValidationFailed))
		return
	}

	roleMap, err := h.resolveRoleMap(r, cells, headerRow)
	if err != nil {
		h.writeError(w, err)
		return
	}

	result, err := h.service.IngestFile(r.Context(), header.Filename, header.Size, cells, roleMap, headerRow)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, result)
}

func (h *IngestHandler) resolveRoleMap(r *http.Request, cells [][]string, headerRow int) (mapping.RoleMap, error) {
	if raw := r.FormValue("roleMap"); raw != "" {
		var rm mapping.RoleMap
		if err := json.Unmarshal([]byte(raw), &rm); err != nil {
			return rm, fmt.Errorf("invalid roleMap: %v: %w", err, common.ErrValidationFailed)
		}
		return rm, nil
	}

	headers := cells[headerRow]
	stored, err := h.service.FindMappingForHeaders(r.Context(), headers)
	if err != nil {
		h.logger.Warn("stored mapping lookup failed, falling back to detection", "error", err)
	}
	if stored != nil {
		h.logger.Info("reusing stored mapping", "mapping_id", stored.ID, "name", stored.Name)
		return stored.RoleMap, nil
	}

	detected, err := h.service.DetectColumns(r.Context(), headers, sampleRows(cells, headerRow))
	if err != nil {
		return mapping.RoleMap{}, &detectionError{result: detected, err: err}
	}
	return detected.RoleMap, nil
}

// sampleRows returns up to ten data rows below the header for shape scoring.
func sampleRows(cells [][]string, headerRow int) [][]string {
	start := headerRow + 1
	end := start + 10
	if end > len(cells) {
		end = len(cells)
	}
	if start >= end {
		return nil
	}
	return cells[start:end]
}

// ListFiles returns stored files in upload order.
func (h *IngestHandler) ListFiles(w http.ResponseWriter, r *http.Request) {
	files, err := h.service.ListFiles(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	if files == nil {
		files = []*repository.SourceFile{}
	}
	h.writeJSON(w, http.StatusOK, files)
}

// DeleteFile retracts a file's contribution.
func (h *IngestHandler) DeleteFile(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		h.writeError(w, fmt.Errorf("invalid file id: %w", common.ErrValidationFailed))
		return
	}
	if err := h.service.RemoveFile(r.Context(), id); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type detectRequest struct {
	Headers    []string   `json:"headers"`
	SampleRows [][]string `json:"sampleRows,omitempty"`
}

// DetectColumns runs detection over a header row posted as JSON.
func (h *IngestHandler) DetectColumns(w http.ResponseWriter, r *http.Request) {
	var req detectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, fmt.Errorf("invalid body: %v: %w", err, common.ErrValidationFailed))
		return
	}

	result, err := h.service.DetectColumns(r.Context(), req.Headers, req.SampleRows)
	if err != nil {
		h.writeError(w, &detectionError{result: result, err: err})
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

// AddManualEntry folds one typed-in contribution into the aggregates.
func (h *IngestHandler) AddManualEntry(w http.ResponseWriter, r *http.Request) {
	var entry service.ManualEntry
	if err := json.NewDecoder(r.Body).Decode(&entry); err != nil {
		h.writeError(w, fmt.Errorf("invalid body: %v: %w", err, common.ErrValidationFailed))
		return
	}

	agg, err := h.service.AddManualEntry(r.Context(), entry)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, agg)
}

// ListAggregates returns the current aggregated totals.
func (h *IngestHandler) ListAggregates(w http.ResponseWriter, r *http.Request) {
	aggs, err := h.service.ListAggregates(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	if aggs == nil {
		aggs = []*repository.AggregatedItem{}
	}
	h.writeJSON(w, http.StatusOK, aggs)
}

type editAggregateRequest struct {
	Quantity float64 `json:"quantity"`
}

// EditAggregate overwrites an aggregate's quantity.
func (h *IngestHandler) EditAggregate(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		h.writeError(w, fmt.Errorf("invalid aggregate id: %w", common.ErrValidationFailed))
		return
	}

	var req editAggregateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, fmt.Errorf("invalid body: %v: %w", err, common.ErrValidationFailed))
		return
	}

	agg, err := h.service.EditAggregate(r.Context(), id, req.Quantity)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, agg)
}

// DeleteAggregate removes one aggregated row.
func (h *IngestHandler) DeleteAggregate(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		h.writeError(w, fmt.Errorf("invalid aggregate id: %w", common.ErrValidationFailed))
		return
	}
	if err := h.service.DeleteAggregate(r.Context(), id); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ExportRaw streams the per-file view, as JSON or CSV.
func (h *IngestHandler) ExportRaw(w http.ResponseWriter, r *http.Request) {
	rows, err := h.service.ExportRaw(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}

	if r.URL.Query().Get("format") == "csv" {
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", `attachment; filename="raw.csv"`)
		if err := exporter.WriteRawCSV(w, rows); err != nil {
			h.logger.Error("failed to stream raw export", "error", err)
		}
		return
	}
	if rows == nil {
		rows = []exporter.RawRow{}
	}
	h.writeJSON(w, http.StatusOK, rows)
}

// ExportAggregated streams the merged view, as JSON or CSV.
func (h *IngestHandler) ExportAggregated(w http.ResponseWriter, r *http.Request) {
	rows, err := h.service.ExportAggregated(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}

	if r.URL.Query().Get("format") == "csv" {
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", `attachment; filename="aggregated.csv"`)
		if err := exporter.WriteAggregatedCSV(w, rows); err != nil {
			h.logger.Error("failed to stream aggregated export", "error", err)
		}
		return
	}
	if rows == nil {
		rows = []exporter.AggregatedRow{}
	}
	h.writeJSON(w, http.StatusOK, rows)
}

type mappingRequest struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	RoleMap     mapping.RoleMap `json:"roleMap"`
	Headers     []string        `json:"headers,omitempty"`
	IsDefault   bool            `json:"isDefault,omitempty"`
}

// CreateMapping stores a named column mapping.
func (h *IngestHandler) CreateMapping(w http.ResponseWriter, r *http.Request) {
	var req mappingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, fmt.Errorf("invalid body: %v: %w", err, common.ErrValidationFailed))
		return
	}

	m, err := h.service.SaveMapping(r.Context(), req.Name, req.Description, req.RoleMap, req.Headers, req.IsDefault)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, m)
}

// ListMappings returns stored mappings, defaults first.
func (h *IngestHandler) ListMappings(w http.ResponseWriter, r *http.Request) {
	mappings, err := h.service.ListMappings(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	if mappings == nil {
		mappings = []*repository.StoredMapping{}
	}
	h.writeJSON(w, http.StatusOK, mappings)
}

// GetMapping fetches one stored mapping.
func (h *IngestHandler) GetMapping(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		h.writeError(w, fmt.Errorf("invalid mapping id: %w", common.ErrValidationFailed))
		return
	}
	m, err := h.service.GetMapping(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, m)
}

// UpdateMapping overwrites a stored mapping's definition.
func (h *IngestHandler) UpdateMapping(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		h.writeError(w, fmt.Errorf("invalid mapping id: %w", common.ErrValidationFailed))
		return
	}

	var req mappingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, fmt.Errorf("invalid body: %v: %w", err, common.ErrValidationFailed))
		return
	}

	m := &repository.StoredMapping{
		ID:          id,
		Name:        req.Name,
		Description: req.Description,
		RoleMap:     req.RoleMap,
		Headers:     req.Headers,
		IsDefault:   req.IsDefault,
	}
	if err := h.service.UpdateMapping(r.Context(), m); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, m)
}

// DeleteMapping removes a stored mapping; defaults are protected.
func (h *IngestHandler) DeleteMapping(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		h.writeError(w, fmt.Errorf("invalid mapping id: %w", common.ErrValidationFailed))
		return
	}
	if err := h.service.DeleteMapping(r.Context(), id); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// detectionError pairs a detection failure with its best-effort suggestions
// so the response body can carry them alongside the error.
type detectionError struct {
	result any
	err    error
}

func (e *detectionError) Error() string { return e.err.Error() }
func (e *detectionError) Unwrap() error { return e.err }

type errorResponse struct {
	Error       string `json:"error"`
	Suggestions any    `json:"detection,omitempty"`
}

func (h *IngestHandler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *IngestHandler) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, common.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, common.ErrValidationFailed), errors.Is(err, common.ErrParseFailure):
		status = http.StatusBadRequest
	case errors.Is(err, common.ErrDetectionFailed), errors.Is(err, common.ErrEmptyInput):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, common.ErrProtectedMapping):
		status = http.StatusConflict
	case errors.Is(err, common.ErrStorageConflict):
		status = http.StatusConflict
	}

	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", "error", err)
	}

	resp := errorResponse{Error: err.Error()}
	var de *detectionError
	if errors.As(err, &de) {
		resp.Suggestions = de.result
	}
	h.writeJSON(w, status, resp)
}
