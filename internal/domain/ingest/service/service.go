// Package service provides the ingestion orchestration logic: it ties the
// detector, mapping validation, extractor and aggregation fold together over
// the repository, and builds the export views.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/stocktally/stocktally/internal/domain/common"
	"github.com/stocktally/stocktally/internal/domain/ingest/aggregate"
	"github.com/stocktally/stocktally/internal/domain/ingest/detector"
	"github.com/stocktally/stocktally/internal/domain/ingest/exporter"
	"github.com/stocktally/stocktally/internal/domain/ingest/extractor"
	"github.com/stocktally/stocktally/internal/domain/ingest/mapping"
	"github.com/stocktally/stocktally/internal/domain/ingest/normalizer"
	"github.com/stocktally/stocktally/internal/domain/ingest/repository"
	"github.com/stocktally/stocktally/pkg/observability"
)

// IngestResult summarizes one accepted upload.
type IngestResult struct {
	FileID        uuid.UUID `json:"fileId"`
	FileName      string    `json:"fileName"`
	LineItemCount int       `json:"lineItemCount"`
	SkippedRows   int       `json:"skippedRows"`
}

// ManualEntry is a fileless contribution typed in by hand.
type ManualEntry struct {
	ItemID   string  `json:"itemId,omitempty"`
	Name     string  `json:"name"`
	Quantity float64 `json:"quantity"`
	Unit     string  `json:"unit"`
}

// IngestService orchestrates detection, ingestion and export.
type IngestService struct {
	repo   repository.IngestRepository
	logger *slog.Logger
	tracer trace.Tracer
}

// NewIngestService creates a new ingestion service.
func NewIngestService(repo repository.IngestRepository, logger *slog.Logger) *IngestService {
	return &IngestService{
		repo:   repo,
		logger: logger,
		tracer: otel.Tracer("stocktally/ingest"),
	}
}

// DetectColumns runs role detection over a header row and optional sample
// rows. The error, if any, still comes with a populated suggestion set.
func (s *IngestService) DetectColumns(ctx context.Context, headers []string, sampleRows [][]string) (*detector.Result, error) {
	_, span := s.tracer.Start(ctx, "ingest.DetectColumns")
	defer span.End()

	result, err := detector.Detect(headers, sampleRows)
	if err != nil {
		observability.DetectionOutcomes.WithLabelValues("failed").Inc()
		s.logger.Info("column detection failed", "headers", len(headers), "suggestions", len(result.Suggestions))
		return result, err
	}

	observability.DetectionOutcomes.WithLabelValues("ok").Inc()
	span.SetAttributes(attribute.Float64("detect.confidence", result.Confidence))
	return result, nil
}

// IngestFile validates the mapping against the grid's header row, extracts
// line items, folds them into aggregate deltas and stores the whole
// contribution atomically. Fails with common.ErrEmptyInput when no usable
// rows remain after extraction.
func (s *IngestService) IngestFile(ctx context.Context, fileName string, sizeBytes int64, grid [][]string, roleMap mapping.RoleMap, headerRowIndex int) (*IngestResult, error) {
	ctx, span := s.tracer.Start(ctx, "ingest.IngestFile")
	defer span.End()

	if headerRowIndex < 0 || headerRowIndex >= len(grid) {
		return nil, fmt.Errorf("header row %d out of range: %w", headerRowIndex, common.ErrValidationFailed)
	}

	headers := grid[headerRowIndex]
	if vr := mapping.Validate(roleMap, headers); !vr.Valid {
		return nil, fmt.Errorf("%s: %w", strings.Join(vr.Errors, "; "), common.ErrValidationFailed)
	}

	extracted := extractor.Extract(grid, roleMap, headerRowIndex)
	if len(extracted.Items) == 0 {
		return nil, fmt.Errorf("no usable rows in %q: %w", fileName, common.ErrEmptyInput)
	}

	file := &repository.SourceFile{
		ID:        uuid.New(),
		FileName:  fileName,
		SizeBytes: sizeBytes,
		CreatedAt: time.Now().UTC(),
	}

	contributions := make([]aggregate.Contribution, 0, len(extracted.Items))
	for _, item := range extracted.Items {
		item.ID = uuid.New()
		item.FileID = file.ID
		contributions = append(contributions, aggregate.Contribution{
			ItemID:   item.ItemID,
			Name:     item.Name,
			Unit:     item.Unit,
			Quantity: item.Quantity,
		})
	}
	deltas := aggregate.Fold(contributions)

	if err := s.repo.StoreFileContribution(ctx, file, extracted.Items, deltas, extracted.Template); err != nil {
		return nil, fmt.Errorf("store contribution for %q: %w", fileName, err)
	}

	observability.FilesIngested.Inc()
	observability.RowsExtracted.Add(float64(len(extracted.Items)))
	observability.RowsSkipped.Add(float64(extracted.Skipped))
	s.logger.Info("file ingested",
		"file_id", file.ID,
		"file_name", fileName,
		"items", len(extracted.Items),
		"skipped", extracted.Skipped,
		"keys", len(deltas),
	)
	span.SetAttributes(
		attribute.Int("ingest.items", len(extracted.Items)),
		attribute.Int("ingest.skipped", extracted.Skipped),
	)

	return &IngestResult{
		FileID:        file.ID,
		FileName:      fileName,
		LineItemCount: len(extracted.Items),
		SkippedRows:   extracted.Skipped,
	}, nil
}

// RemoveFile retracts a file's contribution and deletes it.
func (s *IngestService) RemoveFile(ctx context.Context, fileID uuid.UUID) error {
	ctx, span := s.tracer.Start(ctx, "ingest.RemoveFile")
	defer span.End()

	if err := s.repo.RemoveFileContribution(ctx, fileID); err != nil {
		return fmt.Errorf("remove file %s: %w", fileID, err)
	}
	observability.FilesRemoved.Inc()
	s.logger.Info("file removed", "file_id", fileID)
	return nil
}

// AddManualEntry folds a single typed-in contribution into the aggregates.
// No file or line item is created, so the aggregate's source set is untouched.
func (s *IngestService) AddManualEntry(ctx context.Context, entry ManualEntry) (*repository.AggregatedItem, error) {
	ctx, span := s.tracer.Start(ctx, "ingest.AddManualEntry")
	defer span.End()

	name := normalizer.CleanText(entry.Name)
	unit := normalizer.CleanText(entry.Unit)
	itemID := normalizer.CleanText(entry.ItemID)
	if normalizer.Key(name) == "" || normalizer.Key(unit) == "" {
		return nil, fmt.Errorf("manual entry needs a name and a unit: %w", common.ErrValidationFailed)
	}
	if entry.Quantity < 0 {
		return nil, fmt.Errorf("manual entry quantity must not be negative: %w", common.ErrValidationFailed)
	}

	delta := aggregate.Delta{
		Key:      aggregate.ComputeKey(itemID, name, unit),
		ItemID:   itemID,
		Name:     name,
		Unit:     unit,
		Quantity: entry.Quantity,
		Count:    1,
	}

	agg, err := s.repo.ApplyManualContribution(ctx, delta)
	if err != nil {
		return nil, fmt.Errorf("apply manual entry: %w", err)
	}
	s.logger.Info("manual entry applied", "aggregate_id", agg.ID, "name", name)
	return agg, nil
}

// ListFiles returns every stored file in upload order.
func (s *IngestService) ListFiles(ctx context.Context) ([]*repository.SourceFile, error) {
	return s.repo.ListFiles(ctx)
}

// ListAggregates returns the current aggregated view.
func (s *IngestService) ListAggregates(ctx context.Context) ([]*repository.AggregatedItem, error) {
	return s.repo.ListAggregates(ctx)
}

// EditAggregate overwrites an aggregate's quantity. Count and provenance are
// preserved; subsequent uploads keep adding on top of the edited value.
func (s *IngestService) EditAggregate(ctx context.Context, id uuid.UUID, quantity float64) (*repository.AggregatedItem, error) {
	ctx, span := s.tracer.Start(ctx, "ingest.EditAggregate")
	defer span.End()

	agg, err := s.repo.SetAggregateQuantity(ctx, id, quantity)
	if err != nil {
		return nil, fmt.Errorf("edit aggregate %s: %w", id, err)
	}
	s.logger.Info("aggregate edited", "aggregate_id", id, "quantity", quantity)
	return agg, nil
}

// DeleteAggregate removes one aggregated row outright, together with the
// line items that contributed to it. Re-uploading one of the contributing
// files recreates the aggregate from scratch.
func (s *IngestService) DeleteAggregate(ctx context.Context, id uuid.UUID) error {
	ctx, span := s.tracer.Start(ctx, "ingest.DeleteAggregate")
	defer span.End()

	if err := s.repo.DeleteAggregate(ctx, id); err != nil {
		return fmt.Errorf("delete aggregate %s: %w", id, err)
	}
	s.logger.Info("aggregate deleted", "aggregate_id", id)
	return nil
}

// ExportRaw builds the per-file line item view.
func (s *IngestService) ExportRaw(ctx context.Context) ([]exporter.RawRow, error) {
	ctx, span := s.tracer.Start(ctx, "ingest.ExportRaw")
	defer span.End()

	files, err := s.repo.ListFiles(ctx)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	items, err := s.repo.ListLineItems(ctx)
	if err != nil {
		return nil, fmt.Errorf("list line items: %w", err)
	}
	return exporter.BuildRaw(files, items), nil
}

// ExportAggregated replays the stored structural templates with current
// aggregate totals.
func (s *IngestService) ExportAggregated(ctx context.Context) ([]exporter.AggregatedRow, error) {
	ctx, span := s.tracer.Start(ctx, "ingest.ExportAggregated")
	defer span.End()

	templates, err := s.repo.ListTemplates(ctx)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	aggregates, err := s.repo.ListAggregates(ctx)
	if err != nil {
		return nil, fmt.Errorf("list aggregates: %w", err)
	}
	return exporter.BuildAggregated(templates, aggregates), nil
}

// SaveMapping validates and stores a named column mapping. Headers, when
// given, are fingerprinted so later uploads of the same layout can reuse the
// mapping without detection.
func (s *IngestService) SaveMapping(ctx context.Context, name, description string, roleMap mapping.RoleMap, headers []string, isDefault bool) (*repository.StoredMapping, error) {
	ctx, span := s.tracer.Start(ctx, "ingest.SaveMapping")
	defer span.End()

	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("mapping name is required: %w", common.ErrValidationFailed)
	}
	if vr := validateStored(roleMap, headers); !vr.Valid {
		return nil, fmt.Errorf("%s: %w", strings.Join(vr.Errors, "; "), common.ErrValidationFailed)
	}

	m := &repository.StoredMapping{
		ID:          uuid.New(),
		Name:        strings.TrimSpace(name),
		Description: strings.TrimSpace(description),
		RoleMap:     roleMap,
		Headers:     headers,
		HeadersKey:  HeadersKey(headers),
		IsDefault:   isDefault,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.repo.CreateMapping(ctx, m); err != nil {
		return nil, fmt.Errorf("create mapping %q: %w", m.Name, err)
	}
	s.logger.Info("mapping saved", "mapping_id", m.ID, "name", m.Name, "default", isDefault)
	return m, nil
}

// GetMapping fetches one stored mapping.
func (s *IngestService) GetMapping(ctx context.Context, id uuid.UUID) (*repository.StoredMapping, error) {
	return s.repo.GetMapping(ctx, id)
}

// ListMappings returns stored mappings, defaults first.
func (s *IngestService) ListMappings(ctx context.Context) ([]*repository.StoredMapping, error) {
	return s.repo.ListMappings(ctx)
}

// UpdateMapping re-validates and overwrites a stored mapping's definition.
// Usage statistics survive the update.
func (s *IngestService) UpdateMapping(ctx context.Context, m *repository.StoredMapping) error {
	ctx, span := s.tracer.Start(ctx, "ingest.UpdateMapping")
	defer span.End()

	if strings.TrimSpace(m.Name) == "" {
		return fmt.Errorf("mapping name is required: %w", common.ErrValidationFailed)
	}
	if vr := validateStored(m.RoleMap, m.Headers); !vr.Valid {
		return fmt.Errorf("%s: %w", strings.Join(vr.Errors, "; "), common.ErrValidationFailed)
	}
	m.HeadersKey = HeadersKey(m.Headers)

	if err := s.repo.UpdateMapping(ctx, m); err != nil {
		return fmt.Errorf("update mapping %s: %w", m.ID, err)
	}
	s.logger.Info("mapping updated", "mapping_id", m.ID, "name", m.Name)
	return nil
}

// DeleteMapping removes a stored mapping. Defaults are protected.
func (s *IngestService) DeleteMapping(ctx context.Context, id uuid.UUID) error {
	ctx, span := s.tracer.Start(ctx, "ingest.DeleteMapping")
	defer span.End()

	if err := s.repo.DeleteMapping(ctx, id); err != nil {
		if errors.Is(err, common.ErrProtectedMapping) {
			return err
		}
		return fmt.Errorf("delete mapping %s: %w", id, err)
	}
	s.logger.Info("mapping deleted", "mapping_id", id)
	return nil
}

// FindMappingForHeaders looks up a stored mapping whose saved header row
// matches the given one after normalization, and bumps its usage statistics
// on a hit. Returns nil without error when nothing matches.
func (s *IngestService) FindMappingForHeaders(ctx context.Context, headers []string) (*repository.StoredMapping, error) {
	ctx, span := s.tracer.Start(ctx, "ingest.FindMappingForHeaders")
	defer span.End()

	key := HeadersKey(headers)
	if key == "" {
		return nil, nil
	}

	m, err := s.repo.FindMappingByHeadersKey(ctx, key)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("find mapping for headers: %w", err)
	}
	if m == nil {
		return nil, nil
	}

	if err := s.repo.RecordMappingUsage(ctx, m.ID); err != nil {
		s.logger.Warn("failed to record mapping usage", "mapping_id", m.ID, "error", err)
	}
	return m, nil
}

// HeadersKey computes the normalized fingerprint of a header row. Column
// order matters; spelling, case and diacritics do not.
func HeadersKey(headers []string) string {
	if len(headers) == 0 {
		return ""
	}
	keys := make([]string, 0, len(headers))
	nonEmpty := false
	for _, h := range headers {
		k := normalizer.Key(h)
		if k != "" {
			nonEmpty = true
		}
		keys = append(keys, k)
	}
	if !nonEmpty {
		return ""
	}
	return strings.Join(keys, "|")
}

// validateStored checks a role map against saved headers when present, or
// structurally only when the mapping is layout-independent.
func validateStored(roleMap mapping.RoleMap, headers []string) mapping.ValidationResult {
	if len(headers) == 0 {
		return mapping.Validate(roleMap, nil)
	}
	return mapping.Validate(roleMap, headers)
}
