// Package repository provides data access for ingestion-related entities:
// source files, line items, aggregated items, structural templates and saved
// column mappings. Two implementations exist, a PostgreSQL one and an
// in-memory one; both honor the same atomicity contract: a file's
// contribution is applied or retracted as a whole, and per-key aggregate
// updates never lose concurrent increments.
package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/stocktally/stocktally/internal/domain/ingest/aggregate"
	"github.com/stocktally/stocktally/internal/domain/ingest/mapping"
)

// SourceFile is one uploaded spreadsheet.
type SourceFile struct {
	ID        uuid.UUID `db:"id" json:"id"`
	FileName  string    `db:"file_name" json:"fileName"`
	SizeBytes int64     `db:"size_bytes" json:"sizeBytes"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

// LineItem is one usable row contributed by one file. Owned by its file and
// deleted with it. RowIndex is the zero-based position in the original grid.
type LineItem struct {
	ID        uuid.UUID     `db:"id" json:"id"`
	FileID    uuid.UUID     `db:"file_id" json:"fileId"`
	Key       aggregate.Key `db:"agg_key" json:"-"`
	ItemID    string        `db:"item_id" json:"itemId,omitempty"`
	Name      string        `db:"name" json:"name"`
	Quantity  float64       `db:"quantity" json:"quantity"`
	Unit      string        `db:"unit" json:"unit"`
	RowIndex  int           `db:"row_index" json:"rowIndex"`
	CreatedAt time.Time     `db:"created_at" json:"createdAt"`
}

// AggregatedItem is the running cross-file total for one aggregate key.
// SourceFiles is derived from the line-item ownership relation, never stored
// as a serialized list.
type AggregatedItem struct {
	ID          uuid.UUID     `db:"id" json:"id"`
	Key         aggregate.Key `db:"agg_key" json:"-"`
	ItemID      string        `db:"item_id" json:"itemId,omitempty"`
	Name        string        `db:"name" json:"name"`
	Unit        string        `db:"unit" json:"unit"`
	Quantity    float64       `db:"quantity" json:"quantity"`
	Count       int           `db:"contribution_count" json:"count"`
	SourceFiles []uuid.UUID   `json:"sourceFiles"`
	CreatedAt   time.Time     `db:"created_at" json:"createdAt"`
	UpdatedAt   time.Time     `db:"updated_at" json:"updatedAt"`
}

// TemplateEntryKind discriminates the two structural template variants.
type TemplateEntryKind string

const (
	EntryHeader TemplateEntryKind = "header"
	EntryItem   TemplateEntryKind = "item"
)

// TemplateEntry is one slot of a file's structural template: either a section
// banner or a placeholder pointing at an aggregate key. Captured once at
// upload time, immutable afterwards, and never carries quantities.
type TemplateEntry struct {
	Kind   TemplateEntryKind `db:"kind" json:"kind"`
	Label  string            `db:"label" json:"label,omitempty"`
	Key    aggregate.Key     `db:"agg_key" json:"-"`
	ItemID string            `db:"item_id" json:"itemId,omitempty"`
	Name   string            `db:"name" json:"name,omitempty"`
	Unit   string            `db:"unit" json:"unit,omitempty"`
}

// FileTemplate pairs a file with its ordered template entries.
type FileTemplate struct {
	FileID  uuid.UUID
	Entries []TemplateEntry
}

// StoredMapping is a saved, reusable column mapping with usage statistics.
type StoredMapping struct {
	ID          uuid.UUID       `db:"id" json:"id"`
	Name        string          `db:"name" json:"name"`
	Description string          `db:"description" json:"description,omitempty"`
	RoleMap     mapping.RoleMap `json:"roleMap"`
	Headers     []string        `db:"headers" json:"headers,omitempty"`
	HeadersKey  string          `db:"headers_key" json:"-"`
	IsDefault   bool            `db:"is_default" json:"isDefault"`
	UsageCount  int             `db:"usage_count" json:"usageCount"`
	LastUsed    *time.Time      `db:"last_used" json:"lastUsed,omitempty"`
	CreatedAt   time.Time       `db:"created_at" json:"createdAt"`
	UpdatedAt   time.Time       `db:"updated_at" json:"updatedAt"`
}

// IngestRepository defines data access for the ingestion core.
type IngestRepository interface {
	// StoreFileContribution persists a file record, its line items and its
	// structural template, and applies the folded aggregate deltas, all in
	// one transaction. Either everything commits or nothing does.
	StoreFileContribution(ctx context.Context, file *SourceFile, items []*LineItem, deltas []aggregate.Delta, template []TemplateEntry) error

	// RemoveFileContribution reverses the file's aggregate contribution from
	// the specific rows that belonged to it, deletes aggregates whose count
	// reaches zero, and removes the file's line items, template and record,
	// all in one transaction. Returns common.ErrNotFound for unknown files.
	RemoveFileContribution(ctx context.Context, fileID uuid.UUID) error

	// ApplyManualContribution upserts a single fileless contribution:
	// quantity and count grow, the source-file set is untouched.
	ApplyManualContribution(ctx context.Context, delta aggregate.Delta) (*AggregatedItem, error)

	GetFile(ctx context.Context, id uuid.UUID) (*SourceFile, error)
	ListFiles(ctx context.Context) ([]*SourceFile, error)

	// ListLineItems returns every stored line item ordered by file upload
	// time, then original row index.
	ListLineItems(ctx context.Context) ([]*LineItem, error)
	ListLineItemsByFile(ctx context.Context, fileID uuid.UUID) ([]*LineItem, error)

	GetAggregate(ctx context.Context, id uuid.UUID) (*AggregatedItem, error)
	ListAggregates(ctx context.Context) ([]*AggregatedItem, error)
	// SetAggregateQuantity overwrites quantity only; count and the source
	// file set are left alone.
	SetAggregateQuantity(ctx context.Context, id uuid.UUID, quantity float64) (*AggregatedItem, error)
	DeleteAggregate(ctx context.Context, id uuid.UUID) error

	// ListTemplates returns per-file templates in file upload order.
	ListTemplates(ctx context.Context) ([]*FileTemplate, error)

	CreateMapping(ctx context.Context, m *StoredMapping) error
	GetMapping(ctx context.Context, id uuid.UUID) (*StoredMapping, error)
	// FindMappingByHeadersKey matches a normalized header fingerprint so a
	// repeat upload of a known layout can skip detection.
	FindMappingByHeadersKey(ctx context.Context, headersKey string) (*StoredMapping, error)
	// ListMappings orders default-first, then usage count descending, then
	// most recently used.
	ListMappings(ctx context.Context) ([]*StoredMapping, error)
	UpdateMapping(ctx context.Context, m *StoredMapping) error
	// RecordMappingUsage atomically increments usage_count and stamps
	// last_used, independent of any other mapping field.
	RecordMappingUsage(ctx context.Context, id uuid.UUID) error
	// DeleteMapping fails with common.ErrProtectedMapping for defaults.
	DeleteMapping(ctx context.Context, id uuid.UUID) error
}
