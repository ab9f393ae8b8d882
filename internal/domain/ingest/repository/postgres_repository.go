package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stocktally/stocktally/internal/domain/common"
	"github.com/stocktally/stocktally/internal/domain/ingest/aggregate"
	"github.com/stocktally/stocktally/internal/domain/ingest/mapping"
)

// PgxPool abstracts the subset of pgxpool.Pool used by the repository to allow mocking in tests.
type PgxPool interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

var _ PgxPool = (*pgxpool.Pool)(nil)

// PostgresIngestRepository implements IngestRepository on PostgreSQL.
type PostgresIngestRepository struct {
	pgpool PgxPool
}

// NewPostgresIngestRepository creates a new PostgreSQL-backed ingest repository.
func NewPostgresIngestRepository(pgpool PgxPool) *PostgresIngestRepository {
	return &PostgresIngestRepository{pgpool: pgpool}
}

const (
	insertFileQuery = `
		INSERT INTO source_files (id, file_name, size_bytes)
		VALUES ($1, $2, $3)
		RETURNING created_at
	`

	// upsertAggregateQuery is the atomic fetch-and-add keyed by aggregate key.
	// Concurrent uploads touching the same key serialize on the unique index,
	// so neither contribution is ever lost.
	upsertAggregateQuery = `
		INSERT INTO aggregated_items (id, agg_key, item_id, name, unit, quantity, contribution_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (agg_key) DO UPDATE SET
			quantity = aggregated_items.quantity + EXCLUDED.quantity,
			contribution_count = aggregated_items.contribution_count + EXCLUDED.contribution_count,
			updated_at = NOW()
		RETURNING id
	`

	insertTemplateEntryQuery = `
		INSERT INTO template_entries (file_id, position, kind, label, agg_key, item_id, name, unit)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	fileExistsQuery = `SELECT EXISTS (SELECT 1 FROM source_files WHERE id = $1)`

	// retractFileQuery subtracts exactly the rows that belonged to the file,
	// per key, so other files' contributions to the same key survive.
	retractFileQuery = `
		UPDATE aggregated_items a SET
			quantity = a.quantity - s.qty,
			contribution_count = a.contribution_count - s.cnt,
			updated_at = NOW()
		FROM (
			SELECT agg_key, SUM(quantity) AS qty, COUNT(*)::int AS cnt
			FROM line_items
			WHERE file_id = $1
			GROUP BY agg_key
		) s
		WHERE a.agg_key = s.agg_key
	`

	deleteDrainedAggregatesQuery = `DELETE FROM aggregated_items WHERE contribution_count <= 0`

	deleteFileQuery = `DELETE FROM source_files WHERE id = $1`

	manualUpsertQuery = `
		INSERT INTO aggregated_items (id, agg_key, item_id, name, unit, quantity, contribution_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (agg_key) DO UPDATE SET
			quantity = aggregated_items.quantity + EXCLUDED.quantity,
			contribution_count = aggregated_items.contribution_count + EXCLUDED.contribution_count,
			updated_at = NOW()
		RETURNING id, agg_key, item_id, name, unit, quantity, contribution_count, created_at, updated_at
	`

	getFileQuery = `
		SELECT id, file_name, size_bytes, created_at
		FROM source_files WHERE id = $1
	`

	listFilesQuery = `
		SELECT id, file_name, size_bytes, created_at
		FROM source_files ORDER BY created_at, id
	`

	listLineItemsQuery = `
		SELECT li.id, li.file_id, li.agg_key, li.item_id, li.name, li.quantity, li.unit, li.row_index, li.created_at
		FROM line_items li
		JOIN source_files f ON f.id = li.file_id
		ORDER BY f.created_at, f.id, li.row_index
	`

	listLineItemsByFileQuery = `
		SELECT id, file_id, agg_key, item_id, name, quantity, unit, row_index, created_at
		FROM line_items WHERE file_id = $1 ORDER BY row_index
	`

	getAggregateQuery = `
		SELECT id, agg_key, item_id, name, unit, quantity, contribution_count, created_at, updated_at
		FROM aggregated_items WHERE id = $1
	`

	listAggregatesQuery = `
		SELECT id, agg_key, item_id, name, unit, quantity, contribution_count, created_at, updated_at
		FROM aggregated_items ORDER BY name, agg_key
	`

	sourceFilesForKeyQuery = `
		SELECT DISTINCT file_id FROM line_items WHERE agg_key = $1 ORDER BY file_id
	`

	sourceFilesForAllKeysQuery = `
		SELECT DISTINCT agg_key, file_id FROM line_items ORDER BY agg_key, file_id
	`

	setAggregateQuantityQuery = `
		UPDATE aggregated_items SET quantity = $2, updated_at = NOW()
		WHERE id = $1
		RETURNING id, agg_key, item_id, name, unit, quantity, contribution_count, created_at, updated_at
	`

	aggregateKeyQuery = `SELECT agg_key FROM aggregated_items WHERE id = $1`

	deleteLineItemsByKeyQuery = `DELETE FROM line_items WHERE agg_key = $1`

	deleteAggregateQuery = `DELETE FROM aggregated_items WHERE id = $1`

	listTemplatesQuery = `
		SELECT te.file_id, te.kind, te.label, te.agg_key, te.item_id, te.name, te.unit
		FROM template_entries te
		JOIN source_files f ON f.id = te.file_id
		ORDER BY f.created_at, f.id, te.position
	`

	createMappingQuery = `
		INSERT INTO column_mappings (
			id, name, description, item_id_col, name_col, quantity_col, unit_col,
			line_number_col, headers, headers_key, is_default
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at, updated_at
	`

	mappingColumns = `
		id, name, description, item_id_col, name_col, quantity_col, unit_col,
		line_number_col, headers, headers_key, is_default, usage_count, last_used,
		created_at, updated_at
	`

	getMappingQuery = `
		SELECT ` + mappingColumns + `
		FROM column_mappings WHERE id = $1
	`

	findMappingByHeadersKeyQuery = `
		SELECT ` + mappingColumns + `
		FROM column_mappings
		WHERE headers_key = $1 AND headers_key <> ''
		ORDER BY is_default DESC, usage_count DESC, last_used DESC NULLS LAST
		LIMIT 1
	`

	listMappingsQuery = `
		SELECT ` + mappingColumns + `
		FROM column_mappings
		ORDER BY is_default DESC, usage_count DESC, last_used DESC NULLS LAST, created_at DESC
	`

	updateMappingQuery = `
		UPDATE column_mappings SET
			name = $2, description = $3, item_id_col = $4, name_col = $5,
			quantity_col = $6, unit_col = $7, line_number_col = $8,
			headers = $9, headers_key = $10, is_default = $11, updated_at = NOW()
		WHERE id = $1
	`

	recordMappingUsageQuery = `
		UPDATE column_mappings SET usage_count = usage_count + 1, last_used = NOW()
		WHERE id = $1
	`

	mappingIsDefaultQuery = `SELECT is_default FROM column_mappings WHERE id = $1`

	deleteMappingQuery = `DELETE FROM column_mappings WHERE id = $1 AND NOT is_default`
)

// StoreFileContribution persists the file, its rows and template and applies
// the aggregate deltas in a single transaction.
func (r *PostgresIngestRepository) StoreFileContribution(ctx context.Context, file *SourceFile, items []*LineItem, deltas []aggregate.Delta, template []TemplateEntry) error {
	if file.ID == uuid.Nil {
		file.ID = uuid.New()
	}

	tx, err := r.pgpool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin store contribution: %w", common.ErrStorageConflict)
	}
	defer tx.Rollback(ctx)

	if err := tx.QueryRow(ctx, insertFileQuery, file.ID, file.FileName, file.SizeBytes).Scan(&file.CreatedAt); err != nil {
		return fmt.Errorf("insert source file: %w", err)
	}

	if len(items) > 0 {
		columns := []string{"id", "file_id", "agg_key", "item_id", "name", "quantity", "unit", "row_index"}
		_, err := tx.CopyFrom(ctx,
			pgx.Identifier{"line_items"},
			columns,
			pgx.CopyFromSlice(len(items), func(i int) ([]any, error) {
				item := items[i]
				if item.ID == uuid.Nil {
					item.ID = uuid.New()
				}
				item.FileID = file.ID
				return []any{
					item.ID, item.FileID, string(item.Key), item.ItemID,
					item.Name, item.Quantity, item.Unit, item.RowIndex,
				}, nil
			}),
		)
		if err != nil {
			return fmt.Errorf("bulk insert line items: %w", err)
		}
	}

	for _, d := range deltas {
		var id uuid.UUID
		if err := tx.QueryRow(ctx, upsertAggregateQuery,
			uuid.New(), string(d.Key), d.ItemID, d.Name, d.Unit, d.Quantity, d.Count,
		).Scan(&id); err != nil {
			return fmt.Errorf("apply aggregate delta for %q: %w", d.Name, common.ErrStorageConflict)
		}
	}

	for pos, entry := range template {
		if _, err := tx.Exec(ctx, insertTemplateEntryQuery,
			file.ID, pos, string(entry.Kind), entry.Label, string(entry.Key),
			entry.ItemID, entry.Name, entry.Unit,
		); err != nil {
			return fmt.Errorf("insert template entry %d: %w", pos, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit store contribution: %w", common.ErrStorageConflict)
	}
	return nil
}

// RemoveFileContribution reverses the file's contribution and deletes its
// rows, template and record in one transaction.
func (r *PostgresIngestRepository) RemoveFileContribution(ctx context.Context, fileID uuid.UUID) error {
	tx, err := r.pgpool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin remove contribution: %w", common.ErrStorageConflict)
	}
	defer tx.Rollback(ctx)

	var exists bool
	if err := tx.QueryRow(ctx, fileExistsQuery, fileID).Scan(&exists); err != nil {
		return fmt.Errorf("check file exists: %w", err)
	}
	if !exists {
		return common.ErrNotFound
	}

	if _, err := tx.Exec(ctx, retractFileQuery, fileID); err != nil {
		return fmt.Errorf("retract file contribution: %w", common.ErrStorageConflict)
	}

	// A zero-count aggregate is a husk, not a value; drop it.
	if _, err := tx.Exec(ctx, deleteDrainedAggregatesQuery); err != nil {
		return fmt.Errorf("delete drained aggregates: %w", err)
	}

	// Line items and template entries cascade with the file.
	if _, err := tx.Exec(ctx, deleteFileQuery, fileID); err != nil {
		return fmt.Errorf("delete source file: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit remove contribution: %w", common.ErrStorageConflict)
	}
	return nil
}

// ApplyManualContribution upserts a fileless contribution and returns the
// resulting aggregate.
func (r *PostgresIngestRepository) ApplyManualContribution(ctx context.Context, delta aggregate.Delta) (*AggregatedItem, error) {
	item, err := scanAggregate(r.pgpool.QueryRow(ctx, manualUpsertQuery,
		uuid.New(), string(delta.Key), delta.ItemID, delta.Name, delta.Unit, delta.Quantity, delta.Count,
	))
	if err != nil {
		return nil, fmt.Errorf("apply manual contribution: %w", common.ErrStorageConflict)
	}
	if err := r.attachSourceFiles(ctx, item); err != nil {
		return nil, err
	}
	return item, nil
}

func (r *PostgresIngestRepository) GetFile(ctx context.Context, id uuid.UUID) (*SourceFile, error) {
	var f SourceFile
	err := r.pgpool.QueryRow(ctx, getFileQuery, id).Scan(&f.ID, &f.FileName, &f.SizeBytes, &f.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get file: %w", err)
	}
	return &f, nil
}

func (r *PostgresIngestRepository) ListFiles(ctx context.Context) ([]*SourceFile, error) {
	rows, err := r.pgpool.Query(ctx, listFilesQuery)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	defer rows.Close()

	var files []*SourceFile
	for rows.Next() {
		var f SourceFile
		if err := rows.Scan(&f.ID, &f.FileName, &f.SizeBytes, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan file: %w", err)
		}
		files = append(files, &f)
	}
	return files, rows.Err()
}

func (r *PostgresIngestRepository) ListLineItems(ctx context.Context) ([]*LineItem, error) {
	return r.queryLineItems(ctx, listLineItemsQuery)
}

func (r *PostgresIngestRepository) ListLineItemsByFile(ctx context.Context, fileID uuid.UUID) ([]*LineItem, error) {
	return r.queryLineItems(ctx, listLineItemsByFileQuery, fileID)
}

func (r *PostgresIngestRepository) queryLineItems(ctx context.Context, query string, args ...any) ([]*LineItem, error) {
	rows, err := r.pgpool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list line items: %w", err)
	}
	defer rows.Close()

	var items []*LineItem
	for rows.Next() {
		var (
			item LineItem
			key  string
		)
		if err := rows.Scan(&item.ID, &item.FileID, &key, &item.ItemID, &item.Name,
			&item.Quantity, &item.Unit, &item.RowIndex, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan line item: %w", err)
		}
		item.Key = aggregate.Key(key)
		items = append(items, &item)
	}
	return items, rows.Err()
}

func (r *PostgresIngestRepository) GetAggregate(ctx context.Context, id uuid.UUID) (*AggregatedItem, error) {
	item, err := scanAggregate(r.pgpool.QueryRow(ctx, getAggregateQuery, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("get aggregate: %w", err)
	}
	if err := r.attachSourceFiles(ctx, item); err != nil {
		return nil, err
	}
	return item, nil
}

func (r *PostgresIngestRepository) ListAggregates(ctx context.Context) ([]*AggregatedItem, error) {
	rows, err := r.pgpool.Query(ctx, listAggregatesQuery)
	if err != nil {
		return nil, fmt.Errorf("list aggregates: %w", err)
	}
	defer rows.Close()

	var items []*AggregatedItem
	byKey := make(map[aggregate.Key]*AggregatedItem)
	for rows.Next() {
		item, err := scanAggregate(rows)
		if err != nil {
			return nil, fmt.Errorf("scan aggregate: %w", err)
		}
		items = append(items, item)
		byKey[item.Key] = item
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	// Derive the source-file sets from the line-item ownership relation.
	srcRows, err := r.pgpool.Query(ctx, sourceFilesForAllKeysQuery)
	if err != nil {
		return nil, fmt.Errorf("list aggregate source files: %w", err)
	}
	defer srcRows.Close()
	for srcRows.Next() {
		var (
			key    string
			fileID uuid.UUID
		)
		if err := srcRows.Scan(&key, &fileID); err != nil {
			return nil, fmt.Errorf("scan aggregate source file: %w", err)
		}
		if item, ok := byKey[aggregate.Key(key)]; ok {
			item.SourceFiles = append(item.SourceFiles, fileID)
		}
	}
	return items, srcRows.Err()
}

func (r *PostgresIngestRepository) SetAggregateQuantity(ctx context.Context, id uuid.UUID, quantity float64) (*AggregatedItem, error) {
	item, err := scanAggregate(r.pgpool.QueryRow(ctx, setAggregateQuantityQuery, id, quantity))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("set aggregate quantity: %w", err)
	}
	if err := r.attachSourceFiles(ctx, item); err != nil {
		return nil, err
	}
	return item, nil
}

// DeleteAggregate removes the aggregate and the line items owning its key in
// one transaction. Leaving the rows behind would let a later retraction of
// their file subtract from an aggregate recreated under the same key.
func (r *PostgresIngestRepository) DeleteAggregate(ctx context.Context, id uuid.UUID) error {
	tx, err := r.pgpool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin delete aggregate: %w", common.ErrStorageConflict)
	}
	defer tx.Rollback(ctx)

	var key string
	err = tx.QueryRow(ctx, aggregateKeyQuery, id).Scan(&key)
	if errors.Is(err, pgx.ErrNoRows) {
		return common.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("resolve aggregate key: %w", err)
	}

	if _, err := tx.Exec(ctx, deleteLineItemsByKeyQuery, key); err != nil {
		return fmt.Errorf("delete line items for key: %w", err)
	}
	if _, err := tx.Exec(ctx, deleteAggregateQuery, id); err != nil {
		return fmt.Errorf("delete aggregate: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit delete aggregate: %w", common.ErrStorageConflict)
	}
	return nil
}

func (r *PostgresIngestRepository) ListTemplates(ctx context.Context) ([]*FileTemplate, error) {
	rows, err := r.pgpool.Query(ctx, listTemplatesQuery)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	defer rows.Close()

	var templates []*FileTemplate
	var current *FileTemplate
	for rows.Next() {
		var (
			fileID uuid.UUID
			kind   string
			entry  TemplateEntry
			key    string
		)
		if err := rows.Scan(&fileID, &kind, &entry.Label, &key, &entry.ItemID, &entry.Name, &entry.Unit); err != nil {
			return nil, fmt.Errorf("scan template entry: %w", err)
		}
		entry.Kind = TemplateEntryKind(kind)
		entry.Key = aggregate.Key(key)
		if current == nil || current.FileID != fileID {
			current = &FileTemplate{FileID: fileID}
			templates = append(templates, current)
		}
		current.Entries = append(current.Entries, entry)
	}
	return templates, rows.Err()
}

func (r *PostgresIngestRepository) CreateMapping(ctx context.Context, m *StoredMapping) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	err := r.pgpool.QueryRow(ctx, createMappingQuery,
		m.ID, m.Name, m.Description,
		m.RoleMap.ItemIDCol, m.RoleMap.NameCol, m.RoleMap.QuantityCol,
		m.RoleMap.UnitCol, m.RoleMap.LineNumberCol,
		m.Headers, m.HeadersKey, m.IsDefault,
	).Scan(&m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create mapping: %w", err)
	}
	return nil
}

func (r *PostgresIngestRepository) GetMapping(ctx context.Context, id uuid.UUID) (*StoredMapping, error) {
	m, err := scanMapping(r.pgpool.QueryRow(ctx, getMappingQuery, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get mapping: %w", err)
	}
	return m, nil
}

func (r *PostgresIngestRepository) FindMappingByHeadersKey(ctx context.Context, headersKey string) (*StoredMapping, error) {
	m, err := scanMapping(r.pgpool.QueryRow(ctx, findMappingByHeadersKeyQuery, headersKey))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find mapping by headers: %w", err)
	}
	return m, nil
}

func (r *PostgresIngestRepository) ListMappings(ctx context.Context) ([]*StoredMapping, error) {
	rows, err := r.pgpool.Query(ctx, listMappingsQuery)
	if err != nil {
		return nil, fmt.Errorf("list mappings: %w", err)
	}
	defer rows.Close()

	var mappings []*StoredMapping
	for rows.Next() {
		m, err := scanMapping(rows)
		if err != nil {
			return nil, fmt.Errorf("scan mapping: %w", err)
		}
		mappings = append(mappings, m)
	}
	return mappings, rows.Err()
}

func (r *PostgresIngestRepository) UpdateMapping(ctx context.Context, m *StoredMapping) error {
	tag, err := r.pgpool.Exec(ctx, updateMappingQuery,
		m.ID, m.Name, m.Description,
		m.RoleMap.ItemIDCol, m.RoleMap.NameCol, m.RoleMap.QuantityCol,
		m.RoleMap.UnitCol, m.RoleMap.LineNumberCol,
		m.Headers, m.HeadersKey, m.IsDefault,
	)
	if err != nil {
		return fmt.Errorf("update mapping: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return common.ErrNotFound
	}
	return nil
}

func (r *PostgresIngestRepository) RecordMappingUsage(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pgpool.Exec(ctx, recordMappingUsageQuery, id)
	if err != nil {
		return fmt.Errorf("record mapping usage: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return common.ErrNotFound
	}
	return nil
}

func (r *PostgresIngestRepository) DeleteMapping(ctx context.Context, id uuid.UUID) error {
	var isDefault bool
	err := r.pgpool.QueryRow(ctx, mappingIsDefaultQuery, id).Scan(&isDefault)
	if errors.Is(err, pgx.ErrNoRows) {
		return common.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("check mapping: %w", err)
	}
	if isDefault {
		return common.ErrProtectedMapping
	}

	if _, err := r.pgpool.Exec(ctx, deleteMappingQuery, id); err != nil {
		return fmt.Errorf("delete mapping: %w", err)
	}
	return nil
}

// attachSourceFiles derives the source-file set for one aggregate from the
// line-item ownership relation. Manual-only aggregates end up with an empty set.
func (r *PostgresIngestRepository) attachSourceFiles(ctx context.Context, item *AggregatedItem) error {
	rows, err := r.pgpool.Query(ctx, sourceFilesForKeyQuery, string(item.Key))
	if err != nil {
		return fmt.Errorf("aggregate source files: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var fileID uuid.UUID
		if err := rows.Scan(&fileID); err != nil {
			return fmt.Errorf("scan source file id: %w", err)
		}
		item.SourceFiles = append(item.SourceFiles, fileID)
	}
	return rows.Err()
}

func scanAggregate(row pgx.Row) (*AggregatedItem, error) {
	var (
		item AggregatedItem
		key  string
	)
	err := row.Scan(&item.ID, &key, &item.ItemID, &item.Name, &item.Unit,
		&item.Quantity, &item.Count, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return nil, err
	}
	item.Key = aggregate.Key(key)
	return &item, nil
}

func scanMapping(row pgx.Row) (*StoredMapping, error) {
	m := &StoredMapping{RoleMap: mapping.NewRoleMap()}
	err := row.Scan(&m.ID, &m.Name, &m.Description,
		&m.RoleMap.ItemIDCol, &m.RoleMap.NameCol, &m.RoleMap.QuantityCol,
		&m.RoleMap.UnitCol, &m.RoleMap.LineNumberCol,
		&m.Headers, &m.HeadersKey, &m.IsDefault, &m.UsageCount, &m.LastUsed,
		&m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return m, nil
}
