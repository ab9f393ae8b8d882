package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"

	"github.com/stocktally/stocktally/internal/domain/common"
	"github.com/stocktally/stocktally/internal/domain/ingest/aggregate"
	"github.com/stocktally/stocktally/internal/domain/ingest/mapping"
)

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	t.Cleanup(mock.Close)
	return mock
}

func TestPostgresIngestRepository_StoreFileContribution(t *testing.T) {
	mock := newMock(t)

	fileID := uuid.New()
	now := time.Now()
	key := aggregate.ComputeKey("RAW001", "Flour", "kg")
	items := []*LineItem{
		{ID: uuid.New(), Key: key, ItemID: "RAW001", Name: "Flour", Quantity: 50, Unit: "kg", RowIndex: 1},
		{ID: uuid.New(), Key: key, ItemID: "RAW001", Name: "Flour", Quantity: 25, Unit: "kg", RowIndex: 2},
	}
	deltas := []aggregate.Delta{
		{Key: key, ItemID: "RAW001", Name: "Flour", Unit: "kg", Quantity: 75, Count: 2},
	}
	template := []TemplateEntry{
		{Kind: EntryHeader, Label: "SUROWCE"},
		{Kind: EntryItem, Key: key, ItemID: "RAW001", Name: "Flour", Unit: "kg"},
	}

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(insertFileQuery)).
		WithArgs(fileID, "stock.xlsx", int64(2048)).
		WillReturnRows(pgxmock.NewRows([]string{"created_at"}).AddRow(now))
	mock.ExpectCopyFrom(pgx.Identifier{"line_items"},
		[]string{"id", "file_id", "agg_key", "item_id", "name", "quantity", "unit", "row_index"}).
		WillReturnResult(2)
	mock.ExpectQuery(regexp.QuoteMeta(upsertAggregateQuery)).
		WithArgs(pgxmock.AnyArg(), string(key), "RAW001", "Flour", "kg", 75.0, 2).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(uuid.New()))
	mock.ExpectExec(regexp.QuoteMeta(insertTemplateEntryQuery)).
		WithArgs(fileID, 0, "header", "SUROWCE", "", "", "", "").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(regexp.QuoteMeta(insertTemplateEntryQuery)).
		WithArgs(fileID, 1, "item", "", string(key), "RAW001", "Flour", "kg").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	repo := NewPostgresIngestRepository(mock)
	file := &SourceFile{ID: fileID, FileName: "stock.xlsx", SizeBytes: 2048}
	if err := repo.StoreFileContribution(context.Background(), file, items, deltas, template); err != nil {
		t.Fatalf("StoreFileContribution: %v", err)
	}
	if !file.CreatedAt.Equal(now) {
		t.Fatalf("created_at not filled in: %v", file.CreatedAt)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresIngestRepository_StoreFileContribution_RollsBackOnUpsertError(t *testing.T) {
	mock := newMock(t)

	fileID := uuid.New()
	key := aggregate.ComputeKey("", "Flour", "kg")

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(insertFileQuery)).
		WithArgs(fileID, "stock.xlsx", int64(10)).
		WillReturnRows(pgxmock.NewRows([]string{"created_at"}).AddRow(time.Now()))
	mock.ExpectQuery(regexp.QuoteMeta(upsertAggregateQuery)).
		WithArgs(pgxmock.AnyArg(), string(key), "", "Flour", "kg", 5.0, 1).
		WillReturnError(errors.New("deadlock detected"))
	mock.ExpectRollback()

	repo := NewPostgresIngestRepository(mock)
	file := &SourceFile{ID: fileID, FileName: "stock.xlsx", SizeBytes: 10}
	deltas := []aggregate.Delta{{Key: key, Name: "Flour", Unit: "kg", Quantity: 5, Count: 1}}

	err := repo.StoreFileContribution(context.Background(), file, nil, deltas, nil)
	if !errors.Is(err, common.ErrStorageConflict) {
		t.Fatalf("expected ErrStorageConflict, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresIngestRepository_RemoveFileContribution(t *testing.T) {
	mock := newMock(t)

	fileID := uuid.New()
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(fileExistsQuery)).
		WithArgs(fileID).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectExec(regexp.QuoteMeta(retractFileQuery)).
		WithArgs(fileID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 2))
	mock.ExpectExec(regexp.QuoteMeta(deleteDrainedAggregatesQuery)).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec(regexp.QuoteMeta(deleteFileQuery)).
		WithArgs(fileID).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectCommit()

	repo := NewPostgresIngestRepository(mock)
	if err := repo.RemoveFileContribution(context.Background(), fileID); err != nil {
		t.Fatalf("RemoveFileContribution: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresIngestRepository_RemoveFileContribution_NotFound(t *testing.T) {
	mock := newMock(t)

	fileID := uuid.New()
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(fileExistsQuery)).
		WithArgs(fileID).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectRollback()

	repo := NewPostgresIngestRepository(mock)
	err := repo.RemoveFileContribution(context.Background(), fileID)
	if !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresIngestRepository_GetFile_NotFound(t *testing.T) {
	mock := newMock(t)

	fileID := uuid.New()
	mock.ExpectQuery(regexp.QuoteMeta(getFileQuery)).
		WithArgs(fileID).
		WillReturnRows(pgxmock.NewRows([]string{"id", "file_name", "size_bytes", "created_at"}))

	repo := NewPostgresIngestRepository(mock)
	_, err := repo.GetFile(context.Background(), fileID)
	if !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresIngestRepository_ApplyManualContribution(t *testing.T) {
	mock := newMock(t)

	key := aggregate.ComputeKey("", "Drożdże", "kg")
	aggID := uuid.New()
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta(manualUpsertQuery)).
		WithArgs(pgxmock.AnyArg(), string(key), "", "Drożdże", "kg", 3.0, 1).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "agg_key", "item_id", "name", "unit", "quantity", "contribution_count", "created_at", "updated_at",
		}).AddRow(aggID, string(key), "", "Drożdże", "kg", 3.0, 1, now, now))
	// No line items reference the key, so the source set stays empty.
	mock.ExpectQuery(regexp.QuoteMeta(sourceFilesForKeyQuery)).
		WithArgs(string(key)).
		WillReturnRows(pgxmock.NewRows([]string{"file_id"}))

	repo := NewPostgresIngestRepository(mock)
	delta := aggregate.Delta{Key: key, Name: "Drożdże", Unit: "kg", Quantity: 3, Count: 1}
	agg, err := repo.ApplyManualContribution(context.Background(), delta)
	if err != nil {
		t.Fatalf("ApplyManualContribution: %v", err)
	}
	if agg.ID != aggID || agg.Quantity != 3 || len(agg.SourceFiles) != 0 {
		t.Fatalf("unexpected aggregate: %+v", agg)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresIngestRepository_SetAggregateQuantity_NotFound(t *testing.T) {
	mock := newMock(t)

	aggID := uuid.New()
	mock.ExpectQuery(regexp.QuoteMeta(setAggregateQuantityQuery)).
		WithArgs(aggID, 12.5).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "agg_key", "item_id", "name", "unit", "quantity", "contribution_count", "created_at", "updated_at",
		}))

	repo := NewPostgresIngestRepository(mock)
	_, err := repo.SetAggregateQuantity(context.Background(), aggID, 12.5)
	if !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresIngestRepository_DeleteAggregate(t *testing.T) {
	mock := newMock(t)

	aggID := uuid.New()
	key := aggregate.ComputeKey("RAW001", "Flour", "kg")

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(aggregateKeyQuery)).
		WithArgs(aggID).
		WillReturnRows(pgxmock.NewRows([]string{"agg_key"}).AddRow(string(key)))
	mock.ExpectExec(regexp.QuoteMeta(deleteLineItemsByKeyQuery)).
		WithArgs(string(key)).
		WillReturnResult(pgxmock.NewResult("DELETE", 2))
	mock.ExpectExec(regexp.QuoteMeta(deleteAggregateQuery)).
		WithArgs(aggID).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectCommit()

	repo := NewPostgresIngestRepository(mock)
	if err := repo.DeleteAggregate(context.Background(), aggID); err != nil {
		t.Fatalf("DeleteAggregate: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresIngestRepository_DeleteAggregate_NotFound(t *testing.T) {
	mock := newMock(t)

	aggID := uuid.New()
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(aggregateKeyQuery)).
		WithArgs(aggID).
		WillReturnRows(pgxmock.NewRows([]string{"agg_key"}))
	mock.ExpectRollback()

	repo := NewPostgresIngestRepository(mock)
	err := repo.DeleteAggregate(context.Background(), aggID)
	if !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresIngestRepository_CreateMapping(t *testing.T) {
	mock := newMock(t)

	m := &StoredMapping{
		ID:   uuid.New(),
		Name: "standard",
		RoleMap: mapping.RoleMap{
			ItemIDCol: 1, NameCol: 2, QuantityCol: 3, UnitCol: 4, LineNumberCol: 0,
		},
		Headers:    []string{"L.p.", "Nr indeksu", "Nazwa towaru", "Ilość", "JMZ"},
		HeadersKey: "lp|nr indeksu|nazwa towaru|ilosc|jmz",
		IsDefault:  true,
	}
	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta(createMappingQuery)).
		WithArgs(m.ID, "standard", "", 1, 2, 3, 4, 0, m.Headers, m.HeadersKey, true).
		WillReturnRows(pgxmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))

	repo := NewPostgresIngestRepository(mock)
	if err := repo.CreateMapping(context.Background(), m); err != nil {
		t.Fatalf("CreateMapping: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresIngestRepository_DeleteMapping_Protected(t *testing.T) {
	mock := newMock(t)

	mappingID := uuid.New()
	mock.ExpectQuery(regexp.QuoteMeta(mappingIsDefaultQuery)).
		WithArgs(mappingID).
		WillReturnRows(pgxmock.NewRows([]string{"is_default"}).AddRow(true))

	repo := NewPostgresIngestRepository(mock)
	err := repo.DeleteMapping(context.Background(), mappingID)
	if !errors.Is(err, common.ErrProtectedMapping) {
		t.Fatalf("expected ErrProtectedMapping, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresIngestRepository_RecordMappingUsage_NotFound(t *testing.T) {
	mock := newMock(t)

	mappingID := uuid.New()
	mock.ExpectExec(regexp.QuoteMeta(recordMappingUsageQuery)).
		WithArgs(mappingID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	repo := NewPostgresIngestRepository(mock)
	err := repo.RecordMappingUsage(context.Background(), mappingID)
	if !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
