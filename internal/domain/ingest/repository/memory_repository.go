package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stocktally/stocktally/internal/domain/common"
	"github.com/stocktally/stocktally/internal/domain/ingest/aggregate"
)

// MemoryIngestRepository is an in-memory IngestRepository. A single mutex
// serializes every state change, which trivially satisfies the per-key
// atomicity contract. Used for tests and for running the server without
// PostgreSQL (STORE=memory).
type MemoryIngestRepository struct {
	mu         sync.Mutex
	files      map[uuid.UUID]*SourceFile
	fileOrder  []uuid.UUID
	lineItems  map[uuid.UUID][]*LineItem // by file id, in row order
	aggregates map[aggregate.Key]*AggregatedItem
	templates  map[uuid.UUID][]TemplateEntry
	mappings   map[uuid.UUID]*StoredMapping
	now        func() time.Time
}

var _ IngestRepository = (*MemoryIngestRepository)(nil)

// NewMemoryIngestRepository creates an empty in-memory repository.
func NewMemoryIngestRepository() *MemoryIngestRepository {
	return &MemoryIngestRepository{
		files:      make(map[uuid.UUID]*SourceFile),
		lineItems:  make(map[uuid.UUID][]*LineItem),
		aggregates: make(map[aggregate.Key]*AggregatedItem),
		templates:  make(map[uuid.UUID][]TemplateEntry),
		mappings:   make(map[uuid.UUID]*StoredMapping),
		now:        time.Now,
	}
}

func (r *MemoryIngestRepository) StoreFileContribution(_ context.Context, file *SourceFile, items []*LineItem, deltas []aggregate.Delta, template []TemplateEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if file.ID == uuid.Nil {
		file.ID = uuid.New()
	}
	if file.CreatedAt.IsZero() {
		file.CreatedAt = r.now()
	}

	stored := *file
	r.files[file.ID] = &stored
	r.fileOrder = append(r.fileOrder, file.ID)

	rows := make([]*LineItem, 0, len(items))
	for _, item := range items {
		cp := *item
		if cp.ID == uuid.Nil {
			cp.ID = uuid.New()
		}
		cp.FileID = file.ID
		if cp.CreatedAt.IsZero() {
			cp.CreatedAt = stored.CreatedAt
		}
		rows = append(rows, &cp)
	}
	r.lineItems[file.ID] = rows

	for _, d := range deltas {
		r.applyDeltaLocked(d)
	}

	r.templates[file.ID] = append([]TemplateEntry(nil), template...)
	return nil
}

func (r *MemoryIngestRepository) RemoveFileContribution(_ context.Context, fileID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.files[fileID]; !ok {
		return common.ErrNotFound
	}

	// Reverse exactly this file's rows, key by key.
	for _, item := range r.lineItems[fileID] {
		agg, ok := r.aggregates[item.Key]
		if !ok {
			continue
		}
		agg.Quantity -= item.Quantity
		agg.Count--
		agg.UpdatedAt = r.now()
		if agg.Count <= 0 {
			delete(r.aggregates, item.Key)
		}
	}

	delete(r.lineItems, fileID)
	delete(r.templates, fileID)
	delete(r.files, fileID)
	for i, id := range r.fileOrder {
		if id == fileID {
			r.fileOrder = append(r.fileOrder[:i], r.fileOrder[i+1:]...)
			break
		}
	}
	return nil
}

func (r *MemoryIngestRepository) ApplyManualContribution(_ context.Context, delta aggregate.Delta) (*AggregatedItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	agg := r.applyDeltaLocked(delta)
	return r.snapshotAggregateLocked(agg), nil
}

func (r *MemoryIngestRepository) applyDeltaLocked(d aggregate.Delta) *AggregatedItem {
	agg, ok := r.aggregates[d.Key]
	if !ok {
		agg = &AggregatedItem{
			ID:        uuid.New(),
			Key:       d.Key,
			ItemID:    d.ItemID,
			Name:      d.Name,
			Unit:      d.Unit,
			CreatedAt: r.now(),
		}
		r.aggregates[d.Key] = agg
	}
	agg.Quantity += d.Quantity
	agg.Count += d.Count
	agg.UpdatedAt = r.now()
	return agg
}

func (r *MemoryIngestRepository) GetFile(_ context.Context, id uuid.UUID) (*SourceFile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, ok := r.files[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	cp := *f
	return &cp, nil
}

func (r *MemoryIngestRepository) ListFiles(_ context.Context) ([]*SourceFile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*SourceFile, 0, len(r.fileOrder))
	for _, id := range r.fileOrder {
		cp := *r.files[id]
		out = append(out, &cp)
	}
	return out, nil
}

func (r *MemoryIngestRepository) ListLineItems(_ context.Context) ([]*LineItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*LineItem
	for _, fileID := range r.fileOrder {
		for _, item := range r.lineItems[fileID] {
			cp := *item
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *MemoryIngestRepository) ListLineItemsByFile(_ context.Context, fileID uuid.UUID) ([]*LineItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*LineItem
	for _, item := range r.lineItems[fileID] {
		cp := *item
		out = append(out, &cp)
	}
	return out, nil
}

func (r *MemoryIngestRepository) GetAggregate(_ context.Context, id uuid.UUID) (*AggregatedItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	agg := r.findAggregateLocked(id)
	if agg == nil {
		return nil, common.ErrNotFound
	}
	return r.snapshotAggregateLocked(agg), nil
}

func (r *MemoryIngestRepository) ListAggregates(_ context.Context) ([]*AggregatedItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*AggregatedItem, 0, len(r.aggregates))
	for _, agg := range r.aggregates {
		out = append(out, r.snapshotAggregateLocked(agg))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].Key < out[j].Key
	})
	return out, nil
}

func (r *MemoryIngestRepository) SetAggregateQuantity(_ context.Context, id uuid.UUID, quantity float64) (*AggregatedItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	agg := r.findAggregateLocked(id)
	if agg == nil {
		return nil, common.ErrNotFound
	}
	agg.Quantity = quantity
	agg.UpdatedAt = r.now()
	return r.snapshotAggregateLocked(agg), nil
}

func (r *MemoryIngestRepository) DeleteAggregate(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	agg := r.findAggregateLocked(id)
	if agg == nil {
		return common.ErrNotFound
	}
	delete(r.aggregates, agg.Key)

	// The key's line items go with the aggregate; otherwise retracting one
	// of their files later would subtract from an aggregate recreated under
	// the same key.
	for fileID, items := range r.lineItems {
		kept := items[:0]
		for _, item := range items {
			if item.Key != agg.Key {
				kept = append(kept, item)
			}
		}
		r.lineItems[fileID] = kept
	}
	return nil
}

func (r *MemoryIngestRepository) ListTemplates(_ context.Context) ([]*FileTemplate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*FileTemplate
	for _, fileID := range r.fileOrder {
		entries, ok := r.templates[fileID]
		if !ok {
			continue
		}
		out = append(out, &FileTemplate{
			FileID:  fileID,
			Entries: append([]TemplateEntry(nil), entries...),
		})
	}
	return out, nil
}

func (r *MemoryIngestRepository) CreateMapping(_ context.Context, m *StoredMapping) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	m.CreatedAt = r.now()
	m.UpdatedAt = m.CreatedAt
	cp := *m
	r.mappings[m.ID] = &cp
	return nil
}

func (r *MemoryIngestRepository) GetMapping(_ context.Context, id uuid.UUID) (*StoredMapping, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.mappings[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (r *MemoryIngestRepository) FindMappingByHeadersKey(_ context.Context, headersKey string) (*StoredMapping, error) {
	if headersKey == "" {
		return nil, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var best *StoredMapping
	for _, m := range r.mappings {
		if m.HeadersKey != headersKey {
			continue
		}
		if best == nil || mappingLess(m, best) {
			best = m
		}
	}
	if best == nil {
		return nil, nil
	}
	cp := *best
	return &cp, nil
}

func (r *MemoryIngestRepository) ListMappings(_ context.Context) ([]*StoredMapping, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*StoredMapping, 0, len(r.mappings))
	for _, m := range r.mappings {
		cp := *m
		out = append(out, &cp)
	}
	sort.SliceStable(out, func(i, j int) bool { return mappingLess(out[i], out[j]) })
	return out, nil
}

// mappingLess implements the registry ordering: defaults first, then usage
// count descending, then most recently used, then newest.
func mappingLess(a, b *StoredMapping) bool {
	if a.IsDefault != b.IsDefault {
		return a.IsDefault
	}
	if a.UsageCount != b.UsageCount {
		return a.UsageCount > b.UsageCount
	}
	au, bu := lastUsedOrZero(a), lastUsedOrZero(b)
	if !au.Equal(bu) {
		return au.After(bu)
	}
	return a.CreatedAt.After(b.CreatedAt)
}

func lastUsedOrZero(m *StoredMapping) time.Time {
	if m.LastUsed == nil {
		return time.Time{}
	}
	return *m.LastUsed
}

func (r *MemoryIngestRepository) UpdateMapping(_ context.Context, m *StoredMapping) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.mappings[m.ID]
	if !ok {
		return common.ErrNotFound
	}
	cp := *m
	cp.UsageCount = existing.UsageCount
	cp.LastUsed = existing.LastUsed
	cp.CreatedAt = existing.CreatedAt
	cp.UpdatedAt = r.now()
	r.mappings[m.ID] = &cp
	return nil
}

func (r *MemoryIngestRepository) RecordMappingUsage(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.mappings[id]
	if !ok {
		return common.ErrNotFound
	}
	m.UsageCount++
	now := r.now()
	m.LastUsed = &now
	return nil
}

func (r *MemoryIngestRepository) DeleteMapping(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.mappings[id]
	if !ok {
		return common.ErrNotFound
	}
	if m.IsDefault {
		return common.ErrProtectedMapping
	}
	delete(r.mappings, id)
	return nil
}

func (r *MemoryIngestRepository) findAggregateLocked(id uuid.UUID) *AggregatedItem {
	for _, agg := range r.aggregates {
		if agg.ID == id {
			return agg
		}
	}
	return nil
}

// snapshotAggregateLocked copies the aggregate and derives its source-file
// set from the stored line items. Manual-only aggregates get an empty set.
func (r *MemoryIngestRepository) snapshotAggregateLocked(agg *AggregatedItem) *AggregatedItem {
	cp := *agg
	cp.SourceFiles = nil
	for _, fileID := range r.fileOrder {
		for _, item := range r.lineItems[fileID] {
			if item.Key == agg.Key {
				cp.SourceFiles = append(cp.SourceFiles, fileID)
				break
			}
		}
	}
	return &cp
}
