package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rpattn/revisionable/internal/domain"
	"github.com/rpattn/revisionable/internal/events"
)

// MemoryRecordRepository is an in-process host data layer. It soft-deletes records and
// publishes lifecycle notifications after each mutation, before the in-memory
// record's original snapshot is synced.
type MemoryRecordRepository struct {
	mu        sync.Mutex
	table     string
	publisher events.Publisher
	nextID    int64
	rows      map[domain.SubjectRef]*domain.Record
	now       func() time.Time
}

// NewMemoryRecordRepository creates a record store reporting table as its storage location.
func NewMemoryRecordRepository(table string, publisher events.Publisher) *MemoryRecordRepository {
	return &MemoryRecordRepository{
		table:     table,
		publisher: publisher,
		rows:      map[domain.SubjectRef]*domain.Record{},
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the timestamp source for created_at/updated_at/deleted_at.
func (r *MemoryRecordRepository) WithClock(now func() time.Time) *MemoryRecordRepository {
	r.now = now
	return r
}

// Find returns a live (not soft-deleted) record.
func (r *MemoryRecordRepository) Find(ctx context.Context, subject domain.SubjectRef) (*domain.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	row, ok := r.rows[subject]
	if !ok || row.Attributes["deleted_at"] != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrSubjectNotFound, subject)
	}
	found := row.Clone()
	found.SyncOriginal()
	return found, nil
}

// Create inserts a new record and publishes created.
func (r *MemoryRecordRepository) Create(ctx context.Context, record *domain.Record) error {
	r.mu.Lock()
	r.nextID++
	now := r.now()
	record.ID = r.nextID
	record.Table = r.table
	if record.Attributes == nil {
		record.Attributes = map[string]any{}
	}
	record.Attributes["created_at"] = now
	record.Attributes["updated_at"] = now
	r.rows[record.Subject()] = record.Clone()
	r.mu.Unlock()

	return r.publish(ctx, events.Created, record)
}

// Save persists the record's attributes and publishes updated. Unsaved records are created.
func (r *MemoryRecordRepository) Save(ctx context.Context, record *domain.Record) error {
	if record.ID == 0 {
		return r.Create(ctx, record)
	}

	r.mu.Lock()
	row, ok := r.rows[record.Subject()]
	if !ok || row.Attributes["deleted_at"] != nil {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", domain.ErrSubjectNotFound, record.Subject())
	}
	record.Original = row.Clone().Attributes
	record.Table = r.table
	if record.Attributes == nil {
		record.Attributes = map[string]any{}
	}
	record.Attributes["updated_at"] = r.now()
	r.rows[record.Subject()] = record.Clone()
	r.mu.Unlock()

	return r.publish(ctx, events.Updated, record)
}

// Delete soft-deletes the record and publishes deleted.
func (r *MemoryRecordRepository) Delete(ctx context.Context, record *domain.Record) error {
	r.mu.Lock()
	row, ok := r.rows[record.Subject()]
	if !ok || row.Attributes["deleted_at"] != nil {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", domain.ErrSubjectNotFound, record.Subject())
	}
	record.Original = row.Clone().Attributes
	record.Attributes = row.Clone().Attributes
	record.Attributes["deleted_at"] = r.now()
	record.Table = r.table
	r.rows[record.Subject()] = record.Clone()
	r.mu.Unlock()

	return r.publish(ctx, events.Deleted, record)
}

// Restore undoes a soft delete and publishes restored.
func (r *MemoryRecordRepository) Restore(ctx context.Context, subject domain.SubjectRef) (*domain.Record, error) {
	r.mu.Lock()
	row, ok := r.rows[subject]
	if !ok || row.Attributes["deleted_at"] == nil {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: no deleted record %s", domain.ErrSubjectNotFound, subject)
	}
	record := row.Clone()
	record.Original = row.Clone().Attributes
	delete(record.Attributes, "deleted_at")
	record.Attributes["updated_at"] = r.now()
	r.rows[subject] = record.Clone()
	r.mu.Unlock()

	if err := r.publish(ctx, events.Restored, record); err != nil {
		return record, err
	}
	return record, nil
}

func (r *MemoryRecordRepository) publish(ctx context.Context, kind events.Kind, record *domain.Record) error {
	defer record.SyncOriginal()
	if r.publisher == nil {
		return nil
	}
	return r.publisher.Publish(ctx, kind, record)
}
