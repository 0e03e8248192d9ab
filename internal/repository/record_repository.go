package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rpattn/revisionable/internal/domain"
	"github.com/rpattn/revisionable/internal/events"
)

// timestampAttributes are kept in dedicated columns rather than the JSONB document.
var timestampAttributes = []string{"created_at", "updated_at", "deleted_at"}

// recordRepository is a Postgres host data layer storing generic records as JSONB,
// with soft delete. Notifications are published after each statement commits.
type recordRepository struct {
	pool      *pgxpool.Pool
	publisher events.Publisher
}

// NewRecordRepository creates a records repository backed by the records table.
func NewRecordRepository(pool *pgxpool.Pool, publisher events.Publisher) RecordRepository {
	return &recordRepository{pool: pool, publisher: publisher}
}

// Find retrieves a live record by type and id
func (r *recordRepository) Find(ctx context.Context, subject domain.SubjectRef) (*domain.Record, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, record_type, attributes, created_at, updated_at, deleted_at
		 FROM records
		 WHERE id = $1 AND record_type = $2 AND deleted_at IS NULL`,
		subject.ID, subject.Type,
	)
	record, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", domain.ErrSubjectNotFound, subject)
		}
		return nil, fmt.Errorf("failed to get record: %w", err)
	}
	return record, nil
}

// Create inserts a record and publishes created
func (r *recordRepository) Create(ctx context.Context, record *domain.Record) error {
	document, err := recordDocument(record)
	if err != nil {
		return err
	}

	row := r.pool.QueryRow(ctx,
		`INSERT INTO records (record_type, attributes)
		 VALUES ($1, $2)
		 RETURNING id, record_type, attributes, created_at, updated_at, deleted_at`,
		record.Type, document,
	)
	created, err := scanRecord(row)
	if err != nil {
		return fmt.Errorf("failed to create record: %w", err)
	}

	record.ID = created.ID
	record.Table = created.Table
	record.Attributes = created.Attributes
	return r.publish(ctx, events.Created, record)
}

// Save updates a record and publishes updated
func (r *recordRepository) Save(ctx context.Context, record *domain.Record) error {
	if record.ID == 0 {
		return r.Create(ctx, record)
	}

	document, err := recordDocument(record)
	if err != nil {
		return err
	}

	var updated *domain.Record
	err = pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		current, err := scanRecord(tx.QueryRow(ctx,
			`SELECT id, record_type, attributes, created_at, updated_at, deleted_at
			 FROM records WHERE id = $1 AND record_type = $2 AND deleted_at IS NULL
			 FOR UPDATE`,
			record.ID, record.Type,
		))
		if err != nil {
			return err
		}
		record.Original = current.Attributes

		updated, err = scanRecord(tx.QueryRow(ctx,
			`UPDATE records SET attributes = $3, updated_at = now()
			 WHERE id = $1 AND record_type = $2
			 RETURNING id, record_type, attributes, created_at, updated_at, deleted_at`,
			record.ID, record.Type, document,
		))
		return err
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: %s", domain.ErrSubjectNotFound, record.Subject())
		}
		return fmt.Errorf("failed to update record: %w", err)
	}

	record.Table = updated.Table
	record.Attributes = updated.Attributes
	return r.publish(ctx, events.Updated, record)
}

// Delete soft-deletes a record and publishes deleted
func (r *recordRepository) Delete(ctx context.Context, record *domain.Record) error {
	row := r.pool.QueryRow(ctx,
		`UPDATE records SET deleted_at = now()
		 WHERE id = $1 AND record_type = $2 AND deleted_at IS NULL
		 RETURNING id, record_type, attributes, created_at, updated_at, deleted_at`,
		record.ID, record.Type,
	)
	deleted, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: %s", domain.ErrSubjectNotFound, record.Subject())
		}
		return fmt.Errorf("failed to delete record: %w", err)
	}

	original := deleted.Clone().Attributes
	delete(original, "deleted_at")
	record.Original = original
	record.Table = deleted.Table
	record.Attributes = deleted.Attributes
	return r.publish(ctx, events.Deleted, record)
}

// Restore clears deleted_at and publishes restored
func (r *recordRepository) Restore(ctx context.Context, subject domain.SubjectRef) (*domain.Record, error) {
	var restored *domain.Record
	var original map[string]any
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		current, err := scanRecord(tx.QueryRow(ctx,
			`SELECT id, record_type, attributes, created_at, updated_at, deleted_at
			 FROM records WHERE id = $1 AND record_type = $2 AND deleted_at IS NOT NULL
			 FOR UPDATE`,
			subject.ID, subject.Type,
		))
		if err != nil {
			return err
		}
		original = current.Attributes

		restored, err = scanRecord(tx.QueryRow(ctx,
			`UPDATE records SET deleted_at = NULL, updated_at = now()
			 WHERE id = $1 AND record_type = $2
			 RETURNING id, record_type, attributes, created_at, updated_at, deleted_at`,
			subject.ID, subject.Type,
		))
		return err
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: no deleted record %s", domain.ErrSubjectNotFound, subject)
		}
		return nil, fmt.Errorf("failed to restore record: %w", err)
	}

	restored.Original = original
	if err := r.publish(ctx, events.Restored, restored); err != nil {
		return restored, err
	}
	return restored, nil
}

func (r *recordRepository) publish(ctx context.Context, kind events.Kind, record *domain.Record) error {
	defer record.SyncOriginal()
	if r.publisher == nil {
		return nil
	}
	return r.publisher.Publish(ctx, kind, record)
}

func recordDocument(record *domain.Record) ([]byte, error) {
	document := make(map[string]any, len(record.Attributes))
	for key, value := range record.Attributes {
		document[key] = value
	}
	for _, key := range timestampAttributes {
		delete(document, key)
	}
	encoded, err := json.Marshal(document)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal record attributes: %w", err)
	}
	return encoded, nil
}

func scanRecord(row pgx.Row) (*domain.Record, error) {
	var (
		record    domain.Record
		document  []byte
		createdAt time.Time
		updatedAt time.Time
		deletedAt pgtype.Timestamptz
	)
	if err := row.Scan(&record.ID, &record.Type, &document, &createdAt, &updatedAt, &deletedAt); err != nil {
		return nil, err
	}

	record.Attributes = map[string]any{}
	if len(document) > 0 {
		if err := json.Unmarshal(document, &record.Attributes); err != nil {
			return nil, fmt.Errorf("failed to decode attributes for record %d: %w", record.ID, err)
		}
	}
	record.Table = "records"
	record.Attributes["created_at"] = createdAt.UTC()
	record.Attributes["updated_at"] = updatedAt.UTC()
	if deletedAt.Valid {
		record.Attributes["deleted_at"] = deletedAt.Time.UTC()
	}
	record.SyncOriginal()
	return &record, nil
}
