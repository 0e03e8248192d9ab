package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rpattn/revisionable/internal/domain"
)

const revisionColumns = `id, action, table_name, revisionable_type, revisionable_id, user_id, old, new, ip, ip_forwarded, created_at, updated_at`

// revisionRepository implements RevisionRepository on PostgreSQL.
type revisionRepository struct {
	pool  *pgxpool.Pool
	table string
}

// NewRevisionRepository creates a Postgres-backed revision repository writing to table.
func NewRevisionRepository(pool *pgxpool.Pool, table string) RevisionRepository {
	if table == "" {
		table = "revisions"
	}
	return &revisionRepository{
		pool:  pool,
		table: pgx.Identifier{table}.Sanitize(),
	}
}

// Append inserts a revision; the id comes from the table's identity sequence.
func (r *revisionRepository) Append(ctx context.Context, revision domain.Revision) (domain.Revision, error) {
	revision = stampRevision(revision, time.Now().UTC())

	oldJSON, err := encodeAttributes(revision.Old)
	if err != nil {
		return domain.Revision{}, err
	}
	newJSON, err := encodeAttributes(revision.New)
	if err != nil {
		return domain.Revision{}, err
	}

	query := fmt.Sprintf(`INSERT INTO %s (action, table_name, revisionable_type, revisionable_id, user_id, old, new, ip, ip_forwarded, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id`, r.table)

	var id int64
	err = r.pool.QueryRow(ctx, query,
		string(revision.Action),
		revision.TableName,
		revision.Subject.Type,
		revision.Subject.ID,
		revision.UserID,
		oldJSON,
		newJSON,
		revision.IP,
		revision.IPForwarded,
		revision.CreatedAt,
		revision.UpdatedAt,
	).Scan(&id)
	if err != nil {
		return domain.Revision{}, unavailable("append revision", err)
	}

	revision.ID = id
	return revision, nil
}

// Query lists a subject's revisions newest-first.
func (r *revisionRepository) Query(ctx context.Context, subject domain.SubjectRef) ([]domain.Revision, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s
		WHERE revisionable_type = $1 AND revisionable_id = $2
		ORDER BY created_at DESC, id DESC`, revisionColumns, r.table)

	rows, err := r.pool.Query(ctx, query, subject.Type, subject.ID)
	if err != nil {
		return nil, unavailable("query revisions", err)
	}
	return collectRevisions(rows)
}

// AtOrBefore returns the newest revision at or before ts.
func (r *revisionRepository) AtOrBefore(ctx context.Context, subject domain.SubjectRef, ts time.Time) (*domain.Revision, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s
		WHERE revisionable_type = $1 AND revisionable_id = $2 AND created_at <= $3
		ORDER BY created_at DESC, id DESC
		LIMIT 1`, revisionColumns, r.table)

	return r.queryOne(ctx, "find revision at timestamp", query, subject.Type, subject.ID, ts)
}

// NthFromLatest returns the revision n steps back from the newest.
func (r *revisionRepository) NthFromLatest(ctx context.Context, subject domain.SubjectRef, n int) (*domain.Revision, error) {
	if n < 0 {
		return nil, nil
	}
	query := fmt.Sprintf(`SELECT %s FROM %s
		WHERE revisionable_type = $1 AND revisionable_id = $2
		ORDER BY created_at DESC, id DESC
		LIMIT 1 OFFSET $3`, revisionColumns, r.table)

	return r.queryOne(ctx, "find revision by step", query, subject.Type, subject.ID, n)
}

// Count returns the number of revisions stored for a subject.
func (r *revisionRepository) Count(ctx context.Context, subject domain.SubjectRef) (int, error) {
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE revisionable_type = $1 AND revisionable_id = $2`, r.table)

	var count int64
	if err := r.pool.QueryRow(ctx, query, subject.Type, subject.ID).Scan(&count); err != nil {
		return 0, unavailable("count revisions", err)
	}
	return int(count), nil
}

// DeleteRange deletes a subject's revisions inside the id range.
func (r *revisionRepository) DeleteRange(ctx context.Context, subject domain.SubjectRef, rng domain.RevisionRange) (int, error) {
	query := fmt.Sprintf(`DELETE FROM %s
		WHERE revisionable_type = $1 AND revisionable_id = $2
		  AND ($3::bigint = 0 OR id >= $3)
		  AND ($4::bigint = 0 OR id <= $4)`, r.table)

	tag, err := r.pool.Exec(ctx, query, subject.Type, subject.ID, rng.MinID, rng.MaxID)
	if err != nil {
		return 0, unavailable("delete revisions", err)
	}
	return int(tag.RowsAffected()), nil
}

// ListByUser lists the revisions recorded for an actor.
func (r *revisionRepository) ListByUser(ctx context.Context, userID int64) ([]domain.Revision, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC`, revisionColumns, r.table)

	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, unavailable("list revisions by user", err)
	}
	return collectRevisions(rows)
}

// LatestBySubjects loads the newest revision of several subjects in one round trip.
func (r *revisionRepository) LatestBySubjects(ctx context.Context, subjects []domain.SubjectRef) (map[domain.SubjectRef]domain.Revision, error) {
	latest := make(map[domain.SubjectRef]domain.Revision, len(subjects))
	if len(subjects) == 0 {
		return latest, nil
	}

	types := make([]string, len(subjects))
	ids := make([]int64, len(subjects))
	for i, subject := range subjects {
		types[i] = subject.Type
		ids[i] = subject.ID
	}

	query := fmt.Sprintf(`SELECT DISTINCT ON (revisionable_type, revisionable_id) %s FROM %s
		WHERE (revisionable_type, revisionable_id) IN (SELECT * FROM unnest($1::text[], $2::bigint[]))
		ORDER BY revisionable_type, revisionable_id, created_at DESC, id DESC`, revisionColumns, r.table)

	rows, err := r.pool.Query(ctx, query, types, ids)
	if err != nil {
		return nil, unavailable("load latest revisions", err)
	}
	revisions, err := collectRevisions(rows)
	if err != nil {
		return nil, err
	}
	for _, revision := range revisions {
		latest[revision.Subject] = revision
	}
	return latest, nil
}

func (r *revisionRepository) queryOne(ctx context.Context, op string, query string, args ...any) (*domain.Revision, error) {
	revision, err := scanRevision(r.pool.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, unavailable(op, err)
	}
	return &revision, nil
}

func collectRevisions(rows pgx.Rows) ([]domain.Revision, error) {
	defer rows.Close()

	revisions := []domain.Revision{}
	for rows.Next() {
		revision, err := scanRevision(rows)
		if err != nil {
			return nil, unavailable("scan revision", err)
		}
		revisions = append(revisions, revision)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate revisions", err)
	}
	return revisions, nil
}

func scanRevision(row pgx.Row) (domain.Revision, error) {
	var (
		revision    domain.Revision
		action      string
		subjectType pgtype.Text
		userID      pgtype.Int8
		oldJSON     []byte
		newJSON     []byte
		ip          pgtype.Text
		ipForwarded pgtype.Text
		createdAt   pgtype.Timestamptz
		updatedAt   pgtype.Timestamptz
	)
	if err := row.Scan(
		&revision.ID,
		&action,
		&revision.TableName,
		&subjectType,
		&revision.Subject.ID,
		&userID,
		&oldJSON,
		&newJSON,
		&ip,
		&ipForwarded,
		&createdAt,
		&updatedAt,
	); err != nil {
		return domain.Revision{}, err
	}

	parsed, err := domain.ParseAction(action)
	if err != nil {
		return domain.Revision{}, err
	}
	revision.Action = parsed
	revision.Subject.Type = subjectType.String

	if userID.Valid {
		value := userID.Int64
		revision.UserID = &value
	}
	if ip.Valid {
		value := ip.String
		revision.IP = &value
	}
	if ipForwarded.Valid {
		value := ipForwarded.String
		revision.IPForwarded = &value
	}
	if createdAt.Valid {
		revision.CreatedAt = createdAt.Time.UTC()
	}
	if updatedAt.Valid {
		revision.UpdatedAt = updatedAt.Time.UTC()
	}

	if revision.Old, err = decodeAttributes(oldJSON); err != nil {
		return domain.Revision{}, err
	}
	if revision.New, err = decodeAttributes(newJSON); err != nil {
		return domain.Revision{}, err
	}
	return revision, nil
}
