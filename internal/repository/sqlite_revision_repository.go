package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rpattn/revisionable/internal/domain"
)

// sqliteRevisionRepository implements RevisionRepository on SQLite. Timestamps are
// stored as unix nanoseconds so ordering and range comparisons stay exact.
type sqliteRevisionRepository struct {
	db    *sql.DB
	table string
}

// NewSQLiteRevisionRepository creates a SQLite-backed revision repository writing to table.
func NewSQLiteRevisionRepository(sqlDB *sql.DB, table string) RevisionRepository {
	if table == "" {
		table = "revisions"
	}
	return &sqliteRevisionRepository{
		db:    sqlDB,
		table: quoteSQLiteIdentifier(table),
	}
}

func quoteSQLiteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func (r *sqliteRevisionRepository) Append(ctx context.Context, revision domain.Revision) (domain.Revision, error) {
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
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, r.table)

	result, err := r.db.ExecContext(ctx, query,
		string(revision.Action),
		revision.TableName,
		revision.Subject.Type,
		revision.Subject.ID,
		nullableInt(revision.UserID),
		oldJSON,
		newJSON,
		nullableString(revision.IP),
		nullableString(revision.IPForwarded),
		revision.CreatedAt.UnixNano(),
		revision.UpdatedAt.UnixNano(),
	)
	if err != nil {
		return domain.Revision{}, unavailable("append revision", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return domain.Revision{}, unavailable("read revision id", err)
	}
	revision.ID = id
	revision.CreatedAt = time.Unix(0, revision.CreatedAt.UnixNano()).UTC()
	revision.UpdatedAt = time.Unix(0, revision.UpdatedAt.UnixNano()).UTC()
	return revision, nil
}

func (r *sqliteRevisionRepository) Query(ctx context.Context, subject domain.SubjectRef) ([]domain.Revision, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s
		WHERE revisionable_type = ? AND revisionable_id = ?
		ORDER BY created_at DESC, id DESC`, revisionColumns, r.table)

	return r.queryMany(ctx, "query revisions", query, subject.Type, subject.ID)
}

func (r *sqliteRevisionRepository) AtOrBefore(ctx context.Context, subject domain.SubjectRef, ts time.Time) (*domain.Revision, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s
		WHERE revisionable_type = ? AND revisionable_id = ? AND created_at <= ?
		ORDER BY created_at DESC, id DESC
		LIMIT 1`, revisionColumns, r.table)

	return r.queryOne(ctx, "find revision at timestamp", query, subject.Type, subject.ID, ts.UnixNano())
}

func (r *sqliteRevisionRepository) NthFromLatest(ctx context.Context, subject domain.SubjectRef, n int) (*domain.Revision, error) {
	if n < 0 {
		return nil, nil
	}
	query := fmt.Sprintf(`SELECT %s FROM %s
		WHERE revisionable_type = ? AND revisionable_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT 1 OFFSET ?`, revisionColumns, r.table)

	return r.queryOne(ctx, "find revision by step", query, subject.Type, subject.ID, n)
}

func (r *sqliteRevisionRepository) Count(ctx context.Context, subject domain.SubjectRef) (int, error) {
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE revisionable_type = ? AND revisionable_id = ?`, r.table)

	var count int
	if err := r.db.QueryRowContext(ctx, query, subject.Type, subject.ID).Scan(&count); err != nil {
		return 0, unavailable("count revisions", err)
	}
	return count, nil
}

func (r *sqliteRevisionRepository) DeleteRange(ctx context.Context, subject domain.SubjectRef, rng domain.RevisionRange) (int, error) {
	query := fmt.Sprintf(`DELETE FROM %s
		WHERE revisionable_type = ? AND revisionable_id = ?
		  AND (? = 0 OR id >= ?)
		  AND (? = 0 OR id <= ?)`, r.table)

	result, err := r.db.ExecContext(ctx, query, subject.Type, subject.ID, rng.MinID, rng.MinID, rng.MaxID, rng.MaxID)
	if err != nil {
		return 0, unavailable("delete revisions", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, unavailable("count deleted revisions", err)
	}
	return int(affected), nil
}

func (r *sqliteRevisionRepository) ListByUser(ctx context.Context, userID int64) ([]domain.Revision, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s
		WHERE user_id = ?
		ORDER BY created_at DESC, id DESC`, revisionColumns, r.table)

	return r.queryMany(ctx, "list revisions by user", query, userID)
}

func (r *sqliteRevisionRepository) LatestBySubjects(ctx context.Context, subjects []domain.SubjectRef) (map[domain.SubjectRef]domain.Revision, error) {
	latest := make(map[domain.SubjectRef]domain.Revision, len(subjects))
	if len(subjects) == 0 {
		return latest, nil
	}

	conditions := make([]string, len(subjects))
	args := make([]any, 0, len(subjects)*2)
	for i, subject := range subjects {
		conditions[i] = "(revisionable_type = ? AND revisionable_id = ?)"
		args = append(args, subject.Type, subject.ID)
	}

	query := fmt.Sprintf(`SELECT %s FROM (
			SELECT %s, ROW_NUMBER() OVER (
				PARTITION BY revisionable_type, revisionable_id
				ORDER BY created_at DESC, id DESC
			) AS rn
			FROM %s
			WHERE %s
		) WHERE rn = 1`, revisionColumns, revisionColumns, r.table, strings.Join(conditions, " OR "))

	revisions, err := r.queryMany(ctx, "load latest revisions", query, args...)
	if err != nil {
		return nil, err
	}
	for _, revision := range revisions {
		latest[revision.Subject] = revision
	}
	return latest, nil
}

func (r *sqliteRevisionRepository) queryOne(ctx context.Context, op string, query string, args ...any) (*domain.Revision, error) {
	revision, err := scanSQLiteRevision(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, unavailable(op, err)
	}
	return &revision, nil
}

func (r *sqliteRevisionRepository) queryMany(ctx context.Context, op string, query string, args ...any) ([]domain.Revision, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, unavailable(op, err)
	}
	defer rows.Close()

	revisions := []domain.Revision{}
	for rows.Next() {
		revision, err := scanSQLiteRevision(rows)
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

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteRevision(row rowScanner) (domain.Revision, error) {
	var (
		revision    domain.Revision
		action      string
		subjectType sql.NullString
		userID      sql.NullInt64
		oldJSON     []byte
		newJSON     []byte
		ip          sql.NullString
		ipForwarded sql.NullString
		createdAt   int64
		updatedAt   int64
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
	revision.CreatedAt = time.Unix(0, createdAt).UTC()
	revision.UpdatedAt = time.Unix(0, updatedAt).UTC()

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

	if revision.Old, err = decodeAttributes(oldJSON); err != nil {
		return domain.Revision{}, err
	}
	if revision.New, err = decodeAttributes(newJSON); err != nil {
		return domain.Revision{}, err
	}
	return revision, nil
}

func nullableInt(value *int64) sql.NullInt64 {
	if value == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *value, Valid: true}
}

func nullableString(value *string) sql.NullString {
	if value == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *value, Valid: true}
}
