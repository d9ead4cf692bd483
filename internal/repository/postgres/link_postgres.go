package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"streamlink/internal/model"
	"streamlink/internal/repository"
)

const uniqueViolation = "23505"

// LinkPostgres is a PostgreSQL implementation of repository.LinkRepository.
// It uses database/sql with parameterized queries and contains no business logic.
type LinkPostgres struct {
	db        *sql.DB
	batchSize int
}

// NewLinkPostgres creates a new LinkPostgres repository.
func NewLinkPostgres(db *sql.DB, batchSize int) *LinkPostgres {
	if batchSize <= 0 {
		batchSize = repository.DefaultSweepBatch
	}
	return &LinkPostgres{db: db, batchSize: batchSize}
}

var _ repository.LinkRepository = (*LinkPostgres)(nil)

// Insert adds a link row.
func (r *LinkPostgres) Insert(ctx context.Context, link *model.Link) error {
	const q = `
		INSERT INTO links (token, object_ref, source_id, mime, filename, declared_size, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	var size sql.NullInt64
	if link.DeclaredSize != nil {
		size = sql.NullInt64{Int64: *link.DeclaredSize, Valid: true}
	}
	_, err := r.db.ExecContext(ctx, q,
		link.Token,
		link.ObjectRef,
		nullString(link.SourceID),
		nullString(link.MIME),
		nullString(link.Filename),
		size,
		link.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return repository.ErrDuplicateToken
		}
		return err
	}
	return nil
}

// Lookup fetches a single link by its token.
func (r *LinkPostgres) Lookup(ctx context.Context, token string) (*model.Link, error) {
	const q = `
		SELECT token, object_ref, source_id, mime, filename, declared_size, created_at
		FROM links
		WHERE token = $1
	`
	var (
		l                        model.Link
		sourceID, mime, filename sql.NullString
		size                     sql.NullInt64
	)
	err := r.db.QueryRowContext(ctx, q, token).Scan(
		&l.Token,
		&l.ObjectRef,
		&sourceID,
		&mime,
		&filename,
		&size,
		&l.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	l.SourceID = sourceID.String
	l.MIME = mime.String
	l.Filename = filename.String
	if size.Valid {
		v := size.Int64
		l.DeclaredSize = &v
	}
	return &l, nil
}

// Delete removes a link by token. It does not return an error if the row does not exist.
func (r *LinkPostgres) Delete(ctx context.Context, token string) error {
	const q = `DELETE FROM links WHERE token = $1`
	_, err := r.db.ExecContext(ctx, q, token)
	return err
}

// SweepExpired deletes rows older than cutoff in bounded batches so no single
// statement holds row locks across the whole table.
func (r *LinkPostgres) SweepExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	const q = `
		DELETE FROM links
		WHERE token IN (
			SELECT token FROM links
			WHERE created_at < $1
			LIMIT $2
		)
	`
	var total int64
	for {
		res, err := r.db.ExecContext(ctx, q, cutoff, r.batchSize)
		if err != nil {
			return total, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, err
		}
		total += n
		if n < int64(r.batchSize) {
			return total, nil
		}
	}
}

// Ping checks database connectivity.
func (r *LinkPostgres) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
