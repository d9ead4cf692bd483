package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"streamlink/internal/model"
	"streamlink/internal/repository"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var linkColumns = []string{"token", "object_ref", "source_id", "mime", "filename", "declared_size", "created_at"}

func TestLinkPostgres_Insert(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewLinkPostgres(db, 0)
	ctx := context.Background()

	now := time.Now().UTC()
	size := int64(1000)
	link := &model.Link{
		Token:        "tok",
		ObjectRef:    "videos/file_1.mp4",
		MIME:         "video/mp4",
		Filename:     "clip.mp4",
		DeclaredSize: &size,
		CreatedAt:    now,
	}

	t.Run("success", func(t *testing.T) {
		mock.ExpectExec("INSERT INTO links").
			WithArgs("tok", "videos/file_1.mp4",
				sql.NullString{},
				sql.NullString{String: "video/mp4", Valid: true},
				sql.NullString{String: "clip.mp4", Valid: true},
				sql.NullInt64{Int64: 1000, Valid: true},
				now).
			WillReturnResult(sqlmock.NewResult(0, 1))

		assert.NoError(t, repo.Insert(ctx, link))
	})

	t.Run("duplicate token", func(t *testing.T) {
		mock.ExpectExec("INSERT INTO links").
			WillReturnError(&pgconn.PgError{Code: "23505"})

		err := repo.Insert(ctx, link)
		assert.ErrorIs(t, err, repository.ErrDuplicateToken)
	})

	t.Run("other error", func(t *testing.T) {
		mock.ExpectExec("INSERT INTO links").
			WillReturnError(errors.New("connection reset"))

		err := repo.Insert(ctx, link)
		assert.Error(t, err)
		assert.NotErrorIs(t, err, repository.ErrDuplicateToken)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLinkPostgres_Lookup(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewLinkPostgres(db, 0)
	ctx := context.Background()
	now := time.Now().UTC()

	t.Run("found with size", func(t *testing.T) {
		rows := sqlmock.NewRows(linkColumns).
			AddRow("tok", "docs/a.pdf", "src-1", "application/pdf", "a.pdf", int64(42), now)
		mock.ExpectQuery("SELECT (.+) FROM links WHERE token = ?").
			WithArgs("tok").
			WillReturnRows(rows)

		l, err := repo.Lookup(ctx, "tok")
		require.NoError(t, err)
		assert.Equal(t, "docs/a.pdf", l.ObjectRef)
		assert.Equal(t, "src-1", l.SourceID)
		require.NotNil(t, l.DeclaredSize)
		assert.Equal(t, int64(42), *l.DeclaredSize)
	})

	t.Run("found without optional fields", func(t *testing.T) {
		rows := sqlmock.NewRows(linkColumns).
			AddRow("tok", "docs/a.pdf", nil, nil, nil, nil, now)
		mock.ExpectQuery("SELECT (.+) FROM links WHERE token = ?").
			WithArgs("tok").
			WillReturnRows(rows)

		l, err := repo.Lookup(ctx, "tok")
		require.NoError(t, err)
		assert.Nil(t, l.DeclaredSize)
		assert.Empty(t, l.MIME)
		assert.Equal(t, model.DefaultMIME, l.ContentType())
	})

	t.Run("not found", func(t *testing.T) {
		mock.ExpectQuery("SELECT (.+) FROM links WHERE token = ?").
			WithArgs("missing").
			WillReturnError(sql.ErrNoRows)

		l, err := repo.Lookup(ctx, "missing")
		assert.ErrorIs(t, err, repository.ErrNotFound)
		assert.Nil(t, l)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLinkPostgres_Delete(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewLinkPostgres(db, 0)

	mock.ExpectExec("DELETE FROM links WHERE token = ?").
		WithArgs("tok").
		WillReturnResult(sqlmock.NewResult(0, 0))

	assert.NoError(t, repo.Delete(context.Background(), "tok"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLinkPostgres_SweepExpired(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewLinkPostgres(db, 2)
	cutoff := time.Now().UTC()

	mock.ExpectExec("DELETE FROM links WHERE token IN").
		WithArgs(cutoff, 2).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("DELETE FROM links WHERE token IN").
		WithArgs(cutoff, 2).
		WillReturnResult(sqlmock.NewResult(0, 1))

	n, err := repo.SweepExpired(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLinkPostgres_SweepExpiredError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewLinkPostgres(db, 10)
	cutoff := time.Now().UTC()

	mock.ExpectExec("DELETE FROM links WHERE token IN").
		WithArgs(cutoff, 10).
		WillReturnError(errors.New("db down"))

	n, err := repo.SweepExpired(context.Background(), cutoff)
	assert.Error(t, err)
	assert.Equal(t, int64(0), n)
}
