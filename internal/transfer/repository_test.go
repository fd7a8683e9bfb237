package transfer

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newMockRepo(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewPostgresRepository(db, zap.NewNop()), mock
}

var recordColumns = []string{"token", "stored_path", "original_name", "password_hash", "expires_at", "size_bytes", "created_at"}

func TestPostgresRepository_Insert(t *testing.T) {
	repo, mock := newMockRepo(t)
	exp := time.Now().Add(24 * time.Hour)

	mock.ExpectExec(`INSERT INTO transfers`).
		WithArgs("tok", "uploads/tok__a.txt", "a.txt", nil, sqlmock.AnyArg(), int64(5), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Insert(context.Background(), Record{
		Token: "tok", StoredPath: "uploads/tok__a.txt", OriginalName: "a.txt",
		ExpiresAt: &exp, SizeBytes: 5, CreatedAt: time.Now(),
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepository_InsertDuplicate(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectExec(`INSERT INTO transfers`).
		WillReturnError(&pgconn.PgError{Code: "23505"})

	err := repo.Insert(context.Background(), Record{Token: "tok"})
	require.Error(t, err)
	assert.True(t, IsKind(err, KindBackend))
	assert.Contains(t, err.Error(), "token already in use")
}

func TestPostgresRepository_Get(t *testing.T) {
	repo, mock := newMockRepo(t)
	exp := time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC)
	created := exp.Add(-48 * time.Hour)

	mock.ExpectQuery(`SELECT (.+) FROM transfers\s+WHERE token = \$1`).
		WithArgs("tok").
		WillReturnRows(sqlmock.NewRows(recordColumns).
			AddRow("tok", "uploads/tok__a.txt", "a.txt", "$2a$10$hash", exp, int64(42), created))

	rec, err := repo.Get(context.Background(), "tok")
	require.NoError(t, err)
	assert.Equal(t, "uploads/tok__a.txt", rec.StoredPath)
	assert.Equal(t, "$2a$10$hash", rec.PasswordHash)
	require.NotNil(t, rec.ExpiresAt)
	assert.True(t, exp.Equal(*rec.ExpiresAt))
	assert.Equal(t, int64(42), rec.SizeBytes)
	assert.True(t, rec.Protected())
}

func TestPostgresRepository_GetNullables(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery(`SELECT (.+) FROM transfers`).
		WithArgs("tok").
		WillReturnRows(sqlmock.NewRows(recordColumns).
			AddRow("tok", "k", "a", nil, nil, int64(1), time.Now()))

	rec, err := repo.Get(context.Background(), "tok")
	require.NoError(t, err)
	assert.Nil(t, rec.ExpiresAt)
	assert.False(t, rec.Protected())
}

func TestPostgresRepository_GetMissing(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery(`SELECT (.+) FROM transfers`).
		WithArgs("nope").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.Get(context.Background(), "nope")
	assert.True(t, IsKind(err, KindNotFound))
}

func TestPostgresRepository_GetBackendError(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery(`SELECT (.+) FROM transfers`).
		WillReturnError(errors.New("connection reset"))

	_, err := repo.Get(context.Background(), "tok")
	assert.True(t, IsKind(err, KindBackend))
	assert.Equal(t, "internal error", PublicMessage(err))
}

func TestPostgresRepository_DeleteIsIdempotent(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectExec(`DELETE FROM transfers WHERE token = \$1`).
		WithArgs("tok").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM transfers WHERE token = \$1`).
		WithArgs("tok").
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, repo.Delete(context.Background(), "tok"))
	require.NoError(t, repo.Delete(context.Background(), "tok"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepository_ListExpiringSkipsUnreadableRows(t *testing.T) {
	repo, mock := newMockRepo(t)
	exp := time.Now().Add(-time.Hour)

	mock.ExpectQuery(`SELECT token, stored_path, expires_at\s+FROM transfers\s+WHERE expires_at IS NOT NULL`).
		WillReturnRows(sqlmock.NewRows([]string{"token", "stored_path", "expires_at"}).
			AddRow("good", "uploads/good__a", exp).
			AddRow("bad", "uploads/bad__a", "not-a-timestamp").
			AddRow("also-good", "uploads/also-good__a", exp.Add(time.Minute)))

	recs, err := repo.ListExpiring(context.Background())
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "good", recs[0].Token)
	assert.Equal(t, "also-good", recs[1].Token)
}

func TestPostgresRepository_ListExpiringQueryError(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery(`SELECT token`).WillReturnError(errors.New("db down"))

	_, err := repo.ListExpiring(context.Background())
	assert.True(t, IsKind(err, KindBackend))
}
