package transfer

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

// Repository persists transfer records. Every mutation touches a single row.
type Repository interface {
	Insert(ctx context.Context, rec Record) error
	Get(ctx context.Context, token string) (Record, error)
	// Delete removes the row for token. A missing row is not an error.
	Delete(ctx context.Context, token string) error
	// ListExpiring returns every record that has an expiry, oldest first.
	ListExpiring(ctx context.Context) ([]Record, error)
	Ping(ctx context.Context) error
}

const uniqueViolation = "23505"

type PostgresRepository struct {
	db  *sql.DB
	log *zap.Logger
}

func NewPostgresRepository(db *sql.DB, log *zap.Logger) *PostgresRepository {
	return &PostgresRepository{db: db, log: log}
}

func (r *PostgresRepository) Insert(ctx context.Context, rec Record) error {
	var hash sql.NullString
	if rec.PasswordHash != "" {
		hash = sql.NullString{String: rec.PasswordHash, Valid: true}
	}
	var expires sql.NullTime
	if rec.ExpiresAt != nil {
		expires = sql.NullTime{Time: rec.ExpiresAt.UTC(), Valid: true}
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO transfers (token, stored_path, original_name, password_hash, expires_at, size_bytes, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		rec.Token, rec.StoredPath, rec.OriginalName, hash, expires, rec.SizeBytes, rec.CreatedAt.UTC(),
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return Backend("token already in use", err)
		}
		return Backend("insert transfer", err)
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, token string) (Record, error) {
	var (
		rec     Record
		hash    sql.NullString
		expires sql.NullTime
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT token, stored_path, original_name, password_hash, expires_at, size_bytes, created_at
		 FROM transfers
		 WHERE token = $1`,
		token,
	).Scan(&rec.Token, &rec.StoredPath, &rec.OriginalName, &hash, &expires, &rec.SizeBytes, &rec.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, NotFound()
		}
		return Record{}, Backend("load transfer", err)
	}
	rec.PasswordHash = hash.String
	if expires.Valid {
		t := expires.Time.UTC()
		rec.ExpiresAt = &t
	}
	return rec, nil
}

func (r *PostgresRepository) Delete(ctx context.Context, token string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM transfers WHERE token = $1`, token); err != nil {
		return Backend("delete transfer", err)
	}
	return nil
}

// ListExpiring skips rows whose expiry cannot be decoded. Those rows are
// logged and left alone rather than deleted on a guess.
func (r *PostgresRepository) ListExpiring(ctx context.Context) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT token, stored_path, expires_at
		FROM transfers
		WHERE expires_at IS NOT NULL
		ORDER BY expires_at ASC
	`)
	if err != nil {
		return nil, Backend("list expiring transfers", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Record
	for rows.Next() {
		var (
			rec     Record
			expires sql.NullTime
		)
		if err := rows.Scan(&rec.Token, &rec.StoredPath, &expires); err != nil {
			r.log.Warn("skipping transfer with unreadable expiry",
				zap.String("token", rec.Token), zap.Error(err))
			continue
		}
		if !expires.Valid {
			continue
		}
		t := expires.Time.UTC()
		rec.ExpiresAt = &t
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, Backend("list expiring transfers", err)
	}
	return out, nil
}

func (r *PostgresRepository) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}
	return nil
}
