package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ismayilysfli/orders-invoice-erp/internal/model"
)

// TokenRepo persists refresh token digests (single 'token_hash' column).
type TokenRepo struct{ DB *sql.DB }

func NewTokenRepo(db *sql.DB) *TokenRepo { return &TokenRepo{DB: db} }

// NewRefreshToken is the successor record inserted by Rotate.
type NewRefreshToken struct {
	TokenHash string
	CreatedAt time.Time
	ExpiresAt time.Time
}

const tokenColumns = "id,user_id,token_hash,created_at,expires_at,revoked,revoked_at,replaced_by"

// rowQuerier and execer are satisfied by *sql.DB and *sql.Tx.
type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Save inserts a refresh token digest row and returns its id.
func (r *TokenRepo) Save(ctx context.Context, userID uint64, tokenHash string, createdAt, expiresAt time.Time) (uint64, error) {
	return insertToken(ctx, r.DB, userID, tokenHash, createdAt, expiresAt)
}

// FindByDigest looks a record up by digest regardless of its state.
func (r *TokenRepo) FindByDigest(ctx context.Context, tokenHash string) (model.RefreshToken, error) {
	return findByDigest(ctx, r.DB, tokenHash)
}

// Revoke marks a token as revoked. Revoking an already revoked token is a
// no-op; an unknown id yields ErrTokenNotFound.
func (r *TokenRepo) Revoke(ctx context.Context, id uint64, at time.Time) error {
	res, err := r.DB.ExecContext(ctx,
		"UPDATE refresh_tokens SET revoked=1, revoked_at=? WHERE id=? AND revoked=0",
		toMillis(at), id)
	if err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	var one int
	err = r.DB.QueryRowContext(ctx, "SELECT 1 FROM refresh_tokens WHERE id=?", id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrTokenNotFound
	}
	if err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	return nil
}

// RevokeAllForUser revokes all user's active tokens and reports how many
// were flipped.
func (r *TokenRepo) RevokeAllForUser(ctx context.Context, userID uint64, at time.Time) (int64, error) {
	res, err := r.DB.ExecContext(ctx,
		"UPDATE refresh_tokens SET revoked=1, revoked_at=? WHERE user_id=? AND revoked=0",
		toMillis(at), userID)
	if err != nil {
		return 0, fmt.Errorf("revoke user tokens: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("revoke user tokens: %w", err)
	}
	return n, nil
}

// Rotate consumes the record identified by oldHash and inserts its
// successor in one transaction. The consumed row is flipped with a
// compare-and-swap on the revoked flag, so of two concurrent rotations of
// the same digest exactly one commits; the other gets ErrTokenRevoked.
func (r *TokenRepo) Rotate(ctx context.Context, oldHash string, now time.Time, next NewRefreshToken) (model.RefreshToken, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return model.RefreshToken{}, fmt.Errorf("begin rotate: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	old, err := findByDigest(ctx, tx, oldHash)
	if err != nil {
		return model.RefreshToken{}, err
	}
	if old.Revoked {
		return model.RefreshToken{}, ErrTokenRevoked
	}
	if !now.Before(old.ExpiresAt) {
		return model.RefreshToken{}, ErrTokenExpired
	}

	res, err := tx.ExecContext(ctx,
		"UPDATE refresh_tokens SET revoked=1, revoked_at=? WHERE id=? AND revoked=0",
		toMillis(now), old.ID)
	if err != nil {
		return model.RefreshToken{}, fmt.Errorf("revoke consumed token: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return model.RefreshToken{}, fmt.Errorf("revoke consumed token: %w", err)
	}
	if n != 1 {
		return model.RefreshToken{}, ErrTokenRevoked
	}

	nextID, err := insertToken(ctx, tx, old.UserID, next.TokenHash, next.CreatedAt, next.ExpiresAt)
	if err != nil {
		return model.RefreshToken{}, err
	}
	if _, err := tx.ExecContext(ctx,
		"UPDATE refresh_tokens SET replaced_by=? WHERE id=?", nextID, old.ID); err != nil {
		return model.RefreshToken{}, fmt.Errorf("link successor: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return model.RefreshToken{}, fmt.Errorf("commit rotate: %w", err)
	}

	return model.RefreshToken{
		ID:        nextID,
		UserID:    old.UserID,
		TokenHash: next.TokenHash,
		CreatedAt: fromMillis(toMillis(next.CreatedAt)),
		ExpiresAt: fromMillis(toMillis(next.ExpiresAt)),
	}, nil
}

// SweepStale deletes rows that are revoked and expired before cutoff.
func (r *TokenRepo) SweepStale(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.DB.ExecContext(ctx,
		"DELETE FROM refresh_tokens WHERE revoked=1 AND expires_at < ?", toMillis(cutoff))
	if err != nil {
		return 0, fmt.Errorf("sweep tokens: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sweep tokens: %w", err)
	}
	return n, nil
}

func insertToken(ctx context.Context, db execer, userID uint64, tokenHash string, createdAt, expiresAt time.Time) (uint64, error) {
	res, err := db.ExecContext(ctx,
		"INSERT INTO refresh_tokens (user_id, token_hash, created_at, expires_at, revoked) VALUES (?,?,?,?,0)",
		userID, tokenHash, toMillis(createdAt), toMillis(expiresAt))
	if err != nil {
		return 0, fmt.Errorf("insert refresh token: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("refresh token id: %w", err)
	}
	return uint64(id), nil
}

func findByDigest(ctx context.Context, q rowQuerier, tokenHash string) (model.RefreshToken, error) {
	var (
		t                model.RefreshToken
		created, expires int64
		revokedAt        sql.NullInt64
		replacedBy       sql.NullInt64
	)
	err := q.QueryRowContext(ctx,
		"SELECT "+tokenColumns+" FROM refresh_tokens WHERE token_hash=? LIMIT 1", tokenHash).
		Scan(&t.ID, &t.UserID, &t.TokenHash, &created, &expires, &t.Revoked, &revokedAt, &replacedBy)
	if errors.Is(err, sql.ErrNoRows) {
		return model.RefreshToken{}, ErrTokenNotFound
	}
	if err != nil {
		return model.RefreshToken{}, fmt.Errorf("load refresh token: %w", err)
	}
	t.CreatedAt = fromMillis(created)
	t.ExpiresAt = fromMillis(expires)
	if revokedAt.Valid {
		at := fromMillis(revokedAt.Int64)
		t.RevokedAt = &at
	}
	if replacedBy.Valid {
		id := uint64(replacedBy.Int64)
		t.ReplacedBy = &id
	}
	return t, nil
}
