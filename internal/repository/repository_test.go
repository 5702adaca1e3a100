package repository

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ismayilysfli/orders-invoice-erp/internal/database"
	"github.com/ismayilysfli/orders-invoice-erp/internal/model"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, database.Migrate(context.Background(), db, database.DriverSQLite))
	return db
}

func createUser(t *testing.T, users *UserRepo, email string) uint64 {
	t.Helper()
	id, err := users.Create(context.Background(), NewUser{
		Email: email, FullName: "Test User", PasswordHash: "$2a$hash", Role: model.RoleUser,
	}, t0)
	require.NoError(t, err)
	return id
}

func TestUserRepo_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	users := NewUserRepo(openTestDB(t))

	id, err := users.Create(ctx, NewUser{
		Email: "  Alice@Example.com ", FullName: " Alice ", PasswordHash: "$2a$hash", Role: model.RoleUser,
	}, t0)
	require.NoError(t, err)
	assert.NotZero(t, id)

	u, err := users.GetByEmail(ctx, "ALICE@example.com")
	require.NoError(t, err)
	assert.Equal(t, id, u.ID)
	assert.Equal(t, "alice@example.com", u.Email)
	assert.Equal(t, "Alice", u.FullName)
	assert.Equal(t, model.RoleUser, u.Role)
	assert.True(t, u.IsActive)
	assert.Equal(t, t0, u.CreatedAt)

	byID, err := users.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, u, byID)

	exists, err := users.ExistsByEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = users.ExistsByEmail(ctx, "bob@example.com")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestUserRepo_DuplicateEmail(t *testing.T) {
	ctx := context.Background()
	users := NewUserRepo(openTestDB(t))
	createUser(t, users, "alice@example.com")

	_, err := users.Create(ctx, NewUser{Email: "ALICE@example.com", PasswordHash: "x", Role: model.RoleUser}, t0)
	assert.ErrorIs(t, err, ErrEmailExists)
}

func TestUserRepo_NotFound(t *testing.T) {
	users := NewUserRepo(openTestDB(t))

	_, err := users.GetByEmail(context.Background(), "ghost@example.com")
	assert.ErrorIs(t, err, ErrUserNotFound)
	_, err = users.GetByID(context.Background(), 999)
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestTokenRepo_SaveFindRevoke(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	uid := createUser(t, NewUserRepo(db), "alice@example.com")
	tokens := NewTokenRepo(db)

	id, err := tokens.Save(ctx, uid, "digest-1", t0, t0.Add(time.Hour))
	require.NoError(t, err)

	rec, err := tokens.FindByDigest(ctx, "digest-1")
	require.NoError(t, err)
	assert.Equal(t, id, rec.ID)
	assert.Equal(t, uid, rec.UserID)
	assert.False(t, rec.Revoked)
	assert.Nil(t, rec.RevokedAt)
	assert.Equal(t, t0.Add(time.Hour), rec.ExpiresAt)

	require.NoError(t, tokens.Revoke(ctx, id, t0.Add(time.Minute)))
	require.NoError(t, tokens.Revoke(ctx, id, t0.Add(2*time.Minute)), "idempotent")

	rec, err = tokens.FindByDigest(ctx, "digest-1")
	require.NoError(t, err)
	assert.True(t, rec.Revoked)
	require.NotNil(t, rec.RevokedAt)
	assert.Equal(t, t0.Add(time.Minute), *rec.RevokedAt)

	assert.ErrorIs(t, tokens.Revoke(ctx, 12345, t0), ErrTokenNotFound)

	_, err = tokens.FindByDigest(ctx, "missing")
	assert.ErrorIs(t, err, ErrTokenNotFound)
}

func TestTokenRepo_DigestIsUnique(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	uid := createUser(t, NewUserRepo(db), "alice@example.com")
	tokens := NewTokenRepo(db)

	_, err := tokens.Save(ctx, uid, "same", t0, t0.Add(time.Hour))
	require.NoError(t, err)
	_, err = tokens.Save(ctx, uid, "same", t0, t0.Add(time.Hour))
	require.Error(t, err)
	assert.True(t, isUniqueViolation(err))
}

func TestTokenRepo_Rotate(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	uid := createUser(t, NewUserRepo(db), "alice@example.com")
	tokens := NewTokenRepo(db)

	oldID, err := tokens.Save(ctx, uid, "old", t0, t0.Add(time.Hour))
	require.NoError(t, err)

	now := t0.Add(10 * time.Minute)
	next, err := tokens.Rotate(ctx, "old", now, NewRefreshToken{
		TokenHash: "new", CreatedAt: now, ExpiresAt: now.Add(time.Hour),
	})
	require.NoError(t, err)
	assert.Equal(t, uid, next.UserID)
	assert.Equal(t, "new", next.TokenHash)
	assert.NotEqual(t, oldID, next.ID)

	old, err := tokens.FindByDigest(ctx, "old")
	require.NoError(t, err)
	assert.True(t, old.Revoked)
	require.NotNil(t, old.ReplacedBy)
	assert.Equal(t, next.ID, *old.ReplacedBy)

	stored, err := tokens.FindByDigest(ctx, "new")
	require.NoError(t, err)
	assert.False(t, stored.Revoked)

	_, err = tokens.Rotate(ctx, "old", now, NewRefreshToken{TokenHash: "other", CreatedAt: now, ExpiresAt: now.Add(time.Hour)})
	assert.ErrorIs(t, err, ErrTokenRevoked)

	_, err = tokens.FindByDigest(ctx, "other")
	assert.ErrorIs(t, err, ErrTokenNotFound, "failed rotation must not insert a successor")
}

func TestTokenRepo_RotateFailures(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	uid := createUser(t, NewUserRepo(db), "alice@example.com")
	tokens := NewTokenRepo(db)

	_, err := tokens.Save(ctx, uid, "short-lived", t0, t0.Add(time.Minute))
	require.NoError(t, err)

	next := NewRefreshToken{TokenHash: "n", CreatedAt: t0, ExpiresAt: t0.Add(time.Hour)}

	_, err = tokens.Rotate(ctx, "missing", t0, next)
	assert.ErrorIs(t, err, ErrTokenNotFound)

	_, err = tokens.Rotate(ctx, "short-lived", t0.Add(time.Minute), next)
	assert.ErrorIs(t, err, ErrTokenExpired)

	rec, err := tokens.FindByDigest(ctx, "short-lived")
	require.NoError(t, err)
	assert.False(t, rec.Revoked, "expired rotation rolls back")
}

func TestTokenRepo_ConcurrentRotateHasOneWinner(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	uid := createUser(t, NewUserRepo(db), "alice@example.com")
	tokens := NewTokenRepo(db)

	_, err := tokens.Save(ctx, uid, "contested", t0, t0.Add(time.Hour))
	require.NoError(t, err)

	const racers = 8
	var (
		wg            sync.WaitGroup
		mu            sync.Mutex
		wins, revoked int
	)
	start := make(chan struct{})
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, err := tokens.Rotate(ctx, "contested", t0, NewRefreshToken{
				TokenHash: "succ-" + string(rune('a'+i)), CreatedAt: t0, ExpiresAt: t0.Add(time.Hour),
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case assert.ErrorIs(t, err, ErrTokenRevoked):
				revoked++
			}
		}(i)
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, racers-1, revoked)
}

func TestTokenRepo_RevokeAllAndSweep(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	users := NewUserRepo(db)
	alice := createUser(t, users, "alice@example.com")
	bob := createUser(t, users, "bob@example.com")
	tokens := NewTokenRepo(db)

	for _, h := range []string{"a1", "a2"} {
		_, err := tokens.Save(ctx, alice, h, t0, t0.Add(time.Hour))
		require.NoError(t, err)
	}
	_, err := tokens.Save(ctx, bob, "b1", t0, t0.Add(time.Hour))
	require.NoError(t, err)

	n, err := tokens.RevokeAllForUser(ctx, alice, t0)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = tokens.RevokeAllForUser(ctx, alice, t0)
	require.NoError(t, err)
	assert.Zero(t, n)

	swept, err := tokens.SweepStale(ctx, t0.Add(30*time.Minute))
	require.NoError(t, err)
	assert.Zero(t, swept, "not expired yet")

	swept, err = tokens.SweepStale(ctx, t0.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), swept, "only revoked rows are swept")

	_, err = tokens.FindByDigest(ctx, "b1")
	assert.NoError(t, err)
}
