package model

import (
	"strings"
	"time"
)

// Role names stored in users.role.
const (
	RoleUser  = "USER"
	RoleAdmin = "ADMIN"
)

// User represents a row of the `users` table. Timestamps are stored as
// unix milliseconds and converted by the repository.
type User struct {
	ID           uint64    // users.id
	Email        string    // users.email (unique, lower-case)
	FullName     string    // users.full_name
	PasswordHash string    // users.password_hash (bcrypt)
	Role         string    // users.role
	IsActive     bool      // users.is_active
	CreatedAt    time.Time // users.created_at
	UpdatedAt    time.Time // users.updated_at
}

// DisplayName falls back to the email when no full name was given.
func (u User) DisplayName() string {
	if n := strings.TrimSpace(u.FullName); n != "" {
		return n
	}
	return u.Email
}

// RefreshToken models an entry in the `refresh_tokens` table. The raw
// token is never stored; only its SHA-256 hex digest.
type RefreshToken struct {
	ID         uint64     // refresh_tokens.id
	UserID     uint64     // refresh_tokens.user_id
	TokenHash  string     // refresh_tokens.token_hash (unique)
	CreatedAt  time.Time  // refresh_tokens.created_at
	ExpiresAt  time.Time  // refresh_tokens.expires_at
	Revoked    bool       // refresh_tokens.revoked
	RevokedAt  *time.Time // refresh_tokens.revoked_at (nullable)
	ReplacedBy *uint64    // refresh_tokens.replaced_by (successor id, nullable)
}

// Usable reports whether the record can still be redeemed at now.
func (t RefreshToken) Usable(now time.Time) bool {
	return !t.Revoked && now.Before(t.ExpiresAt)
}
