// Package repository holds the SQL-backed stores for users and refresh
// tokens. The same statements run on MySQL and SQLite; both use `?`
// placeholders and store timestamps as unix milliseconds.
//
// The sentinel errors below let the service layer tell apart the
// failure cases without inspecting driver errors.
package repository

import (
	"errors"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

var (
	// ErrEmailExists is returned by UserRepo.Create on a duplicate email.
	ErrEmailExists = errors.New("email already exists")
	// ErrUserNotFound is returned when no user matches the lookup.
	ErrUserNotFound = errors.New("user not found")

	// ErrTokenNotFound means no refresh token record has the digest.
	ErrTokenNotFound = errors.New("refresh token not found")
	// ErrTokenRevoked means the record was already revoked, including the
	// case where a concurrent rotation revoked it first.
	ErrTokenRevoked = errors.New("refresh token already revoked")
	// ErrTokenExpired means the stored expiry has passed.
	ErrTokenExpired = errors.New("refresh token expired")
)

const mysqlDuplicateEntry = 1062

// isUniqueViolation recognises duplicate-key errors from both drivers.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == mysqlDuplicateEntry
	}
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}
