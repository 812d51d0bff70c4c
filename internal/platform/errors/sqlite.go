package errors

// SQLite helpers for the embedded store (modernc.org/sqlite)

import (
	"context"
	stderrs "errors"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// ExtractSQLiteError returns (*sqlite.Error, true) if err wraps a driver error
func ExtractSQLiteError(err error) (*sqlite.Error, bool) {
	var se *sqlite.Error
	if stderrs.As(err, &se) {
		return se, true
	}
	return nil, false
}

// sqliteCodes returns the extended and primary result codes
func sqliteCodes(err error) (ext, primary int, ok bool) {
	se, ok := ExtractSQLiteError(err)
	if !ok {
		return 0, 0, false
	}
	ext = se.Code()
	return ext, ext & 0xff, true
}

func isSQLiteUnique(err error) bool {
	ext, _, ok := sqliteCodes(err)
	return ok && (ext == sqlite3.SQLITE_CONSTRAINT_UNIQUE || ext == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY)
}

func isSQLiteForeignKey(err error) bool {
	ext, _, ok := sqliteCodes(err)
	return ok && ext == sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY
}

// SQLiteErrorCode maps a SQLite error to an ErrorCode; !ok means err wasn't a sqlite.Error
func SQLiteErrorCode(err error) (ErrorCode, bool) {
	ext, primary, ok := sqliteCodes(err)
	if !ok {
		return ErrorCodeUnknown, false
	}
	switch ext {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return ErrorCodeDuplicateKey, true
	case sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY:
		return ErrorCodeInvalidArgument, true
	case sqlite3.SQLITE_CONSTRAINT_NOTNULL, sqlite3.SQLITE_CONSTRAINT_CHECK:
		return ErrorCodeValidation, true
	}
	switch primary {
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
		return ErrorCodeUnavailable, true
	case sqlite3.SQLITE_READONLY, sqlite3.SQLITE_CANTOPEN, sqlite3.SQLITE_FULL:
		return ErrorCodeResource, true
	}
	return ErrorCodeDB, true
}

// IsSQLiteRetryable reports SQLITE_BUSY and SQLITE_LOCKED
func IsSQLiteRetryable(err error) bool {
	if err == nil || stderrs.Is(err, context.Canceled) || stderrs.Is(err, context.DeadlineExceeded) {
		return false
	}
	_, primary, ok := sqliteCodes(err)
	return ok && (primary == sqlite3.SQLITE_BUSY || primary == sqlite3.SQLITE_LOCKED)
}
