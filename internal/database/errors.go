package database

import (
	"errors"
	"strings"

	"github.com/mattn/go-sqlite3"
)

var (
	// ErrStorageUnavailable means the database file cannot be opened or its
	// schema cannot be brought to the current version.
	ErrStorageUnavailable = errors.New("storage unavailable")
	// ErrStorageBlocked means another session holds the database lock. The
	// caller may retry once the other session is closed.
	ErrStorageBlocked = errors.New("storage blocked by another session")
	// ErrVersionChanged is returned when another session upgraded the schema
	// under an open handle. The handle has been closed and must be reopened.
	ErrVersionChanged = errors.New("schema version changed by another session")

	ErrSpaceNotInScope = errors.New("record space not declared for this transaction")
	ErrReadOnly        = errors.New("write attempted in read-only transaction")
	ErrUnknownSpace    = errors.New("unknown record space")
	ErrUnknownIndex    = errors.New("unknown index")
)

// isBusy reports whether err is SQLite telling us the file is locked.
func isBusy(err error) bool {
	if err == nil {
		return false
	}
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "database table is locked")
}

func isCantOpen(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.Code == sqlite3.ErrCantOpen || se.Code == sqlite3.ErrPerm || se.Code == sqlite3.ErrReadonly
	}
	return strings.Contains(strings.ToLower(err.Error()), "unable to open database")
}
