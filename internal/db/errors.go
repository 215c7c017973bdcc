package db

import (
	"errors"
	"strings"

	"gorm.io/gorm"
)

// ErrBusy is returned when a write could not obtain the store's write slot
// within the configured lock timeout.
var ErrBusy = errors.New("db: store busy")

// IsDuplicateKey reports a unique-constraint violation from either driver.
func IsDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "Duplicate entry")
}

// IsBusy reports lock contention: our own write gate timing out, or
// SQLITE_BUSY / "database is locked" from the driver.
func IsBusy(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrBusy) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}
