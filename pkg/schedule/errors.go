package schedule

import "errors"

// Sentinel errors for the schedule package.
// Use errors.Is to check: errors.Is(err, schedule.ErrLocked)
var (
	// ErrStoreCorrupted means the schedule file failed to parse and no
	// backup could be recovered either.
	ErrStoreCorrupted = errors.New("schedule: store corrupted")

	// ErrLocked means another process holds the schedule lock. The
	// operation is safe to retry.
	ErrLocked = errors.New("schedule: store locked by another process")

	// ErrStoreClosed is returned when operating on a closed store.
	ErrStoreClosed = errors.New("schedule: store is closed")

	// ErrBadSchema means the schedule file carries a schema version this
	// build does not understand.
	ErrBadSchema = errors.New("schedule: unsupported schema version")
)
