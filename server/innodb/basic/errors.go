package basic

import "github.com/pkg/errors"

// Stable error kinds (§7). Callers wrap these with errors.Wrap to attach
// operation context; errors.Cause / errors.Is still recovers the sentinel.
var (
	ErrNoSuchDatabase    = errors.New("no such database")
	ErrNoSuchTable       = errors.New("no such table")
	ErrNoSuchField       = errors.New("no such field")
	ErrNoCurrentDatabase = errors.New("no current database")

	ErrAlreadyExists = errors.New("already exists")

	ErrTypeMismatch      = errors.New("type mismatch")
	ErrNotNullViolation  = errors.New("not null violation")
	ErrVarcharTooLong    = errors.New("varchar too long")
	ErrDuplicate         = errors.New("duplicate key")
	ErrForeignMissing    = errors.New("foreign key target missing")
	ErrForeignReferenced = errors.New("row is referenced by a foreign key")

	ErrCorruptedMeta = errors.New("corrupted meta")
	ErrIOError       = errors.New("io error")

	ErrKeyNotFound  = errors.New("key not found")
	ErrPageNotFound = errors.New("page not found")
	ErrPoolExhausted = errors.New("buffer pool exhausted")
)
