package database

import (
	"errors"

	"github.com/lib/pq"
)

// Store errors. Callers match them with errors.Is; the service layer
// translates them into its own error taxonomy.
var (
	// ErrNotFound indicates the requested row does not exist (or is not
	// visible to the requesting owner).
	ErrNotFound = errors.New("record not found")

	// ErrDuplicate indicates a uniqueness constraint rejected the write,
	// e.g. a second open session for the same owner.
	ErrDuplicate = errors.New("duplicate record")

	// ErrReferenced indicates the row is still referenced by an open
	// session and cannot be removed.
	ErrReferenced = errors.New("record is referenced by an open session")
)

// PostgreSQL error codes we react to.
const (
	uniqueViolation pq.ErrorCode = "23505"
	checkViolation  pq.ErrorCode = "23514"
)

func isPQCode(err error, code pq.ErrorCode) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == code
}
