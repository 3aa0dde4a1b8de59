// Package records is the record store: typed per-category projections of a
// subject's profile data, monthly usage counters, and kept content.
//
// Records are addressed by owner key (see subject.Subject.OwnerKey) and
// category. The store holds no business logic of its own.
package records

import (
	"context"
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/copyd/internal/subject"
)

// Common errors.
var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrOwnerMismatch indicates an id already belongs to another owner.
	ErrOwnerMismatch = errors.New("record belongs to another owner")

	// ErrInvalidRecord indicates a payload that cannot be stored.
	ErrInvalidRecord = errors.New("invalid record")
)

// StoreError marks an infrastructure failure, as opposed to a missing
// record or invalid input. Callers use errors.As to tell the two apart.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

func storeErr(op string, err error) error {
	return &StoreError{Op: op, Err: err}
}

// IsStoreError reports whether err is an infrastructure failure.
func IsStoreError(err error) bool {
	var se *StoreError
	return errors.As(err, &se)
}

// Reader reads typed records by owner key.
type Reader interface {
	// GetRecord decodes the record into dst. found is false when no record
	// exists; that is not an error.
	GetRecord(ctx context.Context, owner string, category subject.Category, dst any) (found bool, err error)
}

// Writer upserts typed records by owner key.
type Writer interface {
	PutRecord(ctx context.Context, owner string, category subject.Category, v any) error
}

// UsageCounter maintains monthly usage counters.
type UsageCounter interface {
	// IncrementUsage atomically increments the counter for
	// (owner, category, period) if it is below ceiling and returns the new
	// count. A negative ceiling means no ceiling. When the ceiling is
	// reached, allowed is false and count is the current value.
	IncrementUsage(ctx context.Context, owner, category, period string, ceiling int) (count int, allowed bool, err error)

	// Usage returns all counters for owner in period, keyed by category.
	Usage(ctx context.Context, owner, period string) (map[string]int, error)
}

// ContentStore persists kept results.
type ContentStore interface {
	// SaveContent upserts by ID. Saving the same ID twice is idempotent.
	SaveContent(ctx context.Context, c *Content) error
	GetContent(ctx context.Context, owner, id string) (*Content, error)
}

// Store is the full record store.
type Store interface {
	Reader
	Writer
	UsageCounter
	ContentStore
	Close() error
}
