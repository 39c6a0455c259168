package token

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when no record matches the id or hash.
	ErrNotFound = errors.New("token record not found")
	// ErrConflict is returned when a conditional write observes a different version.
	ErrConflict = errors.New("token record version conflict")
	// ErrDuplicate is returned when a record with the same id or hash already exists.
	ErrDuplicate = errors.New("token record already exists")
	// ErrFamilyRevoked is returned by Create when the record's family was revoked.
	ErrFamilyRevoked = errors.New("token family revoked")
	// ErrStoreUnavailable wraps backend failures.
	ErrStoreUnavailable = errors.New("token store unavailable")
)

// Pinger is implemented by stores that can report their own availability.
type Pinger interface {
	Ping(ctx context.Context) (time.Duration, error)
}

// Store persists refresh token records. Every mutation is conditioned on the
// version the caller last observed; implementations never overwrite blindly.
type Store interface {
	// Create inserts a new record. It fails with ErrDuplicate when the id or
	// hash is taken and with ErrFamilyRevoked when the family is marked revoked.
	Create(ctx context.Context, r Record) error

	GetByID(ctx context.Context, id string) (Record, error)
	GetByHash(ctx context.Context, tokenHash string) (Record, error)

	// ListByFamily and ListByUser return records ordered by id.
	ListByFamily(ctx context.Context, family string) ([]Record, error)
	ListByUser(ctx context.Context, userID string) ([]Record, error)

	// CompareAndSwap replaces the stored record with next when the stored
	// version equals expectedVersion. next.Version must be expectedVersion+1.
	CompareAndSwap(ctx context.Context, next Record, expectedVersion int64) error

	// Delete removes the record when its stored version equals expectedVersion.
	Delete(ctx context.Context, id string, expectedVersion int64) error

	// Scan pages through every record. An empty cursor starts a scan; an empty
	// returned cursor ends it.
	Scan(ctx context.Context, cursor string, count int) ([]Record, string, error)

	// MarkFamilyRevoked makes later Create calls for family fail.
	MarkFamilyRevoked(ctx context.Context, family string, at time.Time) error

	// PruneFamilyMarkers drops revocation markers set before the cutoff and
	// returns how many were removed.
	PruneFamilyMarkers(ctx context.Context, before time.Time) (int, error)
}
