/*
repository.go - Persistence interface for challenges

PURPOSE:
  Defines the interface between the engine and durable storage. Stores
  keep challenges keyed by ID and answer the per-user lookups the engine
  needs for admission and refresh.

AT-MOST-ONE-ACTIVE:
  Create MUST reject a second active challenge for the same
  (UserID, Type) atomically, returning *DuplicateActiveError. The
  engine's precheck is only a fast path; the store constraint is what
  actually holds under concurrent joins.
  - SQLite / PostgreSQL: partial unique index WHERE status = 'active'
  - Memory: check-and-insert under one mutex

OPTIMISTIC UPDATES:
  Update writes only CurrentValue and Status, and only when the stored
  Version equals challenge.Version AND the stored row is still active.
  Otherwise it returns *ConflictError. A successful Update returns the
  challenge with Version incremented.

NO DELETE:
  Retention is an external concern. There is no Delete method.

SEE ALSO:
  - challenge/store/memory.go: In-memory implementation
  - store/sqlite/sqlite.go: SQLite implementation
  - store/postgres/postgres.go: PostgreSQL implementation
*/
package challenge

import "context"

// Repository is the durable store of challenges.
type Repository interface {
	// Create persists a new challenge. Returns *DuplicateActiveError when an
	// active challenge already exists for (UserID, Type).
	Create(ctx context.Context, c Challenge) (Challenge, error)

	// FindByID returns ErrNotFound if the challenge doesn't exist.
	FindByID(ctx context.Context, id string) (Challenge, error)

	// FindActiveByUserAndType returns ErrNotFound if there is none.
	FindActiveByUserAndType(ctx context.Context, userID string, t Type) (Challenge, error)

	// FindActiveByUser returns the user's active challenges.
	FindActiveByUser(ctx context.Context, userID string) ([]Challenge, error)

	// FindAllByUser returns every challenge the user ever joined.
	FindAllByUser(ctx context.Context, userID string) ([]Challenge, error)

	// Update writes CurrentValue and Status. Returns *ConflictError on a
	// version mismatch or when the stored challenge is already terminal.
	Update(ctx context.Context, c Challenge) (Challenge, error)
}
