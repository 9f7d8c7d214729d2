package ledger

import (
	"context"

	"github.com/iliyamo/parking-orchestrator/internal/model"
)

// Store opens transactions against the spot table.  Implementations must
// provide exclusive row locks that hold across process boundaries until
// Commit or Rollback.
type Store interface {
	Begin(ctx context.Context) (Tx, error)
}

// Tx is a single storage transaction.  Rows returned by the Lock* methods
// stay exclusively locked until the transaction ends.
type Tx interface {
	// LockAvailable locks and returns every unoccupied spot on the level
	// whose accessibility flag equals accessible, ordered by id.
	LockAvailable(ctx context.Context, levelID uint64, accessible bool) ([]model.Spot, error)
	// LockByID locks and returns a single spot.  It returns ErrSpotNotFound
	// when no such row exists.
	LockByID(ctx context.Context, spotID uint64) (model.Spot, error)
	// SetOccupied writes the occupancy flag of a previously locked spot.
	SetOccupied(ctx context.Context, spotID uint64, occupied bool) error
	Commit() error
	Rollback() error
}
