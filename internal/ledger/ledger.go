// Package ledger owns spot occupancy.  Every allocation and release is a
// single transaction: lock the candidate rows, read, flip the occupancy
// flag, write, commit.  Mutual exclusion comes from the storage engine's
// row locks so that several service instances can allocate from the same
// level concurrently.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/iliyamo/parking-orchestrator/internal/model"
)

var (
	// ErrNoSpotAvailable is returned when no free spot matches the request.
	ErrNoSpotAvailable = errors.New("no parking spot available")
	// ErrAlreadyFree is returned when releasing a spot that is not occupied.
	ErrAlreadyFree = errors.New("spot is already free")
	// ErrSpotNotFound is returned when a spot id does not exist.
	ErrSpotNotFound = errors.New("spot not found")
)

// Ledger allocates and releases spots.
type Ledger struct {
	store Store
	log   *zap.Logger
}

// New returns a Ledger backed by store.
func New(store Store, log *zap.Logger) *Ledger {
	if log == nil {
		log = zap.NewNop()
	}
	return &Ledger{store: store, log: log.Named("ledger")}
}

// AllocateSpot reserves the lowest-id free spot on levelID matching the
// accessibility requirement.
func (l *Ledger) AllocateSpot(ctx context.Context, levelID uint64, accessible bool) (model.Spot, error) {
	tx, err := l.store.Begin(ctx)
	if err != nil {
		return model.Spot{}, fmt.Errorf("begin allocation: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	candidates, err := tx.LockAvailable(ctx, levelID, accessible)
	if err != nil {
		return model.Spot{}, fmt.Errorf("lock free spots: %w", err)
	}
	if len(candidates) == 0 {
		return model.Spot{}, ErrNoSpotAvailable
	}
	spot := lowestID(candidates)
	if err := tx.SetOccupied(ctx, spot.ID, true); err != nil {
		return model.Spot{}, fmt.Errorf("occupy spot %d: %w", spot.ID, err)
	}
	if err := tx.Commit(); err != nil {
		return model.Spot{}, fmt.Errorf("commit allocation: %w", err)
	}
	committed = true
	spot.Occupied = true
	l.log.Debug("spot allocated",
		zap.Uint64("spot_id", spot.ID),
		zap.Uint64("level_id", levelID),
		zap.Bool("accessible", accessible))
	return spot, nil
}

// ReleaseSpot marks an occupied spot as free.  Releasing a free spot fails
// with ErrAlreadyFree and leaves the row untouched.
func (l *Ledger) ReleaseSpot(ctx context.Context, spotID uint64) error {
	tx, err := l.store.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin release: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	spot, err := tx.LockByID(ctx, spotID)
	if err != nil {
		return fmt.Errorf("lock spot %d: %w", spotID, err)
	}
	if !spot.Occupied {
		return ErrAlreadyFree
	}
	if err := tx.SetOccupied(ctx, spotID, false); err != nil {
		return fmt.Errorf("free spot %d: %w", spotID, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit release: %w", err)
	}
	committed = true
	l.log.Debug("spot released", zap.Uint64("spot_id", spotID))
	return nil
}

// lowestID picks the candidate with the smallest id.  Stores already
// return rows ordered by id; this keeps the choice stable regardless.
func lowestID(spots []model.Spot) model.Spot {
	best := spots[0]
	for _, s := range spots[1:] {
		if s.ID < best.ID {
			best = s
		}
	}
	return best
}
