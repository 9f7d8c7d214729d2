package repository

import (
	"context"      // context carries deadlines into every query
	"database/sql" // sql provides DB primitives
	"errors"
	"fmt"

	"github.com/iliyamo/parking-orchestrator/internal/ledger"
	"github.com/iliyamo/parking-orchestrator/internal/model"
)

// spotColumns is the column list scanned by scanSpot.
const spotColumns = `id, level_id, spot_type, is_accessible, is_occupied`

// SpotRepo is the MySQL store behind the spot ledger.  Locking reads use
// SELECT ... FOR UPDATE so that concurrent allocations on different
// service instances serialise on the InnoDB row locks.
type SpotRepo struct {
	db *sql.DB // db is the underlying connection pool
}

// NewSpotRepo constructs a SpotRepo with the given DB handle.
func NewSpotRepo(db *sql.DB) *SpotRepo { return &SpotRepo{db: db} }

// Begin starts a ledger transaction.
func (r *SpotRepo) Begin(ctx context.Context) (ledger.Tx, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &spotTx{tx: tx}, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSpot(s rowScanner) (model.Spot, error) {
	var sp model.Spot
	err := s.Scan(&sp.ID, &sp.LevelID, &sp.SpotType, &sp.Accessible, &sp.Occupied)
	return sp, err
}

func collectSpots(rows *sql.Rows) ([]model.Spot, error) {
	defer rows.Close()
	var out []model.Spot
	for rows.Next() {
		sp, err := scanSpot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sp)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// spotTx implements ledger.Tx on a *sql.Tx.
type spotTx struct {
	tx *sql.Tx
}

// LockAvailable locks every free spot of the level that matches the
// accessibility flag.  Rows come back ordered by id so that all
// allocators acquire locks in the same order.
func (t *spotTx) LockAvailable(ctx context.Context, levelID uint64, accessible bool) ([]model.Spot, error) {
	const q = `SELECT ` + spotColumns + `
               FROM parking_spots
               WHERE level_id = ? AND is_accessible = ? AND is_occupied = FALSE
               ORDER BY id
               FOR UPDATE`
	rows, err := t.tx.QueryContext(ctx, q, levelID, accessible)
	if err != nil {
		return nil, err
	}
	return collectSpots(rows)
}

// LockByID locks a single spot row.
func (t *spotTx) LockByID(ctx context.Context, spotID uint64) (model.Spot, error) {
	const q = `SELECT ` + spotColumns + ` FROM parking_spots WHERE id = ? FOR UPDATE`
	sp, err := scanSpot(t.tx.QueryRowContext(ctx, q, spotID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Spot{}, ledger.ErrSpotNotFound
		}
		return model.Spot{}, err
	}
	return sp, nil
}

// SetOccupied writes the occupancy flag of a locked row.
func (t *spotTx) SetOccupied(ctx context.Context, spotID uint64, occupied bool) error {
	res, err := t.tx.ExecContext(ctx, `UPDATE parking_spots SET is_occupied = ? WHERE id = ?`, occupied, spotID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("spot %d: %w", spotID, ledger.ErrSpotNotFound)
	}
	return nil
}

func (t *spotTx) Commit() error   { return t.tx.Commit() }
func (t *spotTx) Rollback() error { return t.tx.Rollback() }

// ListAvailable returns the free spots of a level ordered by id.  A nil
// accessible returns both kinds.  This is a plain read: the answer may be
// stale by the time a caller acts on it.
func (r *SpotRepo) ListAvailable(ctx context.Context, levelID uint64, accessible *bool) ([]model.Spot, error) {
	q := `SELECT ` + spotColumns + ` FROM parking_spots WHERE level_id = ? AND is_occupied = FALSE`
	args := []any{levelID}
	if accessible != nil {
		q += ` AND is_accessible = ?`
		args = append(args, *accessible)
	}
	q += ` ORDER BY id`
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	return collectSpots(rows)
}
