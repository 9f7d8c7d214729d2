package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/iliyamo/parking-orchestrator/internal/model"
)

// LevelRepo provides methods to create and read parking levels together
// with their spots.
type LevelRepo struct {
	db *sql.DB
}

// NewLevelRepo constructs a LevelRepo with the given DB handle.
func NewLevelRepo(db *sql.DB) *LevelRepo { return &LevelRepo{db: db} }

// Create inserts a level and all of its spots in one transaction.  On
// success lv.ID, lv.CreatedAt and every spot's ID and LevelID are set.
// Spots are always created free.  A level number that already exists
// yields ErrConflict.
func (r *LevelRepo) Create(ctx context.Context, lv *model.Level) error {
	for _, sp := range lv.Spots {
		if !model.ValidSpotType(sp.SpotType) {
			return fmt.Errorf("invalid spot type %q", sp.SpotType)
		}
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, `INSERT INTO parking_levels (level_number) VALUES (?)`, lv.LevelNumber)
	if err != nil {
		if isDuplicate(err) {
			return ErrConflict
		}
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	lv.ID = uint64(id)

	// one insert per spot so every spot learns its own id
	for i := range lv.Spots {
		sp := &lv.Spots[i]
		res, err := tx.ExecContext(ctx,
			`INSERT INTO parking_spots (level_id, spot_type, is_accessible, is_occupied) VALUES (?, ?, ?, FALSE)`,
			lv.ID, sp.SpotType, sp.Accessible)
		if err != nil {
			return err
		}
		sid, err := res.LastInsertId()
		if err != nil {
			return err
		}
		sp.ID = uint64(sid)
		sp.LevelID = lv.ID
		sp.Occupied = false
	}

	if err := tx.QueryRowContext(ctx, `SELECT created_at FROM parking_levels WHERE id = ?`, lv.ID).Scan(&lv.CreatedAt); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

// GetByID returns a level without its spots.  It returns ErrLevelNotFound
// when no row matches.
func (r *LevelRepo) GetByID(ctx context.Context, id uint64) (*model.Level, error) {
	var lv model.Level
	err := r.db.QueryRowContext(ctx, `SELECT id, level_number, created_at FROM parking_levels WHERE id = ?`, id).
		Scan(&lv.ID, &lv.LevelNumber, &lv.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrLevelNotFound
		}
		return nil, err
	}
	return &lv, nil
}

// List returns every level ordered by level number, each with its spots.
func (r *LevelRepo) List(ctx context.Context) ([]model.Level, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, level_number, created_at FROM parking_levels ORDER BY level_number`)
	if err != nil {
		return nil, err
	}
	var levels []model.Level
	index := make(map[uint64]int)
	for rows.Next() {
		var lv model.Level
		if err := rows.Scan(&lv.ID, &lv.LevelNumber, &lv.CreatedAt); err != nil {
			rows.Close()
			return nil, err
		}
		index[lv.ID] = len(levels)
		levels = append(levels, lv)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if len(levels) == 0 {
		return []model.Level{}, nil
	}

	spotRows, err := r.db.QueryContext(ctx, `SELECT `+spotColumns+` FROM parking_spots ORDER BY level_id, id`)
	if err != nil {
		return nil, err
	}
	spots, err := collectSpots(spotRows)
	if err != nil {
		return nil, err
	}
	for _, sp := range spots {
		if i, ok := index[sp.LevelID]; ok {
			levels[i].Spots = append(levels[i].Spots, sp)
		}
	}
	return levels, nil
}
