package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/iliyamo/parking-orchestrator/internal/ledger"
	"github.com/iliyamo/parking-orchestrator/internal/model"
)

// MemoryLevelRepo is the level catalogue used with the in-memory spot
// store.  Spots live in the ledger's MemoryStore; this type only tracks
// the levels around them.
type MemoryLevelRepo struct {
	store *ledger.MemoryStore

	mu     sync.Mutex
	levels map[uint64]model.Level
	nextID uint64
}

// NewMemoryLevelRepo returns an empty catalogue over store.
func NewMemoryLevelRepo(store *ledger.MemoryStore) *MemoryLevelRepo {
	return &MemoryLevelRepo{store: store, levels: make(map[uint64]model.Level)}
}

// Create registers a level and adds its spots, free, to the store.
func (r *MemoryLevelRepo) Create(_ context.Context, lv *model.Level) error {
	for _, sp := range lv.Spots {
		if !model.ValidSpotType(sp.SpotType) {
			return fmt.Errorf("invalid spot type %q", sp.SpotType)
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.levels {
		if existing.LevelNumber == lv.LevelNumber {
			return ErrConflict
		}
	}
	r.nextID++
	lv.ID = r.nextID
	lv.CreatedAt = time.Now().UTC().Truncate(time.Second)
	for i := range lv.Spots {
		lv.Spots[i] = r.store.AddSpot(model.Spot{
			LevelID:    lv.ID,
			SpotType:   lv.Spots[i].SpotType,
			Accessible: lv.Spots[i].Accessible,
		})
	}
	r.levels[lv.ID] = model.Level{ID: lv.ID, LevelNumber: lv.LevelNumber, CreatedAt: lv.CreatedAt}
	return nil
}

// GetByID returns a level without its spots.
func (r *MemoryLevelRepo) GetByID(_ context.Context, id uint64) (*model.Level, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	lv, ok := r.levels[id]
	if !ok {
		return nil, ErrLevelNotFound
	}
	return &lv, nil
}

// List returns every level ordered by level number, each with its spots.
func (r *MemoryLevelRepo) List(_ context.Context) ([]model.Level, error) {
	r.mu.Lock()
	out := make([]model.Level, 0, len(r.levels))
	for _, lv := range r.levels {
		out = append(out, lv)
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].LevelNumber < out[j].LevelNumber })
	for i := range out {
		out[i].Spots = r.store.Spots(out[i].ID)
	}
	return out, nil
}

// ListAvailable returns the free spots of a level ordered by id.
func (r *MemoryLevelRepo) ListAvailable(_ context.Context, levelID uint64, accessible *bool) ([]model.Spot, error) {
	var out []model.Spot
	for _, sp := range r.store.Spots(levelID) {
		if sp.Occupied || (accessible != nil && sp.Accessible != *accessible) {
			continue
		}
		out = append(out, sp)
	}
	return out, nil
}
