package ledger

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/iliyamo/parking-orchestrator/internal/model"
)

var errTxDone = errors.New("transaction already finished")

// MemoryStore is an in-process Store with real per-row exclusive locks.
// Rows are locked in ascending id order and re-checked after the lock is
// acquired, the way a locking read behaves in InnoDB.  It is meant for
// local runs and tests; it does not coordinate across processes.
type MemoryStore struct {
	mu     sync.Mutex
	spots  map[uint64]model.Spot
	locks  map[uint64]chan struct{}
	nextID uint64
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		spots: make(map[uint64]model.Spot),
		locks: make(map[uint64]chan struct{}),
	}
}

// AddSpot inserts a spot.  A zero ID is replaced by the next free id.
func (s *MemoryStore) AddSpot(sp model.Spot) model.Spot {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sp.ID == 0 {
		s.nextID++
		sp.ID = s.nextID
	} else if sp.ID > s.nextID {
		s.nextID = sp.ID
	}
	s.spots[sp.ID] = sp
	if _, ok := s.locks[sp.ID]; !ok {
		s.locks[sp.ID] = make(chan struct{}, 1)
	}
	return sp
}

// Spot returns the committed state of a spot.
func (s *MemoryStore) Spot(id uint64) (model.Spot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sp, ok := s.spots[id]
	return sp, ok
}

// Spots returns every committed spot of a level ordered by id.
func (s *MemoryStore) Spots(levelID uint64) []model.Spot {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Spot, 0)
	for _, sp := range s.spots {
		if sp.LevelID == levelID {
			out = append(out, sp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Begin starts a transaction.
func (s *MemoryStore) Begin(ctx context.Context) (Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &memTx{store: s, held: make(map[uint64]bool), writes: make(map[uint64]bool)}, nil
}

type memTx struct {
	store  *MemoryStore
	held   map[uint64]bool
	writes map[uint64]bool
	done   bool
}

func (t *memTx) lockRow(ctx context.Context, id uint64) error {
	if t.held[id] {
		return nil
	}
	t.store.mu.Lock()
	ch, ok := t.store.locks[id]
	t.store.mu.Unlock()
	if !ok {
		return ErrSpotNotFound
	}
	select {
	case ch <- struct{}{}:
		t.held[id] = true
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// view returns the spot as this transaction sees it.
func (t *memTx) view(id uint64) (model.Spot, bool) {
	t.store.mu.Lock()
	sp, ok := t.store.spots[id]
	t.store.mu.Unlock()
	if occ, pending := t.writes[id]; pending {
		sp.Occupied = occ
	}
	return sp, ok
}

func (t *memTx) LockAvailable(ctx context.Context, levelID uint64, accessible bool) ([]model.Spot, error) {
	if t.done {
		return nil, errTxDone
	}
	match := func(sp model.Spot) bool {
		return sp.LevelID == levelID && sp.Accessible == accessible && !sp.Occupied
	}
	var ids []uint64
	t.store.mu.Lock()
	for id, sp := range t.store.spots {
		if match(sp) {
			ids = append(ids, id)
		}
	}
	t.store.mu.Unlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := make([]model.Spot, 0, len(ids))
	for _, id := range ids {
		if err := t.lockRow(ctx, id); err != nil {
			return nil, err
		}
		if sp, ok := t.view(id); ok && match(sp) {
			out = append(out, sp)
		}
	}
	return out, nil
}

func (t *memTx) LockByID(ctx context.Context, spotID uint64) (model.Spot, error) {
	if t.done {
		return model.Spot{}, errTxDone
	}
	if err := t.lockRow(ctx, spotID); err != nil {
		return model.Spot{}, err
	}
	sp, ok := t.view(spotID)
	if !ok {
		return model.Spot{}, ErrSpotNotFound
	}
	return sp, nil
}

func (t *memTx) SetOccupied(_ context.Context, spotID uint64, occupied bool) error {
	if t.done {
		return errTxDone
	}
	if !t.held[spotID] {
		return errors.New("spot row is not locked by this transaction")
	}
	t.writes[spotID] = occupied
	return nil
}

func (t *memTx) Commit() error {
	if t.done {
		return errTxDone
	}
	t.store.mu.Lock()
	for id, occ := range t.writes {
		sp := t.store.spots[id]
		sp.Occupied = occ
		t.store.spots[id] = sp
	}
	t.store.mu.Unlock()
	t.finish()
	return nil
}

func (t *memTx) Rollback() error {
	if t.done {
		return nil
	}
	t.finish()
	return nil
}

func (t *memTx) finish() {
	t.done = true
	t.store.mu.Lock()
	for id := range t.held {
		ch := t.store.locks[id]
		<-ch
	}
	t.store.mu.Unlock()
	t.held = nil
	t.writes = nil
}
