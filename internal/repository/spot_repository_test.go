package repository

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/parking-orchestrator/internal/ledger"
)

const (
	lockFreeSpots = `SELECT .* FROM parking_spots\s+WHERE level_id = \? AND is_accessible = \? AND is_occupied = FALSE\s+ORDER BY id\s+FOR UPDATE`
	lockSpotByID  = `SELECT .* FROM parking_spots WHERE id = \? FOR UPDATE`
	updateSpot    = `UPDATE parking_spots SET is_occupied = \? WHERE id = \?`
)

var spotCols = []string{"id", "level_id", "spot_type", "is_accessible", "is_occupied"}

func newMock(t *testing.T) (sqlmock.Sqlmock, func() *SpotRepo) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return mock, func() *SpotRepo { return NewSpotRepo(db) }
}

func TestSpotRepo_AllocateLocksAndPicksLowestID(t *testing.T) {
	mock, repo := newMock(t)
	mock.ExpectBegin()
	mock.ExpectQuery(lockFreeSpots).
		WithArgs(uint64(2), true).
		WillReturnRows(sqlmock.NewRows(spotCols).
			AddRow(3, 2, "SMALL", true, false).
			AddRow(5, 2, "LARGE", true, false))
	mock.ExpectExec(updateSpot).WithArgs(true, uint64(3)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	sp, err := ledger.New(repo(), nil).AllocateSpot(context.Background(), 2, true)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), sp.ID)
	assert.True(t, sp.Occupied)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSpotRepo_AllocateNothingFreeRollsBack(t *testing.T) {
	mock, repo := newMock(t)
	mock.ExpectBegin()
	mock.ExpectQuery(lockFreeSpots).WithArgs(uint64(2), false).WillReturnRows(sqlmock.NewRows(spotCols))
	mock.ExpectRollback()

	_, err := ledger.New(repo(), nil).AllocateSpot(context.Background(), 2, false)
	assert.ErrorIs(t, err, ledger.ErrNoSpotAvailable)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSpotRepo_ReleaseFreeSpotDoesNotWrite(t *testing.T) {
	mock, repo := newMock(t)
	mock.ExpectBegin()
	mock.ExpectQuery(lockSpotByID).WithArgs(uint64(9)).
		WillReturnRows(sqlmock.NewRows(spotCols).AddRow(9, 1, "MEDIUM", false, false))
	mock.ExpectRollback()

	err := ledger.New(repo(), nil).ReleaseSpot(context.Background(), 9)
	assert.ErrorIs(t, err, ledger.ErrAlreadyFree)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSpotRepo_ReleaseOccupiedSpot(t *testing.T) {
	mock, repo := newMock(t)
	mock.ExpectBegin()
	mock.ExpectQuery(lockSpotByID).WithArgs(uint64(9)).
		WillReturnRows(sqlmock.NewRows(spotCols).AddRow(9, 1, "MEDIUM", false, true))
	mock.ExpectExec(updateSpot).WithArgs(false, uint64(9)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, ledger.New(repo(), nil).ReleaseSpot(context.Background(), 9))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSpotRepo_ReleaseUnknownSpot(t *testing.T) {
	mock, repo := newMock(t)
	mock.ExpectBegin()
	mock.ExpectQuery(lockSpotByID).WithArgs(uint64(404)).WillReturnRows(sqlmock.NewRows(spotCols))
	mock.ExpectRollback()

	err := ledger.New(repo(), nil).ReleaseSpot(context.Background(), 404)
	assert.ErrorIs(t, err, ledger.ErrSpotNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSpotRepo_ListAvailableFiltersAccessibility(t *testing.T) {
	mock, repo := newMock(t)
	mock.ExpectQuery(`SELECT .* FROM parking_spots WHERE level_id = \? AND is_occupied = FALSE AND is_accessible = \? ORDER BY id`).
		WithArgs(uint64(1), false).
		WillReturnRows(sqlmock.NewRows(spotCols).AddRow(1, 1, "SMALL", false, false))

	no := false
	spots, err := repo().ListAvailable(context.Background(), 1, &no)
	require.NoError(t, err)
	require.Len(t, spots, 1)
	assert.Equal(t, "SMALL", spots[0].SpotType)

	mock.ExpectQuery(`SELECT .* FROM parking_spots WHERE level_id = \? AND is_occupied = FALSE ORDER BY id`).
		WithArgs(uint64(1)).
		WillReturnRows(sqlmock.NewRows(spotCols))
	spots, err = repo().ListAvailable(context.Background(), 1, nil)
	require.NoError(t, err)
	assert.Empty(t, spots)
	assert.NoError(t, mock.ExpectationsWereMet())
}
