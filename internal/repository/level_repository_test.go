package repository

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/parking-orchestrator/internal/model"
)

func TestLevelRepo_CreateInsertsLevelAndSpots(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO parking_levels \(level_number\) VALUES \(\?\)`).WithArgs(3).WillReturnResult(sqlmock.NewResult(7, 1))
	mock.ExpectExec(`INSERT INTO parking_spots`).WithArgs(uint64(7), "SMALL", true).WillReturnResult(sqlmock.NewResult(70, 1))
	mock.ExpectExec(`INSERT INTO parking_spots`).WithArgs(uint64(7), "LARGE", false).WillReturnResult(sqlmock.NewResult(71, 1))
	mock.ExpectQuery(`SELECT created_at FROM parking_levels WHERE id = \?`).WithArgs(uint64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(created))
	mock.ExpectCommit()

	lv := &model.Level{LevelNumber: 3, Spots: []model.Spot{
		{SpotType: model.SpotSmall, Accessible: true},
		{SpotType: model.SpotLarge, Occupied: true},
	}}
	require.NoError(t, NewLevelRepo(db).Create(context.Background(), lv))
	assert.Equal(t, uint64(7), lv.ID)
	assert.Equal(t, created, lv.CreatedAt)
	assert.Equal(t, uint64(70), lv.Spots[0].ID)
	assert.Equal(t, uint64(71), lv.Spots[1].ID)
	assert.Equal(t, uint64(7), lv.Spots[1].LevelID)
	assert.False(t, lv.Spots[1].Occupied, "new spots start free")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLevelRepo_CreateDuplicateLevelNumber(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO parking_levels`).WithArgs(1).
		WillReturnError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry '1' for key 'uq_level_number'"})
	mock.ExpectRollback()

	err = NewLevelRepo(db).Create(context.Background(), &model.Level{LevelNumber: 1})
	assert.ErrorIs(t, err, ErrConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLevelRepo_CreateRejectsUnknownSpotType(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	err = NewLevelRepo(db).Create(context.Background(), &model.Level{LevelNumber: 1, Spots: []model.Spot{{SpotType: "HUGE"}}})
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLevelRepo_ListGroupsSpots(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Now().UTC()
	mock.ExpectQuery(`SELECT id, level_number, created_at FROM parking_levels ORDER BY level_number`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "level_number", "created_at"}).
			AddRow(1, 0, now).
			AddRow(2, 1, now))
	mock.ExpectQuery(`SELECT .* FROM parking_spots ORDER BY level_id, id`).
		WillReturnRows(sqlmock.NewRows(spotCols).
			AddRow(1, 1, "SMALL", false, true).
			AddRow(2, 1, "SMALL", true, false).
			AddRow(3, 2, "LARGE", false, false))

	levels, err := NewLevelRepo(db).List(context.Background())
	require.NoError(t, err)
	require.Len(t, levels, 2)
	assert.Len(t, levels[0].Spots, 2)
	assert.Len(t, levels[1].Spots, 1)
	assert.True(t, levels[0].Spots[0].Occupied)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLevelRepo_GetByIDNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`SELECT id, level_number, created_at FROM parking_levels WHERE id = \?`).WithArgs(uint64(9)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "level_number", "created_at"}))

	_, err = NewLevelRepo(db).GetByID(context.Background(), 9)
	assert.ErrorIs(t, err, ErrLevelNotFound)
}
