package model

import "time"

// Level is one floor of the parking structure.  Levels are created
// administratively together with their spots.
type Level struct {
	ID          uint64    `json:"id"`           // parking_levels.id
	LevelNumber int       `json:"level_number"` // parking_levels.level_number
	Spots       []Spot    `json:"spots,omitempty"`
	CreatedAt   time.Time `json:"created_at"` // parking_levels.created_at
}
