package model

// Spot categories.  They mirror the spot_type column.
const (
	SpotSmall  = "SMALL"
	SpotMedium = "MEDIUM"
	SpotLarge  = "LARGE"
)

// Spot describes a single physical parking space on a level.  Occupancy
// is only ever flipped by the spot ledger while it holds an exclusive
// lock on the row.
//
// Fields:
//
//	ID         – primary key identifier.
//	LevelID    – level to which this spot belongs.
//	SpotType   – size class (SMALL, MEDIUM, LARGE).
//	Accessible – reserved for vehicles that need an accessible spot.
//	Occupied   – whether a vehicle currently holds the spot.
type Spot struct {
	ID         uint64 `json:"id"`         // parking_spots.id
	LevelID    uint64 `json:"level_id"`   // parking_spots.level_id
	SpotType   string `json:"spot_type"`  // parking_spots.spot_type
	Accessible bool   `json:"accessible"` // parking_spots.is_accessible
	Occupied   bool   `json:"occupied"`   // parking_spots.is_occupied
}

// ValidSpotType reports whether t is one of the known spot categories.
func ValidSpotType(t string) bool {
	switch t {
	case SpotSmall, SpotMedium, SpotLarge:
		return true
	}
	return false
}
