package orchestrator

import (
	"time"

	"github.com/iliyamo/parking-orchestrator/internal/config"
)

// ComputeFee prices a stay: whole elapsed hours (rounded down) times the
// hourly rate, never less than the minimum charge.
func ComputeFee(entry, exit time.Time, fee config.FeeConfig) int64 {
	hours := int64(exit.Sub(entry) / time.Hour)
	if hours < 0 {
		hours = 0
	}
	amount := hours * fee.HourlyRate
	if amount < fee.MinimumCharge {
		return fee.MinimumCharge
	}
	return amount
}
