package entity

import (
	"time"

	"github.com/paulmach/orb"
)

// ResolvedLocation is the geocoded outcome for a set of venue clues.
// Callers must check Confidence; a failed resolution is still a value.
type ResolvedLocation struct {
	FormattedAddress string    `json:"formattedAddress"`
	Coordinates      orb.Point `json:"coordinates"` // [lon, lat]
	Confidence       float64   `json:"confidence"`
	Timezone         string    `json:"timezone"`
	ResolvedAt       time.Time `json:"resolvedAt"`
	Notes            []string  `json:"notes,omitempty"`
	Error            string    `json:"error,omitempty"`
}

// DegradedLocation is the zero-confidence result at (0,0) / UTC.
func DegradedLocation(at time.Time, errMsg string, notes ...string) ResolvedLocation {
	return ResolvedLocation{
		Coordinates: orb.Point{0, 0},
		Confidence:  0,
		Timezone:    DefaultTimezone,
		ResolvedAt:  at,
		Notes:       notes,
		Error:       errMsg,
	}
}
