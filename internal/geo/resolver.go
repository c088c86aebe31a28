package geo

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/paulmach/orb"

	"github.com/joseph-ayodele/flyerscan/internal/common"
	"github.com/joseph-ayodele/flyerscan/internal/entity"
)

// Match is a forward geocoding hit.
type Match struct {
	FormattedAddress string
	Point            orb.Point
	Confidence       float64
}

// Geocoder is the external geocoding capability. Forward returns (nil, nil)
// when nothing matched.
type Geocoder interface {
	Forward(ctx context.Context, query string, proximity *orb.Point) (*Match, error)
	Reverse(ctx context.Context, p orb.Point) (string, error)
}

// UserContext is optional location context supplied with an upload.
type UserContext struct {
	CityState   string
	Coordinates *orb.Point
}

// Resolver turns venue clues into a ResolvedLocation.
type Resolver struct {
	geocoder Geocoder
	tz       TimezoneFinder
	logger   *slog.Logger
	now      func() time.Time
}

func NewResolver(geocoder Geocoder, tz TimezoneFinder, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{geocoder: geocoder, tz: tz, logger: logger, now: time.Now}
}

// ResolveLocation never returns an error. Any failed step yields a
// zero-confidence result at (0,0) with timezone "UTC".
func (r *Resolver) ResolveLocation(ctx context.Context, clues []string, user *UserContext) entity.ResolvedLocation {
	now := r.now().UTC()
	if r.geocoder == nil {
		return entity.DegradedLocation(now, "geocoder not configured")
	}

	var notes []string
	label := ""
	var proximity *orb.Point
	if user != nil {
		label = strings.TrimSpace(user.CityState)
		proximity = user.Coordinates
		if label == "" && user.Coordinates != nil {
			l, err := r.geocoder.Reverse(ctx, *user.Coordinates)
			switch {
			case err != nil:
				// the label only disambiguates; carry on without it
				r.logger.Warn("geo.resolve.reverse_failed", "error", err)
				notes = append(notes, "reverse geocode failed")
			case l != "":
				label = l
			}
		}
	}

	parts := CleanClues(clues)
	if len(parts) == 0 {
		return entity.DegradedLocation(now, "", "no location clues")
	}
	query := strings.Join(parts, ", ")
	if label != "" && !strings.Contains(strings.ToLower(query), strings.ToLower(label)) {
		query += ", " + label
	}

	m, err := r.geocoder.Forward(ctx, query, proximity)
	if err != nil {
		r.logger.Warn("geo.resolve.forward_failed", "query", query,
			"error", errors.Join(common.ErrResolution, common.ErrProviderFailure, err))
		// clients only see the class; the provider detail stays in the log
		return entity.DegradedLocation(now, common.ErrResolution.Error(), append(notes, "geocoding failed")...)
	}
	if m == nil {
		r.logger.Info("geo.resolve.no_match", "query", query)
		return entity.DegradedLocation(now, "", append(notes, "no geocoding match")...)
	}

	tz := ""
	if r.tz != nil {
		tz = r.tz.TimezoneName(m.Point)
	}
	if tz == "" {
		tz = entity.DefaultTimezone
		notes = append(notes, "timezone unknown for coordinates")
	}

	r.logger.Debug("geo.resolve.ok", "query", query, "confidence", m.Confidence, "timezone", tz)
	return entity.ResolvedLocation{
		FormattedAddress: m.FormattedAddress,
		Coordinates:      m.Point,
		Confidence:       m.Confidence,
		Timezone:         tz,
		ResolvedAt:       now,
		Notes:            notes,
	}
}

// CleanClues trims, drops empties and removes case-insensitive duplicates,
// keeping the first occurrence order.
func CleanClues(clues []string) []string {
	seen := make(map[string]bool, len(clues))
	out := make([]string, 0, len(clues))
	for _, c := range clues {
		c = strings.Join(strings.Fields(c), " ")
		if c == "" {
			continue
		}
		k := strings.ToLower(c)
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, c)
	}
	return out
}
