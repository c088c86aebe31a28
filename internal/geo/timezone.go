package geo

import (
	"fmt"

	"github.com/paulmach/orb"
	"github.com/ringsaturn/tzf"
)

// TimezoneFinder maps coordinates to an IANA zone name. It returns "" when unknown.
type TimezoneFinder interface {
	TimezoneName(p orb.Point) string
}

// TZFFinder looks zones up in the polygon data bundled with tzf.
type TZFFinder struct {
	finder tzf.F
}

// NewTZFFinder loads the default tzf dataset. Loading takes a moment, so
// construct it once at process start.
func NewTZFFinder() (*TZFFinder, error) {
	f, err := tzf.NewDefaultFinder()
	if err != nil {
		return nil, fmt.Errorf("load timezone data: %w", err)
	}
	return &TZFFinder{finder: f}, nil
}

func (t *TZFFinder) TimezoneName(p orb.Point) string {
	return t.finder.GetTimezoneName(p.Lon(), p.Lat())
}
