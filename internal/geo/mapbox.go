package geo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/orb"
)

// MapboxConfig configures the Mapbox Search v6 geocoder.
type MapboxConfig struct {
	BaseURL string // default https://api.mapbox.com
	Token   string
	Country string // optional ISO 3166 alpha-2 filter
	Timeout time.Duration
}

// MapboxGeocoder implements Geocoder with the Mapbox Search v6 API.
type MapboxGeocoder struct {
	cfg    MapboxConfig
	client *http.Client
	logger *slog.Logger
}

var _ Geocoder = (*MapboxGeocoder)(nil)

func NewMapboxGeocoder(cfg MapboxConfig, logger *slog.Logger) *MapboxGeocoder {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = "https://api.mapbox.com"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &MapboxGeocoder{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}, logger: logger}
}

type mapboxResponse struct {
	Features []struct {
		Geometry struct {
			Coordinates []float64 `json:"coordinates"`
		} `json:"geometry"`
		Properties struct {
			Name           string `json:"name"`
			FullPlaceName  string `json:"full_place_name"`
			PlaceFormatted string `json:"place_formatted"`
			MatchCode      struct {
				Confidence string `json:"confidence"`
			} `json:"match_code"`
			Context struct {
				Place struct {
					Name string `json:"name"`
				} `json:"place"`
				Locality struct {
					Name string `json:"name"`
				} `json:"locality"`
				Region struct {
					Name       string `json:"name"`
					RegionCode string `json:"region_code"`
				} `json:"region"`
			} `json:"context"`
		} `json:"properties"`
	} `json:"features"`
}

// Forward geocodes query, biased toward proximity when given.
func (g *MapboxGeocoder) Forward(ctx context.Context, query string, proximity *orb.Point) (*Match, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, errors.New("empty query")
	}
	form := url.Values{}
	form.Set("q", query)
	form.Set("limit", "1")
	form.Set("autocomplete", "false")
	if g.cfg.Country != "" {
		form.Set("country", g.cfg.Country)
	}
	if proximity != nil {
		form.Set("proximity", fmt.Sprintf("%f,%f", proximity.Lon(), proximity.Lat()))
	}

	decoded, err := g.get(ctx, "/search/geocode/v6/forward", form)
	if err != nil {
		return nil, err
	}
	if len(decoded.Features) == 0 {
		return nil, nil
	}
	feat := decoded.Features[0]
	if len(feat.Geometry.Coordinates) < 2 {
		return nil, nil
	}
	addr := strings.TrimSpace(feat.Properties.FullPlaceName)
	if addr == "" {
		addr = strings.TrimSpace(strings.Join([]string{feat.Properties.Name, feat.Properties.PlaceFormatted}, ", "))
	}
	return &Match{
		FormattedAddress: addr,
		Point:            orb.Point{feat.Geometry.Coordinates[0], feat.Geometry.Coordinates[1]},
		Confidence:       matchConfidence(feat.Properties.MatchCode.Confidence),
	}, nil
}

// Reverse returns a "City, ST" label for p.
func (g *MapboxGeocoder) Reverse(ctx context.Context, p orb.Point) (string, error) {
	form := url.Values{}
	form.Set("longitude", strconv.FormatFloat(p.Lon(), 'f', 6, 64))
	form.Set("latitude", strconv.FormatFloat(p.Lat(), 'f', 6, 64))
	form.Set("types", "place,locality")
	form.Set("limit", "1")

	decoded, err := g.get(ctx, "/search/geocode/v6/reverse", form)
	if err != nil {
		return "", err
	}
	if len(decoded.Features) == 0 {
		return "", nil
	}
	props := decoded.Features[0].Properties
	city := props.Name
	if city == "" {
		city = props.Context.Place.Name
	}
	region := props.Context.Region.RegionCode
	if region == "" {
		region = props.Context.Region.Name
	}
	switch {
	case city != "" && region != "":
		return city + ", " + region, nil
	default:
		return city, nil
	}
}

func (g *MapboxGeocoder) get(ctx context.Context, path string, form url.Values) (*mapboxResponse, error) {
	token := strings.TrimSpace(g.cfg.Token)
	if token == "" {
		return nil, errors.New("mapbox token missing")
	}
	form.Set("access_token", token)
	endpoint := strings.TrimRight(g.cfg.BaseURL, "/") + path + "?" + form.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	resp, err := g.client.Do(req)
	if err != nil {
		// *url.Error embeds the request URL, access token included
		var ue *url.Error
		if errors.As(err, &ue) {
			err = ue.Err
		}
		err = fmt.Errorf("mapbox %s: %w", path, err)
		g.logger.Warn("geo.mapbox.send_error", "path", path, "error", err)
		return nil, err
	}
	defer resp.Body.Close()
	g.logger.Debug("geo.mapbox.response", "path", path, "status", resp.StatusCode, "elapsed_ms", time.Since(start).Milliseconds())
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("mapbox status %d", resp.StatusCode)
	}

	var decoded mapboxResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode mapbox response: %w", err)
	}
	return &decoded, nil
}

func matchConfidence(level string) float64 {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "exact":
		return 1.0
	case "high":
		return 0.9
	case "medium":
		return 0.6
	case "low":
		return 0.3
	default:
		// v6 omits match_code for some feature types; a returned feature is still a weak match
		return 0.5
	}
}
