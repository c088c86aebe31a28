package geo

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/paulmach/orb"
)

type fakeGeocoder struct {
	mu         sync.Mutex
	forwardErr error
	reverseErr error
	label      string
	matches    map[string]*Match
	queries    []string
	reverses   int
}

func (f *fakeGeocoder) Forward(_ context.Context, query string, _ *orb.Point) (*Match, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, query)
	if f.forwardErr != nil {
		return nil, f.forwardErr
	}
	for k, m := range f.matches {
		if strings.Contains(query, k) {
			return m, nil
		}
	}
	return nil, nil
}

func (f *fakeGeocoder) Reverse(context.Context, orb.Point) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reverses++
	return f.label, f.reverseErr
}

type fixedZone string

func (z fixedZone) TimezoneName(orb.Point) string { return string(z) }

func TestResolveDegradesWhenGeocoderUnreachable(t *testing.T) {
	g := &fakeGeocoder{forwardErr: errors.New("dial tcp: connection refused")}
	r := NewResolver(g, fixedZone("America/Chicago"), nil)

	loc := r.ResolveLocation(context.Background(), []string{"The Venue", "12 Elm St"}, nil)
	if loc.Confidence != 0 {
		t.Fatalf("expected zero confidence, got %v", loc.Confidence)
	}
	if loc.Coordinates != (orb.Point{0, 0}) {
		t.Fatalf("expected (0,0), got %v", loc.Coordinates)
	}
	if loc.Timezone != "UTC" {
		t.Fatalf("expected UTC, got %q", loc.Timezone)
	}
	if loc.Error == "" {
		t.Fatalf("expected error text on degraded result")
	}
}

func TestResolveUsesReverseLabelOnlyForQuery(t *testing.T) {
	g := &fakeGeocoder{
		label:   "Springfield, IL",
		matches: map[string]*Match{"Springfield, IL": {FormattedAddress: "12 Elm St, Springfield, Illinois", Point: orb.Point{-89.6, 39.8}, Confidence: 0.9}},
	}
	r := NewResolver(g, fixedZone("America/Chicago"), nil)
	p := orb.Point{-89.65, 39.78}

	loc := r.ResolveLocation(context.Background(), []string{" 12 Elm St ", "", "12 elm st"}, &UserContext{Coordinates: &p})
	if g.reverses != 1 {
		t.Fatalf("expected one reverse lookup, got %d", g.reverses)
	}
	if len(g.queries) != 1 || g.queries[0] != "12 Elm St, Springfield, IL" {
		t.Fatalf("unexpected forward query %v", g.queries)
	}
	if loc.FormattedAddress != "12 Elm St, Springfield, Illinois" {
		t.Fatalf("venue must come from the geocoder, got %q", loc.FormattedAddress)
	}
	if loc.Confidence != 0.9 || loc.Timezone != "America/Chicago" {
		t.Fatalf("unexpected resolution %+v", loc)
	}
}

func TestResolveSkipsReverseWhenCityStateGiven(t *testing.T) {
	g := &fakeGeocoder{matches: map[string]*Match{"Austin": {Point: orb.Point{-97.7, 30.3}, Confidence: 0.6}}}
	r := NewResolver(g, fixedZone(""), nil)
	p := orb.Point{-97.7, 30.3}

	loc := r.ResolveLocation(context.Background(), []string{"Mohawk"}, &UserContext{CityState: "Austin, TX", Coordinates: &p})
	if g.reverses != 0 {
		t.Fatalf("reverse geocode should be skipped when cityState is known")
	}
	if loc.Timezone != "UTC" {
		t.Fatalf("unknown zone should fall back to UTC, got %q", loc.Timezone)
	}
	if loc.Confidence != 0.6 {
		t.Fatalf("unexpected confidence %v", loc.Confidence)
	}
}

func TestResolveWithoutCluesIsDegraded(t *testing.T) {
	r := NewResolver(&fakeGeocoder{}, nil, nil)
	loc := r.ResolveLocation(context.Background(), []string{" ", ""}, nil)
	if loc.Confidence != 0 || len(loc.Notes) == 0 {
		t.Fatalf("expected degraded result with a note, got %+v", loc)
	}
}

func TestResolveReverseFailureStillResolves(t *testing.T) {
	g := &fakeGeocoder{
		reverseErr: errors.New("boom"),
		matches:    map[string]*Match{"Hall": {Point: orb.Point{1, 2}, Confidence: 1}},
	}
	r := NewResolver(g, fixedZone("Europe/Paris"), nil)
	p := orb.Point{1, 2}
	loc := r.ResolveLocation(context.Background(), []string{"Hall"}, &UserContext{Coordinates: &p})
	if loc.Confidence != 1 || loc.Error != "" {
		t.Fatalf("reverse failure must not fail resolution: %+v", loc)
	}
}

func TestMapboxGeocoderForwardAndReverse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("access_token") != "tok" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/search/geocode/v6/forward":
			if r.URL.Query().Get("proximity") == "" {
				t.Errorf("expected proximity bias")
			}
			_, _ = w.Write([]byte(`{"features":[{"geometry":{"coordinates":[-73.98,40.75]},
				"properties":{"full_place_name":"350 5th Ave, New York, NY","match_code":{"confidence":"exact"}}}]}`))
		case "/search/geocode/v6/reverse":
			_, _ = w.Write([]byte(`{"features":[{"geometry":{"coordinates":[-73.98,40.75]},
				"properties":{"name":"New York","context":{"region":{"name":"New York","region_code":"NY"}}}}]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	g := NewMapboxGeocoder(MapboxConfig{BaseURL: srv.URL, Token: "tok"}, nil)
	p := orb.Point{-73.9, 40.7}
	m, err := g.Forward(context.Background(), "350 5th Ave", &p)
	if err != nil || m == nil {
		t.Fatalf("forward: %v %v", m, err)
	}
	if m.Confidence != 1.0 || m.Point != (orb.Point{-73.98, 40.75}) {
		t.Fatalf("unexpected match %+v", m)
	}
	label, err := g.Reverse(context.Background(), p)
	if err != nil || label != "New York, NY" {
		t.Fatalf("reverse: %q %v", label, err)
	}

	bad := NewMapboxGeocoder(MapboxConfig{BaseURL: srv.URL, Token: "wrong"}, nil)
	if _, err := bad.Forward(context.Background(), "x", nil); err == nil {
		t.Fatalf("expected status error")
	}
}

func TestUnreachableMapboxDoesNotExposeToken(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	const token = "pk.SECRET-TOKEN"
	g := NewMapboxGeocoder(MapboxConfig{BaseURL: base, Token: token}, nil)
	_, err := g.Forward(context.Background(), "12 Elm St", nil)
	if err == nil {
		t.Fatalf("expected a transport error")
	}
	if strings.Contains(err.Error(), token) {
		t.Fatalf("transport error leaks the token: %v", err)
	}

	loc := NewResolver(g, fixedZone("UTC"), nil).ResolveLocation(context.Background(), []string{"12 Elm St"}, nil)
	if loc.Confidence != 0 || loc.Error == "" {
		t.Fatalf("expected a degraded location, got %+v", loc)
	}
	if strings.Contains(loc.Error, token) || strings.Contains(loc.Error, "access_token") {
		t.Fatalf("resolved location leaks the request URL: %q", loc.Error)
	}
	for _, n := range loc.Notes {
		if strings.Contains(n, token) {
			t.Fatalf("note leaks the token: %q", n)
		}
	}
}
