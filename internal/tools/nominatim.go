package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"
)

// Coordinates is a geographic point.
type Coordinates struct {
	Latitude  float64
	Longitude float64
}

// Geocoder resolves a place name to coordinates.
type Geocoder interface {
	Geocode(ctx context.Context, place string) (Coordinates, error)
}

// NominatimGeocoder resolves place names with an OpenStreetMap Nominatim
// endpoint. Requests are throttled to respect the service's usage policy.
type NominatimGeocoder struct {
	baseURL   string
	userAgent string
	client    *http.Client
	limiter   *rate.Limiter
}

// NewNominatimGeocoder creates a geocoder. rps <= 0 disables throttling.
func NewNominatimGeocoder(baseURL, userAgent string, rps float64) *NominatimGeocoder {
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	return &NominatimGeocoder{
		baseURL:   baseURL,
		userAgent: userAgent,
		client:    &http.Client{Timeout: 10 * time.Second},
		limiter:   rate.NewLimiter(limit, 1),
	}
}

type nominatimPlace struct {
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	DisplayName string `json:"display_name"`
}

// Geocode returns the first match for place.
func (g *NominatimGeocoder) Geocode(ctx context.Context, place string) (Coordinates, error) {
	const tool = "geocode"

	if err := g.limiter.Wait(ctx); err != nil {
		return Coordinates{}, newError(tool, KindTransport, "geocoding throttled", err)
	}

	q := url.Values{}
	q.Set("q", place)
	q.Set("format", "json")
	q.Set("limit", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return Coordinates{}, newError(tool, KindInternal, "build geocoding request", err)
	}
	req.Header.Set("User-Agent", g.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return Coordinates{}, newError(tool, KindTransport, "geocoding request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Coordinates{}, newError(tool, KindUpstream,
			fmt.Sprintf("geocoding service returned %d", resp.StatusCode), fmt.Errorf("%s", body))
	}

	var places []nominatimPlace
	if err := json.NewDecoder(resp.Body).Decode(&places); err != nil {
		return Coordinates{}, newError(tool, KindDecode, "decode geocoding response", err)
	}
	if len(places) == 0 {
		return Coordinates{}, newError(tool, KindNotFound, "could not find location: "+place, nil)
	}

	lat, err := strconv.ParseFloat(places[0].Lat, 64)
	if err != nil {
		return Coordinates{}, newError(tool, KindDecode, "invalid latitude in geocoding response", err)
	}
	lon, err := strconv.ParseFloat(places[0].Lon, 64)
	if err != nil {
		return Coordinates{}, newError(tool, KindDecode, "invalid longitude in geocoding response", err)
	}
	return Coordinates{Latitude: lat, Longitude: lon}, nil
}
