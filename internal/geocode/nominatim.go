package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"fleetlive.io/internal/logging"
)

// Place is one remote search hit.
type Place struct {
	Lat         float64
	Lon         float64
	DisplayName string
}

// Searcher is the remote geocoding collaborator.
type Searcher interface {
	Search(ctx context.Context, text string) ([]Place, error)
}

// NominatimClient queries an OpenStreetMap Nominatim compatible /search endpoint.
type NominatimClient struct {
	baseURL   string
	client    *http.Client
	userAgent string
	logger    *slog.Logger
}

const DefaultNominatimURL = "https://nominatim.openstreetmap.org"

func NewNominatimClient(baseURL string, timeout time.Duration, logger *slog.Logger) *NominatimClient {
	if baseURL == "" {
		baseURL = DefaultNominatimURL
	}
	return &NominatimClient{
		baseURL:   baseURL,
		client:    &http.Client{Timeout: timeout},
		userAgent: "fleetlive/1.0",
		logger:    logging.Component(logger, "nominatim"),
	}
}

type nominatimResult struct {
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	DisplayName string `json:"display_name"`
}

func (c *NominatimClient) Search(ctx context.Context, text string) ([]Place, error) {
	q := url.Values{}
	q.Set("q", text)
	q.Set("format", "json")
	q.Set("limit", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/search?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("nominatim request: %w", err)
	}
	defer logging.SafeCloseWithLogging(resp.Body, c.logger, "http_response_body")

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("nominatim returned %d", resp.StatusCode)
	}

	var results []nominatimResult
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return nil, fmt.Errorf("decoding nominatim response: %w", err)
	}

	places := make([]Place, 0, len(results))
	for _, r := range results {
		lat, errLat := strconv.ParseFloat(r.Lat, 64)
		lon, errLon := strconv.ParseFloat(r.Lon, 64)
		if errLat != nil || errLon != nil {
			c.logger.Debug("skipping unparsable nominatim result", slog.String("display_name", r.DisplayName))
			continue
		}
		places = append(places, Place{Lat: lat, Lon: lon, DisplayName: r.DisplayName})
	}
	return places, nil
}
