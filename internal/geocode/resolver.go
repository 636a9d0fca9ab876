// Package geocode turns free-text place names into coordinates: a static city table
// first, a remote search service second.
package geocode

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"fleetlive.io/internal/logging"
	"fleetlive.io/internal/models"
)

var ErrNotFound = errors.New("place not found")

// Source records which step produced a resolution.
type Source string

const (
	SourceExact     Source = "exact"
	SourceSubstring Source = "substring"
	SourceRemote    Source = "remote"
)

// Resolver is stateless apart from its immutable table and collaborator.
type Resolver struct {
	table  Table
	remote Searcher
	logger *slog.Logger
}

// NewResolver builds a resolver. remote may be nil, in which case only the table is used.
func NewResolver(table Table, remote Searcher, logger *slog.Logger) *Resolver {
	return &Resolver{
		table:  table,
		remote: remote,
		logger: logging.Component(logger, "geocode"),
	}
}

// Resolve looks text up by exact match, then substring match, then the remote searcher.
func (r *Resolver) Resolve(ctx context.Context, text string) (models.LatLng, Source, error) {
	if c, ok := r.table.Exact(text); ok {
		return c.LatLng(), SourceExact, nil
	}
	if c, ok := r.table.Substring(text); ok {
		return c.LatLng(), SourceSubstring, nil
	}
	if r.remote == nil || normalize(text) == "" {
		return models.LatLng{}, "", fmt.Errorf("%w: %q", ErrNotFound, text)
	}

	places, err := r.remote.Search(ctx, text)
	if err != nil {
		logging.LogError(r.logger, "remote geocoding failed", err, slog.String("query", text))
		return models.LatLng{}, "", fmt.Errorf("%w: %q: %v", ErrNotFound, text, err)
	}
	if len(places) == 0 {
		return models.LatLng{}, "", fmt.Errorf("%w: %q", ErrNotFound, text)
	}
	return models.LatLng{Lat: places[0].Lat, Lng: places[0].Lon}, SourceRemote, nil
}
