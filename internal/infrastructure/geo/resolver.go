package geo

import (
	"log/slog"

	"roadwatch/internal/domain"
	"roadwatch/internal/ports"
)

const (
	// CountryUS is the country label that triggers state assignment.
	CountryUS = "United States"
	// UnknownState marks a U.S. edit outside every state polygon. A
	// dedicated sentinel, so the state column never reuses a country name
	// for two different meanings.
	UnknownState = "Unknown State"
)

// Resolver assigns point locations and country/state labels to edits.
// Node edits keep their own coordinates; way and relation edits get the
// centroid of their changeset's bounding box, a deliberate approximation
// that avoids fetching full geometry. Edits whose changeset has no metadata
// cannot be located and are dropped.
type Resolver struct {
	countries *BoundarySet
	states    *BoundarySet
	logger    *slog.Logger
}

var _ ports.LocationResolver = (*Resolver)(nil)

// NewResolver shares the startup-loaded boundary sets by reference.
func NewResolver(countries, states *BoundarySet, log *slog.Logger) *Resolver {
	return &Resolver{countries: countries, states: states, logger: log}
}

// Resolve enriches the edits and indexes the resulting point set for
// bounding-box queries by downstream consumers.
func (r *Resolver) Resolve(edits []domain.Edit, bounds map[int64]domain.ChangesetBounds) ([]domain.EnrichedEdit, ports.EditIndex) {
	enriched := make([]domain.EnrichedEdit, 0, len(edits))
	dropped := 0

	for _, e := range edits {
		var lat, lon float64
		if e.HasLocation() {
			lat, lon = *e.Lat, *e.Lon
		} else {
			b, ok := bounds[e.Changeset]
			if !ok {
				dropped++
				continue
			}
			lat, lon = b.Center()
		}

		out := domain.EnrichedEdit{Edit: e, Lat: lat, Lon: lon}
		out.Country = r.countries.Locate(lat, lon)
		switch {
		case out.Country == CountryUS:
			out.State = r.states.Locate(lat, lon)
			if out.State == "" {
				out.State = UnknownState
			}
		case out.Country != "":
			// non-U.S. edits carry their country in the state column
			out.State = out.Country
		}

		enriched = append(enriched, out)
	}

	if r.logger != nil {
		r.logger.Debug("resolved edit locations",
			"edits", len(edits), "located", len(enriched), "unlocatable", dropped)
	}
	return enriched, NewEditIndex(enriched)
}
