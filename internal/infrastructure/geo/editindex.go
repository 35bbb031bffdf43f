package geo

import (
	"github.com/golang/geo/s2"

	"roadwatch/internal/domain"
)

// indexLevel is the s2 cell level edits are bucketed at; level 10 cells are
// roughly 10km across, a reasonable grain for dashboard viewport queries.
const indexLevel = 10

// EditIndex buckets a day's enriched edits by s2 cell so external consumers
// can query them by bounding box without scanning the whole set.
type EditIndex struct {
	cells map[s2.CellID][]int
	edits []domain.EnrichedEdit
}

// NewEditIndex indexes the point set. The slice is retained, not copied.
func NewEditIndex(edits []domain.EnrichedEdit) *EditIndex {
	idx := &EditIndex{
		cells: make(map[s2.CellID][]int),
		edits: edits,
	}
	for i, e := range edits {
		cell := s2.CellIDFromLatLng(s2.LatLngFromDegrees(e.Lat, e.Lon)).Parent(indexLevel)
		idx.cells[cell] = append(idx.cells[cell], i)
	}
	return idx
}

// Len reports how many edits are indexed.
func (x *EditIndex) Len() int {
	return len(x.edits)
}

// Query returns every indexed edit inside the inclusive lat/lon rectangle.
func (x *EditIndex) Query(minLat, maxLat, minLon, maxLon float64) []domain.EnrichedEdit {
	rect := s2.RectFromLatLng(s2.LatLngFromDegrees(minLat, minLon))
	rect = rect.AddPoint(s2.LatLngFromDegrees(maxLat, maxLon))

	coverer := &s2.RegionCoverer{MaxLevel: indexLevel, MaxCells: 64}
	covering := coverer.Covering(rect)

	var out []domain.EnrichedEdit
	for cell, indices := range x.cells {
		if !covering.IntersectsCellID(cell) {
			continue
		}
		for _, i := range indices {
			e := x.edits[i]
			if rect.ContainsLatLng(s2.LatLngFromDegrees(e.Lat, e.Lon)) {
				out = append(out, e)
			}
		}
	}
	return out
}
