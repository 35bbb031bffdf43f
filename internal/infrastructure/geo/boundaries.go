package geo

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/golang/geo/s2"
)

// BoundarySet is a read-only collection of named polygons indexed for point
// containment. It is loaded once at startup and shared by reference across
// all workers; nothing mutates it after load.
type BoundarySet struct {
	index *s2.ShapeIndex
	names map[s2.Shape]string
}

// featureCollection mirrors the subset of GeoJSON needed for boundary files.
type featureCollection struct {
	Features []struct {
		Properties map[string]any `json:"properties"`
		Geometry   struct {
			Type        string          `json:"type"`
			Coordinates json.RawMessage `json:"coordinates"`
		} `json:"geometry"`
	} `json:"features"`
}

// LoadBoundaries reads a GeoJSON feature collection and indexes its Polygon
// and MultiPolygon features under the property named by nameKey. Features
// without that property are skipped.
func LoadBoundaries(path, nameKey string) (*BoundarySet, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read boundaries: %w", err)
	}
	return ParseBoundaries(raw, nameKey)
}

// ParseBoundaries builds a BoundarySet from raw GeoJSON bytes.
func ParseBoundaries(raw []byte, nameKey string) (*BoundarySet, error) {
	var fc featureCollection
	if err := json.Unmarshal(raw, &fc); err != nil {
		return nil, fmt.Errorf("parse boundaries: %w", err)
	}

	set := &BoundarySet{
		index: s2.NewShapeIndex(),
		names: map[s2.Shape]string{},
	}

	for _, feature := range fc.Features {
		name, _ := feature.Properties[nameKey].(string)
		if name == "" {
			continue
		}

		switch feature.Geometry.Type {
		case "Polygon":
			var rings [][][]float64
			if err := json.Unmarshal(feature.Geometry.Coordinates, &rings); err != nil {
				return nil, fmt.Errorf("feature %s: %w", name, err)
			}
			set.add(name, rings)
		case "MultiPolygon":
			var polys [][][][]float64
			if err := json.Unmarshal(feature.Geometry.Coordinates, &polys); err != nil {
				return nil, fmt.Errorf("feature %s: %w", name, err)
			}
			for _, rings := range polys {
				set.add(name, rings)
			}
		}
	}

	// force the lazy shape-index build now, while still single-threaded;
	// Locate is afterwards called concurrently from the day workers
	warm := s2.NewContainsPointQuery(set.index, s2.VertexModelSemiOpen)
	warm.Contains(s2.PointFromLatLng(s2.LatLngFromDegrees(0, 0)))

	return set, nil
}

func (b *BoundarySet) add(name string, rings [][][]float64) {
	polygon := polygonFromRings(rings)
	if polygon == nil {
		return
	}
	b.index.Add(polygon)
	b.names[polygon] = name
}

// polygonFromRings converts GeoJSON [lon, lat] rings into an s2 polygon.
// Each loop is normalized so ring winding does not matter; interior rings
// become holes through even-odd layering.
func polygonFromRings(rings [][][]float64) *s2.Polygon {
	var loops []*s2.Loop
	for _, ring := range rings {
		points := make([]s2.Point, 0, len(ring))
		for _, coord := range ring {
			if len(coord) < 2 {
				continue
			}
			points = append(points, s2.PointFromLatLng(s2.LatLngFromDegrees(coord[1], coord[0])))
		}
		// GeoJSON rings repeat the first vertex; s2 loops must not
		if len(points) > 1 && points[0] == points[len(points)-1] {
			points = points[:len(points)-1]
		}
		if len(points) < 3 {
			continue
		}
		loop := s2.LoopFromPoints(points)
		loop.Normalize()
		loops = append(loops, loop)
	}
	if len(loops) == 0 {
		return nil
	}
	return s2.PolygonFromLoops(loops)
}

// Locate returns the name of the polygon containing the point, or "" when
// the point falls outside every boundary.
func (b *BoundarySet) Locate(lat, lon float64) string {
	if b == nil || b.index == nil {
		return ""
	}
	query := s2.NewContainsPointQuery(b.index, s2.VertexModelSemiOpen)
	for _, shape := range query.ContainingShapes(s2.PointFromLatLng(s2.LatLngFromDegrees(lat, lon))) {
		if name, ok := b.names[shape]; ok {
			return name
		}
	}
	return ""
}

// Len reports how many polygons the set holds.
func (b *BoundarySet) Len() int {
	if b == nil {
		return 0
	}
	return len(b.names)
}
