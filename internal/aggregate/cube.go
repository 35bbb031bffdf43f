package aggregate

import (
	"sort"

	"roadwatch/internal/domain"
)

// CubeKey identifies one cell of the edit-count cube.
type CubeKey struct {
	Day       string
	RoadType  string
	Country   string
	State     string
	Element   domain.ElementKind
	Operation domain.Operation
}

// Cube is a sparse edit-count table. Only non-zero cells are present, so
// merging two cubes is key-wise addition and sparsity holds by construction.
type Cube map[CubeKey]int64

// BuildDay folds one day's enriched edits into a fresh cube. Edits without a
// road-relevant tag or outside every country boundary are excluded.
func BuildDay(day string, edits []domain.EnrichedEdit) Cube {
	cube := Cube{}
	for _, e := range edits {
		roadType, ok := e.RoadType()
		if !ok {
			continue
		}
		if e.Country == "" {
			continue
		}
		cube[CubeKey{
			Day:       day,
			RoadType:  roadType,
			Country:   e.Country,
			State:     e.State,
			Element:   e.Element,
			Operation: e.Operation,
		}]++
	}
	return cube
}

// Merge adds every cell of other into c.
func (c Cube) Merge(other Cube) {
	for k, v := range other {
		c[k] += v
	}
}

// Keys returns the cube's cell keys ordered by day, then by the remaining
// key fields, giving the persisted table its day-sorted layout.
func (c Cube) Keys() []CubeKey {
	keys := make([]CubeKey, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.Day != b.Day {
			return a.Day < b.Day
		}
		if a.RoadType != b.RoadType {
			return a.RoadType < b.RoadType
		}
		if a.Country != b.Country {
			return a.Country < b.Country
		}
		if a.State != b.State {
			return a.State < b.State
		}
		if a.Element != b.Element {
			return a.Element < b.Element
		}
		return a.Operation < b.Operation
	})
	return keys
}

// Total sums every cell.
func (c Cube) Total() int64 {
	var total int64
	for _, v := range c {
		total += v
	}
	return total
}
