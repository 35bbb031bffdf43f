package aggregate

import (
	"sort"

	"roadwatch/internal/domain"
)

// FlatRow is one per-(changeset, road type) record handed to the external
// sink. Scalar fields come from the first edit seen for the pair; the flags
// record which element kinds and operations the pair contained.
type FlatRow struct {
	Changeset       int64
	RoadType        string
	Day             string
	Country         string
	State           string
	ElementNode     bool
	ElementRelation bool
	ElementWay      bool
	OperationCreate bool
	OperationModify bool
	Lat             float64
	Lon             float64
}

// categoryFlags is the fixed, ordered list of boolean columns derived from
// the element and operation categories of an edit.
var categoryFlags = []struct {
	match func(domain.EnrichedEdit) bool
	set   func(*FlatRow)
}{
	{
		match: func(e domain.EnrichedEdit) bool { return e.Element == domain.ElementNode },
		set:   func(r *FlatRow) { r.ElementNode = true },
	},
	{
		match: func(e domain.EnrichedEdit) bool { return e.Element == domain.ElementRelation },
		set:   func(r *FlatRow) { r.ElementRelation = true },
	},
	{
		match: func(e domain.EnrichedEdit) bool { return e.Element == domain.ElementWay },
		set:   func(r *FlatRow) { r.ElementWay = true },
	},
	{
		match: func(e domain.EnrichedEdit) bool { return e.Operation == domain.OpCreate },
		set:   func(r *FlatRow) { r.OperationCreate = true },
	},
	{
		match: func(e domain.EnrichedEdit) bool { return e.Operation == domain.OpModify },
		set:   func(r *FlatRow) { r.OperationModify = true },
	},
}

type flatKey struct {
	changeset int64
	roadType  string
}

// FlattenDay collapses one day's enriched edits to one row per
// (changeset, road type) pair, ordered by changeset then road type.
func FlattenDay(day string, edits []domain.EnrichedEdit) []FlatRow {
	rows := map[flatKey]*FlatRow{}
	order := make([]flatKey, 0)

	for _, e := range edits {
		roadType, ok := e.RoadType()
		if !ok {
			continue
		}

		key := flatKey{changeset: e.Changeset, roadType: roadType}
		row, seen := rows[key]
		if !seen {
			row = &FlatRow{
				Changeset: e.Changeset,
				RoadType:  roadType,
				Day:       day,
				Country:   e.Country,
				State:     e.State,
				Lat:       e.Lat,
				Lon:       e.Lon,
			}
			rows[key] = row
			order = append(order, key)
		}

		for _, flag := range categoryFlags {
			if flag.match(e) {
				flag.set(row)
			}
		}
	}

	sort.Slice(order, func(i, j int) bool {
		if order[i].changeset != order[j].changeset {
			return order[i].changeset < order[j].changeset
		}
		return order[i].roadType < order[j].roadType
	})

	out := make([]FlatRow, 0, len(order))
	for _, key := range order {
		out = append(out, *rows[key])
	}
	return out
}
