package aggregate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roadwatch/internal/domain"
)

func enriched(element domain.ElementKind, op domain.Operation, changeset int64, roadTag domain.Tag, country, state string) domain.EnrichedEdit {
	return domain.EnrichedEdit{
		Edit: domain.Edit{
			Element:   element,
			Operation: op,
			Changeset: changeset,
			Tags:      []domain.Tag{roadTag},
		},
		Lat:     44.9,
		Lon:     -93.2,
		Country: country,
		State:   state,
	}
}

func TestBuildDayCounts(t *testing.T) {
	t.Parallel()

	highway := domain.Tag{Key: "highway", Value: "residential"}
	edits := []domain.EnrichedEdit{
		enriched(domain.ElementNode, domain.OpCreate, 1, highway, "United States", "Minnesota"),
		enriched(domain.ElementNode, domain.OpCreate, 2, highway, "United States", "Minnesota"),
		enriched(domain.ElementWay, domain.OpModify, 1, highway, "United States", "Minnesota"),
		// no road tag: excluded
		{Edit: domain.Edit{Element: domain.ElementNode, Operation: domain.OpCreate}, Country: "Canada", State: "Canada"},
		// no country: excluded from the cube
		enriched(domain.ElementNode, domain.OpCreate, 3, highway, "", ""),
	}

	cube := BuildDay("2021-06-12", edits)

	require.Len(t, cube, 2)
	assert.Equal(t, int64(2), cube[CubeKey{
		Day: "2021-06-12", RoadType: "residential",
		Country: "United States", State: "Minnesota",
		Element: domain.ElementNode, Operation: domain.OpCreate,
	}])
	assert.Equal(t, int64(1), cube[CubeKey{
		Day: "2021-06-12", RoadType: "residential",
		Country: "United States", State: "Minnesota",
		Element: domain.ElementWay, Operation: domain.OpModify,
	}])
	assert.Equal(t, int64(3), cube.Total())
}

func TestBuildDayIsDeterministic(t *testing.T) {
	t.Parallel()

	highway := domain.Tag{Key: "junction", Value: "roundabout"}
	edits := []domain.EnrichedEdit{
		enriched(domain.ElementWay, domain.OpCreate, 1, highway, "France", "France"),
		enriched(domain.ElementWay, domain.OpModify, 1, highway, "France", "France"),
	}

	assert.Equal(t, BuildDay("2021-06-12", edits), BuildDay("2021-06-12", edits))
}

func TestMergeIsKeywiseAddition(t *testing.T) {
	t.Parallel()

	key1 := CubeKey{Day: "2021-06-12", RoadType: "primary", Country: "France", State: "France",
		Element: domain.ElementWay, Operation: domain.OpModify}
	key2 := CubeKey{Day: "2021-06-13", RoadType: "primary", Country: "France", State: "France",
		Element: domain.ElementWay, Operation: domain.OpModify}

	total := Cube{key1: 2}
	total.Merge(Cube{key1: 3, key2: 5})

	assert.Equal(t, int64(5), total[key1])
	assert.Equal(t, int64(5), total[key2])
	assert.Equal(t, int64(10), total.Total())
}

func TestMergeDisjointDaysPreservesPerKeyTotals(t *testing.T) {
	t.Parallel()

	highway := domain.Tag{Key: "highway", Value: "primary"}
	day1 := BuildDay("2021-06-12", []domain.EnrichedEdit{
		enriched(domain.ElementNode, domain.OpCreate, 1, highway, "France", "France"),
		enriched(domain.ElementWay, domain.OpModify, 2, highway, "France", "France"),
	})
	day2 := BuildDay("2021-06-13", []domain.EnrichedEdit{
		enriched(domain.ElementNode, domain.OpCreate, 3, highway, "France", "France"),
	})

	total := Cube{}
	total.Merge(day1)
	total.Merge(day2)

	var franceTotal int64
	for key, count := range total {
		if key.Country == "France" && key.RoadType == "primary" {
			franceTotal += count
		}
	}
	assert.Equal(t, day1.Total()+day2.Total(), franceTotal)
}

func TestCubeKeysSortedByDay(t *testing.T) {
	t.Parallel()

	cube := Cube{
		{Day: "2021-06-13", RoadType: "a"}: 1,
		{Day: "2021-06-12", RoadType: "z"}: 1,
		{Day: "2021-06-12", RoadType: "b"}: 1,
	}

	keys := cube.Keys()
	require.Len(t, keys, 3)
	assert.Equal(t, "2021-06-12", keys[0].Day)
	assert.Equal(t, "b", keys[0].RoadType)
	assert.Equal(t, "z", keys[1].RoadType)
	assert.Equal(t, "2021-06-13", keys[2].Day)
}

func TestFlattenDayGroupsByChangesetAndRoadType(t *testing.T) {
	t.Parallel()

	highway := domain.Tag{Key: "highway", Value: "residential"}
	edits := []domain.EnrichedEdit{
		enriched(domain.ElementNode, domain.OpCreate, 900, highway, "United States", "Minnesota"),
		enriched(domain.ElementWay, domain.OpModify, 900, highway, "United States", "Minnesota"),
		enriched(domain.ElementRelation, domain.OpDelete, 901, domain.Tag{Key: "restriction", Value: "no_u_turn"}, "Canada", "Canada"),
	}

	rows := FlattenDay("2021-06-12", edits)
	require.Len(t, rows, 2)

	first := rows[0]
	assert.Equal(t, int64(900), first.Changeset)
	assert.Equal(t, "residential", first.RoadType)
	assert.Equal(t, "2021-06-12", first.Day)
	assert.True(t, first.ElementNode)
	assert.True(t, first.ElementWay)
	assert.False(t, first.ElementRelation)
	assert.True(t, first.OperationCreate)
	assert.True(t, first.OperationModify)
	assert.Equal(t, 44.9, first.Lat)

	second := rows[1]
	assert.Equal(t, int64(901), second.Changeset)
	assert.Equal(t, "restriction:no_u_turn", second.RoadType)
	assert.True(t, second.ElementRelation)
	assert.False(t, second.OperationCreate)
	assert.False(t, second.OperationModify)
}

func TestFlattenDaySplitsRoadTypesWithinChangeset(t *testing.T) {
	t.Parallel()

	edits := []domain.EnrichedEdit{
		enriched(domain.ElementWay, domain.OpModify, 900, domain.Tag{Key: "highway", Value: "primary"}, "France", "France"),
		enriched(domain.ElementWay, domain.OpModify, 900, domain.Tag{Key: "highway", Value: "secondary"}, "France", "France"),
	}

	rows := FlattenDay("2021-06-12", edits)
	require.Len(t, rows, 2)
	assert.Equal(t, "primary", rows[0].RoadType)
	assert.Equal(t, "secondary", rows[1].RoadType)
}
