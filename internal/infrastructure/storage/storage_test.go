package storage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roadwatch/internal/aggregate"
	"roadwatch/internal/domain"
)

func TestAggregateStoreMissingFile(t *testing.T) {
	t.Parallel()

	store := NewAggregateStore(filepath.Join(t.TempDir(), "all.csv.gz"))
	cube, err := store.Load()
	require.NoError(t, err)
	assert.Empty(t, cube)
}

func TestAggregateStoreSaveThenLoad(t *testing.T) {
	t.Parallel()

	store := NewAggregateStore(filepath.Join(t.TempDir(), "agg", "all.csv.gz"))

	cube := aggregate.Cube{
		{
			Day: "2021-06-12", RoadType: "residential",
			Country: "United States", State: "Minnesota",
			Element: domain.ElementNode, Operation: domain.OpCreate,
		}: 12,
		{
			Day: "2021-06-13", RoadType: "restriction:no_left_turn",
			Country: "France", State: "France",
			Element: domain.ElementRelation, Operation: domain.OpDelete,
		}: 3,
	}

	require.NoError(t, store.Save(cube))

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, cube, loaded)
}

func TestAggregateStoreMergeAcrossSaves(t *testing.T) {
	t.Parallel()

	store := NewAggregateStore(filepath.Join(t.TempDir(), "all.csv.gz"))
	key := aggregate.CubeKey{
		Day: "2021-06-12", RoadType: "primary",
		Country: "France", State: "France",
		Element: domain.ElementWay, Operation: domain.OpModify,
	}

	require.NoError(t, store.Save(aggregate.Cube{key: 4}))

	total, err := store.Load()
	require.NoError(t, err)
	total.Merge(aggregate.Cube{key: 6})
	require.NoError(t, store.Save(total))

	final, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, int64(10), final[key])
}

func TestWatermarkAdvanceIsMonotonic(t *testing.T) {
	t.Parallel()

	w := NewWatermark(filepath.Join(t.TempDir(), "status.json"))

	status, err := w.Load()
	require.NoError(t, err)
	assert.Equal(t, domain.CrawlStatus{}, status)

	require.NoError(t, w.Advance("2021-06-12"))
	require.NoError(t, w.Advance("2021-06-14"))
	// out-of-order completion must not regress the watermark
	require.NoError(t, w.Advance("2021-06-13"))

	status, err = w.Load()
	require.NoError(t, err)
	assert.Equal(t, "2021-06-14", status.LastDay)
	assert.Equal(t, "2021-06-12", status.FirstDay)
}

func TestWatermarkFirstDayMovesBackward(t *testing.T) {
	t.Parallel()

	w := NewWatermark(filepath.Join(t.TempDir(), "status.json"))

	require.NoError(t, w.Advance("2021-06-12"))
	// reprocessing an older day extends the covered range at the front
	require.NoError(t, w.Advance("2021-06-01"))

	status, err := w.Load()
	require.NoError(t, err)
	assert.Equal(t, "2021-06-01", status.FirstDay)
	assert.Equal(t, "2021-06-12", status.LastDay)
}
