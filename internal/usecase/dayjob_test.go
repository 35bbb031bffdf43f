package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/semaphore"

	"roadwatch/internal/aggregate"
	"roadwatch/internal/domain"
	"roadwatch/internal/ports"
)

type fakeLocator struct{}

func (fakeLocator) DiffRange(context.Context, time.Time) (domain.IndexRange, error) {
	return domain.IndexRange{First: 1, Last: 1}, nil
}

func (fakeLocator) ChangesetRange(context.Context, time.Time) (domain.IndexRange, error) {
	return domain.IndexRange{First: 1000, Last: 1001}, nil
}

func (fakeLocator) DiffURL(i int) string { return fmt.Sprintf("http://archive.test/day/%d", i) }

func (fakeLocator) ChangesetURL(i int) string {
	return fmt.Sprintf("http://archive.test/changesets/%d", i)
}

type fakeFetcher struct {
	err error
}

func (f *fakeFetcher) FetchAll(context.Context, []domain.FetchJob) error { return f.err }

type fakeDiffs struct {
	edits []domain.Edit
}

func (f *fakeDiffs) ExtractDir(context.Context, string) ([]domain.Edit, error) {
	return f.edits, nil
}

type fakeChangesets struct{}

func (fakeChangesets) ExtractDir(context.Context, string) (map[int64]domain.ChangesetBounds, error) {
	return map[int64]domain.ChangesetBounds{}, nil
}

type fakeIndex struct{}

func (fakeIndex) Query(_, _, _, _ float64) []domain.EnrichedEdit { return nil }

// fakeResolver labels everything France so edits always reach the cube.
type fakeResolver struct{}

func (fakeResolver) Resolve(edits []domain.Edit, _ map[int64]domain.ChangesetBounds) ([]domain.EnrichedEdit, ports.EditIndex) {
	out := make([]domain.EnrichedEdit, 0, len(edits))
	for _, e := range edits {
		enriched := domain.EnrichedEdit{Edit: e, Country: "France", State: "France"}
		if e.HasLocation() {
			enriched.Lat, enriched.Lon = *e.Lat, *e.Lon
		}
		out = append(out, enriched)
	}
	return out, fakeIndex{}
}

// memAggregates is deliberately lock-free: the merge lock in DayJob is the
// only thing standing between concurrent merges and lost updates.
type memAggregates struct {
	cube aggregate.Cube
}

func (m *memAggregates) Load() (aggregate.Cube, error) {
	out := aggregate.Cube{}
	for k, v := range m.cube {
		out[k] = v
	}
	// widen the read-modify-write window so a missing lock actually races
	time.Sleep(time.Millisecond)
	return out, nil
}

func (m *memAggregates) Save(cube aggregate.Cube) error {
	m.cube = cube
	return nil
}

type memWatermark struct {
	mu     sync.Mutex
	status domain.CrawlStatus
}

func (m *memWatermark) Load() (domain.CrawlStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status, nil
}

func (m *memWatermark) Advance(day string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status.FirstDay == "" || day < m.status.FirstDay {
		m.status.FirstDay = day
	}
	if day > m.status.LastDay {
		m.status.LastDay = day
	}
	return nil
}

func roadEdit(id int64, changeset int64) domain.Edit {
	lat, lon := 48.85, 2.35
	return domain.Edit{
		Element:   domain.ElementNode,
		Operation: domain.OpCreate,
		ID:        id,
		Changeset: changeset,
		Lat:       &lat,
		Lon:       &lon,
		Tags:      []domain.Tag{{Key: "highway", Value: "residential"}},
	}
}

func testDeps(t *testing.T, fetcher ports.Fetcher, edits []domain.Edit) (DayJobDeps, *memAggregates, *memWatermark) {
	t.Helper()

	aggregates := &memAggregates{cube: aggregate.Cube{}}
	watermark := &memWatermark{}
	deps := DayJobDeps{
		Locator:    fakeLocator{},
		Fetcher:    fetcher,
		Diffs:      &fakeDiffs{edits: edits},
		Changesets: fakeChangesets{},
		Resolver:   fakeResolver{},
		Aggregates: aggregates,
		Watermark:  watermark,
		DataDir:    t.TempDir(),
		Gate:       semaphore.NewWeighted(4),
		MergeMu:    &sync.Mutex{},
	}
	return deps, aggregates, watermark
}

func TestDayJobRunToDone(t *testing.T) {
	t.Parallel()

	deps, aggregates, watermark := testDeps(t, &fakeFetcher{}, []domain.Edit{
		roadEdit(1, 900),
		roadEdit(2, 900),
	})

	job := NewDayJob(deps)
	require.Equal(t, StatePending, job.State())

	day := time.Date(2021, time.June, 12, 0, 0, 0, 0, time.UTC)
	result, err := job.Run(context.Background(), day)
	require.NoError(t, err)
	require.Equal(t, StateDone, job.State())

	assert.Equal(t, int64(2), result.Cube.Total())
	assert.Len(t, result.Rows, 1)
	assert.Equal(t, int64(2), aggregates.cube.Total())
	assert.Equal(t, "2021-06-12", watermark.status.LastDay)
}

func TestDayJobFailedDownloadLeavesStateUntouched(t *testing.T) {
	t.Parallel()

	deps, aggregates, watermark := testDeps(t, &fakeFetcher{err: errors.New("upstream down")}, nil)

	job := NewDayJob(deps)
	day := time.Date(2021, time.June, 12, 0, 0, 0, 0, time.UTC)
	_, err := job.Run(context.Background(), day)
	require.Error(t, err)
	assert.Equal(t, StateFailed, job.State())

	assert.Empty(t, aggregates.cube)
	assert.Equal(t, domain.CrawlStatus{}, watermark.status)
}

func TestConcurrentMergesLoseNoUpdates(t *testing.T) {
	t.Parallel()

	const days = 8
	const editsPerDay = 3

	var edits []domain.Edit
	for i := int64(0); i < editsPerDay; i++ {
		edits = append(edits, roadEdit(i, 900+i))
	}
	deps, aggregates, watermark := testDeps(t, &fakeFetcher{}, edits)

	var wg sync.WaitGroup
	for d := 0; d < days; d++ {
		wg.Add(1)
		day := time.Date(2021, time.June, 1+d, 0, 0, 0, 0, time.UTC)
		go func() {
			defer wg.Done()
			job := NewDayJob(deps)
			_, err := job.Run(context.Background(), day)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	// every day's counts survive: no concurrent merge overwrote another
	assert.Equal(t, int64(days*editsPerDay), aggregates.cube.Total())
	// watermark is the maximum completed day regardless of finish order
	assert.Equal(t, "2021-06-08", watermark.status.LastDay)
	assert.Equal(t, "2021-06-01", watermark.status.FirstDay)
}

func TestDayJobReprocessingIsIdempotentPerDay(t *testing.T) {
	t.Parallel()

	deps, _, _ := testDeps(t, &fakeFetcher{}, []domain.Edit{roadEdit(1, 900)})
	day := time.Date(2021, time.June, 12, 0, 0, 0, 0, time.UTC)

	first, err := NewDayJob(deps).Run(context.Background(), day)
	require.NoError(t, err)
	second, err := NewDayJob(deps).Run(context.Background(), day)
	require.NoError(t, err)

	assert.Equal(t, first.Cube, second.Cube)
	assert.Equal(t, first.Rows, second.Rows)
}
