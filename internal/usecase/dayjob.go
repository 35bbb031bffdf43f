package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"roadwatch/internal/aggregate"
	"roadwatch/internal/domain"
	"roadwatch/internal/ports"
)

// DayState tracks a day job through its pipeline phases.
type DayState string

const (
	StatePending     DayState = "pending"
	StateDownloading DayState = "downloading"
	StateExtracting  DayState = "extracting"
	StateLocating    DayState = "locating"
	StateAggregating DayState = "aggregating"
	StateMerging     DayState = "merging"
	StateDone        DayState = "done"
	StateFailed      DayState = "failed"
)

// DayJobDeps wires the driven adapters and the shared concurrency
// primitives into one day's pipeline run. Gate and MergeMu are shared
// across every job of a scheduler run.
type DayJobDeps struct {
	Locator    ports.ArchiveLocator
	Fetcher    ports.Fetcher
	Diffs      ports.DiffExtractor
	Changesets ports.ChangesetExtractor
	Resolver   ports.LocationResolver
	Sink       ports.EditSink
	Aggregates ports.AggregateStore
	Watermark  ports.WatermarkStore
	DataDir    string
	Gate       *semaphore.Weighted
	MergeMu    *sync.Mutex
	Logger     *slog.Logger
}

// DayJob drives a single day through download, extraction, location,
// aggregation, and the merge into the running aggregate. One instance per
// day; not reusable.
type DayJob struct {
	deps  DayJobDeps
	state DayState
}

// DayResult carries a completed day's outputs. Index serves external
// bounding-box consumers; the pipeline only builds it.
type DayResult struct {
	Cube  aggregate.Cube
	Rows  []aggregate.FlatRow
	Index ports.EditIndex
}

// NewDayJob builds a job in the pending state.
func NewDayJob(deps DayJobDeps) *DayJob {
	return &DayJob{deps: deps, state: StatePending}
}

// State reports the job's current phase.
func (j *DayJob) State() DayState {
	return j.state
}

// Run executes the day's pipeline. On success the day's artifacts are
// removed; on failure they stay on disk so the next scheduler run picks the
// day up as left-over work, and the merge/watermark are untouched.
func (j *DayJob) Run(ctx context.Context, day time.Time) (result *DayResult, err error) {
	defer func() {
		if err != nil {
			j.state = StateFailed
		}
	}()

	dayStr := day.Format(domain.DayFormat)
	diffDir := filepath.Join(j.deps.DataDir, "diff_"+dayStr)
	changesetDir := filepath.Join(j.deps.DataDir, "changesets_"+dayStr)
	logger := j.deps.Logger
	if logger != nil {
		logger = logger.With("day", dayStr)
	}

	j.state = StateDownloading
	if err := j.download(ctx, day, diffDir, changesetDir); err != nil {
		return nil, err
	}

	j.state = StateExtracting
	edits, err := j.deps.Diffs.ExtractDir(ctx, diffDir)
	if err != nil {
		return nil, fmt.Errorf("extract diffs for %s: %w", dayStr, err)
	}
	bounds, err := j.deps.Changesets.ExtractDir(ctx, changesetDir)
	if err != nil {
		return nil, fmt.Errorf("extract changesets for %s: %w", dayStr, err)
	}

	j.state = StateLocating
	enriched, index := j.deps.Resolver.Resolve(edits, bounds)

	j.state = StateAggregating
	cube := aggregate.BuildDay(dayStr, enriched)
	rows := aggregate.FlattenDay(dayStr, enriched)
	if j.deps.Sink != nil {
		if err := j.deps.Sink.SaveDay(ctx, rows); err != nil {
			return nil, fmt.Errorf("sink rows for %s: %w", dayStr, err)
		}
	}

	j.state = StateMerging
	if err := j.merge(dayStr, cube); err != nil {
		return nil, err
	}

	j.state = StateDone
	j.cleanup(diffDir, changesetDir)

	if logger != nil {
		logger.Info("day complete",
			"edits", len(enriched), "cube_cells", len(cube), "sink_rows", len(rows))
	}
	return &DayResult{Cube: cube, Rows: rows, Index: index}, nil
}

// download resolves both index ranges, then fetches every segment while
// holding the admission gate. The gate bounds concurrent download batches
// system-wide and covers nothing but the fetches themselves.
func (j *DayJob) download(ctx context.Context, day time.Time, diffDir, changesetDir string) error {
	dayStr := day.Format(domain.DayFormat)

	diffRange, err := j.deps.Locator.DiffRange(ctx, day)
	if err != nil {
		return fmt.Errorf("locate diffs for %s: %w", dayStr, err)
	}
	changesetRange, err := j.deps.Locator.ChangesetRange(ctx, day)
	if err != nil {
		return fmt.Errorf("locate changesets for %s: %w", dayStr, err)
	}

	var jobs []domain.FetchJob
	for _, i := range diffRange.Indices() {
		jobs = append(jobs, domain.FetchJob{
			URL:  j.deps.Locator.DiffURL(i),
			Path: filepath.Join(diffDir, fmt.Sprintf("%d.osc.gz", i)),
		})
	}
	for _, i := range changesetRange.Indices() {
		jobs = append(jobs, domain.FetchJob{
			URL:  j.deps.Locator.ChangesetURL(i),
			Path: filepath.Join(changesetDir, fmt.Sprintf("%d.osm.gz", i)),
		})
	}

	for _, dir := range []string{diffDir, changesetDir} {
		if err := resetDir(dir); err != nil {
			return fmt.Errorf("reset %s: %w", dir, err)
		}
	}

	if j.deps.Gate != nil {
		if err := j.deps.Gate.Acquire(ctx, 1); err != nil {
			return fmt.Errorf("acquire download gate: %w", err)
		}
		defer j.deps.Gate.Release(1)
	}

	if err := j.deps.Fetcher.FetchAll(ctx, jobs); err != nil {
		return fmt.Errorf("download archives for %s: %w", dayStr, err)
	}
	return nil
}

// merge is the only section mutating shared state and is kept as short as
// possible: append the day's cube, persist, advance the watermark.
func (j *DayJob) merge(dayStr string, cube aggregate.Cube) error {
	j.deps.MergeMu.Lock()
	defer j.deps.MergeMu.Unlock()

	total, err := j.deps.Aggregates.Load()
	if err != nil {
		return fmt.Errorf("load running aggregate: %w", err)
	}
	total.Merge(cube)
	if err := j.deps.Aggregates.Save(total); err != nil {
		return fmt.Errorf("save running aggregate: %w", err)
	}
	if err := j.deps.Watermark.Advance(dayStr); err != nil {
		return fmt.Errorf("advance watermark: %w", err)
	}
	return nil
}

// cleanup is best-effort; a leftover directory only costs disk space.
func (j *DayJob) cleanup(dirs ...string) {
	for _, dir := range dirs {
		if err := os.RemoveAll(dir); err != nil && j.deps.Logger != nil {
			j.deps.Logger.Warn("cleanup failed", "dir", dir, "error", err)
		}
	}
}

// resetDir clears stale partial downloads so a retried day starts from
// known-good files.
func resetDir(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return err
	}
	return os.MkdirAll(dir, 0o755)
}
