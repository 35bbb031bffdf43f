package ports

import (
	"context"
	"time"

	"roadwatch/internal/aggregate"
	"roadwatch/internal/domain"
)

// ArchiveLocator resolves a calendar day to file-index ranges in the
// upstream replication archive and builds download URLs for those indices.
type ArchiveLocator interface {
	DiffRange(ctx context.Context, day time.Time) (domain.IndexRange, error)
	ChangesetRange(ctx context.Context, day time.Time) (domain.IndexRange, error)
	DiffURL(index int) string
	ChangesetURL(index int) string
}

// Fetcher downloads a set of archive segments with bounded parallelism,
// skipping destinations that already exist non-empty.
type Fetcher interface {
	FetchAll(ctx context.Context, jobs []domain.FetchJob) error
}

// DiffExtractor parses every diff archive in a directory into road edits.
type DiffExtractor interface {
	ExtractDir(ctx context.Context, dir string) ([]domain.Edit, error)
}

// ChangesetExtractor parses every changeset-summary archive in a directory
// into bounding boxes keyed by changeset id.
type ChangesetExtractor interface {
	ExtractDir(ctx context.Context, dir string) (map[int64]domain.ChangesetBounds, error)
}

// EditIndex answers bounding-box queries over a day's enriched edits. Built
// for downstream consumers; the pipeline itself only constructs it.
type EditIndex interface {
	Query(minLat, maxLat, minLon, maxLon float64) []domain.EnrichedEdit
}

// LocationResolver imputes missing coordinates from changeset bounds,
// assigns country/state labels, and indexes the resulting point set.
type LocationResolver interface {
	Resolve(edits []domain.Edit, bounds map[int64]domain.ChangesetBounds) ([]domain.EnrichedEdit, EditIndex)
}

// EditSink appends a day's flattened per-changeset rows to external storage.
type EditSink interface {
	SaveDay(ctx context.Context, rows []aggregate.FlatRow) error
}

// AggregateStore persists the running aggregate cube.
type AggregateStore interface {
	Load() (aggregate.Cube, error)
	Save(cube aggregate.Cube) error
}

// WatermarkStore persists the crawl status. Advance never moves the
// watermark backward.
type WatermarkStore interface {
	Load() (domain.CrawlStatus, error)
	Advance(day string) error
}
