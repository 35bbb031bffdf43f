package extract

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/destel/rill"
	"github.com/klauspost/compress/gzip"

	"roadwatch/internal/domain"
	"roadwatch/internal/ports"
)

// changesetRecord is one raw changeset element before bbox validation.
type changesetRecord struct {
	id     int64
	minLat *float64
	maxLat *float64
	minLon *float64
	maxLon *float64
	user   string
}

func (r changesetRecord) complete() bool {
	return r.minLat != nil && r.maxLat != nil && r.minLon != nil && r.maxLon != nil
}

// ChangesetExtractor streams changeset bounding boxes out of compressed
// summary archives.
type ChangesetExtractor struct {
	workers int
	logger  *slog.Logger
}

var _ ports.ChangesetExtractor = (*ChangesetExtractor)(nil)

// NewChangesetExtractor builds an extractor; workers bounds per-file parallelism.
func NewChangesetExtractor(workers int, log *slog.Logger) *ChangesetExtractor {
	if workers <= 0 {
		workers = defaultExtractWorkers
	}
	return &ChangesetExtractor{workers: workers, logger: log}
}

// ExtractDir parses every changeset archive under dir in parallel. Records
// are deduplicated by id keeping the first occurrence in file order, and
// records missing any bbox field are dropped. A malformed archive is logged
// and contributes nothing rather than failing the batch.
func (x *ChangesetExtractor) ExtractDir(ctx context.Context, dir string) (map[int64]domain.ChangesetBounds, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*.osm.gz"))
	if err != nil {
		return nil, fmt.Errorf("list changeset archives: %w", err)
	}

	parsed := rill.OrderedMap(rill.FromSlice(files, nil), x.workers, func(file string) ([]changesetRecord, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		records, err := parseChangesetFile(file)
		if err != nil {
			if x.logger != nil {
				x.logger.Warn("skipping malformed changeset archive", "file", file, "error", err)
			}
			return nil, nil
		}
		return records, nil
	})

	bounds := map[int64]domain.ChangesetBounds{}
	err = rill.ForEach(parsed, 1, func(records []changesetRecord) error {
		for _, r := range records {
			if _, seen := bounds[r.id]; seen || !r.complete() {
				continue
			}
			bounds[r.id] = domain.ChangesetBounds{
				ID:     r.id,
				MinLat: *r.minLat,
				MaxLat: *r.maxLat,
				MinLon: *r.minLon,
				MaxLon: *r.maxLon,
				User:   r.user,
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if x.logger != nil {
		x.logger.Debug("extracted changeset archives", "dir", dir, "files", len(files), "changesets", len(bounds))
	}
	return bounds, nil
}

func parseChangesetFile(path string) ([]changesetRecord, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	unzipped, err := gzip.NewReader(file)
	if err != nil {
		return nil, fmt.Errorf("open gzip stream: %w", err)
	}
	defer unzipped.Close()

	var records []changesetRecord
	dec := xml.NewDecoder(unzipped)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("decode xml: %w", err)
		}

		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Local != "changeset" {
			continue
		}

		var r changesetRecord
		for _, attr := range start.Attr {
			switch attr.Name.Local {
			case "id":
				r.id, _ = strconv.ParseInt(attr.Value, 10, 64)
			case "min_lat":
				r.minLat = parseCoord(attr.Value)
			case "max_lat":
				r.maxLat = parseCoord(attr.Value)
			case "min_lon":
				r.minLon = parseCoord(attr.Value)
			case "max_lon":
				r.maxLon = parseCoord(attr.Value)
			case "user":
				r.user = attr.Value
			}
		}
		records = append(records, r)

		if err := dec.Skip(); err != nil {
			return nil, fmt.Errorf("skip changeset children: %w", err)
		}
	}

	return records, nil
}

func parseCoord(value string) *float64 {
	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil
	}
	return &v
}
