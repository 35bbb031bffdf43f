package storage

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"github.com/klauspost/compress/gzip"

	"roadwatch/internal/aggregate"
	"roadwatch/internal/domain"
	"roadwatch/internal/ports"
)

var aggregateHeader = []string{"day", "road_type", "country", "state", "element", "operation", "count"}

// AggregateStore persists the running aggregate as one gzip-compressed CSV,
// day-sorted, readable by downstream consumers without this pipeline's
// involvement. Callers serialize access through the merge lock; the store
// itself does no locking.
type AggregateStore struct {
	path string
}

var _ ports.AggregateStore = (*AggregateStore)(nil)

// NewAggregateStore points the store at its file path.
func NewAggregateStore(path string) *AggregateStore {
	return &AggregateStore{path: path}
}

// Load reads the persisted cube. A missing file yields an empty cube.
func (s *AggregateStore) Load() (aggregate.Cube, error) {
	file, err := os.Open(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return aggregate.Cube{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open aggregate: %w", err)
	}
	defer file.Close()

	unzipped, err := gzip.NewReader(file)
	if err != nil {
		return nil, fmt.Errorf("open gzip stream: %w", err)
	}
	defer unzipped.Close()

	reader := csv.NewReader(unzipped)
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read aggregate rows: %w", err)
	}

	cube := aggregate.Cube{}
	for i, rec := range records {
		if i == 0 {
			continue // header
		}
		if len(rec) != len(aggregateHeader) {
			return nil, fmt.Errorf("aggregate row %d has %d columns", i, len(rec))
		}
		count, err := strconv.ParseInt(rec[6], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("aggregate row %d count: %w", i, err)
		}
		cube[aggregate.CubeKey{
			Day:       rec[0],
			RoadType:  rec[1],
			Country:   rec[2],
			State:     rec[3],
			Element:   domain.ElementKind(rec[4]),
			Operation: domain.Operation(rec[5]),
		}] = count
	}

	return cube, nil
}

// Save rewrites the file with the cube's cells sorted by day. The write goes
// through a staging file so readers never observe a half-written aggregate.
func (s *AggregateStore) Save(cube aggregate.Cube) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create aggregate directory: %w", err)
	}

	tmp := s.path + ".tmp"
	file, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create %s: %w", tmp, err)
	}

	zipped := gzip.NewWriter(file)
	writer := csv.NewWriter(zipped)

	err = writer.Write(aggregateHeader)
	if err == nil {
		for _, key := range cube.Keys() {
			row := []string{
				key.Day,
				key.RoadType,
				key.Country,
				key.State,
				string(key.Element),
				string(key.Operation),
				strconv.FormatInt(cube[key], 10),
			}
			if err = writer.Write(row); err != nil {
				break
			}
		}
	}

	if err == nil {
		writer.Flush()
		err = writer.Error()
	}
	if closeErr := zipped.Close(); err == nil {
		err = closeErr
	}
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("write aggregate: %w", err)
	}

	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace aggregate: %w", err)
	}
	return nil
}
