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

const defaultExtractWorkers = 6

// roadTagKeys are the tag keys that make an element road-relevant. Elements
// without any of them are discarded, which drops the vast majority of a diff.
var roadTagKeys = map[string]struct{}{
	"highway":     {},
	"restriction": {},
	"junction":    {},
}

var operationNames = map[string]domain.Operation{
	"create": domain.OpCreate,
	"modify": domain.OpModify,
	"delete": domain.OpDelete,
}

// DiffExtractor streams road edits out of compressed XML diff archives.
type DiffExtractor struct {
	workers int
	logger  *slog.Logger
}

var _ ports.DiffExtractor = (*DiffExtractor)(nil)

// NewDiffExtractor builds an extractor; workers bounds per-file parallelism.
func NewDiffExtractor(workers int, log *slog.Logger) *DiffExtractor {
	if workers <= 0 {
		workers = defaultExtractWorkers
	}
	return &DiffExtractor{workers: workers, logger: log}
}

// ExtractDir parses every diff archive under dir in parallel and unions the
// results in file order. A directory with no matching elements yields an
// empty slice, not an error.
func (x *DiffExtractor) ExtractDir(ctx context.Context, dir string) ([]domain.Edit, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*.osc.gz"))
	if err != nil {
		return nil, fmt.Errorf("list diff archives: %w", err)
	}

	parsed := rill.OrderedMap(rill.FromSlice(files, nil), x.workers, func(file string) ([]domain.Edit, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		edits, err := ParseDiffFile(file)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", file, err)
		}
		return edits, nil
	})

	var edits []domain.Edit
	err = rill.ForEach(parsed, 1, func(batch []domain.Edit) error {
		edits = append(edits, batch...)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if x.logger != nil {
		x.logger.Debug("extracted diff archives", "dir", dir, "files", len(files), "edits", len(edits))
	}
	return edits, nil
}

// ParseDiffFile streams one .osc.gz archive, returning the road-relevant
// elements of its create/modify/delete sections.
func ParseDiffFile(path string) ([]domain.Edit, error) {
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

	var (
		edits   []domain.Edit
		current domain.Operation
	)

	dec := xml.NewDecoder(unzipped)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("decode xml: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if op, ok := operationNames[t.Name.Local]; ok {
				current = op
				continue
			}
			if current == "" {
				continue
			}
			switch t.Name.Local {
			case "node", "way", "relation":
				edit, err := parseElement(dec, t, current)
				if err != nil {
					return nil, err
				}
				if edit != nil {
					edits = append(edits, *edit)
				}
			default:
				if err := dec.Skip(); err != nil {
					return nil, fmt.Errorf("skip element: %w", err)
				}
			}
		case xml.EndElement:
			if _, ok := operationNames[t.Name.Local]; ok {
				current = ""
			}
		}
	}

	return edits, nil
}

// parseElement consumes one node/way/relation element and returns it as an
// Edit, or nil when it carries no road-relevant tag.
func parseElement(dec *xml.Decoder, start xml.StartElement, op domain.Operation) (*domain.Edit, error) {
	edit := domain.Edit{
		Element:   domain.ElementKind(start.Name.Local),
		Operation: op,
	}

	for _, attr := range start.Attr {
		switch attr.Name.Local {
		case "id":
			edit.ID, _ = strconv.ParseInt(attr.Value, 10, 64)
		case "version":
			edit.Version, _ = strconv.Atoi(attr.Value)
		case "uid":
			edit.UID, _ = strconv.ParseInt(attr.Value, 10, 64)
		case "changeset":
			edit.Changeset, _ = strconv.ParseInt(attr.Value, 10, 64)
		case "user":
			edit.User = attr.Value
		case "lat":
			if v, err := strconv.ParseFloat(attr.Value, 64); err == nil {
				edit.Lat = &v
			}
		case "lon":
			if v, err := strconv.ParseFloat(attr.Value, 64); err == nil {
				edit.Lon = &v
			}
		}
	}

	relevant := false
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("decode %s children: %w", start.Name.Local, err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == "tag" {
				var tag domain.Tag
				for _, attr := range t.Attr {
					switch attr.Name.Local {
					case "k":
						tag.Key = attr.Value
					case "v":
						tag.Value = attr.Value
					}
				}
				edit.Tags = append(edit.Tags, tag)
				if _, ok := roadTagKeys[tag.Key]; ok {
					relevant = true
				}
			}
			if err := dec.Skip(); err != nil {
				return nil, fmt.Errorf("skip %s child: %w", start.Name.Local, err)
			}
		case xml.EndElement:
			if t.Name.Local == start.Name.Local {
				if !relevant {
					return nil, nil
				}
				return &edit, nil
			}
		}
	}
}
