package archive

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"roadwatch/internal/domain"
	"roadwatch/internal/ports"
)

// leafSpan is how many file indices each changeset leaf directory covers.
const leafSpan = 1000

// Locator resolves calendar days against the replication archive layout:
// daily diffs are a flat sequence indexed from a fixed epoch, changeset
// summaries live in a two-level directory tree browsed via HTML listings.
type Locator struct {
	client  *http.Client
	baseURL string
	epoch   time.Time
	logger  *slog.Logger
}

var _ ports.ArchiveLocator = (*Locator)(nil)

// NewLocator wires an HTTP client against the archive base URL. epoch is the
// day before the first daily diff file.
func NewLocator(client *http.Client, baseURL string, epoch time.Time, log *slog.Logger) *Locator {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Locator{
		client:  client,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		epoch:   epoch,
		logger:  log,
	}
}

// DiffRange computes the single diff file index for the day: the archive
// publishes one file per calendar day, numbered by days since the epoch.
func (l *Locator) DiffRange(_ context.Context, day time.Time) (domain.IndexRange, error) {
	index := int(day.Truncate(24*time.Hour).Sub(l.epoch.Truncate(24*time.Hour)) / (24 * time.Hour))
	if index < 1 {
		return domain.IndexRange{}, fmt.Errorf("day %s predates the diff archive epoch %s",
			day.Format(domain.DayFormat), l.epoch.Format(domain.DayFormat))
	}
	return domain.IndexRange{First: index, Last: index}, nil
}

// ChangesetRange walks the two-level changeset listing and returns the file
// index range spanned by leaf directories whose last-modified date falls
// within one day of the requested day. The margin absorbs changeset files
// being written slightly out of order relative to their content day.
func (l *Locator) ChangesetRange(ctx context.Context, day time.Time) (domain.IndexRange, error) {
	start := day.AddDate(0, 0, -1).Format(domain.DayFormat)
	end := day.AddDate(0, 0, 1).Format(domain.DayFormat)

	root := l.baseURL + "/changesets/"
	level1, err := l.listDirs(ctx, root)
	if err != nil {
		return domain.IndexRange{}, fmt.Errorf("list changeset root: %w", err)
	}

	var leaves []string
	for i := len(level1) - 1; i >= 0; i-- {
		if level1[i].lastModified < start {
			continue
		}
		level2, err := l.listDirs(ctx, root+level1[i].name+"/")
		if err != nil {
			return domain.IndexRange{}, fmt.Errorf("list changeset subtree %s: %w", level1[i].name, err)
		}
		for _, sub := range level2 {
			if sub.lastModified >= start && sub.lastModified <= end {
				leaves = append(leaves, level1[i].name+sub.name)
			}
		}
	}

	if len(leaves) == 0 {
		return domain.IndexRange{}, fmt.Errorf("changesets for %s: %w", day.Format(domain.DayFormat), domain.ErrNotReady)
	}

	lowest, highest := leaves[0], leaves[0]
	for _, leaf := range leaves[1:] {
		if leaf < lowest {
			lowest = leaf
		}
		if leaf > highest {
			highest = leaf
		}
	}

	first, err := strconv.Atoi(lowest)
	if err != nil {
		return domain.IndexRange{}, fmt.Errorf("parse leaf directory %q: %w", lowest, err)
	}
	last, err := strconv.Atoi(highest)
	if err != nil {
		return domain.IndexRange{}, fmt.Errorf("parse leaf directory %q: %w", highest, err)
	}

	return domain.IndexRange{First: first * leafSpan, Last: last*leafSpan + leafSpan - 1}, nil
}

// DiffURL builds the download URL for a daily diff file index.
func (l *Locator) DiffURL(index int) string {
	return l.baseURL + "/day/" + segmentPath(index) + ".osc.gz"
}

// ChangesetURL builds the download URL for a changeset-summary file index.
func (l *Locator) ChangesetURL(index int) string {
	return l.baseURL + "/changesets/" + segmentPath(index) + ".osm.gz"
}

// segmentPath converts a file index into the archive's zero-padded
// three-level path, e.g. 4103 -> "000/004/103".
func segmentPath(index int) string {
	s := fmt.Sprintf("%09d", index)
	return s[0:3] + "/" + s[3:6] + "/" + s[6:9]
}

// dirEntry is one subdirectory row scraped from a listing page.
type dirEntry struct {
	name         string
	lastModified string
}

// listDirs scrapes an archive listing page for subdirectory rows, returning
// each directory name with the date part of its Last-Modified column.
func (l *Locator) listDirs(ctx context.Context, pageURL string) ([]dirEntry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "roadwatch/1.0")

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request listing: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("archive returned %s", resp.Status)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse listing: %w", err)
	}

	var entries []dirEntry
	doc.Find("tr").Each(func(_ int, row *goquery.Selection) {
		if row.Find(`img[alt="[DIR]"]`).Length() == 0 {
			return
		}
		href, ok := row.Find("a").First().Attr("href")
		if !ok {
			return
		}
		modified := strings.TrimSpace(row.Find("td").Eq(2).Text())
		if len(modified) < len(domain.DayFormat) {
			return
		}
		entries = append(entries, dirEntry{
			name:         strings.TrimSuffix(href, "/"),
			lastModified: modified[:len(domain.DayFormat)],
		})
	})

	if l.logger != nil {
		l.logger.Debug("listed archive directory", "url", pageURL, "entries", len(entries))
	}
	return entries, nil
}
