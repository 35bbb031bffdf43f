package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"roadwatch/internal/domain"
	"roadwatch/internal/ports"
)

// Watermark persists the crawl status file. Advance only ever moves the
// last-day watermark forward, so days completing out of order across
// parallel workers cannot roll it back.
type Watermark struct {
	path string
}

var _ ports.WatermarkStore = (*Watermark)(nil)

// NewWatermark points the store at its status file.
func NewWatermark(path string) *Watermark {
	return &Watermark{path: path}
}

// Load reads the current status. A missing file yields a zero status.
func (w *Watermark) Load() (domain.CrawlStatus, error) {
	raw, err := os.ReadFile(w.path)
	if errors.Is(err, fs.ErrNotExist) {
		return domain.CrawlStatus{}, nil
	}
	if err != nil {
		return domain.CrawlStatus{}, fmt.Errorf("read status: %w", err)
	}

	var status domain.CrawlStatus
	if err := json.Unmarshal(raw, &status); err != nil {
		return domain.CrawlStatus{}, fmt.Errorf("parse status: %w", err)
	}
	return status, nil
}

// Advance records day as processed: first_day is set once, last_day only
// when day is strictly greater than the stored value. ISO dates compare
// correctly as strings. Callers hold the merge lock.
func (w *Watermark) Advance(day string) error {
	status, err := w.Load()
	if err != nil {
		return err
	}

	changed := false
	if status.FirstDay == "" || day < status.FirstDay {
		status.FirstDay = day
		changed = true
	}
	if day > status.LastDay {
		status.LastDay = day
		changed = true
	}
	if !changed {
		return nil
	}

	raw, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("encode status: %w", err)
	}
	if err := os.WriteFile(w.path, raw, 0o644); err != nil {
		return fmt.Errorf("write status: %w", err)
	}
	return nil
}
