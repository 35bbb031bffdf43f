package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"roadwatch/internal/domain"
)

const defaultDayWorkers = 20

// leftOverPrefixes name the per-day artifact directories whose presence
// marks a day as abandoned by a previous run.
var leftOverPrefixes = []string{"diff_", "changesets_"}

// Scheduler computes the set of days to (re)process and fans day jobs out
// across a bounded worker pool. All jobs of one run share the download gate
// and merge lock carried in deps.
type Scheduler struct {
	deps     DayJobDeps
	workers  int
	startDay string
	logger   *slog.Logger
}

// NewScheduler builds a scheduler. startDay seeds the gap computation when
// no watermark has been persisted yet; empty means left-over days only.
func NewScheduler(deps DayJobDeps, workers int, startDay string, log *slog.Logger) *Scheduler {
	if workers <= 0 {
		workers = defaultDayWorkers
	}
	return &Scheduler{deps: deps, workers: workers, startDay: startDay, logger: log}
}

// PendingDays returns, sorted, every day strictly after the watermark up to
// and including yesterday, plus every day with a left-over non-empty
// artifact directory from an earlier incomplete run.
func (s *Scheduler) PendingDays(now time.Time) ([]string, error) {
	status, err := s.deps.Watermark.Load()
	if err != nil {
		return nil, fmt.Errorf("load watermark: %w", err)
	}

	lastDay := status.LastDay
	if lastDay == "" && s.startDay != "" {
		start, err := time.Parse(domain.DayFormat, s.startDay)
		if err != nil {
			return nil, fmt.Errorf("parse start day: %w", err)
		}
		// treat the day before startDay as processed
		lastDay = start.AddDate(0, 0, -1).Format(domain.DayFormat)
	}

	set := map[string]struct{}{}
	if lastDay != "" {
		last, err := time.Parse(domain.DayFormat, lastDay)
		if err != nil {
			return nil, fmt.Errorf("parse watermark day %q: %w", lastDay, err)
		}
		yesterday := now.UTC().AddDate(0, 0, -1).Format(domain.DayFormat)
		for d := last.AddDate(0, 0, 1); d.Format(domain.DayFormat) <= yesterday; d = d.AddDate(0, 0, 1) {
			set[d.Format(domain.DayFormat)] = struct{}{}
		}
	}

	leftOver, err := s.leftOverDays()
	if err != nil {
		return nil, err
	}
	for _, day := range leftOver {
		set[day] = struct{}{}
	}

	days := make([]string, 0, len(set))
	for day := range set {
		days = append(days, day)
	}
	sort.Strings(days)
	return days, nil
}

// leftOverDays scans the data dir for non-empty per-day artifact
// directories left behind by failed or interrupted runs.
func (s *Scheduler) leftOverDays() ([]string, error) {
	var days []string
	for _, prefix := range leftOverPrefixes {
		matches, err := filepath.Glob(filepath.Join(s.deps.DataDir, prefix+"*"))
		if err != nil {
			return nil, fmt.Errorf("scan left-over directories: %w", err)
		}
		for _, dir := range matches {
			day := strings.TrimPrefix(filepath.Base(dir), prefix)
			if _, err := time.Parse(domain.DayFormat, day); err != nil {
				continue
			}
			entries, err := os.ReadDir(dir)
			if err != nil || len(entries) == 0 {
				continue
			}
			days = append(days, day)
		}
	}
	return days, nil
}

// Run processes the pending work set. One day failing does not abort the
// batch: its artifacts stay on disk and it is re-selected on the next run.
func (s *Scheduler) Run(ctx context.Context, now time.Time) error {
	days, err := s.PendingDays(now)
	if err != nil {
		return err
	}
	if len(days) == 0 {
		if s.logger != nil {
			s.logger.Info("no pending days")
		}
		return nil
	}
	if s.logger != nil {
		s.logger.Info("backfill starting", "days", len(days), "first", days[0], "last", days[len(days)-1])
	}

	var g errgroup.Group
	g.SetLimit(s.workers)
	for _, dayStr := range days {
		dayStr := dayStr
		g.Go(func() error {
			day, err := time.Parse(domain.DayFormat, dayStr)
			if err != nil {
				return fmt.Errorf("parse day %q: %w", dayStr, err)
			}

			job := NewDayJob(s.deps)
			if _, err := job.Run(ctx, day); err != nil {
				if errors.Is(err, context.Canceled) {
					return err
				}
				if s.logger != nil {
					if errors.Is(err, domain.ErrNotReady) {
						s.logger.Info("day not published yet", "day", dayStr)
					} else {
						s.logger.Error("day failed", "day", dayStr, "error", err)
					}
				}
			}
			return nil
		})
	}
	return g.Wait()
}
