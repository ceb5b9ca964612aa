package storage

import (
	"fmt"
	"time"

	"github.com/phuslu/log"
	"github.com/robfig/cron/v3"
)

// Janitor periodically removes stored files nobody downloaded.
type Janitor struct {
	store     *Store
	retention time.Duration
	onRemove  func(name string)
	cron      *cron.Cron
	logger    *log.Logger
}

// NewJanitor creates a janitor. onRemove, if set, is called for every file deleted.
func NewJanitor(store *Store, retention time.Duration, onRemove func(string), logger *log.Logger) *Janitor {
	return &Janitor{
		store:     store,
		retention: retention,
		onRemove:  onRemove,
		cron:      cron.New(),
		logger:    logger,
	}
}

// Start registers the sweep on schedule (cron syntax or "@every 1h").
// A zero retention disables the janitor.
func (j *Janitor) Start(schedule string) error {
	if j.retention <= 0 || schedule == "" {
		j.logger.Info().Msg("storage janitor disabled")
		return nil
	}
	if _, err := j.cron.AddFunc(schedule, func() { j.Sweep(time.Now()) }); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}
	j.cron.Start()
	j.logger.Info().
		Str("schedule", schedule).
		Dur("retention", j.retention).
		Msg("storage janitor started")
	return nil
}

// Stop halts the schedule and waits for a running sweep.
func (j *Janitor) Stop() {
	<-j.cron.Stop().Done()
}

// Sweep deletes files older than the retention window and returns how many went.
func (j *Janitor) Sweep(now time.Time) int {
	names, err := j.store.Older(now.Add(-j.retention))
	if err != nil {
		j.logger.Warn().Err(err).Msg("storage sweep failed to list files")
		return 0
	}

	removed := 0
	for _, name := range names {
		if err := j.store.Remove(name); err != nil {
			j.logger.Warn().Err(err).Str("file", name).Msg("storage sweep failed to delete file")
			continue
		}
		if j.onRemove != nil {
			j.onRemove(name)
		}
		removed++
	}
	if removed > 0 {
		j.logger.Info().Int("removed", removed).Msg("storage sweep done")
	}
	return removed
}
