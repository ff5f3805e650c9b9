package service

import (
	"fmt"
	"time"

	cron "github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"querydeck/internal/core"
)

// Retention prunes history older than a number of days on a cron schedule.
type Retention struct {
	repo  core.HistoryRepository
	days  int
	log   logrus.FieldLogger
	now   func() time.Time
	inner *cron.Cron
}

func NewRetention(repo core.HistoryRepository, days int, log logrus.FieldLogger) *Retention {
	return &Retention{
		repo:  repo,
		days:  days,
		log:   log,
		now:   time.Now,
		inner: cron.New(),
	}
}

// Start schedules pruning. With retention disabled (0 days) it does nothing.
func (r *Retention) Start(schedule string) error {
	if r.days <= 0 {
		return nil
	}
	if _, err := r.inner.AddFunc(schedule, func() { _, _ = r.Prune() }); err != nil {
		return fmt.Errorf("invalid prune schedule %q: %w", schedule, err)
	}
	r.inner.Start()
	r.log.WithFields(logrus.Fields{"days": r.days, "schedule": schedule}).Info("history retention enabled")
	return nil
}

// Prune deletes entries older than the retention window.
func (r *Retention) Prune() (int64, error) {
	if r.days <= 0 {
		return 0, nil
	}
	cutoff := r.now().AddDate(0, 0, -r.days)
	n, err := r.repo.PruneBefore(cutoff)
	if err != nil {
		r.log.WithError(&core.StoreError{Op: "prune history", Err: err}).Error("history pruning failed")
		return 0, err
	}
	if n > 0 {
		r.log.WithFields(logrus.Fields{"removed": n, "before": cutoff.Format(time.RFC3339)}).Info("pruned query history")
	}
	return n, nil
}

// Stop waits for a running prune to finish.
func (r *Retention) Stop() {
	<-r.inner.Stop().Done()
}
