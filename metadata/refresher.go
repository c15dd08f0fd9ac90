package metadata

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Refresher keeps the metadata snapshots warm in long-lived processes
// by periodically dropping the cache and refetching the instance
// registry. Short-lived callers don't need one; the cache fills lazily.
type Refresher struct {
	svc  *Service
	cron *cron.Cron
	log  logrus.FieldLogger
}

func NewRefresher(svc *Service, log logrus.FieldLogger) *Refresher {
	return &Refresher{
		svc:  svc,
		cron: cron.New(),
		log:  log,
	}
}

// Start schedules the refresh on a cron expression, e.g. "*/15 * * * *".
func (r *Refresher) Start(schedule string) error {
	_, err := r.cron.AddFunc(schedule, r.RefreshNow)
	if err != nil {
		return err
	}
	r.cron.Start()
	return nil
}

// RefreshNow drops the cached snapshots and refetches the instance
// registry immediately. The schedule calls it; callers may too after a
// known registry change.
func (r *Refresher) RefreshNow() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	r.svc.InvalidateCache()
	if _, err := r.svc.Instances(ctx); err != nil {
		r.log.WithError(err).Error("failed to refresh instance registry")
	}
}

// Stop halts the schedule. Safe to call multiple times.
func (r *Refresher) Stop() {
	r.cron.Stop()
}
