package main

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/permit/pkg/observability"
)

// Purger deletes audit events older than a retention window
type Purger interface {
	Purge(ctx context.Context, olderThan time.Duration) (int64, error)
}

// purgeJob removes expired audit events on each run
type purgeJob struct {
	purger    Purger
	retention time.Duration
	timeout   time.Duration
	logger    *observability.Logger
}

// Run implements cron.Job
func (j *purgeJob) Run() {
	defer observability.RecoverPanic(j.logger, "audit purge")

	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	start := time.Now()
	n, err := j.purger.Purge(ctx, j.retention)
	if err != nil {
		j.logger.WithError(err).Error("Audit purge failed")
		return
	}
	j.logger.WithFields(map[string]interface{}{
		"deleted":     n,
		"retention":   j.retention.String(),
		"duration_ms": time.Since(start).Milliseconds(),
	}).Info("Audit purge complete")
}

// schedulePurge registers the purge job on c. The schedule was validated at
// config load.
func schedulePurge(c *cron.Cron, schedule string, purger Purger, retention time.Duration, logger *observability.Logger) (cron.EntryID, error) {
	return c.AddJob(schedule, &purgeJob{
		purger:    purger,
		retention: retention,
		timeout:   5 * time.Minute,
		logger:    logger.WithField("job", "audit_purge"),
	})
}
