package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/permit/pkg/observability"
)

type fakePurger struct {
	calls     int
	olderThan time.Duration
	err       error
}

func (f *fakePurger) Purge(ctx context.Context, olderThan time.Duration) (int64, error) {
	f.calls++
	f.olderThan = olderThan
	if _, ok := ctx.Deadline(); !ok {
		return 0, errors.New("purge called without a deadline")
	}
	return 3, f.err
}

func TestPurgeJob_Run(t *testing.T) {
	purger := &fakePurger{}
	job := &purgeJob{purger: purger, retention: 48 * time.Hour, timeout: time.Second, logger: observability.NopLogger()}

	job.Run()
	assert.Equal(t, 1, purger.calls)
	assert.Equal(t, 48*time.Hour, purger.olderThan)

	purger.err = errors.New("database is locked")
	assert.NotPanics(t, job.Run)
	assert.Equal(t, 2, purger.calls)
}

func TestSchedulePurge(t *testing.T) {
	c := cron.New()
	id, err := schedulePurge(c, "@daily", &fakePurger{}, time.Hour, observability.NopLogger())
	require.NoError(t, err)

	entry := c.Entry(id)
	require.True(t, entry.Valid())
	_, ok := entry.Job.(*purgeJob)
	assert.True(t, ok)

	_, err = schedulePurge(c, "not a schedule", &fakePurger{}, time.Hour, observability.NopLogger())
	assert.Error(t, err)
}
