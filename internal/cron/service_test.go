package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/clubpay-backend/pkg/logger"
	"github.com/angelmondragon/clubpay-backend/pkg/redis"
)

type fakeLock struct {
	held     bool
	releases int
}

func (f *fakeLock) Acquire(context.Context) (bool, error) {
	if f.held {
		return false, nil
	}
	f.held = true
	return true, nil
}

func (f *fakeLock) Release(context.Context) error {
	f.held = false
	f.releases++
	return nil
}

type countingJob struct {
	name string
	err  error
	runs int
}

func (c *countingJob) Name() string { return c.name }

func (c *countingJob) Run(context.Context) error {
	c.runs++
	return c.err
}

func TestServiceRunOnceRunsAllJobsEvenOnFailure(t *testing.T) {
	ok := &countingJob{name: "ok"}
	failing := &countingJob{name: "fail", err: errors.New("boom")}
	after := &countingJob{name: "after"}
	registry, err := NewRegistry(failing, ok, after)
	require.NoError(t, err)
	lock := &fakeLock{}

	service, err := NewService(ServiceParams{Logger: logger.Nop(), Registry: registry, Lock: lock})
	require.NoError(t, err)
	require.NoError(t, service.RunOnce(context.Background()))

	require.Equal(t, 1, failing.runs)
	require.Equal(t, 1, ok.runs)
	require.Equal(t, 1, after.runs)
	require.Equal(t, 1, lock.releases)
	require.False(t, lock.held)
}

func TestServiceSkipsWhenLockHeld(t *testing.T) {
	job := &countingJob{name: "job"}
	registry, err := NewRegistry(job)
	require.NoError(t, err)

	service, err := NewService(ServiceParams{Logger: logger.Nop(), Registry: registry, Lock: &fakeLock{held: true}})
	require.NoError(t, err)
	require.NoError(t, service.RunOnce(context.Background()))
	require.Zero(t, job.runs)
}

func TestNewServiceRequiresLoggerAndLock(t *testing.T) {
	_, err := NewService(ServiceParams{Lock: &fakeLock{}})
	require.Error(t, err)
	_, err = NewService(ServiceParams{Logger: logger.Nop()})
	require.Error(t, err)
}

func TestRedisLockIsExclusiveAndOwnerScoped(t *testing.T) {
	mr := miniredis.RunT(t)
	raw := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = raw.Close() })
	client := redis.Wrap(raw)
	key := client.LockKey("cron", "billing")

	first, err := NewRedisLock(client, key, time.Minute)
	require.NoError(t, err)
	second, err := NewRedisLock(client, key, time.Minute)
	require.NoError(t, err)

	ok, err := first.Acquire(context.Background())
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = second.Acquire(context.Background())
	require.NoError(t, err)
	require.False(t, ok)

	// A lock that never acquired must not free someone else's key.
	require.NoError(t, second.Release(context.Background()))
	require.True(t, mr.Exists(key))

	require.NoError(t, first.Release(context.Background()))
	require.False(t, mr.Exists(key))

	ok, err = second.Acquire(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
}

func TestNewRedisLockValidation(t *testing.T) {
	_, err := NewRedisLock(nil, "k", time.Minute)
	require.Error(t, err)

	mr := miniredis.RunT(t)
	raw := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = raw.Close() })
	_, err = NewRedisLock(redis.Wrap(raw), "", time.Minute)
	require.Error(t, err)
}
