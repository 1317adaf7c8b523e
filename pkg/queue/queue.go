package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/angelmondragon/clubpay-backend/pkg/logger"
	"github.com/angelmondragon/clubpay-backend/pkg/metrics"
)

const (
	defaultPrefix  = "cp"
	maxBackoff     = time.Hour
	promoteBatch   = 100
	defaultLease   = 5 * time.Minute
	defaultAttempt = 1
)

// Options is the retry and retention policy of a job.
type Options struct {
	Attempts      int
	Backoff       time.Duration
	KeepCompleted time.Duration
	KeepFailed    time.Duration
}

func (o Options) merge(override *Options) Options {
	if override == nil {
		return o
	}
	out := o
	if override.Attempts > 0 {
		out.Attempts = override.Attempts
	}
	if override.Backoff > 0 {
		out.Backoff = override.Backoff
	}
	if override.KeepCompleted > 0 {
		out.KeepCompleted = override.KeepCompleted
	}
	if override.KeepFailed > 0 {
		out.KeepFailed = override.KeepFailed
	}
	return out
}

// Params configure a Queue.
type Params struct {
	Client   *redis.Client
	Name     string
	Prefix   string
	Defaults Options
	Logger   *logger.Logger
	Metrics  *metrics.QueueMetrics
}

// Queue is a Redis-backed job queue with deterministic job ids.
type Queue struct {
	rdb      *redis.Client
	name     string
	base     string
	defaults Options
	logg     *logger.Logger
	metrics  *metrics.QueueMetrics
	now      func() time.Time
}

// BulkResult reports which submissions were accepted.
type BulkResult struct {
	Added      []string
	Duplicates []string
}

// Counts is a snapshot of queue depth per state.
type Counts struct {
	Waiting int64
	Active  int64
	Delayed int64
	Failed  int64
}

func New(params Params) (*Queue, error) {
	if params.Client == nil {
		return nil, errors.New("redis client required")
	}
	name := strings.TrimSpace(params.Name)
	if name == "" {
		return nil, errors.New("queue name required")
	}
	prefix := strings.TrimSpace(params.Prefix)
	if prefix == "" {
		prefix = defaultPrefix
	}
	defaults := params.Defaults
	if defaults.Attempts <= 0 {
		defaults.Attempts = defaultAttempt
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	return &Queue{
		rdb:      params.Client,
		name:     name,
		base:     fmt.Sprintf("%s:q:%s", prefix, name),
		defaults: defaults,
		logg:     logg,
		metrics:  params.Metrics,
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

func (q *Queue) Name() string { return q.name }

func (q *Queue) jobKey(id string) string   { return q.base + ":job:" + id }
func (q *Queue) leaseKey(id string) string { return q.base + ":lease:" + id }
func (q *Queue) waitKey() string           { return q.base + ":wait" }
func (q *Queue) activeKey() string         { return q.base + ":active" }
func (q *Queue) delayedKey() string        { return q.base + ":delayed" }
func (q *Queue) failedKey() string         { return q.base + ":failed" }

// Add submits one job. It returns false when a job with the same id already
// exists in any state, including retained completed or failed jobs.
func (q *Queue) Add(ctx context.Context, spec Spec) (bool, error) {
	keys, args, err := q.addArgs(spec)
	if err != nil {
		return false, err
	}
	added, err := addScript.Run(ctx, q.rdb, keys, args...).Int()
	if err != nil {
		return false, fmt.Errorf("add job %s: %w", spec.ID, err)
	}
	q.recordAdd(added == 1)
	return added == 1, nil
}

// AddBulk submits all jobs in one round trip.
func (q *Queue) AddBulk(ctx context.Context, specs []Spec) (BulkResult, error) {
	var result BulkResult
	if len(specs) == 0 {
		return result, nil
	}
	if err := addScript.Load(ctx, q.rdb).Err(); err != nil {
		return result, fmt.Errorf("load add script: %w", err)
	}

	cmds := make([]*redis.Cmd, 0, len(specs))
	pipe := q.rdb.Pipeline()
	for _, spec := range specs {
		keys, args, err := q.addArgs(spec)
		if err != nil {
			return result, err
		}
		cmds = append(cmds, addScript.EvalSha(ctx, pipe, keys, args...))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return result, fmt.Errorf("add bulk: %w", err)
	}

	for i, cmd := range cmds {
		added, err := cmd.Int()
		if err != nil {
			return result, fmt.Errorf("add job %s: %w", specs[i].ID, err)
		}
		q.recordAdd(added == 1)
		if added == 1 {
			result.Added = append(result.Added, specs[i].ID)
		} else {
			result.Duplicates = append(result.Duplicates, specs[i].ID)
		}
	}
	return result, nil
}

func (q *Queue) addArgs(spec Spec) ([]string, []any, error) {
	id := strings.TrimSpace(spec.ID)
	if id == "" {
		return nil, nil, errors.New("job id required")
	}
	name := spec.Name
	if name == "" {
		name = q.name
	}
	data, err := json.Marshal(spec.Data)
	if err != nil {
		return nil, nil, fmt.Errorf("encode job %s: %w", id, err)
	}
	opts := q.defaults.merge(spec.Options)
	keys := []string{q.jobKey(id), q.waitKey()}
	args := []any{
		id,
		name,
		string(data),
		opts.Attempts,
		opts.Backoff.Milliseconds(),
		opts.KeepCompleted.Milliseconds(),
		opts.KeepFailed.Milliseconds(),
		q.now().UnixMilli(),
	}
	return keys, args, nil
}

func (q *Queue) recordAdd(added bool) {
	if added {
		q.metrics.IncEnqueued(q.name)
		return
	}
	q.metrics.IncDuplicate(q.name)
}

// Get loads a job by id. Missing jobs return (nil, nil).
func (q *Queue) Get(ctx context.Context, id string) (*Job, error) {
	fields, err := q.rdb.HGetAll(ctx, q.jobKey(id)).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return jobFromFields(q.name, id, fields), nil
}

// Counts reports queue depth.
func (q *Queue) Counts(ctx context.Context) (Counts, error) {
	pipe := q.rdb.Pipeline()
	wait := pipe.LLen(ctx, q.waitKey())
	active := pipe.LLen(ctx, q.activeKey())
	delayed := pipe.ZCard(ctx, q.delayedKey())
	failed := pipe.ZCard(ctx, q.failedKey())
	if _, err := pipe.Exec(ctx); err != nil {
		return Counts{}, err
	}
	return Counts{
		Waiting: wait.Val(),
		Active:  active.Val(),
		Delayed: delayed.Val(),
		Failed:  failed.Val(),
	}, nil
}

// Failed lists the most recent permanently failed jobs still retained.
func (q *Queue) Failed(ctx context.Context, limit int64) ([]*Job, error) {
	if limit <= 0 {
		limit = 50
	}
	ids, err := q.rdb.ZRevRange(ctx, q.failedKey(), 0, limit-1).Result()
	if err != nil {
		return nil, err
	}
	jobs := make([]*Job, 0, len(ids))
	for _, id := range ids {
		job, err := q.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if job != nil {
			jobs = append(jobs, job)
		}
	}
	return jobs, nil
}

func (q *Queue) reserve(ctx context.Context, lease time.Duration, token string) (*Job, error) {
	res, err := reserveScript.Run(ctx, q.rdb,
		[]string{q.waitKey(), q.activeKey()},
		q.base, lease.Milliseconds(), token, q.now().UnixMilli(),
	).StringSlice()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reserve: %w", err)
	}
	if len(res) == 0 {
		return nil, nil
	}
	return jobFromFields(q.name, res[0], pairsToMap(res[1:])), nil
}

func (q *Queue) extendLease(ctx context.Context, id string, lease time.Duration) error {
	return q.rdb.PExpire(ctx, q.leaseKey(id), lease).Err()
}

func (q *Queue) complete(ctx context.Context, job *Job) error {
	return completeScript.Run(ctx, q.rdb,
		[]string{q.activeKey(), q.jobKey(job.ID), q.leaseKey(job.ID)},
		job.ID, q.now().UnixMilli(),
	).Err()
}

func (q *Queue) retry(ctx context.Context, job *Job, delay time.Duration, cause error) error {
	readyAt := q.now().Add(delay).UnixMilli()
	return retryScript.Run(ctx, q.rdb,
		[]string{q.activeKey(), q.jobKey(job.ID), q.leaseKey(job.ID), q.delayedKey()},
		job.ID, readyAt, errorText(cause),
	).Err()
}

func (q *Queue) fail(ctx context.Context, job *Job, cause error) error {
	return failScript.Run(ctx, q.rdb,
		[]string{q.activeKey(), q.jobKey(job.ID), q.leaseKey(job.ID), q.failedKey()},
		job.ID, q.now().UnixMilli(), errorText(cause),
	).Err()
}

// PromoteDelayed moves delayed jobs whose backoff elapsed back to wait.
func (q *Queue) PromoteDelayed(ctx context.Context) (int, error) {
	return promoteScript.Run(ctx, q.rdb,
		[]string{q.delayedKey(), q.waitKey()},
		q.base, q.now().UnixMilli(), promoteBatch,
	).Int()
}

// RecoverStalled requeues active jobs whose worker stopped renewing its lease.
func (q *Queue) RecoverStalled(ctx context.Context) (int, error) {
	return recoverScript.Run(ctx, q.rdb,
		[]string{q.activeKey(), q.waitKey()},
		q.base,
	).Int()
}

// backoffFor returns base * 2^(attempt-1), capped.
func backoffFor(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	if attempt < 1 {
		attempt = 1
	}
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxBackoff {
			return maxBackoff
		}
	}
	return delay
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
