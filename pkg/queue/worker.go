package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	errs "github.com/angelmondragon/clubpay-backend/pkg/errors"
	"github.com/angelmondragon/clubpay-backend/pkg/logger"
	"github.com/angelmondragon/clubpay-backend/pkg/metrics"
)

const defaultPollInterval = time.Second

// Handler processes one job. Returning an error retries the job with
// exponential backoff unless the error is non-retryable or attempts are
// exhausted, in which case the job is failed and retained for inspection.
type Handler func(ctx context.Context, job *Job) error

// WorkerParams configure a Worker.
type WorkerParams struct {
	Queue        *Queue
	Handler      Handler
	Concurrency  int
	PollInterval time.Duration
	Lease        time.Duration
	Logger       *logger.Logger
	Metrics      *metrics.QueueMetrics
}

// Worker pulls jobs from one queue with bounded concurrency.
type Worker struct {
	queue        *Queue
	handler      Handler
	concurrency  int
	pollInterval time.Duration
	lease        time.Duration
	logg         *logger.Logger
	metrics      *metrics.QueueMetrics
}

func NewWorker(params WorkerParams) (*Worker, error) {
	if params.Queue == nil {
		return nil, errors.New("queue required")
	}
	if params.Handler == nil {
		return nil, errors.New("handler required")
	}
	concurrency := params.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	poll := params.PollInterval
	if poll <= 0 {
		poll = defaultPollInterval
	}
	lease := params.Lease
	if lease <= 0 {
		lease = defaultLease
	}
	logg := params.Logger
	if logg == nil {
		logg = params.Queue.logg
	}
	return &Worker{
		queue:        params.Queue,
		handler:      params.Handler,
		concurrency:  concurrency,
		pollInterval: poll,
		lease:        lease,
		logg:         logg,
		metrics:      params.Metrics,
	}, nil
}

// Run processes jobs until ctx is canceled.
func (w *Worker) Run(ctx context.Context) error {
	ctx = w.logg.WithFields(ctx, map[string]any{"queue": w.queue.name, "concurrency": w.concurrency})
	w.logg.Info(ctx, "queue worker starting")

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < w.concurrency; i++ {
		g.Go(func() error { return w.loop(gctx) })
	}
	g.Go(func() error { return w.maintain(gctx) })

	err := g.Wait()
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		w.logg.Info(ctx, "queue worker stopped")
		return nil
	}
	return err
}

func (w *Worker) loop(ctx context.Context) error {
	token := uuid.NewString()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		processed, err := w.ProcessNext(ctx, token)
		if err != nil {
			w.logg.Error(ctx, "queue reserve failed", err)
		}
		if !processed {
			if err := sleep(ctx, w.pollInterval); err != nil {
				return err
			}
		}
	}
}

func (w *Worker) maintain(ctx context.Context) error {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := w.queue.PromoteDelayed(ctx); err != nil && ctx.Err() == nil {
				w.logg.Error(ctx, "promote delayed jobs failed", err)
			}
			moved, err := w.queue.RecoverStalled(ctx)
			if err != nil && ctx.Err() == nil {
				w.logg.Error(ctx, "stalled job recovery failed", err)
			}
			if moved > 0 {
				w.logg.Warn(w.logg.WithField(ctx, "count", moved), "requeued stalled jobs")
			}
		}
	}
}

// ProcessNext reserves and handles at most one job. It reports whether a job was found.
func (w *Worker) ProcessNext(ctx context.Context, token string) (bool, error) {
	job, err := w.queue.reserve(ctx, w.lease, token)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}
	w.handle(ctx, job)
	return true, nil
}

func (w *Worker) handle(ctx context.Context, job *Job) {
	jobCtx := w.logg.WithJob(ctx, w.queue.name, job.ID)
	jobCtx = w.logg.WithField(jobCtx, "attempt", job.AttemptsMade)

	stopHeartbeat := w.heartbeat(jobCtx, job.ID)
	start := time.Now()
	err := w.invoke(jobCtx, job)
	stopHeartbeat()
	w.metrics.ObserveDuration(w.queue.name, time.Since(start))

	// Settle on a fresh context so shutdown does not strand the job in active.
	settleCtx, cancel := context.WithTimeout(context.WithoutCancel(jobCtx), 5*time.Second)
	defer cancel()

	if err == nil {
		if cErr := w.queue.complete(settleCtx, job); cErr != nil {
			w.logg.Error(jobCtx, "failed to mark job completed", cErr)
		}
		w.metrics.IncOutcome(w.queue.name, "completed")
		return
	}

	if errs.IsRetryable(err) && job.AttemptsMade < job.MaxAttempts {
		delay := backoffFor(job.Backoff, job.AttemptsMade)
		w.logg.Warn(w.logg.WithFields(jobCtx, map[string]any{"error": err.Error(), "retry_in_ms": delay.Milliseconds()}), "job failed; retrying")
		if rErr := w.queue.retry(settleCtx, job, delay, err); rErr != nil {
			w.logg.Error(jobCtx, "failed to schedule job retry", rErr)
		}
		w.metrics.IncOutcome(w.queue.name, "retried")
		return
	}

	w.logg.Error(jobCtx, "job failed permanently", err)
	if fErr := w.queue.fail(settleCtx, job, err); fErr != nil {
		w.logg.Error(jobCtx, "failed to mark job failed", fErr)
	}
	w.metrics.IncOutcome(w.queue.name, "failed")
}

func (w *Worker) invoke(ctx context.Context, job *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job handler panic: %v", r)
		}
	}()
	return w.handler(ctx, job)
}

func (w *Worker) heartbeat(ctx context.Context, id string) func() {
	hbCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(w.lease / 3)
		defer ticker.Stop()
		for {
			select {
			case <-hbCtx.Done():
				return
			case <-ticker.C:
				if err := w.queue.extendLease(hbCtx, id, w.lease); err != nil && hbCtx.Err() == nil {
					w.logg.Warn(ctx, "failed to extend job lease")
				}
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
