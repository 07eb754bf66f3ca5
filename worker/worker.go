// Package worker implements the polling loop that repeatedly
// handles the jobs of a queue with a handler.
package worker

import (
	"context"
	"sync"
	"time"

	"github.com/domonda/go-errs"
	"golang.org/x/sync/errgroup"

	"github.com/domonda/go-simplequeue"
)

// Queue is the part of *simplequeue.Client used by workers.
type Queue interface {
	Handle(ctx context.Context, handler simplequeue.Handler, opts ...simplequeue.Option) (result any, err error)
	ShutdownRequested() bool
	ShutdownSignal() <-chan struct{}
}

var _ Queue = (*simplequeue.Client)(nil)

// Work handles jobs of config.Queue with handler until a shutdown
// of the queue is requested, ctx is done, config.Limit attempts were made,
// or a job failed with config.StopOnFailure set.
//
// Every iteration attempts to handle one job and then sleeps
// for config.RestInterval, whether a job was available or not.
// A shutdown interrupts the sleep but never a running handler.
//
// The error of the failed job is returned if the worker stopped
// because of config.StopOnFailure, otherwise nil.
func Work(ctx context.Context, queue Queue, handler simplequeue.Handler, config Config) (err error) {
	defer errs.WrapWithFuncParams(&err, ctx, queue, handler, config)

	return work(ctx, queue, handler, config, nil)
}

// work is Work that also stops when the stop channel is closed.
// A nil stop channel is never closed.
func work(ctx context.Context, queue Queue, handler simplequeue.Handler, config Config, stop <-chan struct{}) error {
	if handler == nil {
		return simplequeue.ErrNilHandler
	}
	queueName, err := simplequeue.QueueName(config.Queue)
	if err != nil {
		return err
	}
	log := config.logger()

	log.Debug("Worker started").
		Str("queue", queueName).
		Log()
	defer log.Debug("Worker stopped").
		Str("queue", queueName).
		Log()

	for attempts := 1; ; attempts++ {
		if stopRequested(ctx, queue, stop) {
			return nil
		}

		result, err := queue.Handle(ctx, handler,
			simplequeue.InQueue(queueName),
			simplequeue.ReturnJobFailed(),
		)
		if err != nil {
			if config.LogErrors {
				config.onError(err)
				log.ErrorCtx(ctx, "Job failed").
					Str("queue", queueName).
					Err(err).
					Log()
			}
			if config.StopOnFailure {
				return err
			}
		} else if config.LogResults {
			config.onResult(result)
			log.Info("Job result").
				Str("queue", queueName).
				Any("result", result).
				Log()
		}

		if stopRequested(ctx, queue, stop) {
			return nil
		}

		if config.Limit > 0 && attempts >= config.Limit {
			log.Info("Job limit reached").
				Str("queue", queueName).
				Int("limit", config.Limit).
				Log()
			return nil
		}

		rest(ctx, queue, stop, config.RestInterval)
	}
}

func stopRequested(ctx context.Context, queue Queue, stop <-chan struct{}) bool {
	select {
	case <-stop:
		return true
	default:
	}
	return queue.ShutdownRequested() || ctx.Err() != nil
}

// rest sleeps for interval or until a shutdown is requested,
// stop is closed or ctx is done.
func rest(ctx context.Context, queue Queue, stop <-chan struct{}, interval time.Duration) {
	if interval <= 0 {
		return
	}
	timer := time.NewTimer(interval)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-queue.ShutdownSignal():
	case <-stop:
	case <-ctx.Done():
	}
}

// RunConcurrently runs numWorkers Work loops in goroutines
// and waits until all of them have stopped.
// The workers coordinate only through the reservations of the backend.
// If a worker stops with an error then the others stop
// after their current job and the first error is returned.
// The context of running handlers is not canceled for that.
func RunConcurrently(ctx context.Context, numWorkers int, queue Queue, handler simplequeue.Handler, config Config) (err error) {
	defer errs.WrapWithFuncParams(&err, ctx, numWorkers, queue, handler, config)

	if numWorkers <= 0 {
		return errs.New("need at least 1 worker")
	}

	var (
		group    errgroup.Group
		stop     = make(chan struct{})
		stopOnce sync.Once
	)
	for i := range numWorkers {
		workerConfig := config
		logger, workerCtx := config.logger().With().
			Int("workerIndex", i).
			SubLoggerContext(ctx)
		workerConfig.Logger = logger

		group.Go(func() error {
			err := work(workerCtx, queue, handler, workerConfig, stop)
			if err != nil {
				stopOnce.Do(func() { close(stop) })
			}
			return err
		})
	}
	return group.Wait()
}
