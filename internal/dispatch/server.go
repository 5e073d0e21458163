package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/hibiken/asynq"
)

const sweepTimeout = 10 * time.Minute

// NewServer builds the queue server. Retries wait a fixed delay.
func NewServer(redis asynq.RedisConnOpt, opts Options, concurrency int, logger *slog.Logger) *asynq.Server {
	opts = opts.withDefaults()
	if concurrency <= 0 {
		concurrency = 10
	}
	return asynq.NewServer(redis, asynq.Config{
		Concurrency: concurrency,
		Queues:      map[string]int{opts.Queue: 1},
		RetryDelayFunc: func(n int, err error, t *asynq.Task) time.Duration {
			return opts.RetryDelay
		},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, t *asynq.Task, err error) {
			retried, _ := asynq.GetRetryCount(ctx)
			maxRetry, _ := asynq.GetMaxRetry(ctx)
			logger.Error("job failed",
				"task_type", t.Type(),
				"retry", retried,
				"max_retry", maxRetry,
				"error", err)
		}),
		Logger: NewQueueLogger(logger),
	})
}

// NewScheduler registers the periodic sweep.
func NewScheduler(redis asynq.RedisConnOpt, cronspec, queue string, logger *slog.Logger) (*asynq.Scheduler, error) {
	if queue == "" {
		queue = DefaultQueue
	}
	scheduler := asynq.NewScheduler(redis, &asynq.SchedulerOpts{
		Location: time.UTC,
		Logger:   NewQueueLogger(logger),
	})
	entryID, err := scheduler.Register(cronspec, NewSweepTask(),
		asynq.Queue(queue),
		asynq.MaxRetry(0),
		asynq.Timeout(sweepTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("register sweep %q: %w", cronspec, err)
	}
	logger.Info("sweep scheduled", "cronspec", cronspec, "entry_id", entryID)
	return scheduler, nil
}

// QueueLogger adapts slog to the asynq logger interface.
type QueueLogger struct {
	logger *slog.Logger
}

func NewQueueLogger(logger *slog.Logger) *QueueLogger {
	return &QueueLogger{logger: logger.With("component", "asynq")}
}

func (l *QueueLogger) Debug(args ...interface{}) { l.logger.Debug(fmt.Sprint(args...)) }
func (l *QueueLogger) Info(args ...interface{})  { l.logger.Info(fmt.Sprint(args...)) }
func (l *QueueLogger) Warn(args ...interface{})  { l.logger.Warn(fmt.Sprint(args...)) }
func (l *QueueLogger) Error(args ...interface{}) { l.logger.Error(fmt.Sprint(args...)) }

func (l *QueueLogger) Fatal(args ...interface{}) {
	l.logger.Error(fmt.Sprint(args...))
	os.Exit(1)
}
