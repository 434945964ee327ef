package alert

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"loginsight/internal/metrics"
)

var ErrQueueFull = errors.New("evaluation queue is full")

// Queue decouples evaluation from the ingest path. Triggers never block;
// when the buffer is full they are dropped and counted.
type Queue struct {
	ch      chan string
	eval    *Evaluator
	workers int
	metrics *metrics.Metrics
	log     *zap.Logger
}

func NewQueue(eval *Evaluator, size, workers int, m *metrics.Metrics, log *zap.Logger) *Queue {
	if size <= 0 {
		size = 1
	}
	if workers <= 0 {
		workers = 1
	}
	return &Queue{
		ch:      make(chan string, size),
		eval:    eval,
		workers: workers,
		metrics: m,
		log:     log,
	}
}

func (q *Queue) Trigger(_ context.Context, projectID string) error {
	select {
	case q.ch <- projectID:
		return nil
	default:
		q.metrics.TriggersDropped.Inc()
		return ErrQueueFull
	}
}

// Run starts the workers and blocks until ctx is cancelled.
func (q *Queue) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < q.workers; i++ {
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case projectID := <-q.ch:
					if err := q.eval.Trigger(ctx, projectID); err != nil {
						q.log.Error("alert evaluation failed", zap.String("project", projectID), zap.Error(err))
					}
				}
			}
		})
	}
	return g.Wait()
}
