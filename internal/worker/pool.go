package worker

import (
	"context"
	"sync"

	"github.com/streadway/amqp"
	"go.uber.org/zap"

	"tenancy/internal/metrics"
)

// HandlerFunc processes one delivery and is responsible for acking it.
type HandlerFunc func(ctx context.Context, d amqp.Delivery)

// Pool drains a delivery channel with a fixed number of goroutines.
type Pool struct {
	workers int
	handler HandlerFunc
	log     *zap.Logger
}

func NewPool(workers int, handler HandlerFunc, log *zap.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}
	return &Pool{workers: workers, handler: handler, log: log}
}

// Run blocks until msgs is closed or ctx is done, then waits for in-flight
// deliveries. Handlers see ctx, so cancelling it aborts running jobs.
func (p *Pool) Run(ctx context.Context, msgs <-chan amqp.Delivery) {
	p.log.Info("starting worker pool", zap.Int("workers", p.workers))

	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case msg, ok := <-msgs:
					if !ok {
						return
					}
					p.handle(ctx, msg)
				}
			}
		}()
	}
	wg.Wait()
	p.log.Info("worker pool stopped")
}

// handle dead-letters a delivery whose handler panics so one bad job cannot
// take the worker down or be redelivered forever.
func (p *Pool) handle(ctx context.Context, msg amqp.Delivery) {
	metrics.WorkersActive.Inc()
	defer metrics.WorkersActive.Dec()
	defer func() {
		if v := recover(); v != nil {
			p.log.Error("handler panicked, dead-lettering delivery",
				zap.Any("panic", v),
				zap.String("message_id", msg.MessageId),
				zap.Stack("stack"),
			)
			_ = msg.Reject(false)
		}
	}()
	p.handler(ctx, msg)
}
