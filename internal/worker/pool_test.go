package worker

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/streadway/amqp"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestPool_DrainsUntilChannelCloses(t *testing.T) {
	var handled atomic.Int32
	pool := NewPool(3, func(_ context.Context, d amqp.Delivery) {
		handled.Add(1)
	}, zap.NewNop())

	msgs := make(chan amqp.Delivery, 10)
	for i := 0; i < 10; i++ {
		msgs <- amqp.Delivery{DeliveryTag: uint64(i)}
	}
	close(msgs)

	pool.Run(context.Background(), msgs)
	assert.Equal(t, int32(10), handled.Load())
}

func TestPool_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	pool := NewPool(0, func(context.Context, amqp.Delivery) {}, zap.NewNop())
	pool.Run(ctx, make(chan amqp.Delivery))
}

func TestPool_PanickingHandlerIsContained(t *testing.T) {
	var handled atomic.Int32
	pool := NewPool(1, func(_ context.Context, d amqp.Delivery) {
		if d.DeliveryTag == 1 {
			panic("nil tenant")
		}
		handled.Add(1)
	}, zap.NewNop())

	bad := &fakeAcknowledger{}
	msgs := make(chan amqp.Delivery, 2)
	msgs <- amqp.Delivery{Acknowledger: bad, DeliveryTag: 1}
	msgs <- amqp.Delivery{DeliveryTag: 2}
	close(msgs)

	pool.Run(context.Background(), msgs)
	assert.True(t, bad.rejected)
	assert.False(t, bad.requeued)
	assert.Equal(t, int32(1), handled.Load())
}
