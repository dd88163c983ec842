// internal/consumer/consumer.go
package consumer

import (
	"context"
	"fmt"

	"github.com/streadway/amqp"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"tenancy/internal/worker"
)

// Consumer holds the channel and control state of a running queue consumer.
type Consumer struct {
	QueueName   string
	ConsumerTag string
	Channel     *amqp.Channel
	Pool        *worker.Pool

	cancel context.CancelFunc
	done   chan struct{}
	log    *zap.Logger
}

// StartConsumer consumes queueName with manual acks and hands deliveries to pool.
// prefetch bounds the number of unacked deliveries held by this consumer.
func StartConsumer(ch *amqp.Channel, queueName, consumerTag string, prefetch int, pool *worker.Pool, log *zap.Logger) (*Consumer, error) {
	if prefetch > 0 {
		if err := ch.Qos(prefetch, 0, false); err != nil {
			return nil, multierr.Append(fmt.Errorf("queue %s: failed to set prefetch: %w", queueName, err), ch.Close())
		}
	}

	msgs, err := ch.Consume(
		queueName,
		consumerTag,
		false, // autoAck: false to handle manually
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return nil, multierr.Append(fmt.Errorf("queue %s: failed to start consuming: %w", queueName, err), ch.Close())
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Consumer{
		QueueName:   queueName,
		ConsumerTag: consumerTag,
		Channel:     ch,
		Pool:        pool,
		cancel:      cancel,
		done:        make(chan struct{}),
		log:         log.With(zap.String("queue", queueName), zap.String("consumer_tag", consumerTag)),
	}

	go func() {
		defer close(c.done)
		pool.Run(ctx, msgs)
	}()

	c.log.Info("started consumer")
	return c, nil
}

// Stop cancels the subscription, lets in-flight jobs finish and closes the channel.
// Unacked deliveries that were never started are returned to the queue by the broker.
func (c *Consumer) Stop() error {
	err := c.Channel.Cancel(c.ConsumerTag, false)
	if err != nil {
		// The delivery channel may never close; abort the pool instead.
		c.cancel()
	}
	<-c.done
	c.cancel()
	err = multierr.Append(err, c.Channel.Close())
	c.log.Info("stopped consumer", zap.Error(err))
	return err
}

// Done is closed once the delivery loop has exited, e.g. after the broker closed
// the channel.
func (c *Consumer) Done() <-chan struct{} {
	return c.done
}
