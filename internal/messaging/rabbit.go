// internal/messaging/rabbit.go
package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/streadway/amqp"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"tenancy/internal/metrics"
	"tenancy/internal/model"
)

// EventsExchange is the topic exchange tenant lifecycle events are published to.
const EventsExchange = "tenant.events"

// Topology names the provisioning queues. Jobs that need another attempt wait in
// the retry queue until RetryDelay expires and are dead-lettered back to Queue.
// Jobs rejected by a worker are dead-lettered to the DLQ.
type Topology struct {
	Queue      string
	RetryDelay time.Duration
}

func (t Topology) RetryQueue() string      { return t.Queue + "_retry" }
func (t Topology) DeadLetterQueue() string { return t.Queue + "_dlq" }

type RabbitClient struct {
	conn     *amqp.Connection
	mu       sync.Mutex
	channel  *amqp.Channel
	topology Topology
	log      *zap.Logger
	URL      string
}

func NewRabbitClient(url string, topology Topology, log *zap.Logger) (*RabbitClient, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create channel: %w", err)
	}

	return &RabbitClient{
		conn:     conn,
		channel:  ch,
		topology: topology,
		log:      log,
		URL:      url,
	}, nil
}

func (r *RabbitClient) Topology() Topology {
	return r.topology
}

// Channel opens a dedicated channel, e.g. for a consumer.
func (r *RabbitClient) Channel() (*amqp.Channel, error) {
	return r.conn.Channel()
}

// Declare creates the durable queues and the event exchange. It is safe to call
// on every start.
func (r *RabbitClient) Declare() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t := r.topology
	// 1. DLQ
	if _, err := r.channel.QueueDeclare(t.DeadLetterQueue(), true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare DLQ: %w", err)
	}

	// 2. Work queue, rejected messages go to the DLQ
	if _, err := r.channel.QueueDeclare(t.Queue, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": t.DeadLetterQueue(),
	}); err != nil {
		return fmt.Errorf("declare work queue: %w", err)
	}

	// 3. Retry queue, expired messages go back to the work queue
	if _, err := r.channel.QueueDeclare(t.RetryQueue(), true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": t.Queue,
		"x-message-ttl":             t.RetryDelay.Milliseconds(),
	}); err != nil {
		return fmt.Errorf("declare retry queue: %w", err)
	}

	if err := r.channel.ExchangeDeclare(EventsExchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare events exchange: %w", err)
	}

	r.log.Info("rabbitmq topology declared",
		zap.String("queue", t.Queue),
		zap.String("retry_queue", t.RetryQueue()),
		zap.String("dlq", t.DeadLetterQueue()))
	return nil
}

// PublishJob enqueues a provisioning job on the work queue.
func (r *RabbitClient) PublishJob(ctx context.Context, job model.ProvisioningJob) error {
	return r.publishJob(ctx, r.topology.Queue, job)
}

// PublishRetry parks a job in the retry queue for the configured delay.
func (r *RabbitClient) PublishRetry(ctx context.Context, job model.ProvisioningJob) error {
	return r.publishJob(ctx, r.topology.RetryQueue(), job)
}

func (r *RabbitClient) publishJob(_ context.Context, queue string, job model.ProvisioningJob) error {
	body, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return r.publish("", queue, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    job.ID.String(),
		Timestamp:    time.Now().UTC(),
		Headers: amqp.Table{
			"tenant_id": strconv.FormatInt(job.TenantID, 10),
			"subdomain": job.Subdomain,
			"attempt":   int32(job.Attempt),
		},
		Body: body,
	})
}

// PublishEvent sends a lifecycle event routed by its type.
func (r *RabbitClient) PublishEvent(_ context.Context, ev model.TenantEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return r.publish(EventsExchange, ev.Type, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    ev.ID.String(),
		Timestamp:    ev.OccurredAt,
		Body:         body,
	})
}

func (r *RabbitClient) publish(exchange, key string, msg amqp.Publishing) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.channel.Publish(exchange, key, false, false, msg); err != nil {
		return fmt.Errorf("failed to publish to %s/%s: %w", exchange, key, err)
	}
	return nil
}

// UpdateQueueDepth refreshes the queue depth gauges.
func (r *RabbitClient) UpdateQueueDepth() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, name := range []string{r.topology.Queue, r.topology.RetryQueue(), r.topology.DeadLetterQueue()} {
		q, err := r.channel.QueueInspect(name)
		if err != nil {
			r.log.Warn("failed to inspect queue", zap.String("queue", name), zap.Error(err))
			continue
		}
		metrics.QueueDepth.WithLabelValues(name).Set(float64(q.Messages))
	}
}

// Close cleans up connection and channel
func (r *RabbitClient) Close() error {
	return multierr.Combine(r.channel.Close(), r.conn.Close())
}
