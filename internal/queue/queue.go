package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/streadway/amqp"

	"github.com/baijum/kanakku-sub001/internal/model"
)

// Delivery is one dequeued job. The consumer must either Ack it
// (permanently removing it) or Requeue it; an unacknowledged delivery is
// eventually redelivered to another consumer.
type Delivery interface {
	Job() model.Job
	Ack() error
	Requeue() error
}

// Queue is a durable, at-least-once job queue. Exactly-once effect is the
// worker's responsibility, not the queue's.
type Queue interface {
	Enqueue(ctx context.Context, job model.Job) error
	Dequeue(ctx context.Context) (Delivery, error)
	Close() error
}

// AMQPQueue implements Queue on top of a durable RabbitMQ queue with
// persistent publishing and manual acknowledgment.
type AMQPQueue struct {
	conn       *amqp.Connection
	channel    *amqp.Channel
	name       string
	deliveries <-chan amqp.Delivery
}

// NewAMQPQueue connects to the broker and declares the durable queue.
func NewAMQPQueue(url, name string, prefetch int) (*AMQPQueue, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to queue broker: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	if _, err := ch.QueueDeclare(
		name,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare queue: %w", err)
	}

	if prefetch > 0 {
		if err := ch.Qos(prefetch, 0, false); err != nil {
			ch.Close()
			conn.Close()
			return nil, fmt.Errorf("failed to set prefetch: %w", err)
		}
	}

	return &AMQPQueue{conn: conn, channel: ch, name: name}, nil
}

// Enqueue publishes a job as a persistent message. It returns once the
// broker has accepted the message.
func (q *AMQPQueue) Enqueue(ctx context.Context, job model.Job) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	err = q.channel.Publish(
		"",     // exchange
		q.name, // routing key
		false,  // mandatory
		false,  // immediate
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  "application/json",
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish job: %w", err)
	}
	return nil
}

// Dequeue blocks until a job is available or the context is cancelled.
func (q *AMQPQueue) Dequeue(ctx context.Context) (Delivery, error) {
	if q.deliveries == nil {
		deliveries, err := q.channel.Consume(
			q.name,
			"",    // consumer tag
			false, // autoAck off: jobs survive worker crashes
			false,
			false,
			false,
			nil,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to register consumer: %w", err)
		}
		q.deliveries = deliveries
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case d, ok := <-q.deliveries:
		if !ok {
			return nil, fmt.Errorf("queue channel closed")
		}
		var job model.Job
		if err := json.Unmarshal(d.Body, &job); err != nil {
			// Malformed payloads can never succeed; drop them.
			logrus.Errorf("Dropping malformed job payload: %v", err)
			d.Ack(false)
			return nil, fmt.Errorf("invalid job payload: %w", err)
		}
		return &amqpDelivery{delivery: d, job: job}, nil
	}
}

// Close closes the channel and connection.
func (q *AMQPQueue) Close() error {
	if q.channel != nil {
		q.channel.Close()
	}
	if q.conn != nil {
		return q.conn.Close()
	}
	return nil
}

type amqpDelivery struct {
	delivery amqp.Delivery
	job      model.Job
}

func (d *amqpDelivery) Job() model.Job { return d.job }

func (d *amqpDelivery) Ack() error {
	return d.delivery.Ack(false)
}

func (d *amqpDelivery) Requeue() error {
	return d.delivery.Nack(false, true)
}
