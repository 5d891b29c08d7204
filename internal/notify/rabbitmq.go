package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/iliamunaev/multivendor-checkout/internal/model"
)

type amqpPublisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// RabbitMQ publishes confirmations as persistent messages on a durable queue.
type RabbitMQ struct {
	mu    sync.Mutex
	ch    amqpPublisher
	queue string
	close func() error
}

// DialRabbitMQ connects to url and declares queue.
func DialRabbitMQ(url, queue string) (*RabbitMQ, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	_, err = ch.QueueDeclare(
		queue,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare queue: %w", err)
	}

	return &RabbitMQ{
		ch:    ch,
		queue: queue,
		close: func() error {
			ch.Close()
			return conn.Close()
		},
	}, nil
}

func (r *RabbitMQ) Publish(ctx context.Context, conf model.OrderConfirmation) error {
	body, err := json.Marshal(conf)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ch.PublishWithContext(ctx, "", r.queue, false, false, amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		CorrelationId: messageKey(conf),
		Type:          "order_confirmation",
		Timestamp:     time.Now().UTC(),
		Body:          body,
	})
}

func (r *RabbitMQ) Close() error {
	if r.close == nil {
		return nil
	}
	return r.close()
}
