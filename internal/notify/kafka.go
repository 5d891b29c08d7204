package notify

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/iliamunaev/multivendor-checkout/internal/model"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka publishes confirmations as JSON messages keyed by transaction id.
type Kafka struct {
	w messageWriter
}

// NewKafka creates a publisher writing to topic on the comma separated brokers.
func NewKafka(brokersCSV, topic string) (*Kafka, error) {
	var brokers []string
	for _, b := range strings.Split(brokersCSV, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	if len(brokers) == 0 {
		return nil, errors.New("kafka: no brokers configured")
	}
	return &Kafka{w: &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
	}}, nil
}

func (k *Kafka) Publish(ctx context.Context, conf model.OrderConfirmation) error {
	data, err := json.Marshal(conf)
	if err != nil {
		return err
	}
	return k.w.WriteMessages(ctx, kafka.Message{
		Key:     []byte(messageKey(conf)),
		Value:   data,
		Time:    time.Now().UTC(),
		Headers: []kafka.Header{{Key: "type", Value: []byte("order_confirmation")}},
	})
}

func (k *Kafka) Close() error { return k.w.Close() }
