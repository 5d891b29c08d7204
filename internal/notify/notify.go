// Package notify delivers order confirmations to the mailer behind a queue.
package notify

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/iliamunaev/multivendor-checkout/internal/apperr"
	"github.com/iliamunaev/multivendor-checkout/internal/config"
	"github.com/iliamunaev/multivendor-checkout/internal/logger"
	"github.com/iliamunaev/multivendor-checkout/internal/model"
)

// Publisher hands a confirmation to the delivery transport.
type Publisher interface {
	Publish(ctx context.Context, conf model.OrderConfirmation) error
	Close() error
}

// New builds the publisher selected by cfg.Transport.
func New(cfg config.NotifyConfig) (Publisher, error) {
	switch strings.ToLower(cfg.Transport) {
	case "kafka":
		return NewKafka(cfg.KafkaBrokers, cfg.KafkaTopic)
	case "rabbitmq":
		return DialRabbitMQ(cfg.RabbitURL, cfg.RabbitQueue)
	case "", "log":
		return Log{}, nil
	default:
		return nil, fmt.Errorf("unknown notify transport %q", cfg.Transport)
	}
}

// Validate checks what every transport needs to address a confirmation.
func Validate(conf model.OrderConfirmation) error {
	switch {
	case conf.TransactionID == "":
		return apperr.Validation("transaction_id", "is required")
	case conf.OrderID == "":
		return apperr.Validation("order_id", "is required")
	case conf.BuyerEmail == "" && conf.StoreEmail == "":
		return apperr.Validation("buyer_email", "buyer or store email is required")
	}
	return nil
}

// Log writes confirmations to the request logger. Used in development.
type Log struct{}

func (Log) Publish(ctx context.Context, conf model.OrderConfirmation) error {
	logger.FromCtx(ctx).Info(ctx, "order confirmation",
		zap.String("transaction_id", conf.TransactionID),
		zap.String("order_id", conf.OrderID),
		zap.String("store", conf.StoreName),
		zap.String("total", conf.Total.String()))
	return nil
}

func (Log) Close() error { return nil }

// messageKey keeps all confirmations of one checkout on one partition.
func messageKey(conf model.OrderConfirmation) string {
	return conf.TransactionID
}
