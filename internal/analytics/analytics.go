// Package analytics streams order facts into ClickHouse.
package analytics

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/iliamunaev/multivendor-checkout/internal/config"
	"github.com/iliamunaev/multivendor-checkout/internal/logger"
	"github.com/iliamunaev/multivendor-checkout/internal/model"
)

// Event types recorded for an order.
const (
	EventCreated  = "created"
	EventStatus   = "status"
	EventDelivery = "delivery"
)

// Fact is one row of the order fact table.
type Fact struct {
	OrderID        string
	TransactionID  string
	StoreID        string
	BuyerID        string
	Status         string
	DeliveryMethod string
	DeliveryStatus string
	TotalAmount    decimal.Decimal
	Lines          uint32
	Units          uint32
	Event          string
	EventTime      time.Time
}

// FactFromOrder describes rec as an event of type event.
func FactFromOrder(rec model.OrderRecord, event string, at time.Time) Fact {
	var units int
	for _, l := range rec.Lines {
		units += l.Quantity
	}
	return Fact{
		OrderID:        rec.OrderID,
		TransactionID:  rec.TransactionID,
		StoreID:        rec.StoreID,
		BuyerID:        rec.BuyerID,
		Status:         string(rec.Status),
		DeliveryMethod: string(rec.Delivery.Method),
		DeliveryStatus: string(rec.Delivery.Status),
		TotalAmount:    rec.TotalAmount,
		Lines:          uint32(len(rec.Lines)),
		Units:          uint32(units),
		Event:          event,
		EventTime:      at.UTC(),
	}
}

type execer interface {
	Exec(ctx context.Context, query string, args ...any) error
}

// Sink writes facts into <database>.order_facts.
type Sink struct {
	conn     execer
	database string
	close    func() error
}

// Open connects to ClickHouse and checks the connection.
func Open(ctx context.Context, cfg config.ClickHouseConfig) (*Sink, error) {
	opts := &clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
		MaxOpenConns: 5,
		MaxIdleConns: 2,
		DialTimeout:  10 * time.Second,
	}
	if cfg.Port == 8443 {
		opts.TLS = &tls.Config{}
	}

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := conn.Ping(pingCtx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	return &Sink{conn: conn, database: cfg.Database, close: conn.Close}, nil
}

// EnsureSchema creates the fact table when it is missing.
func (s *Sink) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s.order_facts (
			order_id        String,
			transaction_id  String,
			store_id        String,
			buyer_id        String,
			status          LowCardinality(String),
			delivery_method LowCardinality(String),
			delivery_status LowCardinality(String),
			total_amount    Decimal(12, 2),
			lines           UInt32,
			units           UInt32,
			event_type      LowCardinality(String),
			event_time      DateTime64(3, 'UTC')
		) ENGINE = MergeTree
		ORDER BY (store_id, event_time, order_id)
	`, s.database)
	return s.conn.Exec(ctx, query)
}

// Write inserts one fact.
func (s *Sink) Write(ctx context.Context, f Fact) error {
	query := fmt.Sprintf(`
		INSERT INTO %s.order_facts (
			order_id, transaction_id, store_id, buyer_id, status,
			delivery_method, delivery_status, total_amount, lines, units,
			event_type, event_time
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, s.database)

	return s.conn.Exec(ctx, query,
		f.OrderID, f.TransactionID, f.StoreID, f.BuyerID, f.Status,
		f.DeliveryMethod, f.DeliveryStatus, f.TotalAmount, f.Lines, f.Units,
		f.Event, f.EventTime,
	)
}

func (s *Sink) Close() error {
	if s.close == nil {
		return nil
	}
	return s.close()
}

// Writer stores facts.
type Writer interface {
	Write(ctx context.Context, f Fact) error
}

// Recorder buffers facts and writes them from a single goroutine so request
// handlers never wait on ClickHouse. Facts are dropped when the buffer is full.
type Recorder struct {
	w       Writer
	queue   chan Fact
	timeout time.Duration
}

// NewRecorder creates a Recorder holding up to buffer pending facts.
func NewRecorder(w Writer, buffer int) *Recorder {
	if w == nil {
		panic("analytics.NewRecorder: nil writer")
	}
	if buffer <= 0 {
		buffer = 256
	}
	return &Recorder{w: w, queue: make(chan Fact, buffer), timeout: 5 * time.Second}
}

// Record enqueues f. It reports false when f was dropped.
func (r *Recorder) Record(ctx context.Context, f Fact) bool {
	select {
	case r.queue <- f:
		return true
	default:
		logger.FromCtx(ctx).Warn(ctx, "analytics buffer full, fact dropped",
			zap.String("order_id", f.OrderID),
			zap.String("event", f.Event))
		return false
	}
}

// Run writes queued facts until ctx is done, then flushes what is left.
func (r *Recorder) Run(ctx context.Context) error {
	for {
		select {
		case f := <-r.queue:
			r.write(ctx, f)
		case <-ctx.Done():
			r.drain(context.WithoutCancel(ctx))
			return nil
		}
	}
}

func (r *Recorder) drain(ctx context.Context) {
	for {
		select {
		case f := <-r.queue:
			r.write(ctx, f)
		default:
			return
		}
	}
}

func (r *Recorder) write(ctx context.Context, f Fact) {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()
	if err := r.w.Write(wctx, f); err != nil {
		logger.FromCtx(ctx).Error(ctx, "analytics write failed",
			zap.String("order_id", f.OrderID),
			zap.String("event", f.Event),
			zap.Error(err))
	}
}
