// Package app wires the backend services into a runnable server.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/iliamunaev/multivendor-checkout/internal/analytics"
	"github.com/iliamunaev/multivendor-checkout/internal/app/order"
	"github.com/iliamunaev/multivendor-checkout/internal/app/payment"
	"github.com/iliamunaev/multivendor-checkout/internal/auth"
	"github.com/iliamunaev/multivendor-checkout/internal/config"
	"github.com/iliamunaev/multivendor-checkout/internal/gateway"
	"github.com/iliamunaev/multivendor-checkout/internal/logger"
	"github.com/iliamunaev/multivendor-checkout/internal/metrics"
	"github.com/iliamunaev/multivendor-checkout/internal/middleware"
	"github.com/iliamunaev/multivendor-checkout/internal/notify"
	"github.com/iliamunaev/multivendor-checkout/internal/service/tracker"
	"github.com/iliamunaev/multivendor-checkout/internal/storage/postgres"
	httptransport "github.com/iliamunaev/multivendor-checkout/internal/transport/http"
)

const shutdownTimeout = 10 * time.Second

// App holds the backend's long-lived resources.
type App struct {
	cfg config.Server
	log *logger.Logger

	pool      *pgxpool.Pool
	publisher notify.Publisher
	sink      *analytics.Sink
	recorder  *analytics.Recorder
	limiter   *middleware.RateLimiter

	OrderService   *order.Service
	PaymentService *payment.Service
	Handler        http.Handler
}

// New connects the stores and brokers named by cfg and builds the router.
// Resources opened before a failure are released.
func New(ctx context.Context, cfg config.Server, log *logger.Logger) (_ *App, err error) {
	a := &App{cfg: cfg, log: log}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	a.pool, err = postgres.Connect(ctx, cfg.Postgres)
	if err != nil {
		return nil, err
	}
	if cfg.Postgres.Migrate {
		if err = postgres.Migrate(ctx, a.pool); err != nil {
			return nil, err
		}
	}

	a.publisher, err = notify.New(cfg.Notify)
	if err != nil {
		return nil, fmt.Errorf("notify: %w", err)
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	tr := &tracker.Tracker{OnChange: m.SetInFlight}

	orderOpts := []order.Option{order.WithTracker(tr), order.WithOutcomes(m)}
	if cfg.ClickHouse.Enabled() {
		a.sink, err = analytics.Open(ctx, cfg.ClickHouse)
		if err != nil {
			return nil, err
		}
		if err = a.sink.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		a.recorder = analytics.NewRecorder(a.sink, 1024)
		orderOpts = append(orderOpts, order.WithFacts(a.recorder))
	}

	issuer := auth.NewIssuer(cfg.Auth.Secret, cfg.Auth.Issuer, cfg.Auth.AccessTTL, cfg.Auth.RefreshTTL)
	stores := postgres.NewStores(a.pool)

	a.OrderService = order.New(postgres.NewOrders(a.pool), stores, orderOpts...)

	publicURL := strings.TrimRight(cfg.Gateway.PublicURL, "/")
	var (
		gw   payment.Gateway
		mock *gateway.Mock
	)
	if cfg.Gateway.Mock {
		mock = gateway.NewMock(publicURL, cfg.Gateway.APIKey)
		gw = mock
	} else {
		gw = gateway.NewClient(cfg.Gateway.URL, cfg.Gateway.APIKey, cfg.Gateway.Timeout)
	}
	a.PaymentService = payment.New(postgres.NewPayments(a.pool), gw, publicURL+"/payments/webhook",
		payment.WithWebhookKey(cfg.Gateway.APIKey),
		payment.WithOutcomes(m))

	h := httptransport.New(httptransport.Deps{
		Auth:         auth.NewService(postgres.NewUsers(a.pool), issuer),
		Carts:        postgres.NewCarts(a.pool),
		Stores:       stores,
		Orders:       a.OrderService,
		Transactions: postgres.NewTransactions(a.pool),
		Notifier:     a.publisher,
		Payments:     a.PaymentService,
		Validate:     notify.Validate,
	}, cfg.HTTP.RequestTimeout)

	a.limiter = middleware.NewRateLimiter(cfg.HTTP.RateRPS, cfg.HTTP.RateBurst)
	opts := httptransport.RouterOptions{
		Logger:  log,
		Issuer:  issuer,
		Metrics: m,
		Limiter: a.limiter,
	}
	if mock != nil {
		opts.MockGateway = mock.Routes()
	}
	a.Handler = h.Router(opts)
	return a, nil
}

// Run serves HTTP until ctx is canceled, then shuts the server down and
// flushes pending analytics.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.HTTP.Port),
		Handler:           a.Handler,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 3 * time.Second,
		WriteTimeout:      a.cfg.HTTP.RequestTimeout + 5*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	ctx = logger.WithLogger(ctx, a.log)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.log.Info(gctx, "listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		a.log.Info(gctx, "shutting down", zap.Int64("order_submissions_in_flight", a.OrderService.Running()))
		return srv.Shutdown(sctx)
	})
	g.Go(func() error {
		a.limiter.Cleanup(gctx, time.Minute)
		return nil
	})
	if a.recorder != nil {
		g.Go(func() error { return a.recorder.Run(gctx) })
	}

	return g.Wait()
}

// Close releases the brokers and pools. It is safe on a partly built App.
func (a *App) Close() {
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.log.Warn(context.Background(), "close publisher", zap.Error(err))
		}
	}
	if a.sink != nil {
		if err := a.sink.Close(); err != nil {
			a.log.Warn(context.Background(), "close analytics sink", zap.Error(err))
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
}
