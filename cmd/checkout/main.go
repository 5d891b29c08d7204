// Command checkout runs one multi-vendor checkout against the API: it pays
// the caller's cart through the hosted form served on the listen address and
// creates one order per store.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/iliamunaev/multivendor-checkout/internal/auth"
	"github.com/iliamunaev/multivendor-checkout/internal/bus"
	"github.com/iliamunaev/multivendor-checkout/internal/checkout"
	"github.com/iliamunaev/multivendor-checkout/internal/collab"
	"github.com/iliamunaev/multivendor-checkout/internal/config"
	"github.com/iliamunaev/multivendor-checkout/internal/logger"
	"github.com/iliamunaev/multivendor-checkout/internal/middleware"
	"github.com/iliamunaev/multivendor-checkout/internal/model"
	"github.com/iliamunaev/multivendor-checkout/internal/order"
	"github.com/iliamunaev/multivendor-checkout/internal/rac"
	"github.com/iliamunaev/multivendor-checkout/internal/service/cart"
	"github.com/iliamunaev/multivendor-checkout/internal/service/confirmation"
	"github.com/iliamunaev/multivendor-checkout/internal/service/payment"
	"github.com/iliamunaev/multivendor-checkout/internal/service/tracker"
	"github.com/iliamunaev/multivendor-checkout/internal/session"
)

type options struct {
	email    string
	password string
	buyer    model.Buyer
	choices  map[string]model.DeliveryMethod
}

func main() {
	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		log.Fatal(err)
	}
	if err := run(opts); err != nil {
		log.Fatal(err)
	}
}

func parseFlags(args []string) (options, error) {
	var (
		o        options
		delivery string
	)
	fs := flag.NewFlagSet("checkout", flag.ContinueOnError)
	fs.StringVar(&o.email, "email", "", "log in with this email before checking out")
	fs.StringVar(&o.password, "password", os.Getenv("CHECKOUT_PASSWORD"), "password for -email")
	fs.StringVar(&o.buyer.Name, "name", "", "buyer name")
	fs.StringVar(&o.buyer.Email, "buyer-email", "", "buyer email, defaults to -email")
	fs.StringVar(&o.buyer.Phone, "phone", "", "buyer phone")
	fs.StringVar(&o.buyer.Address, "address", "", "delivery address, required for courier delivery")
	fs.StringVar(&delivery, "delivery", "", "per-store delivery methods, e.g. s1=courier,s2=pickupPoint")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if o.buyer.Email == "" {
		o.buyer.Email = o.email
	}

	choices, err := parseChoices(delivery)
	if err != nil {
		return options{}, err
	}
	o.choices = choices
	return o, nil
}

// parseChoices reads "store=method" pairs. Stores left out use pickup.
func parseChoices(s string) (map[string]model.DeliveryMethod, error) {
	out := make(map[string]model.DeliveryMethod)
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		store, method, ok := strings.Cut(pair, "=")
		if !ok || store == "" {
			return nil, fmt.Errorf("invalid delivery choice %q", pair)
		}
		m := model.DeliveryMethod(method)
		if !m.Valid() {
			return nil, fmt.Errorf("unknown delivery method %q for store %s", method, store)
		}
		out[store] = m
	}
	return out, nil
}

func run(o options) error {
	cfg, err := config.LoadClient()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	l, err := logger.NewProduction()
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = l.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logger.WithLogger(ctx, l)

	store, err := session.OpenSQLite(ctx, cfg.SessionDB)
	if err != nil {
		return err
	}
	defer store.Close()

	httpClient := &http.Client{Timeout: cfg.RequestTimeout}
	authClient := auth.NewClient(cfg.APIURL, httpClient)

	if o.email != "" {
		sess, err := authClient.Login(ctx, o.email, o.password)
		if err != nil {
			return fmt.Errorf("login: %w", err)
		}
		if err := store.Set(ctx, sess); err != nil {
			return err
		}
	}
	sess, err := store.Get(ctx)
	if err != nil {
		return fmt.Errorf("no stored session, log in with -email: %w", err)
	}

	api := collab.New(cfg.APIURL, rac.New(httpClient, store, authClient,
		rac.WithOnSessionExpired(func(ctx context.Context) {
			logger.FromCtx(ctx).Warn(ctx, "session expired, log in again with -email")
			stop()
		})))

	signals := bus.New[model.PaymentSignal]()
	listener := payment.NewListener(signals)
	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.ListenAddr, err)
	}
	srv := &http.Server{
		Handler:           middleware.Logging(l)(listener),
		ReadHeaderTimeout: 3 * time.Second,
	}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.Error(ctx, "payment listener stopped", zap.Error(err))
		}
	}()
	defer func() {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
	}()

	lines, err := api.CartLines(ctx)
	if err != nil {
		return fmt.Errorf("load cart: %w", err)
	}
	draft := cart.NewDraft(lines, api, nil)

	tr := &tracker.Tracker{}
	orders := order.New(api, api, api, api,
		order.WithParallelism(cfg.Parallelism),
		order.WithTracker(tr),
		order.WithLocalCart(draft))
	finalizer := confirmation.New(api, api,
		confirmation.WithAttempts(cfg.ConfirmAttempts),
		confirmation.WithInterval(cfg.ConfirmInterval, 8*cfg.ConfirmInterval))

	flow := checkout.New(checkout.Deps{
		Cart:      api,
		Catalog:   api,
		Payments:  payment.NewBroker(api, signals, payment.WithTTL(cfg.PaymentTTL)),
		Confirmer: finalizer,
		Orders:    orders,
	})

	prepared, err := flow.Prepare(ctx, sess.SubjectID, o.buyer, o.choices)
	if err != nil {
		return err
	}
	ps, err := flow.Pay(ctx, prepared)
	if err != nil {
		return fmt.Errorf("open payment: %w", err)
	}
	listener.Show(ps)
	defer listener.Show(nil)
	fmt.Printf("Pay %s at http://%s/\n", prepared.Total.StringFixed(2), ln.Addr())

	outcome, err := flow.Complete(ctx, prepared, ps)
	for _, f := range outcome.Failures {
		l.Warn(ctx, "store order failed", zap.String("store_id", f.StoreID), zap.Error(f.Err))
	}
	if err != nil {
		return fmt.Errorf("checkout %s: %w", outcome.State, err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(outcome)
}
