package httptransport

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/iliamunaev/multivendor-checkout/internal/auth"
	"github.com/iliamunaev/multivendor-checkout/internal/logger"
	"github.com/iliamunaev/multivendor-checkout/internal/metrics"
	"github.com/iliamunaev/multivendor-checkout/internal/middleware"
)

const maxBodyBytes = 1 << 20

// RouterOptions carries the cross-cutting pieces of the router.
type RouterOptions struct {
	Logger  *logger.Logger
	Issuer  *auth.Issuer
	Metrics *metrics.Server
	// Limiter throttles the credential endpoints. Nil disables it.
	Limiter *middleware.RateLimiter
	// MockGateway is mounted at /mock-gateway when set.
	MockGateway http.Handler
}

func limitBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		next.ServeHTTP(w, r)
	})
}

// Router returns the API routes. It panics without a logger or issuer.
func (h *Handler) Router(o RouterOptions) http.Handler {
	if o.Logger == nil {
		panic("httptransport.Router: nil logger")
	}
	if o.Issuer == nil {
		panic("httptransport.Router: nil issuer")
	}

	r := chi.NewRouter()
	r.Use(middleware.Logging(o.Logger))
	if o.Metrics != nil {
		r.Use(middleware.Metrics(o.Metrics))
	}
	r.Use(limitBody)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if o.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", o.Metrics.Handler())
	}
	if o.MockGateway != nil {
		r.Mount("/mock-gateway", o.MockGateway)
	}

	r.Group(func(r chi.Router) {
		if o.Limiter != nil {
			r.Use(o.Limiter.Middleware)
		}
		r.Post("/auth/login", h.Login)
		r.Post("/auth/refresh", h.Refresh)
	})

	// The gateway authenticates with its shared key, not a user token.
	r.Post("/payments/webhook", h.PaymentWebhook)

	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(o.Issuer))

		r.Route("/cart", func(r chi.Router) {
			r.Get("/", h.Cart)
			r.Delete("/", h.ClearCart)
			r.Post("/lines", h.AddCartLine)
			r.Put("/lines/{productID}", h.SetCartQuantity)
			r.Delete("/lines/{productID}", h.RemoveCartLine)
		})

		r.Route("/stores/{storeID}", func(r chi.Router) {
			r.Get("/", h.Store)
			r.Post("/orders", h.CreateOrder)
			r.Patch("/orders/{orderID}/status", h.UpdateOrderStatus)
			r.Patch("/orders/{orderID}/delivery", h.UpdateDelivery)
		})

		r.Get("/orders", h.OrdersByTransaction)
		r.Post("/users/me/transactions", h.AppendTransaction)
		r.Get("/users/me/transactions", h.Transactions)
		r.Post("/notifications/order-confirmation", h.OrderConfirmation)

		r.Post("/payments/form", h.CreatePaymentForm)
		r.Get("/payments/notifications/{ref}", h.PaymentNotification)
	})

	return r
}
