// Package httptransport implements the backend HTTP API.
package httptransport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/iliamunaev/multivendor-checkout/internal/apperr"
	"github.com/iliamunaev/multivendor-checkout/internal/auth"
	"github.com/iliamunaev/multivendor-checkout/internal/gateway"
	"github.com/iliamunaev/multivendor-checkout/internal/model"
)

type authenticator interface {
	Login(ctx context.Context, req model.LoginRequest) (model.AccessSession, error)
	Refresh(ctx context.Context, req model.RefreshRequest) (model.RefreshResponse, error)
}

type cartStore interface {
	Lines(ctx context.Context, userID string) ([]model.CartLine, error)
	Add(ctx context.Context, userID string, line model.CartLine) (model.CartLine, error)
	SetQuantity(ctx context.Context, userID, productID string, quantity int) (model.CartLine, error)
	Remove(ctx context.Context, userID, productID string) error
	Clear(ctx context.Context, userID string) error
}

type storeCatalog interface {
	Profile(ctx context.Context, storeID string) (model.StoreProfile, error)
}

type orderService interface {
	Create(ctx context.Context, p auth.Principal, storeID string, d model.OrderDraft) (model.OrderRecord, bool, error)
	ByTransaction(ctx context.Context, p auth.Principal, transactionID string) ([]model.OrderRecord, error)
	UpdateStatus(ctx context.Context, p auth.Principal, storeID, orderID string, st model.OrderStatus) (model.OrderRecord, error)
	UpdateDelivery(ctx context.Context, p auth.Principal, storeID, orderID string, upd model.DeliveryUpdate) (model.OrderRecord, error)
}

type transactionIndex interface {
	Append(ctx context.Context, userID, transactionID string) error
	List(ctx context.Context, userID string) ([]model.TransactionRef, error)
}

type publisher interface {
	Publish(ctx context.Context, conf model.OrderConfirmation) error
}

type paymentService interface {
	CreateForm(ctx context.Context, p auth.Principal, req model.FormRequest) (model.FormResponse, error)
	HandleWebhook(ctx context.Context, key string, body []byte) (bool, error)
	Notification(ctx context.Context, p auth.Principal, reference string) (model.PaymentNotification, error)
}

// Deps are the services behind the API.
type Deps struct {
	Auth         authenticator
	Carts        cartStore
	Stores       storeCatalog
	Orders       orderService
	Transactions transactionIndex
	Notifier     publisher
	Payments     paymentService
	// Validate checks a confirmation before it is published.
	Validate func(model.OrderConfirmation) error
}

// Handler serves the API.
type Handler struct {
	d              Deps
	requestTimeout time.Duration
}

// New returns a Handler. It panics if a service is nil. If requestTimeout
// is non-positive, a default timeout is applied.
func New(d Deps, requestTimeout time.Duration) *Handler {
	switch {
	case d.Auth == nil:
		panic("httptransport.New: nil auth service")
	case d.Carts == nil:
		panic("httptransport.New: nil cart store")
	case d.Stores == nil:
		panic("httptransport.New: nil store catalog")
	case d.Orders == nil:
		panic("httptransport.New: nil order service")
	case d.Transactions == nil:
		panic("httptransport.New: nil transaction index")
	case d.Notifier == nil:
		panic("httptransport.New: nil notifier")
	case d.Payments == nil:
		panic("httptransport.New: nil payment service")
	}
	if requestTimeout <= 0 {
		requestTimeout = 10 * time.Second
	}
	return &Handler{d: d, requestTimeout: requestTimeout}
}

// withTimeout bounds the work of one request.
func (h *Handler) withTimeout(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), h.requestTimeout)
}

// decode reads exactly one JSON value into v, rejecting unknown fields.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		badRequest(w, "invalid JSON")
		return false
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		badRequest(w, "invalid JSON")
		return false
	}
	return true
}

func principal(r *http.Request) auth.Principal {
	p, _ := auth.PrincipalFromCtx(r.Context())
	return p
}

// --- auth ---

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req model.LoginRequest
	if !decode(w, r, &req) {
		return
	}
	ctx, cancel := h.withTimeout(r)
	defer cancel()

	sess, err := h.d.Auth.Login(ctx, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req model.RefreshRequest
	if !decode(w, r, &req) {
		return
	}
	ctx, cancel := h.withTimeout(r)
	defer cancel()

	resp, err := h.d.Auth.Refresh(ctx, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// --- cart ---

func (h *Handler) Cart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.withTimeout(r)
	defer cancel()

	lines, err := h.d.Carts.Lines(ctx, principal(r).SubjectID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, lines)
}

func (h *Handler) AddCartLine(w http.ResponseWriter, r *http.Request) {
	var line model.CartLine
	if !decode(w, r, &line) {
		return
	}
	switch {
	case line.ProductID == "" || line.StoreID == "":
		writeError(w, r, apperr.Validation("product_id", "product and store are required"))
		return
	case line.Quantity <= 0:
		writeError(w, r, apperr.Validation("quantity", "must be positive"))
		return
	case line.UnitPrice.IsNegative():
		writeError(w, r, apperr.Validation("unit_price", "must not be negative"))
		return
	}
	ctx, cancel := h.withTimeout(r)
	defer cancel()

	stored, err := h.d.Carts.Add(ctx, principal(r).SubjectID, line)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, stored)
}

func (h *Handler) SetCartQuantity(w http.ResponseWriter, r *http.Request) {
	var upd model.QuantityUpdate
	if !decode(w, r, &upd) {
		return
	}
	if upd.Quantity <= 0 {
		writeError(w, r, apperr.Validation("quantity", "must be positive"))
		return
	}
	ctx, cancel := h.withTimeout(r)
	defer cancel()

	line, err := h.d.Carts.SetQuantity(ctx, principal(r).SubjectID, chi.URLParam(r, "productID"), upd.Quantity)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, line)
}

func (h *Handler) RemoveCartLine(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.withTimeout(r)
	defer cancel()

	if err := h.d.Carts.Remove(ctx, principal(r).SubjectID, chi.URLParam(r, "productID")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ClearCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.withTimeout(r)
	defer cancel()

	if err := h.d.Carts.Clear(ctx, principal(r).SubjectID); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- stores and orders ---

func (h *Handler) Store(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.withTimeout(r)
	defer cancel()

	p, err := h.d.Stores.Profile(ctx, chi.URLParam(r, "storeID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// CreateOrder answers 201 for a new order and 200 when the store already
// holds the order of this transaction.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var d model.OrderDraft
	if !decode(w, r, &d) {
		return
	}
	storeID := chi.URLParam(r, "storeID")
	if d.StoreID != "" && d.StoreID != storeID {
		writeError(w, r, apperr.Validation("store_id", "does not match the path"))
		return
	}
	ctx, cancel := h.withTimeout(r)
	defer cancel()

	rec, created, err := h.d.Orders.Create(ctx, principal(r), storeID, d)
	if err != nil {
		writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, rec)
}

func (h *Handler) UpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	var upd model.StatusUpdate
	if !decode(w, r, &upd) {
		return
	}
	ctx, cancel := h.withTimeout(r)
	defer cancel()

	rec, err := h.d.Orders.UpdateStatus(ctx, principal(r), chi.URLParam(r, "storeID"), chi.URLParam(r, "orderID"), upd.Status)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *Handler) UpdateDelivery(w http.ResponseWriter, r *http.Request) {
	var upd model.DeliveryUpdate
	if !decode(w, r, &upd) {
		return
	}
	ctx, cancel := h.withTimeout(r)
	defer cancel()

	rec, err := h.d.Orders.UpdateDelivery(ctx, principal(r), chi.URLParam(r, "storeID"), chi.URLParam(r, "orderID"), upd)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *Handler) OrdersByTransaction(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.withTimeout(r)
	defer cancel()

	recs, err := h.d.Orders.ByTransaction(ctx, principal(r), r.URL.Query().Get("transaction_id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

// --- order index and notifications ---

func (h *Handler) AppendTransaction(w http.ResponseWriter, r *http.Request) {
	var ref model.TransactionRef
	if !decode(w, r, &ref) {
		return
	}
	if strings.TrimSpace(ref.TransactionID) == "" {
		writeError(w, r, apperr.Validation("transaction_id", "is required"))
		return
	}
	ctx, cancel := h.withTimeout(r)
	defer cancel()

	if err := h.d.Transactions.Append(ctx, principal(r).SubjectID, ref.TransactionID); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Transactions(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.withTimeout(r)
	defer cancel()

	refs, err := h.d.Transactions.List(ctx, principal(r).SubjectID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, refs)
}

func (h *Handler) OrderConfirmation(w http.ResponseWriter, r *http.Request) {
	var conf model.OrderConfirmation
	if !decode(w, r, &conf) {
		return
	}
	if h.d.Validate != nil {
		if err := h.d.Validate(conf); err != nil {
			writeError(w, r, err)
			return
		}
	}
	ctx, cancel := h.withTimeout(r)
	defer cancel()

	if err := h.d.Notifier.Publish(ctx, conf); err != nil {
		writeError(w, r, apperr.Transport("publish confirmation", err))
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// --- payments ---

func (h *Handler) CreatePaymentForm(w http.ResponseWriter, r *http.Request) {
	var req model.FormRequest
	if !decode(w, r, &req) {
		return
	}
	ctx, cancel := h.withTimeout(r)
	defer cancel()

	resp, err := h.d.Payments.CreateForm(ctx, principal(r), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) PaymentNotification(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.withTimeout(r)
	defer cancel()

	n, err := h.d.Payments.Notification(ctx, principal(r), chi.URLParam(r, "ref"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

// PaymentWebhook accepts gateway notifications. Repeated deliveries are
// answered 200 like the first one.
func (h *Handler) PaymentWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			writeJSON(w, http.StatusRequestEntityTooLarge, model.ErrorResponse{
				Status: "error",
				Error:  model.ErrorPayload{Kind: "bad_request", Message: "body too large"},
			})
			return
		}
		badRequest(w, "unreadable body")
		return
	}
	ctx, cancel := h.withTimeout(r)
	defer cancel()

	if _, err := h.d.Payments.HandleWebhook(ctx, r.Header.Get(gateway.KeyHeader), body); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeJSON writes v as a JSON response with the given status code.
// The Content-Type is set to application/json.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
