// Package collab holds the checkout host's clients for the backend
// collaborators. Every call goes through the resilient authenticated client.
package collab

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/iliamunaev/multivendor-checkout/internal/apperr"
	"github.com/iliamunaev/multivendor-checkout/internal/model"
)

// Doer sends an authenticated request. *rac.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client talks to the backend API.
type Client struct {
	baseURL string
	http    Doer
}

// New creates a Client for the API at baseURL. It panics on a nil doer.
func New(baseURL string, doer Doer) *Client {
	if doer == nil {
		panic("collab.New: nil doer")
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: doer}
}

// CartLines returns the caller's cart.
func (c *Client) CartLines(ctx context.Context) ([]model.CartLine, error) {
	var out []model.CartLine
	if _, err := c.do(ctx, http.MethodGet, "/cart", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SetQuantity sets the quantity of a cart line and returns the authoritative line.
func (c *Client) SetQuantity(ctx context.Context, productID string, quantity int) (model.CartLine, error) {
	var out model.CartLine
	_, err := c.do(ctx, http.MethodPut, "/cart/lines/"+url.PathEscape(productID),
		model.QuantityUpdate{Quantity: quantity}, &out)
	return out, err
}

// RemoveLine deletes a cart line.
func (c *Client) RemoveLine(ctx context.Context, productID string) error {
	_, err := c.do(ctx, http.MethodDelete, "/cart/lines/"+url.PathEscape(productID), nil, nil)
	return err
}

// ClearCart empties the caller's cart on the server.
func (c *Client) ClearCart(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodDelete, "/cart", nil, nil)
	return err
}

// Store returns a store profile with its shipping catalog.
func (c *Client) Store(ctx context.Context, storeID string) (model.StoreProfile, error) {
	var out model.StoreProfile
	_, err := c.do(ctx, http.MethodGet, "/stores/"+url.PathEscape(storeID), nil, &out)
	return out, err
}

// CreateOrder submits a draft to its store. The backend is idempotent on
// (transaction id, store id): created reports whether a new record was made.
func (c *Client) CreateOrder(ctx context.Context, draft model.OrderDraft) (rec model.OrderRecord, created bool, err error) {
	code, err := c.do(ctx, http.MethodPost, "/stores/"+url.PathEscape(draft.StoreID)+"/orders", draft, &rec)
	if err != nil {
		return model.OrderRecord{}, false, err
	}
	return rec, code == http.StatusCreated, nil
}

// UpdateStatus changes the lifecycle state of an order.
func (c *Client) UpdateStatus(ctx context.Context, storeID, orderID string, st model.OrderStatus) (model.OrderRecord, error) {
	var out model.OrderRecord
	_, err := c.do(ctx, http.MethodPatch, orderPath(storeID, orderID)+"/status", model.StatusUpdate{Status: st}, &out)
	return out, err
}

// UpdateDeliveryStatus changes the shipment state of an order.
func (c *Client) UpdateDeliveryStatus(ctx context.Context, storeID, orderID string, upd model.DeliveryUpdate) (model.OrderRecord, error) {
	var out model.OrderRecord
	_, err := c.do(ctx, http.MethodPatch, orderPath(storeID, orderID)+"/delivery", upd, &out)
	return out, err
}

// OrdersByTransaction returns the caller's orders sharing transactionID.
// An empty result is not an error.
func (c *Client) OrdersByTransaction(ctx context.Context, transactionID string) ([]model.OrderRecord, error) {
	var out []model.OrderRecord
	q := url.Values{"transaction_id": {transactionID}}
	if _, err := c.do(ctx, http.MethodGet, "/orders?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// AppendTransaction adds transactionID to the caller's order index.
func (c *Client) AppendTransaction(ctx context.Context, transactionID string) error {
	_, err := c.do(ctx, http.MethodPost, "/users/me/transactions",
		model.TransactionRef{TransactionID: transactionID}, nil)
	return err
}

// Transactions lists the caller's order index.
func (c *Client) Transactions(ctx context.Context) ([]model.TransactionRef, error) {
	var out []model.TransactionRef
	if _, err := c.do(ctx, http.MethodGet, "/users/me/transactions", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SendOrderConfirmation hands a confirmation to the notification service.
func (c *Client) SendOrderConfirmation(ctx context.Context, conf model.OrderConfirmation) error {
	_, err := c.do(ctx, http.MethodPost, "/notifications/order-confirmation", conf, nil)
	return err
}

// CreateForm asks the gateway, through the backend, for a hosted payment form.
func (c *Client) CreateForm(ctx context.Context, req model.FormRequest) (model.FormResponse, error) {
	var out model.FormResponse
	_, err := c.do(ctx, http.MethodPost, "/payments/form", req, &out)
	return out, err
}

// Notification returns the gateway notification for ref. It fails with an
// error matching apperr.ErrOrderNotFound until the webhook has landed.
func (c *Client) Notification(ctx context.Context, ref string) (model.PaymentNotification, error) {
	var out model.PaymentNotification
	_, err := c.do(ctx, http.MethodGet, "/payments/notifications/"+url.PathEscape(ref), nil, &out)
	return out, err
}

func orderPath(storeID, orderID string) string {
	return "/stores/" + url.PathEscape(storeID) + "/orders/" + url.PathEscape(orderID)
}

// do sends one JSON request and decodes a 2xx body into out. Non-2xx
// answers become *apperr.StatusError carrying the server's message.
func (c *Client) do(ctx context.Context, method, path string, in, out any) (int, error) {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return 0, fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return 0, fmt.Errorf("build %s %s: %w", method, path, err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return resp.StatusCode, statusError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return resp.StatusCode, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return resp.StatusCode, fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return resp.StatusCode, nil
}

func statusError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 16<<10))
	var payload model.ErrorResponse
	msg := strings.TrimSpace(string(raw))
	if json.Unmarshal(raw, &payload) == nil && payload.Error.Message != "" {
		msg = payload.Error.Message
	}
	return &apperr.StatusError{Code: resp.StatusCode, Reason: payload.Error.Kind, Message: msg}
}
