// Package gateway talks to the hosted payment provider.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/iliamunaev/multivendor-checkout/internal/apperr"
	"github.com/iliamunaev/multivendor-checkout/internal/model"
)

// KeyHeader carries the shared key on webhook deliveries.
const KeyHeader = "X-Gateway-Key"

// FormRequest asks the provider for a hosted form. Reference is echoed back
// in the completion signal and the webhook.
type FormRequest struct {
	Reference string           `json:"reference"`
	Sum       decimal.Decimal  `json:"sum"`
	Buyer     model.Buyer      `json:"buyer"`
	Items     []model.LineItem `json:"items"`
	NotifyURL string           `json:"notify_url"`
}

// Form is a hosted form ready to be embedded.
type Form struct {
	Reference string `json:"reference"`
	Markup    string `json:"markup"`
}

// Client calls the provider's REST API.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
	}
}

// CreateForm registers a payment and returns its form. Provider failures are
// transport errors so they never read as the caller's own auth failure.
func (c *Client) CreateForm(ctx context.Context, req FormRequest) (Form, error) {
	const op = "gateway create form"

	body, err := json.Marshal(req)
	if err != nil {
		return Form{}, err
	}
	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/forms", bytes.NewReader(body))
	if err != nil {
		return Form{}, err
	}
	hreq.Header.Set("Content-Type", "application/json")
	hreq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(hreq)
	if err != nil {
		return Form{}, apperr.Transport(op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Form{}, apperr.Transport(op, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))))
	}

	var form Form
	if err := json.NewDecoder(resp.Body).Decode(&form); err != nil {
		return Form{}, apperr.Transport(op, fmt.Errorf("decode form: %w", err))
	}
	if form.Reference == "" {
		form.Reference = req.Reference
	}
	return form, nil
}
