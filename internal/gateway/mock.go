package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/iliamunaev/multivendor-checkout/internal/logger"
	"github.com/iliamunaev/multivendor-checkout/internal/model"
)

var mockFormTmpl = template.Must(template.New("form").Parse(`<!doctype html>
<html>
<body>
<h3>Test payment</h3>
<ul>{{range .Items}}<li>{{.Description}} x{{.Quantity}}: {{.UnitPrice.StringFixed 2}}</li>{{end}}</ul>
<form method="post" action="{{.Action}}">
<button type="submit">Pay {{.Sum}}</button>
</form>
</body>
</html>
`))

var mockPaidTmpl = template.Must(template.New("paid").Parse(`<!doctype html>
<html>
<body>
<p>Payment accepted.</p>
<script>
parent.postMessage({type: {{.Type}}, externalReference: {{.Reference}}}, "*");
</script>
</body>
</html>
`))

// Mock is a development provider. Its form posts back to the mock, which
// delivers the webhook and then signals the embedding page.
type Mock struct {
	publicURL string
	apiKey    string
	http      *http.Client
	now       func() time.Time

	mu    sync.Mutex
	forms map[string]decimal.Decimal
}

// NewMock creates a mock reachable at publicURL. Webhooks go to
// publicURL/payments/webhook carrying apiKey.
func NewMock(publicURL, apiKey string) *Mock {
	return &Mock{
		publicURL: strings.TrimRight(publicURL, "/"),
		apiKey:    apiKey,
		http:      &http.Client{Timeout: 5 * time.Second},
		now:       time.Now,
		forms:     make(map[string]decimal.Decimal),
	}
}

func (m *Mock) CreateForm(_ context.Context, req FormRequest) (Form, error) {
	ref := req.Reference
	if ref == "" {
		ref = uuid.NewString()
	}

	var buf bytes.Buffer
	err := mockFormTmpl.Execute(&buf, struct {
		Items  []model.LineItem
		Sum    string
		Action string
	}{
		Items:  req.Items,
		Sum:    req.Sum.StringFixed(2),
		Action: m.publicURL + "/mock-gateway/pay/" + ref,
	})
	if err != nil {
		return Form{}, err
	}

	m.mu.Lock()
	m.forms[ref] = req.Sum
	m.mu.Unlock()
	return Form{Reference: ref, Markup: buf.String()}, nil
}

// Routes serves POST /pay/{ref}.
func (m *Mock) Routes() http.Handler {
	r := chi.NewRouter()
	r.Post("/pay/{ref}", m.pay)
	return r
}

func (m *Mock) pay(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ref := chi.URLParam(r, "ref")

	m.mu.Lock()
	sum, ok := m.forms[ref]
	m.mu.Unlock()
	if !ok {
		http.NotFound(w, r)
		return
	}

	n := model.PaymentNotification{ExternalReference: ref, Amount: sum, Timestamp: m.now().UTC()}
	if err := m.deliver(ctx, n); err != nil {
		logger.FromCtx(ctx).Error(ctx, "mock webhook delivery failed", zap.String("reference", ref), zap.Error(err))
		http.Error(w, "payment failed", http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_ = mockPaidTmpl.Execute(w, struct{ Type, Reference string }{model.SignalPaymentSuccess, ref})
}

func (m *Mock) deliver(ctx context.Context, n model.PaymentNotification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.publicURL+"/payments/webhook", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if m.apiKey != "" {
		req.Header.Set(KeyHeader, m.apiKey)
	}

	resp, err := m.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("webhook answered %d", resp.StatusCode)
	}
	return nil
}
