// Package payment issues hosted payment forms and settles them from the
// gateway's webhook.
package payment

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/xeipuuv/gojsonschema"
	"go.uber.org/zap"

	"github.com/iliamunaev/multivendor-checkout/internal/apperr"
	"github.com/iliamunaev/multivendor-checkout/internal/auth"
	"github.com/iliamunaev/multivendor-checkout/internal/gateway"
	"github.com/iliamunaev/multivendor-checkout/internal/logger"
	"github.com/iliamunaev/multivendor-checkout/internal/model"
)

const webhookSchema = `{
  "type": "object",
  "required": ["externalReference", "amount", "timestamp"],
  "properties": {
    "externalReference": {"type": "string", "minLength": 1, "maxLength": 128},
    "amount": {"type": ["string", "number"], "pattern": "^[0-9]+(\\.[0-9]{1,2})?$"},
    "timestamp": {"type": "string", "format": "date-time"}
  },
  "additionalProperties": false
}`

var webhookLoader = gojsonschema.NewStringLoader(webhookSchema)

// Webhook outcomes.
const (
	OutcomeAccepted  = "accepted"
	OutcomeDuplicate = "duplicate"
	OutcomeRejected  = "rejected"
)

// Repository stores forms and notifications.
type Repository interface {
	SaveForm(ctx context.Context, f model.PaymentForm) error
	Form(ctx context.Context, reference string) (model.PaymentForm, error)
	SaveNotification(ctx context.Context, n model.PaymentNotification) (bool, error)
	Notification(ctx context.Context, reference string) (model.PaymentNotification, error)
}

// Gateway creates hosted forms.
type Gateway interface {
	CreateForm(ctx context.Context, req gateway.FormRequest) (gateway.Form, error)
}

// Outcomes counts webhook deliveries.
type Outcomes interface {
	Webhook(outcome string)
}

type Option func(*Service)

// WithWebhookKey requires deliveries to carry key.
func WithWebhookKey(key string) Option { return func(s *Service) { s.webhookKey = key } }

func WithOutcomes(o Outcomes) Option { return func(s *Service) { s.outcomes = o } }

// Service issues forms and records gateway notifications.
type Service struct {
	repo       Repository
	gw         Gateway
	notifyURL  string
	webhookKey string
	outcomes   Outcomes
}

// New creates a Service. notifyURL is handed to the gateway as the webhook
// target. It panics on nil dependencies.
func New(repo Repository, gw Gateway, notifyURL string, opts ...Option) *Service {
	if repo == nil {
		panic("payment.New: nil repository")
	}
	if gw == nil {
		panic("payment.New: nil gateway")
	}
	s := &Service{repo: repo, gw: gw, notifyURL: notifyURL}
	for _, o := range opts {
		o(s)
	}
	return s
}

// CreateForm asks the gateway for a form charging req.Sum. The sum must equal
// the line items.
func (s *Service) CreateForm(ctx context.Context, p auth.Principal, req model.FormRequest) (model.FormResponse, error) {
	if len(req.Items) == 0 {
		return model.FormResponse{}, apperr.Validation("items", "must not be empty")
	}
	if req.Buyer.Email == "" {
		return model.FormResponse{}, apperr.Validation("buyer.email", "is required")
	}
	total := decimal.Zero
	for i, it := range req.Items {
		if it.Quantity <= 0 {
			return model.FormResponse{}, apperr.Validation(fmt.Sprintf("items[%d].quantity", i), "must be positive")
		}
		total = total.Add(it.Total())
	}
	if !req.Sum.IsPositive() {
		return model.FormResponse{}, apperr.Validation("sum", "must be positive")
	}
	if !total.Equal(req.Sum) {
		return model.FormResponse{}, apperr.Validation("sum", fmt.Sprintf("%s does not match line items total %s", req.Sum, total))
	}

	form, err := s.gw.CreateForm(ctx, gateway.FormRequest{
		Reference: uuid.NewString(),
		Sum:       req.Sum,
		Buyer:     req.Buyer,
		Items:     req.Items,
		NotifyURL: s.notifyURL,
	})
	if err != nil {
		return model.FormResponse{}, err
	}

	if err := s.repo.SaveForm(ctx, model.PaymentForm{
		Reference: form.Reference,
		UserID:    p.SubjectID,
		Sum:       req.Sum,
		Items:     req.Items,
	}); err != nil {
		return model.FormResponse{}, fmt.Errorf("save payment form: %w", err)
	}

	logger.FromCtx(ctx).Info(ctx, "payment form issued",
		zap.String("reference", form.Reference),
		zap.String("sum", req.Sum.String()))
	return model.FormResponse{SessionID: form.Reference, Markup: form.Markup}, nil
}

// HandleWebhook validates and stores a gateway notification. It reports
// whether the notification was new; repeated deliveries are not errors.
func (s *Service) HandleWebhook(ctx context.Context, key string, body []byte) (created bool, err error) {
	outcome := OutcomeRejected
	defer func() {
		if s.outcomes != nil {
			s.outcomes.Webhook(outcome)
		}
	}()

	if s.webhookKey != "" && subtle.ConstantTimeCompare([]byte(key), []byte(s.webhookKey)) != 1 {
		return false, apperr.ErrUnauthorized
	}
	if err := validateWebhook(body); err != nil {
		return false, err
	}

	var n model.PaymentNotification
	dec := json.NewDecoder(bytes.NewReader(body))
	if err := dec.Decode(&n); err != nil {
		return false, apperr.Validation("body", "invalid JSON")
	}

	form, err := s.repo.Form(ctx, n.ExternalReference)
	if err != nil {
		return false, err
	}
	if !form.Sum.Equal(n.Amount) {
		return false, apperr.Validation("amount", fmt.Sprintf("%s does not match form sum %s", n.Amount, form.Sum))
	}

	created, err = s.repo.SaveNotification(ctx, n)
	if err != nil {
		return false, fmt.Errorf("save notification: %w", err)
	}
	outcome = OutcomeAccepted
	if !created {
		outcome = OutcomeDuplicate
	}
	logger.FromCtx(ctx).Info(ctx, "payment notification",
		zap.String("reference", n.ExternalReference),
		zap.String("outcome", outcome))
	return created, nil
}

func validateWebhook(body []byte) error {
	result, err := gojsonschema.Validate(webhookLoader, gojsonschema.NewBytesLoader(body))
	if err != nil {
		return apperr.Validation("body", "invalid JSON")
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return apperr.Validation("body", strings.Join(msgs, "; "))
	}
	return nil
}

// Notification returns the settled notification of one of the caller's
// forms. Until the webhook lands the result is not_found.
func (s *Service) Notification(ctx context.Context, p auth.Principal, reference string) (model.PaymentNotification, error) {
	form, err := s.repo.Form(ctx, reference)
	if err != nil {
		return model.PaymentNotification{}, err
	}
	if form.UserID != p.SubjectID {
		return model.PaymentNotification{}, apperr.ErrNotFound
	}
	return s.repo.Notification(ctx, reference)
}
