package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// SignalPaymentSuccess is the type tag of the completion signal sent by the payment frame.
const SignalPaymentSuccess = "PAYMENT_SUCCESS"

// PaymentStatus is the state of a payment session.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
	PaymentExpired   PaymentStatus = "expired"
	PaymentCanceled  PaymentStatus = "canceled"
)

// LineItem is a billable line rendered on the hosted payment form.
type LineItem struct {
	Description string          `json:"description"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Quantity    int             `json:"quantity"`
}

// Total returns unit price times quantity.
func (i LineItem) Total() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// FormRequest asks the backend for a hosted payment form.
type FormRequest struct {
	Sum   decimal.Decimal `json:"sum"`
	Buyer Buyer           `json:"buyer"`
	Items []LineItem      `json:"items"`
}

// FormResponse carries the renderable payment form.
type FormResponse struct {
	SessionID string `json:"session_id"`
	Markup    string `json:"markup"`
}

// PaymentSignal is the out-of-band message posted by the embedded payment frame.
type PaymentSignal struct {
	Type              string `json:"type"`
	ExternalReference string `json:"externalReference"`
}

// PaymentNotification is the gateway's confirmation of a completed payment.
// ExternalReference doubles as the checkout's transaction id.
type PaymentNotification struct {
	ExternalReference string          `json:"externalReference"`
	Amount            decimal.Decimal `json:"amount"`
	Timestamp         time.Time       `json:"timestamp"`
}

// PaymentForm is a hosted form issued to a user. Reference is the gateway's
// external reference and becomes the checkout's transaction id.
type PaymentForm struct {
	Reference string          `json:"reference"`
	UserID    string          `json:"user_id"`
	Sum       decimal.Decimal `json:"sum"`
	Items     []LineItem      `json:"items"`
	CreatedAt time.Time       `json:"created_at"`
}
