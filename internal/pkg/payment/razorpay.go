package payment

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/zelera/booknest/app/models"
)

// Razorpay event types the dispatcher routes on. Everything else is
// acknowledged without business action.
const (
	RazorpayEventPaymentCaptured = "payment.captured"
	RazorpayEventPaymentFailed   = "payment.failed"
)

type razorpayEnvelope struct {
	Event   string `json:"event" validate:"required"`
	Payload struct {
		Payment struct {
			Entity razorpayPaymentEntity `json:"entity"`
		} `json:"payment"`
	} `json:"payload"`
}

type razorpayPaymentEntity struct {
	ID       string            `json:"id" validate:"required"`
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Status   string            `json:"status"`
	Email    string            `json:"email"`
	Contact  string            `json:"contact"`
	Notes    map[string]string `json:"notes"`
}

var payloadValidate = validator.New()

// ParseRazorpayEvent decodes and validates a Razorpay webhook payload
// into the provider-agnostic event shape. Razorpay reports amounts in
// paise; they are converted to currency major units here and nowhere
// else.
func ParseRazorpayEvent(raw []byte) (*GatewayEvent, error) {
	var envelope razorpayEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("invalid razorpay payload: %w", err)
	}
	if err := payloadValidate.Struct(&envelope); err != nil {
		return nil, fmt.Errorf("invalid razorpay payload: %w", err)
	}

	entity := envelope.Payload.Payment.Entity
	notes := entity.Notes

	currency := strings.TrimSpace(entity.Currency)
	if currency == "" {
		currency = "INR"
	}

	event := &GatewayEvent{
		Gateway:   models.PaymentGatewayRazorpay,
		EventType: envelope.Event,
		Kind:      razorpayEventKind(envelope.Event),
		PaymentID: entity.ID,
		Amount:    decimal.NewFromInt(entity.Amount).Div(decimal.NewFromInt(100)),
		Currency:  currency,
		Plan:      strings.ToLower(notes["plan"]),
		Customer: CustomerDetails{
			Name:    firstNonEmpty(notes["customer_name"], entity.Email),
			Email:   firstNonEmpty(notes["customer_email"], entity.Email),
			Phone:   firstNonEmpty(notes["customer_phone"], entity.Contact),
			Company: notes["customer_company"],
		},
		PendingRef: notes["pending_ref"],
		RawJSON:    string(raw),
	}
	return event, nil
}

func razorpayEventKind(eventType string) EventKind {
	switch eventType {
	case RazorpayEventPaymentCaptured:
		return EventKindSuccess
	case RazorpayEventPaymentFailed:
		return EventKindFailure
	default:
		return EventKindOther
	}
}

// PeekRazorpayEvent best-effort extracts event type and payment id for
// audit attribution without validating the payload.
func PeekRazorpayEvent(raw []byte) (eventType, paymentID string) {
	var envelope razorpayEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return "", ""
	}
	return envelope.Event, envelope.Payload.Payment.Entity.ID
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
