package payment

import (
	"testing"

	"github.com/zelera/booknest/app/models"
)

const razorpayCapturedPayload = `{
	"event": "payment.captured",
	"payload": {
		"payment": {
			"entity": {
				"id": "pay_123",
				"amount": 49900,
				"currency": "INR",
				"status": "captured",
				"email": "fallback@example.com",
				"contact": "+910000000000",
				"notes": {
					"customer_name": "Asha Nair",
					"customer_email": "asha@example.com",
					"customer_phone": "+917012783442",
					"customer_company": "Nair Books",
					"plan": "standard",
					"pending_ref": "chk_abc123"
				}
			}
		}
	}
}`

func TestParseRazorpayEventCaptured(t *testing.T) {
	event, err := ParseRazorpayEvent([]byte(razorpayCapturedPayload))
	if err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}

	if event.Gateway != models.PaymentGatewayRazorpay {
		t.Fatalf("gateway = %q, want razorpay", event.Gateway)
	}
	if event.Kind != EventKindSuccess {
		t.Fatalf("kind = %v, want success", event.Kind)
	}
	if event.PaymentID != "pay_123" {
		t.Fatalf("payment id = %q, want pay_123", event.PaymentID)
	}
	// Razorpay amounts arrive in paise.
	if got := event.Amount.StringFixed(2); got != "499.00" {
		t.Fatalf("amount = %s, want 499.00", got)
	}
	if event.Currency != "INR" {
		t.Fatalf("currency = %q, want INR", event.Currency)
	}
	if event.Plan != "standard" {
		t.Fatalf("plan = %q, want standard", event.Plan)
	}
	if event.Customer.Name != "Asha Nair" || event.Customer.Email != "asha@example.com" {
		t.Fatalf("unexpected customer: %+v", event.Customer)
	}
	if event.PendingRef != "chk_abc123" {
		t.Fatalf("pending ref = %q, want chk_abc123", event.PendingRef)
	}
	if event.RawJSON != razorpayCapturedPayload {
		t.Fatalf("raw payload must be retained verbatim")
	}
}

func TestParseRazorpayEventNotesFallBackToEntityFields(t *testing.T) {
	payload := `{
		"event": "payment.captured",
		"payload": {"payment": {"entity": {
			"id": "pay_456",
			"amount": 9900,
			"currency": "INR",
			"email": "entity@example.com",
			"contact": "+911111111111",
			"notes": {}
		}}}
	}`
	event, err := ParseRazorpayEvent([]byte(payload))
	if err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}
	if event.Customer.Email != "entity@example.com" {
		t.Fatalf("expected email fallback to entity field, got %q", event.Customer.Email)
	}
	if event.Customer.Phone != "+911111111111" {
		t.Fatalf("expected phone fallback to entity contact, got %q", event.Customer.Phone)
	}
}

func TestParseRazorpayEventKinds(t *testing.T) {
	tests := []struct {
		event string
		want  EventKind
	}{
		{event: "payment.captured", want: EventKindSuccess},
		{event: "payment.failed", want: EventKindFailure},
		{event: "refund.created", want: EventKindOther},
		{event: "order.paid", want: EventKindOther},
	}
	for _, tt := range tests {
		if got := razorpayEventKind(tt.event); got != tt.want {
			t.Fatalf("razorpayEventKind(%q) = %v, want %v", tt.event, got, tt.want)
		}
	}
}

func TestParseRazorpayEventMalformed(t *testing.T) {
	if _, err := ParseRazorpayEvent([]byte(`not json`)); err == nil {
		t.Fatalf("expected error for invalid JSON")
	}
	// Missing event type.
	if _, err := ParseRazorpayEvent([]byte(`{"payload":{"payment":{"entity":{"id":"pay_1"}}}}`)); err == nil {
		t.Fatalf("expected error for missing event")
	}
	// Missing payment id.
	if _, err := ParseRazorpayEvent([]byte(`{"event":"payment.captured","payload":{"payment":{"entity":{"amount":100}}}}`)); err == nil {
		t.Fatalf("expected error for missing payment id")
	}
}

func TestPeekRazorpayEvent(t *testing.T) {
	eventType, paymentID := PeekRazorpayEvent([]byte(razorpayCapturedPayload))
	if eventType != "payment.captured" || paymentID != "pay_123" {
		t.Fatalf("peek = (%q, %q), want (payment.captured, pay_123)", eventType, paymentID)
	}

	eventType, paymentID = PeekRazorpayEvent([]byte(`garbage`))
	if eventType != "" || paymentID != "" {
		t.Fatalf("expected empty peek for garbage payload")
	}
}
