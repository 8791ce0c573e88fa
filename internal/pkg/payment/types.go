package payment

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/zelera/booknest/internal/pkg/env"
)

// DefaultTokenTTL is how long a freshly minted session token stays
// redeemable.
const DefaultTokenTTL = 30 * time.Minute

// Sentinel errors for the token redemption path. Both are user-facing
// and rendered as explanatory pages, never as server errors.
var (
	ErrTokenNotFound      = errors.New("session token not found")
	ErrTokenExpiredOrUsed = errors.New("session token expired or already used")
)

// ErrPaymentNotReady signals the polling endpoint that the webhook for a
// payment id has not landed yet and the caller should retry.
var ErrPaymentNotReady = errors.New("payment not verified yet")

// EventKind classifies a gateway event after routing.
type EventKind int

const (
	// EventKindOther covers event types we acknowledge without any
	// business action, forward-compatible with new gateway events.
	EventKindOther EventKind = iota
	EventKindSuccess
	EventKindFailure
)

// Outcome is the terminal state of one webhook dispatch.
type Outcome int

const (
	// OutcomeRejected: signature verification failed.
	OutcomeRejected Outcome = iota
	// OutcomeMalformed: signature was fine but the payload shape was not.
	OutcomeMalformed
	// OutcomeDuplicate: event already processed, acknowledged again.
	OutcomeDuplicate
	// OutcomeProcessed: first-seen success event, transaction created.
	OutcomeProcessed
	// OutcomePaymentFailed: gateway reported a failed payment, audit only.
	OutcomePaymentFailed
	// OutcomeUnrouted: unrecognized event type, acknowledged.
	OutcomeUnrouted
	// OutcomeError: persistence or other unexpected failure, the gateway
	// should retry the delivery.
	OutcomeError
)

// CustomerDetails is gateway-supplied purchase metadata. It is captured
// at processing time and never trusted as authentication.
type CustomerDetails struct {
	Name    string
	Email   string
	Phone   string
	Company string
}

// GatewayEvent is the provider-agnostic shape of a parsed webhook
// payload, produced by the per-gateway parsers.
type GatewayEvent struct {
	Gateway    string
	EventType  string
	Kind       EventKind
	PaymentID  string
	Amount     decimal.Decimal
	Currency   string
	Plan       string
	Customer   CustomerDetails
	PendingRef string
	RawJSON    string
}

// Notification is the contract handed to the notifier collaborator after
// a transaction has been created. Delivery failure is logged and
// swallowed, never escalated.
type Notification struct {
	RecipientEmail  string
	CustomerName    string
	OrderID         string
	PaymentID       string
	PlanName        string
	Amount          decimal.Decimal
	Currency        string
	DriveLink       string
	ConfirmationURL string
}

// Config carries all secrets and static mappings the pipeline needs. It
// is constructed once at startup and passed in explicitly; the pipeline
// itself never reads the environment.
type Config struct {
	RazorpayKeyID         string
	RazorpayWebhookSecret string

	PayPalClientID  string
	PayPalWebhookID string

	DriveLinks DriveLinks

	TokenTTL     time.Duration
	PublicDomain string
}

// NewConfigFromEnv builds the pipeline configuration from environment
// variables. Called from main before the router is installed.
func NewConfigFromEnv() Config {
	return Config{
		RazorpayKeyID:         strings.TrimSpace(env.GetEnv("RAZORPAY_KEY_ID", "")),
		RazorpayWebhookSecret: strings.TrimSpace(env.GetEnv("RAZORPAY_WEBHOOK_SECRET", "")),
		PayPalClientID:        strings.TrimSpace(env.GetEnv("PAYPAL_CLIENT_ID", "")),
		PayPalWebhookID:       strings.TrimSpace(env.GetEnv("PAYPAL_WEBHOOK_ID", "")),
		DriveLinks:            NewDriveLinksFromEnv(),
		TokenTTL:              DefaultTokenTTL,
		PublicDomain:          strings.TrimRight(env.GetEnv("PUBLIC_DOMAIN", ""), "/"),
	}
}

// SuccessURL returns the single-use confirmation URL for a session token.
func (c Config) SuccessURL(token string) string {
	return c.PublicDomain + "/payment/success/?token=" + token
}
