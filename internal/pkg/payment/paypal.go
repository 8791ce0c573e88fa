package payment

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
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/shopspring/decimal"

	"github.com/zelera/booknest/app/models"
	"github.com/zelera/booknest/internal/pkg/env"
)

const (
	defaultPayPalLiveAPIBaseURL    = "https://api-m.paypal.com"
	defaultPayPalSandboxAPIBaseURL = "https://api-m.sandbox.paypal.com"

	paypalVerificationSuccess = "SUCCESS"
)

// PayPal capture event types the dispatcher routes on.
const (
	PayPalEventCaptureCompleted = "PAYMENT.CAPTURE.COMPLETED"
	PayPalEventCaptureDenied    = "PAYMENT.CAPTURE.DENIED"
	PayPalEventCaptureRefunded  = "PAYMENT.CAPTURE.REFUNDED"
)

// PayPalWebhookHeaders carries the five transmission headers PayPal
// signs each delivery with. All of them plus the pre-shared webhook id
// are required for verification; missing any is an automatic failure.
type PayPalWebhookHeaders struct {
	TransmissionID   string
	TransmissionTime string
	CertURL          string
	AuthAlgo         string
	TransmissionSig  string
}

// PayPalVerifier is the contract the dispatcher needs from PayPal's
// signature verification. It is a pure predicate: verifier faults count
// as verification failure, never as a processing crash.
type PayPalVerifier interface {
	VerifyWebhookSignature(ctx context.Context, headers PayPalWebhookHeaders, rawBody []byte) bool
}

// PayPalClient talks to PayPal's REST API. Verification is delegated to
// the /v1/notifications/verify-webhook-signature endpoint because the
// certificate chain handling lives on PayPal's side.
type PayPalClient struct {
	ClientID     string
	ClientSecret string
	WebhookID    string

	APIBaseURL string

	HTTPClient *http.Client
}

// NewPayPalClientFromEnv builds a PayPal client from environment
// configuration. PAYPAL_MODE selects live vs sandbox endpoints.
func NewPayPalClientFromEnv() *PayPalClient {
	base := defaultPayPalSandboxAPIBaseURL
	if strings.EqualFold(strings.TrimSpace(env.GetEnv("PAYPAL_MODE", "sandbox")), "live") {
		base = defaultPayPalLiveAPIBaseURL
	}
	if override := strings.TrimSpace(env.GetEnv("PAYPAL_API_BASE_URL", "")); override != "" {
		base = strings.TrimRight(override, "/")
	}

	return &PayPalClient{
		ClientID:     strings.TrimSpace(env.GetEnv("PAYPAL_CLIENT_ID", "")),
		ClientSecret: strings.TrimSpace(env.GetEnv("PAYPAL_CLIENT_SECRET", "")),
		WebhookID:    strings.TrimSpace(env.GetEnv("PAYPAL_WEBHOOK_ID", "")),
		APIBaseURL:   base,
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

type paypalTokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

func (c *PayPalClient) getAccessToken(ctx context.Context) (string, error) {
	if c.ClientID == "" || c.ClientSecret == "" {
		return "", errors.New("PAYPAL_CLIENT_ID/PAYPAL_CLIENT_SECRET are not configured")
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.APIBaseURL+"/v1/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(c.ClientID, c.ClientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("paypal token request failed: status=%d body=%s", resp.StatusCode, string(body))
	}

	var out paypalTokenResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", err
	}
	if strings.TrimSpace(out.AccessToken) == "" {
		return "", errors.New("paypal token request returned empty access_token")
	}
	return out.AccessToken, nil
}

type paypalVerifyRequest struct {
	AuthAlgo         string          `json:"auth_algo"`
	CertURL          string          `json:"cert_url"`
	TransmissionID   string          `json:"transmission_id"`
	TransmissionSig  string          `json:"transmission_sig"`
	TransmissionTime string          `json:"transmission_time"`
	WebhookID        string          `json:"webhook_id"`
	WebhookEvent     json.RawMessage `json:"webhook_event"`
}

type paypalVerifyResponse struct {
	VerificationStatus string `json:"verification_status"`
}

// VerifyWebhookSignature implements PayPalVerifier. It fails closed on
// missing inputs, transport errors and non-SUCCESS verification states.
func (c *PayPalClient) VerifyWebhookSignature(ctx context.Context, headers PayPalWebhookHeaders, rawBody []byte) bool {
	if c.WebhookID == "" ||
		headers.TransmissionID == "" ||
		headers.TransmissionTime == "" ||
		headers.CertURL == "" ||
		headers.TransmissionSig == "" {
		log.Warn("paypal webhook verification skipped: missing headers or webhook id")
		return false
	}

	token, err := c.getAccessToken(ctx)
	if err != nil {
		log.Errorf("paypal webhook verification: token request failed: %v", err)
		return false
	}

	payload, err := json.Marshal(paypalVerifyRequest{
		AuthAlgo:         headers.AuthAlgo,
		CertURL:          headers.CertURL,
		TransmissionID:   headers.TransmissionID,
		TransmissionSig:  headers.TransmissionSig,
		TransmissionTime: headers.TransmissionTime,
		WebhookID:        c.WebhookID,
		WebhookEvent:     json.RawMessage(rawBody),
	})
	if err != nil {
		log.Errorf("paypal webhook verification: request encoding failed: %v", err)
		return false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.APIBaseURL+"/v1/notifications/verify-webhook-signature", bytes.NewReader(payload))
	if err != nil {
		return false
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		log.Errorf("paypal webhook verification: request failed: %v", err)
		return false
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Errorf("paypal webhook verification: status=%d body=%s", resp.StatusCode, string(body))
		return false
	}

	var out paypalVerifyResponse
	if err := json.Unmarshal(body, &out); err != nil {
		log.Errorf("paypal webhook verification: response decoding failed: %v", err)
		return false
	}
	return out.VerificationStatus == paypalVerificationSuccess
}

type paypalEnvelope struct {
	EventType string `json:"event_type" validate:"required"`
	Resource  struct {
		ID     string `json:"id" validate:"required"`
		Amount struct {
			Value        string `json:"value"`
			CurrencyCode string `json:"currency_code"`
		} `json:"amount"`
		CustomID string `json:"custom_id"`
	} `json:"resource"`
}

type paypalCustomData struct {
	CustomerName    string `json:"customer_name"`
	CustomerEmail   string `json:"customer_email"`
	CustomerPhone   string `json:"customer_phone"`
	CustomerCompany string `json:"customer_company"`
	Plan            string `json:"plan"`
	PendingRef      string `json:"pending_ref"`
}

// ParsePayPalEvent decodes and validates a PayPal webhook payload into
// the provider-agnostic event shape. Customer metadata rides in the
// capture's custom_id as a JSON string.
func ParsePayPalEvent(raw []byte) (*GatewayEvent, error) {
	var envelope paypalEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("invalid paypal payload: %w", err)
	}
	if err := payloadValidate.Struct(&envelope); err != nil {
		return nil, fmt.Errorf("invalid paypal payload: %w", err)
	}

	amount := decimal.Zero
	if v := strings.TrimSpace(envelope.Resource.Amount.Value); v != "" {
		parsed, err := decimal.NewFromString(v)
		if err != nil {
			return nil, fmt.Errorf("invalid paypal payload: bad amount %q", v)
		}
		amount = parsed
	}

	currency := strings.TrimSpace(envelope.Resource.Amount.CurrencyCode)
	if currency == "" {
		currency = "USD"
	}

	var custom paypalCustomData
	if cid := strings.TrimSpace(envelope.Resource.CustomID); cid != "" {
		// custom_id is opaque to PayPal; a non-JSON value is not a
		// malformed webhook, just absent metadata.
		_ = json.Unmarshal([]byte(cid), &custom)
	}

	event := &GatewayEvent{
		Gateway:   models.PaymentGatewayPayPal,
		EventType: envelope.EventType,
		Kind:      paypalEventKind(envelope.EventType),
		PaymentID: envelope.Resource.ID,
		Amount:    amount,
		Currency:  currency,
		Plan:      strings.ToLower(custom.Plan),
		Customer: CustomerDetails{
			Name:    custom.CustomerName,
			Email:   custom.CustomerEmail,
			Phone:   custom.CustomerPhone,
			Company: custom.CustomerCompany,
		},
		PendingRef: custom.PendingRef,
		RawJSON:    string(raw),
	}
	return event, nil
}

func paypalEventKind(eventType string) EventKind {
	switch eventType {
	case PayPalEventCaptureCompleted:
		return EventKindSuccess
	case PayPalEventCaptureDenied, PayPalEventCaptureRefunded:
		return EventKindFailure
	default:
		return EventKindOther
	}
}

// PeekPayPalEvent best-effort extracts event type and payment id for
// audit attribution without validating the payload.
func PeekPayPalEvent(raw []byte) (eventType, paymentID string) {
	var envelope paypalEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return "", ""
	}
	return envelope.EventType, envelope.Resource.ID
}
