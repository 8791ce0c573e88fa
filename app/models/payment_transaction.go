package models

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Payment gateway constants used across payment-related models.
const (
	PaymentGatewayRazorpay = "razorpay"
	PaymentGatewayPayPal   = "paypal"
)

// Plan constants. Unknown plan keys fall back to the premium drive link
// at resolution time, see payment.ResolveDriveLink.
const (
	PlanBasic    = "basic"
	PlanStandard = "standard"
	PlanPremium  = "premium"
)

// Payment status values. A transaction is written once with a terminal
// status and never regresses.
const (
	PaymentStatusPending = "pending"
	PaymentStatusSuccess = "success"
	PaymentStatusFailed  = "failed"
)

const sessionTokenBytes = 48

// PaymentTransaction is the authoritative record of a purchase, created
// exactly once per verified gateway success event. The composite unique
// index on (payment_method, payment_id) is the race-breaker for
// concurrent duplicate webhook deliveries.
type PaymentTransaction struct {
	ID        uint   `gorm:"primaryKey" json:"id"`
	OrderID   string `gorm:"type:varchar(100);not null;uniqueIndex" json:"order_id"`
	PaymentID string `gorm:"type:varchar(100);not null;index:ux_payment_transactions_gateway_payment,unique,priority:2" json:"payment_id"`

	Plan     string          `gorm:"type:varchar(20);not null" json:"plan" validate:"required"`
	Amount   decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"amount"`
	Currency string          `gorm:"type:varchar(10);not null;default:'INR'" json:"currency"`

	CustomerName    string `gorm:"type:varchar(200)" json:"customer_name"`
	CustomerEmail   string `gorm:"type:varchar(200)" json:"customer_email"`
	CustomerPhone   string `gorm:"type:varchar(20)" json:"customer_phone"`
	CustomerCompany string `gorm:"type:varchar(200);default:''" json:"customer_company"`

	Status        string `gorm:"type:varchar(20);not null;default:'pending';index:idx_payment_transactions_order_status" json:"status"`
	PaymentMethod string `gorm:"type:varchar(50);not null;index:ux_payment_transactions_gateway_payment,unique,priority:1" json:"payment_method"`

	SessionToken   string     `gorm:"type:varchar(100);not null;uniqueIndex" json:"-"`
	TokenUsed      bool       `gorm:"not null;default:false" json:"token_used"`
	TokenExpiresAt time.Time  `gorm:"not null" json:"token_expires_at"`
	AccessedAt     *time.Time `gorm:"type:timestamp;default:null" json:"accessed_at,omitempty"`

	DriveLink string `gorm:"type:varchar(500)" json:"drive_link"`

	WebhookReceived          bool `gorm:"not null;default:false" json:"webhook_received"`
	WebhookSignatureVerified bool `gorm:"not null;default:false" json:"webhook_signature_verified"`

	RawWebhookData string `gorm:"type:longtext" json:"-"`

	CreatedAt time.Time `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// GenerateSessionToken returns a fresh single-use access token with at
// least 48 bytes of cryptographic randomness, URL-safe encoded.
func GenerateSessionToken() (string, error) {
	b := make([]byte, sessionTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("session token generation failed: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// GenerateOrderID returns a new order identifier. The millisecond
// timestamp keeps ids roughly monotonic, the UUID suffix rules out
// collisions between orders created in the same millisecond.
func GenerateOrderID() string {
	suffix := strings.Split(uuid.New().String(), "-")[0]
	return fmt.Sprintf("ZEL%d%s", time.Now().UnixMilli(), strings.ToUpper(suffix))
}

// IsTokenValid reports whether the session token can still be redeemed.
func (t *PaymentTransaction) IsTokenValid(now time.Time) bool {
	if t.TokenUsed {
		return false
	}
	return !now.After(t.TokenExpiresAt)
}

// PlanDisplay returns the human readable plan name.
func (t *PaymentTransaction) PlanDisplay() string {
	if t.Plan == "" {
		return ""
	}
	return strings.ToUpper(t.Plan[:1]) + t.Plan[1:]
}
