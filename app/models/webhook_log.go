package models

import "time"

// Webhook processing outcomes recorded in the audit trail.
const (
	WebhookProcessingSuccess       = "success"
	WebhookProcessingFailed        = "failed"
	WebhookProcessingDuplicate     = "duplicate"
	WebhookProcessingPaymentFailed = "payment_failed"
)

// WebhookLog is the append-only audit record of a single inbound webhook
// delivery, written for every attempt regardless of validity or outcome.
// Rows are never updated or deleted. The transaction link is nullable so
// purging a PaymentTransaction never invalidates the trail.
type WebhookLog struct {
	ID uint `gorm:"primaryKey" json:"id"`

	PaymentTransactionID *uint               `gorm:"index" json:"payment_transaction_id,omitempty"`
	PaymentTransaction   *PaymentTransaction `gorm:"constraint:OnDelete:SET NULL" json:"-"`

	WebhookType string `gorm:"type:varchar(50);not null;index:idx_webhook_logs_type_event,priority:1" json:"webhook_type"`
	EventType   string `gorm:"type:varchar(100);not null;index:idx_webhook_logs_type_event,priority:2" json:"event_type"`
	PaymentID   string `gorm:"type:varchar(100);not null;index:idx_webhook_logs_payment_created,priority:1" json:"payment_id"`

	SignatureValid   bool   `gorm:"not null;default:false;index" json:"signature_valid"`
	ProcessingStatus string `gorm:"type:varchar(20);not null" json:"processing_status"`

	RawData      string `gorm:"type:longtext;not null" json:"raw_data"`
	ErrorMessage string `gorm:"type:text" json:"error_message,omitempty"`

	CreatedAt time.Time `gorm:"autoCreateTime;index:idx_webhook_logs_payment_created,priority:2" json:"created_at"`
}
