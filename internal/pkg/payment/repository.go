package payment

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/zelera/booknest/app/models"
)

// Repository provides the DB operations used by the payment service.
// All mutations that can race go through here so the compare-and-swap
// and transactional discipline lives in one place.
type Repository interface {
	CreateWebhookLog(entry *models.WebhookLog) error
	CountVerifiedWebhookLogs(gateway, paymentID string) (int64, error)

	// CreateTransactionWithLog persists the payment record and its audit
	// entry in one transaction; if either write fails nothing is kept.
	CreateTransactionWithLog(txn *models.PaymentTransaction, entry *models.WebhookLog) error

	GetTransactionBySessionToken(token string) (*models.PaymentTransaction, error)
	GetVerifiedTransactionByPaymentID(paymentID string) (*models.PaymentTransaction, error)

	// MarkSessionTokenUsed flips token_used under a used=false guard and
	// reports whether this caller won the flip.
	MarkSessionTokenUsed(transactionID uint, accessedAt time.Time) (bool, error)
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a payment repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) CreateWebhookLog(entry *models.WebhookLog) error {
	return r.db.Create(entry).Error
}

func (r *gormRepository) CountVerifiedWebhookLogs(gateway, paymentID string) (int64, error) {
	var count int64
	err := r.db.Model(&models.WebhookLog{}).
		Where("webhook_type = ? AND payment_id = ? AND signature_valid = ?", gateway, paymentID, true).
		Count(&count).Error
	return count, err
}

func (r *gormRepository) CreateTransactionWithLog(txn *models.PaymentTransaction, entry *models.WebhookLog) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(txn).Error; err != nil {
			return err
		}
		entry.PaymentTransactionID = &txn.ID
		return tx.Create(entry).Error
	})
}

func (r *gormRepository) GetTransactionBySessionToken(token string) (*models.PaymentTransaction, error) {
	var txn models.PaymentTransaction
	err := r.db.Where("session_token = ?", token).First(&txn).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTokenNotFound
		}
		return nil, err
	}
	return &txn, nil
}

func (r *gormRepository) GetVerifiedTransactionByPaymentID(paymentID string) (*models.PaymentTransaction, error) {
	var txn models.PaymentTransaction
	err := r.db.
		Where("payment_id = ? AND webhook_received = ? AND status = ?", paymentID, true, models.PaymentStatusSuccess).
		First(&txn).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPaymentNotReady
		}
		return nil, err
	}
	return &txn, nil
}

func (r *gormRepository) MarkSessionTokenUsed(transactionID uint, accessedAt time.Time) (bool, error) {
	tx := r.db.Model(&models.PaymentTransaction{}).
		Where("id = ? AND token_used = ?", transactionID, false).
		Updates(map[string]interface{}{
			"token_used":  true,
			"accessed_at": &accessedAt,
		})
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}
