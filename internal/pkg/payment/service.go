package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/zelera/booknest/app/models"
)

const unknownPaymentID = "unknown"

// tokenMintAttempts bounds the regenerate-on-collision loop for session
// tokens. A collision on 48 random bytes is astronomically unlikely.
const tokenMintAttempts = 3

// Notifier is the outbound confirmation collaborator. Delivery runs its
// own retry policy; the dispatcher only logs failures.
type Notifier interface {
	SendPaymentConfirmation(ctx context.Context, n Notification) error
}

// Service is the webhook dispatcher plus the transactional payment
// record and session token stores behind it. All collaborators are
// injected at startup; the service holds no ambient state.
type Service struct {
	repo     Repository
	cfg      Config
	notifier Notifier
	paypal   PayPalVerifier
	pending  PendingStore

	now func() time.Time
}

// NewService creates a payment service from injected collaborators.
func NewService(repo Repository, cfg Config, notifier Notifier, paypal PayPalVerifier, pending PendingStore) *Service {
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = DefaultTokenTTL
	}
	return &Service{
		repo:     repo,
		cfg:      cfg,
		notifier: notifier,
		paypal:   paypal,
		pending:  pending,
		now:      time.Now,
	}
}

// NewServiceFromDB creates a payment service from a GORM DB handle with
// the given collaborators.
func NewServiceFromDB(db *gorm.DB, cfg Config, notifier Notifier, paypal PayPalVerifier, pending PendingStore) *Service {
	return NewService(NewRepository(db), cfg, notifier, paypal, pending)
}

// ProcessRazorpayWebhook runs the full dispatch pipeline for one
// Razorpay delivery: verify, parse, dedupe, persist, audit, notify.
func (s *Service) ProcessRazorpayWebhook(ctx context.Context, rawBody []byte, signatureHeader string) Outcome {
	if !VerifyRazorpayWebhookSignature(rawBody, signatureHeader, s.cfg.RazorpayWebhookSecret) {
		eventType, paymentID := PeekRazorpayEvent(rawBody)
		return s.reject(models.PaymentGatewayRazorpay, eventType, paymentID, rawBody)
	}

	event, err := ParseRazorpayEvent(rawBody)
	if err != nil {
		eventType, paymentID := PeekRazorpayEvent(rawBody)
		return s.rejectMalformed(models.PaymentGatewayRazorpay, eventType, paymentID, rawBody, err)
	}
	return s.dispatch(ctx, event)
}

// ProcessPayPalWebhook runs the full dispatch pipeline for one PayPal
// delivery. Verification happens before any parsed field is acted on.
func (s *Service) ProcessPayPalWebhook(ctx context.Context, rawBody []byte, headers PayPalWebhookHeaders) Outcome {
	eventType, paymentID := PeekPayPalEvent(rawBody)
	if s.paypal == nil || !s.paypal.VerifyWebhookSignature(ctx, headers, rawBody) {
		return s.reject(models.PaymentGatewayPayPal, eventType, paymentID, rawBody)
	}

	event, err := ParsePayPalEvent(rawBody)
	if err != nil {
		return s.rejectMalformed(models.PaymentGatewayPayPal, eventType, paymentID, rawBody, err)
	}
	return s.dispatch(ctx, event)
}

func (s *Service) reject(gateway, eventType, paymentID string, rawBody []byte) Outcome {
	log.Errorf("%s webhook signature verification failed", gateway)
	if eventType == "" {
		eventType = "signature_failed"
	}
	s.auditBestEffort(&models.WebhookLog{
		WebhookType:      gateway,
		EventType:        eventType,
		PaymentID:        orUnknown(paymentID),
		SignatureValid:   false,
		ProcessingStatus: models.WebhookProcessingFailed,
		RawData:          string(rawBody),
		ErrorMessage:     "webhook signature verification failed",
	})
	return OutcomeRejected
}

func (s *Service) rejectMalformed(gateway, eventType, paymentID string, rawBody []byte, parseErr error) Outcome {
	log.Errorf("%s webhook payload rejected: %v", gateway, parseErr)
	if eventType == "" {
		eventType = "malformed"
	}
	s.auditBestEffort(&models.WebhookLog{
		WebhookType:      gateway,
		EventType:        eventType,
		PaymentID:        orUnknown(paymentID),
		SignatureValid:   true,
		ProcessingStatus: models.WebhookProcessingFailed,
		RawData:          string(rawBody),
		ErrorMessage:     parseErr.Error(),
	})
	return OutcomeMalformed
}

// dispatch routes a verified, well-formed event. Every path below
// appends exactly one audit entry.
func (s *Service) dispatch(ctx context.Context, event *GatewayEvent) Outcome {
	count, err := s.repo.CountVerifiedWebhookLogs(event.Gateway, event.PaymentID)
	if err != nil {
		log.Errorf("%s webhook duplicate check failed for %s: %v", event.Gateway, event.PaymentID, err)
		s.auditBestEffort(s.newLog(event, models.WebhookProcessingFailed, fmt.Sprintf("duplicate check failed: %v", err)))
		return OutcomeError
	}
	if count > 0 {
		return s.acknowledgeDuplicate(event)
	}

	switch event.Kind {
	case EventKindSuccess:
		return s.processSuccess(ctx, event)
	case EventKindFailure:
		return s.processFailure(event)
	default:
		// Unrecognized event type: acknowledge and keep the trail so new
		// gateway events never trigger retry storms.
		if err := s.repo.CreateWebhookLog(s.newLog(event, models.WebhookProcessingSuccess, "")); err != nil {
			log.Errorf("%s webhook audit write failed for %s: %v", event.Gateway, event.PaymentID, err)
			return OutcomeError
		}
		log.Infof("%s webhook %s for %s acknowledged without action", event.Gateway, event.EventType, event.PaymentID)
		return OutcomeUnrouted
	}
}

func (s *Service) acknowledgeDuplicate(event *GatewayEvent) Outcome {
	log.Infof("duplicate %s webhook for payment %s, skipping", event.Gateway, event.PaymentID)
	if err := s.repo.CreateWebhookLog(s.newLog(event, models.WebhookProcessingDuplicate, "")); err != nil {
		log.Errorf("%s webhook audit write failed for %s: %v", event.Gateway, event.PaymentID, err)
		return OutcomeError
	}
	return OutcomeDuplicate
}

// processSuccess creates the payment transaction, its session token and
// the audit entry in one transactional scope, then notifies best-effort.
func (s *Service) processSuccess(ctx context.Context, event *GatewayEvent) Outcome {
	s.mergePendingCheckout(ctx, event)

	txn, err := s.buildTransaction(event)
	if err != nil {
		log.Errorf("%s webhook transaction build failed for %s: %v", event.Gateway, event.PaymentID, err)
		return OutcomeError
	}

	for attempt := 0; ; attempt++ {
		err = s.repo.CreateTransactionWithLog(txn, s.newLog(event, models.WebhookProcessingSuccess, ""))
		if err == nil {
			break
		}
		if !errors.Is(err, gorm.ErrDuplicatedKey) {
			log.Errorf("%s webhook transaction create failed for %s: %v", event.Gateway, event.PaymentID, err)
			return OutcomeError
		}
		// A concurrent delivery of the same event loses here on the
		// (payment_method, payment_id) unique index and is acknowledged
		// as a duplicate.
		if existing, lookupErr := s.repo.GetVerifiedTransactionByPaymentID(event.PaymentID); lookupErr == nil && existing.PaymentMethod == event.Gateway {
			return s.acknowledgeDuplicate(event)
		}
		if attempt+1 >= tokenMintAttempts {
			log.Errorf("%s webhook transaction create failed for %s after %d attempts: %v", event.Gateway, event.PaymentID, attempt+1, err)
			return OutcomeError
		}
		// Session token collision: regenerate and retry.
		token, mintErr := models.GenerateSessionToken()
		if mintErr != nil {
			log.Errorf("session token mint failed for %s: %v", event.PaymentID, mintErr)
			return OutcomeError
		}
		txn.SessionToken = token
	}

	log.Infof("payment transaction created: %s (%s %s)", txn.OrderID, txn.PaymentMethod, txn.PaymentID)
	s.notify(ctx, txn)
	return OutcomeProcessed
}

func (s *Service) processFailure(event *GatewayEvent) Outcome {
	log.Infof("%s payment failed: %s", event.Gateway, event.PaymentID)
	msg := fmt.Sprintf("payment failed for %s", orUnknown(event.Customer.Email))
	if err := s.repo.CreateWebhookLog(s.newLog(event, models.WebhookProcessingPaymentFailed, msg)); err != nil {
		log.Errorf("%s webhook audit write failed for %s: %v", event.Gateway, event.PaymentID, err)
		return OutcomeError
	}
	return OutcomePaymentFailed
}

func (s *Service) buildTransaction(event *GatewayEvent) (*models.PaymentTransaction, error) {
	token, err := models.GenerateSessionToken()
	if err != nil {
		return nil, err
	}

	plan := normalizePlan(event.Plan)
	if plan == "" {
		plan = models.PlanPremium
	}

	return &models.PaymentTransaction{
		OrderID:                  models.GenerateOrderID(),
		PaymentID:                event.PaymentID,
		Plan:                     plan,
		Amount:                   event.Amount,
		Currency:                 event.Currency,
		CustomerName:             event.Customer.Name,
		CustomerEmail:            event.Customer.Email,
		CustomerPhone:            event.Customer.Phone,
		CustomerCompany:          event.Customer.Company,
		Status:                   models.PaymentStatusSuccess,
		PaymentMethod:            event.Gateway,
		SessionToken:             token,
		TokenExpiresAt:           s.now().Add(s.cfg.TokenTTL),
		DriveLink:                s.cfg.DriveLinks.Resolve(plan),
		WebhookReceived:          true,
		WebhookSignatureVerified: true,
		RawWebhookData:           event.RawJSON,
	}, nil
}

// mergePendingCheckout fills customer fields the gateway payload did not
// carry from the pending checkout captured by the initiate API.
func (s *Service) mergePendingCheckout(ctx context.Context, event *GatewayEvent) {
	if s.pending == nil || event.PendingRef == "" {
		return
	}
	pending, err := s.pending.Load(ctx, event.PendingRef)
	if err != nil {
		log.Warnf("pending checkout lookup failed for ref %s: %v", event.PendingRef, err)
		return
	}
	if pending == nil {
		return
	}
	event.Customer.Name = firstNonEmpty(event.Customer.Name, pending.CustomerName)
	event.Customer.Email = firstNonEmpty(event.Customer.Email, pending.CustomerEmail)
	event.Customer.Phone = firstNonEmpty(event.Customer.Phone, pending.CustomerPhone)
	event.Customer.Company = firstNonEmpty(event.Customer.Company, pending.CustomerCompany)
	event.Plan = firstNonEmpty(event.Plan, pending.Plan)
}

func (s *Service) notify(ctx context.Context, txn *models.PaymentTransaction) {
	if s.notifier == nil || txn.CustomerEmail == "" {
		return
	}
	err := s.notifier.SendPaymentConfirmation(ctx, Notification{
		RecipientEmail:  txn.CustomerEmail,
		CustomerName:    txn.CustomerName,
		OrderID:         txn.OrderID,
		PaymentID:       txn.PaymentID,
		PlanName:        txn.PlanDisplay(),
		Amount:          txn.Amount,
		Currency:        txn.Currency,
		DriveLink:       txn.DriveLink,
		ConfirmationURL: s.cfg.SuccessURL(txn.SessionToken),
	})
	if err != nil {
		// The deliverable and token already exist; mail failure must not
		// surface to the gateway.
		log.Errorf("confirmation email to %s failed: %v", txn.CustomerEmail, err)
		return
	}
	log.Infof("confirmation email sent to %s", txn.CustomerEmail)
}

// ConsumeSessionToken validates a token and atomically marks it used.
// The returned record is the snapshot taken before the mutation so the
// caller can render the confirmation exactly once. Of two racing
// redemptions exactly one gets the record; the other sees
// ErrTokenExpiredOrUsed.
func (s *Service) ConsumeSessionToken(ctx context.Context, token string) (*models.PaymentTransaction, error) {
	_ = ctx
	txn, err := s.repo.GetTransactionBySessionToken(token)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if !txn.IsTokenValid(now) {
		return nil, ErrTokenExpiredOrUsed
	}

	won, err := s.repo.MarkSessionTokenUsed(txn.ID, now)
	if err != nil {
		return nil, err
	}
	if !won {
		return nil, ErrTokenExpiredOrUsed
	}
	return txn, nil
}

// LookupSessionToken serves the polling endpoint: it returns the token
// and confirmation URL once the webhook has landed and the payment is
// verified, ErrPaymentNotReady before that.
func (s *Service) LookupSessionToken(ctx context.Context, paymentID string) (string, string, error) {
	_ = ctx
	txn, err := s.repo.GetVerifiedTransactionByPaymentID(paymentID)
	if err != nil {
		return "", "", err
	}
	return txn.SessionToken, s.cfg.SuccessURL(txn.SessionToken), nil
}

// SavePendingCheckout stores initiate-API customer data for later merge
// during webhook processing.
func (s *Service) SavePendingCheckout(ctx context.Context, ref string, pending PendingCheckout) error {
	if s.pending == nil {
		return errors.New("pending checkout store is not configured")
	}
	return s.pending.Save(ctx, ref, pending)
}

// Config exposes the static configuration for handlers that render
// checkout pages.
func (s *Service) Config() Config {
	return s.cfg
}

func (s *Service) newLog(event *GatewayEvent, status, errorMessage string) *models.WebhookLog {
	return &models.WebhookLog{
		WebhookType:      event.Gateway,
		EventType:        event.EventType,
		PaymentID:        event.PaymentID,
		SignatureValid:   true,
		ProcessingStatus: status,
		RawData:          event.RawJSON,
		ErrorMessage:     errorMessage,
	}
}

func (s *Service) auditBestEffort(entry *models.WebhookLog) {
	if err := s.repo.CreateWebhookLog(entry); err != nil {
		log.Errorf("webhook audit write failed for %s %s: %v", entry.WebhookType, entry.PaymentID, err)
	}
}

func orUnknown(v string) string {
	if v == "" {
		return unknownPaymentID
	}
	return v
}
