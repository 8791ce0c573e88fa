package controllers

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/template/html/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/zelera/booknest/app/models"
	"github.com/zelera/booknest/internal/pkg/payment"
)

const testWebhookSecret = "whsec_controller_test"

// memoryPaymentRepository backs the handler tests without a database. It
// enforces the same uniqueness and compare-and-swap rules as the MySQL
// schema.
type memoryPaymentRepository struct {
	mu           sync.Mutex
	transactions []*models.PaymentTransaction
	logs         []*models.WebhookLog
	nextID       uint
}

func newMemoryPaymentRepository() *memoryPaymentRepository {
	return &memoryPaymentRepository{nextID: 1}
}

func (r *memoryPaymentRepository) CreateWebhookLog(entry *models.WebhookLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logs = append(r.logs, entry)
	return nil
}

func (r *memoryPaymentRepository) CountVerifiedWebhookLogs(gateway, paymentID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var count int64
	for _, entry := range r.logs {
		if entry.WebhookType == gateway && entry.PaymentID == paymentID && entry.SignatureValid {
			count++
		}
	}
	return count, nil
}

func (r *memoryPaymentRepository) CreateTransactionWithLog(txn *models.PaymentTransaction, entry *models.WebhookLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.transactions {
		if existing.PaymentMethod == txn.PaymentMethod && existing.PaymentID == txn.PaymentID {
			return gorm.ErrDuplicatedKey
		}
	}
	txn.ID = r.nextID
	r.nextID++
	r.transactions = append(r.transactions, txn)
	entry.PaymentTransactionID = &txn.ID
	r.logs = append(r.logs, entry)
	return nil
}

func (r *memoryPaymentRepository) GetTransactionBySessionToken(token string) (*models.PaymentTransaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, txn := range r.transactions {
		if txn.SessionToken == token {
			snapshot := *txn
			return &snapshot, nil
		}
	}
	return nil, payment.ErrTokenNotFound
}

func (r *memoryPaymentRepository) GetVerifiedTransactionByPaymentID(paymentID string) (*models.PaymentTransaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, txn := range r.transactions {
		if txn.PaymentID == paymentID && txn.WebhookReceived && txn.Status == models.PaymentStatusSuccess {
			snapshot := *txn
			return &snapshot, nil
		}
	}
	return nil, payment.ErrPaymentNotReady
}

func (r *memoryPaymentRepository) MarkSessionTokenUsed(transactionID uint, accessedAt time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, txn := range r.transactions {
		if txn.ID == transactionID && !txn.TokenUsed {
			txn.TokenUsed = true
			at := accessedAt
			txn.AccessedAt = &at
			return true, nil
		}
	}
	return false, nil
}

type noopNotifier struct{}

func (noopNotifier) SendPaymentConfirmation(context.Context, payment.Notification) error {
	return nil
}

type memoryPendingStore struct {
	mu      sync.Mutex
	entries map[string]payment.PendingCheckout
}

func (s *memoryPendingStore) Save(_ context.Context, ref string, pending payment.PendingCheckout) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.entries == nil {
		s.entries = map[string]payment.PendingCheckout{}
	}
	s.entries[ref] = pending
	return nil
}

func (s *memoryPendingStore) Load(_ context.Context, ref string) (*payment.PendingCheckout, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pending, ok := s.entries[ref]
	if !ok {
		return nil, nil
	}
	return &pending, nil
}

func newTestApp(t *testing.T) (*fiber.App, *memoryPaymentRepository) {
	t.Helper()

	repo := newMemoryPaymentRepository()
	cfg := payment.Config{
		RazorpayKeyID:         "rzp_test_key",
		RazorpayWebhookSecret: testWebhookSecret,
		PayPalClientID:        "paypal-client-id",
		DriveLinks: payment.DriveLinks{
			models.PlanBasic:    "https://drive.example.com/basic",
			models.PlanStandard: "https://drive.example.com/standard",
			models.PlanPremium:  "https://drive.example.com/premium",
		},
		TokenTTL:     payment.DefaultTokenTTL,
		PublicDomain: "https://booknest.example.com",
	}
	svc := payment.NewService(repo, cfg, noopNotifier{}, nil, &memoryPendingStore{})
	InitializePaymentControllers(svc)

	engine := html.New("../../views", ".html")
	app := fiber.New(fiber.Config{Views: engine})

	app.Get("/payment/checkout/", HandleCheckout)
	app.Get("/payment/success/", HandlePaymentSuccess)
	app.Post("/payment/webhooks/razorpay/", HandleRazorpayWebhook)
	app.Post("/payment/webhooks/paypal/", HandlePayPalWebhook)
	app.Post("/payment/api/initiate/", HandleInitiatePayment)
	app.Post("/payment/api/get-token/", HandleGetSessionToken)

	return app, repo
}

func signRazorpay(body []byte) string {
	mac := hmac.New(sha256.New, []byte(testWebhookSecret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func razorpayCapturedBody(paymentID string) []byte {
	return []byte(`{
		"event": "payment.captured",
		"payload": {"payment": {"entity": {
			"id": "` + paymentID + `",
			"amount": 49900,
			"currency": "INR",
			"email": "asha@example.com",
			"contact": "+917012783442",
			"notes": {"customer_name": "Asha Nair", "plan": "standard"}
		}}}
	}`)
}

func doJSON(t *testing.T, app *fiber.App, method, target string, body []byte, header map[string]string) (*http.Response, []byte) {
	t.Helper()
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	respBody, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	resp.Body.Close()
	return resp, respBody
}

func TestWebhookThenTokenFlow(t *testing.T) {
	app, repo := newTestApp(t)

	// Gateway delivers the verified capture event.
	body := razorpayCapturedBody("pay_e2e_1")
	resp, _ := doJSON(t, app, http.MethodPost, "/payment/webhooks/razorpay/", body, map[string]string{
		"X-Razorpay-Signature": signRazorpay(body),
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, repo.transactions, 1)

	// The frontend polls for its session token.
	resp, respBody := doJSON(t, app, http.MethodPost, "/payment/api/get-token/", []byte(`{"payment_id":"pay_e2e_1"}`), nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var tokenResp struct {
		Success      bool   `json:"success"`
		SessionToken string `json:"session_token"`
		SuccessURL   string `json:"success_url"`
	}
	require.NoError(t, json.Unmarshal(respBody, &tokenResp))
	assert.True(t, tokenResp.Success)
	require.NotEmpty(t, tokenResp.SessionToken)
	assert.Contains(t, tokenResp.SuccessURL, tokenResp.SessionToken)

	// First view of the success page renders the order details.
	resp, respBody = doJSON(t, app, http.MethodGet, "/payment/success/?token="+tokenResp.SessionToken, nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	page := string(respBody)
	assert.Contains(t, page, "Payment Successful")
	assert.Contains(t, page, repo.transactions[0].OrderID)
	assert.Contains(t, page, "pay_e2e_1")
	assert.Contains(t, page, "Standard")
	assert.Contains(t, page, "₹499.00")
	assert.Contains(t, page, "https://drive.example.com/standard")
	assert.Contains(t, resp.Header.Get(fiber.HeaderCacheControl), "no-store")

	// The second view lands on the expired page.
	resp, respBody = doJSON(t, app, http.MethodGet, "/payment/success/?token="+tokenResp.SessionToken, nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(respBody), "expired or already been used")
}

func TestRazorpayWebhookBadSignature(t *testing.T) {
	app, repo := newTestApp(t)

	body := razorpayCapturedBody("pay_bad_sig")
	resp, respBody := doJSON(t, app, http.MethodPost, "/payment/webhooks/razorpay/", body, map[string]string{
		"X-Razorpay-Signature": "deadbeef",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, string(respBody), "invalid_signature")
	assert.Empty(t, repo.transactions)
}

func TestRazorpayWebhookDuplicateDelivery(t *testing.T) {
	app, repo := newTestApp(t)

	body := razorpayCapturedBody("pay_dup_1")
	headers := map[string]string{"X-Razorpay-Signature": signRazorpay(body)}

	resp, _ := doJSON(t, app, http.MethodPost, "/payment/webhooks/razorpay/", body, headers)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, respBody := doJSON(t, app, http.MethodPost, "/payment/webhooks/razorpay/", body, headers)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(respBody), `"duplicate":true`)
	assert.Len(t, repo.transactions, 1)
}

func TestGetSessionTokenBeforeWebhook(t *testing.T) {
	app, _ := newTestApp(t)

	resp, respBody := doJSON(t, app, http.MethodPost, "/payment/api/get-token/", []byte(`{"payment_id":"pay_pending"}`), nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, string(respBody), `"retry":true`)
}

func TestGetSessionTokenMissingPaymentID(t *testing.T) {
	app, _ := newTestApp(t)

	resp, _ := doJSON(t, app, http.MethodPost, "/payment/api/get-token/", []byte(`{}`), nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPaymentSuccessMissingToken(t *testing.T) {
	app, _ := newTestApp(t)

	req := httptest.NewRequest(http.MethodGet, "/payment/success/", nil)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/", resp.Header.Get(fiber.HeaderLocation))
}

func TestPaymentSuccessUnknownToken(t *testing.T) {
	app, _ := newTestApp(t)

	resp, respBody := doJSON(t, app, http.MethodGet, "/payment/success/?token=nope", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(respBody), "Invalid payment confirmation link")
}

func TestCheckoutPage(t *testing.T) {
	app, _ := newTestApp(t)

	resp, respBody := doJSON(t, app, http.MethodGet, "/payment/checkout/?plan=standard", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	page := string(respBody)
	assert.Contains(t, page, "standard")
	assert.Contains(t, page, "rzp_test_key")
	assert.Contains(t, page, "paypal-client-id")
}

func TestInitiatePayment(t *testing.T) {
	app, _ := newTestApp(t)

	body := []byte(`{
		"reference": "chk_front_1",
		"customer_name": "Asha Nair",
		"customer_email": "asha@example.com",
		"plan": "standard"
	}`)
	resp, respBody := doJSON(t, app, http.MethodPost, "/payment/api/initiate/", body, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(respBody), `"success":true`)

	resp, _ = doJSON(t, app, http.MethodPost, "/payment/api/initiate/", []byte(`{"reference":"x"}`), nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

var _ payment.Repository = (*memoryPaymentRepository)(nil)

type ctxMarkerKey struct{}

type contextRecordingVerifier struct {
	sawMarker   bool
	hasDeadline bool
}

func (v *contextRecordingVerifier) VerifyWebhookSignature(ctx context.Context, _ payment.PayPalWebhookHeaders, _ []byte) bool {
	v.sawMarker = ctx.Value(ctxMarkerKey{}) != nil
	_, v.hasDeadline = ctx.Deadline()
	return false
}

// Handlers derive their contexts from the request's user context, so
// request-scoped values and cancellation reach the collaborators.
func TestWebhookHandlerPropagatesRequestContext(t *testing.T) {
	repo := newMemoryPaymentRepository()
	verifier := &contextRecordingVerifier{}
	svc := payment.NewService(repo, payment.Config{
		RazorpayWebhookSecret: testWebhookSecret,
		TokenTTL:              payment.DefaultTokenTTL,
	}, noopNotifier{}, verifier, &memoryPendingStore{})
	InitializePaymentControllers(svc)

	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		c.SetUserContext(context.WithValue(c.UserContext(), ctxMarkerKey{}, "set"))
		return c.Next()
	})
	app.Post("/payment/webhooks/paypal/", HandlePayPalWebhook)

	resp, _ := doJSON(t, app, http.MethodPost, "/payment/webhooks/paypal/", []byte(`{"event_type":"PAYMENT.CAPTURE.COMPLETED"}`), nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.True(t, verifier.sawMarker, "verifier must see request-scoped context values")
	assert.True(t, verifier.hasDeadline, "verifier context must carry the handler timeout")
}

func TestWebhookOutcomeMapping(t *testing.T) {
	app, _ := newTestApp(t)

	// Unrecognized event types are acknowledged without action.
	body := []byte(`{
		"event": "refund.created",
		"payload": {"payment": {"entity": {"id": "pay_refund", "amount": 100, "currency": "INR"}}}
	}`)
	resp, respBody := doJSON(t, app, http.MethodPost, "/payment/webhooks/razorpay/", body, map[string]string{
		"X-Razorpay-Signature": signRazorpay(body),
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(respBody), `"ignored":true`)

	// Valid signature over a payload the parser rejects.
	body = []byte(`{"event":"payment.captured","payload":{}}`)
	resp, respBody = doJSON(t, app, http.MethodPost, "/payment/webhooks/razorpay/", body, map[string]string{
		"X-Razorpay-Signature": signRazorpay(body),
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, string(respBody), "invalid_payload")

	// PayPal deliveries without a configured verifier are rejected.
	resp, respBody = doJSON(t, app, http.MethodPost, "/payment/webhooks/paypal/", []byte(`{"event_type":"PAYMENT.CAPTURE.COMPLETED"}`), nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, string(respBody), "invalid_signature")
}
