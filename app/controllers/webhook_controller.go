package controllers

import (
	"context"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/zelera/booknest/internal/pkg/payment"
)

var paymentService *payment.Service

// InitializePaymentControllers wires the payment service into the
// handlers. Called once from the router during startup; the service
// carries all secrets and collaborators explicitly.
func InitializePaymentControllers(svc *payment.Service) {
	paymentService = svc
}

// HandleRazorpayWebhook receives Razorpay payment callbacks. The
// signature covers the exact raw bytes, so the body is copied before
// anything else touches it.
func HandleRazorpayWebhook(c *fiber.Ctx) error {
	rawBody := append([]byte(nil), c.BodyRaw()...)
	signature := strings.TrimSpace(c.Get("X-Razorpay-Signature"))

	ctx, cancel := context.WithTimeout(c.UserContext(), 15*time.Second)
	defer cancel()

	outcome := paymentService.ProcessRazorpayWebhook(ctx, rawBody, signature)
	return respondWebhookOutcome(c, outcome)
}

// HandlePayPalWebhook receives PayPal payment callbacks. Verification is
// delegated to PayPal using the five transmission headers plus the
// configured webhook id.
func HandlePayPalWebhook(c *fiber.Ctx) error {
	rawBody := append([]byte(nil), c.BodyRaw()...)
	headers := payment.PayPalWebhookHeaders{
		TransmissionID:   strings.TrimSpace(c.Get("Paypal-Transmission-Id")),
		TransmissionTime: strings.TrimSpace(c.Get("Paypal-Transmission-Time")),
		CertURL:          strings.TrimSpace(c.Get("Paypal-Cert-Url")),
		AuthAlgo:         strings.TrimSpace(c.Get("Paypal-Auth-Algo")),
		TransmissionSig:  strings.TrimSpace(c.Get("Paypal-Transmission-Sig")),
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), 25*time.Second)
	defer cancel()

	outcome := paymentService.ProcessPayPalWebhook(ctx, rawBody, headers)
	return respondWebhookOutcome(c, outcome)
}

// respondWebhookOutcome maps dispatch outcomes onto the response codes
// gateways act on: 2xx acknowledges, 4xx stops retries for requests we
// will never accept, 5xx asks for a retry.
func respondWebhookOutcome(c *fiber.Ctx, outcome payment.Outcome) error {
	switch outcome {
	case payment.OutcomeRejected:
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_signature"})
	case payment.OutcomeMalformed:
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_payload"})
	case payment.OutcomeDuplicate:
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "duplicate": true})
	case payment.OutcomeUnrouted:
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "ignored": true})
	case payment.OutcomeProcessed, payment.OutcomePaymentFailed:
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true})
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "webhook_processing_failed"})
	}
}
