package controllers

import (
	"context"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/sujit-baniya/flash"

	"github.com/zelera/booknest/internal/pkg/payment"
	"github.com/zelera/booknest/internal/pkg/utils"
)

var validate = validator.New()

// HandleCheckout renders the checkout page with the public gateway
// credentials the frontend SDKs need.
func HandleCheckout(c *fiber.Ctx) error {
	setNoCache(c)
	plan := c.Query("plan", "premium")
	cfg := paymentService.Config()

	return c.Render("checkout", fiber.Map{
		"plan":             plan,
		"razorpay_key":     cfg.RazorpayKeyID,
		"paypal_client_id": cfg.PayPalClientID,
	})
}

// HandlePaymentSuccess serves the single-view confirmation page. The
// token is consumed atomically; a second request with the same token
// lands on the expired page.
func HandlePaymentSuccess(c *fiber.Ctx) error {
	setNoCache(c)

	token := c.Query("token")
	if token == "" {
		log.Warn("success page accessed without token")
		return flash.WithError(c, fiber.Map{"type": "error", "message": "Missing payment confirmation link"}).Redirect("/")
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), 10*time.Second)
	defer cancel()

	txn, err := paymentService.ConsumeSessionToken(ctx, token)
	if err != nil {
		switch {
		case errors.Is(err, payment.ErrTokenNotFound):
			log.Warnf("success page: unknown token %.10s...", token)
			return c.Render("token_expired", fiber.Map{
				"message": "Invalid payment confirmation link.",
			})
		case errors.Is(err, payment.ErrTokenExpiredOrUsed):
			log.Warnf("success page: expired or used token %.10s...", token)
			return c.Render("token_expired", fiber.Map{
				"message": "This payment confirmation link has expired or already been used.",
			})
		default:
			log.Errorf("success page: token redemption failed: %v", err)
			return c.Render("token_expired", fiber.Map{
				"message": "Something went wrong. Please contact support with your order email.",
			})
		}
	}

	log.Infof("success page accessed for order %s", txn.OrderID)

	return c.Render("success", fiber.Map{
		"order_id":        txn.OrderID,
		"payment_id":      txn.PaymentID,
		"plan_name":       txn.PlanDisplay(),
		"amount":          txn.Amount.StringFixed(2),
		"currency":        txn.Currency,
		"currency_symbol": utils.CurrencySymbol(txn.Currency),
		"customer_name":   txn.CustomerName,
		"customer_email":  txn.CustomerEmail,
		"customer_phone":  txn.CustomerPhone,
		"drive_link":      txn.DriveLink,
	})
}

type initiatePaymentRequest struct {
	Reference       string `json:"reference" validate:"required,min=8,max=100"`
	CustomerName    string `json:"customer_name" validate:"required,max=200"`
	CustomerEmail   string `json:"customer_email" validate:"required,email,max=200"`
	CustomerPhone   string `json:"customer_phone" validate:"max=20"`
	CustomerCompany string `json:"customer_company" validate:"max=200"`
	Plan            string `json:"plan" validate:"required,max=20"`
	Currency        string `json:"currency" validate:"max=10"`
}

// HandleInitiatePayment stores customer data before the gateway popup
// opens so webhook processing can fall back to it when the gateway's
// metadata block is incomplete.
func HandleInitiatePayment(c *fiber.Ctx) error {
	setNoCache(c)

	var req initiatePaymentRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if err := validate.Struct(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), 5*time.Second)
	defer cancel()

	err := paymentService.SavePendingCheckout(ctx, req.Reference, payment.PendingCheckout{
		CustomerName:    req.CustomerName,
		CustomerEmail:   req.CustomerEmail,
		CustomerPhone:   req.CustomerPhone,
		CustomerCompany: req.CustomerCompany,
		Plan:            req.Plan,
		Currency:        req.Currency,
	})
	if err != nil {
		log.Errorf("initiate payment: pending checkout save failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal server error"})
	}

	return c.JSON(fiber.Map{"success": true})
}

type getSessionTokenRequest struct {
	PaymentID string `json:"payment_id" validate:"required,max=100"`
}

// HandleGetSessionToken lets the frontend poll for the session token
// once the webhook for its payment id has landed. Until then the
// response asks the caller to retry.
func HandleGetSessionToken(c *fiber.Ctx) error {
	setNoCache(c)

	var req getSessionTokenRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Payment ID required"})
	}
	if err := validate.Struct(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Payment ID required"})
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), 10*time.Second)
	defer cancel()

	token, successURL, err := paymentService.LookupSessionToken(ctx, req.PaymentID)
	if err != nil {
		if errors.Is(err, payment.ErrPaymentNotReady) {
			log.Warnf("payment not found or not verified: %s", req.PaymentID)
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Payment not verified yet. Please wait a moment and try again.",
				"retry": true,
			})
		}
		log.Errorf("session token lookup failed for %s: %v", req.PaymentID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal server error"})
	}

	return c.JSON(fiber.Map{
		"success":       true,
		"session_token": token,
		"success_url":   successURL,
	})
}

// setNoCache prevents client and proxy caching. The success page is
// single-view; a cached copy would defeat the token consumption.
func setNoCache(c *fiber.Ctx) {
	c.Set(fiber.HeaderCacheControl, "no-store, no-cache, must-revalidate, max-age=0")
	c.Set(fiber.HeaderPragma, "no-cache")
	c.Set(fiber.HeaderExpires, "0")
}
