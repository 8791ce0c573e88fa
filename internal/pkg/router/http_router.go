package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/zelera/booknest/app/controllers"
	"github.com/zelera/booknest/internal/pkg/cache"
	"github.com/zelera/booknest/internal/pkg/database"
	"github.com/zelera/booknest/internal/pkg/mail"
	"github.com/zelera/booknest/internal/pkg/payment"
)

type HttpRouter struct {
}

func (h HttpRouter) InstallRouter(app *fiber.App) {
	// Construct the payment pipeline once with explicit collaborators.
	// Controllers never reach for secrets or storage themselves.
	svc := payment.NewServiceFromDB(
		database.GetDB(),
		payment.NewConfigFromEnv(),
		mail.NewPaymentNotifier(),
		payment.NewPayPalClientFromEnv(),
		payment.NewRedisPendingStore(cache.GetClient()),
	)
	controllers.InitializePaymentControllers(svc)

	app.Get("/", controllers.HandleStart)

	// Main payment pages
	app.Get("/payment/checkout/", controllers.HandleCheckout)
	app.Get("/payment/success/", controllers.HandlePaymentSuccess)

	// Gateway webhooks (no CSRF, signature-verified in the pipeline)
	app.Post("/payment/webhooks/razorpay/", controllers.HandleRazorpayWebhook)
	app.Post("/payment/webhooks/paypal/", controllers.HandlePayPalWebhook)
}

func NewHttpRouter() *HttpRouter {
	return &HttpRouter{}
}
