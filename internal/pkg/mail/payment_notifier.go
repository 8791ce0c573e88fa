package mail

import (
	"context"
	"fmt"

	"github.com/zelera/booknest/internal/pkg/payment"
	"github.com/zelera/booknest/internal/pkg/utils"
)

// PaymentNotifier delivers purchase confirmations over SMTP. It
// implements payment.Notifier; the dispatcher swallows any error it
// returns.
type PaymentNotifier struct{}

// NewPaymentNotifier creates the SMTP-backed confirmation notifier.
func NewPaymentNotifier() *PaymentNotifier {
	return &PaymentNotifier{}
}

// SendPaymentConfirmation sends the order confirmation with the plan's
// download link and the single-use confirmation URL.
func (n *PaymentNotifier) SendPaymentConfirmation(ctx context.Context, notif payment.Notification) error {
	_ = ctx
	subject := fmt.Sprintf("Payment Successful - BookNest %s Plan", notif.PlanName)
	body := buildConfirmationBody(notif)
	return SendMail(notif.RecipientEmail, subject, body)
}

func buildConfirmationBody(n payment.Notification) string {
	return fmt.Sprintf(`Dear %s,

Thank you for purchasing BookNest %s Plan!

Order Details:
--------------
Order ID: %s
Payment ID: %s
Plan: %s
Amount Paid: %s%s

Your BookNest Platform Download Link:
%s

You can also access your order details here:
%s

What's Next:
1. Download the platform using the link above
2. Follow the installation instructions included in the package
3. Access your admin credentials (sent in a separate email)

Need help? Contact us:
Email: teamzelera@gmail.com

Thank you for choosing Zelera BookNest!

Best regards,
Team Zelera
`,
		n.CustomerName,
		n.PlanName,
		n.OrderID,
		n.PaymentID,
		n.PlanName,
		utils.CurrencySymbol(n.Currency),
		n.Amount.StringFixed(2),
		n.DriveLink,
		n.ConfirmationURL,
	)
}
