package notify

import (
	"bytes"
	"html/template"
	"strconv"

	"storefront-fulfillment/internal/common/errors"
	"storefront-fulfillment/internal/models"
)

var templateFuncs = template.FuncMap{
	"rupees": formatRupees,
}

var successTemplate = template.Must(template.New("order-success").Funcs(templateFuncs).Parse(`<div style="font-family: 'Segoe UI', sans-serif; color: #000; padding: 24px; max-width: 600px; margin: auto;">
  <div style="text-align: center;">
    <h2>Thank you for your order, {{.Customer.Name}}!</h2>
  </div>
  <p>Here's a summary of your purchase:</p>
  <table style="width: 100%; border-collapse: collapse; margin-top: 16px;">
    <thead>
      <tr>
        <th style="text-align: left; border-bottom: 1px solid #ccc; padding: 8px;">Item</th>
        <th style="text-align: center; border-bottom: 1px solid #ccc; padding: 8px;">Qty</th>
        <th style="text-align: right; border-bottom: 1px solid #ccc; padding: 8px;">Price</th>
      </tr>
    </thead>
    <tbody>
      {{- range .Items}}
      <tr>
        <td style="padding: 8px;">{{.Name}}</td>
        <td style="text-align: center; padding: 8px;">{{.Quantity}}</td>
        <td style="text-align: right; padding: 8px;">{{rupees .LineTotal}}</td>
      </tr>
      {{- end}}
      <tr>
        <td colspan="2" style="padding: 8px; font-weight: bold;">Total</td>
        <td style="text-align: right; padding: 8px; font-weight: bold;">{{rupees .Total}}</td>
      </tr>
    </tbody>
  </table>
  <p style="margin-top: 16px;"><strong>Payment Method:</strong> {{.PaymentMethod}}</p>
  <p>Your invoice is attached to this email.</p>
  <p style="margin-top: 40px;">Warm regards,<br />Team SAMAA</p>
</div>
`))

var failureTemplate = template.Must(template.New("order-failure").Parse(`<div style="font-family: 'Segoe UI', sans-serif; color: #000; padding: 24px; max-width: 600px; margin: auto;">
  <div style="text-align: center;">
    <h2>Trouble Completing Your Order</h2>
  </div>
  <p>Hi {{.Name}},</p>
  <p>We noticed that your recent checkout attempt on SAMAA wasn't completed.</p>
  <p><strong>Reason:</strong> {{.Reason}}</p>
  <p>Your cart is safe, and you can complete your order anytime from your saved cart.</p>
  <p style="margin-top: 40px;">With care,<br />Team SAMAA</p>
</div>
`))

func formatRupees(amount int64) string {
	return "₹" + strconv.FormatInt(amount, 10)
}

// RenderConfirmation renders the order confirmation body
func RenderConfirmation(order *models.Order) (string, error) {
	var buf bytes.Buffer
	if err := successTemplate.Execute(&buf, order); err != nil {
		return "", errors.InternalError("failed to render confirmation email", err)
	}
	return buf.String(), nil
}

// RenderFailureNotice renders the apology body
func RenderFailureNotice(notice FailureNotice) (string, error) {
	var buf bytes.Buffer
	if err := failureTemplate.Execute(&buf, notice); err != nil {
		return "", errors.InternalError("failed to render failure email", err)
	}
	return buf.String(), nil
}
