package notify

import (
	"context"
	"time"

	"storefront-fulfillment/internal/common/errors"
	"storefront-fulfillment/internal/common/logging"
	"storefront-fulfillment/internal/common/utils"
	"storefront-fulfillment/internal/invoice"
	"storefront-fulfillment/internal/models"
)

const (
	ConfirmationSubject  = "Your SAMAA Order Confirmation"
	FailureNoticeSubject = "We couldn't complete your SAMAA order"
)

// AuditLog records every send attempt
type AuditLog interface {
	LogEmail(ctx context.Context, entry *models.EmailLog) error
}

// FailureNotice is everything known about a checkout that never became an order
type FailureNotice struct {
	Name     string
	Email    string
	Reason   string
	OrderRef string
}

// Notifier is what the fulfillment pipeline needs from this package
type Notifier interface {
	SendConfirmation(ctx context.Context, order *models.Order, docs *invoice.Documents) error
	SendFailureNotice(ctx context.Context, notice FailureNotice) error
}

// Dispatcher composes customer emails, sends them through a Mailer under the
// mail budget and writes an audit entry for every attempt.
type Dispatcher struct {
	mailer  Mailer
	audit   AuditLog
	timeout time.Duration
	logger  logging.Logger
}

var _ Notifier = (*Dispatcher)(nil)

func NewDispatcher(mailer Mailer, audit AuditLog, timeout time.Duration, logger logging.Logger) *Dispatcher {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Dispatcher{
		mailer:  mailer,
		audit:   audit,
		timeout: timeout,
		logger:  logger.WithFields(logging.Field{Key: "component", Value: "notify"}),
	}
}

// InvoiceFilename and TaxInvoiceFilename name the confirmation attachments
func InvoiceFilename(orderID string) string    { return "invoice_" + orderID + ".pdf" }
func TaxInvoiceFilename(orderID string) string { return "tax_invoice_" + orderID + ".pdf" }

// SendConfirmation emails the order summary with both documents attached.
// Missing documents are attached as empty placeholders.
func (d *Dispatcher) SendConfirmation(ctx context.Context, order *models.Order, docs *invoice.Documents) error {
	if order.Customer.Email == "" {
		return errors.ValidationError("order has no customer email")
	}
	if docs == nil {
		docs = &invoice.Documents{}
	}

	html, err := RenderConfirmation(order)
	if err != nil {
		d.record(ctx, order.ID, order.Customer.Email, ConfirmationSubject, models.EmailOrderSuccess, err)
		return err
	}

	msg := &Message{
		To:      order.Customer.Email,
		ToName:  order.Customer.Name,
		Subject: ConfirmationSubject,
		HTML:    html,
		Attachments: []Attachment{
			{Filename: InvoiceFilename(order.ID), ContentType: "application/pdf", Data: docs.Invoice},
			{Filename: TaxInvoiceFilename(order.ID), ContentType: "application/pdf", Data: docs.TaxInvoice},
		},
	}
	return d.send(ctx, order.ID, models.EmailOrderSuccess, msg)
}

// SendFailureNotice emails the apology used when a checkout could not be admitted
func (d *Dispatcher) SendFailureNotice(ctx context.Context, notice FailureNotice) error {
	if notice.Email == "" {
		return errors.ValidationError("failure notice has no recipient")
	}
	if notice.Name == "" {
		notice.Name = "there"
	}

	html, err := RenderFailureNotice(notice)
	if err != nil {
		d.record(ctx, notice.OrderRef, notice.Email, FailureNoticeSubject, models.EmailOrderFailure, err)
		return err
	}

	return d.send(ctx, notice.OrderRef, models.EmailOrderFailure, &Message{
		To:      notice.Email,
		ToName:  notice.Name,
		Subject: FailureNoticeSubject,
		HTML:    html,
	})
}

func (d *Dispatcher) send(ctx context.Context, orderID string, kind models.EmailKind, msg *Message) error {
	logger := d.logger.WithContext(ctx).WithFields(
		logging.Field{Key: "order_id", Value: orderID},
		logging.Field{Key: "kind", Value: string(kind)},
	)

	err := utils.RunWithTimeout(ctx, d.timeout, "mail send", func(ctx context.Context) error {
		return d.mailer.Send(ctx, msg)
	})
	d.record(ctx, orderID, msg.To, msg.Subject, kind, err)

	if err != nil {
		logger.Error("Email send failed", err, logging.Field{Key: "to", Value: msg.To})
		return err
	}
	logger.Info("Email sent", logging.Field{Key: "to", Value: msg.To})
	return nil
}

func (d *Dispatcher) record(ctx context.Context, orderID, to, subject string, kind models.EmailKind, sendErr error) {
	if d.audit == nil {
		return
	}
	entry := &models.EmailLog{
		OrderID:   orderID,
		Recipient: to,
		Subject:   subject,
		Kind:      kind,
		Success:   sendErr == nil,
	}
	if sendErr != nil {
		entry.ErrorMessage = sendErr.Error()
	}
	// the audit write must land even when the send exhausted ctx
	auditCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := d.audit.LogEmail(auditCtx, entry); err != nil {
		d.logger.Error("Failed to record email log", err, logging.Field{Key: "order_id", Value: orderID})
	}
}
