// Package notify composes and sends customer emails and records every
// attempt in the email audit log.
package notify

import (
	"bytes"
	"context"
	"io"
	"time"

	"github.com/emersion/go-message/mail"

	"storefront-fulfillment/internal/common/errors"
	"storefront-fulfillment/internal/common/logging"
)

// Attachment is a named binary part of a message
type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Message is a single outbound email
type Message struct {
	To          string
	ToName      string
	Subject     string
	HTML        string
	Attachments []Attachment
}

// Mailer delivers composed messages
type Mailer interface {
	Send(ctx context.Context, msg *Message) error
}

// Sender identifies the From address
type Sender struct {
	Name    string
	Address string
}

// BuildMIME renders msg as an RFC 5322 message with an HTML body and attachments
func BuildMIME(from Sender, msg *Message, now time.Time) ([]byte, error) {
	var h mail.Header
	h.SetDate(now)
	h.SetAddressList("From", []*mail.Address{{Name: from.Name, Address: from.Address}})
	h.SetAddressList("To", []*mail.Address{{Name: msg.ToName, Address: msg.To}})
	h.SetSubject(msg.Subject)

	var buf bytes.Buffer
	mw, err := mail.CreateWriter(&buf, h)
	if err != nil {
		return nil, errors.InternalError("failed to create message writer", err)
	}

	tw, err := mw.CreateInline()
	if err != nil {
		return nil, errors.InternalError("failed to create message body", err)
	}
	var th mail.InlineHeader
	th.SetContentType("text/html", map[string]string{"charset": "utf-8"})
	pw, err := tw.CreatePart(th)
	if err != nil {
		return nil, errors.InternalError("failed to create html part", err)
	}
	if _, err := io.WriteString(pw, msg.HTML); err != nil {
		return nil, errors.InternalError("failed to write html part", err)
	}
	pw.Close()
	tw.Close()

	for _, att := range msg.Attachments {
		contentType := att.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		var ah mail.AttachmentHeader
		ah.SetContentType(contentType, nil)
		ah.SetFilename(att.Filename)
		aw, err := mw.CreateAttachment(ah)
		if err != nil {
			return nil, errors.InternalError("failed to create attachment "+att.Filename, err)
		}
		if _, err := aw.Write(att.Data); err != nil {
			return nil, errors.InternalError("failed to write attachment "+att.Filename, err)
		}
		aw.Close()
	}

	if err := mw.Close(); err != nil {
		return nil, errors.InternalError("failed to finish message", err)
	}
	return buf.Bytes(), nil
}

// LogMailer is used when SMTP is disabled. It only logs each message.
type LogMailer struct {
	logger logging.Logger
}

func NewLogMailer(logger logging.Logger) *LogMailer {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &LogMailer{logger: logger.WithFields(logging.Field{Key: "component", Value: "log_mailer"})}
}

func (m *LogMailer) Send(ctx context.Context, msg *Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	names := make([]string, 0, len(msg.Attachments))
	for _, att := range msg.Attachments {
		names = append(names, att.Filename)
	}
	m.logger.Warn("SMTP is not enabled, email not delivered",
		logging.Field{Key: "to", Value: msg.To},
		logging.Field{Key: "subject", Value: msg.Subject},
		logging.Field{Key: "attachments", Value: names},
		logging.Field{Key: "reason", Value: "SMTP_ENABLED=false"})
	return nil
}
