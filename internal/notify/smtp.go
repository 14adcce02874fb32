package notify

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"

	"github.com/emersion/go-sasl"

	"storefront-fulfillment/internal/common/errors"
	"storefront-fulfillment/internal/common/logging"
)

// SMTPConfig holds the outbound mail server settings
type SMTPConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	FromName string
	// UseSSL selects implicit TLS. Otherwise STARTTLS is used when the server offers it.
	UseSSL bool
}

// SMTPMailer sends messages over SMTP
type SMTPMailer struct {
	config    SMTPConfig
	tlsConfig *tls.Config
	logger    logging.Logger
	now       func() time.Time
}

func NewSMTPMailer(config SMTPConfig, logger logging.Logger) (*SMTPMailer, error) {
	if config.Host == "" || config.From == "" {
		return nil, errors.ConfigError("SMTP host and from address are required")
	}
	if config.Port == "" {
		config.Port = "587"
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &SMTPMailer{
		config:    config,
		tlsConfig: &tls.Config{ServerName: config.Host, MinVersion: tls.VersionTLS12},
		logger:    logger.WithFields(logging.Field{Key: "component", Value: "smtp_mailer"}),
		now:       time.Now,
	}, nil
}

func (m *SMTPMailer) Send(ctx context.Context, msg *Message) error {
	body, err := BuildMIME(Sender{Name: m.config.FromName, Address: m.config.From}, msg, m.now())
	if err != nil {
		return err
	}

	addr := net.JoinHostPort(m.config.Host, m.config.Port)
	conn, err := m.dial(ctx, addr)
	if err != nil {
		return errors.ConnectionError("failed to connect to SMTP server", err).WithContext("addr", addr)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	// unblock the session if ctx is cancelled mid-conversation
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	if err := m.deliver(conn, msg.To, body); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return err
	}

	m.logger.Debug("Email sent", logging.Field{Key: "to", Value: msg.To}, logging.Field{Key: "subject", Value: msg.Subject})
	return nil
}

func (m *SMTPMailer) dial(ctx context.Context, addr string) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: 30 * time.Second}
	if m.config.UseSSL {
		td := &tls.Dialer{NetDialer: dialer, Config: m.tlsConfig}
		return td.DialContext(ctx, "tcp", addr)
	}
	return dialer.DialContext(ctx, "tcp", addr)
}

func (m *SMTPMailer) deliver(conn net.Conn, to string, body []byte) error {
	client, err := smtp.NewClient(conn, m.config.Host)
	if err != nil {
		return errors.ConnectionError("failed to create SMTP client", err)
	}
	defer client.Close()

	if !m.config.UseSSL {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(m.tlsConfig); err != nil {
				return errors.ConnectionError("SMTP STARTTLS failed", err)
			}
		}
	}

	if m.config.Username != "" {
		if ok, mechs := client.Extension("AUTH"); ok {
			if err := client.Auth(newSASLAuth(mechs, m.config.Username, m.config.Password)); err != nil {
				return errors.AuthError("SMTP authentication failed").WithCause(err)
			}
		}
	}

	if err := client.Mail(m.config.From); err != nil {
		return errors.UpstreamError("smtp", 0, "MAIL FROM rejected: "+err.Error())
	}
	if err := client.Rcpt(to); err != nil {
		return errors.UpstreamError("smtp", 0, "RCPT TO rejected: "+err.Error())
	}

	w, err := client.Data()
	if err != nil {
		return errors.UpstreamError("smtp", 0, "DATA rejected: "+err.Error())
	}
	if _, err := w.Write(body); err != nil {
		return errors.ConnectionError("failed to write message", err)
	}
	if err := w.Close(); err != nil {
		return errors.UpstreamError("smtp", 0, "message rejected: "+err.Error())
	}

	return client.Quit()
}

// saslAuth adapts a go-sasl client to net/smtp
type saslAuth struct {
	client sasl.Client
}

// newSASLAuth prefers PLAIN and falls back to LOGIN when that is all the server offers
func newSASLAuth(mechs, username, password string) smtp.Auth {
	for _, mech := range strings.Fields(strings.ToUpper(mechs)) {
		if mech == sasl.Plain {
			return &saslAuth{client: sasl.NewPlainClient("", username, password)}
		}
	}
	if strings.Contains(strings.ToUpper(mechs), sasl.Login) {
		return &saslAuth{client: sasl.NewLoginClient(username, password)}
	}
	return &saslAuth{client: sasl.NewPlainClient("", username, password)}
}

func (a *saslAuth) Start(server *smtp.ServerInfo) (string, []byte, error) {
	if !server.TLS && !isLocalhost(server.Name) {
		return "", nil, fmt.Errorf("refusing to send credentials over an unencrypted connection")
	}
	return a.client.Start()
}

func (a *saslAuth) Next(fromServer []byte, more bool) ([]byte, error) {
	if !more {
		return nil, nil
	}
	return a.client.Next(fromServer)
}

func isLocalhost(name string) bool {
	return name == "localhost" || name == "127.0.0.1" || name == "::1"
}
