// Package mail delivers transactional email such as password reset links.
package mail

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
)

// ErrDelivery wraps every failure to hand a message to the mail server.
var ErrDelivery = errors.New("mail delivery failed")

// Message is a plain text email.
type Message struct {
	To      string
	Subject string
	Body    string
}

// SendFunc matches smtp.SendMail so tests can replace the network call.
type SendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPConfig holds the connection settings for SMTPMailer.
type SMTPConfig struct {
	Host       string
	Port       int
	Username   string
	Password   string
	From       string
	MaxRetries uint64
	Backoff    time.Duration
}

// SMTPMailer sends messages through an SMTP relay, retrying transient failures.
type SMTPMailer struct {
	cfg    SMTPConfig
	auth   smtp.Auth
	send   SendFunc
	logger *slog.Logger
}

// NewSMTPMailer validates cfg and returns a mailer using smtp.SendMail.
func NewSMTPMailer(cfg SMTPConfig, logger *slog.Logger) (*SMTPMailer, error) {
	if cfg.Host == "" {
		return nil, errors.New("smtp host is required")
	}
	if cfg.Port <= 0 {
		return nil, fmt.Errorf("invalid smtp port %d", cfg.Port)
	}
	if cfg.From == "" {
		return nil, errors.New("mail sender address is required")
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 200 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}
	var auth smtp.Auth
	if cfg.Username != "" {
		auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}
	return &SMTPMailer{cfg: cfg, auth: auth, send: smtp.SendMail, logger: logger}, nil
}

// WithSendFunc replaces the transport, for tests.
func (m *SMTPMailer) WithSendFunc(send SendFunc) *SMTPMailer {
	m.send = send
	return m
}

// Send delivers msg. Transient failures are retried with exponential backoff
// until MaxRetries is exhausted or ctx is done; 5xx replies are permanent.
func (m *SMTPMailer) Send(ctx context.Context, msg Message) error {
	addr := net.JoinHostPort(m.cfg.Host, strconv.Itoa(m.cfg.Port))
	payload := compose(m.cfg.From, msg)
	backoff := retry.WithMaxRetries(m.cfg.MaxRetries, retry.NewExponential(m.cfg.Backoff))

	attempts := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		attempts++
		err := m.send(addr, m.auth, m.cfg.From, []string{msg.To}, payload)
		if err == nil {
			return nil
		}
		if permanent(err) {
			return err
		}
		m.logger.Warn("smtp send failed, retrying", "attempt", attempts, "error", err)
		return retry.RetryableError(err)
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDelivery, err)
	}
	return nil
}

func permanent(err error) bool {
	var protoErr *textproto.Error
	return errors.As(err, &protoErr) && protoErr.Code >= 500
}

func compose(from string, msg Message) []byte {
	var b strings.Builder
	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: " + msg.To + "\r\n")
	b.WriteString("Subject: " + sanitizeHeader(msg.Subject) + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(msg.Body, "\n", "\r\n"))
	return []byte(b.String())
}

func sanitizeHeader(v string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(v)
}

// LogMailer writes messages to the log instead of sending them. Useful for
// local development where no relay is available.
type LogMailer struct {
	logger *slog.Logger
}

// NewLogMailer creates a LogMailer.
func NewLogMailer(logger *slog.Logger) *LogMailer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogMailer{logger: logger}
}

// Send logs the message.
func (m *LogMailer) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrDelivery, err)
	}
	m.logger.InfoContext(ctx, "mail message", "to", msg.To, "subject", msg.Subject, "body", msg.Body)
	return nil
}
