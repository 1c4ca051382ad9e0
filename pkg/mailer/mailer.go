package mailer

import (
	"fmt"
	"net/smtp"
	"strings"

	"github.com/noah-isme/iam-api/pkg/config"
)

// Mailer delivers plain-text notification messages.
type Mailer interface {
	Send(to, subject, body string) error
}

// SMTPMailer sends mail through a configured SMTP relay.
type SMTPMailer struct {
	host string
	port int
	auth smtp.Auth
	from string
}

// NewSMTP builds an SMTP mailer from configuration.
func NewSMTP(cfg config.MailConfig) *SMTPMailer {
	var auth smtp.Auth
	if cfg.Username != "" {
		auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}
	return &SMTPMailer{host: cfg.Host, port: cfg.Port, auth: auth, from: cfg.From}
}

// Send delivers a single message.
func (m *SMTPMailer) Send(to, subject, body string) error {
	msg := strings.Join([]string{
		"From: " + m.from,
		"To: " + to,
		"Subject: " + subject,
		"MIME-Version: 1.0",
		"Content-Type: text/plain; charset=utf-8",
		"",
		body,
	}, "\r\n")

	addr := fmt.Sprintf("%s:%d", m.host, m.port)
	if err := smtp.SendMail(addr, m.auth, m.from, []string{to}, []byte(msg)); err != nil {
		return fmt.Errorf("send mail to %s: %w", to, err)
	}
	return nil
}

// Noop is a Mailer that drops messages, used when mail is disabled.
type Noop struct{}

// Send implements Mailer.
func (Noop) Send(string, string, string) error { return nil }
