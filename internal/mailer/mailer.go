// Package mailer sends transactional mail over SMTP: verification codes and
// complaint forward notices.
package mailer

import (
	"fmt"
	"net/smtp"
)

// Mailer delivers a single HTML message. Implemented by SMTP for production
// and by fakes in tests.
type Mailer interface {
	Send(to, subject, htmlBody string) error
}

// SMTP sends mail through a plain-auth SMTP relay.
type SMTP struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
}

// NewSMTP creates an SMTP mailer. From is the display name used in the
// From header; the envelope sender is always Username.
func NewSMTP(host, port, username, password, from string) *SMTP {
	return &SMTP{Host: host, Port: port, Username: username, Password: password, From: from}
}

// Send delivers one HTML message. Errors are wrapped so callers can report
// delivery failures distinctly from their own.
func (m *SMTP) Send(to, subject, htmlBody string) error {
	if m.Host == "" || m.Username == "" || m.Password == "" {
		return fmt.Errorf("smtp not configured")
	}

	addr := m.Host + ":" + m.Port
	auth := smtp.PlainAuth("", m.Username, m.Password, m.Host)

	message := "From: \"" + m.From + "\" <" + m.Username + ">\r\n" +
		"To: " + to + "\r\n" +
		"Subject: " + subject + "\r\n" +
		"MIME-version: 1.0;\r\nContent-Type: text/html; charset=\"UTF-8\";\r\n\r\n" +
		htmlBody

	if err := smtp.SendMail(addr, auth, m.Username, []string{to}, []byte(message)); err != nil {
		return fmt.Errorf("smtp send to %s: %w", to, err)
	}
	return nil
}
