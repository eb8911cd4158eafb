// Package mail is the outbound-email collaborator of the security-state
// engine. The engine only supplies template data (verify URL, expiry hours,
// address); rendering and transport live behind the [Sender] interface so
// the core never speaks SMTP itself.
package mail

import (
	"context"
	"fmt"
	"net/smtp"
	"sort"
	"strings"
)

// Message is one outbound email. Template names a body template owned by the
// delivery side; Data is the engine-supplied substitution map.
type Message struct {
	To       string
	Subject  string
	Template string
	Data     map[string]string
}

// Sender delivers a message and returns a provider message ID.
type Sender interface {
	Send(ctx context.Context, msg Message) (string, error)
}

// SMTPConfig holds transport settings for [SMTPMailer].
type SMTPConfig struct {
	Host     string
	Port     string
	From     string
	Username string
	Password string
}

// SMTPMailer sends over plain SMTP. Bodies are a minimal key/value rendering
// of the template data; a real deployment substitutes its own template
// renderer via the Sender interface.
type SMTPMailer struct {
	cfg SMTPConfig
}

// NewSMTPMailer creates an SMTP-backed sender.
func NewSMTPMailer(cfg SMTPConfig) *SMTPMailer {
	return &SMTPMailer{cfg: cfg}
}

// Send delivers msg and returns its recipient-qualified message ID.
func (m *SMTPMailer) Send(_ context.Context, msg Message) (string, error) {
	body := renderBody(msg)
	raw := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s",
		m.cfg.From, msg.To, msg.Subject, body)
	addr := m.cfg.Host + ":" + m.cfg.Port

	var auth smtp.Auth
	if m.cfg.Username != "" {
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	}

	if err := smtp.SendMail(addr, auth, m.cfg.From, []string{msg.To}, []byte(raw)); err != nil {
		return "", fmt.Errorf("smtp send: %w", err)
	}
	return "smtp:" + msg.To, nil
}

func renderBody(msg Message) string {
	keys := make([]string, 0, len(msg.Data))
	for k := range msg.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString("template: ")
	b.WriteString(msg.Template)
	b.WriteString("\r\n")
	for _, k := range keys {
		b.WriteString(k)
		b.WriteString(": ")
		b.WriteString(msg.Data[k])
		b.WriteString("\r\n")
	}
	return b.String()
}
