package mailer

import (
	"context"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"

	auth "github.com/goliatone/go-auth-accounts"
)

// SendFunc matches smtp.SendMail.
type SendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTPMailer renders notifications and sends them synchronously.
type SMTPMailer struct {
	cfg      SMTPConfig
	renderer *Renderer
	send     SendFunc
}

var _ auth.Mailer = (*SMTPMailer)(nil)

func NewSMTPMailer(cfg SMTPConfig, renderer *Renderer) *SMTPMailer {
	return &SMTPMailer{
		cfg:      cfg,
		renderer: renderer,
		send:     smtp.SendMail,
	}
}

// WithSendFunc replaces the transport, mostly for tests.
func (m *SMTPMailer) WithSendFunc(fn SendFunc) *SMTPMailer {
	if fn != nil {
		m.send = fn
	}
	return m
}

func (m *SMTPMailer) Send(ctx context.Context, n auth.Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg, err := m.renderer.Render(n)
	if err != nil {
		return err
	}

	var a smtp.Auth
	if m.cfg.Username != "" {
		a = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	}

	addr := net.JoinHostPort(m.cfg.Host, strconv.Itoa(m.cfg.Port))
	if err := m.send(addr, a, m.cfg.From, []string{msg.To}, m.compose(msg)); err != nil {
		return fmt.Errorf("smtp send to %s: %w", addr, err)
	}
	return nil
}

func (m *SMTPMailer) compose(msg Message) []byte {
	var b strings.Builder
	b.WriteString("From: " + m.cfg.From + "\r\n")
	b.WriteString("To: " + msg.To + "\r\n")
	b.WriteString("Subject: " + msg.Subject + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(msg.Body)
	return []byte(b.String())
}
