// Package mailer delivers activation and reset notifications by SMTP, either
// directly or through a RabbitMQ outbox.
package mailer

import (
	"bytes"
	"fmt"
	"io/fs"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gofiber/template/django/v3"
	auth "github.com/goliatone/go-auth-accounts"
)

// Message is a rendered notification.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Renderer turns notifications into HTML messages using django templates
// named after the token kind.
type Renderer struct {
	engine  *django.Engine
	baseURL string
}

// NewRenderer loads the templates in fsys. A nil fsys uses the templates
// embedded in the auth package.
func NewRenderer(fsys fs.FS, baseURL string) (*Renderer, error) {
	if fsys == nil {
		fsys = auth.GetTemplatesFS()
	}

	engine := django.NewFileSystem(http.FS(fsys), ".html")
	if err := engine.Load(); err != nil {
		return nil, fmt.Errorf("load mail templates: %w", err)
	}

	return &Renderer{
		engine:  engine,
		baseURL: strings.TrimRight(baseURL, "/"),
	}, nil
}

func (r *Renderer) Render(n auth.Notification) (Message, error) {
	name, subject, path, err := templateFor(n.Kind)
	if err != nil {
		return Message{}, err
	}

	var buf bytes.Buffer
	err = r.engine.Render(&buf, name, map[string]any{
		"email":      n.Email,
		"link":       r.Link(path, n.Token),
		"expires_at": n.ExpiresAt.UTC().Format(time.RFC1123),
	})
	if err != nil {
		return Message{}, fmt.Errorf("render %s template: %w", name, err)
	}

	return Message{
		To:      n.Email,
		Subject: subject,
		Body:    buf.String(),
	}, nil
}

// Link builds the public URL carrying token.
func (r *Renderer) Link(path, token string) string {
	return r.baseURL + path + "?token=" + url.QueryEscape(token)
}

func templateFor(kind auth.TokenKind) (name, subject, path string, err error) {
	switch kind {
	case auth.TokenKindActivation:
		return "activation", "Activate your account", "/auth/activate", nil
	case auth.TokenKindReset:
		return "reset", "Reset your password", "/auth/password/reset", nil
	default:
		return "", "", "", fmt.Errorf("no template for token kind %q", kind)
	}
}
