// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package mail renders account mail from text templates and hands it to a
// Transport: SMTP in production, the log in development.
package mail

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"mime"
	netmail "net/mail"
	"strings"
	"text/template"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/authcore/internal/auth"
)

//go:embed templates/*.txt
var templateFS embed.FS

// Transport delivers a composed RFC 5322 message.
type Transport interface {
	Deliver(ctx context.Context, from string, to []string, msg []byte) error
}

// Mailer implements auth.Mailer.
type Mailer struct {
	from      netmail.Address
	transport Transport
	templates *template.Template
	valid     time.Duration
	now       func() time.Time
}

// New creates a Mailer sending from the given address. challengeTTL is
// quoted in challenge mails.
func New(from string, transport Transport, challengeTTL time.Duration) (*Mailer, error) {
	addr, err := netmail.ParseAddress(from)
	if err != nil {
		return nil, oops.Code("MAIL_INVALID_FROM").With("from", from).Wrap(err)
	}
	if transport == nil {
		return nil, oops.Code("MAIL_INVALID_CONFIG").Errorf("transport is required")
	}
	tmpl, err := template.ParseFS(templateFS, "templates/*.txt")
	if err != nil {
		return nil, oops.Code("MAIL_TEMPLATE_PARSE_FAILED").Wrap(err)
	}
	return &Mailer{
		from:      *addr,
		transport: transport,
		templates: tmpl,
		valid:     challengeTTL,
		now:       time.Now,
	}, nil
}

type templateData struct {
	DisplayName string
	Email       string
	Link        string
	Valid       string
}

// SendChallenge mails the redemption link of a challenge.
func (m *Mailer) SendChallenge(ctx context.Context, user *auth.User, kind auth.ChallengeKind, link string) error {
	return m.send(ctx, user, string(kind), templateData{
		DisplayName: user.DisplayName,
		Email:       user.Email,
		Link:        link,
		Valid:       humanDuration(m.valid),
	})
}

// SendNotification mails a notice the user need not act on.
func (m *Mailer) SendNotification(ctx context.Context, user *auth.User, kind auth.NotificationKind) error {
	return m.send(ctx, user, string(kind), templateData{
		DisplayName: user.DisplayName,
		Email:       user.Email,
	})
}

func (m *Mailer) send(ctx context.Context, user *auth.User, name string, data templateData) error {
	subject, body, err := m.render(name, data)
	if err != nil {
		return err
	}

	to := netmail.Address{Name: user.DisplayName, Address: user.Email}
	msg := m.compose(to, subject, body)
	if err := m.transport.Deliver(ctx, m.from.Address, []string{user.Email}, msg); err != nil {
		return oops.Code("MAIL_SEND_FAILED").
			With("template", name).
			With("user_id", user.ID.String()).
			Wrap(err)
	}
	return nil
}

func (m *Mailer) render(name string, data templateData) (subject, body string, err error) {
	if m.templates.Lookup(name+"/subject") == nil {
		return "", "", oops.Code("MAIL_UNKNOWN_TEMPLATE").With("template", name).Errorf("no mail template for %q", name)
	}

	var buf bytes.Buffer
	if err := m.templates.ExecuteTemplate(&buf, name+"/subject", data); err != nil {
		return "", "", oops.Code("MAIL_RENDER_FAILED").With("template", name).Wrap(err)
	}
	subject = strings.TrimSpace(buf.String())

	buf.Reset()
	if err := m.templates.ExecuteTemplate(&buf, name+"/body", data); err != nil {
		return "", "", oops.Code("MAIL_RENDER_FAILED").With("template", name).Wrap(err)
	}
	return subject, buf.String(), nil
}

// compose builds a plain-text message with CRLF line endings.
func (m *Mailer) compose(to netmail.Address, subject, body string) []byte {
	var b strings.Builder
	header := func(k, v string) { fmt.Fprintf(&b, "%s: %s\r\n", k, v) }

	header("From", m.from.String())
	header("To", to.String())
	header("Subject", mime.QEncoding.Encode("utf-8", subject))
	header("Date", m.now().Format(time.RFC1123Z))
	header("Message-ID", fmt.Sprintf("<%s@%s>", ulid.Make(), domainOf(m.from.Address)))
	header("MIME-Version", "1.0")
	header("Content-Type", "text/plain; charset=utf-8")
	header("Content-Transfer-Encoding", "8bit")
	b.WriteString("\r\n")

	body = strings.ReplaceAll(body, "\r\n", "\n")
	for _, line := range strings.Split(strings.TrimRight(body, "\n"), "\n") {
		// Dot-stuffing is the transport's job; only normalize line ends.
		b.WriteString(line)
		b.WriteString("\r\n")
	}
	return []byte(b.String())
}

func domainOf(addr string) string {
	if i := strings.LastIndexByte(addr, '@'); i >= 0 {
		return addr[i+1:]
	}
	return "localhost"
}

// humanDuration renders d for people: "24 hours", "3 days", "30 minutes".
func humanDuration(d time.Duration) string {
	day := 24 * time.Hour
	switch {
	case d >= 2*day && d%day == 0:
		return fmt.Sprintf("%d days", d/day)
	case d >= time.Hour && d%time.Hour == 0:
		return plural(int(d/time.Hour), "hour")
	case d >= time.Minute && d%time.Minute == 0:
		return plural(int(d/time.Minute), "minute")
	default:
		return d.String()
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}

var _ auth.Mailer = (*Mailer)(nil)
