// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package mail

import (
	"context"
	"crypto/tls"
	"log/slog"
	"net"
	"net/smtp"

	"github.com/samber/oops"
)

// LogTransport writes messages to the log instead of sending them. It is for
// development: the log then holds live redemption links.
type LogTransport struct {
	Logger *slog.Logger
}

// Deliver logs msg.
func (t LogTransport) Deliver(ctx context.Context, from string, to []string, msg []byte) error {
	logger := t.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "mail not sent, log transport", "from", from, "to", to, "message", string(msg))
	return nil
}

// SMTPTransport sends through an SMTP relay, upgrading to TLS when the
// server offers STARTTLS.
type SMTPTransport struct {
	Addr     string
	Username string
	Password string
	// TLSConfig overrides the STARTTLS configuration. ServerName defaults
	// to the host of Addr.
	TLSConfig *tls.Config
}

// Deliver sends msg. The context bounds dialing and, through the
// connection deadline, the whole exchange.
func (t SMTPTransport) Deliver(ctx context.Context, from string, to []string, msg []byte) error {
	host, _, err := net.SplitHostPort(t.Addr)
	if err != nil {
		return oops.Code("SMTP_INVALID_ADDR").With("addr", t.Addr).Wrap(err)
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", t.Addr)
	if err != nil {
		return oops.Code("SMTP_DIAL_FAILED").With("addr", t.Addr).Wrap(err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		//nolint:errcheck // best effort; a failed deadline surfaces as an I/O error
		conn.SetDeadline(deadline)
	}

	c, err := smtp.NewClient(conn, host)
	if err != nil {
		conn.Close()
		return oops.Code("SMTP_HANDSHAKE_FAILED").With("addr", t.Addr).Wrap(err)
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); ok {
		cfg := t.TLSConfig
		if cfg == nil {
			cfg = &tls.Config{MinVersion: tls.VersionTLS12}
		}
		cfg = cfg.Clone()
		if cfg.ServerName == "" {
			cfg.ServerName = host
		}
		if err := c.StartTLS(cfg); err != nil {
			return oops.Code("SMTP_STARTTLS_FAILED").With("addr", t.Addr).Wrap(err)
		}
	}

	if t.Username != "" {
		if err := c.Auth(smtp.PlainAuth("", t.Username, t.Password, host)); err != nil {
			return oops.Code("SMTP_AUTH_FAILED").With("addr", t.Addr).Wrap(err)
		}
	}

	if err := c.Mail(from); err != nil {
		return oops.Code("SMTP_SEND_FAILED").With("stage", "mail from").Wrap(err)
	}
	for _, rcpt := range to {
		if err := c.Rcpt(rcpt); err != nil {
			return oops.Code("SMTP_SEND_FAILED").With("stage", "rcpt to").Wrap(err)
		}
	}
	w, err := c.Data()
	if err != nil {
		return oops.Code("SMTP_SEND_FAILED").With("stage", "data").Wrap(err)
	}
	if _, err := w.Write(msg); err != nil {
		return oops.Code("SMTP_SEND_FAILED").With("stage", "data").Wrap(err)
	}
	if err := w.Close(); err != nil {
		return oops.Code("SMTP_SEND_FAILED").With("stage", "data").Wrap(err)
	}
	if err := c.Quit(); err != nil {
		return oops.Code("SMTP_SEND_FAILED").With("stage", "quit").Wrap(err)
	}
	return nil
}
