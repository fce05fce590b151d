// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package config loads authcore configuration from an optional YAML file
// overridden by command-line flags.
package config

import (
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/holomush/authcore/internal/auth"
)

// Mail modes.
const (
	MailModeLog  = "log"
	MailModeSMTP = "smtp"
)

// Config is the full runtime configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Database  DatabaseConfig  `koanf:"database"`
	Session   SessionConfig   `koanf:"session"`
	Challenge ChallengeConfig `koanf:"challenge"`
	Sweep     SweepConfig     `koanf:"sweep"`
	Mail      MailConfig      `koanf:"mail"`
	Log       LogConfig       `koanf:"log"`
	RateLimit RateLimitConfig `koanf:"ratelimit"`
}

// ServerConfig configures the HTTP listeners.
type ServerConfig struct {
	ListenAddr  string `koanf:"listen_addr"`
	MetricsAddr string `koanf:"metrics_addr"`
	// BaseURL is the canonical origin used for CSRF checks and redemption
	// links. It must end with "/".
	BaseURL string `koanf:"base_url"`
	// TLSCert and TLSKey serve HTTPS from PEM files.
	TLSCert string `koanf:"tls_cert"`
	TLSKey  string `koanf:"tls_key"`
	// DevTLS serves HTTPS with a generated local certificate.
	DevTLS bool `koanf:"dev_tls"`
}

// DatabaseConfig configures PostgreSQL.
type DatabaseConfig struct {
	URL string `koanf:"url"`
}

// SessionConfig configures session lifetime and the cookie.
type SessionConfig struct {
	CookieName string        `koanf:"cookie_name"`
	TTL        time.Duration `koanf:"ttl"`
	RenewAfter time.Duration `koanf:"renew_after"`
	TokenBytes int           `koanf:"token_bytes"`
}

// ChallengeConfig configures emailed challenges.
type ChallengeConfig struct {
	TTL       time.Duration `koanf:"ttl"`
	CodeBytes int           `koanf:"code_bytes"`
}

// SweepConfig configures the expiry sweeper.
type SweepConfig struct {
	Interval time.Duration `koanf:"interval"`
}

// MailConfig selects and configures the mailer.
type MailConfig struct {
	Mode     string `koanf:"mode"`
	SMTPAddr string `koanf:"smtp_addr"`
	From     string `koanf:"from"`
	Username string `koanf:"username"`
	Password string `koanf:"password"`
}

// LogConfig configures logging.
type LogConfig struct {
	Format string `koanf:"format"`
	Level  string `koanf:"level"`
}

// RateLimitConfig bounds mail-sending endpoints per client.
type RateLimitConfig struct {
	MailBurst     int `koanf:"mail_burst"`
	MailPerMinute int `koanf:"mail_per_minute"`
}

// Default returns the built-in configuration.
func Default() Config {
	a := auth.DefaultConfig()
	return Config{
		Server: ServerConfig{
			ListenAddr:  ":8080",
			MetricsAddr: "127.0.0.1:9100",
			BaseURL:     a.BaseURL,
		},
		Session: SessionConfig{
			CookieName: "session_token",
			TTL:        a.SessionTTL,
			RenewAfter: a.SessionRenewAfter,
			TokenBytes: a.SessionTokenBytes,
		},
		Challenge: ChallengeConfig{
			TTL:       a.ChallengeTTL,
			CodeBytes: a.ChallengeCodeBytes,
		},
		Sweep:     SweepConfig{Interval: time.Hour},
		Mail:      MailConfig{Mode: MailModeLog, From: "authcore@localhost"},
		Log:       LogConfig{Format: "json", Level: "info"},
		RateLimit: RateLimitConfig{MailBurst: 5, MailPerMinute: 1},
	}
}

// flagKeys maps flag names to configuration keys.
var flagKeys = map[string]string{
	"listen-addr":          "server.listen_addr",
	"metrics-addr":         "server.metrics_addr",
	"base-url":             "server.base_url",
	"tls-cert":             "server.tls_cert",
	"tls-key":              "server.tls_key",
	"dev-tls":              "server.dev_tls",
	"database-url":         "database.url",
	"cookie-name":          "session.cookie_name",
	"session-ttl":          "session.ttl",
	"session-renew-after":  "session.renew_after",
	"challenge-ttl":        "challenge.ttl",
	"sweep-interval":       "sweep.interval",
	"mail-mode":            "mail.mode",
	"smtp-addr":            "mail.smtp_addr",
	"mail-from":            "mail.from",
	"log-format":           "log.format",
	"log-level":            "log.level",
	"ratelimit-mail-burst": "ratelimit.mail_burst",
	"ratelimit-mail-rpm":   "ratelimit.mail_per_minute",
}

// RegisterFlags adds the configuration flags to fs with the built-in
// defaults.
func RegisterFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.String("listen-addr", d.Server.ListenAddr, "HTTP listen address")
	fs.String("metrics-addr", d.Server.MetricsAddr, "metrics/health HTTP address (empty = disabled)")
	fs.String("base-url", d.Server.BaseURL, "canonical application URL, ending with /")
	fs.String("tls-cert", "", "TLS certificate PEM file (enables HTTPS)")
	fs.String("tls-key", "", "TLS private key PEM file")
	fs.Bool("dev-tls", false, "serve HTTPS with a generated development certificate")
	fs.String("database-url", "", "PostgreSQL URL (default: $DATABASE_URL)")
	fs.String("cookie-name", d.Session.CookieName, "session cookie name")
	fs.Duration("session-ttl", d.Session.TTL, "session lifetime")
	fs.Duration("session-renew-after", d.Session.RenewAfter, "session age after which requests rotate the token")
	fs.Duration("challenge-ttl", d.Challenge.TTL, "emailed challenge lifetime")
	fs.Duration("sweep-interval", d.Sweep.Interval, "expiry sweep interval")
	fs.String("mail-mode", d.Mail.Mode, "mailer: log or smtp")
	fs.String("smtp-addr", d.Mail.SMTPAddr, "SMTP server host:port")
	fs.String("mail-from", d.Mail.From, "sender address")
	fs.String("log-format", d.Log.Format, "log format (json or text)")
	fs.String("log-level", d.Log.Level, "minimum log level")
	fs.Int("ratelimit-mail-burst", d.RateLimit.MailBurst, "mail requests allowed in a burst per client")
	fs.Int("ratelimit-mail-rpm", d.RateLimit.MailPerMinute, "sustained mail requests per minute per client")
}

// Load reads path (when non-empty) and then applies flags from fs. Flags the
// user set win over the file; unset flags only fill keys the file left out.
func Load(path string, fs *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("path", path).Wrap(err)
		}
	}

	if fs != nil {
		provider := posflag.ProviderWithFlag(fs, ".", k, func(f *pflag.Flag) (string, any) {
			key, ok := flagKeys[f.Name]
			if !ok {
				return "", nil
			}
			return key, posflag.FlagVal(fs, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("source", "flags").Wrap(err)
		}
	}

	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, oops.Code("CONFIG_INVALID").Wrap(err)
	}
	if cfg.Database.URL == "" {
		cfg.Database.URL = os.Getenv("DATABASE_URL")
	}
	return &cfg, nil
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	u, err := url.Parse(c.Server.BaseURL)
	if err != nil || !u.IsAbs() || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return oops.Code("CONFIG_INVALID").With("base_url", c.Server.BaseURL).
			Errorf("server.base_url must be an absolute http(s) URL")
	}
	if !strings.HasSuffix(c.Server.BaseURL, "/") {
		return oops.Code("CONFIG_INVALID").With("base_url", c.Server.BaseURL).
			Errorf("server.base_url must end with /")
	}
	if (c.Server.TLSCert == "") != (c.Server.TLSKey == "") {
		return oops.Code("CONFIG_INVALID").Errorf("server.tls_cert and server.tls_key must be set together")
	}
	if c.Server.DevTLS && c.Server.TLSCert != "" {
		return oops.Code("CONFIG_INVALID").Errorf("server.dev_tls cannot be combined with server.tls_cert")
	}
	if c.Session.CookieName == "" {
		return oops.Code("CONFIG_INVALID").Errorf("session.cookie_name is required")
	}
	if c.Sweep.Interval <= 0 {
		return oops.Code("CONFIG_INVALID").With("interval", c.Sweep.Interval).
			Errorf("sweep.interval must be positive")
	}
	switch c.Mail.Mode {
	case MailModeLog:
	case MailModeSMTP:
		if c.Mail.SMTPAddr == "" {
			return oops.Code("CONFIG_INVALID").Errorf("mail.smtp_addr is required in smtp mode")
		}
	default:
		return oops.Code("CONFIG_INVALID").With("mode", c.Mail.Mode).
			Errorf("mail.mode must be %q or %q", MailModeLog, MailModeSMTP)
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		return oops.Code("CONFIG_INVALID").With("format", c.Log.Format).
			Errorf("log.format must be 'json' or 'text'")
	}
	if c.RateLimit.MailBurst <= 0 || c.RateLimit.MailPerMinute <= 0 {
		return oops.Code("CONFIG_INVALID").Errorf("ratelimit values must be positive")
	}
	return c.Auth().Validate()
}

// Auth projects the auth-core parameters.
func (c *Config) Auth() auth.Config {
	return auth.Config{
		SessionTTL:         c.Session.TTL,
		SessionRenewAfter:  c.Session.RenewAfter,
		ChallengeTTL:       c.Challenge.TTL,
		SessionTokenBytes:  c.Session.TokenBytes,
		ChallengeCodeBytes: c.Challenge.CodeBytes,
		BaseURL:            c.Server.BaseURL,
	}
}
