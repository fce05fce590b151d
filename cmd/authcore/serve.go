// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/authcore/internal/auth"
	"github.com/holomush/authcore/internal/auth/memstore"
	"github.com/holomush/authcore/internal/auth/postgres"
	"github.com/holomush/authcore/internal/config"
	"github.com/holomush/authcore/internal/logging"
	"github.com/holomush/authcore/internal/mail"
	"github.com/holomush/authcore/internal/observability"
	"github.com/holomush/authcore/internal/store"
	"github.com/holomush/authcore/internal/sweep"
	authtls "github.com/holomush/authcore/internal/tls"
	"github.com/holomush/authcore/internal/web"
	"github.com/holomush/authcore/internal/xdg"
)

const (
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 10 * time.Second
	readinessTimeout  = 2 * time.Second
)

type serveOptions struct {
	inMemory bool
}

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	opts := &serveOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		Long: `Start the account HTTP API, the metrics and health endpoints and the
expired session and challenge sweeper.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd.Flags())
			if err != nil {
				return err
			}
			logger := logging.SetDefault("authcore", version, cfg.Log.Format, logging.ParseLevel(cfg.Log.Level))
			return runServe(cmd.Context(), cmd, cfg, opts, logger)
		},
	}

	config.RegisterFlags(cmd.Flags())
	cmd.Flags().BoolVar(&opts.inMemory, "in-memory", false, "keep accounts in memory instead of PostgreSQL (development only)")

	return cmd
}

// backend holds the repositories the service runs on.
type backend struct {
	users      auth.UserRepository
	sessions   auth.SessionRepository
	challenges auth.ChallengeRepository
	ready      observability.ReadinessChecker
	close      func()
}

// openBackend connects to PostgreSQL, or builds an in-memory store when
// inMemory is set.
func openBackend(ctx context.Context, cfg *config.Config, inMemory bool, logger *slog.Logger) (*backend, error) {
	if inMemory {
		logger.Warn("using in-memory storage, accounts are lost on exit")
		mem := memstore.New()
		return &backend{
			users:      mem.Users(),
			sessions:   mem.Sessions(),
			challenges: mem.Challenges(),
			ready:      func() bool { return true },
			close:      func() {},
		}, nil
	}

	if cfg.Database.URL == "" {
		return nil, oops.Code("CONFIG_INVALID").Errorf("database.url or DATABASE_URL is required (or pass --in-memory)")
	}

	pool, err := store.Connect(ctx, cfg.Database.URL, store.ConnectOptions{Logger: logger})
	if err != nil {
		return nil, err
	}
	logger.Info("connected to database")

	return &backend{
		users:      postgres.NewUserRepository(pool),
		sessions:   postgres.NewSessionRepository(pool),
		challenges: postgres.NewChallengeRepository(pool),
		ready: func() bool {
			pingCtx, cancel := context.WithTimeout(context.Background(), readinessTimeout)
			defer cancel()
			return pool.Ping(pingCtx) == nil
		},
		close: pool.Close,
	}, nil
}

// newMailer builds the mailer for the configured mode.
func newMailer(cfg *config.Config, logger *slog.Logger) (*mail.Mailer, error) {
	var transport mail.Transport
	switch cfg.Mail.Mode {
	case config.MailModeSMTP:
		transport = mail.SMTPTransport{
			Addr:     cfg.Mail.SMTPAddr,
			Username: cfg.Mail.Username,
			Password: cfg.Mail.Password,
		}
	default:
		transport = mail.LogTransport{Logger: logger}
	}
	return mail.New(cfg.Mail.From, transport, cfg.Challenge.TTL)
}

func runServe(ctx context.Context, cmd *cobra.Command, cfg *config.Config, opts *serveOptions, logger *slog.Logger) error {
	logger.Info("starting authcore",
		"version", version,
		"listen_addr", cfg.Server.ListenAddr,
		"base_url", cfg.Server.BaseURL,
		"mail_mode", cfg.Mail.Mode,
	)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	be, err := openBackend(ctx, cfg, opts.inMemory, logger)
	if err != nil {
		return oops.Code("STARTUP_FAILED").With("operation", "open storage").Wrap(err)
	}
	defer be.close()

	var obsServer *observability.Server
	var authMetrics *auth.Metrics
	var requestMetrics *observability.Metrics
	if cfg.Server.MetricsAddr != "" {
		obsServer = observability.NewServer(cfg.Server.MetricsAddr, be.ready)
		authMetrics = auth.NewMetrics(obsServer.Registry())
		requestMetrics = obsServer.Metrics()
	}

	mailer, err := newMailer(cfg, logger)
	if err != nil {
		return oops.Code("STARTUP_FAILED").With("operation", "create mailer").Wrap(err)
	}

	svc, err := auth.NewService(auth.ServiceDeps{
		Users:      be.users,
		Sessions:   be.sessions,
		Challenges: be.challenges,
		Hasher:     auth.NewArgon2idHasher(),
		Mailer:     mailer,
	}, cfg.Auth(), auth.WithLogger(logger), auth.WithMetrics(authMetrics))
	if err != nil {
		return oops.Code("STARTUP_FAILED").With("operation", "create auth service").Wrap(err)
	}

	handler, err := web.NewServer(svc, web.Config{
		BaseURL:       cfg.Server.BaseURL,
		CookieName:    cfg.Session.CookieName,
		SessionTTL:    cfg.Session.TTL,
		MailBurst:     cfg.RateLimit.MailBurst,
		MailPerMinute: cfg.RateLimit.MailPerMinute,
	},
		web.WithLogger(logger),
		web.WithRequestMetrics(requestMetrics),
		web.WithAuthMetrics(authMetrics),
	)
	if err != nil {
		return oops.Code("STARTUP_FAILED").With("operation", "create web server").Wrap(err)
	}

	sweeper, err := sweep.New(svc, sweep.Config{Interval: cfg.Sweep.Interval},
		sweep.WithLogger(logger), sweep.WithMetrics(authMetrics))
	if err != nil {
		return oops.Code("STARTUP_FAILED").With("operation", "create sweeper").Wrap(err)
	}

	httpServer := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}
	certFile, keyFile, err := tlsFiles(cfg, logger)
	if err != nil {
		return oops.Code("STARTUP_FAILED").With("operation", "prepare tls").Wrap(err)
	}
	listener, err := net.Listen("tcp", cfg.Server.ListenAddr)
	if err != nil {
		return oops.Code("STARTUP_FAILED").With("addr", cfg.Server.ListenAddr).Wrap(err)
	}
	httpErrChan := serveHTTP(httpServer, listener, certFile, keyFile)
	go monitorServerErrors(ctx, cancel, httpErrChan, "http")
	logger.Info("http server listening", "addr", listener.Addr().String(), "tls", certFile != "")

	if obsServer != nil {
		obsErrChan, err := obsServer.Start()
		if err != nil {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer shutdownCancel()
			if stopErr := httpServer.Shutdown(shutdownCtx); stopErr != nil {
				logger.Warn("failed to stop http server during cleanup", "error", stopErr)
			}
			return oops.Code("STARTUP_FAILED").With("operation", "start observability server").Wrap(err)
		}
		go monitorServerErrors(ctx, cancel, obsErrChan, "observability")
		logger.Info("observability server started", "addr", obsServer.Addr())
	}

	sweeper.Start(ctx)
	defer sweeper.Stop()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	cmd.Println("authcore started")

	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", "signal", sig)
	case <-ctx.Done():
		logger.Info("context cancelled, shutting down")
	}

	logger.Info("shutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("error stopping http server", "error", err)
	}
	if obsServer != nil {
		if err := obsServer.Stop(shutdownCtx); err != nil {
			logger.Warn("error stopping observability server", "error", err)
		}
	}

	logger.Info("shutdown complete")
	return nil
}

// tlsFiles returns the certificate and key to serve HTTPS with, or empty
// strings for plain HTTP. With dev TLS the pair is created under the XDG
// certs directory for the base URL's host.
func tlsFiles(cfg *config.Config, logger *slog.Logger) (certFile, keyFile string, err error) {
	if cfg.Server.TLSCert != "" {
		return cfg.Server.TLSCert, cfg.Server.TLSKey, nil
	}
	if !cfg.Server.DevTLS {
		return "", "", nil
	}

	dir, err := xdg.CertsDir()
	if err != nil {
		return "", "", err
	}
	if err := xdg.EnsureDir(dir); err != nil {
		return "", "", err
	}
	base, err := url.Parse(cfg.Server.BaseURL)
	if err != nil {
		return "", "", oops.Code("CONFIG_INVALID").With("base_url", cfg.Server.BaseURL).Wrap(err)
	}
	certFile, keyFile, err = authtls.EnsureDevCert(dir, "authcore", []string{base.Hostname()})
	if err != nil {
		return "", "", err
	}
	logger.Info("serving with development certificate",
		"cert", certFile,
		"ca", filepath.Join(dir, authtls.CAFile),
	)
	return certFile, keyFile, nil
}

// serveHTTP serves srv on l in the background, over TLS when certFile is
// set. The returned channel receives a serve failure and is closed once the
// server stops.
func serveHTTP(srv *http.Server, l net.Listener, certFile, keyFile string) <-chan error {
	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		var err error
		if certFile != "" {
			err = srv.ServeTLS(l, certFile, keyFile)
		} else {
			err = srv.Serve(l)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	return errCh
}

// monitorServerErrors cancels ctx when a server reports an error, so one
// failed listener shuts the whole process down. It returns when the channel
// is closed or ctx is done.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string) {
	select {
	case err, ok := <-errCh:
		if !ok {
			return
		}
		if err != nil {
			slog.Error("server error, triggering shutdown",
				"server", serverName,
				"error", err,
			)
			cancel()
		}
	case <-ctx.Done():
	}
}
