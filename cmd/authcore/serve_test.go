// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"bytes"
	"context"
	"errors"
	"crypto/tls"
	"log/slog"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/authcore/internal/config"
	"github.com/holomush/authcore/pkg/errutil"
)

var discard = slog.New(slog.DiscardHandler)

func TestOpenBackend_InMemory(t *testing.T) {
	cfg := config.Default()
	be, err := openBackend(context.Background(), &cfg, true, discard)
	require.NoError(t, err)
	defer be.close()

	assert.NotNil(t, be.users)
	assert.NotNil(t, be.sessions)
	assert.NotNil(t, be.challenges)
	assert.True(t, be.ready())
}

func TestOpenBackend_RequiresDatabaseURL(t *testing.T) {
	cfg := config.Default()
	cfg.Database.URL = ""
	_, err := openBackend(context.Background(), &cfg, false, discard)
	errutil.AssertErrorCode(t, err, "CONFIG_INVALID")
}

func TestOpenBackend_BadDSN(t *testing.T) {
	cfg := config.Default()
	cfg.Database.URL = "postgres://%zz"
	_, err := openBackend(context.Background(), &cfg, false, discard)
	errutil.AssertErrorCode(t, err, "DB_INVALID_DSN")
}

func TestNewMailer(t *testing.T) {
	cfg := config.Default()
	m, err := newMailer(&cfg, discard)
	require.NoError(t, err)
	assert.NotNil(t, m)

	cfg.Mail.Mode = config.MailModeSMTP
	cfg.Mail.SMTPAddr = "smtp.example.com:587"
	m, err = newMailer(&cfg, discard)
	require.NoError(t, err)
	assert.NotNil(t, m)

	cfg.Mail.From = "not an address"
	_, err = newMailer(&cfg, discard)
	errutil.AssertErrorCode(t, err, "MAIL_INVALID_FROM")
}

func TestRunServe_StartsAndShutsDown(t *testing.T) {
	cfg := config.Default()
	cfg.Server.ListenAddr = "127.0.0.1:0"
	cfg.Server.MetricsAddr = "127.0.0.1:0"

	// A cancelled context takes the whole startup path and then shuts down.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cmd := &cobra.Command{}
	out := new(bytes.Buffer)
	cmd.SetOut(out)

	done := make(chan error, 1)
	go func() { done <- runServe(ctx, cmd, &cfg, &serveOptions{inMemory: true}, discard) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("runServe did not return after cancellation")
	}
	assert.Contains(t, out.String(), "authcore started")
}

func TestRunServe_ListenFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	cfg := config.Default()
	cfg.Server.ListenAddr = ln.Addr().String()
	cfg.Server.MetricsAddr = ""

	err = runServe(context.Background(), &cobra.Command{}, &cfg, &serveOptions{inMemory: true}, discard)
	errutil.AssertErrorCode(t, err, "STARTUP_FAILED")
}

func TestMonitorServerErrors(t *testing.T) {
	t.Run("error cancels", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		errCh := make(chan error, 1)
		errCh <- errors.New("listener closed")

		monitorServerErrors(ctx, cancel, errCh, "http")
		assert.Error(t, ctx.Err())
	})

	t.Run("closed channel does not cancel", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		errCh := make(chan error)
		close(errCh)

		monitorServerErrors(ctx, cancel, errCh, "http")
		assert.NoError(t, ctx.Err())
	})
}

func TestTLSFiles(t *testing.T) {
	t.Run("plain http", func(t *testing.T) {
		cfg := config.Default()
		cert, key, err := tlsFiles(&cfg, discard)
		require.NoError(t, err)
		assert.Empty(t, cert)
		assert.Empty(t, key)
	})

	t.Run("configured files", func(t *testing.T) {
		cfg := config.Default()
		cfg.Server.TLSCert, cfg.Server.TLSKey = "/etc/authcore/tls.crt", "/etc/authcore/tls.key"
		cert, key, err := tlsFiles(&cfg, discard)
		require.NoError(t, err)
		assert.Equal(t, "/etc/authcore/tls.crt", cert)
		assert.Equal(t, "/etc/authcore/tls.key", key)
	})

	t.Run("dev certificate", func(t *testing.T) {
		base := t.TempDir()
		t.Setenv("XDG_CONFIG_HOME", base)
		cfg := config.Default()
		cfg.Server.DevTLS = true
		cfg.Server.BaseURL = "https://auth.test:8443/"

		cert, key, err := tlsFiles(&cfg, discard)
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(base, "authcore", "certs"), filepath.Dir(cert))

		pair, err := tls.LoadX509KeyPair(cert, key)
		require.NoError(t, err)
		require.NotNil(t, pair.Leaf)
		assert.NoError(t, pair.Leaf.VerifyHostname("auth.test"))
	})
}
