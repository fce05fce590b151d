// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/holomush/authcore/internal/auth"
	"github.com/holomush/authcore/internal/config"
	"github.com/holomush/authcore/internal/logging"
	"github.com/holomush/authcore/internal/sweep"
)

// NewSweepCmd creates the sweep subcommand, a one-shot expiry cleanup for
// deployments that schedule it externally.
func NewSweepCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Delete expired sessions and challenges once",
		Long: `Delete expired sessions and unredeemed expired challenges, print the
counts and exit. The serve command already sweeps on an interval.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd.Flags())
			if err != nil {
				return err
			}
			logger := logging.SetDefault("authcore", version, cfg.Log.Format, logging.ParseLevel(cfg.Log.Level))
			return runSweep(cmd.Context(), cmd, cfg, logger)
		},
	}
	config.RegisterFlags(cmd.Flags())
	return cmd
}

func runSweep(ctx context.Context, cmd *cobra.Command, cfg *config.Config, logger *slog.Logger) error {
	be, err := openBackend(ctx, cfg, false, logger)
	if err != nil {
		return err
	}
	defer be.close()

	mailer, err := newMailer(cfg, logger)
	if err != nil {
		return err
	}
	svc, err := auth.NewService(auth.ServiceDeps{
		Users:      be.users,
		Sessions:   be.sessions,
		Challenges: be.challenges,
		Hasher:     auth.NewArgon2idHasher(),
		Mailer:     mailer,
	}, cfg.Auth(), auth.WithLogger(logger))
	if err != nil {
		return err
	}

	return sweepOnce(ctx, cmd, svc, cfg.Sweep.Interval, logger)
}

// sweepOnce runs a single cycle against target and prints what was deleted.
func sweepOnce(ctx context.Context, cmd *cobra.Command, target sweep.Target, interval time.Duration, logger *slog.Logger) error {
	s, err := sweep.New(target, sweep.Config{Interval: interval}, sweep.WithLogger(logger))
	if err != nil {
		return err
	}
	res, err := s.RunOnce(ctx)
	cmd.Printf("Deleted %d expired sessions and %d expired challenges\n", res.Sessions, res.Challenges)
	return err
}
