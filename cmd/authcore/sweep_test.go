// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingTarget struct {
	sessions, challenges int64
	err                  error
}

func (c countingTarget) SweepExpiredSessions(context.Context, time.Time) (int64, error) {
	return c.sessions, c.err
}

func (c countingTarget) SweepExpiredChallenges(context.Context, time.Time) (int64, error) {
	return c.challenges, nil
}

func TestSweepOnce(t *testing.T) {
	cmd := &cobra.Command{}
	out := new(bytes.Buffer)
	cmd.SetOut(out)

	require.NoError(t, sweepOnce(context.Background(), cmd, countingTarget{sessions: 3, challenges: 1}, time.Hour, discard))
	assert.Contains(t, out.String(), "Deleted 3 expired sessions and 1 expired challenges")
}

func TestSweepOnce_ReportsPartialFailure(t *testing.T) {
	cmd := &cobra.Command{}
	out := new(bytes.Buffer)
	cmd.SetOut(out)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	down := errors.New("connection refused")
	err := sweepOnce(ctx, cmd, countingTarget{challenges: 2, err: down}, time.Hour, discard)
	require.ErrorIs(t, err, down)
	assert.Contains(t, out.String(), "0 expired sessions and 2 expired challenges")
}

func TestSweepCommand_RequiresDatabase(t *testing.T) {
	configFile = ""
	t.Setenv("DATABASE_URL", "")

	cmd := NewRootCmd()
	cmd.SetOut(new(bytes.Buffer))
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetArgs([]string{"sweep", "--log-format", "text"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")
}
