// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bureau-foundation/streamguard/lib/clock"
	"github.com/bureau-foundation/streamguard/lib/license"
	"github.com/bureau-foundation/streamguard/lib/service"
)

// licenseCaller is the part of service.ServiceClient a lease needs.
type licenseCaller interface {
	Call(ctx context.Context, action string, fields map[string]any, result any) error
}

// playResponse mirrors the license service's "play" reply.
type playResponse struct {
	SessionID     string        `cbor:"sessionId"`
	DerivedKeyB64 string        `cbor:"derivedKeyB64"`
	Scope         license.Scope `cbor:"scope"`
}

// lease is an admitted playback session. It must be kept alive with
// heartbeats and released when playback stops.
type lease struct {
	caller    licenseCaller
	sessionID string
	key       license.OnlineSessionKey
	clock     clock.Clock
	logger    *slog.Logger
}

// acquireLease asks the license service to admit a session for
// videoID on deviceID.
func acquireLease(ctx context.Context, caller licenseCaller, clk clock.Clock, logger *slog.Logger, videoID, deviceID string) (*lease, error) {
	var response playResponse
	err := caller.Call(ctx, "play", map[string]any{
		"videoId":  videoID,
		"deviceId": deviceID,
	}, &response)
	if err != nil {
		var serviceErr *service.ServiceError
		if errors.As(err, &serviceErr) && serviceErr.Code == service.CodeSessionLimitExceeded {
			return nil, fmt.Errorf("too many active playback sessions; stop playback on another device first: %w", err)
		}
		return nil, err
	}
	if response.SessionID == "" || response.DerivedKeyB64 == "" {
		return nil, errors.New("license service returned an incomplete play response")
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &lease{
		caller:    caller,
		sessionID: response.SessionID,
		key: license.OnlineSessionKey{
			Scope:         response.Scope,
			DerivedKeyB64: response.DerivedKeyB64,
		},
		clock:  clk,
		logger: logger,
	}, nil
}

// keepAlive heartbeats every interval until ctx is done. It returns
// early if the service no longer knows the session; a failed
// heartbeat for any other reason is retried on the next tick.
func (l *lease) keepAlive(ctx context.Context, interval time.Duration) error {
	ticker := l.clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			err := l.caller.Call(ctx, "heartbeat", map[string]any{"sessionId": l.sessionID}, nil)
			if err == nil {
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			var serviceErr *service.ServiceError
			if errors.As(err, &serviceErr) && serviceErr.Code == service.CodeNotFound {
				return fmt.Errorf("playback session %s expired: %w", l.sessionID, err)
			}
			l.logger.Warn("heartbeat failed", "session_id", l.sessionID, "error", err)
		}
	}
}

// release ends the session. Errors are logged; the session expires on
// its own if the service is unreachable.
func (l *lease) release(ctx context.Context) {
	if err := l.caller.Call(ctx, "end", map[string]any{"sessionId": l.sessionID}, nil); err != nil {
		l.logger.Warn("ending playback session", "session_id", l.sessionID, "error", err)
	}
}
