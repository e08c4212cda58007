// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bureau-foundation/streamguard/lib/clock"
	"github.com/bureau-foundation/streamguard/lib/license"
	"github.com/bureau-foundation/streamguard/lib/service"
	"github.com/bureau-foundation/streamguard/lib/testutil"
)

// fakeCaller answers license service actions from canned values and
// reports each call on calls.
type fakeCaller struct {
	calls chan string

	mu           sync.Mutex
	play         playResponse
	playErr      error
	heartbeatErr error
}

func newFakeCaller() *fakeCaller {
	return &fakeCaller{
		calls: make(chan string, 16),
		play: playResponse{
			SessionID:     "session-1",
			DerivedKeyB64: "a2V5",
			Scope:         license.ScopeOnlineStreamOnly,
		},
	}
}

func (f *fakeCaller) Call(_ context.Context, action string, fields map[string]any, result any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls <- action
	switch action {
	case "play":
		if f.playErr != nil {
			return f.playErr
		}
		*result.(*playResponse) = f.play
	case "heartbeat":
		if fields["sessionId"] != f.play.SessionID {
			return errors.New("wrong session")
		}
		return f.heartbeatErr
	}
	return nil
}

func (f *fakeCaller) setHeartbeatErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.heartbeatErr = err
}

func TestAcquireLease(t *testing.T) {
	caller := newFakeCaller()
	session, err := acquireLease(t.Context(), caller, clock.Fake(epoch), nil, "video-1", "laptop")
	if err != nil {
		t.Fatalf("acquireLease: %v", err)
	}
	if session.sessionID != "session-1" {
		t.Errorf("sessionID = %q", session.sessionID)
	}
	if session.key.Scope != license.ScopeOnlineStreamOnly || session.key.DerivedKeyB64 != "a2V5" {
		t.Errorf("key = %+v", session.key)
	}
}

func TestAcquireLease_Errors(t *testing.T) {
	limit := &service.ServiceError{Action: "play", Code: service.CodeSessionLimitExceeded, Message: "limit"}

	tests := []struct {
		name    string
		playErr error
		play    playResponse
	}{
		{name: "session limit", playErr: limit},
		{name: "incomplete response", play: playResponse{SessionID: "session-1"}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			caller := newFakeCaller()
			caller.playErr = test.playErr
			caller.play = test.play
			_, err := acquireLease(t.Context(), caller, clock.Fake(epoch), nil, "video-1", "laptop")
			if err == nil {
				t.Fatal("expected an error")
			}
			if test.playErr != nil && !errors.Is(err, test.playErr) {
				t.Errorf("error %v does not wrap %v", err, test.playErr)
			}
		})
	}
}

func TestLease_KeepAliveStopsWhenSessionExpires(t *testing.T) {
	caller := newFakeCaller()
	fake := clock.Fake(epoch)
	session, err := acquireLease(t.Context(), caller, fake, nil, "video-1", "laptop")
	if err != nil {
		t.Fatal(err)
	}
	testutil.RequireReceive(t, caller.calls, time.Second, "play call")

	done := make(chan error, 1)
	go func() { done <- session.keepAlive(t.Context(), 30*time.Second) }()

	fake.WaitForTimers(1)
	fake.Advance(30 * time.Second)
	if action := testutil.RequireReceive(t, caller.calls, 5*time.Second, "first heartbeat"); action != "heartbeat" {
		t.Fatalf("action = %q, want heartbeat", action)
	}

	caller.setHeartbeatErr(&service.ServiceError{Action: "heartbeat", Code: service.CodeNotFound, Message: "gone"})
	fake.Advance(30 * time.Second)
	testutil.RequireReceive(t, caller.calls, 5*time.Second, "second heartbeat")

	err = testutil.RequireReceive(t, done, 5*time.Second, "keepAlive did not return")
	var serviceErr *service.ServiceError
	if !errors.As(err, &serviceErr) || serviceErr.Code != service.CodeNotFound {
		t.Fatalf("keepAlive error = %v, want not_found", err)
	}
}

func TestLease_KeepAliveStopsOnCancel(t *testing.T) {
	caller := newFakeCaller()
	session, err := acquireLease(t.Context(), caller, clock.Fake(epoch), nil, "video-1", "laptop")
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- session.keepAlive(ctx, 30*time.Second) }()
	cancel()
	if err := testutil.RequireReceive(t, done, 5*time.Second, "keepAlive did not return"); err != nil {
		t.Errorf("keepAlive after cancel = %v, want nil", err)
	}

	session.release(t.Context())
}
