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
	"github.com/bureau-foundation/streamguard/lib/codec"
	"github.com/bureau-foundation/streamguard/lib/keyvault"
	"github.com/bureau-foundation/streamguard/lib/license"
	"github.com/bureau-foundation/streamguard/lib/secret"
	"github.com/bureau-foundation/streamguard/lib/service"
	"github.com/bureau-foundation/streamguard/lib/sessionledger"
	"github.com/bureau-foundation/streamguard/lib/viewertoken"
)

// LicenseService holds the state behind the socket actions.
type LicenseService struct {
	ledger *sessionledger.Ledger
	keys   *keyvault.Store
	kek    *keyvault.KekContext
	issuer *license.Issuer

	// signingKey signs offline licenses. Nil means the KEK signs them.
	signingKey *secret.Buffer

	blacklist *viewertoken.Blacklist

	maxSessionsPerUser int
	clock              clock.Clock
	logger             *slog.Logger
	startedAt          time.Time
}

type playRequest struct {
	VideoID  string `cbor:"videoId"`
	DeviceID string `cbor:"deviceId"`
}

type playResponse struct {
	SessionID     string        `cbor:"sessionId"`
	DerivedKeyB64 string        `cbor:"derivedKeyB64"`
	Scope         license.Scope `cbor:"scope"`
}

type sessionRequest struct {
	SessionID string `cbor:"sessionId"`
}

// statusResponse carries only aggregate counters and the KEK
// fingerprint; nothing in it identifies a viewer.
type statusResponse struct {
	KEKVersion         int     `cbor:"kekVersion"`
	KEKFingerprint     string  `cbor:"kekFingerprint"`
	ActiveSessions     int     `cbor:"activeSessions"`
	MaxSessionsPerUser int     `cbor:"maxSessionsPerUser"`
	UptimeSeconds      float64 `cbor:"uptimeSeconds"`
}

func (s *LicenseService) registerActions(server *service.SocketServer) {
	// Unauthenticated liveness and KEK identity.
	server.Handle("status", s.handleStatus)

	server.HandleAuth("play", s.handlePlay)
	server.HandleAuth("heartbeat", s.handleHeartbeat)
	server.HandleAuth("end", s.handleEnd)
	server.HandleAuth("offline-license", s.handleOfflineLicense)
	server.HandleAuth("logout", s.handleLogout)
}

func (s *LicenseService) handleStatus(ctx context.Context, _ []byte) (any, error) {
	fingerprint, err := s.kek.Fingerprint()
	if err != nil {
		return nil, classify(err)
	}
	active, err := s.ledger.ActiveCount(ctx)
	if err != nil {
		return nil, err
	}
	return statusResponse{
		KEKVersion:         s.kek.Version(),
		KEKFingerprint:     fingerprint,
		ActiveSessions:     active,
		MaxSessionsPerUser: s.maxSessionsPerUser,
		UptimeSeconds:      s.clock.Now().Sub(s.startedAt).Seconds(),
	}, nil
}

// handlePlay admits a session and returns the device-bound online key.
// The session is admitted before the key is unwrapped; any later
// failure releases it so a broken video does not consume a slot.
func (s *LicenseService) handlePlay(ctx context.Context, token *viewertoken.Token, raw []byte) (any, error) {
	var request playRequest
	if err := decodeRequest(raw, &request); err != nil {
		return nil, err
	}
	if request.VideoID == "" || request.DeviceID == "" {
		return nil, service.Errorf(service.CodeInvalidRequest, "play requires videoId and deviceId")
	}
	if !token.Entitled(request.VideoID) {
		return nil, service.WrapError(service.CodeForbidden,
			fmt.Errorf("%w: %s is not entitled to %s", service.ErrForbidden, token.Subject, request.VideoID))
	}

	admission, err := s.ledger.Admit(ctx, token.Subject, request.VideoID, request.DeviceID)
	if err != nil {
		return nil, classify(err)
	}

	sessionKey, err := s.onlineKey(ctx, request.VideoID, request.DeviceID)
	if err != nil {
		if releaseErr := admission.Release(context.WithoutCancel(ctx)); releaseErr != nil {
			s.logger.Error("releasing admission after key failure",
				"session_id", admission.Record.SessionID,
				"error", releaseErr,
			)
		}
		return nil, classify(err)
	}

	s.logger.Info("online key issued",
		"session_id", admission.Record.SessionID,
		"user_id", token.Subject,
		"video_id", request.VideoID,
	)
	return playResponse{
		SessionID:     admission.Record.SessionID,
		DerivedKeyB64: sessionKey.DerivedKeyB64,
		Scope:         sessionKey.Scope,
	}, nil
}

func (s *LicenseService) onlineKey(ctx context.Context, videoID, deviceID string) (license.OnlineSessionKey, error) {
	masterKey, err := s.unwrapVideoKey(ctx, videoID)
	if err != nil {
		return license.OnlineSessionKey{}, err
	}
	defer masterKey.Close()
	return s.issuer.IssueOnline(masterKey, deviceID), nil
}

func (s *LicenseService) unwrapVideoKey(ctx context.Context, videoID string) (*secret.Buffer, error) {
	record, err := s.keys.Get(ctx, videoID)
	if err != nil {
		return nil, err
	}
	return keyvault.UnwrapRecord(record, s.kek)
}

func (s *LicenseService) handleHeartbeat(ctx context.Context, token *viewertoken.Token, raw []byte) (any, error) {
	sessionID, err := s.ownedSession(ctx, token, raw)
	if err != nil {
		return nil, err
	}
	if err := s.ledger.Heartbeat(ctx, sessionID); err != nil {
		return nil, classify(err)
	}
	return nil, nil
}

func (s *LicenseService) handleEnd(ctx context.Context, token *viewertoken.Token, raw []byte) (any, error) {
	sessionID, err := s.ownedSession(ctx, token, raw)
	if errors.Is(err, sessionledger.ErrSessionNotFound) {
		// Already expired or ended.
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := s.ledger.End(ctx, sessionID); err != nil {
		return nil, classify(err)
	}
	return nil, nil
}

// ownedSession decodes a sessionId request and checks the session
// belongs to the token's subject. A session owned by someone else is
// reported as not found.
func (s *LicenseService) ownedSession(ctx context.Context, token *viewertoken.Token, raw []byte) (string, error) {
	var request sessionRequest
	if err := decodeRequest(raw, &request); err != nil {
		return "", err
	}
	if request.SessionID == "" {
		return "", service.Errorf(service.CodeInvalidRequest, "missing required field: sessionId")
	}
	record, err := s.ledger.Lookup(ctx, request.SessionID)
	if err != nil {
		return "", classify(err)
	}
	if record.UserID != token.Subject {
		return "", classify(fmt.Errorf("%w: %s", sessionledger.ErrSessionNotFound, request.SessionID))
	}
	return record.SessionID, nil
}

// handleOfflineLicense mints a signed license for download playback.
// Offline licenses are not counted against the concurrent-session cap.
func (s *LicenseService) handleOfflineLicense(ctx context.Context, token *viewertoken.Token, raw []byte) (any, error) {
	var request playRequest
	if err := decodeRequest(raw, &request); err != nil {
		return nil, err
	}
	if request.VideoID == "" || request.DeviceID == "" {
		return nil, service.Errorf(service.CodeInvalidRequest, "offline-license requires videoId and deviceId")
	}
	if !token.Entitled(request.VideoID) {
		return nil, service.WrapError(service.CodeForbidden,
			fmt.Errorf("%w: %s is not entitled to %s", service.ErrForbidden, token.Subject, request.VideoID))
	}

	record, err := s.keys.Get(ctx, request.VideoID)
	if err != nil {
		return nil, classify(err)
	}
	masterKey, err := keyvault.UnwrapRecord(record, s.kek)
	if err != nil {
		return nil, classify(err)
	}
	defer masterKey.Close()

	signingKey, err := s.licenseSigningKey()
	if err != nil {
		return nil, classify(err)
	}

	offline, err := s.issuer.IssueOffline(license.OfflineRequest{
		VideoID:    request.VideoID,
		UserID:     token.Subject,
		DeviceID:   request.DeviceID,
		KeyID:      record.KeyID,
		KEKVersion: record.KEKVersion,
		Salt:       record.Salt,
		MasterKey:  masterKey,
		SigningKey: signingKey,
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("offline license issued",
		"user_id", token.Subject,
		"video_id", request.VideoID,
		"expires_at", offline.ExpiresAt,
	)
	return offline, nil
}

func (s *LicenseService) licenseSigningKey() (*secret.Buffer, error) {
	if s.signingKey != nil {
		return s.signingKey, nil
	}
	return s.kek.Key()
}

// handleLogout revokes the presenting token until it expires.
func (s *LicenseService) handleLogout(_ context.Context, token *viewertoken.Token, _ []byte) (any, error) {
	if s.blacklist == nil {
		return nil, service.Errorf(service.CodeConfiguration, "token revocation is not enabled")
	}
	s.blacklist.Revoke(token.ID, time.Unix(token.ExpiresAt, 0))
	s.logger.Info("viewer token revoked", "user_id", token.Subject, "token_id", token.ID)
	return nil, nil
}

func decodeRequest(raw []byte, request any) error {
	if err := codec.Unmarshal(raw, request); err != nil {
		return service.Errorf(service.CodeInvalidRequest, "invalid request: %v", err)
	}
	return nil
}

// classify attaches the protocol code for the library error kinds a
// handler can surface. Unrecognized errors stay internal.
func classify(err error) error {
	var code service.Code
	switch {
	case errors.Is(err, sessionledger.ErrSessionLimitExceeded):
		code = service.CodeSessionLimitExceeded
	case errors.Is(err, sessionledger.ErrSessionNotFound),
		errors.Is(err, keyvault.ErrVideoKeyNotFound):
		code = service.CodeNotFound
	case errors.Is(err, keyvault.ErrKeyUnwrap):
		code = service.CodeKeyUnwrap
	case errors.Is(err, keyvault.ErrConfiguration):
		code = service.CodeConfiguration
	default:
		return err
	}
	return service.WrapError(code, err)
}
