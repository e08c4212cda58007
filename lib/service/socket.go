// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/bureau-foundation/streamguard/lib/codec"
	"github.com/bureau-foundation/streamguard/lib/netutil"
	"github.com/bureau-foundation/streamguard/lib/viewertoken"
)

// ActionFunc handles one unauthenticated action. raw is the full CBOR
// request, including the "action" field. A nil result produces
// {ok: true} with no data.
type ActionFunc func(ctx context.Context, raw []byte) (any, error)

// AuthActionFunc handles an action that requires a verified viewer
// token. The server verifies the token before calling the handler.
type AuthActionFunc func(ctx context.Context, token *viewertoken.Token, raw []byte) (any, error)

// Response is the envelope for every reply.
type Response struct {
	OK    bool             `cbor:"ok"`
	Error string           `cbor:"error,omitempty"`
	Code  Code             `cbor:"code,omitempty"`
	Data  codec.RawMessage `cbor:"data,omitempty"`
}

// SocketServer serves the one-request-per-connection CBOR protocol on
// a Unix socket. Register actions before calling Serve.
type SocketServer struct {
	socketPath string
	logger     *slog.Logger
	auth       *AuthConfig
	handlers   map[string]ActionFunc

	activeConnections sync.WaitGroup
}

// NewSocketServer creates a server for socketPath. auth may be nil if
// no action needs a viewer token.
func NewSocketServer(socketPath string, logger *slog.Logger, auth *AuthConfig) *SocketServer {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &SocketServer{
		socketPath: socketPath,
		logger:     logger,
		auth:       auth,
		handlers:   make(map[string]ActionFunc),
	}
}

// Handle registers an unauthenticated action. Panics on a duplicate.
func (s *SocketServer) Handle(action string, handler ActionFunc) {
	if _, exists := s.handlers[action]; exists {
		panic(fmt.Sprintf("service.SocketServer: duplicate handler for action %q", action))
	}
	s.handlers[action] = handler
}

// HandleAuth registers an action that requires a valid viewer token.
// Panics if the server has no AuthConfig.
func (s *SocketServer) HandleAuth(action string, handler AuthActionFunc) {
	if s.auth == nil {
		panic(fmt.Sprintf("service.SocketServer: HandleAuth requires AuthConfig (action %q)", action))
	}
	s.Handle(action, func(ctx context.Context, raw []byte) (any, error) {
		token, err := s.auth.authenticate(raw)
		if err != nil {
			return nil, err
		}
		return handler(ctx, token, raw)
	})
}

// Serve listens on the socket and dispatches requests until ctx is
// cancelled, then waits for in-flight handlers. A stale socket file is
// replaced; the socket file is removed on return.
func (s *SocketServer) Serve(ctx context.Context) error {
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing stale socket %s: %w", s.socketPath, err)
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.socketPath, err)
	}
	defer func() {
		listener.Close()
		os.Remove(s.socketPath)
	}()

	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	s.logger.Info("socket server listening", "path", s.socketPath)

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			s.logger.Error("accept failed", "error", err)
			continue
		}

		s.activeConnections.Add(1)
		go func() {
			defer s.activeConnections.Done()
			s.handleConnection(ctx, conn)
		}()
	}

	s.activeConnections.Wait()
	return nil
}

const (
	readTimeout  = 30 * time.Second
	writeTimeout = 10 * time.Second

	// Requests are small maps; the largest field is a viewer token.
	maxRequestSize = 64 * 1024
)

func (s *SocketServer) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(readTimeout))

	var raw codec.RawMessage
	if err := codec.NewDecoder(io.LimitReader(conn, maxRequestSize)).Decode(&raw); err != nil {
		if errors.Is(err, io.EOF) {
			return
		}
		s.writeError(conn, Errorf(CodeInvalidRequest, "invalid request: %v", err))
		return
	}

	var header struct {
		Action string `cbor:"action"`
	}
	if err := codec.Unmarshal(raw, &header); err != nil {
		s.writeError(conn, Errorf(CodeInvalidRequest, "invalid request: %v", err))
		return
	}
	if header.Action == "" {
		s.writeError(conn, Errorf(CodeInvalidRequest, "missing required field: action"))
		return
	}

	handler, exists := s.handlers[header.Action]
	if !exists {
		s.writeError(conn, Errorf(CodeInvalidRequest, "unknown action %q", header.Action))
		return
	}

	result, err := handler(ctx, []byte(raw))
	if err != nil {
		code := CodeOf(err)
		level := slog.LevelDebug
		if code == CodeInternal {
			level = slog.LevelError
		}
		s.logger.Log(ctx, level, "action failed",
			"action", header.Action,
			"code", code,
			"error", err,
		)
		s.writeError(conn, err)
		return
	}

	s.writeSuccess(conn, result)
}

func (s *SocketServer) writeError(conn net.Conn, err error) {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if encodeErr := codec.NewEncoder(conn).Encode(Response{
		Error: err.Error(),
		Code:  CodeOf(err),
	}); encodeErr != nil {
		s.logWriteFailure("error", encodeErr)
	}
}

func (s *SocketServer) writeSuccess(conn net.Conn, result any) {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))

	response := Response{OK: true}
	if result != nil {
		data, err := codec.Marshal(result)
		if err != nil {
			s.writeError(conn, Errorf(CodeInternal, "marshaling response: %v", err))
			return
		}
		response.Data = data
	}

	if err := codec.NewEncoder(conn).Encode(response); err != nil {
		s.logWriteFailure("success", err)
	}
}

// logWriteFailure keeps clients that hang up early out of the warning
// stream.
func (s *SocketServer) logWriteFailure(kind string, err error) {
	if netutil.IsExpectedCloseError(err) {
		s.logger.Debug("client closed before response", "response", kind, "error", err)
		return
	}
	s.logger.Warn("failed to write response", "response", kind, "error", err)
}
