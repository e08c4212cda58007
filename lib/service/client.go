// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/bureau-foundation/streamguard/lib/codec"
)

const (
	dialTimeout         = 5 * time.Second
	responseReadTimeout = 45 * time.Second

	// Responses carry at most a license document or a derived key.
	maxResponseSize = 1024 * 1024
)

// ServiceError is a failure reported by the server (ok=false).
type ServiceError struct {
	Action  string
	Code    Code
	Message string
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("service error on %q (%s): %s", e.Action, e.Code, e.Message)
}

// ServiceClient calls a streamguard service socket, one connection per
// call. A non-nil token is sent with every request.
type ServiceClient struct {
	socketPath string
	tokenBytes []byte
}

// NewServiceClient reads the viewer token from tokenPath.
func NewServiceClient(socketPath, tokenPath string) (*ServiceClient, error) {
	tokenBytes, err := os.ReadFile(tokenPath)
	if err != nil {
		return nil, fmt.Errorf("reading viewer token from %s: %w", tokenPath, err)
	}
	if len(tokenBytes) == 0 {
		return nil, fmt.Errorf("viewer token file %s is empty", tokenPath)
	}
	return &ServiceClient{socketPath: socketPath, tokenBytes: tokenBytes}, nil
}

// NewServiceClientFromToken creates a client with token bytes already
// in hand. A nil token sends unauthenticated requests.
func NewServiceClientFromToken(socketPath string, tokenBytes []byte) *ServiceClient {
	return &ServiceClient{socketPath: socketPath, tokenBytes: tokenBytes}
}

// Call sends action with fields and decodes response data into result
// (if non-nil). Server-side failures are returned as *ServiceError;
// transport failures as plain errors. fields must not contain "action"
// or "token".
func (c *ServiceClient) Call(ctx context.Context, action string, fields map[string]any, result any) error {
	request := make(map[string]any, len(fields)+2)
	for key, value := range fields {
		request[key] = value
	}
	request["action"] = action
	if c.tokenBytes != nil {
		request["token"] = c.tokenBytes
	}

	response, err := c.send(ctx, request)
	if err != nil {
		return fmt.Errorf("calling %q on %s: %w", action, c.socketPath, err)
	}

	if !response.OK {
		return &ServiceError{Action: action, Code: response.Code, Message: response.Error}
	}

	if result != nil && len(response.Data) > 0 {
		if err := codec.Unmarshal(response.Data, result); err != nil {
			return fmt.Errorf("decoding response data for %q: %w", action, err)
		}
	}
	return nil
}

func (c *ServiceClient) send(ctx context.Context, request any) (*Response, error) {
	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		return nil, fmt.Errorf("connecting: %w", err)
	}
	defer conn.Close()

	conn.SetDeadline(time.Now().Add(responseReadTimeout))
	// Abandon the exchange if ctx ends while waiting on the server.
	stop := context.AfterFunc(ctx, func() { conn.SetDeadline(time.Now()) })
	defer stop()

	if err := codec.NewEncoder(conn).Encode(request); err != nil {
		return nil, fmt.Errorf("writing request: %w", err)
	}
	if unixConn, ok := conn.(*net.UnixConn); ok {
		unixConn.CloseWrite()
	}

	var response Response
	if err := codec.NewDecoder(io.LimitReader(conn, maxResponseSize)).Decode(&response); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("reading response: %w", err)
	}
	return &response, nil
}
