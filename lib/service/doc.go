// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package service is the scaffolding shared by streamguard's socket
// services and their clients.
//
// The wire protocol is one CBOR request and one CBOR response per Unix
// socket connection. A request is a map carrying an "action" field, the
// viewer's token under "token" for authenticated actions, and
// action-specific fields. The response is a [Response] envelope:
//
//	{ok: true, data: <cbor>}
//	{ok: false, error: "...", code: "session_limit_exceeded"}
//
// Handlers return errors built with [Errorf] or [WrapError] to choose
// the code a client sees. Any other error is reported as
// [CodeInternal] with its message. Clients get a [*ServiceError] and
// branch on its Code, not on the message text.
//
// [NewLogger] builds the JSON slog logger every binary uses.
package service
