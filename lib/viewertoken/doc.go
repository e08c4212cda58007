// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package viewertoken verifies the identity tokens viewers present to
// the license service.
//
// The identity provider authenticates a viewer and mints a token: a
// CBOR payload (subject user ID, audience, entitled video patterns,
// validity window, token ID) followed by a 64-byte Ed25519 signature
// over the payload. The license service holds only the provider's
// public key. Every user ID the service acts on comes from a verified
// token, never from a request field.
//
// A token names the videos its holder may play as glob patterns
// ("course-42/*", "*"). [Token.Entitled] is the authorization check
// the service runs before admitting a session.
//
// [Blacklist] lets an operator revoke an individual token before its
// natural expiry.
package viewertoken
