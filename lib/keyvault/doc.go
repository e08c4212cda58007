// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package keyvault wraps and unwraps per-video master keys under the
// key-encryption key (KEK).
//
// The KEK is scrypt(serverSecret, salt, N=16384, r=8, p=1) and is
// represented by an explicit [KekContext] handle: the license service
// builds one at startup and threads it through every call that needs
// it. Derivation is deferred to first use and cached inside the
// handle, in guarded memory, until [KekContext.Close].
//
// A wrapped master key is the AES-256-GCM blob
//
//	[IV: 12 bytes] [ciphertext] [tag: 16 bytes]
//
// stored base64-encoded in a [VideoKeyRecord]. Records are written
// once by the packaging side ([Store.Put]) and only read by the
// license service ([Store.Get]). Unwrapped master keys come back in a
// [secret.Buffer] that the caller closes as soon as the scoped key is
// derived; the master key itself never leaves the process.
package keyvault
