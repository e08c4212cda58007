// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sealed stores the KEK server secret encrypted at rest.
//
// Instead of a plaintext secret file, an operator can seal the server
// secret with age to each license host's x25519 public key. The host
// keeps only its age identity (the machine key); at startup the
// license service opens the sealed file into a [secret.Buffer] and the
// plaintext never touches disk.
//
// Sealed files are ASCII-armored so they survive config management
// tooling. [Open] accepts binary age files too.
package sealed
