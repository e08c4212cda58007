// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package process holds the entrypoint helper every streamguard binary
// uses: main calls run, and a returned error goes through [Fatal].
package process
