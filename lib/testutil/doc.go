// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil holds helpers shared by streamguard's tests.
//
// [RequireReceive] and [RequireClosed] wrap the select-with-timeout
// pattern so a hung worker or server fails the test instead of
// stalling the run. They are the only place tests wait on
// the wall clock; everything else uses a fake clock.
//
// [SocketDir] returns a short /tmp directory for Unix sockets, whose
// paths are limited to 108 bytes. [UniqueID] hands out distinct stream
// and session IDs within one test binary.
package testutil
