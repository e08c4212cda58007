// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package version reports the build version of streamguard binaries.
//
// Values are injected at link time:
//
//	go build -ldflags "-X github.com/bureau-foundation/streamguard/lib/version.GitCommit=$(git rev-parse --short HEAD)"
package version
