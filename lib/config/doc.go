// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads streamguard's YAML configuration.
//
// The file is named by the STREAMGUARD_CONFIG environment variable
// ([Load]) or a --config flag ([LoadFile]). There is no search path
// and no environment-variable override of individual values.
//
// A file may carry development, staging, and production blocks; the
// one matching [Config].Environment is merged over the base values.
// After merging, ${HOME}, ${STREAMGUARD_ROOT}, and ${VAR:-default}
// are expanded in path fields.
//
// [Config.Validate] returns every problem joined into one error.
// Production requires a dedicated license signing secret; the other
// environments fall back to signing licenses with the KEK.
package config
