// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Soulshift Contributors

// Package session authenticates connections and tracks which account each
// live connection belongs to. The Authenticator is the single entry point
// for every client request; the Registry is the connection identity map.
package session
