// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Soulshift Contributors

// Package protocol defines the wire messages exchanged between the game
// client and the backend: newline-delimited JSON envelopes carrying a type
// tag and a typed payload.
package protocol
