// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Soulshift Contributors

package auth

import "errors"

// Sentinel errors for account operations. Stores return these directly;
// the session layer dispatches on them with errors.Is.
var (
	// ErrNotFound is returned when a requested account does not exist.
	ErrNotFound = errors.New("account not found")

	// ErrDuplicateNickname is returned when the nickname is already taken.
	ErrDuplicateNickname = errors.New("nickname already in use")

	// ErrDuplicateEmail is returned when the email is already taken.
	ErrDuplicateEmail = errors.New("email already in use")

	// ErrInvalidCredentials is returned on a password or token mismatch.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrAlreadyOnline is returned when the account has a live session.
	ErrAlreadyOnline = errors.New("account already online")
)
