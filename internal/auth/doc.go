// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Soulshift Contributors

// Package auth provides authentication primitives for Soulshift.
//
// # Domain Types
//
// Account is the authoritative credential record. Accounts should be
// created with NewAccount, which assigns the guid and validates the
// identity fields. Direct struct initialization bypasses validation and
// may create invalid state.
//
// # Credential records
//
// Passwords are stored as PBKDF2-SHA256 records in the form
// "iterations$salt$key" (salt and key base64). Records without that
// structure are legacy plain digests left over from the pre-PBKDF2
// scheme; they verify by case-insensitive digest comparison and are
// migrated on first successful login by the account store.
//
// # Bearer tokens
//
// A successful login issues a single-use bearer token. The plaintext
// token travels to the client; only its SHA-256 hash is kept on the
// account record. Every successful token use refreshes the token.
package auth
