// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Soulshift Contributors

package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/samber/oops"
	"golang.org/x/crypto/pbkdf2"
)

// PBKDF2 parameters. DefaultIterations is the floor: configured values
// below it are clamped up.
const (
	DefaultIterations = 100_000
	saltLength        = 16
	keyLength         = 32
)

// ErrEmptySecret is returned when attempting to hash an empty secret.
var ErrEmptySecret = oops.Code("AUTH_EMPTY_SECRET").Errorf("secret cannot be empty")

// Hasher derives and verifies PBKDF2-SHA256 password records.
type Hasher struct {
	iterations int
}

// NewHasher creates a Hasher with the given iteration count.
// Counts below DefaultIterations are raised to the floor.
func NewHasher(iterations int) *Hasher {
	if iterations < DefaultIterations {
		iterations = DefaultIterations
	}
	return &Hasher{iterations: iterations}
}

// Hash produces a "iterations$salt$key" record for the secret.
func (h *Hasher) Hash(secret string) (string, error) {
	if secret == "" {
		return "", ErrEmptySecret
	}

	salt := make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", oops.Code("AUTH_SALT_FAILED").Wrap(err)
	}

	key := pbkdf2.Key(NormalizeSecret(secret), salt, h.iterations, keyLength, sha256.New)

	record := strconv.Itoa(h.iterations) + "$" +
		base64.StdEncoding.EncodeToString(salt) + "$" +
		base64.StdEncoding.EncodeToString(key)

	return record, nil
}

// Verify checks if the candidate secret matches the stored record.
// Returns (true, nil) on match, (false, nil) on mismatch, or an error
// when the record cannot be parsed.
func (h *Hasher) Verify(record, candidate string) (bool, error) {
	parts := strings.Split(record, "$")
	if len(parts) != 3 {
		return false, oops.Code("AUTH_INVALID_RECORD").Errorf("invalid credential record format")
	}

	iterations, err := strconv.Atoi(parts[0])
	if err != nil || iterations <= 0 {
		return false, oops.Code("AUTH_INVALID_RECORD").Errorf("invalid iteration count %q", parts[0])
	}

	salt, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return false, oops.Code("AUTH_INVALID_RECORD").Wrap(err)
	}

	stored, err := base64.StdEncoding.DecodeString(parts[2])
	if err != nil {
		return false, oops.Code("AUTH_INVALID_RECORD").Wrap(err)
	}
	if len(stored) == 0 {
		return false, oops.Code("AUTH_INVALID_RECORD").Errorf("empty derived key")
	}

	derived := pbkdf2.Key(NormalizeSecret(candidate), salt, iterations, len(stored), sha256.New)

	return constantTimeEquals(stored, derived), nil
}

// NeedsUpgrade returns true if the record is a legacy plain digest
// rather than a PBKDF2 record.
func (h *Hasher) NeedsUpgrade(record string) bool {
	return IsLegacyRecord(record)
}

// IsLegacyRecord reports whether the stored record predates the
// "iterations$salt$key" structure.
func IsLegacyRecord(record string) bool {
	return !strings.Contains(record, "$")
}

// VerifyLegacy checks a candidate against a legacy plain-digest record.
// Legacy records hold the client-side hex digest verbatim, so the
// comparison is a case-insensitive equality on the digest text.
func VerifyLegacy(record, candidate string) bool {
	if record == "" || candidate == "" {
		return false
	}
	return strings.EqualFold(record, candidate)
}

// NormalizeSecret converts a password input to key-derivation bytes.
// Clients historically pre-hashed passwords with SHA-512 or SHA-256 and
// sent the hex digest; an even-length input is therefore tried as hex
// first, falling back to the raw bytes when it does not decode.
func NormalizeSecret(secret string) []byte {
	if secret == "" {
		return nil
	}
	if len(secret)%2 == 0 {
		if raw, err := hex.DecodeString(secret); err == nil {
			return raw
		}
	}
	return []byte(secret)
}

// constantTimeEquals compares two byte slices without short-circuiting.
func constantTimeEquals(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	var diff byte
	for i := range a {
		diff |= a[i] ^ b[i]
	}
	return diff == 0
}
