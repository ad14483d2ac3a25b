// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Soulshift Contributors

package auth

import (
	"regexp"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Nickname validation constraints.
const (
	MinNicknameLength = 3
	MaxNicknameLength = 30
)

// nicknameRegex matches nicknames that:
// - Start with a letter (a-z, A-Z)
// - Contain only letters, numbers, and underscores
var nicknameRegex = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]*$`)

// emailRegex is a shape check, not an RFC validator.
var emailRegex = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// Account represents a registered player account.
//
// Guid is assigned at creation and never changes. Nickname and email
// are unique case-insensitively across all accounts. Online and
// TokenHash are mutated by the account store on login, logout, and
// token refresh; Online implies TokenHash is set.
type Account struct {
	Guid         string `json:"guid"`
	Nickname     string `json:"nickname"`
	Email        string `json:"email"`
	PasswordHash string `json:"passwordHash"`
	Online       bool   `json:"online"`
	TokenHash    string `json:"tokenHash,omitempty"`
}

// NewAccount creates an Account with a fresh guid and validated
// identity fields. The password record must already be hashed.
func NewAccount(nickname, email, passwordRecord string) (*Account, error) {
	if err := ValidateNickname(nickname); err != nil {
		return nil, err
	}
	if err := ValidateEmail(email); err != nil {
		return nil, err
	}
	if passwordRecord == "" {
		return nil, oops.Code("AUTH_EMPTY_RECORD").Errorf("password record cannot be empty")
	}

	return &Account{
		Guid:         ulid.Make().String(),
		Nickname:     nickname,
		Email:        email,
		PasswordHash: passwordRecord,
	}, nil
}

// ValidateNickname validates a nickname against rules.
// Nickname requirements:
// - Length: MinNicknameLength to MaxNicknameLength characters
// - Must start with a letter
// - Can contain only letters (a-z, A-Z), numbers (0-9), and underscores (_)
func ValidateNickname(nickname string) error {
	if nickname == "" {
		return oops.Code("AUTH_INVALID_NICKNAME").Errorf("nickname cannot be empty")
	}
	if len(nickname) < MinNicknameLength {
		return oops.Code("AUTH_INVALID_NICKNAME").
			With("min", MinNicknameLength).
			Errorf("nickname must be at least %d characters", MinNicknameLength)
	}
	if len(nickname) > MaxNicknameLength {
		return oops.Code("AUTH_INVALID_NICKNAME").
			With("max", MaxNicknameLength).
			Errorf("nickname must be at most %d characters", MaxNicknameLength)
	}
	if !nicknameRegex.MatchString(nickname) {
		return oops.Code("AUTH_INVALID_NICKNAME").
			Errorf("nickname must start with a letter and contain only letters, numbers, and underscores")
	}
	return nil
}

// ValidateEmail checks that the address has a plausible mailbox@domain shape.
func ValidateEmail(email string) error {
	if email == "" {
		return oops.Code("AUTH_INVALID_EMAIL").Errorf("email cannot be empty")
	}
	if !emailRegex.MatchString(email) {
		return oops.Code("AUTH_INVALID_EMAIL").
			With("email", email).
			Errorf("email address is not valid")
	}
	return nil
}
