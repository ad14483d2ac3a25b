// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Soulshift Contributors

package protocol

import (
	"encoding/json"

	"github.com/samber/oops"
)

// Message type tags. Each request has exactly one response type, except
// Register which yields a RegisterResult followed by a LoginResult on the
// same connection, and Logout which is answered by closing the connection.
const (
	TypeRegister      = "register"
	TypeLogin         = "login"
	TypeTokenLogin    = "token_login"
	TypeAutoLogin     = "auto_login"
	TypeLogout        = "logout"
	TypeGetPlayerData = "get_player_data"
	TypeRedeemPromo   = "redeem_promo"

	TypeRegisterResult   = "register_result"
	TypeLoginResult      = "login_result"
	TypePlayerDataResult = "player_data_result"
	TypeRedeemResult     = "redeem_result"
)

// Envelope frames every message on the wire. Payload stays raw until the
// receiver knows which struct the type tag selects.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Register asks for a new account. PasswordHash is the client-side digest of
// the password, never the plaintext.
type Register struct {
	Email        string `json:"email"`
	Nickname     string `json:"nickname"`
	PasswordHash string `json:"passwordHash"`
	DeviceID     string `json:"deviceId"`
}

// RegisterResult reports whether the account was created.
type RegisterResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Login authenticates by nickname and client-side password digest. When
// RememberMe is set the device id is linked to the profile for AutoLogin.
type Login struct {
	Nickname     string `json:"nickname"`
	PasswordHash string `json:"passwordHash"`
	DeviceID     string `json:"deviceId"`
	RememberMe   bool   `json:"rememberMe"`
}

// TokenLogin authenticates with a bearer token issued by a previous login.
type TokenLogin struct {
	Token    string `json:"token"`
	DeviceID string `json:"deviceId"`
}

// AutoLogin authenticates by device id alone, for devices previously linked
// with RememberMe.
type AutoLogin struct {
	DeviceID string `json:"deviceId"`
}

// Logout ends the session. The server closes the connection after processing.
type Logout struct {
	DeviceID string `json:"deviceId"`
}

// LoginResult answers Login, TokenLogin and AutoLogin. On success it carries
// the serialized player profile and a fresh bearer token.
type LoginResult struct {
	Success           bool   `json:"success"`
	Message           string `json:"message"`
	PlayerProfileJSON string `json:"playerProfileJson,omitempty"`
	Token             string `json:"token,omitempty"`
}

// GetPlayerData requests the profile for a guid. Only valid once the
// connection is authenticated.
type GetPlayerData struct {
	PlayerGuid string `json:"playerGuid"`
}

// PlayerDataResult answers GetPlayerData.
type PlayerDataResult struct {
	Success           bool   `json:"success"`
	ErrorMessage      string `json:"errorMessage,omitempty"`
	PlayerProfileJSON string `json:"playerProfileJson,omitempty"`
}

// RedeemPromo redeems a promo code for the authenticated account.
type RedeemPromo struct {
	Code string `json:"code"`
}

// RedeemResult answers RedeemPromo. RewardKind and Amount are set on success.
type RedeemResult struct {
	Success    bool   `json:"success"`
	Message    string `json:"message"`
	RewardKind string `json:"rewardKind,omitempty"`
	Amount     int    `json:"amount,omitempty"`
}

// Encode wraps a payload in an envelope and marshals it to a single line
// without the trailing newline.
func Encode(msgType string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, oops.Code("protocol_encode").With("type", msgType).Wrap(err)
	}
	return json.Marshal(Envelope{Type: msgType, Payload: raw})
}

// Decode parses one wire line into an envelope. The payload is left raw for
// DecodePayload once the type is known.
func Decode(line []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(line, &env); err != nil {
		return Envelope{}, oops.Code("protocol_decode").Wrap(err)
	}
	if env.Type == "" {
		return Envelope{}, oops.Code("protocol_decode").Errorf("envelope missing type")
	}
	return env, nil
}

// DecodePayload unmarshals an envelope payload into the struct the caller
// selected from the type tag.
func DecodePayload(env Envelope, v any) error {
	if len(env.Payload) == 0 {
		return oops.Code("protocol_decode").With("type", env.Type).Errorf("envelope missing payload")
	}
	if err := json.Unmarshal(env.Payload, v); err != nil {
		return oops.Code("protocol_decode").With("type", env.Type).Wrap(err)
	}
	return nil
}
