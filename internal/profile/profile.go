// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Soulshift Contributors

// Package profile defines the durable per-account game state.
package profile

import "slices"

// DefaultStartingGold is the currency grant for freshly created profiles.
const DefaultStartingGold = 100

// Preferences contains client-side audio settings, kept on the server so
// they follow the account across devices. Volumes are clamped to [0, 1].
type Preferences struct {
	SFXVolume   float64 `json:"sfxVolume"`
	MusicVolume float64 `json:"musicVolume"`
}

// Clamp forces both volumes into [0, 1].
func (p *Preferences) Clamp() {
	p.SFXVolume = clamp01(p.SFXVolume)
	p.MusicVolume = clamp01(p.MusicVolume)
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

// PlayerProfile is the durable game state for one account guid.
//
// Gold and Diamonds never go negative. RedeemedPromoCodes is a set: a
// code present there can never be applied again for this guid.
type PlayerProfile struct {
	Guid               string      `json:"guid"`
	DeviceIDs          []string    `json:"deviceIds"`
	Nickname           string      `json:"nickname"`
	Email              string      `json:"email"`
	Level              int         `json:"level"`
	Gold               int64       `json:"gold"`
	Diamonds           int64       `json:"diamonds"`
	OwnedCharacters    []string    `json:"ownedCharacters"`
	RedeemedPromoCodes []string    `json:"redeemedPromoCodes"`
	Preferences        Preferences `json:"preferences"`
	HasLoggedInBefore  bool        `json:"hasLoggedInBefore"`
}

// NewDefault synthesizes the initial profile for a guid. Email and
// nickname are denormalized copies and may be empty.
func NewDefault(guid, email, nickname string, startingGold int64) *PlayerProfile {
	if startingGold < 0 {
		startingGold = DefaultStartingGold
	}
	return &PlayerProfile{
		Guid:     guid,
		Email:    email,
		Nickname: nickname,
		Level:    1,
		Gold:     startingGold,
		Preferences: Preferences{
			SFXVolume:   1,
			MusicVolume: 1,
		},
	}
}

// Normalize repairs invariants after deserialization: nil slices become
// empty, volumes are clamped, level floors at 1.
func (p *PlayerProfile) Normalize() {
	if p.DeviceIDs == nil {
		p.DeviceIDs = []string{}
	}
	if p.OwnedCharacters == nil {
		p.OwnedCharacters = []string{}
	}
	if p.RedeemedPromoCodes == nil {
		p.RedeemedPromoCodes = []string{}
	}
	if p.Level < 1 {
		p.Level = 1
	}
	p.Preferences.Clamp()
}

// AddDeviceID inserts a device id into the set. Returns true if the
// profile changed.
func (p *PlayerProfile) AddDeviceID(deviceID string) bool {
	if deviceID == "" || slices.Contains(p.DeviceIDs, deviceID) {
		return false
	}
	p.DeviceIDs = append(p.DeviceIDs, deviceID)
	return true
}

// RemoveDeviceID removes a device id from the set. Returns true if the
// profile changed; absence is a no-op.
func (p *PlayerProfile) RemoveDeviceID(deviceID string) bool {
	idx := slices.Index(p.DeviceIDs, deviceID)
	if idx < 0 {
		return false
	}
	p.DeviceIDs = slices.Delete(p.DeviceIDs, idx, idx+1)
	return true
}

// HasDeviceID reports whether the device id is linked to this profile.
func (p *PlayerProfile) HasDeviceID(deviceID string) bool {
	return deviceID != "" && slices.Contains(p.DeviceIDs, deviceID)
}

// ApplyGoldDelta mutates gold, refusing any delta that would leave the
// balance negative. Returns true if the delta was applied.
func (p *PlayerProfile) ApplyGoldDelta(delta int64) bool {
	next := p.Gold + delta
	if next < 0 {
		return false
	}
	p.Gold = next
	return true
}

// ApplyDiamondsDelta mutates diamonds under the same non-negative guard.
func (p *PlayerProfile) ApplyDiamondsDelta(delta int64) bool {
	next := p.Diamonds + delta
	if next < 0 {
		return false
	}
	p.Diamonds = next
	return true
}

// HasRedeemed reports whether the promo code is already in the redeemed set.
func (p *PlayerProfile) HasRedeemed(code string) bool {
	return slices.Contains(p.RedeemedPromoCodes, code)
}

// MarkRedeemed appends the code to the redeemed set. Returns false if
// the code was already present.
func (p *PlayerProfile) MarkRedeemed(code string) bool {
	if p.HasRedeemed(code) {
		return false
	}
	p.RedeemedPromoCodes = append(p.RedeemedPromoCodes, code)
	return true
}
