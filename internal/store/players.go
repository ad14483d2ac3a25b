// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Soulshift Contributors

package store

import (
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"sync"

	"github.com/samber/oops"

	"github.com/I1SSAACC/Soulshift/internal/profile"
	"github.com/I1SSAACC/Soulshift/internal/promo"
)

// ErrProfileNotFound is returned by Load when no profile file exists for
// the guid. LoadOrCreate never returns it: absence is a valid initial
// state there, not a fault.
var ErrProfileNotFound = errors.New("player profile not found")

// PlayerStore persists one JSON document per account guid. Read-modify-
// write sequences for a guid serialize through a per-guid mutex so a
// rapid double-submit cannot produce a lost update.
type PlayerStore struct {
	paths        Paths
	startingGold int64
	ledger       *promo.Ledger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewPlayerStore creates a PlayerStore writing under paths. The ledger
// may be nil when promo redemption is not wired (tests).
func NewPlayerStore(paths Paths, startingGold int64, ledger *promo.Ledger) *PlayerStore {
	return &PlayerStore{
		paths:        paths,
		startingGold: startingGold,
		ledger:       ledger,
		locks:        make(map[string]*sync.Mutex),
	}
}

// guard returns the mutex serializing access to one guid's file.
func (s *PlayerStore) guard(guid string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.locks[guid]
	if !ok {
		m = &sync.Mutex{}
		s.locks[guid] = m
	}
	return m
}

// Load reads the profile for guid without creating it.
func (s *PlayerStore) Load(guid string) (*profile.PlayerProfile, error) {
	if !ValidGuid(guid) {
		return nil, ErrProfileNotFound
	}

	lock := s.guard(guid)
	lock.Lock()
	defer lock.Unlock()

	raw, err := os.ReadFile(s.paths.PlayerFile(guid))
	switch {
	case errors.Is(err, os.ErrNotExist):
		return nil, ErrProfileNotFound
	case err != nil:
		return nil, oops.Code("PROFILE_LOAD_FAILED").With("guid", guid).Wrap(err)
	}

	p := &profile.PlayerProfile{}
	if err := json.Unmarshal(raw, p); err != nil {
		return nil, oops.Code("PROFILE_LOAD_FAILED").With("guid", guid).Wrap(err)
	}
	p.Normalize()
	return p, nil
}

// LoadOrCreate reads the guid's profile, synthesizing and persisting a
// default one when the file is absent or corrupt. Email and nickname
// are only used for the synthesized profile.
func (s *PlayerStore) LoadOrCreate(guid, email, nickname string) (*profile.PlayerProfile, error) {
	lock := s.guard(guid)
	lock.Lock()
	defer lock.Unlock()

	return s.loadOrCreateLocked(guid, email, nickname)
}

// loadOrCreateLocked implements LoadOrCreate. The guid's guard must be held.
func (s *PlayerStore) loadOrCreateLocked(guid, email, nickname string) (*profile.PlayerProfile, error) {
	if !ValidGuid(guid) {
		return nil, ErrProfileNotFound
	}
	path := s.paths.PlayerFile(guid)

	raw, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return s.createDefaultLocked(guid, email, nickname)
	case err != nil:
		return nil, oops.Code("PROFILE_LOAD_FAILED").With("guid", guid).Wrap(err)
	}

	p := &profile.PlayerProfile{}
	if err := json.Unmarshal(raw, p); err != nil {
		slog.Warn("player profile is corrupt, synthesizing default",
			"guid", guid,
			"error", err,
		)
		return s.createDefaultLocked(guid, email, nickname)
	}
	p.Normalize()
	return p, nil
}

func (s *PlayerStore) createDefaultLocked(guid, email, nickname string) (*profile.PlayerProfile, error) {
	p := profile.NewDefault(guid, email, nickname, s.startingGold)
	p.Normalize()
	if err := s.saveLocked(p); err != nil {
		return nil, err
	}
	return p, nil
}

// Save overwrites the guid's profile document.
func (s *PlayerStore) Save(p *profile.PlayerProfile) error {
	if p == nil || p.Guid == "" {
		return oops.Code("PROFILE_SAVE_FAILED").Errorf("profile has no guid")
	}

	lock := s.guard(p.Guid)
	lock.Lock()
	defer lock.Unlock()

	return s.saveLocked(p)
}

// saveLocked writes the profile file. The guid's guard must be held.
func (s *PlayerStore) saveLocked(p *profile.PlayerProfile) error {
	if err := writeJSONAtomic(s.paths.PlayerFile(p.Guid), p); err != nil {
		return oops.Code("PROFILE_SAVE_FAILED").With("guid", p.Guid).Wrap(err)
	}
	return nil
}

// AddDeviceID links a device to the guid's profile. Idempotent.
func (s *PlayerStore) AddDeviceID(guid, deviceID string) error {
	if deviceID == "" {
		return nil
	}

	lock := s.guard(guid)
	lock.Lock()
	defer lock.Unlock()

	p, err := s.loadOrCreateLocked(guid, "", "")
	if err != nil {
		return err
	}
	if !p.AddDeviceID(deviceID) {
		return nil
	}
	return s.saveLocked(p)
}

// RemoveDeviceID unlinks a device from the guid's profile. Absence is a no-op.
func (s *PlayerStore) RemoveDeviceID(guid, deviceID string) error {
	if guid == "" || deviceID == "" {
		return nil
	}

	lock := s.guard(guid)
	lock.Lock()
	defer lock.Unlock()

	p, err := s.loadOrCreateLocked(guid, "", "")
	if err != nil {
		return err
	}
	if !p.RemoveDeviceID(deviceID) {
		return nil
	}
	return s.saveLocked(p)
}

// ApplyGoldDelta mutates the guid's gold balance. Returns false with no
// write when the delta would leave the balance negative.
func (s *PlayerStore) ApplyGoldDelta(guid string, delta int64) (bool, error) {
	lock := s.guard(guid)
	lock.Lock()
	defer lock.Unlock()

	p, err := s.loadOrCreateLocked(guid, "", "")
	if err != nil {
		return false, err
	}
	if !p.ApplyGoldDelta(delta) {
		return false, nil
	}
	if err := s.saveLocked(p); err != nil {
		return false, err
	}
	return true, nil
}

// ApplyDiamondsDelta mutates the guid's diamond balance under the same
// non-negative guard as gold.
func (s *PlayerStore) ApplyDiamondsDelta(guid string, delta int64) (bool, error) {
	lock := s.guard(guid)
	lock.Lock()
	defer lock.Unlock()

	p, err := s.loadOrCreateLocked(guid, "", "")
	if err != nil {
		return false, err
	}
	if !p.ApplyDiamondsDelta(delta) {
		return false, nil
	}
	if err := s.saveLocked(p); err != nil {
		return false, err
	}
	return true, nil
}

// RedeemPromo applies a catalog code to the guid's profile exactly once.
// Reward credit and the redeemed-set append happen in one critical
// section with the save, so a replay can never re-credit.
func (s *PlayerStore) RedeemPromo(guid, code string) (promo.Reward, error) {
	if s.ledger == nil {
		return promo.Reward{}, oops.Code("PROMO_LEDGER_MISSING").Errorf("promo ledger not configured")
	}

	entry, err := s.ledger.Lookup(code)
	if err != nil {
		return promo.Reward{}, err
	}

	lock := s.guard(guid)
	lock.Lock()
	defer lock.Unlock()

	p, err := s.loadOrCreateLocked(guid, "", "")
	if err != nil {
		return promo.Reward{}, err
	}

	if p.HasRedeemed(entry.Code) {
		return promo.Reward{}, promo.ErrAlreadyRedeemed
	}

	switch entry.Reward.Kind {
	case promo.RewardGold:
		p.ApplyGoldDelta(entry.Reward.Amount)
	case promo.RewardDiamonds:
		p.ApplyDiamondsDelta(entry.Reward.Amount)
	default:
		slog.Warn("promo reward kind has no profile field, crediting nothing",
			"guid", guid,
			"code", entry.Code,
			"kind", entry.Reward.Kind,
		)
	}

	p.MarkRedeemed(entry.Code)

	if err := s.saveLocked(p); err != nil {
		return promo.Reward{}, err
	}
	return entry.Reward, nil
}
