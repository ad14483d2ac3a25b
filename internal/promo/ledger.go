// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Soulshift Contributors

// Package promo holds the catalog of redeemable codes and their
// one-shot rewards.
package promo

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/natefinch/atomic"
	"github.com/samber/oops"
)

// Reward kinds. Tokens exists in the catalog schema but has no profile
// field; redeeming it credits nothing.
const (
	RewardGold     = "Gold"
	RewardDiamonds = "Diamonds"
	RewardTokens   = "Tokens"
)

// Sentinel errors for promo redemption.
var (
	// ErrCodeNotFound is returned when the code is absent from the catalog.
	ErrCodeNotFound = errors.New("promo code not found")

	// ErrAlreadyRedeemed is returned when a guid replays a code.
	ErrAlreadyRedeemed = errors.New("promo code already redeemed")
)

// Reward is the one-shot grant attached to a code.
type Reward struct {
	Kind   string `json:"kind"`
	Amount int64  `json:"amount"`
}

// Entry is a single catalog record. Codes are stored normalized to
// uppercase and matched case-insensitively.
type Entry struct {
	Code   string `json:"code"`
	Reward Reward `json:"reward"`
}

// catalogFile is the on-disk shape of the promo catalog.
type catalogFile struct {
	Codes []Entry `json:"codes"`
}

// Ledger is the in-memory catalog plus its file mirror.
type Ledger struct {
	mu      sync.RWMutex
	path    string
	entries map[string]Entry
	order   []string
}

// Normalize canonicalizes a promo code for lookup and storage.
func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Open loads the catalog from path. A missing file is seeded with the
// default catalog and persisted; a corrupt file starts the ledger empty
// and logs the fault rather than failing startup.
func Open(path string) (*Ledger, error) {
	l := &Ledger{
		path:    path,
		entries: make(map[string]Entry),
	}

	raw, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		l.seedDefaults()
		if err := l.persistLocked(); err != nil {
			return nil, oops.Code("PROMO_SEED_FAILED").With("path", path).Wrap(err)
		}
		return l, nil
	case err != nil:
		return nil, oops.Code("PROMO_LOAD_FAILED").With("path", path).Wrap(err)
	}

	var file catalogFile
	if err := json.Unmarshal(raw, &file); err != nil {
		slog.Error("promo catalog is corrupt, starting empty",
			"path", path,
			"error", err,
		)
		return l, nil
	}

	for _, e := range file.Codes {
		code := Normalize(e.Code)
		if code == "" {
			continue
		}
		e.Code = code
		if _, dup := l.entries[code]; dup {
			continue
		}
		l.entries[code] = e
		l.order = append(l.order, code)
	}

	return l, nil
}

// seedDefaults installs the starter catalog used when no promo file exists.
func (l *Ledger) seedDefaults() {
	e := Entry{
		Code:   "ALPHA",
		Reward: Reward{Kind: RewardGold, Amount: 500},
	}
	l.entries[e.Code] = e
	l.order = []string{e.Code}
}

// Lookup finds the catalog entry for a code, case-insensitively.
func (l *Ledger) Lookup(code string) (Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	e, ok := l.entries[Normalize(code)]
	if !ok {
		return Entry{}, ErrCodeNotFound
	}
	return e, nil
}

// Len returns the number of catalog entries.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Append adds a new entry to the catalog and persists it. This is the
// operator-facing admin path; duplicates are rejected.
func (l *Ledger) Append(e Entry) error {
	e.Code = Normalize(e.Code)
	if e.Code == "" {
		return oops.Code("PROMO_INVALID_ENTRY").Errorf("promo code cannot be empty")
	}
	if e.Reward.Amount <= 0 {
		return oops.Code("PROMO_INVALID_ENTRY").
			With("code", e.Code).
			Errorf("reward amount must be positive")
	}
	switch e.Reward.Kind {
	case RewardGold, RewardDiamonds, RewardTokens:
	default:
		return oops.Code("PROMO_INVALID_ENTRY").
			With("code", e.Code).
			With("kind", e.Reward.Kind).
			Errorf("unknown reward kind")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, dup := l.entries[e.Code]; dup {
		return oops.Code("PROMO_DUPLICATE_ENTRY").
			With("code", e.Code).
			Errorf("promo code %s already exists", e.Code)
	}

	l.entries[e.Code] = e
	l.order = append(l.order, e.Code)

	if err := l.persistLocked(); err != nil {
		delete(l.entries, e.Code)
		l.order = l.order[:len(l.order)-1]
		return oops.Code("PROMO_SAVE_FAILED").With("code", e.Code).Wrap(err)
	}
	return nil
}

// persistLocked writes the catalog file atomically. Callers must hold
// the write lock (or have exclusive access during Open).
func (l *Ledger) persistLocked() error {
	file := catalogFile{Codes: make([]Entry, 0, len(l.order))}
	for _, code := range l.order {
		file.Codes = append(file.Codes, l.entries[code])
	}

	raw, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return err
	}
	return atomic.WriteFile(l.path, bytes.NewReader(raw))
}
