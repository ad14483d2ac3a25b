// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Soulshift Contributors

// Package store provides the file-backed account and player profile
// stores. All writes serialize to a temporary file and atomically
// replace the target, so readers never observe a torn document.
package store

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/natefinch/atomic"
	"github.com/samber/oops"
)

// Paths resolves the on-disk layout under a base storage directory:
//
//	<root>/db/player/accounts.json   account table
//	<root>/db/player/players/<guid>.json  per-guid profiles
//	<root>/db/promo.json             promo catalog
type Paths struct {
	root string
}

// NewPaths creates a Paths rooted at dir.
func NewPaths(dir string) Paths {
	return Paths{root: dir}
}

// DBDir returns the top-level database directory.
func (p Paths) DBDir() string {
	return filepath.Join(p.root, "db")
}

// PlayerDir returns the directory holding the account table and profiles.
func (p Paths) PlayerDir() string {
	return filepath.Join(p.DBDir(), "player")
}

// AccountsFile returns the path of the account table document.
func (p Paths) AccountsFile() string {
	return filepath.Join(p.PlayerDir(), "accounts.json")
}

// PlayersDir returns the directory holding one profile file per guid.
func (p Paths) PlayersDir() string {
	return filepath.Join(p.PlayerDir(), "players")
}

// PlayerFile returns the profile file path for a guid. Callers must
// validate the guid with ValidGuid first; arbitrary strings can escape
// PlayersDir through path separators.
func (p Paths) PlayerFile(guid string) string {
	return filepath.Join(p.PlayersDir(), guid+".json")
}

// ValidGuid reports whether guid is safe to embed in a profile file
// name. Guids are ULIDs, but legacy tables may carry other shapes, so
// only the character set is restricted.
func ValidGuid(guid string) bool {
	if guid == "" {
		return false
	}
	for _, r := range guid {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '-' || r == '_':
		default:
			return false
		}
	}
	return true
}

// PromoFile returns the path of the promo catalog document.
func (p Paths) PromoFile() string {
	return filepath.Join(p.DBDir(), "promo.json")
}

// EnsureLayout creates the database directories if they do not exist.
func (p Paths) EnsureLayout() error {
	for _, dir := range []string{p.DBDir(), p.PlayerDir(), p.PlayersDir()} {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return oops.Code("STORE_LAYOUT_FAILED").With("dir", dir).Wrap(err)
		}
	}
	return nil
}

// writeJSONAtomic marshals v with indentation and atomically replaces
// the file at path.
func writeJSONAtomic(path string, v any) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return atomic.WriteFile(path, bytes.NewReader(raw))
}
