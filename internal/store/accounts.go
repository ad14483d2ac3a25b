// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Soulshift Contributors

package store

import (
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/samber/oops"

	"github.com/I1SSAACC/Soulshift/internal/auth"
)

// accountsFile is the on-disk shape of the account table: one JSON
// document holding every account.
type accountsFile struct {
	Accounts []*auth.Account `json:"accounts"`
}

// AccountStore is the authoritative account table. A single
// reader/writer lock guards the in-memory index together with its file
// mirror; every mutation performs the full read-modify-persist sequence
// while holding the writer side.
type AccountStore struct {
	mu      sync.RWMutex
	path    string
	hasher  *auth.Hasher
	players *PlayerStore

	accounts   []*auth.Account
	byGuid     map[string]*auth.Account
	byNickname map[string]*auth.Account // lowercase nickname
	byEmail    map[string]*auth.Account // lowercase email
	byToken    map[string]*auth.Account // token hash
}

// OpenAccounts loads the account table from path, creating an empty one
// when the file is absent. A corrupt table starts the store empty and
// logs the fault rather than failing startup. Stale online flags from a
// previous process are cleared: no connection can be bound to accounts
// in a fresh process, and leaving them set would lock the owners out.
func OpenAccounts(path string, hasher *auth.Hasher, players *PlayerStore) (*AccountStore, error) {
	s := &AccountStore{
		path:       path,
		hasher:     hasher,
		players:    players,
		byGuid:     make(map[string]*auth.Account),
		byNickname: make(map[string]*auth.Account),
		byEmail:    make(map[string]*auth.Account),
		byToken:    make(map[string]*auth.Account),
	}

	raw, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if err := s.persistLocked(); err != nil {
			return nil, oops.Code("ACCOUNTS_INIT_FAILED").With("path", path).Wrap(err)
		}
		return s, nil
	case err != nil:
		return nil, oops.Code("ACCOUNTS_LOAD_FAILED").With("path", path).Wrap(err)
	}

	var file accountsFile
	if err := json.Unmarshal(raw, &file); err != nil {
		slog.Error("account table is corrupt, starting empty",
			"path", path,
			"error", err,
		)
		return s, nil
	}

	cleared := 0
	for _, a := range file.Accounts {
		if a == nil || a.Guid == "" {
			continue
		}
		if a.Online {
			a.Online = false
			cleared++
		}
		s.accounts = append(s.accounts, a)
		s.indexLocked(a)
	}
	if cleared > 0 {
		slog.Info("cleared stale online flags from account table", "count", cleared)
		if err := s.persistLocked(); err != nil {
			return nil, oops.Code("ACCOUNTS_INIT_FAILED").With("path", path).Wrap(err)
		}
	}

	return s, nil
}

// indexLocked adds an account to all lookup maps. Write lock required.
func (s *AccountStore) indexLocked(a *auth.Account) {
	s.byGuid[a.Guid] = a
	s.byNickname[strings.ToLower(a.Nickname)] = a
	s.byEmail[strings.ToLower(a.Email)] = a
	if a.TokenHash != "" {
		s.byToken[a.TokenHash] = a
	}
}

// persistLocked rewrites the whole account table atomically. The table
// is small enough that rewrite-on-every-write is an acceptable
// simplicity/durability trade-off. Write lock required.
func (s *AccountStore) persistLocked() error {
	file := accountsFile{Accounts: s.accounts}
	if file.Accounts == nil {
		file.Accounts = []*auth.Account{}
	}
	if err := writeJSONAtomic(s.path, file); err != nil {
		return oops.Code("ACCOUNTS_PERSIST_FAILED").With("path", s.path).Wrap(err)
	}
	return nil
}

// setTokenLocked installs a new token hash on the account and keeps the
// token index consistent. Write lock required.
func (s *AccountStore) setTokenLocked(a *auth.Account, tokenHash string) {
	if a.TokenHash != "" {
		delete(s.byToken, a.TokenHash)
	}
	a.TokenHash = tokenHash
	if tokenHash != "" {
		s.byToken[tokenHash] = a
	}
}

// CreateAccount registers a new account and lazily creates its player
// profile. Index mutation and disk persistence happen under the
// exclusive lock as one logical transaction.
func (s *AccountStore) CreateAccount(email, nickname, password string) (string, error) {
	if err := auth.ValidateEmail(email); err != nil {
		return "", err
	}
	if err := auth.ValidateNickname(nickname); err != nil {
		return "", err
	}

	// Key derivation is deliberately slow; do it outside the lock.
	record, err := s.hasher.Hash(password)
	if err != nil {
		return "", err
	}

	account, err := auth.NewAccount(nickname, email, record)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	if _, taken := s.byEmail[strings.ToLower(email)]; taken {
		s.mu.Unlock()
		return "", auth.ErrDuplicateEmail
	}
	if _, taken := s.byNickname[strings.ToLower(nickname)]; taken {
		s.mu.Unlock()
		return "", auth.ErrDuplicateNickname
	}

	s.accounts = append(s.accounts, account)
	s.indexLocked(account)

	if err := s.persistLocked(); err != nil {
		s.unindexLastLocked(account)
		s.mu.Unlock()
		return "", err
	}
	s.mu.Unlock()

	if s.players != nil {
		if _, err := s.players.LoadOrCreate(account.Guid, email, nickname); err != nil {
			slog.Warn("failed to create player profile for new account",
				"guid", account.Guid,
				"error", err,
			)
		}
	}

	slog.Info("created account", "guid", account.Guid, "nickname", nickname)
	return account.Guid, nil
}

// unindexLastLocked rolls back the most recent append after a failed
// persist. Write lock required.
func (s *AccountStore) unindexLastLocked(a *auth.Account) {
	s.accounts = s.accounts[:len(s.accounts)-1]
	delete(s.byGuid, a.Guid)
	delete(s.byNickname, strings.ToLower(a.Nickname))
	delete(s.byEmail, strings.ToLower(a.Email))
	if a.TokenHash != "" {
		delete(s.byToken, a.TokenHash)
	}
}

// VerifyLogin authenticates a nickname/password pair and starts a
// session: on success the account is flipped online, a fresh bearer
// token is issued, and the table is persisted, all under one writer
// critical section. Legacy credential records that match are migrated
// to PBKDF2 inside the same transaction so a concurrent login cannot
// observe the half-migrated state.
//
// Returns the account snapshot and the plaintext token.
func (s *AccountStore) VerifyLogin(nickname, password string) (auth.Account, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.byNickname[strings.ToLower(nickname)]
	if !ok {
		return auth.Account{}, "", auth.ErrNotFound
	}

	if auth.IsLegacyRecord(account.PasswordHash) {
		if !auth.VerifyLegacy(account.PasswordHash, password) {
			return auth.Account{}, "", auth.ErrInvalidCredentials
		}
		migrated, err := s.hasher.Hash(password)
		if err != nil {
			return auth.Account{}, "", oops.Code("ACCOUNTS_MIGRATE_FAILED").
				With("guid", account.Guid).
				Wrap(err)
		}
		account.PasswordHash = migrated
	} else {
		ok, err := s.hasher.Verify(account.PasswordHash, password)
		if err != nil {
			return auth.Account{}, "", oops.Code("ACCOUNTS_VERIFY_FAILED").
				With("guid", account.Guid).
				Wrap(err)
		}
		if !ok {
			return auth.Account{}, "", auth.ErrInvalidCredentials
		}
	}

	if account.Online {
		return auth.Account{}, "", auth.ErrAlreadyOnline
	}

	token, err := s.startSessionLocked(account)
	if err != nil {
		return auth.Account{}, "", err
	}
	return *account, token, nil
}

// startSessionLocked flips the account online with a fresh token and
// persists. Write lock required; rolls back on persist failure.
func (s *AccountStore) startSessionLocked(account *auth.Account) (string, error) {
	prevOnline, prevHash := account.Online, account.TokenHash

	token, tokenHash, err := auth.GenerateToken()
	if err != nil {
		return "", err
	}

	account.Online = true
	s.setTokenLocked(account, tokenHash)

	if err := s.persistLocked(); err != nil {
		account.Online = prevOnline
		s.setTokenLocked(account, prevHash)
		return "", err
	}
	return token, nil
}

// ConsumeToken authenticates a single-use bearer token. On success the
// token is refreshed, the account flipped online, and the table
// persisted. When the account is already online the snapshot is
// returned alongside ErrAlreadyOnline so the caller can apply
// same-connection reconnect tolerance.
func (s *AccountStore) ConsumeToken(token string) (auth.Account, string, error) {
	if token == "" {
		return auth.Account{}, "", auth.ErrInvalidCredentials
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// The index is keyed by hash; re-check the candidate against the
	// record itself so a stale index entry cannot authenticate.
	account, ok := s.byToken[auth.HashToken(token)]
	if !ok || !auth.VerifyTokenHash(token, account.TokenHash) {
		return auth.Account{}, "", auth.ErrInvalidCredentials
	}

	if account.Online {
		return *account, "", auth.ErrAlreadyOnline
	}

	refreshed, err := s.startSessionLocked(account)
	if err != nil {
		return auth.Account{}, "", err
	}
	return *account, refreshed, nil
}

// StartSession flips an offline account online with a fresh token.
// Used by the device-bound auto-login path.
func (s *AccountStore) StartSession(guid string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.byGuid[guid]
	if !ok {
		return "", auth.ErrNotFound
	}
	if account.Online {
		return "", auth.ErrAlreadyOnline
	}
	return s.startSessionLocked(account)
}

// RefreshToken issues a fresh token without changing the online flag.
// Used when a live connection re-attaches to its own session.
func (s *AccountStore) RefreshToken(guid string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.byGuid[guid]
	if !ok {
		return "", auth.ErrNotFound
	}

	prevHash := account.TokenHash

	token, tokenHash, err := auth.GenerateToken()
	if err != nil {
		return "", err
	}
	s.setTokenLocked(account, tokenHash)

	if err := s.persistLocked(); err != nil {
		s.setTokenLocked(account, prevHash)
		return "", err
	}
	return token, nil
}

// MarkOnline flips the account online. Idempotent; persists only on change.
func (s *AccountStore) MarkOnline(guid string) error {
	return s.setOnline(guid, true)
}

// MarkOffline flips the account offline. Idempotent; persists only on
// change. The bearer token survives so the client can reconnect with it.
func (s *AccountStore) MarkOffline(guid string) error {
	return s.setOnline(guid, false)
}

func (s *AccountStore) setOnline(guid string, online bool) error {
	if guid == "" {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.byGuid[guid]
	if !ok {
		return auth.ErrNotFound
	}
	if account.Online == online {
		return nil
	}

	account.Online = online
	if err := s.persistLocked(); err != nil {
		account.Online = !online
		return err
	}
	return nil
}

// GetByGuid returns a snapshot of the account with the given guid.
func (s *AccountStore) GetByGuid(guid string) (auth.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	account, ok := s.byGuid[guid]
	if !ok {
		return auth.Account{}, auth.ErrNotFound
	}
	return *account, nil
}

// GetByNickname returns a snapshot by nickname, case-insensitively.
func (s *AccountStore) GetByNickname(nickname string) (auth.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	account, ok := s.byNickname[strings.ToLower(nickname)]
	if !ok {
		return auth.Account{}, auth.ErrNotFound
	}
	return *account, nil
}

// FindByDeviceID scans linked player profiles for the device id and
// returns the first matching account. The guid list is snapshotted
// under the read lock; profile files are read outside it so the account
// lock is never held across file I/O.
func (s *AccountStore) FindByDeviceID(deviceID string) (auth.Account, error) {
	if deviceID == "" || s.players == nil {
		return auth.Account{}, auth.ErrNotFound
	}

	s.mu.RLock()
	guids := make([]string, 0, len(s.accounts))
	for _, a := range s.accounts {
		guids = append(guids, a.Guid)
	}
	s.mu.RUnlock()

	for _, guid := range guids {
		p, err := s.players.Load(guid)
		if err != nil {
			if !errors.Is(err, ErrProfileNotFound) {
				slog.Warn("failed to read player profile during device scan",
					"guid", guid,
					"error", err,
				)
			}
			continue
		}
		if p.HasDeviceID(deviceID) {
			return s.GetByGuid(guid)
		}
	}

	return auth.Account{}, auth.ErrNotFound
}
