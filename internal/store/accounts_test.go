// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Soulshift Contributors

package store_test

import (
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/I1SSAACC/Soulshift/internal/auth"
	"github.com/I1SSAACC/Soulshift/internal/store"
	"github.com/I1SSAACC/Soulshift/pkg/errutil"
)

// clientHash mimics the client-side SHA-512 pre-hash of a password.
func clientHash(password string) string {
	sum := sha512.Sum512([]byte(password))
	return hex.EncodeToString(sum[:])
}

func newAccountStore(t *testing.T) (*store.AccountStore, *store.PlayerStore, store.Paths) {
	t.Helper()

	paths := store.NewPaths(t.TempDir())
	require.NoError(t, paths.EnsureLayout())

	players := store.NewPlayerStore(paths, 100, nil)
	accounts, err := store.OpenAccounts(paths.AccountsFile(), auth.NewHasher(auth.DefaultIterations), players)
	require.NoError(t, err)

	return accounts, players, paths
}

func TestCreateAccount(t *testing.T) {
	accounts, players, _ := newAccountStore(t)

	guid, err := accounts.CreateAccount("a@x.com", "alice", clientHash("hunter2"))
	require.NoError(t, err)
	require.NotEmpty(t, guid)

	t.Run("creates the player profile lazily", func(t *testing.T) {
		p, err := players.Load(guid)
		require.NoError(t, err)
		assert.Equal(t, "alice", p.Nickname)
		assert.Equal(t, int64(100), p.Gold)
	})

	t.Run("duplicate nickname fails regardless of case", func(t *testing.T) {
		_, err := accounts.CreateAccount("other@x.com", "ALICE", clientHash("pw"))
		assert.ErrorIs(t, err, auth.ErrDuplicateNickname)
	})

	t.Run("duplicate email fails regardless of case", func(t *testing.T) {
		_, err := accounts.CreateAccount("A@X.COM", "bob", clientHash("pw"))
		assert.ErrorIs(t, err, auth.ErrDuplicateEmail)
	})

	t.Run("invalid identity fields never reach the table", func(t *testing.T) {
		_, err := accounts.CreateAccount("", "carol", clientHash("pw"))
		errutil.AssertErrorCode(t, err, "AUTH_INVALID_EMAIL")
		_, err = accounts.CreateAccount("c@x.com", "", clientHash("pw"))
		errutil.AssertErrorCode(t, err, "AUTH_INVALID_NICKNAME")
		_, err = accounts.GetByNickname("carol")
		assert.ErrorIs(t, err, auth.ErrNotFound)
	})
}

func TestVerifyLogin(t *testing.T) {
	accounts, _, _ := newAccountStore(t)

	password := clientHash("hunter2")
	guid, err := accounts.CreateAccount("a@x.com", "alice", password)
	require.NoError(t, err)

	t.Run("success flips online and issues a token", func(t *testing.T) {
		account, token, err := accounts.VerifyLogin("alice", password)
		require.NoError(t, err)
		assert.Equal(t, guid, account.Guid)
		assert.True(t, account.Online)
		assert.NotEmpty(t, token)
		assert.Equal(t, auth.HashToken(token), account.TokenHash)
	})

	t.Run("second login while online is rejected", func(t *testing.T) {
		_, _, err := accounts.VerifyLogin("alice", password)
		assert.ErrorIs(t, err, auth.ErrAlreadyOnline)
	})

	t.Run("login succeeds again after going offline", func(t *testing.T) {
		require.NoError(t, accounts.MarkOffline(guid))
		_, _, err := accounts.VerifyLogin("Alice", password) // case-insensitive nickname
		require.NoError(t, err)
		require.NoError(t, accounts.MarkOffline(guid))
	})

	t.Run("wrong password is rejected", func(t *testing.T) {
		_, _, err := accounts.VerifyLogin("alice", clientHash("wrong"))
		assert.ErrorIs(t, err, auth.ErrInvalidCredentials)
	})

	t.Run("unknown nickname is rejected", func(t *testing.T) {
		_, _, err := accounts.VerifyLogin("mallory", password)
		assert.ErrorIs(t, err, auth.ErrNotFound)
	})
}

func TestLegacyMigration(t *testing.T) {
	paths := store.NewPaths(t.TempDir())
	require.NoError(t, paths.EnsureLayout())

	// A legacy table entry stores the client hex digest verbatim.
	legacy := clientHash("hunter2")
	table := map[string]any{
		"accounts": []map[string]any{{
			"guid":         "legacy-guid",
			"nickname":     "alice",
			"email":        "a@x.com",
			"passwordHash": legacy,
			"online":       false,
		}},
	}
	raw, err := json.Marshal(table)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(paths.AccountsFile(), raw, 0o600))

	accounts, err := store.OpenAccounts(paths.AccountsFile(), auth.NewHasher(auth.DefaultIterations), nil)
	require.NoError(t, err)

	t.Run("legacy record verifies and is migrated", func(t *testing.T) {
		account, _, err := accounts.VerifyLogin("alice", legacy)
		require.NoError(t, err)
		assert.False(t, auth.IsLegacyRecord(account.PasswordHash))
	})

	t.Run("subsequent login uses the migrated record", func(t *testing.T) {
		require.NoError(t, accounts.MarkOffline("legacy-guid"))
		_, _, err := accounts.VerifyLogin("alice", legacy)
		require.NoError(t, err)
	})

	t.Run("migrated record persists across reopen", func(t *testing.T) {
		reopened, err := store.OpenAccounts(paths.AccountsFile(), auth.NewHasher(auth.DefaultIterations), nil)
		require.NoError(t, err)

		account, err := reopened.GetByNickname("alice")
		require.NoError(t, err)
		assert.False(t, auth.IsLegacyRecord(account.PasswordHash))

		_, _, err = reopened.VerifyLogin("alice", legacy)
		require.NoError(t, err)
	})
}

func TestConsumeToken(t *testing.T) {
	accounts, _, _ := newAccountStore(t)

	password := clientHash("hunter2")
	guid, err := accounts.CreateAccount("a@x.com", "alice", password)
	require.NoError(t, err)

	_, token, err := accounts.VerifyLogin("alice", password)
	require.NoError(t, err)
	require.NoError(t, accounts.MarkOffline(guid))

	t.Run("valid token starts a session and refreshes", func(t *testing.T) {
		account, refreshed, err := accounts.ConsumeToken(token)
		require.NoError(t, err)
		assert.Equal(t, guid, account.Guid)
		assert.NotEmpty(t, refreshed)
		assert.NotEqual(t, token, refreshed)

		t.Run("the consumed token no longer resolves", func(t *testing.T) {
			require.NoError(t, accounts.MarkOffline(guid))
			_, _, err := accounts.ConsumeToken(token)
			assert.ErrorIs(t, err, auth.ErrInvalidCredentials)

			_, _, err = accounts.ConsumeToken(refreshed)
			require.NoError(t, err)
		})
	})

	t.Run("online account returns snapshot with ErrAlreadyOnline", func(t *testing.T) {
		require.NoError(t, accounts.MarkOffline(guid))
		fresh, err := accounts.StartSession(guid)
		require.NoError(t, err)

		account, _, err := accounts.ConsumeToken(fresh)
		assert.ErrorIs(t, err, auth.ErrAlreadyOnline)
		assert.Equal(t, guid, account.Guid)
	})

	t.Run("garbage token is rejected", func(t *testing.T) {
		_, _, err := accounts.ConsumeToken("deadbeef")
		assert.ErrorIs(t, err, auth.ErrInvalidCredentials)
		_, _, err = accounts.ConsumeToken("")
		assert.ErrorIs(t, err, auth.ErrInvalidCredentials)
	})
}

func TestSessionFlips(t *testing.T) {
	accounts, _, _ := newAccountStore(t)

	guid, err := accounts.CreateAccount("a@x.com", "alice", clientHash("pw"))
	require.NoError(t, err)

	t.Run("StartSession rejects an online account", func(t *testing.T) {
		_, err := accounts.StartSession(guid)
		require.NoError(t, err)
		_, err = accounts.StartSession(guid)
		assert.ErrorIs(t, err, auth.ErrAlreadyOnline)
	})

	t.Run("mark offline is idempotent", func(t *testing.T) {
		require.NoError(t, accounts.MarkOffline(guid))
		require.NoError(t, accounts.MarkOffline(guid))

		account, err := accounts.GetByGuid(guid)
		require.NoError(t, err)
		assert.False(t, account.Online)
	})

	t.Run("unknown guid returns ErrNotFound", func(t *testing.T) {
		assert.ErrorIs(t, accounts.MarkOnline("nope"), auth.ErrNotFound)
		_, err := accounts.StartSession("nope")
		assert.ErrorIs(t, err, auth.ErrNotFound)
		_, err = accounts.RefreshToken("nope")
		assert.ErrorIs(t, err, auth.ErrNotFound)
	})

	t.Run("RefreshToken replaces the stored hash", func(t *testing.T) {
		before, err := accounts.GetByGuid(guid)
		require.NoError(t, err)

		token, err := accounts.RefreshToken(guid)
		require.NoError(t, err)

		after, err := accounts.GetByGuid(guid)
		require.NoError(t, err)
		assert.NotEqual(t, before.TokenHash, after.TokenHash)
		assert.Equal(t, auth.HashToken(token), after.TokenHash)
	})
}

func TestFindByDeviceID(t *testing.T) {
	accounts, players, _ := newAccountStore(t)

	guid, err := accounts.CreateAccount("a@x.com", "alice", clientHash("pw"))
	require.NoError(t, err)
	require.NoError(t, players.AddDeviceID(guid, "dev1"))

	t.Run("finds the account owning the device", func(t *testing.T) {
		account, err := accounts.FindByDeviceID("dev1")
		require.NoError(t, err)
		assert.Equal(t, guid, account.Guid)
	})

	t.Run("unknown device returns ErrNotFound", func(t *testing.T) {
		_, err := accounts.FindByDeviceID("dev2")
		assert.ErrorIs(t, err, auth.ErrNotFound)
	})

	t.Run("empty device id returns ErrNotFound", func(t *testing.T) {
		_, err := accounts.FindByDeviceID("")
		assert.ErrorIs(t, err, auth.ErrNotFound)
	})
}

func TestOpenAccountsResilience(t *testing.T) {
	t.Run("corrupt table starts empty", func(t *testing.T) {
		paths := store.NewPaths(t.TempDir())
		require.NoError(t, paths.EnsureLayout())
		require.NoError(t, os.WriteFile(paths.AccountsFile(), []byte("{broken"), 0o600))

		accounts, err := store.OpenAccounts(paths.AccountsFile(), auth.NewHasher(auth.DefaultIterations), nil)
		require.NoError(t, err)
		_, err = accounts.GetByNickname("alice")
		assert.ErrorIs(t, err, auth.ErrNotFound)
	})

	t.Run("stale online flags are cleared on reopen", func(t *testing.T) {
		paths := store.NewPaths(t.TempDir())
		require.NoError(t, paths.EnsureLayout())

		accounts, err := store.OpenAccounts(paths.AccountsFile(), auth.NewHasher(auth.DefaultIterations), nil)
		require.NoError(t, err)

		guid, err := accounts.CreateAccount("a@x.com", "alice", clientHash("pw"))
		require.NoError(t, err)
		_, err = accounts.StartSession(guid)
		require.NoError(t, err)

		reopened, err := store.OpenAccounts(paths.AccountsFile(), auth.NewHasher(auth.DefaultIterations), nil)
		require.NoError(t, err)

		account, err := reopened.GetByGuid(guid)
		require.NoError(t, err)
		assert.False(t, account.Online)
		assert.NotEmpty(t, account.TokenHash) // token survives restarts
	})
}
