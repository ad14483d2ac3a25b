// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Soulshift Contributors

package session_test

import (
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/I1SSAACC/Soulshift/internal/auth"
	"github.com/I1SSAACC/Soulshift/internal/observability"
	"github.com/I1SSAACC/Soulshift/internal/profile"
	"github.com/I1SSAACC/Soulshift/internal/promo"
	"github.com/I1SSAACC/Soulshift/internal/protocol"
	"github.com/I1SSAACC/Soulshift/internal/session"
	"github.com/I1SSAACC/Soulshift/internal/store"
)

// clientHash mimics the client-side SHA-512 pre-hash of a password.
func clientHash(password string) string {
	sum := sha512.Sum512([]byte(password))
	return hex.EncodeToString(sum[:])
}

type fixture struct {
	auth     *session.Authenticator
	accounts *store.AccountStore
	players  *store.PlayerStore
	registry *session.Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	paths := store.NewPaths(t.TempDir())
	require.NoError(t, paths.EnsureLayout())

	ledger, err := promo.Open(paths.PromoFile())
	require.NoError(t, err)

	players := store.NewPlayerStore(paths, 100, ledger)
	accounts, err := store.OpenAccounts(paths.AccountsFile(), auth.NewHasher(auth.DefaultIterations), players)
	require.NoError(t, err)

	registry := session.NewRegistry()
	metrics := observability.NewMetrics(prometheus.NewRegistry())

	return &fixture{
		auth:     session.NewAuthenticator(accounts, players, registry, metrics),
		accounts: accounts,
		players:  players,
		registry: registry,
	}
}

// register creates an account on connID and asserts the chained login
// succeeded.
func (f *fixture) register(t *testing.T, connID, nickname, deviceID string) protocol.LoginResult {
	t.Helper()

	reg, login := f.auth.HandleRegister(connID, protocol.Register{
		Email:        nickname + "@example.com",
		Nickname:     nickname,
		PasswordHash: clientHash(nickname + "-pw"),
		DeviceID:     deviceID,
	})
	require.True(t, reg.Success, reg.Message)
	require.NotNil(t, login)
	require.True(t, login.Success, login.Message)
	return *login
}

func TestHandleRegister(t *testing.T) {
	t.Run("chains into a login on the same connection", func(t *testing.T) {
		f := newFixture(t)
		login := f.register(t, "conn1", "alice", "")

		assert.NotEmpty(t, login.Token)
		assert.NotEmpty(t, login.PlayerProfileJSON)

		guid, ok := f.registry.Resolve("conn1")
		require.True(t, ok)
		account, err := f.accounts.GetByGuid(guid)
		require.NoError(t, err)
		assert.True(t, account.Online)
	})

	t.Run("duplicate nickname is refused with a reason", func(t *testing.T) {
		f := newFixture(t)
		f.register(t, "conn1", "alice", "")

		reg, login := f.auth.HandleRegister("conn2", protocol.Register{
			Email:        "other@example.com",
			Nickname:     "alice",
			PasswordHash: clientHash("pw"),
		})
		assert.False(t, reg.Success)
		assert.Equal(t, "nickname already in use", reg.Message)
		assert.Nil(t, login)
	})

	t.Run("invalid email is refused before any state changes", func(t *testing.T) {
		f := newFixture(t)
		reg, login := f.auth.HandleRegister("conn1", protocol.Register{
			Email:        "not-an-email",
			Nickname:     "carol",
			PasswordHash: clientHash("pw"),
		})
		assert.False(t, reg.Success)
		assert.Nil(t, login)
		_, err := f.accounts.GetByNickname("carol")
		assert.ErrorIs(t, err, auth.ErrNotFound)
	})

	t.Run("register with a device id links it to the profile", func(t *testing.T) {
		f := newFixture(t)
		f.register(t, "conn1", "dave", "dev-dave")

		account, err := f.accounts.FindByDeviceID("dev-dave")
		require.NoError(t, err)
		assert.Equal(t, "dave", account.Nickname)
	})
}

func TestHandleLogin(t *testing.T) {
	t.Run("valid credentials start a session", func(t *testing.T) {
		f := newFixture(t)
		f.register(t, "conn1", "alice", "")
		f.auth.HandleLogout("conn1", protocol.Logout{})

		res := f.auth.HandleLogin("conn2", protocol.Login{
			Nickname:     "alice",
			PasswordHash: clientHash("alice-pw"),
		})
		require.True(t, res.Success, res.Message)
		assert.NotEmpty(t, res.Token)

		var p profile.PlayerProfile
		require.NoError(t, json.Unmarshal([]byte(res.PlayerProfileJSON), &p))
		assert.Equal(t, "alice", p.Nickname)
		assert.True(t, p.HasLoggedInBefore)
	})

	t.Run("wrong password and unknown nickname read the same", func(t *testing.T) {
		f := newFixture(t)
		f.register(t, "conn1", "alice", "")
		f.auth.HandleLogout("conn1", protocol.Logout{})

		bad := f.auth.HandleLogin("conn2", protocol.Login{
			Nickname:     "alice",
			PasswordHash: clientHash("wrong"),
		})
		unknown := f.auth.HandleLogin("conn2", protocol.Login{
			Nickname:     "nobody",
			PasswordHash: clientHash("pw"),
		})
		assert.False(t, bad.Success)
		assert.False(t, unknown.Success)
		assert.Equal(t, bad.Message, unknown.Message)
	})

	t.Run("second connection is refused while the first is online", func(t *testing.T) {
		f := newFixture(t)
		f.register(t, "conn1", "alice", "")

		res := f.auth.HandleLogin("conn2", protocol.Login{
			Nickname:     "alice",
			PasswordHash: clientHash("alice-pw"),
		})
		assert.False(t, res.Success)
		assert.Equal(t, "account is already online", res.Message)
	})

	t.Run("logout releases the account for the next login", func(t *testing.T) {
		f := newFixture(t)
		f.register(t, "conn1", "alice", "")
		f.auth.HandleLogout("conn1", protocol.Logout{})

		res := f.auth.HandleLogin("conn2", protocol.Login{
			Nickname:     "alice",
			PasswordHash: clientHash("alice-pw"),
		})
		assert.True(t, res.Success, res.Message)
	})

	t.Run("disconnect without logout also releases the account", func(t *testing.T) {
		f := newFixture(t)
		f.register(t, "conn1", "alice", "")
		f.auth.HandleDisconnect("conn1")

		res := f.auth.HandleLogin("conn2", protocol.Login{
			Nickname:     "alice",
			PasswordHash: clientHash("alice-pw"),
		})
		assert.True(t, res.Success, res.Message)
	})

	t.Run("same connection may log in again", func(t *testing.T) {
		f := newFixture(t)
		first := f.register(t, "conn1", "alice", "")

		res := f.auth.HandleLogin("conn1", protocol.Login{
			Nickname:     "alice",
			PasswordHash: clientHash("alice-pw"),
		})
		require.True(t, res.Success, res.Message)
		assert.NotEqual(t, first.Token, res.Token)
	})

	t.Run("remember me links the device", func(t *testing.T) {
		f := newFixture(t)
		f.register(t, "conn1", "alice", "")
		f.auth.HandleLogout("conn1", protocol.Logout{})

		res := f.auth.HandleLogin("conn2", protocol.Login{
			Nickname:     "alice",
			PasswordHash: clientHash("alice-pw"),
			DeviceID:     "dev1",
			RememberMe:   true,
		})
		require.True(t, res.Success, res.Message)

		account, err := f.accounts.FindByDeviceID("dev1")
		require.NoError(t, err)
		assert.Equal(t, "alice", account.Nickname)
	})
}

func TestHandleTokenLogin(t *testing.T) {
	t.Run("a token authenticates once and is refreshed", func(t *testing.T) {
		f := newFixture(t)
		login := f.register(t, "conn1", "alice", "")
		f.auth.HandleLogout("conn1", protocol.Logout{})

		res := f.auth.HandleTokenLogin("conn2", protocol.TokenLogin{Token: login.Token})
		require.True(t, res.Success, res.Message)
		assert.NotEqual(t, login.Token, res.Token)

		f.auth.HandleLogout("conn2", protocol.Logout{})
		replay := f.auth.HandleTokenLogin("conn3", protocol.TokenLogin{Token: login.Token})
		assert.False(t, replay.Success)
	})

	t.Run("another connection cannot steal an online session", func(t *testing.T) {
		f := newFixture(t)
		login := f.register(t, "conn1", "alice", "")

		res := f.auth.HandleTokenLogin("conn2", protocol.TokenLogin{Token: login.Token})
		assert.False(t, res.Success)
		assert.Equal(t, "account is already online", res.Message)
	})

	t.Run("the holding connection re-attaches with a fresh token", func(t *testing.T) {
		f := newFixture(t)
		login := f.register(t, "conn1", "alice", "")

		res := f.auth.HandleTokenLogin("conn1", protocol.TokenLogin{Token: login.Token})
		require.True(t, res.Success, res.Message)
		assert.NotEqual(t, login.Token, res.Token)
	})

	t.Run("garbage tokens are refused", func(t *testing.T) {
		f := newFixture(t)
		res := f.auth.HandleTokenLogin("conn1", protocol.TokenLogin{Token: "deadbeef"})
		assert.False(t, res.Success)
	})
}

func TestHandleAutoLogin(t *testing.T) {
	t.Run("a linked device logs in without a password", func(t *testing.T) {
		f := newFixture(t)
		f.register(t, "conn1", "alice", "dev1")
		f.auth.HandleLogout("conn1", protocol.Logout{})

		res := f.auth.HandleAutoLogin("conn2", protocol.AutoLogin{DeviceID: "dev1"})
		require.True(t, res.Success, res.Message)

		var p profile.PlayerProfile
		require.NoError(t, json.Unmarshal([]byte(res.PlayerProfileJSON), &p))
		assert.Equal(t, "alice", p.Nickname)
	})

	t.Run("unknown devices are refused", func(t *testing.T) {
		f := newFixture(t)
		res := f.auth.HandleAutoLogin("conn1", protocol.AutoLogin{DeviceID: "dev9"})
		assert.False(t, res.Success)
	})

	t.Run("empty device id is refused", func(t *testing.T) {
		f := newFixture(t)
		res := f.auth.HandleAutoLogin("conn1", protocol.AutoLogin{})
		assert.False(t, res.Success)
	})

	t.Run("another connection is refused while the account is online", func(t *testing.T) {
		f := newFixture(t)
		f.register(t, "conn1", "alice", "dev1")

		res := f.auth.HandleAutoLogin("conn2", protocol.AutoLogin{DeviceID: "dev1"})
		assert.False(t, res.Success)
		assert.Equal(t, "account is already online", res.Message)
	})

	t.Run("the holding connection re-attaches", func(t *testing.T) {
		f := newFixture(t)
		f.register(t, "conn1", "alice", "dev1")

		res := f.auth.HandleAutoLogin("conn1", protocol.AutoLogin{DeviceID: "dev1"})
		assert.True(t, res.Success, res.Message)
	})
}

func TestHandleLogout(t *testing.T) {
	t.Run("unlinks the supplied device id", func(t *testing.T) {
		f := newFixture(t)
		f.register(t, "conn1", "alice", "dev1")
		guid, ok := f.registry.Resolve("conn1")
		require.True(t, ok)

		f.auth.HandleLogout("conn1", protocol.Logout{DeviceID: "dev1"})

		p, err := f.players.Load(guid)
		require.NoError(t, err)
		assert.Empty(t, p.DeviceIDs)

		res := f.auth.HandleAutoLogin("conn2", protocol.AutoLogin{DeviceID: "dev1"})
		assert.False(t, res.Success)
		assert.Equal(t, "device is not linked to an account", res.Message)
	})

	t.Run("keeps devices the request does not name", func(t *testing.T) {
		f := newFixture(t)
		f.register(t, "conn1", "alice", "dev1")

		f.auth.HandleLogout("conn1", protocol.Logout{DeviceID: "dev2"})

		res := f.auth.HandleAutoLogin("conn2", protocol.AutoLogin{DeviceID: "dev1"})
		assert.True(t, res.Success, res.Message)
	})

	t.Run("without a device id only the session is released", func(t *testing.T) {
		f := newFixture(t)
		f.register(t, "conn1", "alice", "dev1")
		guid, ok := f.registry.Resolve("conn1")
		require.True(t, ok)

		f.auth.HandleLogout("conn1", protocol.Logout{})

		p, err := f.players.Load(guid)
		require.NoError(t, err)
		assert.Equal(t, []string{"dev1"}, p.DeviceIDs)

		account, err := f.accounts.GetByGuid(guid)
		require.NoError(t, err)
		assert.False(t, account.Online)
	})
}

func TestHandleGetPlayerData(t *testing.T) {
	t.Run("requires authentication", func(t *testing.T) {
		f := newFixture(t)
		res := f.auth.HandleGetPlayerData("conn1", protocol.GetPlayerData{})
		assert.False(t, res.Success)
		assert.Equal(t, "not authenticated", res.ErrorMessage)
	})

	t.Run("empty guid means the caller's own profile", func(t *testing.T) {
		f := newFixture(t)
		f.register(t, "conn1", "alice", "")

		res := f.auth.HandleGetPlayerData("conn1", protocol.GetPlayerData{})
		require.True(t, res.Success, res.ErrorMessage)

		var p profile.PlayerProfile
		require.NoError(t, json.Unmarshal([]byte(res.PlayerProfileJSON), &p))
		assert.Equal(t, "alice", p.Nickname)
	})

	t.Run("explicit guid resolves another player", func(t *testing.T) {
		f := newFixture(t)
		f.register(t, "conn1", "alice", "")
		f.register(t, "conn2", "bob", "")

		bob, err := f.accounts.GetByNickname("bob")
		require.NoError(t, err)

		res := f.auth.HandleGetPlayerData("conn1", protocol.GetPlayerData{PlayerGuid: bob.Guid})
		require.True(t, res.Success, res.ErrorMessage)

		var p profile.PlayerProfile
		require.NoError(t, json.Unmarshal([]byte(res.PlayerProfileJSON), &p))
		assert.Equal(t, "bob", p.Nickname)
	})

	t.Run("unknown guid is reported", func(t *testing.T) {
		f := newFixture(t)
		f.register(t, "conn1", "alice", "")

		res := f.auth.HandleGetPlayerData("conn1", protocol.GetPlayerData{PlayerGuid: "no-such-guid"})
		assert.False(t, res.Success)
		assert.Equal(t, "player not found", res.ErrorMessage)
	})

	t.Run("path-escaping guid cannot read outside the profile store", func(t *testing.T) {
		f := newFixture(t)
		f.register(t, "conn1", "alice", "")

		for _, guid := range []string{"../accounts", "../../db/promo", `..\accounts`} {
			res := f.auth.HandleGetPlayerData("conn1", protocol.GetPlayerData{PlayerGuid: guid})
			assert.False(t, res.Success, guid)
			assert.Equal(t, "player not found", res.ErrorMessage, guid)
		}
	})
}

func TestHandleRedeemPromo(t *testing.T) {
	t.Run("requires authentication", func(t *testing.T) {
		f := newFixture(t)
		res := f.auth.HandleRedeemPromo("conn1", protocol.RedeemPromo{Code: "ALPHA"})
		assert.False(t, res.Success)
		assert.Equal(t, "not authenticated", res.Message)
	})

	t.Run("the seeded code pays out once", func(t *testing.T) {
		f := newFixture(t)
		f.register(t, "conn1", "alice", "")
		guid, _ := f.registry.Resolve("conn1")

		res := f.auth.HandleRedeemPromo("conn1", protocol.RedeemPromo{Code: "alpha"})
		require.True(t, res.Success, res.Message)
		assert.Equal(t, promo.RewardGold, res.RewardKind)
		assert.Equal(t, 500, res.Amount)

		p, err := f.players.Load(guid)
		require.NoError(t, err)
		assert.Equal(t, int64(600), p.Gold)

		replay := f.auth.HandleRedeemPromo("conn1", protocol.RedeemPromo{Code: "ALPHA"})
		assert.False(t, replay.Success)
		assert.Equal(t, "promo code already redeemed", replay.Message)
	})

	t.Run("unknown codes are reported", func(t *testing.T) {
		f := newFixture(t)
		f.register(t, "conn1", "alice", "")

		res := f.auth.HandleRedeemPromo("conn1", protocol.RedeemPromo{Code: "NOPE"})
		assert.False(t, res.Success)
		assert.Equal(t, "unknown promo code", res.Message)
	})
}
