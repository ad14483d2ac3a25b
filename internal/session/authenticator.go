// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Soulshift Contributors

package session

import (
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/samber/oops"

	"github.com/I1SSAACC/Soulshift/internal/auth"
	"github.com/I1SSAACC/Soulshift/internal/observability"
	"github.com/I1SSAACC/Soulshift/internal/promo"
	"github.com/I1SSAACC/Soulshift/internal/protocol"
	"github.com/I1SSAACC/Soulshift/internal/store"
	"github.com/I1SSAACC/Soulshift/pkg/errutil"
)

// User-facing failure messages. Credential failures deliberately do not
// reveal whether the nickname or the password was wrong.
const (
	msgInvalidCredentials = "invalid nickname or password"
	msgInvalidToken       = "invalid or expired token"
	msgAlreadyOnline      = "account is already online"
	msgDeviceUnknown      = "device is not linked to an account"
	msgNotAuthenticated   = "not authenticated"
	msgInternal           = "internal error, please try again"
)

// Authenticator handles every client request against the stores. All
// dependencies are injected; it holds no state of its own beyond them.
type Authenticator struct {
	accounts *store.AccountStore
	players  *store.PlayerStore
	registry *Registry
	metrics  *observability.Metrics
}

// NewAuthenticator wires the authenticator to its stores, the connection
// registry and the metrics sink.
func NewAuthenticator(accounts *store.AccountStore, players *store.PlayerStore, registry *Registry, metrics *observability.Metrics) *Authenticator {
	return &Authenticator{
		accounts: accounts,
		players:  players,
		registry: registry,
		metrics:  metrics,
	}
}

func (a *Authenticator) recordAuth(method, result string) {
	if a.metrics != nil {
		a.metrics.AuthAttemptsTotal.WithLabelValues(method, result).Inc()
	}
}

// HandleRegister creates the account and, on success, chains straight into a
// login on the same connection. The caller sends the RegisterResult first and
// the LoginResult (nil when registration failed) second.
func (a *Authenticator) HandleRegister(connID string, req protocol.Register) (protocol.RegisterResult, *protocol.LoginResult) {
	guid, err := a.accounts.CreateAccount(req.Email, req.Nickname, req.PasswordHash)
	if err != nil {
		a.recordAuth("register", authResult(err))
		return protocol.RegisterResult{Success: false, Message: registerFailureMessage(err)}, nil
	}
	a.recordAuth("register", "ok")

	account, token, err := a.accounts.VerifyLogin(req.Nickname, req.PasswordHash)
	if err != nil {
		// The account exists but the chained login could not complete.
		// Leave it offline so a manual login can succeed.
		errutil.LogError(slog.Default(), "post-register login failed",
			oops.Code("SESSION_REGISTER_CHAIN").With("guid", guid).Wrap(err))
		a.rollbackSession(guid)
		login := protocol.LoginResult{Success: false, Message: msgInternal}
		return protocol.RegisterResult{Success: true, Message: "account created"}, &login
	}

	login := a.finishLogin(connID, "login", account, token, req.DeviceID, req.DeviceID != "")
	return protocol.RegisterResult{Success: true, Message: "account created"}, &login
}

// HandleLogin authenticates a nickname/password pair.
func (a *Authenticator) HandleLogin(connID string, req protocol.Login) protocol.LoginResult {
	account, token, err := a.accounts.VerifyLogin(req.Nickname, req.PasswordHash)
	switch {
	case err == nil:
		res := a.finishLogin(connID, "login", account, token, req.DeviceID, req.RememberMe)
		return res
	case errors.Is(err, auth.ErrAlreadyOnline):
		return a.reattachSameConn(connID, "login", req.Nickname, req.DeviceID, req.RememberMe)
	case errors.Is(err, auth.ErrNotFound), errors.Is(err, auth.ErrInvalidCredentials):
		a.recordAuth("login", "denied")
		return protocol.LoginResult{Success: false, Message: msgInvalidCredentials}
	default:
		a.recordAuth("login", "error")
		errutil.LogError(slog.Default(), "login failed",
			oops.Code("SESSION_LOGIN").With("nickname", req.Nickname).Wrap(err))
		return protocol.LoginResult{Success: false, Message: msgInternal}
	}
}

// HandleTokenLogin authenticates with a bearer token from a previous login.
// The token is single-use: a fresh one is issued on success.
func (a *Authenticator) HandleTokenLogin(connID string, req protocol.TokenLogin) protocol.LoginResult {
	account, token, err := a.accounts.ConsumeToken(req.Token)
	switch {
	case err == nil:
		return a.finishLogin(connID, "token_login", account, token, "", false)
	case errors.Is(err, auth.ErrAlreadyOnline):
		// ConsumeToken returns the account snapshot alongside the error so
		// the same connection can re-attach instead of being locked out.
		if held, ok := a.registry.ConnFor(account.Guid); ok && held == connID {
			fresh, refreshErr := a.accounts.RefreshToken(account.Guid)
			if refreshErr != nil {
				a.recordAuth("token_login", "error")
				errutil.LogError(slog.Default(), "token refresh on re-attach failed",
					oops.Code("SESSION_TOKEN_LOGIN").With("guid", account.Guid).Wrap(refreshErr))
				return protocol.LoginResult{Success: false, Message: msgInternal}
			}
			return a.finishLogin(connID, "token_login", account, fresh, "", false)
		}
		a.recordAuth("token_login", "denied")
		return protocol.LoginResult{Success: false, Message: msgAlreadyOnline}
	case errors.Is(err, auth.ErrInvalidCredentials):
		a.recordAuth("token_login", "denied")
		return protocol.LoginResult{Success: false, Message: msgInvalidToken}
	default:
		a.recordAuth("token_login", "error")
		errutil.LogError(slog.Default(), "token login failed",
			oops.Code("SESSION_TOKEN_LOGIN").Wrap(err))
		return protocol.LoginResult{Success: false, Message: msgInternal}
	}
}

// HandleAutoLogin authenticates by device id for devices previously linked
// with remember-me.
func (a *Authenticator) HandleAutoLogin(connID string, req protocol.AutoLogin) protocol.LoginResult {
	if req.DeviceID == "" {
		a.recordAuth("auto_login", "denied")
		return protocol.LoginResult{Success: false, Message: msgDeviceUnknown}
	}

	account, err := a.accounts.FindByDeviceID(req.DeviceID)
	if err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			a.recordAuth("auto_login", "denied")
			return protocol.LoginResult{Success: false, Message: msgDeviceUnknown}
		}
		a.recordAuth("auto_login", "error")
		errutil.LogError(slog.Default(), "auto login lookup failed",
			oops.Code("SESSION_AUTO_LOGIN").With("device_id", req.DeviceID).Wrap(err))
		return protocol.LoginResult{Success: false, Message: msgInternal}
	}

	token, err := a.accounts.StartSession(account.Guid)
	switch {
	case err == nil:
		return a.finishLogin(connID, "auto_login", account, token, "", false)
	case errors.Is(err, auth.ErrAlreadyOnline):
		if held, ok := a.registry.ConnFor(account.Guid); ok && held == connID {
			fresh, refreshErr := a.accounts.RefreshToken(account.Guid)
			if refreshErr != nil {
				a.recordAuth("auto_login", "error")
				errutil.LogError(slog.Default(), "token refresh on re-attach failed",
					oops.Code("SESSION_AUTO_LOGIN").With("guid", account.Guid).Wrap(refreshErr))
				return protocol.LoginResult{Success: false, Message: msgInternal}
			}
			return a.finishLogin(connID, "auto_login", account, fresh, "", false)
		}
		a.recordAuth("auto_login", "denied")
		return protocol.LoginResult{Success: false, Message: msgAlreadyOnline}
	default:
		a.recordAuth("auto_login", "error")
		errutil.LogError(slog.Default(), "auto login failed",
			oops.Code("SESSION_AUTO_LOGIN").With("guid", account.Guid).Wrap(err))
		return protocol.LoginResult{Success: false, Message: msgInternal}
	}
}

// HandleLogout unlinks the request's device id from the profile and
// releases the connection's session. Best effort: the connection closes
// regardless of store state.
func (a *Authenticator) HandleLogout(connID string, req protocol.Logout) {
	if req.DeviceID != "" {
		if guid, ok := a.registry.Resolve(connID); ok {
			if err := a.players.RemoveDeviceID(guid, req.DeviceID); err != nil {
				errutil.LogError(slog.Default(), "failed to unlink device on logout",
					oops.Code("SESSION_LOGOUT").With("guid", guid).With("device_id", req.DeviceID).Wrap(err))
			}
		}
	}
	a.release(connID, "logout")
}

// HandleDisconnect is the safety net for connections that drop without a
// logout. It must leave the account offline so the next login succeeds.
func (a *Authenticator) HandleDisconnect(connID string) {
	a.release(connID, "disconnect")
}

func (a *Authenticator) release(connID, reason string) {
	guid, ok := a.registry.Unbind(connID)
	if !ok {
		return
	}
	if err := a.accounts.MarkOffline(guid); err != nil {
		errutil.LogError(slog.Default(), "failed to mark account offline",
			oops.Code("SESSION_RELEASE").With("guid", guid).With("reason", reason).Wrap(err))
		return
	}
	slog.Info("session ended", "guid", guid, "reason", reason)
}

// HandleGetPlayerData returns the serialized profile for a guid. Only
// authenticated connections may ask; an empty guid means the caller's own.
func (a *Authenticator) HandleGetPlayerData(connID string, req protocol.GetPlayerData) protocol.PlayerDataResult {
	own, ok := a.registry.Resolve(connID)
	if !ok {
		return protocol.PlayerDataResult{Success: false, ErrorMessage: msgNotAuthenticated}
	}

	guid := req.PlayerGuid
	if guid == "" {
		guid = own
	}

	p, err := a.players.Load(guid)
	if err != nil {
		if errors.Is(err, store.ErrProfileNotFound) {
			return protocol.PlayerDataResult{Success: false, ErrorMessage: "player not found"}
		}
		errutil.LogError(slog.Default(), "player data load failed",
			oops.Code("SESSION_PLAYER_DATA").With("guid", guid).Wrap(err))
		return protocol.PlayerDataResult{Success: false, ErrorMessage: msgInternal}
	}

	raw, err := json.Marshal(p)
	if err != nil {
		errutil.LogError(slog.Default(), "player data marshal failed",
			oops.Code("SESSION_PLAYER_DATA").With("guid", guid).Wrap(err))
		return protocol.PlayerDataResult{Success: false, ErrorMessage: msgInternal}
	}
	return protocol.PlayerDataResult{Success: true, PlayerProfileJSON: string(raw)}
}

// HandleRedeemPromo redeems a promo code for the connection's account.
func (a *Authenticator) HandleRedeemPromo(connID string, req protocol.RedeemPromo) protocol.RedeemResult {
	guid, ok := a.registry.Resolve(connID)
	if !ok {
		return protocol.RedeemResult{Success: false, Message: msgNotAuthenticated}
	}

	reward, err := a.players.RedeemPromo(guid, req.Code)
	switch {
	case err == nil:
		a.recordPromo("ok")
		return protocol.RedeemResult{
			Success:    true,
			Message:    "reward granted",
			RewardKind: reward.Kind,
			Amount:     int(reward.Amount),
		}
	case errors.Is(err, promo.ErrCodeNotFound):
		a.recordPromo("not_found")
		return protocol.RedeemResult{Success: false, Message: "unknown promo code"}
	case errors.Is(err, promo.ErrAlreadyRedeemed):
		a.recordPromo("already_redeemed")
		return protocol.RedeemResult{Success: false, Message: "promo code already redeemed"}
	default:
		a.recordPromo("error")
		errutil.LogError(slog.Default(), "promo redemption failed",
			oops.Code("SESSION_REDEEM").With("guid", guid).With("code", req.Code).Wrap(err))
		return protocol.RedeemResult{Success: false, Message: msgInternal}
	}
}

func (a *Authenticator) recordPromo(result string) {
	if a.metrics != nil {
		a.metrics.PromoRedemptionsTotal.WithLabelValues(result).Inc()
	}
}

// reattachSameConn resolves an already-online login: when the very same
// connection re-authenticates the session is refreshed instead of refused.
func (a *Authenticator) reattachSameConn(connID, method, nickname, deviceID string, remember bool) protocol.LoginResult {
	account, err := a.accounts.GetByNickname(nickname)
	if err != nil {
		a.recordAuth(method, "error")
		errutil.LogError(slog.Default(), "re-attach lookup failed",
			oops.Code("SESSION_REATTACH").With("nickname", nickname).Wrap(err))
		return protocol.LoginResult{Success: false, Message: msgInternal}
	}

	held, ok := a.registry.ConnFor(account.Guid)
	if !ok || held != connID {
		a.recordAuth(method, "denied")
		return protocol.LoginResult{Success: false, Message: msgAlreadyOnline}
	}

	token, err := a.accounts.RefreshToken(account.Guid)
	if err != nil {
		a.recordAuth(method, "error")
		errutil.LogError(slog.Default(), "token refresh on re-attach failed",
			oops.Code("SESSION_REATTACH").With("guid", account.Guid).Wrap(err))
		return protocol.LoginResult{Success: false, Message: msgInternal}
	}
	return a.finishLogin(connID, method, account, token, deviceID, remember)
}

// finishLogin completes a successful authentication: the profile is loaded
// (created if missing), the device link and first-login flag are persisted,
// and the connection is bound. Any fault rolls the account back offline so
// the client can retry.
func (a *Authenticator) finishLogin(connID, method string, account auth.Account, token, deviceID string, remember bool) protocol.LoginResult {
	p, err := a.players.LoadOrCreate(account.Guid, account.Email, account.Nickname)
	if err != nil {
		a.recordAuth(method, "error")
		errutil.LogError(slog.Default(), "profile load on login failed",
			oops.Code("SESSION_FINISH_LOGIN").With("guid", account.Guid).Wrap(err))
		a.rollbackSession(account.Guid)
		return protocol.LoginResult{Success: false, Message: msgInternal}
	}

	dirty := false
	if remember && deviceID != "" && p.AddDeviceID(deviceID) {
		dirty = true
	}
	if !p.HasLoggedInBefore {
		p.HasLoggedInBefore = true
		dirty = true
	}
	if dirty {
		if err := a.players.Save(p); err != nil {
			a.recordAuth(method, "error")
			errutil.LogError(slog.Default(), "profile save on login failed",
				oops.Code("SESSION_FINISH_LOGIN").With("guid", account.Guid).Wrap(err))
			a.rollbackSession(account.Guid)
			return protocol.LoginResult{Success: false, Message: msgInternal}
		}
	}

	raw, err := json.Marshal(p)
	if err != nil {
		a.recordAuth(method, "error")
		errutil.LogError(slog.Default(), "profile marshal on login failed",
			oops.Code("SESSION_FINISH_LOGIN").With("guid", account.Guid).Wrap(err))
		a.rollbackSession(account.Guid)
		return protocol.LoginResult{Success: false, Message: msgInternal}
	}

	a.registry.Bind(connID, account.Guid)
	a.recordAuth(method, "ok")
	slog.Info("session started", "guid", account.Guid, "method", method)

	return protocol.LoginResult{
		Success:           true,
		Message:           "login successful",
		PlayerProfileJSON: string(raw),
		Token:             token,
	}
}

// rollbackSession returns an account to offline after a failed login chain.
func (a *Authenticator) rollbackSession(guid string) {
	if err := a.accounts.MarkOffline(guid); err != nil {
		errutil.LogError(slog.Default(), "session rollback failed",
			oops.Code("SESSION_ROLLBACK").With("guid", guid).Wrap(err))
	}
}

// registerFailureMessage maps account-creation failures to user-facing text
// without leaking internals.
func registerFailureMessage(err error) string {
	switch {
	case errors.Is(err, auth.ErrDuplicateNickname):
		return "nickname already in use"
	case errors.Is(err, auth.ErrDuplicateEmail):
		return "email already in use"
	}
	if oopsErr, ok := oops.AsOops(err); ok {
		switch oopsErr.Code() {
		case "AUTH_INVALID_NICKNAME", "AUTH_INVALID_EMAIL":
			return oopsErr.Error()
		}
	}
	errutil.LogError(slog.Default(), "account creation failed",
		oops.Code("SESSION_REGISTER").Wrap(err))
	return msgInternal
}

// authResult buckets an error for the auth-attempt metric.
func authResult(err error) string {
	switch {
	case errors.Is(err, auth.ErrDuplicateNickname),
		errors.Is(err, auth.ErrDuplicateEmail),
		errors.Is(err, auth.ErrNotFound),
		errors.Is(err, auth.ErrInvalidCredentials),
		errors.Is(err, auth.ErrAlreadyOnline):
		return "denied"
	}
	if oopsErr, ok := oops.AsOops(err); ok {
		switch oopsErr.Code() {
		case "AUTH_INVALID_NICKNAME", "AUTH_INVALID_EMAIL":
			return "denied"
		}
	}
	return "error"
}
