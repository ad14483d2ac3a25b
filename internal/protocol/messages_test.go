// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Soulshift Contributors

package protocol_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/I1SSAACC/Soulshift/internal/protocol"
)

func TestEncodeDecode(t *testing.T) {
	t.Run("round trips a login request", func(t *testing.T) {
		line, err := protocol.Encode(protocol.TypeLogin, protocol.Login{
			Nickname:     "alice",
			PasswordHash: "abc123",
			DeviceID:     "dev1",
			RememberMe:   true,
		})
		require.NoError(t, err)

		env, err := protocol.Decode(line)
		require.NoError(t, err)
		assert.Equal(t, protocol.TypeLogin, env.Type)

		var req protocol.Login
		require.NoError(t, protocol.DecodePayload(env, &req))
		assert.Equal(t, "alice", req.Nickname)
		assert.True(t, req.RememberMe)
	})

	t.Run("rejects an envelope without a type", func(t *testing.T) {
		_, err := protocol.Decode([]byte(`{"payload":{}}`))
		require.Error(t, err)
	})

	t.Run("rejects malformed json", func(t *testing.T) {
		_, err := protocol.Decode([]byte(`{"type":`))
		require.Error(t, err)
	})

	t.Run("rejects a payload of the wrong shape", func(t *testing.T) {
		env, err := protocol.Decode([]byte(`{"type":"login","payload":{"rememberMe":"yes"}}`))
		require.NoError(t, err)

		var req protocol.Login
		require.Error(t, protocol.DecodePayload(env, &req))
	})

	t.Run("rejects a missing payload", func(t *testing.T) {
		env, err := protocol.Decode([]byte(`{"type":"logout"}`))
		require.NoError(t, err)

		var req protocol.Logout
		require.Error(t, protocol.DecodePayload(env, &req))
	})

	t.Run("omits empty optional result fields", func(t *testing.T) {
		line, err := protocol.Encode(protocol.TypeLoginResult, protocol.LoginResult{
			Success: false,
			Message: "invalid credentials",
		})
		require.NoError(t, err)
		assert.NotContains(t, string(line), "playerProfileJson")
		assert.NotContains(t, string(line), "token")
	})
}
