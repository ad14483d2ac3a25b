// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Soulshift Contributors

package server

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"

	"github.com/oklog/ulid/v2"

	"github.com/I1SSAACC/Soulshift/internal/observability"
	"github.com/I1SSAACC/Soulshift/internal/protocol"
	"github.com/I1SSAACC/Soulshift/internal/session"
)

// maxLineBytes caps a single request line. Profiles are small; anything
// beyond this is a misbehaving client.
const maxLineBytes = 64 * 1024

// ConnectionHandler handles a single client connection. Each inbound
// envelope gets exactly one response, except register which answers with a
// register_result followed by a login_result, and logout which closes the
// connection after responding to nothing.
type ConnectionHandler struct {
	conn     net.Conn
	auth     *session.Authenticator
	metrics  *observability.Metrics
	connID   string
	quitting bool
}

// NewConnectionHandler creates a new handler with a fresh connection id.
func NewConnectionHandler(conn net.Conn, auth *session.Authenticator, metrics *observability.Metrics) *ConnectionHandler {
	return &ConnectionHandler{
		conn:    conn,
		auth:    auth,
		metrics: metrics,
		connID:  ulid.Make().String(),
	}
}

// ConnID returns the handler's connection id.
func (h *ConnectionHandler) ConnID() string {
	return h.connID
}

// Handle processes the connection until closed. The deferred disconnect is
// the safety net that flips the account offline when the client drops
// without a logout.
func (h *ConnectionHandler) Handle(ctx context.Context) {
	defer func() {
		h.auth.HandleDisconnect(h.connID)
		if err := h.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			slog.Debug("error closing connection", "conn_id", h.connID, "error", err)
		}
		if h.metrics != nil {
			h.metrics.ConnectionsTotal.WithLabelValues("closed").Inc()
		}
	}()

	lineCh := make(chan []byte)
	errCh := make(chan error, 1)

	go func() {
		scanner := bufio.NewScanner(h.conn)
		scanner.Buffer(make([]byte, 0, 4096), maxLineBytes)
		for scanner.Scan() {
			line := make([]byte, len(scanner.Bytes()))
			copy(line, scanner.Bytes())
			select {
			case lineCh <- line:
			case <-ctx.Done():
				return
			}
		}
		err := scanner.Err()
		if err == nil {
			err = io.EOF
		}
		errCh <- err
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case err := <-errCh:
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				slog.Debug("connection read error", "conn_id", h.connID, "error", err)
			}
			return

		case line := <-lineCh:
			if len(line) == 0 {
				continue
			}
			h.processLine(line)
			if h.quitting {
				return
			}
		}
	}
}

func (h *ConnectionHandler) processLine(line []byte) {
	env, err := protocol.Decode(line)
	if err != nil {
		slog.Debug("dropping malformed envelope", "conn_id", h.connID, "error", err)
		return
	}

	switch env.Type {
	case protocol.TypeRegister:
		var req protocol.Register
		if !h.decode(env, &req) {
			return
		}
		reg, login := h.auth.HandleRegister(h.connID, req)
		h.send(protocol.TypeRegisterResult, reg)
		if login != nil {
			h.send(protocol.TypeLoginResult, *login)
		}

	case protocol.TypeLogin:
		var req protocol.Login
		if !h.decode(env, &req) {
			return
		}
		h.send(protocol.TypeLoginResult, h.auth.HandleLogin(h.connID, req))

	case protocol.TypeTokenLogin:
		var req protocol.TokenLogin
		if !h.decode(env, &req) {
			return
		}
		h.send(protocol.TypeLoginResult, h.auth.HandleTokenLogin(h.connID, req))

	case protocol.TypeAutoLogin:
		var req protocol.AutoLogin
		if !h.decode(env, &req) {
			return
		}
		h.send(protocol.TypeLoginResult, h.auth.HandleAutoLogin(h.connID, req))

	case protocol.TypeLogout:
		// The device unlink is best effort: log out even when the
		// payload is absent or unreadable.
		var req protocol.Logout
		if len(env.Payload) > 0 {
			_ = h.decode(env, &req)
		}
		h.auth.HandleLogout(h.connID, req)
		h.quitting = true

	case protocol.TypeGetPlayerData:
		var req protocol.GetPlayerData
		if !h.decode(env, &req) {
			return
		}
		h.send(protocol.TypePlayerDataResult, h.auth.HandleGetPlayerData(h.connID, req))

	case protocol.TypeRedeemPromo:
		var req protocol.RedeemPromo
		if !h.decode(env, &req) {
			return
		}
		h.send(protocol.TypeRedeemResult, h.auth.HandleRedeemPromo(h.connID, req))

	default:
		slog.Warn("unknown message type", "conn_id", h.connID, "type", env.Type)
	}
}

func (h *ConnectionHandler) decode(env protocol.Envelope, v any) bool {
	if err := protocol.DecodePayload(env, v); err != nil {
		slog.Debug("dropping undecodable payload", "conn_id", h.connID, "type", env.Type, "error", err)
		return false
	}
	return true
}

func (h *ConnectionHandler) send(msgType string, payload any) {
	line, err := protocol.Encode(msgType, payload)
	if err != nil {
		slog.Error("failed to encode response", "conn_id", h.connID, "type", msgType, "error", err)
		return
	}
	if _, err := h.conn.Write(append(line, '\n')); err != nil {
		slog.Debug("failed to send response", "conn_id", h.connID, "type", msgType, "error", err)
	}
}
