// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Soulshift Contributors

// Package client implements the game-client side of the wire contract:
// dial with a bounded wait, then typed request/response calls.
package client

import (
	"bufio"
	"context"
	"io"
	"net"
	"time"

	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"

	"github.com/I1SSAACC/Soulshift/internal/protocol"
)

const (
	// DefaultConnectWait bounds how long Dial keeps retrying before
	// giving up on an unreachable server.
	DefaultConnectWait = 10 * time.Second

	connectInterval = 200 * time.Millisecond
)

// Client is a synchronous game client. One request is in flight at a time;
// it is not safe for concurrent use.
type Client struct {
	conn    net.Conn
	scanner *bufio.Scanner
}

// Dial connects to the server, retrying at a fixed interval until the wait
// budget or the context runs out.
func Dial(ctx context.Context, addr string) (*Client, error) {
	return DialWait(ctx, addr, DefaultConnectWait)
}

// DialWait is Dial with an explicit wait budget.
func DialWait(ctx context.Context, addr string, wait time.Duration) (*Client, error) {
	var conn net.Conn
	backoff := retry.WithMaxDuration(wait, retry.NewConstant(connectInterval))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		d := net.Dialer{}
		c, dialErr := d.DialContext(ctx, "tcp", addr)
		if dialErr != nil {
			return retry.RetryableError(dialErr)
		}
		conn = c
		return nil
	})
	if err != nil {
		return nil, oops.Code("CLIENT_DIAL").With("addr", addr).Wrap(err)
	}

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 4096), 64*1024)
	return &Client{conn: conn, scanner: scanner}, nil
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Register creates an account. On success the server chains straight into a
// login, so two responses come back.
func (c *Client) Register(req protocol.Register) (protocol.RegisterResult, *protocol.LoginResult, error) {
	if err := c.write(protocol.TypeRegister, req); err != nil {
		return protocol.RegisterResult{}, nil, err
	}

	var reg protocol.RegisterResult
	if err := c.read(protocol.TypeRegisterResult, &reg); err != nil {
		return protocol.RegisterResult{}, nil, err
	}
	if !reg.Success {
		return reg, nil, nil
	}

	var login protocol.LoginResult
	if err := c.read(protocol.TypeLoginResult, &login); err != nil {
		return reg, nil, err
	}
	return reg, &login, nil
}

// Login authenticates with nickname and client-side password digest.
func (c *Client) Login(req protocol.Login) (protocol.LoginResult, error) {
	var res protocol.LoginResult
	err := c.call(protocol.TypeLogin, req, protocol.TypeLoginResult, &res)
	return res, err
}

// TokenLogin authenticates with a bearer token.
func (c *Client) TokenLogin(req protocol.TokenLogin) (protocol.LoginResult, error) {
	var res protocol.LoginResult
	err := c.call(protocol.TypeTokenLogin, req, protocol.TypeLoginResult, &res)
	return res, err
}

// AutoLogin authenticates by device id.
func (c *Client) AutoLogin(req protocol.AutoLogin) (protocol.LoginResult, error) {
	var res protocol.LoginResult
	err := c.call(protocol.TypeAutoLogin, req, protocol.TypeLoginResult, &res)
	return res, err
}

// Logout tells the server to end the session and closes the connection.
// The server answers a logout by closing; there is no response to read.
func (c *Client) Logout(deviceID string) error {
	if err := c.write(protocol.TypeLogout, protocol.Logout{DeviceID: deviceID}); err != nil {
		return err
	}
	return c.conn.Close()
}

// GetPlayerData fetches a serialized profile.
func (c *Client) GetPlayerData(req protocol.GetPlayerData) (protocol.PlayerDataResult, error) {
	var res protocol.PlayerDataResult
	err := c.call(protocol.TypeGetPlayerData, req, protocol.TypePlayerDataResult, &res)
	return res, err
}

// RedeemPromo redeems a promo code.
func (c *Client) RedeemPromo(req protocol.RedeemPromo) (protocol.RedeemResult, error) {
	var res protocol.RedeemResult
	err := c.call(protocol.TypeRedeemPromo, req, protocol.TypeRedeemResult, &res)
	return res, err
}

func (c *Client) call(reqType string, req any, wantType string, res any) error {
	if err := c.write(reqType, req); err != nil {
		return err
	}
	return c.read(wantType, res)
}

func (c *Client) write(msgType string, payload any) error {
	line, err := protocol.Encode(msgType, payload)
	if err != nil {
		return err
	}
	if _, err := c.conn.Write(append(line, '\n')); err != nil {
		return oops.Code("CLIENT_WRITE").With("type", msgType).Wrap(err)
	}
	return nil
}

func (c *Client) read(wantType string, v any) error {
	if !c.scanner.Scan() {
		err := c.scanner.Err()
		if err == nil {
			err = io.EOF
		}
		return oops.Code("CLIENT_READ").With("want", wantType).Wrap(err)
	}

	env, err := protocol.Decode(c.scanner.Bytes())
	if err != nil {
		return err
	}
	if env.Type != wantType {
		return oops.Code("CLIENT_READ").
			With("want", wantType).
			With("got", env.Type).
			Errorf("unexpected response type")
	}
	return protocol.DecodePayload(env, v)
}
