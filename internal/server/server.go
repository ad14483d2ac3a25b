// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Soulshift Contributors

// Package server provides the TCP protocol adapter.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/I1SSAACC/Soulshift/internal/observability"
	"github.com/I1SSAACC/Soulshift/internal/session"
)

// Server is the TCP game server.
type Server struct {
	addr     string
	listener net.Listener
	auth     *session.Authenticator
	metrics  *observability.Metrics
	mu       sync.RWMutex
}

// NewServer creates a new game server.
func NewServer(addr string, auth *session.Authenticator, metrics *observability.Metrics) *Server {
	return &Server{
		addr:    addr,
		auth:    auth,
		metrics: metrics,
	}
}

// Addr returns the server's listen address.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Run starts the server and blocks until context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	slog.Info("game server started", "addr", listener.Addr())

	go func() {
		<-ctx.Done()
		if err := listener.Close(); err != nil {
			slog.Debug("error closing listener", "error", err)
		}
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				slog.Error("accept failed", "error", err)
				continue
			}
		}
		if s.metrics != nil {
			s.metrics.ConnectionsTotal.WithLabelValues("accepted").Inc()
		}
		handler := NewConnectionHandler(conn, s.auth, s.metrics)
		go handler.Handle(ctx)
	}
}
