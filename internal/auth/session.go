// Package auth holds the terminal's bearer token. Authentication itself is
// done elsewhere; the terminal only needs to know whether it has a token.
package auth

import (
	"fmt"
	"strings"
	"sync"

	"github.com/wtfpos/posd/internal/bus"
	"github.com/wtfpos/posd/internal/store"
	"go.uber.org/zap"
)

const tokenKey = "auth.token"

// Session is the current authentication state.
type Session struct {
	db     *store.DB
	bus    *bus.Bus
	logger *zap.Logger

	mu    sync.RWMutex
	token string
}

// NewSession creates a session backed by the kv table.
func NewSession(db *store.DB, b *bus.Bus, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{db: db, bus: b, logger: logger}
}

// Load restores the persisted token. When none is stored, fallback (usually
// the configured token) is used without being persisted.
func (s *Session) Load(fallback string) error {
	tok, ok, err := s.db.GetValue(tokenKey)
	if err != nil {
		return fmt.Errorf("load token: %w", err)
	}
	if !ok {
		tok = strings.TrimSpace(fallback)
	}
	s.mu.Lock()
	s.token = tok
	s.mu.Unlock()
	s.logger.Info("auth session loaded", zap.Bool("authenticated", tok != ""), zap.Bool("persisted", ok))
	return nil
}

// Token returns the current bearer token, or "".
func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// IsAuthenticated reports whether a token is present.
func (s *Session) IsAuthenticated() bool {
	return s.Token() != ""
}

// Login stores token and publishes auth.changed.
func (s *Session) Login(token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return fmt.Errorf("empty token")
	}
	if err := s.db.SetValue(tokenKey, token); err != nil {
		return fmt.Errorf("save token: %w", err)
	}
	s.set(token)
	return nil
}

// Logout forgets the token and publishes auth.changed.
func (s *Session) Logout() error {
	if err := s.db.DeleteValue(tokenKey); err != nil {
		return fmt.Errorf("delete token: %w", err)
	}
	s.set("")
	return nil
}

func (s *Session) set(token string) {
	s.mu.Lock()
	was := s.token != ""
	s.token = token
	s.mu.Unlock()

	now := token != ""
	if was != now {
		s.logger.Info("auth changed", zap.Bool("authenticated", now))
	}
	s.bus.Emit(bus.AuthChanged, now)
}
