// Package auth provides JWT authentication for the single operator account
// the ops API serves. Credentials come from configuration (username plus a
// bcrypt hash); refresh sessions are held in memory and rotate on use.
package auth

import (
	"crypto/subtle"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Recursive-Llama/Lotus-Trader-sub015/config"
)

// refreshSession is one outstanding refresh token, keyed by its SHA-256 hash.
type refreshSession struct {
	subject   string
	expiresAt time.Time
}

// Service authenticates the configured operator and manages token lifecycles
type Service struct {
	cfg        config.AuthConfig
	jwtManager *JWTManager
	logger     zerolog.Logger

	mu       sync.Mutex
	sessions map[string]refreshSession
}

// NewService creates the auth service. When auth is enabled the JWT secret
// and the operator password hash must both be configured.
func NewService(cfg config.AuthConfig, logger zerolog.Logger) (*Service, error) {
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("auth enabled but AUTH_JWT_SECRET is not set")
	}
	if cfg.AdminPasswordHash == "" {
		return nil, fmt.Errorf("auth enabled but AUTH_ADMIN_PASSWORD_HASH is not set")
	}

	accessDuration := cfg.AccessTokenDuration
	if accessDuration <= 0 {
		accessDuration = 15 * time.Minute
	}
	refreshDuration := cfg.RefreshTokenDuration
	if refreshDuration <= 0 {
		refreshDuration = 7 * 24 * time.Hour
	}

	return &Service{
		cfg:        cfg,
		jwtManager: NewJWTManager(cfg.JWTSecret, accessDuration, refreshDuration),
		logger:     logger.With().Str("component", "AuthService").Logger(),
		sessions:   make(map[string]refreshSession),
	}, nil
}

// Login verifies the operator credentials and issues a token pair
func (s *Service) Login(req LoginRequest) (*LoginResponse, error) {
	userOK := subtle.ConstantTimeCompare([]byte(req.Username), []byte(s.cfg.AdminUser)) == 1
	passOK := VerifyPassword(req.Password, s.cfg.AdminPasswordHash)
	if !userOK || !passOK {
		s.logger.Warn().Str("username", req.Username).Msg("Login rejected")
		return nil, ErrInvalidCredentials
	}

	pair, err := s.issuePair(req.Username)
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("subject", req.Username).Msg("Operator logged in")

	return &LoginResponse{
		Subject:      req.Username,
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ExpiresIn:    pair.ExpiresIn,
	}, nil
}

// Refresh rotates a refresh token: the presented token is consumed and a new
// pair is issued. A token that was already used or revoked is rejected.
func (s *Service) Refresh(req RefreshRequest) (*TokenPair, error) {
	key := HashRefreshToken(req.RefreshToken)

	s.mu.Lock()
	session, ok := s.sessions[key]
	if ok {
		delete(s.sessions, key)
	}
	s.mu.Unlock()

	if !ok {
		return nil, ErrSessionRevoked
	}
	if time.Now().After(session.expiresAt) {
		return nil, ErrTokenExpired
	}

	return s.issuePair(session.subject)
}

// Revoke invalidates a refresh token. Returns whether it existed.
func (s *Service) Revoke(refreshToken string) bool {
	key := HashRefreshToken(refreshToken)

	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.sessions[key]
	delete(s.sessions, key)
	return ok
}

// ActiveSessions returns the number of live refresh sessions
func (s *Service) ActiveSessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	n := 0
	for _, session := range s.sessions {
		if now.Before(session.expiresAt) {
			n++
		}
	}
	return n
}

// GetJWTManager returns the JWT manager for middleware wiring
func (s *Service) GetJWTManager() *JWTManager {
	return s.jwtManager
}

// issuePair generates a token pair and records the refresh session.
func (s *Service) issuePair(subject string) (*TokenPair, error) {
	pair, err := s.jwtManager.GenerateTokenPair(OperatorClaims{
		Subject: subject,
		Role:    RoleOperator,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to issue tokens: %w", err)
	}

	s.mu.Lock()
	s.pruneExpiredLocked()
	s.sessions[HashRefreshToken(pair.RefreshToken)] = refreshSession{
		subject:   subject,
		expiresAt: time.Now().Add(s.jwtManager.GetRefreshTokenDuration()),
	}
	s.mu.Unlock()

	return pair, nil
}

// pruneExpiredLocked drops expired sessions. Caller holds s.mu.
func (s *Service) pruneExpiredLocked() {
	now := time.Now()
	for key, session := range s.sessions {
		if now.After(session.expiresAt) {
			delete(s.sessions, key)
		}
	}
}
