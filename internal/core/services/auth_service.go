package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"coachroom/internal/core/domain"
	"coachroom/internal/core/ports"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrUnauthorized = errors.New("unauthorized")
)

type TokenType string

const (
	AccessToken  TokenType = "access"
	RefreshToken TokenType = "refresh"
)

type AuthConfig struct {
	JWTSecret       string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration

	// The single demo account. DemoPasswordHash wins over DemoPassword when
	// both are set.
	DemoUserID       domain.UserID
	DemoEmail        string
	DemoName         string
	DemoPassword     string
	DemoPasswordHash string
	BcryptCost       int
}

type Claims struct {
	UserID    domain.UserID `json:"user_id"`
	Email     string        `json:"email"`
	Name      string        `json:"name"`
	SessionID string        `json:"sid"`
	Type      TokenType     `json:"typ"`
	jwt.RegisteredClaims
}

func (c *Claims) Identity() domain.Identity {
	return domain.Identity{ID: c.UserID, Email: c.Email, Name: c.Name}
}

type TokenPair struct {
	AccessToken  string          `json:"access_token"`
	RefreshToken string          `json:"refresh_token"`
	ExpiresAt    time.Time       `json:"expires_at"`
	SessionID    string          `json:"session_id"`
	Identity     domain.Identity `json:"user"`
}

// AuthService signs the demo user in and out. Identity sessions live in an
// IdentityStore so tokens can be revoked by signing out.
type AuthService struct {
	cfg          AuthConfig
	secret       []byte
	passwordHash []byte
	store        ports.IdentityStore
	clock        clockwork.Clock
	logger       *zap.SugaredLogger
}

func NewAuthService(cfg AuthConfig, store ports.IdentityStore, clock clockwork.Clock, logger *zap.SugaredLogger) (*AuthService, error) {
	if cfg.JWTSecret == "" {
		return nil, errors.New("jwt secret is required")
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
	}

	hash := []byte(cfg.DemoPasswordHash)
	if len(hash) == 0 {
		var err error
		hash, err = bcrypt.GenerateFromPassword([]byte(cfg.DemoPassword), cfg.BcryptCost)
		if err != nil {
			return nil, fmt.Errorf("hash demo password: %w", err)
		}
	}

	return &AuthService{
		cfg:          cfg,
		secret:       []byte(cfg.JWTSecret),
		passwordHash: hash,
		store:        store,
		clock:        clock,
		logger:       logger,
	}, nil
}

// SignIn checks the demo credential and opens a new identity session.
func (s *AuthService) SignIn(ctx context.Context, email, password string) (*TokenPair, error) {
	emailMatches := strings.EqualFold(strings.TrimSpace(email), s.cfg.DemoEmail)
	// always compare so a wrong email costs the same as a wrong password
	pwErr := bcrypt.CompareHashAndPassword(s.passwordHash, []byte(password))
	if !emailMatches || pwErr != nil {
		s.logger.Infow("sign in rejected", "email", email)
		return nil, domain.ErrInvalidCredentials
	}

	now := s.clock.Now()
	session := &domain.IdentitySession{
		ID: uuid.New().String(),
		Identity: domain.Identity{
			ID:    s.cfg.DemoUserID,
			Email: s.cfg.DemoEmail,
			Name:  s.cfg.DemoName,
		},
		CreatedAt: now,
		ExpiresAt: now.Add(s.cfg.RefreshTokenTTL),
	}
	if err := s.store.Save(ctx, session); err != nil {
		return nil, fmt.Errorf("save identity session: %w", err)
	}

	s.logger.Infow("user signed in", "user_id", session.Identity.ID, "session_id", session.ID)
	return s.issue(session)
}

// SignOut forgets the identity session; its tokens stop validating against
// CurrentIdentity and Refresh.
func (s *AuthService) SignOut(ctx context.Context, sessionID string) error {
	if err := s.store.Clear(ctx, sessionID); err != nil && !errors.Is(err, domain.ErrIdentityNotFound) {
		return fmt.Errorf("clear identity session: %w", err)
	}
	s.logger.Infow("user signed out", "session_id", sessionID)
	return nil
}

// SignOutEverywhere ends every identity session of the user.
func (s *AuthService) SignOutEverywhere(ctx context.Context, userID domain.UserID) (int, error) {
	n, err := s.store.ClearUser(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("clear identity sessions: %w", err)
	}
	s.logger.Infow("user signed out everywhere", "user_id", userID, "sessions", n)
	return n, nil
}

// Refresh exchanges a refresh token of a live identity session for a new pair.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	claims, err := s.parse(refreshToken, RefreshToken)
	if err != nil {
		return nil, err
	}
	session, err := s.liveSession(ctx, claims.SessionID)
	if err != nil {
		return nil, err
	}
	return s.issue(session)
}

// ValidateToken parses an access token.
func (s *AuthService) ValidateToken(tokenString string) (*Claims, error) {
	return s.parse(tokenString, AccessToken)
}

// CurrentIdentity returns the identity of a live session.
func (s *AuthService) CurrentIdentity(ctx context.Context, sessionID string) (*domain.Identity, error) {
	session, err := s.liveSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	identity := session.Identity
	return &identity, nil
}

func (s *AuthService) liveSession(ctx context.Context, sessionID string) (*domain.IdentitySession, error) {
	session, err := s.store.Load(ctx, sessionID)
	if err != nil {
		if errors.Is(err, domain.ErrIdentityNotFound) {
			return nil, ErrUnauthorized
		}
		return nil, fmt.Errorf("load identity session: %w", err)
	}
	if session.Expired(s.clock.Now()) {
		_ = s.store.Clear(ctx, sessionID)
		return nil, ErrUnauthorized
	}
	return session, nil
}

func (s *AuthService) issue(session *domain.IdentitySession) (*TokenPair, error) {
	now := s.clock.Now()
	accessExpiry := now.Add(s.cfg.AccessTokenTTL)

	access, err := s.sign(session, AccessToken, now, accessExpiry)
	if err != nil {
		return nil, err
	}
	refresh, err := s.sign(session, RefreshToken, now, now.Add(s.cfg.RefreshTokenTTL))
	if err != nil {
		return nil, err
	}

	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    accessExpiry,
		SessionID:    session.ID,
		Identity:     session.Identity,
	}, nil
}

func (s *AuthService) sign(session *domain.IdentitySession, typ TokenType, now, expiresAt time.Time) (string, error) {
	claims := &Claims{
		UserID:    session.Identity.ID,
		Email:     session.Identity.Email,
		Name:      session.Identity.Name,
		SessionID: session.ID,
		Type:      typ,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Subject:   string(session.Identity.ID),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign %s token: %w", typ, err)
	}
	return signed, nil
}

func (s *AuthService) parse(tokenString string, want TokenType) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.clock.Now))

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Type != want {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
