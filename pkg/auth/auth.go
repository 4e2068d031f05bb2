// Package auth resolves requests to households.
//
// Each household has one passphrase, hashed with bcrypt and stored as a
// storage.Credential. Logging in with the household ID and passphrase
// yields an HS256 JWT whose subject is the household ID; every later
// request presents that token and is scoped to that household.
//
// Architecture:
//   - JWT tokens (HS256 algorithm) for stateless authentication
//   - Bearer header, cookie or query parameter as credential sources
//   - Account lockout after repeated failed logins
//   - Passphrase hashing with bcrypt
//
// Example Usage:
//
//	config := auth.DefaultConfig()
//	config.JWTSecret = []byte("your-secret-key-min-32-chars")
//
//	authenticator, err := auth.NewAuthenticator(config, engine)
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	err = authenticator.Register(ctx, householdID, "correct horse battery", now)
//	resp, err := authenticator.Authenticate(ctx, householdID, "correct horse battery", now)
//	id, err := authenticator.ValidateToken(resp.AccessToken, now)
//
// All times are passed in so the virtual clock governs lockout and token
// expiry like everything else.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/captian-latiao/NestStupidHome-sub000/pkg/storage"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountLocked      = errors.New("account locked due to failed login attempts")
	ErrPasswordTooShort   = errors.New("passphrase does not meet minimum length requirement")
	ErrAlreadyRegistered  = errors.New("household already has a passphrase")
	ErrInvalidToken       = errors.New("invalid or expired token")
	ErrNoCredentials      = errors.New("no credentials provided")
	ErrMissingSecret      = errors.New("JWT secret not configured")
)

// Issuer is the iss claim of every token.
const Issuer = "nesthome"

// Claims are the JWT claims of a household token.
type Claims struct {
	jwt.RegisteredClaims
}

// TokenResponse follows OAuth 2.0 RFC 6749 token response format.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`           // Always "Bearer"
	ExpiresIn   int64  `json:"expires_in,omitempty"` // Seconds until expiration (omitted if never expires)
}

// Config holds authentication configuration.
type Config struct {
	// Passphrase policy
	MinPasswordLength int
	BcryptCost        int

	// Token settings
	JWTSecret   []byte
	TokenExpiry time.Duration // 0 = never expire

	// Lockout settings
	MaxFailedLogins int
	LockoutDuration time.Duration

	// SecurityEnabled=false accepts any token as the DefaultHousehold.
	// Intended for single-household local installs.
	SecurityEnabled  bool
	DefaultHousehold string
}

// DefaultConfig returns default authentication configuration.
func DefaultConfig() Config {
	return Config{
		MinPasswordLength: 8,
		BcryptCost:        bcrypt.DefaultCost,
		TokenExpiry:       30 * 24 * time.Hour,
		MaxFailedLogins:   5,
		LockoutDuration:   15 * time.Minute,
		SecurityEnabled:   true,
	}
}

// Authenticator verifies passphrases and issues household tokens.
//
// Thread Safety:
//
//	All methods are safe for concurrent use. Credential updates are
//	last-write-wins like the rest of the store.
type Authenticator struct {
	config Config
	store  storage.Engine
	log    *slog.Logger
}

// NewAuthenticator creates an Authenticator backed by store.
func NewAuthenticator(config Config, store storage.Engine) (*Authenticator, error) {
	if config.SecurityEnabled && len(config.JWTSecret) == 0 {
		return nil, ErrMissingSecret
	}

	if config.BcryptCost == 0 {
		config.BcryptCost = bcrypt.DefaultCost
	}
	if config.MinPasswordLength == 0 {
		config.MinPasswordLength = 8
	}
	if config.MaxFailedLogins == 0 {
		config.MaxFailedLogins = 5
	}
	if config.LockoutDuration == 0 {
		config.LockoutDuration = 15 * time.Minute
	}

	return &Authenticator{
		config: config,
		store:  store,
		log:    slog.Default().With("component", "auth"),
	}, nil
}

// SetLogger replaces the logger.
func (a *Authenticator) SetLogger(l *slog.Logger) {
	a.log = l.With("component", "auth")
}

// IsSecurityEnabled reports whether tokens are checked.
func (a *Authenticator) IsSecurityEnabled() bool {
	return a.config.SecurityEnabled
}

// Register sets the passphrase of a household that has none yet.
func (a *Authenticator) Register(ctx context.Context, householdID, passphrase string, now time.Time) error {
	if len(passphrase) < a.config.MinPasswordLength {
		return ErrPasswordTooShort
	}
	if _, err := a.store.GetCredential(ctx, householdID); err == nil {
		return ErrAlreadyRegistered
	} else if !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("loading credential: %w", err)
	}
	return a.setPassphrase(ctx, householdID, passphrase, now)
}

// ChangePassphrase replaces the passphrase after verifying the old one.
func (a *Authenticator) ChangePassphrase(ctx context.Context, householdID, oldPass, newPass string, now time.Time) error {
	if len(newPass) < a.config.MinPasswordLength {
		return ErrPasswordTooShort
	}
	cred, err := a.store.GetCredential(ctx, householdID)
	if err != nil {
		return ErrInvalidCredentials
	}
	if bcrypt.CompareHashAndPassword(cred.PassHash, []byte(oldPass)) != nil {
		return ErrInvalidCredentials
	}
	return a.setPassphrase(ctx, householdID, newPass, now)
}

func (a *Authenticator) setPassphrase(ctx context.Context, householdID, passphrase string, now time.Time) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(passphrase), a.config.BcryptCost)
	if err != nil {
		return fmt.Errorf("hashing passphrase: %w", err)
	}
	cred := storage.Credential{
		HouseholdID: householdID,
		PassHash:    hash,
		CreatedAt:   now,
	}
	if err := a.store.PutCredential(ctx, cred); err != nil {
		return fmt.Errorf("storing credential: %w", err)
	}
	a.log.Info("passphrase set", "household", householdID)
	return nil
}

// Authenticate verifies a household passphrase and returns a token.
//
// Unknown households and wrong passphrases both return
// ErrInvalidCredentials. After MaxFailedLogins consecutive failures the
// household is locked for LockoutDuration.
func (a *Authenticator) Authenticate(ctx context.Context, householdID, passphrase string, now time.Time) (*TokenResponse, error) {
	cred, err := a.store.GetCredential(ctx, householdID)
	if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrInvalidID) {
		a.log.Warn("login failed", "household", householdID, "reason", "unknown household")
		return nil, ErrInvalidCredentials // Don't reveal if household exists
	}
	if err != nil {
		return nil, fmt.Errorf("loading credential: %w", err)
	}

	if !cred.LockedUntil.IsZero() && now.Before(cred.LockedUntil) {
		a.log.Warn("login failed", "household", householdID, "reason", "locked")
		return nil, ErrAccountLocked
	}

	if err := bcrypt.CompareHashAndPassword(cred.PassHash, []byte(passphrase)); err != nil {
		cred.FailedAttempts++
		if cred.FailedAttempts >= a.config.MaxFailedLogins {
			cred.LockedUntil = now.Add(a.config.LockoutDuration)
			cred.FailedAttempts = 0
		}
		if err := a.store.PutCredential(ctx, cred); err != nil {
			return nil, fmt.Errorf("storing credential: %w", err)
		}
		a.log.Warn("login failed", "household", householdID, "reason", "wrong passphrase")
		return nil, ErrInvalidCredentials
	}

	cred.FailedAttempts = 0
	cred.LockedUntil = time.Time{}
	cred.LastLogin = now
	if err := a.store.PutCredential(ctx, cred); err != nil {
		return nil, fmt.Errorf("storing credential: %w", err)
	}

	token, err := a.IssueToken(householdID, now)
	if err != nil {
		return nil, err
	}
	resp := &TokenResponse{AccessToken: token, TokenType: "Bearer"}
	if a.config.TokenExpiry > 0 {
		resp.ExpiresIn = int64(a.config.TokenExpiry.Seconds())
	}
	a.log.Info("login", "household", householdID)
	return resp, nil
}

// IssueToken signs a token for householdID without checking a passphrase.
// The CLI uses it for households created locally.
func (a *Authenticator) IssueToken(householdID string, now time.Time) (string, error) {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   Issuer,
			Subject:  householdID,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if a.config.TokenExpiry > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(a.config.TokenExpiry))
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.config.JWTSecret)
	if err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return token, nil
}

// ValidateToken verifies a token at now and returns its household ID.
// A "Bearer " prefix is stripped.
func (a *Authenticator) ValidateToken(token string, now time.Time) (string, error) {
	if !a.config.SecurityEnabled {
		return a.config.DefaultHousehold, nil
	}

	token = strings.TrimSpace(strings.TrimPrefix(token, "Bearer "))
	if token == "" {
		return "", ErrNoCredentials
	}

	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return a.config.JWTSecret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(Issuer),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}

// SecureCompare performs a constant-time string comparison.
func SecureCompare(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// ExtractToken extracts the token from various sources.
// Priority: Authorization header > Cookie > Query param
func ExtractToken(authHeader, cookie, queryToken string) string {
	if authHeader != "" {
		return strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	}
	if cookie != "" {
		return cookie
	}
	return queryToken
}
