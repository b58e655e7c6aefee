// Package identity provides the signed-in user and the bearer credential
// attached to every API request.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	// ErrNoUser is returned when a token is requested with nobody signed in.
	ErrNoUser = errors.New("no user is signed in")
	// ErrInvalidEmail is returned by SignIn for an empty or malformed address.
	ErrInvalidEmail = errors.New("invalid email address")
)

// User is the signed-in account.
type User struct {
	UID   string
	Email string
}

// Provider is the identity provider consumed by the gateway and the client.
type Provider interface {
	// CurrentUser returns the signed-in user, or nil.
	CurrentUser() *User

	// IDToken returns a bearer token for the current user.
	IDToken(ctx context.Context, forceRefresh bool) (string, error)

	// SignIn starts a session for email.
	SignIn(ctx context.Context, email string) (*User, error)

	// SignOut ends the current session.
	SignOut(ctx context.Context) error

	// OnAuthStateChanged registers fn to run after every sign-in and sign-out.
	OnAuthStateChanged(fn func(*User))
}

// Claims carried by tokens minted by LocalProvider.
type Claims struct {
	jwt.RegisteredClaims
	Email string `json:"email"`
}

// LocalConfig configures a LocalProvider.
type LocalConfig struct {
	Secret []byte
	Issuer string
	TTL    time.Duration
	Now    func() time.Time
}

// LocalProvider issues HS256 tokens signed with a shared secret. A forced
// refresh always mints a new token.
type LocalProvider struct {
	cfg LocalConfig

	mu        sync.RWMutex
	user      *User
	cached    string
	expiresAt time.Time
	listeners []func(*User)
}

// NewLocalProvider creates a LocalProvider.
func NewLocalProvider(cfg LocalConfig) (*LocalProvider, error) {
	if len(cfg.Secret) == 0 {
		return nil, fmt.Errorf("token secret cannot be empty")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = time.Hour
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &LocalProvider{cfg: cfg}, nil
}

// CurrentUser returns the signed-in user, or nil.
func (p *LocalProvider) CurrentUser() *User {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.user == nil {
		return nil
	}
	u := *p.user
	return &u
}

// SignIn starts a session for email and notifies listeners.
func (p *LocalProvider) SignIn(ctx context.Context, email string) (*User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || !strings.Contains(email, "@") || strings.HasPrefix(email, "@") || strings.HasSuffix(email, "@") {
		return nil, ErrInvalidEmail
	}

	p.mu.Lock()
	p.user = &User{UID: "local:" + email, Email: email}
	p.cached = ""
	u := *p.user
	listeners := append([]func(*User){}, p.listeners...)
	p.mu.Unlock()

	for _, fn := range listeners {
		fn(&u)
	}
	return &u, nil
}

// SignOut ends the session and notifies listeners. Signing out twice is not an error.
func (p *LocalProvider) SignOut(ctx context.Context) error {
	p.mu.Lock()
	p.user = nil
	p.cached = ""
	listeners := append([]func(*User){}, p.listeners...)
	p.mu.Unlock()

	for _, fn := range listeners {
		fn(nil)
	}
	return nil
}

// OnAuthStateChanged registers fn to run after every sign-in and sign-out.
func (p *LocalProvider) OnAuthStateChanged(fn func(*User)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listeners = append(p.listeners, fn)
}

// IDToken returns a signed token for the current user. Without forceRefresh a
// still-valid token from a previous call may be returned.
func (p *LocalProvider) IDToken(ctx context.Context, forceRefresh bool) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.user == nil {
		return "", ErrNoUser
	}

	now := p.cfg.Now()
	if !forceRefresh && p.cached != "" && now.Before(p.expiresAt) {
		return p.cached, nil
	}

	expiresAt := now.Add(p.cfg.TTL)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    p.cfg.Issuer,
			Subject:   p.user.UID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Email: p.user.Email,
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.cfg.Secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}

	p.cached = token
	p.expiresAt = expiresAt
	return token, nil
}

// Verify parses a token minted by this provider and validates its claims.
func (p *LocalProvider) Verify(raw string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(p.cfg.Now),
		jwt.WithExpirationRequired(),
	}
	if p.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(p.cfg.Issuer))
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return p.cfg.Secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("verify token: %w", err)
	}
	return claims, nil
}
