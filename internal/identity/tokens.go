package identity

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/MrSnakeDoc/marks/internal/domain"
)

// sessionClaims is the payload of a session token. Subject is the user ID.
type sessionClaims struct {
	jwt.RegisteredClaims

	Email    string `json:"email,omitempty"`
	Name     string `json:"name,omitempty"`
	Provider string `json:"provider"`
}

// Tokens signs and verifies HS256 session tokens.
type Tokens struct {
	key    []byte
	issuer string
	now    func() time.Time
}

// NewTokens creates a token codec. key must be kept secret.
func NewTokens(key []byte, issuer string) *Tokens {
	return &Tokens{key: key, issuer: issuer, now: time.Now}
}

// Issue signs a session for profile that expires after ttl.
func (t *Tokens) Issue(p domain.Profile, provider string, ttl time.Duration) (*domain.Session, error) {
	if p.Subject == "" {
		return nil, domain.NewError(domain.CodeAuth, "profile subject cannot be empty", nil)
	}

	now := t.now()
	expires := now.Add(ttl)
	claims := sessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.issuer,
			Subject:   p.Subject,
			Audience:  jwt.ClaimStrings{t.issuer},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
		Email:    p.Email,
		Name:     p.Name,
		Provider: provider,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.key)
	if err != nil {
		return nil, domain.WrapError(domain.CodeAuth, "failed to sign session token", err)
	}

	return &domain.Session{
		UserID:    p.Subject,
		Name:      p.Name,
		Email:     p.Email,
		Provider:  provider,
		ExpiresAt: expires.Truncate(time.Second),
		Token:     signed,
	}, nil
}

// Parse verifies a token and returns the session it carries.
func (t *Tokens) Parse(token string) (*domain.Session, error) {
	if token == "" {
		return nil, domain.NewError(domain.CodeAuth, "token cannot be empty", nil)
	}

	var claims sessionClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (interface{}, error) {
		return t.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(t.issuer),
		jwt.WithAudience(t.issuer),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil {
		msg := "invalid session token"
		if errors.Is(err, jwt.ErrTokenExpired) {
			msg = "session token expired"
		}
		return nil, domain.WrapError(domain.CodeAuth, msg, err)
	}

	s := &domain.Session{
		UserID:   claims.Subject,
		Name:     claims.Name,
		Email:    claims.Email,
		Provider: claims.Provider,
		Token:    token,
	}
	if claims.ExpiresAt != nil {
		s.ExpiresAt = claims.ExpiresAt.Time
	}
	return s, nil
}
