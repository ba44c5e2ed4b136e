package identity

import (
	"context"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/MrSnakeDoc/marks/internal/domain"
)

// GoogleIssuer is the OpenID Connect issuer of Google accounts.
const GoogleIssuer = "https://accounts.google.com"

// OIDCConnector signs users in with an OpenID Connect provider using the
// authorization code flow with PKCE.
type OIDCConnector struct {
	name     string
	oauth2   *oauth2.Config
	verifier *oidc.IDTokenVerifier
}

// NewGoogleConnector discovers Google's OIDC configuration.
func NewGoogleConnector(ctx context.Context, clientID, clientSecret, redirectURL string) (*OIDCConnector, error) {
	return NewOIDCConnector(ctx, "google", GoogleIssuer, clientID, clientSecret, redirectURL)
}

// NewOIDCConnector discovers the issuer's .well-known configuration.
func NewOIDCConnector(ctx context.Context, name, issuer, clientID, clientSecret, redirectURL string) (*OIDCConnector, error) {
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, domain.WrapError(domain.CodeAuth, "failed to discover OIDC provider "+issuer, err)
	}

	return &OIDCConnector{
		name: name,
		oauth2: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Endpoint:     provider.Endpoint(),
			Scopes:       []string{oidc.ScopeOpenID, "profile", "email"},
		},
		verifier: provider.Verifier(&oidc.Config{ClientID: clientID}),
	}, nil
}

func (c *OIDCConnector) Name() string { return c.name }

func (c *OIDCConnector) AuthCodeURL(state, verifier string) string {
	return c.oauth2.AuthCodeURL(state, oauth2.S256ChallengeOption(verifier))
}

func (c *OIDCConnector) Exchange(ctx context.Context, code, verifier string) (*domain.Profile, error) {
	tok, err := c.oauth2.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, domain.WrapError(domain.CodeAuth, "failed to exchange authorization code", err)
	}

	rawIDToken, ok := tok.Extra("id_token").(string)
	if !ok {
		return nil, domain.NewError(domain.CodeAuth, "no id_token in token response", nil)
	}

	idToken, err := c.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, domain.WrapError(domain.CodeAuth, "failed to verify ID token", err)
	}

	var claims struct {
		Email         string `json:"email"`
		EmailVerified bool   `json:"email_verified"`
		Name          string `json:"name"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return nil, domain.WrapError(domain.CodeAuth, "failed to decode ID token claims", err)
	}

	p := &domain.Profile{
		Subject: c.name + ":" + idToken.Subject,
		Name:    claims.Name,
	}
	if claims.EmailVerified {
		p.Email = claims.Email
	}
	return p, nil
}
