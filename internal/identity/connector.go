package identity

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/mail"
	"net/url"
	"strings"

	"github.com/MrSnakeDoc/marks/internal/domain"
)

// Connector is one federated sign-in provider.
type Connector interface {
	// Name is the provider name used in sign-in requests (ex: "google").
	Name() string

	// AuthCodeURL is where the browser is redirected to authenticate.
	AuthCodeURL(state, verifier string) string

	// Exchange turns the code returned at the callback into a profile.
	Exchange(ctx context.Context, code, verifier string) (*domain.Profile, error)
}

// DevConnector signs users in by email only. Local development only.
type DevConnector struct {
	publicURL string
}

// NewDevConnector builds the dev connector. Its login form lives at
// <publicURL>/auth/dev.
func NewDevConnector(publicURL string) *DevConnector {
	return &DevConnector{publicURL: strings.TrimRight(publicURL, "/")}
}

func (c *DevConnector) Name() string { return "dev" }

func (c *DevConnector) AuthCodeURL(state, _ string) string {
	return c.publicURL + "/auth/dev?state=" + url.QueryEscape(state)
}

// Exchange treats code as the email address typed in the dev form.
func (c *DevConnector) Exchange(_ context.Context, code, _ string) (*domain.Profile, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(code))
	if err != nil {
		return nil, domain.WrapError(domain.CodeAuth, "invalid email", err)
	}

	email := strings.ToLower(addr.Address)
	sum := sha256.Sum256([]byte(email))
	name := addr.Name
	if name == "" {
		name = email[:strings.IndexByte(email, '@')]
	}

	return &domain.Profile{
		Subject: "dev:" + hex.EncodeToString(sum[:])[:16],
		Email:   email,
		Name:    name,
	}, nil
}
