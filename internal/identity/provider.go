// Package identity implements sign-in, sign-out and the per-device session
// stream consumed by the bookmark client.
//
// Sessions are HS256 tokens stored in Redis under the device that signed in.
// Every transition is published on the device's session channel so that all
// clients of that device observe it, including the one that started a
// redirect in another request.
package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/MrSnakeDoc/marks/internal/domain"
	"github.com/MrSnakeDoc/marks/internal/logger"
	redisstore "github.com/MrSnakeDoc/marks/internal/store/redis"
)

// LoginStateTTL bounds the time between sign-in redirect and callback.
const LoginStateTTL = 10 * time.Minute

type loginState struct {
	Device   string `json:"device"`
	Provider string `json:"provider"`
	Verifier string `json:"verifier"`
}

// wireEvent is the payload published on a device's session channel.
type wireEvent struct {
	Type  domain.SessionEventType `json:"type"`
	Token string                  `json:"token,omitempty"`
}

// Provider is the identity provider of the application.
type Provider struct {
	store      *redisstore.Store
	tokens     *Tokens
	ttl        time.Duration
	connectors map[string]Connector
	logger     logger.Logger
}

// NewProvider builds a provider issuing sessions valid for ttl.
func NewProvider(store *redisstore.Store, tokens *Tokens, ttl time.Duration, log logger.Logger, connectors ...Connector) *Provider {
	p := &Provider{
		store:      store,
		tokens:     tokens,
		ttl:        ttl,
		connectors: make(map[string]Connector, len(connectors)),
		logger:     log,
	}
	for _, c := range connectors {
		p.connectors[c.Name()] = c
	}
	return p
}

// Providers lists the configured connector names, sorted.
func (p *Provider) Providers() []string {
	names := make([]string, 0, len(p.connectors))
	for name := range p.connectors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CurrentSession returns the session of device, or nil when signed out.
// Expired or invalid tokens are dropped and reported as signed out.
func (p *Provider) CurrentSession(ctx context.Context, device string) (*domain.Session, error) {
	token, err := p.store.SessionToken(ctx, device)
	if err != nil {
		return nil, err
	}
	if token == "" {
		return nil, nil
	}

	s, err := p.tokens.Parse(token)
	if err != nil {
		p.logger.Debug("dropping unusable session token",
			logger.String("device", device),
			logger.Error(err))
		if err := p.store.DeleteSessionToken(ctx, device); err != nil {
			p.logger.Warn("failed to delete session token",
				logger.String("device", device),
				logger.Error(err))
		}
		return nil, nil
	}
	return s, nil
}

// OnSessionChange calls fn for every session transition of device until the
// subscription is closed. fn runs on the subscription goroutine.
func (p *Provider) OnSessionChange(ctx context.Context, device string, fn func(domain.SessionEvent)) (domain.Subscription, error) {
	return p.store.SubscribeSessionEvents(ctx, device, func(payload []byte) {
		var w wireEvent
		if err := json.Unmarshal(payload, &w); err != nil {
			p.logger.Warn("malformed session event",
				logger.String("device", device),
				logger.Error(err))
			return
		}

		ev := domain.SessionEvent{Type: w.Type}
		if w.Type != domain.SessionSignedOut {
			s, err := p.tokens.Parse(w.Token)
			if err != nil {
				p.logger.Warn("session event with unusable token",
					logger.String("device", device),
					logger.Error(err))
				return
			}
			ev.Session = s
		}
		fn(ev)
	})
}

// SignInWithProvider starts a federated sign-in for device and returns the
// URL the browser must be redirected to. The session only changes once the
// callback completes.
func (p *Provider) SignInWithProvider(ctx context.Context, device, provider string) (string, error) {
	c, ok := p.connectors[provider]
	if !ok {
		return "", domain.NewError(domain.CodeAuth, fmt.Sprintf("unknown provider %q", provider), nil)
	}

	state := uuid.NewString()
	ls := loginState{
		Device:   device,
		Provider: provider,
		Verifier: oauth2.GenerateVerifier(),
	}
	data, err := json.Marshal(ls)
	if err != nil {
		return "", domain.WrapError(domain.CodeAuth, "failed to marshal login state", err)
	}
	if err := p.store.SaveLoginState(ctx, state, data, LoginStateTTL); err != nil {
		return "", err
	}

	p.logger.Info("sign-in started",
		logger.String("device", device),
		logger.String("provider", provider))

	return c.AuthCodeURL(state, ls.Verifier), nil
}

// CompleteSignIn finishes the redirect flow identified by state and returns
// the device that started it.
func (p *Provider) CompleteSignIn(ctx context.Context, state, code string) (string, error) {
	data, err := p.store.TakeLoginState(ctx, state)
	if err != nil {
		return "", err
	}

	var ls loginState
	if err := json.Unmarshal(data, &ls); err != nil {
		return "", domain.WrapError(domain.CodeAuth, "corrupt login state", err)
	}

	c, ok := p.connectors[ls.Provider]
	if !ok {
		return "", domain.NewError(domain.CodeAuth, fmt.Sprintf("unknown provider %q", ls.Provider), nil)
	}

	profile, err := c.Exchange(ctx, code, ls.Verifier)
	if err != nil {
		return "", err
	}

	s, err := p.tokens.Issue(*profile, ls.Provider, p.ttl)
	if err != nil {
		return "", err
	}
	if err := p.establish(ctx, ls.Device, s, domain.SessionSignedIn); err != nil {
		return "", err
	}

	p.logger.Info("signed in",
		logger.String("device", ls.Device),
		logger.String("provider", ls.Provider),
		logger.String("user_id", s.UserID))

	return ls.Device, nil
}

// Refresh reissues the session of device with a fresh expiry and emits
// TOKEN_REFRESHED.
func (p *Provider) Refresh(ctx context.Context, device string) (*domain.Session, error) {
	current, err := p.CurrentSession(ctx, device)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, domain.NewError(domain.CodeAuth, "no session to refresh", nil)
	}

	s, err := p.tokens.Issue(domain.Profile{
		Subject: current.UserID,
		Email:   current.Email,
		Name:    current.Name,
	}, current.Provider, p.ttl)
	if err != nil {
		return nil, err
	}
	if err := p.establish(ctx, device, s, domain.SessionTokenRefreshed); err != nil {
		return nil, err
	}
	return s, nil
}

// SignOut terminates the session of device and emits SIGNED_OUT.
func (p *Provider) SignOut(ctx context.Context, device string) error {
	if err := p.store.DeleteSessionToken(ctx, device); err != nil {
		return err
	}
	if err := p.publish(ctx, device, wireEvent{Type: domain.SessionSignedOut}); err != nil {
		return err
	}
	p.logger.Info("signed out", logger.String("device", device))
	return nil
}

func (p *Provider) establish(ctx context.Context, device string, s *domain.Session, t domain.SessionEventType) error {
	if err := p.store.SaveSessionToken(ctx, device, s.Token, p.ttl); err != nil {
		return err
	}
	return p.publish(ctx, device, wireEvent{Type: t, Token: s.Token})
}

func (p *Provider) publish(ctx context.Context, device string, w wireEvent) error {
	data, err := json.Marshal(w)
	if err != nil {
		return domain.WrapError(domain.CodeAuth, "failed to marshal session event", err)
	}
	return p.store.PublishSessionEvent(ctx, device, data)
}
