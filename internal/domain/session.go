package domain

import "time"

// Session identifies the signed-in principal of a device.
type Session struct {
	UserID    string    `json:"user_id"`
	Name      string    `json:"name,omitempty"`
	Email     string    `json:"email,omitempty"`
	Provider  string    `json:"provider"`
	ExpiresAt time.Time `json:"expires_at"`

	// Token is the signed session token. Never rendered.
	Token string `json:"-"`
}

// Profile is what a federated provider tells us about a user.
type Profile struct {
	Subject string
	Email   string
	Name    string
}

// AuthState is the session state machine of a client.
type AuthState int

const (
	// AuthUnknown means the first session check has not completed yet.
	AuthUnknown AuthState = iota
	AuthSignedOut
	AuthSignedIn
)

func (s AuthState) String() string {
	switch s {
	case AuthUnknown:
		return "unknown"
	case AuthSignedOut:
		return "signed_out"
	case AuthSignedIn:
		return "signed_in"
	default:
		return "invalid"
	}
}

func (s AuthState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// SessionEventType names a session transition.
type SessionEventType string

const (
	SessionSignedIn       SessionEventType = "SIGNED_IN"
	SessionSignedOut      SessionEventType = "SIGNED_OUT"
	SessionTokenRefreshed SessionEventType = "TOKEN_REFRESHED"
)

// SessionEvent is delivered by the identity provider's change stream.
// Session is nil for SIGNED_OUT.
type SessionEvent struct {
	Type    SessionEventType
	Session *Session
}
