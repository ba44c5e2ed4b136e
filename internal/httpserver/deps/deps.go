package deps

import (
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MrSnakeDoc/marks/internal/identity"
	"github.com/MrSnakeDoc/marks/internal/index"
	"github.com/MrSnakeDoc/marks/internal/logger"
)

type Deps struct {
	Logger       logger.Logger
	StartTime    time.Time
	Version      string
	Commit       string
	BuildDate    string
	GoVersion    string
	TimeNow      func() time.Time // for testing, defaults to time.Now
	AllowedHosts []string         // Host headers allowed to access the server
	AllowedCIDRS []string         // IPs allowed to access infra endpoints
	TrustProxy   bool             // true if running behind a trusted reverse proxy (e.g., cloudflared)
	PublicURL    string           // Externally visible base URL (no trailing slash)
	CookieSecure bool             // Mark device cookies Secure
	RedisClient  *redis.Client    // Redis client connection
	Clients      *index.ClientIndex
	Identity     *identity.Provider

	// RateLimit guards the mutating routes. Shared so that all of them draw
	// from the same per-IP bucket. Nil means no limit.
	RateLimit func(http.Handler) http.Handler

	// KeepAlive is how often a websocket marks its client as used.
	KeepAlive time.Duration
}

// Limited returns the rate limit middleware, or a passthrough.
func (d Deps) Limited() func(http.Handler) http.Handler {
	if d.RateLimit == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return d.RateLimit
}
