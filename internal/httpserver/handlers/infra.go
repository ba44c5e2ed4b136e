package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/MrSnakeDoc/marks/internal/httpserver/deps"
)

var errRedisMissing = errors.New("client not initialized")

type componentStatus struct {
	OK        bool     `json:"ok"`
	Clients   *int     `json:"clients,omitempty"`
	Providers []string `json:"providers,omitempty"`
	Impact    string   `json:"impact,omitempty"`
	Error     string   `json:"error,omitempty"`
}

type infraResponse struct {
	Mode       string                     `json:"mode"`
	Components map[string]componentStatus `json:"components"`
}

// Infra reports the state of every component the clients depend on.
func Infra(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-store")

		clients := d.Clients.Count()
		providers := d.Identity.Providers()

		redisStatus := componentStatus{OK: true}
		if err := pingRedis(r.Context(), d); err != nil {
			redisStatus = componentStatus{
				OK:     false,
				Impact: "sync-unavailable",
				Error:  err.Error(),
			}
		}

		components := map[string]componentStatus{
			"redis":   redisStatus,
			"clients": {OK: true, Clients: &clients},
			"identity": {
				OK:        len(providers) > 0,
				Providers: providers,
			},
		}

		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(infraResponse{
			Mode:       determineMode(components),
			Components: components,
		})
	}
}

func determineMode(components map[string]componentStatus) string {
	if redis, ok := components["redis"]; ok && !redis.OK {
		return "critical" // nothing can be read or written
	}
	if id, ok := components["identity"]; ok && !id.OK {
		return "degraded" // nobody can sign in
	}
	return "operational"
}
