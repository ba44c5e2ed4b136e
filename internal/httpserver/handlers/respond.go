package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MrSnakeDoc/marks/internal/client"
	"github.com/MrSnakeDoc/marks/internal/domain"
	"github.com/MrSnakeDoc/marks/internal/httpserver/deps"
	"github.com/MrSnakeDoc/marks/internal/httpserver/mw"
	"github.com/MrSnakeDoc/marks/internal/logger"
)

// settleTimeout bounds how long a page render waits for the first session
// check and the first listing of a fresh client.
const settleTimeout = time.Second

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// wantsJSON reports whether the caller is a script rather than a form post.
func wantsJSON(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "application/json") ||
		strings.HasPrefix(r.Header.Get("Content-Type"), "application/json")
}

func statusOf(err error) int {
	switch domain.CodeOf(err) {
	case domain.CodeValidation:
		return http.StatusBadRequest
	case domain.CodeAuth:
		return http.StatusUnauthorized
	case domain.CodeNotFound:
		return http.StatusNotFound
	case domain.CodeClosed:
		return http.StatusServiceUnavailable
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

// done answers a mutating request: JSON for scripts, a redirect to the page
// for forms. A failed form post carries the error code in the query.
func done(w http.ResponseWriter, r *http.Request, err error, ok any) {
	if wantsJSON(r) {
		if err != nil {
			writeJSON(w, statusOf(err), errorResponse{Error: err.Error(), Code: domain.CodeOf(err)})
			return
		}
		writeJSON(w, http.StatusOK, ok)
		return
	}
	redirectHome(w, r, err)
}

func redirectHome(w http.ResponseWriter, r *http.Request, err error) {
	target := "/"
	if err != nil {
		code := strings.ToLower(domain.CodeOf(err))
		if code == "" {
			code = "internal"
		}
		target += "?error=" + url.QueryEscape(code)
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}

// clientFor returns the bookmark client of the requesting device.
func clientFor(d deps.Deps, w http.ResponseWriter, r *http.Request) (*client.Client, bool) {
	device := mw.DeviceFrom(r.Context())
	if device == "" {
		http.Error(w, "missing device", http.StatusBadRequest)
		return nil, false
	}

	c, err := d.Clients.GetOrCreate(device)
	if err != nil {
		d.Logger.Warn("failed to create client",
			logger.String("device", device),
			logger.Error(err))
		http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		return nil, false
	}
	return c, true
}

// settledSnapshot waits until the first session check and listing finished,
// then returns the snapshot. On timeout the latest snapshot is returned.
func settledSnapshot(ctx context.Context, c *client.Client) (client.Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, settleTimeout)
	defer cancel()

	notify, stop := c.Watch()
	defer stop()

	for {
		snap, err := c.Snapshot(ctx)
		if err != nil {
			return snap, err
		}
		if snap.InitialLoaded && !snap.Loading {
			return snap, nil
		}

		select {
		case <-notify:
		case <-ctx.Done():
			return c.Snapshot(context.WithoutCancel(ctx))
		}
	}
}
