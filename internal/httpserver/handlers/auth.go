package handlers

import (
	"context"
	"net/http"

	"github.com/MrSnakeDoc/marks/internal/client"
	"github.com/MrSnakeDoc/marks/internal/domain"
	"github.com/MrSnakeDoc/marks/internal/httpserver/deps"
	"github.com/MrSnakeDoc/marks/internal/httpserver/mw"
	"github.com/MrSnakeDoc/marks/internal/logger"
)

type redirectResponse struct {
	Redirect string `json:"redirect"`
}

type sessionResponse struct {
	Session *domain.Session `json:"session"`
}

// SignIn starts a federated sign-in and sends the browser to the provider.
func SignIn(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, ok := clientFor(d, w, r)
		if !ok {
			return
		}

		target, err := c.SignIn(r.Context(), r.FormValue("provider"))
		if err != nil {
			done(w, r, err, nil)
			return
		}
		if wantsJSON(r) {
			writeJSON(w, http.StatusOK, redirectResponse{Redirect: target})
			return
		}
		http.Redirect(w, r, target, http.StatusSeeOther)
	}
}

// Callback completes the sign-in started by SignIn. The session lands on
// the device that started the flow.
func Callback(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		state := r.FormValue("state")
		code := r.FormValue("code")
		if state == "" || code == "" {
			redirectHome(w, r, domain.NewError(domain.CodeAuth, "missing state or code", nil))
			return
		}

		device, err := d.Identity.CompleteSignIn(r.Context(), state, code)
		if err != nil {
			d.Logger.Warn("sign-in callback failed", logger.Error(err))
			redirectHome(w, r, err)
			return
		}

		if current := mw.DeviceFrom(r.Context()); current != device {
			d.Logger.Warn("sign-in completed on another device",
				logger.String("device", device),
				logger.String("callback_device", current))
		}

		// Let the page render signed in when the device's client is live.
		if c, ok := d.Clients.Get(device); ok {
			awaitSignedIn(r.Context(), c)
		}
		redirectHome(w, r, nil)
	}
}

// SignOut ends the session of the requesting device.
func SignOut(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, ok := clientFor(d, w, r)
		if !ok {
			return
		}
		done(w, r, c.SignOut(r.Context()), okResponse{OK: true})
	}
}

// RefreshSession reissues the session token of the requesting device.
func RefreshSession(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		device := mw.DeviceFrom(r.Context())
		s, err := d.Identity.Refresh(r.Context(), device)
		if err != nil {
			writeJSON(w, statusOf(err), errorResponse{Error: err.Error(), Code: domain.CodeOf(err)})
			return
		}
		writeJSON(w, http.StatusOK, sessionResponse{Session: s})
	}
}

func awaitSignedIn(ctx context.Context, c *client.Client) {
	ctx, cancel := context.WithTimeout(ctx, settleTimeout)
	defer cancel()

	notify, stop := c.Watch()
	defer stop()

	for {
		snap, err := c.Snapshot(ctx)
		if err != nil || snap.State == domain.AuthSignedIn {
			return
		}
		select {
		case _, ok := <-notify:
			if !ok {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}
