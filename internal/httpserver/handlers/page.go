package handlers

import (
	"embed"
	"html/template"
	"net/http"
	"slices"

	"github.com/MrSnakeDoc/marks/internal/client"
	"github.com/MrSnakeDoc/marks/internal/domain"
	"github.com/MrSnakeDoc/marks/internal/httpserver/deps"
	"github.com/MrSnakeDoc/marks/internal/logger"
)

//go:embed templates/*.html
var templateFS embed.FS

var templates = template.Must(template.ParseFS(templateFS, "templates/*.html"))

var errorMessages = map[string]string{
	"validation":  "Title and URL are required.",
	"auth":        "Sign-in failed. Please try again.",
	"store_read":  "Bookmarks could not be loaded.",
	"store_write": "The change could not be saved.",
	"closed":      "The session expired, please reload.",
	"not_found":   "That bookmark no longer exists.",
	"internal":    "Something went wrong.",
}

type pageData struct {
	Snap      client.Snapshot
	SignedIn  bool
	Unknown   bool
	Providers []string
	Error     string
}

// Page renders the single page of the application from the client snapshot.
func Page(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, ok := clientFor(d, w, r)
		if !ok {
			return
		}

		snap, err := settledSnapshot(r.Context(), c)
		if err != nil {
			http.Error(w, http.StatusText(statusOf(err)), statusOf(err))
			return
		}

		data := pageData{
			Snap:      snap,
			SignedIn:  snap.State == domain.AuthSignedIn,
			Unknown:   snap.State == domain.AuthUnknown,
			Providers: d.Identity.Providers(),
			Error:     errorMessages[r.URL.Query().Get("error")],
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")
		if err := templates.ExecuteTemplate(w, "page.html", data); err != nil {
			d.Logger.Warn("failed to render page", logger.Error(err))
		}
	}
}

// DevLogin renders the email form of the dev provider.
func DevLogin(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !slices.Contains(d.Identity.Providers(), "dev") {
			http.NotFound(w, r)
			return
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")
		if err := templates.ExecuteTemplate(w, "dev_login.html", struct{ State string }{
			State: r.URL.Query().Get("state"),
		}); err != nil {
			d.Logger.Warn("failed to render dev login", logger.Error(err))
		}
	}
}
