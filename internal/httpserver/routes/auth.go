package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/marks/internal/httpserver/deps"
	"github.com/MrSnakeDoc/marks/internal/httpserver/handlers"
)

func init() { Register(registerAuth) }

func registerAuth(r chi.Router, d deps.Deps) {
	limited := r.With(d.Limited())

	limited.Post("/auth/signin", handlers.SignIn(d))
	limited.Post("/auth/signout", handlers.SignOut(d))
	limited.Post("/auth/refresh", handlers.RefreshSession(d))

	// Providers redirect back with GET, the dev form posts.
	limited.Get("/auth/callback", handlers.Callback(d))
	limited.Post("/auth/callback", handlers.Callback(d))
	r.Get("/auth/dev", handlers.DevLogin(d))
}
