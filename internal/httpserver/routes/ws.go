package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/marks/internal/httpserver/deps"
	"github.com/MrSnakeDoc/marks/internal/httpserver/handlers"
)

func init() { RegisterStream(registerWS) }

func registerWS(r chi.Router, d deps.Deps) {
	r.Get("/ws", handlers.WS(d))
}
