package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/marks/internal/httpserver/deps"
	"github.com/MrSnakeDoc/marks/internal/httpserver/handlers"
)

func init() { Register(registerBookmarks) }

func registerBookmarks(r chi.Router, d deps.Deps) {
	limited := r.With(d.Limited())

	// Form posts from the page
	limited.Post("/bookmarks", handlers.AddBookmark(d))
	limited.Post("/bookmarks/import", handlers.ImportBookmarks(d))
	limited.Post("/bookmarks/{id}/delete", handlers.DeleteBookmark(d))

	// Script API
	limited.Post("/api/bookmarks", handlers.AddBookmark(d))
	limited.Post("/api/bookmarks/import", handlers.ImportBookmarks(d))
	limited.Delete("/api/bookmarks/{id}", handlers.DeleteBookmark(d))
	limited.Post("/api/refresh", handlers.Refresh(d))
}
