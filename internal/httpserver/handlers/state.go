package handlers

import (
	"net/http"

	"github.com/MrSnakeDoc/marks/internal/httpserver/deps"
)

// State returns the client snapshot as JSON once the first load settled.
func State(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, ok := clientFor(d, w, r)
		if !ok {
			return
		}

		snap, err := settledSnapshot(r.Context(), c)
		if err != nil {
			writeJSON(w, statusOf(err), errorResponse{Error: err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, snap)
	}
}
