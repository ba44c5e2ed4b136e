package handlers

import (
	"net/http"

	"github.com/MrSnakeDoc/marks/internal/domain"
	"github.com/MrSnakeDoc/marks/internal/httpserver/deps"
	"github.com/MrSnakeDoc/marks/internal/logger"
)

// Refresh triggers a manual refetch of the signed-in user's bookmarks.
// Requests arriving while a refresh runs are coalesced into one more.
func Refresh(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, ok := clientFor(d, w, r)
		if !ok {
			return
		}

		if err := c.Refresh(r.Context()); err != nil {
			writeJSON(w, statusOf(err), errorResponse{Error: err.Error(), Code: domain.CodeOf(err)})
			return
		}

		d.Logger.Debug("manual refresh triggered via endpoint",
			logger.String("device", c.Device()))
		w.WriteHeader(http.StatusAccepted)
		if _, err := w.Write([]byte("✅ Refresh triggered\n")); err != nil {
			d.Logger.Debug("failed to write response", logger.Error(err))
		}
	}
}
