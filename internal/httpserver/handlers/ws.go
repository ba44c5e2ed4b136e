package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/MrSnakeDoc/marks/internal/httpserver/deps"
	"github.com/MrSnakeDoc/marks/internal/logger"
)

const wsWriteTimeout = 5 * time.Second

// WS pushes the client snapshot to the browser after every state change.
// The connection keeps the client alive while it is open.
func WS(d deps.Deps) http.HandlerFunc {
	keepAlive := d.KeepAlive
	if keepAlive <= 0 {
		keepAlive = 30 * time.Second
	}

	return func(w http.ResponseWriter, r *http.Request) {
		c, ok := clientFor(d, w, r)
		if !ok {
			return
		}

		// The server timeouts do not apply to a long-lived stream.
		rc := http.NewResponseController(w)
		_ = rc.SetReadDeadline(time.Time{})
		_ = rc.SetWriteDeadline(time.Time{})

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: d.AllowedHosts,
		})
		if err != nil {
			d.Logger.Debug("websocket upgrade failed", logger.Error(err))
			return
		}
		defer func() { _ = conn.CloseNow() }()

		// Nothing is read from the browser; this also answers pings.
		ctx := conn.CloseRead(r.Context())

		notify, stop := c.Watch()
		defer stop()

		ticker := time.NewTicker(keepAlive)
		defer ticker.Stop()

		var sent uint64
		first := true
		push := func() error {
			snap, err := c.Snapshot(ctx)
			if err != nil {
				return err
			}
			if !first && snap.Version == sent {
				return nil
			}
			data, err := json.Marshal(snap)
			if err != nil {
				return err
			}
			wctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
			defer cancel()
			if err := conn.Write(wctx, websocket.MessageText, data); err != nil {
				return err
			}
			first = false
			sent = snap.Version
			return nil
		}

		if err := push(); err != nil {
			return
		}

		for {
			select {
			case _, ok := <-notify:
				if !ok {
					_ = conn.Close(websocket.StatusGoingAway, "client closed")
					return
				}
				if err := push(); err != nil {
					d.Logger.Debug("websocket push failed", logger.Error(err))
					return
				}
			case <-ticker.C:
				d.Clients.Touch(c.Device())
			case <-ctx.Done():
				return
			}
		}
	}
}
