package hub

import (
	"context"
	"net/http"
	"time"

	"github.com/goodtune/duet/internal/identity"
	"golang.org/x/net/websocket"
)

var (
	pongFrame           = []byte(`{"type":"pong"}`)
	unauthenticatedBody = []byte(`{"error":"unauthenticated","message":"valid session token required"}`)
)

// wsConn adapts an x/net websocket to Conn.
type wsConn struct {
	ws *websocket.Conn
}

func (c *wsConn) Write(ctx context.Context, frame []byte) error {
	if deadline, ok := ctx.Deadline(); ok {
		if err := c.ws.SetWriteDeadline(deadline); err != nil {
			return err
		}
	}
	return websocket.Message.Send(c.ws, string(frame))
}

func (c *wsConn) Close() error {
	return c.ws.Close()
}

// ServeWebsocket returns the live channel endpoint. The member is resolved
// from the Authorization bearer token or the token query parameter before the
// upgrade; incoming frames other than ping are ignored.
func (h *Hub) ServeWebsocket(resolver *identity.Resolver) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := identity.FromAuthorizationHeader(r.Header.Get("Authorization"))
		if token == "" {
			token = r.URL.Query().Get("token")
		}

		id, err := resolver.Resolve(token)
		if err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write(unauthenticatedBody)
			return
		}

		// Browsers send an Origin we do not know in advance; the token is
		// the credential, so the origin check is skipped.
		srv := websocket.Server{
			Handshake: func(*websocket.Config, *http.Request) error { return nil },
			Handler: func(ws *websocket.Conn) {
				h.serve(ws, id)
			},
		}
		srv.ServeHTTP(w, r)
	})
}

func (h *Hub) serve(ws *websocket.Conn, id identity.Identity) {
	conn := &wsConn{ws: ws}
	c := h.register(id.PairID, id.Role, conn)
	defer h.Unregister(id.PairID, id.Role, conn)

	logger := h.logger.With().
		Str("pair_id", id.PairID).
		Str("role", string(id.Role)).
		Logger()
	logger.Debug().Str("remote", ws.Request().RemoteAddr).Msg("Live connection opened")

	for {
		var msg string
		// Idle members may stay connected for hours
		_ = ws.SetReadDeadline(time.Now().Add(24 * time.Hour))
		if err := websocket.Message.Receive(ws, &msg); err != nil {
			logger.Debug().Err(err).Msg("Live connection closed")
			return
		}

		ev, err := Decode([]byte(msg))
		if err != nil || ev != nil {
			// Only pings are accepted from members
			continue
		}
		c.enqueue(pongFrame, TypePong)
	}
}
