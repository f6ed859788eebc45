package router

import (
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/liestudio/studio/wamp"
)

// Handler returns the HTTP surface of the router: GET /ws upgrades to a
// WebSocket session, /lp/* serves the long-poll transport. Mount it at the
// server root or under a prefix.
func (r *Router) Handler() http.Handler {
	mux := chi.NewRouter()
	mux.Get("/ws", r.serveWebSocket)
	mux.Route("/lp", func(lp chi.Router) {
		lp.Post("/open", r.lp.open)
		lp.Post("/{transport}/send", r.lp.send)
		lp.Post("/{transport}/receive", r.lp.receive)
		lp.Post("/{transport}/close", r.lp.close)
	})
	return mux
}

var upgrader = websocket.Upgrader{
	Subprotocols:    []string{wamp.SubprotocolJSON, wamp.SubprotocolCBOR},
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

func (r *Router) serveWebSocket(w http.ResponseWriter, req *http.Request) {
	if r.ctx.Err() != nil {
		http.Error(w, "router closed", http.StatusServiceUnavailable)
		return
	}
	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}
	ser, err := wamp.SerializerFor(conn.Subprotocol())
	if err != nil {
		_ = conn.Close()
		return
	}
	peer := wamp.NewWebSocketPeer(conn, ser, r.log)
	_ = r.Attach(req.Context(), peer, transportDetails("websocket", ser, req))
}

func transportDetails(kind string, ser wamp.Serializer, req *http.Request) wamp.Dict {
	host, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		host = req.RemoteAddr
	}
	return wamp.Dict{
		"type":       kind,
		"serializer": ser.Subprotocol(),
		"peer":       host,
		"http_headers_received": wamp.Dict{
			"host":       req.Host,
			"user-agent": req.UserAgent(),
		},
	}
}
