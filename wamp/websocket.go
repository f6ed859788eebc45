package wamp

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const closeGrace = time.Second

type webSocketPeer struct {
	conn *websocket.Conn
	ser  Serializer
	log  zerolog.Logger
	recv chan Message
	done chan struct{}

	writeMu   sync.Mutex
	closeOnce sync.Once
}

// NewWebSocketPeer wraps an upgraded connection. The serializer must match
// the negotiated subprotocol.
func NewWebSocketPeer(conn *websocket.Conn, ser Serializer, log zerolog.Logger) Peer {
	p := &webSocketPeer{
		conn: conn,
		ser:  ser,
		log:  log,
		recv: make(chan Message, peerBacklog),
		done: make(chan struct{}),
	}
	go p.readLoop()
	return p
}

func (p *webSocketPeer) readLoop() {
	defer close(p.recv)
	defer p.Close()
	for {
		_, data, err := p.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				select {
				case <-p.done:
				default:
					p.log.Debug().Err(err).Msg("websocket read ended")
				}
			}
			return
		}
		msg, err := p.ser.Deserialize(data)
		if err != nil {
			p.log.Warn().Err(err).Msg("dropping websocket connection after undecodable frame")
			return
		}
		select {
		case p.recv <- msg:
		case <-p.done:
			return
		}
	}
}

func (p *webSocketPeer) Send(ctx context.Context, msg Message) error {
	data, err := p.ser.Serialize(msg)
	if err != nil {
		return err
	}
	frame := websocket.TextMessage
	if p.ser.Binary() {
		frame = websocket.BinaryMessage
	}

	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	select {
	case <-p.done:
		return ErrClosed
	default:
	}
	deadline, _ := ctx.Deadline()
	if err := p.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	if err := p.conn.WriteMessage(frame, data); err != nil {
		return fmt.Errorf("%w: %v", ErrClosed, err)
	}
	return nil
}

func (p *webSocketPeer) Recv() <-chan Message { return p.recv }

func (p *webSocketPeer) Close() error {
	var err error
	p.closeOnce.Do(func() {
		close(p.done)
		_ = p.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(closeGrace),
		)
		err = p.conn.Close()
	})
	return err
}

// DialWebSocket connects to a router WebSocket endpoint and negotiates the
// serializer's subprotocol.
func DialWebSocket(ctx context.Context, url string, ser Serializer, header http.Header, log zerolog.Logger) (Peer, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: 10 * time.Second,
		Subprotocols:     []string{ser.Subprotocol()},
	}
	conn, resp, err := dialer.DialContext(ctx, url, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("websocket dial %s: %w", url, err)
	}
	if conn.Subprotocol() != ser.Subprotocol() {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: router answered %q", ErrUnsupportedSerializer, conn.Subprotocol())
	}
	return NewWebSocketPeer(conn, ser, log), nil
}
