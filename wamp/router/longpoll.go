package router

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/liestudio/studio/wamp"
)

const maxLongPollBody = 1 << 20

// lpTransport is the router side of one long-poll transport. Messages from
// the client are pushed by /send; messages to the client are pulled by
// /receive.
type lpTransport struct {
	id       string
	ser      wamp.Serializer
	inbox    chan wamp.Message
	recv     chan wamp.Message
	outbox   chan wamp.Message
	done     chan struct{}
	once     sync.Once
	lastSeen atomic.Int64
}

func newLPTransport(ser wamp.Serializer) *lpTransport {
	t := &lpTransport{
		id:     uuid.NewString(),
		ser:    ser,
		inbox:  make(chan wamp.Message, 16),
		recv:   make(chan wamp.Message),
		outbox: make(chan wamp.Message, 64),
		done:   make(chan struct{}),
	}
	t.touch()
	go t.forward()
	return t
}

func (t *lpTransport) forward() {
	defer close(t.recv)
	for {
		select {
		case msg := <-t.inbox:
			select {
			case t.recv <- msg:
			case <-t.done:
				return
			}
		case <-t.done:
			return
		}
	}
}

func (t *lpTransport) touch() { t.lastSeen.Store(time.Now().UnixNano()) }

func (t *lpTransport) idle(now time.Time) time.Duration {
	return now.Sub(time.Unix(0, t.lastSeen.Load()))
}

func (t *lpTransport) Send(ctx context.Context, msg wamp.Message) error {
	select {
	case <-t.done:
		return wamp.ErrClosed
	default:
	}
	select {
	case t.outbox <- msg:
		return nil
	case <-t.done:
		return wamp.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *lpTransport) Recv() <-chan wamp.Message { return t.recv }

func (t *lpTransport) Close() error {
	t.once.Do(func() { close(t.done) })
	return nil
}

func (t *lpTransport) closed() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

type longPollHub struct {
	router *Router

	mu         sync.Mutex
	transports map[string]*lpTransport
	reaping    bool
}

func newLongPollHub(r *Router) *longPollHub {
	return &longPollHub{router: r, transports: map[string]*lpTransport{}}
}

func (h *longPollHub) get(req *http.Request) (*lpTransport, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	t, ok := h.transports[chi.URLParam(req, "transport")]
	return t, ok
}

func (h *longPollHub) remove(id string) {
	h.mu.Lock()
	delete(h.transports, id)
	h.mu.Unlock()
}

func (h *longPollHub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, t := range h.transports {
		_ = t.Close()
	}
}

func (h *longPollHub) open(w http.ResponseWriter, req *http.Request) {
	r := h.router
	if r.ctx.Err() != nil {
		http.Error(w, "router closed", http.StatusServiceUnavailable)
		return
	}

	var body wamp.LongPollOpenRequest
	if err := json.NewDecoder(io.LimitReader(req.Body, maxLongPollBody)).Decode(&body); err != nil {
		http.Error(w, "invalid open request", http.StatusBadRequest)
		return
	}
	var ser wamp.Serializer
	for _, p := range body.Protocols {
		if s, err := wamp.SerializerFor(p); err == nil && p != "" {
			ser = s
			break
		}
	}
	if ser == nil {
		http.Error(w, "no supported protocol", http.StatusBadRequest)
		return
	}

	t := newLPTransport(ser)
	h.mu.Lock()
	h.transports[t.id] = t
	startReaper := !h.reaping
	h.reaping = true
	h.mu.Unlock()
	if startReaper {
		go h.reap()
	}

	details := transportDetails("longpoll", ser, req)
	go func() {
		_ = r.Attach(r.ctx, t, details)
	}()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(wamp.LongPollOpenResponse{Transport: t.id, Protocol: ser.Subprotocol()})
}

func (h *longPollHub) send(w http.ResponseWriter, req *http.Request) {
	t, ok := h.get(req)
	if !ok || t.closed() {
		http.Error(w, "no such transport", http.StatusNotFound)
		return
	}
	t.touch()

	data, err := io.ReadAll(io.LimitReader(req.Body, maxLongPollBody))
	if err != nil {
		http.Error(w, "read failed", http.StatusBadRequest)
		return
	}
	msg, err := t.ser.Deserialize(data)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	select {
	case t.inbox <- msg:
		w.WriteHeader(http.StatusAccepted)
	case <-t.done:
		http.Error(w, "transport closed", http.StatusGone)
	case <-req.Context().Done():
	}
}

func (h *longPollHub) receive(w http.ResponseWriter, req *http.Request) {
	t, ok := h.get(req)
	if !ok {
		http.Error(w, "no such transport", http.StatusNotFound)
		return
	}
	t.touch()

	timer := time.NewTimer(h.router.cfg.LongPollTimeout)
	defer timer.Stop()

	var msg wamp.Message
	select {
	case msg = <-t.outbox:
	default:
		select {
		case msg = <-t.outbox:
		case <-t.done:
			// Drain what the session queued before it closed.
			select {
			case msg = <-t.outbox:
			default:
				h.remove(t.id)
				http.Error(w, "transport closed", http.StatusGone)
				return
			}
		case <-timer.C:
			w.WriteHeader(http.StatusNoContent)
			return
		case <-req.Context().Done():
			return
		}
	}

	data, err := t.ser.Serialize(msg)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if t.ser.Binary() {
		w.Header().Set("Content-Type", "application/octet-stream")
	} else {
		w.Header().Set("Content-Type", "application/json")
	}
	_, _ = w.Write(data)
}

func (h *longPollHub) close(w http.ResponseWriter, req *http.Request) {
	t, ok := h.get(req)
	if ok {
		_ = t.Close()
		h.remove(t.id)
	}
	w.WriteHeader(http.StatusAccepted)
}

// reap closes transports whose client stopped polling.
func (h *longPollHub) reap() {
	limit := 3 * h.router.cfg.LongPollTimeout
	ticker := time.NewTicker(h.router.cfg.LongPollTimeout)
	defer ticker.Stop()
	for {
		select {
		case now := <-ticker.C:
			h.mu.Lock()
			for id, t := range h.transports {
				if t.idle(now) > limit || (t.closed() && len(t.outbox) == 0) {
					_ = t.Close()
					delete(h.transports, id)
				}
			}
			h.mu.Unlock()
		case <-h.router.ctx.Done():
			return
		}
	}
}
