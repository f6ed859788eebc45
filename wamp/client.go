package wamp

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

var outstanding atomic.Int64

// Active reports whether any client in the process has a call in flight.
// Front ends use it as a global busy indicator.
func Active() bool {
	return outstanding.Load() > 0
}

// CallResult is the outcome of a successful call.
type CallResult struct {
	Args   List
	Kwargs Dict
}

// Truthy reports whether the reply counts as positive: the first
// positional result must be truthy, or, without positional results, the
// keyword results must be non-empty.
func (r *CallResult) Truthy() bool {
	if r == nil {
		return false
	}
	if len(r.Args) > 0 {
		return Truthy(r.Args[0])
	}
	return len(r.Kwargs) > 0
}

// First returns the first positional result or nil.
func (r *CallResult) First() any {
	if r == nil || len(r.Args) == 0 {
		return nil
	}
	return r.Args[0]
}

// Client is an established WAMP session in the caller role.
type Client struct {
	peer    Peer
	id      ID
	realm   URI
	details Dict
	log     zerolog.Logger

	nextRequest atomic.Uint64
	inflight    atomic.Int64

	mu      sync.Mutex
	pending map[ID]chan Message
	closed  bool

	done      chan struct{}
	goodbye   chan struct{}
	closeOnce sync.Once
	leaveOnce sync.Once
}

func newClient(peer Peer, realm URI, welcome *Welcome, log zerolog.Logger) *Client {
	c := &Client{
		peer:    peer,
		id:      welcome.ID,
		realm:   realm,
		details: welcome.Details,
		log:     log.With().Uint64("session", uint64(welcome.ID)).Logger(),
		pending: make(map[ID]chan Message),
		done:    make(chan struct{}),
		goodbye: make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// ID returns the router-assigned session id.
func (c *Client) ID() ID { return c.id }

// Realm returns the joined realm.
func (c *Client) Realm() URI { return c.realm }

// Details returns the WELCOME details (authid, authrole, authextra, ...).
func (c *Client) Details() Dict { return c.details }

// Done is closed when the session ends.
func (c *Client) Done() <-chan struct{} { return c.done }

// Active reports whether this client has a call in flight.
func (c *Client) Active() bool { return c.inflight.Load() > 0 }

func (c *Client) readLoop() {
	defer c.shutdown()
	for msg := range c.peer.Recv() {
		switch m := msg.(type) {
		case *Result:
			c.deliver(m.Request, m)
		case *ErrorMessage:
			if m.Type != CALL {
				c.log.Debug().Stringer("request_type", m.Type).Msg("ignoring error for unsupported request type")
				continue
			}
			c.deliver(m.Request, m)
		case *Goodbye:
			select {
			case <-c.goodbye:
			default:
				// Router initiated the close; acknowledge it.
				_ = c.peer.Send(context.Background(), &Goodbye{Details: Dict{}, Reason: CloseGoodbyeAndOut})
			}
			c.leaveOnce.Do(func() { close(c.goodbye) })
			return
		case *Abort:
			c.log.Warn().Str("reason", string(m.Reason)).Msg("session aborted by router")
			return
		default:
			c.log.Warn().Stringer("type", msg.MessageType()).Msg("unexpected message, closing session")
			return
		}
	}
}

func (c *Client) deliver(req ID, msg Message) {
	c.mu.Lock()
	ch, ok := c.pending[req]
	if ok {
		delete(c.pending, req)
	}
	c.mu.Unlock()
	if !ok {
		c.log.Debug().Uint64("request", uint64(req)).Msg("reply for unknown or abandoned request")
		return
	}
	ch <- msg
}

func (c *Client) shutdown() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.pending = map[ID]chan Message{}
		c.mu.Unlock()
		close(c.done)
		_ = c.peer.Close()
	})
}

// Call invokes procedure and waits for its result. An ERROR reply is
// returned as *Error. Cancelling ctx abandons the call; a late reply is
// dropped.
func (c *Client) Call(ctx context.Context, procedure URI, args List, kwargs Dict) (*CallResult, error) {
	req := ID(c.nextRequest.Add(1))
	reply := make(chan Message, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	c.pending[req] = reply
	c.mu.Unlock()

	c.inflight.Add(1)
	outstanding.Add(1)
	defer func() {
		c.inflight.Add(-1)
		outstanding.Add(-1)
	}()

	call := &Call{Request: req, Options: Dict{}, Procedure: procedure, Arguments: args, ArgumentsKw: kwargs}
	if err := c.peer.Send(ctx, call); err != nil {
		c.forget(req)
		return nil, err
	}

	select {
	case msg := <-reply:
		switch m := msg.(type) {
		case *Result:
			return &CallResult{Args: m.Arguments, Kwargs: m.ArgumentsKw}, nil
		case *ErrorMessage:
			return nil, &Error{URI: m.Error, Args: m.Arguments, Kwargs: m.ArgumentsKw}
		}
		return nil, fmt.Errorf("%w: unexpected reply %T", ErrProtocol, msg)
	case <-ctx.Done():
		c.forget(req)
		return nil, ctx.Err()
	case <-c.done:
		return nil, ErrClosed
	}
}

func (c *Client) forget(req ID) {
	c.mu.Lock()
	delete(c.pending, req)
	c.mu.Unlock()
}

// Close leaves the realm with GOODBYE and waits for the router's answer
// until ctx expires, then closes the transport.
func (c *Client) Close(ctx context.Context) error {
	select {
	case <-c.done:
		return nil
	default:
	}

	var sendErr error
	c.leaveOnce.Do(func() {
		close(c.goodbye)
		sendErr = c.peer.Send(ctx, &Goodbye{Details: Dict{}, Reason: CloseRealm})
	})
	if sendErr == nil {
		select {
		case <-c.done:
		case <-ctx.Done():
		}
	}
	c.shutdown()
	return sendErr
}
