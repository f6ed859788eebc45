package wamp

import (
	"context"
	"sync"
)

// Peer is one end of an established transport carrying WAMP messages.
type Peer interface {
	// Send delivers msg to the other end.
	Send(ctx context.Context, msg Message) error
	// Recv yields incoming messages and is closed when the transport ends.
	Recv() <-chan Message
	// Close ends the transport. It is safe to call more than once.
	Close() error
}

const peerBacklog = 16

type link struct {
	done chan struct{}
	once sync.Once
}

func (l *link) close() {
	l.once.Do(func() { close(l.done) })
}

type localPeer struct {
	link *link
	in   chan Message
	out  chan Message
	recv chan Message
}

// LinkedPeers returns two in-process peers wired to each other. Closing
// either side closes both; messages already queued are still delivered.
func LinkedPeers() (Peer, Peer) {
	l := &link{done: make(chan struct{})}
	ab := make(chan Message, peerBacklog)
	ba := make(chan Message, peerBacklog)
	a := &localPeer{link: l, in: ba, out: ab, recv: make(chan Message, peerBacklog)}
	b := &localPeer{link: l, in: ab, out: ba, recv: make(chan Message, peerBacklog)}
	go a.forward()
	go b.forward()
	return a, b
}

func (p *localPeer) forward() {
	defer close(p.recv)
	for {
		select {
		case msg := <-p.in:
			select {
			case p.recv <- msg:
			case <-p.link.done:
				p.offer(msg)
			}
		case <-p.link.done:
			for {
				select {
				case msg := <-p.in:
					p.offer(msg)
				default:
					return
				}
			}
		}
	}
}

// offer queues msg without blocking once the link is down.
func (p *localPeer) offer(msg Message) {
	select {
	case p.recv <- msg:
	default:
	}
}

func (p *localPeer) Send(ctx context.Context, msg Message) error {
	select {
	case <-p.link.done:
		return ErrClosed
	default:
	}
	select {
	case p.out <- msg:
		return nil
	case <-p.link.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *localPeer) Recv() <-chan Message { return p.recv }

func (p *localPeer) Close() error {
	p.link.close()
	return nil
}
