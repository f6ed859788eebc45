package wamp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// LongPollOpenRequest is the body of POST {base}/open.
type LongPollOpenRequest struct {
	Protocols []string `json:"protocols"`
}

// LongPollOpenResponse is the reply to POST {base}/open.
type LongPollOpenResponse struct {
	Transport string `json:"transport"`
	Protocol  string `json:"protocol"`
}

type longPollPeer struct {
	client *http.Client
	base   string
	ser    Serializer
	log    zerolog.Logger
	recv   chan Message

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// DialLongPoll opens a long-poll transport at base (for example
// "http://host:8080/lp") and starts polling for inbound messages.
func DialLongPoll(ctx context.Context, client *http.Client, base string, ser Serializer, log zerolog.Logger) (Peer, error) {
	if client == nil {
		client = http.DefaultClient
	}
	base = strings.TrimRight(base, "/")

	body, err := json.Marshal(LongPollOpenRequest{Protocols: []string{ser.Subprotocol()}})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/open", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("longpoll open %s: %w", base, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("longpoll open %s: unexpected status %d", base, resp.StatusCode)
	}
	var opened LongPollOpenResponse
	if err := json.NewDecoder(resp.Body).Decode(&opened); err != nil {
		return nil, fmt.Errorf("longpoll open %s: %w", base, err)
	}
	if opened.Transport == "" {
		return nil, fmt.Errorf("longpoll open %s: %w: missing transport id", base, ErrProtocol)
	}
	if opened.Protocol != ser.Subprotocol() {
		return nil, fmt.Errorf("%w: router answered %q", ErrUnsupportedSerializer, opened.Protocol)
	}

	pollCtx, cancel := context.WithCancel(context.Background())
	p := &longPollPeer{
		client: client,
		base:   base + "/" + opened.Transport,
		ser:    ser,
		log:    log,
		recv:   make(chan Message, peerBacklog),
		ctx:    pollCtx,
		cancel: cancel,
	}
	go p.pollLoop()
	return p, nil
}

func (p *longPollPeer) post(ctx context.Context, path string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.base+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	if p.ser.Binary() {
		req.Header.Set("Content-Type", "application/octet-stream")
	} else {
		req.Header.Set("Content-Type", "application/json")
	}
	return p.client.Do(req)
}

func (p *longPollPeer) pollLoop() {
	defer close(p.recv)
	defer p.cancel()
	for {
		resp, err := p.post(p.ctx, "/receive", nil)
		if err != nil {
			if p.ctx.Err() == nil {
				p.log.Debug().Err(err).Msg("longpoll receive failed")
			}
			return
		}
		data, err := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if err != nil {
			return
		}

		switch resp.StatusCode {
		case http.StatusNoContent:
			continue
		case http.StatusOK:
		default:
			p.log.Debug().Int("status", resp.StatusCode).Msg("longpoll transport ended")
			return
		}

		msg, err := p.ser.Deserialize(data)
		if err != nil {
			p.log.Warn().Err(err).Msg("dropping longpoll transport after undecodable message")
			return
		}
		select {
		case p.recv <- msg:
		case <-p.ctx.Done():
			return
		}
	}
}

func (p *longPollPeer) Send(ctx context.Context, msg Message) error {
	if p.ctx.Err() != nil {
		return ErrClosed
	}
	data, err := p.ser.Serialize(msg)
	if err != nil {
		return err
	}
	resp, err := p.post(ctx, "/send", data)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrClosed, err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%w: send status %d", ErrClosed, resp.StatusCode)
	}
	return nil
}

func (p *longPollPeer) Recv() <-chan Message { return p.recv }

func (p *longPollPeer) Close() error {
	p.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), closeGrace)
		defer cancel()
		if resp, err := p.post(ctx, "/close", nil); err == nil {
			_ = resp.Body.Close()
		}
		p.cancel()
	})
	return nil
}
