package router

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/liestudio/studio/wamp"
)

const goodbyeGrace = time.Second

type session struct {
	router    *Router
	peer      wamp.Peer
	id        wamp.ID
	principal *Principal
	transport wamp.Dict

	calls sync.WaitGroup
}

func (s *session) logger() zerolog.Logger {
	return s.router.log.With().Uint64("session", uint64(s.id)).Logger()
}

func (s *session) serve(ctx context.Context) error {
	callCtx, cancelCalls := context.WithCancel(context.Background())
	defer func() {
		cancelCalls()
		s.calls.Wait()
	}()

	for {
		select {
		case msg, ok := <-s.peer.Recv():
			if !ok {
				return nil
			}
			switch m := msg.(type) {
			case *wamp.Call:
				s.calls.Add(1)
				go s.invoke(callCtx, m)
			case *wamp.Goodbye:
				sendCtx, cancel := context.WithTimeout(context.Background(), goodbyeGrace)
				_ = s.peer.Send(sendCtx, &wamp.Goodbye{Details: wamp.Dict{}, Reason: wamp.CloseGoodbyeAndOut})
				cancel()
				return nil
			case *wamp.Abort:
				return nil
			default:
				sendCtx, cancel := context.WithTimeout(context.Background(), goodbyeGrace)
				_ = s.peer.Send(sendCtx, &wamp.Abort{
					Details: wamp.Dict{"message": "unsupported message " + msg.MessageType().String()},
					Reason:  wamp.ErrProtocolViolation,
				})
				cancel()
				return fmt.Errorf("%w: %s after WELCOME", wamp.ErrProtocol, msg.MessageType())
			}
		case <-ctx.Done():
			sendCtx, cancel := context.WithTimeout(context.Background(), goodbyeGrace)
			_ = s.peer.Send(sendCtx, &wamp.Goodbye{Details: wamp.Dict{}, Reason: wamp.CloseSystemShutdown})
			cancel()
			return nil
		}
	}
}

func (s *session) invoke(ctx context.Context, call *wamp.Call) {
	defer s.calls.Done()

	reply := s.run(ctx, call)
	sendCtx, cancel := context.WithTimeout(context.Background(), s.router.cfg.HandshakeTimeout)
	defer cancel()
	if err := s.peer.Send(sendCtx, reply); err != nil {
		log := s.logger()
		log.Debug().Err(err).Str("procedure", string(call.Procedure)).Msg("reply not delivered")
	}
}

func (s *session) run(ctx context.Context, call *wamp.Call) (reply wamp.Message) {
	proc, ok := s.router.procedure(call.Procedure)
	if !ok {
		return errorReply(call, wamp.NewError(wamp.ErrNoSuchProcedure, string(call.Procedure)))
	}

	defer func() {
		if p := recover(); p != nil {
			log := s.logger()
			log.Error().Interface("panic", p).Str("procedure", string(call.Procedure)).Msg("procedure panicked")
			reply = errorReply(call, wamp.NewError(wamp.ErrRuntime, "internal error"))
		}
	}()

	res, err := proc(ctx, &Invocation{
		Session:   s.id,
		AuthID:    s.principal.AuthID,
		AuthRole:  s.principal.Role,
		Procedure: call.Procedure,
		Args:      call.Arguments,
		Kwargs:    call.ArgumentsKw,
		Transport: s.transport,
	})
	if err != nil {
		var werr *wamp.Error
		if !errors.As(err, &werr) {
			log := s.logger()
			log.Warn().Err(err).Str("procedure", string(call.Procedure)).Msg("procedure failed")
			werr = wamp.NewError(wamp.ErrRuntime, err.Error())
		}
		return errorReply(call, werr)
	}
	if res == nil {
		res = &wamp.CallResult{}
	}
	return &wamp.Result{Request: call.Request, Details: wamp.Dict{}, Arguments: res.Args, ArgumentsKw: res.Kwargs}
}

func errorReply(call *wamp.Call, err *wamp.Error) *wamp.ErrorMessage {
	return &wamp.ErrorMessage{
		Type:        wamp.CALL,
		Request:     call.Request,
		Details:     wamp.Dict{},
		Error:       err.URI,
		Arguments:   err.Args,
		ArgumentsKw: err.Kwargs,
	}
}
