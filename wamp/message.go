package wamp

import "fmt"

// MessageType is the leading integer of every WAMP message.
type MessageType int

const (
	HELLO        MessageType = 1
	WELCOME      MessageType = 2
	ABORT        MessageType = 3
	CHALLENGE    MessageType = 4
	AUTHENTICATE MessageType = 5
	GOODBYE      MessageType = 6
	ERROR        MessageType = 8
	CALL         MessageType = 48
	RESULT       MessageType = 50
)

func (t MessageType) String() string {
	switch t {
	case HELLO:
		return "HELLO"
	case WELCOME:
		return "WELCOME"
	case ABORT:
		return "ABORT"
	case CHALLENGE:
		return "CHALLENGE"
	case AUTHENTICATE:
		return "AUTHENTICATE"
	case GOODBYE:
		return "GOODBYE"
	case ERROR:
		return "ERROR"
	case CALL:
		return "CALL"
	case RESULT:
		return "RESULT"
	}
	return fmt.Sprintf("MessageType(%d)", int(t))
}

// Message is implemented by every wire message.
type Message interface {
	MessageType() MessageType
}

// Hello opens a session: [HELLO, Realm|uri, Details|dict].
type Hello struct {
	Realm   URI
	Details Dict
}

// Welcome accepts a session: [WELCOME, Session|id, Details|dict].
type Welcome struct {
	ID      ID
	Details Dict
}

// Abort rejects a session before it is established:
// [ABORT, Details|dict, Reason|uri].
type Abort struct {
	Details Dict
	Reason  URI
}

// Challenge asks the client to authenticate:
// [CHALLENGE, AuthMethod|string, Extra|dict].
type Challenge struct {
	AuthMethod string
	Extra      Dict
}

// Authenticate answers a challenge: [AUTHENTICATE, Signature|string, Extra|dict].
type Authenticate struct {
	Signature string
	Extra     Dict
}

// Goodbye closes an established session: [GOODBYE, Details|dict, Reason|uri].
type Goodbye struct {
	Details Dict
	Reason  URI
}

// ErrorMessage reports a failed request:
// [ERROR, REQUEST.Type|int, REQUEST.Request|id, Details|dict, Error|uri, Arguments|list, ArgumentsKw|dict].
type ErrorMessage struct {
	Type        MessageType
	Request     ID
	Details     Dict
	Error       URI
	Arguments   List
	ArgumentsKw Dict
}

// Call invokes a procedure:
// [CALL, Request|id, Options|dict, Procedure|uri, Arguments|list, ArgumentsKw|dict].
type Call struct {
	Request     ID
	Options     Dict
	Procedure   URI
	Arguments   List
	ArgumentsKw Dict
}

// Result carries a call's outcome:
// [RESULT, CALL.Request|id, Details|dict, YIELD.Arguments|list, YIELD.ArgumentsKw|dict].
type Result struct {
	Request     ID
	Details     Dict
	Arguments   List
	ArgumentsKw Dict
}

func (*Hello) MessageType() MessageType        { return HELLO }
func (*Welcome) MessageType() MessageType      { return WELCOME }
func (*Abort) MessageType() MessageType        { return ABORT }
func (*Challenge) MessageType() MessageType    { return CHALLENGE }
func (*Authenticate) MessageType() MessageType { return AUTHENTICATE }
func (*Goodbye) MessageType() MessageType      { return GOODBYE }
func (*ErrorMessage) MessageType() MessageType { return ERROR }
func (*Call) MessageType() MessageType         { return CALL }
func (*Result) MessageType() MessageType       { return RESULT }

func orEmpty(d Dict) Dict {
	if d == nil {
		return Dict{}
	}
	return d
}

// appendPayload appends the optional args/kwargs tail. Kwargs force an
// (possibly empty) args list to keep positions intact.
func appendPayload(out List, args List, kwargs Dict) List {
	if len(kwargs) > 0 {
		if args == nil {
			args = List{}
		}
		return append(out, args, kwargs)
	}
	if len(args) > 0 {
		return append(out, args)
	}
	return out
}

// toList flattens msg into its positional wire form.
func toList(msg Message) (List, error) {
	switch m := msg.(type) {
	case *Hello:
		return List{int(HELLO), string(m.Realm), orEmpty(m.Details)}, nil
	case *Welcome:
		return List{int(WELCOME), uint64(m.ID), orEmpty(m.Details)}, nil
	case *Abort:
		return List{int(ABORT), orEmpty(m.Details), string(m.Reason)}, nil
	case *Challenge:
		return List{int(CHALLENGE), m.AuthMethod, orEmpty(m.Extra)}, nil
	case *Authenticate:
		return List{int(AUTHENTICATE), m.Signature, orEmpty(m.Extra)}, nil
	case *Goodbye:
		return List{int(GOODBYE), orEmpty(m.Details), string(m.Reason)}, nil
	case *ErrorMessage:
		out := List{int(ERROR), int(m.Type), uint64(m.Request), orEmpty(m.Details), string(m.Error)}
		return appendPayload(out, m.Arguments, m.ArgumentsKw), nil
	case *Call:
		out := List{int(CALL), uint64(m.Request), orEmpty(m.Options), string(m.Procedure)}
		return appendPayload(out, m.Arguments, m.ArgumentsKw), nil
	case *Result:
		out := List{int(RESULT), uint64(m.Request), orEmpty(m.Details)}
		return appendPayload(out, m.Arguments, m.ArgumentsKw), nil
	case nil:
		return nil, fmt.Errorf("%w: nil message", ErrProtocol)
	}
	return nil, fmt.Errorf("%w: unsupported message %T", ErrProtocol, msg)
}

type fieldReader struct {
	raw List
	err error
}

func (r *fieldReader) fail(idx int, want string) {
	if r.err == nil {
		r.err = fmt.Errorf("%w: field %d is not a %s", ErrProtocol, idx, want)
	}
}

func (r *fieldReader) need(n int) bool {
	if len(r.raw) < n {
		r.err = fmt.Errorf("%w: expected at least %d fields, got %d", ErrProtocol, n, len(r.raw))
		return false
	}
	return true
}

func (r *fieldReader) id(idx int) ID {
	v, ok := AsID(r.raw[idx])
	if !ok {
		r.fail(idx, "id")
	}
	return v
}

func (r *fieldReader) str(idx int) string {
	v, ok := AsString(r.raw[idx])
	if !ok {
		r.fail(idx, "string")
	}
	return v
}

func (r *fieldReader) dict(idx int) Dict {
	if r.raw[idx] == nil {
		return Dict{}
	}
	v, ok := AsDict(r.raw[idx])
	if !ok {
		r.fail(idx, "dict")
	}
	return v
}

func (r *fieldReader) optList(idx int) List {
	if len(r.raw) <= idx || r.raw[idx] == nil {
		return nil
	}
	v, ok := AsList(r.raw[idx])
	if !ok {
		r.fail(idx, "list")
	}
	return v
}

func (r *fieldReader) optDict(idx int) Dict {
	if len(r.raw) <= idx || r.raw[idx] == nil {
		return nil
	}
	v, ok := AsDict(r.raw[idx])
	if !ok {
		r.fail(idx, "dict")
	}
	return v
}

// fromList rebuilds a message from its positional wire form.
func fromList(raw List) (Message, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty message", ErrProtocol)
	}
	code, ok := AsInt64(raw[0])
	if !ok {
		return nil, fmt.Errorf("%w: message type is not an integer", ErrProtocol)
	}

	r := &fieldReader{raw: raw}
	var msg Message
	switch MessageType(code) {
	case HELLO:
		if r.need(3) {
			msg = &Hello{Realm: URI(r.str(1)), Details: r.dict(2)}
		}
	case WELCOME:
		if r.need(3) {
			msg = &Welcome{ID: r.id(1), Details: r.dict(2)}
		}
	case ABORT:
		if r.need(3) {
			msg = &Abort{Details: r.dict(1), Reason: URI(r.str(2))}
		}
	case CHALLENGE:
		if r.need(3) {
			msg = &Challenge{AuthMethod: r.str(1), Extra: r.dict(2)}
		}
	case AUTHENTICATE:
		if r.need(3) {
			msg = &Authenticate{Signature: r.str(1), Extra: r.dict(2)}
		}
	case GOODBYE:
		if r.need(3) {
			msg = &Goodbye{Details: r.dict(1), Reason: URI(r.str(2))}
		}
	case ERROR:
		if r.need(5) {
			reqType, ok := AsInt64(raw[1])
			if !ok {
				r.fail(1, "integer")
			}
			msg = &ErrorMessage{
				Type:        MessageType(reqType),
				Request:     r.id(2),
				Details:     r.dict(3),
				Error:       URI(r.str(4)),
				Arguments:   r.optList(5),
				ArgumentsKw: r.optDict(6),
			}
		}
	case CALL:
		if r.need(4) {
			msg = &Call{
				Request:     r.id(1),
				Options:     r.dict(2),
				Procedure:   URI(r.str(3)),
				Arguments:   r.optList(4),
				ArgumentsKw: r.optDict(5),
			}
		}
	case RESULT:
		if r.need(3) {
			msg = &Result{
				Request:     r.id(1),
				Details:     r.dict(2),
				Arguments:   r.optList(3),
				ArgumentsKw: r.optDict(4),
			}
		}
	default:
		return nil, fmt.Errorf("%w: unsupported message type %d", ErrProtocol, code)
	}

	if r.err != nil {
		return nil, r.err
	}
	return msg, nil
}
