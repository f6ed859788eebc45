package wamp

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// Serializer turns messages into frames and back.
type Serializer interface {
	// Subprotocol is the negotiated name, e.g. "wamp.2.json".
	Subprotocol() string
	// Binary reports whether frames must be sent as binary.
	Binary() bool
	Serialize(Message) ([]byte, error)
	Deserialize([]byte) (Message, error)
}

const (
	SubprotocolJSON = "wamp.2.json"
	SubprotocolCBOR = "wamp.2.cbor"
)

var (
	// JSON is the default text serializer.
	JSON Serializer = jsonSerializer{}
	// CBOR is the binary serializer.
	CBOR Serializer = newCBORSerializer()
)

// SerializerFor returns the serializer for a subprotocol name. The empty
// name selects JSON.
func SerializerFor(subprotocol string) (Serializer, error) {
	switch subprotocol {
	case "", SubprotocolJSON:
		return JSON, nil
	case SubprotocolCBOR:
		return CBOR, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedSerializer, subprotocol)
}

type jsonSerializer struct{}

func (jsonSerializer) Subprotocol() string { return SubprotocolJSON }
func (jsonSerializer) Binary() bool        { return false }

func (jsonSerializer) Serialize(msg Message) ([]byte, error) {
	raw, err := toList(msg)
	if err != nil {
		return nil, err
	}
	return json.Marshal(raw)
}

func (jsonSerializer) Deserialize(data []byte) (Message, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw []any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	return fromList(raw)
}

type cborSerializer struct {
	dec cbor.DecMode
}

func newCBORSerializer() cborSerializer {
	dm, err := cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic(err)
	}
	return cborSerializer{dec: dm}
}

func (cborSerializer) Subprotocol() string { return SubprotocolCBOR }
func (cborSerializer) Binary() bool        { return true }

func (cborSerializer) Serialize(msg Message) ([]byte, error) {
	raw, err := toList(msg)
	if err != nil {
		return nil, err
	}
	return cbor.Marshal(raw)
}

func (s cborSerializer) Deserialize(data []byte) (Message, error) {
	var raw []any
	if err := s.dec.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	return fromList(raw)
}
