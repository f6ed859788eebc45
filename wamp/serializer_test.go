package wamp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSerializersPreserveCallShape(t *testing.T) {
	call := &Call{
		Request:     7,
		Options:     Dict{},
		Procedure:   "liestudio.user.login",
		Arguments:   List{"liestudio", "lieadmin", Dict{"authmethod": "ticket"}},
		ArgumentsKw: Dict{"remember": true},
	}

	for _, ser := range []Serializer{JSON, CBOR} {
		t.Run(ser.Subprotocol(), func(t *testing.T) {
			data, err := ser.Serialize(call)
			require.NoError(t, err)

			msg, err := ser.Deserialize(data)
			require.NoError(t, err)
			got, ok := msg.(*Call)
			require.True(t, ok, "got %T", msg)

			assert.Equal(t, ID(7), got.Request)
			assert.Equal(t, URI("liestudio.user.login"), got.Procedure)
			require.Len(t, got.Arguments, 3)
			assert.Equal(t, "lieadmin", got.Arguments[1])
			details, ok := AsDict(got.Arguments[2])
			require.True(t, ok)
			assert.Equal(t, "ticket", details.String("authmethod"))
			assert.Equal(t, true, got.ArgumentsKw["remember"])
		})
	}
}

func TestJSONKeepsLargeIDsExact(t *testing.T) {
	data, err := JSON.Serialize(&Welcome{ID: MaxID, Details: Dict{"authid": "lieadmin"}})
	require.NoError(t, err)

	msg, err := JSON.Deserialize(data)
	require.NoError(t, err)
	assert.Equal(t, MaxID, msg.(*Welcome).ID)
}

func TestKwargsForceEmptyArgs(t *testing.T) {
	raw, err := toList(&Result{Request: 1, ArgumentsKw: Dict{"ok": true}})
	require.NoError(t, err)
	require.Len(t, raw, 5)
	assert.Equal(t, List{}, raw[3])
}

func TestDeserializeRejectsMalformed(t *testing.T) {
	cases := map[string]string{
		"empty":          `[]`,
		"unknown type":   `[99, {}]`,
		"short welcome":  `[2, 12]`,
		"string id":      `[50, "x", {}]`,
		"not an array":   `{"type": 1}`,
		"details string": `[1, "realm", "oops"]`,
	}
	for name, frame := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := JSON.Deserialize([]byte(frame))
			assert.ErrorIs(t, err, ErrProtocol)
		})
	}
}

func TestSerializerFor(t *testing.T) {
	s, err := SerializerFor("")
	require.NoError(t, err)
	assert.Equal(t, SubprotocolJSON, s.Subprotocol())

	s, err = SerializerFor(SubprotocolCBOR)
	require.NoError(t, err)
	assert.True(t, s.Binary())

	_, err = SerializerFor("wamp.2.msgpack")
	assert.ErrorIs(t, err, ErrUnsupportedSerializer)
}

func TestTruthy(t *testing.T) {
	assert.False(t, Truthy(nil))
	assert.False(t, Truthy(false))
	assert.False(t, Truthy(""))
	assert.False(t, Truthy(0))
	assert.False(t, Truthy(List{}))
	assert.False(t, Truthy(map[string]any{}))
	assert.True(t, Truthy("Welcome"))
	assert.True(t, Truthy(Dict{"uid": 1}))
	assert.True(t, Truthy(uint64(3)))
}
