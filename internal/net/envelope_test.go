package net

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	frame, err := EncodeEnvelope(7, "cmd_move", map[string]any{"direction": "north"})
	require.NoError(t, err)

	env, err := DecodeEnvelope(frame)
	require.NoError(t, err)
	require.EqualValues(t, 7, env.ID)
	require.Equal(t, "cmd_move", env.Type)

	var payload struct {
		Direction string `msgpack:"direction"`
	}
	require.NoError(t, env.Decode(&payload))
	require.Equal(t, "north", payload.Direction)
}

func TestEnvelopeNilPayload(t *testing.T) {
	// A nil payload still puts a map on the wire.
	frame, err := EncodeEnvelope(0, "evt_tick", nil)
	require.NoError(t, err)

	env, err := DecodeEnvelope(frame)
	require.NoError(t, err)
	require.NotEmpty(t, env.Payload)
	var m map[string]any
	require.NoError(t, env.Decode(&m))
	require.Empty(t, m)
}

func TestNextEventIDFreshAndMonotonic(t *testing.T) {
	a := NextEventID()
	b := NextEventID()
	require.NotZero(t, a)
	require.Greater(t, b, a)
}

func TestEnvelopeRejectsMissingType(t *testing.T) {
	raw, err := msgpack.Marshal(&Envelope{ID: 1})
	require.NoError(t, err)
	_, err = DecodeEnvelope(raw)
	require.Error(t, err)

	_, err = DecodeEnvelope([]byte{0xc1})
	require.Error(t, err)
}
