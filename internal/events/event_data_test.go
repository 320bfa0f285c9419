package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelope_Encode(t *testing.T) {
	env := Envelope{TS: 1700000000000, Source: "node-1"}.WithCount(12)

	data, err := env.Encode()
	require.NoError(t, err)
	assert.JSONEq(t, `{"ts":1700000000000,"count":12,"source":"node-1"}`, string(data))

	data, err = Envelope{TS: 1}.WithEventID("34626187").Encode()
	require.NoError(t, err)
	assert.JSONEq(t, `{"eventId":"34626187","ts":1}`, string(data))
}

func TestDecodeEnvelope(t *testing.T) {
	env, err := DecodeEnvelope([]byte(`{"eventId":"A","ts":5,"count":0}`))
	require.NoError(t, err)
	assert.Equal(t, "A", env.EventID)
	assert.Equal(t, int64(5), env.TS)
	require.NotNil(t, env.Count)
	assert.Equal(t, 0, *env.Count)

	_, err = DecodeEnvelope([]byte("not json"))
	assert.Error(t, err)
}

func TestNewEnvelope_Stamped(t *testing.T) {
	env := NewEnvelope("node-1")
	assert.Positive(t, env.TS)
	assert.Equal(t, "node-1", env.Source)
	assert.Nil(t, env.Count)
}
