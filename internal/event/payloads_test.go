package event

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEnvelope(t *testing.T) {
	env := NewEnvelope(EventMessageNew, MessagePayload{MessageID: "m1", Body: "hi"})
	assert.Equal(t, EventMessageNew, env.Type)

	var p MessagePayload
	require.NoError(t, json.Unmarshal(env.Payload, &p))
	assert.Equal(t, "m1", p.MessageID)
	assert.Equal(t, "hi", p.Body)
}

func TestDecodeLegacyCallText(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		callType string
		status   string
		duration int
	}{
		{name: "missed video", body: "__call__:video:missed", callType: "video", status: "missed"},
		{name: "declined audio", body: "__call__:audio:declined", callType: "audio", status: "declined"},
		{name: "completed with seconds", body: "__call__:video:completed:154", callType: "video", status: "completed", duration: 154},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := DecodeLegacyCallText(tt.body)
			require.NoError(t, err)
			assert.Zero(t, p.Version, "legacy payloads are schema version 0")
			assert.Equal(t, tt.callType, p.CallType)
			assert.Equal(t, tt.status, p.Status)
			assert.Equal(t, tt.duration, p.Duration)
		})
	}
}

func TestDecodeLegacyCallTextRejectsOtherBodies(t *testing.T) {
	for _, body := range []string{
		"hello there",
		"__call__:",
		"__call__:video",
		"__call__::missed",
		"__call__:video:completed:soon",
		"",
	} {
		_, err := DecodeLegacyCallText(body)
		assert.ErrorIs(t, err, ErrNotLegacyCallText, "body %q", body)
	}
}
