package peer

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hoobean1996/shenbi-sub002/internal/domain"
	"github.com/hoobean1996/shenbi-sub002/internal/domain/events"
)

func TestAddressDerivation(t *testing.T) {
	require.Equal(t, "classroom/QWERTZ", Address("QWERTZ"))
}

func TestWelcomeFrameRoundTrip(t *testing.T) {
	ev := WelcomeEvent{
		Code:        "QWERTZ",
		TeacherName: "Ms. Lee",
		Status:      domain.StatusReady,
		Level:       json.RawMessage(`{"id":7}`),
	}

	raw, err := json.Marshal(events.Envelope(TypeWelcome, ev))
	require.NoError(t, err)

	var msg events.Message
	require.NoError(t, json.Unmarshal(raw, &msg))
	require.Equal(t, TypeWelcome, msg.Type)

	var got WelcomeEvent
	require.NoError(t, json.Unmarshal(msg.Data, &got))
	require.Equal(t, ev, got)
}

func TestResetFrameHasNoPayload(t *testing.T) {
	msg := events.Envelope(TypeReset, nil)
	require.Equal(t, TypeReset, msg.Type)
	require.Nil(t, msg.Data)
}
