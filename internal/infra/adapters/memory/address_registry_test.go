package memory

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestPublishConflict(t *testing.T) {
	reg := NewAddressRegistry()
	owner := uuid.New()

	require.NoError(t, reg.Publish("classroom/ABCDEF", owner))
	require.ErrorIs(t, reg.Publish("classroom/ABCDEF", uuid.New()), ErrAddressInUse)

	got, ok := reg.Resolve("classroom/ABCDEF")
	require.True(t, ok)
	require.Equal(t, owner, got)
}

func TestUnpublishConn(t *testing.T) {
	reg := NewAddressRegistry()
	owner := uuid.New()
	require.NoError(t, reg.Publish("classroom/ABCDEF", owner))
	require.NoError(t, reg.Publish("classroom/QWERTZ", owner))
	require.NoError(t, reg.Publish("classroom/ZZZZZZ", uuid.New()))

	dropped := reg.UnpublishConn(owner)
	require.Len(t, dropped, 2)

	_, ok := reg.Resolve("classroom/ABCDEF")
	require.False(t, ok)
	_, ok = reg.Resolve("classroom/ZZZZZZ")
	require.True(t, ok)
}
