package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

var level = json.RawMessage(`{"id":7,"blocks":["move","turn"]}`)

func TestBattleLifecycle(t *testing.T) {
	r := NewBattle("ABCDEF", "Ava", time.Hour)
	require.Equal(t, StatusWaiting, r.Status)
	require.Equal(t, RoleHost, r.Host.Role)

	guest, err := r.Join("Ben")
	require.NoError(t, err)
	require.Equal(t, StatusReady, r.Status)
	require.Equal(t, "Ben", guest.Name)

	// level handed over at start
	require.NoError(t, r.Start(level))
	require.Equal(t, StatusPlaying, r.Status)
	require.NotNil(t, r.StartedAt)

	require.NoError(t, r.UpdateProgress(guest.ID, 3, true))
	require.Equal(t, StatusEnded, r.Status)
	require.Equal(t, EndCompletion, r.EndReason)
	require.Equal(t, "Ben", r.WinnerName())
}

func TestBattleSecondCompletionDoesNotChangeWinner(t *testing.T) {
	r := NewBattle("ABCDEF", "Ava", time.Hour)
	guest, _ := r.Join("Ben")
	require.NoError(t, r.Start(level))

	require.NoError(t, r.UpdateProgress(guest.ID, 3, true))
	require.NoError(t, r.UpdateProgress(r.Host.ID, 3, true))

	require.Equal(t, "Ben", r.WinnerName())
	// the loser's completion is still recorded
	require.True(t, r.Host.Completed)
}

func TestBattleJoinRules(t *testing.T) {
	r := NewBattle("ABCDEF", "Ava", time.Hour)
	_, err := r.Join("Ben")
	require.NoError(t, err)

	_, err = r.Join("Cal")
	require.ErrorIs(t, err, ErrRoomClosed) // ready, no longer waiting

	require.NoError(t, r.Start(level))
	_, err = r.Join("Cal")
	require.ErrorIs(t, err, ErrRoomClosed)
}

func TestBattleLeaveAsymmetry(t *testing.T) {
	// host leaving before play deletes the room
	r := NewBattle("ABCDEF", "Ava", time.Hour)
	require.ErrorIs(t, r.Leave(r.Host.ID), ErrRoomGone)

	// guest leaving before play reverts to waiting with no guest
	r = NewBattle("ABCDEF", "Ava", time.Hour)
	guest, _ := r.Join("Ben")
	require.NoError(t, r.Leave(guest.ID))
	require.Equal(t, StatusWaiting, r.Status)
	require.Empty(t, r.Followers)

	// leaving during play forfeits in the other party's favor
	r = NewBattle("ABCDEF", "Ava", time.Hour)
	guest, _ = r.Join("Ben")
	require.NoError(t, r.Start(level))
	require.NoError(t, r.Leave(guest.ID))
	require.Equal(t, StatusEnded, r.Status)
	require.Equal(t, EndForfeit, r.EndReason)
	require.Equal(t, "Ava", r.WinnerName())

	r = NewBattle("ABCDEF", "Ava", time.Hour)
	_, _ = r.Join("Ben")
	require.NoError(t, r.Start(level))
	require.NoError(t, r.Leave(r.Host.ID))
	require.Equal(t, EndForfeit, r.EndReason)
	require.Equal(t, "Ben", r.WinnerName())
}

func TestClassroomLifecycle(t *testing.T) {
	r := NewClassroomSession("QWERTZ", 42, "Ms. Chen", 4*time.Hour)
	require.Equal(t, StatusWaiting, r.Status)

	mia, err := r.Join("Mia")
	require.NoError(t, err)
	require.Equal(t, StatusWaiting, r.Status)

	require.NoError(t, r.SetLevel(level))
	require.Equal(t, StatusReady, r.Status)

	// students may still join while ready
	_, err = r.Join("Leo")
	require.NoError(t, err)

	require.NoError(t, r.Start(nil))
	require.Equal(t, StatusPlaying, r.Status)

	require.NoError(t, r.UpdateProgress(mia.ID, 2, false))
	require.Equal(t, 2, r.Followers[mia.ID].StarsCollected)
}

func TestClassroomReset(t *testing.T) {
	r := NewClassroomSession("QWERTZ", 42, "Ms. Chen", 4*time.Hour)
	mia, _ := r.Join("Mia")
	leo, _ := r.Join("Leo")
	require.NoError(t, r.SetLevel(level))
	require.NoError(t, r.Start(nil))
	require.NoError(t, r.UpdateProgress(mia.ID, 3, true))
	require.NoError(t, r.UpdateProgress(leo.ID, 1, false))

	require.NoError(t, r.Reset())
	require.Equal(t, StatusReady, r.Status)
	require.Len(t, r.Followers, 2)
	for _, f := range r.Followers {
		require.Zero(t, f.StarsCollected)
		require.False(t, f.Completed)
	}
	require.Nil(t, r.Winner)
	require.NotNil(t, r.Level) // level survives a reset
}

func TestClassroomStudentLeaveKeepsProgress(t *testing.T) {
	r := NewClassroomSession("QWERTZ", 42, "Ms. Chen", 4*time.Hour)
	mia, _ := r.Join("Mia")
	require.NoError(t, r.SetLevel(level))
	require.NoError(t, r.Start(nil))
	require.NoError(t, r.UpdateProgress(mia.ID, 2, false))

	require.NoError(t, r.Leave(mia.ID))
	require.Equal(t, StatusPlaying, r.Status)
	require.False(t, r.Followers[mia.ID].Connected)
	require.Equal(t, 2, r.Followers[mia.ID].StarsCollected)
}

func TestPreconditionViolations(t *testing.T) {
	r := NewBattle("ABCDEF", "Ava", time.Hour)

	// start with no guest
	require.ErrorIs(t, r.Start(level), ErrBadTransition)

	_, _ = r.Join("Ben")

	// start with no level
	require.ErrorIs(t, r.Start(nil), ErrNoLevel)
	require.Equal(t, StatusReady, r.Status)

	require.NoError(t, r.Start(level))

	// level locked once playing
	require.ErrorIs(t, r.SetLevel(level), ErrLevelLocked)

	// reset only from playing or ended
	c := NewClassroomSession("QWERTZ", 42, "Ms. Chen", time.Hour)
	require.ErrorIs(t, c.Reset(), ErrBadTransition)

	// progress before play
	require.ErrorIs(t, c.UpdateProgress(c.Host.ID, 1, false), ErrBadTransition)
}

func TestProgressMonotonic(t *testing.T) {
	r := NewBattle("ABCDEF", "Ava", time.Hour)
	guest, _ := r.Join("Ben")
	require.NoError(t, r.Start(level))

	require.NoError(t, r.UpdateProgress(guest.ID, 3, false))
	require.NoError(t, r.UpdateProgress(guest.ID, 1, false))
	require.Equal(t, 3, r.Followers[guest.ID].StarsCollected)
}

func TestUpdateProgressUnknownParticipant(t *testing.T) {
	r := NewBattle("ABCDEF", "Ava", time.Hour)
	_, _ = r.Join("Ben")
	require.NoError(t, r.Start(level))
	require.ErrorIs(t, r.UpdateProgress(uuid.New(), 1, false), ErrNotParticipant)
}

func TestEndIsIdempotent(t *testing.T) {
	r := NewBattle("ABCDEF", "Ava", time.Hour)
	guest, _ := r.Join("Ben")
	require.NoError(t, r.Start(level))
	require.NoError(t, r.UpdateProgress(guest.ID, 1, true))

	require.NoError(t, r.End(EndClosed))
	require.Equal(t, EndCompletion, r.EndReason)
}

func TestExpired(t *testing.T) {
	r := NewBattle("ABCDEF", "Ava", time.Minute)
	require.False(t, r.Expired(time.Now()))
	require.True(t, r.Expired(time.Now().Add(2*time.Minute)))
}
