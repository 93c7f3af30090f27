package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestProjectInitiator(t *testing.T) {
	r := NewClassroomSession("QWERTZ", 42, "Ms. Chen", time.Hour)
	mia, _ := r.Join("Mia")
	_, _ = r.Join("Leo")
	require.NoError(t, r.SetLevel(level))
	require.NoError(t, r.Start(nil))
	require.NoError(t, r.UpdateProgress(mia.ID, 2, false))

	snap := Project(r, RoleTeacher, r.Host.ID)
	require.Equal(t, RoleTeacher, snap.Role)
	require.Nil(t, snap.Follower)
	require.Equal(t, StatusPlaying, snap.Status())
	require.Equal(t, "QWERTZ", snap.Code())

	view := snap.Initiator
	require.Len(t, view.Participants, 2)
	// sorted by join time
	require.Equal(t, "Mia", view.Participants[0].Name)
	require.Equal(t, 2, view.Participants[0].StarsCollected)
	require.Equal(t, 2, view.Summary.ParticipantCount)
	require.Equal(t, 1.0, view.Summary.AverageStars)
}

func TestProjectFollowerHidesPeers(t *testing.T) {
	r := NewClassroomSession("QWERTZ", 42, "Ms. Chen", time.Hour)
	mia, _ := r.Join("Mia")
	_, _ = r.Join("Leo")

	snap := Project(r, RoleStudent, mia.ID)
	require.Nil(t, snap.Initiator)

	view := snap.Follower
	require.Equal(t, "Ms. Chen", view.InitiatorName)
	require.Nil(t, view.MyProgress) // no update posted yet
	// only counts are visible, never other identities
	require.Equal(t, 2, view.Summary.ParticipantCount)
}

func TestProjectFollowerOwnProgressAndWinner(t *testing.T) {
	r := NewBattle("ABCDEF", "Ava", time.Hour)
	ben, _ := r.Join("Ben")
	require.NoError(t, r.Start(level))
	require.NoError(t, r.UpdateProgress(ben.ID, 3, true))

	snap := Project(r, RoleGuest, ben.ID)
	require.Equal(t, StatusEnded, snap.Status())
	require.True(t, snap.Follower.IsWinner)
	require.Equal(t, 3, snap.Follower.MyProgress.StarsCollected)

	hostSnap := Project(r, RoleHost, r.Host.ID)
	require.Equal(t, "Ben", hostSnap.Initiator.WinnerName)
}

func TestProjectUnknownSelf(t *testing.T) {
	r := NewBattle("ABCDEF", "Ava", time.Hour)
	snap := Project(r, RoleGuest, uuid.New())
	require.Nil(t, snap.Follower.MyProgress)
	require.False(t, snap.Follower.IsWinner)
}

func TestSummaryRecomputed(t *testing.T) {
	r := NewBattle("ABCDEF", "Ava", time.Hour)
	ben, _ := r.Join("Ben")
	require.NoError(t, r.Start(level))

	require.Equal(t, 2, r.Summarize().ParticipantCount)

	require.NoError(t, r.UpdateProgress(ben.ID, 4, false))
	require.NoError(t, r.UpdateProgress(r.Host.ID, 2, false))
	s := r.Summarize()
	require.Equal(t, 3.0, s.AverageStars)
	require.Equal(t, 0, s.CompletedCount)
}
