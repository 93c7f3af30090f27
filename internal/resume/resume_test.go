package resume

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hoobean1996/shenbi-sub002/internal/domain"
)

func testTTLs() TTLs {
	return TTLs{Battle: 30 * time.Minute, Classroom: 6 * time.Hour}
}

func TestFileBackendRoundTrip(t *testing.T) {
	b := NewFileBackend(t.TempDir())

	got, err := b.Get(domain.KindBattle)
	require.NoError(t, err)
	require.Nil(t, got)

	ref := Ref{RoomCode: "QWERTZ", Role: domain.RoleHost, DisplayName: "Ava", Token: "tok", CreatedAt: time.Now().UTC()}
	require.NoError(t, b.Set(domain.KindBattle, ref))

	got, err = b.Get(domain.KindBattle)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, ref.RoomCode, got.RoomCode)
	require.Equal(t, ref.Token, got.Token)

	require.NoError(t, b.Clear(domain.KindBattle))
	got, err = b.Get(domain.KindBattle)
	require.NoError(t, err)
	require.Nil(t, got)

	// clearing twice is fine
	require.NoError(t, b.Clear(domain.KindBattle))
}

func TestKindsAreIndependent(t *testing.T) {
	b := NewFileBackend(t.TempDir())

	require.NoError(t, b.Set(domain.KindBattle, Ref{RoomCode: "AAAAAA"}))
	require.NoError(t, b.Set(domain.KindClassroom, Ref{RoomCode: "BBBBBB"}))

	battle, err := b.Get(domain.KindBattle)
	require.NoError(t, err)
	classroom, err := b.Get(domain.KindClassroom)
	require.NoError(t, err)
	require.Equal(t, "AAAAAA", battle.RoomCode)
	require.Equal(t, "BBBBBB", classroom.RoomCode)
}

func TestManagerSaveAndLoad(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(NewFileBackend(dir), testTTLs())

	m.SaveRoom(domain.KindClassroom, Ref{RoomCode: "QWERTZ", Role: domain.RoleTeacher, DisplayName: "Ms. Lee"})

	ref := m.Load(domain.KindClassroom)
	require.NotNil(t, ref)
	require.Equal(t, "QWERTZ", ref.RoomCode)
	require.False(t, ref.CreatedAt.IsZero())

	// write-behind persist eventually lands on disk
	require.Eventually(t, func() bool {
		_, err := os.Stat(filepath.Join(dir, "classroom.json"))
		return err == nil
	}, time.Second, 10*time.Millisecond)
}

func TestManagerExpiredRefClearsBackend(t *testing.T) {
	dir := t.TempDir()
	backend := NewFileBackend(dir)
	require.NoError(t, backend.Set(domain.KindBattle, Ref{
		RoomCode:  "QWERTZ",
		Role:      domain.RoleHost,
		CreatedAt: time.Now().Add(-time.Hour),
	}))

	m := NewManager(backend, testTTLs())
	require.Nil(t, m.Load(domain.KindBattle))

	require.Eventually(t, func() bool {
		_, err := os.Stat(filepath.Join(dir, "battle.json"))
		return os.IsNotExist(err)
	}, time.Second, 10*time.Millisecond)

	// stays gone on the next load
	require.Nil(t, m.Load(domain.KindBattle))
}

func TestManagerClearRoom(t *testing.T) {
	m := NewManager(NewFileBackend(t.TempDir()), testTTLs())

	m.SaveRoom(domain.KindBattle, Ref{RoomCode: "QWERTZ", Role: domain.RoleGuest, DisplayName: "Ben"})
	require.NotNil(t, m.Load(domain.KindBattle))

	m.ClearRoom(domain.KindBattle)
	require.Nil(t, m.Load(domain.KindBattle))
}
