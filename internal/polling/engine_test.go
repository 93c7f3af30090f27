package polling

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hoobean1996/shenbi-sub002/internal/domain"
)

// fakeAccessor serves canned snapshots and counts calls.
type fakeAccessor struct {
	mu         sync.Mutex
	fetchCount int
	fetchSnap  domain.Snapshot
	fetchErr   error

	progress []pendingProgress
	leaveErr error
	leaves   int
}

func (f *fakeAccessor) setFetch(snap domain.Snapshot, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchSnap = snap
	f.fetchErr = err
}

func (f *fakeAccessor) fetches() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetchCount
}

func snapshotWith(status domain.Status) domain.Snapshot {
	return domain.Snapshot{
		Role:     domain.RoleHost,
		Initiator: &domain.InitiatorView{Code: "ABCDEF", Kind: domain.KindBattle, Status: status},
	}
}

func (f *fakeAccessor) CreateBattle(ctx context.Context, hostName string) (*Membership, error) {
	return &Membership{Snapshot: snapshotWith(domain.StatusWaiting), Token: "token"}, nil
}

func (f *fakeAccessor) JoinBattle(ctx context.Context, code, name string) (*Membership, error) {
	snap := domain.Snapshot{
		Role:     domain.RoleGuest,
		Follower: &domain.FollowerView{Code: code, Kind: domain.KindBattle, Status: domain.StatusReady},
	}
	return &Membership{Snapshot: snap, Token: "token"}, nil
}

func (f *fakeAccessor) CreateClassroomSession(ctx context.Context, classroomID int64, teacherName string) (*Membership, error) {
	return &Membership{Snapshot: snapshotWith(domain.StatusWaiting), Token: "token"}, nil
}

func (f *fakeAccessor) JoinSession(ctx context.Context, code, name string) (*Membership, error) {
	return f.JoinBattle(ctx, code, name)
}

func (f *fakeAccessor) Fetch(ctx context.Context, token, code string) (domain.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchCount++
	return f.fetchSnap, f.fetchErr
}

func (f *fakeAccessor) Rejoin(ctx context.Context, token, code string) (domain.Snapshot, error) {
	return f.Fetch(ctx, token, code)
}

func (f *fakeAccessor) SetLevel(ctx context.Context, token, code string, level json.RawMessage) (domain.Snapshot, error) {
	return snapshotWith(domain.StatusReady), nil
}

func (f *fakeAccessor) Start(ctx context.Context, token, code string, level json.RawMessage) (domain.Snapshot, error) {
	return snapshotWith(domain.StatusPlaying), nil
}

func (f *fakeAccessor) Reset(ctx context.Context, token, code string) (domain.Snapshot, error) {
	return snapshotWith(domain.StatusReady), nil
}

func (f *fakeAccessor) UpdateProgress(ctx context.Context, token, code string, stars int, completed bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.progress = append(f.progress, pendingProgress{stars: stars, completed: completed})
	return nil
}

func (f *fakeAccessor) End(ctx context.Context, token, code string) error {
	return nil
}

func (f *fakeAccessor) Leave(ctx context.Context, token, code string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.leaves++
	return f.leaveErr
}

func newTestEngine(fake *fakeAccessor) *Engine {
	return NewEngine(fake, Intervals{Waiting: 50 * time.Millisecond, Playing: 50 * time.Millisecond})
}

func TestStartPollingTwiceKeepsSingleCadence(t *testing.T) {
	fake := &fakeAccessor{}
	fake.setFetch(snapshotWith(domain.StatusWaiting), nil)

	e := newTestEngine(fake)
	_, err := e.CreateBattle(context.Background(), "Ava")
	require.NoError(t, err)

	e.StartPolling(context.Background())
	e.StartPolling(context.Background())

	time.Sleep(275 * time.Millisecond)
	e.StopPolling()

	// one immediate fetch plus ~5 ticks; a doubled cadence would show ~12
	n := fake.fetches()
	require.GreaterOrEqual(t, n, 4)
	require.LessOrEqual(t, n, 9)
}

func TestPollingStopsOnTerminalStatus(t *testing.T) {
	fake := &fakeAccessor{}
	fake.setFetch(snapshotWith(domain.StatusEnded), nil)

	e := newTestEngine(fake)
	_, err := e.CreateBattle(context.Background(), "Ava")
	require.NoError(t, err)

	var got []domain.Status
	var mu sync.Mutex
	e.SetHandlers(Handlers{OnState: func(s domain.Snapshot) {
		mu.Lock()
		got = append(got, s.Status())
		mu.Unlock()
	}})

	e.StartPolling(context.Background())
	time.Sleep(200 * time.Millisecond)

	require.Equal(t, 1, fake.fetches())
	mu.Lock()
	require.Equal(t, []domain.Status{domain.StatusEnded}, got)
	mu.Unlock()
	require.Equal(t, domain.StatusEnded, e.Status())
}

func TestPollingStopsAndSurfacesFetchError(t *testing.T) {
	fake := &fakeAccessor{}
	fake.setFetch(domain.Snapshot{}, &APIError{Status: 404, Message: "room not found"})

	e := newTestEngine(fake)
	_, err := e.CreateBattle(context.Background(), "Ava")
	require.NoError(t, err)

	errCh := make(chan error, 1)
	e.SetHandlers(Handlers{OnError: func(err error) { errCh <- err }})

	e.StartPolling(context.Background())

	select {
	case err := <-errCh:
		require.True(t, IsNotFound(err))
	case <-time.After(time.Second):
		t.Fatal("expected error callback")
	}

	// no retry after failure
	time.Sleep(150 * time.Millisecond)
	require.Equal(t, 1, fake.fetches())
}

func TestHandlersReadAtCallTime(t *testing.T) {
	fake := &fakeAccessor{}
	fake.setFetch(snapshotWith(domain.StatusWaiting), nil)

	e := newTestEngine(fake)
	_, err := e.CreateBattle(context.Background(), "Ava")
	require.NoError(t, err)

	stale := make(chan struct{}, 100)
	e.SetHandlers(Handlers{OnState: func(domain.Snapshot) { stale <- struct{}{} }})

	fresh := make(chan struct{}, 100)
	e.SetHandlers(Handlers{OnState: func(domain.Snapshot) { fresh <- struct{}{} }})

	e.StartPolling(context.Background())
	defer e.StopPolling()

	select {
	case <-fresh:
	case <-time.After(time.Second):
		t.Fatal("expected fresh handler to fire")
	}
	select {
	case <-stale:
		t.Fatal("stale handler must not fire after replacement")
	default:
	}
}

func TestJoinByCodeValidatesLocally(t *testing.T) {
	fake := &fakeAccessor{}
	e := newTestEngine(fake)

	_, err := e.JoinByCode(context.Background(), "abc", "Mia")
	require.ErrorIs(t, err, domain.ErrInvalidCode)
	require.Equal(t, domain.StatusIdle, e.Status())

	// normalization happens before validation
	_, err = e.JoinByCode(context.Background(), "  qwertz ", "Mia")
	require.NoError(t, err)
}

func TestResumeAdoptsKeptToken(t *testing.T) {
	fake := &fakeAccessor{}
	fake.setFetch(snapshotWith(domain.StatusPlaying), nil)

	e := newTestEngine(fake)
	snap, err := e.Resume(context.Background(), "abcdef", "kept-token")
	require.NoError(t, err)
	require.Equal(t, domain.StatusPlaying, snap.Status())
	require.Equal(t, domain.StatusPlaying, e.Status())

	_, err = e.Resume(context.Background(), "short", "kept-token")
	require.ErrorIs(t, err, domain.ErrInvalidCode)
}

func TestProgressCoalescing(t *testing.T) {
	fake := &fakeAccessor{}
	fake.setFetch(snapshotWith(domain.StatusPlaying), nil)

	e := newTestEngine(fake)
	_, err := e.CreateBattle(context.Background(), "Ava")
	require.NoError(t, err)

	// a burst of updates; with one request in flight at a time the engine
	// must deliver the first and the last, skipping at least some middle
	for i := 1; i <= 50; i++ {
		e.UpdateProgress(context.Background(), i, i == 50)
	}

	require.Eventually(t, func() bool {
		fake.mu.Lock()
		defer fake.mu.Unlock()
		n := len(fake.progress)
		return n > 0 && fake.progress[n-1].stars == 50 && fake.progress[n-1].completed
	}, time.Second, 10*time.Millisecond)

	fake.mu.Lock()
	defer fake.mu.Unlock()
	require.Less(t, len(fake.progress), 50)
}

func TestLeaveStopsPollingAndSwallowsRemoteFailure(t *testing.T) {
	fake := &fakeAccessor{leaveErr: errors.New("boom")}
	fake.setFetch(snapshotWith(domain.StatusWaiting), nil)

	e := newTestEngine(fake)
	_, err := e.CreateBattle(context.Background(), "Ava")
	require.NoError(t, err)

	e.StartPolling(context.Background())
	time.Sleep(60 * time.Millisecond)

	e.Leave(context.Background())

	fake.mu.Lock()
	require.Equal(t, 1, fake.leaves)
	fake.mu.Unlock()
	require.Equal(t, domain.StatusIdle, e.Status())

	// polling is really gone
	before := fake.fetches()
	time.Sleep(150 * time.Millisecond)
	require.Equal(t, before, fake.fetches())
}

func TestMutatingActionsAdoptResponse(t *testing.T) {
	fake := &fakeAccessor{}
	e := newTestEngine(fake)
	_, err := e.CreateBattle(context.Background(), "Ava")
	require.NoError(t, err)

	snap, err := e.Start(context.Background(), json.RawMessage(`{"id":1}`))
	require.NoError(t, err)
	require.Equal(t, domain.StatusPlaying, snap.Status())
	require.Equal(t, domain.StatusPlaying, e.Status())
}
