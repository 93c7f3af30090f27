package polling

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/hoobean1996/shenbi-sub002/internal/application/constant"
	"github.com/hoobean1996/shenbi-sub002/internal/domain"
)

// Handlers are the engine's observer callbacks. The registry is mutable and
// read at call time, so replacing it mid-session takes effect on the next
// notification rather than keeping stale callbacks alive.
type Handlers struct {
	OnState func(domain.Snapshot)
	OnError func(error)
}

// Intervals are the two polling cadence classes: fast while the room is
// forming, slow during active play.
type Intervals struct {
	Waiting time.Duration
	Playing time.Duration
}

const (
	DefaultWaitingInterval = 2 * time.Second
	DefaultPlayingInterval = 10 * time.Second
)

type pendingProgress struct {
	stars     int
	completed bool
}

// Engine keeps a local mirror of one room synchronized with the remote
// accessor by periodic fetch. At most one polling worker runs per engine;
// requests are never pipelined, so snapshots apply in issue order without
// sequence numbers.
type Engine struct {
	accessor  RoomAccessor
	intervals Intervals

	mu       sync.Mutex
	handlers Handlers
	snapshot domain.Snapshot
	status   domain.Status
	code     string
	token    string
	gen      int
	stop     chan struct{}

	// progress coalescing: one ping in flight, latest pending value wins
	pending  *pendingProgress
	inflight bool
}

func NewEngine(accessor RoomAccessor, intervals Intervals) *Engine {
	if intervals.Waiting <= 0 {
		intervals.Waiting = DefaultWaitingInterval
	}
	if intervals.Playing <= 0 {
		intervals.Playing = DefaultPlayingInterval
	}
	return &Engine{
		accessor:  accessor,
		intervals: intervals,
		status:    domain.StatusIdle,
	}
}

// SetHandlers replaces the observer registry.
func (e *Engine) SetHandlers(h Handlers) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers = h
}

// Snapshot returns the current mirror. The value is immutable; consumers
// must not hold onto interior slices across ticks.
func (e *Engine) Snapshot() domain.Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshot
}

// Status returns the engine-local status, which also covers the idle,
// creating and joining phases a remote room never sees.
func (e *Engine) Status() domain.Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

func (e *Engine) CreateBattle(ctx context.Context, hostName string) (domain.Snapshot, error) {
	e.setStatus(domain.StatusCreating)

	m, err := e.accessor.CreateBattle(ctx, hostName)
	if err != nil {
		e.setStatus(domain.StatusIdle)
		return domain.Snapshot{}, err
	}

	e.adopt(m)
	return m.Snapshot, nil
}

func (e *Engine) CreateClassroomSession(ctx context.Context, classroomID int64, teacherName string) (domain.Snapshot, error) {
	e.setStatus(domain.StatusCreating)

	m, err := e.accessor.CreateClassroomSession(ctx, classroomID, teacherName)
	if err != nil {
		e.setStatus(domain.StatusIdle)
		return domain.Snapshot{}, err
	}

	e.adopt(m)
	return m.Snapshot, nil
}

// JoinBattle joins by room code. The code is normalized and validated
// locally; a malformed code never reaches the network.
func (e *Engine) JoinBattle(ctx context.Context, code, name string) (domain.Snapshot, error) {
	return e.join(ctx, code, name, e.accessor.JoinBattle)
}

// JoinByCode is the classroom equivalent of JoinBattle.
func (e *Engine) JoinByCode(ctx context.Context, code, name string) (domain.Snapshot, error) {
	return e.join(ctx, code, name, e.accessor.JoinSession)
}

func (e *Engine) join(
	ctx context.Context,
	code, name string,
	op func(context.Context, string, string) (*Membership, error),
) (domain.Snapshot, error) {
	code = domain.NormalizeCode(code)
	if err := domain.ValidateCode(code); err != nil {
		return domain.Snapshot{}, err
	}

	e.setStatus(domain.StatusJoining)

	m, err := op(ctx, code, name)
	if err != nil {
		e.setStatus(domain.StatusIdle)
		return domain.Snapshot{}, err
	}

	e.adopt(m)
	return m.Snapshot, nil
}

// Resume re-enters a room after a reload using a kept session token. On
// success the engine is in the same position as after a fresh create/join;
// the caller restarts polling.
func (e *Engine) Resume(ctx context.Context, code, token string) (domain.Snapshot, error) {
	code = domain.NormalizeCode(code)
	if err := domain.ValidateCode(code); err != nil {
		return domain.Snapshot{}, err
	}

	e.setStatus(domain.StatusJoining)

	snap, err := e.accessor.Rejoin(ctx, token, code)
	if err != nil {
		e.setStatus(domain.StatusIdle)
		return domain.Snapshot{}, err
	}

	e.adopt(&Membership{Snapshot: snap, Token: token})
	return snap, nil
}

// StartPolling launches the reconciliation worker: an immediate fetch, then
// one fetch per interval tick. Calling it again cancels the previous worker
// first, so two concurrent cadences can never exist for one engine.
func (e *Engine) StartPolling(ctx context.Context) {
	e.mu.Lock()
	if e.stop != nil {
		close(e.stop)
	}
	stop := make(chan struct{})
	e.stop = stop
	e.gen++
	gen := e.gen
	code, token := e.code, e.token
	e.mu.Unlock()

	go e.poll(ctx, gen, stop, code, token)
}

// StopPolling cancels the worker, if any. Idempotent.
func (e *Engine) StopPolling() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopLocked()
}

func (e *Engine) poll(ctx context.Context, gen int, stop chan struct{}, code, token string) {
	for {
		snap, err := e.accessor.Fetch(ctx, token, code)
		if err != nil {
			e.failPolling(gen, err)
			return
		}
		if !e.apply(gen, snap) {
			return
		}

		// interval class follows the freshly observed status; a new timer
		// per cycle is the stop-then-restart the cadence guarantee needs
		interval := e.intervals.Waiting
		if snap.Status() == domain.StatusPlaying {
			interval = e.intervals.Playing
		}

		timer := time.NewTimer(interval)
		select {
		case <-stop:
			timer.Stop()
			return
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// apply installs the snapshot if the worker is still current. Returns false
// when the worker must exit (superseded, or the room reached a terminal
// status).
func (e *Engine) apply(gen int, snap domain.Snapshot) bool {
	e.mu.Lock()
	if gen != e.gen {
		e.mu.Unlock()
		return false
	}

	e.snapshot = snap
	e.status = snap.Status()
	terminal := e.status.Terminal()
	if terminal {
		e.stopLocked()
	}
	onState := e.handlers.OnState
	e.mu.Unlock()

	if onState != nil {
		onState(snap)
	}
	return !terminal
}

// failPolling stops the worker on any fetch failure: the usual cause is a
// room that no longer exists, and hammering it would only confuse the user.
// The error is surfaced only if a session was actually underway.
func (e *Engine) failPolling(gen int, err error) {
	e.mu.Lock()
	if gen != e.gen {
		e.mu.Unlock()
		return
	}
	e.stopLocked()
	wasActive := e.status != domain.StatusIdle
	onError := e.handlers.OnError
	e.mu.Unlock()

	if wasActive && onError != nil {
		onError(err)
	}
}

// SetLevel adopts the returned room state directly; no extra fetch needed.
func (e *Engine) SetLevel(ctx context.Context, level json.RawMessage) (domain.Snapshot, error) {
	return e.mutate(ctx, func(token, code string) (domain.Snapshot, error) {
		return e.accessor.SetLevel(ctx, token, code, level)
	})
}

func (e *Engine) Start(ctx context.Context, level json.RawMessage) (domain.Snapshot, error) {
	return e.mutate(ctx, func(token, code string) (domain.Snapshot, error) {
		return e.accessor.Start(ctx, token, code, level)
	})
}

func (e *Engine) Reset(ctx context.Context) (domain.Snapshot, error) {
	return e.mutate(ctx, func(token, code string) (domain.Snapshot, error) {
		return e.accessor.Reset(ctx, token, code)
	})
}

func (e *Engine) mutate(_ context.Context, op func(token, code string) (domain.Snapshot, error)) (domain.Snapshot, error) {
	e.mu.Lock()
	token, code, gen := e.token, e.code, e.gen
	e.mu.Unlock()

	snap, err := op(token, code)
	if err != nil {
		return domain.Snapshot{}, err
	}

	e.apply(gen, snap)
	return snap, nil
}

// UpdateProgress is a best-effort ping: failures are logged, never surfaced,
// and rapid successive updates coalesce so at most one request is in flight.
// Intermediate values are dropped deliberately; the progress metric is
// monotonic, so the newest value subsumes them.
func (e *Engine) UpdateProgress(ctx context.Context, stars int, completed bool) {
	e.mu.Lock()
	e.pending = &pendingProgress{stars: stars, completed: completed}
	if e.inflight {
		e.mu.Unlock()
		return
	}
	e.inflight = true
	token, code := e.token, e.code
	e.mu.Unlock()

	go e.flushProgress(ctx, token, code)
}

func (e *Engine) flushProgress(ctx context.Context, token, code string) {
	for {
		e.mu.Lock()
		p := e.pending
		e.pending = nil
		if p == nil {
			e.inflight = false
			e.mu.Unlock()
			return
		}
		e.mu.Unlock()

		if err := e.accessor.UpdateProgress(ctx, token, code, p.stars, p.completed); err != nil {
			slog.Warn(
				"progress ping failed",
				slog.Any(constant.Error, err),
				slog.String(constant.RoomCode, code),
			)
		}
	}
}

// End stops polling first, then tells the remote side; remote failure is
// swallowed because local cleanup must be unconditional.
func (e *Engine) End(ctx context.Context) {
	e.teardown(ctx, e.accessor.End, domain.StatusEnded)
}

// Leave mirrors End for a non-initiator departure.
func (e *Engine) Leave(ctx context.Context) {
	e.teardown(ctx, e.accessor.Leave, domain.StatusIdle)
}

func (e *Engine) teardown(
	ctx context.Context,
	op func(context.Context, string, string) error,
	final domain.Status,
) {
	e.mu.Lock()
	e.stopLocked()
	token, code := e.token, e.code
	e.status = final
	e.token = ""
	e.code = ""
	e.mu.Unlock()

	if code == "" {
		return
	}
	if err := op(ctx, token, code); err != nil {
		slog.Warn(
			"remote cleanup failed",
			slog.Any(constant.Error, err),
			slog.String(constant.RoomCode, code),
		)
	}
}

func (e *Engine) adopt(m *Membership) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.snapshot = m.Snapshot
	e.status = m.Snapshot.Status()
	e.code = m.Snapshot.Code()
	e.token = m.Token
}

func (e *Engine) setStatus(s domain.Status) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.status = s
}

// callers must hold mu
func (e *Engine) stopLocked() {
	if e.stop != nil {
		close(e.stop)
		e.stop = nil
	}
	e.gen++
}
