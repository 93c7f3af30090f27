package peer

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"

	"github.com/hoobean1996/shenbi-sub002/internal/application/constant"
	"github.com/hoobean1996/shenbi-sub002/internal/domain"
	"github.com/hoobean1996/shenbi-sub002/internal/domain/events"
)

// joinTimeout covers the whole handshake: dial, SDP exchange, ICE, channel
// open, welcome. A session that cannot come up in this window is treated as
// not found.
const joinTimeout = 20 * time.Second

// StudentHandlers are the student-side observer callbacks. OnDisconnected
// fires when the teacher's end of the star goes away.
type StudentHandlers struct {
	OnState        func(domain.Snapshot)
	OnDisconnected func(error)
}

type joinOutcome struct {
	snap domain.Snapshot
	err  error
}

// StudentEngine is one spoke of the star. It mirrors the teacher's session
// into a local room so snapshots stay available between frames.
type StudentEngine struct {
	signalURL string
	ice       []webrtc.ICEServer

	mu       sync.Mutex
	handlers StudentHandlers
	signal   *signalClient
	pc       *webrtc.PeerConnection
	channel  *webrtc.DataChannel
	dialID   uuid.UUID
	name     string

	room   *domain.Room
	selfID uuid.UUID

	pingNonce uuid.UUID
	rtt       time.Duration

	// inbound candidates held until the answer lands
	remoteSet bool
	pending   []webrtc.ICECandidateInit

	// set by Disconnect so the resulting channel close is not reported as a
	// teacher-side failure
	closed bool

	dialed  chan uuid.UUID
	joinRes chan joinOutcome
}

func NewStudentEngine(signalURL string, ice []webrtc.ICEServer) *StudentEngine {
	return &StudentEngine{
		signalURL: signalURL,
		ice:       ice,
	}
}

func (e *StudentEngine) SetHandlers(h StudentHandlers) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers = h
}

// JoinClassroom dials the session published under code and completes the
// peer handshake. A malformed code fails locally; an address nobody
// published, or a handshake that never completes, comes back as
// ErrRoomNotFound.
func (e *StudentEngine) JoinClassroom(ctx context.Context, code, name string) (domain.Snapshot, error) {
	code = domain.NormalizeCode(code)
	if err := domain.ValidateCode(code); err != nil {
		return domain.Snapshot{}, err
	}

	signal, err := dialSignal(ctx, e.signalURL, e.handleSignal)
	if err != nil {
		return domain.Snapshot{}, err
	}

	pc, err := newPeerConnection(e.ice)
	if err != nil {
		signal.close()
		return domain.Snapshot{}, err
	}

	dc, err := pc.CreateDataChannel("session", nil)
	if err != nil {
		signal.close()
		pc.Close()
		return domain.Snapshot{}, err
	}

	dialed := make(chan uuid.UUID, 1)
	joinRes := make(chan joinOutcome, 1)

	e.mu.Lock()
	e.signal = signal
	e.pc = pc
	e.channel = dc
	e.name = name
	e.dialed = dialed
	e.joinRes = joinRes
	e.mu.Unlock()

	dc.OnOpen(func() {
		e.send(events.Envelope(TypeJoin, JoinEvent{Name: name}))
	})
	dc.OnMessage(func(m webrtc.DataChannelMessage) {
		e.handleTeacherFrame(m.Data)
	})
	dc.OnClose(func() {
		e.disconnected(errors.New("session channel closed"))
	})

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		e.mu.Lock()
		signal, dialID := e.signal, e.dialID
		e.mu.Unlock()
		if signal == nil || dialID == uuid.Nil {
			return
		}
		if err := signal.sendCandidate(events.CandidateEvent{DialID: dialID, Candidate: c.ToJSON()}); err != nil {
			slog.Error("send ice candidate", slog.Any(constant.Error, err))
		}
	})

	if err := signal.dial(Address(code)); err != nil {
		e.cleanup()
		return domain.Snapshot{}, err
	}

	deadline := time.NewTimer(joinTimeout)
	defer deadline.Stop()

	select {
	case dialID := <-dialed:
		e.mu.Lock()
		e.dialID = dialID
		e.mu.Unlock()
		if err := e.sendOffer(dialID); err != nil {
			e.cleanup()
			return domain.Snapshot{}, err
		}
	case out := <-joinRes:
		e.cleanup()
		return domain.Snapshot{}, out.err
	case <-deadline.C:
		e.cleanup()
		return domain.Snapshot{}, domain.ErrRoomNotFound
	case <-ctx.Done():
		e.cleanup()
		return domain.Snapshot{}, ctx.Err()
	}

	select {
	case out := <-joinRes:
		if out.err != nil {
			e.cleanup()
			return domain.Snapshot{}, out.err
		}
		return out.snap, nil
	case <-deadline.C:
		e.cleanup()
		return domain.Snapshot{}, domain.ErrRoomNotFound
	case <-ctx.Done():
		e.cleanup()
		return domain.Snapshot{}, ctx.Err()
	}
}

func (e *StudentEngine) sendOffer(dialID uuid.UUID) error {
	e.mu.Lock()
	pc, signal := e.pc, e.signal
	e.mu.Unlock()

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return err
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		return err
	}
	return signal.sendSDP(events.TypeOffer, events.SDPEvent{DialID: dialID, SDP: offer.SDP})
}

func (e *StudentEngine) handleSignal(msg events.Message) {
	switch msg.Type {
	case events.TypeDialed:
		if ev, ok := decode[events.DialedEvent](msg); ok {
			e.mu.Lock()
			dialed := e.dialed
			e.mu.Unlock()
			if dialed != nil {
				dialed <- ev.DialID
			}
		}

	case events.TypeAnswer:
		if ev, ok := decode[events.SDPEvent](msg); ok {
			e.handleAnswer(ev)
		}

	case events.TypeCandidate:
		if ev, ok := decode[events.CandidateEvent](msg); ok {
			e.addCandidate(ev)
		}

	case events.TypeError:
		ev, ok := decode[events.ErrorEvent](msg)
		if !ok {
			return
		}
		err := domain.ErrRoomNotFound
		if ev.Code != events.ErrorCodeNotFound {
			err = errors.New("signaling: " + ev.Message)
		}
		e.resolveJoin(joinOutcome{err: err})

	case events.TypePeerClosed:
		e.disconnected(errors.New("teacher closed the session"))

	case events.TypePong:

	default:
		slog.Warn("unexpected signaling frame", slog.String("type", msg.Type))
	}
}

func (e *StudentEngine) handleAnswer(ev events.SDPEvent) {
	e.mu.Lock()
	pc := e.pc
	e.mu.Unlock()
	if pc == nil {
		return
	}

	answer := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: ev.SDP}
	if err := pc.SetRemoteDescription(answer); err != nil {
		slog.Error("set remote answer", slog.Any(constant.Error, err))
		return
	}

	e.mu.Lock()
	e.remoteSet = true
	pending := e.pending
	e.pending = nil
	e.mu.Unlock()

	for _, c := range pending {
		if err := pc.AddICECandidate(c); err != nil {
			slog.Error("add buffered candidate", slog.Any(constant.Error, err))
		}
	}
}

func (e *StudentEngine) addCandidate(ev events.CandidateEvent) {
	e.mu.Lock()
	pc := e.pc
	if pc == nil {
		e.mu.Unlock()
		return
	}
	if !e.remoteSet {
		e.pending = append(e.pending, ev.Candidate)
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()

	if err := pc.AddICECandidate(ev.Candidate); err != nil {
		slog.Error("add ice candidate", slog.Any(constant.Error, err))
	}
}

func (e *StudentEngine) handleTeacherFrame(raw []byte) {
	var msg events.Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		slog.Error("unmarshal teacher frame", slog.Any(constant.Error, err))
		return
	}

	switch msg.Type {
	case TypeWelcome:
		if ev, ok := decode[WelcomeEvent](msg); ok {
			e.applyWelcome(ev)
		}

	case TypeLevel:
		if ev, ok := decode[LevelEvent](msg); ok {
			e.mutateMirror(func(r *domain.Room) error { return r.SetLevel(ev.Level) })
		}

	case TypeStart:
		if ev, ok := decode[StartEvent](msg); ok {
			e.mutateMirror(func(r *domain.Room) error { return r.Start(ev.Level) })
		}

	case TypeReset:
		e.mutateMirror(func(r *domain.Room) error { return r.Reset() })

	case TypeEnd:
		if ev, ok := decode[EndEvent](msg); ok {
			e.mutateMirror(func(r *domain.Room) error { return r.End(ev.Reason) })
		}

	case TypePing:
		if ev, ok := decode[PingEvent](msg); ok {
			e.send(events.Envelope(TypePong, ev))
		}

	case TypePong:
		if ev, ok := decode[PingEvent](msg); ok {
			e.mu.Lock()
			if ev.Nonce == e.pingNonce {
				e.rtt = time.Since(ev.SentAt)
			}
			e.mu.Unlock()
		}

	default:
		slog.Warn("unexpected teacher frame", slog.String("type", msg.Type))
	}
}

// applyWelcome builds the local mirror from the teacher's view of us and
// completes the pending join.
func (e *StudentEngine) applyWelcome(ev WelcomeEvent) {
	now := time.Now()

	e.mu.Lock()
	self := &domain.Participant{
		ID:        ev.StudentID,
		Name:      e.name,
		Role:      domain.RoleStudent,
		Connected: true,
		JoinedAt:  now,
	}
	e.selfID = ev.StudentID
	e.room = &domain.Room{
		Code:      ev.Code,
		Kind:      domain.KindClassroom,
		Status:    ev.Status,
		Host:      &domain.Participant{ID: uuid.New(), Name: ev.TeacherName, Role: domain.RoleTeacher, Connected: true, JoinedAt: now},
		Followers: map[uuid.UUID]*domain.Participant{self.ID: self},
		Level:     ev.Level,
	}
	snap := domain.Project(e.room, domain.RoleStudent, e.selfID)
	e.mu.Unlock()

	e.resolveJoin(joinOutcome{snap: snap})
	e.notifyState()
}

func (e *StudentEngine) mutateMirror(op func(*domain.Room) error) {
	e.mu.Lock()
	if e.room == nil {
		e.mu.Unlock()
		return
	}
	err := op(e.room)
	e.mu.Unlock()

	if err != nil {
		slog.Warn("mirror out of step", slog.Any(constant.Error, err))
		return
	}
	e.notifyState()
}

// UpdateProgress reports progress to the teacher and mirrors it locally.
// Best effort, like the polling engine's progress ping.
func (e *StudentEngine) UpdateProgress(stars int, completed bool) {
	e.mu.Lock()
	if e.room != nil {
		if err := e.room.UpdateProgress(e.selfID, stars, completed); err != nil {
			e.mu.Unlock()
			slog.Warn("progress before play", slog.Any(constant.Error, err))
			return
		}
	}
	e.mu.Unlock()

	e.send(events.Envelope(TypeProgress, ProgressEvent{Stars: stars, Completed: completed}))
	e.notifyState()
}

// Ping probes the teacher link; the next matching pong updates RTT.
func (e *StudentEngine) Ping() {
	ping := PingEvent{Nonce: uuid.New(), SentAt: time.Now()}
	e.mu.Lock()
	e.pingNonce = ping.Nonce
	e.mu.Unlock()
	e.send(events.Envelope(TypePing, ping))
}

// RTT reports the last measured round trip to the teacher, zero before the
// first pong.
func (e *StudentEngine) RTT() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rtt
}

// Snapshot returns the student's current mirrored view.
func (e *StudentEngine) Snapshot() domain.Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.room == nil {
		return domain.Snapshot{}
	}
	return domain.Project(e.room, domain.RoleStudent, e.selfID)
}

// Disconnect leaves the session voluntarily. The teacher observes the
// channel close and marks us disconnected; progress stays on their side.
func (e *StudentEngine) Disconnect() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	e.cleanup()
}

func (e *StudentEngine) send(msg events.Message) {
	e.mu.Lock()
	ch := e.channel
	e.mu.Unlock()

	if ch == nil || ch.ReadyState() != webrtc.DataChannelStateOpen {
		return
	}

	raw, err := json.Marshal(msg)
	if err != nil {
		panic(err)
	}
	if err := ch.Send(raw); err != nil {
		slog.Error("send to teacher", slog.Any(constant.Error, err))
	}
}

func (e *StudentEngine) resolveJoin(out joinOutcome) {
	e.mu.Lock()
	res := e.joinRes
	e.joinRes = nil
	e.mu.Unlock()

	if res != nil {
		res <- out
	}
}

func (e *StudentEngine) disconnected(cause error) {
	e.mu.Lock()
	onDisconnected := e.handlers.OnDisconnected
	active := e.room != nil && !e.closed
	e.mu.Unlock()

	e.resolveJoin(joinOutcome{err: domain.ErrRoomNotFound})
	e.cleanup()

	if active && onDisconnected != nil {
		onDisconnected(cause)
	}
}

func (e *StudentEngine) cleanup() {
	e.mu.Lock()
	pc, signal := e.pc, e.signal
	e.pc = nil
	e.channel = nil
	e.signal = nil
	e.dialID = uuid.Nil
	e.remoteSet = false
	e.pending = nil
	e.mu.Unlock()

	if pc != nil {
		pc.Close()
	}
	if signal != nil {
		signal.close()
	}
}

func (e *StudentEngine) notifyState() {
	e.mu.Lock()
	onState := e.handlers.OnState
	var snap domain.Snapshot
	if e.room != nil {
		snap = domain.Project(e.room, domain.RoleStudent, e.selfID)
	}
	e.mu.Unlock()

	if onState != nil {
		onState(snap)
	}
}
