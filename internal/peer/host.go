package peer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"

	"github.com/hoobean1996/shenbi-sub002/internal/application/constant"
	"github.com/hoobean1996/shenbi-sub002/internal/domain"
	"github.com/hoobean1996/shenbi-sub002/internal/domain/events"
)

const (
	publishTimeout  = 10 * time.Second
	maxCodeAttempts = 5
)

// channelSender is the slice of *webrtc.DataChannel the engine writes
// through. Narrowed so fan-out can be tested without a live SCTP transport.
type channelSender interface {
	ReadyState() webrtc.DataChannelState
	Send(data []byte) error
}

// HostHandlers are the teacher-side observer callbacks.
type HostHandlers struct {
	OnState        func(domain.Snapshot)
	OnStudentJoin  func(domain.Participant)
	OnStudentLeave func(domain.Participant)
	OnError        func(error)
}

type HostOptions struct {
	TeacherName string
	ClassroomID int64

	// Code resumes a previous session under its known code; empty means
	// generate a fresh one.
	Code string

	TTL time.Duration
}

// studentLink is one spoke of the star: the peer connection and data channel
// for a single dialed-in student.
type studentLink struct {
	dialID  uuid.UUID
	pc      *webrtc.PeerConnection
	channel channelSender

	participantID uuid.UUID

	// candidates arriving before the remote description are held back
	remoteSet bool
	pending   []webrtc.ICECandidateInit

	// last measured round trip, zero until the first pong
	rtt time.Duration
}

// HostEngine is the teacher's half of the star topology. It owns the
// authoritative session state; students only ever see what it sends them.
type HostEngine struct {
	signalURL string
	ice       []webrtc.ICEServer

	mu       sync.Mutex
	handlers HostHandlers
	signal   *signalClient
	room     *domain.Room
	links    map[uuid.UUID]*studentLink

	pingNonce     uuid.UUID
	publishResult chan error
}

func NewHostEngine(signalURL string, ice []webrtc.ICEServer) *HostEngine {
	return &HostEngine{
		signalURL: signalURL,
		ice:       ice,
		links:     make(map[uuid.UUID]*studentLink),
	}
}

func (e *HostEngine) SetHandlers(h HostHandlers) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers = h
}

// CreateClassroom connects to the signaling server and claims an address.
// With an explicit resume code a collision is surfaced as ErrCodeInUse; with
// a generated code the engine simply tries another one.
func (e *HostEngine) CreateClassroom(ctx context.Context, opts HostOptions) (domain.Snapshot, error) {
	signal, err := dialSignal(ctx, e.signalURL, e.handleSignal)
	if err != nil {
		return domain.Snapshot{}, err
	}

	e.mu.Lock()
	e.signal = signal
	e.mu.Unlock()

	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code := opts.Code
		if code == "" {
			code = domain.GenerateCode()
		}

		result := make(chan error, 1)
		e.mu.Lock()
		e.publishResult = result
		e.mu.Unlock()

		if err := signal.publish(Address(code)); err != nil {
			signal.close()
			return domain.Snapshot{}, err
		}

		select {
		case err = <-result:
		case <-time.After(publishTimeout):
			err = fmt.Errorf("publish %s: timed out", Address(code))
		case <-ctx.Done():
			err = ctx.Err()
		}

		switch {
		case err == nil:
			room := domain.NewClassroomSession(code, opts.ClassroomID, opts.TeacherName, opts.TTL)
			e.mu.Lock()
			e.room = room
			snap := domain.Project(room, domain.RoleTeacher, room.Host.ID)
			e.mu.Unlock()
			return snap, nil

		case errors.Is(err, domain.ErrCodeInUse) && opts.Code == "":
			continue

		default:
			signal.close()
			return domain.Snapshot{}, err
		}
	}

	signal.close()
	return domain.Snapshot{}, domain.ErrCodeInUse
}

func (e *HostEngine) handleSignal(msg events.Message) {
	switch msg.Type {
	case events.TypePublished:
		e.resolvePublish(nil)

	case events.TypeError:
		ev, ok := decode[events.ErrorEvent](msg)
		if !ok {
			return
		}
		err := fmt.Errorf("signaling: %s", ev.Message)
		if ev.Code == events.ErrorCodeAddressInUse {
			err = domain.ErrCodeInUse
		}
		e.resolvePublish(err)

	case events.TypeIncoming:
		if ev, ok := decode[events.IncomingEvent](msg); ok {
			e.acceptDial(ev.DialID)
		}

	case events.TypeOffer:
		if ev, ok := decode[events.SDPEvent](msg); ok {
			e.handleOffer(ev)
		}

	case events.TypeCandidate:
		if ev, ok := decode[events.CandidateEvent](msg); ok {
			e.addCandidate(ev)
		}

	case events.TypePeerClosed:
		if ev, ok := decode[events.PeerClosedEvent](msg); ok {
			e.dropLink(ev.DialID)
		}

	case events.TypePong:
		// keepalive reply, nothing to do

	default:
		slog.Warn("unexpected signaling frame", slog.String("type", msg.Type))
	}
}

// resolvePublish routes a publish outcome to the waiting CreateClassroom
// call, or to OnError once the session is established.
func (e *HostEngine) resolvePublish(err error) {
	e.mu.Lock()
	result := e.publishResult
	e.publishResult = nil
	onError := e.handlers.OnError
	e.mu.Unlock()

	if result != nil {
		result <- err
		return
	}
	if err != nil && onError != nil {
		onError(err)
	}
}

// acceptDial wires a peer connection for one incoming student. The student
// is the offerer and opens the data channel; the teacher answers.
func (e *HostEngine) acceptDial(dialID uuid.UUID) {
	pc, err := newPeerConnection(e.ice)
	if err != nil {
		slog.Error("accept dial", slog.Any(constant.Error, err), slog.String(constant.DialID, dialID.String()))
		return
	}

	link := &studentLink{dialID: dialID, pc: pc}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		e.mu.Lock()
		signal := e.signal
		e.mu.Unlock()
		if signal == nil {
			return
		}
		if err := signal.sendCandidate(events.CandidateEvent{DialID: dialID, Candidate: c.ToJSON()}); err != nil {
			slog.Error("send ice candidate", slog.Any(constant.Error, err))
		}
	})

	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		e.mu.Lock()
		link.channel = dc
		e.mu.Unlock()

		dc.OnMessage(func(m webrtc.DataChannelMessage) {
			e.handleStudentFrame(link, m.Data)
		})
		dc.OnClose(func() {
			e.dropLink(dialID)
		})
	})

	e.mu.Lock()
	e.links[dialID] = link
	e.mu.Unlock()
}

func (e *HostEngine) handleOffer(ev events.SDPEvent) {
	e.mu.Lock()
	link := e.links[ev.DialID]
	signal := e.signal
	e.mu.Unlock()
	if link == nil || signal == nil {
		return
	}

	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: ev.SDP}
	if err := link.pc.SetRemoteDescription(offer); err != nil {
		slog.Error("set remote offer", slog.Any(constant.Error, err))
		return
	}

	answer, err := link.pc.CreateAnswer(nil)
	if err != nil {
		slog.Error("create answer", slog.Any(constant.Error, err))
		return
	}
	if err := link.pc.SetLocalDescription(answer); err != nil {
		slog.Error("set local answer", slog.Any(constant.Error, err))
		return
	}
	if err := signal.sendSDP(events.TypeAnswer, events.SDPEvent{DialID: ev.DialID, SDP: answer.SDP}); err != nil {
		slog.Error("send answer", slog.Any(constant.Error, err))
		return
	}

	e.mu.Lock()
	link.remoteSet = true
	pending := link.pending
	link.pending = nil
	e.mu.Unlock()

	for _, c := range pending {
		if err := link.pc.AddICECandidate(c); err != nil {
			slog.Error("add buffered candidate", slog.Any(constant.Error, err))
		}
	}
}

func (e *HostEngine) addCandidate(ev events.CandidateEvent) {
	e.mu.Lock()
	link := e.links[ev.DialID]
	if link == nil {
		e.mu.Unlock()
		return
	}
	if !link.remoteSet {
		link.pending = append(link.pending, ev.Candidate)
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()

	if err := link.pc.AddICECandidate(ev.Candidate); err != nil {
		slog.Error("add ice candidate", slog.Any(constant.Error, err))
	}
}

func (e *HostEngine) handleStudentFrame(link *studentLink, raw []byte) {
	var msg events.Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		slog.Error("unmarshal student frame", slog.Any(constant.Error, err))
		return
	}

	switch msg.Type {
	case TypeJoin:
		if ev, ok := decode[JoinEvent](msg); ok {
			e.admitStudent(link, ev.Name)
		}

	case TypeProgress:
		if ev, ok := decode[ProgressEvent](msg); ok {
			e.recordProgress(link, ev)
		}

	case TypePing:
		if ev, ok := decode[PingEvent](msg); ok {
			e.sendTo(link, events.Envelope(TypePong, ev))
		}

	case TypePong:
		if ev, ok := decode[PingEvent](msg); ok {
			e.recordPong(link, ev)
		}

	default:
		slog.Warn("unexpected student frame", slog.String("type", msg.Type))
	}
}

func (e *HostEngine) admitStudent(link *studentLink, name string) {
	e.mu.Lock()
	if e.room == nil {
		e.mu.Unlock()
		return
	}
	student, err := e.room.Join(name)
	if err != nil {
		e.mu.Unlock()
		slog.Warn("student rejected",
			slog.Any(constant.Error, err),
			slog.String(constant.RoomCode, e.roomCode()),
		)
		return
	}
	link.participantID = student.ID

	welcome := events.Envelope(TypeWelcome, WelcomeEvent{
		Code:        e.room.Code,
		StudentID:   student.ID,
		TeacherName: e.room.Host.Name,
		Status:      e.room.Status,
		Level:       e.room.Level,
	})
	joined := *student
	onJoin := e.handlers.OnStudentJoin
	e.mu.Unlock()

	e.sendTo(link, welcome)
	if onJoin != nil {
		onJoin(joined)
	}
	e.notifyState()
}

func (e *HostEngine) recordProgress(link *studentLink, ev ProgressEvent) {
	e.mu.Lock()
	if e.room == nil || link.participantID == uuid.Nil {
		e.mu.Unlock()
		return
	}
	err := e.room.UpdateProgress(link.participantID, ev.Stars, ev.Completed)
	e.mu.Unlock()

	if err != nil {
		slog.Warn("progress rejected",
			slog.Any(constant.Error, err),
			slog.String(constant.ParticipantID, link.participantID.String()),
		)
		return
	}
	e.notifyState()
}

// dropLink tears down one spoke. A student with an identity is marked
// disconnected in the session; their progress stays.
func (e *HostEngine) dropLink(dialID uuid.UUID) {
	e.mu.Lock()
	link := e.links[dialID]
	if link == nil {
		e.mu.Unlock()
		return
	}
	delete(e.links, dialID)

	var left *domain.Participant
	if e.room != nil && link.participantID != uuid.Nil {
		if p := e.room.Followers[link.participantID]; p != nil {
			if err := e.room.Leave(link.participantID); err == nil {
				gone := *p
				left = &gone
			}
		}
	}
	onLeave := e.handlers.OnStudentLeave
	e.mu.Unlock()

	if err := link.pc.Close(); err != nil {
		slog.Error("close peer connection", slog.Any(constant.Error, err))
	}

	if left != nil {
		if onLeave != nil {
			onLeave(*left)
		}
		e.notifyState()
	}
}

// SetLevel updates the session level and pushes it to every connected
// student.
func (e *HostEngine) SetLevel(level json.RawMessage) (domain.Snapshot, error) {
	return e.command(func(r *domain.Room) (events.Message, error) {
		if err := r.SetLevel(level); err != nil {
			return events.Message{}, err
		}
		return events.Envelope(TypeLevel, LevelEvent{Level: level}), nil
	})
}

func (e *HostEngine) Start(level json.RawMessage) (domain.Snapshot, error) {
	return e.command(func(r *domain.Room) (events.Message, error) {
		if err := r.Start(level); err != nil {
			return events.Message{}, err
		}
		return events.Envelope(TypeStart, StartEvent{Level: r.Level}), nil
	})
}

func (e *HostEngine) Reset() (domain.Snapshot, error) {
	return e.command(func(r *domain.Room) (events.Message, error) {
		if err := r.Reset(); err != nil {
			return events.Message{}, err
		}
		return events.Envelope(TypeReset, nil), nil
	})
}

// EndSession closes the session for everyone and tells each student why.
func (e *HostEngine) EndSession() (domain.Snapshot, error) {
	return e.command(func(r *domain.Room) (events.Message, error) {
		if err := r.End(domain.EndClosed); err != nil {
			return events.Message{}, err
		}
		return events.Envelope(TypeEnd, EndEvent{Reason: r.EndReason}), nil
	})
}

// command applies one mutation to the session and fans the resulting frame
// out to the star.
func (e *HostEngine) command(op func(*domain.Room) (events.Message, error)) (domain.Snapshot, error) {
	e.mu.Lock()
	if e.room == nil {
		e.mu.Unlock()
		return domain.Snapshot{}, domain.ErrRoomNotFound
	}
	msg, err := op(e.room)
	if err != nil {
		e.mu.Unlock()
		return domain.Snapshot{}, err
	}
	snap := domain.Project(e.room, domain.RoleTeacher, e.room.Host.ID)
	links := e.currentLinks()
	e.mu.Unlock()

	e.broadcast(links, msg)
	e.notifyState()
	return snap, nil
}

// Ping probes every connected student; each matching pong updates that
// student's recorded round trip.
func (e *HostEngine) Ping() {
	ping := PingEvent{Nonce: uuid.New(), SentAt: time.Now()}

	e.mu.Lock()
	e.pingNonce = ping.Nonce
	links := e.currentLinks()
	e.mu.Unlock()

	e.broadcast(links, events.Envelope(TypePing, ping))
}

func (e *HostEngine) recordPong(link *studentLink, ev PingEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if ev.Nonce != e.pingNonce {
		return
	}
	link.rtt = time.Since(ev.SentAt)
}

// RTT reports the last measured round trip for a student, false until the
// first pong has come back.
func (e *HostEngine) RTT(studentID uuid.UUID) (time.Duration, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, link := range e.links {
		if link.participantID == studentID && link.rtt > 0 {
			return link.rtt, true
		}
	}
	return 0, false
}

// Snapshot returns the teacher's current projected view.
func (e *HostEngine) Snapshot() domain.Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.room == nil {
		return domain.Snapshot{}
	}
	return domain.Project(e.room, domain.RoleTeacher, e.room.Host.ID)
}

// Close tears the whole star down unconditionally: every spoke, then the
// signaling link.
func (e *HostEngine) Close() {
	e.mu.Lock()
	links := e.currentLinks()
	e.links = make(map[uuid.UUID]*studentLink)
	signal := e.signal
	e.signal = nil
	e.mu.Unlock()

	for _, link := range links {
		if err := link.pc.Close(); err != nil {
			slog.Error("close peer connection", slog.Any(constant.Error, err))
		}
	}
	if signal != nil {
		signal.close()
	}
}

// callers must hold mu
func (e *HostEngine) currentLinks() []*studentLink {
	links := make([]*studentLink, 0, len(e.links))
	for _, link := range e.links {
		links = append(links, link)
	}
	return links
}

// callers must hold mu
func (e *HostEngine) roomCode() string {
	if e.room == nil {
		return ""
	}
	return e.room.Code
}

// broadcast fans one frame out to every spoke with an open channel. Spokes
// still negotiating are skipped; they get current state in their welcome.
func (e *HostEngine) broadcast(links []*studentLink, msg events.Message) {
	for _, link := range links {
		e.sendTo(link, msg)
	}
}

func (e *HostEngine) sendTo(link *studentLink, msg events.Message) {
	e.mu.Lock()
	ch := link.channel
	e.mu.Unlock()

	if ch == nil || ch.ReadyState() != webrtc.DataChannelStateOpen {
		return
	}

	raw, err := json.Marshal(msg)
	if err != nil {
		panic(err)
	}
	if err := ch.Send(raw); err != nil {
		slog.Error("send to student",
			slog.Any(constant.Error, err),
			slog.String(constant.DialID, link.dialID.String()),
		)
	}
}

func (e *HostEngine) notifyState() {
	e.mu.Lock()
	onState := e.handlers.OnState
	var snap domain.Snapshot
	if e.room != nil {
		snap = domain.Project(e.room, domain.RoleTeacher, e.room.Host.ID)
	}
	e.mu.Unlock()

	if onState != nil {
		onState(snap)
	}
}
