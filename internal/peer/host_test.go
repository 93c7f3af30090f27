package peer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/require"

	"github.com/hoobean1996/shenbi-sub002/internal/domain"
	"github.com/hoobean1996/shenbi-sub002/internal/domain/events"
)

type fakeChannel struct {
	mu    sync.Mutex
	state webrtc.DataChannelState
	sent  [][]byte
}

func (f *fakeChannel) ReadyState() webrtc.DataChannelState { return f.state }

func (f *fakeChannel) Send(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, data)
	return nil
}

func (f *fakeChannel) frames(t *testing.T) []events.Message {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]events.Message, 0, len(f.sent))
	for _, raw := range f.sent {
		var msg events.Message
		require.NoError(t, json.Unmarshal(raw, &msg))
		out = append(out, msg)
	}
	return out
}

func newSessionHost(t *testing.T) *HostEngine {
	t.Helper()
	e := NewHostEngine("ws://unused", nil)
	e.room = domain.NewClassroomSession("QWERTZ", 42, "Ms. Lee", time.Hour)
	return e
}

func joinFrame(t *testing.T, name string) []byte {
	t.Helper()
	raw, err := json.Marshal(events.Envelope(TypeJoin, JoinEvent{Name: name}))
	require.NoError(t, err)
	return raw
}

func TestAdmitStudentSendsWelcome(t *testing.T) {
	e := newSessionHost(t)
	require.NoError(t, e.room.SetLevel(json.RawMessage(`{"id":7}`)))

	var joined []string
	e.SetHandlers(HostHandlers{OnStudentJoin: func(p domain.Participant) {
		joined = append(joined, p.Name)
	}})

	ch := &fakeChannel{state: webrtc.DataChannelStateOpen}
	link := &studentLink{dialID: uuid.New(), channel: ch}
	e.links[link.dialID] = link

	e.handleStudentFrame(link, joinFrame(t, "Mia"))

	require.Equal(t, []string{"Mia"}, joined)
	require.NotEqual(t, uuid.Nil, link.participantID)

	frames := ch.frames(t)
	require.Len(t, frames, 1)
	require.Equal(t, TypeWelcome, frames[0].Type)

	var welcome WelcomeEvent
	require.NoError(t, json.Unmarshal(frames[0].Data, &welcome))
	require.Equal(t, "QWERTZ", welcome.Code)
	require.Equal(t, link.participantID, welcome.StudentID)
	require.Equal(t, "Ms. Lee", welcome.TeacherName)
	require.Equal(t, domain.StatusReady, welcome.Status)
	require.JSONEq(t, `{"id":7}`, string(welcome.Level))
}

func TestBroadcastSkipsChannelsNotOpen(t *testing.T) {
	e := newSessionHost(t)

	open := &fakeChannel{state: webrtc.DataChannelStateOpen}
	closed := &fakeChannel{state: webrtc.DataChannelStateClosed}
	negotiating := &studentLink{dialID: uuid.New()} // no channel yet

	e.links[uuid.New()] = &studentLink{dialID: uuid.New(), channel: open}
	e.links[uuid.New()] = &studentLink{dialID: uuid.New(), channel: closed}
	e.links[negotiating.dialID] = negotiating

	_, err := e.SetLevel(json.RawMessage(`{"id":3}`))
	require.NoError(t, err)

	require.Len(t, open.frames(t), 1)
	require.Equal(t, TypeLevel, open.frames(t)[0].Type)
	require.Empty(t, closed.frames(t))
}

func TestStudentProgressReachesSession(t *testing.T) {
	e := newSessionHost(t)
	require.NoError(t, e.room.SetLevel(json.RawMessage(`{"id":7}`)))

	ch := &fakeChannel{state: webrtc.DataChannelStateOpen}
	link := &studentLink{dialID: uuid.New(), channel: ch}
	e.links[link.dialID] = link
	e.handleStudentFrame(link, joinFrame(t, "Mia"))

	_, err := e.Start(nil)
	require.NoError(t, err)

	raw, err := json.Marshal(events.Envelope(TypeProgress, ProgressEvent{Stars: 3, Completed: false}))
	require.NoError(t, err)
	e.handleStudentFrame(link, raw)

	snap := e.Snapshot()
	require.NotNil(t, snap.Initiator)
	require.Len(t, snap.Initiator.Participants, 1)
	require.Equal(t, 3, snap.Initiator.Participants[0].StarsCollected)
}

func TestHostPingMeasuresStudentRTT(t *testing.T) {
	e := newSessionHost(t)

	ch := &fakeChannel{state: webrtc.DataChannelStateOpen}
	link := &studentLink{dialID: uuid.New(), channel: ch}
	e.links[link.dialID] = link
	e.handleStudentFrame(link, joinFrame(t, "Mia"))

	_, ok := e.RTT(link.participantID)
	require.False(t, ok)

	e.Ping()

	frames := ch.frames(t)
	require.Equal(t, TypePing, frames[len(frames)-1].Type)
	var ping PingEvent
	require.NoError(t, json.Unmarshal(frames[len(frames)-1].Data, &ping))

	pong, err := json.Marshal(events.Envelope(TypePong, ping))
	require.NoError(t, err)
	e.handleStudentFrame(link, pong)

	rtt, ok := e.RTT(link.participantID)
	require.True(t, ok)
	require.Greater(t, rtt, time.Duration(0))

	// a pong from an earlier round is ignored
	stale, err := json.Marshal(events.Envelope(TypePong, PingEvent{Nonce: uuid.New(), SentAt: time.Now().Add(-time.Hour)}))
	require.NoError(t, err)
	e.handleStudentFrame(link, stale)

	after, ok := e.RTT(link.participantID)
	require.True(t, ok)
	require.Equal(t, rtt, after)
}

func TestDroppedStudentKeepsProgress(t *testing.T) {
	e := newSessionHost(t)
	require.NoError(t, e.room.SetLevel(json.RawMessage(`{"id":7}`)))

	ch := &fakeChannel{state: webrtc.DataChannelStateOpen}
	link := &studentLink{dialID: uuid.New(), channel: ch}
	e.links[link.dialID] = link
	e.handleStudentFrame(link, joinFrame(t, "Mia"))

	_, err := e.Start(nil)
	require.NoError(t, err)
	require.NoError(t, e.room.UpdateProgress(link.participantID, 5, false))

	var left []string
	e.SetHandlers(HostHandlers{OnStudentLeave: func(p domain.Participant) {
		left = append(left, p.Name)
	}})

	// simulate the signaling relay reporting the spoke gone; the peer
	// connection was never started so Close is a no-op
	link.pc, _ = newPeerConnection(nil)
	e.dropLink(link.dialID)

	require.Equal(t, []string{"Mia"}, left)

	snap := e.Snapshot()
	require.Len(t, snap.Initiator.Participants, 1)
	require.False(t, snap.Initiator.Participants[0].Connected)
	require.Equal(t, 5, snap.Initiator.Participants[0].StarsCollected)
}

// signalingStub answers publish frames: addresses in taken get an
// address_in_use error, everything else is acknowledged.
func signalingStub(t *testing.T, taken map[string]bool) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		for {
			var msg events.Message
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			if msg.Type != events.TypePublish {
				continue
			}
			var ev events.PublishEvent
			if err := json.Unmarshal(msg.Data, &ev); err != nil {
				return
			}
			reply := events.Envelope(events.TypePublished, events.PublishedEvent{Address: ev.Address})
			if taken[ev.Address] {
				reply = events.Envelope(events.TypeError, events.ErrorEvent{
					Code:    events.ErrorCodeAddressInUse,
					Message: "address already published",
				})
			}
			if err := conn.WriteJSON(reply); err != nil {
				return
			}
		}
	}))
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestCreateClassroomPublishesAddress(t *testing.T) {
	srv := signalingStub(t, nil)
	defer srv.Close()

	e := NewHostEngine(wsURL(srv), nil)
	defer e.Close()

	snap, err := e.CreateClassroom(context.Background(), HostOptions{
		TeacherName: "Ms. Lee",
		ClassroomID: 42,
		TTL:         time.Hour,
	})
	require.NoError(t, err)
	require.NotNil(t, snap.Initiator)
	require.Equal(t, domain.StatusWaiting, snap.Initiator.Status)
	require.NoError(t, domain.ValidateCode(snap.Initiator.Code))
}

func TestCreateClassroomResumeCollision(t *testing.T) {
	srv := signalingStub(t, map[string]bool{Address("QWERTZ"): true})
	defer srv.Close()

	e := NewHostEngine(wsURL(srv), nil)
	defer e.Close()

	_, err := e.CreateClassroom(context.Background(), HostOptions{
		TeacherName: "Ms. Lee",
		Code:        "QWERTZ",
		TTL:         time.Hour,
	})
	require.ErrorIs(t, err, domain.ErrCodeInUse)
}
