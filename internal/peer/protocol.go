package peer

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/hoobean1996/shenbi-sub002/internal/domain"
)

// Data-channel frame types. These travel peer to peer once the star link is
// up; the envelope is the same type-tagged shape the signaling layer uses.
const (
	TypeJoin     = "join"
	TypeWelcome  = "welcome"
	TypeProgress = "progress"
	TypeLevel    = "level"
	TypeStart    = "start"
	TypeReset    = "reset"
	TypeEnd      = "end"
	TypePing     = "ping"
	TypePong     = "pong"
)

// JoinEvent is the first frame a student sends after the channel opens.
type JoinEvent struct {
	Name string `json:"name"`
}

// WelcomeEvent is the teacher's reply to a join: the student's assigned
// identity plus enough session state to build a local mirror.
type WelcomeEvent struct {
	Code        string          `json:"code"`
	StudentID   uuid.UUID       `json:"student_id"`
	TeacherName string          `json:"teacher_name"`
	Status      domain.Status   `json:"status"`
	Level       json.RawMessage `json:"level,omitempty"`
}

// ProgressEvent is a student's progress ping to the teacher.
type ProgressEvent struct {
	Stars     int  `json:"stars"`
	Completed bool `json:"completed"`
}

type LevelEvent struct {
	Level json.RawMessage `json:"level"`
}

// StartEvent may carry a last-moment level, same as the room API.
type StartEvent struct {
	Level json.RawMessage `json:"level,omitempty"`
}

type EndEvent struct {
	Reason domain.EndReason `json:"reason"`
}

// PingEvent is a timing probe. The receiver echoes it back unchanged as a
// pong; the sender matches the nonce and derives the round trip from SentAt.
type PingEvent struct {
	Nonce  uuid.UUID `json:"nonce"`
	SentAt time.Time `json:"sent_at"`
}

// Address derives the published signaling address for a session code. The
// prefix keeps classroom sessions from colliding with any other address
// namespace on the same signaling server.
func Address(code string) string {
	return "classroom/" + code
}
